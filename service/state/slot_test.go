package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlot_InOrder(t *testing.T) {
	var s Slot[string]

	seq := s.Begin()
	assert.True(t, s.Complete(seq, "first"))

	v, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "first", v)
}

// A fetch that resolves after being superseded must be discarded.
func TestSlot_StaleCompletionIgnored(t *testing.T) {
	var s Slot[string]

	old := s.Begin()
	latest := s.Begin()

	assert.True(t, s.Complete(latest, "latest"))
	assert.False(t, s.Complete(old, "stale"))

	v, _ := s.Get()
	assert.Equal(t, "latest", v)
}

// Same scenario, but the stale fetch resolves first. The newer completion
// must still win.
func TestSlot_OutOfOrderCompletion(t *testing.T) {
	var s Slot[string]

	old := s.Begin()
	latest := s.Begin()

	assert.False(t, s.Complete(old, "stale"))
	assert.True(t, s.Complete(latest, "latest"))

	v, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "latest", v)
}

func TestSlot_EmptyGet(t *testing.T) {
	var s Slot[int]
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestTable_IndependentKeys(t *testing.T) {
	table := NewTable[int]()

	seqA := table.Begin("escrow-a")
	seqB := table.Begin("escrow-b")

	// completions for different keys never interfere
	assert.True(t, table.Complete("escrow-b", seqB, 2))
	assert.True(t, table.Complete("escrow-a", seqA, 1))

	a, _ := table.Get("escrow-a")
	b, _ := table.Get("escrow-b")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

// Many concurrent fetch/complete rounds on one key: the applied value must
// always correspond to the last issued sequence that completed, and the
// race detector must stay quiet.
func TestSlot_ConcurrentCompletions(t *testing.T) {
	var s Slot[uint64]
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		seq := s.Begin()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Complete(seq, seq)
		}()
	}
	wg.Wait()

	v, ok := s.Get()
	if ok {
		// whatever applied was the latest issued at its completion time
		assert.LessOrEqual(t, v, uint64(100))
	}
}
