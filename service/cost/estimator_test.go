package cost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testOwner       = solana.MustPublicKeyFromBase58("GDfnEsia2WLAW5t8yx2X5j2mkfA74i5kwGdDuZHt7XmG")
	testDepositMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testRequestMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// mockInspector answers existence checks from a map keyed by mint.
type mockInspector struct {
	mu     sync.Mutex
	exists map[solana.PublicKey]bool
	err    error
	calls  int
}

func (m *mockInspector) HasTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.exists[mint], nil
}

func newTestEstimator(m *mockInspector) *Estimator {
	return NewEstimator(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEstimateCreationCost_AllAccountsExist(t *testing.T) {
	mock := &mockInspector{exists: map[solana.PublicKey]bool{
		testDepositMint: true,
		testRequestMint: true,
	}}
	e := newTestEstimator(mock)

	b, err := e.EstimateCreationCost(context.Background(), testOwner, testDepositMint, testRequestMint)
	require.NoError(t, err)

	assert.Len(t, b.Items, 3)
	assert.Equal(t, uint64(EscrowAccountRent+ContractFee+PlatformFee), b.Total)
	assert.Equal(t, uint64(EscrowAccountRent), b.Recoverable)
	assert.Equal(t, 2, mock.calls)
}

func TestEstimateCreationCost_MissingAccounts(t *testing.T) {
	tests := []struct {
		name        string
		exists      map[solana.PublicKey]bool
		wantMissing uint64
	}{
		{"deposit missing", map[solana.PublicKey]bool{testRequestMint: true}, 1},
		{"request missing", map[solana.PublicKey]bool{testDepositMint: true}, 1},
		{"both missing", map[solana.PublicKey]bool{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEstimator(&mockInspector{exists: tt.exists})
			b, err := e.EstimateCreationCost(context.Background(), testOwner, testDepositMint, testRequestMint)
			require.NoError(t, err)

			want := uint64(EscrowAccountRent+ContractFee+PlatformFee) + tt.wantMissing*TokenAccountRent
			assert.Equal(t, want, b.Total)
			assert.Equal(t, uint64(EscrowAccountRent)+tt.wantMissing*TokenAccountRent, b.Recoverable)
		})
	}
}

func TestEstimateExchangeCost(t *testing.T) {
	t.Run("all accounts exist", func(t *testing.T) {
		e := newTestEstimator(&mockInspector{exists: map[solana.PublicKey]bool{
			testDepositMint: true,
			testRequestMint: true,
		}})
		b, err := e.EstimateExchangeCost(context.Background(), testOwner, testDepositMint, testRequestMint)
		require.NoError(t, err)

		assert.Equal(t, uint64(TransactionFee), b.Total)
		assert.Zero(t, b.Recoverable)

		// the program's exchange fee is informational, never in the total
		assert.Equal(t, uint64(ContractFee), b.ContractFeeInfo)
		assert.Equal(t, b.Total, b.Recoverable+b.NonRecoverable)
	})

	t.Run("receive account missing", func(t *testing.T) {
		e := newTestEstimator(&mockInspector{exists: map[solana.PublicKey]bool{
			testRequestMint: true,
		}})
		b, err := e.EstimateExchangeCost(context.Background(), testOwner, testDepositMint, testRequestMint)
		require.NoError(t, err)

		assert.Equal(t, uint64(TransactionFee+TokenAccountRent), b.Total)
		assert.Equal(t, uint64(TokenAccountRent), b.Recoverable)
	})
}

// total == recoverable + nonRecoverable in every configuration.
func TestBreakdownAdditivity(t *testing.T) {
	combos := []map[solana.PublicKey]bool{
		{},
		{testDepositMint: true},
		{testRequestMint: true},
		{testDepositMint: true, testRequestMint: true},
	}

	for _, exists := range combos {
		e := newTestEstimator(&mockInspector{exists: exists})

		create, err := e.EstimateCreationCost(context.Background(), testOwner, testDepositMint, testRequestMint)
		require.NoError(t, err)
		assert.Equal(t, create.Total, create.Recoverable+create.NonRecoverable)

		exchange, err := e.EstimateExchangeCost(context.Background(), testOwner, testDepositMint, testRequestMint)
		require.NoError(t, err)
		assert.Equal(t, exchange.Total, exchange.Recoverable+exchange.NonRecoverable)

		// informational fee stays out of every itemized sum
		var itemSum uint64
		for _, it := range exchange.Items {
			itemSum += it.Lamports
		}
		assert.Equal(t, itemSum, exchange.Total)
		assert.Equal(t, uint64(ContractFee), exchange.ContractFeeInfo)

		// rent-bearing items account for the entire recoverable sum
		var rent uint64
		for _, it := range create.Items {
			if it.Recoverable {
				rent += it.Lamports
			}
		}
		assert.Equal(t, rent, create.Recoverable)
	}
}

func TestEstimate_RPCFailure(t *testing.T) {
	e := newTestEstimator(&mockInspector{err: errors.New("rpc: connection refused")})

	_, err := e.EstimateCreationCost(context.Background(), testOwner, testDepositMint, testRequestMint)
	assert.ErrorIs(t, err, ErrEstimation)

	_, err = e.EstimateExchangeCost(context.Background(), testOwner, testDepositMint, testRequestMint)
	assert.ErrorIs(t, err, ErrEstimation)
}
