package escrow

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	s, err := BuildSnapshot(testAddress, activeRaw(), wsol(), usdc(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	return s
}

func TestMaxFillAmount(t *testing.T) {
	s := activeSnapshot(t) // 10 SOL at 150 USDC/SOL => 1500 USDC liquidity

	t.Run("balance bound", func(t *testing.T) {
		assert.InDelta(t, 500.0, MaxFillAmount(s, 500), 1e-9)
	})
	t.Run("liquidity bound", func(t *testing.T) {
		assert.InDelta(t, 1500.0, MaxFillAmount(s, 9000), 1e-9)
	})
}

// The maximum never exceeds either bound and shrinks with both.
func TestMaxFillAmount_Monotonic(t *testing.T) {
	balances := []float64{0, 10, 150, 1500, 1_000_000}
	remainings := []uint64{0, 1_000_000_000, 5_000_000_000, 10_000_000_000}

	prevByBalance := make(map[uint64]float64)
	for _, bal := range balances {
		for _, rem := range remainings {
			raw := activeRaw()
			raw.TokensDepositRemaining = rem
			s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), time.Unix(1_700_000_000, 0))
			require.NoError(t, err)

			max := MaxFillAmount(s, bal)
			assert.LessOrEqual(t, max, s.DepositRemaining*s.Raw.Price+1e-9)
			assert.LessOrEqual(t, max, bal)

			// non-decreasing in balance for a fixed remaining
			assert.GreaterOrEqual(t, max, prevByBalance[rem])
			prevByBalance[rem] = max
		}
	}
}

func TestExpectedReceive(t *testing.T) {
	s := activeSnapshot(t)
	assert.InDelta(t, 1.0, ExpectedReceive(s, 150), 1e-12)
	assert.InDelta(t, 0.5, ExpectedReceive(s, 75), 1e-12)
}

func TestValidateFillAmount_Partial(t *testing.T) {
	s := activeSnapshot(t)

	tests := []struct {
		name    string
		amount  string
		balance float64
		valid   bool
		wantErr error
	}{
		{"within bounds", "100", 500, true, nil},
		{"exactly max", "500", 500, true, nil},
		{"above balance", "501", 500, false, ErrInsufficientBalance},
		{"above liquidity", "1501", 9000, false, ErrInsufficientBalance},
		{"zero", "0", 500, false, ErrInvalidAmount},
		{"negative", "-5", 500, false, ErrInvalidAmount},
		{"empty", "", 500, false, ErrInvalidAmount},
		{"garbage", "12x", 500, false, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateFillAmount(s, tt.amount, tt.balance)
			assert.Equal(t, tt.valid, v.Valid)
			if tt.wantErr != nil {
				assert.ErrorIs(t, v.Err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillAmount_NoPartial(t *testing.T) {
	raw := activeRaw()
	raw.AllowPartialFill = false
	s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	t.Run("full amount with funds", func(t *testing.T) {
		v := ValidateFillAmount(s, "1500", 2000)
		assert.True(t, v.Valid)
	})

	t.Run("partial rejected", func(t *testing.T) {
		v := ValidateFillAmount(s, "750", 2000)
		assert.False(t, v.Valid)
		assert.ErrorIs(t, v.Err, ErrInvalidAmount)
	})

	t.Run("full amount without funds", func(t *testing.T) {
		v := ValidateFillAmount(s, "1500", 1000)
		assert.False(t, v.Valid)
		assert.ErrorIs(t, v.Err, ErrInsufficientBalance)
	})
}

func TestValidateFillAmount_ZeroDecimals(t *testing.T) {
	// escrow asks for a zero-decimal token: 100 tickets for 1 SOL
	raw := activeRaw()
	raw.RequestTokenMint = nft().Mint
	raw.TokensDepositRemaining = 1_000_000_000
	raw.TokensDepositInit = 1_000_000_000
	raw.Price = 100
	s, err := BuildSnapshot(testAddress, raw, wsol(), nft(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	tests := []struct {
		amount string
		valid  bool
	}{
		{"3", true},
		{"3.0", true},
		{"3.000", true},
		{"2.5", false},
		{"2.000001", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			v := ValidateFillAmount(s, tt.amount, 1000)
			assert.Equal(t, tt.valid, v.Valid)
			if !tt.valid {
				assert.ErrorIs(t, v.Err, ErrFractionalAmount)
			}
		})
	}
}

func TestPrepareFill_Partial(t *testing.T) {
	s := activeSnapshot(t)

	plan, err := PrepareFill(s, "150", 500)
	require.NoError(t, err)

	assert.Equal(t, "150000000", plan.PayAmount.String()) // 150 USDC, 6 decimals
	assert.Equal(t, "1000000000", plan.ReceiveAmount.String()) // 1 SOL, 9 decimals
	assert.False(t, plan.FullFill)
}

// A candidate within tolerance of the liquidity-bound max must submit the
// exact on-chain remaining amount, not a float-derived reconstruction.
func TestPrepareFill_FullFillSubstitution(t *testing.T) {
	raw := activeRaw()
	raw.TokensDepositInit = 100_000_001_000 // 100.000001 SOL, drift-prone
	raw.TokensDepositRemaining = 100_000_001_000
	raw.Price = 1
	s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	max := MaxFillAmount(s, 1_000_000)
	candidate := strconv.FormatFloat(max*0.999999999, 'f', -1, 64)

	plan, err := PrepareFill(s, candidate, 1_000_000)
	require.NoError(t, err)

	assert.True(t, plan.FullFill)
	assert.Equal(t, "100000001000", plan.ReceiveAmount.String())
}

// When the balance is the binding constraint, "all I can afford" is not a
// full fill and must not be promoted to one.
func TestPrepareFill_BalanceBoundNotPromoted(t *testing.T) {
	s := activeSnapshot(t) // 1500 USDC liquidity

	plan, err := PrepareFill(s, "500", 500)
	require.NoError(t, err)

	assert.False(t, plan.FullFill)
	assert.Equal(t, "3333333333", plan.ReceiveAmount.String()) // 500/150 SOL truncated to 9 decimals
}

func TestPercentAmount(t *testing.T) {
	s := activeSnapshot(t)

	assert.Equal(t, "750.0", PercentAmount(s, 1500, 50))
	assert.Equal(t, "1500", PercentAmount(s, 9000, 100))
	assert.Equal(t, "0", PercentAmount(s, 1500, 0))
}

func TestPercentAmount_ZeroDecimalsFloors(t *testing.T) {
	raw := activeRaw()
	raw.RequestTokenMint = nft().Mint
	raw.TokensDepositRemaining = 1_000_000_000
	raw.TokensDepositInit = 1_000_000_000
	raw.Price = 101
	s, err := BuildSnapshot(testAddress, raw, wsol(), nft(), time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	// 50% of 101 = 50.5, floored
	assert.Equal(t, "50", PercentAmount(s, 1000, 50))
}
