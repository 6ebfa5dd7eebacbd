package escrow

import (
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAddress = solana.MustPublicKeyFromBase58("7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2")
	testMaker   = solana.MustPublicKeyFromBase58("GDfnEsia2WLAW5t8yx2X5j2mkfA74i5kwGdDuZHt7XmG")
	testTaker   = solana.MustPublicKeyFromBase58("4fYNw3dojWmQ4dXtSGE9epjRGy9pFSx62YypT7avPYvA")
)

func usdc() TokenInfo {
	return TokenInfo{
		Mint:     solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		Symbol:   "USDC",
		Decimals: 6,
	}
}

func wsol() TokenInfo {
	return TokenInfo{
		Mint:     solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		Symbol:   "SOL",
		Decimals: 9,
	}
}

// whole-number collectible, no fractional units
func nft() TokenInfo {
	return TokenInfo{
		Mint:     solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"),
		Symbol:   "TIX",
		Decimals: 0,
	}
}

func activeRaw() *RawAccount {
	return &RawAccount{
		Maker:                  testMaker,
		DepositTokenMint:       wsol().Mint,
		RequestTokenMint:       usdc().Mint,
		TokensDepositInit:      10_000_000_000, // 10 SOL
		TokensDepositRemaining: 10_000_000_000,
		Price:                  150, // 150 USDC per SOL
		Seed:                   42,
		AllowPartialFill:       true,
	}
}

func TestBuildSnapshot_Amounts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	s, err := BuildSnapshot(testAddress, activeRaw(), wsol(), usdc(), now)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, s.DepositAmount, 1e-12)
	assert.InDelta(t, 10.0, s.DepositRemaining, 1e-12)
	assert.InDelta(t, 1500.0, s.RequestAmount, 1e-9)
	assert.Equal(t, StatusActive, s.Status)
	assert.True(t, s.PublicRecipient)
}

func TestBuildSnapshot_StatusDerivation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		remaining uint64
		expire    int64
		want      Status
	}{
		{"nonzero remaining, no expiry", 5_000_000_000, 0, StatusActive},
		{"nonzero remaining, future expiry", 5_000_000_000, now.Unix() + 3600, StatusActive},
		{"nonzero remaining, past expiry", 5_000_000_000, now.Unix() - 1, StatusExpired},
		{"drained, no expiry", 0, 0, StatusFilled},
		// filled wins over expiry
		{"drained, past expiry", 0, now.Unix() - 3600, StatusFilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := activeRaw()
			raw.TokensDepositRemaining = tt.remaining
			raw.ExpireTimestamp = tt.expire

			s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Status)
		})
	}
}

func TestBuildSnapshot_RecipientVisibility(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("zero recipient is public", func(t *testing.T) {
		s, err := BuildSnapshot(testAddress, activeRaw(), wsol(), usdc(), now)
		require.NoError(t, err)
		assert.True(t, s.PublicRecipient)
		assert.True(t, s.CanFill(testTaker))
	})

	t.Run("system program recipient is public", func(t *testing.T) {
		raw := activeRaw()
		raw.Recipient = solana.SystemProgramID
		s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
		require.NoError(t, err)
		assert.True(t, s.PublicRecipient)
	})

	t.Run("concrete recipient restricts when flagged", func(t *testing.T) {
		raw := activeRaw()
		raw.Recipient = testTaker
		raw.OnlyRecipient = true
		s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
		require.NoError(t, err)
		assert.False(t, s.PublicRecipient)
		assert.True(t, s.CanFill(testTaker))
		assert.False(t, s.CanFill(testMaker))
	})

	t.Run("advisory flag off leaves fill open", func(t *testing.T) {
		raw := activeRaw()
		raw.Recipient = testTaker
		raw.OnlyRecipient = false
		s, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
		require.NoError(t, err)
		assert.False(t, s.PublicRecipient)
		assert.True(t, s.CanFill(testMaker))
	})
}

func TestBuildSnapshot_Errors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("nil raw", func(t *testing.T) {
		_, err := BuildSnapshot(testAddress, nil, wsol(), usdc(), now)
		assert.ErrorIs(t, err, ErrInvalidAccount)
	})

	t.Run("NaN price", func(t *testing.T) {
		raw := activeRaw()
		raw.Price = math.NaN()
		_, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
		assert.ErrorIs(t, err, ErrMalformedAccount)
	})

	t.Run("remaining above initial", func(t *testing.T) {
		raw := activeRaw()
		raw.TokensDepositRemaining = raw.TokensDepositInit + 1
		_, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), now)
		assert.ErrorIs(t, err, ErrMalformedAccount)
	})
}

// Status must track the clock across rebuilds of the same raw account.
func TestBuildSnapshot_Recomputed(t *testing.T) {
	raw := activeRaw()
	raw.ExpireTimestamp = 1_700_000_000

	before, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), time.Unix(1_699_999_999, 0))
	require.NoError(t, err)
	after, err := BuildSnapshot(testAddress, raw, wsol(), usdc(), time.Unix(1_700_000_001, 0))
	require.NoError(t, err)

	assert.Equal(t, StatusActive, before.Status)
	assert.Equal(t, StatusExpired, after.Status)
}
