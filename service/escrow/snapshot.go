package escrow

import (
	"fmt"
	"math"
	"time"

	"github.com/brojonat/escrowdesk/service/amount"
	"github.com/gagliardetto/solana-go"
)

// BuildSnapshot derives a display-ready Snapshot from raw on-chain account
// fields, the two token descriptions, and the current wall-clock time. It
// is a pure function of its inputs: no caching, no hidden state. Callers
// must rebuild on every fetch so that status reflects the advancing clock
// and the latest remaining amount.
func BuildSnapshot(address solana.PublicKey, raw *RawAccount, depositToken, requestToken TokenInfo, now time.Time) (*Snapshot, error) {
	if raw == nil {
		return nil, ErrInvalidAccount
	}
	if math.IsNaN(raw.Price) || math.IsInf(raw.Price, 0) || raw.Price < 0 {
		return nil, fmt.Errorf("price %v: %w", raw.Price, ErrMalformedAccount)
	}
	if raw.TokensDepositRemaining > raw.TokensDepositInit {
		return nil, fmt.Errorf("remaining %d exceeds initial %d: %w",
			raw.TokensDepositRemaining, raw.TokensDepositInit, ErrMalformedAccount)
	}

	remaining := amount.FromUint64(raw.TokensDepositRemaining, depositToken.Decimals)

	s := &Snapshot{
		Raw:              *raw,
		Address:          address,
		DepositToken:     depositToken,
		RequestToken:     requestToken,
		DepositAmount:    amount.FromUint64(raw.TokensDepositInit, depositToken.Decimals),
		DepositRemaining: remaining,
		RequestAmount:    remaining * raw.Price,
		Status:           deriveStatus(raw, now),
		PublicRecipient:  isPublicRecipient(raw.Recipient),
	}
	return s, nil
}

// deriveStatus applies the lifecycle invariant: a fully drained escrow is
// filled regardless of expiry; otherwise a past nonzero expiry means
// expired; otherwise active.
func deriveStatus(raw *RawAccount, now time.Time) Status {
	if raw.TokensDepositRemaining == 0 {
		return StatusFilled
	}
	if raw.ExpireTimestamp > 0 && raw.ExpireTimestamp < now.Unix() {
		return StatusExpired
	}
	return StatusActive
}

// isPublicRecipient treats an absent recipient, or one set to the system
// program's null address, as "anyone may fill".
func isPublicRecipient(recipient solana.PublicKey) bool {
	return recipient.IsZero() || recipient.Equals(solana.SystemProgramID)
}

// CanFill reports whether the given wallet may fill this escrow, per the
// recipient restriction. This mirrors the on-chain rule for UX purposes
// only; the program enforces it authoritatively.
func (s *Snapshot) CanFill(wallet solana.PublicKey) bool {
	if s.PublicRecipient || !s.Raw.OnlyRecipient {
		return true
	}
	return s.Raw.Recipient.Equals(wallet)
}
