package escrow

import (
	"github.com/gagliardetto/solana-go"
)

// Status is the derived lifecycle state of an escrow.
type Status string

const (
	StatusActive  Status = "active"
	StatusFilled  Status = "filled"
	StatusExpired Status = "expired"
)

// TokenInfo describes a token mint. Decimals is authoritative from the
// on-chain mint account; Symbol, Name and Image are best-effort registry
// metadata and may be empty.
type TokenInfo struct {
	Mint     solana.PublicKey `json:"mint"`
	Symbol   string           `json:"symbol,omitempty"`
	Name     string           `json:"name,omitempty"`
	Image    string           `json:"image,omitempty"`
	Decimals uint8            `json:"decimals"`
}

// RawAccount mirrors the on-chain escrow account fields. All fields are
// immutable per instance except TokensDepositRemaining, which the program
// decrements on partial fills until it reaches zero.
type RawAccount struct {
	Maker            solana.PublicKey
	DepositTokenMint solana.PublicKey
	RequestTokenMint solana.PublicKey

	TokensDepositInit      uint64
	TokensDepositRemaining uint64

	// Price is request-token units per one deposit-token unit, at display
	// scale. The on-chain program is authoritative for settlement; this
	// value feeds display math only.
	Price float64

	Seed            uint64
	ExpireTimestamp int64 // unix seconds, 0 = never expires

	Recipient        solana.PublicKey
	OnlyRecipient    bool
	OnlyWhitelist    bool
	AllowPartialFill bool
	Whitelist        solana.PublicKey
}

// Snapshot is the derived, display-ready view of an escrow account.
// It is immutable once built and must be rebuilt on every fetch: the
// remaining amount can change between fetches and status depends on the
// clock.
type Snapshot struct {
	Raw RawAccount `json:"raw"`

	Address      solana.PublicKey `json:"address"`
	DepositToken TokenInfo        `json:"deposit_token"`
	RequestToken TokenInfo        `json:"request_token"`

	// DepositAmount and DepositRemaining are the initial and remaining
	// deposit at display scale. RequestAmount is the request-token amount
	// for the full remaining deposit (remaining times price). This is a
	// display-layer approximation, not the settlement value.
	DepositAmount    float64 `json:"deposit_amount"`
	DepositRemaining float64 `json:"deposit_remaining"`
	RequestAmount    float64 `json:"request_amount"`

	Status Status `json:"status"`

	// PublicRecipient reports whether anyone may fill the escrow. False
	// only when a concrete recipient restriction is set. Client-side
	// enforcement is UX only; the on-chain program is the real gate.
	PublicRecipient bool `json:"public_recipient"`
}
