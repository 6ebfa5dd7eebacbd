package escrow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/escrowdesk/service/amount"
	"github.com/gagliardetto/solana-go"
)

// CreateParams is the complete parameter set the on-chain program needs to
// construct a create instruction. Amounts are integer smallest units; the
// transaction-builder collaborator consumes this struct as-is.
type CreateParams struct {
	Maker            solana.PublicKey
	DepositTokenMint solana.PublicKey
	RequestTokenMint solana.PublicKey

	DepositAmount *big.Int // deposit-token smallest units

	// Price is request-token units per one deposit-token unit at display
	// scale, derived from the maker's two amounts.
	Price float64

	Seed            uint64
	ExpireTimestamp int64 // unix seconds, 0 = never

	AllowPartialFill bool
	OnlyWhitelist    bool

	// Recipient is the optional fill restriction; the zero value means
	// anyone may fill.
	Recipient solana.PublicKey
}

// BuildCreateParams validates maker form input and assembles CreateParams.
// depositText and requestText are the display-scale amounts the maker
// offers and asks for. expireAt is zero for a non-expiring escrow.
func BuildCreateParams(
	maker solana.PublicKey,
	depositToken, requestToken TokenInfo,
	depositText, requestText string,
	expireAt time.Time,
	allowPartialFill, onlyWhitelist bool,
	recipient solana.PublicKey,
) (*CreateParams, error) {
	deposit, err := parseAmountText(depositText)
	if err != nil {
		return nil, err
	}
	request, err := parseAmountText(requestText)
	if err != nil {
		return nil, err
	}
	if deposit <= 0 || request <= 0 {
		return nil, fmt.Errorf("amounts must be positive: %w", ErrInvalidAmount)
	}
	if depositToken.Decimals == 0 && !isIntegralText(depositText) {
		return nil, ErrFractionalAmount
	}
	if requestToken.Decimals == 0 && !isIntegralText(requestText) {
		return nil, ErrFractionalAmount
	}

	var expire int64
	if !expireAt.IsZero() {
		expire = expireAt.Unix()
	}

	return &CreateParams{
		Maker:            maker,
		DepositTokenMint: depositToken.Mint,
		RequestTokenMint: requestToken.Mint,
		DepositAmount:    amount.ToSmallestUnits(depositText, depositToken.Decimals),
		Price:            request / deposit,
		Seed:             NewSeed(),
		ExpireTimestamp:  expire,
		AllowPartialFill: allowPartialFill,
		OnlyWhitelist:    onlyWhitelist,
		Recipient:        recipient,
	}, nil
}

// NewSeed returns a random u64 used to derive a unique escrow account
// address for the maker.
func NewSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to the time so creation still works.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
