package solana

import (
	"bytes"
	"fmt"

	"github.com/brojonat/escrowdesk/service/escrow"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// escrowDiscriminator is the 8-byte account tag the program writes at the
// start of every escrow account (sha256("account:Escrow")[:8]).
var escrowDiscriminator = []byte{0x1f, 0xd5, 0x7b, 0xbb, 0xba, 0x16, 0xda, 0x9b}

// escrowAccountData is the borsh layout of the on-chain escrow account,
// after the discriminator. Field order matters; it must match the program.
type escrowAccountData struct {
	Maker                  solana.PublicKey
	DepositTokenMint       solana.PublicKey
	RequestTokenMint       solana.PublicKey
	TokensDepositInit      uint64
	TokensDepositRemaining uint64
	Price                  float64
	Seed                   uint64
	ExpireTimestamp        int64
	Recipient              solana.PublicKey
	OnlyRecipient          bool
	OnlyWhitelist          bool
	AllowPartialFill       bool
	Whitelist              solana.PublicKey
}

// decodeEscrowAccount decodes raw account data into the domain RawAccount.
// A wrong discriminator or truncated data means the address does not hold
// an escrow account of the layout we understand.
func decodeEscrowAccount(data []byte) (*escrow.RawAccount, error) {
	if len(data) < len(escrowDiscriminator) {
		return nil, fmt.Errorf("account data too short (%d bytes): %w", len(data), escrow.ErrMalformedAccount)
	}
	if !bytes.Equal(data[:len(escrowDiscriminator)], escrowDiscriminator) {
		return nil, fmt.Errorf("unexpected account discriminator: %w", escrow.ErrMalformedAccount)
	}

	var layout escrowAccountData
	if err := bin.NewBorshDecoder(data[len(escrowDiscriminator):]).Decode(&layout); err != nil {
		return nil, fmt.Errorf("decode escrow account: %v: %w", err, escrow.ErrMalformedAccount)
	}

	return &escrow.RawAccount{
		Maker:                  layout.Maker,
		DepositTokenMint:       layout.DepositTokenMint,
		RequestTokenMint:       layout.RequestTokenMint,
		TokensDepositInit:      layout.TokensDepositInit,
		TokensDepositRemaining: layout.TokensDepositRemaining,
		Price:                  layout.Price,
		Seed:                   layout.Seed,
		ExpireTimestamp:        layout.ExpireTimestamp,
		Recipient:              layout.Recipient,
		OnlyRecipient:          layout.OnlyRecipient,
		OnlyWhitelist:          layout.OnlyWhitelist,
		AllowPartialFill:       layout.AllowPartialFill,
		Whitelist:              layout.Whitelist,
	}, nil
}

// encodeEscrowAccount is the inverse of decodeEscrowAccount. Production
// code never writes escrow accounts (the program does); this exists for
// tests and fixtures.
func encodeEscrowAccount(raw *escrow.RawAccount) ([]byte, error) {
	layout := escrowAccountData{
		Maker:                  raw.Maker,
		DepositTokenMint:       raw.DepositTokenMint,
		RequestTokenMint:       raw.RequestTokenMint,
		TokensDepositInit:      raw.TokensDepositInit,
		TokensDepositRemaining: raw.TokensDepositRemaining,
		Price:                  raw.Price,
		Seed:                   raw.Seed,
		ExpireTimestamp:        raw.ExpireTimestamp,
		Recipient:              raw.Recipient,
		OnlyRecipient:          raw.OnlyRecipient,
		OnlyWhitelist:          raw.OnlyWhitelist,
		AllowPartialFill:       raw.AllowPartialFill,
		Whitelist:              raw.Whitelist,
	}

	buf := new(bytes.Buffer)
	buf.Write(escrowDiscriminator)
	if err := bin.NewBorshEncoder(buf).Encode(layout); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
