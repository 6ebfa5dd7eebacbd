package nats

import (
	"time"

	"github.com/brojonat/escrowdesk/service/escrow"
)

// EscrowEvent is published to "escrows.{address}" in JetStream whenever a
// poll observes a status or remaining-amount change on a watched escrow.
type EscrowEvent struct {
	Address string `json:"address"`
	Network string `json:"network"`

	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`

	// Amounts at display scale, plus the raw remaining in smallest units
	// for consumers that need exact values.
	DepositRemaining    float64 `json:"deposit_remaining"`
	RawDepositRemaining uint64  `json:"raw_deposit_remaining"`
	RequestAmount       float64 `json:"request_amount"`

	DepositMint string `json:"deposit_mint"`
	RequestMint string `json:"request_mint"`

	ObservedAt  time.Time `json:"observed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromSnapshot builds an EscrowEvent from a freshly built snapshot.
func FromSnapshot(s *escrow.Snapshot, network, previousStatus string, observedAt time.Time) *EscrowEvent {
	return &EscrowEvent{
		Address:             s.Address.String(),
		Network:             network,
		Status:              string(s.Status),
		PreviousStatus:      previousStatus,
		DepositRemaining:    s.DepositRemaining,
		RawDepositRemaining: s.Raw.TokensDepositRemaining,
		RequestAmount:       s.RequestAmount,
		DepositMint:         s.Raw.DepositTokenMint.String(),
		RequestMint:         s.Raw.RequestTokenMint.String(),
		ObservedAt:          observedAt,
		PublishedAt:         time.Now().UTC(),
	}
}
