// Package cost computes the lamport cost of escrow operations before the
// user signs anything. The numbers are advisory: the on-chain program is
// authoritative for what a transaction actually costs.
package cost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// Fixed protocol constants, in lamports, mirroring the on-chain program's
// fee schedule and current rent-exemption minimums.
const (
	EscrowAccountRent = 2_512_320 // rent-exempt minimum for the escrow account
	TokenAccountRent  = 2_039_280 // rent-exempt minimum for an associated token account
	ContractFee       = 1_000_000 // flat program fee per escrow
	PlatformFee       = 500_000   // flat platform fee per escrow
	TransactionFee    = 5_000     // base signature fee per transaction
)

// ErrEstimation wraps RPC failures during account-existence checks. The
// caller shows "cost unavailable" and lets the flow continue; cost is a
// preview, not a precondition.
var ErrEstimation = errors.New("cost estimation failed")

// AccountInspector answers whether an owner already holds an associated
// token account for a mint. Implemented by the solana service; mocked in
// tests.
type AccountInspector interface {
	HasTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (bool, error)
}

// Item is one line of a cost breakdown. Recoverable items are rent
// deposits refunded when the account is later closed.
type Item struct {
	Label       string `json:"label"`
	Lamports    uint64 `json:"lamports"`
	Recoverable bool   `json:"recoverable"`
}

// Breakdown is the itemized cost of an operation.
type Breakdown struct {
	Items          []Item `json:"items"`
	Total          uint64 `json:"total"`
	Recoverable    uint64 `json:"recoverable"`
	NonRecoverable uint64 `json:"non_recoverable"`

	// ContractFeeInfo is the program's exchange fee, shown for information
	// only. It is settled inside the swap, so it is not an Item and is
	// excluded from Total and NonRecoverable.
	ContractFeeInfo uint64 `json:"contract_fee_info,omitempty"`
}

func assemble(items []Item) *Breakdown {
	b := &Breakdown{Items: items}
	for _, it := range items {
		b.Total += it.Lamports
		if it.Recoverable {
			b.Recoverable += it.Lamports
		} else {
			b.NonRecoverable += it.Lamports
		}
	}
	return b
}

// Estimator computes cost breakdowns from current on-chain account state.
type Estimator struct {
	inspector AccountInspector
	logger    *slog.Logger
}

// NewEstimator creates an Estimator. The inspector is required.
func NewEstimator(inspector AccountInspector, logger *slog.Logger) *Estimator {
	return &Estimator{inspector: inspector, logger: logger}
}

// EstimateCreationCost itemizes what a maker pays to open an escrow:
// escrow rent, the fixed program and platform fees, and rent for whichever
// of the maker's two token accounts do not exist yet.
func (e *Estimator) EstimateCreationCost(ctx context.Context, maker, depositMint, requestMint solana.PublicKey) (*Breakdown, error) {
	hasDeposit, hasRequest, err := e.checkPair(ctx, maker, depositMint, requestMint)
	if err != nil {
		return nil, err
	}

	items := []Item{
		{Label: "escrow account rent", Lamports: EscrowAccountRent, Recoverable: true},
		{Label: "contract fee", Lamports: ContractFee, Recoverable: false},
		{Label: "platform fee", Lamports: PlatformFee, Recoverable: false},
	}
	if !hasDeposit {
		items = append(items, Item{Label: "deposit token account rent", Lamports: TokenAccountRent, Recoverable: true})
	}
	if !hasRequest {
		items = append(items, Item{Label: "request token account rent", Lamports: TokenAccountRent, Recoverable: true})
	}

	b := assemble(items)
	e.logger.DebugContext(ctx, "estimated creation cost",
		"maker", maker.String(),
		"total_lamports", b.Total,
		"recoverable_lamports", b.Recoverable,
	)
	return b, nil
}

// EstimateExchangeCost itemizes what a taker pays to fill an escrow: the
// flat transaction fee plus rent for whichever of the taker's request and
// deposit-receive token accounts do not exist yet. The program's exchange
// fee is settled inside the swap and is not part of the taker's visible
// total; it is reported on ContractFeeInfo.
func (e *Estimator) EstimateExchangeCost(ctx context.Context, taker, depositMint, requestMint solana.PublicKey) (*Breakdown, error) {
	hasReceive, hasRequest, err := e.checkPair(ctx, taker, depositMint, requestMint)
	if err != nil {
		return nil, err
	}

	items := []Item{
		{Label: "transaction fee", Lamports: TransactionFee, Recoverable: false},
	}
	if !hasRequest {
		items = append(items, Item{Label: "request token account rent", Lamports: TokenAccountRent, Recoverable: true})
	}
	if !hasReceive {
		items = append(items, Item{Label: "receive token account rent", Lamports: TokenAccountRent, Recoverable: true})
	}

	b := assemble(items)
	b.ContractFeeInfo = ContractFee
	e.logger.DebugContext(ctx, "estimated exchange cost",
		"taker", taker.String(),
		"total_lamports", b.Total,
		"recoverable_lamports", b.Recoverable,
	)
	return b, nil
}

// checkPair runs the two account-existence checks concurrently; there is
// no ordering dependency between them.
func (e *Estimator) checkPair(ctx context.Context, owner, mintA, mintB solana.PublicKey) (hasA, hasB bool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hasA, err = e.inspector.HasTokenAccount(gctx, owner, mintA)
		return err
	})
	g.Go(func() error {
		var err error
		hasB, err = e.inspector.HasTokenAccount(gctx, owner, mintB)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.WarnContext(ctx, "token account existence check failed",
			"owner", owner.String(),
			"error", err,
		)
		return false, false, fmt.Errorf("%w: %v", ErrEstimation, err)
	}
	return hasA, hasB, nil
}
