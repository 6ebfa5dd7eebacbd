package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/escrowdesk/service/escrow"
	"github.com/brojonat/escrowdesk/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrRateLimited indicates the RPC endpoint returned 429 and the single
// backoff retry at this boundary also failed. Core functions never retry;
// this is the only layer that does.
var ErrRateLimited = errors.New("rpc rate limited")

// rateLimitBackoff is how long we wait before the one retry after a 429.
const rateLimitBackoff = 2 * time.Second

// RPCClient is the subset of Solana RPC operations we need. Narrow on
// purpose so tests can mock the RPC layer without hitting real nodes.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)
}

// Client provides escrow-domain reads over the Solana RPC.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client. The endpoint parameter labels
// metrics; if metrics is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// GetEscrowAccount fetches and decodes an escrow account. A missing
// account maps to escrow.ErrInvalidAccount; an account with data that does
// not decode maps to escrow.ErrMalformedAccount.
func (c *Client) GetEscrowAccount(ctx context.Context, address solana.PublicKey) (*escrow.RawAccount, error) {
	info, err := c.getAccountInfo(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("escrow %s: %w", address, escrow.ErrInvalidAccount)
		}
		return nil, err
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("escrow %s: %w", address, escrow.ErrInvalidAccount)
	}

	raw, err := decodeEscrowAccount(info.Value.Data.GetBinary())
	if err != nil {
		c.logger.ErrorContext(ctx, "escrow account failed to decode",
			"address", address.String(),
			"owner", info.Value.Owner.String(),
			"error", err,
		)
		return nil, err
	}

	c.logger.DebugContext(ctx, "fetched escrow account",
		"address", address.String(),
		"remaining", raw.TokensDepositRemaining,
	)
	return raw, nil
}

// GetMintDecimals fetches the authoritative decimal count from the
// on-chain mint account. Registry metadata never overrides this.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	info, err := c.getAccountInfo(ctx, mint)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, fmt.Errorf("mint %s: %w", mint, escrow.ErrInvalidAccount)
		}
		return 0, err
	}
	if info == nil || info.Value == nil {
		return 0, fmt.Errorf("mint %s: %w", mint, escrow.ErrInvalidAccount)
	}

	var m token.Mint
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&m); err != nil {
		return 0, fmt.Errorf("decode mint %s: %v: %w", mint, err, escrow.ErrMalformedAccount)
	}
	return m.Decimals, nil
}

// GetTokenBalance returns the owner's display-scale balance for a mint.
// A missing associated token account is a zero balance, not an error.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (float64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("derive token account: %w", err)
	}

	start := time.Now()
	res, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	c.record("GetTokenAccountBalance", err, time.Since(start))

	if err != nil && isRateLimited(err) {
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
			c.metrics.RecordRPCRetry("GetTokenAccountBalance", "rate_limit")
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(rateLimitBackoff):
		}
		start = time.Now()
		res, err = c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
		c.record("GetTokenAccountBalance", err, time.Since(start))
		if err != nil && isRateLimited(err) {
			return 0, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	return uiAmount(res), nil
}

// HasTokenAccount reports whether the owner already holds an associated
// token account for the mint. Implements cost.AccountInspector.
func (c *Client) HasTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, fmt.Errorf("derive token account: %w", err)
	}

	info, err := c.getAccountInfo(ctx, ata)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// getAccountInfo wraps the RPC call with metrics and the single
// rate-limit retry.
func (c *Client) getAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	start := time.Now()
	info, err := c.rpc.GetAccountInfo(ctx, account)
	c.record("GetAccountInfo", err, time.Since(start))

	if err != nil && isRateLimited(err) {
		c.logger.WarnContext(ctx, "rate limited, retrying once",
			"account", account.String(),
			"backoff", rateLimitBackoff,
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
			c.metrics.RecordRPCRetry("GetAccountInfo", "rate_limit")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rateLimitBackoff):
		}
		start = time.Now()
		info, err = c.rpc.GetAccountInfo(ctx, account)
		c.record("GetAccountInfo", err, time.Since(start))
		if err != nil && isRateLimited(err) {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return info, err
}

func (c *Client) record(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, d.Seconds())
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

func uiAmount(res *rpc.GetTokenAccountBalanceResult) float64 {
	if res == nil || res.Value == nil || res.Value.UiAmount == nil {
		return 0
	}
	return *res.Value.UiAmount
}
