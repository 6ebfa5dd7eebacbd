// Package token resolves TokenInfo per mint: authoritative decimals from
// the on-chain mint account, best-effort name/symbol/image enrichment
// from a metadata source. Resolved infos are cached for the session with
// a TTL; the cache is an explicit dependency, never a package global.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/escrowdesk/service/escrow"
	"github.com/gagliardetto/solana-go"
)

// DefaultTTL is how long a resolved TokenInfo stays fresh. Decimals never
// change for a mint; the TTL exists so registry metadata (symbol, image)
// is eventually re-fetched.
const DefaultTTL = 24 * time.Hour

// ErrRateLimited is returned when the metadata source rate-limits and the
// single backoff retry also fails.
var ErrRateLimited = errors.New("metadata source rate limited")

// metadataRetryBackoff is the wait before the one retry after a rate
// limit from the metadata source.
const metadataRetryBackoff = time.Second

// ChainReader supplies the authoritative on-chain decimal count.
type ChainReader interface {
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// Metadata is the non-authoritative enrichment for a mint.
type Metadata struct {
	Symbol string
	Name   string
	Image  string
}

// MetadataSource looks up registry metadata for a mint. A source may
// return (nil, nil) when it has nothing for the mint; that is not an
// error. It signals rate limiting with ErrRateLimited (possibly wrapped).
type MetadataSource interface {
	Lookup(ctx context.Context, mint solana.PublicKey) (*Metadata, error)
}

// Store is an optional persistent cache shared between instances.
// service/db implements it; a nil Store means in-memory caching only.
type Store interface {
	GetTokenMetadata(ctx context.Context, mint string) (*StoredMetadata, error)
	UpsertTokenMetadata(ctx context.Context, m StoredMetadata) error
}

// StoredMetadata is the persisted form of a resolved TokenInfo.
type StoredMetadata struct {
	Mint      string
	Symbol    string
	Name      string
	Image     string
	Decimals  uint8
	FetchedAt time.Time
}

type cacheEntry struct {
	info      escrow.TokenInfo
	fetchedAt time.Time
}

// Registry resolves and caches TokenInfo per mint for one session.
type Registry struct {
	chain  ChainReader
	source MetadataSource
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[solana.PublicKey]cacheEntry
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithStore attaches a persistent metadata cache.
func WithStore(store Store) Option {
	return func(r *Registry) { r.store = store }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. chain is required; source may be nil
// (no enrichment).
func NewRegistry(chain ChainReader, source MetadataSource, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		chain:  chain,
		source: source,
		ttl:    DefaultTTL,
		logger: logger,
		cache:  make(map[solana.PublicKey]cacheEntry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the TokenInfo for a mint, from cache when fresh.
// Decimals come from the chain and are required; metadata enrichment is
// best-effort and its absence never fails the resolve.
func (r *Registry) Resolve(ctx context.Context, mint solana.PublicKey) (escrow.TokenInfo, error) {
	r.mu.Lock()
	entry, ok := r.cache[mint]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.fetchedAt) < r.ttl {
		return entry.info, nil
	}

	if info, ok := r.fromStore(ctx, mint); ok {
		r.put(mint, info)
		return info, nil
	}

	decimals, err := r.chain.GetMintDecimals(ctx, mint)
	if err != nil {
		return escrow.TokenInfo{}, fmt.Errorf("resolve mint %s: %w", mint, err)
	}

	info := escrow.TokenInfo{Mint: mint, Decimals: decimals}
	if md := r.lookupMetadata(ctx, mint); md != nil {
		info.Symbol = md.Symbol
		info.Name = md.Name
		info.Image = md.Image
	}

	r.put(mint, info)
	r.persist(ctx, info)
	return info, nil
}

// lookupMetadata queries the metadata source, retrying once with backoff
// on rate limiting. Failures degrade to no enrichment.
func (r *Registry) lookupMetadata(ctx context.Context, mint solana.PublicKey) *Metadata {
	if r.source == nil {
		return nil
	}

	md, err := r.source.Lookup(ctx, mint)
	if err != nil && errors.Is(err, ErrRateLimited) {
		r.logger.WarnContext(ctx, "metadata source rate limited, retrying once",
			"mint", mint.String(),
			"backoff", metadataRetryBackoff,
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(metadataRetryBackoff):
		}
		md, err = r.source.Lookup(ctx, mint)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "metadata lookup failed, continuing without enrichment",
			"mint", mint.String(),
			"error", err,
		)
		return nil
	}
	return md
}

func (r *Registry) put(mint solana.PublicKey, info escrow.TokenInfo) {
	r.mu.Lock()
	r.cache[mint] = cacheEntry{info: info, fetchedAt: r.now()}
	r.mu.Unlock()
}

func (r *Registry) fromStore(ctx context.Context, mint solana.PublicKey) (escrow.TokenInfo, bool) {
	if r.store == nil {
		return escrow.TokenInfo{}, false
	}
	stored, err := r.store.GetTokenMetadata(ctx, mint.String())
	if err != nil || stored == nil {
		return escrow.TokenInfo{}, false
	}
	if r.now().Sub(stored.FetchedAt) >= r.ttl {
		return escrow.TokenInfo{}, false
	}
	return escrow.TokenInfo{
		Mint:     mint,
		Symbol:   stored.Symbol,
		Name:     stored.Name,
		Image:    stored.Image,
		Decimals: stored.Decimals,
	}, true
}

func (r *Registry) persist(ctx context.Context, info escrow.TokenInfo) {
	if r.store == nil {
		return
	}
	err := r.store.UpsertTokenMetadata(ctx, StoredMetadata{
		Mint:      info.Mint.String(),
		Symbol:    info.Symbol,
		Name:      info.Name,
		Image:     info.Image,
		Decimals:  info.Decimals,
		FetchedAt: r.now(),
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to persist token metadata",
			"mint", info.Mint.String(),
			"error", err,
		)
	}
}
