// Package db persists the service's two durable concerns: the shared
// token-metadata cache and the set of escrow accounts being watched by
// the poll worker. Escrow snapshots themselves are never persisted; they
// are rebuilt from chain state on every fetch.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the service tables if they do not exist yet.
// Deployments with managed migrations can skip this.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS token_metadata (
	mint       TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	image      TEXT NOT NULL DEFAULT '',
	decimals   SMALLINT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS escrow_watches (
	address       TEXT NOT NULL,
	network       TEXT NOT NULL,
	poll_interval BIGINT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	last_status   TEXT NOT NULL DEFAULT '',
	last_remaining BIGINT NOT NULL DEFAULT 0,
	last_poll_time TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (address, network)
);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TokenMetadata is a cached token-registry row.
type TokenMetadata struct {
	Mint      string
	Symbol    string
	Name      string
	Image     string
	Decimals  uint8
	FetchedAt time.Time
}

// GetTokenMetadata returns the cached metadata for a mint, or nil when
// the mint has never been resolved. TTL is the reader's concern.
func (s *Store) GetTokenMetadata(ctx context.Context, mint string) (*TokenMetadata, error) {
	row := s.pool.QueryRow(ctx, `
SELECT mint, symbol, name, image, decimals, fetched_at
FROM token_metadata
WHERE mint = $1`, mint)

	var m TokenMetadata
	var decimals int16
	err := row.Scan(&m.Mint, &m.Symbol, &m.Name, &m.Image, &decimals, &m.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token metadata: %w", err)
	}
	m.Decimals = uint8(decimals)
	return &m, nil
}

// UpsertTokenMetadata inserts or refreshes a metadata row.
func (s *Store) UpsertTokenMetadata(ctx context.Context, m TokenMetadata) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO token_metadata (mint, symbol, name, image, decimals, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (mint) DO UPDATE SET
	symbol = EXCLUDED.symbol,
	name = EXCLUDED.name,
	image = EXCLUDED.image,
	decimals = EXCLUDED.decimals,
	fetched_at = EXCLUDED.fetched_at`,
		m.Mint, m.Symbol, m.Name, m.Image, int16(m.Decimals), m.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert token metadata: %w", err)
	}
	return nil
}

// Watch is a registered escrow watch: the worker polls this escrow on the
// given interval and publishes status changes.
type Watch struct {
	Address       string
	Network       string
	PollInterval  time.Duration
	Status        string // active, paused
	LastStatus    string // last derived escrow status seen by the poller
	LastRemaining int64  // last tokensDepositRemaining seen, smallest units
	LastPollTime  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertWatchParams contains the parameters for registering a watch.
type UpsertWatchParams struct {
	Address      string
	Network      string
	PollInterval time.Duration
	Status       string
}

// UpsertWatch registers an escrow watch or updates its interval/status.
func (s *Store) UpsertWatch(ctx context.Context, params UpsertWatchParams) (*Watch, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO escrow_watches (address, network, poll_interval, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (address, network) DO UPDATE SET
	poll_interval = EXCLUDED.poll_interval,
	status = EXCLUDED.status,
	updated_at = now()
RETURNING address, network, poll_interval, status, last_status, last_remaining, last_poll_time, created_at, updated_at`,
		params.Address, params.Network, params.PollInterval.Nanoseconds(), params.Status)
	return scanWatch(row)
}

// GetWatch returns a watch, or pgx.ErrNoRows wrapped if absent.
func (s *Store) GetWatch(ctx context.Context, address, network string) (*Watch, error) {
	row := s.pool.QueryRow(ctx, `
SELECT address, network, poll_interval, status, last_status, last_remaining, last_poll_time, created_at, updated_at
FROM escrow_watches
WHERE address = $1 AND network = $2`, address, network)
	return scanWatch(row)
}

// ListWatches returns all registered watches.
func (s *Store) ListWatches(ctx context.Context) ([]*Watch, error) {
	rows, err := s.pool.Query(ctx, `
SELECT address, network, poll_interval, status, last_status, last_remaining, last_poll_time, created_at, updated_at
FROM escrow_watches
ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	var watches []*Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// DeleteWatch removes a watch.
func (s *Store) DeleteWatch(ctx context.Context, address, network string) error {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM escrow_watches WHERE address = $1 AND network = $2`, address, network)
	if err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// WatchExists reports whether a watch is registered.
func (s *Store) WatchExists(ctx context.Context, address, network string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM escrow_watches WHERE address = $1 AND network = $2)`,
		address, network).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("watch exists: %w", err)
	}
	return exists, nil
}

// RecordPollResult stores what the poller last observed for a watch so
// the next poll can detect changes.
func (s *Store) RecordPollResult(ctx context.Context, address, network, lastStatus string, lastRemaining int64, polledAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE escrow_watches
SET last_status = $3, last_remaining = $4, last_poll_time = $5, updated_at = now()
WHERE address = $1 AND network = $2`,
		address, network, lastStatus, lastRemaining, polledAt)
	if err != nil {
		return fmt.Errorf("record poll result: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWatch(row scanner) (*Watch, error) {
	var w Watch
	var interval int64
	err := row.Scan(&w.Address, &w.Network, &interval, &w.Status, &w.LastStatus,
		&w.LastRemaining, &w.LastPollTime, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan watch: %w", err)
	}
	w.PollInterval = time.Duration(interval)
	return &w, nil
}
