package token

import (
	"context"

	"github.com/brojonat/escrowdesk/service/db"
)

// DBStore adapts the pgx-backed db.Store to the registry's Store
// interface.
type DBStore struct {
	store *db.Store
}

// NewDBStore wraps a db.Store as a persistent metadata cache.
func NewDBStore(store *db.Store) *DBStore {
	return &DBStore{store: store}
}

func (d *DBStore) GetTokenMetadata(ctx context.Context, mint string) (*StoredMetadata, error) {
	row, err := d.store.GetTokenMetadata(ctx, mint)
	if err != nil || row == nil {
		return nil, err
	}
	return &StoredMetadata{
		Mint:      row.Mint,
		Symbol:    row.Symbol,
		Name:      row.Name,
		Image:     row.Image,
		Decimals:  row.Decimals,
		FetchedAt: row.FetchedAt,
	}, nil
}

func (d *DBStore) UpsertTokenMetadata(ctx context.Context, m StoredMetadata) error {
	return d.store.UpsertTokenMetadata(ctx, db.TokenMetadata{
		Mint:      m.Mint,
		Symbol:    m.Symbol,
		Name:      m.Name,
		Image:     m.Image,
		Decimals:  m.Decimals,
		FetchedAt: m.FetchedAt,
	})
}
