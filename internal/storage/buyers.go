package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tendermatch/tendermatch/internal/model"
)

// UpsertBuyer inserts a buyer keyed by slug and returns its id. On conflict
// the canonical name is refreshed; the id and created_at are stable.
func (db *DB) UpsertBuyer(ctx context.Context, name, slug string, identifiers map[string]any) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `
		INSERT INTO buyer (canonical_name, slug, identifiers)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET canonical_name = EXCLUDED.canonical_name
		RETURNING id
	`, name, slug, identifiers).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: upsert buyer %q: %w", slug, err)
	}
	return id, nil
}

// GetBuyer fetches a buyer by id.
func (db *DB) GetBuyer(ctx context.Context, id uuid.UUID) (*model.Buyer, error) {
	var b model.Buyer
	err := db.pool.QueryRow(ctx, `
		SELECT id, canonical_name, slug, identifiers, created_at
		FROM buyer WHERE id = $1
	`, id).Scan(&b.ID, &b.CanonicalName, &b.Slug, &b.Identifiers, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get buyer %s: %w", id, err)
	}
	return &b, nil
}
