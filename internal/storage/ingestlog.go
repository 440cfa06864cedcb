package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tendermatch/tendermatch/internal/model"
)

// StartRun opens a new ingestion_log row in RUNNING state and returns its id.
func (db *DB) StartRun(ctx context.Context, source string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `
		INSERT INTO ingestion_log (source, status)
		VALUES ($1, $2)
		RETURNING id
	`, source, model.RunRunning).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: start run for %q: %w", source, err)
	}
	return id, nil
}

// FinishRun closes an ingestion run with a terminal status, item count and
// optional error details. completed_at is set server-side.
func (db *DB) FinishRun(ctx context.Context, id uuid.UUID, status model.RunStatus, items int, errDetails *string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE ingestion_log
		SET status = $2, items_processed = $3, error_details = $4, completed_at = now()
		WHERE id = $1
	`, id, status, items, errDetails)
	if err != nil {
		return fmt.Errorf("storage: finish run %s: %w", id, err)
	}
	return nil
}

// LastSuccessfulRun returns the completed_at of the most recent SUCCESS run
// for a source, or nil when the source has never succeeded.
func (db *DB) LastSuccessfulRun(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := db.pool.QueryRow(ctx, `
		SELECT completed_at FROM ingestion_log
		WHERE source = $1 AND status = $2 AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`, source, model.RunSuccess).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: last successful run for %q: %w", source, err)
	}
	return &t, nil
}
