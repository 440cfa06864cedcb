package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendermatch/tendermatch/internal/model"
)

// CreateAlert inserts one alert row.
func (db *DB) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO alert (org_id, notice_id, alert_type, severity, message, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.OrgID, a.NoticeID, a.Type, a.Severity, a.Message, a.Details)
	if err != nil {
		return fmt.Errorf("storage: create alert for %s/%q: %w", a.OrgID, a.NoticeID, err)
	}
	return nil
}

// MatchRevision carries the match fields the alert pipeline may rewrite
// after a material change: the verdict and the appended reason trail.
type MatchRevision struct {
	OrgID                 uuid.UUID
	NoticeID              string
	Verdict               model.Verdict
	RecommendationReasons []string
}

// ApplyChangeAlerts commits one notice's change-alert fanout atomically,
// retrying on serialization conflicts: the alert rows for every affected
// org plus the match revisions. Either all orgs see the change or none do.
func (db *DB) ApplyChangeAlerts(ctx context.Context, alerts []*model.Alert, revisions []MatchRevision) error {
	if len(alerts) == 0 && len(revisions) == 0 {
		return nil
	}
	return WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		return db.applyChangeAlerts(ctx, alerts, revisions)
	})
}

func (db *DB) applyChangeAlerts(ctx context.Context, alerts []*model.Alert, revisions []MatchRevision) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: apply change alerts: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range alerts {
		_, err := tx.Exec(ctx, `
			INSERT INTO alert (org_id, notice_id, alert_type, severity, message, details)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, a.OrgID, a.NoticeID, a.Type, a.Severity, a.Message, a.Details)
		if err != nil {
			return fmt.Errorf("storage: apply change alerts: insert for %s: %w", a.OrgID, err)
		}
	}

	for _, r := range revisions {
		_, err := tx.Exec(ctx, `
			UPDATE notice_match
			SET verdict = $3, recommendation_reasons = $4
			WHERE org_id = $1 AND notice_id = $2
		`, r.OrgID, r.NoticeID, r.Verdict, r.RecommendationReasons)
		if err != nil {
			return fmt.Errorf("storage: apply change alerts: revise %s/%q: %w", r.OrgID, r.NoticeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: apply change alerts: commit: %w", err)
	}
	return nil
}

// UnreadAlerts returns the org's unread alerts, newest first.
func (db *DB) UnreadAlerts(ctx context.Context, orgID uuid.UUID) ([]*model.Alert, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, org_id, notice_id, alert_type, severity, message, details, is_read, created_at
		FROM alert
		WHERE org_id = $1 AND is_read = FALSE
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: unread alerts for %s: %w", orgID, err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		var a model.Alert
		err := rows.Scan(&a.ID, &a.OrgID, &a.NoticeID, &a.Type, &a.Severity, &a.Message, &a.Details, &a.IsRead, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: unread alerts for %s: %w", orgID, err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: unread alerts for %s: %w", orgID, err)
	}
	return out, nil
}

// MarkAlertRead flags one alert as read.
func (db *DB) MarkAlertRead(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `UPDATE alert SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: mark alert read %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasAlert reports whether an alert of the given type already exists for
// the (org, notice) pair. Used to dedupe renewal radar alerts.
func (db *DB) HasAlert(ctx context.Context, orgID uuid.UUID, noticeID string, typ model.AlertType) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert
			WHERE org_id = $1 AND notice_id = $2 AND alert_type = $3
		)
	`, orgID, noticeID, typ).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: has alert %s/%q: %w", orgID, noticeID, err)
	}
	return exists, nil
}
