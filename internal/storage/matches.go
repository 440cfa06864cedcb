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

const matchColumns = `
	org_id, notice_id, score, score_semantic, score_domain, score_geo, score_theme,
	verdict, viability_warning, risk_flags, checklist, recommendation_reasons,
	is_tracked, deep_verdict, deep_rationale, created_at`

func scanMatch(row pgx.Row) (*model.NoticeMatch, error) {
	var m model.NoticeMatch
	err := row.Scan(
		&m.OrgID, &m.NoticeID, &m.Score, &m.ScoreSemantic, &m.ScoreDomain, &m.ScoreGeo, &m.ScoreTheme,
		&m.Verdict, &m.ViabilityWarning, &m.RiskFlags, &m.Checklist, &m.RecommendationReasons,
		&m.IsTracked, &m.DeepVerdict, &m.DeepRationale, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMatches(rows pgx.Rows) ([]*model.NoticeMatch, error) {
	defer rows.Close()
	var out []*model.NoticeMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatchesForOrg returns the org's matches keyed by notice id.
func (db *DB) MatchesForOrg(ctx context.Context, orgID uuid.UUID) (map[string]*model.NoticeMatch, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+matchColumns+` FROM notice_match WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: matches for org %s: %w", orgID, err)
	}
	list, err := collectMatches(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: matches for org %s: %w", orgID, err)
	}
	out := make(map[string]*model.NoticeMatch, len(list))
	for _, m := range list {
		out[m.NoticeID] = m
	}
	return out, nil
}

// MatchesForNotice returns every org's match row for one notice.
func (db *DB) MatchesForNotice(ctx context.Context, ocid string) ([]*model.NoticeMatch, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+matchColumns+` FROM notice_match WHERE notice_id = $1`, ocid)
	if err != nil {
		return nil, fmt.Errorf("storage: matches for notice %q: %w", ocid, err)
	}
	out, err := collectMatches(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: matches for notice %q: %w", ocid, err)
	}
	return out, nil
}

// ApplyMatchSet commits one recalculation of an org's matches atomically,
// retrying on serialization conflicts. Each computed match is upserted
// touching only the mechanical columns: scores, verdict, flags, checklist
// and reasons. Deep verdicts, tracking state and created_at are never
// overwritten. Existing rows absent from the computed set are deleted
// unless they carry a deep verdict.
func (db *DB) ApplyMatchSet(ctx context.Context, orgID uuid.UUID, matches []*model.NoticeMatch) error {
	return WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		return db.applyMatchSet(ctx, orgID, matches)
	})
}

func (db *DB) applyMatchSet(ctx context.Context, orgID uuid.UUID, matches []*model.NoticeMatch) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: apply match set: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	kept := make([]string, 0, len(matches))
	for _, m := range matches {
		kept = append(kept, m.NoticeID)
		_, err := tx.Exec(ctx, `
			INSERT INTO notice_match (
				org_id, notice_id, score, score_semantic, score_domain, score_geo, score_theme,
				verdict, viability_warning, risk_flags, checklist, recommendation_reasons
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (org_id, notice_id) DO UPDATE SET
				score                  = EXCLUDED.score,
				score_semantic         = EXCLUDED.score_semantic,
				score_domain           = EXCLUDED.score_domain,
				score_geo              = EXCLUDED.score_geo,
				score_theme            = EXCLUDED.score_theme,
				verdict                = EXCLUDED.verdict,
				viability_warning      = EXCLUDED.viability_warning,
				risk_flags             = EXCLUDED.risk_flags,
				checklist              = EXCLUDED.checklist,
				recommendation_reasons = EXCLUDED.recommendation_reasons
		`,
			orgID, m.NoticeID, m.Score, m.ScoreSemantic, m.ScoreDomain, m.ScoreGeo, m.ScoreTheme,
			m.Verdict, m.ViabilityWarning, m.RiskFlags, m.Checklist, m.RecommendationReasons,
		)
		if err != nil {
			return fmt.Errorf("storage: apply match set: upsert %q: %w", m.NoticeID, err)
		}
	}

	// Stale rows without curated knowledge are cheap to rebuild; rows with
	// a deep verdict are preserved even when the notice stops matching.
	_, err = tx.Exec(ctx, `
		DELETE FROM notice_match
		WHERE org_id = $1
		  AND deep_verdict IS NULL
		  AND NOT (notice_id = ANY($2::text[]))
	`, orgID, kept)
	if err != nil {
		return fmt.Errorf("storage: apply match set: delete stale: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: apply match set: commit: %w", err)
	}
	return nil
}

// TopMatches returns up to k of the org's highest-scoring matches with a
// positive score. Used to pick Tier-2 review candidates.
func (db *DB) TopMatches(ctx context.Context, orgID uuid.UUID, k int) ([]*model.NoticeMatch, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+matchColumns+`
		FROM notice_match
		WHERE org_id = $1 AND score > 0
		ORDER BY score DESC
		LIMIT $2
	`, orgID, k)
	if err != nil {
		return nil, fmt.Errorf("storage: top matches for org %s: %w", orgID, err)
	}
	out, err := collectMatches(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: top matches for org %s: %w", orgID, err)
	}
	return out, nil
}

// SetDeepVerdict writes the Tier-2 outcome for one match. Only the deep
// columns are touched; the mechanical fields stay as the funnel left them.
func (db *DB) SetDeepVerdict(ctx context.Context, orgID uuid.UUID, noticeID string, verdict model.DeepVerdict, rationale string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE notice_match
		SET deep_verdict = $3, deep_rationale = $4
		WHERE org_id = $1 AND notice_id = $2
	`, orgID, noticeID, verdict, rationale)
	if err != nil {
		return fmt.Errorf("storage: set deep verdict %s/%q: %w", orgID, noticeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FeedItem is one row of the org's match feed: the match joined with the
// notice fields a reader needs to act on it.
type FeedItem struct {
	Match        model.NoticeMatch `json:"match"`
	Title        string            `json:"title"`
	BuyerName    *string           `json:"buyer_name,omitempty"`
	DeadlineDate *time.Time        `json:"deadline_date,omitempty"`
	ValueAmount  *float64          `json:"value_amount,omitempty"`
	SourceURL    *string           `json:"source_url,omitempty"`
}

// Feed returns the org's matches ordered tracked-first then by score.
func (db *DB) Feed(ctx context.Context, orgID uuid.UUID, limit int) ([]FeedItem, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT
			m.org_id, m.notice_id, m.score, m.score_semantic, m.score_domain, m.score_geo, m.score_theme,
			m.verdict, m.viability_warning, m.risk_flags, m.checklist, m.recommendation_reasons,
			m.is_tracked, m.deep_verdict, m.deep_rationale, m.created_at,
			n.title, b.canonical_name, n.deadline_date, n.value_amount, n.source_url
		FROM notice_match m
		JOIN notice n ON n.ocid = m.notice_id
		LEFT JOIN buyer b ON b.id = n.buyer_id
		WHERE m.org_id = $1
		ORDER BY m.is_tracked DESC, m.score DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: feed for org %s: %w", orgID, err)
	}
	defer rows.Close()

	var out []FeedItem
	for rows.Next() {
		var it FeedItem
		m := &it.Match
		err := rows.Scan(
			&m.OrgID, &m.NoticeID, &m.Score, &m.ScoreSemantic, &m.ScoreDomain, &m.ScoreGeo, &m.ScoreTheme,
			&m.Verdict, &m.ViabilityWarning, &m.RiskFlags, &m.Checklist, &m.RecommendationReasons,
			&m.IsTracked, &m.DeepVerdict, &m.DeepRationale, &m.CreatedAt,
			&it.Title, &it.BuyerName, &it.DeadlineDate, &it.ValueAmount, &it.SourceURL,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: feed for org %s: %w", orgID, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: feed for org %s: %w", orgID, err)
	}
	return out, nil
}

// ToggleTracking flips the tracked flag on a match and returns the new
// state. When no match row exists yet a minimal REVIEW row is created so a
// user can pin a notice the funnel has not scored.
func (db *DB) ToggleTracking(ctx context.Context, orgID uuid.UUID, ocid string) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: toggle tracking: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var tracked bool
	err = tx.QueryRow(ctx, `
		SELECT is_tracked FROM notice_match
		WHERE org_id = $1 AND notice_id = $2
		FOR UPDATE
	`, orgID, ocid).Scan(&tracked)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		tracked = true
		_, err = tx.Exec(ctx, `
			INSERT INTO notice_match (org_id, notice_id, verdict, is_tracked, recommendation_reasons)
			VALUES ($1, $2, $3, TRUE, $4)
		`, orgID, ocid, model.VerdictReview, []string{"Manually tracked."})
		if err != nil {
			return false, fmt.Errorf("storage: toggle tracking: create %q: %w", ocid, err)
		}
	case err != nil:
		return false, fmt.Errorf("storage: toggle tracking %q: %w", ocid, err)
	default:
		tracked = !tracked
		_, err = tx.Exec(ctx, `
			UPDATE notice_match SET is_tracked = $3
			WHERE org_id = $1 AND notice_id = $2
		`, orgID, ocid, tracked)
		if err != nil {
			return false, fmt.Errorf("storage: toggle tracking %q: %w", ocid, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: toggle tracking: commit: %w", err)
	}
	return tracked, nil
}
