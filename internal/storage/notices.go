package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/tendermatch/tendermatch/internal/model"
)

const noticeColumns = `
	ocid, release_id, title, description, source_url, buyer_id,
	publication_date, deadline_date, value_amount, value_currency,
	procurement_method, notice_type, contract_period_start, contract_period_end,
	raw_json, cpv_codes, inferred_ukcat_codes,
	provider_summary, provider_summary_embedding, embedding,
	is_archived, updated_at`

func scanNotice(row pgx.Row) (*model.Notice, error) {
	var n model.Notice
	err := row.Scan(
		&n.OCID, &n.ReleaseID, &n.Title, &n.Description, &n.SourceURL, &n.BuyerID,
		&n.PublicationDate, &n.DeadlineDate, &n.ValueAmount, &n.ValueCurrency,
		&n.ProcurementMethod, &n.NoticeType, &n.ContractPeriodStart, &n.ContractPeriodEnd,
		&n.RawJSON, &n.CPVCodes, &n.InferredUKCATCodes,
		&n.ProviderSummary, &n.ProviderSummaryEmbedding, &n.Embedding,
		&n.IsArchived, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotices(rows pgx.Rows) ([]*model.Notice, error) {
	defer rows.Close()
	var out []*model.Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetNotice fetches a notice by OCID.
func (db *DB) GetNotice(ctx context.Context, ocid string) (*model.Notice, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+noticeColumns+` FROM notice WHERE ocid = $1`, ocid)
	n, err := scanNotice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get notice %q: %w", ocid, err)
	}
	return n, nil
}

// UpsertNotice inserts a notice keyed by OCID. Revisions of the same
// contracting process overwrite the mutable columns; the OCID and
// publication_date of the first sighting are preserved.
func (db *DB) UpsertNotice(ctx context.Context, n *model.Notice) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO notice (
			ocid, release_id, title, description, source_url, buyer_id,
			publication_date, deadline_date, value_amount, value_currency,
			procurement_method, notice_type, contract_period_start, contract_period_end,
			raw_json, cpv_codes, inferred_ukcat_codes, embedding, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (ocid) DO UPDATE SET
			release_id            = EXCLUDED.release_id,
			title                 = EXCLUDED.title,
			description           = EXCLUDED.description,
			source_url            = EXCLUDED.source_url,
			buyer_id              = EXCLUDED.buyer_id,
			deadline_date         = EXCLUDED.deadline_date,
			value_amount          = EXCLUDED.value_amount,
			value_currency        = EXCLUDED.value_currency,
			procurement_method    = EXCLUDED.procurement_method,
			notice_type           = EXCLUDED.notice_type,
			contract_period_start = EXCLUDED.contract_period_start,
			contract_period_end   = EXCLUDED.contract_period_end,
			raw_json              = EXCLUDED.raw_json,
			cpv_codes             = EXCLUDED.cpv_codes,
			inferred_ukcat_codes  = COALESCE(EXCLUDED.inferred_ukcat_codes, notice.inferred_ukcat_codes),
			embedding             = COALESCE(EXCLUDED.embedding, notice.embedding),
			updated_at            = EXCLUDED.updated_at
	`,
		n.OCID, n.ReleaseID, n.Title, n.Description, n.SourceURL, n.BuyerID,
		n.PublicationDate, n.DeadlineDate, n.ValueAmount, n.ValueCurrency,
		n.ProcurementMethod, n.NoticeType, n.ContractPeriodStart, n.ContractPeriodEnd,
		n.RawJSON, n.CPVCodes, n.InferredUKCATCodes, n.Embedding, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert notice %q: %w", n.OCID, err)
	}
	return nil
}

// ListServiceCandidates returns all live notices in the services procurement
// category. This is the funnel's SQL prefilter: works and goods notices and
// archived rows never reach the in-process gates.
func (db *DB) ListServiceCandidates(ctx context.Context) ([]*model.Notice, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+noticeColumns+`
		FROM notice
		WHERE is_archived = FALSE
		  AND lower(raw_json->'tender'->>'mainProcurementCategory') = 'services'
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list service candidates: %w", err)
	}
	out, err := collectNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list service candidates: %w", err)
	}
	return out, nil
}

// ListHistoricalByBuyer returns up to limit historical notices for a buyer,
// newest first, restricted to the given 4-character CPV prefixes. Rows with
// no CPV codes are kept so sparse historical data still contributes. An
// empty prefix list disables the CPV restriction.
func (db *DB) ListHistoricalByBuyer(ctx context.Context, buyerID uuid.UUID, cpvPrefixes []string, limit int) ([]*model.Notice, error) {
	if cpvPrefixes == nil {
		cpvPrefixes = []string{}
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+noticeColumns+`
		FROM notice
		WHERE buyer_id = $1
		  AND notice_type = $2
		  AND (
			cardinality($3::text[]) = 0
			OR cpv_codes IS NULL
			OR EXISTS (
				SELECT 1 FROM unnest(cpv_codes) AS c
				WHERE left(c, 4) = ANY($3::text[])
			)
		  )
		ORDER BY publication_date DESC
		LIMIT $4
	`, buyerID, model.NoticeTypeHistorical, cpvPrefixes, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list historical for buyer %s: %w", buyerID, err)
	}
	out, err := collectNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list historical for buyer %s: %w", buyerID, err)
	}
	return out, nil
}

// ListUnenriched returns non-archived notices still missing an embedding or
// UKCAT tags. With force set, every non-archived notice qualifies.
func (db *DB) ListUnenriched(ctx context.Context, limit int, force bool) ([]*model.Notice, error) {
	q := `
		SELECT ` + noticeColumns + `
		FROM notice
		WHERE is_archived = FALSE
		  AND (embedding IS NULL OR inferred_ukcat_codes IS NULL)
		ORDER BY publication_date DESC
		LIMIT $1`
	if force {
		q = `
		SELECT ` + noticeColumns + `
		FROM notice
		WHERE is_archived = FALSE
		ORDER BY publication_date DESC
		LIMIT $1`
	}
	rows, err := db.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list unenriched: %w", err)
	}
	out, err := collectNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list unenriched: %w", err)
	}
	return out, nil
}

// UpdateEnrichment stores derived fields on a notice: the description
// embedding, inferred UKCAT tags, and the optional provider summary with
// its embedding. Nil vector arguments leave the stored value untouched.
func (db *DB) UpdateEnrichment(ctx context.Context, ocid string, embedding *pgvector.Vector, ukcatCodes []string, summary *string, summaryEmbedding *pgvector.Vector) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE notice SET
			embedding                  = COALESCE($2, embedding),
			inferred_ukcat_codes       = $3,
			provider_summary           = COALESCE($4, provider_summary),
			provider_summary_embedding = COALESCE($5, provider_summary_embedding),
			updated_at                 = now()
		WHERE ocid = $1
	`, ocid, embedding, ukcatCodes, summary, summaryEmbedding)
	if err != nil {
		return fmt.Errorf("storage: update enrichment %q: %w", ocid, err)
	}
	return nil
}

// ListExpiringContracts returns award and historical notices whose contract
// period ends inside [from, to).
func (db *DB) ListExpiringContracts(ctx context.Context, from, to time.Time) ([]*model.Notice, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+noticeColumns+`
		FROM notice
		WHERE notice_type = ANY($1::text[])
		  AND contract_period_end >= $2
		  AND contract_period_end < $3
		ORDER BY contract_period_end
	`, []string{model.NoticeTypeAward, model.NoticeTypeHistorical}, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: list expiring contracts: %w", err)
	}
	out, err := collectNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list expiring contracts: %w", err)
	}
	return out, nil
}

// ArchiveExpired flags notices whose deadline passed before the cutoff.
// Archived notices drop out of the funnel prefilter but stay queryable.
func (db *DB) ArchiveExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE notice SET is_archived = TRUE, updated_at = now()
		WHERE is_archived = FALSE
		  AND deadline_date IS NOT NULL
		  AND deadline_date < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: archive expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
