package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the only vector length the store accepts.
// Matches text-embedding-3-small output.
const EmbeddingDimensions = 1536

// NoticeType values observed on releases. The first element of the release
// tag list decides the type; anything is stored, these are the ones the
// pipeline reasons about.
const (
	NoticeTypeTender     = "contractNotice"
	NoticeTypeAward      = "contractAward"
	NoticeTypeHistorical = "historical"
)

// Notice is a canonical procurement notice keyed by its OCDS contracting
// id (OCID). The OCID is immutable; revisions of the same contracting
// process overwrite the mutable columns.
type Notice struct {
	OCID        string  `json:"ocid"`
	ReleaseID   string  `json:"release_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	SourceURL   *string `json:"source_url,omitempty"`

	BuyerID *uuid.UUID `json:"buyer_id,omitempty"`

	PublicationDate time.Time  `json:"publication_date"`
	DeadlineDate    *time.Time `json:"deadline_date,omitempty"`

	ValueAmount   *float64 `json:"value_amount,omitempty"`
	ValueCurrency string   `json:"value_currency"`

	ProcurementMethod *string `json:"procurement_method,omitempty"`
	NoticeType        string  `json:"notice_type"`

	ContractPeriodStart *time.Time `json:"contract_period_start,omitempty"`
	ContractPeriodEnd   *time.Time `json:"contract_period_end,omitempty"`

	// Raw OCDS release document. Schema-flexible; consume through the
	// typed accessors in the ocds package.
	RawJSON map[string]any `json:"raw_json"`

	CPVCodes           []string `json:"cpv_codes,omitempty"`
	InferredUKCATCodes []string `json:"inferred_ukcat_codes,omitempty"`

	// Translated provider summary and its embedding. The summary embedding
	// is preferred over the description embedding when scoring.
	ProviderSummary          *string          `json:"provider_summary,omitempty"`
	ProviderSummaryEmbedding *pgvector.Vector `json:"-"`

	Embedding *pgvector.Vector `json:"-"`

	IsArchived bool      `json:"is_archived"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ScoringEmbedding returns the embedding the semantic score should use:
// the provider summary embedding when present, else the description one.
func (n *Notice) ScoringEmbedding() *pgvector.Vector {
	if n.ProviderSummaryEmbedding != nil {
		return n.ProviderSummaryEmbedding
	}
	return n.Embedding
}
