package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/tendermatch/tendermatch/internal/embedding"
	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/ukcat"
)

// EnrichStore is the slice of the storage layer the enricher needs.
type EnrichStore interface {
	ListUnenriched(ctx context.Context, limit int, force bool) ([]*model.Notice, error)
	UpdateEnrichment(ctx context.Context, ocid string, embedding *pgvector.Vector, ukcatCodes []string, summary *string, summaryEmbedding *pgvector.Vector) error
}

// Enricher derives the scoring inputs for a notice: the text embedding,
// UKCAT activity tags, and the provider summary embedding when a summary
// is present.
type Enricher struct {
	store    EnrichStore
	embedder embedding.Provider
	tagger   *ukcat.Tagger
	logger   *slog.Logger
}

// NewEnricher wires an enricher.
func NewEnricher(store EnrichStore, embedder embedding.Provider, tagger *ukcat.Tagger, logger *slog.Logger) *Enricher {
	return &Enricher{store: store, embedder: embedder, tagger: tagger, logger: logger}
}

// EnrichNotice computes and persists derived fields for one notice.
// Tags come from title and description together; the embedding comes from
// the description alone and is skipped when there is none. Historical
// notices are never scored, so they only receive UKCAT tags. With force
// set, existing embeddings are recomputed.
func (e *Enricher) EnrichNotice(ctx context.Context, n *model.Notice, force bool) error {
	tagText := n.Title
	if n.Description != "" {
		tagText += "\n\n" + n.Description
	}
	tags := e.tagger.Tag(tagText)

	var emb, summaryEmb *pgvector.Vector

	if n.NoticeType != model.NoticeTypeHistorical {
		if (force || n.Embedding == nil) && n.Description != "" {
			v, err := e.embedder.Embed(ctx, n.Description)
			if err != nil {
				return fmt.Errorf("ingest: embed notice %q: %w", n.OCID, err)
			}
			if len(v.Slice()) > 0 {
				emb = &v
			}
		}
		if n.ProviderSummary != nil && (force || n.ProviderSummaryEmbedding == nil) {
			v, err := e.embedder.Embed(ctx, *n.ProviderSummary)
			if err != nil {
				return fmt.Errorf("ingest: embed summary %q: %w", n.OCID, err)
			}
			if len(v.Slice()) > 0 {
				summaryEmb = &v
			}
		}
	}

	if err := e.store.UpdateEnrichment(ctx, n.OCID, emb, tags, nil, summaryEmb); err != nil {
		return err
	}
	return nil
}

// EnrichBatch enriches up to limit notices still missing derived fields.
// Failures on single notices are logged and skipped so one bad document
// cannot stall the sweep. Returns the number enriched.
func (e *Enricher) EnrichBatch(ctx context.Context, limit int, force bool) (int, error) {
	notices, err := e.store.ListUnenriched(ctx, limit, force)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			return enriched, err
		}
		if err := e.EnrichNotice(ctx, n, force); err != nil {
			e.logger.Warn("enrichment failed, skipping notice", "ocid", n.OCID, "error", err)
			continue
		}
		enriched++
	}

	e.logger.Info("enrichment sweep complete", "candidates", len(notices), "enriched", enriched)
	return enriched, nil
}
