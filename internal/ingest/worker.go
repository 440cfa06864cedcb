package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/ocds"
	"github.com/tendermatch/tendermatch/internal/storage"
	"github.com/tendermatch/tendermatch/internal/telemetry"
)

// WorkerStore is the slice of the storage layer the ingestion worker needs.
type WorkerStore interface {
	StartRun(ctx context.Context, source string) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, status model.RunStatus, items int, errDetails *string) error
	LastSuccessfulRun(ctx context.Context, source string) (*time.Time, error)
	UpsertBuyer(ctx context.Context, name, slug string, identifiers map[string]any) (uuid.UUID, error)
	GetNotice(ctx context.Context, ocid string) (*model.Notice, error)
	UpsertNotice(ctx context.Context, n *model.Notice) error
	ArchiveExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Fetcher pulls releases from the feed. Satisfied by *Client.
type Fetcher interface {
	FetchUpdated(ctx context.Context, since time.Time, maxReleases int) ([]ocds.Release, error)
	FetchKeyword(ctx context.Context, keyword string, from, to time.Time, maxReleases int) ([]ocds.Release, error)
}

// ChangeHandler reacts to material changes on a stored notice. Satisfied by
// the alert service.
type ChangeHandler interface {
	Process(ctx context.Context, n *model.Notice, changes map[string]Change) error
}

// MeshGate reports whether any profile is interested in a CPV set.
// Satisfied by *mesh.Mesh.
type MeshGate interface {
	Matches(ctx context.Context, cpvCodes []string) (bool, error)
}

// Worker runs full ingestion cycles: fetch, normalise, alert, upsert,
// enrich. Every run is framed by an ingestion_log row and failures on
// single releases never abort the run.
type Worker struct {
	store     WorkerStore
	client    Fetcher
	gate      MeshGate
	enricher  *Enricher
	changes   ChangeHandler
	threshold float64
	epoch     time.Time
	logger    *slog.Logger

	ingested metric.Int64Counter
	skipped  metric.Int64Counter
	failures metric.Int64Counter
}

// NewWorker wires an ingestion worker. changes may be nil when alerting is
// not configured. threshold is the relative value move that counts as
// material; epoch is the watermark for a feed that has never succeeded.
func NewWorker(store WorkerStore, client Fetcher, gate MeshGate, enricher *Enricher, changes ChangeHandler, threshold float64, epoch time.Time, logger *slog.Logger) *Worker {
	meter := telemetry.Meter("tendermatch/ingest")
	ingested, _ := meter.Int64Counter("ingest.notices.ingested")
	skipped, _ := meter.Int64Counter("ingest.notices.skipped")
	failures, _ := meter.Int64Counter("ingest.notices.failed")

	return &Worker{
		store:     store,
		client:    client,
		gate:      gate,
		enricher:  enricher,
		changes:   changes,
		threshold: threshold,
		epoch:     epoch,
		logger:    logger,
		ingested:  ingested,
		skipped:   skipped,
		failures:  failures,
	}
}

const sourceFeed = "fts"

// Run executes one incremental ingestion cycle. The window starts at the
// last successful run's completion (or the configured epoch on first run);
// sinceDays, when positive, overrides the watermark. limit caps the number
// of releases pulled, 0 means no cap.
func (w *Worker) Run(ctx context.Context, sinceDays, limit int) error {
	runID, err := w.store.StartRun(ctx, sourceFeed)
	if err != nil {
		return err
	}

	since, err := w.watermark(ctx, sinceDays)
	if err != nil {
		return w.fail(ctx, runID, 0, err)
	}
	w.logger.Info("ingestion run started", "run_id", runID, "since", since)

	releases, err := w.client.FetchUpdated(ctx, since, limit)
	if err != nil {
		return w.fail(ctx, runID, 0, fmt.Errorf("fetch releases: %w", err))
	}

	processed, failed := w.processAll(ctx, releases, false)

	if n, err := w.store.ArchiveExpired(ctx, time.Now().UTC()); err != nil {
		w.logger.Warn("archive sweep failed", "error", err)
	} else if n > 0 {
		w.logger.Info("archived expired notices", "count", n)
	}

	return w.finish(ctx, runID, processed, failed, len(releases))
}

// Backfill ingests historical releases matching a keyword inside a date
// window. Backfilled notices are stored with the historical type so they
// feed the renewal radar without entering the live funnel.
func (w *Worker) Backfill(ctx context.Context, keyword string, from, to time.Time, limit int) error {
	runID, err := w.store.StartRun(ctx, "backfill:"+keyword)
	if err != nil {
		return err
	}
	w.logger.Info("backfill started", "run_id", runID, "keyword", keyword, "from", from, "to", to)

	releases, err := w.client.FetchKeyword(ctx, keyword, from, to, limit)
	if err != nil {
		return w.fail(ctx, runID, 0, fmt.Errorf("fetch keyword releases: %w", err))
	}

	processed, failed := w.processAll(ctx, releases, true)
	return w.finish(ctx, runID, processed, failed, len(releases))
}

func (w *Worker) watermark(ctx context.Context, sinceDays int) (time.Time, error) {
	if sinceDays > 0 {
		return time.Now().UTC().AddDate(0, 0, -sinceDays), nil
	}
	last, err := w.store.LastSuccessfulRun(ctx, sourceFeed)
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return w.epoch, nil
	}
	return *last, nil
}

func (w *Worker) processAll(ctx context.Context, releases []ocds.Release, historical bool) (processed, failed int) {
	for _, rel := range releases {
		if ctx.Err() != nil {
			return processed, failed
		}
		if err := w.processRelease(ctx, rel, historical); err != nil {
			failed++
			w.failures.Add(ctx, 1)
			w.logger.Warn("release failed, continuing", "ocid", rel.Str("ocid"), "error", err)
			continue
		}
		processed++
	}
	return processed, failed
}

func (w *Worker) processRelease(ctx context.Context, rel ocds.Release, historical bool) error {
	patch, notice, err := ocds.Normalise(rel, time.Now().UTC())
	if err != nil {
		return err
	}
	if historical {
		notice.NoticeType = model.NoticeTypeHistorical
	}

	buyerID, err := w.store.UpsertBuyer(ctx, patch.CanonicalName, patch.Slug, patch.Identifiers)
	if err != nil {
		return err
	}
	notice.BuyerID = &buyerID

	// Diff against the stored state before the upsert overwrites it.
	old, err := w.store.GetNotice(ctx, notice.OCID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var changes map[string]Change
	if old != nil {
		changes = Diff(old, &notice, w.threshold)
	}

	// Alerts fan out before the upsert: once the new state is stored the
	// diff is gone, so a failed fanout must fail the release while the old
	// row is still intact.
	if len(changes) > 0 && w.changes != nil {
		if err := w.changes.Process(ctx, &notice, changes); err != nil {
			return fmt.Errorf("process changes: %w", err)
		}
	}

	if err := w.store.UpsertNotice(ctx, &notice); err != nil {
		return err
	}
	w.ingested.Add(ctx, 1)

	// Every notice is persisted; the mesh only decides whether it is worth
	// paying for enrichment now. Profiles created later can still pick it
	// up through the sweep.
	textChanged := old != nil && (old.Title != notice.Title || old.Description != notice.Description)
	if old == nil || textChanged || old.Embedding == nil {
		inMesh, err := w.gate.Matches(ctx, notice.CPVCodes)
		if err != nil {
			return err
		}
		if !inMesh {
			w.skipped.Add(ctx, 1)
			w.logger.Debug("notice outside interest mesh, enrichment deferred", "ocid", notice.OCID)
			return nil
		}
		if err := w.enricher.EnrichNotice(ctx, &notice, textChanged); err != nil {
			// Enrichment is recoverable on the next sweep.
			w.logger.Warn("enrichment failed for ingested notice", "ocid", notice.OCID, "error", err)
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, runID uuid.UUID, processed int, cause error) error {
	msg := cause.Error()
	if err := w.store.FinishRun(ctx, runID, model.RunFailed, processed, &msg); err != nil {
		w.logger.Error("failed to close ingestion run", "run_id", runID, "error", err)
	}
	return cause
}

func (w *Worker) finish(ctx context.Context, runID uuid.UUID, processed, failed, total int) error {
	status := model.RunSuccess
	var details *string
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d releases failed", failed, total)
		details = &msg
		if processed == 0 {
			status = model.RunFailed
		}
	}
	if err := w.store.FinishRun(ctx, runID, status, processed, details); err != nil {
		return err
	}
	w.logger.Info("ingestion run finished", "run_id", runID, "status", status, "processed", processed, "failed", failed)
	if status == model.RunFailed {
		return fmt.Errorf("ingest: run %s failed: %d of %d releases failed", runID, failed, total)
	}
	return nil
}
