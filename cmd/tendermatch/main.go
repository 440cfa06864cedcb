// Command tendermatch operates the procurement matching pipeline: schema
// setup, feed ingestion, enrichment, funnel recalculation, Tier-2 review,
// renewal scanning and the per-org feed, alert and tracking surfaces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendermatch/tendermatch/internal/alerts"
	"github.com/tendermatch/tendermatch/internal/config"
	"github.com/tendermatch/tendermatch/internal/embedding"
	"github.com/tendermatch/tendermatch/internal/ingest"
	"github.com/tendermatch/tendermatch/internal/llm"
	"github.com/tendermatch/tendermatch/internal/match"
	"github.com/tendermatch/tendermatch/internal/mesh"
	"github.com/tendermatch/tendermatch/internal/radar"
	"github.com/tendermatch/tendermatch/internal/storage"
	"github.com/tendermatch/tendermatch/internal/telemetry"
	"github.com/tendermatch/tendermatch/internal/ukcat"
	"github.com/tendermatch/tendermatch/migrations"
)

const version = "0.3.0"

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	shutdown telemetry.Shutdown
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tendermatch:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tendermatch",
		Short:         "Match UK procurement notices against charity service profiles",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown(cmd.Context())
		},
	}

	root.AddCommand(
		newInitCmd(a),
		newIngestCmd(a),
		newBackfillCmd(a),
		newEnrichCmd(a),
		newRecalculateCmd(a),
		newReviewCmd(a),
		newRenewalsCmd(a),
		newFeedCmd(a),
		newAlertsCmd(a),
		newTrackCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	db, err := storage.New(ctx, cfg.DatabaseURL, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.db != nil {
		a.db.Close()
	}
	if a.shutdown != nil {
		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.shutdown(shCtx); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

func (a *app) embedder() embedding.Provider {
	if a.cfg.OpenAIAPIKey == "" {
		a.logger.Warn("OPENAI_API_KEY not set, embeddings disabled")
		return embedding.NewNoopProvider()
	}
	return embedding.NewOpenAIProvider(a.cfg.OpenAIAPIKey, a.cfg.EmbeddingModel, a.cfg.HTTPTimeout, a.cfg.HTTPRetries)
}

func (a *app) enricher() (*ingest.Enricher, error) {
	tagger, err := ukcat.New(a.logger)
	if err != nil {
		return nil, err
	}
	return ingest.NewEnricher(a.db, a.embedder(), tagger, a.logger), nil
}

func (a *app) worker() (*ingest.Worker, error) {
	enricher, err := a.enricher()
	if err != nil {
		return nil, err
	}
	client := ingest.NewClient(a.cfg.OCDSBaseURL, a.cfg.HTTPTimeout, a.cfg.HTTPRetries, a.logger)
	gate := mesh.New(a.db, a.logger)
	alertSvc := alerts.New(a.db, a.logger)
	return ingest.NewWorker(a.db, client, gate, enricher, alertSvc,
		a.cfg.ValueChangeThreshold, a.cfg.OCDSEpoch, a.logger), nil
}

func (a *app) engine() *match.Engine {
	r := radar.New(a.db, a.logger)
	return match.NewEngine(a.db, r, a.cfg.RecalcWorkers, a.logger)
}

func parseOrgFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, err := cmd.Flags().GetString("org")
	if err != nil {
		return uuid.Nil, err
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--org is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --org %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.db.RunMigrations(cmd.Context(), migrations.FS)
		},
	}
}

func newIngestCmd(a *app) *cobra.Command {
	var days, limit int
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one incremental ingestion cycle from the tender feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.worker()
			if err != nil {
				return err
			}
			return w.Run(cmd.Context(), days, limit)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "override the watermark with a fixed lookback window in days")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of releases pulled (0 = no cap)")
	return cmd
}

func newBackfillCmd(a *app) *cobra.Command {
	var keyword, fromStr, toStr string
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest historical releases matching a keyword for the renewal radar",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse("2006-01-02", fromStr)
			if err != nil {
				return fmt.Errorf("invalid --from %q: %w", fromStr, err)
			}
			to, err := time.Parse("2006-01-02", toStr)
			if err != nil {
				return fmt.Errorf("invalid --to %q: %w", toStr, err)
			}
			w, err := a.worker()
			if err != nil {
				return err
			}
			return w.Backfill(cmd.Context(), keyword, from, to, limit)
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword")
	cmd.Flags().StringVar(&fromStr, "from", "", "published-from date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "published-to date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of releases pulled (0 = no cap)")
	_ = cmd.MarkFlagRequired("keyword")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newEnrichCmd(a *app) *cobra.Command {
	var limit int
	var force bool
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Sweep notices still missing embeddings or activity tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			enricher, err := a.enricher()
			if err != nil {
				return err
			}
			n, err := enricher.EnrichBatch(cmd.Context(), limit, force)
			if err != nil {
				return err
			}
			fmt.Printf("enriched %d notices\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum notices to enrich")
	cmd.Flags().BoolVar(&force, "force", false, "recompute even when derived fields exist")
	return cmd
}

func newRecalculateCmd(a *app) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Rerun the filter funnel for one org or all orgs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := a.engine()
			if org != "" {
				orgID, err := uuid.Parse(org)
				if err != nil {
					return fmt.Errorf("invalid --org %q: %w", org, err)
				}
				return e.RecalculateProfile(cmd.Context(), orgID)
			}
			done, err := e.RecalculateAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("recalculated %d profiles\n", done)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "limit to one org id")
	return cmd
}

func newReviewCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Send an org's top funnel matches to the LLM for deep review",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgFlag(cmd)
			if err != nil {
				return err
			}
			apiKey := a.cfg.LLMAPIKey
			if apiKey == "" {
				apiKey = a.cfg.OpenAIAPIKey
			}
			if apiKey == "" {
				return fmt.Errorf("deep review needs TENDERMATCH_LLM_API_KEY or OPENAI_API_KEY")
			}
			client := llm.New(apiKey, a.cfg.LLMBaseURL, a.cfg.LLMModel, a.cfg.HTTPTimeout, a.cfg.HTTPRetries)
			if top <= 0 {
				top = a.cfg.ReviewTopK
			}
			r := match.NewReviewer(a.db, client, top, a.logger)
			n, err := r.ReviewProfile(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			fmt.Printf("reviewed %d matches\n", n)
			return nil
		},
	}
	cmd.Flags().String("org", "", "org id to review")
	cmd.Flags().IntVar(&top, "top", 0, "number of matches to review (defaults to config)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newRenewalsCmd(a *app) *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "renewals",
		Short: "Raise alerts for contracts expiring soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := alerts.New(a.db, a.logger)
			n, err := svc.ScanRenewals(cmd.Context(), months)
			if err != nil {
				return err
			}
			fmt.Printf("raised %d renewal alerts\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&months, "months", 12, "look-ahead window in months")
	return cmd
}

func newFeedCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print an org's match feed, tracked notices first",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgFlag(cmd)
			if err != nil {
				return err
			}
			items, err := a.db.Feed(cmd.Context(), orgID, limit)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	cmd.Flags().String("org", "", "org id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum feed rows")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newAlertsCmd(a *app) *cobra.Command {
	var markRead string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List an org's unread alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if markRead != "" {
				id, err := uuid.Parse(markRead)
				if err != nil {
					return fmt.Errorf("invalid --read %q: %w", markRead, err)
				}
				return a.db.MarkAlertRead(cmd.Context(), id)
			}
			orgID, err := parseOrgFlag(cmd)
			if err != nil {
				return err
			}
			list, err := a.db.UnreadAlerts(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
	cmd.Flags().String("org", "", "org id")
	cmd.Flags().StringVar(&markRead, "read", "", "mark the given alert id as read instead of listing")
	return cmd
}

func newTrackCmd(a *app) *cobra.Command {
	var ocid string
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Toggle tracking of a notice for an org",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgFlag(cmd)
			if err != nil {
				return err
			}
			tracked, err := a.db.ToggleTracking(cmd.Context(), orgID, ocid)
			if err != nil {
				return err
			}
			if tracked {
				fmt.Printf("now tracking %s\n", ocid)
			} else {
				fmt.Printf("stopped tracking %s\n", ocid)
			}
			return nil
		},
	}
	cmd.Flags().String("org", "", "org id")
	cmd.Flags().StringVar(&ocid, "ocid", "", "notice OCID")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("ocid")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an org's full match feed to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseOrgFlag(cmd)
			if err != nil {
				return err
			}
			items, err := a.db.Feed(cmd.Context(), orgID, limit)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %d matches to %s\n", len(items), out)
			return nil
		},
	}
	cmd.Flags().String("org", "", "org id")
	cmd.Flags().StringVar(&out, "out", "matches.json", "output path")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum matches to export")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
