// Package alerts turns material notice changes and upcoming contract
// expiries into per-org alert rows.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tendermatch/tendermatch/internal/ingest"
	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/storage"
)

// Store is the slice of the storage layer the alert service needs.
type Store interface {
	MatchesForNotice(ctx context.Context, ocid string) ([]*model.NoticeMatch, error)
	ApplyChangeAlerts(ctx context.Context, alerts []*model.Alert, revisions []storage.MatchRevision) error
	ListExpiringContracts(ctx context.Context, from, to time.Time) ([]*model.Notice, error)
	ListProfiles(ctx context.Context) ([]*model.ServiceProfile, error)
	HasAlert(ctx context.Context, orgID uuid.UUID, noticeID string, typ model.AlertType) (bool, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
}

// Service fans material changes out to every org holding a match on the
// changed notice.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New wires an alert service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Process handles one notice's material changes. Every org with a match row
// gets one alert per changed field and the change messages appended to its
// reason trail; a material value change additionally demotes a GO verdict
// to REVIEW since the economics were re-cut. All writes for the notice land
// in one transaction.
func (s *Service) Process(ctx context.Context, n *model.Notice, changes map[string]ingest.Change) error {
	if len(changes) == 0 {
		return nil
	}

	matches, err := s.store.MatchesForNotice(ctx, n.OCID)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	var out []*model.Alert
	var revisions []storage.MatchRevision

	for _, m := range matches {
		verdict := m.Verdict
		reasons := m.RecommendationReasons

		for field, ch := range changes {
			msg := changeMessage(field, ch)
			out = append(out, &model.Alert{
				OrgID:    m.OrgID,
				NoticeID: n.OCID,
				Type:     model.AlertMaterialChange,
				Severity: model.SeverityWarning,
				Message:  msg,
				Details: map[string]any{
					"field":    field,
					"old":      ch.Old,
					"new":      ch.New,
					"diff_pct": ch.DiffPct,
				},
			})

			reasons = append(reasons, msg)
			if field == "value_amount" && verdict == model.VerdictGo {
				verdict = model.VerdictReview
			}
		}

		revisions = append(revisions, storage.MatchRevision{
			OrgID:                 m.OrgID,
			NoticeID:              n.OCID,
			Verdict:               verdict,
			RecommendationReasons: reasons,
		})
	}

	if err := s.store.ApplyChangeAlerts(ctx, out, revisions); err != nil {
		return err
	}
	s.logger.Info("material change alerts raised",
		"ocid", n.OCID, "alerts", len(out), "matches", len(revisions))
	return nil
}

func changeMessage(field string, ch ingest.Change) string {
	switch field {
	case "deadline_date":
		return fmt.Sprintf("ALERT: Deadline changed from %s to %s.",
			formatDeadline(ch.Old), formatDeadline(ch.New))
	case "value_amount":
		pct := 0.0
		if ch.DiffPct != nil {
			pct = *ch.DiffPct
		}
		newVal, _ := ch.New.(float64)
		return fmt.Sprintf("ALERT: Value changed by %.2f%% (Now £%.0f).", pct, newVal)
	case "notice_type":
		return fmt.Sprintf("ALERT: Notice type changed to %v.", ch.New)
	default:
		return fmt.Sprintf("ALERT: %s changed.", field)
	}
}

func formatDeadline(v any) string {
	t, ok := v.(*time.Time)
	if !ok || t == nil {
		return "none"
	}
	return t.Format("2006-01-02")
}
