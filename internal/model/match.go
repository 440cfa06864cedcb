package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the Tier-1 funnel outcome for a (profile, notice) pair.
type Verdict string

const (
	VerdictGo     Verdict = "GO"
	VerdictReview Verdict = "REVIEW"
	VerdictNoGo   Verdict = "NO-GO"
)

// DeepVerdict is the Tier-2 LLM outcome. Once written it is sticky:
// funnel re-runs never clear or overwrite it.
type DeepVerdict string

const (
	DeepPass DeepVerdict = "PASS"
	DeepFail DeepVerdict = "FAIL"
)

// ChecklistItem is one bid-readiness line on a match.
type ChecklistItem struct {
	Item   string `json:"item"`
	Status string `json:"status"`
}

// NoticeMatch is the engine's output for one (profile, notice) pair.
// Mechanical fields (scores, verdict, flags, reasons) are rewritten on
// every recalculation; DeepVerdict and DeepRationale are curated knowledge
// and survive reruns. Rows without a deep verdict are deleted when the
// notice stops passing the gates; rows with one are preserved.
type NoticeMatch struct {
	OrgID    uuid.UUID `json:"org_id"`
	NoticeID string    `json:"notice_id"`

	Score         float64 `json:"score"`
	ScoreSemantic float64 `json:"score_semantic"`
	ScoreDomain   float64 `json:"score_domain"`
	ScoreGeo      float64 `json:"score_geo"`
	ScoreTheme    float64 `json:"score_theme"`

	Verdict          Verdict `json:"verdict"`
	ViabilityWarning *string `json:"viability_warning,omitempty"`

	RiskFlags             map[string]any  `json:"risk_flags,omitempty"`
	Checklist             []ChecklistItem `json:"checklist,omitempty"`
	RecommendationReasons []string        `json:"recommendation_reasons,omitempty"`

	IsTracked bool `json:"is_tracked"`

	DeepVerdict   *DeepVerdict `json:"deep_verdict,omitempty"`
	DeepRationale *string      `json:"deep_rationale,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AlertType enumerates alert categories.
type AlertType string

const (
	AlertNewMatch       AlertType = "NEW_MATCH"
	AlertMaterialChange AlertType = "MATERIAL_CHANGE"
	AlertRenewal        AlertType = "RENEWAL"
)

// AlertSeverity enumerates alert severities.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a structured notification tied to an org and a notice.
type Alert struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     uuid.UUID      `json:"org_id"`
	NoticeID  string         `json:"notice_id"`
	Type      AlertType      `json:"alert_type"`
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}
