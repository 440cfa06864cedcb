package ingest

import (
	"math"

	"github.com/tendermatch/tendermatch/internal/model"
)

// Change records one material difference between a stored notice and its
// incoming revision.
type Change struct {
	Old     any      `json:"old"`
	New     any      `json:"new"`
	DiffPct *float64 `json:"diff_pct,omitempty"`
}

// Diff compares the stored notice against the incoming revision and returns
// the material changes keyed by field. Three fields count as material: the
// deadline (any difference when both sides carry one), the value (relative
// move above the threshold), and the notice type. Comparison happens before
// the upsert so the old state is still observable.
func Diff(old, incoming *model.Notice, valueThreshold float64) map[string]Change {
	changes := make(map[string]Change)

	if old.DeadlineDate != nil && incoming.DeadlineDate != nil && !old.DeadlineDate.Equal(*incoming.DeadlineDate) {
		changes["deadline_date"] = Change{Old: old.DeadlineDate, New: incoming.DeadlineDate}
	}

	if old.ValueAmount != nil && incoming.ValueAmount != nil && *old.ValueAmount != 0 {
		rel := math.Abs(*incoming.ValueAmount-*old.ValueAmount) / math.Abs(*old.ValueAmount)
		if rel > valueThreshold {
			pct := math.Round(rel*100*100) / 100
			changes["value_amount"] = Change{Old: *old.ValueAmount, New: *incoming.ValueAmount, DiffPct: &pct}
		}
	}

	if old.NoticeType != incoming.NoticeType {
		changes["notice_type"] = Change{Old: old.NoticeType, New: incoming.NoticeType}
	}

	return changes
}
