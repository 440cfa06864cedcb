package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermatch/tendermatch/internal/model"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrF(f float64) *float64        { return &f }

func TestDiffDeadlineChange(t *testing.T) {
	old := &model.Notice{DeadlineDate: ptrTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))}
	incoming := &model.Notice{DeadlineDate: ptrTime(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))}

	changes := Diff(old, incoming, 0.10)
	require.Contains(t, changes, "deadline_date")
}

func TestDiffDeadlineNilSideIgnored(t *testing.T) {
	incoming := &model.Notice{DeadlineDate: ptrTime(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))}
	changes := Diff(&model.Notice{}, incoming, 0.10)
	assert.NotContains(t, changes, "deadline_date", "a deadline appearing for the first time is not a change")

	changes = Diff(incoming, &model.Notice{}, 0.10)
	assert.NotContains(t, changes, "deadline_date")
}

func TestDiffValueAboveThreshold(t *testing.T) {
	old := &model.Notice{ValueAmount: ptrF(100_000)}
	incoming := &model.Notice{ValueAmount: ptrF(125_000)}

	changes := Diff(old, incoming, 0.10)
	require.Contains(t, changes, "value_amount")
	require.NotNil(t, changes["value_amount"].DiffPct)
	assert.InDelta(t, 25.0, *changes["value_amount"].DiffPct, 0.001)
}

func TestDiffValueBelowThresholdIgnored(t *testing.T) {
	old := &model.Notice{ValueAmount: ptrF(100_000)}
	incoming := &model.Notice{ValueAmount: ptrF(105_000)}

	changes := Diff(old, incoming, 0.10)
	assert.NotContains(t, changes, "value_amount")
}

func TestDiffValueMissingSidesIgnored(t *testing.T) {
	changes := Diff(&model.Notice{}, &model.Notice{ValueAmount: ptrF(50_000)}, 0.10)
	assert.NotContains(t, changes, "value_amount")

	changes = Diff(&model.Notice{ValueAmount: ptrF(0)}, &model.Notice{ValueAmount: ptrF(50_000)}, 0.10)
	assert.NotContains(t, changes, "value_amount")
}

func TestDiffNoticeTypeChange(t *testing.T) {
	old := &model.Notice{NoticeType: model.NoticeTypeTender}
	incoming := &model.Notice{NoticeType: model.NoticeTypeAward}

	changes := Diff(old, incoming, 0.10)
	require.Contains(t, changes, "notice_type")
	assert.Equal(t, model.NoticeTypeTender, changes["notice_type"].Old)
	assert.Equal(t, model.NoticeTypeAward, changes["notice_type"].New)
}

func TestDiffNoChanges(t *testing.T) {
	d := ptrTime(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	old := &model.Notice{DeadlineDate: d, ValueAmount: ptrF(1000), NoticeType: model.NoticeTypeTender}
	incoming := &model.Notice{DeadlineDate: ptrTime(d.UTC()), ValueAmount: ptrF(1000), NoticeType: model.NoticeTypeTender}

	assert.Empty(t, Diff(old, incoming, 0.10))
}
