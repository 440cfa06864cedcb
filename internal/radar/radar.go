// Package radar mines a buyer's historical awards to estimate incumbency
// and procurement cycles for a live notice.
package radar

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendermatch/tendermatch/internal/mesh"
	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/ocds"
)

const historyLimit = 10

// Store is the slice of the storage layer the radar needs.
type Store interface {
	ListHistoricalByBuyer(ctx context.Context, buyerID uuid.UUID, cpvPrefixes []string, limit int) ([]*model.Notice, error)
}

// Result summarises a buyer's award history relevant to one notice.
type Result struct {
	BuyerSeenBefore         bool       `json:"buyer_seen_before"`
	HistoricalContractCount int        `json:"historical_contract_count"`
	Incumbent               *string    `json:"incumbent,omitempty"`
	LastAwardedDate         *time.Time `json:"last_awarded_date,omitempty"`
	EstimatedCycleYears     int        `json:"estimated_cycle_years,omitempty"`
	UniqueSuppliers         []string   `json:"unique_suppliers,omitempty"`
	Summary                 string     `json:"radar_summary,omitempty"`
}

// Flags renders the result as the risk_flags payload stored on a match.
func (r *Result) Flags() map[string]any {
	out := map[string]any{
		"buyer_seen_before":         r.BuyerSeenBefore,
		"historical_contract_count": r.HistoricalContractCount,
	}
	if r.Incumbent != nil {
		out["incumbent"] = *r.Incumbent
	}
	if r.LastAwardedDate != nil {
		out["last_awarded_date"] = r.LastAwardedDate.Format("2006-01-02")
	}
	if r.EstimatedCycleYears > 0 {
		out["estimated_cycle_years"] = r.EstimatedCycleYears
	}
	if len(r.UniqueSuppliers) > 0 {
		out["unique_suppliers"] = r.UniqueSuppliers
	}
	if r.Summary != "" {
		out["radar_summary"] = r.Summary
	}
	return out
}

// Radar looks up historical context for live notices.
type Radar struct {
	store  Store
	logger *slog.Logger
}

// New wires a radar.
func New(store Store, logger *slog.Logger) *Radar {
	return &Radar{store: store, logger: logger}
}

// Enrich builds the radar result for a notice. It is advisory and never
// fails a match: lookup errors are logged and reported as no history.
func (r *Radar) Enrich(ctx context.Context, n *model.Notice) *Result {
	if n.BuyerID == nil {
		return &Result{}
	}

	prefixes := cpvPrefixes(n.CPVCodes)
	history, err := r.store.ListHistoricalByBuyer(ctx, *n.BuyerID, prefixes, historyLimit)
	if err != nil {
		r.logger.Warn("radar lookup failed", "ocid", n.OCID, "error", err)
		return &Result{}
	}
	if len(history) == 0 {
		return &Result{}
	}

	res := &Result{
		BuyerSeenBefore:         true,
		HistoricalContractCount: len(history),
	}

	// History is newest-first. The most recent award's first supplier is
	// the presumed incumbent.
	latest := history[0]
	d := latest.PublicationDate
	res.LastAwardedDate = &d

	var suppliers []string
	seen := make(map[string]struct{})
	for _, h := range history {
		for _, s := range ocds.AwardSuppliers(h.RawJSON) {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			suppliers = append(suppliers, s)
		}
	}
	if len(suppliers) > 0 {
		inc := suppliers[0]
		res.Incumbent = &inc
	}
	if len(suppliers) > 5 {
		suppliers = suppliers[:5]
	}
	res.UniqueSuppliers = suppliers

	res.EstimatedCycleYears = estimateCycle(time.Now().UTC(), latest.PublicationDate)
	res.Summary = summarise(res)
	return res
}

func cpvPrefixes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	var out []string
	for _, c := range codes {
		p := mesh.Prefix(c)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// estimateCycle guesses the buyer's re-procurement cadence from the years
// elapsed since the most recent award, snapped to a common cycle length.
// An elapsed time near no common cycle defaults to 3 years.
func estimateCycle(now, lastAward time.Time) int {
	years := now.Sub(lastAward).Hours() / (24 * 365.25)
	years = math.Round(years*10) / 10
	for _, cycle := range []int{1, 2, 3, 5} {
		if math.Abs(years-float64(cycle)) < 0.75 {
			return cycle
		}
	}
	return 3
}

func summarise(r *Result) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Buyer has awarded %d similar contract(s) before.", r.HistoricalContractCount))
	if r.Incumbent != nil && r.LastAwardedDate != nil {
		lines = append(lines, fmt.Sprintf("Most recent award went to %s on %s.",
			*r.Incumbent, r.LastAwardedDate.Format("2006-01-02")))
	}
	if len(r.UniqueSuppliers) > 1 {
		others := r.UniqueSuppliers[1:]
		if len(others) > 3 {
			others = others[:3]
		}
		lines = append(lines, "Other competitors seen: "+strings.Join(others, ", ")+".")
	}
	if r.EstimatedCycleYears > 0 {
		lines = append(lines, fmt.Sprintf("Estimated procurement cycle: ~%d years.", r.EstimatedCycleYears))
	}
	return strings.Join(lines, " ")
}
