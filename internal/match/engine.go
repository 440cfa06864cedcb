// Package match implements the two-tier matching pipeline: the Tier-1
// filter funnel that scores every live service notice against every
// profile, and the Tier-2 reviewer that sends the funnel's best candidates
// to an LLM for a sticky PASS/FAIL verdict.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/tendermatch/tendermatch/internal/mesh"
	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/ocds"
	"github.com/tendermatch/tendermatch/internal/radar"
)

// Score weights and the GO threshold. Semantic similarity dominates, theme
// overlap and CPV alignment follow, geography tips the balance.
const (
	weightSemantic = 0.40
	weightTheme    = 0.30
	weightDomain   = 0.20
	weightGeo      = 0.10
	goThreshold    = 0.65

	// A charity can plausibly absorb a contract worth up to this fraction
	// of its annual income.
	capacityRatio = 0.4
)

// EngineStore is the slice of the storage layer the funnel needs.
type EngineStore interface {
	ListServiceCandidates(ctx context.Context) ([]*model.Notice, error)
	ListProfiles(ctx context.Context) ([]*model.ServiceProfile, error)
	GetProfile(ctx context.Context, orgID uuid.UUID) (*model.ServiceProfile, error)
	MatchesForOrg(ctx context.Context, orgID uuid.UUID) (map[string]*model.NoticeMatch, error)
	ApplyMatchSet(ctx context.Context, orgID uuid.UUID, matches []*model.NoticeMatch) error
}

// Engine runs the Tier-1 filter funnel.
type Engine struct {
	store   EngineStore
	radar   *radar.Radar
	workers int
	logger  *slog.Logger
}

// NewEngine wires a funnel engine. workers bounds profile-level
// parallelism during full recalculations.
func NewEngine(store EngineStore, r *radar.Radar, workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{store: store, radar: r, workers: workers, logger: logger}
}

// RecalculateAll reruns the funnel for every profile. Profiles are
// isolated: one profile's failure is logged and skipped, the rest still
// commit. Returns the number of profiles recalculated successfully.
func (e *Engine) RecalculateAll(ctx context.Context) (int, error) {
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return 0, err
	}
	notices, err := e.store.ListServiceCandidates(ctx)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	results := make([]bool, len(profiles))

	for i, p := range profiles {
		g.Go(func() error {
			if err := e.recalculate(ctx, p, notices); err != nil {
				e.logger.Error("profile recalculation failed", "org_id", p.OrgID, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	done := 0
	for _, ok := range results {
		if ok {
			done++
		}
	}
	e.logger.Info("recalculation complete", "profiles", len(profiles), "succeeded", done, "candidates", len(notices))
	return done, nil
}

// RecalculateProfile reruns the funnel for a single profile.
func (e *Engine) RecalculateProfile(ctx context.Context, orgID uuid.UUID) error {
	profile, err := e.store.GetProfile(ctx, orgID)
	if err != nil {
		return err
	}
	notices, err := e.store.ListServiceCandidates(ctx)
	if err != nil {
		return err
	}
	return e.recalculate(ctx, profile, notices)
}

func (e *Engine) recalculate(ctx context.Context, profile *model.ServiceProfile, notices []*model.Notice) error {
	existing, err := e.store.MatchesForOrg(ctx, profile.OrgID)
	if err != nil {
		return err
	}

	var computed []*model.NoticeMatch
	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, ok := e.Evaluate(ctx, profile, n)
		if !ok {
			continue
		}
		// A stored deep verdict is sticky and overrides the funnel verdict.
		if prev, seen := existing[n.OCID]; seen && prev.DeepVerdict != nil {
			switch *prev.DeepVerdict {
			case model.DeepPass:
				m.Verdict = model.VerdictGo
				m.RecommendationReasons = append(m.RecommendationReasons, "Verdict forced to GO by the deep review PASS.")
			case model.DeepFail:
				m.Verdict = model.VerdictNoGo
				m.RecommendationReasons = append(m.RecommendationReasons, "Verdict forced to NO-GO by the deep review FAIL.")
			}
		}
		computed = append(computed, m)
	}

	return e.store.ApplyMatchSet(ctx, profile.OrgID, computed)
}

// Evaluate runs one (profile, notice) pair through the funnel's gates and
// soft scoring. The boolean is false when a hard gate rejected the pair.
func (e *Engine) Evaluate(ctx context.Context, profile *model.ServiceProfile, n *model.Notice) (*model.NoticeMatch, bool) {
	tender := ocds.Object(n.RawJSON).Tender()

	// VCSE/SME gate. A tender that declares suitability but welcomes
	// neither sector is out of reach regardless of fit.
	isVCSE := ocds.SuitableFor(tender, "vcse")
	isSME := ocds.SuitableFor(tender, "sme")
	if ocds.SuitabilityDeclared(tender) && !isVCSE && !isSME {
		return nil, false
	}

	viability, ok := e.valueGate(profile, n, tender)
	if !ok {
		return nil, false
	}

	scoreGeo, ok := e.geoGate(profile, n)
	if !ok {
		return nil, false
	}

	scoreDomain, ok := e.cpvGate(profile, n)
	if !ok {
		return nil, false
	}

	text := strings.ToLower(n.Title + " " + n.Description)
	for _, kw := range profile.ExclusionKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return nil, false
		}
	}

	scoreSemantic := semanticScore(profile.ProfileEmbedding, n.ScoringEmbedding())
	scoreTheme := themeScore(profile.UKCATCodes, n.InferredUKCATCodes)

	total := weightSemantic*scoreSemantic + weightTheme*scoreTheme +
		weightDomain*scoreDomain + weightGeo*scoreGeo

	verdict := model.VerdictReview
	if total > goThreshold {
		verdict = model.VerdictGo
	}

	riskFlags := map[string]any{
		"is_vcse": isVCSE,
		"is_sme":  isSME,
	}
	var checklist []model.ChecklistItem

	reasons := []string{suitabilityReason(isVCSE, isSME)}

	if strings.Contains(text, "tupe") {
		riskFlags["TUPE"] = "Staff transfer (TUPE) detected."
		checklist = append(checklist, model.ChecklistItem{Item: "TUPE transfer assessment", Status: "required"})
		reasons = append(reasons, "TUPE obligations likely apply; staff transfer costs need assessment.")
		// Staff transfer risk always warrants a human look.
		if verdict == model.VerdictGo {
			verdict = model.VerdictReview
		}
	}
	if strings.Contains(text, "safeguarding") {
		riskFlags["Safeguarding"] = "Review safeguarding requirements."
		checklist = append(checklist, model.ChecklistItem{Item: "Safeguarding policy and DBS coverage", Status: "required"})
	}

	if scoreSemantic > 0.75 {
		reasons = append(reasons, "Strong semantic similarity to your service profile.")
	}
	if scoreTheme > 0.5 {
		reasons = append(reasons, "Activity themes overlap with your charitable objects.")
	}
	if scoreDomain == 1.0 {
		reasons = append(reasons, "CPV sector matches your inferred procurement codes.")
	}
	if scoreGeo == 1.0 {
		reasons = append(reasons, "Delivery region overlaps your service area.")
	}
	if viability != nil {
		reasons = append(reasons, *viability)
	}

	radarResult := e.radar.Enrich(ctx, n)
	if radarResult.BuyerSeenBefore {
		riskFlags["renewal_radar"] = radarResult.Flags()
		reasons = append(reasons, "Buyer has prior awards in this sector; renewal intelligence attached.")
	}

	return &model.NoticeMatch{
		OrgID:                 profile.OrgID,
		NoticeID:              n.OCID,
		Score:                 total,
		ScoreSemantic:         scoreSemantic,
		ScoreDomain:           scoreDomain,
		ScoreGeo:              scoreGeo,
		ScoreTheme:            scoreTheme,
		Verdict:               verdict,
		ViabilityWarning:      viability,
		RiskFlags:             riskFlags,
		Checklist:             checklist,
		RecommendationReasons: reasons,
	}, true
}

func suitabilityReason(isVCSE, isSME bool) string {
	switch {
	case isVCSE:
		return "Explicitly marked for VCSE suitability."
	case isSME:
		return "Marked for SME suitability."
	default:
		return "Generic suitability (no specific SME/VCSE flags)."
	}
}

// valueGate rejects notices the charity cannot plausibly absorb: the total
// value exceeds the capacity fraction of income and no individual lot fits
// either. A fitting lot converts rejection into a viability warning.
func (e *Engine) valueGate(profile *model.ServiceProfile, n *model.Notice, tender ocds.Object) (*string, bool) {
	if profile.LatestIncome <= 0 || n.ValueAmount == nil {
		return nil, true
	}
	capacity := capacityRatio * float64(profile.LatestIncome)
	if *n.ValueAmount <= capacity {
		return nil, true
	}

	for _, lot := range tender.Lots() {
		if v := ocds.LotValue(lot); v > 0 && v <= capacity {
			w := fmt.Sprintf("Total value £%.0f exceeds delivery capacity; bid for individual lots.", *n.ValueAmount)
			return &w, true
		}
	}
	return nil, false
}

// geoGate scores geographic fit. National charities pass everything;
// local ones need region overlap or a notice silent on delivery regions.
func (e *Engine) geoGate(profile *model.ServiceProfile, n *model.Notice) (float64, bool) {
	noticeRegions := ocds.NoticeRegions(n.RawJSON)

	if profile.IsNational() {
		if len(noticeRegions) == 0 || regionsOverlap(profile.Regions(), noticeRegions) {
			return 1.0, true
		}
		return 0.25, true
	}

	if regionsOverlap(profile.Regions(), noticeRegions) {
		return 1.0, true
	}
	if len(noticeRegions) == 0 {
		return 0.5, true
	}
	return 0, false
}

// cpvGate requires sector overlap when both sides declare CPV codes.
// Either side silent yields a neutral domain score.
func (e *Engine) cpvGate(profile *model.ServiceProfile, n *model.Notice) (float64, bool) {
	if len(n.CPVCodes) == 0 || len(profile.InferredCPVCodes) == 0 {
		return 0.5, true
	}

	profilePrefixes := make(map[string]struct{}, len(profile.InferredCPVCodes))
	for _, c := range profile.InferredCPVCodes {
		profilePrefixes[mesh.Prefix(c)] = struct{}{}
	}
	for _, c := range n.CPVCodes {
		if _, ok := profilePrefixes[mesh.Prefix(c)]; ok {
			return 1.0, true
		}
	}
	return 0, false
}

func regionsOverlap(profileRegions, noticeRegions []string) bool {
	if len(profileRegions) == 0 || len(noticeRegions) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(profileRegions))
	for _, r := range profileRegions {
		set[strings.ToLower(r)] = struct{}{}
	}
	for _, r := range noticeRegions {
		if _, ok := set[strings.ToLower(r)]; ok {
			return true
		}
	}
	return false
}

// semanticScore is the clamped cosine similarity between the profile and
// notice embeddings, zero when either side is missing.
func semanticScore(a, b *pgvector.Vector) float64 {
	if a == nil || b == nil {
		return 0
	}
	av, bv := a.Slice(), b.Slice()
	if len(av) == 0 || len(bv) == 0 || len(av) != len(bv) {
		return 0
	}

	var dot, normA, normB float64
	for i := range av {
		dot += float64(av[i]) * float64(bv[i])
		normA += float64(av[i]) * float64(av[i])
		normB += float64(bv[i]) * float64(bv[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return math.Max(0, dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}
