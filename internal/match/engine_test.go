package match

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermatch/tendermatch/internal/model"
	"github.com/tendermatch/tendermatch/internal/radar"
)

type stubEngineStore struct {
	profiles []*model.ServiceProfile
	notices  []*model.Notice
	existing map[uuid.UUID]map[string]*model.NoticeMatch

	applied     map[uuid.UUID][]*model.NoticeMatch
	applyErrFor uuid.UUID
}

func newStubEngineStore() *stubEngineStore {
	return &stubEngineStore{
		existing: make(map[uuid.UUID]map[string]*model.NoticeMatch),
		applied:  make(map[uuid.UUID][]*model.NoticeMatch),
	}
}

func (s *stubEngineStore) ListServiceCandidates(ctx context.Context) ([]*model.Notice, error) {
	return s.notices, nil
}

func (s *stubEngineStore) ListProfiles(ctx context.Context) ([]*model.ServiceProfile, error) {
	return s.profiles, nil
}

func (s *stubEngineStore) GetProfile(ctx context.Context, orgID uuid.UUID) (*model.ServiceProfile, error) {
	for _, p := range s.profiles {
		if p.OrgID == orgID {
			return p, nil
		}
	}
	return nil, errors.New("no such profile")
}

func (s *stubEngineStore) MatchesForOrg(ctx context.Context, orgID uuid.UUID) (map[string]*model.NoticeMatch, error) {
	if m, ok := s.existing[orgID]; ok {
		return m, nil
	}
	return map[string]*model.NoticeMatch{}, nil
}

func (s *stubEngineStore) ApplyMatchSet(ctx context.Context, orgID uuid.UUID, matches []*model.NoticeMatch) error {
	if orgID == s.applyErrFor {
		return errors.New("tx failed")
	}
	s.applied[orgID] = matches
	return nil
}

type emptyHistory struct{}

func (emptyHistory) ListHistoricalByBuyer(ctx context.Context, buyerID uuid.UUID, cpvPrefixes []string, limit int) ([]*model.Notice, error) {
	return nil, nil
}

func newTestEngine(store *stubEngineStore) *Engine {
	logger := slog.New(slog.DiscardHandler)
	return NewEngine(store, radar.New(emptyHistory{}, logger), 2, logger)
}

func vec(vals ...float32) *pgvector.Vector {
	v := pgvector.NewVector(vals)
	return &v
}

func testProfile() *model.ServiceProfile {
	return &model.ServiceProfile{
		OrgID:            uuid.New(),
		Name:             "Harbour Trust",
		LatestIncome:     1_000_000,
		UKCATCodes:       []string{"Accommodation/housing"},
		InferredCPVCodes: []string{"85311000"},
		ServiceRegions:   []string{"London"},
		ProfileEmbedding: vec(1, 0, 0),
	}
}

func serviceNotice(ocid string) *model.Notice {
	emb := pgvector.NewVector([]float32{1, 0, 0})
	return &model.Notice{
		OCID:               ocid,
		Title:              "Supported housing service",
		Description:        "Accommodation support for vulnerable adults",
		NoticeType:         model.NoticeTypeTender,
		CPVCodes:           []string{"85311100"},
		InferredUKCATCodes: []string{"HO101"},
		Embedding:          &emb,
		RawJSON: map[string]any{
			"tender": map[string]any{
				"mainProcurementCategory": "services",
				"items": []any{
					map[string]any{
						"deliveryAddresses": []any{map[string]any{"region": "London"}},
					},
				},
			},
		},
	}
}

func setNoticeValue(n *model.Notice, amount float64) {
	n.ValueAmount = &amount
}

func TestEvaluatePerfectFitIsGo(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	m, ok := e.Evaluate(t.Context(), testProfile(), serviceNotice("ocds-1"))

	require.True(t, ok)
	assert.InDelta(t, 1.0, m.Score, 0.001)
	assert.Equal(t, model.VerdictGo, m.Verdict)
	assert.InDelta(t, 1.0, m.ScoreSemantic, 0.001)
	assert.Equal(t, 1.0, m.ScoreTheme)
	assert.Equal(t, 1.0, m.ScoreDomain)
	assert.Equal(t, 1.0, m.ScoreGeo)
	assert.NotEmpty(t, m.RecommendationReasons)
}

func TestEvaluateSuitabilityGate(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	n := serviceNotice("ocds-1")
	tender := n.RawJSON["tender"].(map[string]any)

	tender["suitability"] = map[string]any{"sme": false, "vcse": false}
	_, ok := e.Evaluate(t.Context(), testProfile(), n)
	assert.False(t, ok, "declared suitability welcoming neither sector must reject")

	tender["suitability"] = map[string]any{"vcse": true}
	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	assert.Equal(t, true, m.RiskFlags["is_vcse"])
	assert.Equal(t, "Explicitly marked for VCSE suitability.", m.RecommendationReasons[0])
}

func TestEvaluateGenericSuitabilityReason(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	m, ok := e.Evaluate(t.Context(), testProfile(), serviceNotice("ocds-1"))
	require.True(t, ok)
	assert.Equal(t, "Generic suitability (no specific SME/VCSE flags).", m.RecommendationReasons[0])
}

func TestEvaluateValueGate(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile() // capacity = 400k

	n := serviceNotice("ocds-1")
	setNoticeValue(n, 400_000)
	_, ok := e.Evaluate(t.Context(), p, n)
	assert.True(t, ok, "value exactly at capacity passes")

	setNoticeValue(n, 400_001)
	_, ok = e.Evaluate(t.Context(), p, n)
	assert.False(t, ok, "value above capacity with no lots rejects")
}

func TestEvaluateLotRescuesOversizedNotice(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	n := serviceNotice("ocds-1")
	setNoticeValue(n, 900_000)
	n.RawJSON["tender"].(map[string]any)["lots"] = []any{
		map[string]any{"value": map[string]any{"amount": 300_000.0}},
		map[string]any{"value": map[string]any{"amount": 600_000.0}},
	}

	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	require.NotNil(t, m.ViabilityWarning)
	assert.Contains(t, *m.ViabilityWarning, "individual lots")
}

func TestEvaluateZeroIncomeSkipsValueGate(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()
	p.LatestIncome = 0
	n := serviceNotice("ocds-1")
	setNoticeValue(n, 10_000_000)

	_, ok := e.Evaluate(t.Context(), p, n)
	assert.True(t, ok)
}

func TestEvaluateGeoGateLocalProfile(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()

	// Overlap.
	m, ok := e.Evaluate(t.Context(), p, serviceNotice("ocds-1"))
	require.True(t, ok)
	assert.Equal(t, 1.0, m.ScoreGeo)

	// Notice silent on regions.
	n := serviceNotice("ocds-2")
	n.RawJSON["tender"].(map[string]any)["items"] = []any{}
	m, ok = e.Evaluate(t.Context(), p, n)
	require.True(t, ok)
	assert.Equal(t, 0.5, m.ScoreGeo)

	// Disjoint regions reject a local charity.
	n = serviceNotice("ocds-3")
	n.RawJSON["tender"].(map[string]any)["items"] = []any{
		map[string]any{"deliveryAddresses": []any{map[string]any{"region": "Scotland"}}},
	}
	_, ok = e.Evaluate(t.Context(), p, n)
	assert.False(t, ok)
}

func TestEvaluateGeoGateNationalProfile(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()
	p.LatestIncome = 6_000_000 // above the national threshold

	n := serviceNotice("ocds-1")
	n.RawJSON["tender"].(map[string]any)["items"] = []any{
		map[string]any{"deliveryAddresses": []any{map[string]any{"region": "Scotland"}}},
	}
	m, ok := e.Evaluate(t.Context(), p, n)
	require.True(t, ok, "national charity passes disjoint regions")
	assert.Equal(t, 0.25, m.ScoreGeo)
}

func TestEvaluateCPVGate(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()

	// Disjoint sectors reject when both sides declare codes.
	n := serviceNotice("ocds-1")
	n.CPVCodes = []string{"90910000"}
	_, ok := e.Evaluate(t.Context(), p, n)
	assert.False(t, ok)

	// A silent side is neutral, not a rejection.
	n = serviceNotice("ocds-2")
	n.CPVCodes = nil
	m, ok := e.Evaluate(t.Context(), p, n)
	require.True(t, ok)
	assert.Equal(t, 0.5, m.ScoreDomain)
}

func TestEvaluateExclusionKeywords(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()
	p.ExclusionKeywords = []string{"Debt Collection"}

	n := serviceNotice("ocds-1")
	n.Description = "Housing support and debt collection services"
	_, ok := e.Evaluate(t.Context(), p, n)
	assert.False(t, ok)
}

func TestEvaluateTUPEForcesReview(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	n := serviceNotice("ocds-1")
	n.Description += " Existing staff transfer under TUPE."

	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	assert.Equal(t, model.VerdictReview, m.Verdict, "TUPE must demote GO to REVIEW")
	assert.Equal(t, "Staff transfer (TUPE) detected.", m.RiskFlags["TUPE"])
	assert.Greater(t, m.Score, goThreshold)
}

func TestEvaluateSafeguardingFlagsWithoutDemotion(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	n := serviceNotice("ocds-1")
	n.Description += " Robust safeguarding arrangements required."

	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	assert.Equal(t, model.VerdictGo, m.Verdict)
	assert.Equal(t, "Review safeguarding requirements.", m.RiskFlags["Safeguarding"])
	require.NotEmpty(t, m.Checklist)
	assert.Contains(t, m.Checklist[0].Item, "Safeguarding")
}

func TestEvaluateMissingEmbeddingScoresZero(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	p := testProfile()
	p.ProfileEmbedding = nil

	m, ok := e.Evaluate(t.Context(), p, serviceNotice("ocds-1"))
	require.True(t, ok)
	assert.Equal(t, 0.0, m.ScoreSemantic)
	// 0.3 + 0.2 + 0.1 = 0.6, below the GO threshold.
	assert.InDelta(t, 0.6, m.Score, 0.001)
	assert.Equal(t, model.VerdictReview, m.Verdict)
}

func TestEvaluatePrefersProviderSummaryEmbedding(t *testing.T) {
	e := newTestEngine(newStubEngineStore())
	n := serviceNotice("ocds-1")
	n.ProviderSummaryEmbedding = vec(0, 1, 0) // orthogonal to the profile

	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	assert.Equal(t, 0.0, m.ScoreSemantic)
}

func TestRecalculateKeepsDeepVerdictSticky(t *testing.T) {
	store := newStubEngineStore()
	p := testProfile()
	store.profiles = []*model.ServiceProfile{p}
	store.notices = []*model.Notice{serviceNotice("ocds-1"), serviceNotice("ocds-2")}

	fail := model.DeepFail
	store.existing[p.OrgID] = map[string]*model.NoticeMatch{
		"ocds-1": {OrgID: p.OrgID, NoticeID: "ocds-1", DeepVerdict: &fail},
	}

	e := newTestEngine(store)
	require.NoError(t, e.RecalculateProfile(t.Context(), p.OrgID))

	applied := store.applied[p.OrgID]
	require.Len(t, applied, 2)
	byOCID := map[string]*model.NoticeMatch{}
	for _, m := range applied {
		byOCID[m.NoticeID] = m
	}
	assert.Equal(t, model.VerdictNoGo, byOCID["ocds-1"].Verdict, "deep FAIL pins the verdict to NO-GO")
	assert.Contains(t, byOCID["ocds-1"].RecommendationReasons, "Verdict forced to NO-GO by the deep review FAIL.")
	assert.Equal(t, model.VerdictGo, byOCID["ocds-2"].Verdict)
}

type singleAwardHistory struct{}

func (singleAwardHistory) ListHistoricalByBuyer(ctx context.Context, buyerID uuid.UUID, cpvPrefixes []string, limit int) ([]*model.Notice, error) {
	return []*model.Notice{{
		OCID:            "ocds-hist",
		PublicationDate: time.Now().UTC().AddDate(-2, 0, 0),
		RawJSON: map[string]any{
			"awards": []any{map[string]any{"suppliers": []any{map[string]any{"name": "Acme Care Ltd"}}}},
		},
	}}, nil
}

func TestEvaluateRadarAppendsRecommendationReason(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	e := NewEngine(newStubEngineStore(), radar.New(singleAwardHistory{}, logger), 2, logger)

	n := serviceNotice("ocds-1")
	buyerID := uuid.New()
	n.BuyerID = &buyerID

	m, ok := e.Evaluate(t.Context(), testProfile(), n)
	require.True(t, ok)
	assert.Contains(t, m.RiskFlags, "renewal_radar")
	assert.Contains(t, m.RecommendationReasons, "Buyer has prior awards in this sector; renewal intelligence attached.")
}

func TestRecalculateAllIsolatesProfileFailures(t *testing.T) {
	store := newStubEngineStore()
	pA, pB := testProfile(), testProfile()
	store.profiles = []*model.ServiceProfile{pA, pB}
	store.notices = []*model.Notice{serviceNotice("ocds-1")}
	store.applyErrFor = pA.OrgID

	e := newTestEngine(store)
	done, err := e.RecalculateAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.NotContains(t, store.applied, pA.OrgID)
	assert.Contains(t, store.applied, pB.OrgID)
}

func TestSemanticScoreClampsNegative(t *testing.T) {
	a, b := vec(1, 0, 0), vec(-1, 0, 0)
	assert.Equal(t, 0.0, semanticScore(a, b))
}
