package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tendermatch/tendermatch/internal/model"
)

// ReviewStore is the slice of the storage layer the Tier-2 reviewer needs.
type ReviewStore interface {
	GetProfile(ctx context.Context, orgID uuid.UUID) (*model.ServiceProfile, error)
	GetNotice(ctx context.Context, ocid string) (*model.Notice, error)
	TopMatches(ctx context.Context, orgID uuid.UUID, k int) ([]*model.NoticeMatch, error)
	SetDeepVerdict(ctx context.Context, orgID uuid.UUID, noticeID string, verdict model.DeepVerdict, rationale string) error
}

// Completer produces a JSON object for a prompt. Satisfied by *llm.Client.
type Completer interface {
	CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Reviewer sends a profile's strongest funnel matches to an LLM in one
// batched prompt and persists the PASS/FAIL verdicts. Verdicts are sticky:
// already-reviewed matches are never resubmitted.
type Reviewer struct {
	store  ReviewStore
	llm    Completer
	topK   int
	logger *slog.Logger
}

// NewReviewer wires a Tier-2 reviewer.
func NewReviewer(store ReviewStore, llm Completer, topK int, logger *slog.Logger) *Reviewer {
	if topK < 1 {
		topK = 10
	}
	return &Reviewer{store: store, llm: llm, topK: topK, logger: logger}
}

type deepResult struct {
	Verdict   string `json:"verdict"`
	Rationale string `json:"rationale"`
}

// ReviewProfile reviews the org's top unreviewed matches. A failed LLM
// call writes nothing; a response that omits or garbles an individual
// notice fails that notice with a diagnostic rationale. Returns the number
// of verdicts written.
func (r *Reviewer) ReviewProfile(ctx context.Context, orgID uuid.UUID) (int, error) {
	profile, err := r.store.GetProfile(ctx, orgID)
	if err != nil {
		return 0, err
	}

	top, err := r.store.TopMatches(ctx, orgID, r.topK)
	if err != nil {
		return 0, err
	}

	var pending []*model.NoticeMatch
	for _, m := range top {
		if m.DeepVerdict == nil {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		r.logger.Info("no unreviewed matches", "org_id", orgID)
		return 0, nil
	}

	prompt, err := r.buildPrompt(ctx, profile, pending)
	if err != nil {
		return 0, err
	}

	raw, err := r.llm.CompleteJSON(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("match: deep review for %s: %w", orgID, err)
	}

	var parsed map[string]deepResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("match: deep review for %s: decode response: %w", orgID, err)
	}

	written := 0
	for _, m := range pending {
		verdict, rationale := interpretResult(parsed, m.NoticeID)
		if err := r.store.SetDeepVerdict(ctx, orgID, m.NoticeID, verdict, rationale); err != nil {
			return written, err
		}
		written++
	}

	r.logger.Info("deep review complete", "org_id", orgID, "reviewed", written)
	return written, nil
}

// interpretResult maps one notice's model output onto a verdict. Anything
// missing or malformed fails closed so a flaky response never promotes a
// match.
func interpretResult(parsed map[string]deepResult, ocid string) (model.DeepVerdict, string) {
	res, ok := parsed[ocid]
	if !ok {
		return model.DeepFail, "Model response did not cover this notice; treated as a fail."
	}
	switch strings.ToUpper(strings.TrimSpace(res.Verdict)) {
	case string(model.DeepPass):
		return model.DeepPass, res.Rationale
	case string(model.DeepFail):
		return model.DeepFail, res.Rationale
	default:
		return model.DeepFail, fmt.Sprintf("Model returned unrecognised verdict %q; treated as a fail.", res.Verdict)
	}
}

func (r *Reviewer) buildPrompt(ctx context.Context, profile *model.ServiceProfile, pending []*model.NoticeMatch) (string, error) {
	var b strings.Builder

	b.WriteString("You are a bid qualification analyst for a UK charity. ")
	b.WriteString("Decide for each tender below whether the charity should pursue it.\n\n")

	b.WriteString("CHARITY\n")
	fmt.Fprintf(&b, "Name: %s\n", profile.Name)
	fmt.Fprintf(&b, "Annual income: £%d\n", profile.LatestIncome)
	if profile.Mission != "" {
		fmt.Fprintf(&b, "Mission: %s\n", profile.Mission)
	}
	if profile.ProgramsServices != "" {
		fmt.Fprintf(&b, "Programs and services: %s\n", profile.ProgramsServices)
	}
	if profile.TargetPopulation != "" {
		fmt.Fprintf(&b, "Target population: %s\n", profile.TargetPopulation)
	}
	if regions := profile.Regions(); len(regions) > 0 {
		fmt.Fprintf(&b, "Service regions: %s\n", strings.Join(regions, ", "))
	}

	b.WriteString("\nTENDERS\n")
	for _, m := range pending {
		n, err := r.store.GetNotice(ctx, m.NoticeID)
		if err != nil {
			return "", fmt.Errorf("match: load notice %q for review: %w", m.NoticeID, err)
		}

		fmt.Fprintf(&b, "\n--- %s ---\n", n.OCID)
		fmt.Fprintf(&b, "Title: %s\n", n.Title)
		desc := n.Description
		if n.ProviderSummary != nil && *n.ProviderSummary != "" {
			desc = *n.ProviderSummary
		}
		if len(desc) > 1500 {
			desc = desc[:1500]
		}
		if desc != "" {
			fmt.Fprintf(&b, "Description: %s\n", desc)
		}
		if n.ValueAmount != nil {
			fmt.Fprintf(&b, "Value: £%.0f\n", *n.ValueAmount)
		}
		if n.DeadlineDate != nil {
			fmt.Fprintf(&b, "Deadline: %s\n", n.DeadlineDate.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "Funnel score: %.2f\n", m.Score)
	}

	b.WriteString("\nRespond with a single JSON object keyed by the tender identifiers above. ")
	b.WriteString(`Each value must be {"verdict": "PASS" or "FAIL", "rationale": "<one or two sentences>"}. `)
	b.WriteString("PASS means the charity should invest bid effort; FAIL means it should not.")

	return b.String(), nil
}
