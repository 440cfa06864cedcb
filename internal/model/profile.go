package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ServiceProfile describes a charity's delivery capability: what it does,
// where it operates, and the contract envelope it can absorb.
type ServiceProfile struct {
	OrgID         uuid.UUID `json:"org_id"`
	CharityNumber *string   `json:"charity_number,omitempty"`
	Name          string    `json:"name"`
	Website       *string   `json:"website,omitempty"`

	// Latest reported annual income in whole pounds. Drives the value gate
	// and the national classification.
	LatestIncome int64 `json:"latest_income"`

	Mission          string `json:"mission"`
	Vision           string `json:"vision"`
	ProgramsServices string `json:"programs_services"`
	TargetPopulation string `json:"target_population"`

	// Charity-register themes, mapped to UKCAT prefixes at scoring time.
	UKCATCodes        []string `json:"ukcat_codes,omitempty"`
	BeneficiaryGroups []string `json:"beneficiary_groups,omitempty"`
	InferredCPVCodes  []string `json:"inferred_cpv_codes,omitempty"`

	// ServiceRegions is stored as JSONB and arrives either as a plain list
	// or as an object with a "regions" key. Read through Regions().
	ServiceRegions any `json:"service_regions,omitempty"`

	MinContractValue  *int64   `json:"min_contract_value,omitempty"`
	MaxContractValue  *int64   `json:"max_contract_value,omitempty"`
	ExclusionKeywords []string `json:"exclusion_keywords,omitempty"`

	ProfileEmbedding *pgvector.Vector `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

// nationalIncomeThreshold is the income above which a charity is treated
// as having national reach.
const nationalIncomeThreshold = 5_000_000

// Regions normalises the two stored shapes of service_regions into a
// plain string slice. Does not lowercase; comparison sites do that.
func (p *ServiceProfile) Regions() []string {
	switch v := p.ServiceRegions.(type) {
	case []string:
		return v
	case []any:
		return anyToStrings(v)
	case map[string]any:
		inner, _ := v["regions"].([]any)
		return anyToStrings(inner)
	}
	return nil
}

// IsNational reports whether the profile should bypass the hard geo gate:
// income above the national threshold, or an explicitly national region.
func (p *ServiceProfile) IsNational() bool {
	if p.LatestIncome > nationalIncomeThreshold {
		return true
	}
	for _, r := range p.Regions() {
		switch strings.ToLower(r) {
		case "national", "united kingdom", "uk":
			return true
		}
	}
	return false
}

func anyToStrings(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
