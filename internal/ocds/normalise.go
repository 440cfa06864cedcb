package ocds

import (
	"fmt"
	"strings"
	"time"

	"github.com/tendermatch/tendermatch/internal/model"
)

// BuyerPatch is the normalised buyer slice of a release, keyed by slug.
type BuyerPatch struct {
	CanonicalName string
	Slug          string
	Identifiers   map[string]any
}

// Normalise maps a raw OCDS release onto a buyer patch and a canonical
// notice. Pure: now is injected so missing publication dates are filled
// deterministically. Returns an error only for validation failures
// (a release without an OCID cannot be stored).
func Normalise(release Release, now time.Time) (BuyerPatch, model.Notice, error) {
	ocid := release.Str("ocid")
	if ocid == "" {
		return BuyerPatch{}, model.Notice{}, fmt.Errorf("ocds: release has no ocid")
	}

	buyer := NormaliseBuyer(release.Map("buyer"))
	tender := release.Tender()

	title := strings.TrimSpace(tender.Str("title"))
	if title == "" {
		title = "Untitled Notice"
	}

	notice := model.Notice{
		OCID:            ocid,
		ReleaseID:       release.Str("id"),
		Title:           title,
		Description:     tender.Str("description"),
		PublicationDate: parseDate(release.Str("date"), now),
		DeadlineDate:    parseDatePtr(tender.Map("tenderPeriod").Str("endDate")),
		ValueCurrency:   "GBP",
		NoticeType:      model.NoticeTypeTender,
		RawJSON:         release,
		CPVCodes:        cpvUnion(tender),
		UpdatedAt:       now.UTC(),
	}

	if amount, ok := tender.Map("value").Float("amount"); ok {
		notice.ValueAmount = &amount
	}
	if cur := tender.Map("value").Str("currency"); cur != "" {
		notice.ValueCurrency = cur
	}
	if m := tender.Str("procurementMethod"); m != "" {
		notice.ProcurementMethod = &m
	}
	if tags := release.Strings("tag"); len(tags) > 0 && tags[0] != "" {
		notice.NoticeType = tags[0]
	}
	if docs := tender.Slice("documents"); len(docs) > 0 {
		if u := docs[0].Str("url"); u != "" {
			notice.SourceURL = &u
		}
	}

	// Contract period: tender.contractPeriod, else the first award's.
	period := tender.Map("contractPeriod")
	if !tender.Has("contractPeriod") {
		if awards := release.Slice("awards"); len(awards) > 0 {
			period = awards[0].Map("contractPeriod")
		}
	}
	notice.ContractPeriodStart = parseDatePtr(period.Str("startDate"))
	notice.ContractPeriodEnd = parseDatePtr(period.Str("endDate"))

	return buyer, notice, nil
}

// NormaliseBuyer canonicalises a release's buyer block. The slug is the
// upsert key: lowercase name with whitespace runs collapsed to hyphens.
func NormaliseBuyer(buyer Object) BuyerPatch {
	name := canonicalName(buyer.Str("name"))
	if name == "" {
		name = "Unknown Buyer"
	}
	patch := BuyerPatch{
		CanonicalName: name,
		Slug:          Slugify(name),
	}
	if ident, ok := buyer["identifier"].(map[string]any); ok {
		patch.Identifiers = ident
	}
	return patch
}

// Slugify lowercases a name and joins its whitespace-separated fields
// with hyphens.
func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// canonicalName strips leading/trailing whitespace and collapses interior
// whitespace runs to single spaces.
func canonicalName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// cpvUnion gathers CPV codes from every classification site on the
// tender, de-duplicated preserving first occurrence.
func cpvUnion(tender Object) []string {
	var codes []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		codes = append(codes, id)
	}

	for _, item := range tender.Slice("items") {
		if item.Has("classification") {
			add(item.Map("classification").Str("id"))
		}
	}
	add(tender.Map("classification").Str("id"))
	for _, cls := range tender.Slice("additionalClassifications") {
		add(cls.Str("id"))
	}
	return codes
}

// parseDate parses an ISO-8601 timestamp, defaulting to now in UTC when
// absent or malformed.
func parseDate(s string, now time.Time) time.Time {
	if t := tryParse(s); t != nil {
		return *t
	}
	return now.UTC()
}

// parseDatePtr parses an ISO-8601 timestamp, returning nil when absent
// or malformed.
func parseDatePtr(s string) *time.Time {
	return tryParse(s)
}

func tryParse(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func lower(s string) string { return strings.ToLower(s) }
