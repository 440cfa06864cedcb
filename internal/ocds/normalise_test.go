package ocds

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRelease(t *testing.T, raw string) Release {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return Release(m)
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormaliseFullRelease(t *testing.T) {
	rel := mustRelease(t, `{
		"ocid": "ocds-h6vhtk-012345",
		"id": "012345-2025",
		"date": "2025-05-20T09:30:00Z",
		"tag": ["tender"],
		"buyer": {"name": "  London   Borough of  Camden ", "identifier": {"scheme": "GB-LAE", "id": "CMD"}},
		"tender": {
			"title": "Homelessness Prevention Services",
			"description": "Floating support for rough sleepers.",
			"procurementMethod": "open",
			"tenderPeriod": {"endDate": "2025-07-01T12:00:00Z"},
			"contractPeriod": {"startDate": "2025-09-01T00:00:00Z", "endDate": "2028-08-31T00:00:00Z"},
			"value": {"amount": 450000.50, "currency": "GBP"},
			"classification": {"id": "85311000"},
			"additionalClassifications": [{"id": "85312000"}, {"id": "85311000"}],
			"items": [
				{"classification": {"id": "85311100"}},
				{"classification": {"id": "85311000"}}
			],
			"documents": [{"url": "https://example.gov.uk/notice/012345"}]
		}
	}`)

	buyer, notice, err := Normalise(rel, now)
	require.NoError(t, err)

	assert.Equal(t, "London Borough of Camden", buyer.CanonicalName)
	assert.Equal(t, "london-borough-of-camden", buyer.Slug)
	assert.Equal(t, "GB-LAE", buyer.Identifiers["scheme"])

	assert.Equal(t, "ocds-h6vhtk-012345", notice.OCID)
	assert.Equal(t, "012345-2025", notice.ReleaseID)
	assert.Equal(t, "Homelessness Prevention Services", notice.Title)
	assert.Equal(t, "tender", notice.NoticeType)
	assert.Equal(t, "open", *notice.ProcurementMethod)
	assert.Equal(t, 450000.50, *notice.ValueAmount)
	assert.Equal(t, "GBP", notice.ValueCurrency)
	require.NotNil(t, notice.DeadlineDate)
	assert.Equal(t, time.July, notice.DeadlineDate.Month())
	require.NotNil(t, notice.ContractPeriodEnd)
	assert.Equal(t, 2028, notice.ContractPeriodEnd.Year())
	assert.Equal(t, "https://example.gov.uk/notice/012345", *notice.SourceURL)

	// Union across items, tender classification, and additional
	// classifications, first occurrence wins.
	assert.Equal(t, []string{"85311100", "85311000", "85312000"}, notice.CPVCodes)
}

func TestNormaliseMissingOCID(t *testing.T) {
	rel := mustRelease(t, `{"tender": {"title": "No id"}}`)
	_, _, err := Normalise(rel, now)
	require.Error(t, err)
}

func TestNormaliseDefaults(t *testing.T) {
	rel := mustRelease(t, `{"ocid": "ocds-x-1", "tender": {}}`)

	buyer, notice, err := Normalise(rel, now)
	require.NoError(t, err)

	assert.Equal(t, "Unknown Buyer", buyer.CanonicalName)
	assert.Equal(t, "unknown-buyer", buyer.Slug)
	assert.Equal(t, "Untitled Notice", notice.Title)
	assert.Equal(t, "contractNotice", notice.NoticeType)
	assert.Equal(t, "GBP", notice.ValueCurrency)
	assert.Equal(t, now, notice.PublicationDate)
	assert.Nil(t, notice.DeadlineDate)
	assert.Nil(t, notice.ValueAmount)
	assert.Empty(t, notice.CPVCodes)
}

func TestNormaliseInvalidDeadlineIsNil(t *testing.T) {
	rel := mustRelease(t, `{
		"ocid": "ocds-x-2",
		"tender": {"tenderPeriod": {"endDate": "not-a-date"}}
	}`)

	_, notice, err := Normalise(rel, now)
	require.NoError(t, err)
	assert.Nil(t, notice.DeadlineDate)
}

func TestNormaliseContractPeriodFallsBackToAward(t *testing.T) {
	rel := mustRelease(t, `{
		"ocid": "ocds-x-3",
		"tag": ["award"],
		"tender": {"title": "Awarded"},
		"awards": [{"contractPeriod": {"startDate": "2024-01-01T00:00:00Z", "endDate": "2026-12-31T00:00:00Z"}}]
	}`)

	_, notice, err := Normalise(rel, now)
	require.NoError(t, err)
	require.NotNil(t, notice.ContractPeriodStart)
	assert.Equal(t, 2024, notice.ContractPeriodStart.Year())
	require.NotNil(t, notice.ContractPeriodEnd)
	assert.Equal(t, 2026, notice.ContractPeriodEnd.Year())
	assert.Equal(t, "award", notice.NoticeType)
}

func TestNoticeRegionsFromItemsAndParties(t *testing.T) {
	withItems := mustRelease(t, `{
		"tender": {"items": [
			{"deliveryAddresses": [{"region": "London"}, {"region": "West Midlands"}]}
		]},
		"parties": [{"roles": ["buyer"], "address": {"region": "Yorkshire"}}]
	}`)
	assert.Equal(t, []string{"london", "west midlands"}, NoticeRegions(withItems))

	partiesOnly := mustRelease(t, `{
		"tender": {"items": []},
		"parties": [
			{"roles": ["supplier"], "address": {"region": "Kent"}},
			{"roles": ["buyer"], "address": {"region": "Yorkshire"}}
		]
	}`)
	assert.Equal(t, []string{"yorkshire"}, NoticeRegions(partiesOnly))

	assert.Empty(t, NoticeRegions(mustRelease(t, `{"tender": {}}`)))
}

func TestSuitabilityAccessors(t *testing.T) {
	tender := mustRelease(t, `{
		"suitability": {"sme": false},
		"lots": [{"suitability": {"vcse": true}, "value": {"amountGross": 90000}}]
	}`)

	assert.True(t, SuitabilityDeclared(tender))
	assert.True(t, SuitableFor(tender, "vcse"))
	assert.False(t, SuitableFor(tender, "sme"))
	assert.Equal(t, 90000.0, LotValue(tender.Lots()[0]))

	bare := mustRelease(t, `{"lots": [{"value": {"amount": 5000}}]}`)
	assert.False(t, SuitabilityDeclared(bare))
	assert.Equal(t, 5000.0, LotValue(bare.Lots()[0]))
}

func TestAwardSuppliers(t *testing.T) {
	rel := mustRelease(t, `{
		"awards": [
			{"suppliers": [{"name": "Acme Care Ltd"}, {"name": "Beacon Support"}]},
			{"suppliers": [{"name": "Acme Care Ltd"}, {"name": "Citywide CIC"}]}
		]
	}`)
	assert.Equal(t, []string{"Acme Care Ltd", "Beacon Support", "Citywide CIC"}, AwardSuppliers(rel))
}
