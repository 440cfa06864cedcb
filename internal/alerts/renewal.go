package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/tendermatch/tendermatch/internal/mesh"
	"github.com/tendermatch/tendermatch/internal/model"
)

// ScanRenewals raises RENEWAL alerts for contracts whose period ends within
// the next `months` months. An org is alerted when its CPV interests share
// a sector prefix with the expiring contract; each (org, notice) pair is
// alerted at most once. Returns the number of alerts raised.
func (s *Service) ScanRenewals(ctx context.Context, months int) (int, error) {
	now := time.Now().UTC()
	expiring, err := s.store.ListExpiringContracts(ctx, now, now.AddDate(0, months, 0))
	if err != nil {
		return 0, err
	}
	if len(expiring) == 0 {
		return 0, nil
	}

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, n := range expiring {
		if len(n.CPVCodes) == 0 || n.ContractPeriodEnd == nil {
			continue
		}
		noticePrefixes := prefixSet(n.CPVCodes)

		for _, p := range profiles {
			if !overlaps(noticePrefixes, p.InferredCPVCodes) {
				continue
			}

			exists, err := s.store.HasAlert(ctx, p.OrgID, n.OCID, model.AlertRenewal)
			if err != nil {
				return raised, err
			}
			if exists {
				continue
			}

			alert := &model.Alert{
				OrgID:    p.OrgID,
				NoticeID: n.OCID,
				Type:     model.AlertRenewal,
				Severity: model.SeverityInfo,
				Message: fmt.Sprintf("Contract %q expires on %s; a re-tender is likely approaching.",
					n.Title, n.ContractPeriodEnd.Format("2006-01-02")),
				Details: map[string]any{
					"contract_period_end": n.ContractPeriodEnd,
					"value_amount":        n.ValueAmount,
				},
			}
			if err := s.store.CreateAlert(ctx, alert); err != nil {
				return raised, err
			}
			raised++
		}
	}

	s.logger.Info("renewal scan complete", "expiring", len(expiring), "alerts", raised)
	return raised, nil
}

func prefixSet(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		out[mesh.Prefix(c)] = struct{}{}
	}
	return out
}

func overlaps(prefixes map[string]struct{}, codes []string) bool {
	for _, c := range codes {
		if _, ok := prefixes[mesh.Prefix(c)]; ok {
			return true
		}
	}
	return false
}
