package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tendermatch/tendermatch/internal/model"
)

const profileColumns = `
	org_id, charity_number, name, website, latest_income,
	mission, vision, programs_services, target_population,
	ukcat_codes, beneficiary_groups, inferred_cpv_codes, service_regions,
	min_contract_value, max_contract_value, exclusion_keywords,
	profile_embedding, updated_at`

func scanProfile(row pgx.Row) (*model.ServiceProfile, error) {
	var p model.ServiceProfile
	err := row.Scan(
		&p.OrgID, &p.CharityNumber, &p.Name, &p.Website, &p.LatestIncome,
		&p.Mission, &p.Vision, &p.ProgramsServices, &p.TargetPopulation,
		&p.UKCATCodes, &p.BeneficiaryGroups, &p.InferredCPVCodes, &p.ServiceRegions,
		&p.MinContractValue, &p.MaxContractValue, &p.ExclusionKeywords,
		&p.ProfileEmbedding, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile fetches a service profile by org id.
func (db *DB) GetProfile(ctx context.Context, orgID uuid.UUID) (*model.ServiceProfile, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM service_profile WHERE org_id = $1`, orgID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get profile %s: %w", orgID, err)
	}
	return p, nil
}

// ListProfiles returns all service profiles.
func (db *DB) ListProfiles(ctx context.Context) ([]*model.ServiceProfile, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+profileColumns+` FROM service_profile ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	defer rows.Close()

	var out []*model.ServiceProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list profiles: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	return out, nil
}

// ListProfileCPVCodes returns the inferred CPV code lists of every profile.
// Used to build the interest mesh without loading full profiles.
func (db *DB) ListProfileCPVCodes(ctx context.Context) ([][]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT inferred_cpv_codes FROM service_profile
		WHERE inferred_cpv_codes IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profile CPV codes: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var codes []string
		if err := rows.Scan(&codes); err != nil {
			return nil, fmt.Errorf("storage: list profile CPV codes: %w", err)
		}
		out = append(out, codes)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list profile CPV codes: %w", err)
	}
	return out, nil
}
