package integrations

import (
	"context"
	"strings"

	"evsite/internal/model"
)

// TableSource supplies the per-country input tables produced by the
// upstream sampling and geocoding steps.
type TableSource interface {
	Name() string
	Countries(ctx context.Context) ([]model.Country, error)
	Customers(ctx context.Context, iso3 string) ([]model.Customer, error)
	Sites(ctx context.Context, iso3 string) ([]model.CandidateSite, error)
	Regions(ctx context.Context, iso3 string) ([]model.Region, error)
}

// PlanSink persists the augmented site table and allocations of a plan.
type PlanSink interface {
	WritePlan(ctx context.Context, plan model.Plan) error
}

// LoadTables reads all three tables of one country.
func LoadTables(ctx context.Context, src TableSource, iso3 string) (model.Tables, error) {
	var t model.Tables
	var err error
	if t.Customers, err = src.Customers(ctx, iso3); err != nil {
		return t, err
	}
	if t.Sites, err = src.Sites(ctx, iso3); err != nil {
		return t, err
	}
	if t.Regions, err = src.Regions(ctx, iso3); err != nil {
		return t, err
	}
	return t, nil
}

// SelectCountries picks the countries to plan: the one matching iso3 when
// given, otherwise every non-excluded country of region.
func SelectCountries(all []model.Country, iso3, region string) []model.Country {
	var out []model.Country
	for _, c := range all {
		if iso3 != "" {
			if strings.EqualFold(c.ISO3, iso3) {
				out = append(out, c)
			}
			continue
		}
		if c.Exclude {
			continue
		}
		if region != "" && !strings.EqualFold(c.Region, region) {
			continue
		}
		out = append(out, c)
	}
	return out
}
