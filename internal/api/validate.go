package api

import (
	"fmt"
	"regexp"
	"strings"

	"evsite/internal/model"
)

var iso3Pattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

const maxBatchCountries = 250

func validateCountry(iso3 string) error {
	if !iso3Pattern.MatchString(strings.TrimSpace(iso3)) {
		return fmt.Errorf("country must be an ISO3 code, got %q", iso3)
	}
	return nil
}

func validatePlanRequest(req *model.PlanRequest) error {
	if err := validateCountry(req.Country); err != nil {
		return err
	}
	if req.Tables == nil {
		return nil
	}
	if len(req.Tables.Customers) == 0 || len(req.Tables.Sites) == 0 || len(req.Tables.Regions) == 0 {
		return fmt.Errorf("inline tables need customers, sites and regions")
	}
	return nil
}

func validateBatchRequest(req *model.BatchRequest) error {
	if len(req.Countries) > maxBatchCountries {
		return fmt.Errorf("at most %d countries per batch", maxBatchCountries)
	}
	seen := map[string]bool{}
	for _, c := range req.Countries {
		if err := validateCountry(c); err != nil {
			return err
		}
		c = strings.ToUpper(c)
		if seen[c] {
			return fmt.Errorf("duplicate country %s", c)
		}
		seen[c] = true
	}
	return nil
}
