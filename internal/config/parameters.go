package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"evsite/internal/model"
)

var ErrInvalidParameters = errors.New("invalid parameters")

type parameterFile struct {
	Parameters map[string]model.TariffParameters `yaml:"parameters"`
}

// LoadParameters reads a tariff parameter file. The file holds a single
// named entry under "parameters"; batched parameter sweeps are not supported.
func LoadParameters(path string) (model.TariffParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TariffParameters{}, fmt.Errorf("read parameters: %w", err)
	}
	return ParseParameters(data)
}

func ParseParameters(data []byte) (model.TariffParameters, error) {
	var f parameterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.TariffParameters{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	switch len(f.Parameters) {
	case 0:
		return model.TariffParameters{}, fmt.Errorf("%w: no parameter set defined", ErrInvalidParameters)
	case 1:
	default:
		names := make([]string, 0, len(f.Parameters))
		for k := range f.Parameters {
			names = append(names, k)
		}
		sort.Strings(names)
		return model.TariffParameters{}, fmt.Errorf("%w: expected one parameter set, found %d (%s)", ErrInvalidParameters, len(names), strings.Join(names, ", "))
	}
	var p model.TariffParameters
	for name, v := range f.Parameters {
		p = v
		p.Name = name
	}
	if err := ValidateParameters(p); err != nil {
		return model.TariffParameters{}, err
	}
	return p, nil
}

// ValidateParameters rejects parameter sets the cost model cannot use.
func ValidateParameters(p model.TariffParameters) error {
	positive := []struct {
		name string
		v    float64
	}{
		{"electricity_unit_price", p.ElectricityUnitPrice},
		{"consumption_ev", p.ConsumptionEV},
		{"cost_of_ev_center", p.CostOfEVCenter},
		{"area_of_ev_center", p.AreaOfEVCenter},
		{"ev_spply_factor", p.SupplyFactor},
	}
	for _, f := range positive {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidParameters, f.name, f.v)
		}
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"fraction_customers", p.FractionCustomers},
		{"fraction_ev_centers", p.FractionEVCenters},
		{"demand_fraction", p.DemandFraction},
	}
	for _, f := range fractions {
		if f.v == 0 {
			continue // optional
		}
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s must be in (0,1], got %v", ErrInvalidParameters, f.name, f.v)
		}
	}
	return nil
}
