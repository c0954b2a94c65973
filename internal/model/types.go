package model

import "time"

// Core domain types shared by the planner, the store and the API.

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within the usual degree ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type Customer struct {
	ID        string     `json:"customerId"`
	AdminName string     `json:"adminName"`
	Location  Coordinate `json:"location"`
	Demand    float64    `json:"demand"` // annual requests
}

type CandidateSite struct {
	ID        string     `json:"id,omitempty"` // assigned by the problem builder
	AdminName string     `json:"adminName"`
	Location  Coordinate `json:"location"`
}

type Region struct {
	AdminName string     `json:"adminName"`
	Location  Coordinate `json:"location"`
	Demand    float64    `json:"demand"`
}

// TariffParameters is the named parameter set used by the cost model.
type TariffParameters struct {
	Name                 string  `yaml:"-" json:"name"`
	ElectricityUnitPrice float64 `yaml:"electricity_unit_price" json:"electricityUnitPrice"` // currency/kWh
	ConsumptionEV        float64 `yaml:"consumption_ev" json:"consumptionEv"`                // kWh/km
	CostOfEVCenter       float64 `yaml:"cost_of_ev_center" json:"costOfEvCenter"`            // currency/area unit
	AreaOfEVCenter       float64 `yaml:"area_of_ev_center" json:"areaOfEvCenter"`
	SupplyFactor         float64 `yaml:"ev_spply_factor" json:"evSupplyFactor"`
	// Sampling fractions used by the upstream demand/site sampler.
	FractionCustomers float64 `yaml:"fraction_customers,omitempty" json:"fractionCustomers,omitempty"`
	FractionEVCenters float64 `yaml:"fraction_ev_centers,omitempty" json:"fractionEvCenters,omitempty"`
	DemandFraction    float64 `yaml:"demand_fraction,omitempty" json:"demandFraction,omitempty"`
}

const (
	BuildYes = "Yes"
	BuildNo  = "No"
)

// SiteDecision is one row of the augmented site table.
type SiteDecision struct {
	SiteID          string     `json:"siteId"`
	AdminName       string     `json:"adminName"`
	Location        Coordinate `json:"location"`
	Build           string     `json:"build"`
	Value           int        `json:"value"`
	MinimizedCost   float64    `json:"minimizedCost"`
	DistanceKm      float64    `json:"distanceKm"` // mean distance to served customers
	AllocatedDemand float64    `json:"allocatedDemand"`
	ServedCustomers int        `json:"servedCustomers"`
}

// Allocation is a nonzero share of one customer's demand served by one site.
type Allocation struct {
	CustomerID string  `json:"customerId"`
	SiteID     string  `json:"siteId"`
	Quantity   float64 `json:"quantity"`
	Cost       float64 `json:"cost"` // access cost per unit of demand
}

const (
	PlanOptimal = "optimal"
	PlanFailed  = "failed"
)

// Plan is the durable outcome of one country's optimization run.
type Plan struct {
	ID          string           `json:"id"`
	Country     string           `json:"country"`
	Parameters  TariffParameters `json:"parameters"`
	Status      string           `json:"status"`
	Objective   float64          `json:"objective"`
	SitesBuilt  int              `json:"sitesBuilt"`
	Sites       []SiteDecision   `json:"sites"`
	Allocations []Allocation     `json:"allocations,omitempty"`
	Nodes       int              `json:"nodes"`
	SolveMillis int64            `json:"solveMillis"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Country is a row of the country reference table.
type Country struct {
	ISO3    string `json:"iso3"`
	Name    string `json:"name,omitempty"`
	Region  string `json:"region,omitempty"`
	Exclude bool   `json:"exclude,omitempty"`
}

// Tables bundles the per-country inputs consumed by the optimizer.
type Tables struct {
	Customers []Customer      `json:"customers"`
	Sites     []CandidateSite `json:"sites"`
	Regions   []Region        `json:"regions"`
}

// PlanRequest is the body of POST /v1/plans. Tables are optional; when
// absent they are read from the configured data directory.
type PlanRequest struct {
	Country string  `json:"country"`
	Tables  *Tables `json:"tables,omitempty"`
}

type BatchRequest struct {
	Countries []string `json:"countries,omitempty"`
	Region    string   `json:"region,omitempty"`
}
