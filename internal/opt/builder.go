package opt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"evsite/internal/model"
)

// Problem is the complete input of one facility-location solve. Customers
// are addressed by row index i and sites by column index j throughout.
type Problem struct {
	Customers []model.Customer
	Sites     []model.CandidateSite
	Demand    []float64
	Capacity  []float64
	FixedCost []float64
	// Cost holds the access cost per unit of demand, customers x sites.
	Cost *mat.Dense
	// DistKm holds the distances the costs were derived from.
	DistKm *mat.Dense

	customerIdx map[string]int
	siteIdx     map[string]int
}

// SiteID formats the sequential identifier of the n-th candidate site (1-based).
func SiteID(n int) string {
	return fmt.Sprintf("Ev_center %d", n)
}

// Build assembles the optimization input from the customer, candidate-site
// and region tables. Site identifiers are reassigned as 1..N in input order.
func Build(customers []model.Customer, sites []model.CandidateSite, regions []model.Region, params model.TariffParameters) (*Problem, error) {
	if len(customers) == 0 {
		return nil, fmt.Errorf("%w: customer table is empty", ErrDataInconsistency)
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: candidate site table is empty", ErrDataInconsistency)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: region table is empty", ErrDataInconsistency)
	}

	p := &Problem{
		Customers:   make([]model.Customer, len(customers)),
		Sites:       make([]model.CandidateSite, len(sites)),
		Demand:      make([]float64, len(customers)),
		Capacity:    make([]float64, len(sites)),
		FixedCost:   make([]float64, len(sites)),
		Cost:        mat.NewDense(len(customers), len(sites), nil),
		DistKm:      mat.NewDense(len(customers), len(sites), nil),
		customerIdx: make(map[string]int, len(customers)),
		siteIdx:     make(map[string]int, len(sites)),
	}

	for i, c := range customers {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: customer at row %d has no id", ErrDataInconsistency, i+1)
		}
		if _, dup := p.customerIdx[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate customer id %q", ErrDataInconsistency, c.ID)
		}
		if !finiteNonNegative(c.Demand) {
			return nil, fmt.Errorf("%w: customer %q has invalid demand %v", ErrDataInconsistency, c.ID, c.Demand)
		}
		if !c.Location.Valid() {
			return nil, fmt.Errorf("%w: customer %q has invalid coordinate %+v", ErrDataInconsistency, c.ID, c.Location)
		}
		p.Customers[i] = c
		p.Demand[i] = c.Demand
		p.customerIdx[c.ID] = i
	}

	for j, s := range sites {
		if !s.Location.Valid() {
			return nil, fmt.Errorf("%w: candidate site at row %d has invalid coordinate %+v", ErrDataInconsistency, j+1, s.Location)
		}
		s.ID = SiteID(j + 1)
		p.Sites[j] = s
		p.siteIdx[s.ID] = j
	}

	var regionalDemand float64
	for _, r := range regions {
		if !finiteNonNegative(r.Demand) {
			return nil, fmt.Errorf("%w: region %q has invalid demand %v", ErrDataInconsistency, r.AdminName, r.Demand)
		}
		regionalDemand += r.Demand
	}

	cm := NewCostModel(params)
	fixed := cm.FixedSiteCost()
	capacity := cm.SiteCapacity(regionalDemand / float64(len(regions)))
	if !finiteNonNegative(fixed) {
		return nil, fmt.Errorf("%w: fixed site cost %v", ErrDataInconsistency, fixed)
	}
	if !finiteNonNegative(capacity) {
		return nil, fmt.Errorf("%w: site capacity %v", ErrDataInconsistency, capacity)
	}
	for j := range p.Sites {
		p.FixedCost[j] = fixed
		p.Capacity[j] = capacity
	}

	for j, s := range p.Sites {
		for i, c := range p.Customers {
			d := RegionDistance(s.AdminName, s.Location, c.AdminName, c.Location)
			cost := cm.AccessCost(d)
			if !finiteNonNegative(cost) {
				return nil, fmt.Errorf("%w: access cost %v between %q and %q", ErrDataInconsistency, cost, s.ID, c.ID)
			}
			p.DistKm.Set(i, j, d)
			p.Cost.Set(i, j, cost)
		}
	}
	return p, nil
}

// NumCustomers returns the number of customer rows.
func (p *Problem) NumCustomers() int { return len(p.Customers) }

// NumSites returns the number of candidate-site columns.
func (p *Problem) NumSites() int { return len(p.Sites) }

func (p *Problem) TotalDemand() float64 {
	var t float64
	for _, d := range p.Demand {
		t += d
	}
	return t
}

func (p *Problem) TotalCapacity() float64 {
	var t float64
	for _, c := range p.Capacity {
		t += c
	}
	return t
}

// CustomerIndex returns the row of the customer with the given id.
func (p *Problem) CustomerIndex(id string) (int, bool) {
	i, ok := p.customerIdx[id]
	return i, ok
}

// SiteIndex returns the column of the site with the given id.
func (p *Problem) SiteIndex(id string) (int, bool) {
	j, ok := p.siteIdx[id]
	return j, ok
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
