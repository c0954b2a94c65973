package opt

import (
	"math"
	"sort"
)

// warmStart builds a feasible incumbent before branching: sites are opened
// in order of demand-weighted access cost plus fixed cost per unit of
// capacity until total capacity covers total demand, then the allocation is
// solved for that set. The bound it provides only prunes; the search still
// proves optimality. It returns nil when there is no demand to serve.
func (s *Solver) warmStart(p *Problem) (*incumbent, error) {
	demand := p.TotalDemand()
	if demand <= 0 {
		return nil, nil
	}
	nc, ns := p.NumCustomers(), p.NumSites()
	type ranked struct {
		j     int
		score float64
	}
	order := make([]ranked, ns)
	for j := 0; j < ns; j++ {
		var access float64
		for i := 0; i < nc; i++ {
			access += p.Demand[i] * p.Cost.At(i, j)
		}
		score := math.Inf(1)
		if p.Capacity[j] > 0 {
			score = access/demand + p.FixedCost[j]/p.Capacity[j]
		}
		order[j] = ranked{j: j, score: score}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].score < order[b].score })

	open := make([]bool, ns)
	var capacity float64
	for _, r := range order {
		if capacity >= demand || math.IsInf(r.score, 1) {
			break
		}
		open[r.j] = true
		capacity += p.Capacity[r.j]
	}
	if capacity < demand {
		return nil, nil
	}
	return s.evaluate(p, open)
}

// roundUp turns a node relaxation into a feasible plan by building the open
// sites and every free site the relaxation used.
func (s *Solver) roundUp(p *Problem, state []siteState, relaxed flowResult) (*incumbent, error) {
	eps := s.opts.Tolerance * math.Max(1, p.TotalDemand())
	open := make([]bool, p.NumSites())
	for j, st := range state {
		open[j] = st == siteOpen || (st == siteFree && relaxed.Load[j] > eps)
	}
	return s.evaluate(p, open)
}

// evaluate solves the allocation for a fixed set of built sites. Sites that
// end up serving nothing are not built. It returns nil when the set cannot
// hold the demand.
func (s *Solver) evaluate(p *Problem, open []bool) (*incumbent, error) {
	flow, ok, err := transport(p, open, nil, s.opts.Tolerance)
	if err != nil || !ok {
		return nil, err
	}
	inc := &incumbent{obj: flow.Cost, build: make([]bool, p.NumSites()), flow: flow}
	for j := range open {
		if open[j] && flow.Load[j] > 0 {
			inc.build[j] = true
			inc.obj += p.FixedCost[j]
		}
	}
	return inc, nil
}
