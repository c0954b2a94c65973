package opt

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	// Tolerance is the relative flow tolerance of the transportation
	// subproblems, scaled by total demand.
	Tolerance float64
	// IntegralityTol is how far a build value may sit from 0 or 1 and still
	// count as integral.
	IntegralityTol float64
	// MaxNodes caps the branch-and-bound tree. 0 means unlimited.
	MaxNodes int
}

// DefaultOptions returns the settings used when none are supplied.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-9, IntegralityTol: 1e-6}
}

// Solution is the optimal assignment of one solve.
type Solution struct {
	Objective float64
	Build     []bool
	// Alloc holds the demand each site serves for each customer, customers x sites.
	Alloc    *mat.Dense
	Nodes    int
	Duration time.Duration
}

// Solver solves the capacitated facility-location MILP exactly with a
// depth-first branch-and-bound over the build variables.
//
// Each node is bounded by the aggregate-capacity relaxation: a free site
// charges its fixed cost per unit of capacity used, which turns the node into
// a transportation problem solved exactly as a min-cost flow. At integral
// build values the linking rows alloc <= demand*build are implied, so the
// model solved is unchanged.
type Solver struct {
	opts Options
	log  *zap.Logger
}

func NewSolver(opts Options, log *zap.Logger) *Solver {
	def := DefaultOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.IntegralityTol <= 0 {
		opts.IntegralityTol = def.IntegralityTol
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Solver{opts: opts, log: log}
}

type siteState int8

const (
	siteFree siteState = iota
	siteOpen
	siteClosed
)

type bnbNode struct {
	state []siteState
}

func (n bnbNode) fix(j int, v siteState) bnbNode {
	out := bnbNode{state: append([]siteState(nil), n.state...)}
	out.state[j] = v
	return out
}

// incumbent is a feasible integral plan.
type incumbent struct {
	obj   float64
	build []bool
	flow  flowResult
}

func gap(obj float64) float64 { return 1e-9 * math.Max(1, math.Abs(obj)) }

// Solve blocks until an optimal plan is proven or the problem is shown to be
// infeasible. Cancelling ctx aborts the search with ErrSolverFailure.
func (s *Solver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if p == nil || p.NumCustomers() == 0 || p.NumSites() == 0 {
		return nil, fmt.Errorf("%w: empty problem", ErrDataInconsistency)
	}
	start := time.Now()
	demand, capacity := p.TotalDemand(), p.TotalCapacity()
	if capacity < demand-1e-9*math.Max(1, demand) {
		return nil, fmt.Errorf("%w: total capacity %.4f below total demand %.4f", ErrInfeasible, capacity, demand)
	}

	best, err := s.warmStart(p)
	if err != nil {
		return nil, fmt.Errorf("%w: warm start: %w", ErrSolverFailure, err)
	}
	if best != nil {
		s.log.Debug("warm start", zap.Float64("objective", best.obj))
	}

	stack := []bnbNode{{state: make([]siteState, p.NumSites())}}
	nodes := 0
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSolverFailure, err)
		}
		if s.opts.MaxNodes > 0 && nodes >= s.opts.MaxNodes {
			return nil, fmt.Errorf("%w: node limit %d reached", ErrSolverFailure, s.opts.MaxNodes)
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		bound, flow, ok, err := s.relaxNode(p, nd.state)
		if err != nil {
			return nil, fmt.Errorf("%w: relaxation at node %d: %w", ErrSolverFailure, nodes, err)
		}
		if !ok || (best != nil && bound >= best.obj-gap(best.obj)) {
			continue
		}
		cand, err := s.roundUp(p, nd.state, flow)
		if err != nil {
			return nil, fmt.Errorf("%w: rounding at node %d: %w", ErrSolverFailure, nodes, err)
		}
		if cand != nil && (best == nil || cand.obj < best.obj-gap(best.obj)) {
			best = cand
			s.log.Debug("new incumbent", zap.Int("node", nodes), zap.Float64("objective", cand.obj))
		}
		if best != nil && bound >= best.obj-gap(best.obj) {
			continue
		}
		j := s.branchVar(p, nd.state, flow)
		if j < 0 {
			continue
		}
		// Depth first, build[j] = 1 explored first.
		stack = append(stack, nd.fix(j, siteClosed), nd.fix(j, siteOpen))
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no allocation satisfies demand, capacity and linking constraints", ErrInfeasible)
	}

	nc, ns := p.NumCustomers(), p.NumSites()
	sol := &Solution{
		Build:    append([]bool(nil), best.build...),
		Alloc:    mat.NewDense(nc, ns, nil),
		Nodes:    nodes,
		Duration: time.Since(start),
	}
	for j := 0; j < ns; j++ {
		if sol.Build[j] {
			sol.Objective += p.FixedCost[j]
		}
	}
	for i := 0; i < nc; i++ {
		for j := 0; j < ns; j++ {
			v := best.flow.at(ns, i, j)
			if !sol.Build[j] || v <= 0 {
				continue
			}
			sol.Alloc.Set(i, j, v)
			sol.Objective += p.Cost.At(i, j) * v
		}
	}
	s.log.Debug("branch and bound finished",
		zap.Int("nodes", nodes),
		zap.Float64("objective", sol.Objective),
		zap.Duration("duration", sol.Duration))
	return sol, nil
}

// relaxNode bounds the node from below. ok is false when the sites left
// usable cannot hold the demand.
func (s *Solver) relaxNode(p *Problem, state []siteState) (float64, flowResult, bool, error) {
	ns := p.NumSites()
	usable := make([]bool, ns)
	surcharge := make([]float64, ns)
	var fixed float64
	for j, st := range state {
		switch st {
		case siteOpen:
			usable[j] = true
			fixed += p.FixedCost[j]
		case siteFree:
			if p.Capacity[j] > 0 {
				usable[j] = true
				surcharge[j] = p.FixedCost[j] / p.Capacity[j]
			}
		}
	}
	flow, ok, err := transport(p, usable, surcharge, s.opts.Tolerance)
	if err != nil || !ok {
		return 0, flow, ok, err
	}
	bound := fixed + flow.Cost
	if cb := coverBound(p, state, usable); cb > bound {
		bound = cb
	}
	return bound, flow, true, nil
}

// coverBound is a second lower bound: the fixed cost of the open sites, the
// cheapest fixed cost of enough free sites to cover what the open ones cannot
// hold, and every customer served at its cheapest usable site.
func coverBound(p *Problem, state []siteState, usable []bool) float64 {
	var fixed, remaining float64
	remaining = p.TotalDemand()
	var caps, costs []float64
	for j, st := range state {
		switch {
		case st == siteOpen:
			fixed += p.FixedCost[j]
			remaining -= p.Capacity[j]
		case st == siteFree && p.Capacity[j] > 0:
			caps = append(caps, p.Capacity[j])
			costs = append(costs, p.FixedCost[j])
		}
	}
	if remaining > 1e-9*math.Max(1, p.TotalDemand()) {
		sort.Sort(sort.Reverse(sort.Float64Slice(caps)))
		sort.Float64s(costs)
		var covered float64
		for k := 0; k < len(caps) && covered < remaining; k++ {
			covered += caps[k]
			fixed += costs[k]
		}
	}
	for i := 0; i < p.NumCustomers(); i++ {
		if p.Demand[i] <= 0 {
			continue
		}
		cheapest := math.Inf(1)
		for j := range usable {
			if usable[j] && p.Cost.At(i, j) < cheapest {
				cheapest = p.Cost.At(i, j)
			}
		}
		if !math.IsInf(cheapest, 1) {
			fixed += p.Demand[i] * cheapest
		}
	}
	return fixed
}

// branchVar returns the free site whose relaxed build value load/capacity is
// most fractional, or -1 when every used free site is fully loaded. Ties go
// to the lowest index.
func (s *Solver) branchVar(p *Problem, state []siteState, flow flowResult) int {
	eps := s.opts.Tolerance * math.Max(1, p.TotalDemand())
	idx, worst := -1, -1.0
	for j, st := range state {
		if st != siteFree || p.Capacity[j] <= 0 || flow.Load[j] <= eps {
			continue
		}
		y := flow.Load[j] / p.Capacity[j]
		if y >= 1-s.opts.IntegralityTol {
			continue
		}
		if frac := math.Min(y, 1-y); frac > worst {
			idx, worst = j, frac
		}
	}
	return idx
}
