package opt

import (
	"errors"
	"fmt"
	"math"
)

var errFlowStalled = errors.New("min-cost flow did not converge")

type flowArc struct {
	to, rev int
	cap     float64
	cost    float64
}

// flowResult is an optimal shipment of every customer's demand to the usable
// sites. Alloc is customers x sites, row-major.
type flowResult struct {
	Cost  float64
	Alloc []float64
	Load  []float64
}

func (r flowResult) at(sites, i, j int) float64 { return r.Alloc[i*sites+j] }

// transport ships all demand to the usable sites at minimum cost, where one
// unit from customer i to site j costs Cost[i,j]+surcharge[j] and site j
// accepts at most Capacity[j]. surcharge may be nil. ok is false when the
// usable capacity cannot absorb the demand.
//
// Successive shortest paths over source -> customer -> site -> sink, with
// Dijkstra on reduced costs. All arc costs start non-negative, so zero
// potentials are valid.
func transport(p *Problem, usable []bool, surcharge []float64, tol float64) (flowResult, bool, error) {
	nc, ns := p.NumCustomers(), p.NumSites()
	demand := p.TotalDemand()
	eps := tol * math.Max(1, demand)
	res := flowResult{Alloc: make([]float64, nc*ns), Load: make([]float64, ns)}

	src, sink := 0, nc+ns+1
	n := nc + ns + 2
	g := make([][]flowArc, n)
	addArc := func(u, v int, capacity, cost float64) int {
		g[u] = append(g[u], flowArc{to: v, rev: len(g[v]), cap: capacity, cost: cost})
		g[v] = append(g[v], flowArc{to: u, rev: len(g[u]) - 1, cap: 0, cost: -cost})
		return len(g[u]) - 1
	}

	arcs := make([]int, nc*ns)
	for k := range arcs {
		arcs[k] = -1
	}
	var usableCap float64
	for j := 0; j < ns; j++ {
		if usable[j] && p.Capacity[j] > eps {
			addArc(1+nc+j, sink, p.Capacity[j], 0)
			usableCap += p.Capacity[j]
		}
	}
	if usableCap < demand-eps {
		return res, false, nil
	}
	if demand <= eps {
		return res, true, nil
	}
	for i := 0; i < nc; i++ {
		d := p.Demand[i]
		if d <= 0 {
			continue
		}
		addArc(src, 1+i, d, 0)
		for j := 0; j < ns; j++ {
			if !usable[j] || p.Capacity[j] <= eps {
				continue
			}
			c := p.Cost.At(i, j)
			if surcharge != nil {
				c += surcharge[j]
			}
			arcs[i*ns+j] = addArc(1+i, 1+nc+j, d, c)
		}
	}

	pot := make([]float64, n)
	dist := make([]float64, n)
	done := make([]bool, n)
	prevNode := make([]int, n)
	prevArc := make([]int, n)
	remaining := demand
	maxRounds := 4 * n * (nc + 2)
	for iter := 0; remaining > eps; iter++ {
		if iter >= maxRounds {
			return res, false, fmt.Errorf("%w after %d augmentations", errFlowStalled, iter)
		}
		for v := range dist {
			dist[v] = math.Inf(1)
			done[v] = false
			prevNode[v] = -1
		}
		dist[src] = 0
		for {
			u, best := -1, math.Inf(1)
			for v := 0; v < n; v++ {
				if !done[v] && dist[v] < best {
					u, best = v, dist[v]
				}
			}
			if u < 0 {
				break
			}
			done[u] = true
			for k, a := range g[u] {
				if a.cap <= eps || done[a.to] {
					continue
				}
				rc := a.cost + pot[u] - pot[a.to]
				if rc < 0 {
					rc = 0
				}
				if nd := dist[u] + rc; nd < dist[a.to] {
					dist[a.to] = nd
					prevNode[a.to] = u
					prevArc[a.to] = k
				}
			}
		}
		if math.IsInf(dist[sink], 1) {
			return res, false, nil
		}
		for v := 0; v < n; v++ {
			if !math.IsInf(dist[v], 1) {
				pot[v] += dist[v]
			}
		}

		push := remaining
		for v := sink; v != src; v = prevNode[v] {
			push = math.Min(push, g[prevNode[v]][prevArc[v]].cap)
		}
		for v := sink; v != src; v = prevNode[v] {
			a := &g[prevNode[v]][prevArc[v]]
			a.cap -= push
			g[v][a.rev].cap += push
		}
		remaining -= push
	}

	for i := 0; i < nc; i++ {
		for j := 0; j < ns; j++ {
			k := arcs[i*ns+j]
			if k < 0 {
				continue
			}
			q := p.Demand[i] - g[1+i][k].cap
			if q <= eps {
				continue
			}
			res.Alloc[i*ns+j] = q
			res.Load[j] += q
			c := p.Cost.At(i, j)
			if surcharge != nil {
				c += surcharge[j]
			}
			res.Cost += c * q
		}
	}
	return res, true, nil
}
