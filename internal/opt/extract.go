package opt

import "evsite/internal/model"

// Extract turns a solution into the augmented site table and the list of
// nonzero allocations. The run's minimized cost is attached to built sites
// only; discarded sites record 0.
func Extract(p *Problem, sol *Solution) ([]model.SiteDecision, []model.Allocation) {
	minimized := round(sol.Objective, 2)
	sites := make([]model.SiteDecision, p.NumSites())
	var allocs []model.Allocation
	for j, s := range p.Sites {
		d := model.SiteDecision{
			SiteID:    s.ID,
			AdminName: s.AdminName,
			Location:  s.Location,
			Build:     model.BuildNo,
		}
		if sol.Build[j] {
			d.Build = model.BuildYes
			d.Value = 1
			d.MinimizedCost = minimized
		}
		var distSum float64
		for i, c := range p.Customers {
			q := sol.Alloc.At(i, j)
			if q <= 0 {
				continue
			}
			d.AllocatedDemand += q
			d.ServedCustomers++
			distSum += p.DistKm.At(i, j)
			allocs = append(allocs, model.Allocation{
				CustomerID: c.ID,
				SiteID:     s.ID,
				Quantity:   round(q, 4),
				Cost:       p.Cost.At(i, j),
			})
		}
		if d.ServedCustomers > 0 {
			d.DistanceKm = round(distSum/float64(d.ServedCustomers), 4)
		}
		d.AllocatedDemand = round(d.AllocatedDemand, 4)
		sites[j] = d
	}
	return sites, allocs
}

// CountBuilt returns how many sites the plan opens.
func CountBuilt(sites []model.SiteDecision) int {
	n := 0
	for _, s := range sites {
		n += s.Value
	}
	return n
}
