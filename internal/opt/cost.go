package opt

import "evsite/internal/model"

// CostModel turns distances into access costs and derives the uniform
// per-site fixed cost and capacity from one parameter set.
type CostModel struct {
	params model.TariffParameters
}

func NewCostModel(p model.TariffParameters) CostModel {
	return CostModel{params: p}
}

// AccessCost is the energy cost of driving distanceKm, rounded to 4 decimals.
func (m CostModel) AccessCost(distanceKm float64) float64 {
	return round(m.params.ElectricityUnitPrice*distanceKm/m.params.ConsumptionEV, 4)
}

func (m CostModel) FixedSiteCost() float64 {
	return m.params.CostOfEVCenter * m.params.AreaOfEVCenter
}

func (m CostModel) SiteCapacity(regionalMeanDemand float64) float64 {
	return regionalMeanDemand * m.params.SupplyFactor
}
