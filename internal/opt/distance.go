package opt

import (
	"math"

	"github.com/shopspring/decimal"

	"evsite/internal/model"
)

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance between a and b in kilometers,
// rounded to 4 decimals.
func Distance(a, b model.Coordinate) float64 {
	return round(haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), 4)
}

// RegionDistance is Distance with a same-region short circuit: two points
// carrying the same admin label are 0 km apart whatever their coordinates.
func RegionDistance(aRegion string, a model.Coordinate, bRegion string, b model.Coordinate) float64 {
	if aRegion != "" && aRegion == bRegion {
		return 0
	}
	return Distance(a, b)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLat := phi2 - phi1
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
