package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"evsite/internal/model"
)

// matrixProblem builds a Problem directly from a cost matrix, bypassing the
// distance model.
func matrixProblem(cost [][]float64, demand, capacity, fixed []float64) *Problem {
	p := &Problem{
		Customers: make([]model.Customer, len(demand)),
		Sites:     make([]model.CandidateSite, len(capacity)),
		Demand:    demand,
		Capacity:  capacity,
		FixedCost: fixed,
		Cost:      mat.NewDense(len(demand), len(capacity), nil),
		DistKm:    mat.NewDense(len(demand), len(capacity), nil),
	}
	for i, row := range cost {
		for j, c := range row {
			p.Cost.Set(i, j, c)
		}
	}
	return p
}

func allUsable(n int) []bool {
	out := make([]bool, n)
	for j := range out {
		out[j] = true
	}
	return out
}

func TestTransportReroutesThroughResidualArcs(t *testing.T) {
	// Sending c1 to its nearest site first forces c2 onto the expensive one;
	// the optimum swaps c1 over to s2.
	p := matrixProblem([][]float64{{1, 2}, {1, 10}}, []float64{1, 1}, []float64{1, 1}, []float64{0, 0})

	res, ok, err := transport(p, allUsable(2), nil, 1e-9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, res.Cost, 1e-9)
	assert.InDelta(t, 1.0, res.at(2, 0, 1), 1e-9)
	assert.InDelta(t, 1.0, res.at(2, 1, 0), 1e-9)
	assert.InDelta(t, 1.0, res.Load[0], 1e-9)
	assert.InDelta(t, 1.0, res.Load[1], 1e-9)
}

func TestTransportSplitsDemand(t *testing.T) {
	p := matrixProblem([][]float64{{1, 4}}, []float64{10}, []float64{6, 6}, []float64{0, 0})

	res, ok, err := transport(p, allUsable(2), nil, 1e-9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 6.0, res.at(2, 0, 0), 1e-9)
	assert.InDelta(t, 4.0, res.at(2, 0, 1), 1e-9)
	assert.InDelta(t, 6+16.0, res.Cost, 1e-9)
}

func TestTransportSurchargeAndUsable(t *testing.T) {
	p := matrixProblem([][]float64{{1, 2}}, []float64{5}, []float64{10, 10}, []float64{0, 0})

	res, ok, err := transport(p, allUsable(2), []float64{3, 0}, 1e-9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5.0, res.at(2, 0, 1), 1e-9)
	assert.InDelta(t, 10.0, res.Cost, 1e-9)

	res, ok, err = transport(p, []bool{true, false}, nil, 1e-9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5.0, res.at(2, 0, 0), 1e-9)
	assert.Equal(t, 0.0, res.Load[1])
}

func TestTransportShortCapacity(t *testing.T) {
	p := matrixProblem([][]float64{{1, 1}}, []float64{12}, []float64{5, 5}, []float64{0, 0})

	_, ok, err := transport(p, allUsable(2), nil, 1e-9)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = transport(p, []bool{false, false}, nil, 1e-9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransportZeroDemand(t *testing.T) {
	p := matrixProblem([][]float64{{1}}, []float64{0}, []float64{5}, []float64{0})

	res, ok, err := transport(p, []bool{false}, nil, 1e-9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.0, res.Cost)
}

func TestCoverBoundCountsSitesNeeded(t *testing.T) {
	// 25 units need three sites of 10; fixed costs are 4, 5, 6 and 7.
	p := matrixProblem([][]float64{{1, 2, 3, 4}}, []float64{25}, []float64{10, 10, 10, 10}, []float64{4, 5, 6, 7})
	state := make([]siteState, 4)

	assert.InDelta(t, 4+5+6+25*1.0, coverBound(p, state, allUsable(4)), 1e-9)

	state[0] = siteClosed
	assert.InDelta(t, 5+6+7+25*2.0, coverBound(p, state, []bool{false, true, true, true}), 1e-9)

	state[0], state[3] = siteFree, siteOpen
	assert.InDelta(t, 7+4+5+25*1.0, coverBound(p, state, allUsable(4)), 1e-9)
}
