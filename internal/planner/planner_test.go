package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"evsite/internal/events"
	"evsite/internal/integrations/csvdir"
	"evsite/internal/model"
	"evsite/internal/opt"
	"evsite/internal/store"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// seed lays out KEN (feasible), UGA (infeasible) and no TZA tables.
func seed(t *testing.T) csvdir.Dir {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "countries.csv"),
		"iso3,country,region,exclude\nKEN,Kenya,Sub-Saharan Africa,0\nUGA,Uganda,Sub-Saharan Africa,0\nTZA,Tanzania,Sub-Saharan Africa,0\nSOM,Somalia,Sub-Saharan Africa,1\nEGY,Egypt,North Africa,0\n")

	writeFile(t, filepath.Join(root, "KEN", "KEN_customers.csv"),
		"customer_id,admin_name,latitude,longitude,demand\n1,Nairobi,-1.2921,36.8219,40\n2,Mombasa,-4.0435,39.6682,40\n")
	writeFile(t, filepath.Join(root, "KEN", "KEN_ev_centers.csv"),
		"admin_name,latitude,longitude\nNairobi,-1.30,36.80\nMombasa,-4.05,39.66\n")
	writeFile(t, filepath.Join(root, "KEN", "KEN_region.csv"),
		"admin_name,latitude,longitude,demand\nNairobi,-1.2921,36.8219,100\nMombasa,-4.0435,39.6682,100\n")

	writeFile(t, filepath.Join(root, "UGA", "UGA_customers.csv"),
		"customer_id,admin_name,latitude,longitude,demand\n1,Kampala,0.3476,32.5825,500\n")
	writeFile(t, filepath.Join(root, "UGA", "UGA_ev_centers.csv"),
		"admin_name,latitude,longitude\nKampala,0.35,32.58\n")
	writeFile(t, filepath.Join(root, "UGA", "UGA_region.csv"),
		"admin_name,latitude,longitude,demand\nKampala,0.3476,32.5825,100\n")
	return csvdir.Dir{Root: root}
}

func params() model.TariffParameters {
	return model.TariffParameters{
		Name:                 "test",
		ElectricityUnitPrice: 1,
		ConsumptionEV:        1,
		CostOfEVCenter:       5,
		AreaOfEVCenter:       10,
		SupplyFactor:         1,
	}
}

func newPlanner(t *testing.T, dir csvdir.Dir, st store.Store, b events.Broker) *Planner {
	return New(Deps{
		Source:     dir,
		Sink:       dir,
		Store:      st,
		Broker:     b,
		Parameters: params(),
		Solver:     opt.DefaultOptions(),
		Logger:     zaptest.NewLogger(t),
	})
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestRunWritesTablesStoresPlanAndPublishes(t *testing.T) {
	dir := seed(t)
	st := store.NewMemory()
	b := events.NewMemory()
	sub := b.Subscribe("KEN")
	p := newPlanner(t, dir, st, b)

	plan, err := p.Run(context.Background(), "ken")
	require.NoError(t, err)
	assert.Equal(t, "KEN", plan.Country)
	assert.Equal(t, model.PlanOptimal, plan.Status)
	// Both sites share a region with their customer, so only fixed costs remain.
	assert.InDelta(t, 100.0, plan.Objective, 1e-6)
	assert.Equal(t, 2, plan.SitesBuilt)
	for _, s := range plan.Sites {
		assert.Equal(t, model.BuildYes, s.Build)
		assert.Equal(t, 100.0, s.MinimizedCost)
	}
	assert.Len(t, plan.Allocations, 2)

	stored, err := st.LatestPlan(context.Background(), "KEN")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, stored.ID)

	_, err = os.Stat(dir.SitePath("KEN"))
	assert.NoError(t, err)
	_, err = os.Stat(dir.AllocationPath("KEN"))
	assert.NoError(t, err)

	evts := drain(sub)
	require.Len(t, evts, 2)
	assert.Equal(t, events.PlanStarted, evts[0].Type)
	assert.Equal(t, events.PlanCompleted, evts[1].Type)
	assert.Equal(t, plan.ID, evts[1].PlanID)
}

func TestRunFailureLeavesNoOutput(t *testing.T) {
	dir := seed(t)
	st := store.NewMemory()
	b := events.NewMemory()
	sub := b.Subscribe(events.AllCountries)
	p := newPlanner(t, dir, st, b)

	_, err := p.Run(context.Background(), "UGA")
	assert.ErrorIs(t, err, opt.ErrInfeasible)
	_, err = os.Stat(dir.SitePath("UGA"))
	assert.True(t, os.IsNotExist(err))
	_, err = st.LatestPlan(context.Background(), "UGA")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = p.Run(context.Background(), "TZA")
	assert.ErrorIs(t, err, opt.ErrDataInconsistency)

	evts := drain(sub)
	require.Len(t, evts, 4)
	assert.Equal(t, events.PlanFailed, evts[1].Type)
	assert.Equal(t, opt.StatusInfeasible, evts[1].Data["status"])
	assert.Equal(t, opt.StatusDataInconsistency, evts[3].Data["status"])
}

func TestRunBatchIsolatesCountries(t *testing.T) {
	dir := seed(t)
	p := newPlanner(t, dir, store.NewMemory(), nil)

	countries, err := p.Countries(context.Background(), "", "Sub-Saharan Africa")
	require.NoError(t, err)
	assert.Equal(t, []string{"KEN", "UGA", "TZA"}, countries)

	results := p.RunBatch(context.Background(), countries, 3)
	require.Len(t, results, 3)
	assert.Equal(t, "KEN", results[0].Country)
	assert.Equal(t, opt.StatusOK, results[0].Status)
	require.NotNil(t, results[0].Plan)
	assert.Equal(t, 2, results[0].Plan.SitesBuilt)

	assert.Equal(t, opt.StatusInfeasible, results[1].Status)
	assert.Nil(t, results[1].Plan)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, opt.StatusDataInconsistency, results[2].Status)
	assert.Equal(t, 2, Failed(results))

	one, err := p.Countries(context.Background(), "som", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"SOM"}, one)
}

func TestRunTablesSkipsSink(t *testing.T) {
	dir := csvdir.Dir{Root: t.TempDir()}
	st := store.NewMemory()
	p := newPlanner(t, dir, st, nil)
	tables := model.Tables{
		Customers: []model.Customer{{ID: "a", AdminName: "Accra", Location: model.Coordinate{Lat: 5.6, Lng: -0.19}, Demand: 10}},
		Sites:     []model.CandidateSite{{AdminName: "Accra", Location: model.Coordinate{Lat: 5.55, Lng: -0.2}}},
		Regions:   []model.Region{{AdminName: "Accra", Demand: 20}},
	}

	plan, err := p.RunTables(context.Background(), "gha", tables)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.SitesBuilt)
	assert.InDelta(t, 50.0, plan.Objective, 1e-9)
	_, err = os.Stat(dir.SitePath("GHA"))
	assert.True(t, os.IsNotExist(err))
	_, err = st.GetPlan(context.Background(), plan.ID)
	assert.NoError(t, err)

	_, err = p.RunTables(context.Background(), "", tables)
	assert.ErrorIs(t, err, opt.ErrDataInconsistency)
	_, err = p.RunTables(context.Background(), "GHA", model.Tables{})
	assert.ErrorIs(t, err, opt.ErrDataInconsistency)
}
