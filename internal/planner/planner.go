// Package planner runs the per-country siting pipeline: load tables, build
// the problem, solve it, extract the site decisions and persist the plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evsite/internal/events"
	"evsite/internal/integrations"
	"evsite/internal/metrics"
	"evsite/internal/model"
	"evsite/internal/opt"
	"evsite/internal/store"
)

// Deps wires a Planner. Sink and Broker are optional.
type Deps struct {
	Source     integrations.TableSource
	Sink       integrations.PlanSink
	Store      store.Store
	Broker     events.Broker
	Parameters model.TariffParameters
	Solver     opt.Options
	Logger     *zap.Logger
}

type Planner struct {
	source integrations.TableSource
	sink   integrations.PlanSink
	store  store.Store
	broker events.Broker
	params model.TariffParameters
	solver *opt.Solver
	log    *zap.Logger
	now    func() time.Time
}

func New(d Deps) *Planner {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	st := d.Store
	if st == nil {
		st = store.NewMemory()
	}
	return &Planner{
		source: d.Source,
		sink:   d.Sink,
		store:  st,
		broker: d.Broker,
		params: d.Parameters,
		solver: opt.NewSolver(d.Solver, log.Named("solver")),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Parameters returns the tariff set every run uses.
func (p *Planner) Parameters() model.TariffParameters { return p.params }

// Run plans one country from the configured table source and writes the
// augmented tables to the sink.
func (p *Planner) Run(ctx context.Context, iso3 string) (model.Plan, error) {
	iso3 = strings.ToUpper(strings.TrimSpace(iso3))
	return p.run(ctx, iso3, true, func(ctx context.Context) (model.Tables, error) {
		if p.source == nil {
			return model.Tables{}, fmt.Errorf("%w: no table source configured", opt.ErrDataInconsistency)
		}
		return integrations.LoadTables(ctx, p.source, iso3)
	})
}

// RunTables plans one country from tables supplied by the caller. The plan
// is stored but not written to the sink.
func (p *Planner) RunTables(ctx context.Context, iso3 string, tables model.Tables) (model.Plan, error) {
	iso3 = strings.ToUpper(strings.TrimSpace(iso3))
	return p.run(ctx, iso3, false, func(context.Context) (model.Tables, error) { return tables, nil })
}

func (p *Planner) run(ctx context.Context, iso3 string, toSink bool, load func(context.Context) (model.Tables, error)) (model.Plan, error) {
	log := p.log.With(zap.String("country", iso3))
	plan := model.Plan{ID: uuid.NewString(), Country: iso3, Parameters: p.params}
	if iso3 == "" {
		return plan, p.fail(log, plan, 0, 0, fmt.Errorf("%w: missing country", opt.ErrDataInconsistency))
	}
	p.publish(events.Event{Type: events.PlanStarted, Country: iso3, PlanID: plan.ID})

	tables, err := load(ctx)
	if err != nil {
		return plan, p.fail(log, plan, 0, 0, fmt.Errorf("load %s tables: %w", iso3, err))
	}
	problem, err := opt.Build(tables.Customers, tables.Sites, tables.Regions, p.params)
	if err != nil {
		return plan, p.fail(log, plan, 0, 0, fmt.Errorf("build %s: %w", iso3, err))
	}
	log.Info("solving",
		zap.String("plan_id", plan.ID),
		zap.Int("customers", problem.NumCustomers()),
		zap.Int("sites", problem.NumSites()))

	sol, err := p.solver.Solve(ctx, problem)
	if err != nil {
		return plan, p.fail(log, plan, 0, 0, fmt.Errorf("solve %s: %w", iso3, err))
	}
	plan.Sites, plan.Allocations = opt.Extract(problem, sol)
	plan.Status = model.PlanOptimal
	plan.Objective = sol.Objective
	plan.SitesBuilt = opt.CountBuilt(plan.Sites)
	plan.Nodes = sol.Nodes
	plan.SolveMillis = sol.Duration.Milliseconds()
	plan.CreatedAt = p.now()

	if toSink && p.sink != nil {
		if err := p.sink.WritePlan(ctx, plan); err != nil {
			return plan, p.fail(log, plan, sol.Nodes, sol.Duration, fmt.Errorf("write %s plan: %w", iso3, err))
		}
	}
	if err := p.store.SavePlan(ctx, plan); err != nil {
		return plan, p.fail(log, plan, sol.Nodes, sol.Duration, fmt.Errorf("save %s plan: %w", iso3, err))
	}

	metrics.ObservePlan(iso3, opt.StatusOK, plan.SitesBuilt, sol.Nodes, sol.Duration)
	p.publish(events.Event{Type: events.PlanCompleted, Country: iso3, PlanID: plan.ID, Data: map[string]any{
		"objective":  plan.Objective,
		"sitesBuilt": plan.SitesBuilt,
		"nodes":      plan.Nodes,
	}})
	log.Info("plan completed",
		zap.String("plan_id", plan.ID),
		zap.Int("sites_built", plan.SitesBuilt),
		zap.Int("nodes", plan.Nodes),
		zap.Float64("objective", plan.Objective))
	return plan, nil
}

func (p *Planner) fail(log *zap.Logger, plan model.Plan, nodes int, elapsed time.Duration, err error) error {
	status := opt.Classify(err)
	plan.Status = model.PlanFailed
	metrics.ObservePlan(plan.Country, status, 0, nodes, elapsed)
	p.publish(events.Event{Type: events.PlanFailed, Country: plan.Country, PlanID: plan.ID, Data: map[string]any{
		"status": status,
		"error":  err.Error(),
	}})
	log.Warn("plan failed", zap.String("plan_id", plan.ID), zap.String("status", status), zap.Error(err))
	return err
}

func (p *Planner) publish(evt events.Event) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(evt.Country, evt)
}

// Result is the outcome of one country in a batch.
type Result struct {
	Country string      `json:"country"`
	Status  string      `json:"status"`
	Plan    *model.Plan `json:"plan,omitempty"`
	Error   string      `json:"error,omitempty"`
	Err     error       `json:"-"`
}

// RunBatch plans each country independently with at most workers solves in
// flight. A failing country never stops the others; results keep the order
// of iso3s.
func (p *Planner) RunBatch(ctx context.Context, iso3s []string, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(iso3s))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, iso3 := range iso3s {
		g.Go(func() error {
			r := Result{Country: strings.ToUpper(iso3)}
			plan, err := p.Run(ctx, iso3)
			r.Status = opt.Classify(err)
			if err != nil {
				r.Err = err
				r.Error = err.Error()
			} else {
				r.Plan = &plan
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Countries resolves the batch selection: iso3 when given, else every
// non-excluded country of region in the reference table.
func (p *Planner) Countries(ctx context.Context, iso3, region string) ([]string, error) {
	if iso3 = strings.TrimSpace(iso3); iso3 != "" {
		return []string{strings.ToUpper(iso3)}, nil
	}
	if p.source == nil {
		return nil, errors.New("no table source configured")
	}
	all, err := p.source.Countries(ctx)
	if err != nil {
		return nil, err
	}
	selected := integrations.SelectCountries(all, "", region)
	out := make([]string, 0, len(selected))
	for _, c := range selected {
		out = append(out, c.ISO3)
	}
	return out, nil
}

// Failed reports how many results carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
