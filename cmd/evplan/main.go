// Command evplan runs the siting optimization for one country or for every
// selected country of a region, writing the augmented site tables next to
// the inputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"evsite/internal/config"
	"evsite/internal/events"
	"evsite/internal/integrations/csvdir"
	"evsite/internal/logging"
	"evsite/internal/opt"
	"evsite/internal/planner"
	"evsite/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
		country    = flag.String("country", "", "ISO3 code of a single country to plan")
		region     = flag.String("region", "", "plan every non-excluded country of this region")
		paramsPath = flag.String("params", "", "tariff parameter file (overrides PARAMETERS_FILE)")
		dataDir    = flag.String("data", "", "country table directory (overrides DATA_DIR)")
		workers    = flag.Int("workers", 0, "countries solved in parallel (overrides WORKERS)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	if *paramsPath != "" {
		cfg.ParametersFile = *paramsPath
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *region != "" {
		cfg.Region = *region
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params, err := config.LoadParameters(cfg.ParametersFile)
	if err != nil {
		log.Error("load parameters", zap.String("path", cfg.ParametersFile), zap.Error(err))
		return 2
	}

	var st store.Store = store.NewMemory()
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgres(cfg.Database.URL, log.Named("store"))
		if err != nil {
			log.Error("connect store", zap.Error(err))
			return 2
		}
		defer pg.Close()
		if cfg.Database.Migrate {
			if err := pg.MigrateDir(cfg.Database.MigrationsDir); err != nil {
				log.Error("migrate store", zap.Error(err))
				return 2
			}
		}
		st = pg
	}

	dir := csvdir.Dir{Root: cfg.DataDir}
	opts := opt.DefaultOptions()
	opts.MaxNodes = cfg.Solver.MaxNodes
	p := planner.New(planner.Deps{
		Source:     dir,
		Sink:       dir,
		Store:      st,
		Broker:     events.New(cfg.Redis.URL, log.Named("events")),
		Parameters: params,
		Solver:     opts,
		Logger:     log,
	})

	countries, err := p.Countries(ctx, *country, cfg.Region)
	if err != nil {
		log.Error("select countries", zap.Error(err))
		return 2
	}
	if len(countries) == 0 {
		log.Warn("no countries selected", zap.String("region", cfg.Region))
		return 0
	}
	log.Info("batch started",
		zap.String("parameters", params.Name),
		zap.Strings("countries", countries),
		zap.Int("workers", cfg.Workers))

	results := p.RunBatch(ctx, countries, cfg.Workers)
	for _, r := range results {
		if r.Err != nil {
			log.Error("country failed", zap.String("country", r.Country), zap.String("status", r.Status), zap.Error(r.Err))
			continue
		}
		log.Info("country planned",
			zap.String("country", r.Country),
			zap.Int("sites_built", r.Plan.SitesBuilt),
			zap.Float64("objective", r.Plan.Objective),
			zap.String("sites", dir.SitePath(r.Country)))
	}
	failed := planner.Failed(results)
	log.Info("batch finished",
		zap.Int("countries", len(results)),
		zap.Int("failed", failed),
		zap.String("summary", summary(results)))
	if failed > 0 {
		return 1
	}
	return 0
}

func summary(results []planner.Result) string {
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	var parts []string
	for _, s := range []string{opt.StatusOK, opt.StatusInfeasible, opt.StatusDataInconsistency, opt.StatusSolverFailure, opt.StatusError} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	return strings.Join(parts, " ")
}
