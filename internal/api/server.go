package api

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"evsite/internal/auth"
	"evsite/internal/config"
	"evsite/internal/events"
	"evsite/internal/integrations/csvdir"
	"evsite/internal/opt"
	"evsite/internal/planner"
	"evsite/internal/store"
)

type Server struct {
	Store   store.Store
	Planner *planner.Planner
	Broker  events.Broker
	Auth    *auth.Verifier
	Limiter *rate.Limiter
	Log     *zap.Logger
	Config  *config.Config
}

// NewServer wires the plan service from configuration. Without
// DATABASE_URL plans are kept in memory; without REDIS_URL events stay in
// process.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	params, err := config.LoadParameters(cfg.ParametersFile)
	if err != nil {
		return nil, err
	}

	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Database.URL, log.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("connect store: %w", err)
		}
		if cfg.Database.Migrate {
			if err := sp.MigrateDir(cfg.Database.MigrationsDir); err != nil {
				return nil, err
			}
		}
		st = sp
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Mode:       cfg.Auth.Mode,
		HMACSecret: cfg.Auth.HMACSecret,
		JWKSURL:    cfg.Auth.JWKSURL,
		RoleClaim:  cfg.Auth.RoleClaim,
	})
	if err != nil {
		return nil, err
	}

	broker := events.New(cfg.Redis.URL, log.Named("events"))
	dir := csvdir.Dir{Root: cfg.DataDir}
	opts := opt.DefaultOptions()
	opts.MaxNodes = cfg.Solver.MaxNodes
	p := planner.New(planner.Deps{
		Source:     dir,
		Sink:       dir,
		Store:      st,
		Broker:     broker,
		Parameters: params,
		Solver:     opts,
		Logger:     log.Named("planner"),
	})
	log.Info("plan service configured",
		zap.String("parameters", params.Name),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("postgres", cfg.Database.URL != ""),
		zap.Bool("redis", cfg.Redis.URL != ""),
		zap.String("auth", cfg.Auth.Mode))
	return &Server{
		Store:   st,
		Planner: p,
		Broker:  broker,
		Auth:    verifier,
		Limiter: newLimiter(cfg.Limits),
		Log:     log,
		Config:  cfg,
	}, nil
}

// newLimiter throttles plan submissions; a zero rate disables the limit.
func newLimiter(l config.LimitsConfig) *rate.Limiter {
	if l.PlansPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(l.PlansPerMinute/60)))
	}
	return rate.NewLimiter(rate.Limit(l.PlansPerMinute/60), burst)
}
