package api

import (
	"net/http"
	"time"

	"evsite/internal/buildinfo"
)

// DebugJSON reports the build and the non-secret parts of the active
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if !s.authorizePlan(w, r) {
		return
	}
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                 cfg.Port,
			"DATA_DIR":             cfg.DataDir,
			"PARAMETERS_FILE":      cfg.ParametersFile,
			"PLAN_REGION":          cfg.Region,
			"WORKERS":              cfg.Workers,
			"SOLVER_MAX_NODES":     cfg.Solver.MaxNodes,
			"PLAN_RATE_PER_MINUTE": cfg.Limits.PlansPerMinute,
			"PLAN_RATE_BURST":      cfg.Limits.Burst,
			"AUTH_MODE":            cfg.Auth.Mode,
			"HAS_DATABASE_URL":     cfg.Database.URL != "",
			"HAS_REDIS_URL":        cfg.Redis.URL != "",
		},
	})
}
