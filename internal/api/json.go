package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"evsite/internal/auth"
	"evsite/internal/opt"
	"evsite/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := http.StatusInternalServerError, "Internal Error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, auth.ErrUnauthorized):
		status, title = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, opt.ErrDataInconsistency):
		status, title = http.StatusBadRequest, "Data Inconsistency"
	case errors.Is(err, opt.ErrInfeasible):
		status, title = http.StatusUnprocessableEntity, "Infeasible"
	case errors.Is(err, opt.ErrSolverFailure):
		status, title = http.StatusInternalServerError, "Solver Failure"
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
