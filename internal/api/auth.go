// Package api implements the HTTP surface of the EV site planner.
package api

import (
	"net/http"
)

// authorizePlan rejects callers that may not start optimization runs.
func (s *Server) authorizePlan(w http.ResponseWriter, r *http.Request) bool {
	p, err := s.Auth.Authenticate(r)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "role "+p.Role+" may not submit plans", r.URL.Path)
		return false
	}
	return true
}

// authorizeRead accepts any authenticated caller.
func (s *Server) authorizeRead(w http.ResponseWriter, r *http.Request) bool {
	if _, err := s.Auth.Authenticate(r); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}
