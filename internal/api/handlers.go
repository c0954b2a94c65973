package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"evsite/internal/buildinfo"
	"evsite/internal/events"
	"evsite/internal/model"
	"evsite/internal/planner"
)

const maxBodyBytes = 32 << 20

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.Limiter != nil && !s.Limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "plan submission rate exceeded", r.URL.Path)
		return false
	}
	return true
}

// PlansHandler serves GET (list) and POST (run one country) on /v1/plans.
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.authorizeRead(w, r) {
			return
		}
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		items, next, err := s.Store.ListPlans(r.Context(), q.Get("country"), q.Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "List failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !s.authorizePlan(w, r) || !s.allow(w, r) {
			return
		}
		var req model.PlanRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validatePlanRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
			return
		}
		var plan model.Plan
		var err error
		if req.Tables != nil {
			plan, err = s.Planner.RunTables(r.Context(), req.Country, *req.Tables)
		} else {
			plan, err = s.Planner.Run(r.Context(), req.Country)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/plans/"+plan.ID)
		writeJSON(w, http.StatusCreated, plan)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PlanByIDHandler serves GET /v1/plans/{id}.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeRead(w, r) {
		return
	}
	id := r.PathValue("id")
	plan, err := s.Store.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CountryPlanHandler serves GET /v1/countries/{iso3}/plan, the latest plan
// of a country.
func (s *Server) CountryPlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeRead(w, r) {
		return
	}
	iso3 := r.PathValue("iso3")
	if err := validateCountry(iso3); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid country", err.Error(), r.URL.Path)
		return
	}
	plan, err := s.Store.LatestPlan(r.Context(), iso3)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// BatchHandler serves POST /v1/plans/batch. Each country succeeds or fails
// on its own; the response lists every outcome.
func (s *Server) BatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizePlan(w, r) || !s.allow(w, r) {
		return
	}
	var req model.BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateBatchRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	countries := req.Countries
	if len(countries) == 0 {
		region := req.Region
		if region == "" {
			region = s.Config.Region
		}
		var err error
		countries, err = s.Planner.Countries(r.Context(), "", region)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	results := s.Planner.RunBatch(r.Context(), countries, s.Config.Workers)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"failed":  planner.Failed(results),
	})
}

// ParametersHandler serves GET /v1/parameters.
func (s *Server) ParametersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeRead(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.Planner.Parameters())
}

// EventsStreamHandler streams plan events as SSE on
// /v1/plans/events/stream?country=ISO3; no country streams every country.
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeRead(w, r) {
		return
	}
	topic := topicFromQuery(r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"topic\":%q,\"ts\":%q}\n\n", topic, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

func topicFromQuery(r *http.Request) string {
	c := strings.TrimSpace(r.URL.Query().Get("country"))
	if c == "" {
		return events.AllCountries
	}
	return strings.ToUpper(c)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Log.Warn("store not ready", zap.Error(err))
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, buildinfo.Info())
}

