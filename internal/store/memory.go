package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"evsite/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	plans  map[string]model.Plan // id -> plan
	order  []string              // ids in save order
	latest map[string]string     // country -> id
}

func NewMemory() *Memory {
	return &Memory{
		plans:  map[string]model.Plan{},
		latest: map[string]string{},
	}
}

func (m *Memory) SavePlan(ctx context.Context, plan model.Plan) error {
	if plan.Country == "" {
		return fmt.Errorf("save plan: missing country")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	plan.Country = strings.ToUpper(plan.Country)
	plan = clonePlan(plan)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		m.order = append(m.order, plan.ID)
	}
	m.plans[plan.ID] = plan
	m.latest[plan.Country] = plan.ID
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return clonePlan(p), nil
}

func (m *Memory) LatestPlan(ctx context.Context, iso3 string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.latest[strings.ToUpper(iso3)]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return clonePlan(m.plans[id]), nil
}

func (m *Memory) ListPlans(ctx context.Context, iso3, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	iso3 = strings.ToUpper(iso3)
	start := len(m.order) - 1
	if cursor != "" {
		start = -1
		for i := len(m.order) - 1; i >= 0; i-- {
			if m.order[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.Plan{}
	var next string
	for i := start; i >= 0; i-- {
		p := m.plans[m.order[i]]
		if iso3 != "" && p.Country != iso3 {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, clonePlan(p))
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func clonePlan(p model.Plan) model.Plan {
	p.Sites = append([]model.SiteDecision(nil), p.Sites...)
	p.Allocations = append([]model.Allocation(nil), p.Allocations...)
	return p
}
