package store

import (
	"context"
	"errors"

	"evsite/internal/model"
)

// Store is the persistence interface for optimization plans.
type Store interface {
	SavePlan(ctx context.Context, plan model.Plan) error
	GetPlan(ctx context.Context, id string) (model.Plan, error)
	// LatestPlan returns the most recent plan of a country.
	LatestPlan(ctx context.Context, iso3 string) (model.Plan, error)
	// ListPlans pages newest first. iso3 may be empty for all countries; the
	// cursor is the id of the last plan of the previous page.
	ListPlans(ctx context.Context, iso3, cursor string, limit int) ([]model.Plan, string, error)
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
