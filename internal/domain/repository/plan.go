package repository

import (
	"context"

	"migrator/internal/domain/entity"
)

// PlanRepository keeps snapshots of prepared job plans.
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *entity.Plan) error
	GetPlan(ctx context.Context, runID string) (*entity.Plan, error)
	ListPlans(ctx context.Context) ([]string, error)
	DeletePlan(ctx context.Context, runID string) error
}
