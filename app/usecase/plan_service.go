package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
)

type PlanUsecase interface {
	SavePlan(ctx context.Context, names string, res *InitResult) (*entity.Plan, error)
	GetPlan(ctx context.Context, runID string) (*entity.Plan, error)
	ListPlans(ctx context.Context) ([]string, error)
	DeletePlan(ctx context.Context, runID string) error
}

type PlanService struct {
	repo repository.PlanRepository
	now  func() time.Time
}

func NewPlanService(repo repository.PlanRepository) *PlanService {
	return &PlanService{repo: repo, now: time.Now}
}

var _ PlanUsecase = (*PlanService)(nil)

// SavePlan snapshots an Initialize result under a fresh run id.
func (s *PlanService) SavePlan(ctx context.Context, names string, res *InitResult) (*entity.Plan, error) {
	if res == nil {
		return nil, errors.New("init result is required")
	}
	plan := newPlan(names, res, s.now())
	if err := s.repo.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("save plan %s: %w", plan.RunID, err)
	}
	return plan, nil
}

func (s *PlanService) GetPlan(ctx context.Context, runID string) (*entity.Plan, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID is required")
	}
	plan, err := s.repo.GetPlan(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", runID, err)
	}
	return plan, nil
}

func (s *PlanService) ListPlans(ctx context.Context) ([]string, error) {
	runs, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return runs, nil
}

func (s *PlanService) DeletePlan(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID is required")
	}
	if err := s.repo.DeletePlan(ctx, runID); err != nil {
		return fmt.Errorf("delete plan %s: %w", runID, err)
	}
	return nil
}

func newPlan(names string, res *InitResult, at time.Time) *entity.Plan {
	return &entity.Plan{
		RunID:     uuid.NewString(),
		Names:     names,
		Jobs:      res.Jobs,
		Total:     res.Total,
		CreatedAt: at.Unix(),
	}
}
