package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"migrator/internal/domain/entity"
)

// ErrInitializeRunning is returned when an Initialize is already in flight on
// this Coordinator.
var ErrInitializeRunning = errors.New("initialize already running")

// CoordinatorUsecase is what the status API and CLI drive.
type CoordinatorUsecase interface {
	Initialize(ctx context.Context, names string, ignoreCompleted bool, onProgress ProgressFunc) (*entity.Plan, error)
	Preview(ctx context.Context, names string) ([]*entity.Job, error)
	Status(ctx context.Context) (*Status, error)
	Backlog(ctx context.Context) (*JobList, error)
	Completed(ctx context.Context) (*JobList, error)
	ClearBacklog(ctx context.Context) error
	ClearCompleted(ctx context.Context) error
	Running() bool
}

var _ CoordinatorUsecase = (*Coordinator)(nil)

// Coordinator serializes Initialize calls within one process and snapshots
// each successful run as a plan. Cross-process serialization is the caller's.
type Coordinator struct {
	manager *Manager
	plans   PlanUsecase
	logger  zerolog.Logger

	running sync.Mutex
}

// NewCoordinator wires a manager with an optional plan service (nil disables snapshots).
func NewCoordinator(manager *Manager, plans PlanUsecase, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		manager: manager,
		plans:   plans,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

func (c *Coordinator) Initialize(ctx context.Context, names string, ignoreCompleted bool, onProgress ProgressFunc) (*entity.Plan, error) {
	if !c.running.TryLock() {
		return nil, ErrInitializeRunning
	}
	defer c.running.Unlock()

	res, err := c.manager.InitializeWithOptions(ctx, names, InitOptions{
		IgnoreCompleted: ignoreCompleted,
		OnProgress:      onProgress,
	})
	if err != nil {
		return nil, err
	}

	if c.plans == nil {
		return newPlan(names, res, time.Now()), nil
	}
	plan, err := c.plans.SavePlan(ctx, names, res)
	if err != nil {
		// the backlog is already built; a missing snapshot does not undo it
		c.logger.Error().Err(err).Str("names", names).Msg("plan snapshot failed")
		return newPlan(names, res, time.Now()), nil
	}
	c.logger.Info().Str("run_id", plan.RunID).Int("jobs", len(plan.Jobs)).Msg("plan saved")
	return plan, nil
}

// Running reports whether an Initialize is in flight.
func (c *Coordinator) Running() bool {
	if c.running.TryLock() {
		c.running.Unlock()
		return false
	}
	return true
}

func (c *Coordinator) Preview(ctx context.Context, names string) ([]*entity.Job, error) {
	jobs, err := c.manager.PrepareNewJobs(ctx, names)
	if err != nil {
		return nil, err
	}
	if _, err := c.manager.EnrichCounts(ctx, jobs, nil); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	return c.manager.Status(ctx)
}

func (c *Coordinator) Backlog(ctx context.Context) (*JobList, error) {
	return c.manager.Backlog(ctx)
}

func (c *Coordinator) Completed(ctx context.Context) (*JobList, error) {
	return c.manager.Completed(ctx)
}

// ClearBacklog refuses to run while Initialize is rebuilding the backlog.
func (c *Coordinator) ClearBacklog(ctx context.Context) error {
	if !c.running.TryLock() {
		return ErrInitializeRunning
	}
	defer c.running.Unlock()
	return c.manager.ClearBacklogJobs(ctx)
}

func (c *Coordinator) ClearCompleted(ctx context.Context) error {
	if !c.running.TryLock() {
		return ErrInitializeRunning
	}
	defer c.running.Unlock()
	return c.manager.ClearCompletedJobs(ctx)
}
