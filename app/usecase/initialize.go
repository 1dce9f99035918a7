package usecase

import (
	"context"
	"fmt"
	"time"

	"migrator/internal/domain/entity"
	"migrator/internal/infrastructure/metrics"
)

// Stage is one step of Initialize. Stages run in declaration order and the
// first failure ends the run.
type Stage string

const (
	StageClearBacklog       Stage = "clear_backlog"
	StagePrepareJobs        Stage = "prepare_jobs"
	StageReconcileCompleted Stage = "reconcile_completed"
	StageEnrich             Stage = "enrich"
	StageEnqueue            Stage = "enqueue"
)

// InitResult is what Initialize left in the backlog.
type InitResult struct {
	Jobs  []*entity.Job `json:"jobs"`
	Total int64         `json:"total"`
}

// InitOptions tunes a single Initialize call.
type InitOptions struct {
	IgnoreCompleted bool
	OnProgress      ProgressFunc
}

type initRun struct {
	names string
	opts  InitOptions
	jobs  []*entity.Job
	total int64
}

type stageFunc func(ctx context.Context, run *initRun) error

// Initialize rebuilds the backlog for names. With ignoreCompleted the completed
// ledger is cleared and every discovered job is queued; otherwise collections
// already in the ledger are skipped.
//
// Callers must not run two Initialize calls against the same keys at once.
// A failed run leaves the backlog as it was at the failing stage; running
// Initialize again is the recovery.
func (m *Manager) Initialize(ctx context.Context, names string, ignoreCompleted bool) (*InitResult, error) {
	return m.InitializeWithOptions(ctx, names, InitOptions{IgnoreCompleted: ignoreCompleted})
}

func (m *Manager) InitializeWithOptions(ctx context.Context, names string, opts InitOptions) (*InitResult, error) {
	run := &initRun{names: names, opts: opts}
	stages := []struct {
		stage Stage
		fn    stageFunc
	}{
		{StageClearBacklog, m.stageClearBacklog},
		{StagePrepareJobs, m.stagePrepareJobs},
		{StageReconcileCompleted, m.stageReconcileCompleted},
		{StageEnrich, m.stageEnrich},
		{StageEnqueue, m.stageEnqueue},
	}

	for _, s := range stages {
		start := time.Now()
		if err := s.fn(ctx, run); err != nil {
			metrics.IncInitializeRun("error")
			m.logger.Error().Err(err).Str("stage", string(s.stage)).Msg("initialize failed")
			return nil, fmt.Errorf("initialize %s: %w", s.stage, err)
		}
		metrics.ObserveStageDuration(string(s.stage), time.Since(start))
		m.logger.Debug().
			Str("stage", string(s.stage)).
			Int("jobs", len(run.jobs)).
			Dur("duration", time.Since(start)).
			Msg("stage done")
	}

	metrics.IncInitializeRun("ok")
	m.logger.Info().
		Str("names", names).
		Int("jobs", len(run.jobs)).
		Int64("total", run.total).
		Msg("backlog initialized")
	return &InitResult{Jobs: run.jobs, Total: run.total}, nil
}

func (m *Manager) stageClearBacklog(ctx context.Context, _ *initRun) error {
	return m.ClearBacklogJobs(ctx)
}

func (m *Manager) stagePrepareJobs(ctx context.Context, run *initRun) error {
	jobs, err := m.PrepareNewJobs(ctx, run.names)
	if err != nil {
		return err
	}
	run.jobs = jobs
	return nil
}

// stageReconcileCompleted drops whole collections that appear in the ledger,
// whichever of their sub-collections were recorded.
func (m *Manager) stageReconcileCompleted(ctx context.Context, run *initRun) error {
	if run.opts.IgnoreCompleted {
		return m.ClearCompletedJobs(ctx)
	}

	completed, err := m.GetCompletedJobs(ctx)
	if err != nil {
		return err
	}
	if len(completed) == 0 {
		return nil
	}
	done := make(map[string]struct{}, len(completed))
	for _, j := range completed {
		done[j.Collection] = struct{}{}
	}

	kept := run.jobs[:0]
	for _, j := range run.jobs {
		if _, skip := done[j.Collection]; skip {
			continue
		}
		kept = append(kept, j)
	}
	if skipped := len(run.jobs) - len(kept); skipped > 0 {
		m.logger.Info().Int("skipped", skipped).Msg("skipping jobs of completed collections")
	}
	run.jobs = kept
	return nil
}

func (m *Manager) stageEnrich(ctx context.Context, run *initRun) error {
	total, err := m.EnrichCounts(ctx, run.jobs, run.opts.OnProgress)
	if err != nil {
		return err
	}
	run.total = total
	return nil
}

func (m *Manager) stageEnqueue(ctx context.Context, run *initRun) error {
	for _, job := range run.jobs {
		if err := m.QueueJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
