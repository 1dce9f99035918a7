package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

// Worker repeatedly claims a job, transfers it and marks it complete.
// A failed transfer puts the job back in the backlog; there is no other retry.
type Worker struct {
	id       string
	queue    JobQueue
	transfer repository.Transfer
	logger   zerolog.Logger

	pollInterval    time.Duration
	transferTimeout time.Duration

	// control
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func NewWorker(
	queue JobQueue,
	transfer repository.Transfer,
	pollInterval time.Duration,
	transferTimeout time.Duration,
	logger zerolog.Logger,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	id := uuid.NewString()
	return &Worker{
		id:              id,
		queue:           queue,
		transfer:        transfer,
		logger:          logger.With().Str("component", "worker").Str("worker_id", id).Logger(),
		pollInterval:    pollInterval,
		transferTimeout: transferTimeout,
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Start runs the polling loop in the background until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		w.logger.Info().Dur("interval", w.pollInterval).Msg("worker started")

		if _, err := w.Drain(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("initial drain failed")
		}

		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("worker context canceled")
				return
			case <-w.stop:
				w.logger.Info().Msg("worker stopped by Stop()")
				return
			case <-ticker.C:
				if _, err := w.Drain(ctx); err != nil {
					w.logger.Warn().Err(err).Msg("drain failed")
				}
			}
		}
	}()
}

// Stop ends the loop started by Start and waits for it to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if !w.started.Load() {
		return
	}
	<-w.stopped
	w.logger.Info().Msg("worker fully stopped")
}

// Drain processes jobs until the backlog is empty, ctx is done, Stop is called,
// or a job fails. It returns how many jobs completed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		case <-w.stop:
			return processed, nil
		default:
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			return processed, err
		}
		if !done {
			return processed, nil
		}
		processed++
	}
}

// RunOnce handles at most one job. It reports false when the backlog was empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.FetchJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	if err := w.process(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *entity.Job) error {
	start := time.Now()
	w.logger.Info().Str("job_id", job.ID()).Int64("count", job.Count).Msg("start transfer")

	tctx, cancel := ctx, context.CancelFunc(func() {})
	if w.transferTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, w.transferTimeout)
	}
	err := w.transfer.Transfer(tctx, job)
	cancel()

	if err != nil {
		metrics.IncError("worker", "transfer_error")
		w.logger.Error().Err(err).Str("job_id", job.ID()).Msg("transfer failed, requeueing")
		if qerr := w.queue.QueueJob(context.WithoutCancel(ctx), job); qerr != nil {
			return fmt.Errorf("requeue %s after transfer error %v: %w", job.ID(), err, qerr)
		}
		metrics.IncJobsRequeued()
		return fmt.Errorf("transfer %s: %w", job.ID(), err)
	}

	if err := w.queue.CompleteJob(context.WithoutCancel(ctx), job); err != nil {
		return err
	}
	metrics.ObserveTransferDuration(time.Since(start))
	w.logger.Info().Str("job_id", job.ID()).Dur("duration", time.Since(start)).Msg("job completed")
	return nil
}
