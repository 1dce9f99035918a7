package usecase

import (
	"context"
	"fmt"
	"time"

	"migrator/internal/domain/entity"
	"migrator/internal/filter"
	"migrator/internal/infrastructure/metrics"
)

// ProgressFunc is called after each job's count is known, with the running total.
type ProgressFunc func(job *entity.Job, total int64)

// FilterIndicesAndTypes applies the configured index and type filters.
func (m *Manager) FilterIndicesAndTypes(indices []entity.Index) []entity.Index {
	indexPred, typePred, _ := m.settings()
	return filter.Apply(indices, indexPred, typePred)
}

// PrepareNewJobs discovers collections matching names and expands them into
// jobs in processing order. Counts are left unset. Shared state is not touched.
func (m *Manager) PrepareNewJobs(ctx context.Context, names string) ([]*entity.Job, error) {
	indices, err := m.source.Discover(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", names, err)
	}

	indexPred, typePred, cmp := m.settings()
	indices = filter.Apply(indices, indexPred, typePred)
	filter.Sort(indices, cmp)

	jobs, err := buildJobs(indices)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().
		Str("names", names).
		Int("indices", len(indices)).
		Int("jobs", len(jobs)).
		Msg("prepared jobs")
	return jobs, nil
}

// buildJobs emits one job per (index, sub-collection) in the given order.
func buildJobs(indices []entity.Index) ([]*entity.Job, error) {
	var jobs []*entity.Job
	for _, idx := range indices {
		for _, sub := range idx.Subcollections {
			job, err := entity.NewJob(idx.Name, sub)
			if err != nil {
				return nil, fmt.Errorf("build job: %w", err)
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// EnrichCounts queries the source for each job's document count, one job at a
// time, and returns the total. The first failed query aborts the whole call.
func (m *Manager) EnrichCounts(ctx context.Context, jobs []*entity.Job, onProgress ProgressFunc) (int64, error) {
	start := time.Now()
	var total int64
	for _, job := range jobs {
		count, err := m.source.Count(ctx, job.Collection, job.Subcollection)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", job.ID(), err)
		}
		job.Count = count
		total += count
		if onProgress != nil {
			onProgress(job, total)
		}
	}
	m.logger.Debug().
		Int("jobs", len(jobs)).
		Int64("total", total).
		Dur("duration", time.Since(start)).
		Msg("counts enriched")
	metrics.ObserveStageDuration("count_documents", time.Since(start))
	return total, nil
}
