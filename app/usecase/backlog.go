package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cast"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/infrastructure/metrics"
)

// FetchJob claims the next job from the backlog. It returns (nil, nil) when the
// backlog is empty. The pop is atomic, so concurrent callers never get the same job.
// Once an id is popped its backlog entry is always removed: an unreadable count
// yields count 0 and a malformed id is dropped in favor of the next one.
func (m *Manager) FetchJob(ctx context.Context) (*entity.Job, error) {
	for {
		id, ok, err := m.store.ListPopFront(ctx, m.keys.BacklogQueue)
		if err != nil {
			return nil, fmt.Errorf("fetch job: %w", err)
		}
		if !ok {
			return nil, nil
		}

		raw, found, err := m.store.HashGet(ctx, m.keys.BacklogHash, id)
		if err != nil {
			return nil, fmt.Errorf("fetch job %s: %w", id, err)
		}
		if err := m.store.HashDelete(ctx, m.keys.BacklogHash, id); err != nil {
			return nil, fmt.Errorf("fetch job %s: %w", id, err)
		}

		var count int64
		switch {
		case !found:
			m.logger.Warn().Str("job_id", id).Msg("queued job has no backlog entry, using count 0")
		default:
			if count, err = parseCount(raw); err != nil {
				metrics.IncError("manager", "bad_count")
				m.logger.Warn().Err(err).Str("job_id", id).Msg("unreadable backlog count, using count 0")
				count = 0
			}
		}

		job, err := entity.JobFromEntry(id, count)
		if err != nil {
			metrics.IncError("manager", "malformed_job_id")
			m.logger.Error().Err(err).Str("job_id", id).Msg("dropping malformed backlog entry")
			continue
		}
		metrics.IncJobsFetched()
		return job, nil
	}
}

// QueueJob adds job to the backlog. A job whose id is already in the backlog is
// left where it is and a warning is logged.
func (m *Manager) QueueJob(ctx context.Context, job *entity.Job) error {
	job, err := validJob(job)
	if err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	id := job.ID()

	created, err := m.store.HashSet(ctx, m.keys.BacklogHash, id, strconv.FormatInt(job.Count, 10))
	if err != nil {
		return fmt.Errorf("queue job %s: %w", id, err)
	}
	if created == 0 {
		metrics.IncJobsDuplicate()
		m.logger.Warn().Str("job_id", id).Msg("job already in backlog, not queued again")
		return nil
	}

	if err := m.store.ListPushBack(ctx, m.keys.BacklogQueue, id); err != nil {
		return fmt.Errorf("queue job %s: %w", id, err)
	}
	metrics.IncJobsQueued()
	return nil
}

// CompleteJob records job in the completed ledger, overwriting any earlier entry.
func (m *Manager) CompleteJob(ctx context.Context, job *entity.Job) error {
	job, err := validJob(job)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if _, err := m.store.HashSet(ctx, m.keys.Completed, job.ID(), strconv.FormatInt(job.Count, 10)); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID(), err)
	}
	metrics.IncJobsCompleted()
	return nil
}

func (m *Manager) ClearBacklogJobs(ctx context.Context) error {
	if err := m.store.DeleteKey(ctx, m.keys.BacklogQueue); err != nil {
		return fmt.Errorf("clear backlog: %w", err)
	}
	if err := m.store.DeleteKey(ctx, m.keys.BacklogHash); err != nil {
		return fmt.Errorf("clear backlog: %w", err)
	}
	return nil
}

func (m *Manager) ClearCompletedJobs(ctx context.Context) error {
	if err := m.store.DeleteKey(ctx, m.keys.Completed); err != nil {
		return fmt.Errorf("clear completed: %w", err)
	}
	return nil
}

// GetBacklogJobs lists the backlog hash, sorted by id.
func (m *Manager) GetBacklogJobs(ctx context.Context) ([]*entity.Job, error) {
	jobs, err := m.jobsIn(ctx, m.keys.BacklogHash)
	if err != nil {
		return nil, fmt.Errorf("get backlog jobs: %w", err)
	}
	return jobs, nil
}

// GetCompletedJobs lists the completed ledger, sorted by id.
func (m *Manager) GetCompletedJobs(ctx context.Context) ([]*entity.Job, error) {
	jobs, err := m.jobsIn(ctx, m.keys.Completed)
	if err != nil {
		return nil, fmt.Errorf("get completed jobs: %w", err)
	}
	return jobs, nil
}

// GetBacklogCount sums the document counts in the backlog.
func (m *Manager) GetBacklogCount(ctx context.Context) (int64, error) {
	total, err := m.sumCounts(ctx, m.keys.BacklogHash)
	if err != nil {
		return 0, fmt.Errorf("get backlog count: %w", err)
	}
	metrics.SetBacklogDocuments(total)
	return total, nil
}

// GetCompletedCount sums the document counts in the completed ledger.
func (m *Manager) GetCompletedCount(ctx context.Context) (int64, error) {
	total, err := m.sumCounts(ctx, m.keys.Completed)
	if err != nil {
		return 0, fmt.Errorf("get completed count: %w", err)
	}
	metrics.SetCompletedDocuments(total)
	return total, nil
}

// JobList is the content of one hash with its document total.
type JobList struct {
	Jobs  []*entity.Job `json:"jobs"`
	Count int64         `json:"count"`
}

// Backlog reads the backlog hash once and sums its counts.
func (m *Manager) Backlog(ctx context.Context) (*JobList, error) {
	jobs, err := m.GetBacklogJobs(ctx)
	if err != nil {
		return nil, err
	}
	l := newJobList(jobs)
	metrics.SetBacklogDocuments(l.Count)
	return l, nil
}

// Completed reads the completed ledger once and sums its counts.
func (m *Manager) Completed(ctx context.Context) (*JobList, error) {
	jobs, err := m.GetCompletedJobs(ctx)
	if err != nil {
		return nil, err
	}
	l := newJobList(jobs)
	metrics.SetCompletedDocuments(l.Count)
	return l, nil
}

func newJobList(jobs []*entity.Job) *JobList {
	l := &JobList{Jobs: jobs}
	for _, j := range jobs {
		l.Count += j.Count
	}
	return l
}

// Status is a snapshot of backlog and ledger.
type Status struct {
	BacklogJobs    []*entity.Job `json:"backlog_jobs"`
	BacklogCount   int64         `json:"backlog_count"`
	CompletedJobs  []*entity.Job `json:"completed_jobs"`
	CompletedCount int64         `json:"completed_count"`
}

// Status reads backlog and ledger. The two reads are not one atomic snapshot.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	backlog, err := m.Backlog(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := m.Completed(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		BacklogJobs:    backlog.Jobs,
		BacklogCount:   backlog.Count,
		CompletedJobs:  completed.Jobs,
		CompletedCount: completed.Count,
	}, nil
}

func (m *Manager) jobsIn(ctx context.Context, key string) ([]*entity.Job, error) {
	entries, err := m.store.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	jobs := make([]*entity.Job, 0, len(entries))
	for id, raw := range entries {
		count, err := parseCount(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
		job, err := entity.JobFromEntry(id, count)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID() < jobs[j].ID() })
	return jobs, nil
}

func (m *Manager) sumCounts(ctx context.Context, key string) (int64, error) {
	values, err := m.store.HashValues(ctx, key)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, raw := range values {
		count, err := parseCount(raw)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// validJob rebuilds job through the validating constructor so that nothing
// unreadable reaches the shared store.
func validJob(job *entity.Job) (*entity.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: nil job", apperr.ErrInvalidJob)
	}
	return entity.NewJobWithCount(job.Collection, job.Subcollection, job.Count)
}

func parseCount(raw string) (int64, error) {
	count, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", raw, err)
	}
	if count < 0 {
		return 0, fmt.Errorf("parse count %q: negative", raw)
	}
	return count, nil
}
