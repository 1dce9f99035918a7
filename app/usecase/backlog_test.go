package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/infrastructure/store/memory"
)

func TestQueueJob_ThenFetchJob(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	other := mustJob(t, "B", "t1", 5)
	require.NoError(t, m.QueueJob(ctx, mustJob(t, "A", "t1", 3)))
	require.NoError(t, m.QueueJob(ctx, other))

	got, err := m.FetchJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "A:t1", got.ID())
	require.EqualValues(t, 3, got.Count)

	count, err := m.GetBacklogCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, count)

	jobs, err := m.GetBacklogJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"B:t1"}, jobIDs(jobs))
}

func TestFetchJob_Empty(t *testing.T) {
	m, _ := newTestManager(t, scenarioSource())

	job, err := m.FetchJob(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestQueueJob_Twice(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, scenarioSource())

	job := mustJob(t, "A", "t1", 3)
	require.NoError(t, m.QueueJob(ctx, job))
	require.NoError(t, m.QueueJob(ctx, job))

	require.Equal(t, 1, store.ListLen(m.Keys().BacklogQueue))
	jobs, err := m.GetBacklogJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1"}, jobIDs(jobs))
}

func TestQueueJob_Nil(t *testing.T) {
	m, _ := newTestManager(t, scenarioSource())
	require.True(t, apperr.IsInvalidJob(m.QueueJob(context.Background(), nil)))
	require.True(t, apperr.IsInvalidJob(m.CompleteJob(context.Background(), nil)))
}

func TestQueueJob_RejectsInvalidJobs(t *testing.T) {
	cases := []struct {
		name string
		job  *entity.Job
	}{
		{name: "separator in collection", job: &entity.Job{Collection: "a:b", Subcollection: "t"}},
		{name: "separator in subcollection", job: &entity.Job{Collection: "a", Subcollection: "t:1"}},
		{name: "empty names", job: &entity.Job{Count: 4}},
		{name: "negative count", job: &entity.Job{Collection: "a", Subcollection: "t", Count: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			m, store := newTestManager(t, scenarioSource())

			require.True(t, apperr.IsInvalidJob(m.QueueJob(ctx, tc.job)))
			require.True(t, apperr.IsInvalidJob(m.CompleteJob(ctx, tc.job)))

			require.Zero(t, store.ListLen(m.Keys().BacklogQueue))
			st, err := m.Status(ctx)
			require.NoError(t, err)
			require.Empty(t, st.BacklogJobs)
			require.Empty(t, st.CompletedJobs)
		})
	}
}

func TestBacklogCount_MatchesJobs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	check := func() {
		t.Helper()
		jobs, err := m.GetBacklogJobs(ctx)
		require.NoError(t, err)
		var sum int64
		for _, j := range jobs {
			sum += j.Count
		}
		count, err := m.GetBacklogCount(ctx)
		require.NoError(t, err)
		require.Equal(t, sum, count)
	}

	check()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.QueueJob(ctx, mustJob(t, fmt.Sprintf("c%d", i), "t", int64(i*10+1))))
		check()
	}
	require.NoError(t, m.QueueJob(ctx, mustJob(t, "c1", "t", 999)))
	check()
	for i := 0; i < 3; i++ {
		_, err := m.FetchJob(ctx)
		require.NoError(t, err)
		check()
	}
}

func TestCompleteJob_Overwrites(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "A", "t1", 3)))
	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "A", "t1", 4)))
	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "B", "t1", 5)))

	jobs, err := m.GetCompletedJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1", "B:t1"}, jobIDs(jobs))

	count, err := m.GetCompletedCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 9, count)
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, scenarioSource())

	require.NoError(t, m.ClearBacklogJobs(ctx))
	require.NoError(t, m.ClearCompletedJobs(ctx))

	require.NoError(t, m.QueueJob(ctx, mustJob(t, "A", "t1", 3)))
	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "B", "t1", 5)))

	require.NoError(t, m.ClearBacklogJobs(ctx))
	require.NoError(t, m.ClearCompletedJobs(ctx))
	require.NoError(t, m.ClearBacklogJobs(ctx))

	require.Zero(t, store.ListLen(m.Keys().BacklogQueue))
	for _, get := range []func(context.Context) (int64, error){m.GetBacklogCount, m.GetCompletedCount} {
		n, err := get(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	require.NoError(t, m.QueueJob(ctx, mustJob(t, "A", "t1", 3)))
	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "B", "t1", 5)))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1"}, jobIDs(st.BacklogJobs))
	require.EqualValues(t, 3, st.BacklogCount)
	require.Equal(t, []string{"B:t1"}, jobIDs(st.CompletedJobs))
	require.EqualValues(t, 5, st.CompletedCount)
}

func TestFetchJob_Concurrent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	const backlog = 25
	const callers = 60
	for i := 0; i < backlog; i++ {
		require.NoError(t, m.QueueJob(ctx, mustJob(t, fmt.Sprintf("c%02d", i), "t", 1)))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		seen   = make(map[string]int)
		empty  int
		failed []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.FetchJob(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed = append(failed, err)
			case job == nil:
				empty++
			default:
				seen[job.ID()]++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failed)
	require.Len(t, seen, backlog)
	require.Equal(t, callers-backlog, empty)
	for id, n := range seen {
		require.Equalf(t, 1, n, "%s returned more than once", id)
	}
}

func TestFetchJob_MissingHashEntry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQueueStore()
	m := NewManager(store, scenarioSource(), DefaultKeys("x:"), nil, zerolog.Nop())

	require.NoError(t, store.ListPushBack(ctx, "x:backlog_queue", "A:t1"))
	job, err := m.FetchJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "A:t1", job.ID())
	require.Zero(t, job.Count)
}

func TestFetchJob_BadCount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQueueStore()
	m := NewManager(store, scenarioSource(), DefaultKeys(""), nil, zerolog.Nop())

	require.NoError(t, store.ListPushBack(ctx, "backlog_queue", "A:t1"))
	_, err := store.HashSet(ctx, "backlog_hset", "A:t1", "lots")
	require.NoError(t, err)

	_, err = m.GetBacklogCount(ctx)
	require.ErrorContains(t, err, "parse count")

	job, err := m.FetchJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "A:t1", job.ID())
	require.Zero(t, job.Count)

	entries, err := store.HashGetAll(ctx, "backlog_hset")
	require.NoError(t, err)
	require.Empty(t, entries)

	count, err := m.GetBacklogCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestFetchJob_DropsMalformedID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQueueStore()
	m := NewManager(store, scenarioSource(), DefaultKeys(""), nil, zerolog.Nop())

	require.NoError(t, store.ListPushBack(ctx, "backlog_queue", "garbage"))
	_, err := store.HashSet(ctx, "backlog_hset", "garbage", "7")
	require.NoError(t, err)
	require.NoError(t, m.QueueJob(ctx, mustJob(t, "B", "t1", 5)))

	job, err := m.FetchJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "B:t1", job.ID())
	require.EqualValues(t, 5, job.Count)

	entries, err := store.HashGetAll(ctx, "backlog_hset")
	require.NoError(t, err)
	require.Empty(t, entries)

	job, err = m.FetchJob(ctx)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{QueueStore: memory.NewQueueStore(), broken: true}
	m := NewManager(store, scenarioSource(), DefaultKeys(""), nil, zerolog.Nop())

	_, err := m.FetchJob(ctx)
	require.True(t, apperr.IsStoreUnavailable(err))

	err = m.QueueJob(ctx, mustJob(t, "A", "t1", 1))
	require.True(t, apperr.IsStoreUnavailable(err))

	err = m.CompleteJob(ctx, mustJob(t, "A", "t1", 1))
	require.True(t, apperr.IsStoreUnavailable(err))

	require.True(t, apperr.IsStoreUnavailable(m.ClearBacklogJobs(ctx)))
}

func TestDefaultKeys(t *testing.T) {
	require.Equal(t, Keys{
		BacklogQueue: "mig:backlog_queue",
		BacklogHash:  "mig:backlog_hset",
		Completed:    "mig:completed",
	}, DefaultKeys("mig:"))
}
