package usecase

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/filter"
)

func TestInitialize_Scenario(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, scenarioSource())
	require.NoError(t, m.SetIndexComparator(filter.Ref("name_desc")))

	var progress []int64
	res, err := m.InitializeWithOptions(ctx, "*", InitOptions{
		IgnoreCompleted: true,
		OnProgress:      func(_ *entity.Job, total int64) { progress = append(progress, total) },
	})
	require.NoError(t, err)
	require.Equal(t, []string{"B:t1", "A:t1", "A:t2"}, jobIDs(res.Jobs))
	require.EqualValues(t, 15, res.Total)
	require.Equal(t, []int64{5, 8, 15}, progress)

	var order []string
	for {
		id, ok, err := store.ListPopFront(ctx, m.Keys().BacklogQueue)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, id)
	}
	require.Equal(t, []string{"B:t1", "A:t1", "A:t2"}, order)
}

func TestInitialize_BacklogCountMatchesTotal(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	res, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)

	count, err := m.GetBacklogCount(ctx)
	require.NoError(t, err)
	require.Equal(t, res.Total, count)
	require.EqualValues(t, 15, count)

	jobs, err := m.GetBacklogJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1", "A:t2", "B:t1"}, jobIDs(jobs))
}

func TestInitialize_ReplacesBacklog(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, scenarioSource())

	require.NoError(t, m.QueueJob(ctx, mustJob(t, "stale", "x", 100)))
	_, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)

	jobs, err := m.GetBacklogJobs(ctx)
	require.NoError(t, err)
	require.NotContains(t, jobIDs(jobs), "stale:x")
	require.Equal(t, 3, store.ListLen(m.Keys().BacklogQueue))
}

func TestInitialize_SkipsCompletedCollections(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "A", "t1", 3)))

	res, err := m.Initialize(ctx, "*", false)
	require.NoError(t, err)
	require.Equal(t, []string{"B:t1"}, jobIDs(res.Jobs))
	require.EqualValues(t, 5, res.Total)

	completed, err := m.GetCompletedJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1"}, jobIDs(completed))
}

func TestInitialize_IgnoreCompletedClearsLedger(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())

	require.NoError(t, m.CompleteJob(ctx, mustJob(t, "A", "t1", 3)))

	res, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 3)

	completed, err := m.GetCompletedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func TestInitialize_Filters(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		indices: []entity.Index{
			{Name: "A1", Subcollections: []string{"t1"}},
			{Name: "B1", Subcollections: []string{"t1"}},
			{Name: "A2", Subcollections: []string{"t1", "skip"}},
			{Name: "A3", Subcollections: []string{"skip"}},
		},
		counts: map[string]int64{"A1:t1": 1, "A2:t1": 2},
	}
	m, _ := newTestManager(t, src)
	require.NoError(t, m.SetIndexFilter(regexp.MustCompile(`^A`)))
	require.NoError(t, m.SetTypeFilter(func(name string) bool { return name != "skip" }))

	res, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)
	require.Equal(t, []string{"A1:t1", "A2:t1"}, jobIDs(res.Jobs))
	require.EqualValues(t, 3, res.Total)
}

func TestInitialize_SourceErrorAborts(t *testing.T) {
	ctx := context.Background()

	t.Run("discover", func(t *testing.T) {
		src := scenarioSource()
		src.discoverErr = errors.New("no route to host")
		m, _ := newTestManager(t, src)

		_, err := m.Initialize(ctx, "*", true)
		require.True(t, apperr.IsSourceQuery(err))
		require.ErrorContains(t, err, string(StagePrepareJobs))
	})

	t.Run("count", func(t *testing.T) {
		src := scenarioSource()
		src.countErr = map[string]error{"A:t2": errors.New("timeout")}
		m, store := newTestManager(t, src)

		_, err := m.Initialize(ctx, "*", true)
		require.True(t, apperr.IsSourceQuery(err))
		require.ErrorContains(t, err, string(StageEnrich))
		require.Zero(t, store.ListLen(m.Keys().BacklogQueue))
	})
}

func TestInitialize_StoreErrorAborts(t *testing.T) {
	store := &failingStore{QueueStore: newMemoryStore(), broken: true}
	m := newManagerOn(store, scenarioSource())

	_, err := m.Initialize(context.Background(), "*", true)
	require.True(t, apperr.IsStoreUnavailable(err))
	require.ErrorContains(t, err, string(StageClearBacklog))
}

func TestPrepareNewJobs_DoesNotTouchStore(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, scenarioSource())
	require.NoError(t, m.QueueJob(ctx, mustJob(t, "keep", "x", 1)))

	jobs, err := m.PrepareNewJobs(ctx, "*")
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1", "A:t2", "B:t1"}, jobIDs(jobs))
	for _, j := range jobs {
		require.Zero(t, j.Count)
	}
	require.Equal(t, 1, store.ListLen(m.Keys().BacklogQueue))
}

func TestEnrichCounts(t *testing.T) {
	ctx := context.Background()
	src := scenarioSource()
	m, _ := newTestManager(t, src)

	jobs := []*entity.Job{mustJob(t, "A", "t1", 0), mustJob(t, "B", "t1", 0)}
	total, err := m.EnrichCounts(ctx, jobs, nil)
	require.NoError(t, err)
	require.EqualValues(t, 8, total)
	require.EqualValues(t, 3, jobs[0].Count)
	require.EqualValues(t, 5, jobs[1].Count)
	require.Equal(t, []string{"A:t1", "B:t1"}, src.countCalls)

	total, err = m.EnrichCounts(ctx, nil, nil)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestSetFilter_ErrorKeepsPrevious(t *testing.T) {
	m, _ := newTestManager(t, scenarioSource())
	require.NoError(t, m.SetIndexFilter("^A$"))

	err := m.SetIndexFilter("([")
	require.True(t, apperr.IsConfiguration(err))
	err = m.SetIndexFilter(filter.Ref("missing"))
	require.True(t, apperr.IsConfiguration(err))
	err = m.SetIndexComparator(func(a string) bool { return true })
	require.True(t, apperr.IsConfiguration(err))

	res, err := m.Initialize(context.Background(), "*", true)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1", "A:t2"}, jobIDs(res.Jobs))

	m.ResetFilters()
	res, err = m.Initialize(context.Background(), "*", true)
	require.NoError(t, err)
	require.Len(t, res.Jobs, 3)
}

func TestManagers_DoNotShareFilters(t *testing.T) {
	a, _ := newTestManager(t, scenarioSource())
	b, _ := newTestManager(t, scenarioSource())
	require.NoError(t, a.SetIndexFilter("^B$"))

	jobs, err := b.PrepareNewJobs(context.Background(), "*")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
}
