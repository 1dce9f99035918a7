package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"migrator/internal/domain/entity"
)

type fakeTransfer struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func (f *fakeTransfer) Transfer(_ context.Context, job *entity.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, job.ID())
	return f.fail[job.ID()]
}

func (f *fakeTransfer) transferred() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func TestWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())
	tr := &fakeTransfer{}
	w := NewWorker(m, tr, time.Second, 0, zerolog.Nop())
	require.NotEmpty(t, w.ID())

	done, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, m.QueueJob(ctx, mustJob(t, "A", "t1", 3)))
	done, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, done)

	require.Equal(t, []string{"A:t1"}, tr.transferred())
	completed, err := m.GetCompletedJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1"}, jobIDs(completed))
	require.EqualValues(t, 3, completed[0].Count)
}

func TestWorker_RequeuesOnFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())
	tr := &fakeTransfer{fail: map[string]error{"A:t1": errors.New("bulk write failed")}}
	w := NewWorker(m, tr, time.Second, 0, zerolog.Nop())

	require.NoError(t, m.QueueJob(ctx, mustJob(t, "A", "t1", 3)))
	_, err := w.RunOnce(ctx)
	require.ErrorContains(t, err, "bulk write failed")

	backlog, err := m.GetBacklogJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A:t1"}, jobIDs(backlog))
	require.EqualValues(t, 3, backlog[0].Count)

	completed, err := m.GetCompletedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func TestWorker_Drain(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())
	_, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)

	tr := &fakeTransfer{}
	w := NewWorker(m, tr, time.Second, time.Minute, zerolog.Nop())
	n, err := w.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"A:t1", "A:t2", "B:t1"}, tr.transferred())

	count, err := m.GetCompletedCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 15, count)

	count, err = m.GetBacklogCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestWorker_DrainStopsOnCanceledContext(t *testing.T) {
	m, _ := newTestManager(t, scenarioSource())
	require.NoError(t, m.QueueJob(context.Background(), mustJob(t, "A", "t1", 3)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(m, &fakeTransfer{}, time.Second, 0, zerolog.Nop())
	n, err := w.Drain(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
}

func TestWorker_StartStop(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, scenarioSource())
	tr := &fakeTransfer{}
	w := NewWorker(m, tr, 10*time.Millisecond, 0, zerolog.Nop())

	w.Start(ctx)
	w.Start(ctx)
	require.NoError(t, m.QueueJob(ctx, mustJob(t, "B", "t1", 5)))

	require.Eventually(t, func() bool {
		return len(tr.transferred()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestWorker_StopWithoutStart(t *testing.T) {
	m, _ := newTestManager(t, scenarioSource())
	w := NewWorker(m, &fakeTransfer{}, 0, 0, zerolog.Nop())
	w.Stop()
}

func TestWorkers_ShareBacklog(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{counts: map[string]int64{}}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		src.indices = append(src.indices, entity.Index{Name: name, Subcollections: []string{"t1", "t2"}})
	}
	m, _ := newTestManager(t, src)
	_, err := m.Initialize(ctx, "*", true)
	require.NoError(t, err)

	tr := &fakeTransfer{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := NewWorker(m, tr, time.Second, 0, zerolog.Nop())
			_, err := w.Drain(ctx)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := tr.transferred()
	require.Len(t, seen, 16)
	require.ElementsMatch(t, seen, uniq(seen))
}

func uniq(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
