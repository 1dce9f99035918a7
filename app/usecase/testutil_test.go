package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/store/memory"
)

// fakeSource serves fixed indices and counts and records every query.
type fakeSource struct {
	mu          sync.Mutex
	indices     []entity.Index
	counts      map[string]int64
	discoverErr error
	countErr    map[string]error
	countCalls  []string
}

func (f *fakeSource) Discover(_ context.Context, _ string) ([]entity.Index, error) {
	if f.discoverErr != nil {
		return nil, apperr.NewSourceQueryError("discover", "", "", f.discoverErr)
	}
	out := make([]entity.Index, len(f.indices))
	for i, idx := range f.indices {
		out[i] = entity.Index{Name: idx.Name, Subcollections: append([]string(nil), idx.Subcollections...)}
	}
	return out, nil
}

func (f *fakeSource) Count(_ context.Context, collection, subcollection string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := collection + entity.JobIDSeparator + subcollection
	f.countCalls = append(f.countCalls, id)
	if err := f.countErr[id]; err != nil {
		return 0, apperr.NewSourceQueryError("count", collection, subcollection, err)
	}
	return f.counts[id], nil
}

// failingStore fails every call once broken is set.
type failingStore struct {
	*memory.QueueStore
	broken bool
}

var errBroken = errors.New("connection reset")

func (s *failingStore) HashSet(ctx context.Context, key, field, value string) (int64, error) {
	if s.broken {
		return 0, apperr.NewStoreError("hset", key, errBroken)
	}
	return s.QueueStore.HashSet(ctx, key, field, value)
}

func (s *failingStore) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	if s.broken {
		return "", false, apperr.NewStoreError("lpop", key, errBroken)
	}
	return s.QueueStore.ListPopFront(ctx, key)
}

func (s *failingStore) DeleteKey(ctx context.Context, key string) error {
	if s.broken {
		return apperr.NewStoreError("del", key, errBroken)
	}
	return s.QueueStore.DeleteKey(ctx, key)
}

func scenarioSource() *fakeSource {
	return &fakeSource{
		indices: []entity.Index{
			{Name: "A", Subcollections: []string{"t1", "t2"}},
			{Name: "B", Subcollections: []string{"t1"}},
		},
		counts: map[string]int64{"A:t1": 3, "A:t2": 7, "B:t1": 5},
	}
}

func newTestManager(t *testing.T, src *fakeSource) (*Manager, *memory.QueueStore) {
	t.Helper()
	store := memory.NewQueueStore()
	return NewManager(store, src, DefaultKeys(""), nil, zerolog.Nop()), store
}

func mustJob(t *testing.T, collection, subcollection string, count int64) *entity.Job {
	t.Helper()
	job, err := entity.NewJobWithCount(collection, subcollection, count)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	return job
}

func jobIDs(jobs []*entity.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID())
	}
	return ids
}

func newMemoryStore() *memory.QueueStore {
	return memory.NewQueueStore()
}

func newManagerOn(store repository.QueueStore, src *fakeSource) *Manager {
	return NewManager(store, src, DefaultKeys(""), nil, zerolog.Nop())
}
