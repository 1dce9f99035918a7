// Package memory is an in-process QueueStore for tests and single-process runs.
package memory

import (
	"context"
	"sync"

	"migrator/internal/domain/repository"
)

type QueueStore struct {
	mu     sync.Mutex
	lists  map[string][]string
	hashes map[string]map[string]string
}

var _ repository.QueueStore = (*QueueStore)(nil)

func NewQueueStore() *QueueStore {
	return &QueueStore{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
	}
}

func (s *QueueStore) ListPopFront(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	value := list[0]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[1:]
	}
	return value, true, nil
}

func (s *QueueStore) ListPushBack(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], value)
	return nil
}

func (s *QueueStore) HashSet(_ context.Context, key, field, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	_, existed := h[field]
	h[field] = value
	if existed {
		return 0, nil
	}
	return 1, nil
}

func (s *QueueStore) HashGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.hashes[key][field]
	return value, ok, nil
}

func (s *QueueStore) HashDelete(_ context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	delete(h, field)
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *QueueStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (s *QueueStore) HashValues(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.hashes[key]))
	for _, value := range s.hashes[key] {
		out = append(out, value)
	}
	return out, nil
}

func (s *QueueStore) DeleteKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	delete(s.hashes, key)
	return nil
}

// ListLen is a test helper reporting the current length of a list.
func (s *QueueStore) ListLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key])
}

func (s *QueueStore) Close(context.Context) error {
	return nil
}
