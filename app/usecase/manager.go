package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
	"migrator/internal/filter"
)

// Keys are the shared-store keys one migration run coordinates on.
type Keys struct {
	BacklogQueue string
	BacklogHash  string
	Completed    string
}

// DefaultKeys returns the standard key layout with prefix prepended to each key.
func DefaultKeys(prefix string) Keys {
	return Keys{
		BacklogQueue: prefix + "backlog_queue",
		BacklogHash:  prefix + "backlog_hset",
		Completed:    prefix + "completed",
	}
}

// JobQueue is the worker-facing side of the Manager.
type JobQueue interface {
	FetchJob(ctx context.Context) (*entity.Job, error)
	QueueJob(ctx context.Context, job *entity.Job) error
	CompleteJob(ctx context.Context, job *entity.Job) error
}

var _ JobQueue = (*Manager)(nil)

// Manager owns the backlog, the completed ledger and the filters used to build jobs.
// Filters and comparator are per instance; two managers never share them.
type Manager struct {
	store    repository.QueueStore
	source   repository.Source
	keys     Keys
	registry *filter.Registry
	logger   zerolog.Logger

	mu          sync.RWMutex
	indexFilter filter.Predicate
	typeFilter  filter.Predicate
	comparator  filter.Comparator
}

func NewManager(
	store repository.QueueStore,
	source repository.Source,
	keys Keys,
	registry *filter.Registry,
	logger zerolog.Logger,
) *Manager {
	if registry == nil {
		registry = filter.NewDefaultRegistry()
	}
	return &Manager{
		store:    store,
		source:   source,
		keys:     keys,
		registry: registry,
		logger:   logger.With().Str("component", "manager").Logger(),
	}
}

func (m *Manager) Keys() Keys {
	return m.keys
}

func (m *Manager) Registry() *filter.Registry {
	return m.registry
}

// SetIndexFilter resolves f and uses it to select collections. On error the
// previous filter stays in effect.
func (m *Manager) SetIndexFilter(f any) error {
	pred, err := filter.ResolvePredicate("index_filter", f, m.registry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.indexFilter = pred
	m.mu.Unlock()
	return nil
}

// SetTypeFilter resolves f and uses it to select sub-collections.
func (m *Manager) SetTypeFilter(f any) error {
	pred, err := filter.ResolvePredicate("type_filter", f, m.registry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.typeFilter = pred
	m.mu.Unlock()
	return nil
}

// SetIndexComparator resolves c and uses it to order collections by name.
func (m *Manager) SetIndexComparator(c any) error {
	cmp, err := filter.ResolveComparator("index_comparator", c, m.registry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.comparator = cmp
	m.mu.Unlock()
	return nil
}

// ResetFilters unsets both filters and the comparator.
func (m *Manager) ResetFilters() {
	m.mu.Lock()
	m.indexFilter = nil
	m.typeFilter = nil
	m.comparator = nil
	m.mu.Unlock()
}

func (m *Manager) settings() (filter.Predicate, filter.Predicate, filter.Comparator) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexFilter, m.typeFilter, m.comparator
}
