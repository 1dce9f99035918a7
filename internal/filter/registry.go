package filter

import (
	"fmt"
	"strings"
	"sync"

	"migrator/internal/domain/apperr"
)

// Registry holds named predicates and comparators that filter inputs may reference.
// Values are checked for shape when resolved, not when registered.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// NewDefaultRegistry returns a registry preloaded with the built-in comparators
// "name_asc" and "name_desc".
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("name_asc", Comparator(strings.Compare))
	r.Register("name_desc", Comparator(func(a, b string) int { return strings.Compare(b, a) }))
	return r
}

// Register stores value under name, replacing any earlier entry.
// It reports whether an entry was replaced.
func (r *Registry) Register(name string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[name]
	r.entries[name] = value
	return exists
}

func (r *Registry) RegisterPredicate(name string, p Predicate) bool {
	return r.Register(name, p)
}

func (r *Registry) RegisterComparator(name string, c Comparator) bool {
	return r.Register(name, c)
}

// Names lists the registered names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

func (r *Registry) lookup(setting, name string) (any, error) {
	if r == nil {
		return nil, apperr.NewConfigurationError(setting, fmt.Sprintf("unresolvable module reference %q: no registry", name))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.entries[name]
	if !ok {
		return nil, apperr.NewConfigurationError(setting, fmt.Sprintf("unresolvable module reference %q", name))
	}
	return value, nil
}
