// Package topicregistry is a process-wide named directory, generic over the
// value type so the root package can register *Topic without an import
// cycle (topicregistry has no dependency on the broker's Topic type).
//
// Modeled on the teacher's internal/namespace.Registry skeleton
// (name-validated create/ensure/get/list/delete behind one mutex), minus the
// JSON-file persistence: topic existence is a process-lifetime concept here,
// not something restored from disk on restart.
package topicregistry

import (
	"regexp"
	"sort"
	"sync"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName reports whether name matches the topic-name grammar.
func ValidateName(name string) bool { return name != "" && nameRe.MatchString(name) }

// Registry is a named directory of values of type T.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Create builds a new entry for name via factory and stores it. It fails
// with errkind.AlreadyExists if name is taken, or errkind.InvalidArgument if
// name is malformed.
func (r *Registry[T]) Create(name string, factory func() (T, error)) (T, error) {
	var zero T
	if !ValidateName(name) {
		return zero, errkind.Newf(errkind.InvalidArgument, "topicregistry: invalid topic name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return zero, errkind.Newf(errkind.AlreadyExists, "topicregistry: topic %q already exists", name)
	}

	v, err := factory()
	if err != nil {
		return zero, err
	}
	r.items[name] = v
	return v, nil
}

// Ensure returns the existing entry for name, or creates one via factory if
// absent. Unlike Create, an existing entry is not an error.
func (r *Registry[T]) Ensure(name string, factory func() (T, error)) (T, error) {
	var zero T
	if !ValidateName(name) {
		return zero, errkind.Newf(errkind.InvalidArgument, "topicregistry: invalid topic name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[name]; ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return zero, err
	}
	r.items[name] = v
	return v, nil
}

// Get returns the entry registered for name.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	if !ok {
		return v, errkind.Newf(errkind.NotFound, "topicregistry: topic %q not found", name)
	}
	return v, nil
}

// Exists reports whether name is currently registered.
func (r *Registry[T]) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Delete removes name from the registry. Reports whether it was present.
func (r *Registry[T]) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; !ok {
		return false
	}
	delete(r.items, name)
	return true
}

// List returns every registered name, sorted.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
