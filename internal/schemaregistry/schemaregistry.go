// Package schemaregistry tracks named payload validators a topic can
// reference by name in its configuration.
//
// Modeled on the teacher's namespace.Registry skeleton (name validation,
// map guarded by a mutex, Register/Get/List/Delete), without the JSON
// sidecar persistence — schemas are registered in-process by the embedding
// application, not read back from disk on restart.
package schemaregistry

import (
	"regexp"
	"sort"
	"sync"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator reports whether payload conforms to a schema.
type Validator interface {
	Validate(payload []byte) bool
}

// Registry is a named set of Validators.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// ValidateName reports whether name is a well-formed schema name.
func ValidateName(name string) bool { return name != "" && nameRe.MatchString(name) }

// Register adds or replaces the validator for name.
func (r *Registry) Register(name string, v Validator) error {
	if !ValidateName(name) {
		return errkind.Newf(errkind.InvalidArgument, "schemaregistry: invalid schema name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// Get returns the validator registered for name.
func (r *Registry) Get(name string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "schemaregistry: schema %q not found", name)
	}
	return v, nil
}

// Delete removes a registered validator. Unknown names are a no-op.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.validators, name)
}

// List returns every registered schema name, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
