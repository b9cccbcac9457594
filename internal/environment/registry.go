package environment

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEnvironment is returned for names that are not configured.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Registry manages the collection of loaded environments
type Registry struct {
	mu           sync.RWMutex
	environments map[string]*Environment
}

// NewRegistry creates a new environment registry
func NewRegistry(environments map[string]*Environment) *Registry {
	return &Registry{
		environments: environments,
	}
}

// Get retrieves an environment by name
func (r *Registry) Get(name string) (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	env, exists := r.environments[name]
	if !exists {
		return nil, fmt.Errorf("%w: '%s' (configured: %v)", ErrUnknownEnvironment, name, r.namesLocked())
	}

	return env, nil
}

// List returns all environment names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.environments))
	for name := range r.environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of environments
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.environments)
}
