package actuator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Actuator applies one named remediation. Implementations must honour ctx
// cancellation; the orchestrator bounds every call with a timeout and
// treats a timeout the same as a failure.
type Actuator interface {
	Name() string
	Apply(ctx context.Context) error
}

// Func adapts a plain function into an Actuator. Used for emergency hooks
// and in tests.
type Func struct {
	ActionName string
	ApplyFn    func(ctx context.Context) error
}

func (f Func) Name() string { return f.ActionName }

func (f Func) Apply(ctx context.Context) error {
	return f.ApplyFn(ctx)
}

// Registry holds named actuators. Rules reference actions only by name.
type Registry struct {
	mu        sync.RWMutex
	actuators map[string]Actuator
}

// NewRegistry returns an empty actuator registry.
func NewRegistry() *Registry {
	return &Registry{actuators: make(map[string]Actuator)}
}

// Register adds an actuator, rejecting duplicate names.
func (r *Registry) Register(a Actuator) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("actuator must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actuators[a.Name()]; exists {
		return fmt.Errorf("actuator %q already registered", a.Name())
	}
	r.actuators[a.Name()] = a
	return nil
}

// Lookup returns the actuator registered under name.
func (r *Registry) Lookup(name string) (Actuator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actuators[name]
	return a, ok
}

// Names returns all registered actuator names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actuators))
	for name := range r.actuators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether every listed action is registered, returning the
// first missing name. Rule validation uses it at load time.
func (r *Registry) Has(names ...string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := r.actuators[name]; !ok {
			return name, false
		}
	}
	return "", true
}
