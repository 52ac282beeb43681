package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Probe samples one named metric. Implementations must honour ctx
// cancellation; the snapshot builder bounds every call with a timeout.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (models.Value, error)
}

// Func adapts a plain function into a Probe.
type Func struct {
	ProbeName string
	SampleFn  func(ctx context.Context) (models.Value, error)
}

func (f Func) Name() string { return f.ProbeName }

func (f Func) Sample(ctx context.Context) (models.Value, error) {
	return f.SampleFn(ctx)
}

// Registry holds named probes. Rules reference metrics only by name, never
// by direct call, so probe implementations stay substitutable.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry returns an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe, rejecting duplicate names.
func (r *Registry) Register(p Probe) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("probe must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.probes[p.Name()]; exists {
		return fmt.Errorf("probe %q already registered", p.Name())
	}
	r.probes[p.Name()] = p
	return nil
}

// Lookup returns the probe registered under name.
func (r *Registry) Lookup(name string) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[name]
	return p, ok
}

// Names returns all registered probe names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the probes matching names, or every probe when names is
// empty. Unknown names are reported as an error so callers never silently
// sample a subset they did not ask for.
func (r *Registry) Select(names []string) ([]Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		all := make([]Probe, 0, len(r.probes))
		for _, p := range r.probes {
			all = append(all, p)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
		return all, nil
	}

	selected := make([]Probe, 0, len(names))
	for _, name := range names {
		p, ok := r.probes[name]
		if !ok {
			return nil, fmt.Errorf("unknown probe %q", name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}
