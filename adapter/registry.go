package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errspkg "github.com/drblury/procflow/internal/runtime/errors"
)

// Capabilities describes what a backend needs and offers.
type Capabilities struct {
	// NeedsResources is set for adapters deploying their own resources from
	// a resources location.
	NeedsResources bool

	// RemoteEngine is set when the workflow engine runs outside the process.
	RemoteEngine bool

	// SupportsCorrelationID indicates message correlation honours the
	// correlation id.
	SupportsCorrelationID bool

	// Name is the human-readable name of the backend.
	Name string
}

// Registry maps adapter ids to adapters. It is filled during startup and
// sealed before the first wiring.
type Registry struct {
	mu           sync.RWMutex
	adapters     map[string]Adapter
	capabilities map[string]Capabilities
	sealed       bool
}

// DefaultRegistry is the global adapter registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:     make(map[string]Adapter),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a under its id. Registering on a sealed registry panics.
func (r *Registry) Register(a Adapter, caps Capabilities) {
	if a == nil {
		panic("procflow: nil adapter")
	}
	id := strings.TrimSpace(a.ID())
	if id == "" {
		panic("procflow: adapter without id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("%v: cannot register adapter %q", errspkg.ErrRegistrySealed, id))
	}
	if caps.Name == "" {
		caps.Name = id
	}
	r.adapters[id] = a
	r.capabilities[id] = caps
}

// Get returns the adapter registered as id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Capabilities returns the capabilities of id, or a zero value naming id when
// the adapter is unknown.
func (r *Registry) Capabilities(id string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[id]; ok {
		return caps
	}
	return Capabilities{Name: id}
}

// Names returns the registered adapter ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if an adapter is registered as id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Register adds an adapter to the default registry.
func Register(a Adapter, caps Capabilities) {
	DefaultRegistry.Register(a, caps)
}
