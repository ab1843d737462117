package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// DefaultTransport is used when no pubsub system is configured.
const DefaultTransport = "channel"

var (
	// ErrConfigRequired is returned by Build without config.
	ErrConfigRequired = errors.New("transport: config is required")
	// ErrUnknownTransport is returned by Build for unregistered pubsub systems.
	ErrUnknownTransport = errors.New("transport: unknown pubsub system")
)

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry maps pubsub system names to transport builders and their
// capabilities. Transport packages register themselves with DefaultRegistry
// from init.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry is the registry the messaging adapter builds from unless
// configured otherwise.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds or replaces the builder of name with unknown capabilities.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{})
}

// RegisterWithCapabilities adds or replaces the builder of name. An empty
// capability name defaults to name.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{build: builder, caps: caps}
}

// GetCapabilities returns the capabilities registered for name. Unknown
// transports report no capabilities.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build creates the transport named by cfg's pubsub system, DefaultTransport
// when unset.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, ErrConfigRequired
	}
	name := cfg.GetPubSubSystem()
	if name == "" {
		name = DefaultTransport
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}
	return e.build(ctx, cfg, logger)
}

// Names returns the registered pubsub system names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}
