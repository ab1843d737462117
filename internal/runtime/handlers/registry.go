package handlers

import (
	"sort"
	"sync"
)

// Registry collects workflow services during startup and serves a sorted
// snapshot of them to the wiring. Invalidate drops the snapshot once startup
// is over.
type Registry struct {
	mu       sync.Mutex
	declared []WorkflowService
	cache    []WorkflowService
	cached   bool
}

// NewRegistry creates a registry holding services.
func NewRegistry(services ...WorkflowService) *Registry {
	r := &Registry{}
	r.Add(services...)
	return r
}

// Add declares more services.
func (r *Registry) Add(services ...WorkflowService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range services {
		r.declared = append(r.declared, s.clone())
	}
	r.cache, r.cached = nil, false
}

// Services returns the declared services ordered by name. The slice is shared
// until the next Add or Invalidate and must not be modified.
func (r *Registry) Services() []WorkflowService {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached {
		return r.cache
	}
	snapshot := make([]WorkflowService, len(r.declared))
	copy(snapshot, r.declared)
	sort.SliceStable(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })
	r.cache, r.cached = snapshot, true
	return snapshot
}

// Invalidate drops the cached snapshot.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache, r.cached = nil, false
}

// Len returns the number of declared services.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.declared)
}
