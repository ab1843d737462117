// Package dispatch routes the workflow operations of one aggregate type to the
// adapters configured for it.
package dispatch

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/drblury/procflow/adapter"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/telemetry"
	"github.com/drblury/procflow/repository"
)

// Routing resolves the adapter chain of a process.
type Routing interface {
	ResolveAdapterChain(moduleID, processID string, registered []string) ([]string, error)
}

// Options configures a Dispatcher.
type Options struct {
	AggregateType string
	Repository    repository.Repository
	Routing       Routing
	Logger        loggingpkg.ServiceLogger
	Metrics       *telemetry.Metrics
}

// Dispatcher is the single facade application code uses to drive the
// workflows of one aggregate type, whichever adapters implement them.
type Dispatcher struct {
	aggregateType string
	repo          repository.Repository
	routing       Routing
	logger        loggingpkg.ServiceLogger
	metrics       *telemetry.Metrics

	mu            sync.RWMutex
	executors     map[string]adapter.Executor
	moduleID      string
	wiredBy       map[string]struct{}
	owners        map[string][]string
	primary       string
	startMessages map[string]struct{}
	chains        map[string][]string
}

// New creates a dispatcher without adapters. Attach one executor per
// registered adapter before the first Wire.
func New(opts Options) (*Dispatcher, error) {
	if opts.Repository == nil {
		return nil, errspkg.ErrRepositoryRequired
	}
	if opts.Routing == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Dispatcher{
		aggregateType: opts.AggregateType,
		repo:          opts.Repository,
		routing:       opts.Routing,
		logger:        opts.Logger.With(loggingpkg.LogFields{"aggregate_type": opts.AggregateType}),
		metrics:       opts.Metrics,
		executors:     make(map[string]adapter.Executor),
		wiredBy:       make(map[string]struct{}),
		owners:        make(map[string][]string),
		startMessages: make(map[string]struct{}),
		chains:        make(map[string][]string),
	}, nil
}

// Attach adds the executor of adapterID.
func (d *Dispatcher) Attach(adapterID string, executor adapter.Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[adapterID] = executor
}

// AggregateType returns the name of the aggregate type served.
func (d *Dispatcher) AggregateType() string { return d.aggregateType }

// Repository returns the repository of the aggregate type.
func (d *Dispatcher) Repository() repository.Repository { return d.repo }

// ModuleID returns the workflow module the aggregate type is bound to.
func (d *Dispatcher) ModuleID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.moduleID
}

// PrimaryProcessID returns the process used to start new workflows.
func (d *Dispatcher) PrimaryProcessID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.primary
}

// ProcessIDs returns every wired process id, sorted.
func (d *Dispatcher) ProcessIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.owners))
	for id := range d.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartMessages returns the message names starting the primary process,
// sorted.
func (d *Dispatcher) StartMessages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.startMessages))
	for name := range d.startMessages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AdapterIDs returns the ids of the attached adapters, sorted.
func (d *Dispatcher) AdapterIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adapterIDsLocked()
}

// AdapterChain returns the adapter chain of the primary process.
func (d *Dispatcher) AdapterChain() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.primary == "" {
		return nil, d.notWired()
	}
	chain, err := d.chainLocked(d.primary)
	if err != nil {
		return nil, err
	}
	return slices.Clone(chain), nil
}

// Wire records the claim of adapterID on processID.
//
// The aggregate type is bound to the first module wired. A process may be
// claimed again only by adapters attached to this dispatcher, and only one
// process may be primary. Once every attached adapter has wired, the adapter
// chains of all wired processes are resolved and checked.
func (d *Dispatcher) Wire(adapterID, moduleID, processID string, isPrimary bool, startMessages []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.moduleID != "" && moduleID != "" && d.moduleID != moduleID {
		return &errspkg.ModuleConflictError{
			AggregateType:     d.aggregateType,
			BoundModuleID:     d.moduleID,
			RequestedModuleID: moduleID,
			AdapterID:         adapterID,
			WiredBy:           d.wiredByLocked(),
		}
	}

	_, attached := d.executors[adapterID]
	if owners, claimed := d.owners[processID]; claimed && !attached {
		return &errspkg.ProcessOwnershipConflictError{
			AggregateType: d.aggregateType,
			ModuleID:      moduleID,
			ProcessID:     processID,
			AdapterID:     adapterID,
			Owners:        slices.Clone(owners),
			Reason:        "process already claimed by adapters not including this one",
		}
	}

	if isPrimary && d.primary != "" && d.primary != processID {
		return &errspkg.ProcessOwnershipConflictError{
			AggregateType: d.aggregateType,
			ModuleID:      moduleID,
			ProcessID:     processID,
			AdapterID:     adapterID,
			Owners:        []string{d.primary},
			Reason:        fmt.Sprintf("process %q is already the primary process", d.primary),
		}
	}

	if d.moduleID == "" {
		d.moduleID = moduleID
	}
	if !slices.Contains(d.owners[processID], adapterID) {
		d.owners[processID] = append(d.owners[processID], adapterID)
	}
	if isPrimary {
		d.primary = processID
		for _, name := range startMessages {
			d.startMessages[name] = struct{}{}
		}
	}
	if attached {
		d.wiredBy[adapterID] = struct{}{}
	}

	d.logger.Debug("Wired process", loggingpkg.WorkflowContext{
		ModuleID:  d.moduleID,
		AdapterID: adapterID,
		ProcessID: processID,
	}.Fields().Merge(loggingpkg.LogFields{"primary": isPrimary}))

	if len(d.wiredBy) < len(d.executors) {
		return nil
	}
	return d.validateLocked()
}

// validateLocked resolves and caches the chain of every wired process.
func (d *Dispatcher) validateLocked() error {
	registered := d.adapterIDsLocked()
	for processID := range d.owners {
		chain, err := d.routing.ResolveAdapterChain(d.moduleID, processID, registered)
		if err != nil {
			return err
		}
		d.chains[processID] = chain
	}
	return nil
}

func (d *Dispatcher) chainLocked(processID string) ([]string, error) {
	if chain, ok := d.chains[processID]; ok {
		return chain, nil
	}
	return d.routing.ResolveAdapterChain(d.moduleID, processID, d.adapterIDsLocked())
}

func (d *Dispatcher) adapterIDsLocked() []string {
	ids := make([]string, 0, len(d.executors))
	for id := range d.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Dispatcher) wiredByLocked() []string {
	ids := make([]string, 0, len(d.wiredBy))
	for id := range d.wiredBy {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Dispatcher) notWired() error {
	return fmt.Errorf("%w: %s", errspkg.ErrNotWired, d.aggregateType)
}
