// Package inmem provides an adapter that runs workflows in memory. It tracks
// process instances and open tasks, and lets callers simulate the engine
// creating a task with OpenTask.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/drblury/procflow/adapter"
	"github.com/drblury/procflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/wiring"
)

// ID is the adapter id used unless overridden with WithID.
const ID = "inmem"

// Capabilities of the in-memory adapter.
var Capabilities = adapter.Capabilities{
	Name:                  "In-memory",
	SupportsCorrelationID: true,
}

var (
	// ErrNoInstance is returned when a message is correlated to an aggregate
	// without running workflow.
	ErrNoInstance = errors.New("inmem: no running workflow for aggregate")
	// ErrNoHandler is returned by OpenTask for task nodes nothing was wired to.
	ErrNoHandler = errors.New("inmem: no task handler wired")
)

// Instance is one running process instance.
type Instance struct {
	ID          string
	ModuleID    string
	ProcessID   string
	AggregateID string
	StartedAt   time.Time
	// Messages lists the correlated message names in arrival order.
	Messages []string
}

// OpenTask is a task created by the engine and not yet completed or
// cancelled.
type OpenTask struct {
	ID             string
	ProcessID      string
	TaskDefinition string
	ElementID      string
	AggregateID    string
	UserTask       bool
	CreatedAt      time.Time
}

// TaskRequest describes a task the engine creates.
type TaskRequest struct {
	ProcessID string
	// TaskDefinition or ElementID selects the task node.
	TaskDefinition string
	ElementID      string
	AggregateID    string
	Variables      map[string]any
	MultiInstance  map[string]parameters.MultiInstance
}

// Outcome records how a task was closed.
type Outcome struct {
	TaskID    string
	Completed bool
	ErrorCode string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithID registers the adapter under id instead of ID.
func WithID(id string) Option {
	return func(a *Adapter) { a.id = id }
}

// WithLogger sets the logger used for deployment and task events.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(a *Adapter) { a.logger = logger }
}

type node struct {
	handler  adapter.TaskHandler
	userTask bool
}

// Adapter keeps all workflow state in memory.
type Adapter struct {
	id     string
	logger loggingpkg.ServiceLogger

	mu        sync.RWMutex
	models    map[string]adapter.ProcessModel
	nodes     map[string]node
	instances map[string]*Instance
	tasks     map[string]*OpenTask
	outcomes  []Outcome
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an in-memory adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		id:        ID,
		logger:    loggingpkg.NopLogger{},
		models:    make(map[string]adapter.ProcessModel),
		nodes:     make(map[string]node),
		instances: make(map[string]*Instance),
		tasks:     make(map[string]*OpenTask),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register creates an adapter and adds it to reg.
func Register(reg *adapter.Registry, opts ...Option) *Adapter {
	a := New(opts...)
	reg.Register(a, Capabilities)
	return a
}

// ID returns the adapter id.
func (a *Adapter) ID() string { return a.id }

// Executor returns the executor of one aggregate type.
func (a *Adapter) Executor(_ context.Context, binding adapter.Binding) (adapter.Executor, error) {
	if binding.Repository == nil {
		return nil, fmt.Errorf("inmem: aggregate %q has no repository", binding.AggregateType)
	}
	if binding.Parent == nil {
		return nil, fmt.Errorf("inmem: aggregate %q has no dispatcher", binding.AggregateType)
	}
	if binding.Logger == nil {
		binding.Logger = a.logger
	}
	return &executor{adapter: a, binding: binding}, nil
}

// Deploy wires every model of the deployment and the tasks of the executable
// ones.
func (a *Adapter) Deploy(ctx context.Context, deployment adapter.Deployment, wirer adapter.Wirer) error {
	for _, model := range deployment.Models {
		if err := wirer.WireProcess(ctx, a.id, deployment.ModuleID, model); err != nil {
			return err
		}

		a.mu.Lock()
		a.models[model.ID] = model
		a.mu.Unlock()

		if model.Reference {
			continue
		}
		for _, n := range model.Tasks {
			c := model.Connectable(n)
			h, err := wirer.WireTask(ctx, a.id, deployment.ModuleID, c)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.nodes[c.String()] = node{handler: h, userTask: n.UserTask}
			a.mu.Unlock()
		}
		a.logger.Debug("Deployed process", loggingpkg.WorkflowContext{
			ModuleID:  deployment.ModuleID,
			AdapterID: a.id,
			ProcessID: model.ID,
		}.Fields().Merge(loggingpkg.LogFields{"tasks": len(model.Tasks)}))
	}
	return nil
}

// OpenTask simulates the engine creating a task: it records the task and runs
// the handler wired to its node. The task stays open when the handler
// succeeds and is dropped when it fails.
func (a *Adapter) OpenTask(ctx context.Context, req TaskRequest) (string, error) {
	key := wiring.Connectable{
		ProcessID:      req.ProcessID,
		TaskDefinition: req.TaskDefinition,
		ElementID:      req.ElementID,
	}.String()

	a.mu.Lock()
	n, ok := a.nodes[key]
	if !ok {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNoHandler, key)
	}
	now := time.Now()
	task := &OpenTask{
		ID:             ids.CreateULIDAt(now),
		ProcessID:      req.ProcessID,
		TaskDefinition: req.TaskDefinition,
		ElementID:      req.ElementID,
		AggregateID:    req.AggregateID,
		UserTask:       n.userTask,
		CreatedAt:      now,
	}
	a.tasks[task.ID] = task
	a.mu.Unlock()

	err := n.handler.Handle(ctx, adapter.Task{
		ID:            task.ID,
		AggregateID:   req.AggregateID,
		Event:         parameters.EventCreated,
		Variables:     req.Variables,
		MultiInstance: req.MultiInstance,
	})
	if err != nil {
		a.mu.Lock()
		delete(a.tasks, task.ID)
		a.mu.Unlock()
		return "", err
	}
	return task.ID, nil
}

// WithdrawTask simulates the engine cancelling an open task, for example
// because of a boundary event. The handler is called with the CANCELED event.
func (a *Adapter) WithdrawTask(ctx context.Context, taskID string) error {
	a.mu.Lock()
	task, ok := a.tasks[taskID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", adapter.ErrUnknownTask, taskID)
	}
	delete(a.tasks, taskID)
	n := a.nodes[wiring.Connectable{
		ProcessID:      task.ProcessID,
		TaskDefinition: task.TaskDefinition,
		ElementID:      task.ElementID,
	}.String()]
	a.mu.Unlock()

	return n.handler.Handle(ctx, adapter.Task{
		ID:          task.ID,
		AggregateID: task.AggregateID,
		Event:       parameters.EventCanceled,
	})
}

// Task returns the open task taskID.
func (a *Adapter) Task(taskID string) (OpenTask, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tasks[taskID]
	if !ok {
		return OpenTask{}, false
	}
	return *t, true
}

// OpenTasks returns the open tasks of aggregateID in creation order.
func (a *Adapter) OpenTasks(aggregateID string) []OpenTask {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []OpenTask
	for _, t := range a.tasks {
		if t.AggregateID == aggregateID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instance returns the instance of processID running for aggregateID.
func (a *Adapter) Instance(processID, aggregateID string) (Instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.instances[instanceKey(processID, aggregateID)]
	if !ok {
		return Instance{}, false
	}
	out := *inst
	out.Messages = slices.Clone(inst.Messages)
	return out, true
}

// Outcomes returns how closed tasks were closed, in order.
func (a *Adapter) Outcomes() []Outcome {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.outcomes)
}

func (a *Adapter) start(moduleID, processID, aggregateID string) *Instance {
	key := instanceKey(processID, aggregateID)
	if inst, ok := a.instances[key]; ok {
		return inst
	}
	now := time.Now()
	inst := &Instance{
		ID:          ids.CreateULIDAt(now),
		ModuleID:    moduleID,
		ProcessID:   processID,
		AggregateID: aggregateID,
		StartedAt:   now,
	}
	a.instances[key] = inst
	return inst
}

func (a *Adapter) isStartMessage(processID, messageName string) bool {
	model, ok := a.models[processID]
	return ok && slices.Contains(model.StartMessages, messageName)
}

func (a *Adapter) close(aggregateID, taskID string, userTask bool, outcome Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	task, ok := a.tasks[taskID]
	if !ok || task.AggregateID != aggregateID || task.UserTask != userTask {
		return fmt.Errorf("%w: %s", adapter.ErrUnknownTask, taskID)
	}
	delete(a.tasks, taskID)
	a.outcomes = append(a.outcomes, outcome)
	return nil
}

func instanceKey(processID, aggregateID string) string {
	return processID + "/" + aggregateID
}
