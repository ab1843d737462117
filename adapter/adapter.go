// Package adapter defines the contract between procflow and the process-engine
// backends it dispatches to. Each backend registers itself with a Registry
// under its adapter id.
package adapter

import (
	"context"
	"errors"
	"reflect"

	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/wiring"
	"github.com/drblury/procflow/repository"
)

// ErrUnknownTask is returned by executors asked to complete or cancel a task
// they do not own.
var ErrUnknownTask = errors.New("procflow: task unknown to adapter")

// Executor performs workflow operations for one aggregate type on one
// backend. Every method returns the aggregate as it stands after the call.
type Executor interface {
	StartWorkflow(ctx context.Context, aggregate any) (any, error)
	CorrelateMessage(ctx context.Context, aggregate any, messageName, correlationID string) (any, error)
	CorrelatePayload(ctx context.Context, aggregate any, message any, correlationID string) (any, error)
	CompleteTask(ctx context.Context, aggregate any, taskID string) (any, error)
	CancelTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error)
	CompleteUserTask(ctx context.Context, aggregate any, taskID string) (any, error)
	CancelUserTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error)
}

// Parent exposes the wiring state of the dispatcher an executor belongs to.
type Parent interface {
	ModuleID() string
	PrimaryProcessID() string
	ProcessIDs() []string
}

// Binding is what an adapter gets when asked for an executor.
type Binding struct {
	AdapterID     string
	AggregateType string
	Repository    repository.Repository
	Logger        loggingpkg.ServiceLogger
	Parent        Parent
}

// TaskNode is one task of a process model.
type TaskNode struct {
	ElementID      string
	TaskDefinition string
	Name           string
	UserTask       bool
}

// ProcessModel describes a deployable process.
type ProcessModel struct {
	ID            string
	VersionInfo   string
	StartMessages []string
	StartSignals  []string
	Tasks         []TaskNode
	// Reference marks models deployed for lookup only. Their tasks are not
	// wired.
	Reference bool
}

// Connectable returns the wiring description of task n.
func (m ProcessModel) Connectable(n TaskNode) wiring.Connectable {
	return wiring.Connectable{
		ProcessID:      m.ID,
		TaskDefinition: n.TaskDefinition,
		ElementID:      n.ElementID,
		VersionInfo:    m.VersionInfo,
		Executable:     !m.Reference,
	}
}

// Deployment is the set of models an adapter deploys for one workflow module.
type Deployment struct {
	ModuleID string
	// ResourcesLocation is where the adapter finds its own deployment
	// resources. It is empty for adapters that do not need any.
	ResourcesLocation string
	Models            []ProcessModel
}

// Task is one task callback as seen by a task handler.
type Task struct {
	ID          string
	AggregateID string
	Event       parameters.Event
	Variables   map[string]any
	// MultiInstance holds the iteration contexts of the enclosing
	// multi-instance scopes by name.
	MultiInstance map[string]parameters.MultiInstance
}

// TaskHandler runs the handler func wired to a task.
type TaskHandler interface {
	Handle(ctx context.Context, task Task) error
}

// Wirer receives the processes and tasks an adapter discovers on deploy.
type Wirer interface {
	WireProcess(ctx context.Context, adapterID, moduleID string, model ProcessModel) error
	WireTask(ctx context.Context, adapterID, moduleID string, c wiring.Connectable) (TaskHandler, error)
}

// Adapter is one process-engine backend.
type Adapter interface {
	ID() string
	Executor(ctx context.Context, binding Binding) (Executor, error)
	Deploy(ctx context.Context, deployment Deployment, wirer Wirer) error
}

// Named is implemented by correlation payloads that carry their own message
// name.
type Named interface {
	MessageName() string
}

// MessageName returns the message name of a correlation payload: its own
// name for Named payloads, otherwise its type name.
func MessageName(message any) string {
	if n, ok := message.(Named); ok {
		return n.MessageName()
	}
	t := reflect.TypeOf(message)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
