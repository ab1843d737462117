package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
)

// TaskContext provides information about a task handler invocation to hooks.
type TaskContext struct {
	// Handler is the qualified name of the handler func ("Service.Method").
	Handler string
	// AdapterID is the adapter delivering the task.
	AdapterID string
	// ModuleID is the workflow module of the process.
	ModuleID string
	// ProcessID is the process the task belongs to.
	ProcessID string
	// TaskDefinition and ElementID identify the task node of the process.
	TaskDefinition string
	ElementID      string
	// TaskID is the id of the task instance.
	TaskID string
	// AggregateID is the id of the workflow aggregate.
	AggregateID string
	// Event is the lifecycle event of the task.
	Event parameters.Event
	// Context is the context the handler is invoked with.
	Context context.Context
	// StartedAt is when the invocation started.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnTaskDone and OnTaskError).
	Duration time.Duration
}

// TaskHooks defines callbacks for task handler invocations.
// All hooks are optional - nil hooks are simply not called.
type TaskHooks struct {
	// OnTaskStart is called before the handler arguments are bound.
	OnTaskStart func(ctx TaskContext)

	// OnTaskDone is called when the handler returned without error and the
	// aggregate was saved.
	OnTaskDone func(ctx TaskContext)

	// OnTaskError is called when binding, the handler or saving failed.
	OnTaskError func(ctx TaskContext, err error)
}

// Merge combines two TaskHooks, creating a new TaskHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h TaskHooks) Merge(other TaskHooks) TaskHooks {
	return TaskHooks{
		OnTaskStart: chainHooks(h.OnTaskStart, other.OnTaskStart),
		OnTaskDone:  chainHooks(h.OnTaskDone, other.OnTaskDone),
		OnTaskError: chainErrorHooks(h.OnTaskError, other.OnTaskError),
	}
}

func (h TaskHooks) start(ctx TaskContext) {
	if h.OnTaskStart != nil {
		h.OnTaskStart(ctx)
	}
}

func (h TaskHooks) finish(ctx TaskContext, err error) {
	if err != nil {
		if h.OnTaskError != nil {
			h.OnTaskError(ctx, err)
		}
		return
	}
	if h.OnTaskDone != nil {
		h.OnTaskDone(ctx)
	}
}

func chainHooks(a, b func(TaskContext)) func(TaskContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(TaskContext, error)) func(TaskContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log task lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			logger.Info("Task started", ctx.fields())
		},
		OnTaskDone: func(ctx TaskContext) {
			logger.Info("Task completed", ctx.fields().Merge(loggingpkg.LogFields{
				"duration_ms": ctx.Duration.Milliseconds(),
			}))
		},
		OnTaskError: func(ctx TaskContext, err error) {
			logger.Error("Task failed", err, ctx.fields().Merge(loggingpkg.LogFields{
				"duration_ms": ctx.Duration.Milliseconds(),
			}))
		},
	}
}

// MetricsHooks returns pre-built hooks that record task metrics.
func MetricsHooks(onStart, onDone, onError func(handler, processID string)) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			if onStart != nil {
				onStart(ctx.Handler, ctx.ProcessID)
			}
		},
		OnTaskDone: func(ctx TaskContext) {
			if onDone != nil {
				onDone(ctx.Handler, ctx.ProcessID)
			}
		},
		OnTaskError: func(ctx TaskContext, err error) {
			if onError != nil {
				onError(ctx.Handler, ctx.ProcessID)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on task errors.
func AlertingHooks(alertFunc func(ctx TaskContext, err error)) TaskHooks {
	return TaskHooks{
		OnTaskError: alertFunc,
	}
}

func (c TaskContext) fields() loggingpkg.LogFields {
	return loggingpkg.WorkflowContext{
		ModuleID:    c.ModuleID,
		AdapterID:   c.AdapterID,
		AggregateID: c.AggregateID,
		ProcessID:   c.ProcessID,
		TaskID:      c.TaskID,
		TaskNode:    c.TaskDefinition,
		TaskNodeID:  c.ElementID,
	}.Fields().Merge(loggingpkg.LogFields{
		"handler": c.Handler,
		"event":   string(c.Event),
	})
}
