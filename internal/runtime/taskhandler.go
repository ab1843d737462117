package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/procflow/adapter"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/telemetry"
	"github.com/drblury/procflow/internal/runtime/wiring"
)

// TaskHandler invokes the handler func wired to one task node. Adapters call
// Handle for every task callback they receive for that node.
type TaskHandler struct {
	adapterID   string
	moduleID    string
	connectable wiring.Connectable
	match       *wiring.Match
	binder      *parameters.Binder

	logger  loggingpkg.ServiceLogger
	metrics *telemetry.Metrics
	hooks   TaskHooks
	stats   *HandlerStats
}

var _ adapter.TaskHandler = (*TaskHandler)(nil)

// Method returns the qualified name of the wired handler func.
func (h *TaskHandler) Method() string { return h.match.Method() }

// Connectable returns the task node the handler is wired to.
func (h *TaskHandler) Connectable() wiring.Connectable { return h.connectable }

// AdapterID returns the adapter the handler was wired for.
func (h *TaskHandler) AdapterID() string { return h.adapterID }

// Stats returns the invocation statistics of the handler.
func (h *TaskHandler) Stats() HandlerStatsSnapshot { return h.stats.Snapshot() }

// Handle binds the arguments of the handler func from task, calls it and saves
// the aggregate afterwards.
func (h *TaskHandler) Handle(ctx context.Context, task adapter.Task) (err error) {
	method := h.match.Method()
	tc := TaskContext{
		Handler:        method,
		AdapterID:      h.adapterID,
		ModuleID:       h.moduleID,
		ProcessID:      h.connectable.ProcessID,
		TaskDefinition: h.connectable.TaskDefinition,
		ElementID:      h.connectable.ElementID,
		TaskID:         task.ID,
		AggregateID:    task.AggregateID,
		Event:          task.Event,
		StartedAt:      time.Now(),
	}

	ctx, span := telemetry.Start(ctx, "procflow.task",
		telemetry.AttrHandler.String(method),
		telemetry.AttrAdapter.String(h.adapterID),
		telemetry.AttrProcess.String(h.connectable.ProcessID),
		telemetry.AttrTask.String(task.ID),
	)
	tc.Context = ctx
	h.hooks.start(tc)
	defer func() {
		tc.Duration = time.Since(tc.StartedAt)
		telemetry.End(span, err)
		h.metrics.Invocation(method, tc.Duration, err)
		h.stats.record(tc.Duration, err, tc.StartedAt)
		h.hooks.finish(tc, err)
	}()

	h.logger.Debug("Invoking task handler", tc.fields())

	_, err = h.binder.Invoke(ctx, h.match.Signature, parameters.Sources{
		AggregateID:   task.AggregateID,
		TaskID:        task.ID,
		Event:         task.Event,
		Parameter:     variables(task.Variables),
		MultiInstance: multiInstances(task.MultiInstance),
		Save:          true,
	})
	return err
}

func variables(vars map[string]any) func(string) (any, bool) {
	return func(name string) (any, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func multiInstances(contexts map[string]parameters.MultiInstance) func(string) (parameters.MultiInstance, error) {
	return func(name string) (parameters.MultiInstance, error) {
		mi, ok := contexts[name]
		if !ok {
			return parameters.MultiInstance{}, fmt.Errorf("no multi-instance context %q", name)
		}
		return mi, nil
	}
}
