package dispatch

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/multierr"

	"github.com/drblury/procflow/adapter"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/telemetry"
)

// Operation names used in logs, metrics and errors.
const (
	OpStart            = "start"
	OpCorrelate        = "correlate"
	OpCompleteTask     = "complete-task"
	OpCancelTask       = "cancel-task"
	OpCompleteUserTask = "complete-user-task"
	OpCancelUserTask   = "cancel-user-task"
)

type call func(ctx context.Context, executor adapter.Executor, aggregate any) (any, error)

// route is the resolved target of one operation.
type route struct {
	moduleID  string
	processID string
	chain     []string
	executors []adapter.Executor
}

// Start starts the primary process for aggregate on the first adapter of its
// chain.
func (d *Dispatcher) Start(ctx context.Context, aggregate any) (any, error) {
	return d.single(ctx, OpStart, aggregate, "", func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.StartWorkflow(ctx, a)
	})
}

// Correlate delivers the message messageName to the workflow of aggregate. A
// start message of the primary process goes to the first adapter only, any
// other message goes to the first adapter accepting it.
func (d *Dispatcher) Correlate(ctx context.Context, aggregate any, messageName, correlationID string) (any, error) {
	return d.correlate(ctx, aggregate, messageName, func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CorrelateMessage(ctx, a, messageName, correlationID)
	})
}

// CorrelatePayload is Correlate for a message payload. The message name is
// derived by adapter.MessageName.
func (d *Dispatcher) CorrelatePayload(ctx context.Context, aggregate any, message any, correlationID string) (any, error) {
	return d.correlate(ctx, aggregate, adapter.MessageName(message), func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CorrelatePayload(ctx, a, message, correlationID)
	})
}

// CompleteTask completes taskID on the first adapter of the chain that knows
// it.
func (d *Dispatcher) CompleteTask(ctx context.Context, aggregate any, taskID string) (any, error) {
	return d.probe(ctx, OpCompleteTask, aggregate, taskID, func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CompleteTask(ctx, a, taskID)
	})
}

// CancelTask cancels taskID with errorCode on the first adapter of the chain
// that knows it.
func (d *Dispatcher) CancelTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return d.probe(ctx, OpCancelTask, aggregate, taskID, func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CancelTask(ctx, a, taskID, errorCode)
	})
}

// CompleteUserTask completes the user task taskID.
func (d *Dispatcher) CompleteUserTask(ctx context.Context, aggregate any, taskID string) (any, error) {
	return d.probe(ctx, OpCompleteUserTask, aggregate, taskID, func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CompleteUserTask(ctx, a, taskID)
	})
}

// CancelUserTask cancels the user task taskID with errorCode.
func (d *Dispatcher) CancelUserTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return d.probe(ctx, OpCancelUserTask, aggregate, taskID, func(ctx context.Context, e adapter.Executor, a any) (any, error) {
		return e.CancelUserTask(ctx, a, taskID, errorCode)
	})
}

func (d *Dispatcher) correlate(ctx context.Context, aggregate any, messageName string, fn call) (any, error) {
	d.mu.RLock()
	_, starts := d.startMessages[messageName]
	d.mu.RUnlock()

	if starts {
		return d.single(ctx, OpCorrelate, aggregate, messageName, fn)
	}

	result, failures, err := d.fanOut(ctx, OpCorrelate, aggregate, "", fn)
	if err != nil {
		return nil, err
	}
	if failures == nil {
		return result, nil
	}
	return nil, &errspkg.CorrelationNotAcceptedError{
		AggregateType: d.aggregateType,
		MessageName:   messageName,
		Failures:      failures,
	}
}

func (d *Dispatcher) probe(ctx context.Context, op string, aggregate any, taskID string, fn call) (any, error) {
	if taskID == "" {
		return nil, errspkg.ErrTaskIDRequired
	}
	result, failures, err := d.fanOut(ctx, op, aggregate, taskID, fn)
	if err != nil {
		return nil, err
	}
	if failures == nil {
		return result, nil
	}
	return nil, &errspkg.TaskNotFoundError{
		Operation:     op,
		AggregateType: d.aggregateType,
		TaskID:        taskID,
		Failures:      failures,
	}
}

// single runs fn on the first adapter of the primary chain only.
func (d *Dispatcher) single(ctx context.Context, op string, aggregate any, messageName string, fn call) (result any, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "procflow.dispatch."+op,
		telemetry.AttrAggregate.String(d.aggregateType),
		telemetry.AttrOperation.String(op),
	)
	defer func() {
		telemetry.End(span, err)
		d.metrics.Operation(d.aggregateType, op, time.Since(started), false, false)
	}()

	r, err := d.route()
	if err != nil {
		return nil, err
	}
	fresh, id, err := d.fresh(ctx, aggregate)
	if err != nil {
		return nil, err
	}

	adapterID := r.chain[0]
	span.SetAttributes(telemetry.AttrAdapter.String(adapterID), telemetry.AttrProcess.String(r.processID))
	fields := loggingpkg.WorkflowContext{
		ModuleID:    r.moduleID,
		AdapterID:   adapterID,
		AggregateID: id,
		ProcessID:   r.processID,
	}.Fields()
	if messageName != "" {
		fields["message_name"] = messageName
	}

	result, err = fn(ctx, r.executors[0], fresh)
	d.metrics.AdapterCall(d.aggregateType, op, adapterID, err)
	if err != nil {
		d.logger.Error("Workflow operation failed", err, fields.Merge(loggingpkg.LogFields{"operation": op}))
		return nil, err
	}
	d.logger.Debug("Workflow operation dispatched", fields.Merge(loggingpkg.LogFields{"operation": op}))
	return result, nil
}

// fanOut runs fn on every adapter of the primary chain in order until one
// succeeds. It returns the per-adapter failures when none did; err is only set
// for failures before any adapter was called.
func (d *Dispatcher) fanOut(ctx context.Context, op string, aggregate any, taskID string, fn call) (result any, failures []errspkg.AdapterFailure, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "procflow.dispatch."+op,
		telemetry.AttrAggregate.String(d.aggregateType),
		telemetry.AttrOperation.String(op),
		telemetry.AttrTask.String(taskID),
	)
	fallback := false
	defer func() {
		spanErr := err
		if spanErr == nil && failures != nil {
			spanErr = multierr.Combine(causes(failures)...)
		}
		telemetry.End(span, spanErr)
		d.metrics.Operation(d.aggregateType, op, time.Since(started), fallback, failures != nil)
	}()

	r, err := d.route()
	if err != nil {
		return nil, nil, err
	}
	fresh, id, err := d.fresh(ctx, aggregate)
	if err != nil {
		return nil, nil, err
	}

	base := loggingpkg.WorkflowContext{
		ModuleID:    r.moduleID,
		AggregateID: id,
		ProcessID:   r.processID,
		TaskID:      taskID,
	}
	collected := make([]errspkg.AdapterFailure, 0, len(r.chain))
	for i, adapterID := range r.chain {
		fields := withAdapter(base, adapterID).Merge(loggingpkg.LogFields{"operation": op})

		res, callErr := fn(ctx, r.executors[i], fresh)
		d.metrics.AdapterCall(d.aggregateType, op, adapterID, callErr)
		if callErr == nil {
			fallback = i > 0
			span.SetAttributes(telemetry.AttrAdapter.String(adapterID))
			d.logger.Debug("Workflow operation dispatched", fields)
			return res, nil, nil
		}
		d.logger.Debug("Adapter rejected workflow operation", fields.Merge(loggingpkg.LogFields{"error": callErr.Error()}))
		collected = append(collected, errspkg.AdapterFailure{AdapterID: adapterID, Err: callErr})
	}

	d.logger.Error("No adapter accepted workflow operation", multierr.Combine(causes(collected)...),
		withAdapter(base, "").Merge(loggingpkg.LogFields{"operation": op, "adapters": r.chain}))
	return nil, collected, nil
}

// route resolves the chain of the primary process and its executors.
func (d *Dispatcher) route() (route, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.primary == "" {
		return route{}, d.notWired()
	}
	chain, err := d.chainLocked(d.primary)
	if err != nil {
		return route{}, err
	}
	executors := make([]adapter.Executor, len(chain))
	for i, id := range chain {
		e, ok := d.executors[id]
		if !ok {
			return route{}, &errspkg.UnknownAdapterError{AdapterID: id, Registered: d.adapterIDsLocked()}
		}
		executors[i] = e
	}
	return route{moduleID: d.moduleID, processID: d.primary, chain: chain, executors: executors}, nil
}

// fresh saves aggregate and loads it again by id, so adapters always get a
// plain loaded value.
func (d *Dispatcher) fresh(ctx context.Context, aggregate any) (any, string, error) {
	if isNil(aggregate) {
		return nil, "", errspkg.ErrAggregateRequired
	}
	saved, err := d.repo.Save(ctx, aggregate)
	if err != nil {
		return nil, "", err
	}
	id, err := d.repo.ID(saved)
	if err != nil {
		return nil, "", err
	}
	loaded, ok, err := d.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return saved, id, nil
	}
	return loaded, id, nil
}

func withAdapter(w loggingpkg.WorkflowContext, adapterID string) loggingpkg.LogFields {
	w.AdapterID = adapterID
	return w.Fields()
}

func causes(failures []errspkg.AdapterFailure) []error {
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
