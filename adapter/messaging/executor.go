package messaging

import (
	"context"
	"fmt"

	"github.com/drblury/procflow/adapter"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
)

type executor struct {
	adapter *Adapter
	binding adapter.Binding
}

func (e *executor) StartWorkflow(ctx context.Context, aggregate any) (any, error) {
	cmd, err := e.command(CommandStartWorkflow, aggregate)
	if err != nil {
		return nil, err
	}
	cmd.Aggregate = aggregate
	return e.send(ctx, cmd, aggregate)
}

func (e *executor) CorrelateMessage(ctx context.Context, aggregate any, messageName, correlationID string) (any, error) {
	cmd, err := e.command(CommandCorrelateMessage, aggregate)
	if err != nil {
		return nil, err
	}
	cmd.Aggregate = aggregate
	cmd.MessageName = messageName
	cmd.CorrelationID = correlationID
	return e.send(ctx, cmd, aggregate)
}

func (e *executor) CorrelatePayload(ctx context.Context, aggregate any, message any, correlationID string) (any, error) {
	cmd, err := e.command(CommandCorrelateMessage, aggregate)
	if err != nil {
		return nil, err
	}
	cmd.Aggregate = aggregate
	cmd.MessageName = adapter.MessageName(message)
	cmd.Message = message
	cmd.CorrelationID = correlationID
	return e.send(ctx, cmd, aggregate)
}

func (e *executor) CompleteTask(ctx context.Context, aggregate any, taskID string) (any, error) {
	return e.close(ctx, aggregate, taskID, "", CommandCompleteTask, false)
}

func (e *executor) CancelTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return e.close(ctx, aggregate, taskID, errorCode, CommandCancelTask, false)
}

func (e *executor) CompleteUserTask(ctx context.Context, aggregate any, taskID string) (any, error) {
	return e.close(ctx, aggregate, taskID, "", CommandCompleteUserTask, true)
}

func (e *executor) CancelUserTask(ctx context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return e.close(ctx, aggregate, taskID, errorCode, CommandCancelUserTask, true)
}

func (e *executor) close(ctx context.Context, aggregate any, taskID, errorCode string, kind CommandKind, userTask bool) (any, error) {
	cmd, err := e.command(kind, aggregate)
	if err != nil {
		return nil, err
	}

	a := e.adapter
	a.mu.Lock()
	task, ok := a.open[taskID]
	if !ok || task.aggregateID != cmd.AggregateID || task.userTask != userTask {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownTask, taskID)
	}
	delete(a.open, taskID)
	a.mu.Unlock()

	cmd.ProcessID = task.processID
	cmd.TaskID = taskID
	cmd.ErrorCode = errorCode
	cmd.Aggregate = aggregate

	out, err := e.send(ctx, cmd, aggregate)
	if err != nil {
		a.mu.Lock()
		a.open[taskID] = task
		a.mu.Unlock()
		return nil, err
	}
	return out, nil
}

// command fills the fields every command carries. Commands go to the primary
// process of the aggregate.
func (e *executor) command(kind CommandKind, aggregate any) (Command, error) {
	id, err := e.binding.Repository.ID(aggregate)
	if err != nil {
		return Command{}, err
	}
	processID := e.binding.Parent.PrimaryProcessID()
	if processID == "" {
		return Command{}, fmt.Errorf("%w: %s", errspkg.ErrNotWired, e.binding.AggregateType)
	}

	e.adapter.mu.RLock()
	version := e.adapter.models[processID].VersionInfo
	e.adapter.mu.RUnlock()

	return Command{
		Kind:          kind,
		ModuleID:      e.binding.Parent.ModuleID(),
		ProcessID:     processID,
		VersionInfo:   version,
		AggregateType: e.binding.AggregateType,
		AggregateID:   id,
	}, nil
}

func (e *executor) send(ctx context.Context, cmd Command, aggregate any) (any, error) {
	if err := e.adapter.publish(ctx, cmd); err != nil {
		e.binding.Logger.Error("Failed to publish command", err, e.fields(cmd))
		return nil, fmt.Errorf("messaging: publish %s: %w", cmd.Kind, err)
	}
	e.binding.Logger.Debug("Published command", e.fields(cmd))
	return aggregate, nil
}

func (e *executor) fields(cmd Command) loggingpkg.LogFields {
	return loggingpkg.WorkflowContext{
		ModuleID:    cmd.ModuleID,
		AdapterID:   e.adapter.id,
		AggregateID: cmd.AggregateID,
		ProcessID:   cmd.ProcessID,
		TaskID:      cmd.TaskID,
	}.Fields().Merge(loggingpkg.LogFields{"command": string(cmd.Kind)})
}
