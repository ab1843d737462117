package inmem

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

func (e *executor) StartWorkflow(_ context.Context, aggregate any) (any, error) {
	id, err := e.binding.Repository.ID(aggregate)
	if err != nil {
		return nil, err
	}
	processID := e.binding.Parent.PrimaryProcessID()
	if processID == "" {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrNotWired, e.binding.AggregateType)
	}

	e.adapter.mu.Lock()
	inst := e.adapter.start(e.binding.Parent.ModuleID(), processID, id)
	e.adapter.mu.Unlock()

	e.log("Started workflow", processID, id, loggingpkg.LogFields{"instance_id": inst.ID})
	return aggregate, nil
}

func (e *executor) CorrelateMessage(_ context.Context, aggregate any, messageName, correlationID string) (any, error) {
	id, err := e.binding.Repository.ID(aggregate)
	if err != nil {
		return nil, err
	}

	e.adapter.mu.Lock()
	defer e.adapter.mu.Unlock()

	primary := e.binding.Parent.PrimaryProcessID()
	if primary != "" && e.adapter.isStartMessage(primary, messageName) {
		inst := e.adapter.start(e.binding.Parent.ModuleID(), primary, id)
		inst.Messages = append(inst.Messages, messageName)
		e.log("Started workflow by message", primary, id, loggingpkg.LogFields{"message_name": messageName})
		return aggregate, nil
	}

	for _, processID := range e.binding.Parent.ProcessIDs() {
		inst, ok := e.adapter.instances[instanceKey(processID, id)]
		if !ok {
			continue
		}
		inst.Messages = append(inst.Messages, messageName)
		e.log("Correlated message", processID, id, loggingpkg.LogFields{
			"message_name":   messageName,
			"correlation_id": correlationID,
		})
		return aggregate, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNoInstance, e.binding.AggregateType, id)
}

func (e *executor) CorrelatePayload(ctx context.Context, aggregate any, message any, correlationID string) (any, error) {
	return e.CorrelateMessage(ctx, aggregate, adapter.MessageName(message), correlationID)
}

func (e *executor) CompleteTask(_ context.Context, aggregate any, taskID string) (any, error) {
	return e.close(aggregate, taskID, false, Outcome{TaskID: taskID, Completed: true})
}

func (e *executor) CancelTask(_ context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return e.close(aggregate, taskID, false, Outcome{TaskID: taskID, ErrorCode: errorCode})
}

func (e *executor) CompleteUserTask(_ context.Context, aggregate any, taskID string) (any, error) {
	return e.close(aggregate, taskID, true, Outcome{TaskID: taskID, Completed: true})
}

func (e *executor) CancelUserTask(_ context.Context, aggregate any, taskID, errorCode string) (any, error) {
	return e.close(aggregate, taskID, true, Outcome{TaskID: taskID, ErrorCode: errorCode})
}

func (e *executor) close(aggregate any, taskID string, userTask bool, outcome Outcome) (any, error) {
	id, err := e.binding.Repository.ID(aggregate)
	if err != nil {
		return nil, err
	}
	if err := e.adapter.close(id, taskID, userTask, outcome); err != nil {
		return nil, err
	}
	e.binding.Logger.Debug("Closed task", loggingpkg.WorkflowContext{
		AdapterID:   e.adapter.id,
		AggregateID: id,
		TaskID:      taskID,
	}.Fields().Merge(loggingpkg.LogFields{"completed": outcome.Completed, "error_code": outcome.ErrorCode}))
	return aggregate, nil
}

func (e *executor) log(msg, processID, aggregateID string, fields loggingpkg.LogFields) {
	e.binding.Logger.Debug(msg, loggingpkg.WorkflowContext{
		ModuleID:    e.binding.Parent.ModuleID(),
		AdapterID:   e.adapter.id,
		AggregateID: aggregateID,
		ProcessID:   processID,
	}.Fields().Merge(fields))
}
