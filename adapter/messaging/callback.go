package messaging

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/procflow/adapter"
	"github.com/drblury/procflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/wiring"
)

// TaskCallback is the payload the engine publishes to the tasks topic when it
// creates or cancels a task.
type TaskCallback struct {
	TaskID         string           `json:"taskId"`
	ProcessID      string           `json:"processId"`
	TaskDefinition string           `json:"taskDefinition,omitempty"`
	ElementID      string           `json:"elementId,omitempty"`
	AggregateID    string           `json:"aggregateId"`
	Event          parameters.Event `json:"event,omitempty"`
	Variables      map[string]any   `json:"variables,omitempty"`
	// MultiInstance holds the iteration contexts of the enclosing
	// multi-instance scopes by name.
	MultiInstance map[string]parameters.MultiInstance `json:"multiInstance,omitempty"`
}

func (c TaskCallback) connectable() wiring.Connectable {
	return wiring.Connectable{
		ProcessID:      c.ProcessID,
		TaskDefinition: c.TaskDefinition,
		ElementID:      c.ElementID,
	}
}

// NewTaskCallbackMessage encodes cb as a message for the tasks topic.
func NewTaskCallbackMessage(uuid string, cb TaskCallback) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(cb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task callback: %w", err)
	}
	return message.NewMessage(uuid, payload), nil
}

// UnprocessableCallbackError marks callbacks that fail the same way on every
// delivery. They are routed to the poison queue instead of being retried.
type UnprocessableCallbackError struct {
	payload string
	err     error
}

func (e *UnprocessableCallbackError) Error() string {
	return fmt.Sprintf("unprocessable task callback %s: %v", e.payload, e.err)
}

func (e *UnprocessableCallbackError) Unwrap() error { return e.err }

func unprocessable(msg *message.Message, err error) error {
	return &UnprocessableCallbackError{payload: string(msg.Payload), err: err}
}

func (a *Adapter) handleCallback(msg *message.Message) error {
	var cb TaskCallback
	if err := jsoncodec.Unmarshal(msg.Payload, &cb); err != nil {
		return unprocessable(msg, err)
	}
	if cb.TaskID == "" || cb.ProcessID == "" {
		return unprocessable(msg, fmt.Errorf("task id and process id are required"))
	}
	if cb.Event == "" {
		cb.Event = parameters.EventCreated
	}
	if cb.Event != parameters.EventCreated && cb.Event != parameters.EventCanceled {
		return unprocessable(msg, fmt.Errorf("unknown task event %q", cb.Event))
	}

	key := cb.connectable().String()
	a.mu.Lock()
	node, ok := a.handlers[key]
	if !ok {
		a.mu.Unlock()
		return unprocessable(msg, fmt.Errorf("no task handler wired for %s", key))
	}
	prev, wasOpen := a.open[cb.TaskID]
	if cb.Event == parameters.EventCreated {
		a.open[cb.TaskID] = openTask{
			aggregateID: cb.AggregateID,
			processID:   cb.ProcessID,
			userTask:    node.userTask,
		}
	} else {
		delete(a.open, cb.TaskID)
	}
	a.mu.Unlock()

	a.logger.Debug("Handling task callback", loggingpkg.WorkflowContext{
		AdapterID:   a.id,
		AggregateID: cb.AggregateID,
		ProcessID:   cb.ProcessID,
		TaskID:      cb.TaskID,
		TaskNode:    cb.TaskDefinition,
		TaskNodeID:  cb.ElementID,
	}.Fields().Merge(loggingpkg.LogFields{"event": string(cb.Event)}))

	err := node.handler.Handle(msg.Context(), adapter.Task{
		ID:            cb.TaskID,
		AggregateID:   cb.AggregateID,
		Event:         cb.Event,
		Variables:     cb.Variables,
		MultiInstance: cb.MultiInstance,
	})
	if err != nil {
		// restore so a redelivery sees the same state
		a.mu.Lock()
		if wasOpen {
			a.open[cb.TaskID] = prev
		} else {
			delete(a.open, cb.TaskID)
		}
		a.mu.Unlock()
	}
	return err
}

// IsOpen reports whether taskID was created by the engine and not closed
// yet.
func (a *Adapter) IsOpen(taskID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.open[taskID]
	return ok
}
