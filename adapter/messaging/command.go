package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/procflow/internal/runtime/ids"
	"github.com/drblury/procflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/procflow/internal/runtime/metadata"
)

// ErrCommandTooLarge is returned when an encoded command exceeds the maximum
// message size of the transport.
var ErrCommandTooLarge = errors.New("messaging: command exceeds transport message size")

// CommandKind names the workflow operation a command asks the engine to run.
type CommandKind string

const (
	CommandStartWorkflow    CommandKind = "start-workflow"
	CommandCorrelateMessage CommandKind = "correlate-message"
	CommandCompleteTask     CommandKind = "complete-task"
	CommandCancelTask       CommandKind = "cancel-task"
	CommandCompleteUserTask CommandKind = "complete-user-task"
	CommandCancelUserTask   CommandKind = "cancel-user-task"
)

// Command is the payload published to the commands topic.
type Command struct {
	ID            string      `json:"id"`
	Kind          CommandKind `json:"kind"`
	ModuleID      string      `json:"moduleId,omitempty"`
	ProcessID     string      `json:"processId,omitempty"`
	VersionInfo   string      `json:"versionInfo,omitempty"`
	AggregateType string      `json:"aggregateType"`
	AggregateID   string      `json:"aggregateId"`
	// Aggregate is the aggregate state handed to the engine as process
	// variables.
	Aggregate     any       `json:"aggregate,omitempty"`
	MessageName   string    `json:"messageName,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Message       any       `json:"message,omitempty"`
	TaskID        string    `json:"taskId,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// NewCommandMessage converts cmd into a watermill message. The command id
// becomes the message uuid, and the workflow fields are copied to the
// metadata so transports and engines can route without decoding.
func NewCommandMessage(cmd Command, md metadatapkg.Metadata) (*message.Message, error) {
	if cmd.ID == "" {
		cmd.ID = ids.CreateULID()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}

	payload, err := jsoncodec.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s command: %w", cmd.Kind, err)
	}

	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = cmd.ID
	}
	md = md.WithNonEmpty(
		metadatapkg.KeyCommandKind, string(cmd.Kind),
		metadatapkg.KeyWorkflowAggregateID, cmd.AggregateID,
		metadatapkg.KeyWorkflowModuleID, cmd.ModuleID,
		metadatapkg.KeyWorkflowProcessID, cmd.ProcessID,
		metadatapkg.KeyWorkflowTaskID, cmd.TaskID,
	).Default(metadatapkg.KeyCorrelationID, correlationID)

	msg := message.NewMessage(cmd.ID, payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// DecodeCommand reads a command from a message published by the adapter.
func DecodeCommand(msg *message.Message) (Command, error) {
	var cmd Command
	if err := jsoncodec.Unmarshal(msg.Payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to decode command %s: %w", msg.UUID, err)
	}
	return cmd, nil
}

func (a *Adapter) publish(ctx context.Context, cmd Command) error {
	msg, err := NewCommandMessage(cmd, metadatapkg.New(metadatapkg.KeyWorkflowAdapterID, a.id))
	if err != nil {
		return err
	}
	if !a.caps.Fits(len(msg.Payload)) {
		return fmt.Errorf("%w: %s command is %d bytes, %s accepts %d", ErrCommandTooLarge, cmd.Kind, len(msg.Payload), a.caps.Name, a.caps.MaxMessageSize)
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return a.publisher.Publish(a.CommandsTopic(), msg)
}
