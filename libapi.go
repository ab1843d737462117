package procflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/procflow/adapter"
	runtimepkg "github.com/drblury/procflow/internal/runtime"
	configpkg "github.com/drblury/procflow/internal/runtime/config"
	"github.com/drblury/procflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/procflow/internal/runtime/handlers"
	idspkg "github.com/drblury/procflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/procflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/procflow/internal/runtime/metadata"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/repository"
)

type (
	Config               = configpkg.Config
	AdapterChain         = configpkg.AdapterChain
	AdapterConfig        = configpkg.AdapterConfig
	WorkflowModuleConfig = configpkg.WorkflowModuleConfig
	WorkflowConfig       = configpkg.WorkflowConfig
	MessagingConfig      = configpkg.MessagingConfig

	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Runner              = runtimepkg.Runner
	Dispatcher          = dispatch.Dispatcher
	TaskHandler         = runtimepkg.TaskHandler

	WorkflowService = handlerpkg.WorkflowService
	WorkflowTask    = handlerpkg.Task
	HandlerRegistry = handlerpkg.Registry

	Role          = parameters.Role
	Event         = parameters.Event
	MultiInstance = parameters.MultiInstance
	Resolver      = parameters.Resolver
	ResolverFunc  = parameters.ResolverFunc

	Adapter             = adapter.Adapter
	AdapterRegistry     = adapter.Registry
	AdapterCapabilities = adapter.Capabilities
	Executor            = adapter.Executor
	ProcessModel        = adapter.ProcessModel
	TaskNode            = adapter.TaskNode
	Named               = adapter.Named

	Repository             = repository.Repository
	TypedRepository[A any] = repository.Typed[A]
	Identity[A any]        = repository.Identity[A]

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]
	WorkflowContext           = loggingpkg.WorkflowContext

	ConfigValidationError = errspkg.ConfigValidationError
	TaskNotFoundError     = errspkg.TaskNotFoundError
	AdapterFailure        = errspkg.AdapterFailure

	// Task lifecycle hooks
	TaskContext = runtimepkg.TaskContext
	TaskHooks   = runtimepkg.TaskHooks

	// Wiring overview
	Wiring               = runtimepkg.Wiring
	ProcessWiring        = runtimepkg.ProcessWiring
	TaskWiring           = runtimepkg.TaskWiring
	AggregateWiring      = runtimepkg.AggregateWiring
	HandlerStats         = runtimepkg.HandlerStats
	HandlerStatsSnapshot = runtimepkg.HandlerStatsSnapshot

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory
)

var (
	NewService         = runtimepkg.NewService
	ValidateConfig     = configpkg.ValidateConfig
	LoadConfig         = configpkg.LoadYAML
	LoadConfigFile     = configpkg.LoadYAMLFile
	ParseAdapterChain  = configpkg.ParseAdapterChain
	NewHandlerRegistry = handlerpkg.NewRegistry
	NewAdapterRegistry = adapter.NewRegistry

	DefaultAdapterRegistry = adapter.DefaultRegistry
	RegisterAdapter        = adapter.Register
	MessageName            = adapter.MessageName

	// Handler argument roles
	WorkflowAggregate            = parameters.WorkflowAggregate
	TaskID                       = parameters.TaskID
	TaskEvent                    = parameters.TaskEvent
	TaskParam                    = parameters.TaskParam
	MultiInstanceTotal           = parameters.MultiInstanceTotal
	MultiInstanceIndex           = parameters.MultiInstanceIndex
	MultiInstanceElement         = parameters.MultiInstanceElement
	MultiInstanceElementResolver = parameters.MultiInstanceElementResolver

	// Task lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired            = errspkg.ErrConfigRequired
	ErrLoggerRequired            = errspkg.ErrLoggerRequired
	ErrRepositoryRequired        = errspkg.ErrRepositoryRequired
	ErrAggregateRequired         = errspkg.ErrAggregateRequired
	ErrTaskIDRequired            = errspkg.ErrTaskIDRequired
	ErrRegistrySealed            = errspkg.ErrRegistrySealed
	ErrNotWired                  = errspkg.ErrNotWired
	ErrUnknownAggregate          = errspkg.ErrUnknownAggregate
	ErrModuleConflict            = errspkg.ErrModuleConflict
	ErrProcessOwnershipConflict  = errspkg.ErrProcessOwnershipConflict
	ErrNoAdapterConfigured       = errspkg.ErrNoAdapterConfigured
	ErrUnknownAdapter            = errspkg.ErrUnknownAdapter
	ErrMissingResourceLocation   = errspkg.ErrMissingResourceLocation
	ErrNoHandlerFound            = errspkg.ErrNoHandlerFound
	ErrAmbiguousHandler          = errspkg.ErrAmbiguousHandler
	ErrInvalidHandlerSignature   = errspkg.ErrInvalidHandlerSignature
	ErrTaskNotFound              = errspkg.ErrTaskNotFound
	ErrCorrelationNotAccepted    = errspkg.ErrCorrelationNotAccepted
	ErrParameterResolutionFailed = errspkg.ErrParameterResolutionFailed
	ErrUnknownTask               = adapter.ErrUnknownTask

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

const (
	UseTypeName   = handlerpkg.UseTypeName
	UseMethodName = handlerpkg.UseMethodName

	EventCreated  = parameters.EventCreated
	EventCanceled = parameters.EventCanceled
	EventAll      = parameters.EventAll
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyCommandKind   = metadatapkg.KeyCommandKind
	MetadataKeyAggregateID   = metadatapkg.KeyWorkflowAggregateID
	MetadataKeyProcessID     = metadatapkg.KeyWorkflowProcessID
	MetadataKeyTaskID        = metadatapkg.KeyWorkflowTaskID
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeySpanID        = metadatapkg.KeySpanID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone    = runtimepkg.ErrorCategoryNone
	ErrorCategoryBinding = runtimepkg.ErrorCategoryBinding
	ErrorCategoryTimeout = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryHandler = runtimepkg.ErrorCategoryHandler
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// ProcessService is the typed view of the dispatcher of aggregate type A.
type ProcessService[A any] struct {
	dispatcher *dispatch.Dispatcher
}

// RegisterAggregate registers aggregate type A under name, stored in repo.
// An empty name uses the name of A.
func RegisterAggregate[A any](ctx context.Context, svc *Service, name string, repo TypedRepository[A]) (*ProcessService[A], error) {
	if svc == nil {
		return nil, fmt.Errorf("procflow: service is required")
	}
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	d, err := svc.RegisterAggregate(ctx, name, reflect.TypeFor[A](), repository.Erase(repo))
	if err != nil {
		return nil, err
	}
	return &ProcessService[A]{dispatcher: d}, nil
}

// Dispatcher returns the untyped dispatcher.
func (p *ProcessService[A]) Dispatcher() *Dispatcher { return p.dispatcher }

// PrimaryProcessID returns the process started by Start, empty until wired.
func (p *ProcessService[A]) PrimaryProcessID() string { return p.dispatcher.PrimaryProcessID() }

func (p *ProcessService[A]) Start(ctx context.Context, aggregate A) (A, error) {
	return typed[A](p.dispatcher.Start(ctx, aggregate))
}

func (p *ProcessService[A]) CorrelateMessage(ctx context.Context, aggregate A, messageName, correlationID string) (A, error) {
	return typed[A](p.dispatcher.Correlate(ctx, aggregate, messageName, correlationID))
}

func (p *ProcessService[A]) CorrelatePayload(ctx context.Context, aggregate A, message any, correlationID string) (A, error) {
	return typed[A](p.dispatcher.CorrelatePayload(ctx, aggregate, message, correlationID))
}

func (p *ProcessService[A]) CompleteTask(ctx context.Context, aggregate A, taskID string) (A, error) {
	return typed[A](p.dispatcher.CompleteTask(ctx, aggregate, taskID))
}

func (p *ProcessService[A]) CancelTask(ctx context.Context, aggregate A, taskID, errorCode string) (A, error) {
	return typed[A](p.dispatcher.CancelTask(ctx, aggregate, taskID, errorCode))
}

func (p *ProcessService[A]) CompleteUserTask(ctx context.Context, aggregate A, taskID string) (A, error) {
	return typed[A](p.dispatcher.CompleteUserTask(ctx, aggregate, taskID))
}

func (p *ProcessService[A]) CancelUserTask(ctx context.Context, aggregate A, taskID, errorCode string) (A, error) {
	return typed[A](p.dispatcher.CancelUserTask(ctx, aggregate, taskID, errorCode))
}

func typed[A any](v any, err error) (A, error) {
	var zero A
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(A)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", repository.ErrAggregateType, v)
	}
	return out, nil
}
