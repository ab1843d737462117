package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrConfigRequired     = sterrors.New("procflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("procflow: logger is required")
	ErrRepositoryRequired = sterrors.New("procflow: repository is required")
	ErrAggregateRequired  = sterrors.New("procflow: workflow aggregate is required")
	ErrTaskIDRequired     = sterrors.New("procflow: task id is required")
	ErrHandlerRequired    = sterrors.New("procflow: handler function is required")
	ErrPublisherRequired  = sterrors.New("procflow: publisher is required")
	ErrRegistrySealed     = sterrors.New("procflow: registry is sealed")
	ErrNotWired           = sterrors.New("procflow: workflow aggregate is not wired to a process")
	ErrUnknownAggregate   = sterrors.New("procflow: workflow aggregate type is not registered")

	ErrModuleConflict            = sterrors.New("procflow: workflow module conflict")
	ErrProcessOwnershipConflict  = sterrors.New("procflow: process ownership conflict")
	ErrNoAdapterConfigured       = sterrors.New("procflow: no adapter configured")
	ErrUnknownAdapter            = sterrors.New("procflow: unknown adapter")
	ErrMissingResourceLocation   = sterrors.New("procflow: missing resource location")
	ErrNoHandlerFound            = sterrors.New("procflow: no handler found")
	ErrAmbiguousHandler          = sterrors.New("procflow: ambiguous handler")
	ErrInvalidHandlerSignature   = sterrors.New("procflow: invalid handler signature")
	ErrTaskNotFound              = sterrors.New("procflow: task not found")
	ErrCorrelationNotAccepted    = sterrors.New("procflow: correlation not accepted")
	ErrParameterResolutionFailed = sterrors.New("procflow: parameter resolution failed")
)

// ConfigValidationError wraps configuration validation failures so callers can
// distinguish them from runtime errors.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "procflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ModuleConflictError reports an aggregate type being wired to two different
// workflow modules.
type ModuleConflictError struct {
	AggregateType     string
	BoundModuleID     string
	RequestedModuleID string
	AdapterID         string
	WiredBy           []string
}

func (e *ModuleConflictError) Error() string {
	return fmt.Sprintf(
		"procflow: wiring workflow module %q given by adapter %q to aggregate %q is not possible, because it was wired to %q by adapters [%s] before",
		e.RequestedModuleID, e.AdapterID, e.AggregateType, e.BoundModuleID, strings.Join(e.WiredBy, ", "))
}

func (e *ModuleConflictError) Is(target error) bool { return target == ErrModuleConflict }

// ProcessOwnershipConflictError reports a process id claimed by an adapter
// outside the set that owns it, or a second primary process.
type ProcessOwnershipConflictError struct {
	AggregateType string
	ModuleID      string
	ProcessID     string
	AdapterID     string
	Owners        []string
	Reason        string
}

func (e *ProcessOwnershipConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "procflow: wiring process %q", e.ProcessID)
	if e.ModuleID != "" {
		fmt.Fprintf(&b, " from workflow module %q", e.ModuleID)
	}
	fmt.Fprintf(&b, " given by adapter %q to aggregate %q is not possible: %s", e.AdapterID, e.AggregateType, e.Reason)
	if len(e.Owners) > 0 {
		fmt.Fprintf(&b, " (owners: [%s])", strings.Join(e.Owners, ", "))
	}
	return b.String()
}

func (e *ProcessOwnershipConflictError) Is(target error) bool {
	return target == ErrProcessOwnershipConflict
}

// NoAdapterConfiguredError names the property an operator has to set.
type NoAdapterConfiguredError struct {
	ModuleID     string
	ProcessID    string
	PropertyPath string
	Registered   []string
}

func (e *NoAdapterConfiguredError) Error() string {
	return fmt.Sprintf(
		"procflow: no adapter configured for workflow module %q and process %q; set %q to one or more of [%s]",
		e.ModuleID, e.ProcessID, e.PropertyPath, strings.Join(e.Registered, ", "))
}

func (e *NoAdapterConfiguredError) Is(target error) bool { return target == ErrNoAdapterConfigured }

// UnknownAdapterError reports a configured adapter id that no adapter
// registered for.
type UnknownAdapterError struct {
	AdapterID    string
	PropertyPath string
	Registered   []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("procflow: adapter %q configured at %q is not registered (registered: [%s])",
		e.AdapterID, e.PropertyPath, strings.Join(e.Registered, ", "))
}

func (e *UnknownAdapterError) Is(target error) bool { return target == ErrUnknownAdapter }

// MissingResourceLocationError names the property an operator has to set.
type MissingResourceLocationError struct {
	ModuleID     string
	AdapterID    string
	PropertyPath string
}

func (e *MissingResourceLocationError) Error() string {
	return fmt.Sprintf("procflow: no resources location for workflow module %q and adapter %q; set %q",
		e.ModuleID, e.AdapterID, e.PropertyPath)
}

func (e *MissingResourceLocationError) Is(target error) bool {
	return target == ErrMissingResourceLocation
}

// NoHandlerFoundError lists every method tested for the connectable.
type NoHandlerFoundError struct {
	ProcessID      string
	TaskDefinition string
	ElementID      string
	Tested         []string
}

func (e *NoHandlerFoundError) Error() string {
	return fmt.Sprintf("procflow: no handler for process %q, task definition %q, element %q; tested [%s]",
		e.ProcessID, e.TaskDefinition, e.ElementID, strings.Join(e.Tested, ", "))
}

func (e *NoHandlerFoundError) Is(target error) bool { return target == ErrNoHandlerFound }

// AmbiguousHandlerError lists every method that matched the connectable.
type AmbiguousHandlerError struct {
	ProcessID      string
	TaskDefinition string
	ElementID      string
	Matched        []string
}

func (e *AmbiguousHandlerError) Error() string {
	return fmt.Sprintf("procflow: more than one handler for process %q, task definition %q, element %q: [%s]",
		e.ProcessID, e.TaskDefinition, e.ElementID, strings.Join(e.Matched, ", "))
}

func (e *AmbiguousHandlerError) Is(target error) bool { return target == ErrAmbiguousHandler }

// InvalidHandlerSignatureError reports a handler func whose shape does not
// fit its declared parameter roles.
type InvalidHandlerSignatureError struct {
	Method string
	Reason string
	// Err is the underlying sentinel, if any.
	Err error
}

func (e *InvalidHandlerSignatureError) Error() string {
	return fmt.Sprintf("procflow: handler %s has an invalid signature: %s", e.Method, e.Reason)
}

func (e *InvalidHandlerSignatureError) Is(target error) bool {
	return target == ErrInvalidHandlerSignature
}

func (e *InvalidHandlerSignatureError) Unwrap() error { return e.Err }

// AdapterFailure is one adapter's rejection within a chain probe.
type AdapterFailure struct {
	AdapterID string
	Err       error
}

// TaskNotFoundError is returned once every adapter of a chain rejected a task
// operation. The individual causes are kept in Failures and are deliberately
// not part of the unwrap chain.
type TaskNotFoundError struct {
	Operation     string
	AggregateType string
	TaskID        string
	Failures      []AdapterFailure
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("procflow: %s of task %q for aggregate %q was rejected by every adapter [%s]",
		e.Operation, e.TaskID, e.AggregateType, strings.Join(failureAdapters(e.Failures), ", "))
}

func (e *TaskNotFoundError) Is(target error) bool { return target == ErrTaskNotFound }

// Causes returns the per-adapter errors in chain order.
func (e *TaskNotFoundError) Causes() []error {
	return failureErrors(e.Failures)
}

// CorrelationNotAcceptedError is returned when no adapter of a chain accepted
// a message correlation.
type CorrelationNotAcceptedError struct {
	AggregateType string
	MessageName   string
	Failures      []AdapterFailure
}

func (e *CorrelationNotAcceptedError) Error() string {
	return fmt.Sprintf("procflow: message %q for aggregate %q was rejected by every adapter [%s]",
		e.MessageName, e.AggregateType, strings.Join(failureAdapters(e.Failures), ", "))
}

func (e *CorrelationNotAcceptedError) Is(target error) bool {
	return target == ErrCorrelationNotAccepted
}

func (e *CorrelationNotAcceptedError) Causes() []error {
	return failureErrors(e.Failures)
}

// ParameterResolutionError wraps a failure while binding one handler argument.
type ParameterResolutionError struct {
	Method    string
	Parameter string
	Err       error
}

func (e *ParameterResolutionError) Error() string {
	return fmt.Sprintf("procflow: could not resolve parameter %s of handler %s: %v", e.Parameter, e.Method, e.Err)
}

func (e *ParameterResolutionError) Unwrap() error { return e.Err }

func (e *ParameterResolutionError) Is(target error) bool {
	return target == ErrParameterResolutionFailed
}

func failureAdapters(failures []AdapterFailure) []string {
	ids := make([]string, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.AdapterID)
	}
	return ids
}

func failureErrors(failures []AdapterFailure) []error {
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Err)
	}
	return errs
}
