package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "procflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "procflow: logger is required"},
		{"ErrRepositoryRequired", ErrRepositoryRequired, "procflow: repository is required"},
		{"ErrAggregateRequired", ErrAggregateRequired, "procflow: workflow aggregate is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "procflow: publisher is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "procflow: handler function is required"},
		{"ErrTaskNotFound", ErrTaskNotFound, "procflow: task not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "procflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		if err := NewConfigValidationError(inner); !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"module conflict", &ModuleConflictError{}, ErrModuleConflict},
		{"process ownership", &ProcessOwnershipConflictError{}, ErrProcessOwnershipConflict},
		{"no adapter", &NoAdapterConfiguredError{}, ErrNoAdapterConfigured},
		{"unknown adapter", &UnknownAdapterError{}, ErrUnknownAdapter},
		{"resource location", &MissingResourceLocationError{}, ErrMissingResourceLocation},
		{"no handler", &NoHandlerFoundError{}, ErrNoHandlerFound},
		{"ambiguous", &AmbiguousHandlerError{}, ErrAmbiguousHandler},
		{"signature", &InvalidHandlerSignatureError{}, ErrInvalidHandlerSignature},
		{"task not found", &TaskNotFoundError{}, ErrTaskNotFound},
		{"correlation", &CorrelationNotAcceptedError{}, ErrCorrelationNotAccepted},
		{"parameter", &ParameterResolutionError{Err: errors.New("x")}, ErrParameterResolutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := errors.Join(errors.New("context"), tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%T, %v) = false", tt.err, tt.sentinel)
			}
		})
	}
}

func TestTaskNotFoundErrorKeepsCausesOutOfChain(t *testing.T) {
	cause := errors.New("unknown task t1")
	err := &TaskNotFoundError{
		Operation:     "complete",
		AggregateType: "Ride",
		TaskID:        "t1",
		Failures: []AdapterFailure{
			{AdapterID: "a", Err: cause},
			{AdapterID: "b", Err: cause},
		},
	}

	if errors.Is(err, cause) {
		t.Error("per-adapter causes must not be reachable through errors.Is")
	}
	if got := err.Causes(); len(got) != 2 || got[0] != cause {
		t.Errorf("Causes() = %v", got)
	}
	if msg := err.Error(); !strings.Contains(msg, "[a, b]") || strings.Contains(msg, "unknown task t1") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestParameterResolutionErrorNamesParameterAndMethod(t *testing.T) {
	cause := errors.New("boom")
	err := &ParameterResolutionError{Method: "Rides.Assign", Parameter: "#2 driver", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("resolver cause should be unwrappable")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Rides.Assign") || !strings.Contains(msg, "#2 driver") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestNoAdapterConfiguredErrorNamesPropertyPath(t *testing.T) {
	err := &NoAdapterConfiguredError{
		ModuleID:     "rides",
		ProcessID:    "Ride",
		PropertyPath: "procflow.workflow-modules.rides.workflows.Ride.default-adapter",
		Registered:   []string{"inmem", "messaging"},
	}
	if !strings.Contains(err.Error(), err.PropertyPath) {
		t.Errorf("Error() = %q does not name %q", err.Error(), err.PropertyPath)
	}
}
