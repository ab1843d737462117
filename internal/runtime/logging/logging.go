// Package logging defines the logger contract shared by the service,
// dispatchers, task handlers and adapters. Implementations exist for slog,
// watermill, zap and logrus-style entry loggers.
package logging

import "sort"

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract used by dispatchers, binders and
// adapters. It maps directly onto Watermill's logging needs so the messaging
// adapter can share it with its router.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Merge returns a new map holding fields of both maps, other taking precedence.
func (f LogFields) Merge(other LogFields) LogFields {
	merged := make(LogFields, len(f)+len(other))
	for k, v := range f {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// keys returns the field names in lexical order.
func (f LogFields) keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NopLogger discards everything.
type NopLogger struct{}

func (n NopLogger) With(LogFields) ServiceLogger { return n }
func (NopLogger) Debug(string, LogFields)        {}
func (NopLogger) Info(string, LogFields)         {}
func (NopLogger) Error(string, error, LogFields) {}
func (NopLogger) Trace(string, LogFields)        {}
