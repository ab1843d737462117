package logging

// EntryLogger is the non-generic form of EntryLoggerAdapter for loggers whose
// methods return the EntryLogger interface itself.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter is satisfied by logrus-style entries whose WithField and
// WithError return their own type T.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger wraps an entry logger (for example a logrus.Entry).
// Fields are attached in lexical key order.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("procflow: entry logger cannot be nil")
	}
	return entryLogger[T]{entry: entry}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return entryLogger[T]{entry: withFields(e.entry, fields)}
}

func (e entryLogger[T]) Debug(msg string, fields LogFields) {
	withFields(e.entry, fields).Debug(msg)
}

func (e entryLogger[T]) Info(msg string, fields LogFields) {
	withFields(e.entry, fields).Info(msg)
}

func (e entryLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := withFields(e.entry, fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (e entryLogger[T]) Trace(msg string, fields LogFields) {
	withFields(e.entry, fields).Trace(msg)
}

func withFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	if len(fields) == 0 {
		return entry
	}
	for _, k := range fields.keys() {
		entry = entry.WithField(k, fields[k])
	}
	return entry
}
