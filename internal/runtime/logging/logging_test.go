package logging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryServiceLogger(t *testing.T) {
	entry := newFakeEntry()
	logger := NewEntryServiceLogger(entry)

	logger.Info("Workflow deployment completed", LogFields{"modules": 2})

	task := WorkflowContext{ModuleID: "rides", TaskID: "t-1"}.Apply(logger)
	task.Debug("Task started", LogFields{"handler": "RideService.assignDriver"})
	boom := errors.New("no driver")
	task.Error("Task failed", boom, nil)
	task.Trace("Binding arguments", nil)

	logs := entry.recorder.logs
	require.Len(t, logs, 4)

	assert.Equal(t, loggedEntry{level: "info", msg: "Workflow deployment completed", fields: LogFields{"modules": 2}}, logs[0])
	assert.Equal(t, "debug", logs[1].level)
	assert.Equal(t, LogFields{
		FieldWorkflowModuleID: "rides",
		FieldWorkflowTaskID:   "t-1",
		"handler":             "RideService.assignDriver",
	}, logs[1].fields)
	assert.Equal(t, "error", logs[2].level)
	assert.Same(t, boom, logs[2].err)
	assert.Equal(t, "trace", logs[3].level)
}

func TestEntryServiceLoggerAppliesFieldsInKeyOrder(t *testing.T) {
	entry := newFakeEntry()
	NewEntryServiceLogger(entry).Info("x", LogFields{"c": 3, "a": 1, "b": 2})

	assert.Equal(t, []string{"a", "b", "c"}, entry.recorder.order)
}

func TestEntryServiceLoggerWithoutFields(t *testing.T) {
	entry := newFakeEntry()
	logger := NewEntryServiceLogger(entry)
	assert.Equal(t, logger, logger.With(nil))

	logger.Info("plain", nil)
	require.Len(t, entry.recorder.logs, 1)
	assert.Nil(t, entry.recorder.logs[0].fields)
}

func TestLoggerConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewEntryServiceLogger[EntryLogger](nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillServiceLogger(t *testing.T) {
	base := &recordingWatermillLogger{sink: &[]watermillEntry{}}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("Deploying workflow module", LogFields{FieldWorkflowModuleID: "rides"})
	logger.With(LogFields{FieldWorkflowAdapterID: "inmem"}).Info("Started workflow", nil)
	boom := errors.New("broker down")
	logger.Error("Failed to publish command", boom, nil)
	logger.Trace("Binding arguments", nil)
	assert.Equal(t, logger, logger.With(nil))

	entries := *base.sink
	require.Len(t, entries, 4)
	assert.Equal(t, watermillEntry{level: "debug", msg: "Deploying workflow module", fields: watermill.LogFields{FieldWorkflowModuleID: "rides"}}, entries[0])
	assert.Equal(t, watermill.LogFields{FieldWorkflowAdapterID: "inmem"}, entries[1].fields)
	assert.Same(t, boom, entries[2].err)
	assert.Equal(t, "trace", entries[3].level)
}

func TestWatermillAdapterUnwrapsWatermillLoggers(t *testing.T) {
	base := &recordingWatermillLogger{sink: &[]watermillEntry{}}
	assert.Same(t, base, NewWatermillAdapter(NewWatermillServiceLogger(base)))
}

func TestWatermillAdapterDelegates(t *testing.T) {
	entry := newFakeEntry()
	router := NewWatermillAdapter(NewEntryServiceLogger(entry))

	router.Info("Starting handler", watermill.LogFields{"topic": "procflow.tasks"})
	router.With(watermill.LogFields{"handler": "task-callbacks"}).Error("Handler returned error", errors.New("boom"), nil)
	router.Trace("Message acked", nil)
	router.Debug("Message received", nil)
	assert.Equal(t, router, router.With(nil))

	logs := entry.recorder.logs
	require.Len(t, logs, 4)
	assert.Equal(t, LogFields{"topic": "procflow.tasks"}, logs[0].fields)
	assert.Equal(t, LogFields{"handler": "task-callbacks"}, logs[1].fields)
	assert.EqualError(t, logs[1].err, "boom")
	assert.Equal(t, []string{"info", "error", "trace", "debug"}, []string{logs[0].level, logs[1].level, logs[2].level, logs[3].level})
}

func TestSlogServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	logger.Info("Registered workflow aggregate", LogFields{"aggregate_type": "Ride"})
	assert.Contains(t, buf.String(), "Registered workflow aggregate")
	assert.Contains(t, buf.String(), "aggregate_type=Ride")
}

type watermillEntry struct {
	level  string
	msg    string
	fields watermill.LogFields
	err    error
}

// recordingWatermillLogger shares its sink with the children created by With.
type recordingWatermillLogger struct {
	fields watermill.LogFields
	sink   *[]watermillEntry
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	merged := r.fields.Add(fields)
	if len(merged) == 0 {
		merged = nil
	}
	*r.sink = append(*r.sink, watermillEntry{level: level, msg: msg, fields: merged, err: err})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingWatermillLogger{fields: r.fields.Add(fields), sink: r.sink}
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type entryRecorder struct {
	logs  []loggedEntry
	order []string
}

type fakeEntry struct {
	recorder *entryRecorder
	fields   LogFields
	err      error
}

func newFakeEntry() *fakeEntry {
	return &fakeEntry{recorder: &entryRecorder{}}
}

func (f *fakeEntry) Error(args ...any) { f.log("error", args...) }
func (f *fakeEntry) Info(args ...any)  { f.log("info", args...) }
func (f *fakeEntry) Debug(args ...any) { f.log("debug", args...) }
func (f *fakeEntry) Trace(args ...any) { f.log("trace", args...) }

func (f *fakeEntry) WithError(err error) *fakeEntry {
	return &fakeEntry{recorder: f.recorder, fields: f.fields, err: err}
}

func (f *fakeEntry) WithField(key string, value any) *fakeEntry {
	f.recorder.order = append(f.recorder.order, key)
	fields := make(LogFields, len(f.fields)+1)
	for k, v := range f.fields {
		fields[k] = v
	}
	fields[key] = value
	return &fakeEntry{recorder: f.recorder, fields: fields, err: f.err}
}

func (f *fakeEntry) log(level string, args ...any) {
	f.recorder.logs = append(f.recorder.logs, loggedEntry{
		level:  level,
		msg:    fmt.Sprint(args...),
		fields: f.fields,
		err:    f.err,
	})
}
