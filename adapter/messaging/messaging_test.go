package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/adapter"
	"github.com/drblury/procflow/internal/runtime/config"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/procflow/internal/runtime/metadata"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/wiring"
	"github.com/drblury/procflow/transport"
)

type ride struct {
	ID     string `json:"id"`
	Driver string `json:"driver"`
}

type rideRepo struct{}

func (rideRepo) FindByID(context.Context, string) (any, bool, error) { return nil, false, nil }
func (rideRepo) Save(_ context.Context, aggregate any) (any, error)  { return aggregate, nil }
func (rideRepo) ID(aggregate any) (string, error) {
	r, ok := aggregate.(*ride)
	if !ok {
		return "", errors.New("not a ride")
	}
	return r.ID, nil
}

type stubParent struct {
	primary string
}

func (p stubParent) ModuleID() string         { return "rides" }
func (p stubParent) PrimaryProcessID() string { return p.primary }
func (p stubParent) ProcessIDs() []string {
	if p.primary == "" {
		return nil
	}
	return []string{p.primary}
}

type recordingHandler struct {
	tasks chan adapter.Task
	err   error
}

func (h *recordingHandler) Handle(_ context.Context, task adapter.Task) error {
	h.tasks <- task
	return h.err
}

type stubWirer struct {
	mu        sync.Mutex
	processes []string
	tasks     []string
	handler   *recordingHandler
}

func (w *stubWirer) WireProcess(_ context.Context, _, _ string, model adapter.ProcessModel) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processes = append(w.processes, model.ID)
	return nil
}

func (w *stubWirer) WireTask(_ context.Context, _, _ string, c wiring.Connectable) (adapter.TaskHandler, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, c.String())
	return w.handler, nil
}

var rideModel = adapter.ProcessModel{
	ID:            "ride",
	VersionInfo:   "v3",
	StartMessages: []string{"RideRequested"},
	Tasks: []adapter.TaskNode{
		{ElementID: "assign", TaskDefinition: "assignDriver"},
		{ElementID: "confirm", TaskDefinition: "confirmPickup", UserTask: true},
	},
}

type fixture struct {
	adapter  *Adapter
	pubSub   *gochannel.GoChannel
	wirer    *stubWirer
	handler  *recordingHandler
	executor adapter.Executor
}

func newFixture(t *testing.T, primary string) *fixture {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})

	a, err := New(context.Background(), config.MessagingConfig{
		TopicPrefix:          "test",
		RetryMaxRetries:      1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	},
		WithTransport(transport.Transport{Publisher: pubSub, Subscriber: pubSub}),
		WithTransportRegistry(transport.NewRegistry()),
	)
	require.NoError(t, err)

	handler := &recordingHandler{tasks: make(chan adapter.Task, 4)}
	wirer := &stubWirer{handler: handler}
	require.NoError(t, a.Deploy(context.Background(), adapter.Deployment{
		ModuleID: "rides",
		Models:   []adapter.ProcessModel{rideModel},
	}, wirer))

	exec, err := a.Executor(context.Background(), adapter.Binding{
		AdapterID:     a.ID(),
		AggregateType: "Ride",
		Repository:    rideRepo{},
		Parent:        stubParent{primary: primary},
	})
	require.NoError(t, err)

	return &fixture{adapter: a, pubSub: pubSub, wirer: wirer, handler: handler, executor: exec}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.adapter.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("router did not stop")
		}
	})
	select {
	case <-f.adapter.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}

func (f *fixture) subscribe(t *testing.T, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	messages, err := f.pubSub.Subscribe(ctx, topic)
	require.NoError(t, err)
	return messages
}

func (f *fixture) callback(t *testing.T, cb TaskCallback) {
	t.Helper()
	msg, err := NewTaskCallbackMessage(watermill.NewUUID(), cb)
	require.NoError(t, err)
	require.NoError(t, f.pubSub.Publish(f.adapter.TasksTopic(), msg))
}

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func receiveCommand(t *testing.T, messages <-chan *message.Message) (Command, *message.Message) {
	t.Helper()
	msg := receive(t, messages)
	cmd, err := DecodeCommand(msg)
	require.NoError(t, err)
	return cmd, msg
}

func (f *fixture) awaitTask(t *testing.T) adapter.Task {
	t.Helper()
	select {
	case task := <-f.handler.tasks:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("task handler not called")
		return adapter.Task{}
	}
}

func TestTopics(t *testing.T) {
	f := newFixture(t, "ride")
	assert.Equal(t, "test.commands", f.adapter.CommandsTopic())
	assert.Equal(t, "test.tasks", f.adapter.TasksTopic())
	assert.Equal(t, "test.poison", f.adapter.PoisonTopic())
	assert.Equal(t, ID, f.adapter.ID())
}

func TestDeployWiresTasksOfExecutableModels(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	a, err := New(context.Background(), config.MessagingConfig{},
		WithTransport(transport.Transport{Publisher: pubSub, Subscriber: pubSub}),
		WithMiddlewares(),
		WithID("remote"),
	)
	require.NoError(t, err)
	assert.Equal(t, "remote", a.ID())

	wirer := &stubWirer{handler: &recordingHandler{}}
	reference := adapter.ProcessModel{
		ID:        "billing",
		Reference: true,
		Tasks:     []adapter.TaskNode{{ElementID: "charge"}},
	}
	require.NoError(t, a.Deploy(context.Background(), adapter.Deployment{
		ModuleID: "rides",
		Models:   []adapter.ProcessModel{rideModel, reference},
	}, wirer))

	assert.Equal(t, []string{"ride", "billing"}, wirer.processes)
	assert.Equal(t, []string{"ride/assignDriver", "ride/confirmPickup"}, wirer.tasks)
}

func TestStartWorkflowPublishesCommand(t *testing.T) {
	f := newFixture(t, "ride")
	commands := f.subscribe(t, f.adapter.CommandsTopic())

	r := &ride{ID: "r-1", Driver: "ada"}
	out, err := f.executor.StartWorkflow(context.Background(), r)
	require.NoError(t, err)
	assert.Same(t, r, out)

	cmd, msg := receiveCommand(t, commands)
	assert.Equal(t, CommandStartWorkflow, cmd.Kind)
	assert.Equal(t, "rides", cmd.ModuleID)
	assert.Equal(t, "ride", cmd.ProcessID)
	assert.Equal(t, "v3", cmd.VersionInfo)
	assert.Equal(t, "Ride", cmd.AggregateType)
	assert.Equal(t, "r-1", cmd.AggregateID)
	assert.Equal(t, map[string]any{"id": "r-1", "driver": "ada"}, cmd.Aggregate)
	assert.Equal(t, cmd.ID, msg.UUID)

	assert.Equal(t, string(CommandStartWorkflow), msg.Metadata.Get(metadatapkg.KeyCommandKind))
	assert.Equal(t, "r-1", msg.Metadata.Get(metadatapkg.KeyWorkflowAggregateID))
	assert.Equal(t, "ride", msg.Metadata.Get(metadatapkg.KeyWorkflowProcessID))
	assert.Equal(t, ID, msg.Metadata.Get(metadatapkg.KeyWorkflowAdapterID))
	assert.Equal(t, cmd.ID, msg.Metadata.Get(metadatapkg.KeyCorrelationID))
}

func TestStartWorkflowRejectsOversizedCommand(t *testing.T) {
	f := newFixture(t, "ride")
	f.adapter.caps = transport.Capabilities{Name: "tiny", MaxMessageSize: 64}

	_, err := f.executor.StartWorkflow(context.Background(), &ride{ID: "r-1", Driver: "ada"})
	assert.ErrorIs(t, err, ErrCommandTooLarge)
}

func TestStartWorkflowRequiresPrimaryProcess(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.executor.StartWorkflow(context.Background(), &ride{ID: "r-1"})
	assert.ErrorIs(t, err, errspkg.ErrNotWired)
}

type driverAssigned struct {
	Driver string `json:"driver"`
}

type namedMessage struct{}

func (namedMessage) MessageName() string { return "PickupConfirmed" }

func TestCorrelate(t *testing.T) {
	f := newFixture(t, "ride")
	commands := f.subscribe(t, f.adapter.CommandsTopic())

	_, err := f.executor.CorrelateMessage(context.Background(), &ride{ID: "r-1"}, "RideRequested", "corr-1")
	require.NoError(t, err)
	cmd, msg := receiveCommand(t, commands)
	assert.Equal(t, CommandCorrelateMessage, cmd.Kind)
	assert.Equal(t, "RideRequested", cmd.MessageName)
	assert.Equal(t, "corr-1", cmd.CorrelationID)
	assert.Equal(t, "corr-1", msg.Metadata.Get(metadatapkg.KeyCorrelationID))

	_, err = f.executor.CorrelatePayload(context.Background(), &ride{ID: "r-1"}, driverAssigned{Driver: "ada"}, "")
	require.NoError(t, err)
	cmd, _ = receiveCommand(t, commands)
	assert.Equal(t, "driverAssigned", cmd.MessageName)
	assert.Equal(t, map[string]any{"driver": "ada"}, cmd.Message)

	_, err = f.executor.CorrelatePayload(context.Background(), &ride{ID: "r-1"}, namedMessage{}, "")
	require.NoError(t, err)
	cmd, _ = receiveCommand(t, commands)
	assert.Equal(t, "PickupConfirmed", cmd.MessageName)
}

func TestCallbackOpensTaskAndCompleteClosesIt(t *testing.T) {
	f := newFixture(t, "ride")
	commands := f.subscribe(t, f.adapter.CommandsTopic())
	f.run(t)

	f.callback(t, TaskCallback{
		TaskID:         "t-1",
		ProcessID:      "ride",
		TaskDefinition: "assignDriver",
		AggregateID:    "r-1",
		Variables:      map[string]any{"zone": "north"},
		MultiInstance: map[string]parameters.MultiInstance{
			"stops": {Element: "a", Index: 0, Total: 2},
		},
	})

	task := f.awaitTask(t)
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, "r-1", task.AggregateID)
	assert.Equal(t, parameters.EventCreated, task.Event)
	assert.Equal(t, "north", task.Variables["zone"])
	assert.Equal(t, 2, task.MultiInstance["stops"].Total)
	require.Eventually(t, func() bool { return f.adapter.IsOpen("t-1") }, time.Second, 5*time.Millisecond)

	_, err := f.executor.CompleteUserTask(context.Background(), &ride{ID: "r-1"}, "t-1")
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)
	_, err = f.executor.CompleteTask(context.Background(), &ride{ID: "r-2"}, "t-1")
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)

	_, err = f.executor.CompleteTask(context.Background(), &ride{ID: "r-1"}, "t-1")
	require.NoError(t, err)
	assert.False(t, f.adapter.IsOpen("t-1"))

	cmd, msg := receiveCommand(t, commands)
	assert.Equal(t, CommandCompleteTask, cmd.Kind)
	assert.Equal(t, "t-1", cmd.TaskID)
	assert.Equal(t, "t-1", msg.Metadata.Get(metadatapkg.KeyWorkflowTaskID))

	_, err = f.executor.CompleteTask(context.Background(), &ride{ID: "r-1"}, "t-1")
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)
}

func TestCancelUserTask(t *testing.T) {
	f := newFixture(t, "ride")
	commands := f.subscribe(t, f.adapter.CommandsTopic())
	f.run(t)

	f.callback(t, TaskCallback{TaskID: "t-2", ProcessID: "ride", TaskDefinition: "confirmPickup", AggregateID: "r-1"})
	f.awaitTask(t)
	require.Eventually(t, func() bool { return f.adapter.IsOpen("t-2") }, time.Second, 5*time.Millisecond)

	_, err := f.executor.CancelTask(context.Background(), &ride{ID: "r-1"}, "t-2", "NO_DRIVER")
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)

	_, err = f.executor.CancelUserTask(context.Background(), &ride{ID: "r-1"}, "t-2", "NO_DRIVER")
	require.NoError(t, err)

	cmd, _ := receiveCommand(t, commands)
	assert.Equal(t, CommandCancelUserTask, cmd.Kind)
	assert.Equal(t, "NO_DRIVER", cmd.ErrorCode)
}

func TestCanceledCallbackWithdrawsTask(t *testing.T) {
	f := newFixture(t, "ride")
	f.run(t)

	f.callback(t, TaskCallback{TaskID: "t-3", ProcessID: "ride", ElementID: "assign", TaskDefinition: "assignDriver", AggregateID: "r-1"})
	f.awaitTask(t)
	require.Eventually(t, func() bool { return f.adapter.IsOpen("t-3") }, time.Second, 5*time.Millisecond)

	f.callback(t, TaskCallback{TaskID: "t-3", ProcessID: "ride", TaskDefinition: "assignDriver", AggregateID: "r-1", Event: parameters.EventCanceled})
	task := f.awaitTask(t)
	assert.Equal(t, parameters.EventCanceled, task.Event)
	require.Eventually(t, func() bool { return !f.adapter.IsOpen("t-3") }, time.Second, 5*time.Millisecond)
}

func TestUnprocessableCallbacksGoToPoisonQueue(t *testing.T) {
	f := newFixture(t, "ride")
	poison := f.subscribe(t, f.adapter.PoisonTopic())
	f.run(t)

	require.NoError(t, f.pubSub.Publish(f.adapter.TasksTopic(), message.NewMessage("bad-json", []byte("{"))))
	assert.Equal(t, "bad-json", receive(t, poison).UUID)

	f.callback(t, TaskCallback{TaskID: "t-4", ProcessID: "unknown", TaskDefinition: "x", AggregateID: "r-1"})
	msg := receive(t, poison)
	assert.Contains(t, msg.Metadata.Get(middleware.ReasonForPoisonedKey), "no task handler wired")

	f.callback(t, TaskCallback{TaskID: "t-5", ProcessID: "ride", TaskDefinition: "assignDriver", Event: "DONE"})
	receive(t, poison)
}

func TestUnprocessableCallbackErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := unprocessable(message.NewMessage("1", []byte("payload")), cause)

	var target *UnprocessableCallbackError
	require.ErrorAs(t, err, &target)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "payload")
}

func TestRetryDefaults(t *testing.T) {
	cfg := RetryMiddlewareConfig{}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)

	cfg = RetryMiddlewareConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Second}.withDefaults()
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Millisecond, cfg.InitialInterval)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	mw := CorrelationIDMiddleware().Middleware
	var seen string
	h := mw(func(msg *message.Message) ([]*message.Message, error) {
		seen = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
		return nil, nil
	})

	_, err := h(message.NewMessage("1", nil))
	require.NoError(t, err)
	assert.Len(t, seen, 26)

	msg := message.NewMessage("2", nil)
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, "keep")
	_, err = h(msg)
	require.NoError(t, err)
	assert.Equal(t, "keep", seen)
}

func TestNewFailsForUnknownTransport(t *testing.T) {
	_, err := New(context.Background(), config.MessagingConfig{PubSubSystem: "carrier-pigeon"},
		WithTransportRegistry(transport.NewRegistry()))
	assert.ErrorIs(t, err, transport.ErrUnknownTransport)
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestNewRequiresPublisherAndSubscriber(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	_, err := New(context.Background(), config.MessagingConfig{},
		WithTransport(transport.Transport{Subscriber: pubSub}),
		WithTransportRegistry(transport.NewRegistry()))
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	_, err = New(context.Background(), config.MessagingConfig{},
		WithTransport(transport.Transport{Publisher: pubSub}),
		WithTransportRegistry(transport.NewRegistry()))
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestRegister(t *testing.T) {
	reg := adapter.NewRegistry()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	a, err := Register(context.Background(), reg, config.MessagingConfig{},
		WithTransport(transport.Transport{Publisher: pubSub, Subscriber: pubSub}))
	require.NoError(t, err)

	got, ok := reg.Get(ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, reg.Capabilities(ID).RemoteEngine)
}
