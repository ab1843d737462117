package inmem

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/adapter"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	"github.com/drblury/procflow/internal/runtime/ids"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/wiring"
)

type ride struct {
	ID string
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
	primary   string
	processes []string
}

func (p stubParent) ModuleID() string         { return "rides" }
func (p stubParent) PrimaryProcessID() string { return p.primary }
func (p stubParent) ProcessIDs() []string     { return p.processes }

type recordingHandler struct {
	mu    sync.Mutex
	tasks []adapter.Task
	err   error
}

func (h *recordingHandler) Handle(_ context.Context, task adapter.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, task)
	return h.err
}

func (h *recordingHandler) events() []parameters.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []parameters.Event
	for _, t := range h.tasks {
		out = append(out, t.Event)
	}
	return out
}

type stubWirer struct {
	processes []string
	tasks     []string
	handler   *recordingHandler
	err       error
}

func (w *stubWirer) WireProcess(_ context.Context, _, _ string, model adapter.ProcessModel) error {
	w.processes = append(w.processes, model.ID)
	return nil
}

func (w *stubWirer) WireTask(_ context.Context, _, _ string, c wiring.Connectable) (adapter.TaskHandler, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.tasks = append(w.tasks, c.String())
	return w.handler, nil
}

var rideModel = adapter.ProcessModel{
	ID:            "ride",
	StartMessages: []string{"RideRequested"},
	Tasks: []adapter.TaskNode{
		{ElementID: "assign", TaskDefinition: "assignDriver"},
		{ElementID: "confirm", TaskDefinition: "confirmPickup", UserTask: true},
	},
}

type fixture struct {
	adapter  *Adapter
	handler  *recordingHandler
	wirer    *stubWirer
	executor adapter.Executor
}

func newFixture(t *testing.T, parent stubParent) *fixture {
	t.Helper()
	reg := adapter.NewRegistry()
	a := Register(reg)
	_, ok := reg.Get(ID)
	require.True(t, ok)

	handler := &recordingHandler{}
	wirer := &stubWirer{handler: handler}
	require.NoError(t, a.Deploy(context.Background(), adapter.Deployment{
		ModuleID: "rides",
		Models:   []adapter.ProcessModel{rideModel, {ID: "billing", Reference: true, Tasks: []adapter.TaskNode{{ElementID: "charge"}}}},
	}, wirer))

	exec, err := a.Executor(context.Background(), adapter.Binding{
		AdapterID:     a.ID(),
		AggregateType: "Ride",
		Repository:    rideRepo{},
		Parent:        parent,
	})
	require.NoError(t, err)
	return &fixture{adapter: a, handler: handler, wirer: wirer, executor: exec}
}

func TestDeployWiresExecutableModels(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})
	assert.Equal(t, []string{"ride", "billing"}, f.wirer.processes)
	assert.Equal(t, []string{"ride/assignDriver", "ride/confirmPickup"}, f.wirer.tasks)
}

func TestDeployStopsOnWireError(t *testing.T) {
	a := New(WithID("local"))
	assert.Equal(t, "local", a.ID())

	boom := errors.New("no handler")
	err := a.Deploy(context.Background(), adapter.Deployment{
		ModuleID: "rides",
		Models:   []adapter.ProcessModel{rideModel},
	}, &stubWirer{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestExecutorRequiresRepositoryAndParent(t *testing.T) {
	a := New()
	_, err := a.Executor(context.Background(), adapter.Binding{AggregateType: "Ride", Parent: stubParent{}})
	assert.ErrorContains(t, err, "no repository")

	_, err = a.Executor(context.Background(), adapter.Binding{AggregateType: "Ride", Repository: rideRepo{}})
	assert.ErrorContains(t, err, "no dispatcher")
}

func TestStartWorkflow(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride", processes: []string{"ride"}})
	r := &ride{ID: "r-1"}

	out, err := f.executor.StartWorkflow(context.Background(), r)
	require.NoError(t, err)
	assert.Same(t, r, out)

	inst, ok := f.adapter.Instance("ride", "r-1")
	require.True(t, ok)
	assert.Equal(t, "rides", inst.ModuleID)
	assert.NotEmpty(t, inst.ID)

	_, err = f.executor.StartWorkflow(context.Background(), "not a ride")
	assert.Error(t, err)
}

func TestStartWorkflowRequiresPrimaryProcess(t *testing.T) {
	f := newFixture(t, stubParent{})
	_, err := f.executor.StartWorkflow(context.Background(), &ride{ID: "r-1"})
	assert.ErrorIs(t, err, errspkg.ErrNotWired)
}

func TestCorrelateMessage(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride", processes: []string{"ride"}})
	ctx := context.Background()

	_, err := f.executor.CorrelateMessage(ctx, &ride{ID: "r-1"}, "DriverArrived", "")
	assert.ErrorIs(t, err, ErrNoInstance)

	_, err = f.executor.CorrelateMessage(ctx, &ride{ID: "r-1"}, "RideRequested", "corr-1")
	require.NoError(t, err)

	_, err = f.executor.CorrelatePayload(ctx, &ride{ID: "r-1"}, driverArrived{}, "")
	require.NoError(t, err)

	inst, ok := f.adapter.Instance("ride", "r-1")
	require.True(t, ok)
	assert.Equal(t, []string{"RideRequested", "DriverArrived"}, inst.Messages)
}

type driverArrived struct{}

func (driverArrived) MessageName() string { return "DriverArrived" }

func TestOpenTaskRunsHandler(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})

	id, err := f.adapter.OpenTask(context.Background(), TaskRequest{
		ProcessID:      "ride",
		TaskDefinition: "assignDriver",
		AggregateID:    "r-1",
		Variables:      map[string]any{"driver": "ada"},
	})
	require.NoError(t, err)

	task, ok := f.adapter.Task(id)
	require.True(t, ok)
	assert.False(t, task.UserTask)
	assert.Equal(t, []OpenTask{task}, f.adapter.OpenTasks("r-1"))
	created, err := ids.Time(id)
	require.NoError(t, err)
	assert.Equal(t, task.CreatedAt.UnixMilli(), created.UnixMilli())

	require.Len(t, f.handler.tasks, 1)
	assert.Equal(t, id, f.handler.tasks[0].ID)
	assert.Equal(t, parameters.EventCreated, f.handler.tasks[0].Event)
	assert.Equal(t, "ada", f.handler.tasks[0].Variables["driver"])
}

func TestOpenTaskUnknownNode(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})
	_, err := f.adapter.OpenTask(context.Background(), TaskRequest{ProcessID: "billing", ElementID: "charge"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestOpenTaskDropsTaskWhenHandlerFails(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})
	f.handler.err = errors.New("no driver")

	_, err := f.adapter.OpenTask(context.Background(), TaskRequest{ProcessID: "ride", TaskDefinition: "assignDriver", AggregateID: "r-1"})
	assert.EqualError(t, err, "no driver")
	assert.Empty(t, f.adapter.OpenTasks("r-1"))
}

func TestCompleteAndCancelTasks(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})
	ctx := context.Background()
	r := &ride{ID: "r-1"}

	serviceTask, err := f.adapter.OpenTask(ctx, TaskRequest{ProcessID: "ride", TaskDefinition: "assignDriver", AggregateID: "r-1"})
	require.NoError(t, err)
	userTask, err := f.adapter.OpenTask(ctx, TaskRequest{ProcessID: "ride", TaskDefinition: "confirmPickup", AggregateID: "r-1"})
	require.NoError(t, err)

	_, err = f.executor.CompleteUserTask(ctx, r, serviceTask)
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)
	_, err = f.executor.CompleteTask(ctx, &ride{ID: "r-2"}, serviceTask)
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)

	_, err = f.executor.CompleteTask(ctx, r, serviceTask)
	require.NoError(t, err)
	_, err = f.executor.CancelUserTask(ctx, r, userTask, "NO_SHOW")
	require.NoError(t, err)

	_, err = f.executor.CancelTask(ctx, r, serviceTask, "LATE")
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)
	_, err = f.executor.CompleteUserTask(ctx, r, userTask)
	assert.ErrorIs(t, err, adapter.ErrUnknownTask)

	assert.Equal(t, []Outcome{
		{TaskID: serviceTask, Completed: true},
		{TaskID: userTask, ErrorCode: "NO_SHOW"},
	}, f.adapter.Outcomes())
	assert.Empty(t, f.adapter.OpenTasks("r-1"))
}

func TestWithdrawTask(t *testing.T) {
	f := newFixture(t, stubParent{primary: "ride"})
	ctx := context.Background()

	id, err := f.adapter.OpenTask(ctx, TaskRequest{ProcessID: "ride", ElementID: "confirm", TaskDefinition: "confirmPickup", AggregateID: "r-1"})
	require.NoError(t, err)

	require.NoError(t, f.adapter.WithdrawTask(ctx, id))
	assert.Equal(t, []parameters.Event{parameters.EventCreated, parameters.EventCanceled}, f.handler.events())

	_, ok := f.adapter.Task(id)
	assert.False(t, ok)
	assert.ErrorIs(t, f.adapter.WithdrawTask(ctx, id), adapter.ErrUnknownTask)
}
