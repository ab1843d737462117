package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/internal/runtime/wiring"
)

type stubAdapter struct{ id string }

func (s stubAdapter) ID() string { return s.id }

func (s stubAdapter) Executor(context.Context, Binding) (Executor, error) { return nil, nil }

func (s stubAdapter) Deploy(context.Context, Deployment, Wirer) error { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAdapter{id: "zeebe"}, Capabilities{RemoteEngine: true})
	reg.Register(stubAdapter{id: " camunda7 "}, Capabilities{NeedsResources: true, Name: "Camunda 7"})

	assert.Equal(t, []string{"camunda7", "zeebe"}, reg.Names())
	assert.True(t, reg.Has("camunda7"))
	assert.Equal(t, 2, reg.Len())

	a, ok := reg.Get("zeebe")
	require.True(t, ok)
	assert.Equal(t, "zeebe", a.ID())

	assert.Equal(t, "zeebe", reg.Capabilities("zeebe").Name)
	assert.True(t, reg.Capabilities("zeebe").RemoteEngine)
	assert.Equal(t, "Camunda 7", reg.Capabilities("camunda7").Name)
	assert.Equal(t, Capabilities{Name: "other"}, reg.Capabilities("other"))
}

func TestRegistrySeal(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAdapter{id: "a"}, Capabilities{})
	reg.Seal()

	assert.True(t, reg.Sealed())
	assert.Panics(t, func() { reg.Register(stubAdapter{id: "b"}, Capabilities{}) })
	assert.Equal(t, []string{"a"}, reg.Names())
}

func TestRegistryRejectsInvalidAdapters(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.Register(nil, Capabilities{}) })
	assert.Panics(t, func() { reg.Register(stubAdapter{id: "  "}, Capabilities{}) })
}

type rideRequested struct{}

type namedMessage struct{}

func (namedMessage) MessageName() string { return "RideCancelled" }

func TestMessageName(t *testing.T) {
	assert.Equal(t, "rideRequested", MessageName(rideRequested{}))
	assert.Equal(t, "rideRequested", MessageName(&rideRequested{}))
	assert.Equal(t, "RideCancelled", MessageName(namedMessage{}))
	assert.Empty(t, MessageName(nil))
}

func TestProcessModelConnectable(t *testing.T) {
	model := ProcessModel{ID: "ride", VersionInfo: "v3", Reference: true}

	c := model.Connectable(TaskNode{ElementID: "Task_1", TaskDefinition: "ship"})

	assert.Equal(t, wiring.Connectable{
		ProcessID:      "ride",
		TaskDefinition: "ship",
		ElementID:      "Task_1",
		VersionInfo:    "v3",
		Executable:     false,
	}, c)
}
