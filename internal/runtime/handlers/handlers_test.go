package handlers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowServiceProcessIDs(t *testing.T) {
	svc := WorkflowService{Name: "RideService", Process: UseTypeName, SecondaryProcesses: []string{"Refund"}}

	assert.Equal(t, "RideService", svc.PrimaryProcessID())
	assert.Equal(t, []string{"RideService", "Refund"}, svc.ProcessIDs())

	owns, primary := svc.Owns("RideService")
	assert.True(t, owns)
	assert.True(t, primary)

	owns, primary = svc.Owns("Refund")
	assert.True(t, owns)
	assert.False(t, primary)

	owns, _ = svc.Owns("Other")
	assert.False(t, owns)
	owns, _ = svc.Owns("")
	assert.False(t, owns)
}

func TestWorkflowServiceInModule(t *testing.T) {
	assert.True(t, WorkflowService{}.InModule("rides"))
	assert.True(t, WorkflowService{Module: "rides"}.InModule("rides"))
	assert.False(t, WorkflowService{Module: "billing"}.InModule("rides"))
}

func TestTaskMatching(t *testing.T) {
	tests := []struct {
		name       string
		task       Task
		definition string
		element    string
		byDef      bool
		byElement  bool
	}{
		{name: "explicit definition", task: Task{Method: "Ship", TaskDefinition: "ship"}, definition: "ship", byDef: true},
		{name: "explicit definition mismatch", task: Task{Method: "ship", TaskDefinition: "other"}, definition: "ship", element: "ship"},
		{name: "method name sentinel", task: Task{Method: "ship", TaskDefinition: UseMethodName}, definition: "ship", byDef: true},
		{name: "empty definition uses method", task: Task{Method: "ship"}, definition: "ship", byDef: true},
		{name: "element by id", task: Task{Method: "Ship", ID: "Task_ship"}, element: "Task_ship", byElement: true},
		{name: "element by method", task: Task{Method: "Task_ship"}, element: "Task_ship", byElement: true},
		{name: "id wins over method", task: Task{Method: "Task_ship", ID: "other"}, element: "Task_ship"},
		{name: "no callback values", task: Task{Method: "ship"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.byDef, tt.task.MatchesTaskDefinition(tt.definition))
			assert.Equal(t, tt.byElement, tt.task.MatchesElementID(tt.element))
		})
	}
}

func TestRegistrySnapshotIsSortedAndCached(t *testing.T) {
	reg := NewRegistry(WorkflowService{Name: "b"}, WorkflowService{Name: "a"})

	first := reg.Services()
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Name)
	assert.Equal(t, "b", first[1].Name)

	second := reg.Services()
	assert.Same(t, &first[0], &second[0])

	reg.Add(WorkflowService{Name: "c"})
	assert.Len(t, reg.Services(), 3)
	assert.Equal(t, 3, reg.Len())
}

func TestRegistryInvalidateRebuilds(t *testing.T) {
	reg := NewRegistry(WorkflowService{Name: "a"})
	first := reg.Services()

	reg.Invalidate()
	second := reg.Services()

	require.Len(t, second, 1)
	assert.NotSame(t, &first[0], &second[0])
}

func TestRegistryAddCopiesTasks(t *testing.T) {
	tasks := []Task{{Method: "a"}}
	reg := NewRegistry(WorkflowService{Name: "s", Tasks: tasks})
	tasks[0].Method = "changed"

	assert.Equal(t, "a", reg.Services()[0].Tasks[0].Method)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry(WorkflowService{Name: "a"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Len(t, reg.Services(), 1)
		}()
		go func() {
			defer wg.Done()
			reg.Invalidate()
		}()
	}
	wg.Wait()
}
