// Package handlers holds the declarative table of workflow services and their
// task handler funcs.
package handlers

import (
	"reflect"
	"slices"

	"github.com/drblury/procflow/internal/runtime/parameters"
)

const (
	// UseTypeName as a process id makes a service own the process named
	// after the service itself.
	UseTypeName = "#type"

	// UseMethodName as a task definition matches tasks whose definition
	// equals the method name.
	UseMethodName = "#method"
)

// WorkflowService declares which processes a service implements and which
// funcs handle their tasks. Process is the primary process, the one used to
// start new instances.
type WorkflowService struct {
	Name string
	// Module restricts the service to one workflow module. Empty means the
	// default module.
	Module             string
	AggregateType      reflect.Type
	Process            string
	SecondaryProcesses []string
	Tasks              []Task
}

// Task binds one handler func to the tasks it serves.
type Task struct {
	Method string
	// TaskDefinition is matched against the task definition of a callback.
	// UseMethodName or empty falls back to the method name.
	TaskDefinition string
	// ID is matched against the element id when no explicit task definition
	// is declared. Empty falls back to the method name.
	ID    string
	Roles []parameters.Role
	Func  any
}

// QualifiedName returns "Service.Method".
func (s WorkflowService) QualifiedName(t Task) string {
	return s.Name + "." + t.Method
}

// PrimaryProcessID returns the primary process id with UseTypeName replaced.
func (s WorkflowService) PrimaryProcessID() string {
	return s.processID(s.Process)
}

// ProcessIDs returns the primary process id followed by the secondary ones.
func (s WorkflowService) ProcessIDs() []string {
	ids := make([]string, 0, 1+len(s.SecondaryProcesses))
	if s.Process != "" {
		ids = append(ids, s.PrimaryProcessID())
	}
	for _, p := range s.SecondaryProcesses {
		ids = append(ids, s.processID(p))
	}
	return ids
}

// Owns reports whether the service implements processID and whether that is
// its primary process.
func (s WorkflowService) Owns(processID string) (owns, primary bool) {
	if processID == "" {
		return false, false
	}
	if !slices.Contains(s.ProcessIDs(), processID) {
		return false, false
	}
	return true, s.PrimaryProcessID() == processID
}

// InModule reports whether the service takes part in moduleID.
func (s WorkflowService) InModule(moduleID string) bool {
	return s.Module == "" || s.Module == moduleID
}

// HasExplicitTaskDefinition reports whether t names a task definition of its
// own.
func (t Task) HasExplicitTaskDefinition() bool {
	return t.TaskDefinition != "" && t.TaskDefinition != UseMethodName
}

// MatchesTaskDefinition reports whether t handles tasks with definition.
func (t Task) MatchesTaskDefinition(definition string) bool {
	if definition == "" {
		return false
	}
	if t.HasExplicitTaskDefinition() {
		return t.TaskDefinition == definition
	}
	return t.Method == definition
}

// MatchesElementID reports whether t handles the element elementID. Only
// tasks without an explicit task definition match by element.
func (t Task) MatchesElementID(elementID string) bool {
	if elementID == "" || t.HasExplicitTaskDefinition() {
		return false
	}
	if t.ID != "" {
		return t.ID == elementID
	}
	return t.Method == elementID
}

func (s WorkflowService) processID(id string) string {
	if id == UseTypeName {
		return s.Name
	}
	return id
}

func (s WorkflowService) clone() WorkflowService {
	s.SecondaryProcesses = slices.Clone(s.SecondaryProcesses)
	tasks := make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		t.Roles = slices.Clone(t.Roles)
		tasks[i] = t
	}
	s.Tasks = tasks
	return s
}
