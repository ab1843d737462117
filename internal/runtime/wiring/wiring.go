// Package wiring matches inbound task descriptions to the handler funcs
// declared in the handler registry.
package wiring

import (
	"fmt"
	"reflect"

	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	"github.com/drblury/procflow/internal/runtime/handlers"
	"github.com/drblury/procflow/internal/runtime/parameters"
)

// Connectable describes one task or event of a deployed process that needs a
// handler.
type Connectable struct {
	ProcessID      string
	TaskDefinition string
	ElementID      string
	VersionInfo    string
	// Executable is false for processes deployed for reference only.
	Executable bool
}

func (c Connectable) String() string {
	if c.TaskDefinition != "" {
		return fmt.Sprintf("%s/%s", c.ProcessID, c.TaskDefinition)
	}
	return fmt.Sprintf("%s#%s", c.ProcessID, c.ElementID)
}

// Match is a resolved handler together with its validated signature.
type Match struct {
	Service   handlers.WorkflowService
	Task      handlers.Task
	Signature *parameters.Signature
}

// Method returns "Service.Method" of the match.
func (m *Match) Method() string {
	return m.Service.QualifiedName(m.Task)
}

// Resolver resolves connectables of one workflow module.
type Resolver struct {
	registry *handlers.Registry
	moduleID string
}

// NewResolver returns a resolver over the services of moduleID. Services that
// declare no module take part in every module.
func NewResolver(registry *handlers.Registry, moduleID string) *Resolver {
	return &Resolver{registry: registry, moduleID: moduleID}
}

// Resolve finds the single task handler for c and validates its signature.
func (r *Resolver) Resolve(c Connectable) (*Match, error) {
	var (
		tested  []string
		matched []string
		found   *Match
	)
	for _, svc := range r.registry.Services() {
		if !svc.InModule(r.moduleID) {
			continue
		}
		if owns, _ := svc.Owns(c.ProcessID); !owns {
			continue
		}
		for _, task := range svc.Tasks {
			name := svc.QualifiedName(task)
			tested = append(tested, name)
			if !task.MatchesTaskDefinition(c.TaskDefinition) && !task.MatchesElementID(c.ElementID) {
				continue
			}
			matched = append(matched, name)
			if found == nil {
				found = &Match{Service: svc, Task: task}
			}
		}
	}

	switch {
	case len(matched) == 0:
		return nil, &errspkg.NoHandlerFoundError{
			ProcessID:      c.ProcessID,
			TaskDefinition: c.TaskDefinition,
			ElementID:      c.ElementID,
			Tested:         tested,
		}
	case len(matched) > 1:
		return nil, &errspkg.AmbiguousHandlerError{
			ProcessID:      c.ProcessID,
			TaskDefinition: c.TaskDefinition,
			ElementID:      c.ElementID,
			Matched:        matched,
		}
	}

	sig, err := parameters.Validate(found.Method(), found.Task.Func, found.Task.Roles, found.Service.AggregateType)
	if err != nil {
		return nil, err
	}
	found.Signature = sig
	return found, nil
}

// WireService returns the service implementing processID and whether processID
// is its primary process. Several services may implement the same process as
// long as they agree on the aggregate type. The one declaring it primary is
// preferred, otherwise the first by name is returned.
func (r *Resolver) WireService(processID string) (handlers.WorkflowService, bool, error) {
	var (
		tested []string
		owners []handlers.WorkflowService
		types  []reflect.Type
	)
	for _, svc := range r.registry.Services() {
		if !svc.InModule(r.moduleID) {
			continue
		}
		tested = append(tested, svc.Name)
		if owns, _ := svc.Owns(processID); !owns {
			continue
		}
		owners = append(owners, svc)
		if !containsType(types, svc.AggregateType) {
			types = append(types, svc.AggregateType)
		}
	}

	if len(owners) == 0 {
		return handlers.WorkflowService{}, false, &errspkg.NoHandlerFoundError{ProcessID: processID, Tested: tested}
	}
	if len(types) > 1 {
		matched := make([]string, 0, len(owners))
		for _, svc := range owners {
			matched = append(matched, fmt.Sprintf("%s by %s", typeName(svc.AggregateType), svc.Name))
		}
		return handlers.WorkflowService{}, false, &errspkg.AmbiguousHandlerError{ProcessID: processID, Matched: matched}
	}

	for _, svc := range owners {
		if _, primary := svc.Owns(processID); primary {
			return svc, true, nil
		}
	}
	return owners[0], false, nil
}

func containsType(types []reflect.Type, t reflect.Type) bool {
	for _, existing := range types {
		if existing == t {
			return true
		}
	}
	return false
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<none>"
	}
	return t.String()
}
