package parameters

import "fmt"

// Kind tags the meaning of one handler argument.
type Kind int

const (
	KindWorkflowAggregate Kind = iota + 1
	KindTaskID
	KindTaskEvent
	KindTaskParameter
	KindMultiInstanceTotal
	KindMultiInstanceIndex
	KindMultiInstanceElement
	KindMultiInstanceResolver
)

func (k Kind) String() string {
	switch k {
	case KindWorkflowAggregate:
		return "WorkflowAggregate"
	case KindTaskID:
		return "TaskId"
	case KindTaskEvent:
		return "TaskEvent"
	case KindTaskParameter:
		return "TaskParam"
	case KindMultiInstanceTotal:
		return "MultiInstanceTotal"
	case KindMultiInstanceIndex:
		return "MultiInstanceIndex"
	case KindMultiInstanceElement:
		return "MultiInstanceElement"
	case KindMultiInstanceResolver:
		return "MultiInstanceElementResolver"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is the lifecycle event a task callback reports.
type Event string

const (
	EventCreated  Event = "CREATED"
	EventCanceled Event = "CANCELED"
	// EventAll stands for every concrete event and is expanded on declaration.
	EventAll Event = "ALL"
)

var allEvents = []Event{EventCreated, EventCanceled}

// MultiInstance describes one iteration of a repeated workflow construct.
type MultiInstance struct {
	Element any `json:"element"`
	Index   int `json:"index"`
	Total   int `json:"total"`
}

// Resolver computes a multi-instance element from the aggregate and the
// contexts of the multi-instance scopes it names.
type Resolver interface {
	Names() []string
	Resolve(aggregate any, contexts map[string]MultiInstance) (any, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc struct {
	Scopes []string
	Func   func(aggregate any, contexts map[string]MultiInstance) (any, error)
}

func (r ResolverFunc) Names() []string { return r.Scopes }

func (r ResolverFunc) Resolve(aggregate any, contexts map[string]MultiInstance) (any, error) {
	return r.Func(aggregate, contexts)
}

// Role is the declared meaning of one handler argument. Index is the position
// among the handler's arguments and is assigned by Validate.
type Role struct {
	Kind     Kind
	Index    int
	Name     string
	Events   []Event
	Resolver Resolver
}

// WorkflowAggregate binds the aggregate loaded by id.
func WorkflowAggregate() Role { return Role{Kind: KindWorkflowAggregate} }

// TaskID binds the id of the current task.
func TaskID() Role { return Role{Kind: KindTaskID} }

// TaskEvent binds the reported event. Without events, or with EventAll, every
// concrete event is accepted.
func TaskEvent(events ...Event) Role {
	return Role{Kind: KindTaskEvent, Events: expandEvents(events)}
}

// TaskParam binds the task variable with the given name.
func TaskParam(name string) Role { return Role{Kind: KindTaskParameter, Name: name} }

// MultiInstanceTotal binds the iteration count of the named scope.
func MultiInstanceTotal(name string) Role { return Role{Kind: KindMultiInstanceTotal, Name: name} }

// MultiInstanceIndex binds the current iteration of the named scope.
func MultiInstanceIndex(name string) Role { return Role{Kind: KindMultiInstanceIndex, Name: name} }

// MultiInstanceElement binds the current element of the named scope.
func MultiInstanceElement(name string) Role {
	return Role{Kind: KindMultiInstanceElement, Name: name}
}

// MultiInstanceElementResolver binds the value computed by resolver.
func MultiInstanceElementResolver(resolver Resolver) Role {
	return Role{Kind: KindMultiInstanceResolver, Resolver: resolver}
}

// Accepts reports whether a task event role admits event.
func (r Role) Accepts(event Event) bool {
	for _, e := range r.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	switch r.Kind {
	case KindTaskParameter, KindMultiInstanceTotal, KindMultiInstanceIndex, KindMultiInstanceElement:
		return fmt.Sprintf("#%d %s(%q)", r.Index, r.Kind, r.Name)
	case KindTaskEvent:
		return fmt.Sprintf("#%d %s%v", r.Index, r.Kind, r.Events)
	default:
		return fmt.Sprintf("#%d %s", r.Index, r.Kind)
	}
}

func expandEvents(events []Event) []Event {
	if len(events) == 0 {
		return append([]Event(nil), allEvents...)
	}
	seen := make(map[Event]bool, len(allEvents))
	out := make([]Event, 0, len(allEvents))
	add := func(e Event) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range events {
		if e == EventAll {
			for _, a := range allEvents {
				add(a)
			}
			continue
		}
		add(e)
	}
	return out
}
