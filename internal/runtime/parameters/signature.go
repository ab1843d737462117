package parameters

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/procflow/internal/runtime/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	stringType  = reflect.TypeOf("")
	intType     = reflect.TypeOf(0)
	eventType   = reflect.TypeOf(Event(""))
)

// Signature is a handler func validated against its roles.
type Signature struct {
	Method       string
	Func         reflect.Value
	TakesContext bool
	Roles        []Role
}

// HasAggregate reports whether the handler declares a WorkflowAggregate role.
func (s *Signature) HasAggregate() bool {
	for _, r := range s.Roles {
		if r.Kind == KindWorkflowAggregate {
			return true
		}
	}
	return false
}

// Validate checks that fn is a func whose arguments, after an optional leading
// context.Context, are covered one to one by roles and whose only result, if
// any, is an error. aggregateType may be nil when the owner declares none.
func Validate(method string, fn any, roles []Role, aggregateType reflect.Type) (*Signature, error) {
	invalid := func(format string, args ...any) error {
		return &errspkg.InvalidHandlerSignatureError{Method: method, Reason: fmt.Sprintf(format, args...)}
	}

	if fn == nil {
		return nil, &errspkg.InvalidHandlerSignatureError{Method: method, Reason: "no func given", Err: errspkg.ErrHandlerRequired}
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, invalid("%s is not a func", t)
	}
	if t.IsVariadic() {
		return nil, invalid("variadic funcs are not supported")
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			return nil, invalid("result must be error, not %s", t.Out(0))
		}
	default:
		return nil, invalid("a handler returns nothing or an error, found %d results", t.NumOut())
	}

	offset := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		offset = 1
	}
	if got, want := t.NumIn()-offset, len(roles); got != want {
		return nil, invalid("%d parameters but %d roles declared", got, want)
	}

	bound := make([]Role, len(roles))
	for i, role := range roles {
		role.Index = i
		param := t.In(i + offset)
		if err := checkRole(role, param, aggregateType); err != nil {
			return nil, invalid("parameter %s of type %s: %v", role, param, err)
		}
		if role.Kind == KindTaskEvent {
			role.Events = expandEvents(role.Events)
		}
		bound[i] = role
	}

	return &Signature{
		Method:       method,
		Func:         v,
		TakesContext: offset == 1,
		Roles:        bound,
	}, nil
}

func checkRole(role Role, param, aggregateType reflect.Type) error {
	switch role.Kind {
	case KindWorkflowAggregate:
		if aggregateType != nil && !aggregateType.AssignableTo(param) {
			return fmt.Errorf("aggregate %s is not assignable", aggregateType)
		}
	case KindTaskID:
		if param != stringType {
			return fmt.Errorf("task id must be a string")
		}
	case KindTaskEvent:
		if param != eventType {
			return fmt.Errorf("task event must be a %s", eventType)
		}
		for _, e := range role.Events {
			if e != EventAll && e != EventCreated && e != EventCanceled {
				return fmt.Errorf("unknown task event %q", e)
			}
		}
	case KindTaskParameter:
		if role.Name == "" {
			return fmt.Errorf("task parameter needs a name")
		}
	case KindMultiInstanceTotal, KindMultiInstanceIndex:
		if role.Name == "" {
			return fmt.Errorf("multi-instance scope needs a name")
		}
		if param != intType {
			return fmt.Errorf("must be an int")
		}
	case KindMultiInstanceElement:
		if role.Name == "" {
			return fmt.Errorf("multi-instance element needs a name or a resolver")
		}
	case KindMultiInstanceResolver:
		if role.Resolver == nil {
			return fmt.Errorf("multi-instance element needs a name or a resolver")
		}
	default:
		return fmt.Errorf("unknown role kind %s", role.Kind)
	}
	return nil
}
