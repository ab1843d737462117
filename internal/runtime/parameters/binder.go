package parameters

import (
	"context"
	"fmt"
	"math"
	"reflect"

	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	"github.com/drblury/procflow/internal/runtime/jsoncodec"
)

// Repository is the part of an aggregate repository the binder needs.
type Repository interface {
	FindByID(ctx context.Context, id string) (any, bool, error)
	Save(ctx context.Context, aggregate any) (any, error)
}

// Sources supplies the live values of one task callback. Parameter and
// MultiInstance may be nil when the callback carries no such values.
type Sources struct {
	AggregateID string
	TaskID      string
	// Event defaults to EventCreated when empty.
	Event         Event
	Parameter     func(name string) (any, bool)
	MultiInstance func(name string) (MultiInstance, error)
	// Save persists the aggregate after a successful call.
	Save bool
}

// Result is what an invocation leaves behind.
type Result struct {
	// Aggregate is the bound (and, if requested, saved) aggregate. It is nil
	// when the handler declares no aggregate role.
	Aggregate any
	Bound     bool
}

// Binder builds handler arguments from Sources and calls the handler.
type Binder struct {
	repo Repository
}

// NewBinder returns a binder loading aggregates through repo. repo may be nil
// for handlers that never bind an aggregate.
func NewBinder(repo Repository) *Binder {
	return &Binder{repo: repo}
}

// Invoke binds every role of sig in two passes, the aggregate first, and calls
// the handler. An error returned by the handler is passed through unchanged.
func (b *Binder) Invoke(ctx context.Context, sig *Signature, src Sources) (Result, error) {
	ft := sig.Func.Type()
	offset := 0
	if sig.TakesContext {
		offset = 1
	}
	args := make([]reflect.Value, len(sig.Roles)+offset)
	if sig.TakesContext {
		args[0] = reflect.ValueOf(&ctx).Elem()
	}

	var (
		aggregate any
		bound     bool
	)
	for _, role := range sig.Roles {
		if role.Kind != KindWorkflowAggregate {
			continue
		}
		loaded, err := b.load(ctx, sig, role, src.AggregateID)
		if err != nil {
			return Result{}, err
		}
		aggregate, bound = loaded, true
		v, err := assign(loaded, ft.In(role.Index+offset))
		if err != nil {
			return Result{}, resolutionError(sig, role, err)
		}
		args[role.Index+offset] = v
	}

	lazy := &lazyAggregate{binder: b, sig: sig, id: src.AggregateID, value: aggregate, loaded: bound}
	for _, role := range sig.Roles {
		if role.Kind == KindWorkflowAggregate {
			continue
		}
		raw, err := b.resolve(ctx, sig, role, src, lazy)
		if err != nil {
			return Result{}, err
		}
		v, err := assign(raw, ft.In(role.Index+offset))
		if err != nil {
			return Result{}, resolutionError(sig, role, err)
		}
		args[role.Index+offset] = v
	}

	out := sig.Func.Call(args)
	if len(out) == 1 && !out[0].IsNil() {
		return Result{}, out[0].Interface().(error)
	}

	if !bound {
		return Result{}, nil
	}
	if src.Save && aggregate != nil {
		saved, err := b.repo.Save(ctx, aggregate)
		if err != nil {
			return Result{}, fmt.Errorf("procflow: save aggregate after %s: %w", sig.Method, err)
		}
		aggregate = saved
	}
	return Result{Aggregate: aggregate, Bound: true}, nil
}

func (b *Binder) load(ctx context.Context, sig *Signature, role Role, id string) (any, error) {
	if b.repo == nil {
		return nil, resolutionError(sig, role, errspkg.ErrRepositoryRequired)
	}
	if id == "" {
		return nil, resolutionError(sig, role, errspkg.ErrAggregateRequired)
	}
	// A fresh load yields a plain value some adapters need to serialize.
	aggregate, ok, err := b.repo.FindByID(ctx, id)
	if err != nil {
		return nil, resolutionError(sig, role, err)
	}
	if !ok {
		return nil, nil
	}
	return aggregate, nil
}

func (b *Binder) resolve(ctx context.Context, sig *Signature, role Role, src Sources, lazy *lazyAggregate) (any, error) {
	switch role.Kind {
	case KindTaskID:
		return src.TaskID, nil

	case KindTaskEvent:
		event := src.Event
		if event == "" {
			event = EventCreated
		}
		if !role.Accepts(event) {
			return nil, resolutionError(sig, role, fmt.Errorf("event %q not in %v", event, role.Events))
		}
		return event, nil

	case KindTaskParameter:
		if src.Parameter == nil {
			return nil, nil
		}
		value, _ := src.Parameter(role.Name)
		return value, nil

	case KindMultiInstanceTotal, KindMultiInstanceIndex, KindMultiInstanceElement:
		mi, err := multiInstance(src, role.Name)
		if err != nil {
			return nil, resolutionError(sig, role, err)
		}
		switch role.Kind {
		case KindMultiInstanceTotal:
			return mi.Total, nil
		case KindMultiInstanceIndex:
			return mi.Index, nil
		default:
			return mi.Element, nil
		}

	case KindMultiInstanceResolver:
		contexts := make(map[string]MultiInstance, len(role.Resolver.Names()))
		for _, name := range role.Resolver.Names() {
			mi, err := multiInstance(src, name)
			if err != nil {
				return nil, resolutionError(sig, role, err)
			}
			contexts[name] = mi
		}
		aggregate, err := lazy.get(ctx, role)
		if err != nil {
			return nil, err
		}
		value, err := role.Resolver.Resolve(aggregate, contexts)
		if err != nil {
			return nil, resolutionError(sig, role, err)
		}
		return value, nil
	}
	return nil, resolutionError(sig, role, fmt.Errorf("unknown role kind %s", role.Kind))
}

func multiInstance(src Sources, name string) (MultiInstance, error) {
	if src.MultiInstance == nil {
		return MultiInstance{}, fmt.Errorf("no multi-instance context %q", name)
	}
	return src.MultiInstance(name)
}

// lazyAggregate hands resolvers the aggregate, loading it on first use when
// the handler itself does not bind it.
type lazyAggregate struct {
	binder *Binder
	sig    *Signature
	id     string
	value  any
	loaded bool
}

func (l *lazyAggregate) get(ctx context.Context, role Role) (any, error) {
	if l.loaded || l.id == "" || l.binder.repo == nil {
		return l.value, nil
	}
	value, err := l.binder.load(ctx, l.sig, role, l.id)
	if err != nil {
		return nil, err
	}
	l.value, l.loaded = value, true
	return value, nil
}

func resolutionError(sig *Signature, role Role, err error) error {
	return &errspkg.ParameterResolutionError{Method: sig.Method, Parameter: role.String(), Err: err}
}

// assign turns v into a value of type t. Nil becomes the zero value, numbers
// are converted when the target holds them exactly, and anything else falls back to a JSON round trip so
// variables decoded from the wire reach typed parameters.
func assign(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(t.Kind()) {
		return convertNumber(rv, t)
	}

	out := reflect.New(t)
	if err := jsoncodec.Convert(v, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", v, t, err)
	}
	return out.Elem(), nil
}

// convertNumber converts rv to the numeric type t, failing when the value is
// fractional for an integer target or outside the range of t.
func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	lossy := fmt.Errorf("cannot convert %v (%s) to %s without loss", rv.Interface(), rv.Type(), t)

	switch {
	case isSigned(t.Kind()):
		var i int64
		switch {
		case isSigned(rv.Kind()):
			i = rv.Int()
		case isUnsigned(rv.Kind()):
			if rv.Uint() > math.MaxInt64 {
				return reflect.Value{}, lossy
			}
			i = int64(rv.Uint())
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, lossy
			}
			i = int64(f)
		}
		if out.OverflowInt(i) {
			return reflect.Value{}, lossy
		}
		out.SetInt(i)

	case isUnsigned(t.Kind()):
		var u uint64
		switch {
		case isSigned(rv.Kind()):
			if rv.Int() < 0 {
				return reflect.Value{}, lossy
			}
			u = uint64(rv.Int())
		case isUnsigned(rv.Kind()):
			u = rv.Uint()
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, lossy
			}
			u = uint64(f)
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, lossy
		}
		out.SetUint(u)

	default:
		f := rv.Convert(reflect.TypeFor[float64]()).Float()
		if out.OverflowFloat(f) {
			return reflect.Value{}, lossy
		}
		out.SetFloat(f)
	}
	return out, nil
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
