// Package repository defines how dispatchers and task handlers load and store
// workflow aggregates. Stores are typed per aggregate; Erase adapts them to the
// untyped Repository the runtime consumes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/drblury/procflow/internal/runtime/ids"
)

// ErrAggregateType is returned when an aggregate of the wrong type reaches a
// typed repository.
var ErrAggregateType = errors.New("procflow: aggregate has unexpected type")

// ErrMissingID is returned for aggregates without id when none can be assigned.
var ErrMissingID = errors.New("procflow: aggregate has no id")

var errIdentityGetter = errors.New("procflow: identity requires Get")

// Repository loads and stores workflow aggregates by id. FindByID returns a
// plain value that shares no state with the store.
type Repository interface {
	FindByID(ctx context.Context, id string) (any, bool, error)
	Save(ctx context.Context, aggregate any) (any, error)
	ID(aggregate any) (string, error)
}

// Typed is the per-aggregate-type form of Repository.
type Typed[A any] interface {
	FindByID(ctx context.Context, id string) (A, bool, error)
	Save(ctx context.Context, aggregate A) (A, error)
	ID(aggregate A) (string, error)
}

// Identity reads and optionally assigns aggregate ids. When Set is given,
// saving an aggregate without id assigns a fresh ULID.
type Identity[A any] struct {
	Get func(A) string
	Set func(A, string) A
}

// Ensure assigns an id if the aggregate has none and Set is available.
func (i Identity[A]) Ensure(aggregate A) (A, string, error) {
	if i.Get == nil {
		return aggregate, "", errIdentityGetter
	}
	id := i.Get(aggregate)
	if id != "" {
		return aggregate, id, nil
	}
	if i.Set == nil {
		return aggregate, "", ErrMissingID
	}
	id = ids.CreateULID()
	return i.Set(aggregate, id), id, nil
}

// ID returns the aggregate's id without assigning one.
func (i Identity[A]) ID(aggregate A) (string, error) {
	if i.Get == nil {
		return "", errIdentityGetter
	}
	id := i.Get(aggregate)
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// Erase adapts a typed repository to Repository.
func Erase[A any](typed Typed[A]) Repository {
	return &erased[A]{typed: typed}
}

type erased[A any] struct {
	typed Typed[A]
}

func (e *erased[A]) FindByID(ctx context.Context, id string) (any, bool, error) {
	aggregate, ok, err := e.typed.FindByID(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return aggregate, true, nil
}

func (e *erased[A]) Save(ctx context.Context, aggregate any) (any, error) {
	typed, err := e.cast(aggregate)
	if err != nil {
		return nil, err
	}
	return e.typed.Save(ctx, typed)
}

func (e *erased[A]) ID(aggregate any) (string, error) {
	typed, err := e.cast(aggregate)
	if err != nil {
		return "", err
	}
	return e.typed.ID(typed)
}

func (e *erased[A]) cast(aggregate any) (A, error) {
	typed, ok := aggregate.(A)
	if !ok {
		var zero A
		return zero, fmt.Errorf("%w: got %T, want %v", ErrAggregateType, aggregate, reflect.TypeOf((*A)(nil)).Elem())
	}
	return typed, nil
}

// Unwrap returns the typed repository behind an erased one.
func Unwrap[A any](r Repository) (Typed[A], bool) {
	e, ok := r.(*erased[A])
	if !ok {
		return nil, false
	}
	return e.typed, true
}
