// Package memory provides an in-process aggregate store. Values are copied
// through JSON on every save and load, so callers never share state with the
// store.
package memory

import (
	"context"
	"sync"

	"github.com/drblury/procflow/internal/runtime/jsoncodec"
	"github.com/drblury/procflow/repository"
)

// Store keeps copies of aggregates keyed by id.
type Store[A any] struct {
	identity repository.Identity[A]

	mu   sync.RWMutex
	data map[string]A
}

// New creates an empty store.
func New[A any](identity repository.Identity[A]) *Store[A] {
	return &Store[A]{
		identity: identity,
		data:     make(map[string]A),
	}
}

func (s *Store[A]) FindByID(_ context.Context, id string) (A, bool, error) {
	var zero A

	s.mu.RLock()
	stored, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}

	out, err := jsoncodec.Clone(stored)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func (s *Store[A]) Save(_ context.Context, aggregate A) (A, error) {
	aggregate, id, err := s.identity.Ensure(aggregate)
	if err != nil {
		return aggregate, err
	}
	stored, err := jsoncodec.Clone(aggregate)
	if err != nil {
		return aggregate, err
	}

	s.mu.Lock()
	s.data[id] = stored
	s.mu.Unlock()
	return aggregate, nil
}

func (s *Store[A]) ID(aggregate A) (string, error) {
	return s.identity.ID(aggregate)
}

// Len returns the number of stored aggregates.
func (s *Store[A]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
