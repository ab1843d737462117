// Package bolt stores workflow aggregates in a BoltDB file, one bucket per
// aggregate type, values encoded as JSON.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/drblury/procflow/internal/runtime/jsoncodec"
	"github.com/drblury/procflow/repository"
)

// ErrBucketRequired is returned when a store is created without bucket name.
var ErrBucketRequired = errors.New("procflow: bolt bucket name is required")

// Open opens (creating if needed) a BoltDB file suitable for Store.
func Open(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, os.FileMode(0o600), &bbolt.Options{Timeout: time.Second})
}

// Store persists aggregates of type A in one bucket.
type Store[A any] struct {
	db       *bbolt.DB
	bucket   []byte
	identity repository.Identity[A]
}

// New creates the bucket if it does not exist yet.
func New[A any](db *bbolt.DB, bucket string, identity repository.Identity[A]) (*Store[A], error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	s := &Store[A]{db: db, bucket: []byte(bucket), identity: identity}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("procflow: create bucket %q: %w", bucket, err)
	}
	return s, nil
}

func (s *Store[A]) FindByID(ctx context.Context, id string) (A, bool, error) {
	var (
		out   A
		found bool
	)
	if err := ctx.Err(); err != nil {
		return out, false, err
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		// raw is only valid inside the transaction; decoding copies it.
		return jsoncodec.Unmarshal(raw, &out)
	})
	if err != nil || !found {
		var zero A
		return zero, false, err
	}
	return out, true, nil
}

func (s *Store[A]) Save(ctx context.Context, aggregate A) (A, error) {
	if err := ctx.Err(); err != nil {
		return aggregate, err
	}
	aggregate, id, err := s.identity.Ensure(aggregate)
	if err != nil {
		return aggregate, err
	}
	raw, err := jsoncodec.Marshal(aggregate)
	if err != nil {
		return aggregate, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(id), raw)
	})
	return aggregate, err
}

func (s *Store[A]) ID(aggregate A) (string, error) {
	return s.identity.ID(aggregate)
}

// Delete removes the aggregate with the given id. Missing ids are ignored.
func (s *Store[A]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(id))
	})
}
