// Package inmem provides a lock store backed by local concurrency primitives.
//
// It provides no exclusion across processes; it's meant for tests and for
// offline, single-process use. Online systems need a shared store such as
// [github.com/mdallago/distlock/datastore/postgres].
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/mdallago/distlock/datastore"
)

// Store implements [datastore.LockStore] in process memory.
//
// The zero Store is ready for use. A Store must not be copied after use.
type Store struct {
	mu   sync.Mutex
	recs map[string]datastore.Record
}

// Assert [*Store] implements the interface.
var _ datastore.LockStore = (*Store)(nil)

// EnsureSchema implements [datastore.LockStore]. There is no schema; it
// reports success.
func (s *Store) EnsureSchema(_ context.Context) error {
	return nil
}

// Claim implements [datastore.LockStore].
func (s *Store) Claim(_ context.Context, r datastore.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		s.recs = make(map[string]datastore.Record)
	}
	if _, ok := s.recs[r.Identity]; ok {
		return false, nil
	}
	r.CreatedAt = time.Now().UTC()
	s.recs[r.Identity] = r
	return true, nil
}

// Release implements [datastore.LockStore].
func (s *Store) Release(_ context.Context, identity, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[identity]
	if !ok || r.Token != token {
		return false, nil
	}
	delete(s.recs, identity)
	return true, nil
}

// Get reports the record currently held for identity, if any.
//
// It exists for inspection and tests; the locking protocol itself never reads
// records back.
func (s *Store) Get(identity string) (datastore.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[identity]
	return r, ok
}
