// Package datastore describes the store that arbitrates locks.
//
// The store is a relational table keyed by lock identity; its uniqueness
// constraint is the only synchronization primitive in the system.
// Implementations live in subpackages and are expected to open and release
// whatever connection they need per operation — any pooling is the
// implementation's concern, never the caller's.
package datastore

import (
	"context"
	"time"
)

// Record is one currently-held lock as persisted by a LockStore.
type Record struct {
	// Identity is the caller-chosen resource name and the table's primary
	// key. At most one row exists per identity at any instant.
	Identity string
	// Token is minted fresh for every claim and proves which claim produced
	// the row. Releases are qualified by it.
	Token string
	// Annotation is caller-supplied free text, stored but never
	// interpreted. Empty is persisted as NULL.
	Annotation string
	// CreatedAt is set by the store at insertion time. Informational only;
	// nothing expires based on it.
	CreatedAt time.Time
}

// LockStore is the adapter boundary over the shared lock table.
//
// Implementations must classify losing a claim to an existing holder as data,
// not as an error: the claim loop upstream branches on the reported bool and
// never inspects error text for contention.
type LockStore interface {
	// EnsureSchema idempotently creates the lock table if absent. It must
	// be safe to call concurrently from multiple processes.
	EnsureSchema(ctx context.Context) error
	// Claim attempts to insert the record. It reports false with a nil
	// error when the insert lost to an existing row for the same identity.
	Claim(ctx context.Context, r Record) (acquired bool, err error)
	// Release deletes the record matching both identity and token. It
	// reports false with a nil error when no such record exists; that is
	// not a fault.
	Release(ctx context.Context, identity, token string) (deleted bool, err error)
}
