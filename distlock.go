// Package distlock provides mutual exclusion across independent processes,
// arbitrated by a shared relational store.
//
// The store's uniqueness constraint is the mutex: a lock is held by whichever
// claimant managed to insert the row for its identity, and freed by deleting
// that row. The module keeps no record of which locks are held; the store is
// the single source of truth, so handles stay valid across any number of
// cooperating processes and machines.
//
// Locks must be consistent system-wide to provide any benefit. An online
// system should back the [Provider] with a shared database (see
// [github.com/mdallago/distlock/datastore/postgres]); offline or
// single-process use cases can use
// [github.com/mdallago/distlock/datastore/inmem].
//
// Lock renewal, leader election, and fairness among waiters are out of scope.
package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/mdallago/distlock/datastore"
)

// DefaultRetryInterval is the pause between claim attempts while an
// acquisition deadline has not yet elapsed.
//
// The interval is fixed, not exponential: the store's own constraint bounds
// the load of a retry, and a short fixed poll keeps claim latency low.
// Callers needing finer control should supply a shorter timeout rather than
// tuning the interval per call.
const DefaultRetryInterval = 100 * time.Millisecond

// MaxIdentityLen is the longest lock identity accepted, in bytes.
//
// This is enforced here, before any store access, independent of the lock
// table's column width.
const MaxIdentityLen = 255

// Provider hands out locks backed by a [datastore.LockStore].
//
// A Provider is safe for concurrent use. It holds no connections and no
// bookkeeping of outstanding locks; every operation runs against the store
// and the store alone.
type Provider struct {
	store datastore.LockStore
	retry time.Duration
}

// Opt is a Provider construction option.
type Opt func(*Provider)

// WithRetryInterval sets the pause between claim attempts.
//
// Intervals of zero or less are ignored.
func WithRetryInterval(d time.Duration) Opt {
	return func(p *Provider) {
		if d > 0 {
			p.retry = d
		}
	}
}

// New creates a Provider using the provided store.
func New(store datastore.LockStore, opts ...Opt) *Provider {
	p := &Provider{
		store: store,
		retry: DefaultRetryInterval,
	}
	for _, f := range opts {
		f(p)
	}
	return p
}

// EnsureSchema idempotently creates the lock table if it is absent.
//
// It is safe to call concurrently from multiple processes; the store's own
// "create if not exists" semantics do the arbitration. No lock identity is
// involved, so failures surface as plain store faults.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "distlock/Provider.EnsureSchema")
	if err := p.store.EnsureSchema(ctx); err != nil {
		return &Error{
			Kind:  ErrInternal,
			Op:    "ensureschema",
			Inner: err,
		}
	}
	zlog.Debug(ctx).Msg("lock schema ensured")
	return nil
}

// AcquireOpt modifies a single acquisition.
type AcquireOpt func(*acquireOpts)

type acquireOpts struct {
	timeout    time.Duration
	annotation string
}

// WithTimeout bounds how long an acquisition may keep retrying after losing
// a claim to an existing holder.
//
// Without this option (or with a non-positive duration) exactly one claim is
// attempted and a busy lock is reported immediately.
func WithTimeout(d time.Duration) AcquireOpt {
	return func(o *acquireOpts) {
		o.timeout = d
	}
}

// WithAnnotation attaches free text to the claim, for example the identity of
// the holder. It is stored with the lock record and never interpreted.
func WithAnnotation(s string) AcquireOpt {
	return func(o *acquireOpts) {
		o.annotation = s
	}
}

// TryAcquire attempts to take the named lock.
//
// A nil Handle with a nil error is the busy outcome: the lock is held
// elsewhere and the deadline, if any, elapsed before it was freed. Losing to
// contention is expected steady state, not an error.
//
// Cancellation of ctx is observed during store I/O and while waiting out the
// retry interval, and is reported as ctx's error.
func (p *Provider) TryAcquire(ctx context.Context, identity string, opts ...AcquireOpt) (*Handle, error) {
	var o acquireOpts
	for _, f := range opts {
		f(&o)
	}
	return p.tryAcquire(ctx, identity, &o)
}

// Acquire is TryAcquire with the busy outcome promoted to an error.
//
// It never returns a nil Handle with a nil error; if the lock cannot be
// obtained before the deadline, the returned error matches [ErrTimeout] and
// names the identity and the timeout used.
func (p *Provider) Acquire(ctx context.Context, identity string, opts ...AcquireOpt) (*Handle, error) {
	var o acquireOpts
	for _, f := range opts {
		f(&o)
	}
	h, err := p.tryAcquire(ctx, identity, &o)
	if err != nil || h != nil {
		return h, err
	}
	return nil, &Error{
		Kind:    ErrTimeout,
		Op:      "acquire",
		Message: fmt.Sprintf("lock %q not acquired within %v", identity, o.timeout),
	}
}

func (p *Provider) tryAcquire(ctx context.Context, identity string, o *acquireOpts) (*Handle, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "distlock/Provider.TryAcquire")
	switch {
	case identity == "":
		return nil, &Error{
			Kind:    ErrInvalid,
			Op:      "acquire",
			Message: "empty identity",
		}
	case len(identity) > MaxIdentityLen:
		return nil, &Error{
			Kind:    ErrInvalid,
			Op:      "acquire",
			Message: fmt.Sprintf("identity longer than %d bytes", MaxIdentityLen),
		}
	}

	// One token per acquisition: only one claim in this loop can ever win,
	// and the token is what ties the eventual release back to that claim.
	token := uuid.NewString()
	var deadline time.Time
	if o.timeout > 0 {
		deadline = time.Now().Add(o.timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acquired, err := p.store.Claim(ctx, datastore.Record{
			Identity:   identity,
			Token:      token,
			Annotation: o.annotation,
		})
		switch {
		case err != nil:
			return nil, &Error{
				Kind:    ErrInternal,
				Op:      "acquire",
				Message: fmt.Sprintf("lock %q", identity),
				Inner:   err,
			}
		case acquired:
			zlog.Debug(ctx).
				Str("identity", identity).
				Msg("lock acquired")
			return &Handle{
				p:          p,
				identity:   identity,
				token:      token,
				annotation: o.annotation,
				held:       true,
			}, nil
		}

		if deadline.IsZero() || !time.Now().Before(deadline) {
			zlog.Debug(ctx).
				Str("identity", identity).
				Msg("lock busy")
			return nil, nil
		}
		t := time.NewTimer(p.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// release is the token-qualified delete behind [Handle.Release].
//
// The delete predicate includes the token, so a stale handle can never remove
// a row created by a different claim. Deleting zero rows is success: the lock
// was already gone.
func (p *Provider) release(ctx context.Context, identity, token string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "distlock/Provider.release")
	deleted, err := p.store.Release(ctx, identity, token)
	if err != nil {
		return &Error{
			Kind:    ErrInternal,
			Op:      "release",
			Message: fmt.Sprintf("lock %q", identity),
			Inner:   err,
		}
	}
	if !deleted {
		zlog.Debug(ctx).
			Str("identity", identity).
			Msg("no lock record to release")
	}
	return nil
}
