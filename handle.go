package distlock

import (
	"context"
	"time"

	"github.com/quay/zlog"
)

// Handle represents one successful claim of a named lock.
//
// A Handle belongs to the caller that acquired it and is not safe for
// concurrent use. Should two releases race anyway, the token-qualified delete
// makes the outcome harmless rather than undefined.
//
// A Handle starts held and becomes released by [Handle.Release] or
// [Handle.Close]; it never transitions back. All calls on a released Handle
// are no-ops.
type Handle struct {
	p          *Provider
	identity   string
	token      string
	annotation string
	held       bool
}

// Identity reports the name of the locked resource.
func (h *Handle) Identity() string {
	return h.identity
}

// Annotation reports the free text supplied at acquisition, if any.
func (h *Handle) Annotation() string {
	return h.annotation
}

// Held reports whether this Handle still holds the lock.
func (h *Handle) Held() bool {
	return h.held
}

// Release frees the lock by deleting the record created by this Handle's
// claim.
//
// The delete is qualified by the claim token, so a Handle that has somehow
// gone stale cannot remove another holder's record. Finding no record to
// delete still counts as released. If the store reports a fault the error is
// returned, the Handle stays held, and Release may be retried.
func (h *Handle) Release(ctx context.Context) error {
	if !h.held {
		return nil
	}
	if err := h.p.release(ctx, h.identity, h.token); err != nil {
		return err
	}
	h.held = false
	return nil
}

// closeTimeout bounds the store call made by Close, which has no caller
// context to inherit a deadline from.
const closeTimeout = 5 * time.Second

// Close releases the lock if it is still held, suppressing any error.
//
// Close is meant for defer: cleanup must not fail, so a fault during the
// delete is logged and the Handle is considered released regardless. Callers
// that need to observe release failures should call [Handle.Release] first;
// Close after a successful Release is a no-op.
func (h *Handle) Close() (_ error) {
	if !h.held {
		return nil
	}
	ctx, done := context.WithTimeout(context.Background(), closeTimeout)
	defer done()
	ctx = zlog.ContextWithValues(ctx, "component", "distlock/Handle.Close")
	if err := h.p.release(ctx, h.identity, h.token); err != nil {
		zlog.Warn(ctx).
			Err(err).
			Str("identity", h.identity).
			Msg("error during release")
	}
	h.held = false
	return nil
}
