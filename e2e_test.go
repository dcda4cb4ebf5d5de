package distlock_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/mdallago/distlock"
	"github.com/mdallago/distlock/datastore/sqlite"
)

// TestEndToEnd runs the whole protocol against a real SQL engine, with two
// providers sharing one database file the way two processes would.
func TestEndToEnd(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	file := filepath.Join(t.TempDir(), "locks.db")

	open := func() *distlock.Provider {
		s, err := sqlite.Open(file)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			if err := s.Close(); err != nil {
				t.Error(err)
			}
		})
		return distlock.New(s, distlock.WithRetryInterval(20*time.Millisecond))
	}
	a, b := open(), open()

	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	// The other provider bootstrapping too is harmless.
	if err := b.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	held, err := a.Acquire(ctx, "job-42", distlock.WithAnnotation("worker-a"))
	if err != nil {
		t.Fatal(err)
	}

	if h, err := b.TryAcquire(ctx, "job-42"); err != nil || h != nil {
		t.Fatalf("lock should be busy: handle %v, err %v", h, err)
	}
	if _, err := b.Acquire(ctx, "job-42", distlock.WithTimeout(50*time.Millisecond)); !errors.Is(err, distlock.ErrTimeout) {
		t.Fatalf("got %v, want %v", err, distlock.ErrTimeout)
	}

	// Freed mid-wait, the other provider gets it before its deadline.
	go func() {
		time.Sleep(60 * time.Millisecond)
		held.Close()
	}()
	h, err := b.Acquire(ctx, "job-42", distlock.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}
