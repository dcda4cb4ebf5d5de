package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/mdallago/distlock"
	"github.com/mdallago/distlock/datastore"
	"github.com/mdallago/distlock/test/integration"
)

func testStore(ctx context.Context, t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	pool := integration.NeedDB(ctx, t)
	table := integration.TableName(ctx, t, pool)
	return New(pool, WithTable(table)), pool
}

func TestEnsureSchema(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, _ := testStore(ctx, t)

	// Idempotent: twice is fine.
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	// Concurrent first-time bootstrap from several "processes."
	s2, _ := testStore(ctx, t)
	eg, ectx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			return s2.EnsureSchema(ectx)
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimRelease(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, pool := testStore(ctx, t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Claim(ctx, datastore.Record{Identity: "res", Token: "tok-1", Annotation: "holder-a"})
	if err != nil || !ok {
		t.Fatalf("claim: acquired %v, err %v", ok, err)
	}

	var (
		token     string
		note      *string
		createdAt time.Time
	)
	q := fmt.Sprintf(`SELECT token, context, created_at FROM %s WHERE identity = $1;`, pgx.Identifier{s.table}.Sanitize())
	if err := pool.QueryRow(ctx, q, "res").Scan(&token, &note, &createdAt); err != nil {
		t.Fatal(err)
	}
	if token != "tok-1" {
		t.Errorf("got token %q, want %q", token, "tok-1")
	}
	if note == nil || *note != "holder-a" {
		t.Errorf("got context %v, want %q", note, "holder-a")
	}
	if createdAt.IsZero() {
		t.Error("created_at not populated")
	}

	// The insert trips the primary key while the row exists.
	ok, err = s.Claim(ctx, datastore.Record{Identity: "res", Token: "tok-2"})
	if err != nil || ok {
		t.Fatalf("contended claim: acquired %v, err %v", ok, err)
	}

	// A fabricated token must not remove the holder's row.
	deleted, err := s.Release(ctx, "res", "tok-2")
	if err != nil || deleted {
		t.Fatalf("mismatched release: deleted %v, err %v", deleted, err)
	}
	var n int
	count := fmt.Sprintf(`SELECT count(*) FROM %s WHERE identity = $1;`, pgx.Identifier{s.table}.Sanitize())
	if err := pool.QueryRow(ctx, count, "res").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d rows after mismatched release, want 1", n)
	}

	deleted, err = s.Release(ctx, "res", "tok-1")
	if err != nil || !deleted {
		t.Fatalf("release: deleted %v, err %v", deleted, err)
	}
	deleted, err = s.Release(ctx, "res", "tok-1")
	if err != nil || deleted {
		t.Fatalf("repeat release: deleted %v, err %v", deleted, err)
	}
}

func TestNullAnnotation(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, pool := testStore(ctx, t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	if ok, err := s.Claim(ctx, datastore.Record{Identity: "bare", Token: "t"}); err != nil || !ok {
		t.Fatalf("claim: acquired %v, err %v", ok, err)
	}
	var note *string
	q := fmt.Sprintf(`SELECT context FROM %s WHERE identity = $1;`, pgx.Identifier{s.table}.Sanitize())
	if err := pool.QueryRow(ctx, q, "bare").Scan(&note); err != nil {
		t.Fatal(err)
	}
	if note != nil {
		t.Errorf("got context %q, want NULL", *note)
	}
}

func TestProvider(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, _ := testStore(ctx, t)
	p := distlock.New(s, distlock.WithRetryInterval(20*time.Millisecond))
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	h, err := p.Acquire(ctx, "job-1", distlock.WithAnnotation("worker-a"))
	if err != nil {
		t.Fatal(err)
	}
	if busy, err := p.TryAcquire(ctx, "job-1"); err != nil || busy != nil {
		t.Fatalf("lock should be busy: handle %v, err %v", busy, err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
	again, err := p.TryAcquire(ctx, "job-1")
	if err != nil || again == nil {
		t.Fatalf("reacquire: handle %v, err %v", again, err)
	}
	again.Close()
}

func TestContention(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, pool := testStore(ctx, t)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	// A second store over the same table, standing in for another process.
	other := New(pool, WithTable(s.table))

	const n = 8
	var won int64
	eg, ectx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		st := s
		if i%2 == 1 {
			st = other
		}
		eg.Go(func() error {
			ok, err := st.Claim(ectx, datastore.Record{
				Identity: "contended",
				Token:    fmt.Sprintf("tok-%d", i),
			})
			if err != nil {
				return err
			}
			if ok {
				// Exactly one claimant wins; the errgroup wait orders
				// this write with the read below.
				won++
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if won != 1 {
		t.Errorf("got %d winners, want 1", won)
	}
}
