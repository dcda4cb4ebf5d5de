// Package postgres implements the lock store on PostgreSQL.
//
// The store issues one statement per lock operation: a claim is a bare INSERT
// that either succeeds or trips the primary-key constraint, and a release is
// a DELETE qualified by identity and token. Nothing is cached between calls.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres" // register the postgres dialect
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quay/zlog"

	"github.com/mdallago/distlock/datastore"
)

// DefaultTable is the lock table used unless [WithTable] says otherwise.
const DefaultTable = `DistributedLocks`

var psql = goqu.Dialect("postgres")

// PostgreSQL error codes the store branches on.
const (
	codeUniqueViolation = `23505` // unique_violation
	codeDuplicateTable  = `42P07` // duplicate_table
)

// Store implements [datastore.LockStore] on a PostgreSQL database.
//
// The pool is owned by the caller and may be shared with the rest of the
// application; the Store checks a connection out per operation and returns it
// when the statement completes.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Assert [*Store] implements the interface.
var _ datastore.LockStore = (*Store)(nil)

// Opt is a Store construction option.
type Opt func(*Store)

// WithTable sets the name of the lock table.
func WithTable(name string) Opt {
	return func(s *Store) {
		s.table = name
	}
}

// New creates a Store drawing connections from the provided pool.
func New(pool *pgxpool.Pool, opts ...Opt) *Store {
	s := &Store{
		pool:  pool,
		table: DefaultTable,
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

// EnsureSchema implements [datastore.LockStore].
//
// Two processes bootstrapping at once can race past the IF NOT EXISTS check
// on some configurations; the duplicate-object error that produces is
// classified as success, since the table exists either way.
func (s *Store) EnsureSchema(ctx context.Context) error {
	// NOTE: Constructing the query dynamically is fine here because the
	// table name is set once at construction, is not under per-request
	// control, and goes through [pgx.Identifier]'s sanitization method,
	// which is explicitly made for this purpose.
	const ddl = `
CREATE TABLE IF NOT EXISTS %s (
	identity   VARCHAR(255) NOT NULL PRIMARY KEY,
	token      VARCHAR(255) NOT NULL,
	context    TEXT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT (timezone('UTC', now()))
);`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.EnsureSchema")
	start := time.Now()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(ddl, pgx.Identifier{s.table}.Sanitize()))
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, nil):
	case errors.As(err, &pgErr) && (pgErr.Code == codeDuplicateTable || pgErr.Code == codeUniqueViolation):
		zlog.Debug(ctx).
			Str("code", pgErr.Code).
			Msg("lost concurrent schema bootstrap race")
	default:
		return fmt.Errorf("postgres: error creating lock table: %w", err)
	}
	ensureSchemaCounter.WithLabelValues("create").Add(1)
	ensureSchemaDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())
	return nil
}

// Claim implements [datastore.LockStore].
//
// A primary-key violation means another holder's row exists; that is the
// expected contention signal and is reported as data, not as an error.
func (s *Store) Claim(ctx context.Context, r datastore.Record) (bool, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.Claim")
	query, args, err := psql.Insert(goqu.T(s.table)).
		Prepared(true).
		Cols("identity", "token", "context").
		Vals(goqu.Vals{r.Identity, r.Token, annotation(r.Annotation)}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("postgres: error building claim query: %w", err)
	}
	start := time.Now()
	_, err = s.pool.Exec(ctx, query, args...)
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, nil):
	case errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation:
		claimCounter.WithLabelValues("insert").Add(1)
		claimDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
		return false, nil
	default:
		return false, fmt.Errorf("postgres: error claiming lock: %w", err)
	}
	claimCounter.WithLabelValues("insert").Add(1)
	claimDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	return true, nil
}

// Release implements [datastore.LockStore].
func (s *Store) Release(ctx context.Context, identity, token string) (bool, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.Release")
	query, args, err := psql.Delete(goqu.T(s.table)).
		Prepared(true).
		Where(goqu.Ex{
			"identity": identity,
			"token":    token,
		}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("postgres: error building release query: %w", err)
	}
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: error releasing lock: %w", err)
	}
	releaseCounter.WithLabelValues("delete").Add(1)
	releaseDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	return tag.RowsAffected() > 0, nil
}

// annotation maps the empty annotation to NULL.
func annotation(s string) any {
	if s == "" {
		return nil
	}
	return s
}
