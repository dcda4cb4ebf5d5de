// Package sqlite implements the lock store on an SQLite database file.
//
// A database file on shared storage gives mutual exclusion to every process
// that can open it, which makes this store suitable for host-local locking
// without running a database server. The protocol is identical to the other
// stores: the table's primary key arbitrates claims.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3" // register the sqlite3 dialect
	"github.com/quay/zlog"
	sqlite3 "modernc.org/sqlite"

	"github.com/mdallago/distlock/datastore"
)

// DefaultTable is the lock table used unless [WithTable] says otherwise.
const DefaultTable = `DistributedLocks`

var dialect = goqu.Dialect("sqlite3")

// Store implements [datastore.LockStore] on an SQLite database.
type Store struct {
	db    *sql.DB
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

// Open opens the named SQLite database file, creating it if needed.
//
// Must be a file on-disk; every process that should participate in the
// exclusion opens the same file. The returned Store must have its Close
// method called, or the process may panic.
func Open(f string, opts ...Opt) (*Store, error) {
	u := url.URL{
		Scheme: `file`,
		Opaque: f,
		RawQuery: url.Values{
			"_pragma": {
				"busy_timeout(5000)",
				"journal_mode(wal)",
			},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := Store{
		db:    db,
		table: DefaultTable,
	}
	for _, o := range opts {
		o(&s)
	}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(&s, func(s *Store) {
		panic(fmt.Sprintf("%s:%d: sqlite lock store not closed", file, line))
	})
	return &s, nil
}

// Close releases held resources.
//
// This must be called when the Store is no longer needed, or the process may
// panic.
func (s *Store) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.db.Close()
}

// EnsureSchema implements [datastore.LockStore].
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS %s (
	identity   TEXT NOT NULL PRIMARY KEY,
	token      TEXT NOT NULL,
	context    TEXT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.EnsureSchema")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, quoteIdent(s.table))); err != nil {
		return fmt.Errorf("sqlite: error creating lock table: %w", err)
	}
	zlog.Debug(ctx).Msg("lock table ensured")
	return nil
}

// Claim implements [datastore.LockStore].
func (s *Store) Claim(ctx context.Context, r datastore.Record) (bool, error) {
	query, args, err := dialect.Insert(goqu.T(s.table)).
		Prepared(true).
		Cols("identity", "token", "context").
		Vals(goqu.Vals{r.Identity, r.Token, annotation(r.Annotation)}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("sqlite: error building claim query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	switch {
	case errors.Is(err, nil):
	case isConstraint(err):
		// Another holder's row exists. Expected under contention.
		return false, nil
	default:
		return false, fmt.Errorf("sqlite: error claiming lock: %w", err)
	}
	return true, nil
}

// Release implements [datastore.LockStore].
func (s *Store) Release(ctx context.Context, identity, token string) (bool, error) {
	query, args, err := dialect.Delete(goqu.T(s.table)).
		Prepared(true).
		Where(goqu.Ex{
			"identity": identity,
			"token":    token,
		}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("sqlite: error building release query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: error releasing lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: error releasing lock: %w", err)
	}
	return n > 0, nil
}

// Get reports the record currently held for identity, if any.
//
// The locking protocol never reads records back; this exists for inspection
// and tests.
func (s *Store) Get(ctx context.Context, identity string) (datastore.Record, bool, error) {
	query, args, err := dialect.From(goqu.T(s.table)).
		Prepared(true).
		Select("identity", "token", "context", "created_at").
		Where(goqu.Ex{"identity": identity}).
		ToSQL()
	if err != nil {
		return datastore.Record{}, false, fmt.Errorf("sqlite: error building get query: %w", err)
	}
	var (
		r    datastore.Record
		note sql.NullString
		at   string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&r.Identity, &r.Token, &note, &at)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return datastore.Record{}, false, nil
	default:
		return datastore.Record{}, false, fmt.Errorf("sqlite: error reading lock record: %w", err)
	}
	r.Annotation = note.String
	// CURRENT_TIMESTAMP renders in SQLite's fixed UTC text format. The
	// timestamp is informational, so a format surprise is not an error.
	if t, err := time.Parse(`2006-01-02 15:04:05`, at); err == nil {
		r.CreatedAt = t.UTC()
	}
	return r, true, nil
}

// isConstraint reports whether err is any member of SQLite's constraint
// error family. The primary-key violation a losing claim trips is
// SQLITE_CONSTRAINT_PRIMARYKEY (1555); the low byte of every member is
// SQLITE_CONSTRAINT (19).
func isConstraint(err error) bool {
	var serr *sqlite3.Error
	return errors.As(err, &serr) && serr.Code()&0xff == 19
}

// quoteIdent quotes an SQL identifier for use in the one dynamically
// constructed statement, the DDL. The table name is set once at construction
// and is not under per-request control.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// annotation maps the empty annotation to NULL.
func annotation(s string) any {
	if s == "" {
		return nil
	}
	return s
}
