package integration

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDSN names the environment variable holding the connection string for
// the database server used by integration tests.
const EnvDSN = `POSTGRES_CONNECTION_STRING`

var (
	rngMu sync.Mutex
	rng   *rand.Rand
)

func init() {
	// Seed our rng.
	b := make([]byte, 8)
	if _, err := io.ReadFull(crand.Reader, b); err != nil {
		panic(err)
	}
	seed := rand.NewSource(int64(binary.BigEndian.Uint64(b)))
	rng = rand.New(seed)
}

// NeedDB connects to the database server named by EnvDSN, skipping the test
// if the package was built without the "integration" tag or the variable is
// unset. The returned pool is closed when the test finishes.
func NeedDB(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	Skip(t)
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("skipping integration test: %s not set", EnvDSN)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("database not available: %v", err)
	}
	return pool
}

// TableName reports a random lock table name and arranges for the table to
// be dropped when the test finishes, so concurrent test runs can share one
// database server without colliding.
func TableName(ctx context.Context, t testing.TB, pool *pgxpool.Pool) string {
	t.Helper()
	rngMu.Lock()
	name := fmt.Sprintf("locks_%x", rng.Uint64())
	rngMu.Unlock()
	t.Cleanup(func() {
		_, err := pool.Exec(context.Background(), fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, pgx.Identifier{name}.Sanitize()))
		if err != nil {
			t.Error(err)
		}
	})
	return name
}
