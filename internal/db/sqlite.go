package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// OpenSQLite opens an embedded database file. ":memory:" gives a private
// in-memory database; the pool is pinned to one connection so every query
// sees the same schema and writes are serialized.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?" + sqlitePragmas
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := ping(ctx, conn); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return Wrap(conn, DialectSQLite), nil
}

// Open picks the driver by name. Accepted drivers are "postgres" and "sqlite";
// pool sizing only applies to Postgres.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*DB, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(driver))) {
	case DialectPostgres, "pgx", "":
		return OpenPostgres(ctx, dsn, pool)
	case DialectSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}
