// Package cache persists query results across process runs (spec.md §6
// "On-disk state"), grounded on the teacher's internal/db package: a
// single modernc.org/sqlite connection, schema applied through
// pressly/goose's embedded-migration provider, WAL journaling, and a
// serialized writer (SetMaxOpenConns(1)) since sqlite only allows one
// writer at a time.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/cespare/xxhash/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Store is an on-disk (query_name, key) -> value table that survives
// across runs. The query engine keeps its own table in memory and does
// not read or write a Store; the link checker's StoreCache is its only
// user.
type Store struct {
	conn *sql.DB
}

// Open creates or attaches to the cache database at path, applying any
// pending schema migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open query cache: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping query cache: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Put stores value under (queryName, keyHash) tagged with formatVersion.
// Bumping formatVersion for a query invalidates every entry stored under
// an older version without a migration, since Get rejects mismatches.
func (s *Store) Put(queryName string, keyHash uint64, formatVersion int, value []byte) error {
	checksum := xxhash.Sum64(value)
	_, err := s.conn.Exec(
		`INSERT INTO query_cache (key_hash, query_name, format_version, checksum, value)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key_hash) DO UPDATE SET
		   query_name=excluded.query_name,
		   format_version=excluded.format_version,
		   checksum=excluded.checksum,
		   value=excluded.value,
		   stored_at=datetime('now')`,
		keyHashHex(keyHash), queryName, formatVersion, int64(checksum), value,
	)
	if err != nil {
		return fmt.Errorf("put query cache entry: %w", err)
	}
	return nil
}

// Get returns the cached value for (queryName, keyHash) at formatVersion.
// Entries at a stale format version, or whose checksum no longer matches
// their stored bytes, are treated as misses and silently removed rather
// than surfaced as errors — a corrupt cache must never fail a build.
func (s *Store) Get(queryName string, keyHash uint64, formatVersion int) ([]byte, bool) {
	var (
		gotVersion int
		checksum   int64
		value      []byte
	)
	hexKey := keyHashHex(keyHash)
	row := s.conn.QueryRow(
		`SELECT format_version, checksum, value FROM query_cache WHERE key_hash = ? AND query_name = ?`,
		hexKey, queryName,
	)
	if err := row.Scan(&gotVersion, &checksum, &value); err != nil {
		return nil, false
	}
	if gotVersion != formatVersion || uint64(checksum) != xxhash.Sum64(value) {
		_, _ = s.conn.Exec(`DELETE FROM query_cache WHERE key_hash = ? AND query_name = ?`, hexKey, queryName)
		return nil, false
	}
	return value, true
}

// Invalidate removes every cached entry for a query name, e.g. after a
// code change to its compute function makes its cached results stale.
func (s *Store) Invalidate(queryName string) error {
	_, err := s.conn.Exec(`DELETE FROM query_cache WHERE query_name = ?`, queryName)
	return err
}

func keyHashHex(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
