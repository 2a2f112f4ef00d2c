// Package eventlog persists an append-only audit trail of ingest and
// query events to a local SQLite database — a supplemented feature
// (SPEC_FULL.md §11.1) with no HTTP surface of its own; it exists purely
// for local observability. Adapted from the teacher's
// internal/store/store.go (WAL-mode modernc.org/sqlite, single-writer
// connection pool, migrate-on-open), repurposed from conversation
// history to ingest/query events.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Kind identifies the category of a logged event.
type Kind string

const (
	// KindIngest is recorded once per PDF or web ingest request.
	KindIngest Kind = "ingest"
	// KindQuery is recorded once per chat query that consults the index.
	KindQuery Kind = "query"
)

// Event is one row of the audit trail.
type Event struct {
	Kind      Kind
	Detail    string // e.g. source paths/URLs for ingest, query text for query
	Ok        bool
	CreatedAt time.Time
}

// Log appends events to a SQLite database. A nil *Log is valid and every
// method is a no-op, matching SPEC_FULL.md's "disabled when unset" rule.
type Log struct {
	db *sql.DB
}

// DefaultPath returns events.db under the ragproxy config directory.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, "events.db")
}

// Open opens (or creates) a Log at path, running the schema migration.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Log, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("eventlog: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    kind       TEXT    NOT NULL CHECK(kind IN ('ingest','query')),
    detail     TEXT    NOT NULL,
    ok         INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind_created ON events (kind, created_at);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("eventlog: migrate: %w", err)
	}
	return nil
}

// Record appends one event. A nil Log silently does nothing.
func (l *Log) Record(ctx context.Context, kind Kind, detail string, ok bool) error {
	if l == nil {
		return nil
	}
	const q = `INSERT INTO events (kind, detail, ok, created_at) VALUES (?, ?, ?, ?)`
	okInt := 0
	if ok {
		okInt = 1
	}
	if _, err := l.db.ExecContext(ctx, q, string(kind), detail, okInt, time.Now().Unix()); err != nil {
		return fmt.Errorf("eventlog: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n events of the given kind, newest first.
func (l *Log) Recent(ctx context.Context, kind Kind, n int) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	const q = `
SELECT kind, detail, ok, created_at FROM events
WHERE kind = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`

	rows, err := l.db.QueryContext(ctx, q, string(kind), n)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var k string
		var okInt int
		var ts int64
		if err := rows.Scan(&k, &e.Detail, &okInt, &ts); err != nil {
			return nil, fmt.Errorf("eventlog: recent scan: %w", err)
		}
		e.Kind = Kind(k)
		e.Ok = okInt != 0
		e.CreatedAt = time.Unix(ts, 0)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: recent rows: %w", err)
	}
	return events, nil
}

// Close releases the underlying database connection. A nil Log does nothing.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
