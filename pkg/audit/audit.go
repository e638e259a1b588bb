// Package audit keeps a SQLite-backed log of session lifecycle events. It
// records who started a session and how it ended; token values are never
// written.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds
const (
	KindStarted     = "started"
	KindStartFailed = "start_failed"
	KindCaptured    = "captured"
	KindExpired     = "expired"
	KindCleanup     = "cleanup"
	KindShutdown    = "shutdown"
	KindBrowserExit = "browser_exited"
	KindTunnelExit  = "tunnel_exited"
)

// Event is one lifecycle entry.
type Event struct {
	ID        int64
	SessionID string
	OwnerID   string
	Kind      string
	Detail    string
	At        time.Time
}

// Log is an append-only event table.
type Log struct {
	db         *sql.DB
	insertStmt *sql.Stmt
}

const insertEventQuery = `INSERT INTO session_events (session_id, owner_id, kind, detail, at_unix_ms) VALUES (?, ?, ?, ?, ?)`

const listSessionQuery = `
SELECT id, session_id, owner_id, kind, detail, at_unix_ms
FROM session_events
WHERE session_id = ?
ORDER BY at_unix_ms ASC, id ASC`

// Open creates or opens the database at path and runs migrations.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audit database path is required")
	}
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=synchronous(normal)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	l := &Log{db: db}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	if l.insertStmt, err = db.PrepareContext(context.Background(), insertEventQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert event query: %w", err)
	}
	return l, nil
}

func (l *Log) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
CREATE INDEX IF NOT EXISTS idx_session_events_at ON session_events(at_unix_ms);
`
	_, err := l.db.ExecContext(ctx, ddl)
	return err
}

// Record appends an event. A zero At is stamped with the current time.
func (l *Log) Record(ctx context.Context, e Event) error {
	if e.SessionID == "" || e.Kind == "" {
		return errors.New("audit event requires session id and kind")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if _, err := l.insertStmt.ExecContext(ctx, e.SessionID, e.OwnerID, e.Kind, e.Detail, e.At.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", e.Kind, e.SessionID, err)
	}
	return nil
}

// ListSession returns a session's events in time order.
func (l *Log) ListSession(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, listSessionQuery, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.OwnerID, &e.Kind, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (l *Log) Close() error {
	var stmtErr error
	if l.insertStmt != nil {
		stmtErr = l.insertStmt.Close()
	}
	return errors.Join(stmtErr, l.db.Close())
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	return nil
}
