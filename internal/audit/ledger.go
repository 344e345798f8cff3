// Package audit implements the delivery audit ledger (spec.md's
// supplemented operational-forensics component, see SPEC_FULL.md's
// DOMAIN STACK section): an append-only SQLite record of every webhook
// update the bridge has seen and how it was resolved. This is distinct
// from internal/session's bounded in-memory conversation history — the
// ledger never rewrites a row and is meant to survive process restarts
// for later inspection, not to drive the live turn state machine.
// Grounded on the teacher's internal/store.SQLiteStore (WAL pragmas,
// connection pool sizing, schema-on-open) with a single append-only
// table in place of its mutable users/agent_sessions tables.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/shared"
)

// Outcome is the terminal disposition of a delivered update.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// Entry is one row of the delivery ledger.
type Entry struct {
	UpdateID     int64
	ChatID       int64
	InstanceName string
	Outcome      Outcome
	Detail       string
	RecordedAt   time.Time
}

// Ledger is an append-only SQLite-backed record of webhook deliveries.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path, creating its parent
// directory and schema as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "create audit directory", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "open audit database", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "ping audit database", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	const schema = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS deliveries (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		update_id     INTEGER NOT NULL,
		chat_id       INTEGER NOT NULL,
		instance_name TEXT NOT NULL DEFAULT '',
		outcome       TEXT NOT NULL,
		detail        TEXT NOT NULL DEFAULT '',
		recorded_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_update_id ON deliveries(update_id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_recorded_at ON deliveries(recorded_at);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "create audit schema", err)
	}
	return nil
}

// Record appends one delivery entry. It retries once on a SQLite
// busy/locked error, matching the teacher's DeleteAgentSession retry
// pattern scaled down to a single best-effort retry since the ledger is
// fire-and-forget from the dispatcher's perspective.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	err := l.insert(ctx, e)
	if err != nil && shared.IsSQLiteConflictError(err) {
		time.Sleep(50 * time.Millisecond)
		err = l.insert(ctx, e)
	}
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Transport, "record audit entry", err)
	}
	return nil
}

func (l *Ledger) insert(ctx context.Context, e Entry) error {
	const query = `
	INSERT INTO deliveries (update_id, chat_id, instance_name, outcome, detail, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query,
		e.UpdateID, e.ChatID, e.InstanceName, string(e.Outcome), e.Detail, e.RecordedAt.Unix())
	return err
}

// Recent returns the most recently recorded entries, newest first,
// bounded by limit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
	SELECT update_id, chat_id, instance_name, outcome, detail, recorded_at
	FROM deliveries ORDER BY id DESC LIMIT ?`
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "query audit entries", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var recordedAt int64
		if err := rows.Scan(&e.UpdateID, &e.ChatID, &e.InstanceName, &outcome, &e.Detail, &recordedAt); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.Internal, "scan audit entry", err)
		}
		e.Outcome = Outcome(outcome)
		e.RecordedAt = time.Unix(recordedAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, "iterate audit entries", err)
	}
	return entries, nil
}

// Prune deletes entries older than before, returning the count removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM deliveries WHERE recorded_at < ?`, before.Unix())
	if err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.Transport, "prune audit entries", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close audit database: %w", err)
	}
	return nil
}
