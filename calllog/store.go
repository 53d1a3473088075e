// Package calllog provides an optional, append-only SQLite audit trail
// of outbound RPC calls made through a resclient.Client's request
// multiplexer: method, RID, duration, and outcome. It records calls,
// never resource state — resclient.Options.CallLog is the only place
// it is wired in, and is nil by default.
//
// Uses a dual-driver SQLite pattern: mattn/go-sqlite3 for production
// opens, modernc.org/sqlite registered for pure-Go test databases
// that need to avoid cgo. The schema is created on first use and the
// table is append-only; summaries are computed with aggregate queries
// over a time range rather than maintained incrementally.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is a single multiplexed call.
type Record struct {
	ID         string
	Timestamp  time.Time
	Method     string
	RID        string
	DurationMS int64
	// Outcome is "ok" or the error code returned by the call.
	Outcome string
}

// Summary holds aggregated call counts and latency for a time range.
type Summary struct {
	TotalCalls      int
	FailedCalls     int
	TotalDurationMS int64
}

// Store is an append-only SQLite store for call records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates or opens a call-log store at dbPath. The schema is
// created automatically on first use. driverName selects the
// registered sql.DB driver: "sqlite3" (mattn/go-sqlite3, the
// production default) or "sqlite" (modernc.org/sqlite, the pure-Go
// driver tests register so they don't need cgo).
func Open(driverName, dbPath string) (*Store, error) {
	if driverName == "" {
		driverName = "sqlite3"
	}
	db, err := sql.Open(driverName, dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open calllog database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate calllog schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS call_records (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		method      TEXT NOT NULL,
		rid         TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calllog_timestamp ON call_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_calllog_rid ON call_records(rid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a call record. If rec.ID is empty a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate call record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_records (id, timestamp, method, rid, duration_ms, outcome)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Method,
		rec.RID,
		rec.DurationMS,
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// Summary returns aggregated call counts and latency for records
// within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(duration_ms), 0)
		 FROM call_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalCalls, &sum.FailedCalls, &sum.TotalDurationMS); err != nil {
		return nil, fmt.Errorf("query calllog summary: %w", err)
	}
	return &sum, nil
}
