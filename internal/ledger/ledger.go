// Package ledger records catalog ingest runs in a local SQLite database.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Run is one ingest attempt.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Source       string
	Offline      bool
	BodyCount    int
	AddedCount   int
	WarningCount int
	Error        string // empty on success
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Ledger is a SQLite-backed store of ingest runs.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path and applies the schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to ledger: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// NewRunID returns a time-ordered (UUIDv7) run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RecordRun inserts r, assigning an ID when it has none. The stored run is
// returned.
func (l *Ledger) RecordRun(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = NewRunID()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ingest_runs
			(id, started_at, finished_at, source, offline, body_count, added_count, warning_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.StartedAt.UTC().Format(timeLayout),
		r.FinishedAt.UTC().Format(timeLayout),
		r.Source,
		r.Offline,
		r.BodyCount,
		r.AddedCount,
		r.WarningCount,
		r.Error,
	)
	if err != nil {
		return Run{}, fmt.Errorf("recording ingest run: %w", err)
	}
	return r, nil
}

// Runs returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, source, offline, body_count, added_count, warning_count, error
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Source, &r.Offline,
			&r.BodyCount, &r.AddedCount, &r.WarningCount, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning ingest run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: parsing started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s: parsing finished_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ingest runs: %w", err)
	}
	return runs, nil
}
