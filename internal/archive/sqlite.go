// Package archive keeps a permanent, redacted record of finished calls in
// SQLite. The transient session store only holds live calls; once a call
// ends its transcript lands here.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/voxgov/internal/redact"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

// ErrNotFound is returned when no archived call matches.
var ErrNotFound = errors.New("archived call not found")

// Archiver persists finished calls.
type Archiver interface {
	Archive(ctx context.Context, s *session.Session) (string, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	archive_id      TEXT PRIMARY KEY,
	call_id         TEXT NOT NULL,
	tenant_id       TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	ended_at        TEXT,
	outcome         TEXT,
	total_turns     INTEGER NOT NULL,
	avg_latency_ms  REAL NOT NULL,
	escalated       INTEGER NOT NULL,
	transcript_json TEXT NOT NULL,
	redactions_json TEXT,
	archived_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_tenant ON calls(tenant_id, started_at);
CREATE INDEX IF NOT EXISTS idx_calls_call ON calls(call_id);
`

// Record is one archived call.
type Record struct {
	ArchiveID    string
	CallID       string
	TenantID     string
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      string
	TotalTurns   int
	AvgLatencyMs float64
	Escalated    bool
	Transcript   Transcript
	Redactions   map[string]int
	ArchivedAt   time.Time
}

// SQLiteArchive stores transcripts in a SQLite database.
type SQLiteArchive struct {
	db       *sql.DB
	redactor *redact.Redactor
	now      func() time.Time
}

// Open opens (creating if needed) the archive at path. Use ":memory:" for
// a throwaway archive.
func Open(path string, redactor *redact.Redactor) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteArchive{db: db, redactor: redactor, now: time.Now}, nil
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// Archive redacts and stores s, returning the new archive id.
func (a *SQLiteArchive) Archive(ctx context.Context, s *session.Session) (string, error) {
	transcript, findings := BuildTranscript(s, a.redactor)
	tj, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	rj, err := json.Marshal(redact.Summary(findings))
	if err != nil {
		return "", fmt.Errorf("marshal redactions: %w", err)
	}

	var endedAt, outcome sql.NullString
	if s.Outcome != nil {
		endedAt = sql.NullString{String: s.Outcome.EndedAt.UTC().Format(time.RFC3339Nano), Valid: true}
		outcome = sql.NullString{String: s.Outcome.Status, Valid: true}
	}

	id := uuid.New().String()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO calls (archive_id, call_id, tenant_id, started_at, ended_at, outcome,
			total_turns, avg_latency_ms, escalated, transcript_json, redactions_json, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.Identity.CallID, s.Identity.TenantID,
		s.Identity.StartedAt.UTC().Format(time.RFC3339Nano), endedAt, outcome,
		s.Metrics.TotalTurns, s.Metrics.AvgResponseLatencyMs, boolInt(s.Metrics.EscalationTriggered),
		string(tj), string(rj), a.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert call: %w", err)
	}
	return id, nil
}

const selectCols = `archive_id, call_id, tenant_id, started_at, ended_at, outcome,
	total_turns, avg_latency_ms, escalated, transcript_json, redactions_json, archived_at`

// Get returns one archived call.
func (a *SQLiteArchive) Get(ctx context.Context, archiveID string) (*Record, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM calls WHERE archive_id = ?`, archiveID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListByTenant returns a tenant's most recent calls, newest first.
func (a *SQLiteArchive) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM calls WHERE tenant_id = ? ORDER BY started_at DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec                        Record
		started, archived          string
		ended, outcome, redactions sql.NullString
		transcript                 string
		escalated                  int
	)
	err := sc.Scan(&rec.ArchiveID, &rec.CallID, &rec.TenantID, &started, &ended, &outcome,
		&rec.TotalTurns, &rec.AvgLatencyMs, &escalated, &transcript, &redactions, &archived)
	if err != nil {
		return nil, err
	}
	rec.Escalated = escalated == 1
	rec.Outcome = outcome.String
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.ArchivedAt, err = time.Parse(time.RFC3339Nano, archived); err != nil {
		return nil, fmt.Errorf("parse archived_at: %w", err)
	}
	if ended.Valid {
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, ended.String); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	if redactions.Valid && redactions.String != "" {
		if err := json.Unmarshal([]byte(redactions.String), &rec.Redactions); err != nil {
			return nil, fmt.Errorf("unmarshal redactions: %w", err)
		}
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
