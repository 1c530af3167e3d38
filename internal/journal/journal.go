// Package journal implements an optional, opt-in diagnostic recording of
// every event envelope a session receives, backed by SQLite the way the
// donor's internal/schedule/store.go persists schedules: WAL mode, a busy
// timeout, and a migrate-on-open schema. This is diagnostic-only: no
// replay or resumption ever reads from it, keeping session persistence a
// deliberate non-goal.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftwire/agentcli/internal/events"
)

// Journal records event envelopes for later inspection (e.g. a support
// engineer replaying "what did the CLI actually send us" after an
// incident). It never feeds events back into a live session.
type Journal struct {
	db *sql.DB
}

// Open creates or reopens a journal database under dataDir.
func Open(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "events.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		parent_id TEXT,
		event_type TEXT NOT NULL,
		ephemeral INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		occurred_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record persists one event envelope for sessionID. Ephemeral envelopes
// (assistant message deltas) are recorded too, since the journal's job is
// diagnostic completeness, not reconstructing authoritative session state.
func (j *Journal) Record(ctx context.Context, sessionID string, env events.Envelope) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (id, session_id, parent_id, event_type, ephemeral, recorded_at, occurred_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, sessionID, env.ParentID, string(env.Type), env.Ephemeral, time.Now(), env.Timestamp, string(env.Data),
	)
	if err != nil {
		return fmt.Errorf("recording event %s: %w", env.ID, err)
	}
	return nil
}

// Record is a row read back out of the journal for inspection.
type Record struct {
	ID         string
	SessionID  string
	ParentID   string
	Type       string
	Ephemeral  bool
	RecordedAt time.Time
	OccurredAt time.Time
	Data       string
}

// ForSession returns every recorded event for sessionID, oldest first.
func (j *Journal) ForSession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, parent_id, event_type, ephemeral, recorded_at, occurred_at, data
		FROM events WHERE session_id = ? ORDER BY occurred_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying journal for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var parentID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &parentID, &rec.Type, &rec.Ephemeral, &rec.RecordedAt, &rec.OccurredAt, &rec.Data); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		rec.ParentID = parentID.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes journal rows recorded before cutoff, for callers that
// want to bound the journal's on-disk size.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return res.RowsAffected()
}
