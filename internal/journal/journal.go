// Package journal keeps a local SQLite record of every report the agent
// attempted to send, so a session summary survives collector outages.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fakeyudi/proctor/internal/incident"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL,
    event_id     TEXT NOT NULL,
    student_id   TEXT NOT NULL,
    exam_id      TEXT NOT NULL,
    type         TEXT NOT NULL,
    details      TEXT NOT NULL,
    url          TEXT,
    screenshot   INTEGER NOT NULL,
    occurred_ns  INTEGER NOT NULL,
    outcome      TEXT NOT NULL,
    error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id, occurred_ns);
`

// Outcome of a send attempt.
type Outcome string

const (
	Sent   Outcome = "sent"
	Failed Outcome = "failed"
)

// Entry is one recorded attempt.
type Entry struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"session_id"`
	EventID    string        `json:"event_id"`
	StudentID  string        `json:"student_id"`
	ExamID     string        `json:"exam_id"`
	Type       incident.Type `json:"type"`
	Details    string        `json:"details"`
	URL        string        `json:"url,omitempty"`
	Screenshot bool          `json:"screenshot"`
	OccurredAt time.Time     `json:"occurred_at"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
}

// Tally counts attempts of one incident type.
type Tally struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Store is the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores attempt a under sessionID.
func (s *Store) Record(ctx context.Context, sessionID string, a incident.Attempt) error {
	outcome, errText := Sent, ""
	if a.Err != nil {
		outcome, errText = Failed, a.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (session_id, event_id, student_id, exam_id, type, details, url, screenshot, occurred_ns, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, a.Event.ID, a.StudentID, a.ExamID, string(a.Event.Type), a.Event.Details,
		a.Event.URL, len(a.Event.Screenshot) > 0, a.Event.OccurredAt.UnixNano(), string(outcome), errText,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// List returns the attempts of sessionID in the order they occurred.
func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_id, student_id, exam_id, type, details, url, screenshot, occurred_ns, outcome, error
		FROM attempts WHERE session_id = ? ORDER BY occurred_ns, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			typ     string
			outcome string
			url     sql.NullString
			errText sql.NullString
			ns      int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventID, &e.StudentID, &e.ExamID, &typ, &e.Details,
			&url, &e.Screenshot, &ns, &outcome, &errText); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		e.Type = incident.Type(typ)
		e.Outcome = Outcome(outcome)
		e.URL = url.String
		e.Error = errText.String
		e.OccurredAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts tallies the attempts of sessionID by incident type.
func (s *Store) Counts(ctx context.Context, sessionID string) (map[incident.Type]Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, outcome, COUNT(*) FROM attempts
		WHERE session_id = ? GROUP BY type, outcome`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[incident.Type]Tally)
	for rows.Next() {
		var (
			typ, outcome string
			n            int
		)
		if err := rows.Scan(&typ, &outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		t := out[incident.Type(typ)]
		if Outcome(outcome) == Sent {
			t.Sent += n
		} else {
			t.Failed += n
		}
		out[incident.Type(typ)] = t
	}
	return out, rows.Err()
}

// ForSession binds the store to one session.
func (s *Store) ForSession(sessionID string) *SessionLog {
	return &SessionLog{store: s, sessionID: sessionID}
}

// SessionLog records attempts for a single session.
type SessionLog struct {
	store     *Store
	sessionID string
}

func (l *SessionLog) Record(ctx context.Context, a incident.Attempt) error {
	return l.store.Record(ctx, l.sessionID, a)
}
