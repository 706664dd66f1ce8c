package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event type constants: process events
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
)

// Event type constants: conversation events
const (
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
	EventTurnStarted    = "turn.started"
	EventTurnCompleted  = "turn.completed"
	EventTurnFailed     = "turn.failed"
	EventTurnAbandoned  = "turn.abandoned"
	EventReplySent      = "reply.sent"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: events, transcript, cursors.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS transcript (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			input TEXT NOT NULL,
			response TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id, seq);

		CREATE TABLE IF NOT EXISTS cursors (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	return err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// TranscriptEntry is one completed exchange as stored for audit.
type TranscriptEntry struct {
	SessionID string
	Seq       int
	Input     string
	Response  string
	CreatedAt int64
}

// AppendTranscript stores a completed exchange. The transcript is write-only
// from the conversation's point of view.
func AppendTranscript(db *sql.DB, sessionID string, seq int, input, response string) error {
	_, err := db.Exec(
		`INSERT INTO transcript (session_id, seq, input, response) VALUES (?, ?, ?, ?)`,
		sessionID, seq, input, response,
	)
	if err != nil {
		return fmt.Errorf("insert transcript %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

// Transcript returns every stored exchange of a session, in turn order.
func Transcript(db *sql.DB, sessionID string) ([]TranscriptEntry, error) {
	rows, err := db.Query(
		`SELECT session_id, seq, input, response, created_at FROM transcript
		 WHERE session_id = ? ORDER BY seq ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Input, &e.Response, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LoadCursor returns the stored value of a named cursor, or 0 if unset.
func LoadCursor(db *sql.DB, name string) (int64, error) {
	var value int64
	err := db.QueryRow(`SELECT value FROM cursors WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

// SaveCursor stores value under name, replacing any previous value.
func SaveCursor(db *sql.DB, name string, value int64) error {
	_, err := db.Exec(
		`INSERT INTO cursors (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = unixepoch()`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}
