// Package journal records session activity as an event tree in SQLite:
// process -> session -> turn. Completed exchanges are also copied to the
// transcript table for audit.
package journal

import (
	"database/sql"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/windowchat/internal/db"
	"github.com/stupiduntilnot/windowchat/internal/session"
)

// Journal implements session.Observer. Write failures are logged and never
// reach the conversation.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
	rootID int64

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry outlives session.ended while a turn is still in flight, so
// the late turn.abandoned event hangs under its session.
type sessionEntry struct {
	eventID  int64
	inFlight int
	ended    bool
}

// Open logs a process.started root event for role and returns a journal
// whose session events hang under it.
func Open(database *sql.DB, role string, logger *zap.Logger, extra map[string]any) (*Journal, error) {
	payload := map[string]any{"role": role, "pid": os.Getpid()}
	for k, v := range extra {
		payload[k] = v
	}
	rootID, err := db.LogEvent(database, nil, db.EventProcessStarted, payload)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		db:       database,
		logger:   logger.Named("journal"),
		rootID:   rootID,
		sessions: map[string]*sessionEntry{},
	}, nil
}

// RootID is the id of the process.started event.
func (j *Journal) RootID() int64 { return j.rootID }

// Close logs process.stopped.
func (j *Journal) Close() {
	j.log(&j.rootID, db.EventProcessStopped, nil)
}

func (j *Journal) SessionStarted(id string) {
	eventID, ok := j.log(&j.rootID, db.EventSessionStarted, map[string]any{"session_id": id})
	if !ok {
		return
	}
	j.mu.Lock()
	j.sessions[id] = &sessionEntry{eventID: eventID}
	j.mu.Unlock()
}

func (j *Journal) SessionEnded(id string) {
	parent := j.sessionEvent(id)
	j.log(parent, db.EventSessionEnded, map[string]any{"session_id": id})
	j.mu.Lock()
	if e, ok := j.sessions[id]; ok {
		e.ended = true
		if e.inFlight == 0 {
			delete(j.sessions, id)
		}
	}
	j.mu.Unlock()
}

func (j *Journal) TurnStarted(ev session.TurnEvent) {
	j.mu.Lock()
	if e, ok := j.sessions[ev.SessionID]; ok {
		e.inFlight++
	}
	j.mu.Unlock()
	j.log(j.sessionEvent(ev.SessionID), db.EventTurnStarted, map[string]any{
		"seq":           ev.Seq,
		"prompt_tokens": ev.PromptTokens,
		"window_len":    ev.WindowLen,
	})
}

func (j *Journal) TurnFinished(ev session.TurnEvent) {
	payload := map[string]any{
		"seq":         ev.Seq,
		"window_len":  ev.WindowLen,
		"duration_ms": ev.Duration.Milliseconds(),
	}
	eventType := db.EventTurnCompleted
	switch ev.Outcome {
	case session.OutcomeAbandoned:
		eventType = db.EventTurnAbandoned
	case session.OutcomeFailed:
		eventType = db.EventTurnFailed
		payload["error_class"] = ev.ErrClass
		if ev.Err != nil {
			payload["error"] = ev.Err.Error()
		}
	default:
		payload["response_chars"] = len([]rune(ev.Response))
	}
	j.log(j.sessionEvent(ev.SessionID), eventType, payload)
	j.turnDone(ev.SessionID)

	if ev.Outcome == session.OutcomeCompleted {
		if err := db.AppendTranscript(j.db, ev.SessionID, ev.Seq, ev.Input, ev.Response); err != nil {
			j.logger.Warn("transcript write failed", zap.String("session_id", ev.SessionID), zap.Error(err))
		}
	}
}

// ReplySent records a reply delivered to a chat transport.
func (j *Journal) ReplySent(sessionID string, payload map[string]any) {
	j.log(j.sessionEvent(sessionID), db.EventReplySent, payload)
}

// turnDone drops an ended session once its last in-flight turn reported.
// Turns rejected before starting never incremented inFlight.
func (j *Journal) turnDone(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.sessions[id]
	if !ok || e.inFlight == 0 {
		return
	}
	e.inFlight--
	if e.ended && e.inFlight == 0 {
		delete(j.sessions, id)
	}
}

// sessionEvent returns the session.started event id, falling back to the
// process root for sessions started before the journal existed.
func (j *Journal) sessionEvent(id string) *int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e, ok := j.sessions[id]; ok {
		eventID := e.eventID
		return &eventID
	}
	root := j.rootID
	return &root
}

func (j *Journal) log(parent *int64, eventType string, payload map[string]any) (int64, bool) {
	id, err := db.LogEvent(j.db, parent, eventType, payload)
	if err != nil {
		j.logger.Warn("event write failed", zap.String("event_type", eventType), zap.Error(err))
		return 0, false
	}
	return id, true
}
