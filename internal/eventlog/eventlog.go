// Package eventlog records per-session events to the call_events table.
package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventTranscribed    EventType = "transcribed"
	EventClassified     EventType = "classified"
	EventRateLimited    EventType = "rate_limited"
	EventRejected       EventType = "rejected"
	EventSessionEnded   EventType = "session_ended"
	EventSessionError   EventType = "session_error"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Logger provides async event logging to the database
type Logger struct {
	db      execer
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a new event logger. A nil db turns every call into a no-op.
func New(db execer) *Logger {
	return &Logger{db: db, timeout: 2 * time.Second}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO call_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Wait blocks until pending async writes finish.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
