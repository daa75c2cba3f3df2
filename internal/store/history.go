package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lukasbauer/hotline/internal/classifier"
)

type CallStatus string

const (
	StatusResolved  CallStatus = "resolved"
	StatusEscalated CallStatus = "escalated"
)

// StatusFor maps a classification to its history status.
func StatusFor(r classifier.Result) CallStatus {
	if r.NeedsOperator {
		return StatusEscalated
	}
	return StatusResolved
}

const (
	// DefaultHistoryLimit applies when the caller names no page size.
	DefaultHistoryLimit = 50

	minHistoryLimit = 10
	maxHistoryLimit = 100

	// reported when no record carries a positive duration yet
	defaultAvgResponseTime = 3.5
)

// CallRecord is one processed turn. Duration is in seconds.
type CallRecord struct {
	ID             string            `json:"id"`
	SessionID      *string           `json:"session_id,omitempty"`
	CreatedAt      time.Time         `json:"timestamp"`
	Transcript     string            `json:"transcript"`
	Classification classifier.Result `json:"classification"`
	Status         CallStatus        `json:"status"`
	ResponseText   string            `json:"response_text"`
	Executor       string            `json:"executor"`
	Duration       float64           `json:"duration"`
}

// ClampLimit bounds a requested page size to [1, 100]; zero or negative
// requests get 10.
func ClampLimit(limit int) int {
	if limit < 1 {
		return minHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

func (s *Store) AppendCallRecord(ctx context.Context, r *CallRecord) (*CallRecord, error) {
	snapshot, err := json.Marshal(r.Classification)
	if err != nil {
		return nil, fmt.Errorf("encode classification: %w", err)
	}
	if r.Status == "" {
		r.Status = StatusFor(r.Classification)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO call_records (session_id, transcript, classification, status,
			response_text, executor, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, r.SessionID, r.Transcript, snapshot, string(r.Status), r.ResponseText,
		r.Executor, r.Duration).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append call record: %w", err)
	}
	return r, nil
}

// ListCallRecords returns the newest records first.
func (s *Store) ListCallRecords(ctx context.Context, limit, offset int) ([]CallRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, created_at, transcript, classification, status,
			response_text, executor, duration
		FROM call_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, ClampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallRecord{}
	for rows.Next() {
		var (
			r        CallRecord
			snapshot []byte
			status   string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.CreatedAt, &r.Transcript, &snapshot,
			&status, &r.ResponseText, &r.Executor, &r.Duration); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &r.Classification); err != nil {
			return nil, fmt.Errorf("decode classification for %s: %w", r.ID, err)
		}
		r.Status = CallStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCallRecords counts all records, or those with status when non-empty.
func (s *Store) CountCallRecords(ctx context.Context, status CallStatus) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_records WHERE ($1 = '' OR status = $1)
	`, string(status)).Scan(&n)
	return n, err
}

type Statistics struct {
	TotalCalls        int     `json:"total_calls"`
	AIResolved        int     `json:"ai_resolved"`
	Escalated         int     `json:"escalated"`
	AIResolvedPercent float64 `json:"ai_resolved_percent"`
	AvgResponseTime   float64 `json:"avg_response_time"`
}

func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var (
		total, resolved, escalated int
		avg                        *float64
	)
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'resolved'),
			COUNT(*) FILTER (WHERE status = 'escalated'),
			AVG(duration) FILTER (WHERE duration > 0)
		FROM call_records
	`).Scan(&total, &resolved, &escalated, &avg)
	if err != nil {
		return Statistics{}, fmt.Errorf("call statistics: %w", err)
	}
	return newStatistics(total, resolved, escalated, avg), nil
}

func newStatistics(total, resolved, escalated int, avg *float64) Statistics {
	st := Statistics{
		TotalCalls:      total,
		AIResolved:      resolved,
		Escalated:       escalated,
		AvgResponseTime: defaultAvgResponseTime,
	}
	if total > 0 {
		st.AIResolvedPercent = math.Round(float64(resolved)/float64(total)*1000) / 10
	}
	if avg != nil && *avg > 0 {
		st.AvgResponseTime = *avg
	}
	return st
}

// SessionEvent is one row of the per-session event log.
type SessionEvent struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) ListSessionEvents(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, event_type, event_data, created_at
		FROM call_events
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionEvent{}
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
