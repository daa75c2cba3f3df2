// Package session drives one caller conversation over a duplex transport:
// greet, then listen and answer turn by turn until the caller hangs up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukasbauer/hotline/internal/classifier"
	"github.com/lukasbauer/hotline/internal/eventlog"
	"github.com/lukasbauer/hotline/internal/metrics"
	"github.com/lukasbauer/hotline/internal/notifications"
	"github.com/lukasbauer/hotline/internal/ratelimit"
	"github.com/lukasbauer/hotline/internal/store"
	"github.com/lukasbauer/hotline/internal/tts"
)

// State is a session lifecycle state, reported upper-case in events.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateGreeting   State = "GREETING"
	StateListening  State = "LISTENING"
	StateProcessing State = "PROCESSING"
	StateEnded      State = "ENDED"
	StateError      State = "ERROR"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

var (
	// ErrPayloadTooLarge is logged when an audio frame exceeds MaxAudioBytes.
	ErrPayloadTooLarge = errors.New("audio payload too large")

	// errDisconnected marks transport failures; the caller is gone.
	errDisconnected = errors.New("transport disconnected")
)

// Transport is a duplex channel to the caller. Read returns an error once
// the caller disconnects.
type Transport interface {
	Read(ctx context.Context) (Inbound, error)
	WriteJSON(ctx context.Context, v any) error
	WriteBinary(ctx context.Context, data []byte) error
}

// Transcriber turns caller audio into text. It never fails.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// Synthesizer renders reply text as audio. It never fails.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) tts.Audio
}

// Classifier maps an utterance to a catalog disposition.
type Classifier interface {
	Classify(utterance string) classifier.Result
}

// Admitter gates inbound frames per scope and client.
type Admitter interface {
	AdmitScope(ctx context.Context, scope ratelimit.Scope, clientID string) ratelimit.Decision
}

// HistoryAppender records completed voice turns.
type HistoryAppender interface {
	AppendCallRecord(ctx context.Context, r *store.CallRecord) (*store.CallRecord, error)
}

// Escalator alerts operators about calls the classifier could not place.
type Escalator interface {
	Escalate(ctx context.Context, e notifications.Escalation)
}

// Deps are the process-wide services a session calls into. History,
// Escalator and Events may be nil.
type Deps struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	Classifier  Classifier
	Limiter     Admitter
	History     HistoryAppender
	Escalator   Escalator
	Events      *eventlog.Logger
	Logger      *log.Logger
}

// Config holds per-session settings. Zero values take defaults.
type Config struct {
	Greeting      string
	VoiceID       string
	MaxAudioBytes int
}

// Session is one caller connection driven through the state machine by Run.
type Session struct {
	id        string
	clientID  string
	transport Transport
	deps      Deps
	cfg       Config
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New builds a session in CONNECTING with a fresh id.
func New(t Transport, clientID string, deps Deps, cfg Config) *Session {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = tts.DefaultVoice
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioLen
	}
	return &Session{
		id:        uuid.NewString(),
		clientID:  clientID,
		transport: t,
		deps:      deps,
		cfg:       cfg,
		now:       time.Now,
		state:     StateConnecting,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	metrics.RecordTransition(string(next))
}

// Run drives the session until the caller ends the call or disconnects.
// It returns an error only for an unexpected failure, after which the
// session is in StateError.
func (s *Session) Run(ctx context.Context) error {
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	s.deps.Logger.Printf("session: %s started (client=%s)", s.id, s.clientID)
	s.deps.Events.LogAsync(s.id, eventlog.EventSessionStarted, map[string]any{"client_id": s.clientID})
	defer func() {
		s.deps.Events.LogAsync(s.id, eventlog.EventSessionEnded, map[string]any{"state": string(s.State())})
	}()

	if err := s.greet(ctx); err != nil {
		return s.finish(err)
	}

	for {
		msg, err := s.transport.Read(ctx)
		if err != nil {
			s.deps.Logger.Printf("session: %s caller disconnected: %v", s.id, err)
			s.setState(StateEnded)
			return nil
		}

		done, err := s.handle(ctx, msg)
		if err != nil {
			return s.finish(err)
		}
		if done {
			return nil
		}
	}
}

// finish ends the session after a failed step.
func (s *Session) finish(err error) error {
	if errors.Is(err, errDisconnected) {
		s.deps.Logger.Printf("session: %s write failed, caller gone: %v", s.id, err)
		s.setState(StateEnded)
		return nil
	}

	s.deps.Logger.Printf("session: %s fatal: %v", s.id, err)
	s.deps.Events.LogAsync(s.id, eventlog.EventSessionError, map[string]any{"error": err.Error()})
	_ = s.sendError(context.Background(), CodeInternal, noticeInternal, 0)
	s.setState(StateError)
	return fmt.Errorf("session %s: %w", s.id, err)
}

func (s *Session) greet(ctx context.Context) error {
	s.setState(StateGreeting)

	err := s.writeJSON(ctx, greetingMessage{Type: "greeting", Text: s.cfg.Greeting, SessionID: s.id})
	if err != nil {
		return err
	}
	audio := s.deps.Synthesizer.Synthesize(ctx, s.cfg.Greeting, s.cfg.VoiceID)
	if err := s.writeBinary(ctx, audio.Data); err != nil {
		return err
	}

	s.setState(StateListening)
	return nil
}

// handle processes one inbound frame to completion. done reports end of call.
func (s *Session) handle(ctx context.Context, msg Inbound) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling message: %v", r)
		}
	}()

	if msg.Binary {
		return false, s.handleAudio(ctx, msg.Data)
	}
	return s.handleText(ctx, msg.Data)
}

// admit returns false after notifying the caller of a rejection.
func (s *Session) admit(ctx context.Context, scope ratelimit.Scope) (bool, error) {
	if s.deps.Limiter == nil {
		return true, nil
	}
	d := s.deps.Limiter.AdmitScope(ctx, scope, s.clientID)
	if d.Allowed {
		return true, nil
	}
	s.deps.Events.LogAsync(s.id, eventlog.EventRateLimited, map[string]any{"scope": string(scope)})
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	return false, s.sendError(ctx, CodeRateLimited, noticeRateLimited, max(secs, 1))
}

func (s *Session) handleAudio(ctx context.Context, data []byte) error {
	ok, err := s.admit(ctx, ratelimit.ScopeWSAudio)
	if !ok || err != nil {
		return err
	}
	if len(data) > s.cfg.MaxAudioBytes {
		s.deps.Events.LogAsync(s.id, eventlog.EventRejected, map[string]any{
			"reason": ErrPayloadTooLarge.Error(),
			"bytes":  len(data),
		})
		return s.sendError(ctx, CodePayloadTooLarge, noticeTooLarge, 0)
	}

	s.setState(StateProcessing)
	start := s.now()

	transcript := s.deps.Transcriber.Transcribe(ctx, data)
	s.deps.Events.LogAsync(s.id, eventlog.EventTranscribed, map[string]any{"text": transcript})
	if err := s.writeJSON(ctx, textMessage{Type: "transcript", Text: transcript}); err != nil {
		return err
	}

	result := s.classify(transcript)
	if err := s.writeJSON(ctx, newClassificationMessage(result)); err != nil {
		return err
	}
	if err := s.writeJSON(ctx, textMessage{Type: "response", Text: result.Response}); err != nil {
		return err
	}
	audio := s.deps.Synthesizer.Synthesize(ctx, result.Response, s.cfg.VoiceID)
	if err := s.writeBinary(ctx, audio.Data); err != nil {
		return err
	}

	s.record(ctx, transcript, result, s.now().Sub(start))
	s.escalate(ctx, transcript, result)
	s.setState(StateListening)
	return nil
}

func (s *Session) handleText(ctx context.Context, data []byte) (bool, error) {
	var msg clientMessage
	parseErr := json.Unmarshal(data, &msg)

	// the caller can always hang up
	if parseErr == nil && msg.Type == msgEndCall {
		err := s.writeJSON(ctx, sessionMessage{Type: "call_ended", SessionID: s.id})
		s.setState(StateEnded)
		if errors.Is(err, errDisconnected) {
			return true, nil
		}
		return true, err
	}

	ok, err := s.admit(ctx, ratelimit.ScopeWSText)
	if !ok || err != nil {
		return false, err
	}
	if parseErr != nil {
		return false, s.sendError(ctx, CodeMalformed, noticeMalformed, 0)
	}

	switch msg.Type {
	case msgPing:
		return false, s.writeJSON(ctx, sessionMessage{Type: "pong", SessionID: s.id})
	case msgTextQuery:
		return false, s.handleQuery(ctx, msg.Text)
	default:
		return false, s.sendError(ctx, CodeUnknownType, noticeUnknownType, 0)
	}
}

func (s *Session) handleQuery(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.sendError(ctx, CodeEmptyQuery, noticeEmptyQuery, 0)
	}

	s.setState(StateProcessing)
	result := s.classify(text)
	if err := s.writeJSON(ctx, newClassificationMessage(result)); err != nil {
		return err
	}
	if err := s.writeJSON(ctx, textMessage{Type: "response", Text: result.Response}); err != nil {
		return err
	}
	s.escalate(ctx, text, result)
	s.setState(StateListening)
	return nil
}

func (s *Session) classify(utterance string) classifier.Result {
	result := s.deps.Classifier.Classify(utterance)
	status := store.StatusFor(result)
	metrics.RecordClassification(string(status))
	s.deps.Events.LogAsync(s.id, eventlog.EventClassified, map[string]any{
		"id":         result.ID,
		"confidence": result.Confidence,
		"status":     string(status),
	})
	return result
}

func (s *Session) record(ctx context.Context, transcript string, result classifier.Result, took time.Duration) {
	if s.deps.History == nil {
		return
	}
	id := s.id
	_, err := s.deps.History.AppendCallRecord(ctx, &store.CallRecord{
		SessionID:      &id,
		Transcript:     transcript,
		Classification: result,
		Status:         store.StatusFor(result),
		ResponseText:   result.Response,
		Executor:       result.Executor,
		Duration:       took.Seconds(),
	})
	if err != nil {
		s.deps.Logger.Printf("session: %s history append failed: %v", s.id, err)
	}
}

func (s *Session) escalate(ctx context.Context, utterance string, result classifier.Result) {
	if !result.NeedsOperator || s.deps.Escalator == nil {
		return
	}
	s.deps.Escalator.Escalate(ctx, notifications.Escalation{
		SessionID:  s.id,
		Transcript: utterance,
		Problem:    result.Problem,
		Executor:   result.Executor,
		Urgency:    string(result.Urgency),
	})
}

func (s *Session) sendError(ctx context.Context, code ErrorCode, message string, retryAfter int) error {
	return s.writeJSON(ctx, errorMessage{Type: "error", Code: code, Message: message, RetryAfter: retryAfter})
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	if err := s.transport.WriteJSON(ctx, v); err != nil {
		return fmt.Errorf("%w: %v", errDisconnected, err)
	}
	return nil
}

func (s *Session) writeBinary(ctx context.Context, data []byte) error {
	if err := s.transport.WriteBinary(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", errDisconnected, err)
	}
	return nil
}
