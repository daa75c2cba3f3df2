package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/hotline/internal/metrics"
	"github.com/lukasbauer/hotline/internal/session"
	"github.com/lukasbauer/hotline/internal/store"
)

const (
	wsWriteTimeout  = 10 * time.Second
	greetingTimeout = 2 * time.Second
)

func (r *Router) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			return origin == "" || originAllowed(r.cfg.AllowedOrigins, origin)
		},
	}
}

// wsTransport adapts a gorilla connection to session.Transport. gorilla
// allows one concurrent writer, so writes are serialized.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Read(_ context.Context) (session.Inbound, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return session.Inbound{}, err
	}
	return session.Inbound{Binary: kind == websocket.BinaryMessage, Data: data}, nil
}

func (t *wsTransport) WriteJSON(_ context.Context, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) WriteBinary(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) close(code int, reason string) {
	t.mu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.mu.Unlock()
	_ = t.conn.Close()
}

// readLimit leaves headroom above the audio limit so an oversize frame is
// answered with a notice; frames past the headroom drop the connection.
func readLimit(maxAudio int) int64 {
	if maxAudio <= 0 {
		maxAudio = 5 << 20
	}
	return int64(maxAudio)*2 + 1<<20
}

// handleCallWS upgrades the caller and runs one session. The token query
// parameter, when valid, keys rate limits by subject instead of address.
func (r *Router) handleCallWS(w http.ResponseWriter, req *http.Request) {
	id := "ip:" + r.clientIP(req)
	if tok := req.URL.Query().Get("token"); tok != "" {
		if user, err := r.parseToken(tok); err == nil {
			id = "user:" + user.Subject
		}
	}

	conn, err := r.upgrader().Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("ws: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit(r.cfg.MaxAudioBytes))
	t := &wsTransport{conn: conn}

	if !r.calls.Add() {
		metrics.RecordSessionRejected()
		active, limit := r.calls.ActiveCount(), r.calls.Max()
		r.logger.Printf("ws: rejecting %s, %d/%d sessions active", id, active, limit)
		if r.notifier != nil {
			r.notifier.CapacityReached(context.WithoutCancel(req.Context()), int(active), int(limit))
		}
		t.close(websocket.CloseTryAgainLater, "server at capacity")
		return
	}
	defer r.calls.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
	defer cancel()

	s := session.New(t, id, r.sessionDeps(), session.Config{
		Greeting:      r.greeting(ctx),
		VoiceID:       r.cfg.TTSVoiceID,
		MaxAudioBytes: r.cfg.MaxAudioBytes,
	})
	r.logger.Printf("ws: session %s started for %s", s.ID(), id)

	if err := s.Run(ctx); err != nil {
		r.logger.Printf("ws: session %s failed: %v", s.ID(), err)
		captureError(req, err, "ws: session "+s.ID())
		t.close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	r.logger.Printf("ws: session %s ended", s.ID())
	t.close(websocket.CloseNormalClosure, "")
}

// sessionDeps leaves optional dependencies as untyped nils when absent.
func (r *Router) sessionDeps() session.Deps {
	deps := session.Deps{
		Transcriber: r.stt,
		Synthesizer: r.tts,
		Classifier:  r.classifier,
		Events:      r.eventLog,
		Logger:      r.logger,
	}
	if r.limiter != nil {
		deps.Limiter = r.limiter
	}
	if r.store != nil {
		deps.History = r.store
	}
	if r.notifier != nil {
		deps.Escalator = r.notifier
	}
	return deps
}

// greeting prefers the opening step of the default conversation algorithm.
func (r *Router) greeting(ctx context.Context) string {
	if r.store == nil {
		return r.cfg.GreetingText
	}
	ctx, cancel := context.WithTimeout(ctx, greetingTimeout)
	defer cancel()

	a, err := r.store.DefaultAlgorithm(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Printf("ws: default algorithm: %v", err)
		}
		return r.cfg.GreetingText
	}
	if step, ok := a.FirstStep(); ok && step.Kind == store.StepGreeting && step.Text != "" {
		return step.Text
	}
	return r.cfg.GreetingText
}
