// Package ratelimit implements fixed-window per-client admission control.
//
// A window opens on a client's first request and admits up to Limit requests
// until it expires. Bursts of up to 2×Limit are possible across a window
// boundary.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/lukasbauer/hotline/internal/metrics"
)

// Scope names an independent logical limiter. The same client id is counted
// separately in every scope.
type Scope string

const (
	ScopeClassify   Scope = "classify"
	ScopeTranscribe Scope = "transcribe"
	ScopeSynthesize Scope = "synthesize"
	ScopeWSAudio    Scope = "ws_audio"
	ScopeWSText     Scope = "ws_text"
	ScopeRead       Scope = "read"
)

// Policy allows Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for HTTP headers.
func (d Decision) RetryAfterSeconds() string {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// WindowStore keeps the per-key {count, reset} windows.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// Limiter admits requests against fixed windows and fails open when the store errors.
type Limiter struct {
	store    WindowStore
	policies map[Scope]Policy
	logger   *log.Logger
	now      func() time.Time
}

// New copies policies; scopes without a policy are always admitted.
func New(store WindowStore, policies map[Scope]Policy, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.Default()
	}
	p := make(map[Scope]Policy, len(policies))
	for k, v := range policies {
		p[k] = v
	}
	return &Limiter{store: store, policies: p, logger: logger, now: time.Now}
}

// Admit applies a (limit, window) pair to clientID directly.
func (l *Limiter) Admit(clientID string, limit int, window time.Duration) bool {
	return l.take(context.Background(), clientID, limit, window).Allowed
}

// AdmitScope applies the configured policy for scope. Unknown scopes are admitted.
func (l *Limiter) AdmitScope(ctx context.Context, scope Scope, clientID string) Decision {
	p, ok := l.policies[scope]
	if !ok || p.Limit <= 0 {
		return Decision{Allowed: true}
	}
	d := l.take(ctx, string(scope)+":"+clientID, p.Limit, p.Window)
	if !d.Allowed {
		metrics.RecordRateLimited(string(scope))
	}
	return d
}

// Policy returns the configured policy for scope.
func (l *Limiter) Policy(scope Scope) (Policy, bool) {
	p, ok := l.policies[scope]
	return p, ok
}

func (l *Limiter) take(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if key == "" {
		key = "anonymous"
	}
	d, err := l.store.Take(ctx, key, limit, window, l.now())
	if err != nil {
		// Fail open: a broken window store must not take the service down.
		l.logger.Printf("ratelimit: store error for %s: %v", key, err)
		return Decision{Allowed: true}
	}
	return d
}
