package httpapi

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lukasbauer/hotline/internal/classifier"
	"github.com/lukasbauer/hotline/internal/eventlog"
	"github.com/lukasbauer/hotline/internal/ratelimit"
	"github.com/lukasbauer/hotline/internal/stt"
	"github.com/lukasbauer/hotline/internal/tts"
)

const testSecret = "test-secret-key"

func testConfig() RouterConfig {
	return RouterConfig{
		JWTSecret:     testSecret,
		JWTExpiry:     time.Hour,
		APIUsername:   "api",
		APIPassword:   "api-pass",
		AdminUsername: "admin",
		AdminPassword: "admin-pass",
		MaxSessions:   10,
		GreetingText:  "Вітаю! Гаряча лінія слухає.",
	}
}

// newTestRouter builds a router without a database. Gateways have no
// engines, so they answer with stand-in output.
func newTestRouter(t *testing.T, cfg RouterConfig, policies map[ratelimit.Scope]ratelimit.Policy) *Router {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	var limiter *ratelimit.Limiter
	if policies != nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore(0), policies, logger)
	}
	return newRouter(cfg, logger, Deps{
		EventLog:   eventlog.New(nil),
		Limiter:    limiter,
		Classifier: classifier.New(nil, logger),
		STT:        stt.NewGateway(nil, nil, nil, logger),
		TTS:        tts.NewGateway(nil, nil, nil, logger),
	})
}

func (r *Router) testServer() http.Handler {
	return withCORS(r.cfg.AllowedOrigins, r.mux)
}

func bearer(t *testing.T, r *Router, subject, role string) string {
	t.Helper()
	token, _, err := r.generateJWT(subject, role)
	if err != nil {
		t.Fatalf("generateJWT failed: %v", err)
	}
	return "Bearer " + token
}

func doRequest(h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
