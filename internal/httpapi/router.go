package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lukasbauer/hotline/internal/classifier"
	"github.com/lukasbauer/hotline/internal/eventlog"
	"github.com/lukasbauer/hotline/internal/notifications"
	"github.com/lukasbauer/hotline/internal/ratelimit"
	"github.com/lukasbauer/hotline/internal/store"
	"github.com/lukasbauer/hotline/internal/stt"
	"github.com/lukasbauer/hotline/internal/tts"
)

const Version = "1.0.0"

type RouterConfig struct {
	AllowedOrigins []string // empty or "*" allows any origin

	// X-Forwarded-For is ignored unless set
	TrustProxyHeaders bool

	// Session defaults
	GreetingText  string
	TTSVoiceID    string
	MaxAudioBytes int // largest audio frame accepted inside a call
	MaxSessions   int

	// Upload limit for POST /api/transcribe
	MaxUploadBytes int64

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Basic credentials exchanged for tokens
	APIUsername   string
	APIPassword   string
	AdminUsername string
	AdminPassword string
}

// Deps are the long-lived services the router dispatches to. Store, EventLog,
// Notifier and APNs may be nil.
type Deps struct {
	Store      *store.Store
	EventLog   *eventlog.Logger
	Notifier   *notifications.Notifier
	APNs       *notifications.APNsClient
	Limiter    *ratelimit.Limiter
	Classifier *classifier.Classifier
	STT        *stt.Gateway
	TTS        *tts.Gateway
	Calls      *CallRegistry
	Metrics    http.Handler
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	store      *store.Store
	eventLog   *eventlog.Logger
	notifier   *notifications.Notifier
	apns       *notifications.APNsClient
	limiter    *ratelimit.Limiter
	classifier *classifier.Classifier
	stt        *stt.Gateway
	tts        *tts.Gateway
	calls      *CallRegistry
	metrics    http.Handler
	mux        *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, deps Deps) http.Handler {
	r := newRouter(cfg, logger, deps)
	return withSentryRecovery(withCORS(cfg.AllowedOrigins, r.mux))
}

func newRouter(cfg RouterConfig, logger *log.Logger, deps Deps) *Router {
	if logger == nil {
		logger = log.Default()
	}
	if deps.Calls == nil {
		deps.Calls = NewCallRegistry(cfg.MaxSessions)
	}
	r := &Router{
		cfg:        cfg,
		logger:     logger,
		store:      deps.Store,
		eventLog:   deps.EventLog,
		notifier:   deps.Notifier,
		apns:       deps.APNs,
		limiter:    deps.Limiter,
		classifier: deps.Classifier,
		stt:        deps.STT,
		tts:        deps.TTS,
		calls:      deps.Calls,
		metrics:    deps.Metrics,
		mux:        http.NewServeMux(),
	}

	r.routes()
	return r
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.mux.HandleFunc("GET /api/health", r.handleHealth)
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics)
	}

	// Auth (HTTP Basic in, bearer token out)
	r.mux.HandleFunc("POST /auth/token", r.handleIssueToken)

	// Call session (capacity gated)
	r.mux.HandleFunc("GET /ws/call", r.handleCallWS)

	// Inbound request surface, each under its own rate-limit scope
	r.mux.HandleFunc("POST /api/classify", r.withAuth(r.withRateLimit(ratelimit.ScopeClassify, r.handleClassify)))
	r.mux.HandleFunc("POST /api/transcribe", r.withAuth(r.withRateLimit(ratelimit.ScopeTranscribe, r.handleTranscribe)))
	r.mux.HandleFunc("POST /api/synthesize", r.withAuth(r.withRateLimit(ratelimit.ScopeSynthesize, r.handleSynthesize)))
	r.mux.HandleFunc("GET /api/history", r.withAuth(r.withRateLimit(ratelimit.ScopeRead, r.handleHistory)))
	r.mux.HandleFunc("GET /api/stats", r.withAuth(r.withRateLimit(ratelimit.ScopeRead, r.handleStats)))

	// Reference data (read: api, write: admin)
	r.mux.HandleFunc("GET /api/references/executors", r.withAuth(r.handleListExecutors))
	r.mux.HandleFunc("GET /api/references/executors/{id}", r.withAuth(r.handleGetExecutor))
	r.mux.HandleFunc("POST /api/references/executors", r.withAdmin(r.handleCreateExecutor))
	r.mux.HandleFunc("PUT /api/references/executors/{id}", r.withAdmin(r.handleUpdateExecutor))
	r.mux.HandleFunc("DELETE /api/references/executors/{id}", r.withAdmin(r.handleDeleteExecutor))

	r.mux.HandleFunc("GET /api/references/classifiers", r.withAuth(r.handleListCatalog))
	r.mux.HandleFunc("GET /api/references/classifiers/{id}", r.withAuth(r.handleGetCatalogEntry))
	r.mux.HandleFunc("POST /api/references/classifiers", r.withAdmin(r.handleCreateCatalogEntry))
	r.mux.HandleFunc("PUT /api/references/classifiers/{id}", r.withAdmin(r.handleUpdateCatalogEntry))
	r.mux.HandleFunc("DELETE /api/references/classifiers/{id}", r.withAdmin(r.handleDeleteCatalogEntry))

	r.mux.HandleFunc("GET /api/references/algorithms", r.withAuth(r.handleListAlgorithms))
	r.mux.HandleFunc("GET /api/references/algorithms/default", r.withAuth(r.handleDefaultAlgorithm))
	r.mux.HandleFunc("GET /api/references/algorithms/{id}", r.withAuth(r.handleGetAlgorithm))
	r.mux.HandleFunc("POST /api/references/algorithms", r.withAdmin(r.handleCreateAlgorithm))
	r.mux.HandleFunc("PUT /api/references/algorithms/{id}", r.withAdmin(r.handleUpdateAlgorithm))
	r.mux.HandleFunc("DELETE /api/references/algorithms/{id}", r.withAdmin(r.handleDeleteAlgorithm))

	r.mux.HandleFunc("POST /api/references/reload", r.withAdmin(r.handleReload))

	// Operators (admin)
	r.mux.HandleFunc("GET /api/operators/devices", r.withAdmin(r.handleListDevices))
	r.mux.HandleFunc("POST /api/operators/devices", r.withAdmin(r.handleRegisterDevice))
	r.mux.HandleFunc("DELETE /api/operators/devices/{token}", r.withAdmin(r.handleUnregisterDevice))
	r.mux.HandleFunc("POST /api/operators/devices/{token}/test", r.withAdmin(r.handleTestDevice))
	r.mux.HandleFunc("GET /api/sessions/{id}/events", r.withAdmin(r.handleSessionEvents))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.calls.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func originAllowed(allowed []string, origin string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func withCORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		switch {
		case len(allowed) == 0 || slices.Contains(allowed, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Retry-After,X-Sample-Rate")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
