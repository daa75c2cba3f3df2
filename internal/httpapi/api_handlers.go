package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
	"github.com/lukasbauer/hotline/internal/store"
)

const defaultMaxUploadBytes = 25 << 20

type componentStatus struct {
	Status  string `json:"status"`
	Engines any    `json:"engines,omitempty"`
	Count   int    `json:"categories_count,omitempty"`
	Active  int64  `json:"active,omitempty"`
	Max     int64  `json:"max,omitempty"`
}

// enginesStatus is "fallback" when no engine can serve and the gateway will
// answer with stand-in output.
func enginesStatus(caps []engine.Capability) string {
	for _, c := range caps {
		if c.Usable() {
			return "healthy"
		}
	}
	return "fallback"
}

// handleHealth reports engine capabilities, catalog size and live sessions.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	components := map[string]componentStatus{}

	if r.stt != nil {
		st := r.stt.Status()
		caps := make([]engine.Capability, len(st))
		for i, e := range st {
			caps[i] = e.Capability
		}
		components["asr"] = componentStatus{Status: enginesStatus(caps), Engines: st}
	}
	if r.tts != nil {
		st := r.tts.Status()
		caps := make([]engine.Capability, len(st))
		for i, e := range st {
			caps[i] = e.Capability
		}
		components["tts"] = componentStatus{Status: enginesStatus(caps), Engines: st}
	}
	if r.classifier != nil {
		components["classifier"] = componentStatus{Status: "healthy", Count: r.classifier.Len()}
	}

	db := componentStatus{Status: "not_configured"}
	if r.store != nil {
		db.Status = "healthy"
		if err := r.store.Ping(req.Context()); err != nil {
			r.logger.Printf("health: database ping failed: %v", err)
			db.Status = "unhealthy"
		}
	}
	components["database"] = db
	components["sessions"] = componentStatus{
		Status: "healthy",
		Active: r.calls.ActiveCount(),
		Max:    r.calls.Max(),
	}

	status := "healthy"
	if db.Status == "unhealthy" || r.calls.IsDraining() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    Version,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

func (r *Router) handleClassify(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := r.classifier.Classify(text)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"query":          text,
		"classification": result,
	})
}

func (r *Router) maxUploadBytes() int64 {
	if r.cfg.MaxUploadBytes > 0 {
		return r.cfg.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// handleTranscribe accepts a multipart "audio" file. Engine failures never
// surface; the gateway always returns text.
func (r *Router) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	limit := r.maxUploadBytes()
	req.Body = http.MaxBytesReader(w, req.Body, limit+1<<20)

	file, _, err := req.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Файл занадто великий")
			return
		}
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "Файл занадто великий")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	transcript := r.stt.Transcribe(req.Context(), data)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"transcript": transcript,
		"language":   "uk",
	})
}

func (r *Router) handleSynthesize(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.Voice == "" {
		body.Voice = r.cfg.TTSVoiceID
	}

	out := r.tts.Synthesize(req.Context(), body.Text, body.Voice)
	format := audio.Sniff(out.Data)

	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("Content-Disposition", `inline; filename="speech`+format.Ext()+`"`)
	w.Header().Set("X-Sample-Rate", strconv.Itoa(out.SampleRate))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func (r *Router) requireStore(w http.ResponseWriter) bool {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return false
	}
	return true
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}

	limit := store.DefaultHistoryLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = store.ClampLimit(n)
	}
	offset := 0
	if v := req.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	records, err := r.store.ListCallRecords(req.Context(), limit, offset)
	if err != nil {
		r.logger.Printf("history: failed to list records: %v", err)
		captureError(req, err, "history: list records")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
		"history": records,
	})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	stats, err := r.store.Statistics(req.Context())
	if err != nil {
		r.logger.Printf("stats: %v", err)
		captureError(req, err, "stats: load")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}
