package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lukasbauer/hotline/internal/classifier"
	"github.com/lukasbauer/hotline/internal/store"
)

func activeOnly(req *http.Request) bool {
	return req.URL.Query().Get("active_only") == "true"
}

// storeFailed maps a store error to a response. It reports false when err is nil.
func (r *Router) storeFailed(w http.ResponseWriter, req *http.Request, err error, what string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	default:
		r.logger.Printf("references: %s: %v", what, err)
		captureError(req, err, "references: "+what)
		writeError(w, http.StatusInternalServerError, "failed to process "+what)
	}
	return true
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(items), "data": items})
}

func writeItem(w http.ResponseWriter, status int, message string, item any) {
	body := map[string]any{"success": true, "data": item}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// reloadClassifier refreshes the snapshot after a catalog write. The write has
// already succeeded, so a failed reload is only logged.
func (r *Router) reloadClassifier(ctx context.Context) {
	if r.classifier == nil {
		return
	}
	if _, err := r.classifier.Reload(ctx); err != nil {
		r.logger.Printf("references: classifier reload: %v", err)
	}
}

// Executors

type executorRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Phone       *string `json:"phone"`
	WorkHours   *string `json:"work_hours"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (b executorRequest) executor() *store.Executor {
	e := &store.Executor{
		ID:          b.ID,
		Name:        strings.TrimSpace(b.Name),
		Phone:       b.Phone,
		WorkHours:   b.WorkHours,
		Description: b.Description,
		IsActive:    true,
	}
	if b.IsActive != nil {
		e.IsActive = *b.IsActive
	}
	return e
}

func (r *Router) decodeExecutor(w http.ResponseWriter, req *http.Request) (*store.Executor, bool) {
	var body executorRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	e := body.executor()
	if e.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	return e, true
}

func (r *Router) handleListExecutors(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	list, err := r.store.ListExecutors(req.Context(), activeOnly(req))
	if r.storeFailed(w, req, err, "executors") {
		return
	}
	writeList(w, list)
}

func (r *Router) handleGetExecutor(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, err := r.store.GetExecutor(req.Context(), req.PathValue("id"))
	if r.storeFailed(w, req, err, "executor") {
		return
	}
	writeItem(w, http.StatusOK, "", e)
}

func (r *Router) handleCreateExecutor(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, ok := r.decodeExecutor(w, req)
	if !ok {
		return
	}
	out, err := r.store.CreateExecutor(req.Context(), e)
	if r.storeFailed(w, req, err, "executor") {
		return
	}
	r.logger.Printf("references: created executor %s", out.ID)
	writeItem(w, http.StatusCreated, "Виконавця створено", out)
}

func (r *Router) handleUpdateExecutor(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, ok := r.decodeExecutor(w, req)
	if !ok {
		return
	}
	e.ID = req.PathValue("id")
	out, err := r.store.UpdateExecutor(req.Context(), e)
	if r.storeFailed(w, req, err, "executor") {
		return
	}
	// Catalog entries resolve executor names through a join.
	r.reloadClassifier(req.Context())
	writeItem(w, http.StatusOK, "Виконавця оновлено", out)
}

func (r *Router) handleDeleteExecutor(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	id := req.PathValue("id")
	if r.storeFailed(w, req, r.store.DeleteExecutor(req.Context(), id), "executor") {
		return
	}
	r.reloadClassifier(req.Context())
	r.logger.Printf("references: deleted executor %s", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Виконавця видалено"})
}

// Catalog

type catalogRequest struct {
	ID           string   `json:"id"`
	Problem      string   `json:"problem"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Location     string   `json:"location"`
	Response     string   `json:"response"`
	ExecutorID   string   `json:"executor_id"`
	Executor     string   `json:"executor"`
	Urgency      string   `json:"urgency"`
	ResponseTime int      `json:"response_time"`
	Keywords     []string `json:"keywords"`
	IsActive     *bool    `json:"is_active"`
}

func (b catalogRequest) validate() error {
	switch {
	case strings.TrimSpace(b.Problem) == "":
		return errors.New("problem is required")
	case strings.TrimSpace(b.Response) == "":
		return errors.New("response is required")
	case b.Urgency != "" && !classifier.Urgency(b.Urgency).Valid():
		return errors.New("urgency must be one of emergency, short, standard, info")
	case b.ResponseTime < 0:
		return errors.New("response_time must not be negative")
	}
	return nil
}

func (b catalogRequest) entry() *classifier.CatalogEntry {
	e := &classifier.CatalogEntry{
		ID:           b.ID,
		Problem:      strings.TrimSpace(b.Problem),
		Type:         b.Type,
		Subtype:      b.Subtype,
		Location:     b.Location,
		Response:     b.Response,
		ExecutorID:   b.ExecutorID,
		Executor:     b.Executor,
		Urgency:      classifier.Urgency(b.Urgency),
		ResponseTime: b.ResponseTime,
		Keywords:     b.Keywords,
		IsActive:     true,
	}
	if e.Urgency == "" {
		e.Urgency = classifier.UrgencyStandard
	}
	if b.IsActive != nil {
		e.IsActive = *b.IsActive
	}
	return e
}

func (r *Router) decodeCatalogEntry(w http.ResponseWriter, req *http.Request) (*classifier.CatalogEntry, bool) {
	var body catalogRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return body.entry(), true
}

func (r *Router) handleListCatalog(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	list, err := r.store.ListCatalogEntries(req.Context(), activeOnly(req))
	if r.storeFailed(w, req, err, "classifiers") {
		return
	}
	writeList(w, list)
}

func (r *Router) handleGetCatalogEntry(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, err := r.store.GetCatalogEntry(req.Context(), req.PathValue("id"))
	if r.storeFailed(w, req, err, "classifier") {
		return
	}
	writeItem(w, http.StatusOK, "", e)
}

func (r *Router) handleCreateCatalogEntry(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, ok := r.decodeCatalogEntry(w, req)
	if !ok {
		return
	}
	out, err := r.store.CreateCatalogEntry(req.Context(), e)
	if r.storeFailed(w, req, err, "classifier") {
		return
	}
	r.reloadClassifier(req.Context())
	writeItem(w, http.StatusCreated, "Класифікатор створено", out)
}

func (r *Router) handleUpdateCatalogEntry(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	e, ok := r.decodeCatalogEntry(w, req)
	if !ok {
		return
	}
	e.ID = req.PathValue("id")
	out, err := r.store.UpdateCatalogEntry(req.Context(), e)
	if r.storeFailed(w, req, err, "classifier") {
		return
	}
	r.reloadClassifier(req.Context())
	writeItem(w, http.StatusOK, "Класифікатор оновлено", out)
}

func (r *Router) handleDeleteCatalogEntry(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	if r.storeFailed(w, req, r.store.DeleteCatalogEntry(req.Context(), req.PathValue("id")), "classifier") {
		return
	}
	r.reloadClassifier(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Класифікатор видалено"})
}

// Conversation algorithms

func (r *Router) decodeAlgorithm(w http.ResponseWriter, req *http.Request) (*store.ConversationAlgorithm, bool) {
	body := store.ConversationAlgorithm{IsActive: true}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &body, true
}

func (r *Router) handleListAlgorithms(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	list, err := r.store.ListAlgorithms(req.Context(), activeOnly(req))
	if r.storeFailed(w, req, err, "algorithms") {
		return
	}
	writeList(w, list)
}

func (r *Router) handleDefaultAlgorithm(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	a, err := r.store.DefaultAlgorithm(req.Context())
	if r.storeFailed(w, req, err, "algorithm") {
		return
	}
	writeItem(w, http.StatusOK, "", a)
}

func (r *Router) handleGetAlgorithm(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	a, err := r.store.GetAlgorithm(req.Context(), req.PathValue("id"))
	if r.storeFailed(w, req, err, "algorithm") {
		return
	}
	writeItem(w, http.StatusOK, "", a)
}

func (r *Router) handleCreateAlgorithm(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	a, ok := r.decodeAlgorithm(w, req)
	if !ok {
		return
	}
	out, err := r.store.CreateAlgorithm(req.Context(), a)
	if r.storeFailed(w, req, err, "algorithm") {
		return
	}
	writeItem(w, http.StatusCreated, "Алгоритм створено", out)
}

func (r *Router) handleUpdateAlgorithm(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	a, ok := r.decodeAlgorithm(w, req)
	if !ok {
		return
	}
	a.ID = req.PathValue("id")
	out, err := r.store.UpdateAlgorithm(req.Context(), a)
	if r.storeFailed(w, req, err, "algorithm") {
		return
	}
	writeItem(w, http.StatusOK, "Алгоритм оновлено", out)
}

func (r *Router) handleDeleteAlgorithm(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	if r.storeFailed(w, req, r.store.DeleteAlgorithm(req.Context(), req.PathValue("id")), "algorithm") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Алгоритм видалено"})
}

// handleReload swaps in the current catalog. Without a store the built-in
// catalog is reinstalled.
func (r *Router) handleReload(w http.ResponseWriter, req *http.Request) {
	n, err := r.classifier.Reload(req.Context())
	if err != nil && r.store != nil {
		r.logger.Printf("references: reload: %v", err)
		captureError(req, err, "references: reload")
		writeError(w, http.StatusInternalServerError, "failed to reload classifiers")
		return
	}
	r.logger.Printf("references: classifier reloaded with %d entries", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           "Класифікатори перезавантажено",
		"classifiers_count": n,
	})
}
