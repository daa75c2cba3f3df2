package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (r *Router) handleListDevices(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	devices, err := r.store.ListOperatorDevices(req.Context())
	if r.storeFailed(w, req, err, "devices") {
		return
	}
	writeList(w, devices)
}

// handleRegisterDevice registers an operator's push token. Operator defaults
// to the token subject.
func (r *Router) handleRegisterDevice(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}

	var body struct {
		Operator string `json:"operator"`
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if body.Platform == "" {
		body.Platform = "ios"
	}
	if body.Platform != "ios" && body.Platform != "android" {
		writeError(w, http.StatusBadRequest, "platform must be 'ios' or 'android'")
		return
	}
	if body.Operator == "" {
		if user := getAuthUser(req.Context()); user != nil {
			body.Operator = user.Subject
		}
	}

	if err := r.store.RegisterOperatorDevice(req.Context(), body.Operator, body.Token, body.Platform); err != nil {
		r.logger.Printf("operators: failed to register device: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	r.logger.Printf("operators: registered %s device for %s", body.Platform, body.Operator)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleUnregisterDevice(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	if err := r.store.UnregisterOperatorDevice(req.Context(), req.PathValue("token")); err != nil {
		r.logger.Printf("operators: failed to unregister device: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleTestDevice(w http.ResponseWriter, req *http.Request) {
	if r.apns == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications not configured")
		return
	}
	if err := r.apns.SendTestNotification(req.PathValue("token"), "Тестове сповіщення для оператора"); err != nil {
		r.logger.Printf("operators: test push failed: %v", err)
		writeError(w, http.StatusBadGateway, "failed to send test notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	if !r.requireStore(w) {
		return
	}
	events, err := r.store.ListSessionEvents(req.Context(), req.PathValue("id"))
	if r.storeFailed(w, req, err, "session events") {
		return
	}
	writeList(w, events)
}
