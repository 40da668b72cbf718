package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/provision"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/relay"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/session"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
	backend    relay.Backend
	views      *view.Fanout
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager, backend relay.Backend, views *view.Fanout) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
		backend:    backend,
		views:      views,
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig

	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.sessionMgr.Create(r.Context(), cfg)
	if err != nil {
		log.Printf("session creation failed: %v", err)
		status := http.StatusBadRequest
		if errors.Is(err, provision.ErrProvision) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.CreateSessionResponse{ID: sess.ID})
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	sess, err := h.sessionMgr.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	statusStr := r.URL.Query().Get("status")

	var status models.SessionStatus
	if statusStr != "" {
		status = models.SessionStatus(statusStr)
	}

	sessions := h.sessionMgr.List(status)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// CreateCommand handles POST /v1/sessions/{id}/commands
func (h *Handler) CreateCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]

	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.sessionMgr.Send(r.Context(), sessionID, cmd)
	if err != nil {
		h.writeCommandError(w, sessionID, err)
		return
	}

	if res.Failed() {
		log.Printf("command failed on session %s: %s", sessionID, res.Err)
		http.Error(w, "Command failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.CreateCommandResponse{
		ID:         res.ID,
		Screenshot: base64.StdEncoding.EncodeToString(res.Screenshot),
		URL:        res.URL,
	})
}

func (h *Handler) writeCommandError(w http.ResponseWriter, sessionID string, err error) {
	log.Printf("command on session %s failed: %v", sessionID, err)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, relay.ErrCommandTimeout):
		http.Error(w, "Command timed out, the worker may not be responsive", http.StatusRequestTimeout)
	case errors.Is(err, relay.ErrDelivery):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := h.sessionMgr.End(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.DeleteSessionResponse{ID: id})
}

// StreamScreenshots handles GET /v1/sessions/{id}/screenshots as a
// Server-Sent-Events stream. The stream stops when the client
// disconnects; its queue is released through the request context.
func (h *Handler) StreamScreenshots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Sessions created on another replica have no local consumer yet;
	// without one this stream would never see a result.
	if err := h.backend.Attach(r.Context(), sessionID); err != nil {
		log.Printf("attaching stream consumer for session %s: %v", sessionID, err)
		http.Error(w, "Failed to attach to session", http.StatusBadGateway)
		return
	}

	stream := h.views.Subscribe(r.Context(), sessionID)
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for res := range stream.C {
		if _, err := w.Write(view.SSEFrame(res)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// GetDebugURL handles GET /v1/sessions/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	sess, err := h.sessionMgr.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	liveURL := fmt.Sprintf("ws://%s/v1/sessions/%s/live", r.Host, sess.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"liveUrl":   liveURL,
		"sessionId": sess.ID,
		"status":    string(sess.Status),
	})
}
