package api

import (
	"encoding/base64"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// liveFrame is one screenshot pushed over the live-view socket.
type liveFrame struct {
	Screenshot string `json:"screenshot"`
	URL        string `json:"url"`
}

// LiveView handles GET /v1/sessions/{id}/live: a WebSocket that pushes
// every result's screenshot to the connected viewer.
func (h *Handler) LiveView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]

	sess, err := h.sessionMgr.Get(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if sess.Status != models.StatusActive {
		http.Error(w, "Session is not active", http.StatusBadRequest)
		return
	}

	if err := h.backend.Attach(r.Context(), sessionID); err != nil {
		log.Printf("attaching live view consumer for session %s: %v", sessionID, err)
		http.Error(w, "Failed to attach to session", http.StatusBadGateway)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("viewer connected to session %s", sessionID)

	stream := h.views.Subscribe(r.Context(), sessionID)
	defer stream.Close()

	// Drain client messages so close frames are noticed; the read error
	// cancels the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case res, ok := <-stream.C:
			if !ok {
				return
			}
			frame := liveFrame{
				Screenshot: base64.StdEncoding.EncodeToString(res.Screenshot),
				URL:        res.URL,
			}
			if err := conn.WriteJSON(frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("live view write for session %s: %v", sessionID, err)
				}
				return
			}
		case <-done:
			log.Printf("viewer disconnected from session %s", sessionID)
			return
		}
	}
}
