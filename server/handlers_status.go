package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/chat-sync/chat"
)

// HandleStatus reports every active session: room, conversation id, lifecycle
// state, delivered and buffered counts, and the stall error if the backfill
// failed.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statuses := h.manager.Statuses()
	if statuses == nil {
		statuses = []chat.Status{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"active":   len(statuses),
		"sessions": statuses,
	})
}
