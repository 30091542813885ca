package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	chatdb "github.com/onnwee/chat-sync/db"
)

// HandleConversationsDispatcher routes GET /conversations/{id}/messages.
func (h *Handlers) HandleConversationsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid since (RFC3339)", http.StatusBadRequest)
			return
		}
		since = t
	}
	msgs, err := h.archive.Transcript(r.Context(), parts[0], since, limit)
	if err != nil {
		http.Error(w, "transcript query failed", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []chatdb.ArchivedMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"conversation_id": parts[0],
		"messages":        msgs,
	})
}
