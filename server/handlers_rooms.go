package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chat-sync/chat"
)

// HandleRoomsDispatcher routes /rooms/{id}/join and /rooms/{id}/leave.
func (h *Handlers) HandleRoomsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	roomID, action := parts[0], parts[1]

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "join":
		h.handleRoomJoin(w, r, roomID)
	case "leave":
		h.handleRoomLeave(w, r, roomID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handlers) handleRoomJoin(w http.ResponseWriter, r *http.Request, roomID string) {
	room := chat.Room{
		ID:      roomID,
		Name:    r.URL.Query().Get("name"),
		Channel: r.URL.Query().Get("channel"),
	}
	// The session must outlive this request: the server cancels r.Context()
	// when the handler returns, which would kill the backfill mid-flight.
	// WithoutCancel keeps the correlation values without the cancellation.
	s, err := h.manager.Join(context.WithoutCancel(r.Context()), room)
	if err != nil {
		slog.Error("join failed", slog.String("room", roomID), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "join failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (h *Handlers) handleRoomLeave(w http.ResponseWriter, _ *http.Request, roomID string) {
	if !h.manager.Leave(roomID) {
		http.Error(w, "no session for room", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"room": roomID, "state": "left"})
}
