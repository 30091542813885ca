// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/onnwee/chat-sync/chat"
	chatdb "github.com/onnwee/chat-sync/db"
)

// RoomManager is the slice of the session manager the HTTP layer needs.
type RoomManager interface {
	Join(ctx context.Context, room chat.Room) (*chat.Session, error)
	Leave(roomID string) bool
	Statuses() []chat.Status
}

// TranscriptStore serves archived conversation transcripts.
type TranscriptStore interface {
	Transcript(ctx context.Context, conversationID string, since time.Time, limit int) ([]chatdb.ArchivedMessage, error)
}

// Deps carries the collaborators the handlers call into.
type Deps struct {
	DB      *sql.DB
	Manager RoomManager
	Archive TranscriptStore
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	manager RoomManager
	archive TranscriptStore
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		db:      deps.DB,
		manager: deps.Manager,
		archive: deps.Archive,
	}
}
