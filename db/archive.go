package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// MessageArchive persists every delivered message so transcripts survive the
// process. It implements the chat package's Deliverer interface; when stacked
// with other deliverers it should come last so a slow insert never blocks the
// console.
type MessageArchive struct {
	DB *sql.DB

	mu    sync.Mutex
	rooms map[string]string // conversation id -> room id
}

// NewMessageArchive wraps dbx as an archiving deliverer.
func NewMessageArchive(dbx *sql.DB) *MessageArchive {
	return &MessageArchive{DB: dbx, rooms: make(map[string]string)}
}

// ArchivedMessage is one transcript row.
type ArchivedMessage struct {
	ConversationID string    `json:"conversation_id"`
	RoomID         string    `json:"room_id"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// Joined records the conversation and remembers its room for later inserts.
func (a *MessageArchive) Joined(conversationID, roomID string) {
	a.mu.Lock()
	a.rooms[conversationID] = roomID
	a.mu.Unlock()
	_, err := a.DB.ExecContext(context.Background(),
		`INSERT INTO conversations(conversation_id, room_id) VALUES($1,$2)
		 ON CONFLICT(conversation_id) DO NOTHING`,
		conversationID, roomID)
	if err != nil {
		slog.Warn("archive: conversation insert failed", slog.Any("err", err), slog.String("component", "db_archive"))
	}
}

// Left closes out the conversation row.
func (a *MessageArchive) Left(conversationID string) {
	a.mu.Lock()
	delete(a.rooms, conversationID)
	a.mu.Unlock()
	_, err := a.DB.ExecContext(context.Background(),
		`UPDATE conversations SET left_at = NOW() WHERE conversation_id = $1`,
		conversationID)
	if err != nil {
		slog.Warn("archive: conversation close failed", slog.Any("err", err), slog.String("component", "db_archive"))
	}
}

// Deliver appends one message to the transcript.
func (a *MessageArchive) Deliver(ctx context.Context, conversationID, sender, body string, ts time.Time) error {
	a.mu.Lock()
	roomID := a.rooms[conversationID]
	a.mu.Unlock()
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO room_messages(conversation_id, room_id, sender, body, sent_at)
		 VALUES($1,$2,$3,$4,$5)`,
		conversationID, roomID, sender, body, ts)
	return err
}

// Transcript returns the newest limit messages for a conversation in
// chronological order. A non-zero since bounds the range to messages sent at
// or after it.
func (a *MessageArchive) Transcript(ctx context.Context, conversationID string, since time.Time, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT conversation_id, room_id, COALESCE(sender,''), COALESCE(body,''), sent_at
		 FROM (
			SELECT id, conversation_id, room_id, sender, body, sent_at
			FROM room_messages WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR sent_at >= $2)
			ORDER BY sent_at DESC, id DESC LIMIT $3
		 ) t ORDER BY sent_at ASC, id ASC`
	var sinceArg interface{}
	if !since.IsZero() {
		sinceArg = since
	}
	rows, err := a.DB.QueryContext(ctx, q, conversationID, sinceArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ConversationID, &m.RoomID, &m.Sender, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
