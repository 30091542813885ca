package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-sync/roomapi"
	"github.com/onnwee/chat-sync/telemetry"
)

// MessageLister pages through a room's message history. Implemented by
// roomapi.Client; tests substitute fakes.
type MessageLister interface {
	ListMessages(ctx context.Context, roomID, after, nextToken string) ([]roomapi.Message, string, error)
}

// Subscription is an open channel membership. Close must be idempotent and
// safe even if no event ever arrived.
type Subscription interface {
	Close() error
}

// Subscriber opens live-event subscriptions on room channels. The handler
// receives the raw pushed frame; the session extracts the record from it.
type Subscriber interface {
	Subscribe(channel string, handler func(payload []byte)) (Subscription, error)
}

// Deliverer is the conversation view: finished, ordered messages only.
type Deliverer interface {
	Deliver(ctx context.Context, conversationID, sender, body string, ts time.Time) error
	Joined(conversationID, roomID string)
	Left(conversationID string)
}

// WatermarkStore persists, per room, the CreatedOn string of the last
// delivered message. Get returns "" when no watermark exists.
type WatermarkStore interface {
	Get(ctx context.Context, roomID string) (string, error)
	Set(ctx context.Context, roomID, createdOn string) error
}

// Room identifies a chat room and the push channel carrying its live events.
type Room struct {
	ID      string
	Name    string
	Channel string
}

// ErrNoSession is returned by operations addressing a room without an active
// session.
var ErrNoSession = errors.New("chat: no session for room")

// Manager owns the room-to-session registry. At most one session exists per
// room; Join and Leave mutate the registry atomically.
type Manager struct {
	api   MessageLister
	sub   Subscriber
	view  Deliverer
	marks WatermarkStore

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the collaborators together. All four are required.
func NewManager(api MessageLister, sub Subscriber, view Deliverer, marks WatermarkStore) *Manager {
	return &Manager{
		api:      api,
		sub:      sub,
		view:     view,
		marks:    marks,
		sessions: make(map[string]*Session),
	}
}

// Join opens a session for room: it announces the conversation, subscribes to
// the room's channel in buffering mode, and starts the backfill seeded with
// the stored watermark. Joining a room that already has a session returns the
// existing session without starting another backfill.
//
// The session lives until Leave or until ctx is cancelled (a cancelled context
// stalls the backfill; Leave still performs the teardown).
func (m *Manager) Join(ctx context.Context, room Room) (*Session, error) {
	if room.ID == "" {
		return nil, fmt.Errorf("chat: room id empty")
	}
	if room.Channel == "" {
		room.Channel = "rooms/" + room.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[room.ID]; ok {
		return s, nil
	}

	s := newSession(ctx, room, m.api, m.view, m.marks)
	s.view.Joined(s.conversationID, room.ID)

	sub, err := m.sub.Subscribe(room.Channel, s.handleEvent)
	if err != nil {
		s.view.Left(s.conversationID)
		s.cancel()
		return nil, fmt.Errorf("chat: subscribe %s: %w", room.Channel, err)
	}
	s.sub = sub

	after, err := m.marks.Get(ctx, room.ID)
	if err != nil {
		s.logger.Warn("watermark read failed; backfilling from the beginning", slog.Any("err", err))
		after = ""
	}

	m.sessions[room.ID] = s
	s.setState(StateBackfilling)
	go s.backfill(s.ctx, after)

	telemetry.SessionOpened()
	s.logger.Info("joined room", slog.String("channel", room.Channel), slog.String("after", after))
	return s, nil
}

// Leave tears down the session for roomID: cancels any in-flight page fetch,
// closes the subscription, discards undelivered records, and notifies the
// view. Leaving a room without a session is a no-op and returns false.
func (m *Manager) Leave(roomID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if ok {
		delete(m.sessions, roomID)
	}
	m.mu.Unlock()
	if !ok {
		slog.Debug("leave for unknown room ignored", slog.String("room", roomID))
		return false
	}
	s.leave()
	return true
}

// Session returns the active session for roomID.
func (m *Manager) Session(roomID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Statuses snapshots every active session, for the status endpoint.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Close leaves every room. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.leave()
	}
}

// newConversationID mints the handle the view uses to address this
// conversation.
func newConversationID() string { return uuid.New().String() }
