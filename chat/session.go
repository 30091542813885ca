package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chat-sync/roomapi"
	"github.com/onnwee/chat-sync/telemetry"
)

// State is the lifecycle position of a session.
type State int

const (
	StateJoining State = iota
	StateBackfilling
	StateLive
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateBackfilling:
		return "backfilling"
	case StateLive:
		return "live"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Session is one joined room. All state mutation happens under mu: page
// responses and push callbacks arrive on different goroutines but serialize
// through it, so processing has a total order per room. The dedup buffer is
// present exactly while backfilling; its absence means live mode.
type Session struct {
	room           Room
	conversationID string
	logger         *slog.Logger

	api   MessageLister
	view  Deliverer
	marks WatermarkStore

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	buf         *dedupBuffer
	fetchCancel context.CancelFunc // in-flight page request, nil between pages
	sub         Subscription
	err         error
	delivered   int

	now func() time.Time
}

// Status is a point-in-time snapshot of a session for observability.
type Status struct {
	Room           string `json:"room"`
	Name           string `json:"name,omitempty"`
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	Delivered      int    `json:"delivered"`
	Buffered       int    `json:"buffered"`
	Error          string `json:"error,omitempty"`
}

func newSession(ctx context.Context, room Room, api MessageLister, view Deliverer, marks WatermarkStore) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		room:           room,
		conversationID: newConversationID(),
		api:            api,
		view:           view,
		marks:          marks,
		ctx:            sctx,
		cancel:         cancel,
		state:          StateJoining,
		buf:            newDedupBuffer(),
		now:            time.Now,
	}
	s.logger = slog.Default().With(
		slog.String("component", "chat_session"),
		slog.String("room", room.ID),
		slog.String("conversation", s.conversationID),
	)
	return s
}

// Room returns the room this session belongs to.
func (s *Session) Room() Room { return s.room }

// ConversationID returns the handle the view knows this session by.
func (s *Session) ConversationID() string { return s.conversationID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that stalled the backfill, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status snapshots the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Room:           s.room.ID,
		Name:           s.room.Name,
		ConversationID: s.conversationID,
		State:          s.state.String(),
		Delivered:      s.delivered,
	}
	if s.buf != nil {
		st.Buffered = s.buf.len()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// backfill is the pagination driver: one page in flight at a time, each page
// feeding the dedup buffer, until the API stops returning a continuation
// token. A fetch error is terminal for this attempt; the session stalls with
// the error recorded and the watermark untouched.
func (s *Session) backfill(ctx context.Context, after string) {
	ctx, span := telemetry.StartSpan(ctx, "chat-session", "backfill", telemetry.RoomAttr(s.room.ID))
	defer span.End()
	telemetry.BackfillsStarted.Inc()
	start := time.Now()

	token := ""
	for {
		reqCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		if s.state != StateBackfilling {
			s.mu.Unlock()
			cancel()
			return
		}
		s.fetchCancel = cancel
		s.mu.Unlock()

		msgs, next, err := s.api.ListMessages(reqCtx, s.room.ID, after, token)
		cancel()

		s.mu.Lock()
		s.fetchCancel = nil
		if s.state != StateBackfilling {
			// Left while the page was in flight; whatever came back is void.
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.err = err
			s.mu.Unlock()
			telemetry.BackfillsFailed.Inc()
			telemetry.RecordError(span, err)
			s.logger.Error("backfill stalled", slog.Any("err", err))
			return
		}
		now := s.now()
		for _, w := range msgs {
			if w.MessageID == "" {
				telemetry.EventsDropped.Inc()
				continue
			}
			s.buf.insert(fromWire(w, now))
		}
		s.mu.Unlock()
		telemetry.PagesFetched.Inc()

		if next == "" {
			break
		}
		token = next
	}

	if s.complete() {
		telemetry.BackfillsCompleted.Inc()
		telemetry.BackfillDuration.Observe(time.Since(start).Seconds())
		telemetry.SetSpanSuccess(span)
	}
}

// complete drains the dedup buffer in timestamp order through the view,
// advances the watermark from the last delivered record, and switches to
// live mode. The mutex is held across the whole drain so live events
// arriving meanwhile deliver only after it finishes.
func (s *Session) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBackfilling || s.buf == nil {
		return false
	}
	msgs := s.buf.drain()
	s.buf = nil
	// The watermark follows the last record the view actually accepted, not
	// the last drained one: a skipped or failed record must stay ahead of the
	// resume point. It keeps the record's original timestamp string, so a
	// later join resumes exactly where the API left off.
	lastMark := ""
	for _, m := range msgs {
		if s.deliverLocked(m) && m.CreatedOn != "" {
			lastMark = m.CreatedOn
		}
	}
	if lastMark != "" {
		if err := s.marks.Set(s.ctx, s.room.ID, lastMark); err != nil {
			s.logger.Warn("watermark write failed", slog.Any("err", err))
		}
	}
	s.state = StateLive
	s.logger.Info("backfill complete", slog.Int("delivered", s.delivered))
	return true
}

// handleEvent is the push callback. While the dedup buffer exists the record
// is absorbed into it; in live mode it is delivered directly in arrival order.
func (s *Session) handleEvent(payload []byte) {
	var frame struct {
		Record *roomapi.Message `json:"record"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Record == nil {
		telemetry.EventsDropped.Inc()
		s.logger.Debug("event without record dropped")
		return
	}
	telemetry.LiveEvents.Inc()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateLeft:
	case s.buf != nil:
		if frame.Record.MessageID == "" {
			telemetry.EventsDropped.Inc()
			return
		}
		s.buf.insert(fromWire(*frame.Record, now))
	default:
		s.deliverLocked(fromWire(*frame.Record, now))
	}
}

// deliverLocked hands one record to the view and reports whether the view
// accepted it. Records without a body carry nothing to show and are skipped.
// Callers hold s.mu.
func (s *Session) deliverLocked(m Message) bool {
	if m.Body == "" {
		return false
	}
	sender := m.Sender
	if sender == "" {
		sender = "someone"
	}
	if err := s.view.Deliver(s.ctx, s.conversationID, sender, m.Body, m.Timestamp); err != nil {
		s.logger.Warn("delivery failed", slog.String("message_id", m.ID), slog.Any("err", err))
		return false
	}
	s.delivered++
	telemetry.MessagesDelivered.Inc()
	return true
}

// leave is the terminal transition, reachable from every state: cancel the
// in-flight page fetch, close the subscription, drop buffered records, tell
// the view. Safe to reach at most once per session; the Manager guarantees
// that by removing the session from the registry first.
func (s *Session) leave() {
	s.mu.Lock()
	if s.state == StateLeft {
		s.mu.Unlock()
		return
	}
	s.state = StateLeft
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.buf = nil
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("unsubscribe failed", slog.Any("err", err))
		}
	}
	s.view.Left(s.conversationID)
	telemetry.SessionClosed()
	s.logger.Info("left room")
}
