package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chat-sync/chat"
	chatdb "github.com/onnwee/chat-sync/db"
	"github.com/onnwee/chat-sync/roomapi"
	"github.com/onnwee/chat-sync/telemetry"
	"github.com/onnwee/chat-sync/testutil"
)

func init() {
	telemetry.Init()
}

// stubLister serves a single empty page so sessions go live immediately.
type stubLister struct{}

func (stubLister) ListMessages(context.Context, string, string, string) ([]roomapi.Message, string, error) {
	return nil, "", nil
}

type stubSubscription struct{}

func (stubSubscription) Close() error { return nil }

type stubSubscriber struct{}

func (stubSubscriber) Subscribe(string, func([]byte)) (chat.Subscription, error) {
	return stubSubscription{}, nil
}

type stubView struct{}

func (stubView) Deliver(context.Context, string, string, string, time.Time) error { return nil }
func (stubView) Joined(string, string)                                            {}
func (stubView) Left(string)                                                      {}

type memMarks struct{ vals map[string]string }

func (m *memMarks) Get(_ context.Context, roomID string) (string, error) { return m.vals[roomID], nil }
func (m *memMarks) Set(_ context.Context, roomID, v string) error {
	m.vals[roomID] = v
	return nil
}

type stubArchive struct {
	msgs []chatdb.ArchivedMessage
	err  error
}

func (a *stubArchive) Transcript(context.Context, string, time.Time, int) ([]chatdb.ArchivedMessage, error) {
	return a.msgs, a.err
}

func newTestMux(t *testing.T) (http.Handler, *chat.Manager, *stubArchive) {
	t.Helper()
	m := chat.NewManager(stubLister{}, stubSubscriber{}, stubView{}, &memMarks{vals: map[string]string{}})
	t.Cleanup(m.Close)
	archive := &stubArchive{}
	return NewMux(Deps{Manager: m, Archive: archive}), m, archive
}

func waitLive(t *testing.T, m *chat.Manager, roomID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, err := m.Session(roomID); err == nil && s.State() == chat.StateLive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session for %s never went live", roomID)
}

func TestStatusEmpty(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Active   int           `json:"active"`
		Sessions []chat.Status `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Active != 0 || body.Sessions == nil {
		t.Errorf("body = %+v, want zero active with empty (non-null) sessions", body)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestRoomJoinLeaveFlow(t *testing.T) {
	mux, m, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/r1/join?name=general", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("join status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var st chat.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if st.Room != "r1" || st.Name != "general" {
		t.Errorf("join response = %+v", st)
	}
	waitLive(t, m, "r1")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var body struct {
		Active int `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Active != 1 {
		t.Errorf("active = %d after join, want 1", body.Active)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/r1/leave", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/r1/leave", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second leave status = %d, want 404", rec.Code)
	}
}

// gatedLister holds the first page open until the gate closes, honoring
// request-context cancellation like the real client does.
type gatedLister struct {
	gate chan struct{}
}

func (l *gatedLister) ListMessages(ctx context.Context, roomID, after, token string) ([]roomapi.Message, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-l.gate:
		return nil, "", nil
	}
}

func TestJoinOverHTTPOutlivesRequest(t *testing.T) {
	gate := make(chan struct{})
	m := chat.NewManager(&gatedLister{gate: gate}, stubSubscriber{}, stubView{}, &memMarks{vals: map[string]string{}})
	t.Cleanup(m.Close)
	srv := httptest.NewServer(NewMux(Deps{Manager: m, Archive: &stubArchive{}}))
	t.Cleanup(srv.Close)

	// A real server cancels the request context as soon as the handler
	// returns, while the first backfill page is still in flight.
	resp, err := http.Post(srv.URL+"/rooms/r1/join", "application/json", nil)
	if err != nil {
		t.Fatalf("join request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("join status = %d, want 202", resp.StatusCode)
	}

	close(gate)
	waitLive(t, m, "r1")

	s, err := m.Session("r1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("backfill stalled after the join request finished: %v", err)
	}
}

func TestRoomsDispatcherRejectsBadPaths(t *testing.T) {
	mux, _, _ := newTestMux(t)
	for _, tt := range []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/rooms/r1/unknown", http.StatusNotFound},
		{http.MethodPost, "/rooms//join", http.StatusNotFound},
		{http.MethodGet, "/rooms/r1/join", http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestConversationTranscript(t *testing.T) {
	mux, _, archive := newTestMux(t)
	archive.msgs = []chatdb.ArchivedMessage{
		{ConversationID: "c1", RoomID: "r1", Sender: "someone", Body: "hi", SentAt: time.Date(2020, 1, 1, 0, 0, 1, 0, time.UTC)},
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c1/messages?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		ConversationID string                   `json:"conversation_id"`
		Messages       []chatdb.ArchivedMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ConversationID != "c1" || len(body.Messages) != 1 || body.Messages[0].Body != "hi" {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST transcript = %d, want 405", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _, _ := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := chat.NewManager(stubLister{}, stubSubscriber{}, stubView{}, &chatdb.WatermarkStore{DB: database})
	t.Cleanup(m.Close)
	mux := NewMux(Deps{DB: database, Manager: m, Archive: chatdb.NewMessageArchive(database)})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200: %s", path, rec.Code, rec.Body.String())
		}
	}
}
