package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockMessagingServer is a test server that mocks the room messaging API.
type MockMessagingServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockMessagingServer creates a new mock messaging API server.
func NewMockMessagingServer(t *testing.T) *MockMessagingServer {
	t.Helper()
	m := &MockMessagingServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockMessagesResponse serves one page of room messages for roomID. Each
// message is a map with MessageId, CreatedOn, Content and optional Sender
// keys; nextToken is echoed as the continuation token.
func (m *MockMessagingServer) MockMessagesResponse(roomID string, messages []map[string]string, nextToken string) {
	m.Handlers["/rooms/"+roomID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"Messages": messages,
		}
		if nextToken != "" {
			response["NextToken"] = nextToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockMessagesError makes the messages endpoint for roomID fail with status.
func (m *MockMessagingServer) MockMessagesError(roomID string, status int) {
	m.Handlers["/rooms/"+roomID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(status), status)
	}
}
