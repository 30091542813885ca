package roomapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ListMessages(t *testing.T) {
	tests := []struct {
		response     interface{}
		name         string
		roomID       string
		after        string
		nextToken    string
		wantToken    string
		errContains  string
		statusCode   int
		wantMessages int
		wantErr      bool
	}{
		{
			name:   "single page",
			roomID: "room-1",
			response: map[string]interface{}{
				"Messages": []map[string]string{
					{"MessageId": "a", "CreatedOn": "2020-01-01T00:00:02Z", "Content": "hi"},
					{"MessageId": "b", "CreatedOn": "2020-01-01T00:00:01Z", "Content": "yo"},
				},
			},
			statusCode:   http.StatusOK,
			wantMessages: 2,
			wantToken:    "",
		},
		{
			name:   "page with continuation token",
			roomID: "room-1",
			response: map[string]interface{}{
				"Messages": []map[string]string{
					{"MessageId": "c", "CreatedOn": "2020-01-01T00:00:03Z", "Content": "more"},
				},
				"NextToken": "tok-2",
			},
			statusCode:   http.StatusOK,
			wantMessages: 1,
			wantToken:    "tok-2",
		},
		{
			name:      "after and next-token sent as query params",
			roomID:    "room-1",
			after:     "2019-12-31T23:00:00Z",
			nextToken: "tok-1",
			response: map[string]interface{}{
				"Messages": []map[string]string{},
			},
			statusCode:   http.StatusOK,
			wantMessages: 0,
		},
		{
			name:         "body missing Messages field yields empty page",
			roomID:       "room-1",
			response:     map[string]interface{}{"NextToken": "tok-3"},
			statusCode:   http.StatusOK,
			wantMessages: 0,
			wantToken:    "tok-3",
		},
		{
			name:        "server error surfaces",
			roomID:      "room-1",
			response:    map[string]interface{}{"error": "boom"},
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "messages status 500",
		},
		{
			name:        "empty room id",
			roomID:      "",
			wantErr:     true,
			errContains: "roomID empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/rooms/") || !strings.HasSuffix(r.URL.Path, "/messages") {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("max-results"); got != "50" {
					t.Errorf("max-results = %s, want 50", got)
				}
				if got := r.URL.Query().Get("after"); got != tt.after {
					t.Errorf("after = %q, want %q", got, tt.after)
				}
				if got := r.URL.Query().Get("next-token"); got != tt.nextToken {
					t.Errorf("next-token = %q, want %q", got, tt.nextToken)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
					t.Errorf("Authorization = %q, want bearer test-token", got)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			client := &Client{BaseURL: server.URL, Token: "test-token"}
			msgs, token, err := client.ListMessages(context.Background(), tt.roomID, tt.after, tt.nextToken)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("ListMessages() error = nil, want error containing %q", tt.errContains)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("ListMessages() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListMessages() unexpected error = %v", err)
			}
			if len(msgs) != tt.wantMessages {
				t.Errorf("ListMessages() returned %d messages, want %d", len(msgs), tt.wantMessages)
			}
			if token != tt.wantToken {
				t.Errorf("ListMessages() token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestClient_ListMessagesTokenChain(t *testing.T) {
	tokensReceived := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("next-token")
		tokensReceived = append(tokensReceived, tok)
		w.WriteHeader(http.StatusOK)
		switch tok {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Messages":  []map[string]string{{"MessageId": "m1", "CreatedOn": "2024-01-01T10:00:00Z", "Content": "one"}},
				"NextToken": "tok-2",
			})
		case "tok-2":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Messages":  []map[string]string{{"MessageId": "m2", "CreatedOn": "2024-01-01T10:00:01Z", "Content": "two"}},
				"NextToken": "tok-3",
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Messages": []map[string]string{{"MessageId": "m3", "CreatedOn": "2024-01-01T10:00:02Z", "Content": "three"}},
			})
		}
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL}
	ctx := context.Background()

	token := ""
	total := 0
	for {
		msgs, next, err := client.ListMessages(ctx, "room-1", "", token)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		total += len(msgs)
		if next == "" {
			break
		}
		token = next
	}
	if total != 3 {
		t.Errorf("paged through %d messages, want 3", total)
	}
	expected := []string{"", "tok-2", "tok-3"}
	if len(tokensReceived) != len(expected) {
		t.Fatalf("expected %d requests, got %d", len(expected), len(tokensReceived))
	}
	for i, want := range expected {
		if tokensReceived[i] != want {
			t.Errorf("request %d: next-token = %q, want %q", i+1, tokensReceived[i], want)
		}
	}
}

func TestClient_ListMessagesCancelled(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := &Client{BaseURL: server.URL}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := client.ListMessages(ctx, "room-1", "", "")
		done <- err
	}()
	cancel()
	if err := <-done; err == nil {
		t.Fatal("ListMessages() after cancel = nil error, want context error")
	}
}
