// Package roomapi contains a minimal client for the chat messaging HTTP API,
// used to page through a room's message history.
package roomapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// maxResults is the page size fixed by the API contract.
const maxResults = 50

// Message is one wire-format chat message as returned by the messages endpoint.
type Message struct {
	MessageID string `json:"MessageId"`
	CreatedOn string `json:"CreatedOn"`
	Content   string `json:"Content"`
	Sender    string `json:"Sender,omitempty"`
}

// Client fetches room message pages. BaseURL points at the messaging service
// root (e.g. https://messaging.example.com). Token, when set, is sent as a
// bearer credential; acquiring it is someone else's job.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// ListMessages fetches one page of messages for a room. after bounds the page
// to messages newer than the given timestamp string; nextToken continues a
// prior page. It returns the page's messages and the continuation token, empty
// when the listing is exhausted. Errors are terminal for the caller's backfill
// attempt; there is no retry here.
func (c *Client) ListMessages(ctx context.Context, roomID, after, nextToken string) ([]Message, string, error) {
	if roomID == "" {
		return nil, "", fmt.Errorf("roomID empty")
	}
	u := fmt.Sprintf("%s/rooms/%s/messages", c.BaseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("max-results", fmt.Sprintf("%d", maxResults))
	if after != "" {
		q.Set("after", after)
	}
	if nextToken != "" {
		q.Set("next-token", nextToken)
	}
	req.URL.RawQuery = q.Encode()
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", fmt.Errorf("messages status %d: %s", resp.StatusCode, string(b))
	}
	// A body without a Messages field decodes to an empty page; the token, if
	// any, is still honored.
	var body struct {
		Messages  []Message `json:"Messages"`
		NextToken string    `json:"NextToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}
	return body.Messages, body.NextToken, nil
}
