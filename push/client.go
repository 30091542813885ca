// Package push implements the live-event subscription transport: a WebSocket
// connection to the push gateway carrying channel-addressed JSON frames.
// Consumers register a handler per channel and receive the raw frame payload.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler receives the raw JSON frame pushed on a subscribed channel.
type Handler func(payload []byte)

// control is the frame the client sends to manage channel membership.
type control struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Client is a push-gateway connection. One read loop dispatches incoming
// frames to per-channel handlers; writes are serialized.
type Client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex
	handlers  map[string]map[int]Handler
	nextID    int
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the push gateway at rawURL (ws:// or wss://) and starts the
// read loop.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push gateway: %w", err)
	}
	c := &Client{
		conn:     conn,
		handlers: make(map[string]map[int]Handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("push connection read failed", slog.Any("err", err))
			}
			return
		}
		var frame struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || frame.Channel == "" {
			slog.Debug("push frame without channel dropped")
			continue
		}
		c.mu.Lock()
		hs := make([]Handler, 0, len(c.handlers[frame.Channel]))
		for _, h := range c.handlers[frame.Channel] {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		for _, h := range hs {
			h(data)
		}
	}
}

func (c *Client) send(msg control) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Subscribe registers h for frames on channel. The first subscriber of a
// channel announces membership to the gateway. The returned Subscription must
// be closed when done; Close is idempotent.
func (c *Client) Subscribe(channel string, h Handler) (*Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel empty")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	first := len(c.handlers[channel]) == 0
	if c.handlers[channel] == nil {
		c.handlers[channel] = make(map[int]Handler)
	}
	c.handlers[channel][id] = h
	c.mu.Unlock()

	if first {
		if err := c.send(control{Action: "subscribe", Channel: channel}); err != nil {
			c.mu.Lock()
			delete(c.handlers[channel], id)
			c.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return &Subscription{client: c, channel: channel, id: id}, nil
}

// Close tears down the connection. Registered handlers receive nothing
// afterwards.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Subscription is one handler's membership on a channel.
type Subscription struct {
	client  *Client
	channel string
	id      int
	once    sync.Once
}

// Close deregisters the handler. The last subscriber of a channel tells the
// gateway to stop pushing it; a failed unsubscribe frame is logged, not
// returned, since the handler is already detached. Safe to call repeatedly
// and before any event arrived.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.handlers[s.channel], s.id)
		last := len(s.client.handlers[s.channel]) == 0
		if last {
			delete(s.client.handlers, s.channel)
		}
		s.client.mu.Unlock()
		if last {
			if err := s.client.send(control{Action: "unsubscribe", Channel: s.channel}); err != nil {
				slog.Debug("unsubscribe frame not sent", slog.String("channel", s.channel), slog.Any("err", err))
			}
		}
	})
	return nil
}
