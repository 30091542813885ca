package chat

import (
	"context"
	"log/slog"
	"time"
)

// ConsoleView is a Deliverer that prints the conversation through the
// structured logger. It is the default view when no richer frontend is
// attached.
type ConsoleView struct {
	Logger *slog.Logger
}

func (v *ConsoleView) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func (v *ConsoleView) Deliver(_ context.Context, conversationID, sender, body string, ts time.Time) error {
	v.logger().Info("message",
		slog.String("conversation", conversationID),
		slog.String("sender", sender),
		slog.String("body", body),
		slog.Time("at", ts),
		slog.String("component", "console_view"))
	return nil
}

func (v *ConsoleView) Joined(conversationID, roomID string) {
	v.logger().Info("conversation opened",
		slog.String("conversation", conversationID),
		slog.String("room", roomID),
		slog.String("component", "console_view"))
}

func (v *ConsoleView) Left(conversationID string) {
	v.logger().Info("conversation closed",
		slog.String("conversation", conversationID),
		slog.String("component", "console_view"))
}

// MultiView fans deliveries out to several views in order. Deliver returns
// the first error but still invokes every view, so a failing archive does not
// hide messages from the console.
type MultiView struct {
	Views []Deliverer
}

func (m *MultiView) Deliver(ctx context.Context, conversationID, sender, body string, ts time.Time) error {
	var first error
	for _, v := range m.Views {
		if err := v.Deliver(ctx, conversationID, sender, body, ts); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiView) Joined(conversationID, roomID string) {
	for _, v := range m.Views {
		v.Joined(conversationID, roomID)
	}
}

func (m *MultiView) Left(conversationID string) {
	for _, v := range m.Views {
		v.Left(conversationID)
	}
}
