package chat

import (
	"time"

	"github.com/onnwee/chat-sync/roomapi"
)

// Message is the canonical in-memory form of one chat event. CreatedOn keeps
// the original wire timestamp string because the watermark persists that exact
// string, not a reformatted one. Timestamp is always populated: parsed from
// CreatedOn, or the receipt time when the field is absent or malformed.
type Message struct {
	ID        string
	Sender    string
	Body      string
	CreatedOn string
	Timestamp time.Time
}

// parseCreatedOn parses an ISO-8601 timestamp with optional fractional
// seconds. Malformed input is an error, never a guess.
func parseCreatedOn(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// fromWire copies a wire record into a Message, resolving the timestamp. now
// is the receipt time used when CreatedOn is absent or unparseable.
func fromWire(w roomapi.Message, now time.Time) Message {
	ts := now
	if w.CreatedOn != "" {
		if parsed, err := parseCreatedOn(w.CreatedOn); err == nil {
			ts = parsed
		}
	}
	return Message{
		ID:        w.MessageID,
		Sender:    w.Sender,
		Body:      w.Content,
		CreatedOn: w.CreatedOn,
		Timestamp: ts,
	}
}
