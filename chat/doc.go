// Package chat is the message-synchronization core of the chat-room client.
//
// Joining a room opens two concurrent data sources: a push subscription on the
// room's channel and a paginated backfill of message history. While the
// backfill runs, both sources feed an identity-keyed dedup buffer; when the
// last page arrives, the buffer is drained in timestamp order through the
// conversation view, the per-room watermark is advanced, and the session
// switches to direct delivery of live events.
//
// A Manager owns the room-to-session registry and is the only entrypoint:
// Join starts a session, Leave tears it down (cancelling any in-flight page
// request and closing the subscription). Collaborators are supplied as
// interfaces: the paginated message API, the push subscriber, the conversation
// view, and the watermark store.
//
// A backfill that fails mid-pagination stalls the session: the error is kept
// on the session, nothing is delivered, and the watermark is left untouched.
// There is no automatic retry; the caller decides when to leave.
package chat
