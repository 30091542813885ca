package chat

import "sort"

// dedupBuffer absorbs messages from both the paginated backfill and the live
// subscription during the gathering window. It is keyed by message identity:
// a second insert with the same id replaces the record (last write wins) but
// keeps the first-seen position, so the drain order is deterministic.
type dedupBuffer struct {
	entries map[string]*bufferEntry
	nextSeq int
}

type bufferEntry struct {
	msg Message
	seq int
}

func newDedupBuffer() *dedupBuffer {
	return &dedupBuffer{entries: make(map[string]*bufferEntry)}
}

// insert adds or overwrites the record for m.ID. Messages without an identity
// cannot be deduplicated and are ignored here; callers drop them.
func (b *dedupBuffer) insert(m Message) {
	if m.ID == "" {
		return
	}
	if e, ok := b.entries[m.ID]; ok {
		e.msg = m
		return
	}
	b.entries[m.ID] = &bufferEntry{msg: m, seq: b.nextSeq}
	b.nextSeq++
}

// len reports the number of distinct identities buffered.
func (b *dedupBuffer) len() int { return len(b.entries) }

// drain consumes the buffer and returns its records sorted ascending by
// timestamp; records with equal timestamps keep their insertion order.
func (b *dedupBuffer) drain() []Message {
	out := make([]*bufferEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.entries = make(map[string]*bufferEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	sort.SliceStable(out, func(i, j int) bool { return out[i].msg.Timestamp.Before(out[j].msg.Timestamp) })
	msgs := make([]Message, len(out))
	for i, e := range out {
		msgs[i] = e.msg
	}
	return msgs
}
