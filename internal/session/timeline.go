package session

import "github.com/whisper/roomchat/internal/protocol"

// Timeline is the append-only, arrival-ordered list of messages a session
// has seen. It is not safe for concurrent use; Session guards it.
type Timeline struct {
	msgs []protocol.Message
}

// Append adds msg at the end.
func (t *Timeline) Append(msg protocol.Message) {
	t.msgs = append(t.msgs, msg)
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	return len(t.msgs)
}

// At returns the i-th message.
func (t *Timeline) At(i int) protocol.Message {
	return t.msgs[i]
}

// Snapshot returns a copy of the messages in order.
func (t *Timeline) Snapshot() []protocol.Message {
	out := make([]protocol.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}
