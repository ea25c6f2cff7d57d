package sync

import (
	"github.com/matheus3301/chatsync/internal/chat"
)

// Snapshot is an immutable view of engine state for readers.
type Snapshot struct {
	Version        uint64
	Conversations  []chat.Conversation
	Active         string
	ActiveMessages []chat.Message
	Unread         int
}

// Snapshot returns the latest published state. Callers must not modify it.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// UnreadCount returns the published unread count.
func (e *Engine) UnreadCount() int {
	return e.unread.Value()
}

// Conversation looks up one conversation in the latest snapshot.
func (s *Snapshot) Conversation(id string) (chat.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Upserted is the payload of message.upserted events.
type Upserted struct {
	Message chat.Message
	Outcome string
}

// ConversationChanged is the payload of conversation.changed events.
type ConversationChanged struct {
	ConversationID string
	Deleted        bool
}
