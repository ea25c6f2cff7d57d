package pager

import (
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Reanchor is the payload of pager.reanchor events.
type Reanchor struct {
	ConversationID string
	AnchorID       string
}

// TrackedViewport remembers the topmost visible message reported by clients
// and publishes re-anchor requests on the bus for them to act on.
type TrackedViewport struct {
	bus *bus.Bus

	mu  sync.RWMutex
	top map[string]string
}

// NewTrackedViewport creates a viewport publishing on b.
func NewTrackedViewport(b *bus.Bus) *TrackedViewport {
	return &TrackedViewport{bus: b, top: make(map[string]string)}
}

// SetTopVisible records the topmost visible message of a conversation.
func (v *TrackedViewport) SetTopVisible(conversationID, messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if messageID == "" {
		delete(v.top, conversationID)
		return
	}
	v.top[conversationID] = messageID
}

func (v *TrackedViewport) TopVisible(conversationID string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.top[conversationID]
}

func (v *TrackedViewport) Reanchor(conversationID, anchorID string) {
	v.bus.Publish(bus.Event{
		Kind:      bus.PagerReanchor,
		Timestamp: time.Now(),
		Payload:   Reanchor{ConversationID: conversationID, AnchorID: anchorID},
	})
}

// Forget drops what is known about a conversation.
func (v *TrackedViewport) Forget(conversationID string) {
	v.SetTopVisible(conversationID, "")
}
