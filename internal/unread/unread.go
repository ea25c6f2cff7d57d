package unread

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// Recompute counts conversations whose newest message came from someone else
// and has not been seen. It depends only on convs.
func Recompute(convs []chat.Conversation, me string) int {
	n := 0
	for _, c := range convs {
		if IsUnread(c, me) {
			n++
		}
	}
	return n
}

// IsUnread reports whether c counts toward the unread total.
func IsUnread(c chat.Conversation, me string) bool {
	m := c.NewestMessage
	return m != nil && m.SenderID != me && m.Status != chat.Seen
}

// Counter is the published unread count. Writers call Set; any number of
// consumers read Value or Watch it.
type Counter struct {
	value atomic.Int64
	bus   *bus.Bus

	mu       sync.Mutex
	watchers map[int]chan int
	next     int
}

// NewCounter creates a counter publishing changes on b. b may be nil.
func NewCounter(b *bus.Bus) *Counter {
	return &Counter{bus: b, watchers: make(map[int]chan int)}
}

// Value returns the current count.
func (c *Counter) Value() int {
	return int(c.value.Load())
}

// Set stores n. Watchers and the bus are notified only when it changed.
func (c *Counter) Set(n int) bool {
	if old := c.value.Swap(int64(n)); old == int64(n) {
		return false
	}
	metrics.SetUnread(n)

	c.mu.Lock()
	for _, ch := range c.watchers {
		// Keep only the latest value in the buffer.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- n:
		default:
		}
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: bus.UnreadChanged, Timestamp: time.Now(), Payload: n})
	}
	return true
}

// Watch returns a channel that first yields the current count and then every
// change. Slow readers only see the latest value. Call the returned function
// to stop watching.
func (c *Counter) Watch() (<-chan int, func()) {
	ch := make(chan int, 1)
	c.mu.Lock()
	id := c.next
	c.next++
	c.watchers[id] = ch
	ch <- c.Value()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}
