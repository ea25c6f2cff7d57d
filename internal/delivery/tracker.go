package delivery

import (
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SeenPolicy decides when the viewer has looked at a message long enough.
type SeenPolicy struct {
	// Ratio is the minimum visible fraction of the newest message.
	Ratio float64
	// Dwell is how long the message must stay visible and focused.
	Dwell time.Duration
}

// DefaultSeenPolicy is 80% visible for one second.
var DefaultSeenPolicy = SeenPolicy{Ratio: 0.8, Dwell: time.Second}

// Observation is one report of what the viewer currently sees.
type Observation struct {
	ConversationID string
	// MessageID is the newest message the viewer reports as visible.
	MessageID string
	Ratio     float64
	// Focused is true while the conversation panel or its input has focus.
	Focused bool
}

// Timer is the part of *time.Timer the tracker needs.
type Timer interface {
	Stop() bool
}

type pendingMark struct {
	conversationID string
	messageID      string
	gen            uint64
	timer          Timer
}

// Tracker runs the seen dwell timer and deduplicates in-flight status calls.
type Tracker struct {
	policy    SeenPolicy
	afterFunc func(time.Duration, func()) Timer

	mu       sync.Mutex
	pending  *pendingMark
	gen      uint64
	inflight map[string]struct{}
}

// NewTracker creates a tracker. Zero policy fields take the defaults.
func NewTracker(p SeenPolicy) *Tracker {
	if p.Ratio <= 0 || p.Ratio > 1 {
		p.Ratio = DefaultSeenPolicy.Ratio
	}
	if p.Dwell <= 0 {
		p.Dwell = DefaultSeenPolicy.Dwell
	}
	return &Tracker{
		policy: p,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		inflight: make(map[string]struct{}),
	}
}

// Policy returns the active seen policy.
func (t *Tracker) Policy() SeenPolicy {
	return t.policy
}

// Observe feeds the viewer state for the open conversation whose newest entry
// is newest. While the observation qualifies, a single dwell timer runs; fire
// is called once if it elapses. A non-qualifying observation cancels it.
func (t *Tracker) Observe(o Observation, newest chat.Message, me string, fire func(conversationID, messageID string)) {
	qualifies := o.MessageID != "" &&
		o.MessageID == newest.ID &&
		o.ConversationID == newest.ConversationID &&
		o.Focused &&
		o.Ratio >= t.policy.Ratio &&
		CanMarkSeen(newest, me)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !qualifies {
		t.cancelLocked()
		return
	}
	if p := t.pending; p != nil && p.conversationID == o.ConversationID && p.messageID == o.MessageID {
		return
	}
	t.cancelLocked()

	t.gen++
	gen := t.gen
	mark := &pendingMark{conversationID: o.ConversationID, messageID: o.MessageID, gen: gen}
	t.pending = mark
	mark.timer = t.afterFunc(t.policy.Dwell, func() {
		t.mu.Lock()
		if t.pending == nil || t.pending.gen != gen {
			t.mu.Unlock()
			return
		}
		t.pending = nil
		t.mu.Unlock()
		fire(mark.conversationID, mark.messageID)
	})
}

// Cancel stops any running dwell timer.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
}

// Pending returns the message id whose dwell timer is running, if any.
func (t *Tracker) Pending() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return "", false
	}
	return t.pending.messageID, true
}

func (t *Tracker) cancelLocked() {
	if t.pending == nil {
		return
	}
	if t.pending.timer != nil {
		t.pending.timer.Stop()
	}
	t.pending = nil
}

// BeginUpdate claims the right to send a status update for a message. It
// returns false while the same update is already in flight.
func (t *Tracker) BeginUpdate(messageID string, s chat.Status) bool {
	key := messageID + "/" + s.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[key]; ok {
		return false
	}
	t.inflight[key] = struct{}{}
	return true
}

// EndUpdate releases a claim taken by BeginUpdate.
func (t *Tracker) EndUpdate(messageID string, s chat.Status) {
	t.mu.Lock()
	delete(t.inflight, messageID+"/"+s.String())
	t.mu.Unlock()
}
