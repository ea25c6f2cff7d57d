package delivery

import "github.com/matheus3301/chatsync/internal/chat"

// Advance returns the status a message should hold after observing next while
// holding cur. Status only moves forward; a stale or invalid value is rejected
// and cur is returned with changed=false.
func Advance(cur, next chat.Status) (status chat.Status, changed bool) {
	if !next.Valid() || next <= cur {
		return cur, false
	}
	return next, true
}

// NeedsDeliveredAck reports whether receiving m should be acknowledged as
// delivered by the user me.
func NeedsDeliveredAck(m chat.Message, me string) bool {
	return m.SenderID != me && !m.Pending && m.Status == chat.Sent
}

// CanMarkSeen reports whether me may mark m as seen.
func CanMarkSeen(m chat.Message, me string) bool {
	return m.ID != "" && m.SenderID != me && !m.Pending && m.Status != chat.Seen
}
