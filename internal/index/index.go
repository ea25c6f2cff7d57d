package index

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
)

// Index is the ordered list of conversations with their newest-message
// summaries. Order is the order conversations were first inserted; patches
// never move an entry. Not safe for concurrent use.
type Index struct {
	me    string
	order []string
	byID  map[string]*chat.Conversation
}

// New creates an empty index resolving display names for user me.
func New(me string) *Index {
	return &Index{me: me, byID: make(map[string]*chat.Conversation)}
}

// Replace resets the index to convs in the given order.
func (x *Index) Replace(convs []chat.Conversation) {
	x.order = x.order[:0]
	x.byID = make(map[string]*chat.Conversation, len(convs))
	for _, c := range convs {
		x.Upsert(c)
	}
}

// Upsert inserts c at the end, or replaces an existing entry in place. The
// stored newest message is kept when c's is older. When both name the same
// message the status is merged forward.
func (x *Index) Upsert(c chat.Conversation) {
	c = c.Clone()
	if c.DisplayName == "" {
		c.DisplayName = c.ResolveDisplayName(x.me)
	}
	cur, ok := x.byID[c.ID]
	if !ok {
		x.order = append(x.order, c.ID)
		x.byID[c.ID] = &c
		return
	}
	if old := cur.NewestMessage; old != nil {
		switch {
		case c.NewestMessage == nil || newer(*old, *c.NewestMessage):
			c.NewestMessage = old
		case c.NewestMessage.ID == old.ID:
			c.NewestMessage.Status, _ = delivery.Advance(c.NewestMessage.Status, old.Status)
		}
	}
	*cur = c
}

// newer reports whether a should win over b as the summary.
func newer(a, b chat.Message) bool {
	if a.ID == b.ID {
		return false
	}
	return b.Before(a)
}

// PatchNewestMessage sets the summary when m is not older than the current
// one. A message with the current summary's id or correlation token refreshes
// it, merging status forward. It returns false for unknown conversations and
// rejected candidates.
func (x *Index) PatchNewestMessage(conversationID string, m chat.Message) bool {
	c, ok := x.byID[conversationID]
	if !ok {
		return false
	}
	m = m.Clone()
	cur := c.NewestMessage
	switch {
	case cur == nil:
	case cur.ID == m.ID, cur.CorrelationToken != "" && cur.CorrelationToken == m.CorrelationToken:
		m.Status, _ = delivery.Advance(m.Status, cur.Status)
	case m.Pending || !m.Before(*cur):
	default:
		return false
	}
	c.NewestMessage = &m
	return true
}

// PatchNewestStatus advances the summary's status when it is messageID.
func (x *Index) PatchNewestStatus(conversationID, messageID string, s chat.Status) bool {
	return x.PatchNewest(conversationID, messageID, func(m *chat.Message) bool {
		var changed bool
		m.Status, changed = delivery.Advance(m.Status, s)
		return changed
	})
}

// PatchNewest applies fn to the summary when it is messageID. fn reports
// whether it changed anything.
func (x *Index) PatchNewest(conversationID, messageID string, fn func(*chat.Message) bool) bool {
	c, ok := x.byID[conversationID]
	if !ok || c.NewestMessage == nil || c.NewestMessage.ID != messageID {
		return false
	}
	m := c.NewestMessage.Clone()
	if !fn(&m) {
		return false
	}
	c.NewestMessage = &m
	return true
}

// Remove deletes a conversation.
func (x *Index) Remove(conversationID string) bool {
	if _, ok := x.byID[conversationID]; !ok {
		return false
	}
	delete(x.byID, conversationID)
	x.order = slices.DeleteFunc(x.order, func(id string) bool { return id == conversationID })
	return true
}

// Get returns a copy of one conversation.
func (x *Index) Get(conversationID string) (chat.Conversation, bool) {
	c, ok := x.byID[conversationID]
	if !ok {
		return chat.Conversation{}, false
	}
	return c.Clone(), true
}

// Has reports whether the conversation is indexed.
func (x *Index) Has(conversationID string) bool {
	_, ok := x.byID[conversationID]
	return ok
}

// Len returns the number of conversations.
func (x *Index) Len() int {
	return len(x.order)
}

// List returns copies of all conversations in index order.
func (x *Index) List() []chat.Conversation {
	out := make([]chat.Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id].Clone())
	}
	return out
}

// SetParticipantPresence updates userID's presence in every conversation and
// returns how many entries changed.
func (x *Index) SetParticipantPresence(userID string, p chat.Presence) int {
	n := 0
	for _, id := range x.order {
		c := x.byID[id]
		for i := range c.Participants {
			if c.Participants[i].UserID == userID && c.Participants[i].Presence != p {
				c.Participants[i].Presence = p
				n++
			}
		}
	}
	return n
}

// Rename sets a conversation's name and re-resolves its display name.
func (x *Index) Rename(conversationID, name string) bool {
	c, ok := x.byID[conversationID]
	if !ok {
		return false
	}
	c.Name = name
	c.DisplayName = c.ResolveDisplayName(x.me)
	return true
}

// SetNickname sets a participant's nickname and re-resolves the display name.
func (x *Index) SetNickname(conversationID, userID, nickname string) bool {
	c, ok := x.byID[conversationID]
	if !ok {
		return false
	}
	i := slices.IndexFunc(c.Participants, func(p chat.Participant) bool { return p.UserID == userID })
	if i < 0 {
		return false
	}
	c.Participants[i].Nickname = nickname
	c.DisplayName = c.ResolveDisplayName(x.me)
	return true
}
