package store

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
)

// LocalIDPrefix marks ids generated for optimistic entries.
const LocalIDPrefix = "local-"

// Outcome describes what Reconcile did with a server message.
type Outcome int

const (
	Ignored Outcome = iota
	Replaced
	Appended
	// Inserted places a message older than the tail between loaded ones. It
	// only happens inside the loaded window, or anywhere once the whole
	// history is loaded; older messages are otherwise left to paging.
	Inserted
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Cursor is the backward pagination state of one conversation.
type Cursor struct {
	Skip    int
	Take    int
	HasMore bool
}

type history struct {
	msgs   []chat.Message
	cursor Cursor
}

func (h *history) indexOf(id string) int {
	return slices.IndexFunc(h.msgs, func(m chat.Message) bool { return m.ID == id })
}

// head returns the oldest confirmed message.
func (h *history) head() (chat.Message, bool) {
	for _, m := range h.msgs {
		if !m.Pending {
			return m, true
		}
	}
	return chat.Message{}, false
}

// tail returns the newest confirmed message.
func (h *history) tail() (chat.Message, bool) {
	for i := len(h.msgs) - 1; i >= 0; i-- {
		if !h.msgs[i].Pending {
			return h.msgs[i], true
		}
	}
	return chat.Message{}, false
}

// Store holds the loaded message history of each conversation. It is not safe
// for concurrent use; one goroutine owns it.
type Store struct {
	take   int
	convs  map[string]*history
	loc    map[string]string // message id -> conversation id
	tokens map[string]string // correlation token -> local id
	now    func() time.Time
}

// New creates an empty store whose cursors fetch pageSize messages at a time.
func New(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Store{
		take:   pageSize,
		convs:  make(map[string]*history),
		loc:    make(map[string]string),
		tokens: make(map[string]string),
		now:    time.Now,
	}
}

// Ensure creates an empty history for the conversation if none is loaded.
func (s *Store) Ensure(conversationID string) {
	if _, ok := s.convs[conversationID]; ok {
		return
	}
	s.convs[conversationID] = &history{cursor: Cursor{Take: s.take, HasMore: true}}
}

// Loaded reports whether the conversation has a history in the store.
func (s *Store) Loaded(conversationID string) bool {
	_, ok := s.convs[conversationID]
	return ok
}

// AppendOptimistic inserts the draft at the tail as a pending Sent message and
// returns it. The draft's correlation token is used when set.
func (s *Store) AppendOptimistic(d chat.Draft) chat.Message {
	token := d.CorrelationToken
	if token == "" {
		token = uuid.NewString()
	}
	m := chat.Message{
		ID:               LocalIDPrefix + token,
		ConversationID:   d.ConversationID,
		SenderID:         d.SenderID,
		Content:          d.Content,
		RepliedMessageID: d.RepliedMessageID,
		Status:           chat.Sent,
		CreatedAt:        s.now().UTC(),
		CorrelationToken: token,
		Pending:          true,
	}
	for _, f := range d.Files {
		m.Attachments = append(m.Attachments, chat.Attachment{Type: d.FileType, URL: f.Path})
	}

	s.Ensure(d.ConversationID)
	h := s.convs[d.ConversationID]
	h.msgs = append(h.msgs, m)
	s.loc[m.ID] = d.ConversationID
	s.tokens[token] = m.ID
	return m.Clone()
}

// Reconcile merges a server-confirmed message. token is the correlation token
// of a local send, or empty for push-delivered messages; the message's own
// token is used when token is empty. Applying the same message twice leaves
// the store unchanged after the first call.
func (s *Store) Reconcile(token string, m chat.Message) (Outcome, chat.Message) {
	if token == "" {
		token = m.CorrelationToken
	}
	if token != "" {
		if out, ok := s.replacePending(token, m); ok {
			return Replaced, out
		}
	}

	if convID, ok := s.loc[m.ID]; ok {
		h := s.convs[convID]
		i := h.indexOf(m.ID)
		h.msgs[i] = mergeConfirmed(h.msgs[i], m)
		return Duplicate, h.msgs[i].Clone()
	}

	h, ok := s.convs[m.ConversationID]
	if !ok {
		return Ignored, m
	}
	m = m.Clone()
	m.Pending, m.Failed = false, false

	tail, hasTail := h.tail()
	if !hasTail || tail.Before(m) {
		h.msgs = append(h.msgs, m)
		s.loc[m.ID] = m.ConversationID
		return Appended, m.Clone()
	}

	head, _ := h.head()
	if head.Before(m) || !h.cursor.HasMore {
		pos := slices.IndexFunc(h.msgs, func(x chat.Message) bool { return !x.Pending && m.Before(x) })
		h.msgs = slices.Insert(h.msgs, pos, m)
		s.loc[m.ID] = m.ConversationID
		return Inserted, m.Clone()
	}
	return Ignored, m
}

func (s *Store) replacePending(token string, m chat.Message) (chat.Message, bool) {
	localID, ok := s.tokens[token]
	if !ok {
		return chat.Message{}, false
	}
	convID := s.loc[localID]
	h := s.convs[convID]
	i := h.indexOf(localID)
	if i < 0 {
		return chat.Message{}, false
	}

	merged := m.Clone()
	merged.CorrelationToken = token
	merged.Pending, merged.Failed, merged.FailureReason = false, false, ""
	if merged.ConversationID == "" {
		merged.ConversationID = convID
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = h.msgs[i].CreatedAt
	}

	// The push echo of our own send may have landed before the ack.
	if merged.ID != localID {
		if j := h.indexOf(merged.ID); j >= 0 {
			merged.Status, _ = delivery.Advance(merged.Status, h.msgs[j].Status)
			h.msgs = slices.Delete(h.msgs, j, j+1)
			if j < i {
				i--
			}
		}
	}

	h.msgs[i] = merged
	delete(s.loc, localID)
	delete(s.tokens, token)
	s.loc[merged.ID] = convID
	return merged.Clone(), true
}

func mergeConfirmed(cur, srv chat.Message) chat.Message {
	out := cur
	out.Status, _ = delivery.Advance(cur.Status, srv.Status)
	if srv.Content != "" && srv.Content != cur.Content {
		out.Content = srv.Content
	}
	if srv.Reactions != nil {
		out.Reactions = append([]chat.Reaction(nil), srv.Reactions...)
	}
	if srv.Attachments != nil {
		out.Attachments = append([]chat.Attachment(nil), srv.Attachments...)
	}
	return out
}

// PrependPage inserts a page of older messages at the head of the history.
// Messages already present, and messages not strictly older than the current
// oldest confirmed entry, are skipped. It returns the number inserted.
func (s *Store) PrependPage(conversationID string, older []chat.Message) int {
	s.Ensure(conversationID)
	h := s.convs[conversationID]
	head, hasHead := h.head()

	seen := make(map[string]struct{}, len(older))
	page := make([]chat.Message, 0, len(older))
	for _, m := range older {
		if m.ID == "" {
			continue
		}
		if _, ok := s.loc[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if hasHead && !m.Before(head) {
			continue
		}
		seen[m.ID] = struct{}{}
		m = m.Clone()
		m.ConversationID = conversationID
		m.Pending, m.Failed = false, false
		page = append(page, m)
	}
	if len(page) == 0 {
		return 0
	}
	slices.SortFunc(page, func(a, b chat.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	h.msgs = append(page, h.msgs...)
	for _, m := range page {
		s.loc[m.ID] = conversationID
	}
	return len(page)
}

// Cursor returns the pagination cursor of a loaded conversation.
func (s *Store) Cursor(conversationID string) (Cursor, bool) {
	h, ok := s.convs[conversationID]
	if !ok {
		return Cursor{}, false
	}
	return h.cursor, true
}

// AdvanceCursor records a successful fetch that returned fetched messages.
func (s *Store) AdvanceCursor(conversationID string, fetched int) Cursor {
	s.Ensure(conversationID)
	h := s.convs[conversationID]
	h.cursor.Skip += fetched
	h.cursor.HasMore = fetched >= h.cursor.Take
	return h.cursor
}

// MarkFailed moves a pending entry to the failed state.
func (s *Store) MarkFailed(localID, reason string) bool {
	m := s.ptr(localID)
	if m == nil || !m.Pending {
		return false
	}
	m.Failed = true
	m.FailureReason = reason
	return true
}

// ResetForRetry clears the failed state of an entry so it can be resent.
func (s *Store) ResetForRetry(localID string) (chat.Message, bool) {
	m := s.ptr(localID)
	if m == nil || !m.Pending || !m.Failed {
		return chat.Message{}, false
	}
	m.Failed = false
	m.FailureReason = ""
	return m.Clone(), true
}

// Remove drops the loaded history of a conversation.
func (s *Store) Remove(conversationID string) {
	h, ok := s.convs[conversationID]
	if !ok {
		return
	}
	for _, m := range h.msgs {
		delete(s.loc, m.ID)
		if m.Pending {
			delete(s.tokens, m.CorrelationToken)
		}
	}
	delete(s.convs, conversationID)
}

// Messages returns a copy of the conversation's history, oldest first.
func (s *Store) Messages(conversationID string) []chat.Message {
	h, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]chat.Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a message by id.
func (s *Store) Get(id string) (chat.Message, bool) {
	m := s.ptr(id)
	if m == nil {
		return chat.Message{}, false
	}
	return m.Clone(), true
}

// Newest returns the last entry of the conversation's history.
func (s *Store) Newest(conversationID string) (chat.Message, bool) {
	h, ok := s.convs[conversationID]
	if !ok || len(h.msgs) == 0 {
		return chat.Message{}, false
	}
	return h.msgs[len(h.msgs)-1].Clone(), true
}

// Failed returns every failed entry across conversations.
func (s *Store) Failed() []chat.Message {
	var out []chat.Message
	for _, h := range s.convs {
		for _, m := range h.msgs {
			if m.Failed {
				out = append(out, m.Clone())
			}
		}
	}
	return out
}

func (s *Store) ptr(id string) *chat.Message {
	convID, ok := s.loc[id]
	if !ok {
		return nil
	}
	h := s.convs[convID]
	i := h.indexOf(id)
	if i < 0 {
		return nil
	}
	return &h.msgs[i]
}
