package store

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
)

// Patch is a partial, non-positional update to a stored message. Nil fields
// are left untouched.
type Patch struct {
	Status      *chat.Status
	Content     *string
	Attachments []chat.Attachment
	// Reactions replaces the whole reaction set when ReplaceReactions is set.
	Reactions        []chat.Reaction
	ReplaceReactions bool
	// Reaction upserts or, with an empty symbol, removes one user's reaction.
	Reaction *chat.Reaction
}

// Patch applies p to the message with the given id. It returns false when the
// id is not loaded. The message keeps its position.
func (s *Store) Patch(id string, p Patch) (chat.Message, bool) {
	m := s.ptr(id)
	if m == nil {
		return chat.Message{}, false
	}
	*m = Apply(*m, p)
	return m.Clone(), true
}

// Apply returns m with p applied. Status never moves backwards and each user
// keeps at most one reaction.
func Apply(m chat.Message, p Patch) chat.Message {
	out := m.Clone()
	if p.Status != nil {
		out.Status, _ = delivery.Advance(out.Status, *p.Status)
	}
	if p.Content != nil && *p.Content != out.Content {
		out.Content = *p.Content
		out.Edited = true
	}
	if p.Attachments != nil {
		out.Attachments = append([]chat.Attachment(nil), p.Attachments...)
	}
	if p.ReplaceReactions {
		out.Reactions = nil
		for _, r := range p.Reactions {
			out.Reactions = MergeReaction(out.Reactions, r)
		}
	}
	if p.Reaction != nil {
		out.Reactions = MergeReaction(out.Reactions, *p.Reaction)
	}
	return out
}

// MergeReaction returns rs with r applied: a user's new reaction replaces the
// previous one and an empty symbol removes it.
func MergeReaction(rs []chat.Reaction, r chat.Reaction) []chat.Reaction {
	if r.UserID == "" {
		return rs
	}
	out := slices.Clone(rs)
	i := slices.IndexFunc(out, func(x chat.Reaction) bool { return x.UserID == r.UserID })
	switch {
	case r.Symbol == "" && i >= 0:
		return slices.Delete(out, i, i+1)
	case r.Symbol == "":
		return out
	case i >= 0:
		out[i].Symbol = r.Symbol
		return out
	default:
		return append(out, r)
	}
}

// ReactionOf returns the symbol userID reacted with on m, or "".
func ReactionOf(m chat.Message, userID string) string {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r.Symbol
		}
	}
	return ""
}
