package chat

import (
	"errors"
	"fmt"
	"time"
)

// MessagePayload is the JSON shape of a message as sent by the server on REST
// responses and push events. Every field is optional on the wire; ToMessage
// validates the ones the store depends on.
type MessagePayload struct {
	ID               *string             `json:"id,omitempty"`
	ConversationID   *string             `json:"conversationId,omitempty"`
	SenderID         *string             `json:"senderId,omitempty"`
	Content          *string             `json:"content,omitempty"`
	Attachments      []AttachmentPayload `json:"attachments,omitempty"`
	RepliedMessageID *string             `json:"repliedMessageId,omitempty"`
	Status           *string             `json:"status,omitempty"`
	Reactions        []ReactionPayload   `json:"reactions,omitempty"`
	CreatedAt        *time.Time          `json:"createdAt,omitempty"`
	CorrelationToken *string             `json:"correlationToken,omitempty"`
}

type AttachmentPayload struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type ReactionPayload struct {
	UserID         string `json:"userId"`
	ReactionSymbol string `json:"reactionSymbol"`
}

var (
	ErrMissingID             = errors.New("message payload: missing id")
	ErrMissingConversationID = errors.New("message payload: missing conversationId")
)

// ToMessage converts the payload into a Message. A missing status defaults to Sent.
func (p MessagePayload) ToMessage() (Message, error) {
	if p.ID == nil || *p.ID == "" {
		return Message{}, ErrMissingID
	}
	if p.ConversationID == nil || *p.ConversationID == "" {
		return Message{}, ErrMissingConversationID
	}
	m := Message{
		ID:               *p.ID,
		ConversationID:   *p.ConversationID,
		SenderID:         deref(p.SenderID),
		Content:          deref(p.Content),
		RepliedMessageID: deref(p.RepliedMessageID),
		CorrelationToken: deref(p.CorrelationToken),
	}
	if p.Status != nil {
		st, err := ParseStatus(*p.Status)
		if err != nil {
			return Message{}, fmt.Errorf("message %s: %w", m.ID, err)
		}
		m.Status = st
	}
	if p.CreatedAt != nil {
		m.CreatedAt = p.CreatedAt.UTC()
	}
	for _, a := range p.Attachments {
		m.Attachments = append(m.Attachments, Attachment{Type: ParseAttachmentType(a.Type), URL: a.URL})
	}
	m.Reactions = ReactionsFromPayload(p.Reactions)
	return m, nil
}

// ReactionsFromPayload normalizes a reaction list so each user appears at most once.
// Later entries replace earlier ones and empty symbols are dropped.
func ReactionsFromPayload(in []ReactionPayload) []Reaction {
	if len(in) == 0 {
		return nil
	}
	out := make([]Reaction, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, r := range in {
		if r.UserID == "" {
			continue
		}
		if i, ok := pos[r.UserID]; ok {
			out[i].Symbol = r.ReactionSymbol
			continue
		}
		pos[r.UserID] = len(out)
		out = append(out, Reaction{UserID: r.UserID, Symbol: r.ReactionSymbol})
	}
	kept := out[:0]
	for _, r := range out {
		if r.Symbol != "" {
			kept = append(kept, r)
		}
	}
	return kept
}

// ParticipantPayload is one conversation member on the wire.
type ParticipantPayload struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
	IsOnline bool   `json:"isOnline,omitempty"`
}

// ConversationPayload is a conversation as returned by the conversation service.
type ConversationPayload struct {
	ID            *string              `json:"id,omitempty"`
	Kind          string               `json:"type,omitempty"`
	Name          string               `json:"name,omitempty"`
	Participants  []ParticipantPayload `json:"participants,omitempty"`
	NewestMessage *MessagePayload      `json:"newestMessage,omitempty"`
}

// ToConversation converts the payload and resolves its display name for me.
func (p ConversationPayload) ToConversation(me string) (Conversation, error) {
	if p.ID == nil || *p.ID == "" {
		return Conversation{}, errors.New("conversation payload: missing id")
	}
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return Conversation{}, fmt.Errorf("conversation %s: %w", *p.ID, err)
	}
	c := Conversation{ID: *p.ID, Kind: kind, Name: p.Name}
	for _, pp := range p.Participants {
		pr := Offline
		if pp.IsOnline {
			pr = Online
		}
		c.Participants = append(c.Participants, Participant{UserID: pp.UserID, Nickname: pp.Nickname, Presence: pr})
	}
	if p.NewestMessage != nil {
		nm := *p.NewestMessage
		if nm.ConversationID == nil {
			nm.ConversationID = p.ID
		}
		m, err := nm.ToMessage()
		if err == nil {
			c.NewestMessage = &m
		}
	}
	c.DisplayName = c.ResolveDisplayName(me)
	return c, nil
}

// UserPayload is the body of a presence change.
type UserPayload struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	IsOnline *bool  `json:"isOnline"`
	Presence string `json:"presence"`
}

// Resolve returns the user id and presence carried by the payload.
func (p UserPayload) Resolve() (string, Presence, error) {
	id := p.ID
	if id == "" {
		id = p.UserID
	}
	if id == "" {
		return "", "", errors.New("user payload: missing id")
	}
	switch {
	case p.IsOnline != nil && *p.IsOnline:
		return id, Online, nil
	case p.IsOnline != nil:
		return id, Offline, nil
	case p.Presence == string(Online):
		return id, Online, nil
	case p.Presence == string(Offline):
		return id, Offline, nil
	default:
		return "", "", fmt.Errorf("user %s: missing presence", id)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
