package chat

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes one-to-one conversations from group conversations.
type Kind string

const (
	Personal Kind = "Personal"
	Group    Kind = "Group"
)

// ParseKind accepts the server spelling of a conversation kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "personal", "private", "":
		return Personal, nil
	case "group":
		return Group, nil
	default:
		return "", fmt.Errorf("unknown conversation kind %q", s)
	}
}

// Presence is a participant's online state.
type Presence string

const (
	Offline Presence = "offline"
	Online  Presence = "online"
)

// AttachmentType enumerates attachment kinds.
type AttachmentType string

const (
	Image AttachmentType = "Image"
	Voice AttachmentType = "Voice"
	File  AttachmentType = "File"
)

// ParseAttachmentType maps a server attachment type. Unknown types degrade to File.
func ParseAttachmentType(s string) AttachmentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return Image
	case "voice", "audio":
		return Voice
	default:
		return File
	}
}

// Attachment is a file carried by a message.
type Attachment struct {
	Type AttachmentType
	URL  string
}

// Reaction is one user's reaction on a message. A message holds at most one per user.
type Reaction struct {
	UserID string
	Symbol string
}

// Participant is a member of a conversation.
type Participant struct {
	UserID   string
	Nickname string
	Presence Presence
}

// Message is a single chat message.
type Message struct {
	ID               string
	ConversationID   string
	SenderID         string
	Content          string
	Attachments      []Attachment
	RepliedMessageID string
	Status           Status
	Reactions        []Reaction
	CreatedAt        time.Time

	// CorrelationToken is generated locally and echoed by the server on the created message.
	CorrelationToken string
	// Pending is set on optimistic entries until the server copy replaces them.
	Pending bool
	// Failed marks a pending entry whose send did not complete. It can be retried.
	Failed        bool
	FailureReason string
	Edited        bool
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return c
}

// Before reports whether m sorts strictly before o: creation time, then id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Conversation is one entry of the inbox.
type Conversation struct {
	ID            string
	Kind          Kind
	Name          string
	DisplayName   string
	Participants  []Participant
	NewestMessage *Message
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.NewestMessage != nil {
		m := c.NewestMessage.Clone()
		out.NewestMessage = &m
	}
	return out
}

// ResolveDisplayName picks the label shown for the conversation: the group name for
// groups, otherwise the other participant's nickname, falling back to their user id.
func (c Conversation) ResolveDisplayName(me string) string {
	if c.Kind == Group {
		if c.Name != "" {
			return c.Name
		}
	}
	for _, p := range c.Participants {
		if p.UserID == me {
			continue
		}
		if p.Nickname != "" {
			return p.Nickname
		}
		return p.UserID
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Upload is a local file attached to an outgoing draft.
type Upload struct {
	Path string
}

// Draft is an outgoing message before the server has accepted it.
type Draft struct {
	ConversationID   string
	SenderID         string
	Content          string
	Files            []Upload
	FileType         AttachmentType
	RepliedMessageID string
	CorrelationToken string
}
