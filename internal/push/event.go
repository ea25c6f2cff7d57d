package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
)

// Logical push event names as sent by the server.
const (
	ReceivePrivateMessage  = "ReceivePrivateMessage"
	MessageStatusUpdated   = "MessageStatusUpdated"
	UserPresenceChanged    = "UserPresenceChanged"
	ConversationDeletedEvt = "ConversationDeleted"
	MessageReactionUpdated = "MessageReactionUpdated"
	MessageEditedEvt       = "MessageEdited"
)

// Names lists every push event the decoder understands.
var Names = []string{
	ReceivePrivateMessage,
	MessageStatusUpdated,
	UserPresenceChanged,
	ConversationDeletedEvt,
	MessageReactionUpdated,
	MessageEditedEvt,
}

// Event is a validated push event. The concrete type identifies the variant.
type Event interface {
	// Kind is the bus event kind the variant is published under.
	Kind() string
}

// MessageReceived carries a new message from another participant, or the
// echo of one of our own sends.
type MessageReceived struct {
	Message chat.Message
}

// StatusUpdated carries a delivery status change for a message.
type StatusUpdated struct {
	ConversationID string
	MessageID      string
	Status         chat.Status
}

// PresenceChanged carries a user's online state.
type PresenceChanged struct {
	UserID   string
	Presence chat.Presence
}

// ConversationDeleted reports a conversation removed on the server.
type ConversationDeleted struct {
	ConversationID string
}

// MessageReacted carries the full reaction set of a message after a change.
type MessageReacted struct {
	ConversationID string
	MessageID      string
	Reactions      []chat.Reaction
}

// MessageEdited carries the edited fields of a message. Content is nil when
// the payload left it out.
type MessageEdited struct {
	ConversationID string
	MessageID      string
	Content        *string
	Attachments    []chat.Attachment
}

func (MessageReceived) Kind() string     { return bus.PushMessageReceived }
func (StatusUpdated) Kind() string       { return bus.PushStatusUpdated }
func (PresenceChanged) Kind() string     { return bus.PushPresenceChanged }
func (ConversationDeleted) Kind() string { return bus.PushConversationDeleted }
func (MessageReacted) Kind() string      { return bus.PushMessageReacted }
func (MessageEdited) Kind() string       { return bus.PushMessageEdited }

// ErrUnknownEvent is returned by Decode for names it does not handle.
var ErrUnknownEvent = errors.New("push: unknown event")

// Decode validates the raw payload of the named event.
func Decode(name string, raw json.RawMessage) (Event, error) {
	switch name {
	case ReceivePrivateMessage:
		m, err := decodeMessage(raw)
		if err != nil {
			return nil, err
		}
		return MessageReceived{Message: m}, nil

	case MessageStatusUpdated:
		var p chat.MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if p.Status == nil {
			return nil, fmt.Errorf("decode %s: missing status", name)
		}
		m, err := p.ToMessage()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return StatusUpdated{ConversationID: m.ConversationID, MessageID: m.ID, Status: m.Status}, nil

	case UserPresenceChanged:
		var p chat.UserPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		id, pr, err := p.Resolve()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return PresenceChanged{UserID: id, Presence: pr}, nil

	case ConversationDeletedEvt:
		var p struct {
			ID             string `json:"id"`
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		id := p.ConversationID
		if id == "" {
			id = p.ID
		}
		if id == "" {
			return nil, fmt.Errorf("decode %s: missing conversation id", name)
		}
		return ConversationDeleted{ConversationID: id}, nil

	case MessageReactionUpdated:
		var p chat.MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		m, err := p.ToMessage()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return MessageReacted{ConversationID: m.ConversationID, MessageID: m.ID, Reactions: m.Reactions}, nil

	case MessageEditedEvt:
		var p chat.MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if p.Content == nil && p.Attachments == nil {
			return nil, fmt.Errorf("decode %s: nothing to edit", name)
		}
		m, err := p.ToMessage()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return MessageEdited{ConversationID: m.ConversationID, MessageID: m.ID, Content: p.Content, Attachments: m.Attachments}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

func decodeMessage(raw json.RawMessage) (chat.Message, error) {
	var p chat.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return chat.Message{}, fmt.Errorf("decode %s: %w", ReceivePrivateMessage, err)
	}
	m, err := p.ToMessage()
	if err != nil {
		return chat.Message{}, fmt.Errorf("decode %s: %w", ReceivePrivateMessage, err)
	}
	return m, nil
}
