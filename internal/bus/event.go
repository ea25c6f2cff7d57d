package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter on the namespace prefix before the dot.
const (
	TransportStateChanged = "transport.state_changed"

	PushMessageReceived     = "push.message_received"
	PushStatusUpdated       = "push.status_updated"
	PushPresenceChanged     = "push.presence_changed"
	PushConversationDeleted = "push.conversation_deleted"
	PushMessageReacted      = "push.message_reacted"
	PushMessageEdited       = "push.message_edited"

	MessageUpserted   = "message.upserted"
	MessageSendAck    = "message.send_ack"
	MessageSendFailed = "message.send_failed"

	ConversationChanged = "conversation.changed"
	UnreadChanged       = "unread.changed"
	PagerReanchor       = "pager.reanchor"
)
