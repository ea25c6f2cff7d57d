package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// GetAllConversations lists every conversation of the current user in server order.
// Entries the server sends without an id are skipped.
func (c *Client) GetAllConversations(ctx context.Context) ([]chat.Conversation, error) {
	var payloads []chat.ConversationPayload
	err := c.do(ctx, request{op: "GetAllConversations", method: http.MethodGet, path: "/conversations"}, &payloads)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, len(payloads))
	for _, p := range payloads {
		conv, err := p.ToConversation(c.me)
		if err != nil {
			c.logger.Warn("skipping invalid conversation", zap.Error(err))
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var p chat.ConversationPayload
	err := c.do(ctx, request{op: "GetConversation", method: http.MethodGet, path: "/conversations/" + url.PathEscape(id)}, &p)
	if err != nil {
		return chat.Conversation{}, err
	}
	return p.ToConversation(c.me)
}

// CreateConversation creates a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string, kind chat.Kind) (chat.Conversation, error) {
	r, err := jsonRequest("CreateConversation", http.MethodPost, "/conversations", struct {
		ParticipantIDs []string  `json:"participantIds"`
		Kind           chat.Kind `json:"kind"`
	}{participantIDs, kind})
	if err != nil {
		return chat.Conversation{}, err
	}
	var p chat.ConversationPayload
	if err := c.do(ctx, r, &p); err != nil {
		return chat.Conversation{}, err
	}
	return p.ToConversation(c.me)
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, request{op: "DeleteConversation", method: http.MethodDelete, path: "/conversations/" + url.PathEscape(id)}, nil)
}

// ChangeNickname sets a participant's nickname within a conversation.
func (c *Client) ChangeNickname(ctx context.Context, conversationID, userID, value string) error {
	r, err := jsonRequest("ChangeNickname", http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/nickname", struct {
		UserID string `json:"userId"`
		Value  string `json:"value"`
	}{userID, value})
	if err != nil {
		return err
	}
	return c.do(ctx, r, nil)
}

// ChangeConversationName renames a conversation.
func (c *Client) ChangeConversationName(ctx context.Context, id, value string) error {
	r, err := jsonRequest("ChangeConversationName", http.MethodPut, "/conversations/"+url.PathEscape(id)+"/name", struct {
		Value string `json:"value"`
	}{value})
	if err != nil {
		return err
	}
	return c.do(ctx, r, nil)
}

// GetMessages fetches a page of history, oldest first. skip counts messages
// back from the newest.
func (c *Client) GetMessages(ctx context.Context, conversationID string, skip, take int) ([]chat.Message, error) {
	if take <= 0 {
		return nil, fmt.Errorf("GetMessages: take must be positive, got %d", take)
	}
	var payloads []chat.MessagePayload
	err := c.do(ctx, request{
		op:     "GetMessages",
		method: http.MethodGet,
		path:   "/conversations/" + url.PathEscape(conversationID) + "/messages",
		query:  pageQuery(skip, take),
	}, &payloads)
	if err != nil {
		return nil, err
	}
	return c.messages(conversationID, payloads), nil
}

func (c *Client) messages(conversationID string, payloads []chat.MessagePayload) []chat.Message {
	out := make([]chat.Message, 0, len(payloads))
	for _, p := range payloads {
		if p.ConversationID == nil {
			p.ConversationID = &conversationID
		}
		m, err := p.ToMessage()
		if err != nil {
			c.logger.Warn("skipping invalid message", zap.Error(err), zap.String("conversation_id", conversationID))
			continue
		}
		out = append(out, m)
	}
	return out
}
