package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/unread"
)

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var se *remote.StatusError
	switch {
	case errors.Is(err, transport.ErrConnectionNotReady),
		errors.Is(err, transport.ErrConnectionLost),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, sync.ErrStopped):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, sync.ErrUnknownConversation), errors.Is(err, sync.ErrUnknownMessage):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, outbox.ErrNotRetryable), errors.Is(err, pager.ErrNoMoreHistory):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, pager.ErrLoadInFlight):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.As(err, &se):
		switch {
		case se.Code == http.StatusNotFound:
			return grpcstatus.Error(codes.NotFound, err.Error())
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return grpcstatus.Error(codes.PermissionDenied, err.Error())
		case se.Code >= 500:
			return grpcstatus.Error(codes.Unavailable, err.Error())
		default:
			return grpcstatus.Error(codes.FailedPrecondition, err.Error())
		}
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func messageValue(m chat.Message) map[string]any {
	v := map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"content":         m.Content,
		"status":          m.Status.String(),
		"pending":         m.Pending,
		"failed":          m.Failed,
		"edited":          m.Edited,
	}
	if !m.CreatedAt.IsZero() {
		v["created_at"] = m.CreatedAt.Format(time.RFC3339Nano)
	}
	if m.RepliedMessageID != "" {
		v["replied_message_id"] = m.RepliedMessageID
	}
	if m.FailureReason != "" {
		v["failure_reason"] = m.FailureReason
	}
	if len(m.Attachments) > 0 {
		list := make([]any, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			list = append(list, map[string]any{"type": string(a.Type), "url": a.URL})
		}
		v["attachments"] = list
	}
	if len(m.Reactions) > 0 {
		list := make([]any, 0, len(m.Reactions))
		for _, r := range m.Reactions {
			list = append(list, map[string]any{"user_id": r.UserID, "symbol": r.Symbol})
		}
		v["reactions"] = list
	}
	return v
}

func conversationValue(c chat.Conversation, me string) map[string]any {
	v := map[string]any{
		"id":           c.ID,
		"kind":         string(c.Kind),
		"name":         c.Name,
		"display_name": c.DisplayName,
		"unread":       unread.IsUnread(c, me),
	}
	online := 0
	parts := make([]any, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Presence == chat.Online && p.UserID != me {
			online++
		}
		parts = append(parts, map[string]any{"user_id": p.UserID, "nickname": p.Nickname, "presence": string(p.Presence)})
	}
	v["participants"] = parts
	v["online"] = online
	if c.NewestMessage != nil {
		v["newest_message"] = messageValue(*c.NewestMessage)
	}
	return v
}

func listValue(items []map[string]any) (*structpb.ListValue, error) {
	vals := make([]any, len(items))
	for i, it := range items {
		vals[i] = it
	}
	lv, err := structpb.NewList(vals)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode list: %v", err)
	}
	return lv, nil
}

func field(s *structpb.Struct, key string) *structpb.Value {
	if s == nil {
		return nil
	}
	return s.GetFields()[key]
}

func stringField(s *structpb.Struct, key string) string {
	return field(s, key).GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return field(s, key).GetNumberValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return field(s, key).GetBoolValue()
}

func stringsField(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(s, key).GetListValue().GetValues() {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}

func required(s *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if stringField(s, k) == "" {
			return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}
