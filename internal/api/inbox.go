package api

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/sync"
)

// Engine is the part of the sync engine the API serves.
type Engine interface {
	Me() string
	Snapshot() *sync.Snapshot
	UnreadCount() int
	OpenConversation(ctx context.Context, id string) error
	CloseConversation(ctx context.Context) error
	Messages(ctx context.Context, id string) ([]chat.Message, error)
	React(ctx context.Context, messageID, symbol string) (chat.Message, error)
	LoadOlder(ctx context.Context, id string) (pager.Result, error)
	ReportViewport(ctx context.Context, v sync.Viewport) error
	MarkSeen(ctx context.Context, conversationID, messageID string) error
	CreateConversation(ctx context.Context, participantIDs []string, kind chat.Kind) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) error
	ChangeNickname(ctx context.Context, conversationID, userID, nickname string) error
}

// Outbox sends drafts and retries failed sends.
type Outbox interface {
	Send(ctx context.Context, d chat.Draft) (string, error)
	Retry(ctx context.Context, localID string) error
}

// UnreadSource is watched by WatchUnread.
type UnreadSource interface {
	Watch() (<-chan int, func())
}

// InboxService implements chatsync.v1.Inbox.
type InboxService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	engine      Engine
	outbox      Outbox
	unread      UnreadSource
	logger      *zap.Logger
}

// NewInboxService creates the inbox service.
func NewInboxService(sessionName string, machine *status.Machine, engine Engine, ob Outbox, u UnreadSource, logger *zap.Logger) *InboxService {
	return &InboxService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		engine:      engine,
		outbox:      ob,
		unread:      u,
		logger:      logger,
	}
}

var empty = &emptypb.Empty{}

func (s *InboxService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.engine.Snapshot()
	failed := 0
	for _, m := range snap.ActiveMessages {
		if m.Failed {
			failed++
		}
	}
	st, err := structpb.NewStruct(map[string]any{
		"session":       s.sessionName,
		"user_id":       s.engine.Me(),
		"state":         string(s.machine.Current()),
		"state_since":   s.machine.Since().Format(time.RFC3339),
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"conversations": len(snap.Conversations),
		"unread":        s.engine.UnreadCount(),
		"active":        snap.Active,
		"active_failed": failed,
	})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return st, nil
}

func (s *InboxService) GetUnreadCount(_ context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	return wrapperspb.Int64(int64(s.engine.UnreadCount())), nil
}

// WatchUnread streams the current unread count and every change until the
// client goes away.
func (s *InboxService) WatchUnread(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ch, stop := s.unread.Watch()
	defer stop()
	for {
		select {
		case n := <-ch:
			if err := stream.SendMsg(wrapperspb.Int64(int64(n))); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *InboxService) ListConversations(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	snap := s.engine.Snapshot()
	me := s.engine.Me()
	items := make([]map[string]any, 0, len(snap.Conversations))
	for _, c := range snap.Conversations {
		items = append(items, conversationValue(c, me))
	}
	return listValue(items)
}

func (s *InboxService) ListMessages(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	msgs, err := s.engine.Messages(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageValue(m))
	}
	return listValue(items)
}

func (s *InboxService) OpenConversation(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id is required")
	}
	return empty, toStatus(s.engine.OpenConversation(ctx, req.GetValue()))
}

func (s *InboxService) CloseConversation(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return empty, toStatus(s.engine.CloseConversation(ctx))
}

func (s *InboxService) SendMessage(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	if err := required(req, "conversation_id"); err != nil {
		return nil, err
	}
	d := chat.Draft{
		ConversationID:   stringField(req, "conversation_id"),
		SenderID:         s.engine.Me(),
		Content:          stringField(req, "content"),
		RepliedMessageID: stringField(req, "replied_message_id"),
	}
	for _, p := range stringsField(req, "files") {
		d.Files = append(d.Files, chat.Upload{Path: p})
	}
	if len(d.Files) > 0 {
		d.FileType = chat.ParseAttachmentType(stringField(req, "file_type"))
	}
	if strings.TrimSpace(d.Content) == "" && len(d.Files) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "content or files is required")
	}

	localID, err := s.outbox.Send(ctx, d)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(localID), nil
}

func (s *InboxService) RetrySend(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty, toStatus(s.outbox.Retry(ctx, req.GetValue()))
}

func (s *InboxService) React(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := required(req, "message_id"); err != nil {
		return nil, err
	}
	_, err := s.engine.React(ctx, stringField(req, "message_id"), stringField(req, "symbol"))
	return empty, toStatus(err)
}

func (s *InboxService) LoadOlder(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res, err := s.engine.LoadOlder(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"inserted": res.Inserted,
		"skip":     res.Cursor.Skip,
		"take":     res.Cursor.Take,
		"has_more": res.Cursor.HasMore,
		"anchor":   res.Anchor,
	})
}

func (s *InboxService) ReportViewport(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := required(req, "conversation_id"); err != nil {
		return nil, err
	}
	err := s.engine.ReportViewport(ctx, sync.Viewport{
		ConversationID:  stringField(req, "conversation_id"),
		TopVisibleID:    stringField(req, "top_visible_id"),
		NewestVisibleID: stringField(req, "newest_visible_id"),
		Ratio:           numberField(req, "ratio"),
		Focused:         boolField(req, "focused"),
	})
	return empty, toStatus(err)
}

func (s *InboxService) MarkSeen(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := required(req, "conversation_id", "message_id"); err != nil {
		return nil, err
	}
	return empty, toStatus(s.engine.MarkSeen(ctx, stringField(req, "conversation_id"), stringField(req, "message_id")))
}

func (s *InboxService) CreateConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids := stringsField(req, "participant_ids")
	if len(ids) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "participant_ids is required")
	}
	kind, err := chat.ParseKind(stringField(req, "kind"))
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	c, err := s.engine.CreateConversation(ctx, ids, kind)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(conversationValue(c, s.engine.Me()))
}

func (s *InboxService) DeleteConversation(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty, toStatus(s.engine.DeleteConversation(ctx, req.GetValue()))
}

func (s *InboxService) RenameConversation(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := required(req, "conversation_id", "name"); err != nil {
		return nil, err
	}
	return empty, toStatus(s.engine.Rename(ctx, stringField(req, "conversation_id"), stringField(req, "name")))
}

func (s *InboxService) ChangeNickname(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := required(req, "conversation_id", "user_id"); err != nil {
		return nil, err
	}
	return empty, toStatus(s.engine.ChangeNickname(ctx, stringField(req, "conversation_id"), stringField(req, "user_id"), stringField(req, "nickname")))
}
