package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a session daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.call(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.call(ctx, "GetUnreadCount", &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// WatchUnread calls fn with the current unread count and every change until
// ctx is done or the stream fails.
func (c *Client) WatchUnread(ctx context.Context, fn func(int64)) error {
	stream, err := c.conn.NewStream(ctx, &inboxDesc.Streams[0], fullMethod(watchUnreadStream))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		v := new(wrapperspb.Int64Value)
		if err := stream.RecvMsg(v); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(v.GetValue())
	}
}

func (c *Client) Conversations(ctx context.Context) ([]map[string]any, error) {
	out := new(structpb.ListValue)
	if err := c.call(ctx, "ListConversations", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return maps(out), nil
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]map[string]any, error) {
	out := new(structpb.ListValue)
	if err := c.call(ctx, "ListMessages", wrapperspb.String(conversationID), out); err != nil {
		return nil, err
	}
	return maps(out), nil
}

func (c *Client) Open(ctx context.Context, conversationID string) error {
	return c.call(ctx, "OpenConversation", wrapperspb.String(conversationID), new(emptypb.Empty))
}

func (c *Client) CloseConversation(ctx context.Context) error {
	return c.call(ctx, "CloseConversation", &emptypb.Empty{}, new(emptypb.Empty))
}

// Send queues a message and returns its local id.
func (c *Client) Send(ctx context.Context, conversationID, content string, files []string, fileType string) (string, error) {
	fields := map[string]any{"conversation_id": conversationID, "content": content}
	if len(files) > 0 {
		list := make([]any, len(files))
		for i, f := range files {
			list[i] = f
		}
		fields["files"] = list
		fields["file_type"] = fileType
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.call(ctx, "SendMessage", in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Retry(ctx context.Context, localID string) error {
	return c.call(ctx, "RetrySend", wrapperspb.String(localID), new(emptypb.Empty))
}

func (c *Client) React(ctx context.Context, messageID, symbol string) error {
	return c.callStruct(ctx, "React", map[string]any{"message_id": messageID, "symbol": symbol})
}

// LoadOlder loads one more page of history and returns the pager result.
func (c *Client) LoadOlder(ctx context.Context, conversationID string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.call(ctx, "LoadOlder", wrapperspb.String(conversationID), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ReportViewport tells the daemon what the viewer sees.
func (c *Client) ReportViewport(ctx context.Context, conversationID, topVisibleID, newestVisibleID string, ratio float64, focused bool) error {
	return c.callStruct(ctx, "ReportViewport", map[string]any{
		"conversation_id":   conversationID,
		"top_visible_id":    topVisibleID,
		"newest_visible_id": newestVisibleID,
		"ratio":             ratio,
		"focused":           focused,
	})
}

func (c *Client) MarkSeen(ctx context.Context, conversationID, messageID string) error {
	return c.callStruct(ctx, "MarkSeen", map[string]any{"conversation_id": conversationID, "message_id": messageID})
}

func (c *Client) CreateConversation(ctx context.Context, kind string, participantIDs []string) (map[string]any, error) {
	ids := make([]any, len(participantIDs))
	for i, id := range participantIDs {
		ids[i] = id
	}
	in, err := structpb.NewStruct(map[string]any{"kind": kind, "participant_ids": ids})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.call(ctx, "CreateConversation", in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.call(ctx, "DeleteConversation", wrapperspb.String(conversationID), new(emptypb.Empty))
}

func (c *Client) Rename(ctx context.Context, conversationID, name string) error {
	return c.callStruct(ctx, "RenameConversation", map[string]any{"conversation_id": conversationID, "name": name})
}

func (c *Client) ChangeNickname(ctx context.Context, conversationID, userID, nickname string) error {
	return c.callStruct(ctx, "ChangeNickname", map[string]any{"conversation_id": conversationID, "user_id": userID, "nickname": nickname})
}

func (c *Client) callStruct(ctx context.Context, method string, fields map[string]any) error {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.call(ctx, method, in, new(emptypb.Empty))
}

func maps(lv *structpb.ListValue) []map[string]any {
	out := make([]map[string]any, 0, len(lv.GetValues()))
	for _, v := range lv.GetValues() {
		out = append(out, v.GetStructValue().AsMap())
	}
	return out
}
