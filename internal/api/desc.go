package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the full gRPC name of the inbox service.
const ServiceName = "chatsync.v1.Inbox"

// InboxServer is the server side of chatsync.v1.Inbox. Messages are
// protobuf well-known types, so no generated code is needed.
type InboxServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetUnreadCount(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	WatchUnread(*emptypb.Empty, grpc.ServerStream) error
	ListConversations(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListMessages(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	OpenConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	CloseConversation(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SendMessage(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	RetrySend(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	React(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	LoadOlder(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ReportViewport(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	MarkSeen(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	CreateConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RenameConversation(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ChangeNickname(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterInboxServer registers srv on s.
func RegisterInboxServer(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&inboxDesc, srv)
}

const watchUnreadStream = "WatchUnread"

var inboxDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", InboxServer.GetStatus),
		unary("GetUnreadCount", InboxServer.GetUnreadCount),
		unary("ListConversations", InboxServer.ListConversations),
		unary("ListMessages", InboxServer.ListMessages),
		unary("OpenConversation", InboxServer.OpenConversation),
		unary("CloseConversation", InboxServer.CloseConversation),
		unary("SendMessage", InboxServer.SendMessage),
		unary("RetrySend", InboxServer.RetrySend),
		unary("React", InboxServer.React),
		unary("LoadOlder", InboxServer.LoadOlder),
		unary("ReportViewport", InboxServer.ReportViewport),
		unary("MarkSeen", InboxServer.MarkSeen),
		unary("CreateConversation", InboxServer.CreateConversation),
		unary("DeleteConversation", InboxServer.DeleteConversation),
		unary("RenameConversation", InboxServer.RenameConversation),
		unary("ChangeNickname", InboxServer.ChangeNickname),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchUnreadStream,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(emptypb.Empty)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(InboxServer).WatchUnread(in, stream)
			},
		},
	},
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(InboxServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InboxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InboxServer), ctx, req.(PReq))
			})
		},
	}
}
