// Package timelinepb 是 chat.timeline.v1.TimelineService 的 gRPC 綁定.
//
// 訊息型別使用 google.protobuf.Struct，因此不需要額外產生 message 程式碼.
package timelinepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	TimelineService_ListMessages_FullMethodName   = "/chat.timeline.v1.TimelineService/ListMessages"
	TimelineService_SendMessage_FullMethodName    = "/chat.timeline.v1.TimelineService/SendMessage"
	TimelineService_UpdateMessage_FullMethodName  = "/chat.timeline.v1.TimelineService/UpdateMessage"
	TimelineService_DeleteMessage_FullMethodName  = "/chat.timeline.v1.TimelineService/DeleteMessage"
	TimelineService_StreamMessages_FullMethodName = "/chat.timeline.v1.TimelineService/StreamMessages"
)

// TimelineServiceClient 客戶端接口.
type TimelineServiceClient interface {
	ListMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StreamMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type timelineServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTimelineServiceClient 建立客戶端.
func NewTimelineServiceClient(cc grpc.ClientConnInterface) TimelineServiceClient {
	return &timelineServiceClient{cc}
}

func (c *timelineServiceClient) unary(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *timelineServiceClient) ListMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, TimelineService_ListMessages_FullMethodName, in, opts)
}

func (c *timelineServiceClient) SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, TimelineService_SendMessage_FullMethodName, in, opts)
}

func (c *timelineServiceClient) UpdateMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, TimelineService_UpdateMessage_FullMethodName, in, opts)
}

func (c *timelineServiceClient) DeleteMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, TimelineService_DeleteMessage_FullMethodName, in, opts)
}

func (c *timelineServiceClient) StreamMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	stream, err := c.cc.NewStream(ctx, &TimelineService_ServiceDesc.Streams[0], TimelineService_StreamMessages_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// TimelineServiceServer 服務端接口.
type TimelineServiceServer interface {
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamMessages(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	mustEmbedUnimplementedTimelineServiceServer()
}

// UnimplementedTimelineServiceServer 必須嵌入以保持向前相容.
type UnimplementedTimelineServiceServer struct{}

func (UnimplementedTimelineServiceServer) ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListMessages not implemented")
}
func (UnimplementedTimelineServiceServer) SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedTimelineServiceServer) UpdateMessage(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpdateMessage not implemented")
}
func (UnimplementedTimelineServiceServer) DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DeleteMessage not implemented")
}
func (UnimplementedTimelineServiceServer) StreamMessages(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Errorf(codes.Unimplemented, "method StreamMessages not implemented")
}
func (UnimplementedTimelineServiceServer) mustEmbedUnimplementedTimelineServiceServer() {}

// RegisterTimelineServiceServer 註冊服務.
func RegisterTimelineServiceServer(s grpc.ServiceRegistrar, srv TimelineServiceServer) {
	s.RegisterService(&TimelineService_ServiceDesc, srv)
}

func unaryHandler(method string, call func(TimelineServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TimelineServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TimelineServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _TimelineService_StreamMessages_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TimelineServiceServer).StreamMessages(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// TimelineService_ServiceDesc 服務描述.
var TimelineService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chat.timeline.v1.TimelineService",
	HandlerType: (*TimelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListMessages",
			Handler:    unaryHandler(TimelineService_ListMessages_FullMethodName, TimelineServiceServer.ListMessages),
		},
		{
			MethodName: "SendMessage",
			Handler:    unaryHandler(TimelineService_SendMessage_FullMethodName, TimelineServiceServer.SendMessage),
		},
		{
			MethodName: "UpdateMessage",
			Handler:    unaryHandler(TimelineService_UpdateMessage_FullMethodName, TimelineServiceServer.UpdateMessage),
		},
		{
			MethodName: "DeleteMessage",
			Handler:    unaryHandler(TimelineService_DeleteMessage_FullMethodName, TimelineServiceServer.DeleteMessage),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamMessages",
			Handler:       _TimelineService_StreamMessages_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "timeline.proto",
}
