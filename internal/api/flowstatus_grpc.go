package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// FlowStatusServiceName is the fully qualified gRPC service name.
const FlowStatusServiceName = "mirador.flowstatus.v1.FlowStatus"

const (
	GetStatusMethod     = "/" + FlowStatusServiceName + "/GetStatus"
	RefreshMethod       = "/" + FlowStatusServiceName + "/Refresh"
	PreloadMethod       = "/" + FlowStatusServiceName + "/Preload"
	SeekMethod          = "/" + FlowStatusServiceName + "/Seek"
	ClearPlaybackMethod = "/" + FlowStatusServiceName + "/ClearPlayback"
)

// FlowStatusServer is the server API for the FlowStatus service. Structured
// payloads travel as google.protobuf.Struct.
type FlowStatusServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Refresh(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Preload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Seek(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearPlayback(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// UnimplementedFlowStatusServer can be embedded to satisfy FlowStatusServer.
type UnimplementedFlowStatusServer struct{}

func (UnimplementedFlowStatusServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

func (UnimplementedFlowStatusServer) Refresh(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}

func (UnimplementedFlowStatusServer) Preload(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Preload not implemented")
}

func (UnimplementedFlowStatusServer) Seek(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Seek not implemented")
}

func (UnimplementedFlowStatusServer) ClearPlayback(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ClearPlayback not implemented")
}

// RegisterFlowStatusServer attaches srv to s.
func RegisterFlowStatusServer(s grpc.ServiceRegistrar, srv FlowStatusServer) {
	s.RegisterService(&FlowStatusServiceDesc, srv)
}

// methodHandler is the handler shape grpc.MethodDesc expects.
type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

// unaryHandler adapts a typed method into a methodHandler.
func unaryHandler[Req any, Resp any](fullMethod string, newReq func() *Req, call func(FlowStatusServer, context.Context, *Req) (*Resp, error)) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FlowStatusServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FlowStatusServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// FlowStatusServiceDesc describes the FlowStatus service for grpc.Server.
var FlowStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: FlowStatusServiceName,
	HandlerType: (*FlowStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    unaryHandler(GetStatusMethod, newEmpty, FlowStatusServer.GetStatus),
		},
		{
			MethodName: "Refresh",
			Handler:    unaryHandler(RefreshMethod, newEmpty, FlowStatusServer.Refresh),
		},
		{
			MethodName: "Preload",
			Handler:    unaryHandler(PreloadMethod, newStruct, FlowStatusServer.Preload),
		},
		{
			MethodName: "Seek",
			Handler:    unaryHandler(SeekMethod, newStruct, FlowStatusServer.Seek),
		},
		{
			MethodName: "ClearPlayback",
			Handler:    unaryHandler(ClearPlaybackMethod, newEmpty, FlowStatusServer.ClearPlayback),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/flowstatus/v1/flowstatus.proto",
}

// FlowStatusClient is the client API for the FlowStatus service.
type FlowStatusClient struct {
	cc grpc.ClientConnInterface
}

// NewFlowStatusClient wraps a client connection.
func NewFlowStatusClient(cc grpc.ClientConnInterface) *FlowStatusClient {
	return &FlowStatusClient{cc: cc}
}

func (c *FlowStatusClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FlowStatusClient) Refresh(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RefreshMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FlowStatusClient) Preload(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PreloadMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FlowStatusClient) Seek(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SeekMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FlowStatusClient) ClearPlayback(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ClearPlaybackMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
