package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Service and method names as registered by peers built from
// nnstreamer_grpc.proto.
const (
	ServiceName       = "nnstreamer.protobuf.TensorService"
	SendTensorsMethod = "/" + ServiceName + "/SendTensors"
	RecvTensorsMethod = "/" + ServiceName + "/RecvTensors"
)

// TensorServiceServer is implemented by the receiving side of a tensor
// stream.
type TensorServiceServer interface {
	// SendTensors consumes a client stream of frames and replies once the
	// client has finished sending.
	SendTensors(grpc.ClientStreamingServer[Tensors, emptypb.Empty]) error
	// RecvTensors streams frames from the server to the client.
	RecvTensors(*emptypb.Empty, grpc.ServerStreamingServer[Tensors]) error
}

// UnimplementedTensorServiceServer can be embedded to satisfy
// TensorServiceServer for methods a server does not provide.
type UnimplementedTensorServiceServer struct{}

func (UnimplementedTensorServiceServer) SendTensors(grpc.ClientStreamingServer[Tensors, emptypb.Empty]) error {
	return status.Error(codes.Unimplemented, "method SendTensors not implemented")
}

func (UnimplementedTensorServiceServer) RecvTensors(*emptypb.Empty, grpc.ServerStreamingServer[Tensors]) error {
	return status.Error(codes.Unimplemented, "method RecvTensors not implemented")
}

// RegisterTensorServiceServer registers srv with a gRPC server. The server
// must be created with ServerOptions so *Tensors frames can be decoded.
func RegisterTensorServiceServer(s grpc.ServiceRegistrar, srv TensorServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServerOptions returns the options a gRPC server needs to carry tensor
// frames.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(Codec{})}
}

func sendTensorsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TensorServiceServer).SendTensors(&grpc.GenericServerStream[Tensors, emptypb.Empty]{ServerStream: stream})
}

func recvTensorsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TensorServiceServer).RecvTensors(in, &grpc.GenericServerStream[emptypb.Empty, Tensors]{ServerStream: stream})
}

// ServiceDesc describes TensorService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TensorServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SendTensors",
			Handler:       sendTensorsHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "RecvTensors",
			Handler:       recvTensorsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "nnstreamer_grpc.proto",
}

// TensorServiceClient is the sending side of a tensor stream.
type TensorServiceClient interface {
	SendTensors(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[Tensors, emptypb.Empty], error)
	RecvTensors(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Tensors], error)
}

type tensorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTensorServiceClient returns a client stub bound to cc. The stub forces
// Codec on every call, so cc needs no codec-specific dial options.
func NewTensorServiceClient(cc grpc.ClientConnInterface) TensorServiceClient {
	return &tensorServiceClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
}

func (c *tensorServiceClient) SendTensors(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[Tensors, emptypb.Empty], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SendTensorsMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Tensors, emptypb.Empty]{ClientStream: stream}, nil
}

func (c *tensorServiceClient) RecvTensors(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Tensors], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], RecvTensorsMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, Tensors]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
