package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the chunk streaming service
const ServiceName = "deskcap.v1.CaptureStream"

// SubscribeMethod is the full method path used by clients
const SubscribeMethod = "/" + ServiceName + "/Subscribe"

// CaptureStreamServer streams raw capture chunks to a client until either side goes away
type CaptureStreamServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CaptureStreamServer).Subscribe(m, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

// CaptureStreamServiceDesc describes the service without generated code.
// Messages are well-known types, so the default proto codec handles them.
var CaptureStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CaptureStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "deskcap/v1/capture.proto",
}

// RegisterCaptureStreamServer registers srv on s
func RegisterCaptureStreamServer(s grpc.ServiceRegistrar, srv CaptureStreamServer) {
	s.RegisterService(&CaptureStreamServiceDesc, srv)
}

// Subscribe opens a chunk stream on cc
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := cc.NewStream(ctx, &CaptureStreamServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
