package transport

import (
	"context"

	"github.com/danmuck/flwrctl/internal/protocol"
	"google.golang.org/grpc"
)

const (
	ServiceName = "flwr.proto.FlowerService"
	JoinMethod  = "/flwr.proto.FlowerService/Join"
)

var joinStreamDesc = grpc.StreamDesc{
	StreamName:    "Join",
	ServerStreams: true,
	ClientStreams: true,
}

// JoinServer is the server end of one Join stream.
type JoinServer interface {
	Send(*protocol.ServerMessage) error
	// SendRaw writes an already-encoded ServerMessage.
	SendRaw(protocol.RawMessage) error
	Recv() (*protocol.ClientMessage, error)
	Context() context.Context
}

// FlowerServer handles Join streams.
type FlowerServer interface {
	Join(JoinServer) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlowerServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Join",
		Handler:       joinHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "flwr/proto/transport.proto",
}

func RegisterFlowerServer(s grpc.ServiceRegistrar, srv FlowerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServerOptions returns the codec and size options a FlowerService server
// needs to speak to this client.
func ServerOptions(limits protocol.Limits) []grpc.ServerOption {
	n := limits.MaxMessageBytes
	if n <= 0 {
		n = protocol.DefaultMaxMessageBytes
	}
	return []grpc.ServerOption{
		grpc.ForceServerCodec(protocol.Codec{}),
		grpc.MaxRecvMsgSize(n),
		grpc.MaxSendMsgSize(n),
	}
}

func joinHandler(srv any, stream grpc.ServerStream) error {
	return srv.(FlowerServer).Join(&joinServer{ServerStream: stream})
}

type joinServer struct {
	grpc.ServerStream
}

func (s *joinServer) Send(msg *protocol.ServerMessage) error {
	return s.ServerStream.SendMsg(msg)
}

func (s *joinServer) SendRaw(b protocol.RawMessage) error {
	return s.ServerStream.SendMsg(b)
}

func (s *joinServer) Recv() (*protocol.ClientMessage, error) {
	var msg protocol.ClientMessage
	if err := s.ServerStream.RecvMsg(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
