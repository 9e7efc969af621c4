package flwrtest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize = 1 << 20
	// Target is the dial target that pairs with DialOption.
	Target = "passthrough:///flwrtest"
)

// Server is an in-process FlowerService. Each Join stream is handed to the
// test as a Peer through Accept.
type Server struct {
	lis   *bufconn.Listener
	srv   *grpc.Server
	peers chan *Peer
}

// Start serves on an in-memory listener until the test ends.
func Start(t testing.TB, limits protocol.Limits) *Server {
	t.Helper()
	s := &Server{
		lis:   bufconn.Listen(bufSize),
		srv:   grpc.NewServer(transport.ServerOptions(limits)...),
		peers: make(chan *Peer, 4),
	}
	transport.RegisterFlowerServer(s.srv, s)
	go func() {
		_ = s.srv.Serve(s.lis)
	}()
	t.Cleanup(s.Stop)
	return s
}

// DialOptions routes a client to this server.
func (s *Server) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func (s *Server) Stop() {
	s.srv.Stop()
}

// Join implements transport.FlowerServer.
func (s *Server) Join(stream transport.JoinServer) error {
	p := &Peer{stream: stream, done: make(chan struct{})}
	select {
	case s.peers <- p:
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-p.done:
		return nil
	case <-stream.Context().Done():
		return nil
	}
}

// Accept waits for the next client stream.
func (s *Server) Accept(t testing.TB, timeout time.Duration) *Peer {
	t.Helper()
	select {
	case p := <-s.peers:
		return p
	case <-time.After(timeout):
		t.Fatalf("flwrtest: no client joined within %s", timeout)
		return nil
	}
}

// Peer is the server end of one Join stream.
type Peer struct {
	stream transport.JoinServer
	done   chan struct{}
	once   sync.Once
}

func (p *Peer) Send(t testing.TB, ins protocol.Instruction) {
	t.Helper()
	if err := p.stream.Send(&protocol.ServerMessage{Instruction: ins}); err != nil {
		t.Fatalf("flwrtest: send %T: %v", ins, err)
	}
}

// SendRaw writes bytes as a ServerMessage without encoding them.
func (p *Peer) SendRaw(t testing.TB, b []byte) {
	t.Helper()
	if err := p.stream.SendRaw(protocol.RawMessage(b)); err != nil {
		t.Fatalf("flwrtest: send raw: %v", err)
	}
}

// Recv waits for the next client response.
func (p *Peer) Recv(t testing.TB, timeout time.Duration) protocol.Response {
	t.Helper()
	type result struct {
		msg *protocol.ClientMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := p.stream.Recv()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("flwrtest: recv: %v", r.err)
		}
		return r.msg.Response
	case <-time.After(timeout):
		t.Fatalf("flwrtest: no response within %s", timeout)
		return nil
	}
}

// Metadata returns the headers the client sent with Join.
func (p *Peer) Metadata() metadata.MD {
	md, _ := metadata.FromIncomingContext(p.stream.Context())
	return md
}

// Done is closed once the client side of the stream goes away.
func (p *Peer) Done() <-chan struct{} {
	return p.stream.Context().Done()
}

// Finish ends the stream from the server side.
func (p *Peer) Finish() {
	p.once.Do(func() { close(p.done) })
}
