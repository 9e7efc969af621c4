package transport_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/transport"
	"github.com/danmuck/flwrctl/internal/testutil/flwrtest"
	"github.com/danmuck/flwrctl/internal/testutil/testlog"
	"google.golang.org/grpc"
)

const waitFor = 5 * time.Second

func dial(t *testing.T, srv *flwrtest.Server, limits protocol.Limits) *transport.GRPC {
	t.Helper()
	g, err := transport.Dial(context.Background(), flwrtest.Target, transport.Options{
		ConnectTimeout: waitFor,
		Limits:         limits,
		DialOptions:    srv.DialOptions(),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestJoinExchange(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	g := dial(t, srv, protocol.DefaultLimits())

	stream, err := g.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	peer := srv.Accept(t, waitFor)

	md := peer.Metadata()
	if got := md.Get("maxreceivemessagelength"); len(got) != 1 || got[0] != "536870912" {
		t.Fatalf("unexpected max receive metadata: %v", got)
	}

	peer.Send(t, protocol.GetParametersIns{})
	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, ok := msg.Instruction.(protocol.GetParametersIns); !ok {
		t.Fatalf("unexpected instruction %#v", msg.Instruction)
	}

	want := protocol.GetParametersRes{Parameters: protocol.Parameters{Tensors: [][]byte{{1, 2, 3}}, TensorType: "numpy.ndarray"}}
	if err := stream.Send(&protocol.ClientMessage{Response: want}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, ok := peer.Recv(t, waitFor).(protocol.GetParametersRes)
	if !ok || got.Parameters.Size() != 3 || got.Parameters.TensorType != "numpy.ndarray" {
		t.Fatalf("unexpected response %#v", got)
	}

	peer.Finish()
	_, err = stream.Recv()
	if !errors.Is(err, transport.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed after server finish, got %v", err)
	}
	var terr *transport.TransportError
	if !errors.As(err, &terr) || terr.Op != "recv" {
		t.Fatalf("expected recv TransportError, got %#v", err)
	}
}

func TestRecvSurvivesMalformedMessage(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	g := dial(t, srv, protocol.DefaultLimits())

	stream, err := g.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	peer := srv.Accept(t, waitFor)

	// fit_ins whose parameters field arrives as a varint
	peer.SendRaw(t, []byte{0x22, 0x02, 0x08, 0x01})
	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv malformed: %v", err)
	}
	bad, ok := msg.Instruction.(protocol.MalformedIns)
	if !ok || bad.Field() != 4 || !errors.Is(bad.Err, protocol.ErrWireTypeMismatch) {
		t.Fatalf("expected MalformedIns for field 4, got %#v", msg.Instruction)
	}

	peer.Send(t, protocol.GetParametersIns{})
	msg, err = stream.Recv()
	if err != nil {
		t.Fatalf("recv after malformed: %v", err)
	}
	if _, ok := msg.Instruction.(protocol.GetParametersIns); !ok {
		t.Fatalf("unexpected instruction %#v", msg.Instruction)
	}
	peer.Finish()
}

func TestSendRejectsOversizeBeforeWrite(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	g := dial(t, srv, protocol.Limits{MaxMessageBytes: 64})

	stream, err := g.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	peer := srv.Accept(t, waitFor)

	big := protocol.FitRes{Parameters: protocol.Parameters{Tensors: [][]byte{make([]byte, 256)}}}
	err = stream.Send(&protocol.ClientMessage{Response: big})
	if !errors.Is(err, transport.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	// The stream is still usable and the peer saw nothing of the rejected message.
	if err := stream.Send(&protocol.ClientMessage{Response: protocol.DisconnectRes{Reason: protocol.ReasonAck}}); err != nil {
		t.Fatalf("send after reject: %v", err)
	}
	if res, ok := peer.Recv(t, waitFor).(protocol.DisconnectRes); !ok || res.Reason != protocol.ReasonAck {
		t.Fatalf("unexpected first response on the wire: %#v", res)
	}
}

func TestDialTimeout(t *testing.T) {
	testlog.Start(t)
	failing := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	})
	_, err := transport.Dial(context.Background(), "passthrough:///nowhere", transport.Options{
		ConnectTimeout: 200 * time.Millisecond,
		DialOptions:    []grpc.DialOption{failing},
	})
	if !errors.Is(err, transport.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	var terr *transport.TransportError
	if !errors.As(err, &terr) || terr.Op != "dial" {
		t.Fatalf("expected dial TransportError, got %#v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	srv := flwrtest.Start(t, protocol.DefaultLimits())
	g := dial(t, srv, protocol.DefaultLimits())
	if err := g.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := g.Join(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
