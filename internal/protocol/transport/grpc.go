package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	MetadataMaxReceive = "maxReceiveMessageLength"
	MetadataMaxSend    = "maxSendMessageLength"
)

// Options configures the gRPC channel.
type Options struct {
	ConnectTimeout time.Duration
	Limits         protocol.Limits
	Keepalive      keepalive.ClientParameters
	// Interceptors run after the built-in logging interceptor.
	Interceptors []grpc.StreamClientInterceptor
	// DialOptions are appended last; tests use this for bufconn dialers.
	DialOptions []grpc.DialOption
}

// GRPC is a Transport backed by one grpc.ClientConn.
type GRPC struct {
	conn   *grpc.ClientConn
	limits protocol.Limits

	mu     sync.Mutex
	closed bool
}

// Dial creates the channel and waits until it is ready or ConnectTimeout
// elapses. It does not retry past that.
func Dial(ctx context.Context, target string, opts Options) (*GRPC, error) {
	limit := opts.Limits.MaxMessageBytes
	if limit <= 0 {
		limit = protocol.DefaultMaxMessageBytes
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(protocol.Codec{}),
			grpc.MaxCallRecvMsgSize(limit),
			grpc.MaxCallSendMsgSize(limit),
		),
		grpc.WithChainStreamInterceptor(append([]grpc.StreamClientInterceptor{logStreamInterceptor}, opts.Interceptors...)...),
	}
	if opts.Keepalive.Time > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(opts.Keepalive))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if err := waitReady(ctx, conn, opts.ConnectTimeout); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("%s: %w", target, err)}
	}
	log.Debug().Str("target", target).Int("max_message_bytes", limit).Msg("transport ready")
	return &GRPC{conn: conn, limits: protocol.Limits{MaxMessageBytes: limit}}, nil
}

func waitReady(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return ErrClosed
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: last state %s: %v", ErrNotReady, state, ctx.Err())
		}
	}
}

// Limits reports the size limit applied to outgoing messages.
func (g *GRPC) Limits() protocol.Limits {
	return g.limits
}

// Join opens the bidirectional Join stream. Cancelling ctx ends the stream.
func (g *GRPC) Join(ctx context.Context) (Stream, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, &TransportError{Op: "join", Err: ErrClosed}
	}
	n := strconv.Itoa(g.limits.MaxMessageBytes)
	ctx = metadata.AppendToOutgoingContext(ctx, MetadataMaxReceive, n, MetadataMaxSend, n)
	cs, err := g.conn.NewStream(ctx, &joinStreamDesc, JoinMethod)
	if err != nil {
		return nil, &TransportError{Op: "join", Err: err}
	}
	return &grpcStream{cs: cs, limits: g.limits}, nil
}

// Close shuts the channel. Safe to call more than once.
func (g *GRPC) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if err := g.conn.Close(); err != nil && status.Code(err) != codes.Canceled {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

type grpcStream struct {
	cs     grpc.ClientStream
	limits protocol.Limits
}

func (s *grpcStream) Send(msg *protocol.ClientMessage) error {
	data, err := s.limits.EncodeClientMessage(msg)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if err := s.cs.SendMsg(protocol.RawMessage(data)); err != nil {
		return &TransportError{Op: "send", Err: streamErr(err)}
	}
	return nil
}

// Recv decodes outside the grpc codec so a malformed message surfaces as
// protocol.MalformedIns rather than ending the stream.
func (s *grpcStream) Recv() (*protocol.ServerMessage, error) {
	var raw protocol.RawMessage
	if err := s.cs.RecvMsg(&raw); err != nil {
		return nil, &TransportError{Op: "recv", Err: streamErr(err)}
	}
	msg := protocol.DecodeServerMessage(raw)
	if bad, ok := msg.Instruction.(protocol.MalformedIns); ok {
		log.Warn().Err(bad.Err).Int32("field", bad.FieldNumber).Int("bytes", len(raw)).Msg("malformed server message")
	}
	return msg, nil
}

func (s *grpcStream) CloseSend() error {
	if err := s.cs.CloseSend(); err != nil {
		return &TransportError{Op: "close_send", Err: err}
	}
	return nil
}

func streamErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrStreamClosed
	}
	if status.Code(err) == codes.Canceled {
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return err
}

func logStreamInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	cs, err := streamer(ctx, desc, cc, method, opts...)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("target", cc.Target()).Msg("stream open failed")
		return nil, err
	}
	log.Debug().Str("method", method).Str("target", cc.Target()).Msg("stream opened")
	return cs, nil
}
