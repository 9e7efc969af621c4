package transport

import (
	"context"
	"errors"

	"github.com/danmuck/flwrctl/internal/protocol"
)

var (
	ErrMessageTooLarge = protocol.ErrMessageTooLarge
	ErrStreamClosed    = errors.New("transport: stream closed")
	ErrNotReady        = errors.New("transport: channel not ready")
	ErrClosed          = errors.New("transport: closed")
)

// TransportError is a channel open/close/send/receive failure. It ends the
// session it happens on.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Stream is one Join call. Send and Recv may run concurrently with each
// other, but neither may be called from two goroutines at once.
type Stream interface {
	Send(*protocol.ClientMessage) error
	Recv() (*protocol.ServerMessage, error)
	CloseSend() error
}

// Transport is an established channel able to open Join streams.
type Transport interface {
	Join(ctx context.Context) (Stream, error)
	Close() error
}
