package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
)

var ErrCapabilityPanic = errors.New("client: capability panicked")

// ProtocolError is an instruction the dispatcher cannot interpret. Err is
// set when the server message itself failed to decode.
type ProtocolError struct {
	Field int32
	Err   error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("client: malformed instruction field %d: %v", e.Field, e.Err)
	case e.Field == 0:
		return "client: server message carries no instruction"
	default:
		return fmt.Sprintf("client: unknown instruction field %d", e.Field)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ApplicationError wraps a failure returned or raised by the capability.
type ApplicationError struct {
	Op  string
	Err error
}

func (e *ApplicationError) Error() string {
	return "client " + e.Op + ": " + e.Err.Error()
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// StatusFor maps a round failure to the status reported to the server.
func StatusFor(err error) protocol.Status {
	var (
		pe *ProtocolError
		ae *ApplicationError
		ce *tensor.CodecError
	)
	switch {
	case err == nil:
		return protocol.Status{Code: protocol.CodeOK}
	case errors.As(err, &pe):
		return protocol.Status{Code: protocol.CodeProtocolError, Message: err.Error()}
	case errors.As(err, &ae):
		return protocol.Status{Code: protocol.CodeApplicationError, Message: err.Error()}
	case errors.As(err, &ce):
		return protocol.Status{Code: protocol.CodeCodecError, Message: err.Error()}
	default:
		return protocol.Status{Code: protocol.CodeApplicationError, Message: err.Error()}
	}
}
