package protocol

import "errors"

var (
	ErrMalformed           = errors.New("protocol: malformed message")
	ErrWireTypeMismatch    = errors.New("protocol: wire type mismatch")
	ErrFieldTypeMismatch   = errors.New("protocol: field type mismatch")
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
	ErrUnknownResponse     = errors.New("protocol: unknown response variant")
	ErrMissingVariant      = errors.New("protocol: message carries no variant")
	ErrUnknownReason       = errors.New("protocol: unknown reason")
	ErrMessageTooLarge     = errors.New("protocol: message too large")
)
