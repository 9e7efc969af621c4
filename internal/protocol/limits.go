package protocol

import "fmt"

// DefaultMaxMessageBytes matches the upstream client channel limit (512 MiB).
const DefaultMaxMessageBytes = 536870912

// Limits constrains encoded message size in both directions.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: DefaultMaxMessageBytes}
}

// Check fails with ErrMessageTooLarge when n exceeds the limit. A
// non-positive limit disables the check.
func (l Limits) Check(n int) error {
	if l.MaxMessageBytes > 0 && n > l.MaxMessageBytes {
		return &SizeError{Size: n, Limit: l.MaxMessageBytes}
	}
	return nil
}

// EncodeClientMessage marshals msg and applies the size limit, so an
// oversized message is rejected before any byte reaches the stream.
func (l Limits) EncodeClientMessage(msg *ClientMessage) ([]byte, error) {
	data, err := MarshalClientMessage(msg)
	if err != nil {
		return nil, err
	}
	if err := l.Check(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// SizeError reports an encoded message over the configured limit.
type SizeError struct {
	Size  int
	Limit int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds limit %d", ErrMessageTooLarge, e.Size, e.Limit)
}

func (e *SizeError) Unwrap() error {
	return ErrMessageTooLarge
}

// StripPayload returns the same response variant with tensors, properties
// and metrics removed and status set to code. Used to answer a round whose
// full response would not fit on the wire.
func StripPayload(res Response, code Code, message string) Response {
	status := Status{Code: code, Message: message}
	switch r := res.(type) {
	case GetPropertiesRes:
		return GetPropertiesRes{Status: status}
	case GetParametersRes:
		return GetParametersRes{Status: status, Parameters: Parameters{TensorType: r.Parameters.TensorType}}
	case FitRes:
		return FitRes{Status: status, Parameters: Parameters{TensorType: r.Parameters.TensorType}, NumExamples: r.NumExamples}
	case EvaluateRes:
		return EvaluateRes{Status: status, Loss: r.Loss, NumExamples: r.NumExamples}
	case DisconnectRes:
		return r
	default:
		return ErrorRes{Status: status}
	}
}
