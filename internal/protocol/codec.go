package protocol

import "fmt"

// CodecName is registered as the gRPC content-subtype, so peers see
// application/grpc+proto exactly as with generated stubs.
const CodecName = "proto"

// RawMessage is an already-encoded message passed through the codec as is.
type RawMessage []byte

// Codec implements grpc encoding.Codec for the Flower transport messages.
type Codec struct{}

func (Codec) Name() string {
	return CodecName
}

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *ServerMessage:
		return MarshalServerMessage(m)
	case *ClientMessage:
		return MarshalClientMessage(m)
	case RawMessage:
		return m, nil
	case *RawMessage:
		return *m, nil
	default:
		return nil, fmt.Errorf("%w: cannot marshal %T", ErrMessageTypeMismatch, v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *ServerMessage:
		decoded, err := UnmarshalServerMessage(data)
		if err != nil {
			return err
		}
		*m = *decoded
		return nil
	case *ClientMessage:
		decoded, err := UnmarshalClientMessage(data)
		if err != nil {
			return err
		}
		*m = *decoded
		return nil
	case *RawMessage:
		*m = append((*m)[:0], data...)
		return nil
	default:
		return fmt.Errorf("%w: cannot unmarshal into %T", ErrMessageTypeMismatch, v)
	}
}
