package protocol

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// MarshalServerMessage encodes msg as a flwr.proto ServerMessage.
func MarshalServerMessage(msg *ServerMessage) ([]byte, error) {
	if msg == nil || msg.Instruction == nil {
		return nil, ErrMissingVariant
	}
	var body []byte
	switch ins := msg.Instruction.(type) {
	case ReconnectIns:
		body = appendInt64(nil, 1, ins.Seconds)
	case GetPropertiesIns:
		body = appendScalars(nil, 1, ins.Config)
	case GetParametersIns:
		body = appendScalars(nil, 1, ins.Config)
	case FitIns:
		body = appendMessage(nil, 1, appendParameters(nil, ins.Parameters))
		body = appendScalars(body, 2, ins.Config)
	case EvaluateIns:
		body = appendMessage(nil, 1, appendParameters(nil, ins.Parameters))
		body = appendScalars(body, 2, ins.Config)
	case DisconnectIns:
		body = appendInt64(nil, 1, int64(ins.Reason))
	case UnknownIns:
		if ins.FieldNumber <= 0 || protowire.Number(ins.FieldNumber) > protowire.MaxValidNumber {
			return []byte{}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrMessageTypeMismatch, msg.Instruction)
	}
	return appendMessage(nil, protowire.Number(msg.Instruction.Field()), body), nil
}

// MarshalClientMessage encodes msg as a flwr.proto ClientMessage. Map
// entries are written in key order so equal messages encode identically.
func MarshalClientMessage(msg *ClientMessage) ([]byte, error) {
	if msg == nil || msg.Response == nil {
		return nil, ErrMissingVariant
	}
	var body []byte
	switch res := msg.Response.(type) {
	case DisconnectRes:
		body = appendInt64(nil, 1, int64(res.Reason))
	case GetPropertiesRes:
		body = appendMessage(nil, 1, appendStatus(nil, res.Status))
		body = appendScalars(body, 2, res.Properties)
	case GetParametersRes:
		body = appendMessage(nil, 1, appendStatus(nil, res.Status))
		body = appendMessage(body, 2, appendParameters(nil, res.Parameters))
	case FitRes:
		body = appendMessage(nil, 1, appendStatus(nil, res.Status))
		body = appendMessage(body, 2, appendParameters(nil, res.Parameters))
		body = appendInt64(body, 3, res.NumExamples)
		body = appendScalars(body, 4, res.Metrics)
	case EvaluateRes:
		body = appendMessage(nil, 1, appendStatus(nil, res.Status))
		if bits := math.Float32bits(res.Loss); bits != 0 {
			body = protowire.AppendTag(body, 2, protowire.Fixed32Type)
			body = protowire.AppendFixed32(body, bits)
		}
		body = appendInt64(body, 3, res.NumExamples)
		body = appendScalars(body, 4, res.Metrics)
	case ErrorRes:
		body = appendMessage(nil, 1, appendStatus(nil, res.Status))
	default:
		return nil, fmt.Errorf("%w: %T", ErrMessageTypeMismatch, msg.Response)
	}
	return appendMessage(nil, protowire.Number(msg.Response.Field()), body), nil
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// appendInt64 covers int64 and enum fields; zero is omitted as in proto3.
func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStatus(b []byte, s Status) []byte {
	b = appendInt64(b, 1, int64(s.Code))
	return appendString(b, 2, s.Message)
}

func appendParameters(b []byte, p Parameters) []byte {
	for _, t := range p.Tensors {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	}
	return appendString(b, 2, p.TensorType)
}

func appendScalars(b []byte, num protowire.Number, m Scalars) []byte {
	if len(m) == 0 {
		return b
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := protowire.AppendTag(nil, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = appendMessage(entry, 2, appendScalar(nil, m[k]))
		b = appendMessage(b, num, entry)
	}
	return b
}

// appendScalar always writes the populated member, zero values included.
func appendScalar(b []byte, s Scalar) []byte {
	switch s.Kind {
	case ScalarDouble:
		b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(s.num))
	case ScalarSint64:
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.i))
	case ScalarBool:
		b = protowire.AppendTag(b, 13, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(s.b))
	case ScalarString:
		b = protowire.AppendTag(b, 14, protowire.BytesType)
		b = protowire.AppendString(b, s.s)
	case ScalarBytes:
		b = protowire.AppendTag(b, 15, protowire.BytesType)
		b = protowire.AppendBytes(b, s.raw)
	}
	return b
}
