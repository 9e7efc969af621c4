package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// UnmarshalServerMessage decodes a flwr.proto ServerMessage. A oneof member
// this client does not know, or no member at all, yields UnknownIns.
func UnmarshalServerMessage(b []byte) (*ServerMessage, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	msg := &ServerMessage{Instruction: UnknownIns{}}
	for _, f := range fields {
		if f.Num > 6 {
			msg.Instruction = UnknownIns{FieldNumber: int32(f.Num)}
			continue
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return nil, err
		}
		var ins Instruction
		switch f.Num {
		case 1:
			ins, err = decodeReconnectIns(f.Bytes)
		case 2:
			var cfg Scalars
			cfg, err = decodeScalarsField(f.Bytes, 1)
			ins = GetPropertiesIns{Config: cfg}
		case 3:
			var cfg Scalars
			cfg, err = decodeScalarsField(f.Bytes, 1)
			ins = GetParametersIns{Config: cfg}
		case 4:
			var p Parameters
			var cfg Scalars
			p, cfg, err = decodeParametersWithConfig(f.Bytes)
			ins = FitIns{Parameters: p, Config: cfg}
		case 5:
			var p Parameters
			var cfg Scalars
			p, cfg, err = decodeParametersWithConfig(f.Bytes)
			ins = EvaluateIns{Parameters: p, Config: cfg}
		case 6:
			ins, err = decodeDisconnectIns(f.Bytes)
		}
		if err != nil {
			return nil, err
		}
		msg.Instruction = ins
	}
	return msg, nil
}

// DecodeServerMessage is UnmarshalServerMessage for a receive loop: a message
// that does not decode yields MalformedIns instead of an error, so the caller
// can answer it and keep reading.
func DecodeServerMessage(b []byte) *ServerMessage {
	msg, err := UnmarshalServerMessage(b)
	if err == nil {
		return msg
	}
	var field int32
	if fields, perr := parseFields(b); perr == nil && len(fields) > 0 {
		field = int32(fields[len(fields)-1].Num)
	}
	return &ServerMessage{Instruction: MalformedIns{FieldNumber: field, Err: err}}
}

// UnmarshalClientMessage decodes a flwr.proto ClientMessage.
func UnmarshalClientMessage(b []byte) (*ClientMessage, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	msg := &ClientMessage{}
	for _, f := range fields {
		if f.Num < 1 || f.Num > 6 {
			return nil, fmt.Errorf("%w: field %d", ErrUnknownResponse, f.Num)
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return nil, err
		}
		res, err := decodeResponse(f.Num, f.Bytes)
		if err != nil {
			return nil, err
		}
		msg.Response = res
	}
	if msg.Response == nil {
		return nil, ErrMissingVariant
	}
	return msg, nil
}

func decodeResponse(num protowire.Number, b []byte) (Response, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	switch num {
	case 1:
		var res DisconnectRes
		for _, f := range fields {
			if f.Num == 1 {
				if err := f.expect(protowire.VarintType); err != nil {
					return nil, err
				}
				res.Reason = Reason(int32(f.Value))
			}
		}
		return res, nil
	case 2:
		var res GetPropertiesRes
		for _, f := range fields {
			switch f.Num {
			case 1:
				res.Status, err = decodeStatusField(f)
			case 2:
				err = decodeScalarEntry(f, &res.Properties)
			}
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	case 3:
		var res GetParametersRes
		for _, f := range fields {
			switch f.Num {
			case 1:
				res.Status, err = decodeStatusField(f)
			case 2:
				res.Parameters, err = decodeParametersField(f)
			}
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	case 4:
		var res FitRes
		for _, f := range fields {
			switch f.Num {
			case 1:
				res.Status, err = decodeStatusField(f)
			case 2:
				res.Parameters, err = decodeParametersField(f)
			case 3:
				if err = f.expect(protowire.VarintType); err == nil {
					res.NumExamples = int64(f.Value)
				}
			case 4:
				err = decodeScalarEntry(f, &res.Metrics)
			}
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	case 5:
		var res EvaluateRes
		for _, f := range fields {
			switch f.Num {
			case 1:
				res.Status, err = decodeStatusField(f)
			case 2:
				if err = f.expect(protowire.Fixed32Type); err == nil {
					res.Loss = math.Float32frombits(uint32(f.Value))
				}
			case 3:
				if err = f.expect(protowire.VarintType); err == nil {
					res.NumExamples = int64(f.Value)
				}
			case 4:
				err = decodeScalarEntry(f, &res.Metrics)
			}
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	default:
		var res ErrorRes
		for _, f := range fields {
			if f.Num == 1 {
				if res.Status, err = decodeStatusField(f); err != nil {
					return nil, err
				}
			}
		}
		return res, nil
	}
}

func decodeReconnectIns(b []byte) (ReconnectIns, error) {
	fields, err := parseFields(b)
	if err != nil {
		return ReconnectIns{}, err
	}
	var ins ReconnectIns
	for _, f := range fields {
		if f.Num == 1 {
			if err := f.expect(protowire.VarintType); err != nil {
				return ReconnectIns{}, err
			}
			ins.Seconds = int64(f.Value)
		}
	}
	return ins, nil
}

func decodeDisconnectIns(b []byte) (DisconnectIns, error) {
	fields, err := parseFields(b)
	if err != nil {
		return DisconnectIns{}, err
	}
	var ins DisconnectIns
	for _, f := range fields {
		if f.Num == 1 {
			if err := f.expect(protowire.VarintType); err != nil {
				return DisconnectIns{}, err
			}
			ins.Reason = Reason(int32(f.Value))
		}
	}
	return ins, nil
}

// decodeScalarsField collects the map stored at field num of message b.
func decodeScalarsField(b []byte, num protowire.Number) (Scalars, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var out Scalars
	for _, f := range fields {
		if f.Num != num {
			continue
		}
		if err := decodeScalarEntry(f, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeParametersWithConfig(b []byte) (Parameters, Scalars, error) {
	fields, err := parseFields(b)
	if err != nil {
		return Parameters{}, nil, err
	}
	var p Parameters
	var cfg Scalars
	for _, f := range fields {
		switch f.Num {
		case 1:
			p, err = decodeParametersField(f)
		case 2:
			err = decodeScalarEntry(f, &cfg)
		}
		if err != nil {
			return Parameters{}, nil, err
		}
	}
	return p, cfg, nil
}

func decodeStatusField(f wireField) (Status, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return Status{}, err
	}
	fields, err := parseFields(f.Bytes)
	if err != nil {
		return Status{}, err
	}
	var s Status
	for _, sf := range fields {
		switch sf.Num {
		case 1:
			if err := sf.expect(protowire.VarintType); err != nil {
				return Status{}, err
			}
			s.Code = Code(int32(sf.Value))
		case 2:
			if err := sf.expect(protowire.BytesType); err != nil {
				return Status{}, err
			}
			s.Message = string(sf.Bytes)
		}
	}
	return s, nil
}

func decodeParametersField(f wireField) (Parameters, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return Parameters{}, err
	}
	fields, err := parseFields(f.Bytes)
	if err != nil {
		return Parameters{}, err
	}
	var p Parameters
	for _, pf := range fields {
		if pf.Num != 1 && pf.Num != 2 {
			continue
		}
		if err := pf.expect(protowire.BytesType); err != nil {
			return Parameters{}, err
		}
		switch pf.Num {
		case 1:
			tensor := make([]byte, len(pf.Bytes))
			copy(tensor, pf.Bytes)
			p.Tensors = append(p.Tensors, tensor)
		case 2:
			p.TensorType = string(pf.Bytes)
		}
	}
	return p, nil
}

func decodeScalarEntry(f wireField, dst *Scalars) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	fields, err := parseFields(f.Bytes)
	if err != nil {
		return err
	}
	var key string
	var value Scalar
	for _, ef := range fields {
		switch ef.Num {
		case 1:
			if err := ef.expect(protowire.BytesType); err != nil {
				return err
			}
			key = string(ef.Bytes)
		case 2:
			if err := ef.expect(protowire.BytesType); err != nil {
				return err
			}
			if value, err = decodeScalar(ef.Bytes); err != nil {
				return err
			}
		}
	}
	if *dst == nil {
		*dst = Scalars{}
	}
	(*dst)[key] = value
	return nil
}

func decodeScalar(b []byte) (Scalar, error) {
	fields, err := parseFields(b)
	if err != nil {
		return Scalar{}, err
	}
	var s Scalar
	for _, f := range fields {
		var want protowire.Type
		switch ScalarKind(f.Num) {
		case ScalarDouble:
			want = protowire.Fixed64Type
		case ScalarSint64, ScalarBool:
			want = protowire.VarintType
		case ScalarString, ScalarBytes:
			want = protowire.BytesType
		default:
			continue
		}
		if err := f.expect(want); err != nil {
			return Scalar{}, err
		}
		switch ScalarKind(f.Num) {
		case ScalarDouble:
			s = NewDouble(math.Float64frombits(f.Value))
		case ScalarSint64:
			s = NewSint64(protowire.DecodeZigZag(f.Value))
		case ScalarBool:
			s = NewBool(protowire.DecodeBool(f.Value))
		case ScalarString:
			s = NewString(string(f.Bytes))
		case ScalarBytes:
			s = NewBytes(f.Bytes)
		}
	}
	return s, nil
}

// wireField is one decoded tag/value pair. Value holds varint and fixed
// payloads; Bytes aliases the input for length-delimited payloads.
type wireField struct {
	Num   protowire.Number
	Type  protowire.Type
	Value uint64
	Bytes []byte
}

func (f wireField) expect(t protowire.Type) error {
	if f.Type != t {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrWireTypeMismatch, f.Num, f.Type, t)
	}
	return nil
}

func parseFields(b []byte) ([]wireField, error) {
	if len(b) == 0 {
		return nil, nil
	}
	fields := make([]wireField, 0, 4)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireErr(n)
		}
		b = b[n:]
		f := wireField{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.Value = uint64(v)
		case protowire.Fixed64Type:
			f.Value, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, wireErr(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
