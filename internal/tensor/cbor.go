package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// TensorTypeCBOR tags payloads encoded as RFC 8746 multi-dimensional arrays.
const TensorTypeCBOR = "cbor.rfc8746"

// RFC 8746 tag numbers.
const (
	tagMultiDimRowMajor uint64 = 40
	tagFloat32BE        uint64 = 81
	tagFloat32LE        uint64 = 85
)

type cborMultiDim struct {
	_    struct{} `cbor:",toarray"`
	Dims []uint64
	Data cbor.RawTag
}

type cborMultiDimOut struct {
	_    struct{} `cbor:",toarray"`
	Dims []uint64
	Data cbor.Tag
}

// CBOR encodes a buffer as tag 40 [dims, tag 85 float32le typed array].
type CBOR struct{}

func (CBOR) TensorType() string {
	return TensorTypeCBOR
}

func (CBOR) Encode(b Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	dims := make([]uint64, len(b.Shape))
	for i, d := range b.Shape {
		dims[i] = uint64(d)
	}
	raw := make([]byte, 0, b.ByteLen())
	for _, v := range b.Data {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	out, err := cbor.Marshal(cbor.Tag{
		Number:  tagMultiDimRowMajor,
		Content: cborMultiDimOut{Dims: dims, Data: cbor.Tag{Number: tagFloat32LE, Content: raw}},
	})
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return out, nil
}

func (CBOR) Decode(data []byte) (Buffer, error) {
	var outer cbor.RawTag
	if err := cbor.Unmarshal(data, &outer); err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrInvalidHeader, err)}
	}
	if outer.Number != tagMultiDimRowMajor {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: outer tag %d", ErrInvalidHeader, outer.Number)}
	}
	var arr cborMultiDim
	if err := cbor.Unmarshal(outer.Content, &arr); err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrShapeMissing, err)}
	}

	var order binary.ByteOrder
	switch arr.Data.Number {
	case tagFloat32LE:
		order = binary.LittleEndian
	case tagFloat32BE:
		order = binary.BigEndian
	default:
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: typed array tag %d", ErrUnsupportedDType, arr.Data.Number)}
	}
	var raw []byte
	if err := cbor.Unmarshal(arr.Data.Content, &raw); err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrInvalidHeader, err)}
	}

	shape := make([]int, len(arr.Dims))
	for i, d := range arr.Dims {
		if d > math.MaxInt32 {
			return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: dimension %d", ErrInvalidShape, d)}
		}
		shape[i] = int(d)
	}
	n, err := elementCount(shape)
	if err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: err}
	}
	if len(raw) != n*ElementSize {
		return Buffer{}, &CodecError{
			Op:  "decode",
			Err: fmt.Errorf("%w: shape %v declares %d bytes, payload has %d", ErrLengthMismatch, shape, n*ElementSize, len(raw)),
		}
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(order.Uint32(raw[i*ElementSize:]))
	}
	return Buffer{Shape: shape, Data: values}, nil
}
