package tensor

import (
	"fmt"
	"math"
	"slices"
)

// ElementSize is the byte width of one float32 element.
const ElementSize = 4

// Buffer is a contiguous row-major float32 tensor with an explicit shape.
// An empty Shape denotes a scalar holding exactly one element.
type Buffer struct {
	Shape []int
	Data  []float32
}

// NewBuffer returns a validated buffer. Data is not copied.
func NewBuffer(shape []int, data []float32) (Buffer, error) {
	b := Buffer{Shape: shape, Data: data}
	if err := b.Validate(); err != nil {
		return Buffer{}, err
	}
	return b, nil
}

// Zeros allocates a zero-filled buffer of the given shape.
func Zeros(shape ...int) (Buffer, error) {
	n, err := elementCount(shape)
	if err != nil {
		return Buffer{}, &CodecError{Op: "zeros", Err: err}
	}
	return Buffer{Shape: slices.Clone(shape), Data: make([]float32, n)}, nil
}

// NumElements is the product of all dimensions.
func (b Buffer) NumElements() int {
	n, _ := elementCount(b.Shape)
	return n
}

// ByteLen is the raw payload size of the buffer.
func (b Buffer) ByteLen() int {
	return len(b.Data) * ElementSize
}

// Validate enforces byte length == product(shape) * element size.
func (b Buffer) Validate() error {
	n, err := elementCount(b.Shape)
	if err != nil {
		return &CodecError{Op: "validate", Err: err}
	}
	if n != len(b.Data) {
		return &CodecError{
			Op:  "validate",
			Err: fmt.Errorf("%w: shape %v wants %d elements, buffer holds %d", ErrLengthMismatch, b.Shape, n, len(b.Data)),
		}
	}
	return nil
}

// Clone deep-copies shape and data.
func (b Buffer) Clone() Buffer {
	return Buffer{Shape: slices.Clone(b.Shape), Data: slices.Clone(b.Data)}
}

// Reshape returns a view of the same data under another shape with the same element count.
func (b Buffer) Reshape(shape ...int) (Buffer, error) {
	out := Buffer{Shape: slices.Clone(shape), Data: b.Data}
	if err := out.Validate(); err != nil {
		return Buffer{}, err
	}
	return out, nil
}

// elementCount multiplies out shape. The product is bounded so that its byte
// length still fits in an int.
func elementCount(shape []int) (int, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: dimension %d is negative (%d)", ErrInvalidShape, i, d)
		}
		if d > 0 && n > math.MaxInt/ElementSize/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrInvalidShape, shape)
		}
		n *= d
	}
	return n, nil
}
