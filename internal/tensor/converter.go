package tensor

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ShapePolicy controls what shape is handed to the backend on encode.
type ShapePolicy int

const (
	// ShapeExact keeps every dimension.
	ShapeExact ShapePolicy = iota
	// ShapeSqueeze drops every dimension of size 1 before encoding, matching
	// the legacy mobile client. It changes tensor rank.
	ShapeSqueeze
)

func (p ShapePolicy) String() string {
	switch p {
	case ShapeSqueeze:
		return "squeeze"
	default:
		return "exact"
	}
}

func ParseShapePolicy(raw string) (ShapePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "exact":
		return ShapeExact, nil
	case "squeeze", "legacy":
		return ShapeSqueeze, nil
	default:
		return ShapeExact, fmt.Errorf("tensor: unknown shape policy %q", raw)
	}
}

// Squeeze returns shape without its size-1 dimensions.
func Squeeze(shape []int) []int {
	out := make([]int, 0, len(shape))
	for _, d := range shape {
		if d != 1 {
			out = append(out, d)
		}
	}
	return out
}

// Converter is the process-wide codec instance. It owns its backend and
// runs one codec operation at a time.
type Converter struct {
	backend Backend
	policy  ShapePolicy
	mu      sync.Mutex
}

func NewConverter(backend Backend, policy ShapePolicy) *Converter {
	if backend == nil {
		backend = NPY{}
	}
	return &Converter{backend: backend, policy: policy}
}

func (c *Converter) TensorType() string {
	return c.backend.TensorType()
}

func (c *Converter) Policy() ShapePolicy {
	return c.policy
}

func (c *Converter) Encode(b Buffer) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encode(b)
}

func (c *Converter) Decode(data []byte) (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Decode(data)
}

// EncodeAll encodes buffers in order.
func (c *Converter) EncodeAll(bufs []Buffer) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, 0, len(bufs))
	for i, b := range bufs {
		payload, err := c.encode(b)
		if err != nil {
			return nil, codecErr(fmt.Sprintf("encode[%d]", i), err)
		}
		out = append(out, payload)
	}
	return out, nil
}

// DecodeAll decodes payloads in order. An empty tensorType is accepted;
// anything else must match the backend.
func (c *Converter) DecodeAll(tensorType string, payloads [][]byte) ([]Buffer, error) {
	if tensorType != "" && tensorType != c.backend.TensorType() {
		return nil, &CodecError{
			Op:  "decode",
			Err: fmt.Errorf("%w: got %q, backend speaks %q", ErrTensorTypeMismatch, tensorType, c.backend.TensorType()),
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Buffer, 0, len(payloads))
	for i, p := range payloads {
		b, err := c.backend.Decode(p)
		if err != nil {
			return nil, codecErr(fmt.Sprintf("decode[%d]", i), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Close releases the backend if it holds resources.
func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Converter) encode(b Buffer) ([]byte, error) {
	if c.policy == ShapeSqueeze {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		b = Buffer{Shape: Squeeze(b.Shape), Data: b.Data}
	}
	return c.backend.Encode(b)
}
