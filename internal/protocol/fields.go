package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// ScalarKind is the populated oneof member of a Scalar. Values are the
// flwr.proto field numbers.
type ScalarKind uint8

const (
	ScalarUnset  ScalarKind = 0
	ScalarDouble ScalarKind = 1
	ScalarSint64 ScalarKind = 8
	ScalarBool   ScalarKind = 13
	ScalarString ScalarKind = 14
	ScalarBytes  ScalarKind = 15
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarDouble:
		return "double"
	case ScalarSint64:
		return "sint64"
	case ScalarBool:
		return "bool"
	case ScalarString:
		return "string"
	case ScalarBytes:
		return "bytes"
	default:
		return "unset"
	}
}

// Scalar is one config/metric value.
type Scalar struct {
	Kind ScalarKind
	num  float64
	i    int64
	b    bool
	s    string
	raw  []byte
}

// NewDouble creates a double scalar.
func NewDouble(v float64) Scalar {
	return Scalar{Kind: ScalarDouble, num: v}
}

// NewSint64 creates an integer scalar.
func NewSint64(v int64) Scalar {
	return Scalar{Kind: ScalarSint64, i: v}
}

// NewBool creates a bool scalar.
func NewBool(v bool) Scalar {
	return Scalar{Kind: ScalarBool, b: v}
}

// NewString creates a string scalar.
func NewString(v string) Scalar {
	return Scalar{Kind: ScalarString, s: v}
}

// NewBytes creates a bytes scalar. v is copied.
func NewBytes(v []byte) Scalar {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Scalar{Kind: ScalarBytes, raw: buf}
}

func (s Scalar) Double() (float64, error) {
	if s.Kind != ScalarDouble {
		return 0, fmt.Errorf("%w: want double, have %s", ErrFieldTypeMismatch, s.Kind)
	}
	return s.num, nil
}

func (s Scalar) Sint64() (int64, error) {
	if s.Kind != ScalarSint64 {
		return 0, fmt.Errorf("%w: want sint64, have %s", ErrFieldTypeMismatch, s.Kind)
	}
	return s.i, nil
}

func (s Scalar) Bool() (bool, error) {
	if s.Kind != ScalarBool {
		return false, fmt.Errorf("%w: want bool, have %s", ErrFieldTypeMismatch, s.Kind)
	}
	return s.b, nil
}

func (s Scalar) Str() (string, error) {
	if s.Kind != ScalarString {
		return "", fmt.Errorf("%w: want string, have %s", ErrFieldTypeMismatch, s.Kind)
	}
	return s.s, nil
}

// Bytes returns a copy of the value.
func (s Scalar) Bytes() ([]byte, error) {
	if s.Kind != ScalarBytes {
		return nil, fmt.Errorf("%w: want bytes, have %s", ErrFieldTypeMismatch, s.Kind)
	}
	buf := make([]byte, len(s.raw))
	copy(buf, s.raw)
	return buf, nil
}

// Int64 reads a sint64, or a double with no fractional part. Servers written
// in Python often send whole numbers as doubles.
func (s Scalar) Int64() (int64, error) {
	switch s.Kind {
	case ScalarSint64:
		return s.i, nil
	case ScalarDouble:
		if s.num == math.Trunc(s.num) && !math.IsInf(s.num, 0) {
			return int64(s.num), nil
		}
		return 0, fmt.Errorf("%w: double %v is not integral", ErrFieldTypeMismatch, s.num)
	case ScalarString:
		v, err := strconv.ParseInt(s.s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: want integer, have %s", ErrFieldTypeMismatch, s.Kind)
	}
}

func (s Scalar) Equal(o Scalar) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case ScalarDouble:
		return math.Float64bits(s.num) == math.Float64bits(o.num)
	case ScalarSint64:
		return s.i == o.i
	case ScalarBool:
		return s.b == o.b
	case ScalarString:
		return s.s == o.s
	case ScalarBytes:
		return bytes.Equal(s.raw, o.raw)
	default:
		return true
	}
}

func (s Scalar) String() string {
	switch s.Kind {
	case ScalarDouble:
		return strconv.FormatFloat(s.num, 'g', -1, 64)
	case ScalarSint64:
		return strconv.FormatInt(s.i, 10)
	case ScalarBool:
		return strconv.FormatBool(s.b)
	case ScalarString:
		return s.s
	case ScalarBytes:
		return fmt.Sprintf("bytes[%d]", len(s.raw))
	default:
		return "<unset>"
	}
}

// Equal reports whether both maps hold the same keys and values.
func (m Scalars) Equal(o Scalars) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
