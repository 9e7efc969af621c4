package tensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TensorTypeNumPy tags payloads in the NumPy .npy format.
const TensorTypeNumPy = "numpy.ndarray"

const (
	npyAlign       = 64
	npyDescrLE     = "<f4"
	npyDescrBE     = ">f4"
	npyV1MaxHeader = math.MaxUint16
)

var npyMagic = []byte("\x93NUMPY")

// NPY encodes buffers in the NumPy .npy format in memory. Output is always
// format 1.0 (2.0 when the header outgrows a uint16), little-endian float32,
// C order, so numpy.load reads it directly.
type NPY struct{}

func (NPY) TensorType() string {
	return TensorTypeNumPy
}

func (NPY) Encode(b Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", npyDescrLE, shapeTuple(b.Shape))
	major := byte(1)
	preamble := len(npyMagic) + 2 + 2
	if len(dict)+1+npyAlign > npyV1MaxHeader {
		major = 2
		preamble = len(npyMagic) + 2 + 4
	}
	pad := npyAlign - (preamble+len(dict)+1)%npyAlign
	if pad == npyAlign {
		pad = 0
	}
	headerLen := len(dict) + pad + 1

	out := make([]byte, 0, preamble+headerLen+b.ByteLen())
	out = append(out, npyMagic...)
	out = append(out, major, 0)
	if major == 1 {
		out = binary.LittleEndian.AppendUint16(out, uint16(headerLen))
	} else {
		out = binary.LittleEndian.AppendUint32(out, uint32(headerLen))
	}
	out = append(out, dict...)
	out = append(out, bytes.Repeat([]byte{' '}, pad)...)
	out = append(out, '\n')
	for _, v := range b.Data {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out, nil
}

func (NPY) Decode(data []byte) (Buffer, error) {
	if len(data) < len(npyMagic)+4 || !bytes.HasPrefix(data, npyMagic) {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: missing npy magic", ErrInvalidHeader)}
	}

	var headerLen, start int
	switch major := data[6]; major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		start = 10
	case 2, 3:
		if len(data) < 12 {
			return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: truncated preamble", ErrInvalidHeader)}
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		start = 12
	default:
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: npy format version %d", ErrInvalidHeader, major)}
	}
	if headerLen < 0 || start+headerLen > len(data) {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: header length %d exceeds payload", ErrInvalidHeader, headerLen)}
	}
	header := string(data[start : start+headerLen])

	descr, ok := npyField(header, "descr")
	if !ok {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: missing descr", ErrUnsupportedDType)}
	}
	var order binary.ByteOrder
	switch strings.Trim(descr, `'"`) {
	case npyDescrLE:
		order = binary.LittleEndian
	case npyDescrBE:
		order = binary.BigEndian
	default:
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %s", ErrUnsupportedDType, descr)}
	}

	rawShape, ok := npyField(header, "shape")
	if !ok {
		return Buffer{}, &CodecError{Op: "decode", Err: ErrShapeMissing}
	}
	shape, err := parseShapeTuple(rawShape)
	if err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: err}
	}

	if fortran, ok := npyField(header, "fortran_order"); ok && fortran == "True" && nonSingletonDims(shape) > 1 {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: fortran order", ErrInvalidHeader)}
	}

	payload := data[start+headerLen:]
	n, err := elementCount(shape)
	if err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: err}
	}
	if len(payload) != n*ElementSize {
		return Buffer{}, &CodecError{
			Op:  "decode",
			Err: fmt.Errorf("%w: shape %v declares %d bytes, payload has %d", ErrLengthMismatch, shape, n*ElementSize, len(payload)),
		}
	}

	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(order.Uint32(payload[i*ElementSize:]))
	}
	return Buffer{Shape: shape, Data: values}, nil
}

func shapeTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.Itoa(shape[0]) + ",)"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func parseShapeTuple(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return nil, fmt.Errorf("%w: shape %q is not a tuple", ErrShapeMissing, raw)
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	shape := []int{}
	if inner == "" {
		return shape, nil
	}
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSuffix(strings.TrimSpace(part), "L")
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: dimension %q", ErrInvalidShape, part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// npyField pulls one value out of the python dict literal in an npy header.
func npyField(header, key string) (string, bool) {
	idx := strings.Index(header, "'"+key+"'")
	if idx < 0 {
		idx = strings.Index(header, `"`+key+`"`)
	}
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(header[idx+len(key)+2:], " ")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimLeft(rest[1:], " ")
	if rest == "" {
		return "", false
	}
	switch rest[0] {
	case '(':
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", false
		}
		return rest[:end+1], true
	case '\'', '"':
		end := strings.IndexByte(rest[1:], rest[0])
		if end < 0 {
			return "", false
		}
		return rest[:end+2], true
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

func nonSingletonDims(shape []int) int {
	n := 0
	for _, d := range shape {
		if d > 1 {
			n++
		}
	}
	return n
}
