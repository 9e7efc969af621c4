package tensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/flwrctl/internal/testutil/testlog"
)

var roundTripShapes = [][]int{
	{},
	{0},
	{1},
	{5},
	{1, 3, 1},
	{2, 0, 3},
	{2, 3, 4},
	{1, 1},
}

func fill(shape []int) Buffer {
	n, _ := elementCount(shape)
	data := make([]float32, n)
	for i := range data {
		switch i % 4 {
		case 0:
			data[i] = float32(i) * 0.5
		case 1:
			data[i] = -float32(i) * 1.25
		case 2:
			data[i] = math.MaxFloat32
		default:
			data[i] = math.SmallestNonzeroFloat32
		}
	}
	return Buffer{Shape: append([]int{}, shape...), Data: data}
}

func backendsUnderTest(t *testing.T) map[string]Backend {
	t.Helper()
	scratch, err := NewScratchFile(filepath.Join(t.TempDir(), DefaultScratchName), NPY{})
	if err != nil {
		t.Fatalf("new scratch: %v", err)
	}
	t.Cleanup(func() { _ = scratch.Close() })
	return map[string]Backend{
		BackendNPY:        NPY{},
		BackendNPYScratch: scratch,
		BackendCBOR:       CBOR{},
	}
}

func TestRoundTripExactShape(t *testing.T) {
	testlog.Start(t)
	for name, backend := range backendsUnderTest(t) {
		conv := NewConverter(backend, ShapeExact)
		for _, shape := range roundTripShapes {
			in := fill(shape)
			payload, err := conv.Encode(in)
			if err != nil {
				t.Fatalf("%s encode shape=%v: %v", name, shape, err)
			}
			out, err := conv.Decode(payload)
			if err != nil {
				t.Fatalf("%s decode shape=%v: %v", name, shape, err)
			}
			if !reflect.DeepEqual(out.Shape, in.Shape) {
				t.Fatalf("%s shape mismatch got=%v want=%v", name, out.Shape, in.Shape)
			}
			if len(out.Data) != len(in.Data) {
				t.Fatalf("%s length mismatch got=%d want=%d", name, len(out.Data), len(in.Data))
			}
			for i := range in.Data {
				if math.Float32bits(out.Data[i]) != math.Float32bits(in.Data[i]) {
					t.Fatalf("%s element %d mismatch got=%v want=%v", name, i, out.Data[i], in.Data[i])
				}
			}
		}
	}
}

func TestRoundTripSqueezeShape(t *testing.T) {
	testlog.Start(t)
	for name, backend := range backendsUnderTest(t) {
		conv := NewConverter(backend, ShapeSqueeze)
		for _, shape := range roundTripShapes {
			in := fill(shape)
			payload, err := conv.Encode(in)
			if err != nil {
				t.Fatalf("%s encode shape=%v: %v", name, shape, err)
			}
			out, err := conv.Decode(payload)
			if err != nil {
				t.Fatalf("%s decode shape=%v: %v", name, shape, err)
			}
			if want := Squeeze(shape); !reflect.DeepEqual(out.Shape, want) {
				t.Fatalf("%s squeezed shape got=%v want=%v", name, out.Shape, want)
			}
			if !reflect.DeepEqual(out.Data, in.Data) && len(in.Data) > 0 {
				t.Fatalf("%s values changed under squeeze", name)
			}
		}
	}
}

// Regression baseline for a [1,3,1] buffer under both policies.
func TestSingletonDimensionBaseline(t *testing.T) {
	testlog.Start(t)
	in := Buffer{Shape: []int{1, 3, 1}, Data: []float32{1, 2, 3}}

	exact := NewConverter(NPY{}, ShapeExact)
	payload, err := exact.Encode(in)
	if err != nil {
		t.Fatalf("encode exact: %v", err)
	}
	out, err := exact.Decode(payload)
	if err != nil {
		t.Fatalf("decode exact: %v", err)
	}
	if !reflect.DeepEqual(out.Shape, []int{1, 3, 1}) {
		t.Fatalf("exact policy shape=%v", out.Shape)
	}

	legacy := NewConverter(NPY{}, ShapeSqueeze)
	payload, err = legacy.Encode(in)
	if err != nil {
		t.Fatalf("encode squeeze: %v", err)
	}
	out, err = legacy.Decode(payload)
	if err != nil {
		t.Fatalf("decode squeeze: %v", err)
	}
	if !reflect.DeepEqual(out.Shape, []int{3}) {
		t.Fatalf("squeeze policy shape=%v", out.Shape)
	}
	if !reflect.DeepEqual(out.Data, []float32{1, 2, 3}) {
		t.Fatalf("squeeze policy data=%v", out.Data)
	}
}

func TestNPYHeaderLayout(t *testing.T) {
	testlog.Start(t)
	payload, err := NPY{}.Encode(Buffer{Shape: []int{3}, Data: []float32{1, 2, 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("\x93NUMPY\x01\x00")) {
		t.Fatalf("unexpected preamble: %q", payload[:8])
	}
	headerLen := int(binary.LittleEndian.Uint16(payload[8:10]))
	if (10+headerLen)%64 != 0 {
		t.Fatalf("header not 64-byte aligned: total=%d", 10+headerLen)
	}
	header := string(payload[10 : 10+headerLen])
	if !strings.HasPrefix(header, "{'descr': '<f4', 'fortran_order': False, 'shape': (3,), }") {
		t.Fatalf("unexpected header: %q", header)
	}
	if !strings.HasSuffix(header, "\n") {
		t.Fatalf("header must end with newline")
	}
	if got := len(payload) - 10 - headerLen; got != 12 {
		t.Fatalf("unexpected data length: %d", got)
	}
}

func npyWithHeader(dict string, data []byte) []byte {
	header := dict + "\n"
	out := append([]byte("\x93NUMPY\x01\x00"), 0, 0)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(header)))
	out = append(out, header...)
	return append(out, data...)
}

func TestNPYDecodeBigEndian(t *testing.T) {
	testlog.Start(t)
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], math.Float32bits(1.5))
	binary.BigEndian.PutUint32(data[4:8], math.Float32bits(-2))
	got, err := NPY{}.Decode(npyWithHeader("{'descr': '>f4', 'fortran_order': False, 'shape': (2, 1), }", data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got.Shape, []int{2, 1}) || !reflect.DeepEqual(got.Data, []float32{1.5, -2}) {
		t.Fatalf("unexpected buffer: %+v", got)
	}
}

func TestNPYDecodeFailures(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"no magic", []byte("not an array at all"), ErrInvalidHeader},
		{"float64", npyWithHeader("{'descr': '<f8', 'fortran_order': False, 'shape': (1,), }", make([]byte, 8)), ErrUnsupportedDType},
		{"no shape", npyWithHeader("{'descr': '<f4', 'fortran_order': False, }", make([]byte, 4)), ErrShapeMissing},
		{"short data", npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (3,), }", make([]byte, 8)), ErrLengthMismatch},
		{"long data", npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (1,), }", make([]byte, 8)), ErrLengthMismatch},
		{"product wraps to zero", npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (4294967296, 4294967296), }", nil), ErrInvalidShape},
		{"byte length wraps", npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (4611686018427387904,), }", nil), ErrInvalidShape},
	}
	for _, tc := range cases {
		_, err := NPY{}.Decode(tc.payload)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		var ce *CodecError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: expected CodecError, got %T", tc.name, err)
		}
	}
}

func TestCBORRejectsUnsupportedTypedArray(t *testing.T) {
	testlog.Start(t)
	// tag 40 [[1], tag 86 h'0000000000000000'] (float64 little-endian)
	payload := []byte{0xd8, 0x28, 0x82, 0x81, 0x01, 0xd8, 0x56, 0x48, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := CBOR{}.Decode(payload)
	if !errors.Is(err, ErrUnsupportedDType) {
		t.Fatalf("expected ErrUnsupportedDType, got %v", err)
	}
}

func TestCBORRejectsOverflowingDims(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		dims []byte
	}{
		// [65536, 65536, 65536, 65536]
		{"product wraps to zero", []byte{0x84,
			0x1a, 0x00, 0x01, 0x00, 0x00, 0x1a, 0x00, 0x01, 0x00, 0x00,
			0x1a, 0x00, 0x01, 0x00, 0x00, 0x1a, 0x00, 0x01, 0x00, 0x00}},
		// [1073741824, 1073741824, 4]
		{"byte length wraps", []byte{0x83, 0x1a, 0x40, 0x00, 0x00, 0x00, 0x1a, 0x40, 0x00, 0x00, 0x00, 0x04}},
	}
	for _, tc := range cases {
		// tag 40 [dims, tag 85 h'']
		payload := append([]byte{0xd8, 0x28, 0x82}, tc.dims...)
		payload = append(payload, 0xd8, 0x55, 0x40)
		_, err := CBOR{}.Decode(payload)
		if !errors.Is(err, ErrInvalidShape) {
			t.Fatalf("%s: expected ErrInvalidShape, got %v", tc.name, err)
		}
	}
}

func TestNewBufferRejectsOverflowingShape(t *testing.T) {
	testlog.Start(t)
	_, err := NewBuffer([]int{math.MaxInt / 2, 3}, nil)
	if !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestEncodeRejectsInconsistentBuffer(t *testing.T) {
	testlog.Start(t)
	conv := NewConverter(NPY{}, ShapeExact)
	_, err := conv.Encode(Buffer{Shape: []int{2, 2}, Data: []float32{1, 2, 3}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDecodeAllPreservesOrderAndChecksType(t *testing.T) {
	testlog.Start(t)
	conv := NewConverter(NPY{}, ShapeExact)
	bufs := []Buffer{
		{Shape: []int{1}, Data: []float32{1}},
		{Shape: []int{2}, Data: []float32{2, 3}},
		{Shape: []int{3}, Data: []float32{4, 5, 6}},
	}
	payloads, err := conv.EncodeAll(bufs)
	if err != nil {
		t.Fatalf("encode all: %v", err)
	}
	got, err := conv.DecodeAll(TensorTypeNumPy, payloads)
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	for i := range bufs {
		if !reflect.DeepEqual(got[i].Data, bufs[i].Data) {
			t.Fatalf("tensor %d out of order: %v", i, got[i].Data)
		}
	}
	if _, err := conv.DecodeAll(TensorTypeCBOR, payloads); !errors.Is(err, ErrTensorTypeMismatch) {
		t.Fatalf("expected ErrTensorTypeMismatch, got %v", err)
	}
}

func TestScratchFileSerializesAndCleansUp(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "scratch", DefaultScratchName)
	scratch, err := NewScratchFile(path, NPY{})
	if err != nil {
		t.Fatalf("new scratch: %v", err)
	}
	conv := NewConverter(scratch, ShapeExact)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := Buffer{Shape: []int{i + 1}, Data: make([]float32, i+1)}
			for j := range in.Data {
				in.Data[j] = float32(i)
			}
			payload, err := conv.Encode(in)
			if err != nil {
				errs <- err
				return
			}
			out, err := conv.Decode(payload)
			if err != nil {
				errs <- err
				return
			}
			if !reflect.DeepEqual(out.Data, in.Data) {
				errs <- errors.New("interleaved scratch use corrupted a payload")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent scratch: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected scratch file to exist between uses: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected scratch file removed, stat err=%v", err)
	}
	if _, err := conv.Encode(Buffer{Shape: []int{1}, Data: []float32{1}}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable after close, got %v", err)
	}
}

func TestNewBackendByName(t *testing.T) {
	testlog.Start(t)
	for _, name := range []string{"", BackendNPY, BackendCBOR} {
		if _, err := NewBackend(name, ""); err != nil {
			t.Fatalf("backend %q: %v", name, err)
		}
	}
	b, err := NewBackend(BackendNPYScratch, filepath.Join(t.TempDir(), "x.npy"))
	if err != nil {
		t.Fatalf("scratch backend: %v", err)
	}
	if b.TensorType() != TensorTypeNumPy {
		t.Fatalf("scratch tensor type=%q", b.TensorType())
	}
	if _, err := NewBackend("pickle", ""); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
