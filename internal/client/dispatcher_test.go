package client

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
	"github.com/danmuck/flwrctl/internal/testutil/testlog"
)

type scripted struct {
	Base
	params    []tensor.Buffer
	fitSeen   FitIns
	fitResult FitRes
	evalErr   error
	panicFit  bool
}

func (s *scripted) GetParameters(context.Context, ParametersIns) (ParametersRes, error) {
	return ParametersRes{Parameters: s.params}, nil
}

func (s *scripted) Fit(_ context.Context, ins FitIns) (FitRes, error) {
	if s.panicFit {
		panic("weights exploded")
	}
	s.fitSeen = ins
	return s.fitResult, nil
}

func (s *scripted) Evaluate(context.Context, EvaluateIns) (EvaluateRes, error) {
	if s.evalErr != nil {
		return EvaluateRes{}, s.evalErr
	}
	return EvaluateRes{Loss: 0.125, NumExamples: 3}, nil
}

func newDispatcher() (*Dispatcher, *tensor.Converter) {
	codec := tensor.NewConverter(tensor.NPY{}, tensor.ShapeExact)
	return NewDispatcher(codec), codec
}

func TestScenarioGetParameters(t *testing.T) {
	testlog.Start(t)
	d, codec := newDispatcher()
	a := tensor.Buffer{Shape: []int{2}, Data: []float32{1, 2}}
	capability := &scripted{params: []tensor.Buffer{a}}

	out := d.Dispatch(context.Background(), protocol.GetParametersIns{}, capability)
	if !out.Continue || out.Reconnect {
		t.Fatalf("unexpected continuation: %+v", out)
	}
	res, ok := out.Response.(protocol.GetParametersRes)
	if !ok {
		t.Fatalf("expected GetParametersRes, got %T", out.Response)
	}
	if !res.Status.OK() {
		t.Fatalf("expected OK status, got %+v", res.Status)
	}
	want, err := codec.Encode(a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(res.Parameters.Tensors) != 1 || !reflect.DeepEqual(res.Parameters.Tensors[0], want) {
		t.Fatalf("unexpected tensors: %v", res.Parameters.Tensors)
	}
	if res.Parameters.TensorType != tensor.TensorTypeNumPy {
		t.Fatalf("tensor type=%q", res.Parameters.TensorType)
	}
}

func TestScenarioFit(t *testing.T) {
	testlog.Start(t)
	d, codec := newDispatcher()
	in := tensor.Buffer{Shape: []int{3}, Data: []float32{1, 2, 3}}
	updated := tensor.Buffer{Shape: []int{3}, Data: []float32{4, 5, 6}}
	payload, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	capability := &scripted{fitResult: FitRes{
		Parameters:  []tensor.Buffer{updated},
		NumExamples: 100,
		Metrics:     protocol.Scalars{"loss": protocol.NewString("0.5")},
	}}

	out := d.Dispatch(context.Background(), protocol.FitIns{
		Parameters: protocol.Parameters{Tensors: [][]byte{payload}, TensorType: tensor.TensorTypeNumPy},
		Config:     protocol.Scalars{"epochs": protocol.NewString("1")},
	}, capability)

	if !out.Continue {
		t.Fatalf("fit must continue")
	}
	res, ok := out.Response.(protocol.FitRes)
	if !ok {
		t.Fatalf("expected FitRes, got %T", out.Response)
	}
	if !res.Status.OK() || res.NumExamples != 100 {
		t.Fatalf("unexpected fit result: %+v", res)
	}
	if !res.Metrics.Equal(protocol.Scalars{"loss": protocol.NewString("0.5")}) {
		t.Fatalf("unexpected metrics: %v", res.Metrics)
	}
	got, err := codec.DecodeAll(res.Parameters.TensorType, res.Parameters.Tensors)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0].Data, updated.Data) {
		t.Fatalf("unexpected updated parameters: %+v", got)
	}
	if len(capability.fitSeen.Parameters) != 1 || !reflect.DeepEqual(capability.fitSeen.Parameters[0].Data, in.Data) {
		t.Fatalf("capability saw wrong parameters: %+v", capability.fitSeen.Parameters)
	}
	if v, _ := capability.fitSeen.Config["epochs"].Str(); v != "1" {
		t.Fatalf("capability saw wrong config: %v", capability.fitSeen.Config)
	}
}

func TestScenarioDisconnect(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	out := d.Dispatch(context.Background(), protocol.DisconnectIns{Reason: protocol.ReasonReconnect}, &scripted{})
	if out.Continue {
		t.Fatalf("disconnect must stop the stream")
	}
	res, ok := out.Response.(protocol.DisconnectRes)
	if !ok || res.Reason != protocol.ReasonReconnect {
		t.Fatalf("unexpected response %#v", out.Response)
	}

	out = d.Dispatch(context.Background(), protocol.DisconnectIns{}, &scripted{})
	if res := out.Response.(protocol.DisconnectRes); res.Reason != protocol.ReasonAck {
		t.Fatalf("unset reason should default to ACK, got %v", res.Reason)
	}
}

func TestDispatchTotality(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	cases := []struct {
		ins      protocol.Instruction
		want     protocol.Response
		keepOpen bool
	}{
		{protocol.GetPropertiesIns{}, protocol.GetPropertiesRes{}, true},
		{protocol.GetParametersIns{}, protocol.GetParametersRes{}, true},
		{protocol.FitIns{}, protocol.FitRes{}, true},
		{protocol.EvaluateIns{}, protocol.EvaluateRes{}, true},
		{protocol.ReconnectIns{Seconds: 1}, protocol.DisconnectRes{}, true},
		{protocol.DisconnectIns{}, protocol.DisconnectRes{}, false},
		{protocol.UnknownIns{FieldNumber: 42}, protocol.ErrorRes{}, true},
		{protocol.UnknownIns{}, protocol.ErrorRes{}, true},
		{protocol.MalformedIns{FieldNumber: 4, Err: protocol.ErrWireTypeMismatch}, protocol.ErrorRes{}, true},
		{nil, protocol.ErrorRes{}, true},
	}
	for _, tc := range cases {
		out := d.Dispatch(context.Background(), tc.ins, Base{})
		if reflect.TypeOf(out.Response) != reflect.TypeOf(tc.want) {
			t.Fatalf("%T: got response %T want %T", tc.ins, out.Response, tc.want)
		}
		if out.Continue != tc.keepOpen {
			t.Fatalf("%T: continue=%v want %v", tc.ins, out.Continue, tc.keepOpen)
		}
	}
}

func TestBaseReportsNotImplemented(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	cases := []struct {
		ins  protocol.Instruction
		want protocol.Code
	}{
		{protocol.GetPropertiesIns{}, protocol.CodeGetPropertiesNotImplemented},
		{protocol.GetParametersIns{}, protocol.CodeGetParametersNotImplemented},
		{protocol.FitIns{}, protocol.CodeFitNotImplemented},
		{protocol.EvaluateIns{}, protocol.CodeEvaluateNotImplemented},
	}
	for _, tc := range cases {
		out := d.Dispatch(context.Background(), tc.ins, Base{})
		if got := protocol.ResponseStatus(out.Response).Code; got != tc.want {
			t.Fatalf("%T: code=%v want %v", tc.ins, got, tc.want)
		}
	}
}

func TestCapabilityFailureKeepsStream(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()

	out := d.Dispatch(context.Background(), protocol.EvaluateIns{}, &scripted{evalErr: errors.New("no data")})
	res := out.Response.(protocol.EvaluateRes)
	if !out.Continue || res.Status.Code != protocol.CodeApplicationError || !strings.Contains(res.Status.Message, "no data") {
		t.Fatalf("unexpected evaluate failure outcome: %+v", out)
	}

	out = d.Dispatch(context.Background(), protocol.FitIns{}, &scripted{panicFit: true})
	fit := out.Response.(protocol.FitRes)
	if !out.Continue || fit.Status.Code != protocol.CodeApplicationError || !strings.Contains(fit.Status.Message, "weights exploded") {
		t.Fatalf("unexpected panic outcome: %+v", out)
	}
}

func TestCodecFailureReportsCodecStatus(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	capability := &scripted{}

	out := d.Dispatch(context.Background(), protocol.FitIns{
		Parameters: protocol.Parameters{Tensors: [][]byte{[]byte("garbage")}, TensorType: tensor.TensorTypeNumPy},
	}, capability)
	if res := out.Response.(protocol.FitRes); res.Status.Code != protocol.CodeCodecError || !out.Continue {
		t.Fatalf("expected codec error status, got %+v", out)
	}
	if capability.fitSeen.Parameters != nil {
		t.Fatalf("capability must not run on undecodable parameters")
	}

	out = d.Dispatch(context.Background(), protocol.EvaluateIns{
		Parameters: protocol.Parameters{TensorType: tensor.TensorTypeCBOR},
	}, capability)
	if res := out.Response.(protocol.EvaluateRes); res.Status.Code != protocol.CodeCodecError {
		t.Fatalf("expected tensor type mismatch to surface as codec error, got %+v", res.Status)
	}

	bad := &scripted{params: []tensor.Buffer{{Shape: []int{2}, Data: []float32{1}}}}
	out = d.Dispatch(context.Background(), protocol.GetParametersIns{}, bad)
	if res := out.Response.(protocol.GetParametersRes); res.Status.Code != protocol.CodeCodecError || len(res.Parameters.Tensors) != 0 {
		t.Fatalf("expected encode failure to surface as codec error, got %+v", res)
	}
}

// npyHeaderOnly is a float32 npy payload that declares shape and carries no data.
func npyHeaderOnly(shape string) []byte {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': " + shape + ", }\n"
	out := append([]byte("\x93NUMPY\x01\x00"), 0, 0)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(header)))
	return append(out, header...)
}

func TestOverflowingShapeReportsCodecStatus(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	capability := &scripted{}

	for _, shape := range []string{"(4294967296, 4294967296)", "(4611686018427387904,)"} {
		params := protocol.Parameters{Tensors: [][]byte{npyHeaderOnly(shape)}, TensorType: tensor.TensorTypeNumPy}

		out := d.Dispatch(context.Background(), protocol.FitIns{Parameters: params}, capability)
		if res := out.Response.(protocol.FitRes); res.Status.Code != protocol.CodeCodecError || !out.Continue {
			t.Fatalf("fit %s: expected codec error status, got %+v", shape, out)
		}
		out = d.Dispatch(context.Background(), protocol.EvaluateIns{Parameters: params}, capability)
		if res := out.Response.(protocol.EvaluateRes); res.Status.Code != protocol.CodeCodecError || !out.Continue {
			t.Fatalf("evaluate %s: expected codec error status, got %+v", shape, out)
		}
	}
	if capability.fitSeen.Parameters != nil {
		t.Fatalf("capability must not run on undecodable parameters")
	}
}

func TestMalformedInstructionStatus(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	out := d.Dispatch(context.Background(), protocol.MalformedIns{FieldNumber: 4, Err: protocol.ErrWireTypeMismatch}, Base{})
	res, ok := out.Response.(protocol.ErrorRes)
	if !ok || !out.Continue || out.Reconnect {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if res.Status.Code != protocol.CodeProtocolError || !strings.Contains(res.Status.Message, "wire type mismatch") {
		t.Fatalf("unexpected status %+v", res.Status)
	}
}

func TestUnknownInstructionStatus(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	out := d.Dispatch(context.Background(), protocol.UnknownIns{FieldNumber: 9}, Base{})
	res := out.Response.(protocol.ErrorRes)
	if res.Status.Code != protocol.CodeProtocolError || !strings.Contains(res.Status.Message, "9") {
		t.Fatalf("unexpected status %+v", res.Status)
	}
}

func TestReconnectDirective(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	out := d.Dispatch(context.Background(), protocol.ReconnectIns{Seconds: 3}, Base{})
	if !out.Continue || !out.Reconnect || out.ReconnectAfter != 3*time.Second {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if res := out.Response.(protocol.DisconnectRes); res.Reason != protocol.ReasonReconnect {
		t.Fatalf("reason=%v", res.Reason)
	}

	out = d.Dispatch(context.Background(), protocol.ReconnectIns{}, Base{})
	if !out.Reconnect || out.ReconnectAfter != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if res := out.Response.(protocol.DisconnectRes); res.Reason != protocol.ReasonAck {
		t.Fatalf("reason=%v", res.Reason)
	}
}

func TestReconnectDelayIsClamped(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher()
	for _, seconds := range []int64{math.MaxInt64, 9223372037, 86400} {
		out := d.Dispatch(context.Background(), protocol.ReconnectIns{Seconds: seconds}, Base{})
		if !out.Reconnect || out.ReconnectAfter != MaxReconnectAfter {
			t.Fatalf("seconds=%d: expected %s, got %s", seconds, MaxReconnectAfter, out.ReconnectAfter)
		}
	}
	out := d.Dispatch(context.Background(), protocol.ReconnectIns{Seconds: 86399}, Base{})
	if out.ReconnectAfter != 86399*time.Second {
		t.Fatalf("unexpected delay %s", out.ReconnectAfter)
	}
}
