package flwrctl_test

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/flwrctl"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
	"github.com/danmuck/flwrctl/internal/testutil/testlog"
)

type halver struct {
	flwrctl.Base
}

func (halver) Fit(_ context.Context, ins flwrctl.FitIns) (flwrctl.FitRes, error) {
	out := make([]flwrctl.Buffer, 0, len(ins.Parameters))
	for _, p := range ins.Parameters {
		b := p.Clone()
		for i := range b.Data {
			b.Data[i] /= 2
		}
		out = append(out, b)
	}
	return flwrctl.FitRes{Parameters: out, NumExamples: 10}, nil
}

func TestFacadeConverterRoundTrip(t *testing.T) {
	testlog.Start(t)
	codec, err := flwrctl.NewConverter("cbor", "", tensor.ShapeExact)
	if err != nil {
		t.Fatalf("converter: %v", err)
	}
	defer codec.Close()
	b, err := flwrctl.NewBuffer([]int{2}, []float32{4, 8})
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	payload, err := codec.Encode(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(payload)
	if err != nil || got.Data[1] != 8 {
		t.Fatalf("decode: %+v, %v", got, err)
	}
	if _, err := flwrctl.NewConverter("onnx", "", tensor.ShapeExact); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestFacadeDefaultsAndOpenFailure(t *testing.T) {
	testlog.Start(t)
	cfg := flwrctl.DefaultConfig()
	if cfg.AbortReason != protocol.ReasonPowerDisconnected {
		t.Fatalf("abort reason=%v", cfg.AbortReason)
	}
	cfg.ConnectTimeout = 50 * time.Millisecond
	if _, err := flwrctl.Open(context.Background(), "127.0.0.1", 1, cfg); err == nil {
		t.Fatalf("expected open to fail against a closed port")
	}
	var c flwrctl.Capability = halver{}
	res, err := c.Evaluate(context.Background(), flwrctl.EvaluateIns{})
	if err != nil || res.Status.Code != protocol.CodeEvaluateNotImplemented {
		t.Fatalf("embedded base should answer not implemented: %+v, %v", res.Status, err)
	}
}
