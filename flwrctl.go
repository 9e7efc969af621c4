// Package flwrctl is the embedding surface of the federated-learning client:
// supply a Capability, open a Session against a server and start it.
//
//	s, err := flwrctl.Open(ctx, "10.0.2.2", 8080, flwrctl.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	err = s.Start(myCapability, func(res flwrctl.Result) { ... })
package flwrctl

import (
	"context"

	"github.com/danmuck/flwrctl/internal/client"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/session"
	"github.com/danmuck/flwrctl/internal/tensor"
)

type (
	Capability = client.Capability
	// Base answers every capability call with NOT_IMPLEMENTED; embed it.
	Base = client.Base

	PropertiesIns = client.PropertiesIns
	PropertiesRes = client.PropertiesRes
	ParametersIns = client.ParametersIns
	ParametersRes = client.ParametersRes
	FitIns        = client.FitIns
	FitRes        = client.FitRes
	EvaluateIns   = client.EvaluateIns
	EvaluateRes   = client.EvaluateRes

	Buffer    = tensor.Buffer
	Converter = tensor.Converter
	Scalar    = protocol.Scalar
	Scalars   = protocol.Scalars
	Status    = protocol.Status
	Code      = protocol.Code
	Reason    = protocol.Reason

	Session = session.Session
	Config  = session.Config
	Result  = session.Result
	State   = session.State
)

func DefaultConfig() Config {
	return session.DefaultConfig()
}

// Open dials host:port and returns a connected, not yet started session.
func Open(ctx context.Context, host string, port int, cfg Config) (*Session, error) {
	return session.Open(ctx, host, port, cfg)
}

// NewConverter builds a tensor codec; backend is npy, npy-scratch or cbor.
func NewConverter(backend, scratchPath string, policy tensor.ShapePolicy) (*Converter, error) {
	b, err := tensor.NewBackend(backend, scratchPath)
	if err != nil {
		return nil, err
	}
	return tensor.NewConverter(b, policy), nil
}

func NewBuffer(shape []int, data []float32) (Buffer, error) {
	return tensor.NewBuffer(shape, data)
}
