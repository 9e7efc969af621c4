package client

import (
	"context"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
)

// Capability is the local computation behind a client. A returned error is
// reported to the server as an application failure for that round only.
// Calls are never concurrent within one session.
type Capability interface {
	GetProperties(ctx context.Context, ins PropertiesIns) (PropertiesRes, error)
	GetParameters(ctx context.Context, ins ParametersIns) (ParametersRes, error)
	Fit(ctx context.Context, ins FitIns) (FitRes, error)
	Evaluate(ctx context.Context, ins EvaluateIns) (EvaluateRes, error)
}

type PropertiesIns struct {
	Config protocol.Scalars
}

type PropertiesRes struct {
	Status     protocol.Status
	Properties protocol.Scalars
}

type ParametersIns struct {
	Config protocol.Scalars
}

type ParametersRes struct {
	Status     protocol.Status
	Parameters []tensor.Buffer
}

type FitIns struct {
	Parameters []tensor.Buffer
	Config     protocol.Scalars
}

type FitRes struct {
	Status      protocol.Status
	Parameters  []tensor.Buffer
	NumExamples int64
	Metrics     protocol.Scalars
}

type EvaluateIns struct {
	Parameters []tensor.Buffer
	Config     protocol.Scalars
}

type EvaluateRes struct {
	Status      protocol.Status
	Loss        float32
	NumExamples int64
	Metrics     protocol.Scalars
}

// Base answers every call with the matching NOT_IMPLEMENTED status. Embed it
// and override what the capability supports.
type Base struct{}

func (Base) GetProperties(context.Context, PropertiesIns) (PropertiesRes, error) {
	return PropertiesRes{Status: protocol.Status{
		Code:    protocol.CodeGetPropertiesNotImplemented,
		Message: "client does not implement get_properties",
	}}, nil
}

func (Base) GetParameters(context.Context, ParametersIns) (ParametersRes, error) {
	return ParametersRes{Status: protocol.Status{
		Code:    protocol.CodeGetParametersNotImplemented,
		Message: "client does not implement get_parameters",
	}}, nil
}

func (Base) Fit(context.Context, FitIns) (FitRes, error) {
	return FitRes{Status: protocol.Status{
		Code:    protocol.CodeFitNotImplemented,
		Message: "client does not implement fit",
	}}, nil
}

func (Base) Evaluate(context.Context, EvaluateIns) (EvaluateRes, error) {
	return EvaluateRes{Status: protocol.Status{
		Code:    protocol.CodeEvaluateNotImplemented,
		Message: "client does not implement evaluate",
	}}, nil
}
