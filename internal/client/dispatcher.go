package client

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
	"github.com/rs/zerolog/log"
)

// Outcome is the result of dispatching one instruction.
type Outcome struct {
	Response protocol.Response
	// Continue is false only when the stream should close after Response.
	Continue bool
	// Reconnect asks the session to drop the stream and rejoin after
	// ReconnectAfter.
	Reconnect      bool
	ReconnectAfter time.Duration
}

// Dispatcher turns instructions into capability calls. It never returns an
// error: every failure becomes a non-OK status in the response.
type Dispatcher struct {
	codec *tensor.Converter
}

// NewDispatcher uses codec for every tensor crossing the capability boundary.
// A nil codec falls back to an in-memory npy converter.
func NewDispatcher(codec *tensor.Converter) *Dispatcher {
	if codec == nil {
		codec = tensor.NewConverter(tensor.NPY{}, tensor.ShapeExact)
	}
	return &Dispatcher{codec: codec}
}

func (d *Dispatcher) Codec() *tensor.Converter {
	return d.codec
}

// Dispatch handles exactly one instruction and yields exactly one response of
// the matching variant.
func (d *Dispatcher) Dispatch(ctx context.Context, ins protocol.Instruction, capability Capability) Outcome {
	switch in := ins.(type) {
	case protocol.GetPropertiesIns:
		return proceed(d.getProperties(ctx, in, capability))
	case protocol.GetParametersIns:
		return proceed(d.getParameters(ctx, in, capability))
	case protocol.FitIns:
		return proceed(d.fit(ctx, in, capability))
	case protocol.EvaluateIns:
		return proceed(d.evaluate(ctx, in, capability))
	case protocol.ReconnectIns:
		return reconnect(in)
	case protocol.DisconnectIns:
		reason := in.Reason
		if reason == protocol.ReasonUnknown {
			reason = protocol.ReasonAck
		}
		return Outcome{Response: protocol.DisconnectRes{Reason: reason}, Continue: false}
	case protocol.MalformedIns:
		err := &ProtocolError{Field: in.FieldNumber, Err: in.Err}
		log.Warn().Err(in.Err).Int32("field", in.FieldNumber).Msg("malformed instruction")
		return proceed(protocol.ErrorRes{Status: StatusFor(err)})
	default:
		var field int32
		if ins != nil {
			field = ins.Field()
		}
		err := &ProtocolError{Field: field}
		log.Warn().Int32("field", field).Msg("unknown instruction")
		return proceed(protocol.ErrorRes{Status: StatusFor(err)})
	}
}

func proceed(res protocol.Response) Outcome {
	return Outcome{Response: res, Continue: true}
}

// MaxReconnectAfter caps the delay a ReconnectIns can request.
const MaxReconnectAfter = 24 * time.Hour

func reconnect(in protocol.ReconnectIns) Outcome {
	reason := protocol.ReasonAck
	var after time.Duration
	if in.Seconds > 0 {
		reason = protocol.ReasonReconnect
		after = MaxReconnectAfter
		if in.Seconds < int64(MaxReconnectAfter/time.Second) {
			after = time.Duration(in.Seconds) * time.Second
		} else {
			log.Warn().Int64("seconds", in.Seconds).Dur("after", after).Msg("reconnect delay clamped")
		}
	}
	return Outcome{
		Response:       protocol.DisconnectRes{Reason: reason},
		Continue:       true,
		Reconnect:      true,
		ReconnectAfter: after,
	}
}

func (d *Dispatcher) getProperties(ctx context.Context, in protocol.GetPropertiesIns, capability Capability) protocol.Response {
	var res PropertiesRes
	err := invoke("get_properties", func() (err error) {
		res, err = capability.GetProperties(ctx, PropertiesIns{Config: in.Config})
		return err
	})
	if err != nil {
		return protocol.GetPropertiesRes{Status: failed("get_properties", err)}
	}
	reportStatus("get_properties", res.Status)
	return protocol.GetPropertiesRes{Status: res.Status, Properties: res.Properties}
}

func (d *Dispatcher) getParameters(ctx context.Context, in protocol.GetParametersIns, capability Capability) protocol.Response {
	var res ParametersRes
	err := invoke("get_parameters", func() (err error) {
		res, err = capability.GetParameters(ctx, ParametersIns{Config: in.Config})
		return err
	})
	out := protocol.GetParametersRes{Parameters: protocol.Parameters{TensorType: d.codec.TensorType()}}
	if err != nil {
		out.Status = failed("get_parameters", err)
		return out
	}
	params, err := d.encode(res.Parameters)
	if err != nil {
		out.Status = failed("get_parameters", err)
		return out
	}
	reportStatus("get_parameters", res.Status)
	out.Status = res.Status
	out.Parameters = params
	return out
}

func (d *Dispatcher) fit(ctx context.Context, in protocol.FitIns, capability Capability) protocol.Response {
	out := protocol.FitRes{Parameters: protocol.Parameters{TensorType: d.codec.TensorType()}}
	bufs, err := d.decode(in.Parameters.TensorType, in.Parameters.Tensors)
	if err != nil {
		out.Status = failed("fit", err)
		return out
	}
	var res FitRes
	err = invoke("fit", func() (err error) {
		res, err = capability.Fit(ctx, FitIns{Parameters: bufs, Config: in.Config})
		return err
	})
	if err != nil {
		out.Status = failed("fit", err)
		return out
	}
	params, err := d.encode(res.Parameters)
	if err != nil {
		out.Status = failed("fit", err)
		return out
	}
	reportStatus("fit", res.Status)
	out.Status = res.Status
	out.Parameters = params
	out.NumExamples = res.NumExamples
	out.Metrics = res.Metrics
	return out
}

func (d *Dispatcher) evaluate(ctx context.Context, in protocol.EvaluateIns, capability Capability) protocol.Response {
	bufs, err := d.decode(in.Parameters.TensorType, in.Parameters.Tensors)
	if err != nil {
		return protocol.EvaluateRes{Status: failed("evaluate", err)}
	}
	var res EvaluateRes
	err = invoke("evaluate", func() (err error) {
		res, err = capability.Evaluate(ctx, EvaluateIns{Parameters: bufs, Config: in.Config})
		return err
	})
	if err != nil {
		return protocol.EvaluateRes{Status: failed("evaluate", err)}
	}
	reportStatus("evaluate", res.Status)
	return protocol.EvaluateRes{
		Status:      res.Status,
		Loss:        res.Loss,
		NumExamples: res.NumExamples,
		Metrics:     res.Metrics,
	}
}

// decode converts incoming tensors. A codec panic is reported as a codec
// failure so the round still gets a response.
func (d *Dispatcher) decode(tensorType string, payloads [][]byte) (bufs []tensor.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &tensor.CodecError{Op: "decode", Err: fmt.Errorf("%v", r)}
		}
	}()
	return d.codec.DecodeAll(tensorType, payloads)
}

func (d *Dispatcher) encode(bufs []tensor.Buffer) (protocol.Parameters, error) {
	payloads, err := d.codec.EncodeAll(bufs)
	if err != nil {
		return protocol.Parameters{}, err
	}
	return protocol.Parameters{Tensors: payloads, TensorType: d.codec.TensorType()}, nil
}

// invoke runs one capability call, turning a returned error or a panic into
// an ApplicationError.
func invoke(op string, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ApplicationError{Op: op, Err: fmt.Errorf("%w: %v", ErrCapabilityPanic, r)}
		}
	}()
	if callErr := call(); callErr != nil {
		return &ApplicationError{Op: op, Err: callErr}
	}
	return nil
}

func failed(op string, err error) protocol.Status {
	status := StatusFor(err)
	log.Warn().Err(err).Str("op", op).Stringer("code", status.Code).Msg("round failed")
	return status
}

func reportStatus(op string, status protocol.Status) {
	if status.OK() {
		return
	}
	log.Warn().Str("op", op).Stringer("code", status.Code).Str("message", status.Message).Msg("capability returned non-ok status")
}
