package protocol

import (
	"strconv"
	"strings"
)

// Code is the round status code. Values 0..4 match flwr.proto; 100+ are
// client-side extensions carried as open enum values.
type Code int32

const (
	CodeOK                          Code = 0
	CodeGetPropertiesNotImplemented Code = 1
	CodeGetParametersNotImplemented Code = 2
	CodeFitNotImplemented           Code = 3
	CodeEvaluateNotImplemented      Code = 4

	CodeApplicationError Code = 100
	CodeCodecError       Code = 101
	CodeProtocolError    Code = 102
	CodeMessageTooLarge  Code = 103
)

var codeNames = map[Code]string{
	CodeOK:                          "OK",
	CodeGetPropertiesNotImplemented: "GET_PROPERTIES_NOT_IMPLEMENTED",
	CodeGetParametersNotImplemented: "GET_PARAMETERS_NOT_IMPLEMENTED",
	CodeFitNotImplemented:           "FIT_NOT_IMPLEMENTED",
	CodeEvaluateNotImplemented:      "EVALUATE_NOT_IMPLEMENTED",
	CodeApplicationError:            "APPLICATION_ERROR",
	CodeCodecError:                  "CODEC_ERROR",
	CodeProtocolError:               "PROTOCOL_ERROR",
	CodeMessageTooLarge:             "MESSAGE_TOO_LARGE",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "CODE_" + strconv.Itoa(int(c))
}

// Reason explains why a client leaves the stream.
type Reason int32

const (
	ReasonUnknown           Reason = 0
	ReasonReconnect         Reason = 1
	ReasonPowerDisconnected Reason = 2
	ReasonWifiUnavailable   Reason = 3
	ReasonAck               Reason = 4
)

var reasonNames = map[Reason]string{
	ReasonUnknown:           "UNKNOWN",
	ReasonReconnect:         "RECONNECT",
	ReasonPowerDisconnected: "POWER_DISCONNECTED",
	ReasonWifiUnavailable:   "WIFI_UNAVAILABLE",
	ReasonAck:               "ACK",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "REASON_" + strconv.Itoa(int(r))
}

// ParseReason accepts the upper-case wire names, case-insensitively.
func ParseReason(raw string) (Reason, error) {
	for r, name := range reasonNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return r, nil
		}
	}
	return ReasonUnknown, ErrUnknownReason
}

type Status struct {
	Code    Code
	Message string
}

func (s Status) OK() bool {
	return s.Code == CodeOK
}

// Parameters is an ordered list of serialized tensors sharing one format tag.
type Parameters struct {
	Tensors    [][]byte
	TensorType string
}

// Size is the total tensor payload in bytes.
func (p Parameters) Size() int {
	n := 0
	for _, t := range p.Tensors {
		n += len(t)
	}
	return n
}

// Scalars is a string-keyed map of scalar values (config, properties, metrics).
type Scalars map[string]Scalar

// ServerMessage wraps exactly one instruction.
type ServerMessage struct {
	Instruction Instruction
}

// ClientMessage wraps exactly one response.
type ClientMessage struct {
	Response Response
}

// Instruction is a server-to-client variant. Field is its oneof number.
type Instruction interface {
	Field() int32
	instruction()
}

// Response is a client-to-server variant. Field is its oneof number.
type Response interface {
	Field() int32
	response()
}

type ReconnectIns struct {
	Seconds int64
}

type GetPropertiesIns struct {
	Config Scalars
}

type GetParametersIns struct {
	Config Scalars
}

type FitIns struct {
	Parameters Parameters
	Config     Scalars
}

type EvaluateIns struct {
	Parameters Parameters
	Config     Scalars
}

type DisconnectIns struct {
	Reason Reason
}

// UnknownIns stands in for a oneof member this client does not know.
// Field 0 means the message carried no instruction at all.
type UnknownIns struct {
	FieldNumber int32
}

// MalformedIns stands in for a server message that failed to decode. Field
// is the outermost oneof member that could be read, 0 if none.
type MalformedIns struct {
	FieldNumber int32
	Err         error
}

func (ReconnectIns) Field() int32     { return 1 }
func (GetPropertiesIns) Field() int32 { return 2 }
func (GetParametersIns) Field() int32 { return 3 }
func (FitIns) Field() int32           { return 4 }
func (EvaluateIns) Field() int32      { return 5 }
func (DisconnectIns) Field() int32    { return 6 }
func (u UnknownIns) Field() int32     { return u.FieldNumber }
func (m MalformedIns) Field() int32   { return m.FieldNumber }

func (ReconnectIns) instruction()     {}
func (GetPropertiesIns) instruction() {}
func (GetParametersIns) instruction() {}
func (FitIns) instruction()           {}
func (EvaluateIns) instruction()      {}
func (DisconnectIns) instruction()    {}
func (UnknownIns) instruction()       {}
func (MalformedIns) instruction()     {}

type DisconnectRes struct {
	Reason Reason
}

type GetPropertiesRes struct {
	Status     Status
	Properties Scalars
}

type GetParametersRes struct {
	Status     Status
	Parameters Parameters
}

type FitRes struct {
	Status      Status
	Parameters  Parameters
	NumExamples int64
	Metrics     Scalars
}

type EvaluateRes struct {
	Status      Status
	Loss        float32
	NumExamples int64
	Metrics     Scalars
}

// ErrorRes answers an instruction the client could not interpret.
type ErrorRes struct {
	Status Status
}

func (DisconnectRes) Field() int32    { return 1 }
func (GetPropertiesRes) Field() int32 { return 2 }
func (GetParametersRes) Field() int32 { return 3 }
func (FitRes) Field() int32           { return 4 }
func (EvaluateRes) Field() int32      { return 5 }
func (ErrorRes) Field() int32         { return 6 }

func (DisconnectRes) response()    {}
func (GetPropertiesRes) response() {}
func (GetParametersRes) response() {}
func (FitRes) response()           {}
func (EvaluateRes) response()      {}
func (ErrorRes) response()         {}

// InstructionName is a stable label for logs and metrics.
func InstructionName(ins Instruction) string {
	switch ins.(type) {
	case ReconnectIns:
		return "reconnect"
	case GetPropertiesIns:
		return "get_properties"
	case GetParametersIns:
		return "get_parameters"
	case FitIns:
		return "fit"
	case EvaluateIns:
		return "evaluate"
	case DisconnectIns:
		return "disconnect"
	case MalformedIns:
		return "malformed"
	default:
		return "unknown"
	}
}

// ResponseName is a stable label for logs and metrics.
func ResponseName(res Response) string {
	switch res.(type) {
	case DisconnectRes:
		return "disconnect_res"
	case GetPropertiesRes:
		return "get_properties_res"
	case GetParametersRes:
		return "get_parameters_res"
	case FitRes:
		return "fit_res"
	case EvaluateRes:
		return "evaluate_res"
	case ErrorRes:
		return "error_res"
	default:
		return "unknown"
	}
}

// ResponseStatus returns the status carried by res. DisconnectRes has none
// and reports OK.
func ResponseStatus(res Response) Status {
	switch r := res.(type) {
	case GetPropertiesRes:
		return r.Status
	case GetParametersRes:
		return r.Status
	case FitRes:
		return r.Status
	case EvaluateRes:
		return r.Status
	case ErrorRes:
		return r.Status
	default:
		return Status{Code: CodeOK}
	}
}
