package capabilities

import (
	"context"
	"sync"

	"github.com/danmuck/flwrctl/internal/client"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
)

type echoBuiltin struct{}

func (echoBuiltin) Metadata() Metadata {
	return Metadata{
		ID:          "echo",
		Name:        "Echo",
		Description: "Returns the parameters it receives and remembers the latest ones.",
	}
}

func (echoBuiltin) New(opts Options) (client.Capability, error) {
	return NewEcho(opts.NumExamples), nil
}

// Echo trains nothing. Fit hands the received parameters straight back and
// GetParameters serves whatever Fit or Evaluate saw last.
type Echo struct {
	numExamples int64

	mu     sync.Mutex
	params []tensor.Buffer
	rounds int64
}

func NewEcho(numExamples int64) *Echo {
	return &Echo{numExamples: numExamples}
}

func (e *Echo) GetProperties(context.Context, client.PropertiesIns) (client.PropertiesRes, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return client.PropertiesRes{Properties: protocol.Scalars{
		"capability": protocol.NewString("echo"),
		"rounds":     protocol.NewSint64(e.rounds),
	}}, nil
}

func (e *Echo) GetParameters(context.Context, client.ParametersIns) (client.ParametersRes, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return client.ParametersRes{Parameters: cloneAll(e.params)}, nil
}

func (e *Echo) Fit(_ context.Context, ins client.FitIns) (client.FitRes, error) {
	e.remember(ins.Parameters)
	return client.FitRes{
		Parameters:  cloneAll(ins.Parameters),
		NumExamples: e.numExamples,
		Metrics:     protocol.Scalars{"tensors": protocol.NewSint64(int64(len(ins.Parameters)))},
	}, nil
}

func (e *Echo) Evaluate(_ context.Context, ins client.EvaluateIns) (client.EvaluateRes, error) {
	e.remember(ins.Parameters)
	return client.EvaluateRes{
		Loss:        0,
		NumExamples: e.numExamples,
		Metrics:     protocol.Scalars{"accuracy": protocol.NewDouble(1)},
	}, nil
}

func (e *Echo) remember(params []tensor.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = cloneAll(params)
	e.rounds++
}

func cloneAll(bufs []tensor.Buffer) []tensor.Buffer {
	if len(bufs) == 0 {
		return nil
	}
	out := make([]tensor.Buffer, len(bufs))
	for i, b := range bufs {
		out[i] = b.Clone()
	}
	return out
}
