package capabilities

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/flwrctl/internal/client"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
)

type zerosBuiltin struct{}

func (zerosBuiltin) Metadata() Metadata {
	return Metadata{
		ID:          "zeros",
		Name:        "Zeros",
		Description: "Serves zero tensors of fixed shapes; fit and evaluate are not implemented.",
	}
}

func (zerosBuiltin) New(opts Options) (client.Capability, error) {
	return NewZeros(opts.Shapes)
}

// Zeros answers GetParameters with zero-filled tensors. Fit and Evaluate
// fall through to the not-implemented defaults.
type Zeros struct {
	client.Base
	params []tensor.Buffer
}

func NewZeros(shapes [][]int) (*Zeros, error) {
	params := make([]tensor.Buffer, 0, len(shapes))
	for i, shape := range shapes {
		b, err := tensor.Zeros(shape...)
		if err != nil {
			return nil, fmt.Errorf("zeros: shape %d: %w", i, err)
		}
		params = append(params, b)
	}
	return &Zeros{params: params}, nil
}

func (z *Zeros) GetProperties(context.Context, client.PropertiesIns) (client.PropertiesRes, error) {
	return client.PropertiesRes{Properties: protocol.Scalars{
		"capability": protocol.NewString("zeros"),
		"tensors":    protocol.NewSint64(int64(len(z.params))),
	}}, nil
}

func (z *Zeros) GetParameters(context.Context, client.ParametersIns) (client.ParametersRes, error) {
	return client.ParametersRes{Parameters: cloneAll(z.params)}, nil
}

// ParseShapes reads shapes written as "3x4,10,2x2x1". An empty string is no
// shapes; "scalar" is a rank-0 tensor.
func ParseShapes(raw string) ([][]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	shapes := make([][]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "scalar" {
			shapes = append(shapes, []int{})
			continue
		}
		dims := strings.Split(part, "x")
		shape := make([]int, 0, len(dims))
		for _, d := range dims {
			n, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("capabilities: invalid shape %q", part)
			}
			shape = append(shape, n)
		}
		shapes = append(shapes, shape)
	}
	return shapes, nil
}
