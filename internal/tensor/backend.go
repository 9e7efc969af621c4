package tensor

import (
	"fmt"
	"strings"
)

const (
	BackendNPY        = "npy"
	BackendNPYScratch = "npy-scratch"
	BackendCBOR       = "cbor"
)

// Backend turns one buffer into a self-describing payload and back. The
// payload carries shape and element type so the peer needs no side channel.
type Backend interface {
	TensorType() string
	Encode(Buffer) ([]byte, error)
	Decode([]byte) (Buffer, error)
}

// NewBackend builds a backend by name. scratchPath is only used by npy-scratch.
func NewBackend(name, scratchPath string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendNPY:
		return NPY{}, nil
	case BackendNPYScratch:
		return NewScratchFile(scratchPath, NPY{})
	case BackendCBOR:
		return CBOR{}, nil
	default:
		return nil, &CodecError{Op: "backend", Err: fmt.Errorf("%w: %q", ErrBackendUnavailable, name)}
	}
}
