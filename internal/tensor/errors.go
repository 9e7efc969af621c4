package tensor

import "errors"

var (
	ErrShapeMissing       = errors.New("tensor: shape missing")
	ErrInvalidShape       = errors.New("tensor: invalid shape")
	ErrUnsupportedDType   = errors.New("tensor: unsupported element type")
	ErrLengthMismatch     = errors.New("tensor: byte length mismatch")
	ErrInvalidHeader      = errors.New("tensor: invalid header")
	ErrBackendUnavailable = errors.New("tensor: backend unavailable")
	ErrTensorTypeMismatch = errors.New("tensor: tensor type mismatch")
)

// CodecError reports a failed encode/decode. Rounds that hit one answer with a
// non-OK status; the stream stays up.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return "tensor " + e.Op + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func codecErr(op string, err error) error {
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	return &CodecError{Op: op, Err: err}
}
