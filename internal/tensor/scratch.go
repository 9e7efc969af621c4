package tensor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultScratchName is the file name used when no scratch path is configured.
const DefaultScratchName = "numpyArray.npy"

// ScratchFile routes every encode/decode through one file on disk, for peers
// that need byte-exact output from a file-based array writer. The file is
// removed before each use and on Close. Calls are serialized.
type ScratchFile struct {
	path  string
	inner Backend

	mu     sync.Mutex
	closed bool
}

func NewScratchFile(path string, inner Backend) (*ScratchFile, error) {
	if inner == nil {
		return nil, &CodecError{Op: "scratch", Err: fmt.Errorf("%w: nil inner backend", ErrBackendUnavailable)}
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join(os.TempDir(), DefaultScratchName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &CodecError{Op: "scratch", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	return &ScratchFile{path: path, inner: inner}, nil
}

func (s *ScratchFile) Path() string {
	return s.path
}

func (s *ScratchFile) TensorType() string {
	return s.inner.TensorType()
}

func (s *ScratchFile) Encode(b Buffer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reset(); err != nil {
		return nil, err
	}
	payload, err := s.inner.Encode(b)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	out, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	return out, nil
}

func (s *ScratchFile) Decode(data []byte) (Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reset(); err != nil {
		return Buffer{}, err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	stored, err := os.ReadFile(s.path)
	if err != nil {
		return Buffer{}, &CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	return s.inner.Decode(stored)
}

// Close removes the scratch file. Further calls fail with ErrBackendUnavailable.
func (s *ScratchFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *ScratchFile) reset() error {
	if s.closed {
		return &CodecError{Op: "scratch", Err: fmt.Errorf("%w: scratch file closed", ErrBackendUnavailable)}
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CodecError{Op: "scratch", Err: fmt.Errorf("%w: %v", ErrBackendUnavailable, err)}
	}
	return nil
}
