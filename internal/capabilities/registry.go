package capabilities

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/flwrctl/internal/client"
)

var (
	ErrBuiltinExists   = errors.New("capability already registered")
	ErrBuiltinNil      = errors.New("capability builtin is nil")
	ErrInvalidMetadata = errors.New("invalid capability metadata")
	ErrUnknownBuiltin  = errors.New("unknown capability")
)

// Metadata identifies a builtin capability.
type Metadata struct {
	ID          string
	Name        string
	Description string
}

// Options configure a builtin when it is instantiated.
type Options struct {
	// Shapes are the tensor shapes a builtin serves from GetParameters.
	Shapes      [][]int
	NumExamples int64
}

// Builtin builds a fresh capability per session.
type Builtin interface {
	Metadata() Metadata
	New(opts Options) (client.Capability, error)
}

// Registry stores builtins by stable identifier.
type Registry struct {
	items map[string]Builtin
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Builtin)}
}

// Default returns a registry holding echo and zeros.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(echoBuiltin{})
	_ = r.Register(zerosBuiltin{})
	return r
}

// ValidateMetadata checks required fields and id format.
func ValidateMetadata(meta Metadata) error {
	id := strings.TrimSpace(meta.ID)
	if id == "" || strings.TrimSpace(meta.Name) == "" || strings.TrimSpace(meta.Description) == "" {
		return fmt.Errorf("%w: id, name, and description are required", ErrInvalidMetadata)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	return nil
}

func (r *Registry) Register(b Builtin) error {
	if b == nil {
		return ErrBuiltinNil
	}
	meta := b.Metadata()
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	if _, ok := r.items[meta.ID]; ok {
		return fmt.Errorf("%w: %s", ErrBuiltinExists, meta.ID)
	}
	r.items[meta.ID] = b
	return nil
}

func (r *Registry) Resolve(id string) (Builtin, bool) {
	b, ok := r.items[id]
	return b, ok
}

// Build resolves id and instantiates it with opts.
func (r *Registry) Build(id string, opts Options) (client.Capability, error) {
	b, ok := r.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownBuiltin, id, strings.Join(r.IDs(), ", "))
	}
	return b.New(opts)
}

// ListMetadata returns metadata ordered by id.
func (r *Registry) ListMetadata() []Metadata {
	list := make([]Metadata, 0, len(r.items))
	for _, b := range r.items {
		list = append(list, b.Metadata())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *Registry) IDs() []string {
	list := r.ListMetadata()
	ids := make([]string, 0, len(list))
	for _, meta := range list {
		ids = append(ids, meta.ID)
	}
	return ids
}

func isValidID(id string) bool {
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if isSep && (i == 0 || i == len(id)-1 || lastSep) {
			return false
		}
		lastSep = isSep
	}
	return id != ""
}
