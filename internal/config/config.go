package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/flwrctl/internal/capabilities"
	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/protocol/session"
	"github.com/danmuck/flwrctl/internal/tensor"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid client config")

// ClientConfig is the on-disk shape of a client config file. Durations are
// Go duration strings ("10s", "1000s").
type ClientConfig struct {
	ServerHost      string `toml:"server_host"`
	ServerPort      int    `toml:"server_port"`
	MaxMessageBytes int    `toml:"max_message_bytes"`
	ConnectTimeout  string `toml:"connect_timeout"`

	KeepaliveInterval            string `toml:"keepalive_interval"`
	KeepaliveTimeout             string `toml:"keepalive_timeout"`
	KeepalivePermitWithoutStream bool   `toml:"keepalive_permit_without_stream"`

	AbortReason    string `toml:"abort_reason"`
	ReconnectLimit int    `toml:"reconnect_limit"`

	CodecBackend string `toml:"codec_backend"`
	ScratchPath  string `toml:"scratch_path"`
	ShapePolicy  string `toml:"shape_policy"`

	Capability       string `toml:"capability"`
	CapabilityShapes string `toml:"capability_shapes"`
	NumExamples      int64  `toml:"num_examples"`

	AdminAddr          string `toml:"admin_addr"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

// Defaults matches session.DefaultConfig plus the CLI settings.
func Defaults() ClientConfig {
	def := session.DefaultConfig()
	return ClientConfig{
		ServerHost:                   "localhost",
		ServerPort:                   8080,
		MaxMessageBytes:              def.MaxMessageBytes,
		ConnectTimeout:               def.ConnectTimeout.String(),
		KeepaliveInterval:            def.Keepalive.Interval.String(),
		KeepaliveTimeout:             def.Keepalive.Timeout.String(),
		KeepalivePermitWithoutStream: def.Keepalive.PermitWithoutStream,
		AbortReason:                  def.AbortReason.String(),
		CodecBackend:                 tensor.BackendNPY,
		ShapePolicy:                  tensor.ShapeExact.String(),
		Capability:                   "echo",
		NumExamples:                  1,
		MaxConnectAttempts:           5,
	}
}

// Load reads path over Defaults and validates the result.
func Load(path string) (ClientConfig, error) {
	cfg := Defaults()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.ServerHost) == "" {
		return fmt.Errorf("%w: server_host is required", ErrInvalidConfig)
	}
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return fmt.Errorf("%w: server_port %d out of range", ErrInvalidConfig, cfg.ServerPort)
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalidConfig)
	}
	if cfg.MaxConnectAttempts < 0 || cfg.ReconnectLimit < 0 || cfg.NumExamples < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidConfig)
	}
	for key, raw := range map[string]string{
		"connect_timeout":    cfg.ConnectTimeout,
		"keepalive_interval": cfg.KeepaliveInterval,
		"keepalive_timeout":  cfg.KeepaliveTimeout,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}
	if _, err := protocol.ParseReason(cfg.AbortReason); err != nil {
		return fmt.Errorf("%w: abort_reason: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CodecBackend)) {
	case "", tensor.BackendNPY, tensor.BackendCBOR:
	case tensor.BackendNPYScratch:
		if strings.TrimSpace(cfg.ScratchPath) == "" {
			return fmt.Errorf("%w: scratch_path is required for %s", ErrInvalidConfig, tensor.BackendNPYScratch)
		}
	default:
		return fmt.Errorf("%w: unknown codec_backend %q", ErrInvalidConfig, cfg.CodecBackend)
	}
	if _, err := tensor.ParseShapePolicy(cfg.ShapePolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, ok := capabilities.Default().Resolve(cfg.Capability); !ok {
		return fmt.Errorf("%w: unknown capability %q", ErrInvalidConfig, cfg.Capability)
	}
	if _, err := capabilities.ParseShapes(cfg.CapabilityShapes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Codec builds the tensor converter the config names. The caller owns it and
// must Close it.
func (c ClientConfig) Codec() (*tensor.Converter, error) {
	backend, err := tensor.NewBackend(c.CodecBackend, c.ScratchPath)
	if err != nil {
		return nil, err
	}
	policy, err := tensor.ParseShapePolicy(c.ShapePolicy)
	if err != nil {
		return nil, err
	}
	return tensor.NewConverter(backend, policy), nil
}

// SessionConfig translates the file into session settings around codec.
func (c ClientConfig) SessionConfig(codec *tensor.Converter) (session.Config, error) {
	cfg := session.DefaultConfig()
	var err error
	if cfg.ConnectTimeout, err = parseDuration(c.ConnectTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.Keepalive.Interval, err = parseDuration(c.KeepaliveInterval); err != nil {
		return session.Config{}, err
	}
	if cfg.Keepalive.Timeout, err = parseDuration(c.KeepaliveTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.AbortReason, err = protocol.ParseReason(c.AbortReason); err != nil {
		return session.Config{}, err
	}
	cfg.Keepalive.PermitWithoutStream = c.KeepalivePermitWithoutStream
	cfg.MaxMessageBytes = c.MaxMessageBytes
	cfg.ReconnectLimit = c.ReconnectLimit
	cfg.Codec = codec
	return cfg.WithDefaults(), nil
}

func (c ClientConfig) CapabilityOptions() (capabilities.Options, error) {
	shapes, err := capabilities.ParseShapes(c.CapabilityShapes)
	if err != nil {
		return capabilities.Options{}, err
	}
	return capabilities.Options{Shapes: shapes, NumExamples: c.NumExamples}, nil
}

// parseDuration treats an empty string as zero, which WithDefaults fills.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
