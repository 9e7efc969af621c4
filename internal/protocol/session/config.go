package session

import (
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
	"github.com/danmuck/flwrctl/internal/tensor"
	"google.golang.org/grpc"
)

// BackoffConfig defines retry backoff behavior for callers that redial after
// a failed Open. The session itself never retries.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// KeepaliveConfig keeps an idle stream from being dropped by proxies.
type KeepaliveConfig struct {
	Interval            time.Duration
	Timeout             time.Duration
	PermitWithoutStream bool
}

// Config defines channel and session behavior.
type Config struct {
	ConnectTimeout  time.Duration
	MaxMessageBytes int
	Keepalive       KeepaliveConfig
	// InboxDepth bounds instructions received but not yet dispatched.
	InboxDepth int
	// AbortReason is sent in the DisconnectRes produced by Abort.
	AbortReason protocol.Reason
	// ReconnectLimit caps consecutive server-requested reconnects; 0 is unlimited.
	ReconnectLimit int
	// RoundHistory is how many completed rounds the session remembers.
	RoundHistory int
	// DrainTimeout bounds the wait for the server to end a stream after the
	// client's last message.
	DrainTimeout time.Duration
	Backoff      BackoffConfig

	// Codec converts tensors at the capability boundary. Nil means in-memory
	// npy with exact shapes.
	Codec *tensor.Converter
	// Interceptors extend the Join call, after the built-in logging.
	Interceptors []grpc.StreamClientInterceptor
	DialOptions  []grpc.DialOption
}

// DefaultConfig mirrors the upstream client channel settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		MaxMessageBytes: protocol.DefaultMaxMessageBytes,
		Keepalive: KeepaliveConfig{
			Interval:            1000 * time.Second,
			Timeout:             999 * time.Second,
			PermitWithoutStream: true,
		},
		InboxDepth:     8,
		AbortReason:    protocol.ReasonPowerDisconnected,
		ReconnectLimit: 0,
		RoundHistory:   64,
		DrainTimeout:   2 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero field from DefaultConfig. AbortReason
// UNKNOWN counts as unset.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	if c.Keepalive.Interval <= 0 {
		c.Keepalive = def.Keepalive
	}
	if c.Keepalive.Timeout <= 0 {
		c.Keepalive.Timeout = def.Keepalive.Timeout
	}
	if c.InboxDepth <= 0 {
		c.InboxDepth = def.InboxDepth
	}
	if c.AbortReason == protocol.ReasonUnknown {
		c.AbortReason = def.AbortReason
	}
	if c.ReconnectLimit < 0 {
		c.ReconnectLimit = 0
	}
	if c.RoundHistory <= 0 {
		c.RoundHistory = def.RoundHistory
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Codec == nil {
		c.Codec = tensor.NewConverter(tensor.NPY{}, tensor.ShapeExact)
	}
	return c
}

func (c Config) limits() protocol.Limits {
	return protocol.Limits{MaxMessageBytes: c.MaxMessageBytes}
}
