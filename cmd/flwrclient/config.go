package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/flwrctl/internal/config"
)

type fileConfig struct {
	ServerHost                   string `toml:"server_host"`
	ServerPort                   int    `toml:"server_port"`
	MaxMessageBytes              int    `toml:"max_message_bytes"`
	ConnectTimeout               string `toml:"connect_timeout"`
	KeepaliveInterval            string `toml:"keepalive_interval"`
	KeepaliveTimeout             string `toml:"keepalive_timeout"`
	KeepalivePermitWithoutStream bool   `toml:"keepalive_permit_without_stream"`
	AbortReason                  string `toml:"abort_reason"`
	ReconnectLimit               int    `toml:"reconnect_limit"`
	CodecBackend                 string `toml:"codec_backend"`
	ScratchPath                  string `toml:"scratch_path"`
	ShapePolicy                  string `toml:"shape_policy"`
	Capability                   string `toml:"capability"`
	CapabilityShapes             string `toml:"capability_shapes"`
	NumExamples                  int64  `toml:"num_examples"`
	AdminAddr                    string `toml:"admin_addr"`
	MaxConnectAttempts           int    `toml:"max_connect_attempts"`
}

// loadClientConfig starts from config.Defaults and applies only the keys the
// file defines, so an explicit zero or empty string still wins.
func loadClientConfig(path string) (config.ClientConfig, error) {
	cfg := config.Defaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.ClientConfig{}, fmt.Errorf("load client config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("server_host") {
		cfg.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		cfg.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("max_message_bytes") {
		cfg.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("connect_timeout") {
		cfg.ConnectTimeout = strings.TrimSpace(raw.ConnectTimeout)
	}
	if meta.IsDefined("keepalive_interval") {
		cfg.KeepaliveInterval = strings.TrimSpace(raw.KeepaliveInterval)
	}
	if meta.IsDefined("keepalive_timeout") {
		cfg.KeepaliveTimeout = strings.TrimSpace(raw.KeepaliveTimeout)
	}
	if meta.IsDefined("keepalive_permit_without_stream") {
		cfg.KeepalivePermitWithoutStream = raw.KeepalivePermitWithoutStream
	}
	if meta.IsDefined("abort_reason") {
		cfg.AbortReason = strings.TrimSpace(raw.AbortReason)
	}
	if meta.IsDefined("reconnect_limit") {
		cfg.ReconnectLimit = raw.ReconnectLimit
	}
	if meta.IsDefined("codec_backend") {
		cfg.CodecBackend = strings.TrimSpace(raw.CodecBackend)
	}
	if meta.IsDefined("scratch_path") {
		cfg.ScratchPath = strings.TrimSpace(raw.ScratchPath)
	}
	if meta.IsDefined("shape_policy") {
		cfg.ShapePolicy = strings.TrimSpace(raw.ShapePolicy)
	}
	if meta.IsDefined("capability") {
		cfg.Capability = strings.TrimSpace(raw.Capability)
	}
	if meta.IsDefined("capability_shapes") {
		cfg.CapabilityShapes = strings.TrimSpace(raw.CapabilityShapes)
	}
	if meta.IsDefined("num_examples") {
		cfg.NumExamples = raw.NumExamples
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if err := config.Validate(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
