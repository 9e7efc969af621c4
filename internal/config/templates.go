package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "":
		return clientTemplate, nil
	case "zeros":
		return zerosTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `server_host = "localhost"
server_port = 8080
max_message_bytes = 536870912
connect_timeout = "10s"
keepalive_interval = "1000s"
keepalive_timeout = "999s"
keepalive_permit_without_stream = true
abort_reason = "POWER_DISCONNECTED"
reconnect_limit = 0

codec_backend = "npy"
scratch_path = ""
shape_policy = "exact"

capability = "echo"
capability_shapes = ""
num_examples = 1

admin_addr = ""
max_connect_attempts = 5
`

const zerosTemplate = `server_host = "localhost"
server_port = 8080
abort_reason = "POWER_DISCONNECTED"

codec_backend = "npy"
shape_policy = "exact"

capability = "zeros"
capability_shapes = "784x128,128,128x10,10"
num_examples = 0

admin_addr = "127.0.0.1:9300"
max_connect_attempts = 10
`
