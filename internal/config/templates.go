package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device", "voxctl":
		return deviceTemplate, nil
	case "collector", "collectorctl":
		return collectorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Validate loads the config at path as kind.
func Validate(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device", "voxctl":
		_, err := LoadDevice(path)
		return err
	case "collector", "collectorctl":
		_, err := LoadCollector(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
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

const deviceTemplate = `server_address = "localhost"
server_port = 8080

sample_rate = 16000
frame_samples = 1024
audio_source = "-"
audio_loop = false
capture_queue = 0

vad_threshold = 1000.0
vad_noise_level = 0.1

max_retries = 3
heartbeat_interval = "30s"
connection_timeout = "5s"
reconnect_delay = "5s"
reconnect_multiplier = 1.0
ack_retry_delay = "100ms"

state_file = "device_state.json"
metrics_addr = ""
`

const collectorTemplate = `listen_addr = ":8080"
heartbeat_timeout = "35s"
write_timeout = "5s"
max_payload_bytes = 1048576
audio_dir = ""
ws_listen_addr = ""
metrics_addr = ""
`
