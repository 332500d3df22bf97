package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/collector"
	"github.com/danmuck/edgevox/internal/engine"
	"github.com/danmuck/edgevox/internal/protocol/session"
	"github.com/danmuck/edgevox/internal/vad"
)

var ErrInvalid = errors.New("config: invalid")

// Device is everything voxctl needs to run.
type Device struct {
	Session      session.Config
	Engine       engine.Config
	Audio        audio.Config
	VADThreshold float64
	VADNoise     float64
	StateFile    string
	// CaptureQueue > 0 reads audio ahead through a Prefetcher of that depth.
	CaptureQueue int
	MetricsAddr  string
}

func DefaultDevice() Device {
	sess := session.DefaultConfig()
	sess.Address = net.JoinHostPort("localhost", "8080")
	return Device{
		Session:      sess,
		Engine:       engine.DefaultConfig(),
		Audio:        audio.DefaultConfig(),
		VADThreshold: vad.DefaultThreshold,
		VADNoise:     vad.DefaultNoiseLevel,
		StateFile:    "device_state.json",
	}
}

// Detector builds the energy detector the config describes.
func (d Device) Detector() *vad.Energy {
	e := vad.NewEnergy(d.VADThreshold)
	e.NoiseLevel = d.VADNoise
	return e
}

type deviceFile struct {
	ServerAddress       string  `toml:"server_address"`
	ServerPort          int     `toml:"server_port"`
	SampleRate          int     `toml:"sample_rate"`
	FrameSamples        int     `toml:"frame_samples"`
	VADThreshold        float64 `toml:"vad_threshold"`
	VADNoiseLevel       float64 `toml:"vad_noise_level"`
	MaxRetries          int     `toml:"max_retries"`
	HeartbeatInterval   string  `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64   `toml:"heartbeat_interval_ms"`
	ConnectionTimeout   string  `toml:"connection_timeout"`
	ConnectionTimeoutMS int64   `toml:"connection_timeout_ms"`
	ReconnectDelay      string  `toml:"reconnect_delay"`
	ReconnectDelayMS    int64   `toml:"reconnect_delay_ms"`
	ReconnectMultiplier float64 `toml:"reconnect_multiplier"`
	ReconnectMaxDelay   string  `toml:"reconnect_max_delay"`
	ReconnectMaxDelayMS int64   `toml:"reconnect_max_delay_ms"`
	ReconnectJitter     bool    `toml:"reconnect_jitter"`
	AckRetryDelay       string  `toml:"ack_retry_delay"`
	AckRetryDelayMS     int64   `toml:"ack_retry_delay_ms"`
	StateFile           string  `toml:"state_file"`
	AudioSource         string  `toml:"audio_source"`
	AudioLoop           bool    `toml:"audio_loop"`
	CaptureQueue        int     `toml:"capture_queue"`
	MetricsAddr         string  `toml:"metrics_addr"`
}

// LoadDevice overlays the TOML file at path on DefaultDevice. An empty path
// yields the defaults.
func LoadDevice(path string) (Device, error) {
	cfg := DefaultDevice()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	var raw deviceFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Device{}, fmt.Errorf("load device config: %w", err)
	}

	host, port, err := net.SplitHostPort(cfg.Session.Address)
	if err != nil {
		return Device{}, fmt.Errorf("load device config: %w", err)
	}
	if meta.IsDefined("server_address") {
		host = strings.TrimSpace(raw.ServerAddress)
	}
	if meta.IsDefined("server_port") {
		port = strconv.Itoa(raw.ServerPort)
	}
	cfg.Session.Address = net.JoinHostPort(host, port)

	if meta.IsDefined("sample_rate") {
		cfg.Audio.SampleRate = raw.SampleRate
	}
	if meta.IsDefined("frame_samples") {
		cfg.Engine.FrameSamples = raw.FrameSamples
	}
	if meta.IsDefined("vad_threshold") {
		cfg.VADThreshold = raw.VADThreshold
	}
	if meta.IsDefined("vad_noise_level") {
		cfg.VADNoise = raw.VADNoiseLevel
	}
	if meta.IsDefined("max_retries") {
		cfg.Engine.MaxRetries = raw.MaxRetries
	}

	durations := []struct {
		key string
		str string
		ms  int64
		dst *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, raw.HeartbeatIntervalMS, &cfg.Engine.HeartbeatInterval},
		{"connection_timeout", raw.ConnectionTimeout, raw.ConnectionTimeoutMS, &cfg.Session.ConnectTimeout},
		{"reconnect_delay", raw.ReconnectDelay, raw.ReconnectDelayMS, &cfg.Session.Backoff.InitialDelay},
		{"ack_retry_delay", raw.AckRetryDelay, raw.AckRetryDelayMS, &cfg.Engine.AckRetryDelay},
		{"reconnect_max_delay", raw.ReconnectMaxDelay, raw.ReconnectMaxDelayMS, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if err := durationOption(meta, d.key, d.str, d.ms, d.dst); err != nil {
			return Device{}, fmt.Errorf("load device config: %w", err)
		}
	}
	// one timeout governs every socket operation
	cfg.Session.ReadTimeout = cfg.Session.ConnectTimeout
	cfg.Session.WriteTimeout = cfg.Session.ConnectTimeout

	if meta.IsDefined("reconnect_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.ReconnectMultiplier
	}
	if meta.IsDefined("reconnect_jitter") {
		cfg.Session.Backoff.Jitter = raw.ReconnectJitter
	}
	// the dialer fills zero values the same way; keep the engine's copy in step
	cfg.Session = cfg.Session.WithDefaults()
	cfg.Engine.Reconnect = cfg.Session.Backoff

	if meta.IsDefined("state_file") {
		cfg.StateFile = strings.TrimSpace(raw.StateFile)
	}
	if meta.IsDefined("audio_source") {
		cfg.Audio.Path = strings.TrimSpace(raw.AudioSource)
	}
	if meta.IsDefined("audio_loop") {
		cfg.Audio.Loop = raw.AudioLoop
	}
	if meta.IsDefined("capture_queue") {
		cfg.CaptureQueue = raw.CaptureQueue
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.Validate(); err != nil {
		return Device{}, err
	}
	return cfg, nil
}

func (d Device) Validate() error {
	if err := d.Session.Validate(); err != nil {
		return err
	}
	if err := d.Engine.Validate(); err != nil {
		return err
	}
	if d.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate=%d", ErrInvalid, d.Audio.SampleRate)
	}
	if d.VADThreshold <= 0 || d.VADNoise < 0 {
		return fmt.Errorf("%w: vad_threshold=%g vad_noise_level=%g", ErrInvalid, d.VADThreshold, d.VADNoise)
	}
	if strings.TrimSpace(d.StateFile) == "" {
		return fmt.Errorf("%w: state_file is required", ErrInvalid)
	}
	if d.CaptureQueue < 0 {
		return fmt.Errorf("%w: capture_queue=%d", ErrInvalid, d.CaptureQueue)
	}
	return nil
}

// Collector is everything collectorctl needs to run.
type Collector struct {
	Server      collector.Config
	MetricsAddr string
}

func DefaultCollector() Collector {
	return Collector{Server: collector.DefaultConfig()}
}

type collectorFile struct {
	ListenAddr         string `toml:"listen_addr"`
	HeartbeatTimeout   string `toml:"heartbeat_timeout"`
	HeartbeatTimeoutMS int64  `toml:"heartbeat_timeout_ms"`
	WriteTimeout       string `toml:"write_timeout"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
	MaxPayloadBytes    int64  `toml:"max_payload_bytes"`
	AudioDir           string `toml:"audio_dir"`
	WSListenAddr       string `toml:"ws_listen_addr"`
	MetricsAddr        string `toml:"metrics_addr"`
}

func LoadCollector(path string) (Collector, error) {
	cfg := DefaultCollector()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Server.Validate()
	}

	var raw collectorFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Collector{}, fmt.Errorf("load collector config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if err := durationOption(meta, "heartbeat_timeout", raw.HeartbeatTimeout, raw.HeartbeatTimeoutMS, &cfg.Server.HeartbeatTimeout); err != nil {
		return Collector{}, fmt.Errorf("load collector config: %w", err)
	}
	if err := durationOption(meta, "write_timeout", raw.WriteTimeout, raw.WriteTimeoutMS, &cfg.Server.WriteTimeout); err != nil {
		return Collector{}, fmt.Errorf("load collector config: %w", err)
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 || raw.MaxPayloadBytes > int64(^uint32(0)) {
			return Collector{}, fmt.Errorf("%w: max_payload_bytes=%d", ErrInvalid, raw.MaxPayloadBytes)
		}
		cfg.Server.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("audio_dir") {
		cfg.Server.AudioDir = strings.TrimSpace(raw.AudioDir)
	}
	if meta.IsDefined("ws_listen_addr") {
		cfg.Server.WSListenAddr = strings.TrimSpace(raw.WSListenAddr)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	cfg.Server = cfg.Server.WithDefaults()
	if err := cfg.Server.Validate(); err != nil {
		return Collector{}, err
	}
	return cfg, nil
}

// durationOption applies key (a duration string) and key_ms (integer
// milliseconds, which wins when both are set).
func durationOption(meta toml.MetaData, key, str string, ms int64, dst *time.Duration) error {
	if meta.IsDefined(key) {
		d, err := time.ParseDuration(strings.TrimSpace(str))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
	}
	if meta.IsDefined(key + "_ms") {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}
