package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgevox/internal/protocol"
)

var ErrInvalidConfig = errors.New("collector: invalid config")

type Config struct {
	ListenAddr string
	// HeartbeatTimeout closes a device that sends nothing for this long.
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	MaxPayloadBytes  uint32
	// AudioDir receives one .raw file per accepted packet when set.
	AudioDir     string
	WSListenAddr string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":8080",
		HeartbeatTimeout: 35 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxPayloadBytes:  protocol.DefaultLimits().MaxPayloadBytes,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	c.AudioDir = strings.TrimSpace(c.AudioDir)
	c.WSListenAddr = strings.TrimSpace(c.WSListenAddr)
	return c
}

func (c Config) Validate() error {
	if c.HeartbeatTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat_timeout=%s write_timeout=%s", ErrInvalidConfig, c.HeartbeatTimeout, c.WriteTimeout)
	}
	if c.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: max_payload_bytes=0", ErrInvalidConfig)
	}
	return nil
}
