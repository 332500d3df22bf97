package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/edgevox/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("engine: invalid config")

// Config holds every reliability tunable.
type Config struct {
	FrameSamples      int
	MaxRetries        int
	HeartbeatInterval time.Duration
	AckRetryDelay     time.Duration
	// Reconnect spaces connect attempts, within and between batches.
	Reconnect session.BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		FrameSamples:      1024,
		MaxRetries:        3,
		HeartbeatInterval: 30 * time.Second,
		AckRetryDelay:     100 * time.Millisecond,
		Reconnect:         session.DefaultConfig().Backoff,
	}
}

func (c Config) Validate() error {
	if c.FrameSamples <= 0 {
		return fmt.Errorf("%w: frame_samples=%d", ErrInvalidConfig, c.FrameSamples)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: max_retries=%d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval=%s", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.AckRetryDelay < 0 || c.Reconnect.InitialDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	return nil
}
