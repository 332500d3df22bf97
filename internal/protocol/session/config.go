package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAddressRequired = errors.New("session: collector address required")
	ErrInvalidTimeout  = errors.New("session: invalid timeout")
	ErrInvalidBackoff  = errors.New("session: invalid backoff")
)

// BackoffConfig defines the delay between connect attempts.
// Multiplier 1.0 without jitter is a fixed delay.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	Address        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        BackoffConfig
}

// DefaultConfig returns the device defaults: one 5s timeout for every socket
// operation and a fixed 5s reconnect delay.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   1.0,
			MaxDelay:     0,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf(
			"%w: connect=%s read=%s write=%s",
			ErrInvalidTimeout,
			c.ConnectTimeout,
			c.ReadTimeout,
			c.WriteTimeout,
		)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.Multiplier < 1.0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf(
			"%w: initial=%s multiplier=%g max=%s",
			ErrInvalidBackoff,
			c.Backoff.InitialDelay,
			c.Backoff.Multiplier,
			c.Backoff.MaxDelay,
		)
	}
	return nil
}
