package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns how long the engine waits before connect attempt
// N (1-based). The engine calls it between attempts inside a connect batch
// and again before each new batch, so reconnect_delay, reconnect_multiplier,
// reconnect_max_delay and reconnect_jitter all land here. With the default
// multiplier of 1 every wait equals InitialDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	growth := math.Pow(math.Max(cfg.Multiplier, 1.0), float64(attempt-1))
	delay := float64(cfg.InitialDelay) * growth
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if !cfg.Jitter {
		return time.Duration(delay)
	}
	// jitter scales the wait into [0.5, 1.5)
	scale := 0.5
	if rng != nil {
		scale += rng.Float64()
	}
	return time.Duration(delay * scale)
}
