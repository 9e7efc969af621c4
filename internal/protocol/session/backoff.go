package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the delay before redial attempt N (1-based). With
// jitter the delay is scaled by a factor in [0.5, 1.5) and still capped at
// MaxDelay. A nil rng uses the low end of the jitter range.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	mult := math.Max(cfg.Multiplier, 1)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	return time.Duration(delay)
}
