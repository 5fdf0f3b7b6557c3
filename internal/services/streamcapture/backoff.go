package streamcapture

import (
	"math/rand/v2"
	"time"

	"kepler-multicam-go/internal/config"
)

// Backoff computes reconnect delays
type Backoff struct {
	Min       time.Duration
	Max       time.Duration
	JitterPct int
}

func NewBackoff(cfg *config.Config) Backoff {
	return Backoff{
		Min:       cfg.ReconnectBackoffMin,
		Max:       cfg.ReconnectBackoffMax,
		JitterPct: cfg.ReconnectJitterPct,
	}
}

// Delay calculates jittered exponential backoff delay for a 1-based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		attempt = 31
	}

	// Base delay with exponential backoff
	baseDelay := b.Min << (attempt - 1)

	// Clamp to configured min/max
	if baseDelay < b.Min || baseDelay <= 0 {
		baseDelay = b.Min
	}
	if b.Max > 0 && baseDelay > b.Max {
		baseDelay = b.Max
	}

	// Add jitter (random percentage of the delay)
	jitterPct := float64(b.JitterPct) / 100.0
	jitter := time.Duration(float64(baseDelay) * jitterPct * (rand.Float64()*2 - 1))

	delay := baseDelay + jitter
	if delay < 0 {
		return 0
	}
	return delay
}
