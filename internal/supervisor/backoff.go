package supervisor

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the retry delay curve for failed connection
// attempts.
type BackoffConfig struct {
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier scales the delay per attempt. Values <= 1 disable
	// growth.
	Multiplier float64

	// Jitter is the random fraction applied on top, 0..1. A jitter of
	// 0.25 spreads each delay over ±25%.
	Jitter float64
}

func (b *BackoffConfig) applyDefaults() {
	if b.InitialDelay <= 0 {
		b.InitialDelay = time.Second
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 60 * time.Second
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2.0
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = 0.25
	}
}

// Next returns the delay before retry number attempt (1-based).
func (b BackoffConfig) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		// Spread over [delay*(1-j), delay*(1+j)].
		delay *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
