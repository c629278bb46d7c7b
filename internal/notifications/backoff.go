package notifications

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns base*2^attempt capped at maxDelay, plus up to
// 250ms of jitter. attempt is zero-based.
func ExponentialBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	// attempt=0 => base
	// attempt=1 => 2*base
	// attempt=2 => 4*base

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	// small jitter (0-250ms) to avoid thundering herd
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
