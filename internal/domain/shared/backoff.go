package shared

import (
	"math/rand"
	"time"
)

// BackoffDelay computes the retry delay for the given attempt using
// exponential growth capped at max, multiplied by full jitter in [0.5, 1.5).
// attempt is zero-based: attempt 0 yields roughly base.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// JitteredDelay applies the same [0.5, 1.5) jitter to a fixed delay
// (used for lock-contention re-queues where growth is not wanted).
func JitteredDelay(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
