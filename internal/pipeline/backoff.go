package pipeline

import (
	"math"
	"math/rand"
	"time"
)

const (
	retryBaseDelay  = 5 * time.Minute
	retryMaxDelay   = 24 * time.Hour
	retryJitterFrac = 0.20
)

// RetryDelay computes the backoff before the next retry of a failed signal:
// min(base * 2^(attempt-1), max) with ±20% uniform jitter so a burst of
// simultaneously-failed signals does not retry in lockstep. Never returns
// a non-positive duration.
func RetryDelay(attempt int) time.Duration {
	return jitter(BaseRetryDelay(attempt))
}

// BaseRetryDelay is the pre-jitter delay; exposed so tests can assert on the
// deterministic part of the curve.
func BaseRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
	if d > retryMaxDelay || d <= 0 {
		d = retryMaxDelay
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * retryJitterFrac
	low := float64(d) - delta
	out := time.Duration(low + rand.Float64()*2*delta)
	if out <= 0 {
		out = time.Millisecond
	}
	return out
}
