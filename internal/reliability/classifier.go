package reliability

import (
	"math/rand"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// BackoffWithJitter spreads retries of the tool-decision call so parallel
// conversations don't hammer the completion endpoint in lockstep. The
// streaming reply is never retried to avoid duplicate assistant messages.
func BackoffWithJitter(attempt int, base, cap time.Duration) time.Duration {
	d := ExponentialBackoff(attempt, base, cap)
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
