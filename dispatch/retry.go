package dispatch

import (
	"math"
	"time"
)

// RetryPolicy controls how ExecuteWithRetry spaces out attempts.
//
// The pause before retry n (0-based) is InitialDelay * BackoffRatio^n,
// capped at MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	// MaxRetries counts retries, not attempts: 0 runs fn once.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// BackoffRatio below 1 is treated as 1 (constant delay).
	BackoffRatio float64
}

// DefaultRetryPolicy retries three times: 100ms, 200ms, 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BackoffRatio: 2,
	}
}

// NoRetry runs the task exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Attempts is the total number of runs the policy allows.
func (p RetryPolicy) Attempts() int {
	return max(p.MaxRetries, 0) + 1
}

// Delay returns the pause before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	ratio := max(p.BackoffRatio, 1)
	d := float64(p.InitialDelay) * math.Pow(ratio, float64(max(n, 0)))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
