// Package retry wraps fallible operations with exponential backoff and
// jitter, retrying only errors classified as throttling.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// maxJitter is the upper bound of the random addition to each delay.
// Jitter prevents synchronized retry storms across concurrent queries.
const maxJitter = time.Second

// Policy configures retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the backoff base; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
	// OnRetry, when set, is invoked before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

func (p Policy) sanitized() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Classifier reports whether an error is a throttling error worth retrying.
type Classifier func(error) bool

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made (1 when no retry occurred).
	Attempts int
	// Err is the last error (nil on success).
	Err error
	// Duration is the total time spent including backoff sleeps.
	Duration time.Duration
}

// Do executes op, retrying up to policy.MaxRetries times when classify
// reports the error as throttling. Non-retryable errors return immediately
// with Attempts=1 (or however many attempts had been made). Exhausting the
// budget returns the last error with Attempts = MaxRetries + 1.
func Do(ctx context.Context, policy Policy, classify Classifier, op func() error) Result {
	policy = policy.sanitized()
	if classify == nil {
		classify = IsThrottling
	}

	start := time.Now()
	result := Result{}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}

		err := op()
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if !classify(err) || attempt >= policy.MaxRetries {
			break
		}

		delay := Backoff(attempt, policy.BaseDelay, policy.MaxDelay)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(delay):
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, policy Policy, classify Classifier, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, policy, classify, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// Backoff computes the delay before retrying a failed attempt (0-based):
// min(maxDelay, base * 2^attempt) plus uniform jitter in [0, 1s).
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base << uint(attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(maxJitter))) // #nosec G404 -- jitter does not require cryptographic randomness
	return delay + jitter
}

// IsThrottling matches known throttling signatures: HTTP 429 or a message
// mentioning rate limiting.
func IsThrottling(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests")
}
