package retry

import (
	"context"
	"fmt"
	"time"
)

// BackoffMode selects how the delay grows between attempts.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       BackoffMode   // fixed|linear|exponential
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // maximum retry attempts after the first failure
}

// DefaultPolicy returns the pipeline default: exponential, 2s base, 3 total attempts.
func DefaultPolicy() Policy {
	return Policy{Mode: BackoffExponential, Initial: 2 * time.Second, Max: 5 * time.Minute, MaxRetries: 2}
}

// SmartFilterPolicy returns the stage-2 simplifier policy: linear, 5s base, 5 total attempts.
func SmartFilterPolicy() Policy {
	return Policy{Mode: BackoffLinear, Initial: 5 * time.Second, Max: 5 * time.Minute, MaxRetries: 4}
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case BackoffFixed:
		d = p.Initial
	case BackoffExponential:
		d = p.Initial * (1 << (retryCount - 1))
	default: // linear
		d = time.Duration(retryCount) * p.Initial
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Do runs fn up to 1+MaxRetries times, sleeping per Delay between attempts.
// retryable filters which errors are worth another attempt; a nil retryable
// retries everything. The last error is returned when the budget is spent.
// onRetry, if non-nil, observes each retry (1-based) before the sleep.
func (p Policy) Do(ctx context.Context, fn func() error, retryable func(error) bool, onRetry func(retry int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			select {
			case <-time.After(p.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
