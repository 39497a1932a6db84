package arbor

import (
	"errors"
	"time"
)

// RetryPolicy controls how ExecRetry re-runs a failed flow.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt; values <= 0 mean 2.0.
	BackoffMultiplier float64

	// MaxBackoff caps the delay; <= 0 means no cap.
	MaxBackoff time.Duration
}

// RetryBuilder provides a fluent way to construct RetryPolicy values.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		policy: RetryPolicy{MaxAttempts: maxAttempts},
	}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = initial
	p.MaxBackoff = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.BackoffMultiplier = multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff configures a constant backoff between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = delay
	p.MaxBackoff = 0
	p.BackoffMultiplier = 1.0
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries. Retries still respect
// MaxAttempts.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.InitialBackoff = 0
	p.MaxBackoff = 0
	p.BackoffMultiplier = 0
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

// ExecRetry executes f under parent, re-executing it per the policy when it
// fails. Each attempt gets a fresh child context; journaled work inside the
// flow replays across attempts because attempts share the same root and flow
// name. Retrying stops early when the parent's context is cancelled, and
// cancellation and parse failures are never retried.
func ExecRetry[In, Out any](parent *ExecutionContext, f *Flow[In, Out], input In, policy RetryPolicy, opts ...ExecOption) (Out, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var out Out
	var err error
	backoff := policy.InitialBackoff
	for attempt := 1; ; attempt++ {
		out, err = Exec(parent, f, input, opts...)
		if err == nil || attempt >= attempts || !retryable(err) {
			return out, err
		}

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-parent.Context().Done():
				timer.Stop()
				return out, err
			case <-timer.C:
			}
			multiplier := policy.BackoffMultiplier
			if multiplier <= 0 {
				multiplier = 2.0
			}
			backoff = time.Duration(float64(backoff) * multiplier)
			if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		} else if parentErr := parent.Context().Err(); parentErr != nil {
			return out, err
		}
	}
}

func retryable(err error) bool {
	var cancelled *CancelledError
	var timedOut *TimeoutError
	var parse *ParseError
	return !errors.As(err, &cancelled) && !errors.As(err, &timedOut) && !errors.As(err, &parse)
}
