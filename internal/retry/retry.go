// Package retry provides the backoff policy shared by outbound HTTP calls and
// LLM invocations.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times and how fast an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// RetryableStatuses lists HTTP status codes worth another attempt.
	RetryableStatuses []int
}

// DefaultPolicy mirrors the transport defaults: three attempts, 500ms doubling
// up to 10s, retrying 429 and the common gateway errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       10 * time.Second,
		Multiplier:        2,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// None performs exactly one attempt.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Notify is called before each retry with the error and the upcoming wait.
type Notify func(err error, wait time.Duration)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsRetryableStatus reports whether an HTTP status is in the policy's list.
func (p Policy) IsRetryableStatus(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	// Attempts bound the loop, not wall time.
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}, p.backOff(ctx), backoff.Notify(notify))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify Notify) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, notify)
	return out, err
}
