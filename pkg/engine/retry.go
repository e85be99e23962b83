package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/openfroyo/herd/pkg/telemetry"
)

// RetryFunc is a task body that is told which attempt it is on, starting
// at zero.
type RetryFunc func(ctx context.Context, t *Task, attempt int) (any, error)

// RetryOption configures Retry.
type RetryOption func(*retryPolicy)

type retryPolicy struct {
	backoff func(attempt int, err error) time.Duration
}

// WithBackoff waits between attempts, starting at the base delay for the
// error class and doubling on every attempt up to one minute.
func WithBackoff() RetryOption {
	return func(p *retryPolicy) { p.backoff = calculateBackoff }
}

// WithBackoffFunc waits fn(attempt, err) between attempts.
func WithBackoffFunc(fn func(attempt int, err error) time.Duration) RetryOption {
	return func(p *retryPolicy) { p.backoff = fn }
}

// Retry returns a task body invoking fn up to attempts times until it
// returns no error. Permanent errors are not retried. The error of the last
// attempt is returned as is. Panics are not retried; the Task layer turns
// them into failed results.
func Retry(attempts int, fn RetryFunc, opts ...RetryOption) Func {
	p := &retryPolicy{}
	for _, opt := range opts {
		opt(p)
	}
	if attempts < 1 {
		attempts = 1
	}

	return func(ctx context.Context, t *Task) (any, error) {
		var (
			out any
			err error
		)
		for attempt := 0; attempt < attempts; attempt++ {
			out, err = fn(ctx, t, attempt)
			if err == nil || !IsRetryable(err) || attempt == attempts-1 {
				break
			}

			telemetry.AddRetryEvent(telemetry.SpanFromContext(ctx), attempt+1, err)
			t.Logger().Debug().Err(err).
				Int("attempt", attempt+1).
				Int("attempts", attempts).
				Msg("Retrying after failure")

			if p.backoff == nil {
				continue
			}
			select {
			case <-time.After(p.backoff(attempt, err)):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		return out, err
	}
}

// calculateBackoff doubles the base delay of the error class on every
// attempt, caps it at one minute and spreads it by up to 25% either way.
func calculateBackoff(attempt int, err error) time.Duration {
	base := time.Second
	switch {
	case IsThrottled(err):
		base = 5 * time.Second
	case IsConflict(err):
		base = 2 * time.Second
	}

	delay := base * time.Duration(math.Pow(2, float64(min(attempt, 10))))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay + time.Duration(jitter()*0.25*float64(delay))
}

// jitter returns a value in [-1, 1).
var jitter = func() float64 { return rand.Float64()*2 - 1 }
