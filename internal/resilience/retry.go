// Package resilience retries short datastore operations that fail for
// reasons expected to clear on their own, such as a dropped connection or a
// server restart.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy bounds how an operation is retried. Delays double from Base up to
// Cap, each shifted by up to ±Jitter of itself.
type Policy struct {
	Attempts int // total, including the first
	Base     time.Duration
	Cap      time.Duration
	Jitter   float64

	// Retryable decides which errors are retried. Nil means IsTransient.
	Retryable func(err error) bool

	// Notify is called with the 1-based number of the failed attempt before
	// each wait.
	Notify func(attempt int, err error)
}

// DefaultPolicy keeps an interactive request waiting about a second at most:
// three attempts, 200ms then 400ms apart.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     200 * time.Millisecond,
		Cap:      2 * time.Second,
		Jitter:   0.25,
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Attempts < 1 {
		p.Attempts = def.Attempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the wait after the given 0-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * p.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry calls op until it succeeds, fails with an error the policy does not
// retry, runs out of attempts, or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt+1 >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		if p.Notify != nil {
			p.Notify(attempt+1, err)
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}

// LogRetries returns a Notify func that logs each failed attempt.
func LogRetries(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying datastore operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
