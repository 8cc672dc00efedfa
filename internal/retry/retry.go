package retry

import (
	"context"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
)

// Policy bounds how often and how fast a transient failure is retried.
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
	}
}

// Backoff returns the wait before attempt n+1, n counted from 1.
func (p Policy) Backoff(n int) time.Duration {
	d := p.InitialBackoff
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Observer is told about every retry that is about to happen.
type Observer func(attempt int, err error)

// Do runs fn until it succeeds, fails with a non-transient error, the
// attempts are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, observe ...Observer) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !apperr.IsTransient(err) || n == attempts {
			return err
		}
		for _, o := range observe {
			o(n, err)
		}

		timer := time.NewTimer(p.Backoff(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperr.E(apperr.Transient, "retry.Do", ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
