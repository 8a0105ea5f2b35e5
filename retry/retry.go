// ABOUTME: Retry policy for API calls with injectable sleep
// ABOUTME: Retries transient errors up to a fixed budget with optional backoff
package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/errs"
)

// Policy describes how an operation is retried. Only transient errors are
// retried; auth, data, and rate-limit errors surface immediately.
type Policy struct {
	MaxAttempts   int
	Delay         time.Duration
	BackoffFactor float64

	// Sleep is swapped for a recording func in tests. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, BackoffFactor: 1.0}
}

// Exponential returns a policy that doubles the delay after each attempt.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: base, BackoffFactor: 2.0}
}

// Do runs fn until it succeeds, returns a non-transient error, or the attempt
// budget is spent. Cancellation is honored between attempts.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := p.Delay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.WithFields(log.Fields{"op": op, "attempt": attempt}).Info("succeeded after retry")
			}
			return nil
		}

		if !errs.IsTransient(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			log.WithFields(log.Fields{
				"op":      op,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(lastErr).Warn("transient failure, retrying")
			sleep(delay)
			if p.BackoffFactor > 1.0 {
				delay = time.Duration(float64(delay) * p.BackoffFactor)
			}
		}
	}

	return lastErr
}
