// Package retry provides the retry policy shared by every provider client.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Decision is the outcome of classifying an error.
type Decision int

const (
	// Fatal stops retrying and returns the error
	Fatal Decision = iota
	// Backoff retries after the policy's backoff delay
	Backoff
	// Immediate retries without a policy delay; the operation gates itself
	// (for example through a rate limiter cooldown)
	Immediate
)

// Policy retries an operation up to MaxAttempts times in total.
type Policy struct {
	MaxAttempts int
	Classify    func(err error) Decision
	Backoff     func(attempt int) time.Duration

	// Sleep waits between attempts; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each retry with the attempt that failed
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs op until it succeeds, a Fatal error occurs, attempts run out or
// ctx is done. It returns the last error seen.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx, attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		decision := Backoff
		if p.Classify != nil {
			decision = p.Classify(err)
		}
		if decision == Fatal {
			return err
		}

		var delay time.Duration
		if decision == Backoff && p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

// Exponential returns base * 2^(attempt-1) capped at maxDelay, plus up to
// jitter * delay of random extra time.
func Exponential(base, maxDelay time.Duration, jitter float64) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		delay := base
		for i := 1; i < attempt && delay < maxDelay; i++ {
			delay *= 2
		}
		delay = min(delay, maxDelay)
		if jitter > 0 {
			delay += time.Duration(rand.Float64() * jitter * float64(delay))
		}
		return delay
	}
}

// Sleep waits for d using a timer, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
