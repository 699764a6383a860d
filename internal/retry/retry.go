// Package retry wraps a synchronous call with bounded retries and fixed
// backoff, for the transient connection/timeout failures that store,
// broker, and runtime-client initialization calls can hit.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy bounds how many times a call is retried and how long to wait
// between attempts.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	// Classify reports whether err is worth retrying. Nil means "retry
	// any non-nil error" — callers with a narrower notion of transient
	// failure (connection/timeout only) should supply one.
	Classify func(error) bool
}

// Store is the retry policy for Submission Record reads/writes:
// N=2 retries, 2s backoff.
func Store() Policy {
	return Policy{MaxRetries: 2, Backoff: 2 * time.Second}
}

// RuntimeClientInit is the retry policy for container-runtime client
// initialization: N=4 retries, 10s backoff.
func RuntimeClientInit() Policy {
	return Policy{MaxRetries: 4, Backoff: 10 * time.Second}
}

// NoRetry is used for image pre-pull: any failure is fatal.
func NoRetry() Policy {
	return Policy{MaxRetries: 0, Backoff: 0}
}

// Do runs fn, retrying up to p.MaxRetries times with a fixed p.Backoff
// sleep between attempts whenever p.Classify(err) (or err != nil, if
// Classify is unset) is true. A non-retryable error propagates
// immediately. ctx cancellation aborts the backoff sleep.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	classify := p.Classify
	if classify == nil {
		classify = func(error) bool { return true }
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", p.Backoff).
			Err(lastErr).
			Msg("retrying after transient error")

		select {
		case <-time.After(p.Backoff):
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return lastErr
}
