// Package resiliency provides bounded retries with deterministic backoff and
// a circuit breaker for calls to external services.
package resiliency

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultPolicy retries three times starting at 200ms.
var DefaultPolicy = Policy{
	Base:        200 * time.Millisecond,
	Max:         5 * time.Second,
	MaxJitter:   100 * time.Millisecond,
	MaxAttempts: 4,
}

// Backoff returns the delay before retry number attempt (1-based). Jitter is
// derived from key and attempt, so a given operation always waits the same.
func (p Policy) Backoff(key string, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := p.Base * time.Duration(int64(1)<<shift)
	if p.Max > 0 && (d > p.Max || d <= 0) {
		d = p.Max
	}
	return d + p.jitter(key, attempt)
}

func (p Policy) jitter(key string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, attempt)))
	return time.Duration(binary.BigEndian.Uint64(sum[:8]) % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is positive
}

// Retry runs fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx ends. The last error is returned.
func Retry(ctx context.Context, p Policy, key string, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(key, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			case <-timer.C:
			}
		}
		err = fn(ctx, attempt)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
