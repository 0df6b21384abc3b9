// Package retry holds the transient-failure handling shared by the HTTP
// capability adapters.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // From the Retry-After header, if any.
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, Truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// FromResponse returns a RetryableError for 429 and 5xx responses, nil otherwise.
func FromResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
		return nil
	}
	e := &RetryableError{StatusCode: resp.StatusCode, Message: string(body)}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

// Policy bounds the attempts and delays of Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy makes three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	base := p.BaseDelay << uint(attempt)
	if base > p.MaxDelay || base <= 0 {
		base = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	return base + jitter
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. It returns the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var err error
	for attempt := range p.MaxAttempts {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := p.Backoff(attempt)
		var retryErr *RetryableError
		if errors.As(err, &retryErr) && retryErr.RetryAfter > 0 {
			wait = min(retryErr.RetryAfter, p.MaxDelay)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Truncate shortens s to at most n bytes for error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
