package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &RetryableError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return &RetryableError{StatusCode: 429}
	})
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		return &RetryableError{StatusCode: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFromResponse(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"2"}}}
	err := FromResponse(resp, []byte("slow down"))
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if re.RetryAfter != 2*time.Second {
		t.Errorf("expected retry-after 2s, got %s", re.RetryAfter)
	}

	if FromResponse(&http.Response{StatusCode: http.StatusBadRequest}, nil) != nil {
		t.Error("400 should not be retryable")
	}
}

func TestBackoff_Capped(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	for attempt := range 10 {
		if d := p.Backoff(attempt); d > 6*time.Second {
			t.Errorf("attempt %d: backoff %s exceeds cap plus jitter", attempt, d)
		}
	}
}
