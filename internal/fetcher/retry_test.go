package fetcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hyanglab/noticebot/internal/board"
)

func TestShouldRetry(t *testing.T) {
	p := NewExponentialRetryPolicy(3, 100*time.Millisecond, time.Second)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"connection error", fmt.Errorf("connection reset"), 1, true},
		{"rate limited", &board.FetchError{StatusCode: 429}, 1, true},
		{"server error", &board.FetchError{StatusCode: 503}, 1, true},
		{"not found", &board.FetchError{StatusCode: 404}, 1, false},
		{"forbidden", &board.FetchError{StatusCode: 403}, 1, false},
		{"wrapped server error", fmt.Errorf("fetch: %w", &board.FetchError{StatusCode: 500}), 1, true},
		{"canceled", context.Canceled, 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"attempts exhausted", fmt.Errorf("transient"), 3, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	p := NewExponentialRetryPolicy(5, base, max)

	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0), "attempt %d", attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
	}

	// Later attempts wait at least half the (capped) exponential delay.
	assert.GreaterOrEqual(t, p.Backoff(4), max/2)
}

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	p := NewExponentialRetryPolicy(0, 0, 0)
	assert.Equal(t, 1, p.maxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.baseDelay)
	assert.Equal(t, 5*time.Second, p.maxDelay)
}
