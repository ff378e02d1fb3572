package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := Integrity("embedding dimension mismatch")

	assert.True(t, IsKind(err, KindIntegrity))
	assert.False(t, IsKind(err, KindTransient))
	assert.Equal(t, KindIntegrity, KindOf(err))
}

func TestErrorKindThroughWrapping(t *testing.T) {
	inner := Transient("connection reset by peer", nil)
	wrapped := fmt.Errorf("embed batch 3: %w", inner)

	assert.True(t, IsKind(wrapped, KindTransient))
	assert.True(t, IsRetryable(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsRetryableByMessage(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"http 429", stderrors.New("upstream returned 429 Too Many Requests"), true},
		{"http 503", stderrors.New("status 503"), true},
		{"connection reset", stderrors.New("read tcp: connection reset"), true},
		{"fetch failed", stderrors.New("fetch failed"), true},
		{"validation", Validation("empty query"), false},
		{"plain 400", stderrors.New("status 400 bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(t.Context(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return Transient("temporary", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, Multiplier: 2.0}

	err := Retry(t.Context(), cfg, func() error {
		attempts++
		return Validation("bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsKind(err, KindValidation))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	onRetryCalls := 0
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		OnRetry:      func(int, error) { onRetryCalls++ },
	}

	err := Retry(t.Context(), cfg, func() error {
		attempts++
		return Transient("still down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.Equal(t, 2, onRetryCalls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2.0}
	attempts := 0

	got, err := RetryWithResult(t.Context(), cfg, func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", Transient("flaky", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
