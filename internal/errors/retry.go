package errors

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter adds 0-30% randomness to each delay to prevent thundering herd.
	Jitter bool

	// OnRetry is called before each retry with the attempt number (1-based)
	// and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used for embedding batches:
// 3 retries, 1s initial delay, doubling, capped at 10s, with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RerankRetryConfig returns the tighter retry policy for the reranker:
// 2 attempts total, 0.5s initial delay, capped at 5s.
func RerankRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryableFragments are error-message substrings treated as transient when
// the error is not already classified.
var retryableFragments = []string{
	"econnreset",
	"etimedout",
	"econnrefused",
	"connection reset",
	"connection refused",
	"fetch failed",
	"network",
	"broken pipe",
	"429",
	"502",
	"503",
	"504",
}

// RetryableMessage reports whether an unclassified error message looks
// transient.
func RetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, frag := range retryableFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Retry executes fn with exponential backoff. Non-retryable errors
// propagate immediately; retryable errors are retried up to MaxRetries
// times. If the context is cancelled it returns the context error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function returning a value with retry logic.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, Timeout("operation cancelled", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Non-retryable errors propagate immediately.
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		waitDelay := delay
		if cfg.Jitter {
			waitDelay = time.Duration(float64(delay) * (1.0 + rand.Float64()*0.3))
		}

		select {
		case <-ctx.Done():
			return zero, Timeout("operation cancelled", ctx.Err())
		case <-time.After(waitDelay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
