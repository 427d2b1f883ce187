package pipewright

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v57/github"
)

// Retry defaults for rate-limited tracker mutations.
const (
	// DefaultRetryAttempts is the total number of attempts per call.
	DefaultRetryAttempts = 3

	// DefaultRetryBase is the initial wait between attempts, doubling each retry.
	DefaultRetryBase = 1 * time.Second
)

// retrier wraps tracker calls with retry-on-rate-limit. Only rate-limit
// classified failures are retried; everything else propagates immediately so
// non-idempotent calls are never blindly repeated.
type retrier struct {
	attempts uint64
	base     time.Duration
	logger   *slog.Logger
}

func newRetrier(logger *slog.Logger) *retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrier{
		attempts: DefaultRetryAttempts,
		base:     DefaultRetryBase,
		logger:   logger,
	}
}

// Do runs fn, retrying on rate-limit errors with exponential backoff.
func (r *retrier) Do(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = r.base * 8

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimit(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("rate limited, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.attempts-1), ctx))
}

// IsRateLimit classifies an error as a tracker rate-limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode == http.StatusForbidden ||
			gwErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
