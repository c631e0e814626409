// Package retry runs capability calls with a fixed-delay retry policy for rate-limited failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRateLimited can be returned (or wrapped) by a capability to request a retry.
	ErrRateLimited = errors.New("rate limited")
	// ErrAttemptsExhausted wraps the last error once every attempt has failed.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

// Defaults used when a Policy field is zero.
const (
	DefaultAttempts = 3
	DefaultDelay    = 10 * time.Second
)

// Policy describes how a call is retried. The zero value retries rate-limited errors
// DefaultAttempts times with DefaultDelay between attempts.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(error) bool
	// Sleep waits between attempts; nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return DefaultAttempts
	}
	return p.Attempts
}

func (p Policy) delay() time.Duration {
	if p.Delay < 0 {
		return 0
	}
	if p.Delay == 0 {
		return DefaultDelay
	}
	return p.Delay
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRateLimited(err)
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
// Non-retryable errors are returned unchanged. After the final attempt the last error is
// wrapped with ErrAttemptsExhausted. op names the call in log output.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("call succeeded after retry", zap.String("op", op), zap.Int("attempt", attempt))
			}
			return v, nil
		}
		if !p.retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logger.Warn("rate limited, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", p.delay()),
			zap.Error(err))
		if err := p.sleep(ctx, p.delay()); err != nil {
			return zero, err
		}
	}
	logger.Error("giving up", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(lastErr))
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrAttemptsExhausted, attempts, lastErr)
}

// IsRateLimited reports whether err signals throttling by a model provider: the
// ErrRateLimited sentinel, an Ollama 429/503 response, a Google API 429, or a gRPC
// ResourceExhausted status.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se api.StatusError
	if errors.As(err, &se) && isThrottleStatus(se.StatusCode) {
		return true
	}
	var sep *api.StatusError
	if errors.As(err, &sep) && sep != nil && isThrottleStatus(sep.StatusCode) {
		return true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}
	return false
}

func isThrottleStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
