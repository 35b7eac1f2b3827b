package renewal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultCallTimeout = 30 * time.Second
	defaultBackoffBase = 2 * time.Second
	defaultBackoffCap  = 30 * time.Second
)

// httpStatusError carries a non-2xx response so the retry loop can decide
// retryability and honor a server-provided retry hint.
type httpStatusError struct {
	Status     int
	RetryAfter string
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable: rate limiting and server errors. Anything else (401, 404,
// malformed request) will not heal on its own.
func (e *httpStatusError) retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// withRetry runs call up to maxAttempts times, each under its own deadline.
// Transport errors and retryable HTTP statuses back off exponentially with
// jitter capped at the ceiling; a Retry-After hint overrides the computed
// delay. Non-retryable HTTP errors abort immediately.
func (r *Renewer) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	backoff := r.backoffBase
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := call(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return fmt.Errorf("%s failed with non-retryable error: %w", op, err)
		}

		if attempt == r.maxAttempts {
			break
		}

		delay := r.jitter(backoff)
		if statusErr != nil {
			if hint, ok := parseRetryAfter(statusErr.RetryAfter); ok {
				delay = hint
			}
		}
		if delay > r.backoffCap {
			delay = r.backoffCap
		}

		r.logger.Warn("Retryable failure, backing off",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		r.sleep(delay)
		backoff *= 2
		if backoff > r.backoffCap {
			backoff = r.backoffCap
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, r.maxAttempts, lastErr)
}

// jitter picks a random delay in [d/2, d], so successive doubled delays
// never shrink while synchronized retry storms still spread out.
func (r *Renewer) jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(r.rand.Int63n(int64(half)+1))
}

// parseRetryAfter handles the seconds form of the Retry-After header.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// newRand is split out so tests can seed deterministically.
func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
