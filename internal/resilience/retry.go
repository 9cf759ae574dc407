package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// RetryPolicy describes how one provider is retried before the caller moves
// on. The zero value makes exactly one attempt.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Backoff returns the pause after the given zero-based failed attempt.
	// Nil means no pause.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
}

// NoRetry is a single-attempt policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

// LinearBackoff returns a backoff of step×(attempt+1).
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

// RetryOnStatus returns a classifier that retries HTTP answers with one of
// the given status codes and any error that carries no status at all
// (transport failures, timeouts reported by the HTTP client). Context
// cancellation is never retried.
func RetryOnStatus(codes ...int) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		code, ok := tts.StatusCode(err)
		if !ok {
			return true
		}
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	}
}

// ModelLoading is the status the Hugging Face inference API returns while a
// cold model is being loaded.
const ModelLoading = http.StatusServiceUnavailable

// sleepFunc waits for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn up to p.Attempts times. It stops early on success, on a
// non-retryable error, or when ctx ends while waiting. The returned error is
// the last one fn produced.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.do(ctx, sleepCtx, fn)
}

func (p RetryPolicy) do(ctx context.Context, sleep sleepFunc, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := range attempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%w (retry aborted: %v)", err, serr)
		}
	}
	return err
}
