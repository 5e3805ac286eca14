package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrRateLimited is returned when every attempt ended in a rate-limit
// response from the upstream.
var ErrRateLimited = errors.New("rate limited: retries exhausted")

// BackoffFunc returns how long to wait before the next attempt, given the
// 1-based number of the attempt that just failed.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles the wait on every attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Policy executes a single outbound call with resilience against the
// provider's rate limiting and transient network failures:
//
//   - HTTP 429: wait Backoff(attempt), retry, consuming one attempt.
//   - transport failure (no response): wait NetworkWait, retry.
//   - any other response, 2xx or not: returned as-is, the caller decides.
//
// After MaxAttempts the last observed error is surfaced.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	NetworkWait time.Duration

	// Sleep replaces the real wait in tests. Nil means context-aware
	// time.Sleep.
	Sleep func(time.Duration)
}

// Default returns the policy used for provider calls: maxAttempts tries,
// 1s doubling backoff capped at 16s for rate limits, 2s flat for network
// failures.
func Default(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     ExponentialBackoff(time.Second, 16*time.Second),
		NetworkWait: 2 * time.Second,
	}
}

// Do runs call until it yields a non-rate-limited response or attempts are
// exhausted.
func (p Policy) Do(ctx context.Context, call func() (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		resp, err := call()
		if err != nil {
			lastErr = err
			if attempt == p.MaxAttempts {
				break
			}
			if werr := p.wait(ctx, p.NetworkWait); werr != nil {
				return nil, werr
			}
			continue
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			if attempt == p.MaxAttempts {
				break
			}
			if werr := p.wait(ctx, p.Backoff(attempt)); werr != nil {
				return nil, werr
			}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		p.Sleep(d)
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
