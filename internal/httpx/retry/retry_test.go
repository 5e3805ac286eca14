package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestBackoffOnRateLimit(t *testing.T) {
	// Provider returns 429 for the first N calls, then 200. The policy must
	// make exactly N+1 calls with strictly increasing delays in between.
	const n = 3

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= n {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var delays []time.Duration
	p := Policy{
		MaxAttempts: n + 2,
		Backoff:     ExponentialBackoff(time.Second, 16*time.Second),
		NetworkWait: 2 * time.Second,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	}

	client := resty.New()
	resp, err := p.Do(context.Background(), func() (*resty.Response, error) {
		return client.R().Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode())
	}

	if got := atomic.LoadInt32(&calls); got != n+1 {
		t.Errorf("expected %d calls, got %d", n+1, got)
	}
	if len(delays) != n {
		t.Fatalf("expected %d sleeps, got %d", n, len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delay %d (%v) not greater than delay %d (%v)", i, delays[i], i-1, delays[i-1])
		}
	}
}

func TestRateLimitExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := Default(3)
	p.Sleep = func(time.Duration) {}

	client := resty.New()
	_, err := p.Do(context.Background(), func() (*resty.Response, error) {
		return client.R().Get(srv.URL)
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestNetworkFailureRetried(t *testing.T) {
	var calls int
	wantErr := errors.New("connection refused")

	p := Default(3)
	p.Sleep = func(time.Duration) {}

	_, err := p.Do(context.Background(), func() (*resty.Response, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last network error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestNonRateLimitResponseReturnedAsIs(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := Default(4)
	p.Sleep = func(time.Duration) {}

	client := resty.New()
	resp, err := p.Do(context.Background(), func() (*resty.Response, error) {
		return client.R().Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode() != http.StatusForbidden {
		t.Fatalf("expected 403 passed through, got %d", resp.StatusCode())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("non-429 response must not be retried, got %d calls", got)
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	b := ExponentialBackoff(time.Second, 16*time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{10, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := b(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
