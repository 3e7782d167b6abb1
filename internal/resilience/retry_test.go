package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	got, err := DoVal(context.Background(), DefaultRetryConfig(), func(_ context.Context) (string, error) {
		calls++
		return "SP", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SP" || calls != 1 {
		t.Errorf("expected SP after 1 call, got %q after %d", got, calls)
	}
}

func TestDoVal_RetriesTransient(t *testing.T) {
	var calls int
	got, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("busy"), http.StatusServiceUnavailable)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("expected 42 after 3 calls, got %d after %d", got, calls)
	}
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var calls int
	var retried []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("down"), http.StatusBadGateway)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("expected one retry callback, got %v", retried)
	}
}

func TestDoVal_PermanentErrorStops(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(5), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
	}

	var calls int
	done := make(chan error, 1)
	go func() {
		_, err := DoVal(ctx, cfg, func(_ context.Context) (int, error) {
			calls++
			return 0, NewTransientError(errors.New("slow"), http.StatusTooManyRequests)
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("DoVal did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestComputeBackoff_Capped(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2.0,
	})
	cfg.JitterFraction = 0

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := computeBackoff(attempt, cfg); got != w {
			t.Errorf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
}

func TestComputeBackoff_JitterBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	for i := 0; i < 100; i++ {
		got := computeBackoff(0, cfg)
		if got < 75*time.Millisecond || got > 125*time.Millisecond {
			t.Fatalf("backoff %s outside jitter bounds", got)
		}
	}
}

func TestFromRetryAttempts(t *testing.T) {
	if got := FromRetryAttempts(4).MaxAttempts; got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	if got := FromRetryAttempts(0).MaxAttempts; got != 3 {
		t.Errorf("expected default 3, got %d", got)
	}
}
