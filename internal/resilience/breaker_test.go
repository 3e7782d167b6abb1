package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failing(_ context.Context) (string, error) {
	return "", errors.New("fail")
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	got, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "Campinas", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Campinas" {
		t.Errorf("expected Campinas, got %q", got)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		_, _ = ExecuteVal(context.Background(), cb, failing)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		t.Error("should not be called when circuit is open")
		return "", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	_, _ = ExecuteVal(context.Background(), cb, failing)
	_, _ = ExecuteVal(context.Background(), cb, failing)
	_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	_, _ = ExecuteVal(context.Background(), cb, failing)
	_, _ = ExecuteVal(context.Background(), cb, failing)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.nowFunc = func() time.Time { return now }

	_, _ = ExecuteVal(context.Background(), cb, failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open state, got %s", cb.State())
	}

	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }

	_, _ = ExecuteVal(context.Background(), cb, failing)
	now = now.Add(11 * time.Second)
	_, _ = ExecuteVal(context.Background(), cb, failing)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state, got %s", cb.State())
	}
}

func TestExecuteVal_NilBreaker(t *testing.T) {
	got, err := ExecuteVal(context.Background(), nil, func(_ context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Errorf("expected 7, nil; got %d, %v", got, err)
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(2, 45)
	if cfg.FailureThreshold != 2 {
		t.Errorf("expected threshold 2, got %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.ResetTimeout)
	}

	def := FromCircuitConfig(0, 0)
	if def.FailureThreshold != 5 || def.ResetTimeout != 30*time.Second {
		t.Errorf("expected defaults, got %+v", def)
	}
}
