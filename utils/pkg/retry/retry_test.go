package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type conflictErr struct{ retry bool }

func (e *conflictErr) Error() string   { return "publish already in flight" }
func (e *conflictErr) Retryable() bool { return e.retry }

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestLake_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != 500*time.Millisecond {
		t.Errorf("expected BaseBackoff=500ms, got %v", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff=5s, got %v", cfg.MaxBackoff)
	}
}

func TestLake_Retry_Do_SuccessAfterRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &conflictErr{retry: true}
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestLake_Retry_Do_ExhaustsAllAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestLake_Retry_Do_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return &conflictErr{retry: false}
	})
	var ce *conflictErr
	if !errors.As(err, &ce) {
		t.Errorf("expected conflictErr, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestLake_Retry_Do_ShouldRetryOverride(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.ShouldRetry = func(error) bool { return false }
	attempts := 0
	_ = Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("timeout")
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestLake_Retry_Do_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Second}
	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestLake_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{fmt.Errorf("publish: %w", &conflictErr{retry: true}), true},
		{&conflictErr{retry: false}, false},
		{errors.New("SlowDown: please reduce your request rate"), true},
		{errors.New("schema mismatch"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestLake_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 6; attempt++ {
		b := calculateBackoff(100*time.Millisecond, time.Second, attempt)
		if b > time.Second {
			t.Errorf("attempt %d: backoff %v exceeds max", attempt, b)
		}
		if b <= 0 {
			t.Errorf("attempt %d: backoff %v not positive", attempt, b)
		}
	}
}
