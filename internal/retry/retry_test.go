package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
		Jitter:       false,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		calls++
		return errors.New("always fails")
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(5, time.Millisecond), func() error {
		calls++
		return Permanent(errors.New("do not retry"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("expected permanent error, got %v", result.Err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, Linear(3, time.Millisecond), func() error {
		calls++
		return errors.New("fail")
	})

	if calls != 0 {
		t.Errorf("expected 0 calls on cancelled context, got %d", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	result := Do(ctx, Linear(3, time.Minute), func() error {
		calls++
		cancel()
		return errors.New("fail")
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), Linear(3, time.Millisecond), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("temporary error")
		}
		return "done", nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if value != "done" {
		t.Errorf("expected %q, got %q", "done", value)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestExponential_DelayGrowth(t *testing.T) {
	config := Exponential(4, 10*time.Millisecond, 100*time.Millisecond)
	if config.Factor != 2.0 {
		t.Errorf("expected factor 2.0, got %f", config.Factor)
	}
	if !config.Jitter {
		t.Error("expected jitter enabled")
	}
}
