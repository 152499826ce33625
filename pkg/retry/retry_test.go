package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errSend = errors.New("send failed")

func testConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errSend
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return errSend
	})

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if !errors.Is(err, errSend) {
		t.Errorf("Expected last error to be wrapped, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got: %d", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testConfig(), func() error {
		return errSend
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got: %v", err)
	}
}

func TestDo_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errSend
	})

	if !errors.Is(err, errSend) {
		t.Errorf("Expected raw error when disabled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected single attempt when disabled, got: %d", attempts)
	}
}
