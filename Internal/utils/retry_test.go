package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, fastRetry(5))

	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	sentinel := errors.New("down")
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		return sentinel
	}, fastRetry(3))

	if !errors.Is(err, sentinel) {
		t.Errorf("RetryWithBackoff() error = %v, want wrapping %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		return fmt.Errorf("bad request: %w", ErrPermanent)
	}, fastRetry(5))

	if !errors.Is(err, ErrPermanent) {
		t.Errorf("RetryWithBackoff() error = %v, want ErrPermanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, Multiplier: 2}

	err := RetryWithBackoff(ctx, func() error { return errors.New("down") }, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("debug", "json")
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSONFormatter", logger.Formatter)
	}

	logger = NewLogger("nonsense", "text")
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info fallback", logger.GetLevel())
	}
}
