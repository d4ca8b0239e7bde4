package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	powErrors "github.com/bardlex/gompow/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		maxAttempts int
		baseDelay   time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond},
		{"bootstrap", BootstrapConfig(), 4, 250 * time.Millisecond},
		{"database", DatabaseConfig(), 3, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.maxAttempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.maxAttempts)
			}
			if tt.config.BaseDelay != tt.baseDelay {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.baseDelay)
			}
			if tt.config.MaxDelay < tt.config.BaseDelay {
				t.Errorf("MaxDelay %v below BaseDelay %v", tt.config.MaxDelay, tt.config.BaseDelay)
			}
		})
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount == 1 {
			return powErrors.New(powErrors.ErrorTypeNetwork, "fetch_work", "connection refused")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Do() error = %v, want nil", err)
	}
	if callCount != 2 {
		t.Errorf("Do() calls = %d, want 2", callCount)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return powErrors.New(powErrors.ErrorTypeNetwork, "fetch_work", "persistent error")
	})
	if err == nil {
		t.Fatal("Do() expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Do() calls = %d, want 2", callCount)
	}
	if !powErrors.IsType(err, powErrors.ErrorTypeInternal) {
		t.Error("Do() final error should be wrapped as internal")
	}
	if powErrors.GetContext(err)["max_attempts"] != 2 {
		t.Errorf("Do() max_attempts context = %v, want 2", powErrors.GetContext(err)["max_attempts"])
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", powErrors.New(powErrors.ErrorTypeValidation, "fetch_work", "bad payload")},
		{"client status", powErrors.FromStatus("fetch_work", 404, "not found")},
		{"plain error", errors.New("regular error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			err := Do(context.Background(), fastConfig(5), func() error {
				callCount++
				return tt.err
			})
			if err != tt.err {
				t.Errorf("Do() error = %v, want original %v", err, tt.err)
			}
			if callCount != 1 {
				t.Errorf("Do() calls = %d, want 1", callCount)
			}
		})
	}
}

func TestDo_RetriesServerStatus(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		return powErrors.FromStatus("fetch_work", 503, "")
	})
	if err == nil {
		t.Fatal("Do() expected error")
	}
	if callCount != 3 {
		t.Errorf("Do() calls = %d, want 3", callCount)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		Multiplier:  1.0,
	}

	callCount := 0
	err := Do(ctx, config, func() error {
		callCount++
		cancel()
		return powErrors.New(powErrors.ErrorTypeNetwork, "fetch_work", "network error")
	})
	if err != context.Canceled {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if callCount != 1 {
		t.Errorf("Do() calls = %d, want 1", callCount)
	}
}

func TestDoWithResult_OnRetry(t *testing.T) {
	config := fastConfig(3)

	var attempts []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		if err == nil {
			t.Error("OnRetry() called with nil error")
		}
		if delay <= 0 {
			t.Errorf("OnRetry() delay = %v, want positive", delay)
		}
	}

	callCount := 0
	result, err := DoWithResult(context.Background(), config, func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", powErrors.New(powErrors.ErrorTypeTimeout, "fetch_work", "slow")
		}
		return "job", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if result != "job" {
		t.Errorf("DoWithResult() = %q, want job", result)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry() attempts = %v, want [1 2]", attempts)
	}
}

func TestDoWithResult_ZeroValueOnFailure(t *testing.T) {
	result, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		return 7, powErrors.New(powErrors.ErrorTypeNetwork, "fetch_work", "down")
	})
	if err == nil {
		t.Fatal("DoWithResult() expected error")
	}
	if result != 0 {
		t.Errorf("DoWithResult() = %d, want zero value", result)
	}
}

func TestDoWithResult_NilConfig(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), nil, func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", powErrors.New(powErrors.ErrorTypeNetwork, "test", "retryable error")
		}
		return "success", nil
	})
	if err != nil {
		t.Errorf("DoWithResult() error = %v", err)
	}
	if result != "success" {
		t.Errorf("DoWithResult() = %q, want success", result)
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		if delay := config.calculateDelay(tt.attempt); delay != tt.expected {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, delay, tt.expected)
		}
	}

	config.Jitter = true
	delay := config.calculateDelay(0)
	if delay < 100*time.Millisecond || delay > 110*time.Millisecond {
		t.Errorf("calculateDelay(0) with jitter = %v, want within [100ms, 110ms]", delay)
	}
}
