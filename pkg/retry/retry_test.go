package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"bskycrawler/pkg/config"
	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt     int
		expectedMin time.Duration
		expectedMax time.Duration
		description string
	}{
		{1, 100 * time.Millisecond, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			delay := backoff.NextDelay(test.attempt)
			if delay < test.expectedMin || delay > test.expectedMax {
				t.Errorf("Expected delay between %v and %v, got %v",
					test.expectedMin, test.expectedMax, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	// Test that jitter adds randomness
	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		delay := backoff.NextDelay(2)
		delays[delay] = true
	}

	// With jitter, we should get different delays
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authError := errs.NewTransportError(401, "authentication required", nil)

	op := func() error {
		attempts++
		return authError
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != authError {
		t.Errorf("Expected auth error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for auth error), got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 100 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when context cancelled")
	}
	if attempts > 3 {
		t.Errorf("Expected at most 3 attempts before cancellation, got %d", attempts)
	}
}

func TestErrorTypeBackoff(t *testing.T) {
	base := &ConstantBackoff{Delay: 50 * time.Millisecond}
	etb := NewErrorTypeBackoff(base)

	if got := etb.GetBackoffForError(errs.NewTransportError(0, "dial", nil)); got != base {
		t.Errorf("Expected base backoff for network errors, got %T", got)
	}
	if got := etb.GetBackoffForError(errs.NewTransportError(503, "unavailable", nil)); got != base {
		t.Errorf("Expected base backoff for server errors, got %T", got)
	}

	rateLimitBackoff := etb.GetBackoffForError(errs.NewTransportError(429, "slow down", nil))
	if eb, ok := rateLimitBackoff.(*ExponentialBackoff); ok {
		if eb.BaseDelay != 10*time.Second {
			t.Errorf("Expected rate limit base delay of 10s, got %v", eb.BaseDelay)
		}
	} else {
		t.Error("Expected ExponentialBackoff for rate limit errors")
	}

	if got := etb.DelayFor(1, errors.New("unknown")); got != 50*time.Millisecond {
		t.Errorf("Expected base delay for unknown errors, got %v", got)
	}
}

func TestRetryTransportErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
	}{
		{"server error is retried", errs.NewTransportError(502, "bad gateway", nil), 3},
		{"network error is retried", errs.NewTransportError(0, "reset", nil), 3},
		{"not found is not retried", errs.NewTransportError(404, "missing", nil), 1},
		{"malformed body is not retried", errs.NewMalformedResponseError("bad json", nil), 1},
		{"cancelled context is not retried", context.Canceled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			retries := 0
			cfg := &Config{
				MaxAttempts: 3,
				Backoff:     &ConstantBackoff{Delay: time.Millisecond},
				Context:     context.Background(),
				Logger:      logger.NewNopLogger(),
				OnRetry:     func(int, error, time.Duration) { retries++ },
			}

			err := Do(func() error {
				attempts++
				return tt.err
			}, cfg)

			if !errors.Is(err, tt.err) {
				t.Errorf("Expected returned error to wrap %v, got %v", tt.err, err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got %d", tt.wantAttempts, attempts)
			}
			if retries != tt.wantAttempts-1 {
				t.Errorf("Expected %d retries, got %d", tt.wantAttempts-1, retries)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(context.Background(), config.RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		Jitter:      false,
	}, logger.NewNopLogger())

	if cfg.MaxAttempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", cfg.MaxAttempts)
	}
	if got := nextDelay(cfg.Backoff, 2, errs.NewTransportError(500, "", nil)); got != 400*time.Millisecond {
		t.Errorf("Expected 400ms delay on second server-error retry, got %v", got)
	}
	if got := nextDelay(cfg.Backoff, 5, errs.NewTransportError(0, "", nil)); got != time.Second {
		t.Errorf("Expected delay capped at 1s, got %v", got)
	}
	if got := nextDelay(cfg.Backoff, 1, errs.NewTransportError(429, "", nil)); got != 2*time.Second {
		t.Errorf("Expected 2s delay on first rate-limit retry, got %v", got)
	}
	if got := nextDelay(cfg.Backoff, 20, errs.NewTransportError(429, "", nil)); got != 4*time.Second {
		t.Errorf("Expected rate-limit delay capped at 4s, got %v", got)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	result, err := DoWithResult(op, cfg)
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
