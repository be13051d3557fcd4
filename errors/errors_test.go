package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"store unavailable", ErrStoreUnavailable, true},
		{"store timeout", ErrStoreTimeout, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid key", ErrInvalidKey, false},
		{"invalid pattern", ErrInvalidPattern, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"store timeout", ErrStoreTimeout, false},
		{"invalid key", ErrInvalidKey, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid key", ErrInvalidKey, true},
		{"invalid pattern", ErrInvalidPattern, true},
		{"config not found", ErrConfigNotFound, true},
		{"config exists", ErrConfigExists, true},
		{"unknown query func", ErrUnknownQueryFunc, true},
		{"store unavailable", ErrStoreUnavailable, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrKeyNotFound) {
		t.Error("expected ErrKeyNotFound to be not-found")
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", ErrConfigNotFound)) {
		t.Error("expected wrapped ErrConfigNotFound to be not-found")
	}
	if IsNotFound(ErrStoreUnavailable) {
		t.Error("expected ErrStoreUnavailable not to be not-found")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"transient", ErrStoreTimeout, ErrorTransient},
		{"fatal", ErrInvalidConfig, ErrorFatal},
		{"invalid", ErrInvalidPattern, ErrorInvalid},
		{"unknown defaults transient", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := fmt.Errorf("boom")
	wrapped := Wrap(base, "Manager", "Get", "durable lookup")
	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !strings.Contains(wrapped.Error(), "Manager.Get: durable lookup failed") {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if Wrap(nil, "Manager", "Get", "noop") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("boom")

	transient := WrapTransient(base, "Store", "PutEntry", "kv put")
	if !IsTransient(transient) {
		t.Error("expected transient classification")
	}
	if !errors.Is(transient, base) {
		t.Error("classified error should unwrap to base")
	}

	invalid := WrapInvalid(base, "Warmer", "WarmCache", "lookup config")
	if !IsInvalid(invalid) {
		t.Error("expected invalid classification")
	}

	fatal := WrapFatal(base, "Engine", "Start", "register metrics")
	if !IsFatal(fatal) {
		t.Error("expected fatal classification")
	}

	if WrapTransient(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	if rc.ShouldRetry(nil, 0) {
		t.Error("nil error should not retry")
	}
	if !rc.ShouldRetry(ErrStoreTimeout, 0) {
		t.Error("transient error should retry")
	}
	if rc.ShouldRetry(ErrStoreTimeout, rc.MaxRetries) {
		t.Error("should not retry past max attempts")
	}
	if rc.ShouldRetry(ErrInvalidPattern, 0) {
		t.Error("invalid error should not retry")
	}
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}

	cfg := rc.ToRetryConfig()
	if cfg.MaxAttempts != 5 {
		t.Errorf("expected 5 total attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != rc.InitialDelay || cfg.MaxDelay != rc.MaxDelay {
		t.Error("delay fields should carry over")
	}
	if !cfg.AddJitter {
		t.Error("jitter should be enabled")
	}
}
