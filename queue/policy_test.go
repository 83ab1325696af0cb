package queue

import (
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		name     string
		policy   *RetryPolicy
		expected time.Duration
	}{
		{"nil policy", nil, defaultRetryDelay},
		{"zero delay", &RetryPolicy{}, defaultRetryDelay},
		{"explicit delay", &RetryPolicy{RetryDelay: 5 * time.Second}, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.delay(); got != tt.expected {
				t.Errorf("delay() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRetryPolicy_Retriable(t *testing.T) {
	policy := &RetryPolicy{
		AutoRetry:       true,
		RetryErrorCodes: map[ErrorCode]struct{}{ErrCodeTimeout: {}, ErrCodeConnectionFailed: {}},
	}

	if !policy.retriable(ErrCodeTimeout) {
		t.Error("ErrCodeTimeout should be retriable")
	}
	if !policy.retriable(ErrCodeConnectionFailed) {
		t.Error("ErrCodeConnectionFailed should be retriable")
	}
	if policy.retriable(ErrCodeTLSFailure) {
		t.Error("ErrCodeTLSFailure was not added, should not be retriable")
	}
}

func TestRetryPolicy_Retriable_AutoRetryDisabled(t *testing.T) {
	policy := &RetryPolicy{
		AutoRetry:       false,
		RetryErrorCodes: map[ErrorCode]struct{}{ErrCodeTimeout: {}},
	}
	if policy.retriable(ErrCodeTimeout) {
		t.Error("retriable should be false when AutoRetry is disabled")
	}
}

func TestRetryPolicy_Retriable_NilPolicy(t *testing.T) {
	var policy *RetryPolicy
	if policy.retriable(ErrCodeTimeout) {
		t.Error("nil policy should never be retriable")
	}
}

func TestRetryPolicy_AttemptsExhausted(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3}

	if policy.attemptsExhausted(2) {
		t.Error("attempt 2 of 3 should not be exhausted")
	}
	if !policy.attemptsExhausted(3) {
		t.Error("attempt 3 of 3 should be exhausted")
	}
	if !policy.attemptsExhausted(4) {
		t.Error("attempt beyond max should be exhausted")
	}
}

func TestRetryPolicy_AttemptsExhausted_Unlimited(t *testing.T) {
	policy := &RetryPolicy{}
	for attempt := 1; attempt <= 1000; attempt++ {
		if policy.attemptsExhausted(attempt) {
			t.Fatalf("zero MaxAttempts should mean unlimited, got exhausted at attempt %d", attempt)
		}
	}
}
