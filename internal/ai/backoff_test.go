package ai

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"backend/pkg/aiinterface"
)

func TestRetryPolicyDelayBounds(t *testing.T) {
	policy := NewRetryPolicy(5, time.Second, 60*time.Second, 0.1, 0.3)

	for attempt := 0; attempt < 10; attempt++ {
		base := time.Second << uint(attempt)
		if base > 60*time.Second || base <= 0 {
			base = 60 * time.Second
		}
		lower := time.Duration(float64(base) * 1.1)
		upper := time.Duration(float64(base) * 1.3)

		// 抖动是随机的, 多采样几次确认始终落在区间内
		for i := 0; i < 50; i++ {
			d := policy.Delay(attempt)
			if d < lower || d > upper {
				t.Fatalf("attempt %d: delay %v out of [%v, %v]", attempt, d, lower, upper)
			}
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := NewRetryPolicy(3, time.Second, 60*time.Second, 0.1, 0.3)

	// 2^20 秒远超上限, 必须封顶在 max × (1+jitterMax)
	d := policy.Delay(20)
	if float64(d) > float64(60*time.Second)*1.3 {
		t.Fatalf("delay %v exceeds jittered cap", d)
	}
	if float64(d) < float64(60*time.Second)*1.1 {
		t.Fatalf("delay %v below jittered cap floor", d)
	}
}

func TestRetryPolicyNegativeAttempt(t *testing.T) {
	policy := NewRetryPolicy(3, time.Second, 60*time.Second, 0.1, 0.3)
	d := policy.Delay(-5)
	if float64(d) < float64(time.Second)*1.1 || float64(d) > float64(time.Second)*1.3 {
		t.Fatalf("negative attempt should behave like attempt 0, got %v", d)
	}
}

func TestShouldRetryClassification(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, time.Millisecond, 0.1, 0.3)

	cases := []struct {
		errType aiinterface.ErrorType
		want    bool
	}{
		{aiinterface.ErrorTypeRateLimit, true},
		{aiinterface.ErrorTypeServerError, true},
		{aiinterface.ErrorTypeTimeout, true},
		{aiinterface.ErrorTypeNetwork, true},
		{aiinterface.ErrorTypeAuth, false},
		{aiinterface.ErrorTypeNotFound, false},
		{aiinterface.ErrorTypeInvalidParams, false},
		{aiinterface.ErrorTypeUnknown, false},
	}
	for _, tc := range cases {
		err := &aiinterface.ClientError{Type: tc.errType, Message: "x"}
		if got := policy.ShouldRetry(err, 0); got != tc.want {
			t.Errorf("type %s: ShouldRetry=%v, want %v", tc.errType, got, tc.want)
		}
	}
}

func TestShouldRetryExhaustsAttempts(t *testing.T) {
	policy := NewRetryPolicy(2, time.Millisecond, time.Millisecond, 0.1, 0.3)
	err := &aiinterface.ClientError{Type: aiinterface.ErrorTypeTimeout, Message: "x"}

	if !policy.ShouldRetry(err, 0) {
		t.Fatal("attempt 0 should retry")
	}
	if !policy.ShouldRetry(err, 1) {
		t.Fatal("attempt 1 should retry")
	}
	if policy.ShouldRetry(err, 2) {
		t.Fatal("attempt 2 reached MaxRetries, must stop")
	}
}

func TestShouldRetryWrappedError(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, time.Millisecond, 0.1, 0.3)
	inner := &aiinterface.ClientError{Type: aiinterface.ErrorTypeRateLimit, Message: "429"}
	wrapped := fmt.Errorf("调用失败: %w", inner)

	if !policy.ShouldRetry(wrapped, 0) {
		t.Fatal("wrapped retryable error should retry")
	}
}

func TestClassifyByMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want aiinterface.ErrorType
	}{
		{"request timeout after 60s", aiinterface.ErrorTypeTimeout},
		{"401 unauthorized", aiinterface.ErrorTypeAuth},
		{"model not found", aiinterface.ErrorTypeNotFound},
		{"429 rate limit exceeded", aiinterface.ErrorTypeRateLimit},
		{"upstream returned 503", aiinterface.ErrorTypeServerError},
		{"connection refused", aiinterface.ErrorTypeNetwork},
		{"something odd", aiinterface.ErrorTypeUnknown},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		if got.Type != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got.Type, tc.want)
		}
	}
}

func TestClassifyStatusCode(t *testing.T) {
	cases := map[int]aiinterface.ErrorType{
		401: aiinterface.ErrorTypeAuth,
		403: aiinterface.ErrorTypeAuth,
		404: aiinterface.ErrorTypeNotFound,
		408: aiinterface.ErrorTypeTimeout,
		429: aiinterface.ErrorTypeRateLimit,
		500: aiinterface.ErrorTypeServerError,
		503: aiinterface.ErrorTypeServerError,
		400: aiinterface.ErrorTypeInvalidParams,
		200: aiinterface.ErrorTypeUnknown,
	}
	for code, want := range cases {
		if got := ClassifyStatusCode(code); got != want {
			t.Errorf("ClassifyStatusCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}
