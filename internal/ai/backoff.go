package ai

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"backend/pkg/aiinterface"
)

// RetryPolicy 重试退避策略
// 纯计算部分（Delay/ShouldRetry/Classify）与实际 I/O 分离，便于独立测试
type RetryPolicy struct {
	MaxRetries int           // 最大重试次数（不含首次尝试）
	BaseDelay  time.Duration // 基础延迟
	MaxDelay   time.Duration // 延迟上限
	JitterMin  float64       // 抖动下限
	JitterMax  float64       // 抖动上限

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultRetryPolicy 默认策略: 3 次重试, 1s 起步, 60s 封顶, 10%-30% 抖动
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 60*time.Second, 0.1, 0.3)
}

// NewRetryPolicy 创建重试策略
func NewRetryPolicy(maxRetries int, base, max time.Duration, jitterMin, jitterMax float64) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  base,
		MaxDelay:   max,
		JitterMin:  jitterMin,
		JitterMax:  jitterMax,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay 计算第 attempt 次重试前的退避时长
// delay = min(base*2^attempt, max) × (1 + jitter), jitter ∈ [JitterMin, JitterMax]
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := p.BaseDelay << uint(attempt)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}

	p.mu.Lock()
	jitter := p.JitterMin + p.rng.Float64()*(p.JitterMax-p.JitterMin)
	p.mu.Unlock()

	return time.Duration(float64(backoff) * (1 + jitter))
}

// ShouldRetry 判断在第 attempt 次尝试失败后是否继续重试
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return IsRetryable(err)
}

// Sleep 退避等待，上下文取消时立即返回
func (p *RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryable 判断错误是否属于瞬时错误（timeout/429/5xx/网络）
// 401/403/404/参数错误一律不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var clientErr *aiinterface.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Classify 将底层错误归类为 ClientError（纯函数，不做 I/O）
func Classify(err error) *aiinterface.ClientError {
	if err == nil {
		return nil
	}
	var clientErr *aiinterface.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	errType := aiinterface.ErrorTypeUnknown
	msg := err.Error()
	lower := strings.ToLower(msg)

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		errType = aiinterface.ErrorTypeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		errType = aiinterface.ErrorTypeTimeout
	case strings.Contains(lower, "timeout"):
		errType = aiinterface.ErrorTypeTimeout
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden"):
		errType = aiinterface.ErrorTypeAuth
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		errType = aiinterface.ErrorTypeNotFound
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		errType = aiinterface.ErrorTypeRateLimit
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		errType = aiinterface.ErrorTypeServerError
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid"):
		errType = aiinterface.ErrorTypeInvalidParams
	case strings.Contains(lower, "connection") || strings.Contains(lower, "refused") || strings.Contains(lower, "reset"):
		errType = aiinterface.ErrorTypeNetwork
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: "模型调用失败",
		Err:     err,
	}
}

// ClassifyStatusCode 按 HTTP 状态码归类错误类型
func ClassifyStatusCode(code int) aiinterface.ErrorType {
	switch {
	case code == 401 || code == 403:
		return aiinterface.ErrorTypeAuth
	case code == 404:
		return aiinterface.ErrorTypeNotFound
	case code == 429:
		return aiinterface.ErrorTypeRateLimit
	case code == 408:
		return aiinterface.ErrorTypeTimeout
	case code >= 500:
		return aiinterface.ErrorTypeServerError
	case code >= 400:
		return aiinterface.ErrorTypeInvalidParams
	default:
		return aiinterface.ErrorTypeUnknown
	}
}
