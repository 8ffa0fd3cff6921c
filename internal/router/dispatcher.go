package router

import (
	"context"
	"time"

	"backend/internal/ai"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/tokens"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"

	"go.uber.org/zap"
)

// 质量观测启发值: 正常终止计满分, 截断按七折, 失败为零
const (
	qualityStop   = 1.0
	qualityLength = 0.7
)

// DispatchResult 一次调度的最终结果
// ServedModel 是实际产出内容的模型, 降级后与请求模型不同
type DispatchResult struct {
	RequestedModel string   `json:"requestedModel"`
	ServedModel    string   `json:"servedModel"`
	Provider       string   `json:"provider"`
	FallbackUsed   bool     `json:"fallbackUsed"`
	Attempted      []string `json:"attempted"`
	Content        string   `json:"-"`
	FinishReason   string   `json:"finishReason"`
	PromptTokens   int      `json:"promptTokens"`
	OutputTokens   int      `json:"outputTokens"`
	Cost           float64  `json:"cost"`
	ResponseTime   float64  `json:"responseTime"` // 秒
	Quality        float64  `json:"quality"`      // 本次产出的质量观测值
	Err            error    `json:"-"`
}

// Dispatcher 模型调度器
// 驱动 选择 -> 探活 -> 调用 -> 降级 的有界状态机:
// 单次请求内每个模型至多尝试一次, 只有瞬时失败进入降级链,
// 永久性错误与链耗尽都以单个错误终止块收口,
// 全程不向调用方抛错, 终止块只由调度器产出
type Dispatcher struct {
	factory  *ai.ClientFactory
	registry *Registry
	tracker  *tracker.Tracker
	policy   *ai.RetryPolicy

	fallbackEnabled bool
	now             func() time.Time
}

// NewDispatcher 创建调度器
func NewDispatcher(factory *ai.ClientFactory, registry *Registry, trk *tracker.Tracker, policy *ai.RetryPolicy, fallbackEnabled bool) *Dispatcher {
	if policy == nil {
		policy = ai.DefaultRetryPolicy()
	}
	return &Dispatcher{
		factory:         factory,
		registry:        registry,
		tracker:         trk,
		policy:          policy,
		fallbackEnabled: fallbackEnabled,
		now:             time.Now,
	}
}

// Dispatch 调度一次流式生成
// 内容块与唯一的终止块都写入 out; out 由调用方持有, 调度器不关闭它。
// 上下文取消时直接返回, 不产出终止块也不记录指标
func (d *Dispatcher) Dispatch(ctx context.Context, modelID string, req *aiinterface.ChatCompletionRequest, out chan<- aiinterface.StreamChunk) *DispatchResult {
	result := &DispatchResult{
		RequestedModel: modelID,
		FinishReason:   aiinterface.FinishReasonError,
	}
	promptTokens := tokens.CountMessages(req.Messages)

	current := modelID
	attempted := make(map[string]bool, 4)
	var lastErr error

	for current != "" && !attempted[current] {
		attempted[current] = true
		result.Attempted = append(result.Attempted, current)

		client, desc, err := d.factory.ClientFor(current)
		switch {
		case err != nil:
			lastErr = err
		case !d.registry.CheckAvailability(ctx, current, false):
			// 探活失败不算一次调用, 不记指标, 直接降级
			logger.Info("模型探活未通过, 尝试降级",
				zap.String("model", current),
			)
		default:
			attemptReq := *req
			attemptReq.Model = current

			start := d.now()
			sr := ai.StreamWithRetry(ctx, client, &attemptReq, d.policy, out)
			elapsed := d.now().Sub(start).Seconds()

			// 取消: 半途而废的尝试不产生样本, 也不产出终止块
			if ctx.Err() != nil {
				result.Err = ctx.Err()
				result.FinishReason = ""
				return result
			}

			outputTokens := tokens.Count(sr.Content)
			cost := attemptCost(desc, promptTokens, outputTokens)
			d.tracker.Record(current, tracker.Sample{
				Success:      sr.Err == nil,
				ResponseTime: elapsed,
				Tokens:       promptTokens + outputTokens,
				Cost:         cost,
				Quality:      attemptQuality(sr),
			})
			metrics.ObserveModelCall(desc.Provider, current, sr.Err == nil, elapsed, promptTokens, outputTokens, cost)

			if sr.Err == nil {
				result.ServedModel = current
				result.Provider = desc.Provider
				result.FallbackUsed = current != modelID
				result.Content = sr.Content
				result.FinishReason = sr.FinishReason
				result.PromptTokens = promptTokens
				result.OutputTokens = outputTokens
				result.Cost = cost
				result.ResponseTime = elapsed
				result.Quality = attemptQuality(sr)
				d.emitTerminal(ctx, out, aiinterface.StreamChunk{
					Model:        current,
					Provider:     desc.Provider,
					FinishReason: sr.FinishReason,
					Done:         true,
				})
				return result
			}

			lastErr = sr.Err
			logger.Warn("模型调用最终失败",
				zap.String("model", current),
				zap.String("provider", desc.Provider),
				zap.Float64("elapsed", elapsed),
				zap.Error(sr.Err),
			)

			// 永久性错误(鉴权/参数/模型不存在)不进入降级链, 立即以错误终止块收口
			if !ai.IsRetryable(sr.Err) {
				result.Err = sr.Err
				d.emitTerminal(ctx, out, aiinterface.StreamChunk{
					Model:        current,
					Provider:     desc.Provider,
					FinishReason: aiinterface.FinishReasonError,
					Error:        sr.Err.Error(),
					Done:         true,
				})
				return result
			}
		}

		if !d.fallbackEnabled {
			break
		}
		next, ok := d.registry.NextFallback(current, attempted)
		if !ok {
			break
		}
		metrics.ObserveFallback(current, next)
		current = next
	}

	metrics.DispatchExhaustedTotal.Inc()

	// 降级链耗尽: 单个错误终止块, 错误以值的形式带出
	result.Err = lastErr
	result.FinishReason = aiinterface.FinishReasonError
	message := "所有模型均不可用"
	if lastErr != nil {
		message = "所有模型均不可用: " + lastErr.Error()
	}
	d.emitTerminal(ctx, out, aiinterface.StreamChunk{
		Model:        modelID,
		FinishReason: aiinterface.FinishReasonError,
		Error:        message,
		Done:         true,
	})
	return result
}

// emitTerminal 发送终止块, 上下文取消时放弃
func (d *Dispatcher) emitTerminal(ctx context.Context, out chan<- aiinterface.StreamChunk, chunk aiinterface.StreamChunk) {
	select {
	case <-ctx.Done():
	case out <- chunk:
	}
}

// attemptQuality 由终止状态推导质量观测值
func attemptQuality(sr *ai.StreamResult) float64 {
	switch {
	case sr.Err != nil:
		return 0
	case sr.FinishReason == aiinterface.FinishReasonLength:
		return qualityLength
	default:
		return qualityStop
	}
}

// attemptCost 按模型单价计算一次调用成本
func attemptCost(desc *aiinterface.ModelDescriptor, promptTokens, outputTokens int) float64 {
	return float64(promptTokens)/1000*desc.InputCostPer1K +
		float64(outputTokens)/1000*desc.OutputCostPer1K
}
