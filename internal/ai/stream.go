package ai

import (
	"context"

	"backend/internal/logger"
	"backend/pkg/aiinterface"

	"go.uber.org/zap"
)

// StreamResult 单次生成的汇总结果，流结束后可读
type StreamResult struct {
	Content      string // 聚合后的完整内容
	Chunks       int    // 内容块数量
	FinishReason string // 终止原因
	Err          error  // 终止错误（nil 表示成功）
}

// StreamWithRetry 带退避重试的流式生成
// 内容块原样转发到 out；终止状态通过返回值交给调用方（调度器）统一收口,
// 错误只作为值返回, 不会以 panic 或异常形式越过该边界。
// 仅在尚未向调用方转发任何内容块时才会重试, 避免重复输出。
func StreamWithRetry(ctx context.Context, client aiinterface.ModelClient, req *aiinterface.ChatCompletionRequest, policy *RetryPolicy, out chan<- aiinterface.StreamChunk) *StreamResult {
	result := &StreamResult{}

	for attempt := 0; ; attempt++ {
		err := streamOnce(ctx, client, req, out, result)
		if err == nil {
			if result.FinishReason == "" {
				result.FinishReason = aiinterface.FinishReasonStop
			}
			return result
		}

		// 上下文取消: 不重试也不产出终止块, 由调用方在挂起点感知
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.FinishReason = ""
			return result
		}

		// 已经转发过内容, 无法干净地重放, 视为最终失败
		if result.Chunks > 0 || !policy.ShouldRetry(err, attempt) {
			result.Err = Classify(err)
			result.FinishReason = aiinterface.FinishReasonError
			return result
		}

		logger.Warn("模型调用失败, 退避后重试",
			zap.String("provider", client.Name()),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := policy.Sleep(ctx, attempt); serr != nil {
			result.Err = serr
			result.FinishReason = ""
			return result
		}
	}
}

// streamOnce 执行一次流式调用, 把内容块原样转发给 out
func streamOnce(ctx context.Context, client aiinterface.ModelClient, req *aiinterface.ChatCompletionRequest, out chan<- aiinterface.StreamChunk, result *StreamResult) error {
	chunkCh, errCh := client.ChatCompletionStream(ctx, req)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			errCh = nil
		case chunk, ok := <-chunkCh:
			if !ok {
				return nil
			}
			if chunk.Done {
				// 记录上游终止原因（如 length 截断）, 终止块本身不转发
				if chunk.FinishReason != "" {
					result.FinishReason = chunk.FinishReason
				}
				return nil
			}
			if chunk.Content == "" {
				continue
			}
			// 补全提供商/模型标签, 降级切换对调用方可见
			chunk.Provider = client.Name()
			if chunk.Model == "" {
				chunk.Model = req.Model
			}
			result.Content += chunk.Content
			result.Chunks++
			if !sendChunk(ctx, out, chunk) {
				return ctx.Err()
			}
		}
	}
}

// sendChunk 在上下文存活的前提下发送块
func sendChunk(ctx context.Context, out chan<- aiinterface.StreamChunk, chunk aiinterface.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- chunk:
		return true
	}
}
