package orchestrator

import (
	"time"

	"backend/internal/analyzer"
	"backend/internal/scorer"
)

// EventType 编排事件类型
type EventType string

const (
	EventModelSelection EventType = "model_selection"
	EventResponseChunk  EventType = "response_chunk"
	EventCompletion     EventType = "completion"
	EventError          EventType = "error"
)

// Event 编排事件
// 每次请求的事件序列固定为: 一个 model_selection, 零或多个 response_chunk,
// 以及恰好一个 completion 或 error 收尾
type Event struct {
	Type       EventType          `json:"type"`
	RequestID  string             `json:"requestId"`
	Timestamp  time.Time          `json:"timestamp"`
	Selection  *SelectionPayload  `json:"selection,omitempty"`
	Chunk      *ChunkPayload      `json:"chunk,omitempty"`
	Completion *CompletionPayload `json:"completion,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
}

// SelectionPayload 选型事件载荷
type SelectionPayload struct {
	Model      string                  `json:"model"`
	Provider   string                  `json:"provider"`
	Pinned     bool                    `json:"pinned"` // 用户显式指定模型时为 true
	Analysis   *analyzer.Analysis      `json:"analysis,omitempty"`
	Reasoning  string                  `json:"reasoning,omitempty"`
	Score      float64                 `json:"score,omitempty"`
	Confidence float64                 `json:"confidence,omitempty"`
	Priority   scorer.Priority         `json:"priority"`
	Candidates []scorer.Recommendation `json:"candidates,omitempty"`
}

// ChunkPayload 内容块载荷
type ChunkPayload struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Content  string `json:"content"`
}

// CompletionPayload 完成事件载荷
// 降级发生时 FallbackUsed 为 true, Model 为实际产出内容的模型
type CompletionPayload struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	Success      bool    `json:"success"`
	FallbackUsed bool    `json:"fallbackUsed"`
	FallbackFrom string  `json:"fallbackFrom,omitempty"`
	FinishReason string  `json:"finishReason"`
	PromptTokens int     `json:"promptTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
	QualityScore float64 `json:"qualityScore"` // 本次产出的质量观测值
	ResponseTime float64 `json:"responseTime"` // 模型调用耗时（秒）
	TotalTime    float64 `json:"totalTime"`    // 请求全程耗时（秒）
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	Message   string   `json:"message"`
	Attempted []string `json:"attempted,omitempty"`
}
