package aiinterface

import "context"

// Message 消息结构
type Message struct {
	Role    string `json:"role"`           // system, user, assistant
	Content string `json:"content"`        // 消息内容
	Name    string `json:"name,omitempty"` // 发送消息的 Author 名称
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Model       string         `json:"model"`        // 模型 ID
	Messages    []Message      `json:"messages"`     // 消息列表
	Temperature float64        `json:"temperature"`  // 温度参数（0-2）
	MaxTokens   int            `json:"max_tokens"`   // 最大 Token 数
	TopP        float64        `json:"top_p"`        // Top P 采样
	Stream      bool           `json:"stream"`       // 是否流式响应
	ExtraParams map[string]any `json:"extra_params"` // 额外参数
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID      string `json:"id"`      // 响应 ID
	Model   string `json:"model"`   // 使用的模型
	Content string `json:"content"` // 生成的内容
	Usage   Usage  `json:"usage"`   // Token 使用情况
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`     // 输入 Token 数
	CompletionTokens int `json:"completion_tokens"` // 输出 Token 数
	TotalTokens      int `json:"total_tokens"`      // 总 Token 数
}

// 流式响应结束原因
const (
	FinishReasonStop   = "stop"   // 正常结束
	FinishReasonLength = "length" // 达到 max_tokens 截断
	FinishReasonError  = "error"  // 出错终止（适配器边界之后错误不再以 error 形式上抛）
)

// StreamChunk 流式响应块
// 每个块都携带实际产出它的模型与提供商，降级切换对调用方可见
type StreamChunk struct {
	ID           string `json:"id"`                      // 响应 ID
	Model        string `json:"model"`                   // 使用的模型
	Provider     string `json:"provider"`                // 提供商名称
	Content      string `json:"content"`                 // 增量内容
	FinishReason string `json:"finish_reason,omitempty"` // 结束原因（仅终止块携带）
	Error        string `json:"error,omitempty"`         // 错误描述（finish_reason=error 时携带）
	Done         bool   `json:"done"`                    // 是否结束
}

// ModelTier 模型档位
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // 低延迟小模型
	TierBalanced ModelTier = "balanced" // 均衡档
	TierPremium  ModelTier = "premium"  // 高质量档
	TierExpert   ModelTier = "expert"   // 旗舰档
)

// ModelDescriptor 模型静态描述，启动时从配置加载，运行期只读
type ModelDescriptor struct {
	ID                string    `json:"id"`                // 模型 ID
	Provider          string    `json:"provider"`          // 所属提供商
	DisplayName       string    `json:"displayName"`       // 展示名称
	MaxTokens         int       `json:"maxTokens"`         // 上下文上限
	SupportsStreaming bool      `json:"supportsStreaming"` // 是否支持流式
	InputCostPer1K    float64   `json:"inputCostPer1k"`    // 每 1K 输入 Token 成本（美元）
	OutputCostPer1K   float64   `json:"outputCostPer1k"`   // 每 1K 输出 Token 成本（美元）
	Tier              ModelTier `json:"tier"`              // 档位
	Available         bool      `json:"available"`         // 配置层面是否启用
}

// ModelClient AI 提供商客户端统一接口
// 一个客户端对应一个提供商，模型 ID 随请求传入
type ModelClient interface {
	// ChatCompletion 对话补全（非流式）
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// ChatCompletionStream 对话补全（流式）
	// 返回的 channel 会持续发送响应块，直到完成或出错
	ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamChunk, <-chan error)

	// CheckAvailability 探测指定模型当前是否可达
	CheckAvailability(ctx context.Context, modelID string) (bool, error)

	// ListModels 列出提供商侧可用的模型
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// Name 返回提供商名称（如 "openai", "anthropic"）
	Name() string

	// Close 关闭客户端连接
	Close() error
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider string            // 提供商（openai, anthropic, gemini, ollama, ...）
	APIKey   string            // API Key
	BaseURL  string            // 基础 URL
	OrgID    string            // 组织 ID（OpenAI）
	Timeout  int               // 单次请求超时（秒），与重试退避相互独立
	Headers  map[string]string // 附加请求头
	Extra    map[string]any    // 额外配置
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"           // 认证错误（401/403），不可重试
	ErrorTypeNotFound      ErrorType = "not_found"      // 模型或端点不存在（404），不可重试
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 参数错误（400），不可重试
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 速率限制（429），可重试
	ErrorTypeServerError   ErrorType = "server_error"   // 服务器错误（5xx），可重试
	ErrorTypeTimeout       ErrorType = "timeout"        // 请求超时，可重试
	ErrorTypeNetwork       ErrorType = "network"        // 网络错误，可重试
	ErrorTypeUnknown       ErrorType = "unknown"        // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Type       ErrorType // 错误类型
	Message    string    // 错误消息
	StatusCode int       // HTTP 状态码（如有）
	Err        error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
// 超时、429 与 5xx 可重试；401/403/404/400 一律立即上抛
func (e *ClientError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
