package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"backend/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 及兼容协议（deepseek/qwen）客户端适配器
type Client struct {
	client   *openai.Client
	provider string
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		}
	}

	provider := config.Provider
	if provider == "" {
		provider = "openai"
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: provider,
	}, nil
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.convertRequest(req, false))
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式）
func (c *Client) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	chunkChan := make(chan aiinterface.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream, err := c.client.CreateChatCompletionStream(ctx, c.convertRequest(req, true))
		if err != nil {
			errChan <- wrapError(err)
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					select {
					case chunkChan <- aiinterface.StreamChunk{
						Model:        req.Model,
						Provider:     c.provider,
						FinishReason: aiinterface.FinishReasonStop,
						Done:         true,
					}:
					case <-ctx.Done():
					}
					return
				}
				errChan <- wrapError(err)
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			chunk := aiinterface.StreamChunk{
				ID:       response.ID,
				Model:    response.Model,
				Provider: c.provider,
				Content:  choice.Delta.Content,
			}
			if choice.FinishReason == openai.FinishReasonLength {
				chunk.FinishReason = aiinterface.FinishReasonLength
			}
			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunkChan, errChan
}

// CheckAvailability 探测指定模型是否可达
func (c *Client) CheckAvailability(ctx context.Context, modelID string) (bool, error) {
	_, err := c.client.GetModel(ctx, modelID)
	if err != nil {
		return false, wrapError(err)
	}
	return true, nil
}

// ListModels 列出提供商侧可用的模型
func (c *Client) ListModels(ctx context.Context) ([]aiinterface.ModelDescriptor, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	result := make([]aiinterface.ModelDescriptor, 0, len(resp.Models))
	for _, m := range resp.Models {
		result = append(result, aiinterface.ModelDescriptor{
			ID:                m.ID,
			Provider:          c.provider,
			SupportsStreaming: true,
			Available:         true,
		})
	}
	return result, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return c.provider
}

// Close 关闭客户端
func (c *Client) Close() error {
	// OpenAI 客户端无需显式关闭
	return nil
}

// convertRequest 转换为 go-openai 请求
func (c *Client) convertRequest(req *aiinterface.ChatCompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
		Stream:      stream,
	}
}

// wrapError 包装错误并归类
func wrapError(err error) *aiinterface.ClientError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &aiinterface.ClientError{
			Type:       classifyStatus(apiErr.HTTPStatusCode),
			Message:    "OpenAI API 错误",
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}

	errType := aiinterface.ErrorTypeUnknown
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		errType = aiinterface.ErrorTypeTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "refused"):
		errType = aiinterface.ErrorTypeNetwork
	}
	return &aiinterface.ClientError{
		Type:    errType,
		Message: "OpenAI API 错误",
		Err:     err,
	}
}

// classifyStatus 按 HTTP 状态码归类
func classifyStatus(code int) aiinterface.ErrorType {
	switch {
	case code == 401 || code == 403:
		return aiinterface.ErrorTypeAuth
	case code == 404:
		return aiinterface.ErrorTypeNotFound
	case code == 429:
		return aiinterface.ErrorTypeRateLimit
	case code >= 500:
		return aiinterface.ErrorTypeServerError
	case code >= 400:
		return aiinterface.ErrorTypeInvalidParams
	default:
		return aiinterface.ErrorTypeUnknown
	}
}
