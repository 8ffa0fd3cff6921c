package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend/pkg/aiinterface"
)

const apiVersion = "2023-06-01"

// Client Anthropic Claude 客户端适配器
type Client struct {
	apiKey     string
	baseURL    string
	provider   string
	headers    map[string]string
	httpClient *http.Client
}

// NewClient 创建 Anthropic 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "Anthropic API Key 不能为空",
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60
	}

	provider := config.Provider
	if provider == "" {
		provider = "anthropic"
	}

	return &Client{
		apiKey:   config.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: provider,
		headers:  config.Headers,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

// anthropicRequest Anthropic API 请求
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	System      string             `json:"system,omitempty"`
}

// anthropicMessage Anthropic 消息
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse Anthropic API 响应
type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// anthropicContent Anthropic 内容
type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicUsage Anthropic Token 使用
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent 流式 SSE 事件体
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message anthropicResponse `json:"message"`
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	body, err := json.Marshal(c.convertRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpResp, err := c.doPost(ctx, "/v1/messages", body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(httpResp)
	}

	var resp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "解析响应失败",
			Err:     err,
		}
	}

	var content strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			content.WriteString(part.Text)
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content.String(),
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
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

		body, err := json.Marshal(c.convertRequest(req, true))
		if err != nil {
			errChan <- fmt.Errorf("序列化请求失败: %w", err)
			return
		}

		httpResp, err := c.doPost(ctx, "/v1/messages", body)
		if err != nil {
			errChan <- err
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			errChan <- c.errorFromResponse(httpResp)
			return
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		finishReason := aiinterface.FinishReasonStop

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text == "" {
					continue
				}
				chunk := aiinterface.StreamChunk{
					Model:    req.Model,
					Provider: c.provider,
					Content:  event.Delta.Text,
				}
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				if event.Delta.StopReason == "max_tokens" {
					finishReason = aiinterface.FinishReasonLength
				}
			case "message_stop":
				select {
				case chunkChan <- aiinterface.StreamChunk{
					Model:        req.Model,
					Provider:     c.provider,
					FinishReason: finishReason,
					Done:         true,
				}:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- &aiinterface.ClientError{
				Type:    aiinterface.ErrorTypeNetwork,
				Message: "读取流失败",
				Err:     err,
			}
			return
		}

		// 流在 message_stop 之前被服务端关闭, 仍按正常结束处理
		select {
		case chunkChan <- aiinterface.StreamChunk{
			Model:        req.Model,
			Provider:     c.provider,
			FinishReason: finishReason,
			Done:         true,
		}:
		case <-ctx.Done():
		}
	}()

	return chunkChan, errChan
}

// CheckAvailability 探测指定模型是否可达
func (c *Client) CheckAvailability(ctx context.Context, modelID string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models/"+modelID, nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeNetwork,
			Message: "Anthropic 可用性探测失败",
			Err:     err,
		}
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return false, c.statusError(httpResp.StatusCode)
	}
	return true, nil
}

// ListModels 列出提供商侧可用的模型
func (c *Client) ListModels(ctx context.Context) ([]aiinterface.ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeNetwork,
			Message: "查询模型列表失败",
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(httpResp)
	}

	var listResp struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}

	result := make([]aiinterface.ModelDescriptor, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		result = append(result, aiinterface.ModelDescriptor{
			ID:                m.ID,
			Provider:          c.provider,
			DisplayName:       m.DisplayName,
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
	c.httpClient.CloseIdleConnections()
	return nil
}

// convertRequest 转换请求, system 消息单独提取
func (c *Client) convertRequest(req *aiinterface.ChatCompletionRequest, stream bool) *anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	var systemPrompt string

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &anthropicRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
		System:      systemPrompt,
	}
}

// doPost 发送 POST 请求
func (c *Client) doPost(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errType := aiinterface.ErrorTypeNetwork
		if ctx.Err() != nil || strings.Contains(strings.ToLower(err.Error()), "timeout") {
			errType = aiinterface.ErrorTypeTimeout
		}
		return nil, &aiinterface.ClientError{
			Type:    errType,
			Message: "Anthropic API 请求失败",
			Err:     err,
		}
	}
	return httpResp, nil
}

// setHeaders 设置通用请求头
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

// errorFromResponse 读取响应体并构造错误
func (c *Client) errorFromResponse(resp *http.Response) *aiinterface.ClientError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	clientErr := c.statusError(resp.StatusCode)
	clientErr.Err = fmt.Errorf("%s", strings.TrimSpace(string(body)))
	return clientErr
}

// statusError 按状态码构造错误
func (c *Client) statusError(code int) *aiinterface.ClientError {
	var errType aiinterface.ErrorType
	switch {
	case code == 401 || code == 403:
		errType = aiinterface.ErrorTypeAuth
	case code == 404:
		errType = aiinterface.ErrorTypeNotFound
	case code == 429:
		errType = aiinterface.ErrorTypeRateLimit
	case code >= 500:
		errType = aiinterface.ErrorTypeServerError
	case code >= 400:
		errType = aiinterface.ErrorTypeInvalidParams
	default:
		errType = aiinterface.ErrorTypeUnknown
	}
	return &aiinterface.ClientError{
		Type:       errType,
		Message:    fmt.Sprintf("Anthropic API 错误 (HTTP %d)", code),
		StatusCode: code,
	}
}
