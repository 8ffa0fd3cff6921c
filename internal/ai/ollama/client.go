package ollama

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

// Client Ollama 本地模型客户端适配器
type Client struct {
	baseURL    string
	provider   string
	httpClient *http.Client
}

// NewClient 创建 Ollama 客户端, 本地部署无需 API Key
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 // 本地推理通常更慢
	}

	provider := config.Provider
	if provider == "" {
		provider = "ollama"
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: provider,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

// ollamaRequest Ollama chat API 请求
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

// ollamaMessage Ollama 消息
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaOptions 生成参数
type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse Ollama chat API 响应（流式时逐行 JSON）
type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	httpResp, err := c.doPost(ctx, "/api/chat", c.convertRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(httpResp)
	}

	var resp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	return &aiinterface.ChatCompletionResponse{
		Model:   resp.Model,
		Content: resp.Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式, 逐行 JSON）
func (c *Client) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	chunkChan := make(chan aiinterface.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		httpResp, err := c.doPost(ctx, "/api/chat", c.convertRequest(req, true))
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

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var resp ollamaResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				continue
			}

			if resp.Done {
				finishReason := aiinterface.FinishReasonStop
				if resp.DoneReason == "length" {
					finishReason = aiinterface.FinishReasonLength
				}
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

			if resp.Message.Content == "" {
				continue
			}
			select {
			case chunkChan <- aiinterface.StreamChunk{
				Model:    req.Model,
				Provider: c.provider,
				Content:  resp.Message.Content,
			}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errChan <- &aiinterface.ClientError{
				Type:    aiinterface.ErrorTypeNetwork,
				Message: "读取流失败",
				Err:     err,
			}
		}
	}()

	return chunkChan, errChan
}

// CheckAvailability 探测指定模型是否已在本地加载
func (c *Client) CheckAvailability(ctx context.Context, modelID string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.ID == modelID {
			return true, nil
		}
	}
	return false, nil
}

// ListModels 列出本地已拉取的模型
func (c *Client) ListModels(ctx context.Context) ([]aiinterface.ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

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
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}

	result := make([]aiinterface.ModelDescriptor, 0, len(listResp.Models))
	for _, m := range listResp.Models {
		result = append(result, aiinterface.ModelDescriptor{
			ID:                m.Name,
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
	c.httpClient.CloseIdleConnections()
	return nil
}

// convertRequest 转换请求
func (c *Client) convertRequest(req *aiinterface.ChatCompletionRequest, stream bool) *ollamaRequest {
	messages := make([]ollamaMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}

	out := &ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
	}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 {
		out.Options = &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		}
	}
	return out
}

// doPost 发送 POST 请求
func (c *Client) doPost(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errType := aiinterface.ErrorTypeNetwork
		if ctx.Err() != nil || strings.Contains(strings.ToLower(err.Error()), "timeout") {
			errType = aiinterface.ErrorTypeTimeout
		}
		return nil, &aiinterface.ClientError{
			Type:    errType,
			Message: "Ollama API 请求失败",
			Err:     err,
		}
	}
	return httpResp, nil
}

// errorFromResponse 读取响应体并构造错误
func (c *Client) errorFromResponse(resp *http.Response) *aiinterface.ClientError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	errType := aiinterface.ErrorTypeUnknown
	switch {
	case resp.StatusCode == 404:
		errType = aiinterface.ErrorTypeNotFound
	case resp.StatusCode == 429:
		errType = aiinterface.ErrorTypeRateLimit
	case resp.StatusCode >= 500:
		errType = aiinterface.ErrorTypeServerError
	case resp.StatusCode >= 400:
		errType = aiinterface.ErrorTypeInvalidParams
	}
	return &aiinterface.ClientError{
		Type:       errType,
		Message:    fmt.Sprintf("Ollama API 错误 (HTTP %d)", resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
	}
}
