package google

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

// Client Google Gemini 客户端适配器
type Client struct {
	apiKey     string
	baseURL    string
	provider   string
	httpClient *http.Client
}

// NewClient 创建 Gemini 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "Gemini API Key 不能为空",
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60
	}

	provider := config.Provider
	if provider == "" {
		provider = "gemini"
	}

	return &Client{
		apiKey:   config.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: provider,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

// geminiRequest Gemini API 请求
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// geminiContent Gemini 内容
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart Gemini 内容片段
type geminiPart struct {
	Text string `json:"text"`
}

// generationConfig 生成参数
type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse Gemini API 响应
type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, c.apiKey)

	httpResp, err := c.doPost(ctx, url, c.convertRequest(req))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(httpResp)
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	return &aiinterface.ChatCompletionResponse{
		Model:   req.Model,
		Content: content.String(),
		Usage: aiinterface.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式, SSE）
func (c *Client) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	chunkChan := make(chan aiinterface.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, req.Model, c.apiKey)
		httpResp, err := c.doPost(ctx, url, c.convertRequest(req))
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
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var resp geminiResponse
			if err := json.Unmarshal([]byte(payload), &resp); err != nil {
				continue
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			candidate := resp.Candidates[0]
			if candidate.FinishReason == "MAX_TOKENS" {
				finishReason = aiinterface.FinishReasonLength
			}

			var text strings.Builder
			for _, part := range candidate.Content.Parts {
				text.WriteString(part.Text)
			}
			if text.Len() == 0 {
				continue
			}
			select {
			case chunkChan <- aiinterface.StreamChunk{
				Model:    req.Model,
				Provider: c.provider,
				Content:  text.String(),
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
			return
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
	}()

	return chunkChan, errChan
}

// CheckAvailability 探测指定模型是否可达
func (c *Client) CheckAvailability(ctx context.Context, modelID string) (bool, error) {
	url := fmt.Sprintf("%s/models/%s?key=%s", c.baseURL, modelID, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeNetwork,
			Message: "Gemini 可用性探测失败",
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
	url := fmt.Sprintf("%s/models?key=%s", c.baseURL, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
			Name             string `json:"name"` // 形如 models/gemini-pro
			DisplayName      string `json:"displayName"`
			InputTokenLimit  int    `json:"inputTokenLimit"`
			OutputTokenLimit int    `json:"outputTokenLimit"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}

	result := make([]aiinterface.ModelDescriptor, 0, len(listResp.Models))
	for _, m := range listResp.Models {
		result = append(result, aiinterface.ModelDescriptor{
			ID:                strings.TrimPrefix(m.Name, "models/"),
			Provider:          c.provider,
			DisplayName:       m.DisplayName,
			MaxTokens:         m.InputTokenLimit,
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

// convertRequest 转换请求, system 消息映射为 systemInstruction
func (c *Client) convertRequest(req *aiinterface.ChatCompletionRequest) *geminiRequest {
	out := &geminiRequest{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			out.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content}},
			}
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out
}

// doPost 发送 POST 请求
func (c *Client) doPost(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
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
			Message: "Gemini API 请求失败",
			Err:     err,
		}
	}
	return httpResp, nil
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
		Message:    fmt.Sprintf("Gemini API 错误 (HTTP %d)", code),
		StatusCode: code,
	}
}
