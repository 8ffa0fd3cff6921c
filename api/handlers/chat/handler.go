package chat

import (
	"io"
	"net/http"
	"strings"

	"backend/internal/common"
	"backend/internal/conversation"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/orchestrator"
	"backend/internal/scorer"
	"backend/pkg/aiinterface"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 带入上下文的历史消息条数
const historyWindow = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 跨域控制已由 CORS 中间件承担
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler 对话处理器
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	sessions     *conversation.Service
}

// NewHandler 创建处理器
func NewHandler(orch *orchestrator.Orchestrator, sessions *conversation.Service) *Handler {
	return &Handler{orchestrator: orch, sessions: sessions}
}

// SubmitRequest 对话请求
type SubmitRequest struct {
	SessionID string `json:"session_id,omitempty"` // 可选, 指定后携带历史并持久化
	Model     string `json:"model,omitempty"`      // 可选, 指定后跳过智能选型
	Priority  string `json:"priority,omitempty"`   // speed, quality, cost, balanced
	Message   string `json:"message" binding:"required"`
}

// RecommendRequest 选型推荐请求
type RecommendRequest struct {
	Query    string `json:"query" binding:"required"`
	Priority string `json:"priority,omitempty"`
}

// Submit 提交对话（SSE 流式响应）
// @Summary 流式对话
// @Description 提交一次对话请求，按 SSE 推送选型、内容块与完成事件
// @Tags Chat
// @Accept json
// @Produce text/event-stream
// @Param request body SubmitRequest true "对话请求"
// @Success 200 {string} string "SSE 事件流"
// @Router /api/chat [post]
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	chatReq, err := h.buildChatRequest(c, &req)
	if err != nil {
		return // buildChatRequest 已写响应
	}

	events, err := h.orchestrator.SubmitChat(c.Request.Context(), chatReq)
	if err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	var assistant strings.Builder
	var completion *orchestrator.CompletionPayload

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		if event.Type == orchestrator.EventResponseChunk && event.Chunk != nil {
			assistant.WriteString(event.Chunk.Content)
		}
		if event.Type == orchestrator.EventCompletion {
			completion = event.Completion
		}
		c.SSEvent(string(event.Type), event)
		return true
	})

	if completion != nil {
		h.persistExchange(c, req.SessionID, req.Message, assistant.String(), completion)
	}
}

// Connect WebSocket 对话
// @Summary WebSocket 对话
// @Description 建立 WebSocket 连接，每收到一条请求即推送一轮事件序列
// @Tags Chat
// @Router /api/chat/ws [get]
func (h *Handler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	for {
		var req SubmitRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket 连接异常关闭", zap.Error(err))
			}
			return
		}
		if req.Message == "" {
			_ = conn.WriteJSON(common.ErrorResponse(common.CodeInvalidRequest, "message 不能为空"))
			continue
		}

		chatReq, err := h.buildWSChatRequest(c, &req)
		if err != nil {
			_ = conn.WriteJSON(common.ErrorResponse(common.CodeInvalidRequest, err.Error()))
			continue
		}

		events, err := h.orchestrator.SubmitChat(c.Request.Context(), chatReq)
		if err != nil {
			_ = conn.WriteJSON(common.ErrorResponse(common.CodeInvalidRequest, err.Error()))
			continue
		}

		var assistant strings.Builder
		var completion *orchestrator.CompletionPayload
		for event := range events {
			if event.Type == orchestrator.EventResponseChunk && event.Chunk != nil {
				assistant.WriteString(event.Chunk.Content)
			}
			if event.Type == orchestrator.EventCompletion {
				completion = event.Completion
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
		if completion != nil {
			h.persistExchange(c, req.SessionID, req.Message, assistant.String(), completion)
		}
	}
}

// Recommend 模型选型推荐（不触发调用）
// @Summary 模型推荐
// @Description 对查询做分析与评分，返回排好序的候选模型
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body RecommendRequest true "推荐请求"
// @Success 200 {object} common.APIResponse
// @Router /api/chat/recommend [post]
func (h *Handler) Recommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	analysis, ranked, err := h.orchestrator.Recommend(c.Request.Context(), req.Query, scorer.Priority(req.Priority))
	if err != nil {
		common.ResponseError(c, common.CodeNoViableModel, err.Error())
		return
	}

	common.ResponseSuccess(c, gin.H{
		"analysis":        analysis,
		"recommendations": ranked,
	})
}

// buildChatRequest 组装编排请求: 取会话历史作为上下文, 末尾追加本次用户消息
func (h *Handler) buildChatRequest(c *gin.Context, req *SubmitRequest) (*orchestrator.ChatRequest, error) {
	messages, err := h.contextMessages(c, req)
	if err != nil {
		common.ResponseError(c, common.CodeSessionNotFound, err.Error())
		return nil, err
	}
	return &orchestrator.ChatRequest{
		Model:    req.Model,
		Priority: scorer.Priority(req.Priority),
		Messages: messages,
	}, nil
}

// buildWSChatRequest 同 buildChatRequest, 但错误交给调用方写回 WebSocket
func (h *Handler) buildWSChatRequest(c *gin.Context, req *SubmitRequest) (*orchestrator.ChatRequest, error) {
	messages, err := h.contextMessages(c, req)
	if err != nil {
		return nil, err
	}
	return &orchestrator.ChatRequest{
		Model:    req.Model,
		Priority: scorer.Priority(req.Priority),
		Messages: messages,
	}, nil
}

// contextMessages 构建带历史上下文的消息序列
func (h *Handler) contextMessages(c *gin.Context, req *SubmitRequest) ([]aiinterface.Message, error) {
	var messages []aiinterface.Message
	if req.SessionID != "" {
		history, err := h.sessions.History(c.Request.Context(), req.SessionID, historyWindow)
		if err != nil {
			return nil, err
		}
		for _, m := range history {
			messages = append(messages, aiinterface.Message{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, aiinterface.Message{Role: "user", Content: req.Message}), nil
}

// persistExchange 持久化一轮问答, 失败只记日志不影响响应
func (h *Handler) persistExchange(c *gin.Context, sessionID, userMsg, assistantMsg string, completion *orchestrator.CompletionPayload) {
	if sessionID == "" {
		return
	}
	ctx := c.Request.Context()

	if err := h.sessions.AppendMessage(ctx, &conversation.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   userMsg,
	}); err != nil {
		logger.Warn("持久化用户消息失败", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	if err := h.sessions.AppendMessage(ctx, &conversation.Message{
		SessionID:    sessionID,
		Role:         "assistant",
		Content:      assistantMsg,
		Model:        completion.Model,
		Provider:     completion.Provider,
		FallbackUsed: completion.FallbackUsed,
		Tokens:       completion.PromptTokens + completion.OutputTokens,
		Cost:         completion.Cost,
	}); err != nil {
		logger.Warn("持久化助手消息失败", zap.String("sessionId", sessionID), zap.Error(err))
	}
}
