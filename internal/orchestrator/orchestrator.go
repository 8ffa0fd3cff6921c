package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/ai"
	"backend/internal/analyzer"
	"backend/internal/logger"
	"backend/internal/router"
	"backend/internal/scorer"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 外层降级至多一次: 首选模型的调度链整体耗尽后,
// 才会换到评分榜上的下一个候选重新调度
const maxOuterAttempts = 2

// ChatRequest 一次对话请求
// Model 为空时走智能选型, 非空时按用户指定模型调度
type ChatRequest struct {
	Model       string                `json:"model"`
	Priority    scorer.Priority       `json:"priority"`
	Messages    []aiinterface.Message `json:"messages"`
	Temperature float64               `json:"temperature,omitempty"`
	MaxTokens   int                   `json:"maxTokens,omitempty"`
	TopP        float64               `json:"topP,omitempty"`
}

// Analytics 运行期分析快照
type Analytics struct {
	Models       map[string]tracker.Metrics  `json:"models"`
	Availability []router.AvailabilityRecord `json:"availability"`
	Settings     tracker.Settings            `json:"settings"`
	GeneratedAt  time.Time                   `json:"generatedAt"`
}

// Orchestrator 对话编排器
// 串起 分析 -> 评分 -> 调度 三层, 对外只暴露事件流;
// 配置类错误在 SubmitChat 同步返回, 运行期错误一律化为 error 事件
type Orchestrator struct {
	factory    *ai.ClientFactory
	registry   *router.Registry
	dispatcher *router.Dispatcher
	scorer     *scorer.Scorer
	tracker    *tracker.Tracker

	now func() time.Time
}

// New 创建编排器
func New(factory *ai.ClientFactory, registry *router.Registry, dispatcher *router.Dispatcher, sc *scorer.Scorer, trk *tracker.Tracker) *Orchestrator {
	return &Orchestrator{
		factory:    factory,
		registry:   registry,
		dispatcher: dispatcher,
		scorer:     sc,
		tracker:    trk,
		now:        time.Now,
	}
}

// SubmitChat 提交一次对话, 返回事件流
// 请求本身不合法（空消息、指定了未注册的模型）时同步报错;
// 进入事件流后的一切失败都以恰好一个 error 事件收尾, 不再返回 error
func (o *Orchestrator) SubmitChat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("消息列表不能为空")
	}
	if req.Model != "" {
		if _, ok := o.factory.Descriptor(req.Model); !ok {
			return nil, fmt.Errorf("模型未注册: %s", req.Model)
		}
	}
	if req.Priority == "" {
		req.Priority = scorer.PriorityBalanced
	}

	events := make(chan Event, 16)
	go o.run(ctx, req, events)
	return events, nil
}

// run 驱动一次请求的完整事件序列
func (o *Orchestrator) run(ctx context.Context, req *ChatRequest, events chan<- Event) {
	defer close(events)

	start := o.now()
	requestID := uuid.NewString()

	analysis := analyzer.Analyze(lastUserMessage(req.Messages))

	plan, selection := o.buildPlan(ctx, req, analysis)
	if len(plan) == 0 {
		o.send(ctx, events, Event{
			Type:      EventError,
			RequestID: requestID,
			Timestamp: o.now(),
			Error:     &ErrorPayload{Message: "没有可用的候选模型"},
		})
		return
	}

	selection.Analysis = analysis
	selection.Priority = req.Priority
	if !o.send(ctx, events, Event{
		Type:      EventModelSelection,
		RequestID: requestID,
		Timestamp: o.now(),
		Selection: selection,
	}) {
		return
	}

	attempted := make(map[string]bool, 4)
	var attemptedOrder []string
	var lastErr error

	for outer := 0; outer < maxOuterAttempts && outer < len(plan); outer++ {
		target := plan[outer]
		if attempted[target] {
			continue
		}

		res, forwarded := o.dispatchOnce(ctx, requestID, req, target, events)
		for _, id := range res.Attempted {
			if !attempted[id] {
				attempted[id] = true
				attemptedOrder = append(attemptedOrder, id)
			}
		}

		if ctx.Err() != nil {
			return
		}

		if res.Err == nil {
			o.send(ctx, events, Event{
				Type:      EventCompletion,
				RequestID: requestID,
				Timestamp: o.now(),
				Completion: &CompletionPayload{
					Model:        res.ServedModel,
					Provider:     res.Provider,
					Success:      true,
					FallbackUsed: res.FallbackUsed || res.ServedModel != plan[0],
					FallbackFrom: fallbackOrigin(plan[0], res.ServedModel),
					FinishReason: res.FinishReason,
					PromptTokens: res.PromptTokens,
					OutputTokens: res.OutputTokens,
					Cost:         res.Cost,
					QualityScore: res.Quality,
					ResponseTime: res.ResponseTime,
					TotalTime:    o.now().Sub(start).Seconds(),
				},
			})
			return
		}
		lastErr = res.Err

		// 已有内容流出就不再换模型, 避免拼接两个模型的输出
		if forwarded {
			break
		}
		logger.Warn("调度链耗尽, 尝试外层降级",
			zap.String("requestId", requestID),
			zap.String("model", target),
			zap.Error(res.Err),
		)
	}

	message := "所有模型均不可用"
	if lastErr != nil {
		message = fmt.Sprintf("所有模型均不可用: %v", lastErr)
	}
	o.send(ctx, events, Event{
		Type:      EventError,
		RequestID: requestID,
		Timestamp: o.now(),
		Error: &ErrorPayload{
			Message:   message,
			Attempted: attemptedOrder,
		},
	})
}

// dispatchOnce 调度单个目标模型并转发其内容块
// 返回调度结果与是否已向事件流转发过内容
func (o *Orchestrator) dispatchOnce(ctx context.Context, requestID string, req *ChatRequest, target string, events chan<- Event) (*router.DispatchResult, bool) {
	chunks := make(chan aiinterface.StreamChunk, 32)
	resultCh := make(chan *router.DispatchResult, 1)

	go func() {
		defer close(chunks)
		resultCh <- o.dispatcher.Dispatch(ctx, target, &aiinterface.ChatCompletionRequest{
			Model:       target,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			TopP:        req.TopP,
			Stream:      true,
		}, chunks)
	}()

	forwarded := false
	for chunk := range chunks {
		// 终止块不转发, 终态统一由结果驱动的 completion/error 事件表达
		if chunk.Done {
			continue
		}
		forwarded = true
		if !o.send(ctx, events, Event{
			Type:      EventResponseChunk,
			RequestID: requestID,
			Timestamp: o.now(),
			Chunk: &ChunkPayload{
				Model:    chunk.Model,
				Provider: chunk.Provider,
				Content:  chunk.Content,
			},
		}) {
			break
		}
	}
	return <-resultCh, forwarded
}

// buildPlan 生成外层调度计划（有序模型列表）与选型事件载荷
func (o *Orchestrator) buildPlan(ctx context.Context, req *ChatRequest, analysis *analyzer.Analysis) ([]string, *SelectionPayload) {
	// 用户指定模型: 跳过评分, 调度器内部降级链仍然生效
	if req.Model != "" {
		desc, _ := o.factory.Descriptor(req.Model)
		return []string{req.Model}, &SelectionPayload{
			Model:     req.Model,
			Provider:  desc.Provider,
			Pinned:    true,
			Reasoning: "用户指定模型",
		}
	}

	candidates := o.registry.Candidates(ctx)
	ranked, err := o.scorer.Rank(analysis, candidates, req.Priority)
	if err != nil {
		if !errors.Is(err, scorer.ErrNoViableModel) {
			logger.Error("模型评分失败", zap.Error(err))
		}
		// 候选集为空: 退化为配置中第一个启用的模型
		for _, desc := range o.factory.Models() {
			if desc.Available {
				return []string{desc.ID}, &SelectionPayload{
					Model:     desc.ID,
					Provider:  desc.Provider,
					Reasoning: "无可评分候选, 退化为首个启用模型",
				}
			}
		}
		return nil, nil
	}

	plan := make([]string, 0, len(ranked))
	for _, rec := range ranked {
		plan = append(plan, rec.ModelID)
	}
	top := ranked[0]
	return plan, &SelectionPayload{
		Model:      top.ModelID,
		Provider:   top.Provider,
		Reasoning:  top.Reasoning,
		Score:      top.Score,
		Confidence: top.Confidence,
		Candidates: ranked,
	}
}

// Recommend 只做分析与评分, 不触发任何调用
func (o *Orchestrator) Recommend(ctx context.Context, query string, priority scorer.Priority) (*analyzer.Analysis, []scorer.Recommendation, error) {
	if priority == "" {
		priority = scorer.PriorityBalanced
	}
	analysis := analyzer.Analyze(query)
	ranked, err := o.scorer.Rank(analysis, o.registry.Candidates(ctx), priority)
	if err != nil {
		return analysis, nil, err
	}
	return analysis, ranked, nil
}

// Analytics 汇总运行期指标与可用性状态
func (o *Orchestrator) Analytics() *Analytics {
	return &Analytics{
		Models:       o.tracker.Snapshot(),
		Availability: o.registry.Records(),
		Settings:     o.tracker.Settings(),
		GeneratedAt:  o.now(),
	}
}

// send 在上下文存活的前提下投递事件
func (o *Orchestrator) send(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- e:
		return true
	}
}

// lastUserMessage 取最后一条用户消息作为分析输入
func lastUserMessage(messages []aiinterface.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return messages[len(messages)-1].Content
}

// fallbackOrigin 计算降级来源, 未降级时为空
func fallbackOrigin(planned, served string) string {
	if planned == served {
		return ""
	}
	return planned
}
