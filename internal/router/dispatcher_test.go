package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/pkg/aiinterface"
)

func newTestDispatcher(rig *testRig, fallbackEnabled bool) *Dispatcher {
	return NewDispatcher(rig.factory, rig.registry, rig.tracker, fastPolicy(), fallbackEnabled)
}

func chatReq(content string) *aiinterface.ChatCompletionRequest {
	return &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{{Role: "user", Content: content}},
		Stream:   true,
	}
}

// drainChunks 收集 out 里的全部块（Dispatch 返回后 out 不会再被写入）
func drainChunks(out chan aiinterface.StreamChunk) (content []aiinterface.StreamChunk, terminal []aiinterface.StreamChunk) {
	for {
		select {
		case c := <-out:
			if c.Done {
				terminal = append(terminal, c)
			} else {
				content = append(content, c)
			}
		default:
			return content, terminal
		}
	}
}

func TestDispatchSuccess(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{chunks: []aiinterface.StreamChunk{
		{Content: "答案"},
		{Content: "在此"},
	}})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, "a1", res.ServedModel)
	assert.Equal(t, "alpha", res.Provider)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, []string{"a1"}, res.Attempted)
	assert.Equal(t, "答案在此", res.Content)
	assert.Equal(t, aiinterface.FinishReasonStop, res.FinishReason)
	assert.Greater(t, res.OutputTokens, 0)

	content, terminal := drainChunks(out)
	assert.Len(t, content, 2)
	require.Len(t, terminal, 1, "exactly one terminal chunk")
	assert.Equal(t, aiinterface.FinishReasonStop, terminal[0].FinishReason)
	assert.Empty(t, terminal[0].Error)

	m, ok := rig.tracker.Get("a1")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessCount)
}

func TestDispatchFallbackToNextModel(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{err: retryableErr("503")})
	rig.alpha.script("a2", scriptedRun{chunks: []aiinterface.StreamChunk{{Content: "备选答案"}}})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, "a1", res.RequestedModel)
	assert.Equal(t, "a2", res.ServedModel)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []string{"a1", "a2"}, res.Attempted)
	assert.Equal(t, "备选答案", res.Content)

	// 失败的首选模型不产出终止块, 终止块只有成功那一个
	content, terminal := drainChunks(out)
	assert.Len(t, content, 1)
	require.Len(t, terminal, 1)
	assert.Equal(t, "a2", terminal[0].Model)

	// 两个模型各记一次样本: a1 失败, a2 成功
	m1, _ := rig.tracker.Get("a1")
	assert.Equal(t, int64(1), m1.FailureCount)
	m2, _ := rig.tracker.Get("a2")
	assert.Equal(t, int64(1), m2.SuccessCount)
}

func TestDispatchPermanentErrorStopsFallback(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{err: &aiinterface.ClientError{
		Type:       aiinterface.ErrorTypeAuth,
		Message:    "401 unauthorized",
		StatusCode: 401,
	}})
	rig.alpha.script("a2", scriptedRun{chunks: []aiinterface.StreamChunk{{Content: "不应产出"}}})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	// 鉴权类永久错误直接收口, 不得降级到下一个模型
	require.Error(t, res.Err)
	assert.Equal(t, []string{"a1"}, res.Attempted)
	assert.Empty(t, res.ServedModel)
	assert.Equal(t, aiinterface.FinishReasonError, res.FinishReason)

	content, terminal := drainChunks(out)
	assert.Empty(t, content)
	require.Len(t, terminal, 1)
	assert.Equal(t, "a1", terminal[0].Model)
	assert.Equal(t, aiinterface.FinishReasonError, terminal[0].FinishReason)
	assert.NotEmpty(t, terminal[0].Error)

	// a1 记一次失败样本, a2 从未被调用
	m1, _ := rig.tracker.Get("a1")
	assert.Equal(t, int64(1), m1.FailureCount)
	_, ok := rig.tracker.Get("a2")
	assert.False(t, ok)
}

func TestDispatchExhaustedEmitsSingleErrorChunk(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{err: retryableErr("a1 down")})
	rig.alpha.script("a2", scriptedRun{err: retryableErr("a2 down")})
	rig.beta.script("b1", scriptedRun{err: retryableErr("b1 down")})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.Error(t, res.Err)
	assert.Equal(t, aiinterface.FinishReasonError, res.FinishReason)
	assert.Equal(t, []string{"a1", "a2", "b1"}, res.Attempted)

	content, terminal := drainChunks(out)
	assert.Empty(t, content)
	require.Len(t, terminal, 1, "exhaustion produces exactly one terminal chunk")
	assert.Equal(t, aiinterface.FinishReasonError, terminal[0].FinishReason)
	assert.Contains(t, terminal[0].Error, "所有模型均不可用")
}

func TestDispatchAtMostOncePerModel(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{err: retryableErr("down")})
	rig.alpha.script("a2", scriptedRun{err: retryableErr("down")})
	rig.beta.script("b1", scriptedRun{err: retryableErr("down")})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a2", chatReq("你好"), out)

	// 从 a2 出发也会回扫链头的 a1, 但每个模型只出现一次
	seen := make(map[string]int)
	for _, id := range res.Attempted {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "model %s attempted %d times", id, n)
	}
	assert.Len(t, res.Attempted, 3)
}

func TestDispatchProbeFailureSkipsTrackerSample(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.setAvailable("a1", false)
	rig.alpha.script("a2", scriptedRun{chunks: []aiinterface.StreamChunk{{Content: "ok"}}})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, "a2", res.ServedModel)

	// 探活失败不算一次调用, a1 不得有任何样本
	_, ok := rig.tracker.Get("a1")
	assert.False(t, ok)
}

func TestDispatchFallbackDisabled(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{err: retryableErr("down")})
	d := newTestDispatcher(rig, false)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.Error(t, res.Err)
	assert.Equal(t, []string{"a1"}, res.Attempted, "no fallback when disabled")

	_, terminal := drainChunks(out)
	require.Len(t, terminal, 1)
	assert.Equal(t, aiinterface.FinishReasonError, terminal[0].FinishReason)
}

func TestDispatchLengthFinishReasonLowersQuality(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.script("a1", scriptedRun{chunks: []aiinterface.StreamChunk{
		{Content: "被截断的"},
		{Done: true, FinishReason: aiinterface.FinishReasonLength},
	}})
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	res := d.Dispatch(context.Background(), "a1", chatReq("你好"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, aiinterface.FinishReasonLength, res.FinishReason)
	assert.InDelta(t, qualityLength, res.Quality, 1e-9)

	// 截断按七折质量记样本
	m, _ := rig.tracker.Get("a1")
	assert.InDelta(t, qualityLength, m.QualityScore, 1e-9)
}

func TestDispatchCancelledRecordsNothing(t *testing.T) {
	rig := newTestRig(t)
	rig.alpha.setAvailable("a1", true)
	d := newTestDispatcher(rig, true)
	out := make(chan aiinterface.StreamChunk, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Dispatch(ctx, "a1", chatReq("你好"), out)

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.FinishReason)

	// 半途取消: 不记样本, 不产出终止块
	assert.Empty(t, rig.tracker.Snapshot())
	content, terminal := drainChunks(out)
	assert.Empty(t, content)
	assert.Empty(t, terminal)
}
