package router

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"backend/internal/ai"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "console", "stdout")
	os.Exit(m.Run())
}

// scriptedRun 一次流式调用脚本: 先发内容块, 再按需以错误收尾
type scriptedRun struct {
	chunks []aiinterface.StreamChunk
	err    error
}

// fakeClient 可编排的提供商客户端
type fakeClient struct {
	name string

	mu           sync.Mutex
	availability map[string]bool
	probeErr     map[string]error
	probeCount   map[string]int
	streams      map[string][]scriptedRun
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{
		name:         name,
		availability: make(map[string]bool),
		probeErr:     make(map[string]error),
		probeCount:   make(map[string]int),
		streams:      make(map[string][]scriptedRun),
	}
}

func (f *fakeClient) setAvailable(modelID string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability[modelID] = ok
}

func (f *fakeClient) script(modelID string, runs ...scriptedRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability[modelID] = true
	f.streams[modelID] = append(f.streams[modelID], runs...)
}

func (f *fakeClient) probes(modelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCount[modelID]
}

func (f *fakeClient) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	f.mu.Lock()
	var run scriptedRun
	queue := f.streams[req.Model]
	if len(queue) > 0 {
		run = queue[0]
		f.streams[req.Model] = queue[1:]
	} else {
		run = scriptedRun{err: errors.New("no scripted run for " + req.Model)}
	}
	f.mu.Unlock()

	chunkCh := make(chan aiinterface.StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		for _, c := range run.chunks {
			select {
			case chunkCh <- c:
			case <-ctx.Done():
				return
			}
		}
		if run.err != nil {
			errCh <- run.err
			return
		}
		close(chunkCh)
	}()

	return chunkCh, errCh
}

func (f *fakeClient) CheckAvailability(ctx context.Context, modelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCount[modelID]++
	if err := f.probeErr[modelID]; err != nil {
		return false, err
	}
	return f.availability[modelID], nil
}

func (f *fakeClient) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ListModels(ctx context.Context) ([]aiinterface.ModelDescriptor, error) {
	return nil, nil
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Close() error { return nil }

// testRig 两提供商三模型的标准测试拓扑:
//
//	alpha: a1(fast) -> a2(balanced)
//	beta:  b1(balanced)
type testRig struct {
	alpha    *fakeClient
	beta     *fakeClient
	factory  *ai.ClientFactory
	tracker  *tracker.Tracker
	registry *Registry
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	alpha := newFakeClient("alpha")
	beta := newFakeClient("beta")

	models := []*aiinterface.ModelDescriptor{
		{ID: "a1", Provider: "alpha", Tier: aiinterface.TierFast, InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004, Available: true},
		{ID: "a2", Provider: "alpha", Tier: aiinterface.TierBalanced, InputCostPer1K: 0.001, OutputCostPer1K: 0.004, Available: true},
		{ID: "b1", Provider: "beta", Tier: aiinterface.TierBalanced, InputCostPer1K: 0.002, OutputCostPer1K: 0.008, Available: true},
	}
	factory := ai.NewStaticFactory(
		map[string]aiinterface.ModelClient{"alpha": alpha, "beta": beta},
		models,
		[]string{"alpha", "beta"},
	)

	trk := tracker.New(tracker.Settings{FallbackThreshold: 0.3, QualityThreshold: 0.5, AvailabilityTTL: 300})

	cfg := &config.RouterConfig{
		Providers: []config.ProviderConfig{
			{Name: "alpha", Fallbacks: []string{"a1", "a2"}},
			{Name: "beta", Fallbacks: []string{"b1"}},
		},
		AvailabilityTTL: 300,
	}
	registry := NewRegistry(factory, trk, cfg)

	return &testRig{
		alpha:    alpha,
		beta:     beta,
		factory:  factory,
		tracker:  trk,
		registry: registry,
	}
}

// fastPolicy 无等待的重试策略, 测试里把降级路径跑快
func fastPolicy() *ai.RetryPolicy {
	return ai.NewRetryPolicy(0, time.Millisecond, time.Millisecond, 0.1, 0.3)
}

func retryableErr(msg string) *aiinterface.ClientError {
	return &aiinterface.ClientError{Type: aiinterface.ErrorTypeServerError, Message: msg}
}
