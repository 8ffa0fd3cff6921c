package router

import (
	"context"
	"sync"
	"time"

	"backend/internal/ai"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"

	"go.uber.org/zap"
)

// AvailabilityRecord 单个模型的可达性缓存记录
type AvailabilityRecord struct {
	ModelID   string    `json:"modelId"`
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Registry 可用性注册表
// 持有 TTL 缓存的可达性判定与各提供商的静态降级链;
// CheckAvailability 永远返回布尔值, 不向上抛错
type Registry struct {
	factory *ai.ClientFactory
	tracker *tracker.Tracker

	ttl           time.Duration
	chains        map[string][]string // 提供商 -> 降级链（模型 ID 有序列表）
	providerOrder []string            // 跨提供商降级顺序 = 配置声明顺序

	mu      sync.RWMutex
	records map[string]*AvailabilityRecord

	now func() time.Time
}

// NewRegistry 创建可用性注册表
func NewRegistry(factory *ai.ClientFactory, trk *tracker.Tracker, cfg *config.RouterConfig) *Registry {
	chains := make(map[string][]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		chains[p.Name] = append([]string(nil), p.Fallbacks...)
	}

	return &Registry{
		factory:       factory,
		tracker:       trk,
		ttl:           cfg.AvailabilityTTLDuration(),
		chains:        chains,
		providerOrder: factory.ProviderOrder(),
		records:       make(map[string]*AvailabilityRecord),
		now:           time.Now,
	}
}

// CheckAvailability 查询模型可达性
// TTL 内直接复用缓存; 过期或 force 时委托适配器探测;
// 适配器出错按不可达处理, 错误只进日志与记录, 不上抛
func (r *Registry) CheckAvailability(ctx context.Context, modelID string, force bool) bool {
	if !force {
		r.mu.RLock()
		rec, ok := r.records[modelID]
		fresh := ok && r.now().Sub(rec.CheckedAt) < r.ttl
		available := ok && rec.Available
		r.mu.RUnlock()
		if fresh {
			return available
		}
	}

	record := &AvailabilityRecord{
		ModelID:   modelID,
		CheckedAt: r.now(),
	}

	client, desc, err := r.factory.ClientFor(modelID)
	switch {
	case err != nil:
		record.Error = err.Error()
	case !desc.Available:
		record.Error = "模型已在配置中停用"
	default:
		ok, cerr := client.CheckAvailability(ctx, modelID)
		record.Available = ok
		if cerr != nil {
			record.Available = false
			record.Error = cerr.Error()
			logger.Warn("可用性探测失败",
				zap.String("model", modelID),
				zap.Error(cerr),
			)
		}
	}

	r.mu.Lock()
	r.records[modelID] = record
	r.mu.Unlock()

	metrics.ObserveAvailabilityCheck(modelID, record.Available)
	return record.Available
}

// Records 返回全部缓存记录副本
func (r *Registry) Records() []AvailabilityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]AvailabilityRecord, 0, len(r.records))
	for _, rec := range r.records {
		result = append(result, *rec)
	}
	return result
}

// NextFallback 返回 failedID 之后下一个未尝试的降级模型
// 先走同提供商降级链; 提供商未知时按配置声明顺序扫其他提供商的链。
// attempted 中已出现的模型一律跳过, 保证单次请求内同一模型至多尝试一次
func (r *Registry) NextFallback(failedID string, attempted map[string]bool) (string, bool) {
	if desc, ok := r.factory.Descriptor(failedID); ok {
		if id, found := r.pickFromChain(r.chains[desc.Provider], attempted); found {
			return id, true
		}
		// 同提供商降级链耗尽, 转向其他提供商
		for _, provider := range r.providerOrder {
			if provider == desc.Provider {
				continue
			}
			if id, found := r.pickFromChain(r.chains[provider], attempted); found {
				return id, true
			}
		}
		return "", false
	}

	// 提供商未知: 按声明顺序扫全部降级链
	for _, provider := range r.providerOrder {
		if id, found := r.pickFromChain(r.chains[provider], attempted); found {
			return id, true
		}
	}
	return "", false
}

// pickFromChain 从降级链中取第一个未尝试且配置启用的模型
func (r *Registry) pickFromChain(chain []string, attempted map[string]bool) (string, bool) {
	for _, id := range chain {
		if attempted[id] {
			continue
		}
		if desc, ok := r.factory.Descriptor(id); ok && desc.Available {
			return id, true
		}
	}
	return "", false
}

// Candidates 评分候选集: 配置启用、缓存可达、且可用性得分不低于降级阈值
func (r *Registry) Candidates(ctx context.Context) []*aiinterface.ModelDescriptor {
	threshold := r.tracker.Settings().FallbackThreshold

	var result []*aiinterface.ModelDescriptor
	for _, desc := range r.factory.Models() {
		if !desc.Available {
			continue
		}
		if !r.CheckAvailability(ctx, desc.ID, false) {
			continue
		}
		if m, ok := r.tracker.Get(desc.ID); ok && m.AvailabilityScore < threshold {
			continue
		}
		result = append(result, desc)
	}
	return result
}

// StartRefresh 启动后台可用性刷新, interval<=0 时不启动
// 周期性强制探测全部启用模型, 保持缓存常暖
func (r *Registry) StartRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, desc := range r.factory.Models() {
					if desc.Available {
						r.CheckAvailability(ctx, desc.ID, true)
					}
				}
			}
		}
	}()
}
