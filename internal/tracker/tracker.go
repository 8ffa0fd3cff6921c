package tracker

import (
	"fmt"
	"sync"
	"time"
)

// EMA 系数
const (
	qualityAlpha      = 0.2 // quality_score 平滑系数
	availabilityAlpha = 0.1 // availability_score 平滑系数
)

// Metrics 单个模型的自适应性能指标
// 每次完成的调用（成功或确定性失败）恰好更新一次, 适配器内部重试不计入
type Metrics struct {
	ModelID           string    `json:"modelId"`
	TotalRequests     int64     `json:"totalRequests"`
	SuccessCount      int64     `json:"successCount"`
	FailureCount      int64     `json:"failureCount"`
	AvgResponseTime   float64   `json:"avgResponseTime"` // 秒, 累计均值
	AvgTokens         float64   `json:"avgTokens"`       // 每次请求平均 Token
	TotalCost         float64   `json:"totalCost"`       // 累计成本（美元）
	QualityScore      float64   `json:"qualityScore"`      // [0,1], EMA α=0.2
	AvailabilityScore float64   `json:"availabilityScore"` // [0,1], EMA α=0.1, 初值 1.0
	ErrorRate         float64   `json:"errorRate"`         // failed/total, 每次全量重算
	LastUsed          time.Time `json:"lastUsed"`
}

// Sample 一次完成调用的观测样本
type Sample struct {
	Success      bool
	ResponseTime float64 // 秒
	Tokens       int
	Cost         float64
	Quality      float64 // [0,1] 质量观测值
}

// Settings 路由运行期可调设置
type Settings struct {
	FallbackThreshold float64 `json:"fallbackThreshold"` // 低于该可用性得分的模型不进候选集
	QualityThreshold  float64 `json:"qualityThreshold"`  // 质量告警阈值
	AvailabilityTTL   int     `json:"availabilityTtl"`   // 可用性缓存 TTL（秒）
}

// SettingsPatch 设置的部分更新
type SettingsPatch struct {
	FallbackThreshold *float64 `json:"fallbackThreshold"`
	QualityThreshold  *float64 `json:"qualityThreshold"`
	AvailabilityTTL   *int     `json:"availabilityTtl"`
}

// Export 可无损导出/导入的指标全量快照
type Export struct {
	Models     map[string]Metrics `json:"models"`
	Settings   Settings           `json:"settings"`
	ExportedAt time.Time          `json:"exportedAt"`
}

// Tracker 进程级性能跟踪器
// 多个并发请求共享同一实例, 按模型 ID 的更新由互斥锁串行化,
// 保证均值与 EMA 运算在并发下仍然正确
type Tracker struct {
	mu       sync.RWMutex
	records  map[string]*Metrics
	settings Settings
	now      func() time.Time
}

// New 创建跟踪器
func New(settings Settings) *Tracker {
	return &Tracker{
		records:  make(map[string]*Metrics),
		settings: settings,
		now:      time.Now,
	}
}

// Record 记录一次完成的调用
// 均值按 new_avg=(old_avg×(n-1)+sample)/n 递推; 成本为纯累加;
// quality 首个样本直接赋值, 之后 EMA(0.8,0.2);
// availability 以 1.0 为种子, EMA(0.9,0.1), 成功=1.0/失败=0.0
func (t *Tracker) Record(modelID string, s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.records[modelID]
	if !ok {
		m = &Metrics{
			ModelID:           modelID,
			AvailabilityScore: 1.0,
		}
		t.records[modelID] = m
	}

	m.TotalRequests++
	n := float64(m.TotalRequests)

	if s.Success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}

	m.AvgResponseTime = (m.AvgResponseTime*(n-1) + s.ResponseTime) / n
	m.AvgTokens = (m.AvgTokens*(n-1) + float64(s.Tokens)) / n
	m.TotalCost += s.Cost

	if s.Success {
		if m.SuccessCount == 1 {
			m.QualityScore = clamp01(s.Quality)
		} else {
			m.QualityScore = clamp01((1-qualityAlpha)*m.QualityScore + qualityAlpha*clamp01(s.Quality))
		}
	}

	availSample := 0.0
	if s.Success {
		availSample = 1.0
	}
	m.AvailabilityScore = clamp01((1-availabilityAlpha)*m.AvailabilityScore + availabilityAlpha*availSample)

	m.ErrorRate = float64(m.FailureCount) / float64(m.TotalRequests)
	m.LastUsed = t.now()
}

// Get 获取单个模型指标副本
func (t *Tracker) Get(modelID string) (Metrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.records[modelID]; ok {
		return *m, true
	}
	return Metrics{}, false
}

// Snapshot 获取全部模型指标副本
func (t *Tracker) Snapshot() map[string]Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]Metrics, len(t.records))
	for id, m := range t.records {
		result[id] = *m
	}
	return result
}

// Settings 读取当前设置副本
func (t *Tracker) Settings() Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// UpdateSettings 应用部分更新, 返回更新后的设置
func (t *Tracker) UpdateSettings(patch SettingsPatch) (Settings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if patch.FallbackThreshold != nil {
		v := *patch.FallbackThreshold
		if v < 0 || v > 1 {
			return t.settings, fmt.Errorf("fallback_threshold 必须在 [0,1] 内: %v", v)
		}
		t.settings.FallbackThreshold = v
	}
	if patch.QualityThreshold != nil {
		v := *patch.QualityThreshold
		if v < 0 || v > 1 {
			return t.settings, fmt.Errorf("quality_threshold 必须在 [0,1] 内: %v", v)
		}
		t.settings.QualityThreshold = v
	}
	if patch.AvailabilityTTL != nil {
		v := *patch.AvailabilityTTL
		if v <= 0 {
			return t.settings, fmt.Errorf("availability_ttl 必须为正: %v", v)
		}
		t.settings.AvailabilityTTL = v
	}
	return t.settings, nil
}

// Reset 清空全部指标（管理操作）
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Metrics)
}

// Export 导出全量快照, 满足 Import(Export(x)) == x（时间戳精度除外）
func (t *Tracker) Export() *Export {
	t.mu.RLock()
	defer t.mu.RUnlock()

	models := make(map[string]Metrics, len(t.records))
	for id, m := range t.records {
		models[id] = *m
	}
	return &Export{
		Models:     models,
		Settings:   t.settings,
		ExportedAt: t.now(),
	}
}

// Import 用快照整体替换当前状态
func (t *Tracker) Import(snapshot *Export) error {
	if snapshot == nil {
		return fmt.Errorf("快照为空")
	}
	for id, m := range snapshot.Models {
		if m.TotalRequests != m.SuccessCount+m.FailureCount {
			return fmt.Errorf("模型 %s 的计数不一致", id)
		}
		if m.AvailabilityScore < 0 || m.AvailabilityScore > 1 || m.QualityScore < 0 || m.QualityScore > 1 {
			return fmt.Errorf("模型 %s 的得分越界", id)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[string]*Metrics, len(snapshot.Models))
	for id, m := range snapshot.Models {
		copied := m
		copied.ModelID = id
		t.records[id] = &copied
	}
	if snapshot.Settings != (Settings{}) {
		t.settings = snapshot.Settings
	}
	return nil
}

// clamp01 裁剪到 [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
