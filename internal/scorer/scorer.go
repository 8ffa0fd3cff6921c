package scorer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"backend/internal/analyzer"
	"backend/internal/tracker"
	"backend/pkg/aiinterface"
)

// ErrNoViableModel 候选集为空
// 调用方要么提前过滤保证非空, 要么捕获后退化为"第一个可用模型"策略
var ErrNoViableModel = errors.New("没有可用的候选模型")

// Priority 用户优先级偏好
type Priority string

const (
	PrioritySpeed    Priority = "speed"
	PriorityQuality  Priority = "quality"
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
)

// Weights 五维评分权重, 各向量之和为 1.0
type Weights struct {
	Performance  float64
	Quality      float64
	Speed        float64
	Cost         float64
	Availability float64
}

// 四个固定权重向量, 按优先级取用
var priorityWeights = map[Priority]Weights{
	PrioritySpeed:    {Performance: 0.15, Quality: 0.10, Speed: 0.45, Cost: 0.15, Availability: 0.15},
	PriorityQuality:  {Performance: 0.20, Quality: 0.45, Speed: 0.05, Cost: 0.10, Availability: 0.20},
	PriorityCost:     {Performance: 0.15, Quality: 0.10, Speed: 0.10, Cost: 0.50, Availability: 0.15},
	PriorityBalanced: {Performance: 0.25, Quality: 0.25, Speed: 0.20, Cost: 0.15, Availability: 0.15},
}

// multipliers 复杂度对 {speed, cost, quality} 分量的乘数
type multipliers struct {
	Speed, Cost, Quality float64
}

var complexityMultipliers = map[analyzer.Complexity]multipliers{
	analyzer.ComplexitySimple:   {Speed: 1.2, Cost: 1.3, Quality: 0.8},
	analyzer.ComplexityModerate: {Speed: 1.0, Cost: 1.0, Quality: 1.0},
	analyzer.ComplexityComplex:  {Speed: 0.8, Cost: 0.9, Quality: 1.2},
	analyzer.ComplexityExpert:   {Speed: 0.6, Cost: 0.7, Quality: 1.4},
}

// 无历史数据时按档位取的缺省分量（0-100）
var tierDefaults = map[aiinterface.ModelTier]struct {
	Performance float64
	Quality     float64 // 缺省 quality_score × 100
	Speed       float64
}{
	aiinterface.TierFast:     {Performance: 75, Quality: 60, Speed: 90},
	aiinterface.TierBalanced: {Performance: 80, Quality: 70, Speed: 70},
	aiinterface.TierPremium:  {Performance: 85, Quality: 80, Speed: 50},
	aiinterface.TierExpert:   {Performance: 88, Quality: 85, Speed: 35},
}

// 档位质量加成
var tierBonus = map[aiinterface.ModelTier]float64{
	aiinterface.TierFast:     0,
	aiinterface.TierBalanced: 10,
	aiinterface.TierPremium:  25,
	aiinterface.TierExpert:   35,
}

// 分量归一化基准
const (
	latencyCeiling = 10.0 // 秒, 达到即速度分归零
	costCeiling    = 0.10 // 美元, 达到即成本分归零
)

// MetricsReader 评分所需的指标读取接口
type MetricsReader interface {
	Get(modelID string) (tracker.Metrics, bool)
}

// Recommendation 评分结果
type Recommendation struct {
	ModelID               string               `json:"modelId"`
	Provider              string               `json:"provider"`
	Tier                  aiinterface.ModelTier `json:"tier"`
	Score                 float64              `json:"score"`
	Confidence            float64              `json:"confidence"`
	Reasoning             string               `json:"reasoning"`
	EstimatedCost         float64              `json:"estimatedCost"`         // 美元
	EstimatedResponseTime float64              `json:"estimatedResponseTime"` // 秒
}

// Scorer 多因子模型评分器
// 纯计算: 相同的指标快照、查询分析与优先级必然产生相同的选择
type Scorer struct {
	metrics MetricsReader
}

// New 创建评分器
func New(metrics MetricsReader) *Scorer {
	return &Scorer{metrics: metrics}
}

// Recommend 从候选集中选出总分最高的模型
// candidates 必须已按可用性预过滤; 为空时返回 ErrNoViableModel
func (s *Scorer) Recommend(analysis *analyzer.Analysis, candidates []*aiinterface.ModelDescriptor, priority Priority) (*Recommendation, error) {
	ranked, err := s.Rank(analysis, candidates, priority)
	if err != nil {
		return nil, err
	}
	return &ranked[0], nil
}

// Rank 对候选集完整排序（降序）, 顺序在总分并列时保持候选声明序
func (s *Scorer) Rank(analysis *analyzer.Analysis, candidates []*aiinterface.ModelDescriptor, priority Priority) ([]Recommendation, error) {
	if len(candidates) == 0 {
		return nil, ErrNoViableModel
	}

	weights, ok := priorityWeights[priority]
	if !ok {
		weights = priorityWeights[PriorityBalanced]
		priority = PriorityBalanced
	}
	mult := complexityMultipliers[analysis.Complexity]

	result := make([]Recommendation, 0, len(candidates))
	for _, desc := range candidates {
		result = append(result, s.scoreOne(analysis, desc, priority, weights, mult))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result, nil
}

// scoreOne 计算单个候选的五维加权总分
func (s *Scorer) scoreOne(analysis *analyzer.Analysis, desc *aiinterface.ModelDescriptor, priority Priority, weights Weights, mult multipliers) Recommendation {
	defaults := tierDefaults[desc.Tier]
	metrics, hasHistory := s.metrics.Get(desc.ID)

	// 各分量 0-100
	performance := defaults.Performance
	quality := defaults.Quality
	speed := defaults.Speed
	availability := 95.0
	estLatency := latencyFromSpeed(defaults.Speed)

	if hasHistory && metrics.TotalRequests > 0 {
		successRate := float64(metrics.SuccessCount) / float64(metrics.TotalRequests)
		performance = successRate * 100
		quality = metrics.QualityScore * 100
		availability = metrics.AvailabilityScore * 100
		if metrics.AvgResponseTime > 0 {
			estLatency = metrics.AvgResponseTime
			speed = 100 * (1 - min(metrics.AvgResponseTime/latencyCeiling, 1))
		}
	}
	quality += tierBonus[desc.Tier]

	estCost := estimateCost(analysis.EstimatedTokens, desc)
	cost := 100 * (1 - min(estCost/costCeiling, 1))

	// 复杂度乘数只作用于 speed/cost/quality 三个分量
	speed *= mult.Speed
	cost *= mult.Cost
	quality *= mult.Quality

	total := performance*weights.Performance +
		quality*weights.Quality +
		speed*weights.Speed +
		cost*weights.Cost +
		availability*weights.Availability

	confidence := 0.5
	if hasHistory && metrics.TotalRequests > 0 {
		confidence = min(float64(metrics.TotalRequests)/100.0, 1.0)
	}

	reasoning := buildReasoning(desc, priority, analysis, performance, quality, speed, cost, availability, hasHistory)

	return Recommendation{
		ModelID:               desc.ID,
		Provider:              desc.Provider,
		Tier:                  desc.Tier,
		Score:                 total,
		Confidence:            confidence,
		Reasoning:             reasoning,
		EstimatedCost:         estCost,
		EstimatedResponseTime: estLatency,
	}
}

// estimateCost 预估一次请求成本: 输入输出各按分析估算的 Token 数计
func estimateCost(estTokens int, desc *aiinterface.ModelDescriptor) float64 {
	tokens := float64(estTokens)
	return tokens/1000*desc.InputCostPer1K + tokens/1000*desc.OutputCostPer1K
}

// latencyFromSpeed 由缺省速度分反推预估延迟
func latencyFromSpeed(speed float64) float64 {
	return (1 - speed/100) * latencyCeiling
}

// buildReasoning 生成人类可读的选型依据
func buildReasoning(desc *aiinterface.ModelDescriptor, priority Priority, analysis *analyzer.Analysis, performance, quality, speed, cost, availability float64, hasHistory bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s档)", desc.ID, desc.Tier)
	if hasHistory {
		fmt.Fprintf(&b, ", 基于历史指标")
	} else {
		fmt.Fprintf(&b, ", 无历史数据按档位缺省")
	}
	fmt.Fprintf(&b, "; 优先级=%s, 复杂度=%s", priority, analysis.Complexity)
	fmt.Fprintf(&b, "; 分量[性能%.0f 质量%.0f 速度%.0f 成本%.0f 可用%.0f]",
		performance, quality, speed, cost, availability)
	return b.String()
}

// min 取较小值
func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
