package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节）
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 模型调用指标
var (
	// ModelCallsTotal 模型调用总数
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_model_calls_total",
			Help: "AI 模型调用总数",
		},
		[]string{"provider", "model", "status"},
	)

	// ModelCallDuration 模型调用耗时（秒）
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_model_call_duration_seconds",
			Help:    "AI 模型调用耗时分布",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// ModelCallTokens 模型调用 Token 数量
	ModelCallTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_model_call_tokens_total",
			Help: "AI 模型调用 Token 总数",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	// ModelCallCost 模型调用累计成本（美元）
	ModelCallCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_model_call_cost_dollars_total",
			Help: "AI 模型调用累计成本",
		},
		[]string{"provider", "model"},
	)
)

// 路由与降级指标
var (
	// FallbacksTotal 降级切换次数
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_fallbacks_total",
			Help: "模型降级切换次数",
		},
		[]string{"from", "to"},
	)

	// DispatchExhaustedTotal 降级链整体耗尽次数
	DispatchExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_dispatch_exhausted_total",
			Help: "所有候选模型均失败的请求数",
		},
	)

	// AvailabilityChecksTotal 可用性探测次数
	AvailabilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_availability_checks_total",
			Help: "可用性探测次数",
		},
		[]string{"model", "result"}, // result: available, unavailable
	)

	// ModelAvailabilityScore 模型可用性得分（EMA）
	ModelAvailabilityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_model_availability_score",
			Help: "模型可用性得分 [0,1]",
		},
		[]string{"model"},
	)

	// ModelQualityScore 模型质量得分（EMA）
	ModelQualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_model_quality_score",
			Help: "模型质量得分 [0,1]",
		},
		[]string{"model"},
	)

	// ModelErrorRate 模型错误率
	ModelErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_model_error_rate",
			Help: "模型错误率 [0,1]",
		},
		[]string{"model"},
	)
)

// WebSocket 指标
var (
	// WebSocketConnections WebSocket 在线连接数
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_ws_connections",
			Help: "WebSocket 在线连接数",
		},
	)
)

// 数据库指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_db_connections",
			Help: "数据库连接数",
		},
		[]string{"state"}, // state: open, in_use, idle
	)
)

// 缓存指标
var (
	// CacheHitsTotal 缓存命中数
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_hits_total",
			Help: "缓存命中总数",
		},
		[]string{"cache_type"},
	)

	// CacheMissesTotal 缓存未命中数
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_misses_total",
			Help: "缓存未命中总数",
		},
		[]string{"cache_type"},
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_build_info",
			Help: "构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}

// ObserveModelCall 记录一次完成的模型调用
func ObserveModelCall(provider, model string, success bool, duration float64, promptTokens, outputTokens int, cost float64) {
	status := "success"
	if !success {
		status = "failed"
	}
	ModelCallsTotal.WithLabelValues(provider, model, status).Inc()
	ModelCallDuration.WithLabelValues(provider, model).Observe(duration)
	if promptTokens > 0 {
		ModelCallTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if outputTokens > 0 {
		ModelCallTokens.WithLabelValues(provider, model, "completion").Add(float64(outputTokens))
	}
	if cost > 0 {
		ModelCallCost.WithLabelValues(provider, model).Add(cost)
	}
}

// ObserveFallback 记录一次降级切换
func ObserveFallback(from, to string) {
	FallbacksTotal.WithLabelValues(from, to).Inc()
}

// ObserveAvailabilityCheck 记录一次可用性探测结果
func ObserveAvailabilityCheck(model string, available bool) {
	result := "available"
	if !available {
		result = "unavailable"
	}
	AvailabilityChecksTotal.WithLabelValues(model, result).Inc()
}
