package metrics

import (
	"database/sql"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"backend/internal/tracker"
)

// SystemCollector 系统指标收集器
// 周期性把数据库连接、Go 运行时与各模型的自适应得分发布为 Gauge
type SystemCollector struct {
	db      *sql.DB
	tracker *tracker.Tracker
	done    chan struct{}
}

// NewSystemCollector 创建并启动系统指标收集器
func NewSystemCollector(db *sql.DB, trk *tracker.Tracker) *SystemCollector {
	collector := &SystemCollector{
		db:      db,
		tracker: trk,
		done:    make(chan struct{}),
	}
	go collector.collectPeriodically()
	return collector
}

// Stop 停止收集
func (c *SystemCollector) Stop() {
	close(c.done)
}

// collectPeriodically 定期收集
func (c *SystemCollector) collectPeriodically() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.collectOnce()
		}
	}
}

// collectOnce 收集一次
func (c *SystemCollector) collectOnce() {
	if c.db != nil {
		c.collectDBStats()
	}
	if c.tracker != nil {
		c.collectModelScores()
	}
	c.collectRuntimeStats()
}

// collectDBStats 收集数据库连接统计
func (c *SystemCollector) collectDBStats() {
	stats := c.db.Stats()
	DBConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
	DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
}

// collectModelScores 把跟踪器里的模型得分发布为 Gauge
func (c *SystemCollector) collectModelScores() {
	for id, m := range c.tracker.Snapshot() {
		ModelAvailabilityScore.WithLabelValues(id).Set(m.AvailabilityScore)
		ModelQualityScore.WithLabelValues(id).Set(m.QualityScore)
		ModelErrorRate.WithLabelValues(id).Set(m.ErrorRate)
	}
}

// collectRuntimeStats 收集 Go 运行时统计
func (c *SystemCollector) collectRuntimeStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	goMemoryUsage.Set(float64(m.Alloc))
	goMemoryTotal.Set(float64(m.TotalAlloc))
	goMemorySys.Set(float64(m.Sys))
	goGoroutines.Set(float64(runtime.NumGoroutine()))
	goGCCount.Set(float64(m.NumGC))
}

// Go 运行时指标
var (
	goMemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_go_memory_usage_bytes",
			Help: "当前 Go 内存使用量",
		},
	)

	goMemoryTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_go_memory_total_bytes",
			Help: "累计 Go 内存分配量",
		},
	)

	goMemorySys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_go_memory_sys_bytes",
			Help: "Go 从系统获取的内存",
		},
	)

	goGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_go_goroutines",
			Help: "当前 Goroutine 数量",
		},
	)

	goGCCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_go_gc_count",
			Help: "GC 执行总次数",
		},
	)
)
