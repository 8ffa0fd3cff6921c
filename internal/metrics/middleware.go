package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware HTTP 指标收集中间件
// 按路由模板维度记录 QPS、延迟与请求/响应大小
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// /metrics 自身不参与统计
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		requestSize := c.Request.ContentLength

		c.Next()

		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())

		APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
		if requestSize > 0 {
			APIRequestSize.WithLabelValues(c.Request.Method, path).Observe(float64(requestSize))
		}
		if respSize := c.Writer.Size(); respSize >= 0 {
			APIResponseSize.WithLabelValues(c.Request.Method, path).Observe(float64(respSize))
		}
	}
}
