package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("client"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("client"), "burst exhausted")
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))

	// 100/s 的补充速率下 50ms 足够回填一个令牌
	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.Allow("client"))
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "another client has its own bucket")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(&RateLimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	engine := gin.New()
	engine.GET("/ping", RateLimitMiddleware(rl), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		engine.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
