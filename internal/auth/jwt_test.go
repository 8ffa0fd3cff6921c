package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&config.AuthConfig{
		JWTSecret:   "test-secret",
		AdminAPIKey: "test-admin-key",
		TokenTTL:    60,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(&config.AuthConfig{AdminAPIKey: "k"})
	assert.Error(t, err)
}

func TestExchangeAndVerify(t *testing.T) {
	m := newTestManager(t)

	token, expiresAt, err := m.Exchange("test-admin-key")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "modelrouter", claims.Issuer)
}

func TestExchangeRejectsWrongKey(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Exchange("wrong-key")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, _, err = m.Exchange("")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestExchangeRejectsWhenAdminKeyUnset(t *testing.T) {
	m, err := NewManager(&config.AuthConfig{JWTSecret: "s"})
	require.NoError(t, err)

	_, _, err = m.Exchange("anything")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(&config.AuthConfig{JWTSecret: "another-secret", AdminAPIKey: "test-admin-key"})
	require.NoError(t, err)

	token, _, err := other.Exchange("test-admin-key")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)

	// 把签发时间拨回过去, 让 Token 签出来就是过期的
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }
	token, _, err := m.Exchange("test-admin-key")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminRequiredMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)

	engine := gin.New()
	engine.GET("/admin", AdminRequired(m), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// 缺少 Token
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 非法 Token
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 合法 Token
	token, _, err := m.Exchange("test-admin-key")
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
