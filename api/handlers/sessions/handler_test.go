package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend/internal/common"
	"backend/internal/conversation"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *conversation.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:sessions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&conversation.Session{}, &conversation.Message{}))

	service := conversation.NewService(db, nil)
	h := NewHandler(service)

	engine := gin.New()
	engine.POST("/api/sessions", h.Create)
	engine.GET("/api/sessions", h.List)
	engine.GET("/api/sessions/:id", h.Get)
	engine.GET("/api/sessions/:id/messages", h.History)
	engine.DELETE("/api/sessions/:id", h.Delete)
	return engine, service
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, common.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp common.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestCreateSessionHandler(t *testing.T) {
	engine, _ := setupTestRouter(t)

	w, resp := doJSON(t, engine, http.MethodPost, "/api/sessions", map[string]string{"title": "新对话"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "新对话", data["title"])
	assert.NotEmpty(t, data["id"])
}

func TestCreateSessionDefaultTitle(t *testing.T) {
	engine, _ := setupTestRouter(t)

	_, resp := doJSON(t, engine, http.MethodPost, "/api/sessions", map[string]string{})
	require.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "新会话", data["title"])
}

func TestGetSessionNotFound(t *testing.T) {
	engine, _ := setupTestRouter(t)

	w, resp := doJSON(t, engine, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, common.CodeSessionNotFound, resp.Code)
}

func TestListSessionsHandler(t *testing.T) {
	engine, service := setupTestRouter(t)
	for i := 0; i < 3; i++ {
		_, err := service.CreateSession(context.Background(), fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	w, resp := doJSON(t, engine, http.MethodGet, "/api/sessions?page=1&page_size=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	assert.Len(t, items, 2)
	pagination := data["pagination"].(map[string]any)
	assert.Equal(t, float64(3), pagination["total"])
	assert.Equal(t, float64(2), pagination["total_pages"])
}

func TestSessionHistoryHandler(t *testing.T) {
	engine, service := setupTestRouter(t)
	session, err := service.CreateSession(context.Background(), "s")
	require.NoError(t, err)
	require.NoError(t, service.AppendMessage(context.Background(), &conversation.Message{
		SessionID: session.ID,
		Role:      "user",
		Content:   "你好",
	}))

	w, resp := doJSON(t, engine, http.MethodGet, "/api/sessions/"+session.ID+"/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	items := resp.Data.([]any)
	require.Len(t, items, 1)
	msg := items[0].(map[string]any)
	assert.Equal(t, "你好", msg["content"])
}

func TestDeleteSessionHandler(t *testing.T) {
	engine, service := setupTestRouter(t)
	session, err := service.CreateSession(context.Background(), "s")
	require.NoError(t, err)

	w, resp := doJSON(t, engine, http.MethodDelete, "/api/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = doJSON(t, engine, http.MethodDelete, "/api/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, common.CodeSessionNotFound, resp.Code)
}
