package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// initTestDB 创建内存数据库用于测试
func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:conversation_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	return NewService(initTestDB(t), nil)
}

func TestCreateAndGetSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "测试会话")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := svc.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "测试会话", got.Title)
	assert.Equal(t, 0, got.MessageCount)
}

func TestGetSessionNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendMessageUpdatesCounters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(ctx, &Message{
		SessionID: session.ID,
		Role:      "user",
		Content:   "你好",
	}))
	require.NoError(t, svc.AppendMessage(ctx, &Message{
		SessionID:    session.ID,
		Role:         "assistant",
		Content:      "你好！",
		Model:        "gpt-4o-mini",
		Provider:     "openai",
		FallbackUsed: true,
		Tokens:       12,
		Cost:         0.0005,
	}))

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.InDelta(t, 0.0005, got.TotalCost, 1e-9)
}

func TestAppendMessageUnknownSession(t *testing.T) {
	svc := newTestService(t)
	err := svc.AppendMessage(context.Background(), &Message{
		SessionID: "missing",
		Role:      "user",
		Content:   "x",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryChronologicalOrderAndLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AppendMessage(ctx, &Message{
			SessionID: session.ID,
			Role:      "user",
			Content:   fmt.Sprintf("消息 %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	// 取最近 3 条, 返回时间正序
	history, err := svc.History(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "消息 2", history[0].Content)
	assert.Equal(t, "消息 3", history[1].Content)
	assert.Equal(t, "消息 4", history[2].Content)
}

func TestHistoryEmptySession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s")
	require.NoError(t, err)

	history, err := svc.History(ctx, session.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestListSessionsPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateSession(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	items, total, err := svc.ListSessions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 2)

	items, _, err = svc.ListSessions(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(ctx, &Message{
		SessionID: session.ID,
		Role:      "user",
		Content:   "x",
	}))

	require.NoError(t, svc.DeleteSession(ctx, session.ID))

	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var count int64
	require.NoError(t, svc.db.Model(&Message{}).Where("session_id = ?", session.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDeleteSessionNotFound(t *testing.T) {
	svc := newTestService(t)
	err := svc.DeleteSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
