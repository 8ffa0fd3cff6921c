package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"backend/internal/logger"
	"backend/internal/metrics"

	"go.uber.org/zap"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("会话不存在")

// 热历史缓存
const (
	historyCachePrefix = "chat:history:"
	historyCacheTTL    = 10 * time.Minute
	defaultHistorySize = 50
)

// Service 会话服务
// 消息持久化走数据库, 最近历史经 Redis 读穿缓存加速;
// Redis 未启用时自动退化为纯数据库路径
type Service struct {
	db    *gorm.DB
	cache redis.UniversalClient // 可为 nil
}

// NewService 创建会话服务
func NewService(db *gorm.DB, cache redis.UniversalClient) *Service {
	return &Service{db: db, cache: cache}
}

// CreateSession 创建会话
func (s *Service) CreateSession(ctx context.Context, title string) (*Session, error) {
	session := &Session{
		ID:    uuid.NewString(),
		Title: title,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return session, nil
}

// GetSession 获取会话
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &session, nil
}

// ListSessions 按更新时间倒序分页列出会话
func (s *Service) ListSessions(ctx context.Context, limit, offset int) ([]Session, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计会话失败: %w", err)
	}

	var sessions []Session
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return sessions, total, nil
}

// DeleteSession 删除会话及其全部消息
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Session{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return tx.Delete(&Message{}, "session_id = ?", id).Error
	})
	if err != nil {
		return err
	}
	s.invalidateHistory(ctx, id)
	return nil
}

// AppendMessage 追加一条消息并更新会话统计
func (s *Service) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := tx.First(&session, "id = ?", msg.SessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&session).Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"total_cost":    gorm.Expr("total_cost + ?", msg.Cost),
			"updated_at":    time.Now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("追加消息失败: %w", err)
	}
	s.invalidateHistory(ctx, msg.SessionID)
	return nil
}

// History 获取会话最近消息（时间正序）
// 优先读缓存, 未命中时回源数据库并回填
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultHistorySize
	}

	if s.cache != nil {
		if messages, ok := s.historyFromCache(ctx, sessionID, limit); ok {
			metrics.CacheHitsTotal.WithLabelValues("chat_history").Inc()
			return messages, nil
		}
		metrics.CacheMissesTotal.WithLabelValues("chat_history").Inc()
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("查询会话历史失败: %w", err)
	}

	// 倒序查询取最近 N 条, 返回前恢复时间正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.fillHistoryCache(ctx, sessionID, messages)
	return messages, nil
}

// historyFromCache 读缓存, 命中且条数足够时直接返回尾部 limit 条
func (s *Service) historyFromCache(ctx context.Context, sessionID string, limit int) ([]Message, bool) {
	payload, err := s.cache.Get(ctx, historyCachePrefix+sessionID).Result()
	if err != nil {
		return nil, false
	}
	var messages []Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, false
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, true
}

// fillHistoryCache 回填缓存, 失败只记日志
func (s *Service) fillHistoryCache(ctx context.Context, sessionID string, messages []Message) {
	if s.cache == nil || len(messages) == 0 {
		return
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, historyCachePrefix+sessionID, payload, historyCacheTTL).Err(); err != nil {
		logger.Debug("回填会话历史缓存失败",
			zap.String("sessionId", sessionID),
			zap.Error(err),
		)
	}
}

// invalidateHistory 失效历史缓存
func (s *Service) invalidateHistory(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, historyCachePrefix+sessionID).Err(); err != nil {
		logger.Debug("失效会话历史缓存失败",
			zap.String("sessionId", sessionID),
			zap.Error(err),
		)
	}
}
