package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MetricsSnapshot 指标快照表, 用于备份与重启恢复
type MetricsSnapshot struct {
	ID        uint      `gorm:"primaryKey"`
	Payload   string    `gorm:"type:text;not null"` // Export 的 JSON 序列化
	CreatedAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (MetricsSnapshot) TableName() string {
	return "model_metrics_snapshots"
}

// 每个快照表最多保留的历史条数
const maxSnapshots = 20

// Store 指标快照存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建快照存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save 保存一份快照并裁剪历史
func (s *Store) Save(ctx context.Context, snapshot *Export) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化指标快照失败: %w", err)
	}

	row := &MetricsSnapshot{Payload: string(payload)}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("保存指标快照失败: %w", err)
	}

	// 裁剪历史, 只保留最近 maxSnapshots 条
	var cutoff MetricsSnapshot
	err = s.db.WithContext(ctx).
		Order("id DESC").
		Offset(maxSnapshots - 1).
		First(&cutoff).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("查询快照裁剪点失败: %w", err)
	}
	return s.db.WithContext(ctx).
		Where("id < ?", cutoff.ID).
		Delete(&MetricsSnapshot{}).Error
}

// LoadLatest 加载最近一份快照, 无快照时返回 (nil, nil)
func (s *Store) LoadLatest(ctx context.Context) (*Export, error) {
	var row MetricsSnapshot
	err := s.db.WithContext(ctx).Order("id DESC").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("加载指标快照失败: %w", err)
	}

	var snapshot Export
	if err := json.Unmarshal([]byte(row.Payload), &snapshot); err != nil {
		return nil, fmt.Errorf("解析指标快照失败: %w", err)
	}
	return &snapshot, nil
}
