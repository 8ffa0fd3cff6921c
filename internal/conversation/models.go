package conversation

import (
	"time"
)

// Session 会话
type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Title        string    `gorm:"size:255" json:"title"`
	MessageCount int       `gorm:"default:0" json:"messageCount"`
	TotalCost    float64   `gorm:"default:0" json:"totalCost"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Session) TableName() string {
	return "chat_sessions"
}

// Message 会话消息
// 助手消息上附带实际产出它的模型与成本信息, 降级发生时可据此回溯
type Message struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID    string    `gorm:"size:36;index;not null" json:"sessionId"`
	Role         string    `gorm:"size:16;not null" json:"role"`
	Content      string    `gorm:"type:text" json:"content"`
	Model        string    `gorm:"size:64" json:"model,omitempty"`
	Provider     string    `gorm:"size:32" json:"provider,omitempty"`
	FallbackUsed bool      `json:"fallbackUsed,omitempty"`
	Tokens       int       `json:"tokens,omitempty"`
	Cost         float64   `json:"cost,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "chat_messages"
}
