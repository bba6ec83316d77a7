package model

import (
	"time"

	"gorm.io/gorm"
)

// Transfer 已提交流程的审计记录，一个交易包一行 (以第一笔交易 ID 为准)
type Transfer struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkflowID     string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"workflow_id"`
	Operation      string    `gorm:"type:varchar(32);not null;index" json:"operation"`
	TxID           string    `gorm:"type:varchar(64);index;not null" json:"tx_id"`
	Sender         string    `gorm:"type:varchar(58)" json:"sender"`
	Receiver       string    `gorm:"type:varchar(58)" json:"receiver"`
	AssetID        uint64    `gorm:"index" json:"asset_id"`
	Amount         uint64    `json:"amount"`
	BundleSize     int       `gorm:"not null;default:1" json:"bundle_size"`
	ConfirmedRound uint64    `json:"confirmed_round"`
	Status         string    `gorm:"type:varchar(20);not null;index" json:"status"` // confirmed, rejected, timed_out, unknown, failed
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// AllModels db.auto_migrate 打开时交给 gorm AutoMigrate，需与 migrations/ 保持一致
func AllModels() []interface{} {
	return []interface{}{&Transfer{}, &OutboxMessage{}}
}

// Outbox 消息状态
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
)

// OutboxMessage 本地消息表 (Transactional Outbox)
type OutboxMessage struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string         `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string         `gorm:"type:varchar(255)" json:"key"` // 分区键，这里用交易 ID
	Payload   []byte         `gorm:"type:text;not null" json:"payload"`
	Status    string         `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
