// Package store 用 gorm 持久化转账审计记录和 outbox 消息。
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/orchestrator"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// DefaultEventTopic 转账事件主题
const DefaultEventTopic = "transfer_events"

// TransferStore 实现 orchestrator.Recorder 和 relay 需要的 outbox 读写
type TransferStore struct {
	db    *gorm.DB
	topic string
}

var _ orchestrator.Recorder = (*TransferStore)(nil)

func NewTransferStore(db *gorm.DB, topic string) *TransferStore {
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &TransferStore{db: db, topic: topic}
}

// Record 在一个事务里写审计记录和 outbox 消息
func (s *TransferStore) Record(ctx context.Context, r orchestrator.Record) error {
	row := FromRecord(r)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return model.EnqueueEvent(tx, s.topic, row.Event())
	})
}

// Find 按交易 ID 查询最近一条记录
func (s *TransferStore) Find(ctx context.Context, txID string) (*model.Transfer, error) {
	var row model.Transfer
	err := s.db.WithContext(ctx).Where("tx_id = ?", txID).Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateStatus 补记之前未知的结果 (例如轮询超时后又确认了)，同时写一条新事件
func (s *TransferStore) UpdateStatus(ctx context.Context, row *model.Transfer, status string, confirmedRound uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row.Status = status
		row.ConfirmedRound = confirmedRound
		row.UpdatedAt = time.Now()
		if err := tx.Model(row).Updates(map[string]interface{}{
			"status":          status,
			"confirmed_round": confirmedRound,
			"updated_at":      row.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		return model.EnqueueEvent(tx, s.topic, row.Event())
	})
}

// PendingMessages 取一批待发送的 outbox 消息
func (s *TransferStore) PendingMessages(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var messages []model.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 标记消息已投递
func (s *TransferStore) MarkSent(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("id = ?", id).Update("status", model.OutboxSent).Error
}

// FromRecord 把编排层的审计信息转成数据库行
func FromRecord(r orchestrator.Record) model.Transfer {
	now := time.Now()
	return model.Transfer{
		WorkflowID:     r.WorkflowID,
		Operation:      r.Operation,
		TxID:           r.TxID,
		Sender:         r.Sender,
		Receiver:       r.Receiver,
		AssetID:        r.AssetID,
		Amount:         r.Amount,
		BundleSize:     r.BundleSize,
		ConfirmedRound: r.ConfirmedRound,
		Status:         r.Status,
		Error:          r.Error,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
