package model

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// NewOutboxMessage 把事件编码为待投递消息，分区键为交易 ID，保证同一交易的事件有序
func NewOutboxMessage(topic string, ev TransferEvent) (OutboxMessage, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("编码转账事件失败: %w", err)
	}
	return OutboxMessage{
		Topic:   topic,
		Key:     ev.TxID,
		Payload: payload,
		Status:  OutboxPending,
	}, nil
}

// EnqueueEvent 必须在写业务数据的同一个 gorm 事务里调用
func EnqueueEvent(tx *gorm.DB, topic string, ev TransferEvent) error {
	msg, err := NewOutboxMessage(topic, ev)
	if err != nil {
		return err
	}
	return tx.Create(&msg).Error
}

// DecodeTransferEvent 消费端解析消息体
func DecodeTransferEvent(payload []byte) (TransferEvent, error) {
	var ev TransferEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TransferEvent{}, fmt.Errorf("解析转账事件失败: %w", err)
	}
	return ev, nil
}
