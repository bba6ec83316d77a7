package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/service/mq"
)

// OutboxStore relay 需要的 outbox 读写
type OutboxStore interface {
	PendingMessages(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id uint64) error
}

// RelayService 负责将本地消息表的消息搬运到 MQ
type RelayService struct {
	store     OutboxStore
	producer  mq.Producer
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewRelayService(store OutboxStore, producer mq.Producer, log *zap.Logger) *RelayService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RelayService{
		store:     store,
		producer:  producer,
		interval:  500 * time.Millisecond,
		batchSize: 50,
		log:       log.Named("relay"),
	}
}

// Start 轮询 outbox，直到 ctx 取消
func (s *RelayService) Start(ctx context.Context) {
	s.log.Info("启动消息中继服务")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("停止消息中继服务")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

// processPendingMessages 返回本轮投递成功的条数
func (s *RelayService) processPendingMessages(ctx context.Context) int {
	messages, err := s.store.PendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			// 保持顺序: 同一批后面的消息留到下一轮
			s.log.Warn("发送消息失败", zap.Uint64("id", msg.ID), zap.Error(err))
			return sent
		}

		// 先发送后标记 => At-least-once，消费方需要按 tx_id 幂等
		if err := s.store.MarkSent(ctx, msg.ID); err != nil {
			s.log.Warn("更新状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	s.log.Debug("消息已投递", zap.Int("count", sent))
	return sent
}
