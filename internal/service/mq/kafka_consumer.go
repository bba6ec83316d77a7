package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// handlerAttempts 同一条消息最多处理几次，之后记录日志并提交 offset 跳过，
// 否则一条坏消息会卡住整个分区
const handlerAttempts = 3

// KafkaConsumer 消费者组方式订阅，处理成功后才提交 offset
type KafkaConsumer struct {
	brokers []string
	group   string
	reader  *kafka.Reader
	log     *zap.Logger
}

func NewKafkaConsumer(brokers []string, group string, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaConsumer{brokers: brokers, group: group, log: log.Named("kafka")}
}

func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.group,
		Topic:       topic,
		MaxBytes:    1 << 20, // 单个事件只有几百字节
		StartOffset: kafka.FirstOffset,
	})
	defer c.reader.Close()

	c.log.Info("开始消费", zap.String("topic", topic), zap.String("group", c.group))
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("拉取消息失败", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		msg := &Message{
			ID:      fmt.Sprintf("%d-%d", m.Partition, m.Offset),
			Topic:   m.Topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}
		c.handle(ctx, msg, handler)

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("提交 offset 失败", zap.String("id", msg.ID), zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg *Message, handler Handler) {
	var err error
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = handler(msg); err == nil {
			return
		}
		c.log.Warn("消息处理失败", zap.String("id", msg.ID), zap.Int("attempt", attempt), zap.Error(err))
		if !sleepCtx(ctx, time.Duration(attempt)*200*time.Millisecond) {
			return
		}
	}
	c.log.Error("消息多次处理失败，跳过", zap.String("id", msg.ID), zap.String("key", msg.Key), zap.Error(err))
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// sleepCtx ctx 取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
