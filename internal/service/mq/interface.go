package mq

import "context"

// Message 从 Kafka 或 Redis Stream 读出的一条事件
type Message struct {
	ID      string // Redis Stream ID，Kafka 为 "<partition>-<offset>"
	Topic   string
	Key     string // 交易 ID
	Payload []byte
}

// Handler 返回 error 时消息不确认，之后会被重新投递
type Handler func(msg *Message) error

// Producer 事件发布方，由 outbox relay 使用
type Producer interface {
	// Publish 同一个 key 的消息保证顺序
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// Consumer 事件订阅方，Subscribe 阻塞直到 ctx 取消
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
