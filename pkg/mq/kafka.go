// Package mq 提供 Kafka producer/consumer 通用实现，JSON 负载，支持重试与优雅关闭
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// Config Kafka 配置
type Config struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	RetryBackoff   int
}

// Producer Kafka 生产者
type Producer struct {
	writer *kafka.Writer
	config Config
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg Config) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(context.Background(), "Kafka producer created", "brokers", cfg.Brokers)
	return &Producer{writer: writer, config: cfg}
}

// Publish 将负载序列化为 JSON 并发送到指定 topic
func (p *Producer) Publish(ctx context.Context, topic string, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler 单个 topic 的消息处理函数
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer Kafka 消费者，按 topic 分发到注册的 handler
type Consumer struct {
	config   Config
	handlers map[string]Handler
	readers  []*kafka.Reader
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg Config) *Consumer {
	return &Consumer{
		config:   cfg,
		handlers: make(map[string]Handler),
	}
}

// Subscribe 注册 topic 的处理函数，必须在 Run 之前调用
func (c *Consumer) Subscribe(topic string, handler Handler) {
	c.handlers[topic] = handler
}

// Run 启动所有 topic 的消费循环，阻塞直到 ctx 取消
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers subscribed")
	}

	errCh := make(chan error, len(c.handlers))
	for topic, handler := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        c.config.Brokers,
			Topic:          topic,
			GroupID:        c.config.GroupID,
			SessionTimeout: time.Duration(c.config.SessionTimeout) * time.Second,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
			MaxBytes:       10e6,
		})
		c.readers = append(c.readers, reader)

		go c.consumeLoop(ctx, reader, topic, handler, errCh)
	}

	logger.Info(ctx, "Kafka consumer started", "group_id", c.config.GroupID, "topics", len(c.handlers))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, reader *kafka.Reader, topic string, handler Handler, errCh chan<- error) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "Failed to read Kafka message", "topic", topic, "error", err)
			errCh <- err
			return
		}

		// 处理失败仅记录日志，消息不重投；投递保障由上游负责
		if err := handler(ctx, msg); err != nil {
			logger.Error(ctx, "Failed to handle Kafka message",
				"topic", topic,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close 关闭所有 reader
func (c *Consumer) Close() error {
	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
