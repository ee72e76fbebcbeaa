// Package messaging publishes user lifecycle events to Kafka.
package messaging

import (
	"context"
	"strconv"

	"github.com/avkuzmin/cryptofolio/internal/user/domain"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

// KafkaEventPublisher implements domain.EventPublisher. Messages are keyed
// by user id so each account's events stay ordered.
type KafkaEventPublisher struct {
	producer *mq.Producer
}

func NewKafkaEventPublisher(producer *mq.Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) PublishUserEvent(ctx context.Context, topic string, event domain.UserEvent) error {
	return p.producer.Publish(ctx, topic, strconv.FormatUint(event.UserID, 10), event)
}

func (p *KafkaEventPublisher) PublishEmailRequest(ctx context.Context, event domain.EmailRequestEvent) error {
	return p.producer.Publish(ctx, domain.TopicEmailRequest, strconv.FormatUint(event.UserID, 10), event)
}
