// Package messaging publishes portfolio domain events to Kafka.
package messaging

import (
	"context"
	"strconv"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

// KafkaEventPublisher implements domain.EventPublisher.
type KafkaEventPublisher struct {
	producer *mq.Producer
}

func NewKafkaEventPublisher(producer *mq.Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

// PublishPriceChangeAlert keys the message by user id so one user's alerts
// stay ordered on a single partition.
func (p *KafkaEventPublisher) PublishPriceChangeAlert(ctx context.Context, event domain.PriceChangeAlertEvent) error {
	key := strconv.FormatUint(event.UserID, 10)
	return p.producer.Publish(ctx, domain.TopicPriceChangeAlert, key, event)
}
