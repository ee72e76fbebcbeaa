// Package consumer turns broker events into notification deliveries.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/avkuzmin/cryptofolio/internal/notification/application"
	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

// EventHandler consumes price alerts, email requests and user lifecycle
// events. An unknown recipient is logged and dropped, never retried: the
// user either never existed or was already deleted.
type EventHandler struct {
	notifications *application.NotificationService
}

func NewEventHandler(notifications *application.NotificationService) *EventHandler {
	return &EventHandler{notifications: notifications}
}

// Register subscribes the handler to all consumed topics.
func (h *EventHandler) Register(c *mq.Consumer) {
	c.Subscribe(domain.TopicPriceChangeAlert, h.HandlePriceAlert)
	c.Subscribe(domain.TopicEmailRequest, h.HandleEmailRequest)
	c.Subscribe(domain.TopicUserRegistered, h.HandleUserEvent)
	c.Subscribe(domain.TopicUserUpdated, h.HandleUserEvent)
	c.Subscribe(domain.TopicUserDeleted, h.HandleUserEvent)
}

func (h *EventHandler) HandlePriceAlert(ctx context.Context, msg kafka.Message) error {
	var event domain.PriceChangeAlertEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Error(ctx, "failed to unmarshal price alert", "error", err)
		return err
	}

	if err := h.notifications.HandlePriceAlert(ctx, event); err != nil {
		if errors.Is(err, domain.ErrRecipientUnknown) {
			logger.Warn(ctx, "dropping alert for unknown recipient", "user_id", event.UserID)
			return nil
		}
		return err
	}
	return nil
}

func (h *EventHandler) HandleEmailRequest(ctx context.Context, msg kafka.Message) error {
	var event domain.EmailRequestEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Error(ctx, "failed to unmarshal email request", "error", err)
		return err
	}

	if err := h.notifications.HandleEmailRequest(ctx, event); err != nil {
		if errors.Is(err, domain.ErrRecipientUnknown) {
			logger.Warn(ctx, "dropping email request for unknown recipient", "user_id", event.UserID)
			return nil
		}
		return err
	}
	return nil
}

func (h *EventHandler) HandleUserEvent(ctx context.Context, msg kafka.Message) error {
	var event domain.UserEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Error(ctx, "failed to unmarshal user event", "topic", msg.Topic, "error", err)
		return err
	}
	if event.UserID == 0 {
		logger.Warn(ctx, "user event without user id", "topic", msg.Topic)
		return nil
	}

	switch msg.Topic {
	case domain.TopicUserRegistered, domain.TopicUserUpdated:
		return h.notifications.UpsertRecipient(ctx, event.UserID, event.Email)
	case domain.TopicUserDeleted:
		return h.notifications.RemoveRecipient(ctx, event.UserID)
	default:
		logger.Warn(ctx, "unknown user event topic", "topic", msg.Topic)
		return nil
	}
}
