// Package consumer maintains the local user projection from user service
// lifecycle events.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/mq"
)

// UserEventHandler projects user lifecycle events into the local users table
// so portfolio creation can validate ownership without cross-service calls.
type UserEventHandler struct {
	users  domain.UserRepository
	ledger domain.LedgerRepository
}

func NewUserEventHandler(users domain.UserRepository, ledger domain.LedgerRepository) *UserEventHandler {
	return &UserEventHandler{users: users, ledger: ledger}
}

// Register subscribes the handler to all user lifecycle topics.
func (h *UserEventHandler) Register(c *mq.Consumer) {
	c.Subscribe(domain.TopicUserRegistered, h.Handle)
	c.Subscribe(domain.TopicUserUpdated, h.Handle)
	c.Subscribe(domain.TopicUserDeleted, h.Handle)
}

func (h *UserEventHandler) Handle(ctx context.Context, msg kafka.Message) error {
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
		if err := h.users.Upsert(ctx, &domain.User{ID: event.UserID, Email: event.Email}); err != nil {
			return err
		}
		logger.Info(ctx, "user projection updated", "user_id", event.UserID)
		return nil
	case domain.TopicUserDeleted:
		return h.handleDeleted(ctx, event.UserID)
	default:
		logger.Warn(ctx, "unknown user event topic", "topic", msg.Topic)
		return nil
	}
}

// handleDeleted removes the user's portfolio, then the projection row.
func (h *UserEventHandler) handleDeleted(ctx context.Context, userID uint64) error {
	portfolio, err := h.ledger.GetPortfolioByUserID(ctx, userID)
	switch {
	case err == nil:
		if err := h.ledger.DeletePortfolio(ctx, portfolio.ID); err != nil {
			return err
		}
		logger.Info(ctx, "portfolio removed for deleted user",
			"user_id", userID, "portfolio_id", portfolio.ID)
	case !errors.Is(err, domain.ErrPortfolioNotFound):
		return err
	}
	return h.users.Delete(ctx, userID)
}
