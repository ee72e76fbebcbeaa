// Package application implements notification delivery: alert formatting,
// persistence and dispatch through the configured sender.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// NotificationService persists and delivers notifications. Every delivery
// attempt leaves a row; failures are recorded, not retried here.
type NotificationService struct {
	notifications domain.NotificationRepository
	recipients    domain.RecipientRepository
	sender        domain.Sender
}

func NewNotificationService(notifications domain.NotificationRepository, recipients domain.RecipientRepository, sender domain.Sender) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		recipients:    recipients,
		sender:        sender,
	}
}

// HandlePriceAlert formats and delivers one price movement alert.
func (s *NotificationService) HandlePriceAlert(ctx context.Context, event domain.PriceChangeAlertEvent) error {
	recipient, err := s.recipients.Get(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("%w: user %d", domain.ErrRecipientUnknown, event.UserID)
	}

	subject := fmt.Sprintf("Price alert: %s moved %.2f%% in 24h", event.AssetSymbol, event.ChangePercent)
	content := fmt.Sprintf(
		"%s (%s) is %s %.2f%% over the last 24 hours. Current price: %s USD.",
		event.AssetName, event.AssetSymbol, event.Direction, abs(event.ChangePercent),
		event.CurrentPrice.String(),
	)

	return s.deliver(ctx, &domain.Notification{
		UserID:  event.UserID,
		Type:    domain.NotificationTypeAlert,
		Subject: subject,
		Content: content,
		Target:  recipient.Email,
	})
}

// HandleEmailRequest delivers a direct email requested by another service.
// The event carries its own address so delivery works even before the
// recipient projection caught up.
func (s *NotificationService) HandleEmailRequest(ctx context.Context, event domain.EmailRequestEvent) error {
	target := event.Email
	if target == "" {
		recipient, err := s.recipients.Get(ctx, event.UserID)
		if err != nil {
			return fmt.Errorf("%w: user %d", domain.ErrRecipientUnknown, event.UserID)
		}
		target = recipient.Email
	}

	return s.deliver(ctx, &domain.Notification{
		UserID:  event.UserID,
		Type:    domain.NotificationTypeEmail,
		Subject: event.Subject,
		Content: event.Body,
		Target:  target,
	})
}

// deliver persists the notification, attempts the send and records the
// outcome. A send failure is written to the row and returned.
func (s *NotificationService) deliver(ctx context.Context, n *domain.Notification) error {
	n.Status = domain.NotificationStatusPending
	id, err := s.notifications.Create(ctx, n)
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if err := s.sender.Send(ctx, n.Target, n.Subject, n.Content); err != nil {
		if updErr := s.notifications.UpdateStatus(ctx, id, domain.NotificationStatusFailed, err.Error(), nil); updErr != nil {
			logger.Error(ctx, "failed to record delivery failure", "notification_id", id, "error", updErr)
		}
		return fmt.Errorf("send notification %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := s.notifications.UpdateStatus(ctx, id, domain.NotificationStatusSent, "", &now); err != nil {
		logger.Error(ctx, "failed to record delivery", "notification_id", id, "error", err)
	}
	logger.Info(ctx, "notification delivered",
		"notification_id", id,
		"user_id", n.UserID,
		"type", n.Type,
	)
	return nil
}

// UpsertRecipient updates the recipient projection.
func (s *NotificationService) UpsertRecipient(ctx context.Context, userID uint64, email string) error {
	return s.recipients.Upsert(ctx, &domain.Recipient{ID: userID, Email: email})
}

// RemoveRecipient drops a deleted user from the projection.
func (s *NotificationService) RemoveRecipient(ctx context.Context, userID uint64) error {
	return s.recipients.Delete(ctx, userID)
}

// History returns a user's notifications, newest first.
func (s *NotificationService) History(ctx context.Context, userID uint64, limit, offset int) ([]domain.Notification, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifications.ListByUser(ctx, userID, limit, offset)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
