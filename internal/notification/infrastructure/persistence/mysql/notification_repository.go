// Package mysql persists notifications and the recipient projection.
package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
	"github.com/avkuzmin/cryptofolio/pkg/db"
)

type NotificationRepository struct {
	db *db.DB
}

func NewNotificationRepository(database *db.DB) *NotificationRepository {
	return &NotificationRepository{db: database}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) (uint64, error) {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return 0, err
	}
	return n.ID, nil
}

func (r *NotificationRepository) UpdateStatus(ctx context.Context, id uint64, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"sent_at":       sentAt,
	}
	result := r.db.WithContext(ctx).Model(&domain.Notification{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepository) Get(ctx context.Context, id uint64) (*domain.Notification, error) {
	var n domain.Notification
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]domain.Notification, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notifications []domain.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error
	return notifications, total, err
}

type RecipientRepository struct {
	db *db.DB
}

func NewRecipientRepository(database *db.DB) *RecipientRepository {
	return &RecipientRepository{db: database}
}

func (r *RecipientRepository) Upsert(ctx context.Context, recipient *domain.Recipient) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email"}),
	}).Create(recipient).Error
}

func (r *RecipientRepository) Get(ctx context.Context, id uint64) (*domain.Recipient, error) {
	var recipient domain.Recipient
	if err := r.db.WithContext(ctx).First(&recipient, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecipientUnknown
		}
		return nil, err
	}
	return &recipient, nil
}

func (r *RecipientRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&domain.Recipient{}, id).Error
}
