// Package domain 通知服务的领域模型
package domain

import (
	"context"
	"errors"
	"time"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotificationTypeEmail NotificationType = "EMAIL"
	NotificationTypeAlert NotificationType = "ALERT"
)

// NotificationStatus 通知状态
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "PENDING"
	NotificationStatusSent    NotificationStatus = "SENT"
	NotificationStatusFailed  NotificationStatus = "FAILED"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRecipientUnknown     = errors.New("recipient user unknown")
)

// Notification 通知实体；发送结果回写 Status 与 SentAt
type Notification struct {
	ID           uint64             `gorm:"column:id;primaryKey" json:"id"`
	UserID       uint64             `gorm:"column:user_id;index;not null" json:"user_id"`
	Type         NotificationType   `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Subject      string             `gorm:"column:subject;type:varchar(200)" json:"subject"`
	Content      string             `gorm:"column:content;type:text" json:"content"`
	Target       string             `gorm:"column:target;type:varchar(255);not null" json:"target"`
	Status       NotificationStatus `gorm:"column:status;type:varchar(16);index;not null;default:'PENDING'" json:"status"`
	ErrorMessage string             `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	SentAt       *time.Time         `gorm:"column:sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time          `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// Recipient 用户投影，供事件消费时解析收件地址
type Recipient struct {
	ID    uint64 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Email string `gorm:"column:email;type:varchar(255);not null" json:"email"`
}

func (Recipient) TableName() string { return "recipients" }

// NotificationRepository 通知持久化
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) (uint64, error)
	UpdateStatus(ctx context.Context, id uint64, status NotificationStatus, errMsg string, sentAt *time.Time) error
	Get(ctx context.Context, id uint64) (*Notification, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]Notification, int64, error)
}

// RecipientRepository 收件人投影存储
type RecipientRepository interface {
	Upsert(ctx context.Context, r *Recipient) error
	Get(ctx context.Context, id uint64) (*Recipient, error)
	Delete(ctx context.Context, id uint64) error
}

// Sender 投递通道（SMTP 等）
type Sender interface {
	Send(ctx context.Context, target, subject, content string) error
}
