// Package domain holds the user service model: accounts and the lifecycle
// events other services project.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is an account. PasswordHash is bcrypt and never serialized.
type User struct {
	ID           uint64    `gorm:"column:id;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(72);not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserRepository is durable account storage.
type UserRepository interface {
	Create(ctx context.Context, u *User) (uint64, error)
	Get(ctx context.Context, id uint64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uint64) error
}

// Published topics.
const (
	TopicUserRegistered = "user_registered"
	TopicUserUpdated    = "user_updated"
	TopicUserDeleted    = "user_deleted"
	TopicEmailRequest   = "email_request"
)

// UserEvent announces an account lifecycle change.
type UserEvent struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
}

// EmailRequestEvent asks the notification service to deliver one email.
type EmailRequestEvent struct {
	UserID  uint64 `json:"user_id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EventPublisher emits lifecycle and email events to the broker.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, topic string, event UserEvent) error
	PublishEmailRequest(ctx context.Context, event EmailRequestEvent) error
}
