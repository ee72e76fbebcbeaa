// Package application implements account management and authentication.
package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/avkuzmin/cryptofolio/internal/user/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// UserService handles registration, login and account maintenance. Lifecycle
// changes are committed locally first, then announced on the broker; a
// publish failure is logged, and consumers reconcile from later events.
type UserService struct {
	users     domain.UserRepository
	publisher domain.EventPublisher
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewUserService(users domain.UserRepository, publisher domain.EventPublisher, jwtSecret string, tokenTTL time.Duration) *UserService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &UserService{
		users:     users,
		publisher: publisher,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Register creates an account and requests a welcome email.
func (s *UserService) Register(ctx context.Context, email, password string) (*domain.User, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{Email: email, PasswordHash: string(hash)}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.publishUserEvent(ctx, domain.TopicUserRegistered, user)
	if err := s.publisher.PublishEmailRequest(ctx, domain.EmailRequestEvent{
		UserID:  user.ID,
		Email:   user.Email,
		Subject: "Welcome to Cryptofolio",
		Body:    "Your account is ready. Create a portfolio to start tracking your assets.",
	}); err != nil {
		logger.Warn(ctx, "failed to request welcome email", "user_id", user.ID, "error", err)
	}

	logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and issues a signed token.
func (s *UserService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	logger.Info(ctx, "user logged in", "user_id", user.ID)
	return signed, expiresAt, nil
}

// Get returns one account.
func (s *UserService) Get(ctx context.Context, id uint64) (*domain.User, error) {
	return s.users.Get(ctx, id)
}

// UpdateEmail changes the account email and announces the update.
func (s *UserService) UpdateEmail(ctx context.Context, id uint64, email string) (*domain.User, error) {
	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing.ID != id {
		return nil, domain.ErrEmailTaken
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Email = email
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	s.publishUserEvent(ctx, domain.TopicUserUpdated, user)
	return user, nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *UserService) ChangePassword(ctx context.Context, id uint64, current, next string) error {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	return s.users.Update(ctx, user)
}

// Delete removes the account and announces the deletion so downstream
// projections and the user's portfolio are cleaned up.
func (s *UserService) Delete(ctx context.Context, id uint64) error {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	s.publishUserEvent(ctx, domain.TopicUserDeleted, user)
	logger.Info(ctx, "user deleted", "user_id", id)
	return nil
}

func (s *UserService) publishUserEvent(ctx context.Context, topic string, user *domain.User) {
	event := domain.UserEvent{UserID: user.ID, Email: user.Email}
	if err := s.publisher.PublishUserEvent(ctx, topic, event); err != nil {
		logger.Error(ctx, "failed to publish user event",
			"topic", topic,
			"user_id", user.ID,
			"error", err,
		)
	}
}
