package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avkuzmin/cryptofolio/internal/user/domain"
)

type memUsers struct {
	mu     sync.Mutex
	byID   map[uint64]*domain.User
	nextID uint64
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[uint64]*domain.User), nextID: 1}
}

func (m *memUsers) Create(ctx context.Context, u *domain.User) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.nextID
	m.nextID++
	copied := *u
	m.byID[u.ID] = &copied
	return u.ID, nil
}

func (m *memUsers) Get(ctx context.Context, id uint64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUsers) Update(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	copied := *u
	m.byID[u.ID] = &copied
	return nil
}

func (m *memUsers) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(m.byID, id)
	return nil
}

type recordedEvent struct {
	topic string
	event domain.UserEvent
}

type memPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	emails []domain.EmailRequestEvent
}

func (p *memPublisher) PublishUserEvent(ctx context.Context, topic string, event domain.UserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, event: event})
	return nil
}

func (p *memPublisher) PublishEmailRequest(ctx context.Context, event domain.EmailRequestEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, event)
	return nil
}

const testSecret = "test-secret"

func newService() (*memUsers, *memPublisher, *UserService) {
	users := newMemUsers()
	pub := &memPublisher{}
	return users, pub, NewUserService(users, pub, testSecret, time.Hour)
}

func TestRegisterCreatesAccountAndAnnounces(t *testing.T) {
	_, pub, svc := newService()

	user, err := svc.Register(context.Background(), "alice@example.com", "swordfish-42")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == 0 {
		t.Error("expected assigned id")
	}
	if user.PasswordHash == "swordfish-42" {
		t.Error("password stored in clear")
	}

	if len(pub.events) != 1 || pub.events[0].topic != domain.TopicUserRegistered {
		t.Errorf("events = %+v, want one user_registered", pub.events)
	}
	if len(pub.emails) != 1 || pub.emails[0].Email != "alice@example.com" {
		t.Errorf("emails = %+v, want one welcome email", pub.emails)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	_, _, svc := newService()

	if _, err := svc.Register(context.Background(), "alice@example.com", "swordfish-42"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice@example.com", "other-password"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	_, _, svc := newService()
	user, err := svc.Register(context.Background(), "alice@example.com", "swordfish-42")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, expiresAt, err := svc.Login(context.Background(), "alice@example.com", "swordfish-42")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Error("token already expired")
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != strconv.FormatUint(user.ID, 10) {
		t.Errorf("subject = %s, want %d", claims.Subject, user.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, _, svc := newService()
	if _, err := svc.Register(context.Background(), "alice@example.com", "swordfish-42"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "swordfish-42"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestUpdateEmailAnnouncesChange(t *testing.T) {
	_, pub, svc := newService()
	user, _ := svc.Register(context.Background(), "alice@example.com", "swordfish-42")

	updated, err := svc.UpdateEmail(context.Background(), user.ID, "alice@new.example.com")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if updated.Email != "alice@new.example.com" {
		t.Errorf("email = %s, want updated", updated.Email)
	}

	last := pub.events[len(pub.events)-1]
	if last.topic != domain.TopicUserUpdated || last.event.Email != "alice@new.example.com" {
		t.Errorf("last event = %+v, want user_updated with new email", last)
	}
}

func TestUpdateEmailConflict(t *testing.T) {
	_, _, svc := newService()
	svc.Register(context.Background(), "alice@example.com", "swordfish-42")
	bob, _ := svc.Register(context.Background(), "bob@example.com", "hunter2-hunter2")

	if _, err := svc.UpdateEmail(context.Background(), bob.ID, "alice@example.com"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	_, _, svc := newService()
	user, _ := svc.Register(context.Background(), "alice@example.com", "swordfish-42")

	if err := svc.ChangePassword(context.Background(), user.ID, "wrong", "new-password-1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if err := svc.ChangePassword(context.Background(), user.ID, "swordfish-42", "new-password-1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "alice@example.com", "new-password-1"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestDeleteAnnouncesDeletion(t *testing.T) {
	users, pub, svc := newService()
	user, _ := svc.Register(context.Background(), "alice@example.com", "swordfish-42")

	if err := svc.Delete(context.Background(), user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := users.Get(context.Background(), user.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Error("account still present after delete")
	}

	last := pub.events[len(pub.events)-1]
	if last.topic != domain.TopicUserDeleted || last.event.UserID != user.ID {
		t.Errorf("last event = %+v, want user_deleted", last)
	}
}
