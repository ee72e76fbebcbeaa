package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
)

type memNotifications struct {
	mu     sync.Mutex
	rows   map[uint64]*domain.Notification
	nextID uint64
}

func newMemNotifications() *memNotifications {
	return &memNotifications{rows: make(map[uint64]*domain.Notification), nextID: 1}
}

func (m *memNotifications) Create(ctx context.Context, n *domain.Notification) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID
	n.CreatedAt = time.Now().UTC()
	m.nextID++
	copied := *n
	m.rows[n.ID] = &copied
	return n.ID, nil
}

func (m *memNotifications) UpdateStatus(ctx context.Context, id uint64, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	row.Status = status
	row.ErrorMessage = errMsg
	row.SentAt = sentAt
	return nil
}

func (m *memNotifications) Get(ctx context.Context, id uint64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memNotifications) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]domain.Notification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Notification
	for _, row := range m.rows {
		if row.UserID == userID {
			all = append(all, *row)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

type memRecipients struct {
	mu   sync.Mutex
	rows map[uint64]domain.Recipient
}

func newMemRecipients() *memRecipients {
	return &memRecipients{rows: make(map[uint64]domain.Recipient)}
}

func (m *memRecipients) Upsert(ctx context.Context, r *domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = *r
	return nil
}

func (m *memRecipients) Get(ctx context.Context, id uint64) (*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrRecipientUnknown
	}
	return &r, nil
}

func (m *memRecipients) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string // "target|subject"
	err  error
}

func (s *fakeSender) Send(ctx context.Context, target, subject, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, target+"|"+subject)
	return nil
}

func fixture() (*memNotifications, *memRecipients, *fakeSender, *NotificationService) {
	notifications := newMemNotifications()
	recipients := newMemRecipients()
	snd := &fakeSender{}
	svc := NewNotificationService(notifications, recipients, snd)
	return notifications, recipients, snd, svc
}

func alertEvent() domain.PriceChangeAlertEvent {
	return domain.PriceChangeAlertEvent{
		UserID:        7,
		AssetName:     "bitcoin",
		AssetSymbol:   "BTC",
		ChangePercent: -6.85,
		CurrentPrice:  decimal.RequireFromString("42100.55"),
		Direction:     "down",
	}
}

func TestHandlePriceAlertDeliversAndRecords(t *testing.T) {
	notifications, recipients, snd, svc := fixture()
	recipients.Upsert(context.Background(), &domain.Recipient{ID: 7, Email: "holder@example.com"})

	if err := svc.HandlePriceAlert(context.Background(), alertEvent()); err != nil {
		t.Fatalf("handle alert: %v", err)
	}

	if len(snd.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(snd.sent))
	}
	if !strings.HasPrefix(snd.sent[0], "holder@example.com|") {
		t.Errorf("sent to %q, want holder@example.com", snd.sent[0])
	}

	row, err := notifications.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if row.Status != domain.NotificationStatusSent {
		t.Errorf("status = %s, want SENT", row.Status)
	}
	if row.SentAt == nil {
		t.Error("sent_at not recorded")
	}
	if !strings.Contains(row.Content, "down 6.85%") {
		t.Errorf("content %q missing movement description", row.Content)
	}
	if !strings.Contains(row.Content, "42100.55") {
		t.Errorf("content %q missing current price", row.Content)
	}
}

func TestHandlePriceAlertUnknownRecipient(t *testing.T) {
	notifications, _, snd, svc := fixture()

	err := svc.HandlePriceAlert(context.Background(), alertEvent())
	if !errors.Is(err, domain.ErrRecipientUnknown) {
		t.Fatalf("err = %v, want ErrRecipientUnknown", err)
	}
	if len(snd.sent) != 0 {
		t.Errorf("sent %d emails for unknown recipient, want 0", len(snd.sent))
	}
	if _, _, err := notifications.ListByUser(context.Background(), 7, 10, 0); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestDeliveryFailureIsRecorded(t *testing.T) {
	notifications, recipients, snd, svc := fixture()
	recipients.Upsert(context.Background(), &domain.Recipient{ID: 7, Email: "holder@example.com"})
	snd.err = errors.New("connection refused")

	if err := svc.HandlePriceAlert(context.Background(), alertEvent()); err == nil {
		t.Fatal("expected delivery error")
	}

	row, err := notifications.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if row.Status != domain.NotificationStatusFailed {
		t.Errorf("status = %s, want FAILED", row.Status)
	}
	if !strings.Contains(row.ErrorMessage, "connection refused") {
		t.Errorf("error message %q missing cause", row.ErrorMessage)
	}
}

func TestHandleEmailRequestUsesEventAddress(t *testing.T) {
	_, _, snd, svc := fixture()

	err := svc.HandleEmailRequest(context.Background(), domain.EmailRequestEvent{
		UserID:  9,
		Email:   "new@example.com",
		Subject: "Welcome",
		Body:    "Your account is ready.",
	})
	if err != nil {
		t.Fatalf("handle email request: %v", err)
	}
	if len(snd.sent) != 1 || snd.sent[0] != "new@example.com|Welcome" {
		t.Errorf("sent = %v, want welcome email to new@example.com", snd.sent)
	}
}

func TestHandleEmailRequestFallsBackToProjection(t *testing.T) {
	_, recipients, snd, svc := fixture()
	recipients.Upsert(context.Background(), &domain.Recipient{ID: 9, Email: "known@example.com"})

	err := svc.HandleEmailRequest(context.Background(), domain.EmailRequestEvent{
		UserID:  9,
		Subject: "Hello",
		Body:    "body",
	})
	if err != nil {
		t.Fatalf("handle email request: %v", err)
	}
	if len(snd.sent) != 1 || !strings.HasPrefix(snd.sent[0], "known@example.com|") {
		t.Errorf("sent = %v, want email to known@example.com", snd.sent)
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	notifications, recipients, _, svc := fixture()
	recipients.Upsert(context.Background(), &domain.Recipient{ID: 7, Email: "holder@example.com"})
	for i := 0; i < 3; i++ {
		notifications.Create(context.Background(), &domain.Notification{UserID: 7, Target: "x"})
	}

	items, total, err := svc.History(context.Background(), 7, -5, -1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 3 {
		t.Errorf("items = %d, want 3", len(items))
	}
}
