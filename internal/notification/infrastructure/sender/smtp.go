// Package sender implements notification delivery channels.
package sender

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/avkuzmin/cryptofolio/internal/notification/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// SMTPSender delivers notifications as plain-text email. An empty host puts
// the sender in dry-run mode: messages are logged instead of sent, which
// keeps local stacks working without an SMTP server.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPSender(host string, port int, username, password, from string) domain.Sender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, target, subject, content string) error {
	msg := []byte("From: " + s.from + "\r\n" +
		"To: " + target + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		content + "\r\n")

	if s.host == "" {
		logger.Info(ctx, "email delivery skipped (dry run)",
			"target", target,
			"subject", subject,
		)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := smtp.SendMail(addr, auth, s.from, []string{target}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", target, err)
	}

	logger.Info(ctx, "email sent", "target", target, "subject", subject)
	return nil
}
