package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSender delivers one email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMTPEmail sends plain-text mail through an SMTP relay.
type SMTPEmail struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func NewSMTPEmail(host, port, username, password, from string) *SMTPEmail {
	return &SMTPEmail{Host: host, Port: port, Username: username, Password: password, From: from}
}

func (s *SMTPEmail) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := s.Host + ":" + s.Port

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoopEmail is used when no SMTP relay is configured.
type NoopEmail struct{}

func (NoopEmail) SendEmail(_ context.Context, to, _, _ string) error {
	return fmt.Errorf("email sending not configured (to %s)", to)
}
