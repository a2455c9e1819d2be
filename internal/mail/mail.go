// Package mail sends the account emails: confirmation links and the
// recurring notification.
//
// Services depend on the Sender interface only. In production it is an
// SMTPSender; when no SMTP host is configured the server falls back to a
// LogSender so local development works without a mail server.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"
)

// Sender delivers one email. isHTML selects the body part.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, isHTML bool) error
}

// implicitTLSPort is the SMTPS port. Any other port uses STARTTLS when the
// server offers it.
const implicitTLSPort = 465

// SMTPConfig holds the SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender sends mail through an SMTP relay using mailyak.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail: smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("mail: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

// newMessage builds a fresh mailyak client. mailyak values carry the
// recipients and body, so one is created per email.
func (s *SMTPSender) newMessage() (*mailyak.MailYak, error) {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if s.cfg.Port == implicitTLSPort {
		return mailyak.NewWithTLS(addr, auth, &tls.Config{
			ServerName: s.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}
	return mailyak.New(addr, auth), nil
}

// Send delivers one email.
//
// mailyak.Send does not take a context, so it runs in a goroutine and we
// stop waiting when ctx is done. The goroutine finishes on its own once the
// SMTP conversation ends; the channel is buffered so it never blocks.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string, isHTML bool) error {
	mail, err := s.newMessage()
	if err != nil {
		return fmt.Errorf("mail: creating smtp client: %w", err)
	}

	mail.To(to)
	mail.From(s.cfg.From)
	if s.cfg.FromName != "" {
		mail.FromName(s.cfg.FromName)
	}
	mail.Subject(subject)
	if isHTML {
		mail.HTML().Set(body)
	} else {
		mail.Plain().Set(body)
	}

	done := make(chan error, 1)
	go func() {
		done <- mail.Send()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("mail: sending to %s: %w", to, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mail: sending to %s: %w", to, err)
		}
	}

	s.logger.Info("email sent",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}

// LogSender writes emails to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a Sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the email at info level. The body is included because it holds
// the confirmation link a developer needs to click.
func (l *LogSender) Send(ctx context.Context, to, subject, body string, isHTML bool) error {
	l.logger.InfoContext(ctx, "email (not sent, smtp not configured)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Bool("html", isHTML),
		slog.String("body", body),
	)
	return nil
}
