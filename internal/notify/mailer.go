// Package notify delivers challenge QR codes out of band by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"gopkg.in/gomail.v2"
)

// ErrNotification wraps every delivery failure.
var ErrNotification = errors.New("notification failed")

const (
	defaultSubject     = "Your Attendance QR Code"
	attachmentFilename = "qr.png"
)

// Sender sends composed messages. *gomail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer mails challenge codes over SMTP.
type Mailer struct {
	sender     Sender
	from       string
	subject    string
	validFor   time.Duration
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

type Option func(*Mailer)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

// WithSender replaces the SMTP dialer.
func WithSender(s Sender) Option {
	return func(m *Mailer) {
		m.sender = s
	}
}

func WithRetries(retries int, delay time.Duration) Option {
	return func(m *Mailer) {
		m.retries = max(retries, 1)
		m.retryDelay = delay
	}
}

// WithValidity sets how long the code is valid, as mentioned in the mail body.
func WithValidity(d time.Duration) Option {
	return func(m *Mailer) {
		m.validFor = d
	}
}

func NewMailer(cfg *config.SMTPConfig, opts ...Option) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	m := &Mailer{
		sender:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:       from,
		subject:    defaultSubject,
		validFor:   15 * time.Minute,
		retries:    constants.NotificationRetries,
		retryDelay: constants.NotificationRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Message composes the mail for identity with the PNG attached.
func (m *Mailer) Message(identity roster.Identity, png []byte) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", identity.Contact)
	msg.SetHeader("Subject", m.subject)

	greeting := "Hello"
	if identity.DisplayName != "" {
		greeting += " " + identity.DisplayName
	}
	msg.SetBody("text/plain", fmt.Sprintf("%s,\n\nScan the attached QR code at the kiosk within %d minutes.\n",
		greeting, int(m.validFor.Minutes())))

	msg.Attach(attachmentFilename,
		gomail.SetHeader(map[string][]string{"Content-Type": {"image/png"}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(png)
			return err
		}),
	)
	return msg
}

// Send implements kiosk.NotificationSink. It retries transient SMTP failures.
func (m *Mailer) Send(ctx context.Context, identity roster.Identity, png []byte) error {
	if identity.Contact == "" {
		return fmt.Errorf("%w: %s has no email address", ErrNotification, identity.ID)
	}

	msg := m.Message(identity, png)

	var err error
	for attempt := 1; attempt <= m.retries; attempt++ {
		if err = m.sender.DialAndSend(msg); err == nil {
			m.logger.Info("challenge code mailed", "identity", identity.ID, "to", identity.Contact)
			return nil
		}
		m.logger.Warn("mail delivery failed", "identity", identity.ID, "attempt", attempt, "error", err)

		if attempt == m.retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: mailing %s: %w", ErrNotification, identity.ID, ctx.Err())
		case <-time.After(m.retryDelay):
		}
	}
	return fmt.Errorf("%w: mailing %s after %d attempts: %w", ErrNotification, identity.ID, m.retries, err)
}

var _ kiosk.NotificationSink = (*Mailer)(nil)
