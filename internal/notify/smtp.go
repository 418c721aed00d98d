// Package notify contains the two outbound notification channels: SMTP mail
// and HTTP webhooks. Both are thin, stateless senders; fan-out and
// per-recipient failure isolation live in the alert evaluator.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/sitewatch/monitor/internal/model"
)

// ErrSmtpFailure marks a failed mail delivery attempt.
var ErrSmtpFailure = errors.New("notify: smtp delivery failed")

// SmtpConfig is the resolved (password already unprotected) connection
// configuration for one send.
type SmtpConfig struct {
	Host     string
	Port     int
	Security model.SecurityMode
	Username string
	Password string
	From     string
}

// EmailMessage is one alert mail: HTML body with a plaintext alternative.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// SmtpSender delivers a single message to a single recipient.
type SmtpSender interface {
	Send(ctx context.Context, cfg SmtpConfig, msg EmailMessage) error
}

// GoMailSender is the production SmtpSender. Each Send dials, authenticates
// when a username is configured, delivers, and disconnects.
type GoMailSender struct{}

// NewSmtpSender returns the production sender.
func NewSmtpSender() *GoMailSender {
	return &GoMailSender{}
}

// Send builds the MIME message and delivers it with the security mode
// mapping: None -> plain, SslTls -> implicit TLS on connect, StartTls ->
// STARTTLS upgrade.
func (s *GoMailSender) Send(ctx context.Context, cfg SmtpConfig, msg EmailMessage) error {
	m := mail.NewMsg()
	if err := m.From(cfg.From); err != nil {
		return fmt.Errorf("%w: from %q: %v", ErrSmtpFailure, cfg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("%w: to %q: %v", ErrSmtpFailure, msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetMessageIDWithValue(uuid.NewString())
	if msg.TextBody != "" {
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	} else {
		m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	switch cfg.Security {
	case model.SecuritySSLTLS:
		opts = append(opts, mail.WithSSL())
	case model.SecurityStartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: client for %s:%d: %v", ErrSmtpFailure, cfg.Host, cfg.Port, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: send to %q via %s:%d: %v", ErrSmtpFailure, msg.To, cfg.Host, cfg.Port, err)
	}
	return nil
}
