package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felimargom/ppss/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/gomail.v2"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	sender string
	dialer *gomail.Dialer
}

// NewSMTPMailer creates a mailer for cfg. Without SMTP_SENDER mails go out as
// no-reply@<host>.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	sender := cfg.Sender
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", cfg.Host)
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", sender)
	}
	return &SMTPMailer{
		sender: sender,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.sender)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		gm.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			gm.AddAlternative("text/html", msg.HTML)
		}
	} else {
		gm.SetBody("text/html", msg.HTML)
	}

	if err := m.dialer.DialAndSend(gm); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", msg.To, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	log.Infof("[Mail] email %q sent to %s", msg.Subject, msg.To)
	return nil
}

// LogSender only logs messages. It is used when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Infof("[Mail] (not sent) to=%s subject=%q", msg.To, msg.Subject)
	return nil
}

// NewSender picks the SMTP mailer when a host is configured.
func NewSender(cfg config.SMTPConfig) Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		log.Warn("[Mail] SMTP_HOST not set, emails are only logged")
		return LogSender{}
	}
	return NewSMTPMailer(cfg)
}
