package mailer

import (
	"errors"

	"gopkg.in/gomail.v2"

	"github.com/coursehub-app/coursehub-backend/pkg/config"
)

// Sender delivers a single HTML message.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

type smtpSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender builds a gomail-backed sender from SMTP configuration.
func NewSMTPSender(cfg config.SMTPConfig) (Sender, error) {
	if !cfg.Configured() {
		return nil, errors.New("smtp host is required")
	}
	return &smtpSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}, nil
}

func (s *smtpSender) Send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)
	return s.dialer.DialAndSend(m)
}
