package utils

import (
	"github.com/meinhoongagan/service-marketplace/config"
	"gopkg.in/gomail.v2"
)

// Mailer sends HTML email through SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		from:   cfg.User,
	}
}

func (m *Mailer) SendEmail(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	return m.dialer.DialAndSend(msg)
}
