package mail

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/gomail.v2"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// Sender delivers one message
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

// ConfigFromEnv reads SMTP_* settings. ok is false when no host is set.
func ConfigFromEnv() (SMTPConfig, bool) {
	port, err := strconv.Atoi(env.GetEnv("SMTP_PORT", "587"))
	if err != nil {
		port = 587
	}
	cfg := SMTPConfig{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     port,
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Debugf("[Mail] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return cfg, cfg.Host != ""
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

// Send delivers a multipart message with a plain text and an HTML part
func (m *SMTPMailer) Send(to, subject, htmlBody, plainBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.Sender)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", plainBody)
	msg.AddAlternative("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	log.Debugf("[Mail] Email sent to %s via %s:%d", to, m.config.Host, m.config.Port)
	return nil
}
