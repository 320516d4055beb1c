// Package notifier delivers activation and reset codes by email.
// Delivery is best effort: jobs go through a bounded queue and failures
// are logged, never reported back to the request that caused them.
package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// ConfigFromEnv reads SMTP_* and MAIL_* variables. An empty SMTP_HOST
// means mail is only logged.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:      os.Getenv("SMTP_HOST"),
		Port:      587,
		Username:  os.Getenv("SMTP_USERNAME"),
		Password:  os.Getenv("SMTP_PASSWORD"),
		From:      os.Getenv("SMTP_FROM"),
		Workers:   2,
		QueueSize: 100,
		Timeout:   15 * time.Second,
	}
	if v, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && v > 0 {
		cfg.Port = v
	}
	if v, err := strconv.Atoi(os.Getenv("MAIL_WORKERS")); err == nil && v > 0 {
		cfg.Workers = v
	}
	if v, err := strconv.Atoi(os.Getenv("MAIL_QUEUE_SIZE")); err == nil && v > 0 {
		cfg.QueueSize = v
	}
	if d, err := time.ParseDuration(os.Getenv("MAIL_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return cfg
}

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// NewSender returns an SMTP sender, or a LogSender when no host is configured.
func NewSender(cfg Config, logger *zap.SugaredLogger) Sender {
	if cfg.Host == "" {
		return LogSender{logger: logger}
	}
	return &SMTPSender{cfg: cfg}
}

// SMTPSender speaks SMTP with PLAIN auth. Port 465 uses implicit TLS,
// other ports upgrade with STARTTLS when the server offers it.
type SMTPSender struct {
	cfg Config
}

func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(m.To); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(s.format(m)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) format(m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of sending them. Used in
// development when SMTP is not configured.
type LogSender struct {
	logger *zap.SugaredLogger
}

func (l LogSender) Send(_ context.Context, m Message) error {
	if l.logger != nil {
		l.logger.Infow("mail not sent, smtp disabled", "to", m.To, "subject", m.Subject, "body", m.Body)
	}
	return nil
}
