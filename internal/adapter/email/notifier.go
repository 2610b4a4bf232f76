// Package email provides an SMTP-based notifier for the notification subsystem.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // defaults to From
	Password string
	From     string
	To       []string
}

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, sendMail: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send mails a plain-text rendering of the notification to every recipient.
// SMTP has no context support; ctx is only checked before dialing.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	var auth smtp.Auth
	if n.cfg.Password != "" {
		user := n.cfg.Username
		if user == "" {
			user = n.cfg.From
		}
		auth = smtp.PlainAuth("", user, n.cfg.Password, n.cfg.Host)
	}

	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, n.message(notification)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) message(nt notifier.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [BuzzForge] %s\r\n", singleLine(nt.Title))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	b.WriteString(nt.Message)
	b.WriteString("\r\n")
	if len(nt.Fields) > 0 {
		b.WriteString("\r\n")
		for _, f := range nt.Fields {
			fmt.Fprintf(&b, "%s: %s\r\n", f.Name, f.Value)
		}
	}
	if nt.URL != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", nt.URL)
	}
	if nt.Source != "" {
		fmt.Fprintf(&b, "\r\n-- %s\r\n", nt.Source)
	}
	return []byte(b.String())
}

// singleLine keeps header values from injecting extra headers.
func singleLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
