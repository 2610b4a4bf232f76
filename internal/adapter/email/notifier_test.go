package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
	auth bool
}

func newTestNotifier(cfg SMTPConfig, sendErr error) (*Notifier, *capturedMail) {
	got := &capturedMail{}
	n := NewNotifier(cfg)
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*got = capturedMail{addr: addr, from: from, to: to, msg: string(msg), auth: a != nil}
		return sendErr
	}
	return n, got
}

func TestSendNotConfigured(t *testing.T) {
	n, _ := newTestNotifier(SMTPConfig{Host: "smtp.example.com"}, nil)
	if err := n.Send(context.Background(), notifier.Notification{Title: "x"}); !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendRendersMessage(t *testing.T) {
	cfg := SMTPConfig{Host: "smtp.example.com", Port: 587, From: "bot@example.com", Password: "pw", To: []string{"a@example.com", "b@example.com"}}
	n, got := newTestNotifier(cfg, nil)

	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Run escalated\r\nBcc: evil@example.com",
		Message: "Theme: spring launch",
		Source:  "run.escalated",
		Fields:  []notifier.Field{{Name: "Scores", Value: "70, 80, 85"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.addr != "smtp.example.com:587" || !got.auth || len(got.to) != 2 {
		t.Fatalf("unexpected envelope %+v", got)
	}
	for _, want := range []string{
		"Subject: [BuzzForge] Run escalated  Bcc: evil@example.com\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Scores: 70, 80, 85\r\n",
		"-- run.escalated",
	} {
		if !strings.Contains(got.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, got.msg)
		}
	}
	if strings.Contains(got.msg, "\r\nBcc:") {
		t.Fatal("title must not inject headers")
	}
}

func TestSendWrapsError(t *testing.T) {
	cfg := SMTPConfig{Host: "smtp.example.com", Port: 25, From: "bot@example.com", To: []string{"a@example.com"}}
	n, got := newTestNotifier(cfg, errors.New("connection refused"))
	err := n.Send(context.Background(), notifier.Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if got.auth {
		t.Fatal("no password means no auth")
	}
}

func TestRegisteredFactory(t *testing.T) {
	n, err := notifier.New("email", map[string]string{"host": "smtp.example.com", "port": "2525", "from": "bot@example.com", "to": "a@example.com, b@example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e := n.(*Notifier)
	if e.cfg.Port != 2525 || len(e.cfg.To) != 2 {
		t.Fatalf("unexpected config %+v", e.cfg)
	}
	if _, err := notifier.New("email", map[string]string{"port": "abc"}); err == nil {
		t.Fatal("expected invalid port error")
	}
}
