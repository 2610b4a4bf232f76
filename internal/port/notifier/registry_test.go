package notifier

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

type stubNotifier struct{ name string }

func (s stubNotifier) Name() string                             { return s.name }
func (s stubNotifier) Capabilities() Capabilities               { return Capabilities{} }
func (s stubNotifier) Send(context.Context, Notification) error { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-registry-test", func(cfg map[string]string) (Notifier, error) {
		return stubNotifier{name: cfg["name"]}, nil
	})

	n, err := New("stub-registry-test", map[string]string{"name": "configured"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if n.Name() != "configured" {
		t.Fatalf("factory did not receive config, got %q", n.Name())
	}
	if !slices.Contains(Available(), "stub-registry-test") {
		t.Fatalf("expected stub in %v", Available())
	}
	if _, err := New("nope", nil); err == nil {
		t.Fatal("expected error for unknown notifier")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("stub-dup-test", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("stub-dup-test", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
}

func TestNewRequiredKeys(t *testing.T) {
	Register("stub-required-test", func(map[string]string) (Notifier, error) {
		return stubNotifier{name: "ok"}, nil
	}, "webhook_url")

	_, err := New("stub-required-test", map[string]string{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := New("stub-required-test", map[string]string{"webhook_url": "http://x"}); err != nil {
		t.Fatalf("new: %v", err)
	}
}

func TestOpen(t *testing.T) {
	Register("stub-open-a", func(map[string]string) (Notifier, error) { return stubNotifier{name: "a"}, nil })
	Register("stub-open-b", func(map[string]string) (Notifier, error) { return nil, errors.New("bad config") })
	Register("stub-open-c", func(map[string]string) (Notifier, error) { return stubNotifier{name: "c"}, nil })

	got, err := Open(map[string]map[string]string{
		"stub-open-a": {},
		"stub-open-b": {},
	})
	if err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Fatalf("expected joined factory error, got %v", err)
	}
	if len(got) != 1 || got[0].Name() != "a" {
		t.Fatalf("expected only the configured healthy notifier, got %v", got)
	}
}
