// Package discord delivers notifications as Discord webhook embeds.
package discord

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/BuzzForge/internal/adapter/webhook"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

const providerName = "discord"

// Embed limits enforced by the Discord API.
const (
	maxTitle       = 256
	maxDescription = 4096
	maxFields      = 25
	maxFieldName   = 256
	maxFieldValue  = 1024
)

// Notifier posts one embed per notification.
type Notifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier. An empty username keeps the name
// configured on the webhook.
func NewNotifier(webhookURL, username string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		username:   username,
		httpClient: webhook.NewClient(),
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Threads: true}
}

type payload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Fields      []field `json:"fields,omitempty"`
	Footer      *footer `json:"footer,omitempty"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, msg notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}
	return webhook.PostJSON(ctx, n.httpClient, providerName, n.webhookURL, n.payload(&msg))
}

func (n *Notifier) payload(msg *notifier.Notification) payload {
	e := embed{
		Title:       clip(msg.Title, maxTitle),
		Description: clip(msg.Message, maxDescription),
		URL:         msg.URL,
		Color:       levelColor(msg.Level),
	}
	if !msg.Time.IsZero() {
		e.Timestamp = msg.Time.UTC().Format(time.RFC3339)
	}
	for i, f := range msg.Fields {
		if i == maxFields {
			break
		}
		if f.Value == "" {
			continue
		}
		e.Fields = append(e.Fields, field{Name: clip(f.Name, maxFieldName), Value: clip(f.Value, maxFieldValue), Inline: true})
	}
	if msg.Source != "" {
		e.Footer = &footer{Text: msg.Source}
	}
	return payload{Username: n.username, Embeds: []embed{e}}
}

func levelColor(level string) int {
	switch level {
	case notifier.LevelSuccess:
		return 0x2ECC71
	case notifier.LevelError:
		return 0xE74C3C
	case notifier.LevelWarning:
		return 0xF39C12
	default:
		return 0x3498DB
	}
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
