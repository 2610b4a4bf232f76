// Package slack delivers notifications as Slack Block Kit webhook messages.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Strob0t/BuzzForge/internal/adapter/webhook"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

const providerName = "slack"

// Block Kit limits.
const (
	maxHeader    = 150
	maxSection   = 3000
	maxFields    = 10
	maxFieldText = 2000
)

// Notifier posts one message per notification.
type Notifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier. Username only applies to legacy
// webhooks; app webhooks ignore it.
func NewNotifier(webhookURL, username string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		username:   username,
		httpClient: webhook.NewClient(),
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

type message struct {
	Text     string  `json:"text"` // fallback for push notifications
	Username string  `json:"username,omitempty"`
	Blocks   []block `json:"blocks"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) text { return text{Type: "mrkdwn", Text: s} }

func (n *Notifier) Send(ctx context.Context, msg notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}
	return webhook.PostJSON(ctx, n.httpClient, providerName, n.webhookURL, n.message(&msg))
}

func (n *Notifier) message(msg *notifier.Notification) message {
	title := levelEmoji(msg.Level) + " " + msg.Title
	out := message{
		Text:     title,
		Username: n.username,
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: clip(title, maxHeader)}},
		},
	}
	if body := strings.TrimSpace(msg.Message); body != "" {
		t := mrkdwn(clip(body, maxSection))
		out.Blocks = append(out.Blocks, block{Type: "section", Text: &t})
	}

	var fields []text
	for _, f := range msg.Fields {
		if f.Value == "" || len(fields) == maxFields {
			continue
		}
		fields = append(fields, mrkdwn(clip(fmt.Sprintf("*%s*\n%s", f.Name, f.Value), maxFieldText)))
	}
	if len(fields) > 0 {
		out.Blocks = append(out.Blocks, block{Type: "section", Fields: fields})
	}

	var ctxParts []text
	if msg.URL != "" {
		ctxParts = append(ctxParts, mrkdwn(fmt.Sprintf("<%s|Open>", msg.URL)))
	}
	if msg.Source != "" {
		ctxParts = append(ctxParts, mrkdwn("`"+msg.Source+"`"))
	}
	if !msg.Time.IsZero() {
		ctxParts = append(ctxParts, mrkdwn(fmt.Sprintf("<!date^%d^{date_short_pretty} {time}|%s>",
			msg.Time.Unix(), msg.Time.UTC().Format("2006-01-02 15:04 UTC"))))
	}
	if len(ctxParts) > 0 {
		out.Blocks = append(out.Blocks, block{Type: "context", Elements: ctxParts})
	}
	return out
}

func levelEmoji(level string) string {
	switch level {
	case notifier.LevelSuccess:
		return ":white_check_mark:"
	case notifier.LevelError:
		return ":x:"
	case notifier.LevelWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
