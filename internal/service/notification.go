package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

// Notification sources. Enabled events are matched against these.
const (
	SourceRunAccepted  = "run.accepted"
	SourceRunEscalated = "run.escalated"
	SourceRunAborted   = "run.aborted"
	SourceBuzzDetected = "buzz.detected"
	SourceReport       = "report.weekly"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event sources (e.g., "run.accepted", "buzz.detected").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
// A nil service drops the notification.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil {
		return
	}
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.DebugContext(ctx, "notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	if s == nil {
		return 0
	}
	return len(s.notifiers)
}

// RunNotification summarizes a finished pipeline run.
func RunNotification(r *pipeline.Run) notifier.Notification {
	n := notifier.Notification{
		Time: r.FinishedAt,
		Fields: []notifier.Field{
			{Name: "Theme", Value: r.Theme},
			{Name: "Template", Value: r.TemplateID},
			{Name: "Scores", Value: formatScores(r.Scores())},
		},
	}
	switch r.Status {
	case pipeline.StatusAccepted:
		n.Source = SourceRunAccepted
		n.Level = notifier.LevelSuccess
		n.Title = "Pipeline accepted"
		n.Message = excerpt(r.Artifact, 500)
	case pipeline.StatusEscalated:
		n.Source = SourceRunEscalated
		n.Level = notifier.LevelWarning
		n.Title = "Pipeline needs human review"
		n.Message = fmt.Sprintf("Run %s escalated (%s).\n\n%s", r.ID, r.Reason, excerpt(r.Artifact, 300))
	default:
		n.Source = SourceRunAborted
		n.Level = notifier.LevelError
		n.Title = "Pipeline aborted"
		n.Message = fmt.Sprintf("Run %s aborted: %s", r.ID, r.Error)
	}
	if r.Trigger != "" {
		n.Fields = append(n.Fields, notifier.Field{Name: "Trigger", Value: r.Trigger})
	}
	return n
}

// BuzzNotification describes one reported buzz event.
func BuzzNotification(ev *buzz.Event) notifier.Notification {
	name := ev.EntityName
	if name == "" {
		name = ev.EntityID
	}
	return notifier.Notification{
		Title:   "Buzz detected: " + name,
		Message: excerpt(ev.Text, 280),
		Level:   notifier.LevelInfo,
		Source:  SourceBuzzDetected,
		URL:     ev.URL,
		Time:    ev.DetectedAt,
		Fields: []notifier.Field{
			{Name: "Likes", Value: strconv.FormatInt(ev.Likes, 10)},
			{Name: "Ratio", Value: fmt.Sprintf("%.1fx", ev.Ratio)},
			{Name: "Score", Value: fmt.Sprintf("%.2f", ev.Score)},
			{Name: "Reason", Value: ev.Reason},
		},
	}
}

func formatScores(scores []float64) string {
	if len(scores) == 0 {
		return "-"
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = strconv.FormatFloat(s, 'f', -1, 64)
	}
	return strings.Join(parts, " -> ")
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
