// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Field is a labelled value rendered as a table row or embed field.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   string  `json:"level"`  // "info", "success", "warning", "error"
	Source  string  `json:"source"` // e.g. "run.accepted", "buzz.detected"
	URL     string  `json:"url,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
	// Time is when the underlying event happened; zero means now.
	Time time.Time `json:"time,omitzero"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack", "email").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
