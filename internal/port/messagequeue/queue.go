// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Queue is the port interface for publishing run, buzz and scheduler events.
// Consumers read the stream directly.
type Queue interface {
	// Publish sends a message to the given subject. The request ID in ctx
	// travels as a message header.
	Publish(ctx context.Context, subject string, data []byte) error

	// Drain flushes pending publishes before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects published by the scheduler process. The stream captures
// "runs.>", "buzz.>" and "scheduler.>".
const (
	// SubjectRunFinished carries an accepted, escalated or aborted pipeline run.
	SubjectRunFinished  = "runs.finished"
	// SubjectBuzzDetected carries one reported buzz event.
	SubjectBuzzDetected = "buzz.detected"
	// SubjectTriggerFired is suffixed with the trigger name: scheduler.fired.{trigger}.
	SubjectTriggerFired = "scheduler.fired"
	// SubjectReport carries the weekly report result.
	SubjectReport       = "scheduler.report"
)

// StreamSubjects lists the subject filters the JetStream stream is created with.
var StreamSubjects = []string{"runs.>", "buzz.>", "scheduler.>"}
