// Package backend defines the generation backend port. An agent runtime wraps
// exactly one Generator; prompts and responses are opaque text.
package backend

import (
	"context"
	"time"
)

// Request is a single generation call.
type Request struct {
	TaskID string
	System string
	Prompt string
}

// Generator is the port interface for the external text-generation backend.
type Generator interface {
	// Name returns the registered backend name (e.g. "litellm", "cli").
	Name() string

	// Generate runs one invocation and returns the produced text. It must
	// honour ctx cancellation and deadlines.
	Generate(ctx context.Context, req Request) (string, error)
}

// Options configure a backend factory. Each backend reads the fields it needs.
type Options struct {
	URL     string
	APIKey  string
	Model   string
	Command string
	Args    []string

	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}
