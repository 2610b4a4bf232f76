// Package claudecli implements the generation backend by running a local
// command-line model client (the `claude` CLI by default) once per task.
package claudecli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
)

const backendName = "cli"

// Backend runs Command with Args, writes the prompt to stdin and returns
// stdout.
type Backend struct {
	command     string
	args        []string
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a CLI backend.
func New(command string, args []string) *Backend {
	return &Backend{command: command, args: args, execCommand: exec.CommandContext}
}

// Register makes the "cli" backend available to backend.New.
func Register() {
	backend.Register(backendName, func(opts backend.Options) (backend.Generator, error) {
		if opts.Command == "" {
			return nil, errors.New("cli: command is required")
		}
		return New(opts.Command, opts.Args), nil
	})
}

// Name returns "cli".
func (b *Backend) Name() string { return backendName }

// Generate runs the command once. A non-zero exit or empty output is a
// backend error; context expiry kills the process.
func (b *Backend) Generate(ctx context.Context, req backend.Request) (string, error) {
	cmd := b.execCommand(ctx, b.command, b.args...) //nolint:gosec // command comes from operator config
	cmd.Stdin = strings.NewReader(stdinFor(req))
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("cli %s: %w", b.command, ctxErr)
		}
		return "", fmt.Errorf("%w: cli %s: %w: %s", domain.ErrBackend, b.command, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("%w: cli %s produced no output", domain.ErrBackend, b.command)
	}
	return out, nil
}

func stdinFor(req backend.Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}
