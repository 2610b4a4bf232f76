// Package litellm provides a generation backend that calls the LiteLLM Proxy
// OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
	"github.com/Strob0t/BuzzForge/internal/resilience"
)

const backendName = "litellm"

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client talks to the LiteLLM Proxy.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM client. Per-call deadlines come from the
// caller's context, so the HTTP client itself has no timeout.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		masterKey:  masterKey,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// ChatCompletion sends the messages and returns the first choice's content.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w: %w", domain.ErrBackend, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: %w: no choices returned", domain.ErrBackend)
	}
	return out.Choices[0].Message.Content, nil
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health/liveliness", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: %w", domain.ErrBackend, &apiError{status: resp.StatusCode, body: truncate(string(data), 512)})
		}

		result = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackend, err)
	}
	return result, err
}

// apiError is a non-2xx answer from the proxy.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string { return fmt.Sprintf("litellm API error %d: %s", e.status, e.body) }

// tripsBreaker counts outages, overload and rate limiting. A rejected request
// says nothing about the proxy's health.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status >= http.StatusInternalServerError || ae.status == http.StatusTooManyRequests
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Generator adapts Client to the backend port.
type Generator struct {
	client *Client
	model  string
}

// NewGenerator creates a chat-completions generator for the given model.
func NewGenerator(client *Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Register makes the "litellm" backend available to backend.New.
func Register() {
	backend.Register(backendName, func(opts backend.Options) (backend.Generator, error) {
		if opts.URL == "" {
			return nil, errors.New("litellm: url is required")
		}
		c := NewClient(opts.URL, opts.APIKey)
		if opts.BreakerMaxFailures > 0 {
			c.SetBreaker(resilience.NewBreaker(backendName, opts.BreakerMaxFailures, opts.BreakerTimeout,
				resilience.WithTrip(tripsBreaker)))
		}
		return NewGenerator(c, opts.Model), nil
	})
}

// Name returns "litellm".
func (g *Generator) Name() string { return backendName }

// Generate sends the system prompt and the task prompt as one chat turn.
func (g *Generator) Generate(ctx context.Context, req backend.Request) (string, error) {
	msgs := make([]Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.Prompt})
	return g.client.ChatCompletion(ctx, ChatRequest{Model: g.model, Messages: msgs})
}
