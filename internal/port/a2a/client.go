package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/middleware"
	"github.com/Strob0t/BuzzForge/internal/resilience"
)

const cancelGrace = 5 * time.Second

// ClientOptions configure a Client.
type ClientOptions struct {
	PollInterval       time.Duration
	BreakerMaxFailures int // 0 disables the per-agent breaker
	BreakerTimeout     time.Duration
	HTTPClient         *http.Client
}

// Client calls remote agent runtimes over the task protocol. Each agent base
// URL gets its own circuit breaker; only transport errors and 5xx responses
// count against it.
type Client struct {
	http *http.Client
	poll time.Duration
	opts ClientOptions

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// NewClient creates a protocol client. Outbound requests carry trace context.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{http: hc, poll: poll, opts: opts, breakers: make(map[string]*resilience.Breaker)}
}

// Card fetches the agent card, falling back to the capabilities alias.
func (c *Client) Card(ctx context.Context, baseURL string) (agent.Card, error) {
	var card agent.Card
	err := c.do(ctx, baseURL, http.MethodGet, PathAgentCard, nil, &card)
	if errors.Is(err, domain.ErrNotFound) {
		err = c.do(ctx, baseURL, http.MethodGet, PathCapabilities, nil, &card)
	}
	if err != nil {
		return agent.Card{}, fmt.Errorf("agent card %s: %w", baseURL, err)
	}
	return card, nil
}

// Send submits a task.
func (c *Client) Send(ctx context.Context, baseURL string, req task.SendRequest) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, baseURL, http.MethodPost, PathSendTask, req, &t); err != nil {
		return nil, fmt.Errorf("send task: %w", err)
	}
	return &t, nil
}

// Get fetches a task. Polling a terminal task is idempotent.
func (c *Client) Get(ctx context.Context, baseURL, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, baseURL, http.MethodGet, PathTasks+"/"+id, nil, &t); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

// Cancel asks the agent to cancel a task.
func (c *Client) Cancel(ctx context.Context, baseURL, id string) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, baseURL, http.MethodPost, PathTasks+"/"+id+"/cancel", nil, &t); err != nil {
		return nil, fmt.Errorf("cancel task %s: %w", id, err)
	}
	return &t, nil
}

// Await polls until the task is terminal. When ctx ends first the remote
// task is canceled on a best-effort basis and the context error returned.
func (c *Client) Await(ctx context.Context, baseURL, id string) (*task.Task, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.cancelDetached(ctx, baseURL, id)
			return nil, ctx.Err()
		case <-ticker.C:
		}
		t, err := c.Get(ctx, baseURL, id)
		if err != nil {
			if ctx.Err() != nil {
				c.cancelDetached(ctx, baseURL, id)
				return nil, ctx.Err()
			}
			return nil, err
		}
		if t.Terminal() {
			return t, nil
		}
	}
}

// Call sends msg as a new task and waits for its terminal state.
func (c *Client) Call(ctx context.Context, baseURL string, msg task.Message) (*task.Task, error) {
	t, err := c.Send(ctx, baseURL, task.SendRequest{Message: msg})
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return t, nil
	}
	return c.Await(ctx, baseURL, t.ID)
}

func (c *Client) cancelDetached(ctx context.Context, baseURL, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelGrace)
	defer cancel()
	_, _ = c.Cancel(cctx, baseURL, id)
}

func (c *Client) breaker(baseURL string) *resilience.Breaker {
	if c.opts.BreakerMaxFailures <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[baseURL]
	if !ok {
		b = resilience.NewBreaker("a2a:"+baseURL, c.opts.BreakerMaxFailures, c.opts.BreakerTimeout,
			resilience.WithTrip(remoteFault))
		c.breakers[baseURL] = b
	}
	return b
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d: %s", e.code, e.body) }

// remoteFault trips the breaker on transport errors and 5xx, not on 4xx
// answers or caller cancellation.
func remoteFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError
	}
	return true
}

func (c *Client) do(ctx context.Context, baseURL, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	call := func() error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, rdr)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set(middleware.HeaderRequestID, id)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return &statusError{code: resp.StatusCode, body: string(data)}
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	var err error
	if b := c.breaker(baseURL); b != nil {
		err = b.Execute(call)
	} else {
		err = call()
	}

	var se *statusError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case !errors.As(err, &se):
		return fmt.Errorf("%w: %w", domain.ErrBackend, err)
	case se.code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, se.body)
	case se.code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, se.body)
	case se.code == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, se.body)
	}
	return fmt.Errorf("%w: %w", domain.ErrBackend, se)
}
