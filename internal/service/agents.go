package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/port/a2a"
	"github.com/Strob0t/BuzzForge/internal/port/cache"
)

// AgentCaller invokes a named remote agent and returns its terminal task.
type AgentCaller interface {
	Call(ctx context.Context, agentName string, msg task.Message) (*task.Task, error)
}

// AgentStatus is the discovery view of one configured agent.
type AgentStatus struct {
	Name  string      `json:"name"`
	URL   string      `json:"url"`
	Card  *agent.Card `json:"card,omitempty"`
	Error string      `json:"error,omitempty"`
}

// AgentRegistry resolves agent names to runtimes and calls them over the task
// protocol. Agent cards are cached.
type AgentRegistry struct {
	urls    map[string]string
	client  *a2a.Client
	cache   cache.Cache
	cardTTL time.Duration
}

// NewAgentRegistry creates a registry over the configured name -> URL map.
// c may be nil to disable card caching.
func NewAgentRegistry(urls map[string]string, client *a2a.Client, c cache.Cache, cardTTL time.Duration) *AgentRegistry {
	return &AgentRegistry{urls: urls, client: client, cache: c, cardTTL: cardTTL}
}

// Names returns the configured agent names in sorted order.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.urls))
	for name := range r.urls {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// URL returns the base URL of the named agent.
func (r *AgentRegistry) URL(name string) (string, error) {
	u, ok := r.urls[name]
	if !ok || u == "" {
		return "", fmt.Errorf("agent %q: %w", name, domain.ErrNotFound)
	}
	return u, nil
}

// Require checks that every name resolves.
func (r *AgentRegistry) Require(names ...string) error {
	for _, n := range names {
		if _, err := r.URL(n); err != nil {
			return err
		}
	}
	return nil
}

// Card returns the agent card, served from cache when possible.
func (r *AgentRegistry) Card(ctx context.Context, name string) (agent.Card, error) {
	u, err := r.URL(name)
	if err != nil {
		return agent.Card{}, err
	}
	key := cache.Key(cache.NSAgentCard, name)
	if r.cache != nil {
		if card, ok, err := cache.GetJSON[agent.Card](ctx, r.cache, key); err == nil && ok {
			return card, nil
		}
	}
	card, err := r.client.Card(ctx, u)
	if err != nil {
		return agent.Card{}, err
	}
	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, card, r.cardTTL); err != nil {
			slog.Warn("cache agent card", "agent", name, "error", err)
		}
	}
	return card, nil
}

// Discover fetches the card of every configured agent. Unreachable agents are
// reported with their error instead of failing the whole listing.
func (r *AgentRegistry) Discover(ctx context.Context) []AgentStatus {
	names := r.Names()
	out := make([]AgentStatus, 0, len(names))
	for _, name := range names {
		st := AgentStatus{Name: name, URL: r.urls[name]}
		card, err := r.Card(ctx, name)
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Card = &card
		}
		out = append(out, st)
	}
	return out
}

// Call sends msg to the named agent and waits for a terminal task.
func (r *AgentRegistry) Call(ctx context.Context, name string, msg task.Message) (*task.Task, error) {
	u, err := r.URL(name)
	if err != nil {
		return nil, err
	}
	return r.client.Call(ctx, u, msg)
}
