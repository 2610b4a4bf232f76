package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/port/database"
)

const maxThemeRunes = 120

// ThemeSource proposes pipeline themes, best first.
type ThemeSource interface {
	Themes(ctx context.Context, n int) ([]string, error)
}

// ThemeRecommender derives themes from recently reported buzz, highest
// composite score first, then falls back to configured themes.
type ThemeRecommender struct {
	store    database.Store
	fallback []string
	lookback time.Duration
	now      func() time.Time
}

// NewThemeRecommender creates a recommender looking back over the given window.
func NewThemeRecommender(store database.Store, fallback []string, lookback time.Duration) *ThemeRecommender {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &ThemeRecommender{store: store, fallback: fallback, lookback: lookback, now: time.Now}
}

// Themes returns up to n distinct themes.
func (r *ThemeRecommender) Themes(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	events, err := r.store.ListFlagged(ctx, r.now().Add(-r.lookback), 0)
	if err != nil {
		return nil, fmt.Errorf("list recent buzz: %w", err)
	}
	buzz.Rank(events)

	seen := make(map[string]bool)
	out := make([]string, 0, n)
	add := func(theme string) {
		key := strings.ToLower(theme)
		if theme == "" || seen[key] || len(out) >= n {
			return
		}
		seen[key] = true
		out = append(out, theme)
	}
	for i := range events {
		add(themeFromEvent(&events[i]))
	}
	for _, f := range r.fallback {
		add(strings.TrimSpace(f))
	}
	return out, nil
}

// themeFromEvent uses the first line of the post, or the account name.
func themeFromEvent(ev *buzz.Event) string {
	text := strings.TrimSpace(ev.Text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if text == "" {
		name := ev.EntityName
		if name == "" {
			name = ev.EntityID
		}
		return "What " + name + " is getting attention for"
	}
	if r := []rune(text); len(r) > maxThemeRunes {
		text = string(r[:maxThemeRunes])
	}
	return text
}
