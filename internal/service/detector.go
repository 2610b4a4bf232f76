package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/BuzzForge/internal/adapter/ws"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/port/cache"
	"github.com/Strob0t/BuzzForge/internal/port/database"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
)

// ObservationSource returns the latest observations for an entity.
type ObservationSource interface {
	Observations(ctx context.Context, e buzz.Entity, limit int) ([]buzz.Observation, error)
}

// AgentCollector fetches observations from a collector agent. The agent
// answers with a data part {"observations": [...]}.
type AgentCollector struct {
	agents AgentCaller
	name   string
}

// NewAgentCollector creates a collector calling the named agent.
func NewAgentCollector(agents AgentCaller, name string) *AgentCollector {
	return &AgentCollector{agents: agents, name: name}
}

// Observations implements ObservationSource.
func (c *AgentCollector) Observations(ctx context.Context, e buzz.Entity, limit int) ([]buzz.Observation, error) {
	msg := task.UserMessage(
		task.TextPart(fmt.Sprintf("Collect the latest %d posts of %s with like and retweet counts.", limit, e.Name)),
		task.DataPart(map[string]any{"entity_id": e.ID, "name": e.Name, "limit": limit}),
	)
	t, err := c.agents.Call(ctx, c.name, msg)
	if err != nil {
		return nil, err
	}
	if t.Status.State != task.StateCompleted {
		return nil, fmt.Errorf("collector task %s %s: %w", t.ID, t.Status.State, domain.ErrBackend)
	}
	data := t.Data()
	if data == nil {
		return nil, fmt.Errorf("collector task %s returned no data part: %w", t.ID, domain.ErrBackend)
	}
	raw, err := json.Marshal(data["observations"])
	if err != nil {
		return nil, fmt.Errorf("encode observations: %w", err)
	}
	var obs []buzz.Observation
	if err := json.Unmarshal(raw, &obs); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	for i := range obs {
		obs[i].EntityID = e.ID
	}
	if limit > 0 && len(obs) > limit {
		obs = obs[:limit]
	}
	return obs, nil
}

// DetectorOptions configure a DetectorService.
type DetectorOptions struct {
	Thresholds    buzz.Thresholds
	Window        int
	PostsPerCheck int
	MaxPerDay     int // reported events per local day; 0 disables the cap
	NotifyTop     int
	DedupTTL      time.Duration
	Location      *time.Location
}

// CheckResult summarizes one detector pass.
type CheckResult struct {
	Entities     int          `json:"entities"`
	Observations int          `json:"observations"`
	Candidates   int          `json:"candidates"`
	Duplicates   int          `json:"duplicates"`
	Capped       int          `json:"capped"`
	Errors       int          `json:"errors"`
	Reported     []buzz.Event `json:"reported"`
}

// DetectorService runs buzz checks across the enabled entities and reports
// new flagged observations exactly once.
type DetectorService struct {
	store    database.Store
	source   ObservationSource
	cache    cache.Cache
	detector *buzz.Detector
	opts     DetectorOptions
	out      Outputs
	now      func() time.Time
}

// NewDetectorService creates a detector. c may be nil; the store stays the
// authority on dedup.
func NewDetectorService(store database.Store, source ObservationSource, c cache.Cache, opts DetectorOptions) *DetectorService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 7 * 24 * time.Hour
	}
	return &DetectorService{
		store:    store,
		source:   source,
		cache:    c,
		detector: buzz.NewDetector(opts.Thresholds, opts.Window),
		opts:     opts,
		now:      time.Now,
	}
}

// SetOutputs sets the queue, broadcaster, notifier and metrics sinks.
func (d *DetectorService) SetOutputs(o Outputs) { d.out = o }

// SetClock replaces the time source.
func (d *DetectorService) SetClock(now func() time.Time) { d.now = now }

// SyncEntities seeds the store from configured accounts. Existing entities
// keep their averages, window and counters; configured fields win.
func (d *DetectorService) SyncEntities(ctx context.Context, configured []buzz.Entity) error {
	for i := range configured {
		want := configured[i]
		e, err := d.store.GetEntity(ctx, want.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			e = &want
		case err != nil:
			return fmt.Errorf("get entity %s: %w", want.ID, err)
		default:
			e.Name = want.Name
			e.Category = want.Category
			e.Enabled = want.Enabled
			e.Threshold = want.Threshold
		}
		if err := d.store.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("upsert entity %s: %w", want.ID, err)
		}
	}
	slog.InfoContext(ctx, "monitored entities synced", "count", len(configured))
	return nil
}

// Entities lists every stored entity.
func (d *DetectorService) Entities(ctx context.Context) ([]buzz.Entity, error) {
	return d.store.ListEntities(ctx)
}

// Recent returns events reported since the given time, newest first.
func (d *DetectorService) Recent(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error) {
	return d.store.ListFlagged(ctx, since, limit)
}

// Check evaluates every enabled entity once. A failing entity is logged and
// skipped. New events are ranked, capped per day, recorded, and reported.
func (d *DetectorService) Check(ctx context.Context) (*CheckResult, error) {
	entities, err := d.store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	res := &CheckResult{Reported: []buzz.Event{}}
	var candidates []buzz.Event
	for _, e := range entities {
		if !e.Enabled {
			continue
		}
		res.Entities++
		if err := ctx.Err(); err != nil {
			return res, err
		}

		obs, err := d.source.Observations(ctx, e, d.opts.PostsPerCheck)
		if err != nil {
			res.Errors++
			slog.WarnContext(ctx, "collect observations", "entity", e.ID, "error", err)
			continue
		}
		res.Observations += len(obs)

		events, next := d.detector.Evaluate(e, obs, d.now())
		for _, ev := range events {
			seen, err := d.seen(ctx, &ev)
			if err != nil {
				res.Errors++
				slog.WarnContext(ctx, "dedup lookup", "key", ev.Key(), "error", err)
				continue
			}
			if seen {
				res.Duplicates++
				continue
			}
			candidates = append(candidates, ev)
		}
		if err := d.store.UpsertEntity(ctx, &next); err != nil {
			res.Errors++
			slog.WarnContext(ctx, "update entity", "entity", e.ID, "error", err)
		}
	}
	res.Candidates = len(candidates)

	buzz.Rank(candidates)
	day := schedule.DayKey(d.now(), d.opts.Location)
	for i := range candidates {
		ev := candidates[i]
		if d.opts.MaxPerDay > 0 {
			used, err := d.store.GetCounter(ctx, database.CounterBuzzReports, day)
			if err != nil {
				return res, fmt.Errorf("read buzz counter: %w", err)
			}
			if used >= d.opts.MaxPerDay {
				res.Capped = len(candidates) - i
				break
			}
		}
		inserted, err := d.store.MarkFlagged(ctx, &ev)
		if err != nil {
			res.Errors++
			slog.WarnContext(ctx, "mark flagged", "key", ev.Key(), "error", err)
			continue
		}
		d.remember(ctx, &ev)
		if !inserted {
			res.Duplicates++
			continue
		}
		if _, err := d.store.IncrementCounter(ctx, database.CounterBuzzReports, day); err != nil {
			slog.WarnContext(ctx, "increment buzz counter", "error", err)
		}
		d.bumpFlagged(ctx, ev.EntityID)
		res.Reported = append(res.Reported, ev)
	}

	d.report(ctx, res.Reported)
	slog.InfoContext(ctx, "buzz check finished",
		"entities", res.Entities,
		"observations", res.Observations,
		"reported", len(res.Reported),
		"duplicates", res.Duplicates,
		"capped", res.Capped,
		"errors", res.Errors,
	)
	return res, nil
}

// seen consults the cache first and falls back to the store.
func (d *DetectorService) seen(ctx context.Context, ev *buzz.Event) (bool, error) {
	if d.cache != nil {
		if _, ok, err := d.cache.Get(ctx, d.cacheKey(ev)); err == nil && ok {
			return true, nil
		}
	}
	flagged, err := d.store.IsFlagged(ctx, ev.EntityID, ev.ObservationID)
	if err == nil && flagged {
		d.remember(ctx, ev)
	}
	return flagged, err
}

func (d *DetectorService) remember(ctx context.Context, ev *buzz.Event) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(ctx, d.cacheKey(ev), []byte("1"), d.opts.DedupTTL); err != nil {
		slog.DebugContext(ctx, "cache dedup hint", "key", ev.Key(), "error", err)
	}
}

func (d *DetectorService) cacheKey(ev *buzz.Event) string {
	return cache.Key(cache.NSFlagged, ev.EntityID, ev.ObservationID)
}

func (d *DetectorService) bumpFlagged(ctx context.Context, entityID string) {
	e, err := d.store.GetEntity(ctx, entityID)
	if err != nil {
		return
	}
	e.FlaggedCount++
	if err := d.store.UpsertEntity(ctx, e); err != nil {
		slog.WarnContext(ctx, "update flagged count", "entity", entityID, "error", err)
	}
}

// report publishes every reported event and notifies the top ranked ones.
func (d *DetectorService) report(ctx context.Context, events []buzz.Event) {
	if len(events) == 0 {
		return
	}
	d.out.Metrics.BuzzReported(ctx, len(events))
	for i := range events {
		ev := &events[i]
		d.out.publish(ctx, messagequeue.SubjectBuzzDetected, messagequeue.BuzzDetectedPayload{
			EntityID:      ev.EntityID,
			EntityName:    ev.EntityName,
			ObservationID: ev.ObservationID,
			Likes:         ev.Likes,
			Retweets:      ev.Retweets,
			Ratio:         ev.Ratio,
			Score:         ev.Score,
			Reason:        ev.Reason,
			URL:           ev.URL,
			DetectedAt:    ev.DetectedAt,
		})
		d.out.broadcast(ctx, ws.EventBuzzDetected, ev)
	}
	for _, ev := range buzz.Top(events, d.opts.NotifyTop) {
		d.out.notify(ctx, BuzzNotification(&ev))
	}
}
