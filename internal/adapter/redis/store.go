// Package redis implements database.Store on Redis. Entities and runs are
// JSON documents in hashes, flagged observations use HSETNX for
// insert-if-absent, and day counters are INCR keys that expire.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
)

// counterTTL keeps day counters around long enough to span a timezone change.
const counterTTL = 72 * time.Hour

// Store implements database.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStoreFromURL connects to Redis and verifies the connection.
func NewStoreFromURL(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", opts.Addr, "prefix", prefix)
	return NewStore(client, prefix), nil
}

// NewStore wraps an existing client.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "buzzforge"
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// --- Monitored entities ---

func (s *Store) ListEntities(ctx context.Context) ([]buzz.Entity, error) {
	vals, err := s.client.HGetAll(ctx, s.key("entities")).Result()
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]buzz.Entity, 0, len(vals))
	for id, raw := range vals {
		var e buzz.Entity
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entity %s: %w", id, err)
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b buzz.Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*buzz.Entity, error) {
	raw, err := s.client.HGet(ctx, s.key("entities"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get entity %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	var e buzz.Entity
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *buzz.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("upsert entity: id is required: %w", domain.ErrValidation)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if err := s.client.HSet(ctx, s.key("entities"), e.ID, data).Err(); err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// --- Flagged observations ---

func (s *Store) MarkFlagged(ctx context.Context, ev *buzz.Event) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	k := ev.Key()
	inserted, err := s.client.HSetNX(ctx, s.key("flagged"), k, data).Result()
	if err != nil {
		return false, fmt.Errorf("mark flagged %s: %w", k, err)
	}
	if !inserted {
		return false, nil
	}
	z := redis.Z{Score: float64(ev.DetectedAt.UnixMilli()), Member: k}
	if err := s.client.ZAdd(ctx, s.key("flagged", "by_time"), z).Err(); err != nil {
		return true, fmt.Errorf("index flagged %s: %w", k, err)
	}
	return true, nil
}

func (s *Store) IsFlagged(ctx context.Context, entityID, observationID string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key("flagged"), buzz.DedupKey(entityID, observationID)).Result()
	if err != nil {
		return false, fmt.Errorf("is flagged: %w", err)
	}
	return ok, nil
}

func (s *Store) ListFlagged(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error) {
	by := &redis.ZRangeBy{Min: strconv.FormatInt(since.UnixMilli(), 10), Max: "+inf"}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := s.client.ZRevRangeByScore(ctx, s.key("flagged", "by_time"), by).Result()
	if err != nil {
		return nil, fmt.Errorf("list flagged: %w", err)
	}
	if len(keys) == 0 {
		return []buzz.Event{}, nil
	}
	vals, err := s.client.HMGet(ctx, s.key("flagged"), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load flagged: %w", err)
	}
	out := make([]buzz.Event, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var ev buzz.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode flagged event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// --- Day counters ---

func (s *Store) GetCounter(ctx context.Context, name, day string) (int, error) {
	n, err := s.client.Get(ctx, s.key("counter", name, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s@%s: %w", name, day, err)
	}
	return n, nil
}

func (s *Store) IncrementCounter(ctx context.Context, name, day string) (int, error) {
	k := s.key("counter", name, day)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, counterTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s@%s: %w", name, day, err)
	}
	return int(incr.Val()), nil
}

// decrFloor decrements a counter that exists and is above zero.
var decrFloor = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
	n = redis.call('DECR', KEYS[1])
end
return n
`)

func (s *Store) DecrementCounter(ctx context.Context, name, day string) (int, error) {
	n, err := decrFloor.Run(ctx, s.client, []string{s.key("counter", name, day)}).Int()
	if err != nil {
		return 0, fmt.Errorf("decrement counter %s@%s: %w", name, day, err)
	}
	return n, nil
}

// --- Pipeline runs ---

func (s *Store) SaveRun(ctx context.Context, r *pipeline.Run) error {
	if r.ID == "" {
		return fmt.Errorf("save run: id is required: %w", domain.ErrValidation)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key("runs"), r.ID, data)
		p.ZAdd(ctx, s.key("runs", "by_start"), redis.Z{Score: float64(r.StartedAt.UnixMilli()), Member: r.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	raw, err := s.client.HGet(ctx, s.key("runs"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var r pipeline.Run
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.key("runs", "by_start"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []pipeline.Run{}, nil
	}
	vals, err := s.client.HMGet(ctx, s.key("runs"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	out := make([]pipeline.Run, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r pipeline.Run
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
