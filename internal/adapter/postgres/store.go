package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Monitored entities ---

const entityColumns = `id, name, category, enabled, threshold, avg_likes, avg_retweets, sample_window, flagged_count, last_checked_at`

func (s *Store) ListEntities(ctx context.Context) ([]buzz.Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM monitored_entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out, err := collect(rows, scanEntity)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*buzz.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM monitored_entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, notFoundWrap(err, "get entity %s", id)
	}
	return &e, nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *buzz.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("upsert entity: id is required: %w", domain.ErrValidation)
	}
	window, err := jsonb("sample_window", e.Window)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO monitored_entities (`+entityColumns+`, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, category = EXCLUDED.category, enabled = EXCLUDED.enabled,
		   threshold = EXCLUDED.threshold, avg_likes = EXCLUDED.avg_likes,
		   avg_retweets = EXCLUDED.avg_retweets, sample_window = EXCLUDED.sample_window,
		   flagged_count = EXCLUDED.flagged_count, last_checked_at = EXCLUDED.last_checked_at,
		   updated_at = now()`,
		e.ID, e.Name, e.Category, e.Enabled, e.Threshold, e.AvgLikes, e.AvgRetweets,
		window, e.FlaggedCount, nullTime(e.LastCheckedAt))
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

func scanEntity(row scannable) (buzz.Entity, error) {
	var (
		e       buzz.Entity
		window  []byte
		checked *time.Time
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Category, &e.Enabled, &e.Threshold,
		&e.AvgLikes, &e.AvgRetweets, &window, &e.FlaggedCount, &checked); err != nil {
		return buzz.Entity{}, err
	}
	if err := decodeJSONB(e.ID, "sample_window", window, &e.Window); err != nil {
		return buzz.Entity{}, err
	}
	e.LastCheckedAt = derefTime(checked)
	return e, nil
}

// --- Flagged observations ---

func (s *Store) MarkFlagged(ctx context.Context, ev *buzz.Event) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO flagged_observations (entity_id, observation_id, event, detected_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id, observation_id) DO NOTHING`,
		ev.EntityID, ev.ObservationID, data, ev.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("mark flagged %s: %w", ev.Key(), err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) IsFlagged(ctx context.Context, entityID, observationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM flagged_observations WHERE entity_id = $1 AND observation_id = $2)`,
		entityID, observationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is flagged %s: %w", buzz.DedupKey(entityID, observationID), err)
	}
	return exists, nil
}

func (s *Store) ListFlagged(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error) {
	query := `SELECT event FROM flagged_observations WHERE detected_at >= $1
	          ORDER BY detected_at DESC, entity_id, observation_id`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flagged: %w", err)
	}
	out, err := collect(rows, func(row scannable) (buzz.Event, error) {
		var (
			ev   buzz.Event
			data []byte
		)
		if err := row.Scan(&data); err != nil {
			return ev, err
		}
		err := decodeJSONB("flagged observation", "event", data, &ev)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("list flagged: %w", err)
	}
	return out, nil
}

// --- Day counters ---

func (s *Store) GetCounter(ctx context.Context, name, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count FROM day_counters WHERE name = $1 AND day = $2`, name, day).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s@%s: %w", name, day, err)
	}
	return n, nil
}

func (s *Store) IncrementCounter(ctx context.Context, name, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO day_counters (name, day, count) VALUES ($1, $2, 1)
		 ON CONFLICT (name, day) DO UPDATE SET count = day_counters.count + 1
		 RETURNING count`, name, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s@%s: %w", name, day, err)
	}
	return n, nil
}

func (s *Store) DecrementCounter(ctx context.Context, name, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE day_counters SET count = GREATEST(count - 1, 0)
		 WHERE name = $1 AND day = $2
		 RETURNING count`, name, day).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("decrement counter %s@%s: %w", name, day, err)
	}
	return n, nil
}

// --- Pipeline runs ---

const runColumns = `id, theme, template_id, trigger, status, policy, artifact, stages, iteration, reviews, reason, error, started_at, finished_at`

func (s *Store) SaveRun(ctx context.Context, r *pipeline.Run) error {
	if r.ID == "" {
		return fmt.Errorf("save run: id is required: %w", domain.ErrValidation)
	}
	policy, err := json.Marshal(r.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	stages, err := jsonb("stages", r.Stages)
	if err != nil {
		return err
	}
	reviews, err := jsonb("reviews", r.Reviews)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, artifact = EXCLUDED.artifact, stages = EXCLUDED.stages,
		   iteration = EXCLUDED.iteration, reviews = EXCLUDED.reviews, reason = EXCLUDED.reason,
		   error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`,
		r.ID, r.Theme, r.TemplateID, r.Trigger, string(r.Status), policy, r.Artifact, stages,
		r.Iteration, reviews, r.Reason, r.Error, r.StartedAt, nullTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out, err := collect(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func scanRun(row scannable) (pipeline.Run, error) {
	var (
		r                       pipeline.Run
		status                  string
		policy, stages, reviews []byte
		finished                *time.Time
	)
	if err := row.Scan(&r.ID, &r.Theme, &r.TemplateID, &r.Trigger, &status, &policy, &r.Artifact,
		&stages, &r.Iteration, &reviews, &r.Reason, &r.Error, &r.StartedAt, &finished); err != nil {
		return pipeline.Run{}, err
	}
	r.Status = pipeline.Status(status)
	for column, c := range map[string]struct {
		data []byte
		dst  any
	}{
		"policy":  {policy, &r.Policy},
		"stages":  {stages, &r.Stages},
		"reviews": {reviews, &r.Reviews},
	} {
		if err := decodeJSONB(r.ID, column, c.data, c.dst); err != nil {
			return pipeline.Run{}, err
		}
	}
	r.FinishedAt = derefTime(finished)
	return r, nil
}
