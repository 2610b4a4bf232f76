package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/adapter/ws"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/port/database"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
)

// TriggerManual marks runs started outside the schedule.
const TriggerManual = "manual"

// maxSleep caps the loop's wait so wall-clock jumps are picked up.
const maxSleep = time.Minute

// Job is the work behind a trigger.
type Job func(ctx context.Context) error

// PipelineRunner executes one pipeline run. Run returns a nil run when it
// fails before the run is created.
type PipelineRunner interface {
	Run(ctx context.Context, req RunRequest) (*pipeline.Run, error)
	Template(id string) (pipeline.Template, error)
}

// BuzzChecker runs one buzz check.
type BuzzChecker interface {
	Check(ctx context.Context) (*CheckResult, error)
}

// SchedulerOptions configure a SchedulerService.
type SchedulerOptions struct {
	Location   *time.Location
	DailyQuota int
	RunOnStart string // trigger fired once at start; empty disables
}

// FireResult describes one firing.
type FireResult struct {
	Trigger  string        `json:"trigger"`
	Manual   bool          `json:"manual"`
	Skipped  bool          `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type scheduled struct {
	trigger schedule.Trigger
	job     Job
	status  schedule.TriggerStatus
}

// SchedulerService fires jobs on interval and wall-clock triggers and owns
// the daily pipeline quota. All trigger state is guarded by mu.
type SchedulerService struct {
	store  database.Store
	runner PipelineRunner
	themes ThemeSource
	opts   SchedulerOptions
	out    Outputs
	now    func() time.Time

	mu        sync.Mutex
	jobs      []*scheduled
	quota     schedule.Quota
	running   bool
	startedAt time.Time
	wg        sync.WaitGroup
}

// NewSchedulerService creates a scheduler. Jobs are added with Add.
func NewSchedulerService(store database.Store, runner PipelineRunner, themes ThemeSource, opts SchedulerOptions) *SchedulerService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DailyQuota <= 0 {
		opts.DailyQuota = schedule.DefaultDailyQuota
	}
	return &SchedulerService{
		store:  store,
		runner: runner,
		themes: themes,
		opts:   opts,
		now:    time.Now,
		quota:  schedule.Quota{Limit: opts.DailyQuota},
	}
}

// SetOutputs sets the queue, broadcaster, notifier and metrics sinks.
func (s *SchedulerService) SetOutputs(o Outputs) { s.out = o }

// SetClock replaces the time source.
func (s *SchedulerService) SetClock(now func() time.Time) { s.now = now }

// Add registers a job. Adding a trigger name twice replaces the job.
func (s *SchedulerService) Add(tr schedule.Trigger, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := schedule.TriggerStatus{Name: tr.Name, Kind: tr.Kind, Spec: tr.Spec()}
	if s.running {
		st.NextFireAt = tr.Next(s.now(), s.opts.Location)
	}
	for _, j := range s.jobs {
		if j.trigger.Name == tr.Name {
			j.trigger, j.job = tr, job
			j.status.Kind, j.status.Spec, j.status.NextFireAt = st.Kind, st.Spec, st.NextFireAt
			return
		}
	}
	s.jobs = append(s.jobs, &scheduled{trigger: tr, job: job, status: st})
}

// Start computes the first fire times and runs the timer loop until ctx is
// done. It returns immediately.
func (s *SchedulerService) Start(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.startedAt = now
	for _, j := range s.jobs {
		j.status.NextFireAt = j.trigger.Next(now, s.opts.Location)
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.syncQuota(ctx, now)

	if s.opts.RunOnStart != "" {
		s.mu.Lock()
		j := s.find(s.opts.RunOnStart)
		if j != nil && !j.status.Running {
			j.status.Running = true
			s.launch(ctx, j, false)
		}
		s.mu.Unlock()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	slog.InfoContext(ctx, "scheduler started", "triggers", count, "location", s.opts.Location.String())
	return nil
}

// Wait blocks until the loop and every in-flight job have returned.
func (s *SchedulerService) Wait() { s.wg.Wait() }

func (s *SchedulerService) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	for {
		wait := maxSleep
		if next, ok := s.nextFire(); ok {
			if d := next.Sub(s.now()); d < wait {
				wait = max(d, 0)
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
			s.RunDue(ctx, s.now())
		}
	}
}

func (s *SchedulerService) nextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, j := range s.jobs {
		if next.IsZero() || j.status.NextFireAt.Before(next) {
			next = j.status.NextFireAt
		}
	}
	return next, !next.IsZero()
}

// RunDue fires every trigger whose next fire time is at or before now. A
// trigger whose previous firing is still running is skipped and counted.
// Jobs run on their own goroutines.
func (s *SchedulerService) RunDue(ctx context.Context, now time.Time) {
	var skipped []string
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.status.NextFireAt.IsZero() || j.status.NextFireAt.After(now) {
			continue
		}
		j.status.NextFireAt = j.trigger.Next(now, s.opts.Location)
		if j.status.Running {
			j.status.Skipped++
			skipped = append(skipped, j.trigger.Name)
			continue
		}
		j.status.Running = true
		s.launch(ctx, j, false)
	}
	s.mu.Unlock()

	for _, name := range skipped {
		s.reportSkip(ctx, name, false)
	}
}

// launch runs j in the background. The caller holds mu and has marked j running.
func (s *SchedulerService) launch(ctx context.Context, j *scheduled, manual bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, j, manual)
	}()
}

// Check fires the named trigger now and waits for it. A trigger that is
// already running is skipped, which is not an error.
func (s *SchedulerService) Check(ctx context.Context, name string) (FireResult, error) {
	s.mu.Lock()
	j := s.find(name)
	if j == nil {
		s.mu.Unlock()
		return FireResult{}, fmt.Errorf("trigger %q: %w", name, domain.ErrNotFound)
	}
	if j.status.Running {
		j.status.Skipped++
		s.mu.Unlock()
		s.reportSkip(ctx, name, true)
		return FireResult{Trigger: name, Manual: true, Skipped: true}, nil
	}
	j.status.Running = true
	s.mu.Unlock()
	return s.run(ctx, j, true), nil
}

func (s *SchedulerService) find(name string) *scheduled {
	for _, j := range s.jobs {
		if j.trigger.Name == name {
			return j
		}
	}
	return nil
}

func (s *SchedulerService) run(ctx context.Context, j *scheduled, manual bool) FireResult {
	name := j.trigger.Name
	firedAt := s.now()
	ctx = logger.WithAttrs(ctx, "trigger", name)
	ctx, span := otel.StartTriggerSpan(ctx, name, manual)
	start := time.Now()
	err := safeRun(ctx, name, j.job)
	elapsed := time.Since(start)
	otel.EndSpan(span, err)

	s.mu.Lock()
	j.status.Running = false
	j.status.LastFiredAt = firedAt
	j.status.LastDuration = elapsed
	j.status.Fired++
	j.status.LastError = ""
	if err != nil {
		j.status.Failed++
		j.status.LastError = err.Error()
	}
	s.mu.Unlock()

	res := FireResult{Trigger: name, Manual: manual, Duration: elapsed}
	outcome := "ok"
	if err != nil {
		res.Error = err.Error()
		outcome = "error"
		slog.ErrorContext(ctx, "scheduled job failed", "manual", manual, "duration", elapsed, "error", err)
	} else {
		slog.InfoContext(ctx, "scheduled job finished", "manual", manual, "duration", elapsed)
	}
	s.out.Metrics.TriggerFired(ctx, name, outcome, elapsed)
	s.emit(ctx, res, firedAt)
	return res
}

// safeRun converts a panicking job into an error.
func safeRun(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "scheduled job panicked", "trigger", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()
	return job(ctx)
}

func (s *SchedulerService) reportSkip(ctx context.Context, name string, manual bool) {
	slog.WarnContext(ctx, "trigger skipped, previous run still active", "trigger", name, "manual", manual)
	s.out.Metrics.TriggerFired(ctx, name, "skipped", 0)
	s.emit(ctx, FireResult{Trigger: name, Manual: manual, Skipped: true}, s.now())
}

func (s *SchedulerService) emit(ctx context.Context, res FireResult, at time.Time) {
	s.out.publish(ctx, messagequeue.SubjectTriggerFired+"."+res.Trigger, messagequeue.TriggerFiredPayload{
		Trigger:  res.Trigger,
		Manual:   res.Manual,
		Skipped:  res.Skipped,
		Error:    res.Error,
		Duration: res.Duration,
		FiredAt:  at,
	})
	s.out.broadcast(ctx, ws.EventTriggerFired, ws.TriggerEvent{
		Trigger: res.Trigger, Manual: res.Manual, Skipped: res.Skipped, Error: res.Error, Duration: res.Duration,
	})
}

// StartTheme reserves a quota slot and runs the pipeline in the background.
// It returns the id the run will be stored under. An unknown template fails
// before any quota is taken.
func (s *SchedulerService) StartTheme(ctx context.Context, theme, templateID string) (string, error) {
	if strings.TrimSpace(theme) == "" {
		return "", fmt.Errorf("theme is required: %w", domain.ErrValidation)
	}
	if _, err := s.runner.Template(templateID); err != nil {
		return "", err
	}
	day, err := s.reserve(ctx)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	runCtx := logger.WithAttrs(context.WithoutCancel(ctx), "trigger", TriggerManual)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runReserved(runCtx, day, RunRequest{ID: id, Theme: theme, TemplateID: templateID, Trigger: TriggerManual}); err != nil {
			slog.WarnContext(runCtx, "manual pipeline run failed", "run_id", id, "error", err)
		}
	}()
	return id, nil
}

// BuzzCheck returns the buzz_check job. After the detector reports new
// events, one pipeline runs for the top-ranked event while quota remains.
func (s *SchedulerService) BuzzCheck(det BuzzChecker) Job {
	return func(ctx context.Context) error {
		res, err := det.Check(ctx)
		if err != nil {
			return err
		}
		if len(res.Reported) == 0 {
			return nil
		}
		top := res.Reported[0]
		day, err := s.reserve(ctx)
		if errors.Is(err, domain.ErrQuotaExceeded) {
			slog.InfoContext(ctx, "buzz found but daily quota used", "entity", top.EntityID, "observation", top.ObservationID)
			return nil
		}
		if err != nil {
			return err
		}
		return s.runReserved(ctx, day, RunRequest{Theme: themeFromEvent(&top), Trigger: schedule.TriggerBuzzCheck})
	}
}

// runReserved runs req on a slot reserved for day and gives the slot back
// when the run was never created.
func (s *SchedulerService) runReserved(ctx context.Context, day string, req RunRequest) error {
	run, err := s.runner.Run(ctx, req)
	if err != nil && run == nil {
		s.release(ctx, day)
	}
	return err
}

// DailyPipeline runs one pipeline per recommended theme until the quota for
// the local day is used. Failed runs are reported and do not stop the rest.
func (s *SchedulerService) DailyPipeline(ctx context.Context) error {
	now := s.now()
	s.syncQuota(ctx, now)
	s.mu.Lock()
	remaining := s.quota.Remaining(now, s.opts.Location)
	s.mu.Unlock()
	if remaining == 0 {
		slog.InfoContext(ctx, "daily quota already used", "limit", s.opts.DailyQuota)
		return nil
	}

	themes, err := s.themes.Themes(ctx, remaining)
	if err != nil {
		return fmt.Errorf("recommend themes: %w", err)
	}
	if len(themes) == 0 {
		slog.InfoContext(ctx, "no themes to run")
		return nil
	}

	var errs []error
	for _, theme := range themes {
		day, err := s.reserve(ctx)
		if errors.Is(err, domain.ErrQuotaExceeded) {
			break
		}
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.runReserved(ctx, day, RunRequest{Theme: theme, Trigger: schedule.TriggerDailyPipeline}); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return errors.Join(errs...)
}

// reserve takes one quota slot, mirrors it to the store's day counter and
// returns the day it counts against.
func (s *SchedulerService) reserve(ctx context.Context) (string, error) {
	now := s.now()
	day := schedule.DayKey(now, s.opts.Location)

	s.mu.Lock()
	stale := s.quota.Day != day
	s.mu.Unlock()
	if stale {
		s.syncQuota(ctx, now)
	}

	s.mu.Lock()
	err := s.quota.Reserve(now, s.opts.Location)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if _, err := s.store.IncrementCounter(ctx, database.CounterPipelineRuns, day); err != nil {
		slog.WarnContext(ctx, "persist quota counter", "day", day, "error", err)
	}
	return day, nil
}

func (s *SchedulerService) release(ctx context.Context, day string) {
	now := s.now()
	s.mu.Lock()
	if schedule.DayKey(now, s.opts.Location) == day {
		s.quota.Release(now, s.opts.Location)
	}
	s.mu.Unlock()
	if _, err := s.store.DecrementCounter(ctx, database.CounterPipelineRuns, day); err != nil {
		slog.WarnContext(ctx, "release quota counter", "day", day, "error", err)
	}
}

// syncQuota rolls the quota to the local day of now and adopts the stored
// count when it is higher, so a restart does not reset the quota.
func (s *SchedulerService) syncQuota(ctx context.Context, now time.Time) {
	day := schedule.DayKey(now, s.opts.Location)
	used, err := s.store.GetCounter(ctx, database.CounterPipelineRuns, day)
	if err != nil {
		slog.WarnContext(ctx, "load quota counter", "day", day, "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota.Roll(now, s.opts.Location)
	if err == nil && used > s.quota.Used {
		s.quota.Used = used
	}
}

// Status returns a snapshot of the scheduler.
func (s *SchedulerService) Status() schedule.State {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quota
	remaining := q.Remaining(now, s.opts.Location)
	st := schedule.State{
		Running:   s.running,
		StartedAt: s.startedAt,
		Location:  s.opts.Location.String(),
		Quota:     q,
		Remaining: remaining,
		Triggers:  make([]schedule.TriggerStatus, len(s.jobs)),
	}
	for i, j := range s.jobs {
		st.Triggers[i] = j.status
	}
	return st
}
