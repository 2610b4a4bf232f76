package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/adapter/ws"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/port/database"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
)

const persistTimeout = 10 * time.Second

// CoordinatorOptions bound pipeline execution.
type CoordinatorOptions struct {
	Policy          pipeline.Policy
	DefaultTemplate string
	MaxParallel     int           // concurrent stage calls per phase
	RunBudget       time.Duration // wall clock per run; 0 disables
	CallTimeout     time.Duration // per agent call; 0 disables
}

// RunRequest starts one pipeline run.
type RunRequest struct {
	ID         string `json:"id,omitempty"` // generated when empty
	Theme      string `json:"theme"`
	TemplateID string `json:"template_id,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// CoordinatorService drives pipeline runs: generation phases fan out to
// agents, then the review/improve loop runs until the artifact is accepted
// or escalated.
type CoordinatorService struct {
	agents    AgentCaller
	store     database.Store
	templates map[string]pipeline.Template
	opts      CoordinatorOptions
	out       Outputs
	now       func() time.Time
	newID     func() string
}

// NewCoordinatorService creates a coordinator over the template catalog.
func NewCoordinatorService(agents AgentCaller, store database.Store, templates map[string]pipeline.Template, opts CoordinatorOptions) *CoordinatorService {
	if opts.Policy.Threshold == 0 && opts.Policy.MaxIterations == 0 {
		opts.Policy = pipeline.DefaultPolicy()
	}
	if opts.DefaultTemplate == "" {
		opts.DefaultTemplate = pipeline.DefaultTemplateID
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &CoordinatorService{
		agents:    agents,
		store:     store,
		templates: templates,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetOutputs sets the queue, broadcaster, notifier and metrics sinks.
func (c *CoordinatorService) SetOutputs(o Outputs) { c.out = o }

// SetClock replaces the time source.
func (c *CoordinatorService) SetClock(now func() time.Time) { c.now = now }

// Templates returns the catalog ids in sorted order.
func (c *CoordinatorService) Templates() []string {
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Template resolves a template id; empty selects the default.
func (c *CoordinatorService) Template(id string) (pipeline.Template, error) {
	if id == "" {
		id = c.opts.DefaultTemplate
	}
	t, ok := c.templates[id]
	if !ok {
		return pipeline.Template{}, fmt.Errorf("template %q: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Get returns a stored run.
func (c *CoordinatorService) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	return c.store.GetRun(ctx, id)
}

// List returns the most recent runs.
func (c *CoordinatorService) List(ctx context.Context, limit int) ([]pipeline.Run, error) {
	return c.store.ListRuns(ctx, limit)
}

// Run executes one pipeline for a theme and returns the finished run. An
// escalated run is a normal outcome; an aborted run also returns an error
// wrapping ErrPipelineAbort.
func (c *CoordinatorService) Run(ctx context.Context, req RunRequest) (*pipeline.Run, error) {
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		return nil, fmt.Errorf("theme is required: %w", domain.ErrValidation)
	}
	tmpl, err := c.Template(req.TemplateID)
	if err != nil {
		return nil, err
	}
	phases, err := tmpl.Phases()
	if err != nil {
		return nil, fmt.Errorf("template %s: %w: %w", tmpl.ID, domain.ErrValidation, err)
	}

	id := req.ID
	if id == "" {
		id = c.newID()
	}
	if _, err := c.store.GetRun(ctx, id); err == nil {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrConflict)
	}
	run := pipeline.NewRun(id, theme, tmpl.ID, c.opts.Policy, c.now())
	run.Trigger = req.Trigger

	ctx = logger.WithAttrs(ctx, "run_id", run.ID)
	ctx, span := otel.StartRunSpan(ctx, run.ID, theme, tmpl.ID)
	slog.InfoContext(ctx, "pipeline run started", "theme", theme, "template", tmpl.ID)
	c.save(ctx, run)
	c.out.broadcast(ctx, ws.EventRunStarted, ws.RunEvent{RunID: run.ID, Theme: theme, Status: string(run.Status), Trigger: run.Trigger})

	runCtx := ctx
	if c.opts.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.RunBudget)
		defer cancel()
	}

	if err := c.generate(runCtx, run, &tmpl, phases); err != nil {
		if budgetExpired(runCtx, ctx) {
			run.Error = err.Error()
			run.Escalate(pipeline.ReasonTimeout, c.now())
		} else {
			run.Abort(err, c.now())
		}
	} else {
		c.reviewLoop(runCtx, ctx, run, &tmpl)
	}

	c.finish(ctx, run)

	var runErr error
	if run.Status == pipeline.StatusAborted {
		runErr = fmt.Errorf("run %s: %w: %s", run.ID, domain.ErrPipelineAbort, run.Error)
	}
	otel.EndSpan(span, runErr)
	return run.Clone(), runErr
}

// budgetExpired reports whether runCtx ended on its own deadline while the
// caller's context is still live.
func budgetExpired(runCtx, parent context.Context) bool {
	return errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func (c *CoordinatorService) generate(ctx context.Context, run *pipeline.Run, tmpl *pipeline.Template, phases [][]int) error {
	limit := c.opts.MaxParallel
	if tmpl.MaxParallel > 0 && tmpl.MaxParallel < limit {
		limit = tmpl.MaxParallel
	}

	outputs := make([]string, len(tmpl.Stages))
	for pi, phase := range phases {
		results := make([]pipeline.StageOutput, len(phase))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, idx := range phase {
			stage := tmpl.Stages[idx]
			msg := stageMessage(run.Theme, tmpl, idx, outputs)
			g.Go(func() error {
				t, err := c.call(gctx, run.ID, stage.Name, stage.Agent, msg)
				if err != nil {
					return fmt.Errorf("stage %s: %w", stage.Name, err)
				}
				results[i] = pipeline.StageOutput{Phase: pi, Stage: stage.Name, Agent: stage.Agent, TaskID: t.ID, Text: t.Text()}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPipelineAbort, err)
		}
		for i, idx := range phase {
			outputs[idx] = results[i].Text
			run.AddStage(results[i])
			c.out.broadcast(ctx, ws.EventRunStage, ws.StageEvent{
				RunID: run.ID, Phase: pi, Stage: results[i].Stage, Agent: results[i].Agent, TaskID: results[i].TaskID,
			})
		}
	}
	run.SetDraft(draft(tmpl, outputs))
	return nil
}

func (c *CoordinatorService) reviewLoop(ctx, parent context.Context, run *pipeline.Run, tmpl *pipeline.Template) {
	for {
		rt, err := c.call(ctx, run.ID, "review", tmpl.Review.Agent, reviewMessage(run, tmpl))
		if err != nil {
			c.escalateOnError(ctx, parent, run, fmt.Errorf("review: %w", err))
			return
		}
		score, breakdown, ok := pipeline.ParseReview(rt.Text(), rt.Data())
		if !ok {
			slog.WarnContext(ctx, "review carried no score", "task_id", rt.ID)
		}
		decision, err := run.RecordReview(pipeline.Review{
			Score:     score,
			Breakdown: breakdown,
			Feedback:  rt.Text(),
			TaskID:    rt.ID,
		}, c.now())
		if err != nil {
			return
		}
		rv := run.LatestReview()
		c.out.Metrics.ReviewScored(ctx, score)
		c.out.broadcast(ctx, ws.EventRunReview, ws.ReviewEvent{
			RunID: run.ID, Iteration: rv.Iteration, Score: score, Verdict: string(rv.Verdict), Decision: decision.String(),
		})
		slog.InfoContext(ctx, "review scored", "iteration", rv.Iteration, "score", score, "decision", decision.String())

		if decision != pipeline.DecisionImprove {
			return
		}
		it, err := c.call(ctx, run.ID, "improve", tmpl.Improve.Agent, improveMessage(run, tmpl, rv))
		if err != nil {
			c.escalateOnError(ctx, parent, run, fmt.Errorf("improve: %w", err))
			return
		}
		if err := run.ApplyImprovement(it.Text()); err != nil {
			run.Escalate(pipeline.ReasonMaxIterations, c.now())
			return
		}
	}
}

// escalateOnError ends the run escalated, keeping the last artifact for a
// human reviewer.
func (c *CoordinatorService) escalateOnError(ctx, parent context.Context, run *pipeline.Run, err error) {
	run.Error = err.Error()
	reason := pipeline.ReasonStageFailed
	if budgetExpired(ctx, parent) {
		reason = pipeline.ReasonTimeout
	}
	run.Escalate(reason, c.now())
}

// call invokes one agent and requires a completed task.
func (c *CoordinatorService) call(ctx context.Context, runID, stage, agentName string, msg task.Message) (*task.Task, error) {
	ctx, span := otel.StartStageSpan(ctx, runID, stage, agentName)
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	t, err := c.agents.Call(ctx, agentName, msg)
	if err == nil && t.Status.State != task.StateCompleted {
		detail := string(t.Status.State)
		if t.Error != nil {
			detail = t.Error.Code + ": " + t.Error.Message
		}
		err = fmt.Errorf("agent %s task %s %s: %w", agentName, t.ID, detail, domain.ErrBackend)
	}
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *CoordinatorService) finish(ctx context.Context, run *pipeline.Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	c.save(ctx, run)
	c.out.publish(ctx, messagequeue.SubjectRunFinished, messagequeue.RunFinishedPayload{
		RunID:      run.ID,
		Theme:      run.Theme,
		TemplateID: run.TemplateID,
		Trigger:    run.Trigger,
		Status:     string(run.Status),
		Reason:     run.Reason,
		Error:      run.Error,
		Iterations: len(run.Reviews),
		Scores:     run.Scores(),
		Artifact:   run.Artifact,
		FinishedAt: run.FinishedAt,
	})
	c.out.broadcast(ctx, ws.EventRunFinished, ws.RunEvent{
		RunID: run.ID, Theme: run.Theme, Status: string(run.Status), Reason: run.Reason, Scores: run.Scores(), Trigger: run.Trigger,
	})
	c.out.notify(ctx, RunNotification(run))
	c.out.Metrics.RunFinished(ctx, string(run.Status), len(run.Reviews))

	slog.InfoContext(ctx, "pipeline run finished",
		"status", run.Status,
		"reason", run.Reason,
		"scores", run.Scores(),
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
}

func (c *CoordinatorService) save(ctx context.Context, run *pipeline.Run) {
	if err := c.store.SaveRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "save pipeline run", "error", err)
	}
}

// stageMessage builds the prompt for stage idx from the theme and the
// outputs of the stages it depends on.
func stageMessage(theme string, tmpl *pipeline.Template, idx int, outputs []string) task.Message {
	stage := tmpl.Stages[idx]
	var b strings.Builder
	if stage.Instruction != "" {
		b.WriteString(stage.Instruction)
	} else {
		fmt.Fprintf(&b, "Write the %s for a short-form piece on the theme below.", stage.Name)
	}
	fmt.Fprintf(&b, "\n\nTheme: %s", theme)
	for _, dep := range stage.DependsOn {
		fmt.Fprintf(&b, "\n\n## %s\n%s", tmpl.Stages[dep].Name, outputs[dep])
	}
	return task.UserMessage(
		task.TextPart(b.String()),
		task.DataPart(map[string]any{"theme": theme, "stage": stage.Name}),
	)
}

// draft joins the sink outputs. A single sink is used as is.
func draft(tmpl *pipeline.Template, outputs []string) string {
	sinks := tmpl.Sinks()
	if len(sinks) == 1 {
		return outputs[sinks[0]]
	}
	sections := make([]string, 0, len(sinks))
	for _, i := range sinks {
		sections = append(sections, "## "+tmpl.Stages[i].Name+"\n"+outputs[i])
	}
	return strings.Join(sections, "\n\n")
}

func reviewMessage(run *pipeline.Run, tmpl *pipeline.Template) task.Message {
	instruction := tmpl.Review.Instruction
	if instruction == "" {
		instruction = "Score the script below out of 100. Reply with JSON {\"score\": N, \"breakdown\": {axis: points}, \"feedback\": \"...\"}."
	}
	text := fmt.Sprintf("%s\n\nTheme: %s\n\n## Script\n%s", instruction, run.Theme, run.Artifact)
	return task.UserMessage(
		task.TextPart(text),
		task.DataPart(map[string]any{
			"theme":     run.Theme,
			"iteration": run.Iteration,
			"threshold": run.Policy.Threshold,
			"axes":      pipeline.Axes,
		}),
	)
}

func improveMessage(run *pipeline.Run, tmpl *pipeline.Template, rv *pipeline.Review) task.Message {
	instruction := tmpl.Improve.Instruction
	if instruction == "" {
		instruction = "Rewrite the script below to address the review. Return only the improved script."
	}
	weakest := pipeline.WeakestAxes(rv.Breakdown)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTheme: %s\nScore: %g/100", instruction, run.Theme, rv.Score)
	if len(weakest) > 0 {
		fmt.Fprintf(&b, "\nWeakest areas: %s", strings.Join(weakest, ", "))
	}
	fmt.Fprintf(&b, "\n\n## Review\n%s\n\n## Script\n%s", rv.Feedback, run.Artifact)

	data := map[string]any{"theme": run.Theme, "score": rv.Score, "iteration": run.Iteration}
	if len(rv.Breakdown) > 0 {
		data["breakdown"] = rv.Breakdown
		data["weakest"] = weakest
	}
	return task.UserMessage(task.TextPart(b.String()), task.DataPart(data))
}
