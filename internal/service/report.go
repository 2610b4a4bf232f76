package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/port/database"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

const (
	reportPeriod  = 7 * 24 * time.Hour
	reportRuns    = 100
	reportTopBuzz = 10
)

// ReportService sends the weekly summary of runs and buzz to a report agent.
type ReportService struct {
	agents AgentCaller
	agent  string
	store  database.Store
	out    Outputs
	now    func() time.Time
}

// NewReportService creates a report service calling the named agent.
func NewReportService(agents AgentCaller, agentName string, store database.Store) *ReportService {
	return &ReportService{agents: agents, agent: agentName, store: store, now: time.Now}
}

// SetOutputs sets the queue, broadcaster, notifier and metrics sinks.
func (r *ReportService) SetOutputs(o Outputs) { r.out = o }

type runSummary struct {
	ID     string    `json:"id"`
	Theme  string    `json:"theme"`
	Status string    `json:"status"`
	Scores []float64 `json:"scores"`
}

// Send builds the summary of the last seven days and submits it.
func (r *ReportService) Send(ctx context.Context) (*task.Task, error) {
	end := r.now()
	start := end.Add(-reportPeriod)

	runs, err := r.store.ListRuns(ctx, reportRuns)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	counts := make(map[string]int)
	summaries := make([]runSummary, 0, len(runs))
	for i := range runs {
		if runs[i].StartedAt.Before(start) {
			continue
		}
		counts[string(runs[i].Status)]++
		summaries = append(summaries, runSummary{ID: runs[i].ID, Theme: runs[i].Theme, Status: string(runs[i].Status), Scores: runs[i].Scores()})
	}
	events, err := r.store.ListFlagged(ctx, start, reportTopBuzz)
	if err != nil {
		return nil, fmt.Errorf("list buzz: %w", err)
	}

	text := fmt.Sprintf("Write the weekly report for %s to %s: %d pipeline runs (%d accepted, %d escalated, %d aborted) and %d buzz events.",
		start.Format(time.DateOnly), end.Format(time.DateOnly),
		len(summaries), counts["accepted"], counts["escalated"], counts["aborted"], len(events))
	msg := task.UserMessage(
		task.TextPart(text),
		task.DataPart(map[string]any{
			"period_start": start,
			"period_end":   end,
			"runs":         summaries,
			"buzz":         events,
		}),
	)

	t, err := r.agents.Call(ctx, r.agent, msg)
	if err != nil {
		return nil, fmt.Errorf("report agent %s: %w", r.agent, err)
	}
	r.out.publish(ctx, messagequeue.SubjectReport, messagequeue.ReportPayload{
		Agent:  r.agent,
		TaskID: t.ID,
		State:  string(t.Status.State),
		Text:   t.Text(),
		SentAt: end,
	})
	if t.Status.State != task.StateCompleted {
		return t, fmt.Errorf("report task %s %s: %w", t.ID, t.Status.State, domain.ErrBackend)
	}
	r.out.notify(ctx, notifier.Notification{
		Title:   "Weekly report",
		Message: excerpt(t.Text(), 1500),
		Level:   notifier.LevelInfo,
		Source:  SourceReport,
	})
	slog.InfoContext(ctx, "weekly report sent", "agent", r.agent, "task_id", t.ID, "runs", len(summaries), "buzz", len(events))
	return t, nil
}
