package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusAccepted  Status = "accepted"
	StatusEscalated Status = "escalated"
	StatusAborted   Status = "aborted"
)

// Escalation reasons.
const (
	ReasonMaxIterations = "max_iterations"
	ReasonTimeout       = "timeout"
	ReasonStageFailed   = "stage_failed"
)

// Default loop policy.
const (
	DefaultThreshold     = 90
	DefaultMaxIterations = 3
)

// Decision is the outcome of recording a review.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionImprove
	DecisionEscalate
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionImprove:
		return "improve"
	case DecisionEscalate:
		return "escalate"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// ErrRunFinished is returned when a finished run is mutated.
var ErrRunFinished = errors.New("pipeline run already finished")

// Policy bounds the review/improve loop.
type Policy struct {
	Threshold     float64 `json:"threshold"`
	MaxIterations int     `json:"max_iterations"`
}

// DefaultPolicy returns threshold 90 with at most 3 reviews.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, MaxIterations: DefaultMaxIterations}
}

// StageOutput records the result of one generation stage.
type StageOutput struct {
	Phase  int    `json:"phase"`
	Stage  string `json:"stage"`
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
}

// Review is one scored review of the current artifact.
type Review struct {
	Iteration int                `json:"iteration"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
	Verdict   Verdict            `json:"verdict"`
	Feedback  string             `json:"feedback,omitempty"`
	TaskID    string             `json:"task_id,omitempty"`
	At        time.Time          `json:"at"`
}

// Run is one execution of a pipeline for a single theme.
type Run struct {
	ID         string        `json:"id"`
	Theme      string        `json:"theme"`
	TemplateID string        `json:"template_id"`
	Trigger    string        `json:"trigger,omitempty"`
	Status     Status        `json:"status"`
	Policy     Policy        `json:"policy"`
	Artifact   string        `json:"artifact"`
	Stages     []StageOutput `json:"stages"`
	Iteration  int           `json:"iteration"`
	Reviews    []Review      `json:"reviews"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

// NewRun creates a running Run. A policy allowing fewer than one review is
// raised to one.
func NewRun(id, theme, templateID string, p Policy, now time.Time) *Run {
	if p.MaxIterations < 1 {
		p.MaxIterations = 1
	}
	return &Run{
		ID:         id,
		Theme:      theme,
		TemplateID: templateID,
		Status:     StatusRunning,
		Policy:     p,
		Stages:     []StageOutput{},
		Reviews:    []Review{},
		StartedAt:  now,
	}
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool { return r.Status != StatusRunning }

// Scores returns the score history in review order.
func (r *Run) Scores() []float64 {
	out := make([]float64, len(r.Reviews))
	for i, rv := range r.Reviews {
		out[i] = rv.Score
	}
	return out
}

// LatestScore returns the most recent review score.
func (r *Run) LatestScore() (float64, bool) {
	if len(r.Reviews) == 0 {
		return 0, false
	}
	return r.Reviews[len(r.Reviews)-1].Score, true
}

// LatestReview returns the most recent review, or nil.
func (r *Run) LatestReview() *Review {
	if len(r.Reviews) == 0 {
		return nil
	}
	return &r.Reviews[len(r.Reviews)-1]
}

// AddStage records a generation stage result.
func (r *Run) AddStage(out StageOutput) { r.Stages = append(r.Stages, out) }

// SetDraft sets the artifact produced by the generation phases.
func (r *Run) SetDraft(artifact string) { r.Artifact = artifact }

// RecordReview appends a review taken at the current iteration and decides
// what happens next. Scores equal to the threshold are accepted. The run
// escalates once MaxIterations reviews have been taken.
func (r *Run) RecordReview(rv Review, now time.Time) (Decision, error) {
	if r.Finished() {
		return DecisionEscalate, ErrRunFinished
	}
	rv.Iteration = r.Iteration
	rv.Verdict = VerdictFor(rv.Score, r.Policy.Threshold)
	r.Reviews = append(r.Reviews, rv)

	switch {
	case rv.Score >= r.Policy.Threshold:
		r.finish(StatusAccepted, "", now)
		return DecisionAccept, nil
	case r.Iteration+1 < r.Policy.MaxIterations:
		return DecisionImprove, nil
	default:
		r.finish(StatusEscalated, ReasonMaxIterations, now)
		return DecisionEscalate, nil
	}
}

// ApplyImprovement replaces the artifact and advances the iteration counter.
func (r *Run) ApplyImprovement(artifact string) error {
	if r.Finished() {
		return ErrRunFinished
	}
	if r.Iteration+1 >= r.Policy.MaxIterations {
		return fmt.Errorf("iteration %d would exceed max %d", r.Iteration+1, r.Policy.MaxIterations)
	}
	r.Artifact = artifact
	r.Iteration++
	return nil
}

// Escalate ends a running run as escalated with the given reason. The
// current artifact and score history are kept.
func (r *Run) Escalate(reason string, now time.Time) {
	if r.Finished() {
		return
	}
	r.finish(StatusEscalated, reason, now)
}

// Abort discards the run after a generation failure. No artifact survives.
func (r *Run) Abort(err error, now time.Time) {
	if r.Finished() {
		return
	}
	r.Artifact = ""
	for i := range r.Stages {
		r.Stages[i].Text = ""
	}
	if err != nil {
		r.Error = err.Error()
	}
	r.finish(StatusAborted, "", now)
}

func (r *Run) finish(s Status, reason string, now time.Time) {
	r.Status = s
	r.Reason = reason
	r.FinishedAt = now
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	c := *r
	c.Stages = slices.Clone(r.Stages)
	c.Reviews = make([]Review, len(r.Reviews))
	for i, rv := range r.Reviews {
		rv.Breakdown = maps.Clone(rv.Breakdown)
		c.Reviews[i] = rv
	}
	return &c
}
