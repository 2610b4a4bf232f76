package ws

import "time"

// Event type constants for WebSocket messages.
const (
	EventRunStarted   = "run.started"
	EventRunStage     = "run.stage"
	EventRunReview    = "run.review"
	EventRunFinished  = "run.finished"
	EventBuzzDetected = "buzz.detected"
	EventTriggerFired = "trigger.fired"
)

// RunEvent is broadcast when a pipeline run starts or finishes.
type RunEvent struct {
	RunID   string    `json:"run_id"`
	Theme   string    `json:"theme"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	Scores  []float64 `json:"scores,omitempty"`
	Trigger string    `json:"trigger,omitempty"`
}

// StageEvent is broadcast when a generation stage completes.
type StageEvent struct {
	RunID  string `json:"run_id"`
	Phase  int    `json:"phase"`
	Stage  string `json:"stage"`
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
}

// ReviewEvent is broadcast after each review of a run.
type ReviewEvent struct {
	RunID     string  `json:"run_id"`
	Iteration int     `json:"iteration"`
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Decision  string  `json:"decision"`
}

// TriggerEvent is broadcast after every scheduler firing, skipped ones included.
type TriggerEvent struct {
	Trigger  string        `json:"trigger"`
	Manual   bool          `json:"manual"`
	Skipped  bool          `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
