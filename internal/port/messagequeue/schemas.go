package messagequeue

import "time"

// RunFinishedPayload is the schema for runs.finished messages.
type RunFinishedPayload struct {
	RunID      string    `json:"run_id"`
	Theme      string    `json:"theme"`
	TemplateID string    `json:"template_id"`
	Trigger    string    `json:"trigger,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Iterations int       `json:"iterations"`
	Scores     []float64 `json:"scores"`
	Artifact   string    `json:"artifact,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// BuzzDetectedPayload is the schema for buzz.detected messages.
type BuzzDetectedPayload struct {
	EntityID      string    `json:"entity_id"`
	EntityName    string    `json:"entity_name,omitempty"`
	ObservationID string    `json:"observation_id"`
	Likes         int64     `json:"likes"`
	Retweets      int64     `json:"retweets"`
	Ratio         float64   `json:"ratio"`
	Score         float64   `json:"score"`
	Reason        string    `json:"reason"`
	URL           string    `json:"url,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// TriggerFiredPayload is the schema for scheduler.fired.{trigger} messages.
type TriggerFiredPayload struct {
	Trigger  string        `json:"trigger"`
	Manual   bool          `json:"manual"`
	Skipped  bool          `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	FiredAt  time.Time     `json:"fired_at"`
}

// ReportPayload is the schema for scheduler.report messages.
type ReportPayload struct {
	Agent  string    `json:"agent"`
	TaskID string    `json:"task_id"`
	State  string    `json:"state"`
	Text   string    `json:"text,omitempty"`
	SentAt time.Time `json:"sent_at"`
}
