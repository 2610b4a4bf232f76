package schedule

import "time"

// TriggerStatus is the reported state of one trigger.
type TriggerStatus struct {
	Name         string        `json:"name"`
	Kind         Kind          `json:"kind"`
	Spec         string        `json:"spec"`
	Running      bool          `json:"running"`
	LastFiredAt  time.Time     `json:"last_fired_at,omitzero"`
	NextFireAt   time.Time     `json:"next_fire_at,omitzero"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Fired        int           `json:"fired"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
}

// State is a point-in-time snapshot of the scheduler.
type State struct {
	Running   bool            `json:"running"`
	StartedAt time.Time       `json:"started_at,omitzero"`
	Location  string          `json:"location"`
	Quota     Quota           `json:"quota"`
	Remaining int             `json:"remaining"`
	Triggers  []TriggerStatus `json:"triggers"`
}

// Trigger returns the status of the named trigger.
func (s *State) Trigger(name string) (TriggerStatus, bool) {
	for _, t := range s.Triggers {
		if t.Name == name {
			return t, true
		}
	}
	return TriggerStatus{}, false
}
