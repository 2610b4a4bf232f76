// Package buzz defines monitored entities and the buzz detection rules:
// absolute and relative thresholds, composite ranking and rolling averages.
package buzz

import (
	"cmp"
	"slices"
	"time"
)

// Default detection parameters.
const (
	DefaultAbsolute      = 1000
	DefaultRatio         = 3.0
	DefaultMinEngagement = 100
	DefaultWindow        = 20

	likesWeight    = 0.7
	retweetsWeight = 0.3
)

// Flag reasons.
const (
	ReasonAbsolute = "absolute"
	ReasonRelative = "relative"
	ReasonBoth     = "absolute+relative"
)

// Observation is one metric reading for a piece of content.
type Observation struct {
	ID       string    `json:"id" yaml:"id"`
	EntityID string    `json:"entity_id" yaml:"entity_id"`
	Likes    int64     `json:"likes" yaml:"likes"`
	Retweets int64     `json:"retweets" yaml:"retweets"`
	Views    int64     `json:"views,omitempty" yaml:"views,omitempty"`
	URL      string    `json:"url,omitempty" yaml:"url,omitempty"`
	Text     string    `json:"text,omitempty" yaml:"text,omitempty"`
	PostedAt time.Time `json:"posted_at,omitzero" yaml:"posted_at,omitempty"`
}

// Sample is a non-buzz observation kept in an entity's rolling window.
type Sample struct {
	ID       string `json:"id"`
	Likes    int64  `json:"likes"`
	Retweets int64  `json:"retweets"`
}

// Entity is an account or channel tracked for buzz detection.
type Entity struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	Enabled       bool      `json:"enabled"`
	Threshold     float64   `json:"threshold,omitempty"` // absolute override; 0 uses the detector default
	AvgLikes      float64   `json:"avg_likes"`
	AvgRetweets   float64   `json:"avg_retweets"`
	Window        []Sample  `json:"window"`
	FlaggedCount  int       `json:"flagged_count"`
	LastCheckedAt time.Time `json:"last_checked_at,omitzero"`
}

// Event is a flagged observation ready for reporting.
type Event struct {
	EntityID      string    `json:"entity_id"`
	EntityName    string    `json:"entity_name,omitempty"`
	Category      string    `json:"category,omitempty"`
	ObservationID string    `json:"observation_id"`
	Likes         int64     `json:"likes"`
	Retweets      int64     `json:"retweets"`
	AvgLikes      float64   `json:"avg_likes"`
	Ratio         float64   `json:"ratio"`
	Score         float64   `json:"score"`
	Reason        string    `json:"reason"`
	URL           string    `json:"url,omitempty"`
	Text          string    `json:"text,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Key is the dedup key of the event.
func (e *Event) Key() string { return DedupKey(e.EntityID, e.ObservationID) }

// DedupKey joins entity and observation ids.
func DedupKey(entityID, observationID string) string {
	return entityID + "/" + observationID
}

// Thresholds configure the flag decision.
type Thresholds struct {
	Absolute      float64 `json:"absolute"`
	Ratio         float64 `json:"ratio"`
	MinEngagement float64 `json:"min_engagement"`
}

// DefaultThresholds returns the stock detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Absolute: DefaultAbsolute, Ratio: DefaultRatio, MinEngagement: DefaultMinEngagement}
}

// Detector applies the flag rules. It holds no mutable state.
type Detector struct {
	th     Thresholds
	window int
}

// NewDetector creates a detector. A non-positive window uses DefaultWindow.
func NewDetector(th Thresholds, window int) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{th: th, window: window}
}

// Flag decides whether value v is buzz for an entity with average avg.
// A non-positive average never satisfies the relative check.
func (d *Detector) Flag(v, avg, absolute float64) (bool, string) {
	if absolute <= 0 {
		absolute = d.th.Absolute
	}
	if v < d.th.MinEngagement {
		return false, ""
	}
	abs := absolute > 0 && v >= absolute
	rel := avg > 0 && d.th.Ratio > 0 && v >= d.th.Ratio*avg
	switch {
	case abs && rel:
		return true, ReasonBoth
	case abs:
		return true, ReasonAbsolute
	case rel:
		return true, ReasonRelative
	}
	return false, ""
}

// CompositeScore ranks flagged content. When retweet data is unavailable
// the likes ratio alone is used; without a likes average the score is 0.
func CompositeScore(likes, retweets int64, avgLikes, avgRetweets float64) float64 {
	if avgLikes <= 0 {
		return 0
	}
	likesRatio := float64(likes) / avgLikes
	if avgRetweets <= 0 {
		return likesRatio
	}
	return likesWeight*likesRatio + retweetsWeight*(float64(retweets)/avgRetweets)
}

// Evaluate classifies a batch of observations for one entity against the
// averages the entity held before the batch. It returns the flagged
// candidates (not yet deduplicated) and the entity with its rolling window
// and averages recomputed from the non-buzz observations.
func (d *Detector) Evaluate(e Entity, obs []Observation, now time.Time) ([]Event, Entity) {
	var events []Event
	var quiet []Sample
	for _, o := range obs {
		flagged, reason := d.Flag(float64(o.Likes), e.AvgLikes, e.Threshold)
		if !flagged {
			quiet = append(quiet, Sample{ID: o.ID, Likes: o.Likes, Retweets: o.Retweets})
			continue
		}
		ratio := 0.0
		if e.AvgLikes > 0 {
			ratio = float64(o.Likes) / e.AvgLikes
		}
		events = append(events, Event{
			EntityID:      e.ID,
			EntityName:    e.Name,
			Category:      e.Category,
			ObservationID: o.ID,
			Likes:         o.Likes,
			Retweets:      o.Retweets,
			AvgLikes:      e.AvgLikes,
			Ratio:         ratio,
			Score:         CompositeScore(o.Likes, o.Retweets, e.AvgLikes, e.AvgRetweets),
			Reason:        reason,
			URL:           o.URL,
			Text:          o.Text,
			DetectedAt:    now,
		})
	}

	next := e
	next.Window = mergeWindow(e.Window, quiet, d.window)
	next.AvgLikes, next.AvgRetweets = averages(next.Window)
	next.LastCheckedAt = now
	return events, next
}

// mergeWindow upserts samples by id, keeping the most recent limit entries.
func mergeWindow(window, add []Sample, limit int) []Sample {
	out := make([]Sample, 0, len(window)+len(add))
	out = append(out, window...)
	for _, s := range add {
		if i := slices.IndexFunc(out, func(x Sample) bool { return x.ID == s.ID }); i >= 0 {
			out = slices.Delete(out, i, i+1)
		}
		out = append(out, s)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func averages(window []Sample) (likes, retweets float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var l, r int64
	for _, s := range window {
		l += s.Likes
		r += s.Retweets
	}
	n := float64(len(window))
	return float64(l) / n, float64(r) / n
}

// Rank orders events by composite score, then likes, highest first.
func Rank(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.Likes, a.Likes)
	})
}

// Top returns the first n events after ranking. n <= 0 returns all.
func Top(events []Event, n int) []Event {
	ranked := slices.Clone(events)
	Rank(ranked)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Clone returns a copy of the entity that shares no window storage.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Window = slices.Clone(e.Window)
	return &c
}
