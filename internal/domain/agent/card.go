// Package agent defines the AgentCard: the static self-description an agent
// runtime publishes for capability discovery.
package agent

import (
	"errors"
	"slices"

	"github.com/a2aproject/a2a-go/a2a"
)

var (
	ErrNameRequired = errors.New("agent card name is required")
	ErrURLRequired  = errors.New("agent card url is required")
)

// Capabilities declares optional protocol features.
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// Card is immutable after process start.
type Card struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	URL          string           `json:"url"`
	Version      string           `json:"version"`
	Capabilities Capabilities     `json:"capabilities"`
	Skills       []a2a.AgentSkill `json:"skills"`
}

// Validate checks the required fields.
func (c *Card) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.URL == "" {
		return ErrURLRequired
	}
	return nil
}

// HasSkill reports whether any skill matches by id or tag.
func (c *Card) HasSkill(name string) bool {
	for i := range c.Skills {
		if c.Skills[i].ID == name || slices.Contains(c.Skills[i].Tags, name) {
			return true
		}
	}
	return false
}

// Tags returns the de-duplicated skill ids and tags in declaration order.
func (c *Card) Tags() []string {
	var out []string
	for i := range c.Skills {
		for _, t := range append([]string{c.Skills[i].ID}, c.Skills[i].Tags...) {
			if t != "" && !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}
