// Package pipeline defines content-generation pipeline templates and the
// PipelineRun that tracks one execution of the review/improve loop.
// Templates are YAML definitions: generation stages wired by dependencies,
// plus the review and improve stages that form the quality gate.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNameRequired      = errors.New("template name is required")
	ErrIDRequired        = errors.New("template id is required")
	ErrNoStages          = errors.New("template must have at least one stage")
	ErrStageMissingName  = errors.New("stage name is required")
	ErrStageMissingAgent = errors.New("stage agent is required")
	ErrDuplicateStage    = errors.New("stage names must be unique")
	ErrReviewRequired    = errors.New("review agent is required")
	ErrImproveRequired   = errors.New("improve agent is required")
	ErrDAGCycle          = errors.New("stage dependencies contain a cycle")
	ErrDAGInvalidRef     = errors.New("stage dependency references invalid index")
)

// Template defines a reusable pipeline structure.
type Template struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Builtin     bool     `json:"builtin" yaml:"-"`
	MaxParallel int      `json:"max_parallel" yaml:"max_parallel"`
	Stages      []Stage  `json:"stages" yaml:"stages"`
	Review      StageRef `json:"review" yaml:"review"`
	Improve     StageRef `json:"improve" yaml:"improve"`
}

// Stage is one generation call. Stages without dependencies receive only the
// theme; the others receive the outputs of the stages they depend on.
type Stage struct {
	Name        string `json:"name" yaml:"name"`
	Agent       string `json:"agent" yaml:"agent"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	DependsOn   []int  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// StageRef names the agent serving the review or improve stage.
type StageRef struct {
	Agent       string `json:"agent" yaml:"agent"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
}

// Validate checks the template for structural correctness.
func (t *Template) Validate() error {
	if t.ID == "" {
		return ErrIDRequired
	}
	if t.Name == "" {
		return ErrNameRequired
	}
	if len(t.Stages) == 0 {
		return ErrNoStages
	}

	names := make(map[string]bool, len(t.Stages))
	for i, s := range t.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d: %w", i, ErrStageMissingName)
		}
		if s.Agent == "" {
			return fmt.Errorf("stage %d: %w", i, ErrStageMissingAgent)
		}
		if names[s.Name] {
			return fmt.Errorf("stage %q: %w", s.Name, ErrDuplicateStage)
		}
		names[s.Name] = true
	}
	if t.Review.Agent == "" {
		return ErrReviewRequired
	}
	if t.Improve.Agent == "" {
		return ErrImproveRequired
	}

	_, err := t.Phases()
	return err
}

// Agents returns every agent name the template references, in stage order.
func (t *Template) Agents() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range t.Stages {
		add(s.Agent)
	}
	add(t.Review.Agent)
	add(t.Improve.Agent)
	return out
}

// Phases groups stage indexes into dependency layers using Kahn's algorithm.
// Every stage in a phase depends only on stages from earlier phases, so a
// phase can be dispatched concurrently. Indexes within a phase are ascending.
func (t *Template) Phases() ([][]int, error) {
	n := len(t.Stages)
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i, s := range t.Stages {
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= n {
				return nil, fmt.Errorf("stage %d depends on %d: %w", i, dep, ErrDAGInvalidRef)
			}
			if dep == i {
				return nil, fmt.Errorf("stage %d depends on itself: %w", i, ErrDAGCycle)
			}
			adj[dep] = append(adj[dep], i)
			inDegree[i]++
		}
	}

	var layer []int
	for i, d := range inDegree {
		if d == 0 {
			layer = append(layer, i)
		}
	}

	var phases [][]int
	visited := 0
	for len(layer) > 0 {
		phases = append(phases, layer)
		visited += len(layer)
		var next []int
		for _, node := range layer {
			for _, neighbor := range adj[node] {
				inDegree[neighbor]--
				if inDegree[neighbor] == 0 {
					next = append(next, neighbor)
				}
			}
		}
		slices.Sort(next)
		layer = next
	}

	if visited != n {
		return nil, ErrDAGCycle
	}
	return phases, nil
}

// Sinks returns the indexes of stages no other stage depends on. Their
// outputs form the draft handed to the first review.
func (t *Template) Sinks() []int {
	used := make([]bool, len(t.Stages))
	for _, s := range t.Stages {
		for _, dep := range s.DependsOn {
			if dep >= 0 && dep < len(used) {
				used[dep] = true
			}
		}
	}
	var out []int
	for i, u := range used {
		if !u {
			out = append(out, i)
		}
	}
	return out
}
