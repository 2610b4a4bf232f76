// Package task defines the Task domain entity shared by every agent runtime.
// States and roles use the A2A protocol vocabulary.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/Strob0t/BuzzForge/internal/domain"
)

// State is the lifecycle state of a task.
type State = a2a.TaskState

const (
	StateSubmitted = a2a.TaskStateSubmitted
	StateWorking   = a2a.TaskStateWorking
	StateCompleted = a2a.TaskStateCompleted
	StateFailed    = a2a.TaskStateFailed
	StateCanceled  = a2a.TaskStateCanceled
)

// Part kinds.
const (
	PartText = "text"
	PartData = "data"
	PartFile = "file"
)

// Error codes recorded on failed or canceled tasks.
const (
	CodeTimeout  = "timeout"
	CodeBackend  = "backend_error"
	CodeCanceled = "canceled"
)

// ArtifactResponse is the name of the artifact produced by a completed task.
const ArtifactResponse = "response"

// ErrInvalidTransition is returned when a state change would move a task
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid task state transition")

// Part is the smallest unit of message content.
type Part struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
	File *File          `json:"file,omitempty"`
}

// File is a file reference carried in a part.
type File struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// DataPart builds a structured data part.
func DataPart(data map[string]any) Part { return Part{Type: PartData, Data: data} }

// Message is one conversational turn: a role and an ordered list of parts.
type Message struct {
	Role  a2a.MessageRole `json:"role"`
	Parts []Part          `json:"parts"`
}

// UserMessage builds a user message from parts.
func UserMessage(parts ...Part) Message {
	return Message{Role: a2a.MessageRoleUser, Parts: parts}
}

// Validate reports ErrInvalidInput when the message carries no text or data.
func (m *Message) Validate() error {
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			if strings.TrimSpace(p.Text) != "" {
				return nil
			}
		case PartData:
			if len(p.Data) > 0 {
				return nil
			}
		}
	}
	return fmt.Errorf("message has no text or data parts: %w", domain.ErrInvalidInput)
}

// Prompt flattens the message into the text handed to a generation backend.
// Text parts are kept in order; data parts are rendered as JSON.
func (m Message) Prompt() string {
	var b strings.Builder
	for _, p := range m.Parts {
		var chunk string
		switch p.Type {
		case PartText:
			chunk = p.Text
		case PartData:
			raw, err := json.Marshal(p.Data)
			if err != nil {
				continue
			}
			chunk = string(raw)
		default:
			continue
		}
		if chunk == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(chunk)
	}
	return b.String()
}

// Status is the current state plus an optional agent message.
type Status struct {
	State     State     `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is an output produced by a completed task.
type Artifact struct {
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
}

// Error describes why a task failed or was canceled.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is a unit of work owned by one agent runtime.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId,omitempty"`
	Status    Status     `json:"status"`
	Artifacts []Artifact `json:"artifacts"`
	History   []Message  `json:"history"`
	Error     *Error     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// New creates a task in the submitted state.
func New(id, contextID string, msg Message, now time.Time) *Task {
	return &Task{
		ID:        id,
		ContextID: contextID,
		Status:    Status{State: StateSubmitted, Timestamp: now},
		Artifacts: []Artifact{},
		History:   []Message{msg},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether no further transition can leave s.
func IsTerminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

func allowed(from, to State) bool {
	switch from {
	case StateSubmitted:
		return to == StateWorking || to == StateCanceled
	case StateWorking:
		return to == StateCompleted || to == StateFailed || to == StateCanceled
	}
	return false
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool { return IsTerminal(t.Status.State) }

// Input returns the submitted message.
func (t *Task) Input() Message {
	if len(t.History) == 0 {
		return Message{}
	}
	return t.History[0]
}

func (t *Task) transition(to State, msg *Message, now time.Time) error {
	if !allowed(t.Status.State, to) {
		return fmt.Errorf("%s -> %s: %w", t.Status.State, to, ErrInvalidTransition)
	}
	t.Status = Status{State: to, Message: msg, Timestamp: now}
	t.UpdatedAt = now
	if msg != nil {
		t.History = append(t.History, *msg)
	}
	return nil
}

// Start moves a submitted task to working.
func (t *Task) Start(now time.Time) error {
	return t.transition(StateWorking, nil, now)
}

// Complete moves a working task to completed and attaches the response artifact.
func (t *Task) Complete(text string, now time.Time) error {
	return t.CompleteWithData(text, nil, now)
}

// CompleteWithData is Complete with a structured data part appended to the
// response artifact when data is non-empty.
func (t *Task) CompleteWithData(text string, data map[string]any, now time.Time) error {
	msg := &Message{Role: a2a.MessageRoleAgent, Parts: []Part{TextPart(text)}}
	if err := t.transition(StateCompleted, msg, now); err != nil {
		return err
	}
	parts := []Part{TextPart(text)}
	if len(data) > 0 {
		parts = append(parts, DataPart(data))
	}
	t.Artifacts = []Artifact{{Name: ArtifactResponse, Parts: parts}}
	return nil
}

// Fail moves a working task to failed with the given error detail.
func (t *Task) Fail(code, detail string, now time.Time) error {
	msg := &Message{Role: a2a.MessageRoleAgent, Parts: []Part{TextPart("Error: " + detail)}}
	if err := t.transition(StateFailed, msg, now); err != nil {
		return err
	}
	t.Error = &Error{Code: code, Message: detail}
	return nil
}

// Cancel moves a non-terminal task to canceled.
func (t *Task) Cancel(now time.Time) error {
	if err := t.transition(StateCanceled, nil, now); err != nil {
		return err
	}
	t.Error = &Error{Code: CodeCanceled, Message: "canceled by caller"}
	return nil
}

// Text returns the first text found in the artifacts, falling back to the
// status message.
func (t *Task) Text() string {
	for _, a := range t.Artifacts {
		for _, p := range a.Parts {
			if p.Type == PartText && p.Text != "" {
				return p.Text
			}
		}
	}
	if t.Status.Message != nil {
		for _, p := range t.Status.Message.Parts {
			if p.Type == PartText && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

// Data returns the first structured data part found in the artifacts.
func (t *Task) Data() map[string]any {
	for _, a := range t.Artifacts {
		for _, p := range a.Parts {
			if p.Type == PartData && p.Data != nil {
				return p.Data
			}
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate the owner's record.
func (t *Task) Clone() *Task {
	c := *t
	if t.Status.Message != nil {
		m := cloneMessage(*t.Status.Message)
		c.Status.Message = &m
	}
	c.Artifacts = make([]Artifact, len(t.Artifacts))
	for i, a := range t.Artifacts {
		c.Artifacts[i] = Artifact{Name: a.Name, Parts: cloneParts(a.Parts)}
	}
	c.History = make([]Message, len(t.History))
	for i, m := range t.History {
		c.History[i] = cloneMessage(m)
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return &c
}

func cloneMessage(m Message) Message {
	return Message{Role: m.Role, Parts: cloneParts(m.Parts)}
}

func cloneParts(parts []Part) []Part {
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p
		if p.Data != nil {
			d := make(map[string]any, len(p.Data))
			for k, v := range p.Data {
				d[k] = v
			}
			out[i].Data = d
		}
		if p.File != nil {
			f := *p.File
			out[i].File = &f
		}
	}
	return out
}

// SendRequest is the body of a task submission.
type SendRequest struct {
	ID        string  `json:"id,omitempty"`
	ContextID string  `json:"contextId,omitempty"`
	Message   Message `json:"message"`
}
