// Package event defines the immutable event record produced by pipeline
// stages. Events are the unit everything downstream operates on: the runner
// applies their declared state effects, the session log appends them, and
// the stream bridge encodes them into frames.
package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored an event's content.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one element of an event's ordered content sequence.
// Only text parts are modeled; other representations pass through Raw.
type Part struct {
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Content is the structured payload of an event: a role tag plus an
// ordered sequence of parts. It may be absent on an event.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts,omitempty"`
}

// FunctionCall is a named external-capability invocation attached to an event.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is the result of a named external-capability invocation.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Actions carries the side effects an event declares.
//
// StateDelta holds key/value pairs the runner merges into session state
// before the event is handed to the caller (last-write-wins per key).
// Escalate signals the enclosing loop stage to terminate after this event.
type Actions struct {
	Escalate   bool           `json:"escalate,omitempty"`
	StateDelta map[string]any `json:"state_delta,omitempty"`
}

// Event is an immutable record produced by a stage. It belongs to exactly
// one invocation and is appended to the session log exactly once, in
// production order. Construct with New and do not mutate after production.
type Event struct {
	ID                string             `json:"id"`
	InvocationID      string             `json:"invocation_id"`
	Author            string             `json:"author"`
	Content           *Content           `json:"content,omitempty"`
	FunctionCalls     []FunctionCall     `json:"function_calls,omitempty"`
	FunctionResponses []FunctionResponse `json:"function_responses,omitempty"`
	Actions           Actions            `json:"actions,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// New creates an event attributed to author within an invocation.
func New(invocationID, author string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewText creates an event carrying a single text part.
func NewText(invocationID, author string, role Role, text string) *Event {
	ev := New(invocationID, author)
	ev.Content = &Content{Role: role, Parts: []Part{{Text: text}}}
	return ev
}

// NewError creates the synthetic terminal event the runner surfaces when a
// delegated capability call fails. It escalates so enclosing loops stop.
func NewError(invocationID, author string, err error) *Event {
	ev := New(invocationID, author)
	ev.ErrorMessage = err.Error()
	ev.Actions.Escalate = true
	return ev
}

// Text returns the concatenated text of all content parts.
func (e *Event) Text() string {
	if e.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range e.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// IsError reports whether this is a terminal error event.
func (e *Event) IsError() bool {
	return e.ErrorMessage != ""
}

// FunctionCallNames returns the names of attached function calls, in order.
func (e *Event) FunctionCallNames() []string {
	if len(e.FunctionCalls) == 0 {
		return nil
	}
	names := make([]string, len(e.FunctionCalls))
	for i, fc := range e.FunctionCalls {
		names[i] = fc.Name
	}
	return names
}

// FunctionResponseNames returns the names of attached function responses, in order.
func (e *Event) FunctionResponseNames() []string {
	if len(e.FunctionResponses) == 0 {
		return nil
	}
	names := make([]string, len(e.FunctionResponses))
	for i, fr := range e.FunctionResponses {
		names[i] = fr.Name
	}
	return names
}
