// Package reasoning defines the external reasoning capability that leaf
// stages delegate to. The core never implements a real model client; the
// engine is deployment wiring. EchoEngine exists so the shipped binary can
// run end to end without one.
package reasoning

import (
	"context"
	"iter"

	"github.com/fyrsmithlabs/flowd/internal/event"
	"github.com/fyrsmithlabs/flowd/internal/session"
)

// Request carries the prompt context and a read-only state snapshot for one
// leaf delegation.
type Request struct {
	SessionKey   session.Key
	InvocationID string
	// Stage is the name of the delegating leaf; produced events are
	// attributed to it.
	Stage string
	// Instruction is the leaf's standing prompt.
	Instruction string
	// Message is the user input that started the run.
	Message string
	// State is a snapshot of session state at the delegation boundary.
	// Engines must treat it as read-only.
	State map[string]any
}

// Engine asynchronously produces zero or more events for a request. The
// sequence is lazy and finite; it may fail mid-sequence by yielding a
// non-nil error, after which no further events follow. Events may carry
// function calls and responses for any sub-capabilities the engine invoked.
type Engine interface {
	Generate(ctx context.Context, req Request) iter.Seq2[*event.Event, error]
}

// EchoEngine is a development stand-in that yields one event repeating the
// instruction and message. It never merges structured output, so checker
// loops built on it run to exhaustion.
type EchoEngine struct{}

// Generate implements Engine.
func (EchoEngine) Generate(_ context.Context, req Request) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		text := req.Instruction
		if req.Message != "" {
			if text != "" {
				text += "\n\n"
			}
			text += req.Message
		}
		yield(event.NewText(req.InvocationID, req.Stage, event.RoleModel, text), nil)
	}
}
