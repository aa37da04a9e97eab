package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/event"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/reasoning"
	"github.com/fyrsmithlabs/flowd/internal/session"
)

// Runner drives a root stage against a session for one invocation. Events
// are produced lazily; each event's declared state delta is merged and the
// event appended to the session log before the event is handed to the
// caller, so readers at an event boundary never observe stale state.
type Runner struct {
	sessions session.Service
	engine   reasoning.Engine
	logger   *logging.Logger
}

// NewRunner creates a runner over the given session store and engine.
func NewRunner(sessions session.Service, engine reasoning.Engine, logger *logging.Logger) (*Runner, error) {
	if sessions == nil {
		return nil, fmt.Errorf("pipeline: session service is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("pipeline: reasoning engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("pipeline: logger is required")
	}
	return &Runner{sessions: sessions, engine: engine, logger: logger}, nil
}

// invocation is the run-scoped context threaded through stage dispatch.
type invocation struct {
	id      string
	key     session.Key
	message string
}

// Run walks the stage tree and yields its events in depth-first production
// order. Cancellation is cooperative and checked at event boundaries only;
// an in-flight engine delegation is not preempted.
//
// A failed engine delegation surfaces as one synthetic terminal error event
// and ends the sequence; a session-store failure surfaces as an error.
func (r *Runner) Run(ctx context.Context, root *Stage, key session.Key, message string) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		if err := root.Validate(); err != nil {
			yield(nil, err)
			return
		}
		if err := key.Validate(); err != nil {
			yield(nil, err)
			return
		}
		if _, err := r.sessions.GetOrCreate(ctx, key); err != nil {
			yield(nil, fmt.Errorf("pipeline: load session: %w", err))
			return
		}

		inv := &invocation{id: uuid.NewString(), key: key, message: message}
		r.logger.Info(ctx, "pipeline run starting",
			zap.String("invocation_id", inv.id),
			zap.String("session", key.String()),
			zap.String("root_stage", root.Name),
		)

		for ev, err := range r.runStage(ctx, root, inv) {
			if err != nil {
				r.logger.Error(ctx, "pipeline run failed",
					zap.String("invocation_id", inv.id),
					zap.Error(err),
				)
				yield(nil, err)
				return
			}
			if len(ev.Actions.StateDelta) > 0 {
				if err := r.sessions.MergeState(ctx, key, ev.Actions.StateDelta); err != nil {
					yield(nil, fmt.Errorf("pipeline: merge state: %w", err))
					return
				}
			}
			if err := r.sessions.AppendEvent(ctx, key, ev); err != nil {
				yield(nil, fmt.Errorf("pipeline: append event: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
			if ev.IsError() {
				// The synthetic terminal event has been delivered; the run ends here.
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
		}

		r.logger.Info(ctx, "pipeline run complete", zap.String("invocation_id", inv.id))
	}
}

// runStage is the single dispatch over stage kinds.
func (r *Runner) runStage(ctx context.Context, st *Stage, inv *invocation) iter.Seq2[*event.Event, error] {
	switch st.Kind {
	case KindLeaf:
		return r.runLeaf(ctx, st, inv)
	case KindSequential:
		return r.runSequential(ctx, st, inv)
	case KindLoop:
		return r.runLoop(ctx, st, inv)
	case KindChecker:
		return r.runChecker(ctx, st, inv)
	default:
		return func(yield func(*event.Event, error) bool) {
			yield(nil, fmt.Errorf("pipeline: unknown stage kind %q", st.Kind))
		}
	}
}

// runLeaf delegates to the reasoning engine and forwards its events
// unmodified, except that the leaf's final event carries the stage output
// under OutputKey when one is declared. Delegation failure becomes a
// synthetic terminal error event; the runner does not retry (retries are
// structural, via loops).
func (r *Runner) runLeaf(ctx context.Context, st *Stage, inv *invocation) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		snapshot, err := r.stateSnapshot(ctx, inv.key)
		if err != nil {
			yield(nil, err)
			return
		}

		req := reasoning.Request{
			SessionKey:   inv.key,
			InvocationID: inv.id,
			Stage:        st.Name,
			Instruction:  st.Instruction,
			Message:      inv.message,
			State:        snapshot,
		}

		// One-event lookahead: the final event is only known once the
		// engine's sequence ends, and that is where the output key merges.
		var pending *event.Event
		for ev, err := range r.engine.Generate(ctx, req) {
			if err != nil {
				r.logger.Warn(ctx, "engine delegation failed",
					zap.String("invocation_id", inv.id),
					zap.String("stage", st.Name),
					zap.Error(err),
				)
				// Output produced before the failure still forwards; the
				// sequence never completed, so no output-key merge applies.
				if pending != nil && !yield(pending, nil) {
					return
				}
				yield(event.NewError(inv.id, st.Name, err), nil)
				return
			}
			if pending != nil && !yield(pending, nil) {
				return
			}
			pending = ev
		}
		if pending == nil {
			return
		}
		if st.OutputKey != "" {
			if pending.Actions.StateDelta == nil {
				pending.Actions.StateDelta = make(map[string]any, 1)
			}
			if _, declared := pending.Actions.StateDelta[st.OutputKey]; !declared {
				pending.Actions.StateDelta[st.OutputKey] = parseOutput(pending.Text())
			}
		}
		yield(pending, nil)
	}
}

// runSequential drains each child fully, in listed order, forwarding every
// child event and adding none of its own.
func (r *Runner) runSequential(ctx context.Context, st *Stage, inv *invocation) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for _, child := range st.SubStages {
			for ev, err := range r.runStage(ctx, child, inv) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
				if ev.IsError() {
					return
				}
			}
		}
	}
}

// runLoop runs its children as a sequential body up to MaxIterations times.
// Escalation is detected purely from forwarded events' escalate flag; the
// checker that sets it is the single source of truth for the decision.
// Exhausting the bound without escalation is not an error: control falls
// through to whatever follows the loop in its parent.
func (r *Runner) runLoop(ctx context.Context, st *Stage, inv *invocation) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for i := 0; i < st.MaxIterations; i++ {
			for _, child := range st.SubStages {
				for ev, err := range r.runStage(ctx, child, inv) {
					if err != nil {
						yield(nil, err)
						return
					}
					escalate := ev.Actions.Escalate
					isErr := ev.IsError()
					if !yield(ev, nil) {
						return
					}
					if isErr {
						return
					}
					if escalate {
						r.logger.Debug(ctx, "loop escalated",
							zap.String("invocation_id", inv.id),
							zap.String("loop", st.Name),
							zap.Int("iteration", i+1),
						)
						return
					}
				}
			}
		}
		r.logger.Warn(ctx, "loop exhausted without escalation",
			zap.String("invocation_id", inv.id),
			zap.String("loop", st.Name),
			zap.Int("max_iterations", st.MaxIterations),
		)
	}
}

// runChecker reads the status key and emits exactly one event: escalate
// when the most recent merge reads as a pass, continue otherwise. Missing
// or malformed status counts as a non-pass so the enclosing loop retries.
func (r *Runner) runChecker(ctx context.Context, st *Stage, inv *invocation) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		val, present, err := r.sessions.StateValue(ctx, inv.key, st.StatusKey)
		if err != nil {
			yield(nil, fmt.Errorf("pipeline: read status key %q: %w", st.StatusKey, err))
			return
		}
		ev := event.NewText(inv.id, st.Name, event.RoleModel, "fail")
		if present && isPass(val) {
			ev = event.NewText(inv.id, st.Name, event.RoleModel, "pass")
			ev.Actions.Escalate = true
		}
		yield(ev, nil)
	}
}

// stateSnapshot reads the session state at a delegation boundary. The store
// hands out snapshots, so the returned map is private to this delegation.
func (r *Runner) stateSnapshot(ctx context.Context, key session.Key) (map[string]any, error) {
	sess, err := r.sessions.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: snapshot session state: %w", err)
	}
	return sess.State, nil
}

// isPass interprets a merged status value. Accepted shapes: the string
// "pass", or a map with a "status" field equal to "pass".
func isPass(v any) bool {
	switch s := v.(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(s), "pass")
	case map[string]any:
		if status, ok := s["status"].(string); ok {
			return strings.EqualFold(strings.TrimSpace(status), "pass")
		}
	}
	return false
}

// parseOutput converts a stage's final text into the value merged under its
// output key: JSON when it parses, the raw string otherwise.
func parseOutput(text string) any {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return text
}
