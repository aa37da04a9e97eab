// Package stream bridges a lazy pipeline event sequence onto a streaming
// transport. Each event becomes exactly one frame, delivered in production
// order; the bridge owns keep-alives, terminal error framing, and cooperative
// shutdown when the client goes away.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/event"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/pipeline"
)

// DefaultKeepAliveInterval is the idle interval between keep-alive frames.
const DefaultKeepAliveInterval = 15 * time.Second

// Frame is the wire unit the bridge emits. Exactly one frame per pipeline
// event, plus keep-alive frames while the pipeline is quiet. Final marks a
// terminal error frame; normal exhaustion sends no extra frame.
type Frame struct {
	Author            string   `json:"author,omitempty"`
	Text              string   `json:"text,omitempty"`
	FunctionCalls     []string `json:"function_calls,omitempty"`
	FunctionResponses []string `json:"function_responses,omitempty"`
	Escalate          bool     `json:"escalate,omitempty"`
	// JudgeOutput carries the status-key value when this event changed it.
	JudgeOutput any    `json:"judge_output,omitempty"`
	Error       string `json:"error,omitempty"`
	KeepAlive   bool   `json:"keep_alive,omitempty"`
	Final       bool   `json:"final,omitempty"`
}

// Transport is the client-facing half of the bridge. Send must be safe for
// the bridge's single-writer discipline (the bridge serializes its own
// calls); Done is closed when the client is gone and the bridge should stop
// pulling events.
type Transport interface {
	Send(frame *Frame) error
	Done() <-chan struct{}
}

// Options configures a Bridge.
type Options struct {
	// StatusKey is the state key whose changes are surfaced on frames.
	// Defaults to the pipeline's checker default.
	StatusKey string
	// KeepAliveInterval bounds client-visible silence. Zero means the
	// default; negative disables keep-alives.
	KeepAliveInterval time.Duration
}

// Bridge converts pipeline event sequences into transport frames.
type Bridge struct {
	statusKey string
	keepAlive time.Duration
	logger    *logging.Logger
	metrics   *Metrics
}

// NewBridge creates a bridge. metrics may be nil when unobserved.
func NewBridge(opts Options, logger *logging.Logger, metrics *Metrics) *Bridge {
	if opts.StatusKey == "" {
		opts.StatusKey = pipeline.DefaultStatusKey
	}
	if opts.KeepAliveInterval == 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Bridge{
		statusKey: opts.StatusKey,
		keepAlive: opts.KeepAliveInterval,
		logger:    logger,
		metrics:   metrics,
	}
}

// Serve drains events onto t, one frame per event. It returns when the
// sequence is exhausted (nothing further is transmitted; closing the
// transport is the caller's concern), when an error event has been framed,
// or when the client disconnects. Disconnection is checked at event
// boundaries only; an in-flight delegation is not preempted.
//
// A sequence error (as opposed to an error event) is framed once as a
// terminal error and returned to the caller.
func (b *Bridge) Serve(ctx context.Context, events iter.Seq2[*event.Event, error], t Transport) error {
	w := &frameWriter{transport: t, metrics: b.metrics}

	stopKeepAlive := b.startKeepAlive(w)
	defer stopKeepAlive()

	var lastStatus []byte
	for ev, err := range events {
		select {
		case <-t.Done():
			b.logger.Debug(ctx, "client disconnected, stopping event pull")
			if b.metrics != nil {
				b.metrics.DisconnectsTotal.Inc()
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// The sequence itself failed; surface exactly one error frame
			// and end the stream.
			_ = w.send(&Frame{Error: err.Error(), Final: true}, frameTypeError)
			return err
		}

		frame := b.frameFor(ev, &lastStatus)
		if sendErr := w.send(frame, frameTypeEvent); sendErr != nil {
			b.logger.Debug(ctx, "frame send failed, stopping event pull", zap.Error(sendErr))
			if b.metrics != nil {
				b.metrics.DisconnectsTotal.Inc()
			}
			return nil
		}
		if ev.IsError() {
			// The terminal error event was already framed; nothing follows it.
			return nil
		}
	}

	return nil
}

// frameFor maps one event to its frame. The status value is attached only
// when this event's delta changed it, compared by canonical JSON bytes.
func (b *Bridge) frameFor(ev *event.Event, lastStatus *[]byte) *Frame {
	frame := &Frame{
		Author:            ev.Author,
		Text:              ev.Text(),
		FunctionCalls:     ev.FunctionCallNames(),
		FunctionResponses: ev.FunctionResponseNames(),
		Escalate:          ev.Actions.Escalate,
		Error:             ev.ErrorMessage,
		Final:             ev.IsError(),
	}
	if val, ok := ev.Actions.StateDelta[b.statusKey]; ok {
		encoded, err := json.Marshal(val)
		if err == nil && !bytes.Equal(encoded, *lastStatus) {
			frame.JudgeOutput = val
			*lastStatus = encoded
		}
	}
	return frame
}

// startKeepAlive emits keep-alive frames on the configured interval until
// the returned stop function runs. The frameWriter serializes these with
// event frames.
func (b *Bridge) startKeepAlive(w *frameWriter) func() {
	if b.keepAlive < 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(b.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.send(&Frame{KeepAlive: true}, frameTypeKeepAlive); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// frameWriter serializes frame delivery between the event loop and the
// keep-alive ticker.
type frameWriter struct {
	mu        sync.Mutex
	transport Transport
	metrics   *Metrics
}

func (w *frameWriter) send(frame *Frame, frameType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.transport.Send(frame); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.FramesTotal.WithLabelValues(frameType).Inc()
	}
	return nil
}
