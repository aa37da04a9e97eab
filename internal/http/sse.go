package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/session"
	"github.com/fyrsmithlabs/flowd/internal/stream"
)

// handleRunSSE runs the configured pipeline against a session and streams
// its events as Server-Sent Events. The connection stays open until the run
// completes, fails, or the client disconnects.
//
// Example:
//
//	GET /api/v1/run_sse?app=courses&user=u-1&session=s-1&message=...
//
//	data: {"author":"generator","text":"..."}
//
//	data: {"author":"approval","text":"pass","escalate":true}
//
// The stream ends with the connection closing; no trailing frame follows a
// completed run.
func (s *Server) handleRunSSE(c echo.Context) error {
	key := session.Key{
		AppName:   c.QueryParam("app"),
		UserID:    c.QueryParam("user"),
		SessionID: c.QueryParam("session"),
	}
	if err := key.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	message := c.QueryParam("message")
	if message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message query parameter is required")
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)

	ctx := logging.WithSessionID(c.Request().Context(), key.SessionID)
	transport := &sseTransport{
		response: c.Response(),
		done:     ctx.Done(),
	}

	events := s.runner.Run(ctx, s.root, key, message)
	if err := s.bridge.Serve(ctx, events, transport); err != nil {
		// The bridge has already framed the failure; nothing useful can be
		// written to the response at this point.
		s.logger.Warn(ctx, "sse run ended with error", zap.Error(err))
	}
	return nil
}

// sseTransport adapts an echo response to the bridge's transport. Each frame
// becomes one SSE record, flushed immediately.
type sseTransport struct {
	mu       sync.Mutex
	response *echo.Response
	done     <-chan struct{}
}

func (t *sseTransport) Send(frame *stream.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("http: encode frame: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.response, "data: %s\n\n", data); err != nil {
		return err
	}
	t.response.Flush()
	return nil
}

func (t *sseTransport) Done() <-chan struct{} { return t.done }
