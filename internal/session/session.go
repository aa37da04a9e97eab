// Package session holds the shared, run-scoped mutable store for one
// (app, user, session) triple: an ordered key/value state map plus an
// append-only event log. Sessions are mutated only by the pipeline runner
// applying event effects; stages never write them directly.
package session

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/event"
)

// Key identifies a session.
type Key struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Validate checks that all key components are present.
func (k Key) Validate() error {
	if k.AppName == "" {
		return fmt.Errorf("session: app name is required")
	}
	if k.UserID == "" {
		return fmt.Errorf("session: user id is required")
	}
	if k.SessionID == "" {
		return fmt.Errorf("session: session id is required")
	}
	return nil
}

// String renders the key for logging.
func (k Key) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// Session is the state and event log for one key. State is last-write-wins
// per key; Events is append-only in causal production order, never reordered
// and never pruned within a run.
type Session struct {
	Key       Key            `json:"key"`
	State     map[string]any `json:"state"`
	Events    []*event.Event `json:"events"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
