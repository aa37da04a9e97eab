package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/flowd/internal/event"
)

func TestEchoEngine(t *testing.T) {
	engine := EchoEngine{}

	var events []*event.Event
	for ev, err := range engine.Generate(context.Background(), Request{
		InvocationID: "inv-1",
		Stage:        "generator",
		Instruction:  "Write a course outline.",
		Message:      "Create a course on the history of Coffee.",
	}) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, "generator", events[0].Author)
	assert.Equal(t, "inv-1", events[0].InvocationID)
	assert.Contains(t, events[0].Text(), "Write a course outline.")
	assert.Contains(t, events[0].Text(), "history of Coffee")
	assert.False(t, events[0].Actions.Escalate)
}

func TestEchoEngine_MessageOnly(t *testing.T) {
	engine := EchoEngine{}

	for ev, err := range engine.Generate(context.Background(), Request{
		InvocationID: "inv-1",
		Stage:        "generator",
		Message:      "hello",
	}) {
		require.NoError(t, err)
		assert.Equal(t, "hello", ev.Text())
	}
}
