package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

func TestAdapterLifecycle(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf, nil)
	bus := events.NewBus(nil)

	assert.False(t, a.IsConnected())
	assert.False(t, a.IsRunning())

	a.Connect(bus)
	require.NoError(t, a.Start())
	assert.True(t, a.IsConnected())
	assert.True(t, a.IsRunning())

	require.NoError(t, a.Stop())
	a.Disconnect()
	assert.False(t, a.IsConnected())
	assert.False(t, a.IsRunning())
}

func TestAdapterRendersEvents(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf, nil)
	bus := events.NewBus(nil)
	a.Connect(bus)
	require.NoError(t, a.Start())

	emitter := events.NewEmitter(bus)
	emitter.WorkflowStarted(2)
	emitter.AgentAdded(0, "planner", "Planner")
	emitter.UpdateAgentStatus(1, "planner", monitoring.StatusRunning)
	emitter.UpdateAgentStatus(1, "planner", monitoring.StatusCompleted)
	emitter.SeparatorAdd(1, "Phase 2")
	emitter.LoopState("planner", 1, 2)
	emitter.MessageLog("warn", "engine fallback")

	out := buf.String()
	assert.Contains(t, out, "workflow started (2 steps)")
	assert.Contains(t, out, "Planner")
	assert.Contains(t, out, "agent#1 running")
	assert.Contains(t, out, "agent#1 completed")
	assert.Contains(t, out, "Phase 2")
	assert.Contains(t, out, "loop planner iteration 1/2")
	assert.Contains(t, out, "engine fallback")
}

func TestAdapterIgnoresEventsWhenStopped(t *testing.T) {
	var buf bytes.Buffer
	a := New(&buf, nil)
	bus := events.NewBus(nil)
	a.Connect(bus)

	events.NewEmitter(bus).WorkflowStarted(1)
	assert.Empty(t, buf.String())
}

func TestRenderLogLine(t *testing.T) {
	assert.Contains(t, renderLogLine("=== Step one"), "Step one")
	assert.Contains(t, renderLogLine("[user:resume] retry it"), "retry it")
	assert.True(t, strings.Contains(renderLogLine("Thinking: hmm"), "hmm"))
	assert.Equal(t, "plain", renderLogLine("plain"))
}
