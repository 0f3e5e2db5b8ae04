package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
)

func TestMachineStart(t *testing.T) {
	m := NewMachine(2, false)
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Start())
	assert.Equal(t, StateRunning, m.State())

	// Starting twice is invalid.
	err := m.Start()
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCompleteStepAlwaysEntersAwaiting(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	require.NoError(t, m.CompleteStep(StepOutput{Output: "done", MonitoringID: 1}, nil))
	assert.Equal(t, StateAwaiting, m.State())

	snap := m.Snapshot()
	require.NotNil(t, snap.CurrentOutput)
	assert.Equal(t, "done", snap.CurrentOutput.Output)
	assert.Empty(t, snap.PromptQueue)
	assert.Zero(t, snap.PromptQueueIndex)
}

func TestEmptyInputAdvancesOrCompletes(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())
	require.NoError(t, m.CompleteStep(StepOutput{}, nil))

	advanced, err := m.ReceiveInput("")
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, 1, m.Snapshot().CurrentStepIndex)

	require.NoError(t, m.CompleteStep(StepOutput{}, nil))
	advanced, err = m.ReceiveInput("")
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, StateCompleted, m.State())
}

func TestNonEmptyInputResumesSameStep(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())
	require.NoError(t, m.CompleteStep(StepOutput{}, nil))

	advanced, err := m.ReceiveInput("refine it")
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, 0, m.Snapshot().CurrentStepIndex)
}

func TestPausedOnlyInAwaiting(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	require.NoError(t, m.Pause())
	assert.Equal(t, StateAwaiting, m.State())
	assert.True(t, m.Snapshot().Paused)

	// Paused clears on the next running entry.
	_, err := m.ReceiveInput("resume input")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, m.State())
	assert.False(t, m.Snapshot().Paused)
}

func TestSkipFromRunningEntersAwaiting(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	require.NoError(t, m.SkipRunning())
	assert.Equal(t, StateAwaiting, m.State())

	snap := m.Snapshot()
	require.NotNil(t, snap.CurrentOutput)
	assert.Empty(t, snap.CurrentOutput.Output)
}

func TestSkipFromAwaitingAdvances(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())
	require.NoError(t, m.CompleteStep(StepOutput{}, nil))

	require.NoError(t, m.SkipAwaiting())
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, 1, m.Snapshot().CurrentStepIndex)
}

func TestStepErrorEntersError(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	stepErr := &errors.EngineError{Engine: "claude", Message: "boom"}
	require.NoError(t, m.FailStep(stepErr))
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, stepErr, m.Snapshot().LastError)
	assert.True(t, m.State().IsTerminal())
}

func TestStopFromAnyNonTerminalState(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Stop())
	assert.Equal(t, StateStopped, m.State())

	// Stop in a terminal state is invalid.
	assert.Error(t, m.Stop())
}

func TestPromptQueueInvariant(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	chained := []engine.ChainedPrompt{
		{Name: "x", Label: "X", Content: "do X"},
		{Name: "y", Label: "Y", Content: "do Y"},
	}
	require.NoError(t, m.CompleteStep(StepOutput{}, chained))

	snap := m.Snapshot()
	assert.LessOrEqual(t, snap.PromptQueueIndex, len(snap.PromptQueue))

	assert.Equal(t, 1, m.AdvanceQueue())
	assert.Equal(t, 2, m.AdvanceQueue())
	// The index never exceeds the queue length.
	assert.Equal(t, 2, m.AdvanceQueue())

	snap = m.Snapshot()
	assert.LessOrEqual(t, snap.PromptQueueIndex, len(snap.PromptQueue))
}

func TestQueueResetsWhenStepHasNoChainedPrompts(t *testing.T) {
	m := NewMachine(3, false)
	require.NoError(t, m.Start())

	require.NoError(t, m.CompleteStep(StepOutput{}, []engine.ChainedPrompt{{Name: "x", Content: "do X"}}))
	m.AdvanceQueue()

	_, err := m.ReceiveInput("")
	require.NoError(t, err)
	require.NoError(t, m.CompleteStep(StepOutput{}, nil))

	snap := m.Snapshot()
	assert.Empty(t, snap.PromptQueue)
	assert.Zero(t, snap.PromptQueueIndex)
}

func TestRewind(t *testing.T) {
	m := NewMachine(3, false)
	require.NoError(t, m.Start())

	// Advance to step 1.
	require.NoError(t, m.CompleteStep(StepOutput{}, nil))
	_, err := m.ReceiveInput("")
	require.NoError(t, err)
	require.Equal(t, 1, m.Snapshot().CurrentStepIndex)

	// stepsBack of 1 re-runs the current step.
	require.NoError(t, m.Rewind(1))
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, 1, m.Snapshot().CurrentStepIndex)

	// stepsBack of 2 goes one step earlier.
	require.NoError(t, m.Rewind(2))
	assert.Equal(t, 0, m.Snapshot().CurrentStepIndex)

	// The index never goes below zero.
	require.NoError(t, m.Rewind(10))
	assert.Equal(t, 0, m.Snapshot().CurrentStepIndex)
}

func TestAdvanceInline(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())

	require.NoError(t, m.AdvanceInline())
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, 1, m.Snapshot().CurrentStepIndex)

	require.NoError(t, m.AdvanceInline())
	assert.Equal(t, StateCompleted, m.State())
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMachine(2, false)
	require.NoError(t, m.Start())
	require.NoError(t, m.CompleteStep(StepOutput{}, []engine.ChainedPrompt{{Name: "x", Content: "do X"}}))

	snap := m.Snapshot()
	snap.PromptQueue[0].Content = "mutated"
	assert.Equal(t, "do X", m.Snapshot().PromptQueue[0].Content)
}
