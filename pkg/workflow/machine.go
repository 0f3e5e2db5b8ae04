// Package workflow implements the workflow execution engine: the state
// machine, step executor, input providers, behavior evaluators and the
// runner that pumps them.
//
// The engine coordinates concurrent engine subprocesses, cancellation,
// pause/resume across restarts, two input sources (user and controller) and
// a streaming log pipeline, but it never renders and never speaks an LLM API
// itself.
package workflow

import (
	"fmt"
	"sync"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
)

// State represents a workflow machine state.
type State string

// Workflow states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateAwaiting  State = "awaiting"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// IsTerminal returns true if the state ends the run.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateError
}

// StepOutput is the completion payload carried from a step into awaiting.
type StepOutput struct {
	// Output is the step's final assistant text. Empty for short-circuited
	// resumes and skips.
	Output string

	// MonitoringID identifies the run that produced the output, when known.
	MonitoringID int64
}

// Context is the machine's in-memory workflow context. The runner owns it
// exclusively; copies handed out by Snapshot are read-only views.
type Context struct {
	CurrentStepIndex int
	TotalSteps       int
	AutoMode         bool
	PromptQueue      []engine.ChainedPrompt
	PromptQueueIndex int
	CurrentOutput    *StepOutput
	Paused           bool
	LastError        error
}

// Machine is the workflow state machine:
//
//	idle → running ⇄ awaiting → (running | stopped | error | completed)
//
// Transition methods are named after the events they apply. Invalid
// transitions return a validation error and leave the machine unchanged.
// The paused sub-state can be true only in awaiting and is cleared on the
// next running entry.
type Machine struct {
	mu    sync.Mutex
	state State
	ctx   Context
}

// NewMachine creates an idle machine for a run of totalSteps steps.
func NewMachine(totalSteps int, autoMode bool) *Machine {
	return &Machine{
		state: StateIdle,
		ctx: Context{
			TotalSteps: totalSteps,
			AutoMode:   autoMode,
		},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the workflow context.
func (m *Machine) Snapshot() Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.ctx
	snap.PromptQueue = append([]engine.ChainedPrompt(nil), m.ctx.PromptQueue...)
	return snap
}

// guard returns a validation error for an event fired in the wrong state.
func (m *Machine) guard(event string, want ...State) error {
	for _, s := range want {
		if m.state == s {
			return nil
		}
	}
	return &errors.ValidationError{
		Field:   "state",
		Message: fmt.Sprintf("event %s not allowed in state %s", event, m.state),
	}
}

// Start applies START: idle → running.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("START", StateIdle); err != nil {
		return err
	}
	m.state = StateRunning
	return nil
}

// CompleteStep applies STEP_COMPLETE: running → awaiting. The machine always
// enters awaiting; the empty-input path short-circuits forward in one tick.
// When chained is empty the prompt queue resets.
func (m *Machine) CompleteStep(out StepOutput, chained []engine.ChainedPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("STEP_COMPLETE", StateRunning); err != nil {
		return err
	}
	m.state = StateAwaiting
	m.ctx.CurrentOutput = &out
	m.ctx.PromptQueue = append([]engine.ChainedPrompt(nil), chained...)
	m.ctx.PromptQueueIndex = 0
	return nil
}

// FailStep applies STEP_ERROR: running → error.
func (m *Machine) FailStep(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gerr := m.guard("STEP_ERROR", StateRunning, StateAwaiting); gerr != nil {
		return gerr
	}
	m.state = StateError
	m.ctx.LastError = err
	return nil
}

// Pause applies PAUSE: running → awaiting with the paused sub-state set.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("PAUSE", StateRunning); err != nil {
		return err
	}
	m.state = StateAwaiting
	m.ctx.Paused = true
	m.ctx.CurrentOutput = &StepOutput{}
	m.ctx.PromptQueue = nil
	m.ctx.PromptQueueIndex = 0
	return nil
}

// SkipRunning applies SKIP while running: treated as step completion with
// empty output, entering awaiting.
func (m *Machine) SkipRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("SKIP", StateRunning); err != nil {
		return err
	}
	m.state = StateAwaiting
	m.ctx.CurrentOutput = &StepOutput{}
	m.ctx.PromptQueue = nil
	m.ctx.PromptQueueIndex = 0
	return nil
}

// ReceiveInput applies INPUT_RECEIVED in awaiting. Empty input advances to
// the next step (or completes the run); non-empty input re-enters running on
// the same step for a resume. It returns whether the index advanced.
func (m *Machine) ReceiveInput(value string) (advanced bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("INPUT_RECEIVED", StateAwaiting); err != nil {
		return false, err
	}

	m.ctx.Paused = false
	if value == "" {
		m.advanceLocked()
		return true, nil
	}
	m.state = StateRunning
	return false, nil
}

// SkipAwaiting applies SKIP in awaiting: the step is abandoned and the index
// advances.
func (m *Machine) SkipAwaiting() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("SKIP", StateAwaiting); err != nil {
		return err
	}
	m.ctx.Paused = false
	m.advanceLocked()
	return nil
}

// AdvanceInline advances past the current step without entering awaiting.
// Used for separators and pre-execution skips, which complete without
// consulting a provider.
func (m *Machine) AdvanceInline() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("ADVANCE", StateRunning); err != nil {
		return err
	}
	m.advanceLocked()
	return nil
}

// Rewind re-enters running stepsBack steps before the next step: a stepsBack
// of 1 re-runs the current step. The index never goes below zero and the
// prompt queue is discarded.
func (m *Machine) Rewind(stepsBack int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard("REWIND", StateRunning, StateAwaiting); err != nil {
		return err
	}

	idx := m.ctx.CurrentStepIndex + 1 - stepsBack
	if idx < 0 {
		idx = 0
	}
	m.ctx.CurrentStepIndex = idx
	m.ctx.CurrentOutput = nil
	m.ctx.PromptQueue = nil
	m.ctx.PromptQueueIndex = 0
	m.ctx.Paused = false
	m.state = StateRunning
	return nil
}

// Stop applies STOP from any non-terminal state.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsTerminal() {
		return &errors.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("event STOP not allowed in terminal state %s", m.state),
		}
	}
	m.state = StateStopped
	return nil
}

// AdvanceQueue moves the prompt queue index forward by one and returns the
// new index. The index never exceeds the queue length.
func (m *Machine) AdvanceQueue() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.PromptQueueIndex < len(m.ctx.PromptQueue) {
		m.ctx.PromptQueueIndex++
	}
	return m.ctx.PromptQueueIndex
}

// SetAutoMode flips autonomous mode in the context.
func (m *Machine) SetAutoMode(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx.AutoMode = auto
}

// advanceLocked moves to the next step or completes the run. Queue and
// output reset on every advance.
func (m *Machine) advanceLocked() {
	m.ctx.CurrentOutput = nil
	m.ctx.PromptQueue = nil
	m.ctx.PromptQueueIndex = 0

	if m.ctx.CurrentStepIndex+1 < m.ctx.TotalSteps {
		m.ctx.CurrentStepIndex++
		m.state = StateRunning
		return
	}
	m.state = StateCompleted
}
