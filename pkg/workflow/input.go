package workflow

import (
	"context"

	"github.com/moazbuilds/codemachine/pkg/engine"
)

// InputType tags the variants of an InputResult.
type InputType string

// Input result variants.
const (
	// InputTypeInput carries the next input for the awaiting step. An empty
	// value advances the workflow.
	InputTypeInput InputType = "input"

	// InputTypeSkip abandons the awaiting step and advances.
	InputTypeSkip InputType = "skip"

	// InputTypeStop terminates the workflow.
	InputTypeStop InputType = "stop"

	// InputTypeSwitchMode requests an input-provider switch. The runner
	// consumes it, swaps the active provider, and reinvokes GetInput.
	InputTypeSwitchMode InputType = "switch-mode"
)

// InputResult is the tagged outcome of a provider's GetInput.
type InputResult struct {
	Type InputType

	// Value is the input text for InputTypeInput.
	Value string

	// ResumeMonitoringID carries the run to resume, when known.
	ResumeMonitoringID int64

	// Source is "user" or "controller" for InputTypeInput.
	Source string

	// AutonomousMode is the target mode for InputTypeSwitchMode.
	AutonomousMode bool
}

// InputContext is handed to the active provider on entering awaiting.
type InputContext struct {
	StepOutput       StepOutput
	StepIndex        int
	TotalSteps       int
	PromptQueue      []engine.ChainedPrompt
	PromptQueueIndex int
	Cwd              string
}

// InputProvider is one source of post-step input. Exactly one provider is
// active at a time; switching is serialized through the runner.
type InputProvider interface {
	// GetInput blocks until the provider produces a result. Cancellation of
	// ctx aborts the wait.
	GetInput(ctx context.Context, ic InputContext) (*InputResult, error)
}

// Activator is implemented by providers that need activation hooks around
// becoming or ceasing to be the active provider.
type Activator interface {
	Activate()
	Deactivate()
}

// activate invokes the activation hook when the provider has one.
func activate(p InputProvider) {
	if a, ok := p.(Activator); ok {
		a.Activate()
	}
}

// deactivate invokes the deactivation hook when the provider has one.
func deactivate(p InputProvider) {
	if a, ok := p.(Activator); ok {
		a.Deactivate()
	}
}
