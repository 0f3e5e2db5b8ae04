// Package template loads workflow templates into the ordered step model the
// state machine iterates.
package template

import (
	"github.com/moazbuilds/codemachine/pkg/engine"
)

// StepKind distinguishes the three template step kinds.
type StepKind string

// Step kinds.
const (
	KindModule     StepKind = "module"
	KindController StepKind = "controller"
	KindSeparator  StepKind = "separator"
)

// Reasoning effort levels a step may request from its engine.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// LoopBehavior declares a step-back loop.
type LoopBehavior struct {
	// StepsBack is how many steps to rewind when the loop fires.
	StepsBack int `yaml:"steps_back"`

	// MaxIterations caps the loop; 0 means the loop never fires.
	MaxIterations int `yaml:"max_iterations"`

	// Skip lists agent ids excluded from execution while the loop is active.
	Skip []string `yaml:"skip,omitempty"`

	// Until is an optional expression evaluated against the step output
	// (env: {output}); when it evaluates true the loop does not fire. A loop
	// requested through the directive file fires regardless of Until.
	Until string `yaml:"until,omitempty"`
}

// TriggerBehavior declares a post-completion call of another agent.
type TriggerBehavior struct {
	// Target is the agent id to execute after this step completes.
	Target string `yaml:"target"`
}

// Behavior is a step's declared post-completion behavior. At most one of the
// fields is set.
type Behavior struct {
	Loop       *LoopBehavior    `yaml:"loop,omitempty"`
	Trigger    *TriggerBehavior `yaml:"trigger,omitempty"`
	Checkpoint bool             `yaml:"checkpoint,omitempty"`
}

// GetLoop returns the declared loop behavior, tolerating a nil receiver.
func (b *Behavior) GetLoop() *LoopBehavior {
	if b == nil {
		return nil
	}
	return b.Loop
}

// Step is one entry of a workflow template, immutable per run.
type Step struct {
	Kind StepKind

	// AgentID and AgentName identify the agent for module and controller
	// steps.
	AgentID   string
	AgentName string

	// EngineID selects the engine; empty uses the registry default.
	EngineID string

	// Model overrides the engine's default model.
	Model string

	// ReasoningEffort is one of low, medium, high, or empty.
	ReasoningEffort string

	// PromptPaths are the prompt files, concatenated in order. Entries may
	// be glob patterns.
	PromptPaths []string

	// ExecuteOnce skips the step when a prior run already completed it.
	ExecuteOnce bool

	// Interactive marks steps that expect user steering.
	Interactive bool

	// Tracks and Conditions filter the step into or out of a run.
	Tracks     []string
	Conditions []string

	// Behavior is the declared post-completion behavior, if any.
	Behavior *Behavior

	// ChainedPrompts are queued for replay after the step's first output.
	ChainedPrompts []engine.ChainedPrompt

	// SeparatorLabel is the display label for separator steps.
	SeparatorLabel string
}

// DisplayName returns the agent name, falling back to the agent id.
func (s *Step) DisplayName() string {
	if s.AgentName != "" {
		return s.AgentName
	}
	return s.AgentID
}

// LoopID keys loop iteration counters. Loops are identified by their source
// agent.
func (s *Step) LoopID() string {
	return s.AgentID
}

// Template is a parsed workflow template.
type Template struct {
	// Name is the template's display name.
	Name string

	// Specification requires .codemachine/inputs/specifications.md to exist
	// before the run starts.
	Specification bool

	// Steps is the authored step order, before track/condition filtering.
	Steps []Step
}

// FindByAgentID returns the first step with the given agent id.
func (t *Template) FindByAgentID(agentID string) (*Step, bool) {
	for i := range t.Steps {
		if t.Steps[i].Kind != KindSeparator && t.Steps[i].AgentID == agentID {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// Filter returns the steps included in a run: a step stays iff its tracks
// list is empty or contains the selected track, and every one of its
// conditions is in the selected condition set. The filter is applied once at
// run start; the result is the ordered list the state machine iterates.
func Filter(steps []Step, track string, conditions []string) []Step {
	selected := make(map[string]bool, len(conditions))
	for _, c := range conditions {
		selected[c] = true
	}

	var out []Step
	for _, s := range steps {
		if !trackMatches(s.Tracks, track) {
			continue
		}
		if !conditionsMatch(s.Conditions, selected) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func trackMatches(tracks []string, selected string) bool {
	if len(tracks) == 0 {
		return true
	}
	for _, t := range tracks {
		if t == selected {
			return true
		}
	}
	return false
}

func conditionsMatch(required []string, selected map[string]bool) bool {
	for _, c := range required {
		if !selected[c] {
			return false
		}
	}
	return true
}
