package workflow

import (
	"log/slog"

	"github.com/expr-lang/expr"

	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/template"
)

// DecisionKind is the outcome of post-completion behavior evaluation.
type DecisionKind int

// Decision kinds.
const (
	// DecisionAdvance continues forward; the default.
	DecisionAdvance DecisionKind = iota

	// DecisionRewind steps the workflow back to re-run earlier steps.
	DecisionRewind

	// DecisionTrigger inserts a synthetic execution of another agent before
	// advancing.
	DecisionTrigger

	// DecisionCheckpoint pauses the workflow for human review.
	DecisionCheckpoint
)

// Decision is one behavior evaluation outcome. Only the first firing
// evaluator takes effect per step boundary.
type Decision struct {
	Kind DecisionKind

	// StepsBack and Iteration describe a rewind decision.
	StepsBack     int
	Iteration     int
	MaxIterations int
	SourceAgent   string

	// TargetAgent names the agent a trigger decision executes.
	TargetAgent string

	// Reason carries the directive's reason, if any.
	Reason string
}

// ActiveLoop is a loop currently in progress; its skip set filters future
// step executions until the loop exits forward.
type ActiveLoop struct {
	SourceAgent string
	SkipSet     map[string]bool
	Iteration   int
}

// Defaults for directive-initiated loops on steps without a declared loop
// behavior.
const (
	defaultLoopStepsBack     = 1
	defaultLoopMaxIterations = 3
)

// BehaviorManager evaluates post-completion behaviors and the pre-execution
// skip rule. It owns the loop iteration counters and the active loop.
type BehaviorManager struct {
	store   *state.Store
	emitter *events.Emitter
	logger  *slog.Logger

	iterations map[string]int
	active     *ActiveLoop
}

// NewBehaviorManager creates a behavior manager.
func NewBehaviorManager(store *state.Store, emitter *events.Emitter, logger *slog.Logger) *BehaviorManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BehaviorManager{
		store:      store,
		emitter:    emitter,
		logger:     logger.With("component", "behavior"),
		iterations: make(map[string]int),
	}
}

// ActiveLoop returns the loop in progress, if any.
func (b *BehaviorManager) ActiveLoop() *ActiveLoop {
	return b.active
}

// ShouldSkip applies the pre-execution skip rule: a step is skipped when it
// is execute-once and already completed in a prior run, or when an active
// loop's skip set names its agent. Applying the rule twice to the same step
// yields the same decision.
func (b *BehaviorManager) ShouldSkip(step *template.Step, index int) (bool, string) {
	if step.ExecuteOnce && b.store.StepCompleted(index) {
		return true, "already completed"
	}
	if b.active != nil && b.active.SkipSet[step.AgentID] {
		return true, "excluded by loop " + b.active.SourceAgent
	}
	return false, ""
}

// Evaluate runs the post-completion evaluators in order — checkpoint,
// trigger, loop — against the directive file and the step's declared
// behavior. The first firing evaluator wins; everything else is the default
// advance.
func (b *BehaviorManager) Evaluate(step *template.Step, output string) Decision {
	directive := b.store.ReadDirective()

	if d, ok := b.evalCheckpoint(step, directive); ok {
		return d
	}
	if d, ok := b.evalTrigger(step, directive); ok {
		return d
	}
	if d, ok := b.evalLoop(step, directive, output); ok {
		return d
	}

	// Forward exit: leaving the loop's source step clears the active loop.
	b.clearLoopFor(step)
	return Decision{Kind: DecisionAdvance}
}

func (b *BehaviorManager) evalCheckpoint(step *template.Step, directive *state.Directive) (Decision, bool) {
	declared := step.Behavior != nil && step.Behavior.Checkpoint
	if directive.Action != state.ActionCheckpoint && !declared {
		return Decision{}, false
	}
	return Decision{Kind: DecisionCheckpoint, Reason: directive.Reason}, true
}

func (b *BehaviorManager) evalTrigger(step *template.Step, directive *state.Directive) (Decision, bool) {
	if directive.Action == state.ActionTrigger && directive.Target != "" {
		return Decision{Kind: DecisionTrigger, TargetAgent: directive.Target, Reason: directive.Reason}, true
	}
	if step.Behavior != nil && step.Behavior.Trigger != nil {
		return Decision{Kind: DecisionTrigger, TargetAgent: step.Behavior.Trigger.Target}, true
	}
	return Decision{}, false
}

func (b *BehaviorManager) evalLoop(step *template.Step, directive *state.Directive, output string) (Decision, bool) {
	declared := step.Behavior.GetLoop()
	requested := directive.Action == state.ActionLoop

	if !requested && declared == nil {
		return Decision{}, false
	}

	stepsBack := defaultLoopStepsBack
	maxIterations := defaultLoopMaxIterations
	var skip []string
	if declared != nil {
		stepsBack = declared.StepsBack
		maxIterations = declared.MaxIterations
		skip = declared.Skip

		// A declared loop that was not requested by directive fires only
		// while its until condition stays false.
		if !requested && declared.Until != "" && b.evalUntil(step, declared.Until, output) {
			return Decision{}, false
		}
	}

	// maxIterations of zero means the loop never fires.
	if maxIterations == 0 {
		return Decision{}, false
	}

	loopID := step.LoopID()
	iteration := b.iterations[loopID] + 1
	if iteration > maxIterations {
		// Exhausted: clear and continue forward.
		delete(b.iterations, loopID)
		b.clearLoopFor(step)
		b.logger.Info("loop exhausted", "agent", step.AgentID, "max_iterations", maxIterations)
		return Decision{}, false
	}

	b.iterations[loopID] = iteration
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	b.active = &ActiveLoop{SourceAgent: step.AgentID, SkipSet: skipSet, Iteration: iteration}
	b.emitter.LoopState(step.AgentID, iteration, maxIterations)

	return Decision{
		Kind:          DecisionRewind,
		StepsBack:     stepsBack,
		Iteration:     iteration,
		MaxIterations: maxIterations,
		SourceAgent:   step.AgentID,
		Reason:        directive.Reason,
	}, true
}

// evalUntil evaluates a loop's until expression against the step output,
// e.g. `output contains "LGTM"`. Evaluation errors are logged and read as
// "condition not met".
func (b *BehaviorManager) evalUntil(step *template.Step, until, output string) bool {
	env := map[string]any{"output": output}
	program, err := expr.Compile(until, expr.Env(env), expr.AsBool())
	if err != nil {
		b.logger.Warn("until expression failed to compile",
			"agent", step.AgentID, "until", until, "error", err)
		return false
	}
	result, err := expr.Run(program, env)
	if err != nil {
		b.logger.Warn("until expression failed to evaluate",
			"agent", step.AgentID, "until", until, "error", err)
		return false
	}
	met, _ := result.(bool)
	return met
}

// clearLoopFor clears the active loop when leaving its source step forward.
func (b *BehaviorManager) clearLoopFor(step *template.Step) {
	if b.active == nil || b.active.SourceAgent != step.AgentID {
		return
	}
	b.active = nil
	delete(b.iterations, step.LoopID())
	b.emitter.LoopClear(step.AgentID)
}
