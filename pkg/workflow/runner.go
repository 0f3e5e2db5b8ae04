// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/internal/history"
	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
	"github.com/moazbuilds/codemachine/pkg/template"
)

// RunnerConfig wires a runner.
type RunnerConfig struct {
	Cwd      string
	Template *template.Template

	// Steps is the filtered, ordered list the machine iterates.
	Steps []template.Step

	Engines  *engine.Registry
	Registry *monitoring.Registry
	Logs     *agentlog.Logger
	Emitter  *events.Emitter
	Store    *state.Store
	Signals  *Signals

	// Controller configures the autonomous input provider. A zero AgentID
	// disables autonomous mode.
	Controller ControllerOptions

	// AutonomousMode starts the run with the controller as the active
	// provider.
	AutonomousMode bool

	// History, when set, records run and step executions best-effort.
	History      *history.Store
	HistoryRunID string

	Logger *slog.Logger
}

// Runner hosts the state machine, pumps the running and awaiting states,
// owns the active input provider and the abort controller, and wires the
// pause/skip/stop signals and mode switching.
type Runner struct {
	cfg       RunnerConfig
	machine   *Machine
	executor  *StepExecutor
	behaviors *BehaviorManager

	user       InputProvider
	controller InputProvider
	active     InputProvider
	autoMode   bool

	abortMu sync.Mutex
	abort   context.CancelFunc

	// pendingResume carries a non-empty awaiting input into the next
	// running entry, which re-executes the step as a resume.
	pendingResume *string

	// checkpoint holds the pending checkpoint decision while the machine
	// awaits human resolution.
	checkpoint *Decision

	logger *slog.Logger
}

type execResult struct {
	res *engine.Result
	err error
}

// NewRunner builds a runner from its configuration.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if len(cfg.Steps) == 0 {
		return nil, &errors.ValidationError{
			Field:      "steps",
			Message:    "no steps selected for this run",
			Suggestion: "check the selected track and conditions",
		}
	}
	// No engines at all means every step would fail to resolve; surface the
	// validation error before the first step runs.
	if _, err := cfg.Engines.Default(); err != nil {
		return nil, err
	}
	if cfg.AutonomousMode && cfg.Controller.AgentID == "" {
		return nil, &errors.ValidationError{
			Field:      "controller",
			Message:    "autonomous mode requires a controller agent",
			Suggestion: "add a controller step to the template or disable autonomous mode",
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "runner")

	r := &Runner{
		cfg:       cfg,
		machine:   NewMachine(len(cfg.Steps), cfg.AutonomousMode),
		executor:  NewStepExecutor(cfg.Engines, cfg.Registry, cfg.Logs, cfg.Emitter, cfg.Store, cfg.Logger),
		behaviors: NewBehaviorManager(cfg.Store, cfg.Emitter, cfg.Logger),
		logger:    logger,
	}

	r.user = NewUserInputProvider(cfg.Emitter, cfg.Signals)
	if cfg.Controller.AgentID != "" {
		r.controller = NewControllerInputProvider(
			cfg.Controller, cfg.Engines, cfg.Registry, cfg.Logs,
			cfg.Emitter, cfg.Store, cfg.Signals, cfg.Logger,
		)
	}

	r.autoMode = cfg.AutonomousMode
	if r.autoMode {
		r.active = r.controller
	} else {
		r.active = r.user
	}

	return r, nil
}

// Machine exposes the state machine for observation.
func (r *Runner) Machine() *Machine {
	return r.machine
}

// Run pumps the machine until a terminal state. It returns nil on completed,
// ErrUserStop on stopped, and the step error on error.
func (r *Runner) Run(ctx context.Context) error {
	r.cfg.Emitter.WorkflowStarted(len(r.cfg.Steps))
	r.announceRoster()

	if err := r.machine.Start(); err != nil {
		return err
	}
	r.cfg.Emitter.WorkflowStatus(string(StateRunning))
	activate(r.active)

	for !r.machine.State().IsTerminal() {
		if ctx.Err() != nil {
			r.machine.Stop()
			break
		}
		switch r.machine.State() {
		case StateRunning:
			r.pumpRunning(ctx)
		case StateAwaiting:
			r.pumpAwaiting(ctx)
		}
	}

	deactivate(r.active)

	final := r.machine.State()
	r.cfg.Emitter.WorkflowStatus(string(final))

	switch final {
	case StateStopped:
		r.cfg.Emitter.WorkflowStopped("")
		return errors.ErrUserStop
	case StateError:
		return r.machine.Snapshot().LastError
	default:
		return nil
	}
}

// announceRoster publishes the run's agents and separators so UIs can draw
// the full plan before execution starts.
func (r *Runner) announceRoster() {
	for i := range r.cfg.Steps {
		s := &r.cfg.Steps[i]
		if s.Kind == template.KindSeparator {
			r.cfg.Emitter.SeparatorAdd(i, s.SeparatorLabel)
			continue
		}
		r.cfg.Emitter.AgentAdded(i, s.AgentID, s.DisplayName())
	}
}

// pumpRunning executes the current step.
func (r *Runner) pumpRunning(ctx context.Context) {
	select {
	case <-r.cfg.Signals.StopCh():
		r.machine.Stop()
		return
	default:
	}

	snap := r.machine.Snapshot()
	idx := snap.CurrentStepIndex
	step := &r.cfg.Steps[idx]
	stepLogger := r.logger.With("step_index", idx, "agent", step.AgentID)

	if step.Kind == template.KindSeparator {
		r.completeSeparator(idx)
		return
	}

	if skip, reason := r.behaviors.ShouldSkip(step, idx); skip {
		stepLogger.Info("skipping step", "reason", reason)
		r.skipBeforeRun(step, idx)
		return
	}

	rec, err := r.cfg.Store.LoadStep(idx)
	if err != nil {
		stepLogger.Warn("failed to read step record", "error", err)
	}

	// A resumable record with no pending input short-circuits to awaiting:
	// the UI streams the prior run's log and the user decides how to go on.
	if r.pendingResume == nil && rec.Resumable() {
		stepLogger.Info("resuming interrupted step",
			"session_id", rec.SessionID, "monitoring_id", rec.MonitoringID)
		r.cfg.Registry.Adopt(rec.MonitoringID, step.DisplayName(), step.EngineID)
		r.cfg.Registry.MarkStatus(rec.MonitoringID, monitoring.StatusAwaiting)
		r.cfg.Emitter.UpdateAgentStatus(rec.MonitoringID, step.AgentID, monitoring.StatusAwaiting)
		r.machine.CompleteStep(StepOutput{MonitoringID: rec.MonitoringID}, nil)
		return
	}

	opts := ExecOptions{
		OnSession: func(monitoringID int64, sessionID string) {
			if err := r.cfg.Store.SetStepSession(idx, sessionID, monitoringID); err != nil {
				stepLogger.Warn("failed to persist step session", "error", err)
			}
		},
	}

	if r.pendingResume != nil {
		prompt := *r.pendingResume
		r.pendingResume = nil
		if rec != nil {
			opts.ResumeMonitoringID = rec.MonitoringID
			opts.ResumeSessionID = rec.SessionID
		}
		opts.ResumePrompt = prompt
	} else {
		if rec != nil && rec.MonitoringID != 0 {
			// Re-run after a loop rewind.
			r.cfg.Emitter.AgentReset(rec.MonitoringID)
		}
		// The step file must exist on disk before any child write to it.
		if err := r.cfg.Store.MarkStepStarted(idx); err != nil {
			stepLogger.Error("failed to mark step started", "error", err)
			r.machine.FailStep(err)
			return
		}
	}

	if err := r.cfg.Store.ResetDirective(); err != nil {
		stepLogger.Warn("failed to reset directive", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.setAbort(cancel)
	defer r.clearAbort()

	resCh := make(chan execResult, 1)
	go func() {
		res, execErr := r.executor.Execute(runCtx, step, r.cfg.Cwd, opts)
		resCh <- execResult{res: res, err: execErr}
	}()

	for {
		select {
		case <-r.cfg.Signals.PauseCh():
			cancel()
			<-resCh
			r.markInterrupted(idx, step, monitoring.StatusAwaiting)
			r.machine.Pause()
			return

		case <-r.cfg.Signals.SkipCh():
			cancel()
			<-resCh
			r.markInterrupted(idx, step, monitoring.StatusSkipped)
			if err := r.cfg.Store.CompleteStep(idx); err != nil {
				stepLogger.Warn("failed to persist skip completion", "error", err)
			}
			r.machine.SkipRunning()
			return

		case <-r.cfg.Signals.StopCh():
			cancel()
			<-resCh
			r.machine.Stop()
			return

		case mode := <-r.cfg.Signals.ModeChangeCh():
			// Executing steps are not cancel-safe for a provider switch;
			// the new mode takes effect on the next awaiting entry.
			r.applyMode(mode.AutonomousMode)

		case result := <-resCh:
			r.handleStepResult(ctx, step, idx, result)
			return
		}
	}
}

// handleStepResult applies behavior evaluation and the machine transition
// for one finished execution.
func (r *Runner) handleStepResult(ctx context.Context, step *template.Step, idx int, result execResult) {
	stepLogger := r.logger.With("step_index", idx, "agent", step.AgentID)

	if result.err != nil {
		if errors.IsAbort(result.err) {
			// Cancellation that did not come from one of our signals means
			// the host context is gone.
			r.machine.Stop()
			return
		}
		stepLogger.Error("step failed", "error", result.err)
		r.cfg.Emitter.MessageLog("error", result.err.Error())
		r.machine.FailStep(result.err)
		return
	}

	res := result.res
	if res.SessionID != "" {
		if err := r.cfg.Store.SetStepSession(idx, res.SessionID, res.MonitoringID); err != nil {
			stepLogger.Warn("failed to persist step session", "error", err)
		}
	}

	out := StepOutput{Output: res.Output, MonitoringID: res.MonitoringID}
	decision := r.behaviors.Evaluate(step, res.Output)

	switch decision.Kind {
	case DecisionCheckpoint:
		stepLogger.Info("checkpoint requested", "reason", decision.Reason)
		r.cfg.Registry.MarkStatus(res.MonitoringID, monitoring.StatusAwaiting)
		r.cfg.Emitter.UpdateAgentStatus(res.MonitoringID, step.AgentID, monitoring.StatusAwaiting)
		r.cfg.Emitter.CheckpointState(true, decision.Reason)
		r.checkpoint = &decision
		r.machine.CompleteStep(out, res.ChainedPrompts)

	case DecisionRewind:
		stepLogger.Info("loop rewind",
			"iteration", decision.Iteration, "steps_back", decision.StepsBack)
		r.cfg.Registry.MarkStatus(res.MonitoringID, monitoring.StatusCompleted)
		r.cfg.Emitter.UpdateAgentStatus(res.MonitoringID, step.AgentID, monitoring.StatusCompleted)
		if err := r.cfg.Store.CompleteStep(idx); err != nil {
			stepLogger.Warn("failed to persist loop completion", "error", err)
		}
		r.recordHistory(idx, step, res.MonitoringID, res.SessionID, "completed")
		r.machine.Rewind(decision.StepsBack)

	case DecisionTrigger:
		if err := r.runTriggered(ctx, decision.TargetAgent); err != nil {
			if errors.IsAbort(err) {
				r.machine.Stop()
				return
			}
			stepLogger.Error("triggered agent failed", "target", decision.TargetAgent, "error", err)
			r.cfg.Emitter.MessageLog("error", err.Error())
			r.machine.FailStep(err)
			return
		}
		r.completeForward(step, idx, out, res)

	default:
		r.completeForward(step, idx, out, res)
	}
}

// completeForward applies the default advance: chained prompts hold the step
// in awaiting, otherwise the step completes and the run moves on. Completing
// the final step with no chained prompts short-circuits forward in one tick.
func (r *Runner) completeForward(step *template.Step, idx int, out StepOutput, res *engine.Result) {
	if len(res.ChainedPrompts) > 0 {
		r.cfg.Registry.MarkStatus(res.MonitoringID, monitoring.StatusAwaiting)
		r.cfg.Emitter.UpdateAgentStatus(res.MonitoringID, step.AgentID, monitoring.StatusAwaiting)
		r.machine.CompleteStep(out, res.ChainedPrompts)
		return
	}

	r.cfg.Registry.MarkStatus(res.MonitoringID, monitoring.StatusCompleted)
	r.cfg.Emitter.UpdateAgentStatus(res.MonitoringID, step.AgentID, monitoring.StatusCompleted)
	if err := r.cfg.Store.CompleteStep(idx); err != nil {
		r.logger.Warn("failed to persist completion", "step_index", idx, "error", err)
	}
	r.recordHistory(idx, step, res.MonitoringID, res.SessionID, "completed")

	r.machine.CompleteStep(out, nil)
	if idx == len(r.cfg.Steps)-1 {
		r.machine.ReceiveInput("")
	}
}

// pumpAwaiting consults the active input provider, or resolves a pending
// checkpoint first.
func (r *Runner) pumpAwaiting(ctx context.Context) {
	if r.checkpoint != nil {
		r.resolveCheckpoint(ctx)
		return
	}

	snap := r.machine.Snapshot()
	out := StepOutput{}
	if snap.CurrentOutput != nil {
		out = *snap.CurrentOutput
	}
	idx := snap.CurrentStepIndex
	step := &r.cfg.Steps[idx]

	ic := InputContext{
		StepOutput:       out,
		StepIndex:        idx,
		TotalSteps:       snap.TotalSteps,
		PromptQueue:      snap.PromptQueue,
		PromptQueueIndex: snap.PromptQueueIndex,
		Cwd:              r.cfg.Cwd,
	}

	result, err := r.active.GetInput(ctx, ic)
	if err != nil {
		if errors.IsAbort(err) {
			r.machine.Stop()
			return
		}
		r.logger.Error("input provider failed", "error", err)
		r.cfg.Emitter.MessageLog("error", err.Error())
		r.machine.FailStep(err)
		return
	}

	switch result.Type {
	case InputTypeStop:
		r.machine.Stop()

	case InputTypeSkip:
		if out.MonitoringID != 0 {
			r.cfg.Registry.MarkStatus(out.MonitoringID, monitoring.StatusSkipped)
			r.cfg.Emitter.UpdateAgentStatus(out.MonitoringID, step.AgentID, monitoring.StatusSkipped)
		}
		if err := r.cfg.Store.CompleteStep(idx); err != nil {
			r.logger.Warn("failed to persist skip completion", "step_index", idx, "error", err)
		}
		r.machine.SkipAwaiting()

	case InputTypeSwitchMode:
		r.applyMode(result.AutonomousMode)

	case InputTypeInput:
		r.applyInput(step, idx, snap, result)
	}
}

// applyInput advances on empty input, or schedules a resume for non-empty
// input. Input matching the queued chained prompt advances the queue and
// persists the chain position.
func (r *Runner) applyInput(step *template.Step, idx int, snap Context, result *InputResult) {
	if result.Value == "" {
		if !r.cfg.Store.StepCompleted(idx) {
			if snap.CurrentOutput != nil && snap.CurrentOutput.MonitoringID != 0 {
				id := snap.CurrentOutput.MonitoringID
				r.cfg.Registry.MarkStatus(id, monitoring.StatusCompleted)
				r.cfg.Emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusCompleted)
			}
			if err := r.cfg.Store.CompleteStep(idx); err != nil {
				r.logger.Warn("failed to persist completion", "step_index", idx, "error", err)
			}
		}
		r.machine.ReceiveInput("")
		return
	}

	if snap.PromptQueueIndex < len(snap.PromptQueue) &&
		result.Value == snap.PromptQueue[snap.PromptQueueIndex].Content {
		newIndex := r.machine.AdvanceQueue()
		if err := r.cfg.Store.AdvanceChain(idx, newIndex-1); err != nil {
			r.logger.Warn("failed to persist chain advance", "step_index", idx, "error", err)
		}
	}

	prompt := result.Value
	r.pendingResume = &prompt
	r.machine.ReceiveInput(result.Value)
}

// resolveCheckpoint blocks until the human resolves the pending checkpoint.
func (r *Runner) resolveCheckpoint(ctx context.Context) {
	select {
	case <-r.cfg.Signals.CheckpointContinueCh():
		r.cfg.Emitter.CheckpointClear()
		r.checkpoint = nil

	case <-r.cfg.Signals.CheckpointQuitCh():
		r.cfg.Emitter.CheckpointClear()
		r.checkpoint = nil
		r.machine.Stop()

	case <-r.cfg.Signals.StopCh():
		r.checkpoint = nil
		r.machine.Stop()

	case <-ctx.Done():
		r.checkpoint = nil
		r.machine.Stop()
	}
}

// runTriggered executes the target agent as a synthetic one-step run. The
// triggered run is tracked in the monitoring registry but never alters the
// main step index.
func (r *Runner) runTriggered(ctx context.Context, targetAgent string) error {
	target, ok := r.cfg.Template.FindByAgentID(targetAgent)
	if !ok {
		r.cfg.Emitter.MessageLog("warn", "trigger target "+targetAgent+" not found in template")
		return nil
	}

	r.logger.Info("running triggered agent", "target", targetAgent)

	runCtx, cancel := context.WithCancel(ctx)
	r.setAbort(cancel)
	defer r.clearAbort()

	res, err := r.executor.Execute(runCtx, target, r.cfg.Cwd, ExecOptions{})
	if err != nil {
		return err
	}

	r.cfg.Registry.MarkStatus(res.MonitoringID, monitoring.StatusCompleted)
	r.cfg.Emitter.UpdateAgentStatus(res.MonitoringID, target.AgentID, monitoring.StatusCompleted)
	return nil
}

// completeSeparator emits nothing extra (the roster already announced it)
// and records completion so resume indexes stay stable.
func (r *Runner) completeSeparator(idx int) {
	if !r.cfg.Store.StepCompleted(idx) {
		if err := r.cfg.Store.MarkStepStarted(idx); err == nil {
			r.cfg.Store.CompleteStep(idx)
		}
	}
	r.machine.AdvanceInline()
}

// skipBeforeRun records a pre-execution skip and advances without running.
func (r *Runner) skipBeforeRun(step *template.Step, idx int) {
	id := r.cfg.Registry.Register(step.DisplayName(), step.EngineID, 0)
	r.cfg.Registry.MarkStatus(id, monitoring.StatusSkipped)
	r.cfg.Emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusSkipped)

	if !r.cfg.Store.StepCompleted(idx) {
		if err := r.cfg.Store.MarkStepStarted(idx); err == nil {
			r.cfg.Store.CompleteStep(idx)
		}
	}
	r.machine.AdvanceInline()
}

// markInterrupted marks the persisted run for an aborted execution, when the
// engine got far enough to report a session.
func (r *Runner) markInterrupted(idx int, step *template.Step, status monitoring.Status) {
	rec, err := r.cfg.Store.LoadStep(idx)
	if err != nil || rec == nil || rec.MonitoringID == 0 {
		return
	}
	r.cfg.Registry.MarkStatus(rec.MonitoringID, status)
	r.cfg.Emitter.UpdateAgentStatus(rec.MonitoringID, step.AgentID, status)
}

// applyMode switches the active input provider and persists the mode.
func (r *Runner) applyMode(autonomous bool) {
	if autonomous == r.autoMode {
		return
	}
	if autonomous && r.controller == nil {
		r.cfg.Emitter.MessageLog("warn", "no controller configured; staying in manual mode")
		return
	}

	deactivate(r.active)
	r.autoMode = autonomous
	r.machine.SetAutoMode(autonomous)
	if autonomous {
		r.active = r.controller
		r.cfg.Emitter.MessageLog("info", "switched to autonomous mode")
	} else {
		r.active = r.user
		r.cfg.Emitter.MessageLog("info", "switched to manual mode")
	}
	activate(r.active)

	cs, err := r.cfg.Store.LoadController()
	if err != nil {
		cs = &state.ControllerState{}
	}
	cs.AutonomousMode = autonomous
	if err := r.cfg.Store.SaveController(cs); err != nil {
		r.logger.Warn("failed to persist mode change", "error", err)
	}
}

// recordHistory writes the step execution to the run-history ledger.
// Ledger failures are logged and dropped.
func (r *Runner) recordHistory(idx int, step *template.Step, monitoringID int64, sessionID, status string) {
	if r.cfg.History == nil || r.cfg.HistoryRunID == "" {
		return
	}

	ctx := context.Background()
	if err := r.cfg.History.BeginStep(ctx, history.StepRun{
		RunID:        r.cfg.HistoryRunID,
		StepIndex:    idx,
		AgentID:      step.AgentID,
		MonitoringID: monitoringID,
	}); err != nil {
		r.logger.Warn("history step begin failed", "error", err)
		return
	}

	var tokensIn, tokensOut int64
	if a, ok := r.cfg.Registry.Agent(monitoringID); ok {
		tokensIn = a.Telemetry.TokensIn
		tokensOut = a.Telemetry.TokensOut
	}
	if err := r.cfg.History.FinishStep(ctx, r.cfg.HistoryRunID, idx, monitoringID, sessionID, status, tokensIn, tokensOut); err != nil {
		r.logger.Warn("history step finish failed", "error", err)
	}
}

// setAbort installs the current abort controller.
func (r *Runner) setAbort(cancel context.CancelFunc) {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	r.abort = cancel
}

// clearAbort drops the current abort controller.
func (r *Runner) clearAbort() {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	r.abort = nil
}

// Abort cancels the in-flight operation, if any. Exposed for adapters that
// implement hard-interrupt semantics.
func (r *Runner) Abort() {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	if r.abort != nil {
		r.abort()
	}
}
