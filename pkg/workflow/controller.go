package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
	"github.com/moazbuilds/codemachine/pkg/template"
)

// ControllerPolicy decides what the controller does while the awaited step
// still has live sub-agents.
type ControllerPolicy string

// Controller sub-agent policies.
const (
	// ControllerRun invokes the controller regardless of live sub-agents.
	ControllerRun ControllerPolicy = "run"

	// ControllerSuspend waits for the step's sub-agents to settle before
	// invoking the controller. This is the default.
	ControllerSuspend ControllerPolicy = "suspend"
)

// ControllerOptions configures the autonomous controller agent.
type ControllerOptions struct {
	// AgentID identifies the controller agent.
	AgentID string

	// Name is the controller's display name; defaults to AgentID.
	Name string

	// EngineID selects the controller's engine; empty uses the default.
	EngineID string

	// Model overrides the engine default.
	Model string

	// PromptPaths optionally seed a fresh controller session with a system
	// prompt before the first step output.
	PromptPaths []string

	// DuringSubAgents is the sub-agent policy; defaults to suspend.
	DuringSubAgents ControllerPolicy

	// MinInterval rate-limits consecutive controller invocations, guarding
	// against a runaway controller/step feedback loop.
	MinInterval time.Duration
}

// ControllerInputProvider sources post-step input from the controller
// engine. The controller is an ordinary engine run: it is tracked in the
// monitoring registry, streams into its own agent log, and honors the same
// abort signal as the step.
type ControllerInputProvider struct {
	opts     ControllerOptions
	engines  *engine.Registry
	registry *monitoring.Registry
	logs     *agentlog.Logger
	emitter  *events.Emitter
	store    *state.Store
	signals  *Signals
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewControllerInputProvider creates the controller-backed provider.
func NewControllerInputProvider(
	opts ControllerOptions,
	engines *engine.Registry,
	registry *monitoring.Registry,
	logs *agentlog.Logger,
	emitter *events.Emitter,
	store *state.Store,
	signals *Signals,
	logger *slog.Logger,
) *ControllerInputProvider {
	if opts.DuringSubAgents == "" {
		opts.DuringSubAgents = ControllerSuspend
	}
	if opts.Name == "" {
		opts.Name = opts.AgentID
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ControllerInputProvider{
		opts:     opts,
		engines:  engines,
		registry: registry,
		logs:     logs,
		emitter:  emitter,
		store:    store,
		signals:  signals,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger:   logger.With("component", "controller"),
	}
}

// Activate announces the controller configuration.
func (p *ControllerInputProvider) Activate() {
	p.emitter.ControllerInfo(p.opts.AgentID, p.opts.Name)
	if p.opts.EngineID != "" {
		p.emitter.ControllerEngine(p.opts.EngineID)
	}
	if p.opts.Model != "" {
		p.emitter.ControllerModel(p.opts.Model)
	}
}

// Deactivate announces the controller going idle.
func (p *ControllerInputProvider) Deactivate() {
	p.emitter.ControllerStatus(monitoring.StatusPending)
}

// GetInput invokes the controller engine with the last step's output as
// context and returns the controller's text as the next input for the
// awaiting step. An empty return advances; user activity while the
// controller runs cancels it and switches back to manual.
func (p *ControllerInputProvider) GetInput(ctx context.Context, ic InputContext) (*InputResult, error) {
	if p.opts.DuringSubAgents == ControllerSuspend {
		if result, err := p.waitForSubAgents(ctx, ic.StepOutput.MonitoringID); result != nil || err != nil {
			return result, err
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.ErrAborted
	}

	eng, fellBack, err := p.engines.Resolve(p.opts.EngineID)
	if err != nil {
		return nil, err
	}
	if fellBack {
		p.emitter.MessageLog("warn", "controller engine "+p.opts.EngineID+" not registered, using default")
	}
	engID := eng.Metadata().ID

	cs, err := p.store.LoadController()
	if err != nil {
		p.logger.Warn("failed to load controller state", "error", err)
		cs = &state.ControllerState{}
	}

	id := p.registry.Register(p.opts.Name, engID, 0)
	p.registry.SetLogPath(id, p.store.AgentLogPath(id))
	if err := p.logs.Open(id, p.store.AgentLogPath(id)); err != nil {
		p.logger.Warn("failed to open controller log", "error", err)
	}
	defer p.logs.Close(id)

	p.emitter.ControllerMonitoring(id)
	p.registry.MarkStatus(id, monitoring.StatusRunning)
	p.emitter.ControllerStatus(monitoring.StatusRunning)

	model := p.opts.Model
	if model == "" {
		model = eng.Metadata().DefaultModel
	}
	p.registry.SetModel(id, model)

	ec := engine.ExecContext{
		Cwd:          ic.Cwd,
		Model:        model,
		MonitoringID: id,
		LogSink:      p.logs.Writer(id),
		TelemetrySink: func(delta monitoring.Telemetry) {
			totals := p.registry.UpdateTelemetry(id, delta)
			p.emitter.ControllerTelemetry(totals)
		},
		SessionSink: func(sessionID string) {
			p.registry.SetSession(id, sessionID)
		},
	}

	resumeSession := ""
	if cs.ControllerConfig != nil && cs.ControllerConfig.SessionID != "" {
		resumeSession = cs.ControllerConfig.SessionID
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh := make(chan controllerResult, 1)
	go func() {
		res, execErr := p.invoke(cctx, eng, ec, resumeSession, ic.StepOutput.Output)
		resCh <- controllerResult{res: res, err: execErr}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-resCh
			p.registry.MarkPaused(id)
			return nil, errors.ErrAborted

		case <-p.signals.StopCh():
			cancel()
			<-resCh
			p.registry.MarkStatus(id, monitoring.StatusSkipped)
			return &InputResult{Type: InputTypeStop}, nil

		case <-p.signals.InputCh():
			// User typed while the controller was running: cancel it and
			// hand control back to manual input.
			cancel()
			<-resCh
			p.registry.MarkStatus(id, monitoring.StatusSkipped)
			p.emitter.ControllerStatus(monitoring.StatusSkipped)
			return &InputResult{Type: InputTypeSwitchMode, AutonomousMode: false}, nil

		case mode := <-p.signals.ModeChangeCh():
			if mode.AutonomousMode {
				continue
			}
			cancel()
			<-resCh
			p.registry.MarkStatus(id, monitoring.StatusSkipped)
			p.emitter.ControllerStatus(monitoring.StatusSkipped)
			return &InputResult{Type: InputTypeSwitchMode, AutonomousMode: false}, nil

		case r := <-resCh:
			if r.err != nil {
				if errors.IsAbort(r.err) {
					p.registry.MarkPaused(id)
					return nil, errors.ErrAborted
				}
				p.registry.MarkStatus(id, monitoring.StatusFailed)
				p.emitter.ControllerStatus(monitoring.StatusFailed)
				return nil, errors.AsEngineError(engID, r.err)
			}
			return p.finish(id, r.res, ic), nil
		}
	}
}

type controllerResult struct {
	res *engine.Result
	err error
}

// invoke runs or resumes the controller session.
func (p *ControllerInputProvider) invoke(ctx context.Context, eng engine.Engine, ec engine.ExecContext, resumeSession, stepOutput string) (*engine.Result, error) {
	if resumeSession != "" {
		if resumer, ok := eng.(engine.Resumer); ok {
			ec.ResumeSessionID = resumeSession
			ec.ResumePrompt = stepOutput
			return resumer.Resume(ctx, ec)
		}
	}

	prompt := stepOutput
	if len(p.opts.PromptPaths) > 0 {
		system, err := template.ResolvePrompt(ec.Cwd, p.opts.AgentID, p.opts.PromptPaths)
		if err != nil {
			return nil, err
		}
		prompt = system + "\n" + stepOutput
	}
	ec.Prompt = prompt
	return eng.Execute(ctx, ec)
}

// finish persists the controller session and shapes the input result.
func (p *ControllerInputProvider) finish(id int64, res *engine.Result, ic InputContext) *InputResult {
	if res.SessionID != "" {
		p.registry.SetSession(id, res.SessionID)
		if err := p.store.SaveController(&state.ControllerState{
			AutonomousMode: true,
			ControllerConfig: &state.ControllerConfig{
				AgentID:      p.opts.AgentID,
				SessionID:    res.SessionID,
				MonitoringID: id,
			},
		}); err != nil {
			p.logger.Warn("failed to persist controller session", "error", err)
		}
	}

	p.registry.MarkStatus(id, monitoring.StatusCompleted)
	p.emitter.ControllerStatus(monitoring.StatusCompleted)

	return &InputResult{
		Type:               InputTypeInput,
		Value:              strings.TrimSpace(res.Output),
		ResumeMonitoringID: ic.StepOutput.MonitoringID,
		Source:             "controller",
	}
}

// waitForSubAgents blocks until the awaited step has no live sub-agents.
// User signals and cancellation still interrupt the wait.
func (p *ControllerInputProvider) waitForSubAgents(ctx context.Context, monitoringID int64) (*InputResult, error) {
	if monitoringID == 0 {
		return nil, nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	announced := false
	for {
		if len(p.registry.ActiveChildren(monitoringID)) == 0 {
			return nil, nil
		}
		if !announced {
			p.emitter.ControllerStatus(monitoring.StatusDelegated)
			announced = true
		}

		select {
		case <-ctx.Done():
			return nil, errors.ErrAborted
		case <-p.signals.StopCh():
			return &InputResult{Type: InputTypeStop}, nil
		case <-p.signals.InputCh():
			return &InputResult{Type: InputTypeSwitchMode, AutonomousMode: false}, nil
		case mode := <-p.signals.ModeChangeCh():
			if !mode.AutonomousMode {
				return &InputResult{Type: InputTypeSwitchMode, AutonomousMode: false}, nil
			}
		case <-ticker.C:
		}
	}
}
