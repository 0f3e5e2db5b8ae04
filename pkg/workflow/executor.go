package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
	"github.com/moazbuilds/codemachine/pkg/template"
)

// ExecOptions wires one step execution.
type ExecOptions struct {
	// ParentID links the run under a parent in the monitoring tree.
	ParentID int64

	// ResumeMonitoringID attaches to an existing agent run record instead of
	// registering a new one, and switches the engine call to resume.
	ResumeMonitoringID int64

	// ResumeSessionID is the engine session to resume.
	ResumeSessionID string

	// ResumePrompt is the user input replayed into the resumed session.
	ResumePrompt string

	// OnSession is invoked as soon as the engine reports its session id, so
	// the runner can persist it before the step finishes.
	OnSession func(monitoringID int64, sessionID string)
}

// StepExecutor runs one step through its engine, wiring the agent log,
// telemetry, abort signal and resume payload.
type StepExecutor struct {
	engines  *engine.Registry
	registry *monitoring.Registry
	logs     *agentlog.Logger
	emitter  *events.Emitter
	store    *state.Store
	logger   *slog.Logger
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(
	engines *engine.Registry,
	registry *monitoring.Registry,
	logs *agentlog.Logger,
	emitter *events.Emitter,
	store *state.Store,
	logger *slog.Logger,
) *StepExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StepExecutor{
		engines:  engines,
		registry: registry,
		logs:     logs,
		emitter:  emitter,
		store:    store,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs step in cwd. Cancellation of ctx aborts the engine
// cooperatively; the abort surfaces as ErrAborted, never as a failure. All
// other engine errors are normalized to EngineError, and the agent run is
// marked failed.
func (x *StepExecutor) Execute(ctx context.Context, step *template.Step, cwd string, opts ExecOptions) (*engine.Result, error) {
	eng, fellBack, err := x.engines.Resolve(step.EngineID)
	if err != nil {
		return nil, err
	}
	if fellBack {
		x.emitter.MessageLog("warn", "engine "+step.EngineID+" not registered for agent "+step.AgentID+", using default")
	}
	engID := eng.Metadata().ID

	resuming := opts.ResumeMonitoringID != 0
	var id int64
	if resuming {
		id = opts.ResumeMonitoringID
		// Attach to the persisted run; after a process restart the record
		// is re-adopted under its original id.
		x.registry.Adopt(id, step.DisplayName(), engID)
	} else {
		id = x.registry.Register(step.DisplayName(), engID, opts.ParentID)
		x.emitter.MonitoringRegister(id, opts.ParentID, step.DisplayName(), engID)
	}

	model := step.Model
	if model == "" {
		model = eng.Metadata().DefaultModel
	}
	x.registry.SetModel(id, model)
	x.emitter.AgentEngine(id, engID)
	if model != "" {
		x.emitter.AgentModel(id, model)
	}

	logPath := x.store.AgentLogPath(id)
	x.registry.SetLogPath(id, logPath)
	if err := x.logs.Open(id, logPath); err != nil {
		x.logger.Warn("failed to open agent log", "error", err, "monitoring_id", id)
	}

	ec := engine.ExecContext{
		Cwd:             cwd,
		Model:           model,
		ReasoningEffort: step.ReasoningEffort,
		MonitoringID:    id,
		LogSink:         x.logs.Writer(id),
	}

	if resuming {
		ec.ResumeSessionID = opts.ResumeSessionID
		ec.ResumePrompt = opts.ResumePrompt
	} else {
		prompt, perr := template.ResolvePrompt(cwd, step.AgentID, step.PromptPaths)
		if perr != nil {
			x.registry.MarkStatus(id, monitoring.StatusFailed)
			x.emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusFailed)
			return nil, perr
		}
		ec.Prompt = prompt
		ec.PromptPaths = step.PromptPaths
	}

	// Engine-side updates arrive on the engine's goroutine and are
	// marshalled through this channel before being re-published on the bus.
	type update struct {
		telemetry *monitoring.Telemetry
		sessionID string
	}
	updates := make(chan update, 16)
	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		for u := range updates {
			if u.telemetry != nil {
				totals := x.registry.UpdateTelemetry(id, *u.telemetry)
				x.emitter.AgentTelemetry(id, totals)
			}
			if u.sessionID != "" {
				x.registry.SetSession(id, u.sessionID)
				if opts.OnSession != nil {
					opts.OnSession(id, u.sessionID)
				}
			}
		}
	}()
	ec.TelemetrySink = func(delta monitoring.Telemetry) {
		d := delta
		updates <- update{telemetry: &d}
	}
	ec.SessionSink = func(sessionID string) {
		updates <- update{sessionID: sessionID}
	}

	x.registry.MarkStatus(id, monitoring.StatusRunning)
	x.emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusRunning)

	var res *engine.Result
	if resuming {
		resumer, ok := eng.(engine.Resumer)
		if !ok {
			close(updates)
			pump.Wait()
			x.registry.MarkStatus(id, monitoring.StatusFailed)
			x.emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusFailed)
			return nil, &errors.EngineError{Engine: engID, Message: "engine does not support resume"}
		}
		res, err = resumer.Resume(ctx, ec)
	} else {
		res, err = eng.Execute(ctx, ec)
	}

	close(updates)
	pump.Wait()

	if err != nil {
		if errors.IsAbort(err) || ctx.Err() != nil {
			// Cooperative cancellation: the runner decides whether this
			// becomes a pause, a skip or a stop.
			return nil, errors.ErrAborted
		}
		x.registry.MarkStatus(id, monitoring.StatusFailed)
		x.emitter.UpdateAgentStatus(id, step.AgentID, monitoring.StatusFailed)
		return nil, errors.AsEngineError(engID, err)
	}

	if res.SessionID != "" {
		x.registry.SetSession(id, res.SessionID)
		if opts.OnSession != nil {
			opts.OnSession(id, res.SessionID)
		}
	}
	res.MonitoringID = id

	return res, nil
}
