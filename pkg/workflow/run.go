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
	"os"
	"path/filepath"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/internal/history"
	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
	"github.com/moazbuilds/codemachine/pkg/template"
)

// Options configures one Run invocation.
type Options struct {
	// Cwd is the run's working directory; defaults to the process cwd.
	Cwd string

	// TemplatePath selects the workflow template. Empty re-uses the pointer
	// persisted by a previous run in the same cwd.
	TemplatePath string

	// SpecificationPath, when set, is imported as the run's specification
	// file before validation.
	SpecificationPath string

	// Track and Conditions select the steps included in the run. They are
	// persisted alongside the template pointer.
	Track      string
	Conditions []string

	// AutonomousMode overrides the persisted mode when non-nil.
	AutonomousMode *bool

	// Engines is the engine registry; required.
	Engines *engine.Registry

	// Signals is the signal hub shared with the CLI and adapters. A nil
	// value creates a private hub.
	Signals *Signals

	// Adapters observe the run.
	Adapters []Adapter

	// Logger receives engine diagnostics.
	Logger *slog.Logger

	// DisableHistory turns off the run-history ledger.
	DisableHistory bool
}

// Run executes or resumes the workflow in the options' working directory and
// blocks until a terminal state. It returns nil on completed, ErrUserStop on
// stopped, and the failing error otherwise. Without a connected adapter,
// errors propagate immediately; with one, the run stays alive after an error
// until an adapter fires stop, so the failure can be displayed.
func Run(ctx context.Context, opts Options) error {
	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = wd
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.Engines == nil {
		return &errors.ValidationError{
			Field:      "engines",
			Message:    "no engine registry provided",
			Suggestion: "register the available engines before running",
		}
	}

	store := state.New(cwd)

	tpl, steps, err := prepareTemplate(store, opts)
	if err != nil {
		return err
	}

	if opts.SpecificationPath != "" {
		if err := store.ImportSpecification(opts.SpecificationPath); err != nil {
			return err
		}
	}
	if tpl.Specification && !store.HasSpecification() {
		return &errors.ValidationError{
			Field:      "specification",
			Message:    "template requires a specification but " + store.SpecificationPath() + " is missing",
			Suggestion: "provide one with --spec or create the file",
		}
	}

	ctrlOpts, runSteps := extractController(steps)

	autonomous, err := resolveMode(store, opts, ctrlOpts)
	if err != nil {
		return err
	}

	if err := syncEngineConfigs(ctx, opts.Engines, tpl); err != nil {
		return err
	}

	signals := opts.Signals
	if signals == nil {
		signals = NewSignals()
	}

	bus := events.NewBus(logger)
	emitter := events.NewEmitter(bus)
	registry := monitoring.NewRegistry()
	logs := agentlog.NewLogger()
	defer logs.CloseAll()

	for _, a := range opts.Adapters {
		a.Connect(bus)
		if sb, ok := a.(SignalBinder); ok {
			sb.BindSignals(signals)
		}
		if err := a.Start(); err != nil {
			return err
		}
	}
	defer func() {
		for _, a := range opts.Adapters {
			a.Stop()
			a.Disconnect()
		}
	}()

	var ledger *history.Store
	var runID string
	if !opts.DisableHistory {
		ledger, err = history.Open(filepath.Join(store.Dir(), "history.db"))
		if err != nil {
			logger.Warn("run history unavailable", "error", err)
		} else {
			defer ledger.Close()
			runID, err = ledger.BeginRun(ctx, tpl.Name)
			if err != nil {
				logger.Warn("run history begin failed", "error", err)
				runID = ""
			}
		}
	}

	runner, err := NewRunner(RunnerConfig{
		Cwd:            cwd,
		Template:       tpl,
		Steps:          runSteps,
		Engines:        opts.Engines,
		Registry:       registry,
		Logs:           logs,
		Emitter:        emitter,
		Store:          store,
		Signals:        signals,
		Controller:     ctrlOpts,
		AutonomousMode: autonomous,
		History:        ledger,
		HistoryRunID:   runID,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	runErr := runner.Run(ctx)

	if ledger != nil && runID != "" {
		status := "completed"
		switch {
		case errors.IsUserStop(runErr):
			status = "stopped"
		case runErr != nil:
			status = "error"
		}
		if err := ledger.FinishRun(context.Background(), runID, status); err != nil {
			logger.Warn("run history finish failed", "error", err)
		}
	}

	// With an adapter attached, keep the event loop alive after an error so
	// the UI can display it; the adapter signals exit through stop.
	if runErr != nil && !errors.IsUserStop(runErr) && bus.HasSubscribers() {
		select {
		case <-signals.StopCh():
		case <-ctx.Done():
		}
	}

	return runErr
}

// prepareTemplate resolves the template pointer, loads the template, and
// filters its steps by the selected track and conditions.
func prepareTemplate(store *state.Store, opts Options) (*template.Template, []template.Step, error) {
	ts, err := store.LoadTemplate()
	if err != nil {
		return nil, nil, err
	}
	if ts == nil {
		ts = &state.TemplateState{}
	}

	if opts.TemplatePath != "" {
		ts.TemplatePath = opts.TemplatePath
	}
	if opts.Track != "" {
		ts.SelectedTrack = opts.Track
	}
	if opts.Conditions != nil {
		ts.SelectedConditions = opts.Conditions
	}

	if ts.TemplatePath == "" {
		return nil, nil, &errors.ValidationError{
			Field:      "template",
			Message:    "no template selected",
			Suggestion: "pass --template on the first run in this directory",
		}
	}

	tpl, err := template.Load(ts.TemplatePath)
	if err != nil {
		return nil, nil, err
	}
	if ts.ProjectName == "" {
		ts.ProjectName = tpl.Name
	}

	if err := store.SaveTemplate(ts); err != nil {
		return nil, nil, err
	}

	steps := template.Filter(tpl.Steps, ts.SelectedTrack, ts.SelectedConditions)
	return tpl, steps, nil
}

// extractController pulls the controller definition out of the executable
// step list: the first controller step configures the controller agent and
// is never pumped as a regular step.
func extractController(steps []template.Step) (ControllerOptions, []template.Step) {
	var ctrl ControllerOptions
	out := make([]template.Step, 0, len(steps))
	for _, s := range steps {
		if s.Kind == template.KindController && ctrl.AgentID == "" {
			ctrl = ControllerOptions{
				AgentID:     s.AgentID,
				Name:        s.DisplayName(),
				EngineID:    s.EngineID,
				Model:       s.Model,
				PromptPaths: s.PromptPaths,
			}
			continue
		}
		out = append(out, s)
	}
	return ctrl, out
}

// resolveMode combines the persisted mode with the invocation override.
func resolveMode(store *state.Store, opts Options, ctrl ControllerOptions) (bool, error) {
	cs, err := store.LoadController()
	if err != nil {
		return false, err
	}

	autonomous := cs.AutonomousMode
	if opts.AutonomousMode != nil {
		autonomous = *opts.AutonomousMode
	}

	if autonomous != cs.AutonomousMode {
		cs.AutonomousMode = autonomous
		if err := store.SaveController(cs); err != nil {
			return false, err
		}
	}

	if autonomous && ctrl.AgentID == "" {
		return false, &errors.ValidationError{
			Field:      "controller",
			Message:    "autonomous mode requires a controller step in the template",
			Suggestion: "add a step with kind: controller or run without --auto",
		}
	}

	return autonomous, nil
}

// syncEngineConfigs gives each engine its one pre-run configuration sync.
func syncEngineConfigs(ctx context.Context, engines *engine.Registry, tpl *template.Template) error {
	var configs []engine.AgentConfig
	for i := range tpl.Steps {
		s := &tpl.Steps[i]
		if s.Kind == template.KindSeparator {
			continue
		}
		role := ""
		if s.Kind == template.KindController {
			role = "controller"
		}
		configs = append(configs, engine.AgentConfig{
			AgentID: s.AgentID,
			Name:    s.DisplayName(),
			Model:   s.Model,
			Role:    role,
		})
	}

	for _, e := range engines.All() {
		if syncer, ok := e.(engine.ConfigSyncer); ok {
			if err := syncer.SyncConfig(ctx, configs); err != nil {
				return errors.AsEngineError(e.Metadata().ID, err)
			}
		}
	}
	return nil
}
