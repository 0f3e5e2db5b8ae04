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

// Package console is the reference UI adapter: a headless renderer that
// prints workflow events to a writer. The engine core never draws; this
// adapter is the thinnest thing that makes a run observable from a plain
// terminal, and doubles as the adapter used in tests.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/moazbuilds/codemachine/internal/agentlog"
	"github.com/moazbuilds/codemachine/pkg/events"
	"github.com/moazbuilds/codemachine/pkg/workflow"
)

// Adapter renders workflow events as styled lines on a writer.
type Adapter struct {
	mu          sync.Mutex
	out         io.Writer
	unsubscribe func()
	running     bool
	signals     *workflow.Signals
	logger      *slog.Logger

	// follow streams agent logs live when a tailer can be attached.
	follow  bool
	tailers map[int64]*agentlog.Tailer
	paths   map[int64]string
}

// New creates a console adapter writing to out. A nil out writes to stdout.
func New(out io.Writer, logger *slog.Logger) *Adapter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		out:     out,
		logger:  logger.With("component", "console"),
		tailers: make(map[int64]*agentlog.Tailer),
		paths:   make(map[int64]string),
	}
}

// FollowLogs enables live agent log streaming through fsnotify tailers.
func (a *Adapter) FollowLogs(follow bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.follow = follow
}

// Connect implements workflow.Adapter.
func (a *Adapter) Connect(bus *events.Bus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		return
	}
	a.unsubscribe = bus.Subscribe(a.handle)
}

// Disconnect implements workflow.Adapter.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// Start implements workflow.Adapter.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	return nil
}

// Stop implements workflow.Adapter.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	for id, t := range a.tailers {
		t.Stop()
		delete(a.tailers, id)
	}
	return nil
}

// IsRunning implements workflow.Adapter.
func (a *Adapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// IsConnected implements workflow.Adapter.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsubscribe != nil
}

// BindSignals implements workflow.SignalBinder so the adapter can surface
// user actions as process signals.
func (a *Adapter) BindSignals(signals *workflow.Signals) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals = signals
}

// handle renders one event. The bus dispatches synchronously, so rendering
// stays in publish order.
func (a *Adapter) handle(ev events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}

	switch e := ev.(type) {
	case events.WorkflowStarted:
		fmt.Fprintln(a.out, styleHeader.Render(fmt.Sprintf("workflow started (%d steps)", e.TotalSteps)))
	case events.WorkflowStatus:
		fmt.Fprintln(a.out, styleMuted.Render("workflow: "+e.Status))
	case events.WorkflowStopped:
		fmt.Fprintln(a.out, styleWarn.Render("workflow stopped"))
	case events.AgentAdded:
		fmt.Fprintf(a.out, "%s %s\n", styleMuted.Render(fmt.Sprintf("[%d]", e.StepIndex)), e.Name)
	case events.AgentStatus:
		fmt.Fprintf(a.out, "%s agent#%d %s\n", statusSymbol(e.Status), e.MonitoringID, e.Status)
	case events.AgentTelemetry:
		fmt.Fprintln(a.out, styleMuted.Render(fmt.Sprintf(
			"agent#%d tokens in=%d out=%d", e.MonitoringID, e.Telemetry.TokensIn, e.Telemetry.TokensOut)))
	case events.MonitoringRegister:
		a.attachTailer(e.MonitoringID)
	case events.SeparatorAdd:
		fmt.Fprintln(a.out, styleHeader.Render("── "+e.Label+" ──"))
	case events.LoopState:
		fmt.Fprintln(a.out, styleWarn.Render(fmt.Sprintf(
			"loop %s iteration %d/%d", e.SourceAgent, e.Iteration, e.MaxIterations)))
	case events.LoopClear:
		fmt.Fprintln(a.out, styleMuted.Render("loop "+e.SourceAgent+" cleared"))
	case events.CheckpointState:
		if e.Active {
			fmt.Fprintln(a.out, styleWarn.Render("checkpoint: waiting for review — "+e.Reason))
		}
	case events.CheckpointClear:
		fmt.Fprintln(a.out, styleMuted.Render("checkpoint resolved"))
	case events.InputState:
		if e.Active {
			fmt.Fprintln(a.out, styleInfo.Render(fmt.Sprintf(
				"input requested (queued %d/%d)", e.CurrentIndex, len(e.QueuedPrompts))))
		}
	case events.ControllerStatus:
		fmt.Fprintln(a.out, styleInfo.Render("controller: "+string(e.Status)))
	case events.MessageLog:
		style := styleMuted
		switch e.Level {
		case "warn":
			style = styleWarn
		case "error":
			style = styleError
		}
		fmt.Fprintln(a.out, style.Render(e.Message))
	}
}

// attachTailer follows a newly registered agent's log when following is on.
// The registry announces the id before the log file exists, which the tailer
// tolerates by watching the parent directory.
func (a *Adapter) attachTailer(id int64) {
	if !a.follow {
		return
	}
	path, ok := a.paths[id]
	if !ok {
		return
	}
	t, err := agentlog.NewTailer(path, a.logger)
	if err != nil {
		a.logger.Warn("failed to tail agent log", "error", err, "monitoring_id", id)
		return
	}
	a.tailers[id] = t
	go func() {
		for line := range t.Lines() {
			fmt.Fprintln(a.out, renderLogLine(line))
		}
	}()
}

// WatchAgentLog registers a log path for live streaming of one agent run.
func (a *Adapter) WatchAgentLog(id int64, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths[id] = path
	if a.follow && a.running {
		a.attachTailer(id)
	}
}
