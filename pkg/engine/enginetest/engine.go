// Package enginetest provides a scripted engine for testing the workflow
// core without any real LLM behind it.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

// Response defines one pre-configured engine result.
type Response struct {
	// Output is the assistant text to return.
	Output string

	// SessionID overrides the auto-assigned session id.
	SessionID string

	// ChainedPrompts are returned alongside the output.
	ChainedPrompts []engine.ChainedPrompt

	// LogLines are streamed to the log sink before returning.
	LogLines []string

	// Telemetry is reported as a delta before returning.
	Telemetry monitoring.Telemetry

	// Err is returned instead of a result.
	Err error

	// Block, when non-nil, is closed by the test to release the call. While
	// blocked the engine honors context cancellation, which is how abort
	// behavior is exercised.
	Block chan struct{}

	// Hook runs before the result is returned, standing in for side effects
	// a real agent performs in the working directory (e.g. writing the
	// directive file).
	Hook func(ec engine.ExecContext)
}

// Call records one Execute or Resume invocation for assertions.
type Call struct {
	Resumed bool
	Ctx     engine.ExecContext
}

// Engine is a scripted engine.Engine implementation. Responses are consumed
// in order across Execute and Resume calls; running past the script fails
// the call with a descriptive error.
type Engine struct {
	mu        sync.Mutex
	id        string
	model     string
	responses []Response
	next      int
	calls     []Call
	sessionN  int
	synced    [][]engine.AgentConfig
}

// New creates a scripted engine with the given id.
func New(id string, responses ...Response) *Engine {
	return &Engine{id: id, model: "test-model", responses: responses}
}

// Metadata implements engine.Engine.
func (e *Engine) Metadata() engine.Metadata {
	return engine.Metadata{ID: e.id, DefaultModel: e.model}
}

// Enqueue appends responses to the script.
func (e *Engine) Enqueue(responses ...Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, responses...)
}

// Calls returns a snapshot of the recorded invocations.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Synced returns the agent config lists passed to SyncConfig.
func (e *Engine) Synced() [][]engine.AgentConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}

// SyncConfig implements engine.ConfigSyncer.
func (e *Engine) SyncConfig(_ context.Context, agents []engine.AgentConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synced = append(e.synced, agents)
	return nil
}

// Execute implements engine.Engine.
func (e *Engine) Execute(ctx context.Context, ec engine.ExecContext) (*engine.Result, error) {
	return e.run(ctx, ec, false)
}

// Resume implements engine.Resumer.
func (e *Engine) Resume(ctx context.Context, ec engine.ExecContext) (*engine.Result, error) {
	return e.run(ctx, ec, true)
}

func (e *Engine) run(ctx context.Context, ec engine.ExecContext, resumed bool) (*engine.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Resumed: resumed, Ctx: ec})
	if e.next >= len(e.responses) {
		n := e.next
		e.mu.Unlock()
		return nil, fmt.Errorf("enginetest: no scripted response for call %d", n)
	}
	resp := e.responses[e.next]
	e.next++
	e.sessionN++
	sessionN := e.sessionN
	e.mu.Unlock()

	sessionID := resp.SessionID
	if sessionID == "" {
		if resumed && ec.ResumeSessionID != "" {
			sessionID = ec.ResumeSessionID
		} else {
			sessionID = fmt.Sprintf("%s-session-%d", e.id, sessionN)
		}
	}
	// Report the session before any blocking, the way real engines learn
	// their session id from the first subprocess handshake.
	if ec.SessionSink != nil && resp.Err == nil {
		ec.SessionSink(sessionID)
	}

	if resp.Block != nil {
		select {
		case <-resp.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, line := range resp.LogLines {
		if ec.LogSink != nil {
			fmt.Fprintln(ec.LogSink, line)
		}
	}
	if ec.TelemetrySink != nil && resp.Telemetry != (monitoring.Telemetry{}) {
		ec.TelemetrySink(resp.Telemetry)
	}

	if resp.Hook != nil {
		resp.Hook(ec)
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	return &engine.Result{
		Output:         resp.Output,
		SessionID:      sessionID,
		ChainedPrompts: resp.ChainedPrompts,
		MonitoringID:   ec.MonitoringID,
	}, nil
}
