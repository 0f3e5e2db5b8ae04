// Package engine defines the pluggable contract between the workflow core and
// the processes that actually drive an LLM.
//
// The core never speaks any LLM API itself. An Engine executes one agent run,
// streams output through the provided sinks, and reports an engine-assigned
// session id that must stay stable across resumes of the same logical run.
package engine

import (
	"context"
	"io"

	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

// Metadata describes an engine implementation.
type Metadata struct {
	// ID is the engine's registry id (e.g., "claude", "codex").
	ID string

	// DefaultModel is used when a step does not pin a model.
	DefaultModel string
}

// TelemetrySink receives incremental telemetry deltas while a run streams.
type TelemetrySink func(delta monitoring.Telemetry)

// ExecContext carries everything an engine needs for one execution.
// Cancellation flows through the context passed to Execute/Resume; engines
// must stop their subprocesses cooperatively when it fires.
type ExecContext struct {
	// Cwd is the working directory the agent operates in.
	Cwd string

	// Prompt is the fully resolved prompt text.
	Prompt string

	// PromptPaths are the source files Prompt was concatenated from, for
	// engines that prefer passing files to their subprocess.
	PromptPaths []string

	// Model overrides the engine default when non-empty.
	Model string

	// ReasoningEffort is one of "low", "medium", "high", or empty.
	ReasoningEffort string

	// MonitoringID identifies the run in the monitoring registry.
	MonitoringID int64

	// LogSink receives streamed output; writes land in the agent log.
	LogSink io.Writer

	// TelemetrySink receives incremental telemetry deltas. May be nil.
	TelemetrySink TelemetrySink

	// SessionSink receives the engine-assigned session id as soon as it is
	// known, so an aborted run can still be resumed. May be nil.
	SessionSink func(sessionID string)

	// ResumeSessionID, when set, resumes the engine-level conversation.
	ResumeSessionID string

	// ResumePrompt is the user input to replay into a resumed session.
	ResumePrompt string
}

// ChainedPrompt is an additional prompt an engine returns alongside its
// output, to be replayed into the same session as a subsequent user input.
type ChainedPrompt struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Content string `json:"content"`
}

// Result is the outcome of one engine execution.
type Result struct {
	// Output is the final flattened assistant text.
	Output string

	// SessionID is the engine-assigned session identifier. Once returned it
	// must be stable across resumes of the same logical run.
	SessionID string

	// ChainedPrompts, when non-empty, are replayed into the same session in
	// order.
	ChainedPrompts []ChainedPrompt

	// MonitoringID echoes the run this result belongs to.
	MonitoringID int64
}

// Engine executes agent runs. Errors other than cooperative abort are
// surfaced as engine errors by the step executor.
type Engine interface {
	// Metadata returns the engine's id and defaults.
	Metadata() Metadata

	// Execute runs a fresh execution.
	Execute(ctx context.Context, ec ExecContext) (*Result, error)
}

// Resumer is implemented by engines that support resuming a session.
type Resumer interface {
	// Resume continues the session identified by ec.ResumeSessionID,
	// replaying ec.ResumePrompt as the next user input.
	Resume(ctx context.Context, ec ExecContext) (*Result, error)
}

// AgentConfig describes one template agent for pre-run configuration sync.
type AgentConfig struct {
	AgentID string
	Name    string
	Model   string

	// Role distinguishes ordinary agents from the controller.
	Role string
}

// ConfigSyncer is implemented by engines that need a pre-run configuration
// sync. It is called once per workflow with the full list of agent configs.
type ConfigSyncer interface {
	SyncConfig(ctx context.Context, agents []AgentConfig) error
}

// SupportsResume reports whether e can resume sessions.
func SupportsResume(e Engine) bool {
	_, ok := e.(Resumer)
	return ok
}
