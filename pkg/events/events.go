// Package events implements the in-process event bus that fans workflow
// events out to UI adapters.
//
// Events are a closed sum: one concrete struct per event name, dispatched by
// type so subscribers need a single switch site. The bus is synchronous and
// single-threaded — per-subscriber ordering is FIFO and matches publish
// order, and no back-pressure exists. Publishers are expected to publish from
// the scheduler goroutine; engine-side updates are marshalled through the
// executor before being re-published.
package events

import (
	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

// Type identifies an event family and name.
type Type string

// Event names. Each carries only serializable fields.
const (
	TypeWorkflowStarted Type = "workflow:started"
	TypeWorkflowStatus  Type = "workflow:status"
	TypeWorkflowStopped Type = "workflow:stopped"

	TypeAgentAdded     Type = "agent:added"
	TypeAgentStatus    Type = "agent:status"
	TypeAgentEngine    Type = "agent:engine"
	TypeAgentModel     Type = "agent:model"
	TypeAgentTelemetry Type = "agent:telemetry"
	TypeAgentReset     Type = "agent:reset"

	TypeControllerInfo       Type = "controller:info"
	TypeControllerEngine     Type = "controller:engine"
	TypeControllerModel      Type = "controller:model"
	TypeControllerTelemetry  Type = "controller:telemetry"
	TypeControllerStatus     Type = "controller:status"
	TypeControllerMonitoring Type = "controller:monitoring"

	TypeSubagentAdded  Type = "subagent:added"
	TypeSubagentBatch  Type = "subagent:batch"
	TypeSubagentStatus Type = "subagent:status"
	TypeSubagentClear  Type = "subagent:clear"

	TypeLoopState Type = "loop:state"
	TypeLoopClear Type = "loop:clear"

	TypeCheckpointState Type = "checkpoint:state"
	TypeCheckpointClear Type = "checkpoint:clear"

	TypeInputState Type = "input:state"

	TypeSeparatorAdd Type = "separator:add"

	TypeMessageLog Type = "message:log"

	TypeMonitoringRegister Type = "monitoring:register"
)

// Event is implemented by every event in the closed sum.
type Event interface {
	EventType() Type
}

// WorkflowStarted announces a run with its total executable step count.
type WorkflowStarted struct {
	TotalSteps int `json:"totalSteps"`
}

// WorkflowStatus announces a workflow state transition.
type WorkflowStatus struct {
	Status string `json:"status"`
}

// WorkflowStopped announces run termination by the user.
type WorkflowStopped struct {
	Reason string `json:"reason,omitempty"`
}

// AgentAdded announces a step agent in the run roster.
type AgentAdded struct {
	StepIndex int    `json:"stepIndex"`
	AgentID   string `json:"agentId"`
	Name      string `json:"name"`
}

// AgentStatus announces an agent run status change.
type AgentStatus struct {
	MonitoringID int64             `json:"monitoringId"`
	AgentID      string            `json:"agentId,omitempty"`
	Status       monitoring.Status `json:"status"`
}

// AgentEngine announces the engine resolved for an agent run.
type AgentEngine struct {
	MonitoringID int64  `json:"monitoringId"`
	EngineID     string `json:"engineId"`
}

// AgentModel announces the model resolved for an agent run.
type AgentModel struct {
	MonitoringID int64  `json:"monitoringId"`
	Model        string `json:"model"`
}

// AgentTelemetry carries an agent run's rolled-up telemetry totals.
type AgentTelemetry struct {
	MonitoringID int64                `json:"monitoringId"`
	Telemetry    monitoring.Telemetry `json:"telemetry"`
}

// AgentReset announces an agent run being reset for re-execution.
type AgentReset struct {
	MonitoringID int64 `json:"monitoringId"`
}

// ControllerInfo announces the configured controller agent.
type ControllerInfo struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name,omitempty"`
}

// ControllerEngine announces the controller's engine.
type ControllerEngine struct {
	EngineID string `json:"engineId"`
}

// ControllerModel announces the controller's model.
type ControllerModel struct {
	Model string `json:"model"`
}

// ControllerTelemetry carries the controller's rolled-up telemetry totals.
type ControllerTelemetry struct {
	Telemetry monitoring.Telemetry `json:"telemetry"`
}

// ControllerStatus announces a controller run status change.
type ControllerStatus struct {
	Status monitoring.Status `json:"status"`
}

// ControllerMonitoring announces the controller's monitoring id.
type ControllerMonitoring struct {
	MonitoringID int64 `json:"monitoringId"`
}

// SubagentAdded announces one sub-agent spawned under a parent run.
type SubagentAdded struct {
	MonitoringID int64  `json:"monitoringId"`
	ParentID     int64  `json:"parentId"`
	Name         string `json:"name"`
}

// SubagentBatch announces several sub-agents at once.
type SubagentBatch struct {
	Subagents []SubagentAdded `json:"subagents"`
}

// SubagentStatus announces a sub-agent status change.
type SubagentStatus struct {
	MonitoringID int64             `json:"monitoringId"`
	Status       monitoring.Status `json:"status"`
}

// SubagentClear announces removal of a parent's sub-agent display group.
type SubagentClear struct {
	ParentID int64 `json:"parentId"`
}

// LoopState announces an active loop rewind.
type LoopState struct {
	SourceAgent   string `json:"sourceAgent"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"maxIterations"`
}

// LoopClear announces forward exit from a loop.
type LoopClear struct {
	SourceAgent string `json:"sourceAgent"`
}

// CheckpointState announces a checkpoint pause for human review.
type CheckpointState struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// CheckpointClear announces checkpoint resolution.
type CheckpointClear struct{}

// InputState announces whether the user input prompt is active, along with
// the queued chained prompts.
type InputState struct {
	Active        bool     `json:"active"`
	QueuedPrompts []string `json:"queuedPrompts,omitempty"`
	CurrentIndex  int      `json:"currentIndex"`
	MonitoringID  int64    `json:"monitoringId,omitempty"`
}

// SeparatorAdd announces a separator UI element.
type SeparatorAdd struct {
	StepIndex int    `json:"stepIndex"`
	Label     string `json:"label"`
}

// MessageLog carries a free-form log line for the UI message pane.
type MessageLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// MonitoringRegister announces a new monitoring registry record.
type MonitoringRegister struct {
	MonitoringID int64  `json:"monitoringId"`
	ParentID     int64  `json:"parentId,omitempty"`
	Name         string `json:"name"`
	EngineID     string `json:"engineId"`
}

// EventType implementations for the closed sum.

func (WorkflowStarted) EventType() Type      { return TypeWorkflowStarted }
func (WorkflowStatus) EventType() Type       { return TypeWorkflowStatus }
func (WorkflowStopped) EventType() Type      { return TypeWorkflowStopped }
func (AgentAdded) EventType() Type           { return TypeAgentAdded }
func (AgentStatus) EventType() Type          { return TypeAgentStatus }
func (AgentEngine) EventType() Type          { return TypeAgentEngine }
func (AgentModel) EventType() Type           { return TypeAgentModel }
func (AgentTelemetry) EventType() Type       { return TypeAgentTelemetry }
func (AgentReset) EventType() Type           { return TypeAgentReset }
func (ControllerInfo) EventType() Type       { return TypeControllerInfo }
func (ControllerEngine) EventType() Type     { return TypeControllerEngine }
func (ControllerModel) EventType() Type      { return TypeControllerModel }
func (ControllerTelemetry) EventType() Type  { return TypeControllerTelemetry }
func (ControllerStatus) EventType() Type     { return TypeControllerStatus }
func (ControllerMonitoring) EventType() Type { return TypeControllerMonitoring }
func (SubagentAdded) EventType() Type        { return TypeSubagentAdded }
func (SubagentBatch) EventType() Type        { return TypeSubagentBatch }
func (SubagentStatus) EventType() Type       { return TypeSubagentStatus }
func (SubagentClear) EventType() Type        { return TypeSubagentClear }
func (LoopState) EventType() Type            { return TypeLoopState }
func (LoopClear) EventType() Type            { return TypeLoopClear }
func (CheckpointState) EventType() Type      { return TypeCheckpointState }
func (CheckpointClear) EventType() Type      { return TypeCheckpointClear }
func (InputState) EventType() Type           { return TypeInputState }
func (SeparatorAdd) EventType() Type         { return TypeSeparatorAdd }
func (MessageLog) EventType() Type           { return TypeMessageLog }
func (MonitoringRegister) EventType() Type   { return TypeMonitoringRegister }
