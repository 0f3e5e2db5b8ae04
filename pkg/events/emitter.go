package events

import (
	"github.com/moazbuilds/codemachine/pkg/monitoring"
)

// Emitter is the typed facade components publish through. One method per
// event family; every method constructs the event even when no subscriber is
// attached, and the bus discards it.
type Emitter struct {
	bus *Bus
}

// NewEmitter wraps a bus in the typed facade.
func NewEmitter(bus *Bus) *Emitter {
	return &Emitter{bus: bus}
}

// Bus returns the underlying bus for adapter connection.
func (e *Emitter) Bus() *Bus {
	return e.bus
}

// WorkflowStarted announces the run and its executable step count.
func (e *Emitter) WorkflowStarted(totalSteps int) {
	e.bus.Publish(WorkflowStarted{TotalSteps: totalSteps})
}

// WorkflowStatus announces a workflow state transition.
func (e *Emitter) WorkflowStatus(status string) {
	e.bus.Publish(WorkflowStatus{Status: status})
}

// WorkflowStopped announces user termination.
func (e *Emitter) WorkflowStopped(reason string) {
	e.bus.Publish(WorkflowStopped{Reason: reason})
}

// AgentAdded announces a roster entry for a step agent.
func (e *Emitter) AgentAdded(stepIndex int, agentID, name string) {
	e.bus.Publish(AgentAdded{StepIndex: stepIndex, AgentID: agentID, Name: name})
}

// UpdateAgentStatus announces an agent run status change.
func (e *Emitter) UpdateAgentStatus(monitoringID int64, agentID string, status monitoring.Status) {
	e.bus.Publish(AgentStatus{MonitoringID: monitoringID, AgentID: agentID, Status: status})
}

// AgentEngine announces the engine resolved for a run.
func (e *Emitter) AgentEngine(monitoringID int64, engineID string) {
	e.bus.Publish(AgentEngine{MonitoringID: monitoringID, EngineID: engineID})
}

// AgentModel announces the model resolved for a run.
func (e *Emitter) AgentModel(monitoringID int64, model string) {
	e.bus.Publish(AgentModel{MonitoringID: monitoringID, Model: model})
}

// AgentTelemetry announces rolled-up telemetry totals for a run.
func (e *Emitter) AgentTelemetry(monitoringID int64, totals monitoring.Telemetry) {
	e.bus.Publish(AgentTelemetry{MonitoringID: monitoringID, Telemetry: totals})
}

// AgentReset announces a run being reset for re-execution.
func (e *Emitter) AgentReset(monitoringID int64) {
	e.bus.Publish(AgentReset{MonitoringID: monitoringID})
}

// ControllerInfo announces the configured controller agent.
func (e *Emitter) ControllerInfo(agentID, name string) {
	e.bus.Publish(ControllerInfo{AgentID: agentID, Name: name})
}

// ControllerEngine announces the controller's engine.
func (e *Emitter) ControllerEngine(engineID string) {
	e.bus.Publish(ControllerEngine{EngineID: engineID})
}

// ControllerModel announces the controller's model.
func (e *Emitter) ControllerModel(model string) {
	e.bus.Publish(ControllerModel{Model: model})
}

// ControllerTelemetry announces the controller's rolled-up telemetry.
func (e *Emitter) ControllerTelemetry(totals monitoring.Telemetry) {
	e.bus.Publish(ControllerTelemetry{Telemetry: totals})
}

// ControllerStatus announces a controller run status change.
func (e *Emitter) ControllerStatus(status monitoring.Status) {
	e.bus.Publish(ControllerStatus{Status: status})
}

// ControllerMonitoring announces the controller's monitoring id.
func (e *Emitter) ControllerMonitoring(monitoringID int64) {
	e.bus.Publish(ControllerMonitoring{MonitoringID: monitoringID})
}

// SubagentAdded announces one sub-agent under a parent run.
func (e *Emitter) SubagentAdded(monitoringID, parentID int64, name string) {
	e.bus.Publish(SubagentAdded{MonitoringID: monitoringID, ParentID: parentID, Name: name})
}

// SubagentBatch announces several sub-agents at once.
func (e *Emitter) SubagentBatch(subagents []SubagentAdded) {
	e.bus.Publish(SubagentBatch{Subagents: subagents})
}

// SubagentStatus announces a sub-agent status change.
func (e *Emitter) SubagentStatus(monitoringID int64, status monitoring.Status) {
	e.bus.Publish(SubagentStatus{MonitoringID: monitoringID, Status: status})
}

// SubagentClear announces removal of a parent's sub-agent group.
func (e *Emitter) SubagentClear(parentID int64) {
	e.bus.Publish(SubagentClear{ParentID: parentID})
}

// LoopState announces an active loop rewind.
func (e *Emitter) LoopState(sourceAgent string, iteration, maxIterations int) {
	e.bus.Publish(LoopState{SourceAgent: sourceAgent, Iteration: iteration, MaxIterations: maxIterations})
}

// LoopClear announces forward exit from a loop.
func (e *Emitter) LoopClear(sourceAgent string) {
	e.bus.Publish(LoopClear{SourceAgent: sourceAgent})
}

// CheckpointState announces a checkpoint pause.
func (e *Emitter) CheckpointState(active bool, reason string) {
	e.bus.Publish(CheckpointState{Active: active, Reason: reason})
}

// CheckpointClear announces checkpoint resolution.
func (e *Emitter) CheckpointClear() {
	e.bus.Publish(CheckpointClear{})
}

// InputState announces the user input prompt state.
func (e *Emitter) InputState(active bool, queuedPrompts []string, currentIndex int, monitoringID int64) {
	e.bus.Publish(InputState{
		Active:        active,
		QueuedPrompts: queuedPrompts,
		CurrentIndex:  currentIndex,
		MonitoringID:  monitoringID,
	})
}

// SeparatorAdd announces a separator UI element.
func (e *Emitter) SeparatorAdd(stepIndex int, label string) {
	e.bus.Publish(SeparatorAdd{StepIndex: stepIndex, Label: label})
}

// MessageLog publishes a free-form log line to the UI message pane.
func (e *Emitter) MessageLog(level, message string) {
	e.bus.Publish(MessageLog{Level: level, Message: message})
}

// MonitoringRegister announces a new monitoring registry record.
func (e *Emitter) MonitoringRegister(monitoringID, parentID int64, name, engineID string) {
	e.bus.Publish(MonitoringRegister{
		MonitoringID: monitoringID,
		ParentID:     parentID,
		Name:         name,
		EngineID:     engineID,
	})
}
