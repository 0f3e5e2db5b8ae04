package workflow

import (
	"context"

	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
)

// UserInputProvider sources post-step input from the user through the signal
// hub. It publishes input:state so UIs can show the prompt, then blocks on
// workflow:input.
type UserInputProvider struct {
	emitter *events.Emitter
	signals *Signals
}

// NewUserInputProvider creates the user-backed provider.
func NewUserInputProvider(emitter *events.Emitter, signals *Signals) *UserInputProvider {
	return &UserInputProvider{emitter: emitter, signals: signals}
}

// GetInput publishes the active input state and blocks until the user
// answers, skips, stops, or switches to autonomous mode.
func (p *UserInputProvider) GetInput(ctx context.Context, ic InputContext) (*InputResult, error) {
	queued := make([]string, 0, len(ic.PromptQueue))
	for _, cp := range ic.PromptQueue {
		queued = append(queued, cp.Content)
	}
	p.emitter.InputState(true, queued, ic.PromptQueueIndex, ic.StepOutput.MonitoringID)

	for {
		select {
		case <-ctx.Done():
			return nil, errors.ErrAborted
		case <-p.signals.StopCh():
			return &InputResult{Type: InputTypeStop}, nil
		case <-p.signals.SkipCh():
			return &InputResult{Type: InputTypeSkip}, nil
		case mode := <-p.signals.ModeChangeCh():
			if mode.AutonomousMode {
				return &InputResult{Type: InputTypeSwitchMode, AutonomousMode: true}, nil
			}
			// Already manual; keep waiting.
		case msg := <-p.signals.InputCh():
			if msg.Skip {
				return &InputResult{Type: InputTypeSkip}, nil
			}
			return &InputResult{
				Type:               InputTypeInput,
				Value:              msg.Prompt,
				ResumeMonitoringID: ic.StepOutput.MonitoringID,
				Source:             "user",
			}, nil
		}
	}
}

// Deactivate publishes the inactive input state.
func (p *UserInputProvider) Deactivate() {
	p.emitter.InputState(false, nil, 0, 0)
}

// Activate implements Activator. Activation state is published per
// GetInput call, which carries the queue context.
func (p *UserInputProvider) Activate() {}
