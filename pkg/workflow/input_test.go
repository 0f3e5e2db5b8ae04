package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
)

func getInputAsync(p InputProvider, ctx context.Context, ic InputContext) chan *InputResult {
	ch := make(chan *InputResult, 1)
	go func() {
		res, err := p.GetInput(ctx, ic)
		if err != nil {
			ch <- nil
			return
		}
		ch <- res
	}()
	return ch
}

func waitResult(t *testing.T, ch chan *InputResult) *InputResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("provider did not return")
		return nil
	}
}

func TestUserProviderPublishesInputState(t *testing.T) {
	bus := events.NewBus(nil)
	var published []events.Event
	bus.Subscribe(func(ev events.Event) { published = append(published, ev) })

	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(bus), signals)

	ic := InputContext{
		StepOutput:  StepOutput{MonitoringID: 4},
		PromptQueue: []engine.ChainedPrompt{{Name: "x", Content: "do X"}},
	}

	signals.Input(InputMessage{Prompt: "do X"})
	res := waitResult(t, getInputAsync(p, context.Background(), ic))

	require.Equal(t, InputTypeInput, res.Type)
	assert.Equal(t, "do X", res.Value)
	assert.Equal(t, "user", res.Source)
	assert.Equal(t, int64(4), res.ResumeMonitoringID)

	require.NotEmpty(t, published)
	state, ok := published[0].(events.InputState)
	require.True(t, ok)
	assert.True(t, state.Active)
	assert.Equal(t, []string{"do X"}, state.QueuedPrompts)
	assert.Equal(t, int64(4), state.MonitoringID)

	p.Deactivate()
	last, ok := published[len(published)-1].(events.InputState)
	require.True(t, ok)
	assert.False(t, last.Active)
}

func TestUserProviderEmptyPromptAdvances(t *testing.T) {
	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(events.NewBus(nil)), signals)

	signals.Input(InputMessage{Prompt: ""})
	res := waitResult(t, getInputAsync(p, context.Background(), InputContext{}))

	require.Equal(t, InputTypeInput, res.Type)
	assert.Empty(t, res.Value)
}

func TestUserProviderSkip(t *testing.T) {
	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(events.NewBus(nil)), signals)

	signals.Input(InputMessage{Skip: true})
	res := waitResult(t, getInputAsync(p, context.Background(), InputContext{}))
	assert.Equal(t, InputTypeSkip, res.Type)

	signals.Skip()
	res = waitResult(t, getInputAsync(p, context.Background(), InputContext{}))
	assert.Equal(t, InputTypeSkip, res.Type)
}

func TestUserProviderStop(t *testing.T) {
	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(events.NewBus(nil)), signals)

	signals.Stop()
	res := waitResult(t, getInputAsync(p, context.Background(), InputContext{}))
	assert.Equal(t, InputTypeStop, res.Type)
}

func TestUserProviderSwitchToAuto(t *testing.T) {
	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(events.NewBus(nil)), signals)

	signals.SetMode(true)
	res := waitResult(t, getInputAsync(p, context.Background(), InputContext{}))
	require.Equal(t, InputTypeSwitchMode, res.Type)
	assert.True(t, res.AutonomousMode)
}

func TestUserProviderAbortsOnContextCancel(t *testing.T) {
	signals := NewSignals()
	p := NewUserInputProvider(events.NewEmitter(events.NewBus(nil)), signals)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.GetInput(ctx, InputContext{})
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.IsAbort(err))
	case <-time.After(2 * time.Second):
		t.Fatal("provider did not honor cancellation")
	}
}
