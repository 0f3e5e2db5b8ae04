package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/internal/state"
	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/engine/enginetest"
	"github.com/moazbuilds/codemachine/pkg/errors"
	"github.com/moazbuilds/codemachine/pkg/events"
)

const runTemplate = `
name: smoke
steps:
  - agent: agent-a
    name: A
    prompt: prompts/a.md
  - agent: agent-b
    name: B
    prompt: prompts/b.md
`

func writeRunFixture(t *testing.T, cwd, tpl string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "prompts", "a.md"), []byte("prompt a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "prompts", "b.md"), []byte("prompt b"), 0o644))
	tplPath := filepath.Join(cwd, "workflow.yaml")
	require.NoError(t, os.WriteFile(tplPath, []byte(tpl), 0o644))
	return tplPath
}

// autoAdvance answers every input request with an empty prompt.
func autoAdvance(signals *Signals) Adapter {
	return &advanceAdapter{signals: signals}
}

type advanceAdapter struct {
	signals     *Signals
	unsubscribe func()
	running     bool
}

func (a *advanceAdapter) Connect(bus *events.Bus) {
	a.unsubscribe = bus.Subscribe(func(ev events.Event) {
		if st, ok := ev.(events.InputState); ok && st.Active {
			a.signals.Input(InputMessage{Prompt: ""})
		}
	})
}
func (a *advanceAdapter) Disconnect() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}
func (a *advanceAdapter) Start() error    { a.running = true; return nil }
func (a *advanceAdapter) Stop() error     { a.running = false; return nil }
func (a *advanceAdapter) IsRunning() bool { return a.running }
func (a *advanceAdapter) IsConnected() bool {
	return a.unsubscribe != nil
}

func TestRunCompletesWorkflow(t *testing.T) {
	cwd := t.TempDir()
	tplPath := writeRunFixture(t, cwd, runTemplate)

	engines := engine.NewRegistry()
	engines.Register(enginetest.New("claude",
		enginetest.Response{Output: "a done"},
		enginetest.Response{Output: "b done"},
	))

	signals := NewSignals()
	err := Run(context.Background(), Options{
		Cwd:          cwd,
		TemplatePath: tplPath,
		Engines:      engines,
		Signals:      signals,
		Adapters:     []Adapter{autoAdvance(signals)},
	})
	require.NoError(t, err)

	// The template pointer was persisted for subsequent runs.
	store := state.New(cwd)
	ts, err := store.LoadTemplate()
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, tplPath, ts.TemplatePath)
	assert.Equal(t, "smoke", ts.ProjectName)

	// Both steps completed, and the history ledger recorded the run.
	assert.True(t, store.StepCompleted(0))
	assert.True(t, store.StepCompleted(1))
	_, err = os.Stat(filepath.Join(store.Dir(), "history.db"))
	assert.NoError(t, err)
}

func TestRunReusesPersistedTemplatePointer(t *testing.T) {
	cwd := t.TempDir()
	tplPath := writeRunFixture(t, cwd, runTemplate)

	engines := engine.NewRegistry()
	eng := enginetest.New("claude",
		enginetest.Response{Output: "a done"},
		enginetest.Response{Output: "b done"},
	)
	engines.Register(eng)

	signals := NewSignals()
	require.NoError(t, Run(context.Background(), Options{
		Cwd:          cwd,
		TemplatePath: tplPath,
		Engines:      engines,
		Signals:      signals,
		Adapters:     []Adapter{autoAdvance(signals)},
	}))

	// Second invocation without --template: the persisted pointer must
	// resolve.
	signals2 := NewSignals()
	engines2 := engine.NewRegistry()
	eng2 := enginetest.New("claude")
	engines2.Register(eng2)

	// All steps completed: the runner walks through resumable/fresh checks.
	// Completed steps are not resumable, so they re-run; enqueue responses.
	eng2.Enqueue(
		enginetest.Response{Output: "a again"},
		enginetest.Response{Output: "b again"},
	)
	require.NoError(t, Run(context.Background(), Options{
		Cwd:      cwd,
		Engines:  engines2,
		Signals:  signals2,
		Adapters: []Adapter{autoAdvance(signals2)},
	}))
}

func TestRunRequiresTemplate(t *testing.T) {
	engines := engine.NewRegistry()
	engines.Register(enginetest.New("claude"))

	err := Run(context.Background(), Options{
		Cwd:     t.TempDir(),
		Engines: engines,
	})
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "template", ve.Field)
}

const specTemplate = `
name: spec-required
specification: true
steps:
  - agent: agent-a
    name: A
    prompt: prompts/a.md
  - agent: agent-b
    name: B
    prompt: prompts/b.md
`

func TestRunValidatesSpecification(t *testing.T) {
	cwd := t.TempDir()
	tplPath := writeRunFixture(t, cwd, specTemplate)

	engines := engine.NewRegistry()
	engines.Register(enginetest.New("claude"))

	t.Run("missing specification fails before any step", func(t *testing.T) {
		err := Run(context.Background(), Options{
			Cwd:          cwd,
			TemplatePath: tplPath,
			Engines:      engines,
		})
		var ve *errors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "specification", ve.Field)
	})

	t.Run("imported specification satisfies the requirement", func(t *testing.T) {
		specSrc := filepath.Join(cwd, "my-spec.md")
		require.NoError(t, os.WriteFile(specSrc, []byte("# spec"), 0o644))

		engines := engine.NewRegistry()
		engines.Register(enginetest.New("claude",
			enginetest.Response{Output: "a done"},
			enginetest.Response{Output: "b done"},
		))

		signals := NewSignals()
		err := Run(context.Background(), Options{
			Cwd:               cwd,
			TemplatePath:      tplPath,
			SpecificationPath: specSrc,
			Engines:           engines,
			Signals:           signals,
			Adapters:          []Adapter{autoAdvance(signals)},
		})
		require.NoError(t, err)
	})
}

func TestRunSyncsEngineConfigs(t *testing.T) {
	cwd := t.TempDir()
	tplPath := writeRunFixture(t, cwd, runTemplate)

	engines := engine.NewRegistry()
	eng := enginetest.New("claude",
		enginetest.Response{Output: "a done"},
		enginetest.Response{Output: "b done"},
	)
	engines.Register(eng)

	signals := NewSignals()
	require.NoError(t, Run(context.Background(), Options{
		Cwd:          cwd,
		TemplatePath: tplPath,
		Engines:      engines,
		Signals:      signals,
		Adapters:     []Adapter{autoAdvance(signals)},
	}))

	synced := eng.Synced()
	require.Len(t, synced, 1, "syncConfig is called once per workflow")
	require.Len(t, synced[0], 2)
	assert.Equal(t, "agent-a", synced[0][0].AgentID)
	assert.Equal(t, "agent-b", synced[0][1].AgentID)
}

func TestRunRequiresEngines(t *testing.T) {
	err := Run(context.Background(), Options{Cwd: t.TempDir()})
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
}
