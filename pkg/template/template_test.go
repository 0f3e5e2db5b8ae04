package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/pkg/errors"
)

const sampleTemplate = `
name: build-pipeline
specification: true
steps:
  - agent: planner
    name: Planner
    engine: claude
    model: sonnet
    reasoning_effort: high
    prompt: prompts/plan.md
    execute_once: true
    tracks: [backend]
    chained_prompts:
      - name: x
        label: X
        content: do X
  - separator: "Phase 2"
  - agent: builder
    prompt:
      - prompts/build.md
      - prompts/style.md
    conditions: [with-tests]
    behavior:
      loop:
        steps_back: 1
        max_iterations: 3
        skip: [planner]
        until: 'output contains "LGTM"'
  - agent: ctl
    kind: controller
    prompt: prompts/controller.md
`

func TestParseTemplate(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	assert.Equal(t, "build-pipeline", tpl.Name)
	assert.True(t, tpl.Specification)
	require.Len(t, tpl.Steps, 4)

	planner := tpl.Steps[0]
	assert.Equal(t, KindModule, planner.Kind)
	assert.Equal(t, "planner", planner.AgentID)
	assert.Equal(t, "Planner", planner.AgentName)
	assert.Equal(t, "claude", planner.EngineID)
	assert.Equal(t, EffortHigh, planner.ReasoningEffort)
	assert.Equal(t, []string{"prompts/plan.md"}, planner.PromptPaths)
	assert.True(t, planner.ExecuteOnce)
	require.Len(t, planner.ChainedPrompts, 1)
	assert.Equal(t, "do X", planner.ChainedPrompts[0].Content)

	sep := tpl.Steps[1]
	assert.Equal(t, KindSeparator, sep.Kind)
	assert.Equal(t, "Phase 2", sep.SeparatorLabel)

	builder := tpl.Steps[2]
	assert.Equal(t, []string{"prompts/build.md", "prompts/style.md"}, builder.PromptPaths)
	require.NotNil(t, builder.Behavior)
	require.NotNil(t, builder.Behavior.Loop)
	assert.Equal(t, 1, builder.Behavior.Loop.StepsBack)
	assert.Equal(t, 3, builder.Behavior.Loop.MaxIterations)
	assert.Equal(t, []string{"planner"}, builder.Behavior.Loop.Skip)

	ctl := tpl.Steps[3]
	assert.Equal(t, KindController, ctl.Kind)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no steps":          "name: empty\n",
		"missing agent":     "steps:\n  - prompt: a.md\n",
		"bad kind":          "steps:\n  - agent: a\n    kind: bogus\n",
		"bad effort":        "steps:\n  - agent: a\n    reasoning_effort: max\n",
		"two behaviors":     "steps:\n  - agent: a\n    behavior:\n      checkpoint: true\n      trigger: {target: b}\n",
		"trigger no target": "steps:\n  - agent: a\n    behavior:\n      trigger: {target: \"\"}\n",
		"negative loop max": "steps:\n  - agent: a\n    behavior:\n      loop: {steps_back: 1, max_iterations: -1}\n",
		"yaml syntax":       "steps: [",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			var ve *errors.ValidationError
			require.ErrorAs(t, err, &ve, "input %q", input)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestLoopStepsBackDefaultsToOne(t *testing.T) {
	tpl, err := Parse([]byte("steps:\n  - agent: a\n    behavior:\n      loop: {max_iterations: 2}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.Steps[0].Behavior.Loop.StepsBack)
}

func TestFindByAgentID(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	step, ok := tpl.FindByAgentID("builder")
	require.True(t, ok)
	assert.Equal(t, "builder", step.AgentID)

	_, ok = tpl.FindByAgentID("ghost")
	assert.False(t, ok)
}

func TestFilterByTrackAndConditions(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	t.Run("matching track and condition", func(t *testing.T) {
		steps := Filter(tpl.Steps, "backend", []string{"with-tests"})
		require.Len(t, steps, 4)
	})

	t.Run("wrong track drops tracked step", func(t *testing.T) {
		steps := Filter(tpl.Steps, "frontend", []string{"with-tests"})
		require.Len(t, steps, 3)
		assert.Equal(t, KindSeparator, steps[0].Kind)
	})

	t.Run("missing condition drops conditioned step", func(t *testing.T) {
		steps := Filter(tpl.Steps, "backend", nil)
		require.Len(t, steps, 3)
		for _, s := range steps {
			assert.NotEqual(t, "builder", s.AgentID)
		}
	})
}

func TestFilterIdempotent(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	once := Filter(tpl.Steps, "backend", []string{"with-tests"})
	twice := Filter(once, "backend", []string{"with-tests"})
	assert.Equal(t, once, twice)
}

func TestResolvePrompt(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "prompts", "a.md"), []byte("first part\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "prompts", "b.md"), []byte("second part"), 0o644))

	t.Run("single file", func(t *testing.T) {
		got, err := ResolvePrompt(cwd, "planner", []string{"prompts/a.md"})
		require.NoError(t, err)
		assert.Equal(t, "first part\n", got)
	})

	t.Run("list concatenates with blank line", func(t *testing.T) {
		got, err := ResolvePrompt(cwd, "planner", []string{"prompts/a.md", "prompts/b.md"})
		require.NoError(t, err)
		assert.Equal(t, "first part\n\nsecond part\n", got)
	})

	t.Run("glob expands lexically", func(t *testing.T) {
		got, err := ResolvePrompt(cwd, "planner", []string{"prompts/*.md"})
		require.NoError(t, err)
		assert.Equal(t, "first part\n\nsecond part\n", got)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ResolvePrompt(cwd, "planner", []string{"prompts/nope.md"})
		assert.True(t, errors.IsMissingPrompt(err))
	})

	t.Run("empty glob", func(t *testing.T) {
		_, err := ResolvePrompt(cwd, "planner", []string{"missing/**/*.md"})
		assert.True(t, errors.IsMissingPrompt(err))
	})

	t.Run("no paths", func(t *testing.T) {
		_, err := ResolvePrompt(cwd, "planner", nil)
		assert.True(t, errors.IsMissingPrompt(err))
	})
}
