package template

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/errors"
)

// templateSpec is the YAML shape of a template file.
type templateSpec struct {
	Name          string     `yaml:"name"`
	Specification bool       `yaml:"specification"`
	Steps         []stepSpec `yaml:"steps"`
}

// stepSpec is the YAML shape of one step entry.
//
// A separator is written as the shorthand `- separator: "Phase 2"`. Prompt
// accepts a single path or a list of paths.
type stepSpec struct {
	Separator string `yaml:"separator"`

	Agent           string        `yaml:"agent"`
	Name            string        `yaml:"name"`
	Kind            string        `yaml:"kind"`
	Engine          string        `yaml:"engine"`
	Model           string        `yaml:"model"`
	ReasoningEffort string        `yaml:"reasoning_effort"`
	Prompt          yaml.Node     `yaml:"prompt"`
	ExecuteOnce     bool          `yaml:"execute_once"`
	Interactive     bool          `yaml:"interactive"`
	Tracks          []string      `yaml:"tracks"`
	Conditions      []string      `yaml:"conditions"`
	Behavior        *Behavior     `yaml:"behavior"`
	ChainedPrompts  []chainedSpec `yaml:"chained_prompts"`
}

type chainedSpec struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Content string `yaml:"content"`
}

// Load parses the template file at path into the step model.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "template",
			Message:    fmt.Sprintf("cannot read template %s: %v", path, err),
			Suggestion: "check the template path in template.json",
		}
	}
	return Parse(data)
}

// Parse parses template YAML into the step model.
func Parse(data []byte) (*Template, error) {
	var spec templateSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &errors.ValidationError{
			Field:      "template",
			Message:    fmt.Sprintf("malformed template: %v", err),
			Suggestion: "fix the YAML syntax",
		}
	}

	if len(spec.Steps) == 0 {
		return nil, &errors.ValidationError{
			Field:      "steps",
			Message:    "template declares no steps",
			Suggestion: "add at least one step to the template",
		}
	}

	t := &Template{Name: spec.Name, Specification: spec.Specification}
	for i, ss := range spec.Steps {
		step, err := buildStep(i, ss)
		if err != nil {
			return nil, err
		}
		t.Steps = append(t.Steps, *step)
	}

	return t, nil
}

func buildStep(index int, ss stepSpec) (*Step, error) {
	if ss.Separator != "" {
		return &Step{
			Kind:           KindSeparator,
			SeparatorLabel: ss.Separator,
			Tracks:         ss.Tracks,
			Conditions:     ss.Conditions,
		}, nil
	}

	if ss.Agent == "" {
		return nil, &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].agent", index),
			Message:    "step has no agent id",
			Suggestion: "set agent, or use the separator shorthand",
		}
	}

	kind := KindModule
	switch ss.Kind {
	case "", "module":
	case "controller":
		kind = KindController
	default:
		return nil, &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].kind", index),
			Message:    fmt.Sprintf("unknown step kind %q", ss.Kind),
			Suggestion: "use module or controller",
		}
	}

	switch ss.ReasoningEffort {
	case "", EffortLow, EffortMedium, EffortHigh:
	default:
		return nil, &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].reasoning_effort", index),
			Message:    fmt.Sprintf("invalid reasoning effort %q", ss.ReasoningEffort),
			Suggestion: "use low, medium, or high",
		}
	}

	prompts, err := promptPaths(index, ss.Prompt)
	if err != nil {
		return nil, err
	}

	if ss.Behavior != nil {
		if err := validateBehavior(index, ss.Behavior); err != nil {
			return nil, err
		}
	}

	step := &Step{
		Kind:            kind,
		AgentID:         ss.Agent,
		AgentName:       ss.Name,
		EngineID:        ss.Engine,
		Model:           ss.Model,
		ReasoningEffort: ss.ReasoningEffort,
		PromptPaths:     prompts,
		ExecuteOnce:     ss.ExecuteOnce,
		Interactive:     ss.Interactive,
		Tracks:          ss.Tracks,
		Conditions:      ss.Conditions,
		Behavior:        ss.Behavior,
	}
	for _, cp := range ss.ChainedPrompts {
		step.ChainedPrompts = append(step.ChainedPrompts, engine.ChainedPrompt{
			Name:    cp.Name,
			Label:   cp.Label,
			Content: cp.Content,
		})
	}

	return step, nil
}

// promptPaths accepts a scalar path or a list of paths.
func promptPaths(index int, node yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, promptError(index, err)
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, promptError(index, err)
		}
		return list, nil
	default:
		return nil, promptError(index, fmt.Errorf("unexpected node kind %d", node.Kind))
	}
}

func promptError(index int, err error) error {
	return &errors.ValidationError{
		Field:      fmt.Sprintf("steps[%d].prompt", index),
		Message:    fmt.Sprintf("invalid prompt: %v", err),
		Suggestion: "use a file path or a list of file paths",
	}
}

func validateBehavior(index int, b *Behavior) error {
	declared := 0
	if b.Loop != nil {
		declared++
	}
	if b.Trigger != nil {
		declared++
	}
	if b.Checkpoint {
		declared++
	}
	if declared > 1 {
		return &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].behavior", index),
			Message:    "step declares more than one behavior",
			Suggestion: "declare exactly one of loop, trigger, or checkpoint",
		}
	}

	if b.Loop != nil {
		if b.Loop.StepsBack < 1 {
			b.Loop.StepsBack = 1
		}
		if b.Loop.MaxIterations < 0 {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].behavior.loop.max_iterations", index),
				Message:    "max_iterations cannot be negative",
				Suggestion: "use 0 to disable the loop, or a positive cap",
			}
		}
	}
	if b.Trigger != nil && b.Trigger.Target == "" {
		return &errors.ValidationError{
			Field:      fmt.Sprintf("steps[%d].behavior.trigger.target", index),
			Message:    "trigger behavior has no target agent",
			Suggestion: "set target to the agent id to execute",
		}
	}

	return nil
}
