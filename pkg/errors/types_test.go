package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "template", Message: "file not found", Suggestion: "check the path"}
	assert.Equal(t, "validation failed on template: file not found", err.Error())

	err = &ValidationError{Message: "bad input"}
	assert.Equal(t, "validation failed: bad input", err.Error())
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := stderrors.New("exit status 1")
	err := &EngineError{Engine: "claude", Message: "subprocess failed", Cause: cause}

	assert.Equal(t, "engine claude: subprocess failed", err.Error())
	assert.True(t, stderrors.Is(err, cause))
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := &PersistenceError{Op: "write", Path: "/tmp/steps/0.json", Cause: cause}

	assert.Contains(t, err.Error(), "write")
	assert.Contains(t, err.Error(), "/tmp/steps/0.json")
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsAbort(t *testing.T) {
	assert.True(t, IsAbort(ErrAborted))
	assert.True(t, IsAbort(fmt.Errorf("step: %w", ErrAborted)))
	assert.True(t, IsAbort(context.Canceled))
	assert.False(t, IsAbort(stderrors.New("boom")))
	assert.False(t, IsAbort(nil))
}

func TestAsEngineError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		require.NoError(t, AsEngineError("claude", nil))
	})

	t.Run("abort passes through", func(t *testing.T) {
		err := AsEngineError("claude", ErrAborted)
		assert.True(t, stderrors.Is(err, ErrAborted))
		var ee *EngineError
		assert.False(t, stderrors.As(err, &ee))
	})

	t.Run("existing engine error preserved", func(t *testing.T) {
		orig := &EngineError{Engine: "codex", Message: "bad output"}
		err := AsEngineError("claude", orig)
		var ee *EngineError
		require.True(t, stderrors.As(err, &ee))
		assert.Equal(t, "codex", ee.Engine)
	})

	t.Run("arbitrary error wrapped", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := AsEngineError("claude", cause)
		var ee *EngineError
		require.True(t, stderrors.As(err, &ee))
		assert.Equal(t, "claude", ee.Engine)
		assert.True(t, stderrors.Is(err, cause))
	})
}

func TestMissingPromptError(t *testing.T) {
	err := &MissingPromptError{AgentID: "planner"}
	assert.Contains(t, err.Error(), "planner")
	assert.True(t, IsMissingPrompt(fmt.Errorf("step 0: %w", err)))

	withPath := &MissingPromptError{AgentID: "planner", Path: "prompts/*.md"}
	assert.Contains(t, withPath.Error(), "prompts/*.md")
}
