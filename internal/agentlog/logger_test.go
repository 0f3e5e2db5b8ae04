package agentlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWriteClose(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger()
	path := filepath.Join(dir, "logs", "agent-1.log")

	require.NoError(t, logger.Open(1, path))
	require.NoError(t, logger.Write(1, "first line"))
	require.NoError(t, logger.Write(1, "second line\n"))
	require.NoError(t, logger.Close(1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\n", string(data))
}

func TestOpenTwiceAppends(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger()
	path := filepath.Join(dir, "agent-1.log")

	require.NoError(t, logger.Open(1, path))
	require.NoError(t, logger.Write(1, "before"))
	require.NoError(t, logger.Close(1))

	// Reopening the same path (a resumed run) must append, not truncate.
	require.NoError(t, logger.Open(1, path))
	require.NoError(t, logger.Write(1, "after"))
	require.NoError(t, logger.Close(1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before\nafter\n", string(data))
}

func TestWriteUnopenedFails(t *testing.T) {
	logger := NewLogger()
	assert.Error(t, logger.Write(42, "orphan"))
}

func TestRunWriter(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger()
	path := filepath.Join(dir, "agent-2.log")

	require.NoError(t, logger.Open(2, path))
	w := logger.Writer(2)
	n, err := w.Write([]byte("streamed chunk\n"))
	require.NoError(t, err)
	assert.Equal(t, len("streamed chunk\n"), n)
	require.NoError(t, logger.Close(2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "streamed chunk\n", string(data))
}

func TestClassifyAndStrip(t *testing.T) {
	tests := []struct {
		line string
		kind LineKind
		want string
	}{
		{"plain output", LinePlain, "plain output"},
		{"=== Step started", LineBold, "Step started"},
		{"[user:resume] fix the tests", LineUser, "fix the tests"},
		{"Thinking: maybe retry", LineThinking, "maybe retry"},
		{"\x1b[35mcolored\x1b[0m", LinePlain, "colored"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, Classify(tt.line), "classify %q", tt.line)
		assert.Equal(t, tt.want, Strip(tt.line), "strip %q", tt.line)
	}
}

func TestThought(t *testing.T) {
	got, ok := Thought("Thinking: checking edge cases")
	require.True(t, ok)
	assert.Equal(t, "checking edge cases", got)

	_, ok = Thought("regular line")
	assert.False(t, ok)
}
