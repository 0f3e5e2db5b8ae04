package agentlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, tailer *Tailer, n int) []string {
	t.Helper()

	var lines []string
	timeout := time.After(5 * time.Second)
	for len(lines) < n {
		select {
		case line, ok := <-tailer.Lines():
			if !ok {
				t.Fatalf("lines channel closed after %d of %d lines", len(lines), n)
			}
			lines = append(lines, line)
		case <-timeout:
			t.Fatalf("timed out after %d of %d lines", len(lines), n)
		}
	}
	return lines
}

func TestTailerFollowsAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-1.log")

	tailer, err := NewTailer(path, nil)
	require.NoError(t, err)
	defer tailer.Stop()

	logger := NewLogger()
	require.NoError(t, logger.Open(1, path))
	require.NoError(t, logger.Write(1, "one"))
	require.NoError(t, logger.Write(1, "two"))
	defer logger.Close(1)

	lines := collectLines(t, tailer, 2)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestTailerDrainsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-2.log")

	logger := NewLogger()
	require.NoError(t, logger.Open(2, path))
	require.NoError(t, logger.Write(2, "already there"))

	tailer, err := NewTailer(path, nil)
	require.NoError(t, err)
	defer tailer.Stop()

	lines := collectLines(t, tailer, 1)
	assert.Equal(t, []string{"already there"}, lines)

	require.NoError(t, logger.Write(2, "appended later"))
	lines = collectLines(t, tailer, 1)
	assert.Equal(t, []string{"appended later"}, lines)
	logger.Close(2)
}

func TestTailerStopClosesChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-3.log")

	tailer, err := NewTailer(path, nil)
	require.NoError(t, err)

	tailer.Stop()

	_, ok := <-tailer.Lines()
	assert.False(t, ok)
}
