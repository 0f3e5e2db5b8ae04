package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "build-pipeline")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, s.BeginStep(ctx, StepRun{
		RunID:        runID,
		StepIndex:    0,
		AgentID:      "planner",
		MonitoringID: 1,
	}))
	require.NoError(t, s.FinishStep(ctx, runID, 0, 1, "sess-1", "completed", 120, 40))
	require.NoError(t, s.FinishRun(ctx, runID, "completed"))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)

	steps, err := s.Steps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "sess-1", steps[0].SessionID)
	assert.Equal(t, int64(120), steps[0].TokensIn)
	assert.Equal(t, int64(40), steps[0].TokensOut)
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.BeginRun(ctx, "tpl")
		require.NoError(t, err)
	}

	runs, err := s.RecentRuns(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)

	runID, err := s.BeginRun(context.Background(), "tpl")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopen and read back.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
