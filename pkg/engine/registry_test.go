package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moazbuilds/codemachine/pkg/engine"
	"github.com/moazbuilds/codemachine/pkg/engine/enginetest"
	"github.com/moazbuilds/codemachine/pkg/errors"
)

func TestRegisterAndGet(t *testing.T) {
	r := engine.NewRegistry()
	claude := enginetest.New("claude")
	r.Register(claude)

	got, err := r.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", got.Metadata().ID)

	_, err = r.Get("missing")
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "engine", nf.Resource)
}

func TestFirstRegisteredIsDefault(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(enginetest.New("claude"))
	r.Register(enginetest.New("codex"))

	def, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "claude", def.Metadata().ID)

	require.NoError(t, r.SetDefault("codex"))
	def, err = r.Default()
	require.NoError(t, err)
	assert.Equal(t, "codex", def.Metadata().ID)

	assert.Error(t, r.SetDefault("missing"))
}

func TestDefaultWithoutEngines(t *testing.T) {
	r := engine.NewRegistry()

	_, err := r.Default()
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAllSortedByID(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(enginetest.New("zeta"))
	r.Register(enginetest.New("alpha"))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Metadata().ID)
	assert.Equal(t, "zeta", all[1].Metadata().ID)
}

func TestResolveFallback(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(enginetest.New("claude"))

	e, fellBack, err := r.Resolve("")
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.Equal(t, "claude", e.Metadata().ID)

	e, fellBack, err = r.Resolve("claude")
	require.NoError(t, err)
	assert.False(t, fellBack)

	e, fellBack, err = r.Resolve("unknown")
	require.NoError(t, err)
	assert.True(t, fellBack, "unknown engine id must fall back to default")
	assert.Equal(t, "claude", e.Metadata().ID)
}

func TestResolveUnknownWithoutDefault(t *testing.T) {
	r := engine.NewRegistry()

	_, _, err := r.Resolve("unknown")
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSupportsResume(t *testing.T) {
	assert.True(t, engine.SupportsResume(enginetest.New("claude")))
}
