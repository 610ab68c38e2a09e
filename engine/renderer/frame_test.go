package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/renderer"
)

func TestFrameStateMachine(t *testing.T) {
	b := newInitializedBackend(t)

	list, err := b.CreateCommandList()
	require.NoError(t, err)
	fence, err := b.CreateFence(0)
	require.NoError(t, err)

	fc := renderer.NewFrameContext(0, list, fence)
	assert.Equal(t, renderer.FrameStateUninitialized, fc.State())
	assert.Error(t, fc.Submit(b.Queue()))
	assert.NoError(t, fc.Wait())

	// recording requires a previous slot with matching layers
	assert.Error(t, fc.Record(&renderer.RecordParams{}))
}

func TestRecordOnlyOnce(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())
	fc := r.Frames()[0]
	assert.Equal(t, renderer.FrameStateSignalled, fc.State())
	assert.ErrorContains(t, fc.Record(&renderer.RecordParams{Previous: r.Frames()[1]}), "already recorded")
}

func TestFrameStateString(t *testing.T) {
	assert.Equal(t, "submitted", renderer.FrameStateSubmitted.String())
	assert.Equal(t, "frame_state(9)", renderer.FrameState(9).String())
}
