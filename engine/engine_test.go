package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
)

func headlessApp(frames uint64) *ApplicationConfig {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 64, 64
	cfg.Renderer.LayerMax = 2
	cfg.Renderer.ObjectMax = 256
	cfg.Renderer.LayerWidth, cfg.Renderer.LayerHeight = 64, 64
	cfg.Log.MetricsInterval = 2
	return &ApplicationConfig{
		Name:       "test",
		Config:     cfg,
		Headless:   true,
		FrameLimit: frames,
	}
}

func newHeadlessEngine(t *testing.T, frames uint64) *Engine {
	t.Helper()
	e, err := New(headlessApp(frames))
	require.NoError(t, err)
	require.Nil(t, e.platform)
	require.Equal(t, EngineStageBootComplete, e.Stage())
	require.NoError(t, e.Initialize())
	return e
}

func TestHeadlessRunStopsAtFrameLimit(t *testing.T) {
	e := newHeadlessEngine(t, 5)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(5), e.Frames())
	assert.Equal(t, uint64(5), e.Renderer().FrameNumber())
	assert.InDelta(t, 5*e.app.Config.Animation.TimeStep, e.elapsed, 1e-9)
	assert.Equal(t, uint64(5), core.MetricsTotalFrames())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestEscapeFiresQuit(t *testing.T) {
	e := newHeadlessEngine(t, 0)
	defer e.Shutdown()

	e.isRunning.Store(true)
	core.InputProcessKey(core.KEY_ESCAPE, true)
	assert.False(t, e.isRunning.Load())
}

func TestOtherKeysKeepRunning(t *testing.T) {
	e := newHeadlessEngine(t, 0)
	defer e.Shutdown()

	e.isRunning.Store(true)
	core.InputProcessKey(core.KEY_SPACE, true)
	core.InputProcessKey(core.KEY_SPACE, false)
	assert.True(t, e.isRunning.Load())
}

func TestZeroSizeSuspends(t *testing.T) {
	e := newHeadlessEngine(t, 0)
	defer e.Shutdown()

	core.EventFire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	assert.True(t, e.isSuspended)

	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: 64, WindowHeight: 64},
	})
	assert.False(t, e.isSuspended)
}

func TestStageOrdering(t *testing.T) {
	e, err := New(headlessApp(1))
	require.NoError(t, err)
	assert.Error(t, e.Run())

	require.NoError(t, e.Initialize())
	defer e.Shutdown()
	assert.Error(t, e.Initialize())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	app := headlessApp(1)
	app.Config.Renderer.ObjectMax = 100
	_, err := New(app)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(&ApplicationConfig{Name: "empty"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "running", EngineStageRunning.String())
	assert.Equal(t, "uninitialized", EngineStageUninitialized.String())
}

func TestSuspendedLoopBlocksUntilRestored(t *testing.T) {
	e := newHeadlessEngine(t, 2)
	defer e.Shutdown()

	var waits []time.Duration
	e.wait = func(d time.Duration) {
		waits = append(waits, d)
		if len(waits) == 3 {
			core.EventFire(core.EventContext{
				Type: core.EVENT_CODE_RESIZED,
				Data: &core.SystemEvent{WindowWidth: 64, WindowHeight: 64},
			})
		}
	}
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	require.True(t, e.isSuspended)

	require.NoError(t, e.Run())
	assert.Equal(t, []time.Duration{suspendedWait, suspendedWait, suspendedWait}, waits)
	assert.Equal(t, uint64(2), e.Frames())
	assert.False(t, e.isSuspended)
}
