package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"":        LogLevelInfo,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestEventFireStopsAtFirstHandler(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	var calls []string
	EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls = append(calls, "first")
		return true
	})
	EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls = append(calls, "second")
		return true
	})

	assert.True(t, EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
	assert.Equal(t, []string{"first"}, calls)
	assert.False(t, EventFire(EventContext{Type: EVENT_CODE_RESIZED}))
}

func TestInputProcessKeyFiresOnTransition(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()
	require.NoError(t, InputInitialize())
	defer InputShutdown()

	pressed := 0
	EventRegister(EVENT_CODE_KEY_PRESSED, func(ctx EventContext) bool {
		ke, ok := ctx.Data.(*KeyEvent)
		require.True(t, ok)
		assert.Equal(t, KEY_ESCAPE, ke.KeyCode)
		pressed++
		return true
	})

	InputProcessKey(KEY_ESCAPE, true)
	InputProcessKey(KEY_ESCAPE, true)
	assert.Equal(t, 1, pressed)
	assert.True(t, InputIsKeyDown(KEY_ESCAPE))
	assert.False(t, InputWasKeyDown(KEY_ESCAPE))

	InputUpdate()
	assert.True(t, InputWasKeyDown(KEY_ESCAPE))
}

func TestMetricsAverage(t *testing.T) {
	MetricsInitialize()
	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsUpdate(0.016)
	}
	assert.InDelta(t, 16.0, MetricsFrameTime(), 1e-9)
	assert.Equal(t, uint64(AVG_COUNT), MetricsTotalFrames())
}
