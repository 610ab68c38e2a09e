package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)

	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunAllWaitsForEveryTask(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran atomic.Int32
	out := make([]int, 16)
	tasks := make([]func() error, len(out))
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			out[i] = i * i
			ran.Add(1)
			return nil
		}
	}

	require.NoError(t, js.RunAll("square", tasks))
	assert.Equal(t, int32(len(out)), ran.Load())
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestRunAllJoinsFailures(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	boom := errors.New("boom")
	err = js.RunAll("mixed", []func() error{
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
	})
	assert.ErrorIs(t, err, boom)
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	err = js.Submit(Job{Name: "late", Run: func() error { return nil }})
	assert.ErrorIs(t, err, ErrJobSystemClosed)

	err = js.RunAll("late", []func() error{func() error { return nil }})
	assert.ErrorIs(t, err, ErrJobSystemClosed)
}
