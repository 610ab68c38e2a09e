package core

import (
	"sync"

	"github.com/spaghettifunk/spritelayers/engine/containers"
)

const AVG_COUNT uint8 = 30

type MetricsState struct {
	// Most recent frame times in milliseconds.
	MStimes            *containers.RingQueue[float64]
	MSavg              float64
	Frames             int32
	TotalFrames        uint64
	AccumulatedFrameMS float64
	FPS                float64
}

var metricsMu sync.Mutex
var metricsState = newMetricsState()

func newMetricsState() *MetricsState {
	return &MetricsState{
		MStimes: containers.NewRingQueue[float64](int(AVG_COUNT)),
	}
}

// MetricsInitialize resets all counters.
func MetricsInitialize() {
	metricsMu.Lock()
	metricsState = newMetricsState()
	metricsMu.Unlock()
}

// MetricsUpdate records one frame that took frameElapsedTime seconds.
func MetricsUpdate(frameElapsedTime float64) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	metricsState.MStimes.Push(frameMS)
	// The average is refreshed once per full window.
	if metricsState.TotalFrames%uint64(AVG_COUNT) == uint64(AVG_COUNT)-1 {
		sum := 0.0
		metricsState.MStimes.Each(func(ms float64) { sum += ms })
		metricsState.MSavg = sum / float64(metricsState.MStimes.Len())
	}

	metricsState.AccumulatedFrameMS += frameMS
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	metricsState.Frames++
	metricsState.TotalFrames++
}

func MetricsFPS() float64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.MSavg
}

func MetricsTotalFrames() uint64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.TotalFrames
}

// MetricsFrame returns the frames per second and the average frame time in milliseconds.
func MetricsFrame() (float64, float64) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.FPS, metricsState.MSavg
}
