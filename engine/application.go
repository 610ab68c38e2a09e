package engine

import (
	"github.com/spaghettifunk/spritelayers/engine/config"
)

type ApplicationConfig struct {
	// The application name used in windowing and as the renderer application name.
	Name string
	// Loaded and validated configuration.
	Config *config.Config
	// Run on the software backend without opening a window.
	Headless bool
	// Stop after this many presented frames. 0 runs until quit.
	FrameLimit uint64
}

// useSoftware reports whether the CPU backend renders this application.
func (a *ApplicationConfig) useSoftware() bool {
	return a.Headless || a.Config.Renderer.Backend == config.BackendSoftware
}
