package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/spritelayers/engine/assets"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/platform"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/software"
	"github.com/spaghettifunk/spritelayers/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot_complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting_down"
	}
	return "uninitialized"
}

// suspendedWait bounds how long a suspended loop blocks before checking for quit.
const suspendedWait = 100 * time.Millisecond

type Engine struct {
	currentStage Stage
	app          *ApplicationConfig
	isRunning    atomic.Bool
	isSuspended  bool
	platform     *platform.Platform
	assetManager *assets.AssetManager
	backend      renderer.RendererBackend
	renderer     *renderer.Renderer
	clock        *core.Clock
	lastTime     float64
	// Animation time handed to the renderer. It advances by a fixed step per frame.
	elapsed float64
	frames  uint64
	// wait blocks the loop while suspended instead of spinning on the event queue.
	wait func(d time.Duration)
}

// New boots the engine: it selects the backend and wires the collaborators without
// touching the window or the device yet.
func New(app *ApplicationConfig) (*Engine, error) {
	if app == nil || app.Config == nil {
		return nil, fmt.Errorf("%w: missing application configuration", core.ErrInvalidConfig)
	}
	if err := app.Config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageBooting,
		app:          app,
		clock:        core.NewClock(),
		assetManager: assets.NewAssetManager(nil),
	}

	if app.useSoftware() {
		e.backend = software.New()
	} else {
		p, err := platform.New()
		if err != nil {
			return nil, err
		}
		e.platform = p
		e.backend = vulkan.New(p)
	}
	e.wait = time.Sleep
	if e.platform != nil {
		e.wait = func(d time.Duration) { e.platform.WaitMessages(d.Seconds()) }
	}
	e.renderer = renderer.New(e.backend, e.assetManager, app.Config)

	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

// Frames returns the number of presented frames.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot initialize from stage %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	cfg := e.app.Config

	level, err := core.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	core.SetLogLevel(level)

	// initialize input
	if err := core.InputInitialize(); err != nil {
		return err
	}

	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)

	core.MetricsInitialize()

	if e.platform != nil {
		if err := e.platform.Startup(cfg.Window.Title,
			cfg.Window.PosX,
			cfg.Window.PosY,
			cfg.Window.Width,
			cfg.Window.Height); err != nil {
			return err
		}
	}

	// initialize subsystems
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}
	if err := e.renderer.Initialize(e.app.Name); err != nil {
		return err
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized (%s backend)", backendName(e.app))
	return nil
}

func backendName(app *ApplicationConfig) string {
	if app.useSoftware() {
		return "software"
	}
	return "vulkan"
}

// Run presents frames until a quit event, the frame limit or a fatal render error.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run from stage %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	cfg := e.app.Config
	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.Quit()
			break
		}

		if e.isSuspended {
			e.wait(suspendedWait)
			continue
		}

		if err := e.renderer.DrawFrame(e.elapsed); err != nil {
			if errors.Is(err, core.ErrSwapchainBooting) {
				core.LogError("presentation surface changed under a fixed size window: %s", err)
			}
			e.isRunning.Store(false)
			return err
		}
		e.frames++
		e.elapsed += cfg.Animation.TimeStep

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		core.MetricsUpdate(delta)
		if interval := uint64(cfg.Log.MetricsInterval); interval > 0 && e.frames%interval == 0 {
			fps, frameTime := core.MetricsFrame()
			core.LogInfo("frame %d: %.1f fps, %.3f ms avg", e.frames, fps, frameTime)
		}

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		core.InputUpdate()

		if e.app.FrameLimit > 0 && e.frames >= e.app.FrameLimit {
			core.LogInfo("frame limit %d reached", e.app.FrameLimit)
			e.Quit()
		}
	}
	return nil
}

// Quit stops Run after the current frame. It is safe to call from any goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if err := e.renderer.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := core.EventSystemShutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := core.InputShutdown(); err != nil {
		errs = append(errs, err)
	}
	e.clock.Stop()
	core.LogInfo("engine shut down after %d frames", e.frames)
	return errors.Join(errs...)
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.Quit()
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}

	if context.Type == core.EVENT_CODE_KEY_PRESSED && ke.KeyCode == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{
			Type: core.EVENT_CODE_APPLICATION_QUIT,
		})
		// Block anything else from processing this.
		return true
	}
	core.LogDebug("key %#x event %d", ke.KeyCode, context.Type)
	return false
}

// onResized only tracks minimization; the window has a fixed size.
func (e *Engine) onResized(context core.EventContext) bool {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}

	if se.WindowWidth == 0 || se.WindowHeight == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	return true
}
