package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/systems"
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

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        ApplicationConfig
	runID         string
	isRunning     atomic.Bool
	isSuspended   bool
	platform      *platform.Platform
	events        *core.EventBus
	input         *core.Input
	systemManager *systems.SystemManager
	renderer      *renderer.FrameRenderer
	watcher       *core.ConfigWatcher
	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
	frames        uint64

	// parsed by reloadConfig, applied by onConfigReloaded
	reloaded *ApplicationConfig

	shutdownOnce sync.Once
}

func New(g *Game) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("no game instance")
	}
	if g.ApplicationConfig == nil {
		config := DefaultApplicationConfig()
		g.ApplicationConfig = &config
	}
	config := *g.ApplicationConfig
	if err := config.Validate(); err != nil {
		core.LogError("invalid application config: %s", err)
		return nil, err
	}
	if err := core.SetLogLevel(config.LogLevel); err != nil {
		core.LogWarn("unknown log level %q, keeping the current one", config.LogLevel)
	}

	runID := core.NewRunID()
	core.WithRunID(runID)

	events := core.NewEventBus()
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       config,
		runID:        runID,
		events:       events,
		input:        core.NewInput(events),
		clock:        core.NewClock(),
		width:        config.StartWidth,
		height:       config.StartHeight,
	}
	if !config.Headless {
		e.platform = platform.New(e.input, events)
	}
	return e, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onConfigReloaded)
	e.events.Register(core.EVENT_CODE_DEVICE_LOST, e, e.onDeviceEvent)
	e.events.Register(core.EVENT_CODE_DEVICE_RESTORED, e, e.onDeviceEvent)

	config := e.config
	if e.platform != nil {
		if err := e.platform.Startup(config.Name, config.StartPosX, config.StartPosY, config.StartWidth, config.StartHeight); err != nil {
			return err
		}
		e.width, e.height = e.platform.FramebufferSize()
	}

	backendConfig, err := e.backendConfig()
	if err != nil {
		return err
	}
	smConfig := systems.DefaultSystemManagerConfig()
	smConfig.Memory = config.memoryConfig()
	smConfig.Shaders.ShaderDir = config.ShaderDir
	sm, err := systems.NewSystemManager(smConfig, renderer.NewDeviceFactory(backendConfig))
	if err != nil {
		core.LogError("failed to create the system manager: %s", err)
		return err
	}
	e.systemManager = sm

	frConfig := config.frameRendererConfig()
	frConfig.Width, frConfig.Height = e.width, e.height
	frConfig.Events = e.events
	fr, err := renderer.NewFrameRenderer(sm, renderer.NewSwapchainFactory(backendConfig), frConfig)
	if err != nil {
		core.LogError("failed to create the frame renderer: %s", err)
		return err
	}
	e.renderer = fr

	if path := e.gameInstance.ConfigPath; path != "" {
		watcher, err := core.NewConfigWatcher(path, e.events, e.reloadConfig)
		if err != nil {
			core.LogWarn("config changes in %s will not be picked up: %s", path, err)
		} else {
			e.watcher = watcher
		}
	}

	e.gameInstance.SystemManager = sm
	e.gameInstance.Renderer = fr
	e.gameInstance.Input = e.input
	e.gameInstance.Events = e.events
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized (run %s, backend %s, %dx%d)", e.runID, backendConfig.Backend, e.width, e.height)
	return nil
}

func (e *Engine) backendConfig() (renderer.BackendConfig, error) {
	config := e.config
	backend, err := renderer.ParseBackend(config.Backend)
	if err != nil {
		return renderer.BackendConfig{}, err
	}
	colorSpace, err := config.colorSpace()
	if err != nil {
		return renderer.BackendConfig{}, err
	}
	bc := renderer.BackendConfig{
		Backend:    backend,
		AppName:    config.Name,
		Debug:      config.Debug,
		ShaderDir:  config.ShaderDir,
		ColorSpace: colorSpace,
		VSync:      config.VSync,
		DumpEvery:  config.DumpEvery,
	}
	if e.platform != nil {
		bc.Window = e.platform.Window()
	}
	if config.DumpDir != "" {
		bc.DumpDir = filepath.Join(config.DumpDir, e.runID)
	}
	return bc, nil
}

/**
 * @brief Pumps window messages and ticks the renderer until the window
 * closes, a quit event arrives or the configured frame count is reached.
 * A frame failure stops the loop and is returned.
 */
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var targetFrameSeconds float64
	if e.config.TargetFPS > 0 && !e.config.VSync {
		targetFrameSeconds = 1.0 / float64(e.config.TargetFPS)
	}

	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			break
		}
		if e.watcher != nil {
			e.watcher.Poll()
		}
		if e.isSuspended {
			e.sleep(100)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				return err
			}
		}
		if err := e.renderer.Tick(e.input); err != nil {
			core.LogError("frame %d failed, shutting down: %s", e.frames, err)
			return err
		}
		e.frames++

		// Input is the last thing to be updated before this frame ends.
		e.input.Update()

		e.clock.Update()
		if remaining := targetFrameSeconds - (e.clock.Elapsed() - currentTime); remaining > 0 {
			e.sleep(remaining * 1000)
		}
		e.lastTime = currentTime

		if e.config.Frames > 0 && e.frames >= e.config.Frames {
			core.LogInfo("rendered %d frames, stopping", e.frames)
			break
		}
	}
	e.isRunning.Store(false)
	return nil
}

func (e *Engine) sleep(ms float64) {
	if e.platform != nil {
		e.platform.Sleep(ms)
		return
	}
	core.SleepMilliseconds(ms)
}

// Stop asks Run to return after the current frame. Safe to call from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	var errs []error
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		if e.watcher != nil {
			if err := e.watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if e.gameInstance.FnShutdown != nil {
			if err := e.gameInstance.FnShutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		if e.renderer != nil {
			if err := e.renderer.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		if e.systemManager != nil {
			if err := e.systemManager.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		e.events.Shutdown()
		if e.platform != nil {
			if err := e.platform.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Frames is the number of frames rendered so far.
func (e *Engine) Frames() uint64 {
	return e.frames
}

// reloadConfig runs on the frame thread from ConfigWatcher.Poll.
func (e *Engine) reloadConfig(path string) error {
	config, err := LoadConfig(path)
	if err != nil {
		return err
	}
	e.reloaded = &config
	return nil
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if core.KeyCode(data.U16[0]) == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := uint32(data.U16[0]), uint32(data.U16[1])
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.renderer.OnWindowSizeChanged(width, height); err != nil {
		core.LogError("resize to %dx%d failed: %s", width, height, err)
		e.Stop()
		return false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}

// onConfigReloaded applies the settings that can change while running: the log level and the light.
func (e *Engine) onConfigReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	config := e.reloaded
	e.reloaded = nil
	if config == nil {
		return false
	}
	if err := core.SetLogLevel(config.LogLevel); err != nil {
		core.LogWarn("unknown log level %q in %s", config.LogLevel, data.Str)
	}
	e.renderer.SetLightDirection(config.Light())
	e.config.LogLevel = config.LogLevel
	e.config.LightDirection = config.LightDirection
	*e.gameInstance.ApplicationConfig = e.config
	return false
}

func (e *Engine) onDeviceEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_DEVICE_LOST:
		core.LogWarn("device lost: %s", data.Str)
	case core.EVENT_CODE_DEVICE_RESTORED:
		e.clock.Update()
		e.lastTime = e.clock.Elapsed()
	}
	return false
}
