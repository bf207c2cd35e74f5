package engine

import (
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/systems"
)

/**
 * @brief The application plugged into the engine. The engine fills in
 * SystemManager, Renderer, Input and Events before FnInitialize runs.
 * Hooks left nil are skipped.
 */
type Game struct {
	ApplicationConfig *ApplicationConfig
	// ConfigPath is watched for changes while the game runs. Empty disables reloading.
	ConfigPath    string
	SystemManager *systems.SystemManager
	Renderer      *renderer.FrameRenderer
	Input         *core.Input
	Events        *core.EventBus
	State         interface{}
	FnBoot        Boot
	FnInitialize  Initialize
	FnUpdate      Update
	FnOnResize    OnResize
	FnShutdown    Shutdown
}

type Boot func() error
type Initialize func() error
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
