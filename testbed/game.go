package testbed

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	// index into lightDirections
	light int
	// seconds since the last stats line
	statsTimer float64
}

// L steps the light through these.
var lightDirections = []math.Vec3{
	math.NewVec3(0.5, -1, 0.3),
	math.NewVec3(-0.6, -1, 0.2),
	math.NewVec3(0, -1, -0.7),
	math.NewVec3(0.9, -0.4, 0),
}

const statsInterval = 5.0

func NewTestGame(config *engine.ApplicationConfig, configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			ConfigPath:        configPath,
			State:             &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Boot() error {
	core.LogInfo("booting testbed...")
	c := g.ApplicationConfig
	core.LogDebug("backend %s, %d particles, seed %d, color space %s", c.Backend, c.ParticleCount, c.Seed, c.ColorSpace)
	return nil
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil || g.Renderer == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers")
	}

	camera := g.Renderer.Camera()
	camera.SetPosition(math.NewVec3(0, 1.5, 9))
	camera.Camera().SetDirection(math.NewVec3(0, -0.1, -1))

	g.Events.Register(core.EVENT_CODE_CONFIG_RELOADED, g, g.onConfigReloaded)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	input := g.Input

	if input.IsKeyDown(core.KEY_L) && input.WasKeyUp(core.KEY_L) {
		state.light = (state.light + 1) % len(lightDirections)
		g.Renderer.SetLightDirection(lightDirections[state.light])
		core.LogInfo("light direction %d of %d", state.light+1, len(lightDirections))
	}

	if input.IsKeyDown(core.KEY_P) && input.WasKeyUp(core.KEY_P) {
		pos := g.Renderer.Camera().Camera().Position()
		core.LogInfo("camera at [%.3f, %.3f, %.3f]", pos.X, pos.Y, pos.Z)
	}

	state.statsTimer += deltaTime
	if state.statsTimer >= statsInterval {
		state.statsTimer = 0
		timer := g.Renderer.Timer()
		core.LogDebug("frame %d, %d fps, %d particles", timer.FrameCount(), timer.FramesPerSecond(), g.Renderer.Particles().Count())
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	core.LogDebug("testbed viewport %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	g.Events.Unregister(core.EVENT_CODE_CONFIG_RELOADED, g)
	core.LogInfo("testbed shut down")
	return nil
}

// The engine applies the reloaded light, the index only keeps L cycling from the start.
func (g *TestGame) onConfigReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	state := g.State.(*gameState)
	state.light = 0
	core.LogInfo("testbed picked up %s", data.Str)
	return false
}
