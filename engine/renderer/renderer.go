package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/components"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/systems"
)

// HDRFormat is the format of the offscreen scene target.
const HDRFormat = gpu.FormatR16G16B16A16Float

// SwapchainFactory creates the presentation surface for a device.
type SwapchainFactory func(device gpu.Device, width, height uint32) (gpu.Swapchain, error)

type FrameRendererConfig struct {
	Width, Height  uint32
	ParticleCount  uint32
	Seed           uint64
	FontPath       string
	SyncInterval   uint32
	ShadowMapSize  uint32
	VolShadowWidth uint32
	LightDirection math.Vec3
	SceneRadius    float32
	// Events receives EVENT_CODE_DEVICE_LOST and EVENT_CODE_DEVICE_RESTORED. May be nil.
	Events *core.EventBus
}

func DefaultFrameRendererConfig() FrameRendererConfig {
	return FrameRendererConfig{
		Width:          1920,
		Height:         1080,
		ParticleCount:  components.DefaultParticleCount,
		Seed:           1,
		SyncInterval:   1,
		ShadowMapSize:  components.DefaultShadowMapSize,
		VolShadowWidth: components.DefaultVolShadowWidth,
		LightDirection: math.NewVec3(0.5, -1, 0.3),
		SceneRadius:    6,
	}
}

type prop struct {
	name  string
	mesh  containers.Handle
	world math.Mat4
	color math.Vec4
}

/**
 * @brief Records and submits one frame per Tick. The stages run in a
 * fixed order on a single command list: simulate, volumetric shadow,
 * sort, prop shadow, props and particles into the multisampled HDR
 * target, debug overlay, then resolve, tonemap and present. Resources
 * move between stages only through their tracked barriers.
 */
type FrameRenderer struct {
	systems      *systems.SystemManager
	config       FrameRendererConfig
	newSwapchain SwapchainFactory

	swapchain   gpu.Swapchain
	commandList gpu.CommandList

	timer   *core.StepTimer
	metrics *core.Metrics
	camera  *components.FreeMoveCamera

	props         []prop
	propPipeline  *components.PropPipeline
	shadowMap     *components.ShadowMap
	volShadowMap  *components.VolShadowMap
	particles     *components.Particles
	renderTexture *components.RenderTexture
	textureDrawer *components.TextureDrawer
	overlay       *components.DebugOverlay

	updated   bool
	totalTime float32
	deltaTime float32
	target    math.Vec3
	shoot     *math.Ray
}

func NewFrameRenderer(sm *systems.SystemManager, newSwapchain SwapchainFactory, config FrameRendererConfig) (*FrameRenderer, error) {
	if config.Width == 0 || config.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d window", gpu.ErrInvalidCall, config.Width, config.Height)
	}
	if config.SceneRadius <= 0 {
		config.SceneRadius = DefaultFrameRendererConfig().SceneRadius
	}
	if config.LightDirection.LengthSquared() == 0 {
		config.LightDirection = DefaultFrameRendererConfig().LightDirection
	}
	fr := &FrameRenderer{
		systems:      sm,
		config:       config,
		newSwapchain: newSwapchain,
		timer:        core.NewStepTimer(),
		metrics:      core.NewMetrics(),
		camera:       components.NewFreeMoveCamera(),
	}
	fr.camera.SetPosition(math.NewVec3(0, 1, 8))
	fr.camera.SetAspectRatio(float32(config.Width) / float32(config.Height))
	fr.camera.Activate()

	if err := fr.createResources(); err != nil {
		fr.CleanupResources()
		return nil, err
	}
	return fr, nil
}

func (fr *FrameRenderer) createResources() error {
	if err := fr.CreateDeviceDependentResources(); err != nil {
		return fmt.Errorf("failed to create device resources: %w", err)
	}
	if err := fr.CreateWindowSizeDependentResources(); err != nil {
		return fmt.Errorf("failed to create window size resources: %w", err)
	}
	return nil
}

// CreateDeviceDependentResources creates everything that lives as long as the device.
func (fr *FrameRenderer) CreateDeviceDependentResources() error {
	sm := fr.systems
	cfg := fr.config
	var err error

	if fr.commandList, err = sm.Device().CreateCommandList(); err != nil {
		return err
	}
	if fr.swapchain, err = fr.newSwapchain(sm.Device(), cfg.Width, cfg.Height); err != nil {
		return err
	}

	boxVertices, boxIndices := math.GeometryGenerateBox(math.NewVec3(1, 1, 1))
	box, err := sm.Buffers().CreateMesh("box", boxVertices, boxIndices)
	if err != nil {
		return err
	}
	floorVertices, floorIndices := math.GeometryGenerateBox(math.NewVec3(12, 0.2, 12))
	floor, err := sm.Buffers().CreateMesh("floor", floorVertices, floorIndices)
	if err != nil {
		return err
	}
	fr.props = []prop{
		{name: "box", mesh: box, world: math.NewMat4Identity(), color: math.NewVec4(0.8, 0.3, 0.2, 1)},
		{name: "floor", mesh: floor, world: math.NewMat4Translation(math.NewVec3(0, -3, 0)), color: math.NewVec4(0.6, 0.6, 0.6, 1)},
	}

	centre := math.NewVec3Zero()
	if fr.propPipeline, err = components.NewPropPipeline(sm); err != nil {
		return err
	}
	if fr.shadowMap, err = components.NewShadowMap(sm, cfg.LightDirection, cfg.SceneRadius, centre, cfg.ShadowMapSize); err != nil {
		return err
	}
	if fr.volShadowMap, err = components.NewVolShadowMap(sm, cfg.LightDirection, cfg.SceneRadius, centre, cfg.VolShadowWidth); err != nil {
		return err
	}

	particleConfig := components.DefaultParticlesConfig()
	particleConfig.Count = cfg.ParticleCount
	particleConfig.Seed = cfg.Seed
	if fr.particles, err = components.NewParticles(sm, particleConfig); err != nil {
		return err
	}
	fr.setLight(cfg.LightDirection)

	if fr.textureDrawer, err = components.NewTextureDrawer(sm, fr.swapchain.Format(), fr.swapchain.ColorSpace()); err != nil {
		return err
	}
	if fr.overlay, err = components.NewDebugOverlay(sm, cfg.FontPath, HDRFormat); err != nil {
		return err
	}
	return nil
}

// CreateWindowSizeDependentResources creates the offscreen targets for the current size.
func (fr *FrameRenderer) CreateWindowSizeDependentResources() error {
	if fr.renderTexture != nil {
		fr.renderTexture.Release()
		fr.renderTexture = nil
	}
	rt, err := components.NewRenderTexture(fr.systems, fr.config.Width, fr.config.Height, HDRFormat, true)
	if err != nil {
		return err
	}
	fr.renderTexture = rt
	fr.camera.SetAspectRatio(float32(fr.config.Width) / float32(fr.config.Height))
	return nil
}

func (fr *FrameRenderer) setLight(direction math.Vec3) {
	d := direction.Normalized()
	light := components.DirectionalLight{Color: math.NewVec3(1, 0.95, 0.85), Strength: 1.2, Direction: d}
	if fr.propPipeline != nil {
		fr.propPipeline.Light = light
	}
	if fr.particles != nil {
		fr.particles.Light = light
	}
	if fr.shadowMap != nil {
		fr.shadowMap.SetLightDirection(d)
	}
	if fr.volShadowMap != nil {
		fr.volShadowMap.SetLightDirection(d)
	}
}

// SetLightDirection moves the light of the props, the particles and both shadow maps.
func (fr *FrameRenderer) SetLightDirection(direction math.Vec3) {
	if direction.LengthSquared() == 0 {
		return
	}
	fr.config.LightDirection = direction
	fr.setLight(direction)
}

/**
 * @brief Advances the timer, runs Update and renders a frame. A removed
 * device is recreated together with every resource; any other failure
 * is returned.
 */
func (fr *FrameRenderer) Tick(input *core.Input) error {
	fr.timer.Tick(func(timer *core.StepTimer) {
		fr.Update(timer, input)
	})
	err := fr.Render()
	if errors.Is(err, gpu.ErrDeviceRemoved) {
		core.LogWarn("device removed, recreating: %s", err)
		fr.fire(core.EVENT_CODE_DEVICE_LOST, err.Error())
		if err := fr.HandleDeviceLost(); err != nil {
			return err
		}
		fr.fire(core.EVENT_CODE_DEVICE_RESTORED, "")
		return nil
	}
	return err
}

func (fr *FrameRenderer) fire(code core.SystemEventCode, reason string) {
	if fr.config.Events != nil {
		fr.config.Events.Fire(code, fr, core.EventContext{Str: reason})
	}
}

// Update moves the camera, picks the shoot ray and animates the scene.
func (fr *FrameRenderer) Update(timer *core.StepTimer, input *core.Input) {
	elapsed := timer.ElapsedSeconds()
	fr.deltaTime = float32(elapsed)
	fr.totalTime = float32(timer.TotalSeconds())
	fr.metrics.Update(elapsed)

	if input != nil {
		if ray, ok := fr.camera.ShootRay(input, fr.config.Width, fr.config.Height); ok {
			fr.shoot = &ray
		}
		fr.camera.Update(elapsed, input)
	}

	t := fr.totalTime
	fr.target = math.NewVec3(math.Cos(t*0.5)*0.5, math.Sin(t*0.7)*0.5, 0)
	fr.props[0].world = math.NewMat4RotationZ(math.Cos(t) * 2)

	fps := fr.metrics.FPS()
	if fps == 0 {
		fps = float64(timer.FramesPerSecond())
	}
	fr.overlay.Update(fps)
	fr.updated = true
}

// Render records and submits the frame. Nothing is drawn before the first Update.
func (fr *FrameRenderer) Render() error {
	if !fr.updated {
		return nil
	}
	sm := fr.systems
	cl := fr.commandList
	if err := cl.Reset(); err != nil {
		return err
	}
	cl.SetDescriptorHeaps(sm.Memory().Heaps()...)
	cl.SetScissorRects(gpu.LargeScissor)

	if err := fr.recordFrame(cl); err != nil {
		_ = cl.Close()
		return err
	}
	if err := cl.Close(); err != nil {
		return err
	}
	queue := sm.Device().Queue()
	if err := queue.ExecuteCommandLists(cl); err != nil {
		return err
	}
	if err := fr.swapchain.Present(fr.config.SyncInterval); err != nil {
		return err
	}
	fr.shoot = nil
	return sm.Memory().Commit(queue)
}

func (fr *FrameRenderer) recordFrame(cl gpu.CommandList) error {
	camera := fr.camera.Camera()
	rt := fr.renderTexture

	if err := fr.particles.Simulate(cl, fr.deltaTime, fr.totalTime, fr.target, fr.shoot); err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	cl.BeginEvent("Volumetric Shadow")
	err := fr.volShadowMap.Render(cl, fr.particles)
	cl.EndEvent()
	if err != nil {
		return fmt.Errorf("volumetric shadow: %w", err)
	}

	if err := fr.particles.WriteSortKeys(cl, camera.View()); err != nil {
		return fmt.Errorf("sort keys: %w", err)
	}
	if err := fr.particles.Sort(cl); err != nil {
		return fmt.Errorf("sort: %w", err)
	}

	if err := fr.renderPropShadows(cl); err != nil {
		return fmt.Errorf("prop shadows: %w", err)
	}

	cl.BeginEvent("Scene")
	if err := rt.Clear(cl); err != nil {
		return err
	}
	if err := fr.renderProps(cl, camera); err != nil {
		return fmt.Errorf("props: %w", err)
	}
	volume, err := fr.volShadowMap.TransitionAndGetSRV(cl)
	if err != nil {
		return err
	}
	if err := fr.particles.Draw(cl, camera, volume, fr.volShadowMap.ShadowTransform(), rt.IsMultisampled()); err != nil {
		return fmt.Errorf("particles: %w", err)
	}
	if err := fr.overlay.Draw(cl, rt.Width(), rt.Height(), rt.IsMultisampled()); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	cl.EndEvent()

	return fr.present(cl)
}

func (fr *FrameRenderer) renderPropShadows(cl gpu.CommandList) error {
	cl.BeginEvent("Prop Shadows")
	defer cl.EndEvent()

	if err := fr.shadowMap.ClearAndSetDSV(cl); err != nil {
		return err
	}
	for _, p := range fr.props {
		fr.propPipeline.World = p.world
		if err := fr.propPipeline.ApplyShadow(cl, fr.shadowMap.View(), fr.shadowMap.Projection()); err != nil {
			return err
		}
		if err := fr.propPipeline.DrawMesh(cl, p.mesh); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return fr.shadowMap.TransitionToShaderResource(cl)
}

func (fr *FrameRenderer) renderProps(cl gpu.CommandList, camera *components.Camera) error {
	pp := fr.propPipeline
	pp.View = camera.View()
	pp.Proj = camera.Projection()
	pp.CameraPosition = camera.Position()
	pp.ShadowMap = fr.shadowMap.SRV()
	pp.ShadowTransform = fr.shadowMap.ShadowTransform()
	for _, p := range fr.props {
		pp.World = p.world
		pp.Color = p.color
		if err := pp.Apply(cl, fr.renderTexture.IsMultisampled()); err != nil {
			return err
		}
		if err := pp.DrawMesh(cl, p.mesh); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// present resolves the scene and tonemaps it into the current back buffer.
func (fr *FrameRenderer) present(cl gpu.CommandList) error {
	cl.BeginEvent("Tonemap")
	defer cl.EndEvent()

	rt := fr.renderTexture
	if err := rt.Resolve(cl); err != nil {
		return err
	}
	scene, err := rt.TransitionAndGetSRV(cl)
	if err != nil {
		return err
	}

	var backBuffer barrier.Resource
	backBuffer.Adopt(fr.swapchain.CurrentBackBuffer(), gpu.StatePresent)
	if err := backBuffer.Transition(cl, gpu.StateRenderTarget); err != nil {
		return err
	}
	cl.SetRenderTargets([]gpu.CPUDescriptorHandle{fr.swapchain.CurrentRTV()}, nil)
	viewport := gpu.Viewport{Width: float32(fr.swapchain.Width()), Height: float32(fr.swapchain.Height()), MaxDepth: 1}
	if err := fr.textureDrawer.Draw(cl, scene, viewport); err != nil {
		return err
	}
	return backBuffer.Transition(cl, gpu.StatePresent)
}

/**
 * @brief Resizes the swapchain and recreates the offscreen targets. The
 * queue is drained first since the old targets may still be in flight.
 */
func (fr *FrameRenderer) OnWindowSizeChanged(width, height uint32) error {
	if width == 0 || height == 0 || (width == fr.config.Width && height == fr.config.Height) {
		return nil
	}
	if err := fr.systems.Device().Queue().WaitIdle(); err != nil {
		return err
	}
	if err := fr.swapchain.Resize(width, height); err != nil {
		return err
	}
	fr.config.Width, fr.config.Height = width, height
	core.LogInfo("resized to %dx%d", width, height)
	return fr.CreateWindowSizeDependentResources()
}

// CleanupResources releases everything created on the current device.
func (fr *FrameRenderer) CleanupResources() {
	if fr.overlay != nil {
		fr.overlay.Release()
		fr.overlay = nil
	}
	if fr.textureDrawer != nil {
		fr.textureDrawer.Release()
		fr.textureDrawer = nil
	}
	if fr.renderTexture != nil {
		fr.renderTexture.Release()
		fr.renderTexture = nil
	}
	if fr.particles != nil {
		fr.particles.Release()
		fr.particles = nil
	}
	if fr.volShadowMap != nil {
		fr.volShadowMap.Release()
		fr.volShadowMap = nil
	}
	if fr.shadowMap != nil {
		fr.shadowMap.Release()
		fr.shadowMap = nil
	}
	if fr.propPipeline != nil {
		fr.propPipeline.Release()
		fr.propPipeline = nil
	}
	if bm := fr.systems.Buffers(); bm != nil {
		for _, p := range fr.props {
			_ = bm.RemoveMesh(p.mesh)
		}
	}
	fr.props = nil
	if fr.swapchain != nil {
		fr.swapchain.Release()
		fr.swapchain = nil
	}
	if fr.commandList != nil {
		fr.commandList.Release()
		fr.commandList = nil
	}
}

// HandleDeviceLost drops every resource, recreates the device and builds everything again.
func (fr *FrameRenderer) HandleDeviceLost() error {
	fr.CleanupResources()
	if err := fr.systems.RecreateDevice(); err != nil {
		return fmt.Errorf("failed to recreate the device: %w", err)
	}
	if err := fr.createResources(); err != nil {
		return err
	}
	fr.timer.ResetElapsedTime()
	core.LogInfo("device restored")
	return nil
}

func (fr *FrameRenderer) Shutdown() error {
	if fr.systems.Device() != nil {
		if err := fr.systems.Device().Queue().WaitIdle(); err != nil {
			core.LogWarn("waiting for the queue on shutdown: %s", err)
		}
	}
	fr.CleanupResources()
	return nil
}

func (fr *FrameRenderer) Camera() *components.FreeMoveCamera { return fr.camera }

func (fr *FrameRenderer) Particles() *components.Particles { return fr.particles }

func (fr *FrameRenderer) Swapchain() gpu.Swapchain { return fr.swapchain }

func (fr *FrameRenderer) Timer() *core.StepTimer { return fr.timer }

func (fr *FrameRenderer) Size() (uint32, uint32) { return fr.config.Width, fr.config.Height }
