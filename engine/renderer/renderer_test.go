package renderer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/systems"
)

func testConfig() FrameRendererConfig {
	config := DefaultFrameRendererConfig()
	config.Width, config.Height = 64, 48
	config.ParticleCount = 256
	config.ShadowMapSize = 64
	config.VolShadowWidth = 16
	return config
}

func newFrameRenderer(t *testing.T, backend BackendConfig, config FrameRendererConfig) (*systems.SystemManager, *FrameRenderer) {
	t.Helper()
	smConfig := systems.DefaultSystemManagerConfig()
	smConfig.Workers = 2
	sm, err := systems.NewSystemManager(smConfig, NewDeviceFactory(backend))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Shutdown() })

	fr, err := NewFrameRenderer(sm, NewSwapchainFactory(backend), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fr.Shutdown() })
	return sm, fr
}

func softDevice(t *testing.T, sm *systems.SystemManager) *soft.Device {
	t.Helper()
	d, ok := sm.Device().(*soft.Device)
	require.True(t, ok)
	return d
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendSoft, b)

	b, err = ParseBackend(" Vulkan ")
	require.NoError(t, err)
	assert.Equal(t, BackendVulkan, b)

	_, err = ParseBackend("metal")
	assert.ErrorIs(t, err, gpu.ErrUnsupported)
}

func TestSwapchainFormatFollowsColorSpace(t *testing.T) {
	assert.Equal(t, gpu.FormatB8G8R8A8Unorm, BackendConfig{}.SwapchainFormat())
	assert.Equal(t, gpu.FormatR10G10B10A2Unorm, BackendConfig{ColorSpace: gpu.ColorSpaceHDR10}.SwapchainFormat())
}

func TestNewFrameRendererRejectsEmptyWindow(t *testing.T) {
	sm, err := systems.NewSystemManager(systems.DefaultSystemManagerConfig(), NewDeviceFactory(BackendConfig{}))
	require.NoError(t, err)
	defer sm.Shutdown()

	config := testConfig()
	config.Width = 0
	_, err = NewFrameRenderer(sm, NewSwapchainFactory(BackendConfig{}), config)
	assert.ErrorIs(t, err, gpu.ErrInvalidCall)
}

func TestRenderBeforeUpdateDrawsNothing(t *testing.T) {
	_, fr := newFrameRenderer(t, BackendConfig{}, testConfig())

	require.NoError(t, fr.Render())
	sc := fr.Swapchain().(*soft.Swapchain)
	assert.Zero(t, sc.Frames())
}

func TestFramesRenderWithoutValidationErrors(t *testing.T) {
	sm, fr := newFrameRenderer(t, BackendConfig{}, testConfig())
	input := core.NewInput(nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, fr.Tick(input))
		input.Update()
	}

	device := softDevice(t, sm)
	assert.Zero(t, device.ValidationErrors(), device.LastValidationError())
	sc := fr.Swapchain().(*soft.Swapchain)
	assert.EqualValues(t, 3, sc.Frames())
	assert.Equal(t, gpu.StatePresent, soft.ResourceState(sc.CurrentBackBuffer()))
}

func TestHDR10Swapchain(t *testing.T) {
	backend := BackendConfig{ColorSpace: gpu.ColorSpaceHDR10}
	sm, fr := newFrameRenderer(t, backend, testConfig())

	require.NoError(t, fr.Tick(core.NewInput(nil)))
	assert.Equal(t, gpu.FormatR10G10B10A2Unorm, fr.Swapchain().Format())
	device := softDevice(t, sm)
	assert.Zero(t, device.ValidationErrors(), device.LastValidationError())
}

func TestShootRayIsConsumedByOneFrame(t *testing.T) {
	_, fr := newFrameRenderer(t, BackendConfig{}, testConfig())
	input := core.NewInput(nil)
	input.ProcessMouseMove(32, 24)
	input.ProcessButton(core.BUTTON_LEFT, true)

	fr.Update(fr.Timer(), input)
	require.NotNil(t, fr.shoot)
	require.NoError(t, fr.Render())
	assert.Nil(t, fr.shoot)

	// held, not pressed again
	input.Update()
	fr.Update(fr.Timer(), input)
	assert.Nil(t, fr.shoot)
}

func TestRecoversFromDeviceRemoval(t *testing.T) {
	sm, fr := newFrameRenderer(t, BackendConfig{}, testConfig())
	input := core.NewInput(nil)
	require.NoError(t, fr.Tick(input))

	lost := softDevice(t, sm)
	lost.Remove()
	require.NoError(t, fr.Tick(input))

	restored := softDevice(t, sm)
	assert.NotSame(t, lost, restored)
	assert.False(t, restored.IsRemoved())

	require.NoError(t, fr.Tick(input))
	assert.Zero(t, restored.ValidationErrors(), restored.LastValidationError())
	assert.EqualValues(t, 1, fr.Swapchain().(*soft.Swapchain).Frames())
}

func TestResize(t *testing.T) {
	sm, fr := newFrameRenderer(t, BackendConfig{}, testConfig())
	input := core.NewInput(nil)
	require.NoError(t, fr.Tick(input))

	require.NoError(t, fr.OnWindowSizeChanged(80, 40))
	w, h := fr.Size()
	assert.EqualValues(t, 80, w)
	assert.EqualValues(t, 40, h)
	assert.EqualValues(t, 80, fr.Swapchain().Width())
	assert.InDelta(t, 2.0, fr.Camera().Camera().AspectRatio(), 1e-6)

	// a minimized window keeps the old size
	require.NoError(t, fr.OnWindowSizeChanged(0, 0))
	w, _ = fr.Size()
	assert.EqualValues(t, 80, w)

	require.NoError(t, fr.Tick(input))
	device := softDevice(t, sm)
	assert.Zero(t, device.ValidationErrors(), device.LastValidationError())
}

func TestSetLightDirection(t *testing.T) {
	sm, fr := newFrameRenderer(t, BackendConfig{}, testConfig())
	fr.SetLightDirection(math.NewVec3(0, -1, 0))
	require.NoError(t, fr.Tick(core.NewInput(nil)))
	device := softDevice(t, sm)
	assert.Zero(t, device.ValidationErrors(), device.LastValidationError())
}

func TestFrameDumps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	_, fr := newFrameRenderer(t, BackendConfig{DumpDir: dir, DumpEvery: 1}, testConfig())
	require.NoError(t, fr.Tick(core.NewInput(nil)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
