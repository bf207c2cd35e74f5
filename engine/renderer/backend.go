package renderer

import (
	"fmt"
	"strings"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/renderer/vulkan"
	"github.com/spaghettifunk/ember/engine/systems"
)

type Backend string

const (
	BackendSoft   Backend = "soft"
	BackendVulkan Backend = "vulkan"
)

func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "", BackendSoft:
		return BackendSoft, nil
	case BackendVulkan:
		return BackendVulkan, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", gpu.ErrUnsupported, name)
	}
}

/**
 * @brief Selects and configures the device backend. Window is nil for
 * headless runs; the Vulkan backend then presents into offscreen images.
 */
type BackendConfig struct {
	Backend     Backend
	AppName     string
	Debug       bool
	ShaderDir   string
	Window      *glfw.Window
	ColorSpace  gpu.ColorSpace
	BufferCount uint32
	VSync       bool
	// soft swapchain frame dumps
	DumpDir   string
	DumpEvery uint32
}

// SwapchainFormat is the back buffer format for the configured color space.
func (c BackendConfig) SwapchainFormat() gpu.Format {
	if c.ColorSpace == gpu.ColorSpaceHDR10 {
		return gpu.FormatR10G10B10A2Unorm
	}
	return gpu.FormatB8G8R8A8Unorm
}

// NewDeviceFactory creates devices of the configured backend. Soft devices spread their kernels over the job system.
func NewDeviceFactory(config BackendConfig) systems.DeviceFactory {
	switch config.Backend {
	case BackendVulkan:
		return func(_ *systems.JobSystem) (gpu.Device, error) {
			return vulkan.NewDevice(vulkan.Options{
				AppName:   config.AppName,
				Debug:     config.Debug,
				ShaderDir: config.ShaderDir,
				Window:    config.Window,
			})
		}
	default:
		return func(jobs *systems.JobSystem) (gpu.Device, error) {
			opts := soft.DefaultOptions()
			if jobs != nil {
				opts.Executor = jobs
			}
			return soft.NewDevice(opts), nil
		}
	}
}

// NewSwapchainFactory creates swapchains matching the devices of NewDeviceFactory.
func NewSwapchainFactory(config BackendConfig) SwapchainFactory {
	return func(device gpu.Device, width, height uint32) (gpu.Swapchain, error) {
		switch d := device.(type) {
		case *soft.Device:
			return soft.NewSwapchain(d, soft.SwapchainOptions{
				Width:       width,
				Height:      height,
				Format:      config.SwapchainFormat(),
				ColorSpace:  config.ColorSpace,
				BufferCount: config.BufferCount,
				DumpDir:     config.DumpDir,
				DumpEvery:   config.DumpEvery,
			})
		case *vulkan.Device:
			return vulkan.NewSwapchain(d, vulkan.SwapchainOptions{
				Width:       width,
				Height:      height,
				Format:      config.SwapchainFormat(),
				ColorSpace:  config.ColorSpace,
				BufferCount: config.BufferCount,
				VSync:       config.VSync,
			})
		default:
			core.LogError("no swapchain for device %T", device)
			return nil, fmt.Errorf("%w: no swapchain for device %T", gpu.ErrUnsupported, device)
		}
	}
}
