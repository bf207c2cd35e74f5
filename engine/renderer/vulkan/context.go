package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

/**
 * @brief Owns the Vulkan instance, the optional debug callback and the
 * window surface. A device keeps one context for its whole lifetime and
 * a new one is created when the device is recreated after a loss.
 */
type context struct {
	instance vk.Instance
	debug    vk.DebugReportCallback
	surface  vk.Surface
	layers   []string
}

func loadLoader(window *glfw.Window) error {
	if window != nil {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			return fmt.Errorf("GetInstanceProcAddress is nil")
		}
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("failed to load the vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}
	return nil
}

func newContext(opts Options) (*context, error) {
	if err := loadLoader(opts.Window); err != nil {
		core.LogError("%s", err)
		return nil, err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(opts.AppName),
		PEngineName:        VulkanSafeString("Ember"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if opts.Window != nil {
		extensions = append(extensions, opts.Window.GetRequiredInstanceExtensions()...)
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1
	}

	ctx := &context{}
	if opts.Debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if hasInstanceLayer(validationLayer) {
			ctx.layers = []string{validationLayer}
		} else {
			core.LogWarn("validation layer %s is not installed", validationLayer)
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(ctx.layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(ctx.layers)

	if err := mustCheck("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &ctx.instance)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(ctx.instance); err != nil {
		ctx.destroy()
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if opts.Debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}
		var cb vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(ctx.instance, &debugCreateInfo, nil, &cb)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			ctx.debug = cb
		}
	}

	if opts.Window != nil {
		surfPtr, err := opts.Window.CreateWindowSurface(ctx.instance, nil)
		if err != nil {
			ctx.destroy()
			core.LogError("Vulkan surface creation failed: %s", err)
			return nil, err
		}
		ctx.surface = vk.SurfaceFromPointer(surfPtr)
	}
	return ctx, nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success || count == 0 {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (c *context) destroy() {
	if c.surface != vk.NullSurface {
		vk.DestroySurface(c.instance, c.surface, nil)
		c.surface = vk.NullSurface
	}
	if c.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(c.instance, c.debug, nil)
		c.debug = vk.NullDebugReportCallback
	}
	if c.instance != nil {
		vk.DestroyInstance(c.instance, nil)
		c.instance = nil
	}
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
