package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

func VulkanResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

// check turns a failed result into an error that wraps the matching gpu sentinel.
func check(op string, result vk.Result) error {
	switch result {
	case vk.Success, vk.Incomplete, vk.Suboptimal:
		return nil
	case vk.ErrorDeviceLost:
		return fmt.Errorf("%s: %s: %w", op, VulkanResultString(result), gpu.ErrDeviceRemoved)
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return fmt.Errorf("%s: %s: %w", op, VulkanResultString(result), gpu.ErrOutOfMemory)
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent, vk.ErrorFormatNotSupported, vk.ErrorIncompatibleDriver:
		return fmt.Errorf("%s: %s: %w", op, VulkanResultString(result), gpu.ErrUnsupported)
	}
	return fmt.Errorf("%s failed with %s", op, VulkanResultString(result))
}

// mustCheck logs the failure as well; used where the caller only forwards the error.
func mustCheck(op string, result vk.Result) error {
	err := check(op, result)
	if err != nil {
		core.LogError("%s", err)
	}
	return err
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString reads a fixed size, zero terminated name such as LayerName or DeviceName.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

func bytesToUint32(code []byte) []uint32 {
	if len(code) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4)
}

func boolToVk(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) / alignment * alignment
}
