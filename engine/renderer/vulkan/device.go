package vulkan

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

/** @brief Creation options of a Vulkan device. */
type Options struct {
	AppName string
	/** @brief Enables the validation layer and the debug report callback. */
	Debug bool
	/** @brief Directory holding compiled <name>.spv files. */
	ShaderDir string
	/** @brief Window to present into. Nil runs headless. */
	Window *glfw.Window
}

/**
 * @brief A gpu.Device on top of Vulkan 1.2. Root signatures become
 * pipeline layouts that share the heap and buffer table descriptor sets,
 * root arguments travel as push constants, and mesh pipelines run their
 * mesh shader as a vertex shader that pulls its own data.
 */
type Device struct {
	opts Options
	ctx  *context

	physical    vk.PhysicalDevice
	properties  vk.PhysicalDeviceProperties
	memory      vk.PhysicalDeviceMemoryProperties
	maxSamples  uint32
	adapterName string

	logical     vk.Device
	queueFamily uint32
	queue       *queue

	// shared by every pipeline layout
	heapLayout   vk.DescriptorSetLayout
	heapPool     vk.DescriptorPool
	bufferLayout vk.DescriptorSetLayout
	bufferPool   vk.DescriptorPool
	bufferSet    vk.DescriptorSet
	// bound when a command list has no shader visible heap
	emptyHeapSet vk.DescriptorSet

	mu          sync.Mutex
	nextVA      uint64
	buffers     []*resource // sorted by va
	freeSlots   []uint32
	nextSlot    uint32
	heaps       map[uint64]*descriptorHeap
	nextHID     uint64
	nullBuffer  *resource
	renderPass  *renderPassCache
	framebuffer *framebufferCache
	oneShot     *commandPool

	removed atomic.Bool
	closed  bool
}

func NewDevice(opts Options) (*Device, error) {
	ctx, err := newContext(opts)
	if err != nil {
		return nil, err
	}
	d := &Device{
		opts:    opts,
		ctx:     ctx,
		nextVA:  vaBase,
		heaps:   make(map[uint64]*descriptorHeap),
		nextHID: 1,
	}
	if err := d.selectPhysicalDevice(); err != nil {
		ctx.destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		ctx.destroy()
		return nil, err
	}
	d.queue = newQueue(d)
	d.renderPass = newRenderPassCache(d)
	d.framebuffer = newFramebufferCache(d)

	if d.oneShot, err = newCommandPool(d); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.createSharedDescriptors(); err != nil {
		d.Close()
		return nil, err
	}
	// slot 0 of the buffer table always points at a live buffer
	null, err := d.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.StateCommon, nil)
	if err != nil {
		d.Close()
		return nil, err
	}
	null.SetName("null buffer")
	d.nullBuffer = null.(*resource)

	core.LogInfo("Vulkan device created (%s, %d samples max)", d.adapterName, d.maxSamples)
	return d, nil
}

type queueFamilyInfo struct {
	graphics uint32
	found    bool
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.ctx.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		core.LogError("No devices which support Vulkan were found.")
		return fmt.Errorf("%w: no Vulkan devices", gpu.ErrUnsupported)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.ctx.instance, &count, devices)); err != nil {
		return err
	}

	// discrete adapters first
	type candidate struct {
		device     vk.PhysicalDevice
		properties vk.PhysicalDeviceProperties
		family     uint32
		score      int
	}
	var candidates []candidate
	for _, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		props.Limits.Deref()

		name := cString(props.DeviceName[:])
		if vk.Version(props.ApiVersion).Minor() < 2 && vk.Version(props.ApiVersion).Major() == 1 {
			core.LogInfo("Device '%s' does not support Vulkan 1.2, skipping.", name)
			continue
		}
		family := d.findQueueFamily(pd)
		if !family.found {
			core.LogInfo("Device '%s' has no graphics queue that can present, skipping.", name)
			continue
		}
		score := 0
		switch props.DeviceType {
		case vk.PhysicalDeviceTypeDiscreteGpu:
			score = 3
		case vk.PhysicalDeviceTypeIntegratedGpu:
			score = 2
		case vk.PhysicalDeviceTypeVirtualGpu:
			score = 1
		}
		candidates = append(candidates, candidate{device: pd, properties: props, family: family.graphics, score: score})
	}
	if len(candidates) == 0 {
		core.LogError("No physical devices were found which meet the requirements.")
		return fmt.Errorf("%w: no suitable Vulkan device", gpu.ErrUnsupported)
	}
	slices.SortStableFunc(candidates, func(a, b candidate) int { return cmp.Compare(b.score, a.score) })

	best := candidates[0]
	d.physical = best.device
	d.properties = best.properties
	d.queueFamily = best.family
	d.adapterName = cString(best.properties.DeviceName[:])

	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memory)
	d.memory.Deref()
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		d.memory.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < d.memory.MemoryHeapCount; i++ {
		d.memory.MemoryHeaps[i].Deref()
		sizeMib := d.memory.MemoryHeaps[i].Size / 1024 / 1024
		if vk.MemoryHeapFlagBits(d.memory.MemoryHeaps[i].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogDebug("Local GPU memory: %d MiB", sizeMib)
		} else {
			core.LogDebug("Shared System memory: %d MiB", sizeMib)
		}
	}

	limits := d.properties.Limits
	counts := vk.SampleCountFlagBits(limits.FramebufferColorSampleCounts & limits.FramebufferDepthSampleCounts)
	d.maxSamples = 1
	for _, c := range []uint32{8, 4, 2} {
		if counts&sampleCountBits(c) != 0 {
			d.maxSamples = c
			break
		}
	}

	version := vk.Version(d.properties.ApiVersion)
	core.LogInfo("Selected device: '%s', Vulkan %d.%d.%d", d.adapterName, version.Major(), version.Minor(), version.Patch())
	return nil
}

func (d *Device) findQueueFamily(pd vk.PhysicalDevice) queueFamilyInfo {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	want := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&want != want {
			continue
		}
		if d.ctx.surface != vk.NullSurface {
			var present vk.Bool32
			if vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.ctx.surface, &present) != vk.Success || present != vk.True {
				continue
			}
		}
		return queueFamilyInfo{graphics: uint32(i), found: true}
	}
	return queueFamilyInfo{}
}

func (d *Device) createLogicalDevice() error {
	core.LogDebug("Creating logical device...")

	var extensions []string
	if d.ctx.surface != vk.NullSurface {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var device vk.Device
	err := mustCheck("vkCreateDevice", vk.CreateDevice(d.physical, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		EnabledLayerCount:       uint32(len(d.ctx.layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(d.ctx.layers),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			ShaderStorageImageWriteWithoutFormat:    vk.True,
			ShaderSampledImageArrayDynamicIndexing:  vk.True,
			ShaderStorageBufferArrayDynamicIndexing: vk.True,
			ShaderStorageImageArrayDynamicIndexing:  vk.True,
			VertexPipelineStoresAndAtomics:          vk.True,
			FragmentStoresAndAtomics:                vk.True,
			FillModeNonSolid:                        vk.True,
			DepthClamp:                              vk.True,
			DepthBiasClamp:                          vk.True,
		}},
		PNext: unsafe.Pointer(&vk.PhysicalDeviceVulkan12Features{
			SType:              vk.StructureTypePhysicalDeviceVulkan12Features,
			DescriptorIndexing: vk.True,
			ShaderSampledImageArrayNonUniformIndexing:     vk.True,
			ShaderStorageBufferArrayNonUniformIndexing:    vk.True,
			ShaderStorageImageArrayNonUniformIndexing:     vk.True,
			DescriptorBindingSampledImageUpdateAfterBind:  vk.True,
			DescriptorBindingStorageImageUpdateAfterBind:  vk.True,
			DescriptorBindingStorageBufferUpdateAfterBind: vk.True,
			DescriptorBindingUpdateUnusedWhilePending:     vk.True,
			DescriptorBindingPartiallyBound:               vk.True,
			RuntimeDescriptorArray:                        vk.True,
		}),
	}, nil, &device))
	if err != nil {
		return err
	}
	d.logical = device
	core.LogDebug("Logical device created.")
	return nil
}

// findMemoryIndex returns the first memory type in typeFilter with all the wanted property flags, or -1.
func (d *Device) findMemoryIndex(typeFilter uint32, flags vk.MemoryPropertyFlagBits) int32 {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		if typeFilter&(1<<i) == 0 {
			continue
		}
		if vk.MemoryPropertyFlagBits(d.memory.MemoryTypes[i].PropertyFlags)&flags == flags {
			return int32(i)
		}
	}
	return -1
}

// allocate picks memory for reqs, trying each flag set in order.
func (d *Device) allocate(reqs vk.MemoryRequirements, flags ...vk.MemoryPropertyFlagBits) (vk.DeviceMemory, vk.MemoryPropertyFlagBits, error) {
	for _, f := range flags {
		index := d.findMemoryIndex(reqs.MemoryTypeBits, f)
		if index < 0 {
			continue
		}
		var mem vk.DeviceMemory
		err := check("vkAllocateMemory", vk.AllocateMemory(d.logical, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  reqs.Size,
			MemoryTypeIndex: uint32(index),
		}, nil, &mem))
		if err != nil {
			return vk.NullDeviceMemory, 0, err
		}
		return mem, f, nil
	}
	core.LogWarn("Unable to find suitable memory type!")
	return vk.NullDeviceMemory, 0, fmt.Errorf("%w: no suitable memory type", gpu.ErrOutOfMemory)
}

func (d *Device) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		AdapterName:    d.adapterName,
		ShaderModel:    68,
		MeshShaderTier: 1,
		MaxSampleCount: d.maxSamples,
		ShaderFormat:   gpu.ShaderFormatSPIRV,
	}
}

func (d *Device) IsRemoved() bool {
	return d.removed.Load()
}

// fail marks the device removed when err says so and passes err through.
func (d *Device) fail(err error) error {
	if err != nil && errors.Is(err, gpu.ErrDeviceRemoved) && !d.removed.Swap(true) {
		core.LogError("Vulkan device lost: %s", err)
	}
	return err
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	return newFence(d.queue, initialValue), nil
}

func (d *Device) Queue() gpu.Queue {
	return d.queue
}

func (d *Device) HasShader(name string) bool {
	if d.opts.ShaderDir == "" || name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(d.opts.ShaderDir, name+".spv"))
	return err == nil && !info.IsDir()
}

// immediate records fn into a one-shot command buffer, submits it and waits for it.
func (d *Device) immediate(fn func(cmd vk.CommandBuffer)) error {
	if d.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	d.mu.Lock()
	pool := d.oneShot
	d.mu.Unlock()
	cmd, err := pool.begin()
	if err != nil {
		return d.fail(err)
	}
	fn(cmd)
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(cmd)); err != nil {
		pool.free(cmd)
		return d.fail(err)
	}
	serial, err := d.queue.submit([]vk.CommandBuffer{cmd}, nil, nil)
	if err == nil {
		err = d.queue.waitSerial(serial)
	}
	pool.free(cmd)
	return d.fail(err)
}

// release runs fn once the GPU is done with everything submitted so far.
func (d *Device) release(fn func()) {
	if d.queue == nil {
		fn()
		return
	}
	d.queue.deferRelease(fn)
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
	}
	if d.queue != nil {
		d.queue.destroy()
	}
	if d.nullBuffer != nil {
		d.nullBuffer.destroy()
	}
	d.mu.Lock()
	heaps := make([]*descriptorHeap, 0, len(d.heaps))
	for _, h := range d.heaps {
		heaps = append(heaps, h)
	}
	buffers := append([]*resource(nil), d.buffers...)
	d.mu.Unlock()
	for _, h := range heaps {
		h.destroy()
	}
	for _, b := range buffers {
		if !b.released {
			core.LogWarn("buffer '%s' was not released before the device was closed", b.label())
			b.destroy()
		}
	}
	if d.framebuffer != nil {
		d.framebuffer.destroy()
	}
	if d.renderPass != nil {
		d.renderPass.destroy()
	}
	if d.oneShot != nil {
		d.oneShot.destroy()
	}
	d.destroySharedDescriptors()
	if d.logical != nil {
		vk.DestroyDevice(d.logical, nil)
		d.logical = nil
	}
	d.ctx.destroy()
	core.LogInfo("Vulkan device closed.")
	return nil
}
