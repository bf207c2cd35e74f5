package vulkan

import (
	"cmp"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const bufferUsage = vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit | vk.BufferUsageStorageBufferBit |
	vk.BufferUsageUniformBufferBit | vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit

/**
 * @brief A buffer or image with its own memory allocation. Buffers get a
 * virtual address and a slot of the device buffer table; upload and
 * readback buffers stay mapped for their whole life.
 */
type resource struct {
	device *Device
	heap   gpu.HeapType
	desc   gpu.ResourceDesc
	name   string
	clear  gpu.ClearValue

	buffer vk.Buffer
	image  vk.Image
	memory vk.DeviceMemory
	mapped unsafe.Pointer
	size   uint64

	va   uint64
	slot uint32

	format vk.Format
	aspect vk.ImageAspectFlags
	// state is the state as of the last recorded barrier.
	state gpu.ResourceState

	released bool
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if err := validateDesc(heap, desc); err != nil {
		return nil, err
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if desc.SampleCount > d.maxSamples {
		return nil, fmt.Errorf("%w: %d samples, device supports %d", gpu.ErrUnsupported, desc.SampleCount, d.maxSamples)
	}
	r := &resource{device: d, heap: heap, desc: desc, state: initialState}
	if clear != nil {
		r.clear = *clear
	}
	var err error
	if desc.Dimension == gpu.DimensionBuffer {
		err = d.createBuffer(r)
	} else {
		err = d.createImage(r)
	}
	if err != nil {
		return nil, d.fail(err)
	}
	return r, nil
}

func validateDesc(heap gpu.HeapType, desc gpu.ResourceDesc) error {
	switch desc.Dimension {
	case gpu.DimensionBuffer:
		if desc.Width == 0 {
			return fmt.Errorf("%w: zero sized buffer", gpu.ErrInvalidCall)
		}
	case gpu.DimensionTexture2D, gpu.DimensionTexture3D:
		if heap != gpu.HeapDefault {
			return fmt.Errorf("%w: textures must live in the default heap", gpu.ErrInvalidCall)
		}
		if desc.Width == 0 || desc.Height == 0 || desc.DepthOrArraySize == 0 {
			return fmt.Errorf("%w: zero sized texture", gpu.ErrInvalidCall)
		}
		if desc.Format == gpu.FormatUnknown {
			return fmt.Errorf("%w: texture without a format", gpu.ErrInvalidCall)
		}
		if desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0 && !desc.Format.IsDepth() && desc.Format != gpu.FormatR32Typeless {
			return fmt.Errorf("%w: depth stencil texture with color format %s", gpu.ErrInvalidCall, desc.Format)
		}
	default:
		return fmt.Errorf("%w: unknown dimension", gpu.ErrInvalidCall)
	}
	return nil
}

func (d *Device) createBuffer(r *resource) error {
	r.size = r.desc.Width
	err := check("vkCreateBuffer", vk.CreateBuffer(d.logical, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(r.size),
		Usage:       vk.BufferUsageFlags(bufferUsage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &r.buffer))
	if err != nil {
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, r.buffer, &reqs)
	reqs.Deref()

	var flags []vk.MemoryPropertyFlagBits
	switch r.heap {
	case gpu.HeapUpload:
		flags = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit}
	case gpu.HeapReadback:
		flags = []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit,
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
		}
	default:
		flags = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit, 0}
	}
	if r.memory, _, err = d.allocate(reqs, flags...); err != nil {
		vk.DestroyBuffer(d.logical, r.buffer, nil)
		return err
	}
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(d.logical, r.buffer, r.memory, 0)); err != nil {
		r.destroyNow()
		return err
	}
	if r.heap != gpu.HeapDefault {
		if err := check("vkMapMemory", vk.MapMemory(d.logical, r.memory, 0, vk.DeviceSize(r.size), 0, &r.mapped)); err != nil {
			r.destroyNow()
			return err
		}
	}

	d.mu.Lock()
	r.va = d.nextVA
	d.nextVA += alignUp(r.size, vaAlignment) + vaAlignment
	d.buffers = append(d.buffers, r)
	if n := len(d.freeSlots); n > 0 {
		r.slot = d.freeSlots[n-1]
		d.freeSlots = d.freeSlots[:n-1]
	} else {
		r.slot = d.nextSlot
		d.nextSlot++
	}
	slot := r.slot
	d.mu.Unlock()

	if slot >= MaxBuffers {
		r.Release()
		return fmt.Errorf("%w: more than %d live buffers", gpu.ErrOutOfMemory, MaxBuffers)
	}
	d.writeBufferTable(slot, r.buffer)
	return nil
}

func (d *Device) createImage(r *resource) error {
	desc := r.desc
	depth := desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0
	r.format = vkFormat(desc.Format, depth)
	if r.format == vk.FormatUndefined {
		return fmt.Errorf("%w: format %s", gpu.ErrUnsupported, desc.Format)
	}
	r.aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if r.format == vk.FormatD32Sfloat {
		r.aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if desc.Flags&gpu.ResourceFlagDenyShaderResource == 0 {
		usage |= vk.ImageUsageSampledBit
	}
	if desc.Flags&gpu.ResourceFlagAllowRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if depth {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= vk.ImageUsageStorageBit
	}

	imageType := vk.ImageType2d
	extentDepth, layers := uint32(1), desc.DepthOrArraySize
	if desc.Dimension == gpu.DimensionTexture3D {
		imageType = vk.ImageType3d
		extentDepth, layers = desc.DepthOrArraySize, 1
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}

	err := check("vkCreateImage", vk.CreateImage(d.logical, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     imageType,
		Format:        r.format,
		Extent:        vk.Extent3D{Width: uint32(desc.Width), Height: desc.Height, Depth: extentDepth},
		MipLevels:     mips,
		ArrayLayers:   layers,
		Samples:       sampleCountBits(desc.SampleCount),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &r.image))
	if err != nil {
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, r.image, &reqs)
	reqs.Deref()
	if r.memory, _, err = d.allocate(reqs, vk.MemoryPropertyDeviceLocalBit, 0); err != nil {
		vk.DestroyImage(d.logical, r.image, nil)
		return err
	}
	r.size = uint64(reqs.Size)
	if err := check("vkBindImageMemory", vk.BindImageMemory(d.logical, r.image, r.memory, 0)); err != nil {
		r.destroyNow()
		return err
	}

	// leave undefined for the layout of the initial state
	layout := r.layoutFor(r.state)
	err = d.immediate(func(cmd vk.CommandBuffer) {
		vk.CmdPipelineBarrier(cmd,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.DependencyFlags(0), 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
				SType:               vk.StructureTypeImageMemoryBarrier,
				DstAccessMask:       accessFor(r.state),
				OldLayout:           vk.ImageLayoutUndefined,
				NewLayout:           layout,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               r.image,
				SubresourceRange:    r.fullRange(),
			}})
	})
	if err != nil {
		r.destroyNow()
		return err
	}
	return nil
}

func (r *resource) isDepth() bool {
	return r.aspect&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0
}

func (r *resource) layoutFor(state gpu.ResourceState) vk.ImageLayout {
	return layoutFor(state, r.isDepth())
}

// layout is the layout the image is in as of the last recorded barrier.
func (r *resource) layout() vk.ImageLayout {
	return r.layoutFor(r.state)
}

func (r *resource) fullRange() vk.ImageSubresourceRange {
	mips, layers := r.desc.MipLevels, r.desc.DepthOrArraySize
	if mips == 0 {
		mips = 1
	}
	if r.desc.Dimension == gpu.DimensionTexture3D {
		layers = 1
	}
	return vk.ImageSubresourceRange{
		AspectMask:     r.aspect,
		BaseMipLevel:   0,
		LevelCount:     mips,
		BaseArrayLayer: 0,
		LayerCount:     layers,
	}
}

func (r *resource) layers(subresource uint32) vk.ImageSubresourceLayers {
	mips := r.desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	layer := uint32(0)
	if r.desc.Dimension == gpu.DimensionTexture2D {
		layer = subresource / mips
	}
	return vk.ImageSubresourceLayers{
		AspectMask:     r.aspect,
		MipLevel:       subresource % mips,
		BaseArrayLayer: layer,
		LayerCount:     1,
	}
}

func (r *resource) extent() vk.Extent3D {
	depth := uint32(1)
	if r.desc.Dimension == gpu.DimensionTexture3D {
		depth = r.desc.DepthOrArraySize
	}
	return vk.Extent3D{Width: uint32(r.desc.Width), Height: r.desc.Height, Depth: depth}
}

func (r *resource) isBuffer() bool { return r.desc.Dimension == gpu.DimensionBuffer }

func (r *resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *resource) GPUAddress() gpu.GPUAddress {
	return gpu.GPUAddress(r.va)
}

func (r *resource) Map() ([]byte, error) {
	if r.released {
		return nil, fmt.Errorf("%w: map of a released resource", gpu.ErrInvalidCall)
	}
	if r.mapped == nil {
		return nil, fmt.Errorf("%w: only upload and readback buffers can be mapped", gpu.ErrInvalidCall)
	}
	return unsafe.Slice((*byte)(r.mapped), int(r.size)), nil
}

// Unmap keeps the memory mapped; host coherent memory needs no flush.
func (r *resource) Unmap() {}

func (r *resource) SetName(name string) { r.name = name }

func (r *resource) Name() string { return r.name }

func (r *resource) label() string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("resource@%p", r)
}

func (r *resource) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.isBuffer() {
		r.device.forgetBuffer(r)
	}
	r.device.framebuffer.evictResource(r)
	buffer, image, memory, mapped := r.buffer, r.image, r.memory, r.mapped
	dev := r.device.logical
	r.device.release(func() {
		if mapped != nil {
			vk.UnmapMemory(dev, memory)
		}
		if buffer != vk.NullBuffer {
			vk.DestroyBuffer(dev, buffer, nil)
		}
		if image != vk.NullImage {
			vk.DestroyImage(dev, image, nil)
		}
		if memory != vk.NullDeviceMemory {
			vk.FreeMemory(dev, memory, nil)
		}
	})
}

// destroy releases without waiting for the queue. Only used while closing the device.
func (r *resource) destroy() {
	if r.released {
		return
	}
	r.released = true
	if r.isBuffer() {
		r.device.forgetBuffer(r)
	}
	r.destroyNow()
}

func (r *resource) destroyNow() {
	dev := r.device.logical
	if r.mapped != nil {
		vk.UnmapMemory(dev, r.memory)
		r.mapped = nil
	}
	if r.buffer != vk.NullBuffer {
		vk.DestroyBuffer(dev, r.buffer, nil)
		r.buffer = vk.NullBuffer
	}
	if r.image != vk.NullImage {
		vk.DestroyImage(dev, r.image, nil)
		r.image = vk.NullImage
	}
	if r.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, r.memory, nil)
		r.memory = vk.NullDeviceMemory
	}
}

// resolveVA finds the buffer containing addr and the offset inside it.
func (dev *Device) resolveVA(addr gpu.GPUAddress) (*resource, uint64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	a := uint64(addr)
	i, found := slices.BinarySearchFunc(dev.buffers, a, func(r *resource, a uint64) int {
		return cmp.Compare(r.va, a)
	})
	if !found {
		i--
	}
	if i < 0 {
		return nil, 0, fmt.Errorf("%w: address 0x%x is not inside a buffer", gpu.ErrInvalidCall, a)
	}
	r := dev.buffers[i]
	if r.released || a >= r.va+r.desc.Width {
		return nil, 0, fmt.Errorf("%w: address 0x%x is not inside a live buffer", gpu.ErrInvalidCall, a)
	}
	return r, a - r.va, nil
}

func (dev *Device) forgetBuffer(r *resource) {
	dev.mu.Lock()
	for i, b := range dev.buffers {
		if b == r {
			dev.buffers = append(dev.buffers[:i], dev.buffers[i+1:]...)
			break
		}
	}
	dev.mu.Unlock()
	if r.slot < MaxBuffers && r != dev.nullBuffer {
		slot := r.slot
		// the slot is reused only after in-flight work stops reading it
		dev.queue.deferRelease(func() {
			dev.mu.Lock()
			dev.freeSlots = append(dev.freeSlots, slot)
			dev.mu.Unlock()
		})
	}
	core.LogDebug("buffer '%s' released", r.label())
}

// ResourceState is the state of res as of the last barrier recorded against it.
func ResourceState(res gpu.Resource) gpu.ResourceState {
	if r, ok := res.(*resource); ok {
		return r.state
	}
	return gpu.StateCommon
}
