package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type viewKind uint8

const (
	viewNone viewKind = iota
	viewSRV
	viewUAV
	viewRTV
	viewDSV
)

func (k viewKind) String() string {
	switch k {
	case viewSRV:
		return "SRV"
	case viewUAV:
		return "UAV"
	case viewRTV:
		return "RTV"
	case viewDSV:
		return "DSV"
	}
	return "empty"
}

/**
 * @brief A descriptor slot. Texture views own an image view; buffer
 * views only keep the byte range they cover.
 */
type descriptor struct {
	kind   viewKind
	res    *resource
	view   vk.ImageView
	offset uint64
	rng    uint64
}

type descriptorHeap struct {
	device   *Device
	id       uint64
	kind     gpu.HeapKind
	visible  bool
	base     uint64
	capacity uint32
	slots    []descriptor
	// set 0 of every pipeline layout, only for shader visible heaps
	set      vk.DescriptorSet
	released bool
}

func (h *descriptorHeap) Kind() gpu.HeapKind { return h.kind }

func (h *descriptorHeap) Capacity() uint32 { return h.capacity }

func (h *descriptorHeap) ShaderVisible() bool { return h.visible }

func (h *descriptorHeap) Stride() uint32 { return descriptorLen }

func (h *descriptorHeap) CPUStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: h.base}
}

func (h *descriptorHeap) GPUStart() gpu.GPUDescriptorHandle {
	if !h.visible {
		return gpu.GPUDescriptorHandle{}
	}
	return gpu.GPUDescriptorHandle{Ptr: h.base}
}

func (h *descriptorHeap) Release() {
	if h.released {
		return
	}
	h.released = true
	h.device.mu.Lock()
	delete(h.device.heaps, h.id)
	h.device.mu.Unlock()
	for i := range h.slots {
		h.device.dropView(&h.slots[i])
	}
	if h.set != nullDescriptorSet {
		set, dev, pool := h.set, h.device.logical, h.device.heapPool
		h.set = nullDescriptorSet
		h.device.release(func() {
			vk.FreeDescriptorSets(dev, pool, 1, []vk.DescriptorSet{set})
		})
	}
}

// destroy frees views immediately. Only used while closing the device.
func (h *descriptorHeap) destroy() {
	for i := range h.slots {
		if h.slots[i].view != vk.NullImageView {
			vk.DestroyImageView(h.device.logical, h.slots[i].view, nil)
		}
		h.slots[i] = descriptor{}
	}
	h.released = true
	h.device.mu.Lock()
	delete(h.device.heaps, h.id)
	h.device.mu.Unlock()
}

func (d *Device) CreateDescriptorHeap(kind gpu.HeapKind, capacity uint32, shaderVisible bool) (gpu.DescriptorHeap, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if capacity == 0 {
		return nil, fmt.Errorf("%w: empty descriptor heap", gpu.ErrInvalidCall)
	}
	if shaderVisible && kind != gpu.HeapKindSrvUav {
		return nil, fmt.Errorf("%w: %s heaps cannot be shader visible", gpu.ErrInvalidCall, kind)
	}
	if shaderVisible && capacity > MaxShaderVisibleDescriptors {
		return nil, fmt.Errorf("%w: shader visible heap of %d descriptors, at most %d", gpu.ErrInvalidCall, capacity, MaxShaderVisibleDescriptors)
	}
	h := &descriptorHeap{
		device:   d,
		kind:     kind,
		visible:  shaderVisible,
		capacity: capacity,
		slots:    make([]descriptor, capacity),
	}
	if shaderVisible {
		set, err := d.allocateHeapSet()
		if err != nil {
			return nil, d.fail(err)
		}
		h.set = set
	}
	d.mu.Lock()
	h.id = d.nextHID
	d.nextHID++
	h.base = h.id << heapPtrShift
	d.heaps[h.id] = h
	d.mu.Unlock()
	core.LogDebug("descriptor heap %d created (%s, %d descriptors, visible %t)", h.id, kind, capacity, shaderVisible)
	return h, nil
}

// resolveDescriptor maps a CPU or GPU handle pointer back to its heap and slot index.
func (d *Device) resolveDescriptor(ptr uint64) (*descriptorHeap, uint32, error) {
	d.mu.Lock()
	h, ok := d.heaps[ptr>>heapPtrShift]
	d.mu.Unlock()
	if !ok || h.released {
		return nil, 0, fmt.Errorf("%w: descriptor handle 0x%x does not belong to a live heap", gpu.ErrInvalidCall, ptr)
	}
	off := ptr - h.base
	if off%descriptorLen != 0 || off/descriptorLen >= uint64(h.capacity) {
		return nil, 0, fmt.Errorf("%w: descriptor handle 0x%x is outside its heap", gpu.ErrInvalidCall, ptr)
	}
	return h, uint32(off / descriptorLen), nil
}

// dropView forgets the image view of slot once in-flight work is done with it.
func (d *Device) dropView(slot *descriptor) {
	if slot.view != vk.NullImageView {
		view, dev := slot.view, d.logical
		d.framebuffer.evictView(view)
		d.release(func() { vk.DestroyImageView(dev, view, nil) })
	}
	*slot = descriptor{}
}

func (d *Device) writeDescriptor(dst gpu.CPUDescriptorHandle, want gpu.HeapKind, desc descriptor) error {
	if d.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	h, index, err := d.resolveDescriptor(dst.Ptr)
	if err != nil {
		if desc.view != vk.NullImageView {
			vk.DestroyImageView(d.logical, desc.view, nil)
		}
		return err
	}
	if h.kind != want {
		if desc.view != vk.NullImageView {
			vk.DestroyImageView(d.logical, desc.view, nil)
		}
		return fmt.Errorf("%w: %s view written to a %s heap", gpu.ErrInvalidCall, desc.kind, h.kind)
	}
	d.dropView(&h.slots[index])
	h.slots[index] = desc
	if h.visible {
		d.writeHeapSet(h.set, index, desc)
	}
	return nil
}

func asResource(res gpu.Resource) (*resource, error) {
	r, ok := res.(*resource)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: resource does not belong to the vulkan device", gpu.ErrInvalidCall)
	}
	if r.released {
		return nil, fmt.Errorf("%w: view of released resource %s", gpu.ErrInvalidCall, r.label())
	}
	return r, nil
}

func (d *Device) createView(r *resource, format gpu.Format, viewType vk.ImageViewType) (vk.ImageView, error) {
	vkf := r.format
	if format != gpu.FormatUnknown && !r.isDepth() {
		vkf = vkFormat(format, false)
	}
	var view vk.ImageView
	err := check("vkCreateImageView", vk.CreateImageView(d.logical, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    r.image,
		ViewType: viewType,
		Format:   vkf,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: r.fullRange(),
	}, nil, &view))
	return view, d.fail(err)
}

func (d *Device) CreateShaderResourceView(res gpu.Resource, desc *gpu.SRVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagDenyShaderResource != 0 {
		return fmt.Errorf("%w: %s denies shader resource views", gpu.ErrInvalidCall, r.label())
	}
	if r.isBuffer() {
		first, count, stride := uint64(0), r.desc.Width/4, uint64(4)
		if desc != nil {
			if desc.NumElements == 0 {
				return fmt.Errorf("%w: buffer SRV needs an element count", gpu.ErrInvalidCall)
			}
			if desc.StructureByteStride != 0 {
				stride = uint64(desc.StructureByteStride)
			}
			first, count = desc.FirstElement, uint64(desc.NumElements)
		}
		return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewSRV, res: r, offset: first * stride, rng: count * stride})
	}

	viewType := vk.ImageViewType2d
	format := r.desc.Format
	if desc != nil {
		format = desc.Format
		switch desc.Dimension {
		case gpu.SRVDimensionTextureCube:
			return fmt.Errorf("%w: cube views", gpu.ErrUnsupported)
		case gpu.SRVDimensionBuffer:
			return fmt.Errorf("%w: buffer SRV of texture %s", gpu.ErrInvalidCall, r.label())
		}
	}
	if r.desc.Dimension == gpu.DimensionTexture3D {
		viewType = vk.ImageViewType3d
	}
	view, err := d.createView(r, format, viewType)
	if err != nil {
		return err
	}
	return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewSRV, res: r, view: view})
}

func (d *Device) CreateUnorderedAccessView(res gpu.Resource, desc *gpu.UAVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return fmt.Errorf("%w: %s was not created with unordered access", gpu.ErrInvalidCall, r.label())
	}
	if r.isBuffer() {
		first, count, stride := uint64(0), r.desc.Width/4, uint64(4)
		if desc != nil {
			if desc.StructureByteStride != 0 && desc.Flags&gpu.BufferUAVFlagRaw == 0 {
				stride = uint64(desc.StructureByteStride)
			}
			if desc.NumElements != 0 {
				first, count = desc.FirstElement, uint64(desc.NumElements)
			}
		}
		return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewUAV, res: r, offset: first * stride, rng: count * stride})
	}

	viewType := vk.ImageViewType2d
	if r.desc.Dimension == gpu.DimensionTexture3D {
		viewType = vk.ImageViewType3d
	}
	format := r.desc.Format
	if desc != nil && desc.Format != gpu.FormatUnknown {
		format = desc.Format
	}
	view, err := d.createView(r, format, viewType)
	if err != nil {
		return err
	}
	return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewUAV, res: r, view: view})
}

func (d *Device) CreateRenderTargetView(res gpu.Resource, desc *gpu.RTVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		return fmt.Errorf("%w: %s was not created as a render target", gpu.ErrInvalidCall, r.label())
	}
	format := r.desc.Format
	if desc != nil && desc.Format != gpu.FormatUnknown {
		format = desc.Format
	}
	view, err := d.createView(r, format, vk.ImageViewType2d)
	if err != nil {
		return err
	}
	return d.writeDescriptor(dst, gpu.HeapKindRTV, descriptor{kind: viewRTV, res: r, view: view})
}

func (d *Device) CreateDepthStencilView(res gpu.Resource, desc *gpu.DSVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
		return fmt.Errorf("%w: %s was not created as a depth stencil", gpu.ErrInvalidCall, r.label())
	}
	view, err := d.createView(r, gpu.FormatUnknown, vk.ImageViewType2d)
	if err != nil {
		return err
	}
	return d.writeDescriptor(dst, gpu.HeapKindDSV, descriptor{kind: viewDSV, res: r, view: view})
}

// descriptor slot lookups used while recording
func (d *Device) lookupView(h gpu.CPUDescriptorHandle, want viewKind) (*descriptor, error) {
	heap, index, err := d.resolveDescriptor(h.Ptr)
	if err != nil {
		return nil, err
	}
	slot := &heap.slots[index]
	if slot.kind != want {
		return nil, fmt.Errorf("%w: expected a %s at 0x%x, found %s", gpu.ErrInvalidCall, want, h.Ptr, slot.kind)
	}
	if slot.res == nil || slot.res.released {
		return nil, fmt.Errorf("%w: %s at 0x%x points at a released resource", gpu.ErrInvalidCall, want, h.Ptr)
	}
	return slot, nil
}

func bindingFlags(n int) []vk.DescriptorBindingFlags {
	flags := make([]vk.DescriptorBindingFlags, n)
	for i := range flags {
		flags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit |
			vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateUnusedWhilePendingBit)
	}
	return flags
}

func (d *Device) createBindlessLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	flags := bindingFlags(len(bindings))
	var layout vk.DescriptorSetLayout
	err := mustCheck("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.logical, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
		PNext: unsafe.Pointer(&vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(flags)),
			PBindingFlags: flags,
		}),
	}, nil, &layout))
	return layout, err
}

func (d *Device) createBindlessPool(maxSets uint32, sizes []vk.DescriptorPoolSize) (vk.DescriptorPool, error) {
	var pool vk.DescriptorPool
	err := mustCheck("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.logical, &vk.DescriptorPoolCreateInfo{
		SType: vk.StructureTypeDescriptorPoolCreateInfo,
		Flags: vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit |
			vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool))
	return pool, err
}

const maxVisibleHeaps = 8

/**
 * @brief Creates the descriptor state every pipeline layout shares: the
 * layout of shader visible heaps (set 0) and the buffer table (set 1)
 * that root views index into.
 */
func (d *Device) createSharedDescriptors() error {
	stages := vk.ShaderStageFlags(vk.ShaderStageAll)
	var err error
	d.heapLayout, err = d.createBindlessLayout([]vk.DescriptorSetLayoutBinding{
		{Binding: bindingSampledImages, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: MaxShaderVisibleDescriptors, StageFlags: stages},
		{Binding: bindingStorageImages, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: MaxShaderVisibleDescriptors, StageFlags: stages},
		{Binding: bindingStorageBuffer, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: MaxShaderVisibleDescriptors, StageFlags: stages},
	})
	if err != nil {
		return err
	}
	// one extra set for the empty heap
	sets := uint32(maxVisibleHeaps + 1)
	d.heapPool, err = d.createBindlessPool(sets, []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: sets * MaxShaderVisibleDescriptors},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: sets * MaxShaderVisibleDescriptors},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: sets * MaxShaderVisibleDescriptors},
	})
	if err != nil {
		return err
	}
	if d.emptyHeapSet, err = d.allocateHeapSet(); err != nil {
		return err
	}

	d.bufferLayout, err = d.createBindlessLayout([]vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: MaxBuffers, StageFlags: stages},
	})
	if err != nil {
		return err
	}
	d.bufferPool, err = d.createBindlessPool(1, []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: MaxBuffers},
	})
	if err != nil {
		return err
	}
	sets1 := make([]vk.DescriptorSet, 1)
	err = mustCheck("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logical, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.bufferPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.bufferLayout},
	}, sets1))
	if err != nil {
		return err
	}
	d.bufferSet = sets1[0]
	return nil
}

func (d *Device) allocateHeapSet() (vk.DescriptorSet, error) {
	sets := make([]vk.DescriptorSet, 1)
	err := check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logical, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.heapPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.heapLayout},
	}, sets))
	if err != nil {
		return nullDescriptorSet, fmt.Errorf("more than %d shader visible heaps: %w", maxVisibleHeaps, err)
	}
	return sets[0], nil
}

func (d *Device) destroySharedDescriptors() {
	if d.logical == nil {
		return
	}
	if d.heapPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d.logical, d.heapPool, nil)
	}
	if d.bufferPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d.logical, d.bufferPool, nil)
	}
	if d.heapLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d.logical, d.heapLayout, nil)
	}
	if d.bufferLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d.logical, d.bufferLayout, nil)
	}
}

func (d *Device) writeBufferTable(slot uint32, buffer vk.Buffer) {
	vk.UpdateDescriptorSets(d.logical, 1, []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          d.bufferSet,
		DstBinding:      0,
		DstArrayElement: slot,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buffer,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	}}, 0, nil)
}

func (d *Device) writeHeapSet(set vk.DescriptorSet, index uint32, desc descriptor) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstArrayElement: index,
		DescriptorCount: 1,
	}
	switch {
	case desc.res.isBuffer():
		write.DstBinding = bindingStorageBuffer
		write.DescriptorType = vk.DescriptorTypeStorageBuffer
		write.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: desc.res.buffer,
			Offset: vk.DeviceSize(desc.offset),
			Range:  vk.DeviceSize(desc.rng),
		}}
	case desc.kind == viewUAV:
		write.DstBinding = bindingStorageImages
		write.DescriptorType = vk.DescriptorTypeStorageImage
		write.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   desc.view,
			ImageLayout: vk.ImageLayoutGeneral,
		}}
	default:
		layout := vk.ImageLayoutShaderReadOnlyOptimal
		if desc.res.isDepth() {
			layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		write.DstBinding = bindingSampledImages
		write.DescriptorType = vk.DescriptorTypeSampledImage
		write.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   desc.view,
			ImageLayout: layout,
		}}
	}
	vk.UpdateDescriptorSets(d.logical, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}
