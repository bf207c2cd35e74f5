package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type SwapchainOptions struct {
	Width       uint32
	Height      uint32
	Format      gpu.Format
	ColorSpace  gpu.ColorSpace
	BufferCount uint32
	VSync       bool
}

/**
 * @brief Back buffers are ordinary render target images in the present
 * state. With a window surface, Present blits the current back buffer
 * into an acquired swapchain image; without one the swapchain only
 * rotates its buffers.
 */
type Swapchain struct {
	device  *Device
	opts    SwapchainOptions
	buffers []*resource
	rtvHeap *descriptorHeap
	current uint32
	frames  uint64

	handle     vk.Swapchain
	images     []vk.Image
	extent     vk.Extent2D
	format     vk.SurfaceFormat
	acquired   []vk.Semaphore
	rendered   []vk.Semaphore
	slotSerial []uint64
	slot       int
}

func NewSwapchain(device *Device, opts SwapchainOptions) (*Swapchain, error) {
	if device.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if opts.BufferCount == 0 {
		opts.BufferCount = 2
	}
	if opts.Format == gpu.FormatUnknown {
		opts.Format = gpu.FormatB8G8R8A8Unorm
	}
	if opts.ColorSpace == gpu.ColorSpaceHDR10 && opts.Format != gpu.FormatR10G10B10A2Unorm {
		return nil, fmt.Errorf("%w: HDR10 needs a %s swapchain", gpu.ErrUnsupported, gpu.FormatR10G10B10A2Unorm)
	}
	heap, err := device.CreateDescriptorHeap(gpu.HeapKindRTV, opts.BufferCount, false)
	if err != nil {
		return nil, err
	}
	sc := &Swapchain{device: device, opts: opts, rtvHeap: heap.(*descriptorHeap)}
	if err := sc.createBuffers(); err != nil {
		sc.Release()
		return nil, err
	}
	if device.ctx.surface != vk.NullSurface {
		if err := sc.createSurfaceSwapchain(); err != nil {
			sc.Release()
			return nil, err
		}
	}
	core.LogInfo("Swapchain created (%dx%d, %s, %d buffers).", opts.Width, opts.Height, opts.Format, opts.BufferCount)
	return sc, nil
}

func (s *Swapchain) createBuffers() error {
	s.buffers = s.buffers[:0]
	for i := uint32(0); i < s.opts.BufferCount; i++ {
		res, err := s.device.CreateCommittedResource(gpu.HeapDefault,
			gpu.Tex2DDesc(s.opts.Format, uint64(s.opts.Width), s.opts.Height, 1, gpu.ResourceFlagAllowRenderTarget),
			gpu.StatePresent, nil)
		if err != nil {
			return err
		}
		res.SetName(fmt.Sprintf("back buffer %d", i))
		if err := s.device.CreateRenderTargetView(res, nil, s.rtvHeap.CPUStart().Offset(i, s.rtvHeap.Stride())); err != nil {
			res.Release()
			return err
		}
		s.buffers = append(s.buffers, res.(*resource))
	}
	s.current = 0
	return nil
}

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func (d *Device) querySwapchainSupport() (swapchainSupport, error) {
	var info swapchainSupport
	pd, surface := d.physical, d.ctx.surface
	if err := check("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &info.capabilities)); err != nil {
		return info, err
	}
	info.capabilities.Deref()
	info.capabilities.CurrentExtent.Deref()
	info.capabilities.MinImageExtent.Deref()
	info.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil)); err != nil {
		return info, err
	}
	info.formats = make([]vk.SurfaceFormat, count)
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, info.formats)); err != nil {
		return info, err
	}
	for i := range info.formats {
		info.formats[i].Deref()
	}

	count = 0
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil)); err != nil {
		return info, err
	}
	info.presentModes = make([]vk.PresentMode, count)
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, info.presentModes)); err != nil {
		return info, err
	}
	return info, nil
}

func (s *Swapchain) chooseFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	want, space := vk.FormatB8g8r8a8Unorm, vk.ColorSpaceSrgbNonlinear
	if s.opts.ColorSpace == gpu.ColorSpaceHDR10 {
		want, space = vk.FormatA2b10g10r10UnormPack32, vk.ColorSpaceHdr10St2084
	}
	for _, f := range formats {
		if f.Format == want && f.ColorSpace == space {
			return f
		}
	}
	if s.opts.ColorSpace == gpu.ColorSpaceHDR10 {
		core.LogWarn("surface has no HDR10 format, presenting in its default color space")
	}
	return formats[0]
}

func (s *Swapchain) choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	if s.opts.VSync {
		return vk.PresentModeFifo
	}
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	for _, m := range modes {
		if m == vk.PresentModeImmediate {
			return m
		}
	}
	return vk.PresentModeFifo
}

func clampExtent(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func (s *Swapchain) createSurfaceSwapchain() error {
	d := s.device
	support, err := d.querySwapchainSupport()
	if err != nil {
		return d.fail(err)
	}
	if len(support.formats) == 0 {
		return fmt.Errorf("%w: surface reports no formats", gpu.ErrUnsupported)
	}
	caps := support.capabilities
	s.format = s.chooseFormat(support.formats)

	extent := vk.Extent2D{Width: s.opts.Width, Height: s.opts.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clampExtent(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clampExtent(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		// minimized; keep the old swapchain until the window comes back
		return nil
	}

	imageCount := max(caps.MinImageCount+1, s.opts.BufferCount)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	old := s.handle
	var handle vk.Swapchain
	err = mustCheck("vkCreateSwapchain", vk.CreateSwapchain(d.logical, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.ctx.surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      s.choosePresentMode(support.presentModes),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &handle))
	if err != nil {
		return d.fail(err)
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(d.logical, old, nil)
	}
	s.handle = handle
	s.extent = extent

	var count uint32
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical, s.handle, &count, nil)); err != nil {
		return d.fail(err)
	}
	s.images = make([]vk.Image, count)
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical, s.handle, &count, s.images)); err != nil {
		return d.fail(err)
	}

	if len(s.acquired) > 0 {
		if err := d.queue.WaitIdle(); err != nil {
			return err
		}
		s.destroySemaphores()
	}
	for i := uint32(0); i < count; i++ {
		var acquired, rendered vk.Semaphore
		info := &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if err := mustCheck("vkCreateSemaphore", vk.CreateSemaphore(d.logical, info, nil, &acquired)); err != nil {
			return d.fail(err)
		}
		s.acquired = append(s.acquired, acquired)
		if err := mustCheck("vkCreateSemaphore", vk.CreateSemaphore(d.logical, info, nil, &rendered)); err != nil {
			return d.fail(err)
		}
		s.rendered = append(s.rendered, rendered)
	}
	s.slotSerial = make([]uint64, count)
	s.slot = 0
	core.LogDebug("surface swapchain created (%dx%d, %d images)", extent.Width, extent.Height, count)
	return nil
}

func (s *Swapchain) destroySemaphores() {
	for _, sem := range s.acquired {
		vk.DestroySemaphore(s.device.logical, sem, nil)
	}
	for _, sem := range s.rendered {
		vk.DestroySemaphore(s.device.logical, sem, nil)
	}
	s.acquired, s.rendered = nil, nil
}

func (s *Swapchain) Width() uint32 { return s.opts.Width }

func (s *Swapchain) Height() uint32 { return s.opts.Height }

func (s *Swapchain) Format() gpu.Format { return s.opts.Format }

func (s *Swapchain) ColorSpace() gpu.ColorSpace { return s.opts.ColorSpace }

func (s *Swapchain) BufferCount() uint32 { return s.opts.BufferCount }

func (s *Swapchain) CurrentBackBufferIndex() uint32 { return s.current }

func (s *Swapchain) CurrentBackBuffer() gpu.Resource { return s.buffers[s.current] }

func (s *Swapchain) CurrentRTV() gpu.CPUDescriptorHandle {
	return s.rtvHeap.CPUStart().Offset(s.current, s.rtvHeap.Stride())
}

// Frames is the number of presented frames.
func (s *Swapchain) Frames() uint64 { return s.frames }

func (s *Swapchain) Resize(width, height uint32) error {
	if s.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	if err := s.device.queue.WaitIdle(); err != nil {
		return err
	}
	for _, b := range s.buffers {
		b.Release()
	}
	s.opts.Width, s.opts.Height = width, height
	if err := s.createBuffers(); err != nil {
		return err
	}
	if s.handle != vk.NullSwapchain {
		return s.createSurfaceSwapchain()
	}
	return nil
}

func (s *Swapchain) Present(_ uint32) error {
	if s.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	bb := s.buffers[s.current]
	if bb.state != gpu.StatePresent {
		return fmt.Errorf("%w: %s presented while in %s", gpu.ErrInvalidCall, bb.label(), bb.state)
	}
	if s.handle != vk.NullSwapchain {
		if err := s.presentSurface(bb); err != nil {
			return err
		}
	}
	s.frames++
	s.current = (s.current + 1) % s.opts.BufferCount
	return nil
}

func (s *Swapchain) presentSurface(bb *resource) error {
	d := s.device
	q := d.queue
	slot := s.slot
	// the semaphores of this slot may still be in use by its last present
	if err := q.waitSerial(s.slotSerial[slot]); err != nil {
		return d.fail(err)
	}

	var index uint32
	result := vk.AcquireNextImage(d.logical, s.handle, fenceTimeout, s.acquired[slot], vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		core.LogDebug("swapchain out of date on acquire, recreating")
		return s.createSurfaceSwapchain()
	default:
		return d.fail(check("vkAcquireNextImage", result))
	}

	cmd, err := d.oneShot.begin()
	if err != nil {
		return d.fail(err)
	}
	s.recordBlit(cmd, bb, s.images[index])
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(cmd)); err != nil {
		d.oneShot.free(cmd)
		return d.fail(err)
	}
	serial, err := q.submit([]vk.CommandBuffer{cmd}, []vk.Semaphore{s.acquired[slot]}, []vk.Semaphore{s.rendered[slot]})
	if err != nil {
		d.oneShot.free(cmd)
		return d.fail(err)
	}
	pool := d.oneShot
	q.deferRelease(func() { pool.free(cmd) })
	s.slotSerial[slot] = serial
	s.slot = (slot + 1) % len(s.acquired)

	result = vk.QueuePresent(q.handle, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.rendered[slot]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	})
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		core.LogDebug("swapchain out of date on present, recreating")
		if err := q.WaitIdle(); err != nil {
			return err
		}
		return s.createSurfaceSwapchain()
	}
	return d.fail(check("vkQueuePresent", result))
}

func (s *Swapchain) recordBlit(cmd vk.CommandBuffer, bb *resource, image vk.Image) {
	color := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(cmd, all, all, 0, 0, nil, 0, nil, 2, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
		OldLayout:           bb.layout(),
		NewLayout:           vk.ImageLayoutTransferSrcOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               bb.image,
		SubresourceRange:    color,
	}, {
		SType:               vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutTransferDstOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    color,
	}})

	layers := vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1}
	vk.CmdBlitImage(cmd, bb.image, vk.ImageLayoutTransferSrcOptimal, image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{{
		SrcSubresource: layers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(bb.desc.Width), Y: int32(bb.desc.Height), Z: 1}},
		DstSubresource: layers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: int32(s.extent.Width), Y: int32(s.extent.Height), Z: 1}},
	}}, vk.FilterLinear)

	vk.CmdPipelineBarrier(cmd, all, all, 0, 0, nil, 0, nil, 2, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           vk.ImageLayoutTransferSrcOptimal,
		NewLayout:           bb.layout(),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               bb.image,
		SubresourceRange:    color,
	}, {
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutTransferDstOptimal,
		NewLayout:           vk.ImageLayoutPresentSrc,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    color,
	}})
}

func (s *Swapchain) Release() {
	d := s.device
	if s.handle != vk.NullSwapchain || len(s.acquired) > 0 {
		_ = d.queue.WaitIdle()
		s.destroySemaphores()
		if s.handle != vk.NullSwapchain {
			vk.DestroySwapchain(d.logical, s.handle, nil)
			s.handle = vk.NullSwapchain
		}
	}
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = nil
	if s.rtvHeap != nil {
		s.rtvHeap.Release()
		s.rtvHeap = nil
	}
}
