package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type commandListState int

const (
	commandListRecording commandListState = iota
	commandListInRenderPass
	commandListRecordingEnded
)

// rootBindings is what one bind point has set through the root signature.
type rootBindings struct {
	rs   *rootSignature
	push [pushConstantWords]uint32
}

/**
 * @brief A gpu.CommandList recording straight into a primary command
 * buffer. Render passes are begun lazily by the first draw after the
 * targets change and ended by anything that cannot run inside one.
 */
type commandList struct {
	device     *Device
	pool       *commandPool
	cmd        vk.CommandBuffer
	state      commandListState
	closed     bool
	released   bool
	err        error
	lastSerial uint64

	heap     *descriptorHeap
	pso      *pipeline
	graphics rootBindings
	compute  rootBindings

	rtvs     []*descriptor
	dsv      *descriptor
	viewport gpu.Viewport
	scissor  gpu.Rect
	passW    uint32
	passH    uint32

	events []string
}

func (d *Device) CreateCommandList() (gpu.CommandList, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	d.mu.Lock()
	pool := d.oneShot
	d.mu.Unlock()
	cmd, err := pool.begin()
	if err != nil {
		return nil, d.fail(err)
	}
	return &commandList{device: d, pool: pool, cmd: cmd, scissor: gpu.LargeScissor}, nil
}

// Release waits for the last submission and recycles the command buffer.
func (c *commandList) Release() {
	if c.released {
		return
	}
	c.released = true
	c.closed = true
	if c.device.IsRemoved() {
		// destroying the pool frees the buffer
		return
	}
	if err := c.device.queue.waitSerial(c.lastSerial); err != nil {
		core.LogWarn("command list: %s", c.device.fail(err))
		return
	}
	c.pool.free(c.cmd)
	c.cmd = nil
}

func (c *commandList) fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
		core.LogError("command list: %s", err)
	}
}

// recording reports whether commands can still be recorded.
func (c *commandList) recording() bool {
	if c.released {
		c.fail(fmt.Errorf("%w: recording into a released command list", gpu.ErrInvalidCall))
		return false
	}
	if c.closed {
		c.fail(fmt.Errorf("%w: recording into a closed command list", gpu.ErrInvalidCall))
		return false
	}
	return c.err == nil
}

func (c *commandList) Reset() error {
	if c.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	if c.released {
		return fmt.Errorf("%w: reset of a released command list", gpu.ErrInvalidCall)
	}
	// the buffer may still be executing
	if err := c.device.queue.waitSerial(c.lastSerial); err != nil {
		return c.device.fail(err)
	}
	if err := beginCommandBuffer(c.cmd); err != nil {
		return c.device.fail(err)
	}
	*c = commandList{
		device:     c.device,
		pool:       c.pool,
		cmd:        c.cmd,
		lastSerial: c.lastSerial,
		scissor:    gpu.LargeScissor,
		rtvs:       c.rtvs[:0],
		events:     c.events[:0],
	}
	return nil
}

func (c *commandList) Close() error {
	if c.released {
		return fmt.Errorf("%w: close of a released command list", gpu.ErrInvalidCall)
	}
	if c.closed {
		return fmt.Errorf("%w: command list already closed", gpu.ErrInvalidCall)
	}
	c.endPass()
	c.closed = true
	if len(c.events) != 0 {
		c.fail(fmt.Errorf("%w: %d unbalanced BeginEvent calls", gpu.ErrInvalidCall, len(c.events)))
	}
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(c.cmd)); err != nil {
		c.fail(c.device.fail(err))
	}
	c.state = commandListRecordingEnded
	return c.err
}

func (c *commandList) endPass() {
	if c.state == commandListInRenderPass {
		vk.CmdEndRenderPass(c.cmd)
		c.state = commandListRecording
	}
}

func (c *commandList) ResourceBarrier(barriers ...gpu.Barrier) {
	if !c.recording() || len(barriers) == 0 {
		return
	}
	c.endPass()

	var global []vk.MemoryBarrier
	var images []vk.ImageMemoryBarrier
	for _, b := range barriers {
		r, err := asResource(b.Resource)
		if err != nil {
			c.fail(err)
			return
		}
		if b.Type == gpu.BarrierUAV {
			global = append(global, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})
			continue
		}
		if r.state != b.Before {
			core.LogWarn("%s: barrier expects %s but the resource is in %s", r.label(), b.Before, r.state)
		}
		if r.isBuffer() {
			global = append(global, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: accessFor(b.Before) | vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask: accessFor(b.After),
			})
		} else {
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       accessFor(b.Before) | vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask:       accessFor(b.After),
				OldLayout:           r.layoutFor(b.Before),
				NewLayout:           r.layoutFor(b.After),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               r.image,
				SubresourceRange:    r.fullRange(),
			})
		}
		r.state = b.After
	}
	// one global barrier covers every buffer
	if len(global) > 1 {
		merged := global[0]
		for _, g := range global[1:] {
			merged.SrcAccessMask |= g.SrcAccessMask
			merged.DstAccessMask |= g.DstAccessMask
		}
		global = global[:1]
		global[0] = merged
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(c.cmd, all, all, 0,
		uint32(len(global)), global,
		0, nil,
		uint32(len(images)), images)
}

func (c *commandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	if !c.recording() {
		return
	}
	c.heap = nil
	for _, h := range heaps {
		dh, ok := h.(*descriptorHeap)
		if !ok || !dh.visible || dh.released {
			c.fail(fmt.Errorf("%w: only live shader visible Vulkan heaps can be bound", gpu.ErrInvalidCall))
			return
		}
		if c.heap != nil {
			c.fail(fmt.Errorf("%w: one CBV/SRV/UAV heap can be bound at a time", gpu.ErrInvalidCall))
			return
		}
		c.heap = dh
	}
}

func (c *commandList) SetPipelineState(p gpu.Pipeline) {
	if !c.recording() {
		return
	}
	pso, ok := p.(*pipeline)
	if !ok || pso == nil || pso.released {
		c.fail(fmt.Errorf("%w: pipeline does not belong to the Vulkan device", gpu.ErrInvalidCall))
		return
	}
	c.pso = pso
}

func (c *commandList) setRootSignature(rs gpu.RootSignature, compute bool) {
	if !c.recording() {
		return
	}
	r, err := asRootSignature(rs)
	if err != nil {
		c.fail(err)
		return
	}
	if compute {
		c.compute = rootBindings{rs: r}
	} else {
		c.graphics = rootBindings{rs: r}
	}
}

func (c *commandList) SetGraphicsRootSignature(rs gpu.RootSignature) { c.setRootSignature(rs, false) }

func (c *commandList) SetComputeRootSignature(rs gpu.RootSignature) { c.setRootSignature(rs, true) }

func (c *commandList) setRootArg(compute bool, index uint32, a, b uint32) {
	if !c.recording() {
		return
	}
	bind := &c.graphics
	if compute {
		bind = &c.compute
	}
	if bind.rs == nil {
		c.fail(fmt.Errorf("%w: root argument set before the root signature", gpu.ErrInvalidCall))
		return
	}
	if int(index) >= len(bind.rs.desc.Parameters) {
		c.fail(fmt.Errorf("%w: root parameter %d not in the root signature", gpu.ErrInvalidCall, index))
		return
	}
	bind.push[index*2] = a
	bind.push[index*2+1] = b
}

// setRootView pushes the buffer table slot and byte offset of addr.
func (c *commandList) setRootView(compute bool, index uint32, addr gpu.GPUAddress) {
	r, offset, err := c.device.resolveVA(addr)
	if err != nil {
		c.fail(err)
		return
	}
	c.setRootArg(compute, index, r.slot, uint32(offset))
}

// setRootTable pushes the index of the table start inside the bound heap.
func (c *commandList) setRootTable(compute bool, index uint32, handle gpu.GPUDescriptorHandle) {
	h, slot, err := c.device.resolveDescriptor(handle.Ptr)
	if err != nil {
		c.fail(err)
		return
	}
	if h != c.heap {
		c.fail(fmt.Errorf("%w: descriptor table outside the bound heap", gpu.ErrInvalidCall))
		return
	}
	c.setRootArg(compute, index, slot, 0)
}

func (c *commandList) SetGraphicsRootConstantBufferView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(false, index, addr)
}

func (c *commandList) SetComputeRootConstantBufferView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(true, index, addr)
}

func (c *commandList) SetGraphicsRootShaderResourceView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(false, index, addr)
}

func (c *commandList) SetComputeRootShaderResourceView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(true, index, addr)
}

func (c *commandList) SetGraphicsRootUnorderedAccessView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(false, index, addr)
}

func (c *commandList) SetComputeRootUnorderedAccessView(index uint32, addr gpu.GPUAddress) {
	c.setRootView(true, index, addr)
}

func (c *commandList) SetGraphicsRootDescriptorTable(index uint32, handle gpu.GPUDescriptorHandle) {
	c.setRootTable(false, index, handle)
}

func (c *commandList) SetComputeRootDescriptorTable(index uint32, handle gpu.GPUDescriptorHandle) {
	c.setRootTable(true, index, handle)
}

// SetRenderTargets resolves the views now, like CPU descriptor handles on D3D12.
func (c *commandList) SetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	if !c.recording() {
		return
	}
	if len(rtvs) > maxRenderTargets {
		c.fail(fmt.Errorf("%w: %d render targets", gpu.ErrInvalidCall, len(rtvs)))
		return
	}
	c.endPass()
	c.rtvs = c.rtvs[:0]
	c.dsv = nil
	for _, h := range rtvs {
		d, err := c.device.lookupView(h, viewRTV)
		if err != nil {
			c.fail(err)
			return
		}
		cp := *d
		c.rtvs = append(c.rtvs, &cp)
	}
	if dsv != nil {
		d, err := c.device.lookupView(*dsv, viewDSV)
		if err != nil {
			c.fail(err)
			return
		}
		cp := *d
		c.dsv = &cp
	}
}

// clearPass runs a render pass whose single attachment is cleared on load.
func (c *commandList) clearPass(view *descriptor, key renderPassKey, clear vk.ClearValue) {
	c.endPass()
	pass, err := c.device.renderPass.get(key)
	if err != nil {
		c.fail(err)
		return
	}
	w, h := uint32(view.res.desc.Width), view.res.desc.Height
	fb, err := c.device.framebuffer.get(pass, []*descriptor{view}, w, h)
	if err != nil {
		c.fail(err)
		return
	}
	beginRenderPass(c.cmd, pass, fb, w, h, []vk.ClearValue{clear})
	vk.CmdEndRenderPass(c.cmd)
}

func (c *commandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32) {
	if !c.recording() {
		return
	}
	view, err := c.device.lookupView(rtv, viewRTV)
	if err != nil {
		c.fail(err)
		return
	}
	if view.res.state&gpu.StateRenderTarget == 0 {
		core.LogWarn("%s: ClearRenderTargetView outside of the render target state (%s)", view.res.label(), view.res.state)
	}
	key := renderPassKey{colorCount: 1, samples: sampleCountBits(view.res.desc.SampleCount), clear: true}
	key.colors[0] = view.res.format
	var clear vk.ClearValue
	clear.SetColor(color[:])
	cp := *view
	c.clearPass(&cp, key, clear)
}

func (c *commandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, depth float32) {
	if !c.recording() {
		return
	}
	view, err := c.device.lookupView(dsv, viewDSV)
	if err != nil {
		c.fail(err)
		return
	}
	if view.res.state&gpu.StateDepthWrite == 0 {
		core.LogWarn("%s: ClearDepthStencilView outside of the depth write state (%s)", view.res.label(), view.res.state)
	}
	key := renderPassKey{
		depth:       view.res.format,
		depthLayout: view.res.layout(),
		samples:     sampleCountBits(view.res.desc.SampleCount),
		clear:       true,
	}
	var clear vk.ClearValue
	clear.SetDepthStencil(depth, 0)
	cp := *view
	c.clearPass(&cp, key, clear)
}

func (c *commandList) SetViewports(viewports ...gpu.Viewport) {
	if len(viewports) > 0 && c.recording() {
		c.viewport = viewports[0]
	}
}

func (c *commandList) SetScissorRects(rects ...gpu.Rect) {
	if len(rects) > 0 && c.recording() {
		c.scissor = rects[0]
	}
}

// SetPrimitiveTopology is baked into the pipeline on Vulkan.
func (c *commandList) SetPrimitiveTopology(topology gpu.PrimitiveTopology) {}

func (c *commandList) SetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	if !c.recording() || len(views) == 0 {
		return
	}
	buffers := make([]vk.Buffer, len(views))
	offsets := make([]vk.DeviceSize, len(views))
	for i, v := range views {
		r, offset, err := c.device.resolveVA(v.Address)
		if err != nil {
			c.fail(err)
			return
		}
		buffers[i] = r.buffer
		offsets[i] = vk.DeviceSize(offset)
	}
	vk.CmdBindVertexBuffers(c.cmd, startSlot, uint32(len(views)), buffers, offsets)
}

func (c *commandList) SetIndexBuffer(view gpu.IndexBufferView) {
	if !c.recording() {
		return
	}
	r, offset, err := c.device.resolveVA(view.Address)
	if err != nil {
		c.fail(err)
		return
	}
	indexType := vk.IndexTypeUint32
	if view.Format == gpu.IndexFormatUint16 {
		indexType = vk.IndexTypeUint16
	}
	vk.CmdBindIndexBuffer(c.cmd, r.buffer, vk.DeviceSize(offset), indexType)
}

// beginPass starts the render pass of the bound targets if none is running.
func (c *commandList) beginPass() bool {
	if c.state == commandListInRenderPass {
		return true
	}
	if len(c.rtvs) == 0 && c.dsv == nil {
		c.fail(fmt.Errorf("%w: draw without render targets", gpu.ErrInvalidCall))
		return false
	}
	var key renderPassKey
	attachments := make([]*descriptor, 0, len(c.rtvs)+1)
	for i, rtv := range c.rtvs {
		key.colors[i] = rtv.res.format
		attachments = append(attachments, rtv)
	}
	key.colorCount = len(c.rtvs)
	if c.dsv != nil {
		key.depth = c.dsv.res.format
		key.depthLayout = c.dsv.res.layout()
		attachments = append(attachments, c.dsv)
	}
	first := attachments[0].res
	key.samples = sampleCountBits(first.desc.SampleCount)
	pass, err := c.device.renderPass.get(key)
	if err != nil {
		c.fail(err)
		return false
	}
	w, h := uint32(first.desc.Width), first.desc.Height
	fb, err := c.device.framebuffer.get(pass, attachments, w, h)
	if err != nil {
		c.fail(err)
		return false
	}
	beginRenderPass(c.cmd, pass, fb, w, h, nil)
	c.passW, c.passH = w, h
	c.state = commandListInRenderPass
	return true
}

// bind flushes the pipeline, descriptor sets and root arguments of kind.
func (c *commandList) bind(kinds ...gpu.PipelineKind) bool {
	if c.pso == nil {
		c.fail(fmt.Errorf("%w: no pipeline state set", gpu.ErrInvalidCall))
		return false
	}
	match := false
	for _, k := range kinds {
		match = match || c.pso.kind == k
	}
	if !match {
		c.fail(fmt.Errorf("%w: %s bound for the wrong kind of work", gpu.ErrInvalidCall, c.pso.name))
		return false
	}
	bind := &c.graphics
	if c.pso.kind == gpu.PipelineCompute {
		bind = &c.compute
	}
	if bind.rs == nil {
		c.fail(fmt.Errorf("%w: no root signature set", gpu.ErrInvalidCall))
		return false
	}
	heapSet := c.device.emptyHeapSet
	if c.heap != nil {
		heapSet = c.heap.set
	}
	vk.CmdBindPipeline(c.cmd, c.pso.bindPoint, c.pso.handle)
	sets := []vk.DescriptorSet{heapSet, c.device.bufferSet, bind.rs.samplerSet}
	vk.CmdBindDescriptorSets(c.cmd, c.pso.bindPoint, bind.rs.layout, setHeap, setCount, sets, 0, nil)
	push := bind.push
	vk.CmdPushConstants(c.cmd, bind.rs.layout, allStages, 0, pushConstantBytes, unsafe.Pointer(&push[0]))
	return true
}

func (c *commandList) setDynamicState() {
	vp := c.viewport
	if vp.Width == 0 || vp.Height == 0 {
		vp = gpu.Viewport{Width: float32(c.passW), Height: float32(c.passH), MaxDepth: 1}
	}
	// negative height keeps D3D's y-down viewport convention
	vk.CmdSetViewport(c.cmd, 0, 1, []vk.Viewport{{
		X:        vp.TopLeftX,
		Y:        vp.TopLeftY + vp.Height,
		Width:    vp.Width,
		Height:   -vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})

	s := c.scissor
	left, top := max(s.Left, 0), max(s.Top, 0)
	right, bottom := min(s.Right, int32(c.passW)), min(s.Bottom, int32(c.passH))
	if right < left {
		right = left
	}
	if bottom < top {
		bottom = top
	}
	vk.CmdSetScissor(c.cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: left, Y: top},
		Extent: vk.Extent2D{Width: uint32(right - left), Height: uint32(bottom - top)},
	}})
}

func (c *commandList) prepareDraw(kind gpu.PipelineKind) bool {
	if !c.recording() || !c.beginPass() || !c.bind(kind) {
		return false
	}
	c.setDynamicState()
	return true
}

func (c *commandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if c.prepareDraw(gpu.PipelineGraphics) {
		vk.CmdDraw(c.cmd, vertexCountPerInstance, instanceCount, startVertex, startInstance)
	}
}

func (c *commandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if c.prepareDraw(gpu.PipelineGraphics) {
		vk.CmdDrawIndexed(c.cmd, indexCountPerInstance, instanceCount, startIndex, baseVertex, startInstance)
	}
}

func (c *commandList) Dispatch(x, y, z uint32) {
	if !c.recording() {
		return
	}
	c.endPass()
	if c.bind(gpu.PipelineCompute) {
		vk.CmdDispatch(c.cmd, x, y, z)
	}
}

func (c *commandList) DispatchMesh(x, y, z uint32) {
	if c.prepareDraw(gpu.PipelineMesh) {
		vk.CmdDraw(c.cmd, x*y*z*meshVerticesPerGroup, 1, 0, 0)
	}
}

func (c *commandList) copyResources(dst, src gpu.Resource) (*resource, *resource, bool) {
	if !c.recording() {
		return nil, nil, false
	}
	d, err := asResource(dst)
	if err != nil {
		c.fail(err)
		return nil, nil, false
	}
	s, err := asResource(src)
	if err != nil {
		c.fail(err)
		return nil, nil, false
	}
	c.endPass()
	return d, s, true
}

func (c *commandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset uint64, size uint64) {
	d, s, ok := c.copyResources(dst, src)
	if !ok {
		return
	}
	if !d.isBuffer() || !s.isBuffer() {
		c.fail(fmt.Errorf("%w: CopyBufferRegion between non-buffers", gpu.ErrInvalidCall))
		return
	}
	if srcOffset+size > s.desc.Width || dstOffset+size > d.desc.Width {
		c.fail(fmt.Errorf("%w: CopyBufferRegion of %d bytes out of range", gpu.ErrInvalidCall, size))
		return
	}
	vk.CmdCopyBuffer(c.cmd, s.buffer, d.buffer, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// footprintCopy describes the buffer side of a buffer/image copy.
func footprintCopy(fp *gpu.PlacedFootprint, box gpu.Box, image *resource, subresource uint32, x, y, z uint32) vk.BufferImageCopy {
	bpp := uint64(fp.Format.BytesPerPixel())
	offset := fp.Offset + uint64(box.Front)*uint64(fp.RowPitch)*uint64(fp.Height) + uint64(box.Top)*uint64(fp.RowPitch) + uint64(box.Left)*bpp
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(offset),
		BufferRowLength:   fp.RowPitch / uint32(bpp),
		BufferImageHeight: fp.Height,
		ImageSubresource:  image.layers(subresource),
		ImageOffset:       vk.Offset3D{X: int32(x), Y: int32(y), Z: int32(z)},
		ImageExtent:       vk.Extent3D{Width: box.Right - box.Left, Height: box.Bottom - box.Top, Depth: box.Back - box.Front},
	}
}

func (c *commandList) CopyTextureRegion(dst gpu.TextureCopyLocation, x, y, z uint32, src gpu.TextureCopyLocation, box *gpu.Box) {
	d, s, ok := c.copyResources(dst.Resource, src.Resource)
	if !ok {
		return
	}
	var region gpu.Box
	switch {
	case box != nil:
		region = *box
	case src.Footprint != nil:
		region = gpu.Box{Right: src.Footprint.Width, Bottom: src.Footprint.Height, Back: max(src.Footprint.Depth, 1)}
	default:
		e := s.extent()
		mip := s.layers(src.Subresource).MipLevel
		region = gpu.Box{Right: max(e.Width>>mip, 1), Bottom: max(e.Height>>mip, 1), Back: max(e.Depth>>mip, 1)}
	}

	switch {
	case src.Footprint != nil && dst.Footprint == nil:
		if !s.isBuffer() || d.isBuffer() {
			c.fail(fmt.Errorf("%w: footprint copy source must be a buffer", gpu.ErrInvalidCall))
			return
		}
		vk.CmdCopyBufferToImage(c.cmd, s.buffer, d.image, d.layout(), 1, []vk.BufferImageCopy{
			footprintCopy(src.Footprint, region, d, dst.Subresource, x, y, z),
		})
	case dst.Footprint != nil && src.Footprint == nil:
		if !d.isBuffer() || s.isBuffer() {
			c.fail(fmt.Errorf("%w: footprint copy destination must be a buffer", gpu.ErrInvalidCall))
			return
		}
		// the buffer side starts at the placed offset plus (x, y, z)
		shifted := gpu.Box{Left: x, Top: y, Front: z, Right: x + region.Right - region.Left, Bottom: y + region.Bottom - region.Top, Back: z + region.Back - region.Front}
		cp := footprintCopy(dst.Footprint, shifted, s, src.Subresource, region.Left, region.Top, region.Front)
		vk.CmdCopyImageToBuffer(c.cmd, s.image, s.layout(), d.buffer, 1, []vk.BufferImageCopy{cp})
	case dst.Footprint == nil && src.Footprint == nil:
		if d.isBuffer() || s.isBuffer() {
			c.fail(fmt.Errorf("%w: CopyTextureRegion between buffers", gpu.ErrInvalidCall))
			return
		}
		vk.CmdCopyImage(c.cmd, s.image, s.layout(), d.image, d.layout(), 1, []vk.ImageCopy{{
			SrcSubresource: s.layers(src.Subresource),
			SrcOffset:      vk.Offset3D{X: int32(region.Left), Y: int32(region.Top), Z: int32(region.Front)},
			DstSubresource: d.layers(dst.Subresource),
			DstOffset:      vk.Offset3D{X: int32(x), Y: int32(y), Z: int32(z)},
			Extent:         vk.Extent3D{Width: region.Right - region.Left, Height: region.Bottom - region.Top, Depth: region.Back - region.Front},
		}})
	default:
		c.fail(fmt.Errorf("%w: footprint to footprint copy", gpu.ErrInvalidCall))
	}
}

func (c *commandList) CopyResource(dst, src gpu.Resource) {
	d, s, ok := c.copyResources(dst, src)
	if !ok {
		return
	}
	if d.desc.Dimension != s.desc.Dimension || d.desc.Width != s.desc.Width || d.desc.Height != s.desc.Height {
		c.fail(fmt.Errorf("%w: CopyResource between %s and %s of different shapes", gpu.ErrInvalidCall, s.label(), d.label()))
		return
	}
	if d.isBuffer() {
		vk.CmdCopyBuffer(c.cmd, s.buffer, d.buffer, 1, []vk.BufferCopy{{Size: vk.DeviceSize(d.desc.Width)}})
		return
	}
	mips := max(d.desc.MipLevels, 1)
	regions := make([]vk.ImageCopy, 0, mips)
	e := d.extent()
	for mip := uint32(0); mip < mips; mip++ {
		src := s.fullRange()
		layers := vk.ImageSubresourceLayers{AspectMask: src.AspectMask, MipLevel: mip, LayerCount: src.LayerCount}
		regions = append(regions, vk.ImageCopy{
			SrcSubresource: layers,
			DstSubresource: layers,
			Extent:         vk.Extent3D{Width: max(e.Width>>mip, 1), Height: max(e.Height>>mip, 1), Depth: max(e.Depth>>mip, 1)},
		})
	}
	vk.CmdCopyImage(c.cmd, s.image, s.layout(), d.image, d.layout(), uint32(len(regions)), regions)
}

func (c *commandList) ResolveSubresource(dst gpu.Resource, src gpu.Resource, format gpu.Format) {
	d, s, ok := c.copyResources(dst, src)
	if !ok {
		return
	}
	if s.desc.SampleCount <= 1 || d.desc.SampleCount > 1 {
		c.fail(fmt.Errorf("%w: resolve needs a multisampled source and a single sampled destination", gpu.ErrInvalidCall))
		return
	}
	vk.CmdResolveImage(c.cmd, s.image, s.layout(), d.image, d.layout(), 1, []vk.ImageResolve{{
		SrcSubresource: s.layers(0),
		DstSubresource: d.layers(0),
		Extent:         d.extent(),
	}})
}

func (c *commandList) BeginEvent(name string) {
	c.events = append(c.events, name)
}

func (c *commandList) EndEvent() {
	if len(c.events) == 0 {
		c.fail(fmt.Errorf("%w: EndEvent without BeginEvent", gpu.ErrInvalidCall))
		return
	}
	c.events = c.events[:len(c.events)-1]
}
