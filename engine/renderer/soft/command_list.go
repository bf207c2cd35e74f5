package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const maxRootParameters = 64

type op func(s *execState) error

type commandList struct {
	device *Device
	ops    []op
	closed   bool
	released bool
	depth    int
	err      error
}

func (c *commandList) record(o op) {
	if c.released {
		c.fail(fmt.Errorf("%w: recording into a released command list", gpu.ErrInvalidCall))
		return
	}
	if c.closed {
		c.fail(fmt.Errorf("%w: recording into a closed command list", gpu.ErrInvalidCall))
		return
	}
	c.ops = append(c.ops, o)
}

func (c *commandList) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandList) Reset() error {
	if c.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	if c.released {
		return fmt.Errorf("%w: reset of a released command list", gpu.ErrInvalidCall)
	}
	c.ops = c.ops[:0]
	c.closed = false
	c.depth = 0
	c.err = nil
	return nil
}

func (c *commandList) Close() error {
	if c.released {
		return fmt.Errorf("%w: close of a released command list", gpu.ErrInvalidCall)
	}
	if c.closed {
		return fmt.Errorf("%w: command list already closed", gpu.ErrInvalidCall)
	}
	c.closed = true
	if c.depth != 0 {
		c.fail(fmt.Errorf("%w: %d unbalanced BeginEvent calls", gpu.ErrInvalidCall, c.depth))
	}
	return c.err
}

// Release drops the recorded work; execution on the soft queue is synchronous.
func (c *commandList) Release() {
	c.released = true
	c.ops = nil
}

func (c *commandList) ResourceBarrier(barriers ...gpu.Barrier) {
	bs := append([]gpu.Barrier(nil), barriers...)
	c.record(func(s *execState) error {
		for _, b := range bs {
			r, err := asResource(b.Resource)
			if err != nil {
				return err
			}
			if b.Type == gpu.BarrierUAV {
				continue
			}
			if b.Before == b.After {
				s.device.validationError("%s: transition barrier with identical states %s", r.label(), b.Before)
			}
			if r.state != b.Before {
				s.device.validationError("%s: barrier expects %s but the resource is in %s", r.label(), b.Before, r.state)
			}
			r.state = b.After
		}
		return nil
	})
}

func (c *commandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	var hs []*descriptorHeap
	for _, h := range heaps {
		dh, ok := h.(*descriptorHeap)
		if !ok || !dh.visible {
			c.fail(fmt.Errorf("%w: only shader visible soft heaps can be bound", gpu.ErrInvalidCall))
			return
		}
		hs = append(hs, dh)
	}
	c.record(func(s *execState) error {
		s.heaps = hs
		return nil
	})
}

func (c *commandList) SetPipelineState(p gpu.Pipeline) {
	pso, ok := p.(*pipeline)
	if !ok || pso == nil {
		c.fail(fmt.Errorf("%w: pipeline does not belong to the soft device", gpu.ErrInvalidCall))
		return
	}
	c.record(func(s *execState) error {
		s.pso = pso
		return nil
	})
}

func (c *commandList) setRootSignature(rs gpu.RootSignature, compute bool) {
	r, err := asRootSignature(rs)
	if err != nil {
		c.fail(err)
		return
	}
	c.record(func(s *execState) error {
		if compute {
			s.compute.rs = r
			s.compute.args = [maxRootParameters]rootArg{}
		} else {
			s.graphics.rs = r
			s.graphics.args = [maxRootParameters]rootArg{}
		}
		return nil
	})
}

func (c *commandList) SetGraphicsRootSignature(rs gpu.RootSignature) { c.setRootSignature(rs, false) }

func (c *commandList) SetComputeRootSignature(rs gpu.RootSignature) { c.setRootSignature(rs, true) }

func (c *commandList) setRootArg(compute bool, index uint32, arg rootArg) {
	if index >= maxRootParameters {
		c.fail(fmt.Errorf("%w: root parameter %d out of range", gpu.ErrInvalidCall, index))
		return
	}
	c.record(func(s *execState) error {
		b := &s.graphics
		if compute {
			b = &s.compute
		}
		if b.rs == nil {
			return fmt.Errorf("%w: root argument set before the root signature", gpu.ErrInvalidCall)
		}
		if int(index) >= len(b.rs.desc.Parameters) {
			return fmt.Errorf("%w: root parameter %d not in the root signature", gpu.ErrInvalidCall, index)
		}
		arg.set = true
		b.args[index] = arg
		return nil
	})
}

func (c *commandList) SetGraphicsRootConstantBufferView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(false, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetComputeRootConstantBufferView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(true, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetGraphicsRootShaderResourceView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(false, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetComputeRootShaderResourceView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(true, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetGraphicsRootUnorderedAccessView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(false, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetComputeRootUnorderedAccessView(index uint32, addr gpu.GPUAddress) {
	c.setRootArg(true, index, rootArg{addr: uint64(addr)})
}

func (c *commandList) SetGraphicsRootDescriptorTable(index uint32, handle gpu.GPUDescriptorHandle) {
	c.setRootArg(false, index, rootArg{table: handle.Ptr})
}

func (c *commandList) SetComputeRootDescriptorTable(index uint32, handle gpu.GPUDescriptorHandle) {
	c.setRootArg(true, index, rootArg{table: handle.Ptr})
}

// SetRenderTargets copies the descriptors at record time, like CPU descriptor handles on D3D12.
func (c *commandList) SetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	var targets []descriptor
	for _, h := range rtvs {
		_, d, err := c.device.resolveDescriptor(h.Ptr)
		if err != nil {
			c.fail(err)
			return
		}
		if d.kind != viewRTV {
			c.fail(fmt.Errorf("%w: %s descriptor bound as a render target", gpu.ErrInvalidCall, d.kind))
			return
		}
		targets = append(targets, *d)
	}
	var depth *descriptor
	if dsv != nil {
		_, d, err := c.device.resolveDescriptor(dsv.Ptr)
		if err != nil {
			c.fail(err)
			return
		}
		if d.kind != viewDSV {
			c.fail(fmt.Errorf("%w: %s descriptor bound as a depth stencil", gpu.ErrInvalidCall, d.kind))
			return
		}
		cp := *d
		depth = &cp
	}
	c.record(func(s *execState) error {
		s.rtvs = targets
		s.dsv = depth
		return nil
	})
}

func (c *commandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32) {
	_, d, err := c.device.resolveDescriptor(rtv.Ptr)
	if err != nil {
		c.fail(err)
		return
	}
	if d.kind != viewRTV {
		c.fail(fmt.Errorf("%w: clearing a %s descriptor as a render target", gpu.ErrInvalidCall, d.kind))
		return
	}
	view := *d
	c.record(func(s *execState) error {
		s.requireState(view.res, gpu.StateRenderTarget, "ClearRenderTargetView")
		view.res.fill(storeTexel(view.rtv.Format, color))
		return nil
	})
}

func (c *commandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, depth float32) {
	_, d, err := c.device.resolveDescriptor(dsv.Ptr)
	if err != nil {
		c.fail(err)
		return
	}
	if d.kind != viewDSV {
		c.fail(fmt.Errorf("%w: clearing a %s descriptor as a depth stencil", gpu.ErrInvalidCall, d.kind))
		return
	}
	view := *d
	c.record(func(s *execState) error {
		s.requireState(view.res, gpu.StateDepthWrite, "ClearDepthStencilView")
		view.res.fill([4]float32{depth, 0, 0, 1})
		return nil
	})
}

func (c *commandList) SetViewports(viewports ...gpu.Viewport) {
	if len(viewports) == 0 {
		return
	}
	vp := viewports[0]
	c.record(func(s *execState) error {
		s.viewport = vp
		s.hasViewport = true
		return nil
	})
}

func (c *commandList) SetScissorRects(rects ...gpu.Rect) {
	if len(rects) == 0 {
		return
	}
	r := rects[0]
	c.record(func(s *execState) error {
		s.scissor = r
		return nil
	})
}

func (c *commandList) SetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	c.record(func(s *execState) error {
		s.topology = topology
		return nil
	})
}

func (c *commandList) SetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	vs := append([]gpu.VertexBufferView(nil), views...)
	if int(startSlot)+len(vs) > maxVertexBuffers {
		c.fail(fmt.Errorf("%w: vertex buffer slot out of range", gpu.ErrInvalidCall))
		return
	}
	c.record(func(s *execState) error {
		copy(s.vbs[startSlot:], vs)
		return nil
	})
}

func (c *commandList) SetIndexBuffer(view gpu.IndexBufferView) {
	c.record(func(s *execState) error {
		s.ib = view
		return nil
	})
}

func (c *commandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	c.record(func(s *execState) error {
		return s.draw(gpu.PipelineGraphics, drawArgs{
			VertexCount:   vertexCountPerInstance,
			InstanceCount: instanceCount,
			StartVertex:   startVertex,
			StartInstance: startInstance,
		})
	})
}

func (c *commandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	c.record(func(s *execState) error {
		return s.draw(gpu.PipelineGraphics, drawArgs{
			Indexed:       true,
			VertexCount:   indexCountPerInstance,
			InstanceCount: instanceCount,
			StartIndex:    startIndex,
			BaseVertex:    baseVertex,
			StartInstance: startInstance,
		})
	})
}

func (c *commandList) Dispatch(x, y, z uint32) {
	c.record(func(s *execState) error {
		return s.dispatch(x, y, z)
	})
}

func (c *commandList) DispatchMesh(x, y, z uint32) {
	c.record(func(s *execState) error {
		return s.draw(gpu.PipelineMesh, drawArgs{Groups: [3]uint32{x, y, z}})
	})
}

func (c *commandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset uint64, size uint64) {
	c.record(func(s *execState) error {
		return s.copyBufferRegion(dst, dstOffset, src, srcOffset, size)
	})
}

func (c *commandList) CopyTextureRegion(dst gpu.TextureCopyLocation, x, y, z uint32, src gpu.TextureCopyLocation, box *gpu.Box) {
	var b *gpu.Box
	if box != nil {
		cp := *box
		b = &cp
	}
	c.record(func(s *execState) error {
		return s.copyTextureRegion(dst, x, y, z, src, b)
	})
}

func (c *commandList) CopyResource(dst, src gpu.Resource) {
	c.record(func(s *execState) error {
		return s.copyResource(dst, src)
	})
}

func (c *commandList) ResolveSubresource(dst gpu.Resource, src gpu.Resource, format gpu.Format) {
	c.record(func(s *execState) error {
		return s.resolve(dst, src, format)
	})
}

func (c *commandList) BeginEvent(name string) {
	c.depth++
	c.record(func(s *execState) error {
		s.events = append(s.events, name)
		return nil
	})
}

func (c *commandList) EndEvent() {
	c.depth--
	c.record(func(s *execState) error {
		if len(s.events) > 0 {
			s.events = s.events[:len(s.events)-1]
		}
		return nil
	})
}
