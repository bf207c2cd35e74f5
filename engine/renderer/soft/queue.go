package soft

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const maxVertexBuffers = 8

type rootArg struct {
	set   bool
	addr  uint64
	table uint64
}

type rootBindings struct {
	rs   *rootSignature
	args [maxRootParameters]rootArg
}

type execState struct {
	device *Device

	pso      *pipeline
	graphics rootBindings
	compute  rootBindings
	heaps    []*descriptorHeap

	rtvs        []descriptor
	dsv         *descriptor
	viewport    gpu.Viewport
	hasViewport bool
	scissor     gpu.Rect
	topology    gpu.PrimitiveTopology
	vbs         [maxVertexBuffers]gpu.VertexBufferView
	ib          gpu.IndexBufferView

	events []string
}

func (s *execState) where() string {
	if len(s.events) == 0 {
		return ""
	}
	return " [" + strings.Join(s.events, "/") + "]"
}

// requireState reports a debug layer error when r is not in any of the states in need.
func (s *execState) requireState(r *resource, need gpu.ResourceState, what string) {
	if r.heap != gpu.HeapDefault {
		return
	}
	if r.state&need == 0 {
		s.device.validationError("%s%s: %s needs %s but the resource is in %s", r.label(), s.where(), what, need, r.state)
	}
}

type queue struct {
	device *Device
	mu     sync.Mutex
}

func (q *queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok {
			return fmt.Errorf("%w: command list does not belong to the soft device", gpu.ErrInvalidCall)
		}
		if cl.released {
			return fmt.Errorf("%w: executing a released command list", gpu.ErrInvalidCall)
		}
		if !cl.closed {
			return fmt.Errorf("%w: executing an open command list", gpu.ErrInvalidCall)
		}
		if cl.err != nil {
			return cl.err
		}
		s := &execState{device: q.device, scissor: gpu.LargeScissor}
		for _, o := range cl.ops {
			if err := o(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *queue) Signal(f gpu.Fence, value uint64) error {
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	sf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("%w: fence does not belong to the soft device", gpu.ErrInvalidCall)
	}
	sf.value.Store(value)
	return nil
}

func (q *queue) WaitIdle() error {
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	return nil
}

// fence completes as soon as it is signaled since the queue executes synchronously.
type fence struct {
	value atomic.Uint64
}

func (f *fence) CompletedValue() uint64 { return f.value.Load() }

func (f *fence) Wait(value uint64) error {
	if f.value.Load() >= value {
		return nil
	}
	return fmt.Errorf("%w: waiting for fence value %d that was never signaled (at %d)", gpu.ErrInvalidCall, value, f.value.Load())
}

func (f *fence) Release() {}

type drawArgs struct {
	Indexed       bool
	VertexCount   uint32
	InstanceCount uint32
	StartVertex   uint32
	StartIndex    uint32
	BaseVertex    int32
	StartInstance uint32
	Groups        [3]uint32
}

func (s *execState) draw(kind gpu.PipelineKind, args drawArgs) error {
	if s.pso == nil || s.pso.kind != kind {
		return fmt.Errorf("%w: draw without a matching pipeline%s", gpu.ErrInvalidCall, s.where())
	}
	if s.graphics.rs == nil {
		return fmt.Errorf("%w: draw without a graphics root signature%s", gpu.ErrInvalidCall, s.where())
	}
	if !s.hasViewport {
		return fmt.Errorf("%w: draw without a viewport%s", gpu.ErrInvalidCall, s.where())
	}
	ctx, ok := s.newDrawContext(args)
	if !ok {
		return nil
	}
	return s.pso.draw(ctx)
}

func (s *execState) dispatch(x, y, z uint32) error {
	if s.pso == nil || s.pso.kind != gpu.PipelineCompute {
		return fmt.Errorf("%w: dispatch without a compute pipeline%s", gpu.ErrInvalidCall, s.where())
	}
	if s.compute.rs == nil {
		return fmt.Errorf("%w: dispatch without a compute root signature%s", gpu.ErrInvalidCall, s.where())
	}
	ctx := &ComputeContext{bindings: bindings{exec: s, root: &s.compute, stage: gpu.StateNonPixelShaderResource}}
	return s.pso.compute(ctx, x, y, z)
}

func (s *execState) copyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset uint64, size uint64) error {
	d, err := asResource(dst)
	if err != nil {
		return err
	}
	sr, err := asResource(src)
	if err != nil {
		return err
	}
	if d.desc.Dimension != gpu.DimensionBuffer || sr.desc.Dimension != gpu.DimensionBuffer {
		return fmt.Errorf("%w: CopyBufferRegion between non buffers", gpu.ErrInvalidCall)
	}
	if dstOffset+size > uint64(len(d.data)) || srcOffset+size > uint64(len(sr.data)) {
		return fmt.Errorf("%w: CopyBufferRegion out of bounds", gpu.ErrInvalidCall)
	}
	s.requireState(d, gpu.StateCopyDest, "CopyBufferRegion destination")
	s.requireState(sr, gpu.StateCopySource, "CopyBufferRegion source")
	copy(d.data[dstOffset:dstOffset+size], sr.data[srcOffset:srcOffset+size])
	return nil
}

func (s *execState) copyResource(dst, src gpu.Resource) error {
	d, err := asResource(dst)
	if err != nil {
		return err
	}
	sr, err := asResource(src)
	if err != nil {
		return err
	}
	if d.desc != sr.desc {
		if d.desc.Dimension != sr.desc.Dimension || d.desc.Width != sr.desc.Width || d.desc.Height != sr.desc.Height {
			return fmt.Errorf("%w: CopyResource between different shapes", gpu.ErrInvalidCall)
		}
	}
	s.requireState(d, gpu.StateCopyDest, "CopyResource destination")
	s.requireState(sr, gpu.StateCopySource, "CopyResource source")
	copy(d.data, sr.data)
	copy(d.texels, sr.texels)
	return nil
}

func (s *execState) copyTextureRegion(dst gpu.TextureCopyLocation, x, y, z uint32, src gpu.TextureCopyLocation, box *gpu.Box) error {
	d, err := asResource(dst.Resource)
	if err != nil {
		return err
	}
	sr, err := asResource(src.Resource)
	if err != nil {
		return err
	}
	s.requireState(d, gpu.StateCopyDest, "CopyTextureRegion destination")
	s.requireState(sr, gpu.StateCopySource, "CopyTextureRegion source")

	switch {
	case src.Footprint != nil && dst.Footprint == nil:
		fp := src.Footprint
		for zz := uint32(0); zz < fp.Depth; zz++ {
			for yy := uint32(0); yy < fp.Height; yy++ {
				for xx := uint32(0); xx < fp.Width; xx++ {
					off := fp.Offset + uint64(zz)*uint64(fp.RowPitch)*uint64(fp.Height) + uint64(yy)*uint64(fp.RowPitch) + uint64(xx)*uint64(fp.Format.BytesPerPixel())
					if off+uint64(fp.Format.BytesPerPixel()) > uint64(len(sr.data)) {
						return fmt.Errorf("%w: footprint outside the source buffer", gpu.ErrInvalidCall)
					}
					if err := d.writeAll(x+xx, y+yy, z+zz, decodeTexel(fp.Format, sr.data[off:])); err != nil {
						return err
					}
				}
			}
		}
		return nil
	case dst.Footprint != nil && src.Footprint == nil:
		fp := dst.Footprint
		for zz := uint32(0); zz < fp.Depth; zz++ {
			for yy := uint32(0); yy < fp.Height; yy++ {
				for xx := uint32(0); xx < fp.Width; xx++ {
					off := fp.Offset + uint64(zz)*uint64(fp.RowPitch)*uint64(fp.Height) + uint64(yy)*uint64(fp.RowPitch) + uint64(xx)*uint64(fp.Format.BytesPerPixel())
					if off+uint64(fp.Format.BytesPerPixel()) > uint64(len(d.data)) {
						return fmt.Errorf("%w: footprint outside the destination buffer", gpu.ErrInvalidCall)
					}
					encodeTexel(fp.Format, sr.Texel(xx, yy, zz, 0), d.data[off:])
				}
			}
		}
		return nil
	case dst.Footprint != nil || src.Footprint != nil:
		return fmt.Errorf("%w: buffer to buffer CopyTextureRegion", gpu.ErrInvalidCall)
	}

	b := gpu.Box{Right: uint32(sr.desc.Width), Bottom: sr.desc.Height, Back: sr.desc.DepthOrArraySize}
	if box != nil {
		b = *box
	}
	if sr.samples() != d.samples() {
		return fmt.Errorf("%w: CopyTextureRegion between different sample counts", gpu.ErrInvalidCall)
	}
	for zz := b.Front; zz < b.Back; zz++ {
		for yy := b.Top; yy < b.Bottom; yy++ {
			for xx := b.Left; xx < b.Right; xx++ {
				dx, dy, dz := x+xx-b.Left, y+yy-b.Top, z+zz-b.Front
				if !d.contains(dx, dy, dz) || !sr.contains(xx, yy, zz) {
					return fmt.Errorf("%w: CopyTextureRegion out of bounds", gpu.ErrInvalidCall)
				}
				for smp := uint32(0); smp < sr.samples(); smp++ {
					d.SetTexel(dx, dy, dz, smp, sr.Texel(xx, yy, zz, smp))
				}
			}
		}
	}
	return nil
}

func (r *resource) contains(x, y, z uint32) bool {
	return x < uint32(r.desc.Width) && y < r.desc.Height && z < r.desc.DepthOrArraySize
}

func (r *resource) writeAll(x, y, z uint32, v [4]float32) error {
	if !r.contains(x, y, z) {
		return fmt.Errorf("%w: texel (%d, %d, %d) outside %s", gpu.ErrInvalidCall, x, y, z, r.label())
	}
	v = storeTexel(r.desc.Format, v)
	for smp := uint32(0); smp < r.samples(); smp++ {
		r.SetTexel(x, y, z, smp, v)
	}
	return nil
}

func (s *execState) resolve(dst, src gpu.Resource, format gpu.Format) error {
	d, err := asResource(dst)
	if err != nil {
		return err
	}
	sr, err := asResource(src)
	if err != nil {
		return err
	}
	if d.desc.Width != sr.desc.Width || d.desc.Height != sr.desc.Height {
		return fmt.Errorf("%w: ResolveSubresource between different sizes", gpu.ErrInvalidCall)
	}
	if d.samples() != 1 {
		return fmt.Errorf("%w: ResolveSubresource into a multisampled texture", gpu.ErrInvalidCall)
	}
	s.requireState(d, gpu.StateResolveDest, "ResolveSubresource destination")
	s.requireState(sr, gpu.StateResolveSource, "ResolveSubresource source")
	n := float32(sr.samples())
	for y := uint32(0); y < sr.desc.Height; y++ {
		for x := uint32(0); x < uint32(sr.desc.Width); x++ {
			var acc [4]float32
			for smp := uint32(0); smp < sr.samples(); smp++ {
				t := sr.Texel(x, y, 0, smp)
				for c := range acc {
					acc[c] += t[c]
				}
			}
			for c := range acc {
				acc[c] /= n
			}
			d.SetTexel(x, y, 0, 0, storeTexel(format, acc))
		}
	}
	return nil
}
