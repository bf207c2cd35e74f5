package soft

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

// bindings resolves HLSL style registers (space 0) to the arguments set on
// the command list.
type bindings struct {
	exec  *execState
	root  *rootBindings
	stage gpu.ResourceState
}

func (b *bindings) find(register uint32, types ...gpu.RootParameterType) (gpu.RootParameter, rootArg, error) {
	for i, p := range b.root.rs.desc.Parameters {
		if p.Register != register || p.Space != 0 {
			continue
		}
		for _, t := range types {
			if p.Type != t {
				continue
			}
			arg := b.root.args[i]
			if !arg.set {
				return p, arg, fmt.Errorf("%w: %s at register %d is not bound%s", gpu.ErrInvalidCall, p.Type, register, b.exec.where())
			}
			return p, arg, nil
		}
	}
	return gpu.RootParameter{}, rootArg{}, fmt.Errorf("%w: no %v at register %d in the root signature%s", gpu.ErrInvalidCall, types, register, b.exec.where())
}

// Constants decodes the constant buffer at register b<register> into out.
func (b *bindings) Constants(register uint32, out any) error {
	_, arg, err := b.find(register, gpu.RootParameterCBV)
	if err != nil {
		return err
	}
	r, off, err := b.exec.device.resolveVA(gpu.GPUAddress(arg.addr))
	if err != nil {
		return err
	}
	b.exec.requireState(r, gpu.StateVertexAndConstantBuffer, "constant buffer read")
	if int(off)+shaderdata.Size(out) > len(r.data) {
		return fmt.Errorf("%w: constant buffer at register %d is too small", gpu.ErrInvalidCall, register)
	}
	return shaderdata.Decode(r.data[off:], out)
}

func (b *bindings) table(ptr uint64) (*descriptor, error) {
	h, d, err := b.exec.device.resolveDescriptor(ptr)
	if err != nil {
		return nil, err
	}
	for _, bound := range b.exec.heaps {
		if bound == h {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: descriptor table from a heap that is not bound%s", gpu.ErrInvalidCall, b.exec.where())
}

// SRVBuffer returns the bytes visible through t<register>.
func (b *bindings) SRVBuffer(register uint32) ([]byte, error) {
	p, arg, err := b.find(register, gpu.RootParameterSRV, gpu.RootParameterTableSRV)
	if err != nil {
		return nil, err
	}
	if p.Type == gpu.RootParameterSRV {
		r, off, err := b.exec.device.resolveVA(gpu.GPUAddress(arg.addr))
		if err != nil {
			return nil, err
		}
		b.exec.requireState(r, b.stage, "shader resource read")
		return r.data[off:], nil
	}
	d, err := b.table(arg.table)
	if err != nil {
		return nil, err
	}
	if d.kind != viewSRV || d.srv.Dimension != gpu.SRVDimensionBuffer {
		return nil, fmt.Errorf("%w: t%d is not a buffer SRV", gpu.ErrInvalidCall, register)
	}
	b.exec.requireState(d.res, b.stage, "shader resource read")
	return bufferRange(d.res, d.srv.FirstElement, d.srv.NumElements, d.srv.StructureByteStride)
}

// UAVBuffer returns the bytes writable through u<register>.
func (b *bindings) UAVBuffer(register uint32) ([]byte, error) {
	p, arg, err := b.find(register, gpu.RootParameterUAV, gpu.RootParameterTableUAV)
	if err != nil {
		return nil, err
	}
	if p.Type == gpu.RootParameterUAV {
		r, off, err := b.exec.device.resolveVA(gpu.GPUAddress(arg.addr))
		if err != nil {
			return nil, err
		}
		b.exec.requireState(r, gpu.StateUnorderedAccess, "unordered access")
		return r.data[off:], nil
	}
	d, err := b.table(arg.table)
	if err != nil {
		return nil, err
	}
	if d.kind != viewUAV || d.uav.Dimension != gpu.UAVDimensionBuffer {
		return nil, fmt.Errorf("%w: u%d is not a buffer UAV", gpu.ErrInvalidCall, register)
	}
	b.exec.requireState(d.res, gpu.StateUnorderedAccess, "unordered access")
	return bufferRange(d.res, d.uav.FirstElement, d.uav.NumElements, d.uav.StructureByteStride)
}

func bufferRange(r *resource, first uint64, count, stride uint32) ([]byte, error) {
	if stride == 0 {
		stride = 4
	}
	start := first * uint64(stride)
	end := start + uint64(count)*uint64(stride)
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: view of %s exceeds the buffer", gpu.ErrInvalidCall, r.label())
	}
	return r.data[start:end], nil
}

// SRVTexture returns the texture at t<register>.
func (b *bindings) SRVTexture(register uint32) (*texture, error) {
	_, arg, err := b.find(register, gpu.RootParameterTableSRV)
	if err != nil {
		return nil, err
	}
	d, err := b.table(arg.table)
	if err != nil {
		return nil, err
	}
	if d.kind != viewSRV || d.srv.Dimension == gpu.SRVDimensionBuffer {
		return nil, fmt.Errorf("%w: t%d is not a texture SRV", gpu.ErrInvalidCall, register)
	}
	b.exec.requireState(d.res, b.stage, "texture read")
	return newTexture(d.res), nil
}

// UAVTexture returns the texture at u<register>.
func (b *bindings) UAVTexture(register uint32) (*texture, error) {
	_, arg, err := b.find(register, gpu.RootParameterTableUAV)
	if err != nil {
		return nil, err
	}
	d, err := b.table(arg.table)
	if err != nil {
		return nil, err
	}
	if d.kind != viewUAV || d.uav.Dimension == gpu.UAVDimensionBuffer {
		return nil, fmt.Errorf("%w: u%d is not a texture UAV", gpu.ErrInvalidCall, register)
	}
	b.exec.requireState(d.res, gpu.StateUnorderedAccess, "texture write")
	return newTexture(d.res), nil
}

// Sampler returns the static sampler at s<register>.
func (b *bindings) Sampler(register uint32) (gpu.StaticSampler, error) {
	for _, s := range b.root.rs.desc.StaticSamplers {
		if s.Register == register && s.Space == 0 {
			return s, nil
		}
	}
	return gpu.StaticSampler{}, fmt.Errorf("%w: no static sampler at s%d", gpu.ErrInvalidCall, register)
}

type ComputeContext struct {
	bindings
}

// ParallelFor runs fn for every group or element in [0, n) on the device executor.
func (c *ComputeContext) ParallelFor(n int, fn func(i int)) {
	c.exec.device.opts.Executor.ParallelFor(n, fn)
}

type renderTarget struct {
	res    *resource
	format gpu.Format
}

type DrawContext struct {
	bindings
	args    drawArgs
	pso     *pipeline
	targets []renderTarget
	depth   *resource

	viewport gpu.Viewport
	minX     int
	minY     int
	maxX     int
	maxY     int
	samples  uint32
}

func (s *execState) newDrawContext(args drawArgs) (*DrawContext, bool) {
	ctx := &DrawContext{
		bindings: bindings{exec: s, root: &s.graphics, stage: gpu.StateAllShaderResource},
		args:     args,
		pso:      s.pso,
		viewport: s.viewport,
	}
	if len(s.rtvs) != len(s.pso.rtvFormats) {
		s.device.validationError("%s%s: pipeline expects %d render targets, %d bound", s.pso.name, s.where(), len(s.pso.rtvFormats), len(s.rtvs))
		return nil, false
	}
	width, height := -1, -1
	samples := uint32(0)
	for i, rtv := range s.rtvs {
		s.requireState(rtv.res, gpu.StateRenderTarget, "render target write")
		if rtv.rtv.Format != s.pso.rtvFormats[i] {
			s.device.validationError("%s%s: render target %d is %s, pipeline expects %s", s.pso.name, s.where(), i, rtv.rtv.Format, s.pso.rtvFormats[i])
			return nil, false
		}
		ctx.targets = append(ctx.targets, renderTarget{res: rtv.res, format: rtv.rtv.Format})
		width, height = int(rtv.res.desc.Width), int(rtv.res.desc.Height)
		samples = rtv.res.samples()
	}
	if s.pso.depth.DepthEnable {
		if s.dsv == nil {
			s.device.validationError("%s%s: depth test without a depth stencil view", s.pso.name, s.where())
			return nil, false
		}
		need := gpu.StateDepthWrite
		if !s.pso.depth.DepthWrite {
			need |= gpu.StateDepthRead
		}
		s.requireState(s.dsv.res, need, "depth access")
		ctx.depth = s.dsv.res
		width, height = int(s.dsv.res.desc.Width), int(s.dsv.res.desc.Height)
		samples = s.dsv.res.samples()
	}
	if samples == 0 {
		samples = 1
	}
	if samples != s.pso.sampleCount {
		s.device.validationError("%s%s: pipeline compiled for %d samples, targets have %d", s.pso.name, s.where(), s.pso.sampleCount, samples)
		return nil, false
	}
	ctx.samples = samples

	vp := s.viewport
	ctx.minX = maxInt(int(vp.TopLeftX), int(s.scissor.Left), 0)
	ctx.minY = maxInt(int(vp.TopLeftY), int(s.scissor.Top), 0)
	ctx.maxX = minInt(int(vp.TopLeftX+vp.Width), int(s.scissor.Right))
	ctx.maxY = minInt(int(vp.TopLeftY+vp.Height), int(s.scissor.Bottom))
	if width >= 0 {
		ctx.maxX = minInt(ctx.maxX, width)
		ctx.maxY = minInt(ctx.maxY, height)
	}
	return ctx, true
}

func (c *DrawContext) PixelShader() string { return c.pso.pixel }

func (c *DrawContext) VertexCount() uint32 { return c.args.VertexCount }

func (c *DrawContext) InstanceCount() uint32 {
	if c.args.InstanceCount == 0 {
		return 1
	}
	return c.args.InstanceCount
}

func (c *DrawContext) StartInstance() uint32 { return c.args.StartInstance }

// Groups is the dispatch size of a mesh draw.
func (c *DrawContext) Groups() [3]uint32 { return c.args.Groups }

// VertexIndex maps the i-th vertex of the draw through the index buffer when the draw is indexed.
func (c *DrawContext) VertexIndex(i uint32) (uint32, error) {
	if !c.args.Indexed {
		return c.args.StartVertex + i, nil
	}
	ib := c.exec.ib
	r, off, err := c.exec.device.resolveVA(ib.Address)
	if err != nil {
		return 0, err
	}
	c.exec.requireState(r, gpu.StateIndexBuffer, "index fetch")
	size := uint64(2)
	if ib.Format == gpu.IndexFormatUint32 {
		size = 4
	}
	pos := off + uint64(c.args.StartIndex+i)*size
	if pos+size > off+uint64(ib.Size) || pos+size > uint64(len(r.data)) {
		return 0, fmt.Errorf("%w: index %d beyond the index buffer", gpu.ErrInvalidCall, c.args.StartIndex+i)
	}
	var idx uint32
	if size == 2 {
		idx = uint32(r.data[pos]) | uint32(r.data[pos+1])<<8
	} else {
		idx = shaderdata.ReadU32(r.data[pos:])
	}
	return uint32(int64(idx) + int64(c.args.BaseVertex)), nil
}

// Vertex returns the bytes of vertex index in the vertex buffer bound at slot.
func (c *DrawContext) Vertex(slot uint32, index uint32) ([]byte, error) {
	vb := c.exec.vbs[slot]
	if vb.Address == 0 {
		return nil, fmt.Errorf("%w: no vertex buffer at slot %d", gpu.ErrInvalidCall, slot)
	}
	r, off, err := c.exec.device.resolveVA(vb.Address)
	if err != nil {
		return nil, err
	}
	c.exec.requireState(r, gpu.StateVertexAndConstantBuffer, "vertex fetch")
	start := uint64(index) * uint64(vb.Stride)
	if start+uint64(vb.Stride) > uint64(vb.Size) || off+start+uint64(vb.Stride) > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: vertex %d beyond the vertex buffer", gpu.ErrInvalidCall, index)
	}
	return r.data[off+start : off+start+uint64(vb.Stride)], nil
}

// texture is a shader view of a soft texture.
type texture struct {
	res     *resource
	Width   int
	Height  int
	Depth   int
	Samples int
}

func newTexture(r *resource) *texture {
	return &texture{
		res:     r,
		Width:   int(r.desc.Width),
		Height:  int(r.desc.Height),
		Depth:   int(r.desc.DepthOrArraySize),
		Samples: int(r.samples()),
	}
}

// Load reads sample 0; out of range reads return zero.
func (t *texture) Load(x, y, z int) [4]float32 {
	if x < 0 || y < 0 || z < 0 || x >= t.Width || y >= t.Height || z >= t.Depth {
		return [4]float32{}
	}
	return t.res.Texel(uint32(x), uint32(y), uint32(z), 0)
}

func (t *texture) Store(x, y, z int, v [4]float32) {
	if x < 0 || y < 0 || z < 0 || x >= t.Width || y >= t.Height || z >= t.Depth {
		return
	}
	_ = t.res.writeAll(uint32(x), uint32(y), uint32(z), v)
}

func address(i, size int, mode gpu.AddressMode) (int, bool) {
	if i >= 0 && i < size {
		return i, true
	}
	switch mode {
	case gpu.AddressWrap:
		i %= size
		if i < 0 {
			i += size
		}
		return i, true
	case gpu.AddressClamp:
		if i < 0 {
			return 0, true
		}
		return size - 1, true
	}
	return 0, false
}

func (t *texture) fetch(s gpu.StaticSampler, x, y, z int) [4]float32 {
	x, okx := address(x, t.Width, s.AddressU)
	y, oky := address(y, t.Height, s.AddressV)
	z, okz := address(z, t.Depth, s.AddressW)
	if !okx || !oky || !okz {
		if s.BorderWhite {
			return [4]float32{1, 1, 1, 1}
		}
		return [4]float32{}
	}
	return t.res.Texel(uint32(x), uint32(y), uint32(z), 0)
}

// Sample is a 2D sample of slice 0 with point or bilinear filtering.
func (t *texture) Sample(s gpu.StaticSampler, u, v float32) [4]float32 {
	return t.Sample3D(s, u, v, 0.5/float32(t.Depth))
}

// Sample3D filters trilinearly for linear samplers.
func (t *texture) Sample3D(s gpu.StaticSampler, u, v, w float32) [4]float32 {
	fx := u*float32(t.Width) - 0.5
	fy := v*float32(t.Height) - 0.5
	fz := w*float32(t.Depth) - 0.5
	if s.Filter == gpu.FilterPoint {
		return t.fetch(s, int(math32.Floor(fx+0.5)), int(math32.Floor(fy+0.5)), int(math32.Floor(fz+0.5)))
	}
	x0, y0, z0 := math32.Floor(fx), math32.Floor(fy), math32.Floor(fz)
	ax, ay, az := fx-x0, fy-y0, fz-z0
	ix, iy, iz := int(x0), int(y0), int(z0)
	var out [4]float32
	for dz := 0; dz < 2; dz++ {
		wz := az
		if dz == 0 {
			wz = 1 - az
		}
		if t.Depth == 1 {
			if dz == 1 {
				continue
			}
			wz = 1
		}
		for dy := 0; dy < 2; dy++ {
			wy := ay
			if dy == 0 {
				wy = 1 - ay
			}
			for dx := 0; dx < 2; dx++ {
				wx := ax
				if dx == 0 {
					wx = 1 - ax
				}
				wgt := wx * wy * wz
				if wgt == 0 {
					continue
				}
				texel := t.fetch(s, ix+dx, iy+dy, iz+dz)
				for c := range out {
					out[c] += texel[c] * wgt
				}
			}
		}
	}
	return out
}

// SampleCmp compares ref against the four nearest texels and filters the results.
func (t *texture) SampleCmp(s gpu.StaticSampler, u, v, ref float32) float32 {
	fx := u*float32(t.Width) - 0.5
	fy := v*float32(t.Height) - 0.5
	x0, y0 := math32.Floor(fx), math32.Floor(fy)
	ax, ay := fx-x0, fy-y0
	var out float32
	for dy := 0; dy < 2; dy++ {
		wy := ay
		if dy == 0 {
			wy = 1 - ay
		}
		for dx := 0; dx < 2; dx++ {
			wx := ax
			if dx == 0 {
				wx = 1 - ax
			}
			d := t.fetch(s, int(x0)+dx, int(y0)+dy, 0)[0]
			if compare(s.ComparisonFunc, ref, d) {
				out += wx * wy
			}
		}
	}
	return out
}

func compare(fn gpu.ComparisonFunc, a, b float32) bool {
	switch fn {
	case gpu.ComparisonLess:
		return a < b
	case gpu.ComparisonLessEqual:
		return a <= b
	case gpu.ComparisonGreater:
		return a > b
	case gpu.ComparisonGreaterEqual:
		return a >= b
	case gpu.ComparisonAlways:
		return true
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
