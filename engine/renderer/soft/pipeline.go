package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// ComputeKernel executes a whole Dispatch of x*y*z groups.
type ComputeKernel func(ctx *ComputeContext, x, y, z uint32) error

// DrawKernel executes a whole draw call or mesh dispatch. The pixel shader
// name is available through the context.
type DrawKernel func(ctx *DrawContext) error

var (
	computeKernels = map[string]ComputeKernel{}
	vertexKernels  = map[string]DrawKernel{}
	meshKernels    = map[string]DrawKernel{}
	pixelShaders   = map[string]struct{}{}
)

func registerCompute(name string, k ComputeKernel) { computeKernels[name] = k }

func registerVertex(name string, k DrawKernel) { vertexKernels[name] = k }

func registerMesh(name string, k DrawKernel) { meshKernels[name] = k }

func registerPixel(names ...string) {
	for _, n := range names {
		pixelShaders[n] = struct{}{}
	}
}

func hasKernel(name string) bool {
	if _, ok := computeKernels[name]; ok {
		return true
	}
	if _, ok := vertexKernels[name]; ok {
		return true
	}
	if _, ok := meshKernels[name]; ok {
		return true
	}
	_, ok := pixelShaders[name]
	return ok
}

type rootSignature struct {
	desc gpu.RootSignatureDesc
}

func (r *rootSignature) Desc() gpu.RootSignatureDesc { return r.desc }

func (r *rootSignature) Release() {}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	seen := map[[3]uint32]bool{}
	for _, p := range desc.Parameters {
		class := uint32(0)
		switch p.Type {
		case gpu.RootParameterSRV, gpu.RootParameterTableSRV:
			class = 1
		case gpu.RootParameterUAV, gpu.RootParameterTableUAV:
			class = 2
		}
		key := [3]uint32{class, p.Register, p.Space}
		if seen[key] {
			return nil, fmt.Errorf("%w: register %d space %d bound twice", gpu.ErrInvalidCall, p.Register, p.Space)
		}
		seen[key] = true
	}
	cp := desc
	cp.Parameters = append([]gpu.RootParameter(nil), desc.Parameters...)
	cp.StaticSamplers = append([]gpu.StaticSampler(nil), desc.StaticSamplers...)
	return &rootSignature{desc: cp}, nil
}

type pipeline struct {
	kind        gpu.PipelineKind
	name        string
	rootSig     *rootSignature
	compute     ComputeKernel
	draw        DrawKernel
	pixel       string
	blend       gpu.BlendDesc
	depth       gpu.DepthStencilDesc
	raster      gpu.RasterizerDesc
	topology    gpu.PrimitiveTopologyType
	rtvFormats  []gpu.Format
	dsvFormat   gpu.Format
	sampleCount uint32
	inputLayout []gpu.InputElement
}

func (p *pipeline) Kind() gpu.PipelineKind { return p.kind }

func (p *pipeline) SampleCount() uint32 { return p.sampleCount }

func (p *pipeline) Name() string { return p.name }

func (p *pipeline) Release() {}

func asRootSignature(rs gpu.RootSignature) (*rootSignature, error) {
	r, ok := rs.(*rootSignature)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: pipeline without a soft root signature", gpu.ErrInvalidCall)
	}
	return r, nil
}

func (d *Device) checkPixel(ps gpu.ShaderBytecode) error {
	if ps.Name == "" {
		return nil
	}
	if _, ok := pixelShaders[ps.Name]; !ok {
		return fmt.Errorf("%w: pixel shader %s", core.ErrShaderNotFound, ps.Name)
	}
	return nil
}

func (d *Device) checkTargets(formats []gpu.Format, samples gpu.SampleDesc) (uint32, error) {
	if len(formats) > 8 {
		return 0, fmt.Errorf("%w: %d render targets", gpu.ErrInvalidCall, len(formats))
	}
	count := samples.Count
	if count == 0 {
		count = 1
	}
	if count > d.opts.MaxSampleCount {
		return 0, fmt.Errorf("%w: %d samples", gpu.ErrUnsupported, count)
	}
	return count, nil
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if rs.desc.Compute {
		return nil, fmt.Errorf("%w: graphics pipeline with a compute root signature", gpu.ErrInvalidCall)
	}
	k, ok := vertexKernels[desc.VS.Name]
	if !ok {
		return nil, fmt.Errorf("%w: vertex shader %s", core.ErrShaderNotFound, desc.VS.Name)
	}
	if err := d.checkPixel(desc.PS); err != nil {
		return nil, err
	}
	count, err := d.checkTargets(desc.RTVFormats, desc.SampleDesc)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		kind:        gpu.PipelineGraphics,
		name:        desc.VS.Name + "|" + desc.PS.Name,
		rootSig:     rs,
		draw:        k,
		pixel:       desc.PS.Name,
		blend:       desc.Blend,
		depth:       desc.DepthStencil,
		raster:      desc.Rasterizer,
		topology:    desc.Topology,
		rtvFormats:  append([]gpu.Format(nil), desc.RTVFormats...),
		dsvFormat:   desc.DSVFormat,
		sampleCount: count,
		inputLayout: append([]gpu.InputElement(nil), desc.InputLayout...),
	}, nil
}

func (d *Device) CreateMeshPipeline(desc gpu.MeshPipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if d.opts.MeshShaderTier == 0 {
		return nil, fmt.Errorf("%w: mesh shaders", gpu.ErrUnsupported)
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if !desc.AS.IsEmpty() {
		return nil, fmt.Errorf("%w: amplification shaders", gpu.ErrUnsupported)
	}
	k, ok := meshKernels[desc.MS.Name]
	if !ok {
		return nil, fmt.Errorf("%w: mesh shader %s", core.ErrShaderNotFound, desc.MS.Name)
	}
	if err := d.checkPixel(desc.PS); err != nil {
		return nil, err
	}
	count, err := d.checkTargets(desc.RTVFormats, desc.SampleDesc)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		kind:        gpu.PipelineMesh,
		name:        desc.MS.Name + "|" + desc.PS.Name,
		rootSig:     rs,
		draw:        k,
		pixel:       desc.PS.Name,
		blend:       desc.Blend,
		depth:       desc.DepthStencil,
		raster:      desc.Rasterizer,
		topology:    desc.Topology,
		rtvFormats:  append([]gpu.Format(nil), desc.RTVFormats...),
		dsvFormat:   desc.DSVFormat,
		sampleCount: count,
	}, nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	k, ok := computeKernels[desc.CS.Name]
	if !ok {
		return nil, fmt.Errorf("%w: compute shader %s", core.ErrShaderNotFound, desc.CS.Name)
	}
	return &pipeline{kind: gpu.PipelineCompute, name: desc.CS.Name, rootSig: rs, compute: k}, nil
}
