package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// MultisampleCount is the sample count of every multisampled variant.
const MultisampleCount = 4

/**
 * @brief One pipeline template compiled twice: as given, and with 4x
 * multisampling forced on. Set picks the variant matching the render
 * target. Compute templates have no sample count and compile once.
 */
type PipelineState struct {
	kind     gpu.PipelineKind
	graphics gpu.GraphicsPipelineDesc
	mesh     gpu.MeshPipelineDesc
	compute  gpu.ComputePipelineDesc

	singleSampled gpu.Pipeline
	multisampled  gpu.Pipeline
	built         bool
}

func NewGraphicsPipelineState(desc gpu.GraphicsPipelineDesc) *PipelineState {
	return &PipelineState{kind: gpu.PipelineGraphics, graphics: desc}
}

func NewMeshPipelineState(desc gpu.MeshPipelineDesc) *PipelineState {
	return &PipelineState{kind: gpu.PipelineMesh, mesh: desc}
}

func NewComputePipelineState(desc gpu.ComputePipelineDesc) *PipelineState {
	return &PipelineState{kind: gpu.PipelineCompute, compute: desc}
}

func multisampledRasterizer(r gpu.RasterizerDesc) gpu.RasterizerDesc {
	r.MultisampleEnable = true
	return r
}

func (ps *PipelineState) Build(device gpu.Device) error {
	if ps.built {
		return core.ErrAlreadyBuilt
	}

	var single, multi gpu.Pipeline
	var err error
	switch ps.kind {
	case gpu.PipelineGraphics:
		single, err = device.CreateGraphicsPipeline(ps.graphics)
		if err != nil {
			break
		}
		desc := ps.graphics
		desc.RTVFormats = append([]gpu.Format(nil), ps.graphics.RTVFormats...)
		desc.Rasterizer = multisampledRasterizer(desc.Rasterizer)
		desc.SampleDesc = gpu.SampleDesc{Count: MultisampleCount, Quality: 0}
		multi, err = device.CreateGraphicsPipeline(desc)
	case gpu.PipelineMesh:
		single, err = device.CreateMeshPipeline(ps.mesh)
		if err != nil {
			break
		}
		desc := ps.mesh
		desc.RTVFormats = append([]gpu.Format(nil), ps.mesh.RTVFormats...)
		desc.Rasterizer = multisampledRasterizer(desc.Rasterizer)
		desc.SampleDesc = gpu.SampleDesc{Count: MultisampleCount, Quality: 0}
		multi, err = device.CreateMeshPipeline(desc)
	case gpu.PipelineCompute:
		single, err = device.CreateComputePipeline(ps.compute)
		multi = single
	}
	if err != nil {
		if single != nil {
			single.Release()
		}
		core.LogError("failed to build pipeline '%s': %s", ps.Name(), err)
		return fmt.Errorf("failed to build pipeline %q: %w", ps.Name(), err)
	}

	ps.singleSampled = single
	ps.multisampled = multi
	ps.built = true
	return nil
}

// Set binds the multisampled or the single sampled variant.
func (ps *PipelineState) Set(cl gpu.CommandList, multisampled bool) error {
	if !ps.built {
		return core.ErrNotBuilt
	}
	if multisampled {
		cl.SetPipelineState(ps.multisampled)
	} else {
		cl.SetPipelineState(ps.singleSampled)
	}
	return nil
}

// Variant returns the compiled pipeline Set would bind.
func (ps *PipelineState) Variant(multisampled bool) gpu.Pipeline {
	if multisampled {
		return ps.multisampled
	}
	return ps.singleSampled
}

func (ps *PipelineState) Kind() gpu.PipelineKind {
	return ps.kind
}

func (ps *PipelineState) GraphicsDesc() gpu.GraphicsPipelineDesc {
	return ps.graphics
}

func (ps *PipelineState) MeshDesc() gpu.MeshPipelineDesc {
	return ps.mesh
}

// Name is the name of the first shader of the template.
func (ps *PipelineState) Name() string {
	switch ps.kind {
	case gpu.PipelineGraphics:
		return ps.graphics.VS.Name
	case gpu.PipelineMesh:
		return ps.mesh.MS.Name
	}
	return ps.compute.CS.Name
}

func (ps *PipelineState) Release() {
	if ps.singleSampled != nil {
		ps.singleSampled.Release()
	}
	if ps.multisampled != nil && ps.multisampled != ps.singleSampled {
		ps.multisampled.Release()
	}
	ps.singleSampled, ps.multisampled = nil, nil
	ps.built = false
}

// DefaultDesc is an opaque, depth tested pass into an R16G16B16A16 target with D32 depth.
func DefaultDesc() gpu.GraphicsPipelineDesc {
	return gpu.GraphicsPipelineDesc{
		InputLayout:  Vertex3DInputLayout(),
		Topology:     gpu.TopologyTypeTriangle,
		Blend:        gpu.BlendDesc{Mode: gpu.BlendOpaque},
		DepthStencil: gpu.DepthDefault(),
		Rasterizer:   gpu.RasterizerCullCounterClockwise(),
		RTVFormats:   []gpu.Format{gpu.FormatR16G16B16A16Float},
		DSVFormat:    gpu.FormatD32Float,
		SampleDesc:   gpu.SampleDesc{Count: 1},
	}
}

func DepthWriteDisableDesc() gpu.GraphicsPipelineDesc {
	desc := DefaultDesc()
	desc.DepthStencil = gpu.DepthRead()
	return desc
}

func shadowRasterizer() gpu.RasterizerDesc {
	return gpu.RasterizerDesc{
		FillMode:             gpu.FillSolid,
		CullMode:             gpu.CullBack,
		DepthClipEnable:      true,
		DepthBias:            10000,
		SlopeScaledDepthBias: 1,
	}
}

// DefaultShadowDesc renders depth only, with a depth bias against acne.
func DefaultShadowDesc() gpu.GraphicsPipelineDesc {
	desc := DefaultDesc()
	desc.Rasterizer = shadowRasterizer()
	desc.RTVFormats = nil
	return desc
}

func DefaultMeshDesc() gpu.MeshPipelineDesc {
	return gpu.MeshPipelineDesc{
		Topology:     gpu.TopologyTypeTriangle,
		Blend:        gpu.BlendDesc{Mode: gpu.BlendOpaque},
		DepthStencil: gpu.DepthDefault(),
		Rasterizer:   gpu.RasterizerCullCounterClockwise(),
		RTVFormats:   []gpu.Format{gpu.FormatR16G16B16A16Float},
		DSVFormat:    gpu.FormatD32Float,
		SampleDesc:   gpu.SampleDesc{Count: 1},
	}
}

func DepthWriteDisableMeshDesc() gpu.MeshPipelineDesc {
	desc := DefaultMeshDesc()
	desc.DepthStencil = gpu.DepthRead()
	return desc
}

func DefaultShadowMeshDesc() gpu.MeshPipelineDesc {
	desc := DefaultMeshDesc()
	desc.Rasterizer = shadowRasterizer()
	desc.RTVFormats = nil
	return desc
}

// Vertex3DInputLayout matches math.Vertex3D: position, normal, texcoord.
func Vertex3DInputLayout() []gpu.InputElement {
	return []gpu.InputElement{
		{SemanticName: "POSITION", Format: gpu.FormatR32G32B32A32Float, Offset: 0, Components: 3},
		{SemanticName: "NORMAL", Format: gpu.FormatR32G32B32A32Float, Offset: 12, Components: 3},
		{SemanticName: "TEXCOORD", Format: gpu.FormatR32G32B32A32Float, Offset: 24, Components: 2},
	}
}
