package components

import (
	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

// DirectionalLight is the light shared by the props and the particles.
type DirectionalLight = shaderdata.LightConstants

/**
 * @brief Lit, shadowed opaque meshes. The fields are the per draw inputs;
 * Apply uploads them as one constant buffer. Matrices go up as they are
 * since the shaders declare them row_major.
 */
type PropPipeline struct {
	systems       *systems.SystemManager
	rootSignature *pipeline.RootSignature
	render        *pipeline.PipelineState
	shadow        *pipeline.PipelineState

	ShadowMap       memory.DescriptorView
	World           math.Mat4
	View            math.Mat4
	Proj            math.Mat4
	ShadowTransform math.Mat4
	CameraPosition  math.Vec3
	Light           DirectionalLight
	Ambient         float32
	Color           math.Vec4
}

func NewPropPipeline(sm *systems.SystemManager) (*PropPipeline, error) {
	p := &PropPipeline{
		systems:         sm,
		World:           math.NewMat4Identity(),
		View:            math.NewMat4Identity(),
		Proj:            math.NewMat4Identity(),
		ShadowTransform: math.NewMat4Identity(),
		Ambient:         0.1,
		Color:           math.NewVec4(1, 1, 1, 1),
		Light: DirectionalLight{
			Color:     math.NewVec3(1, 1, 1),
			Strength:  1,
			Direction: math.NewVec3(0, -1, 0),
		},
	}

	rs := pipeline.NewRootSignature(sm)
	for _, err := range []error{
		rs.AddCBV(0, 0),
		rs.AddSRV(0, 0),
		rs.AddStaticSampler(gpu.StaticSampler{
			Filter:         gpu.FilterComparisonLinear,
			AddressU:       gpu.AddressBorder,
			AddressV:       gpu.AddressBorder,
			AddressW:       gpu.AddressBorder,
			ComparisonFunc: gpu.ComparisonLessEqual,
			BorderWhite:    true,
		}, 0, 0),
	} {
		if err != nil {
			return nil, err
		}
	}
	if err := rs.Build(sm.Device(), false); err != nil {
		return nil, err
	}
	p.rootSignature = rs

	shaders, err := loadShaders(sm, shaderdata.PropVS, shaderdata.PropPS, shaderdata.PropShadowVS)
	if err != nil {
		p.Release()
		return nil, err
	}

	renderDesc := pipeline.DefaultDesc()
	renderDesc.RootSignature = rs.Get()
	renderDesc.VS = shaders[0]
	renderDesc.PS = shaders[1]
	p.render = pipeline.NewGraphicsPipelineState(renderDesc)
	if err := p.render.Build(sm.Device()); err != nil {
		p.Release()
		return nil, err
	}

	shadowDesc := pipeline.DefaultShadowDesc()
	shadowDesc.RootSignature = rs.Get()
	shadowDesc.VS = shaders[2]
	p.shadow = pipeline.NewGraphicsPipelineState(shadowDesc)
	if err := p.shadow.Build(sm.Device()); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// Apply binds the lit pipeline and uploads the constants for the next draw.
func (p *PropPipeline) Apply(cl gpu.CommandList, multisampled bool) error {
	if err := p.rootSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.render.Set(cl, multisampled); err != nil {
		return err
	}
	constants := shaderdata.PropConstants{
		World:           p.World,
		WorldViewProj:   p.World.Mul(p.View).Mul(p.Proj),
		ShadowTransform: p.ShadowTransform,
		Light:           p.Light,
		CameraPosition:  p.CameraPosition,
		Ambient:         p.Ambient,
		Color:           p.Color,
	}
	if err := p.rootSignature.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := p.rootSignature.SetSRV(cl, 0, 0, p.ShadowMap); err != nil {
		return err
	}
	cl.SetPrimitiveTopology(gpu.TopologyTriangleList)
	return nil
}

// ApplyShadow binds the depth only pipeline with World seen from the light.
func (p *PropPipeline) ApplyShadow(cl gpu.CommandList, lightView, lightProj math.Mat4) error {
	if err := p.rootSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.shadow.Set(cl, false); err != nil {
		return err
	}
	constants := shaderdata.PropShadowConstants{
		WorldViewProj: p.World.Mul(lightView).Mul(lightProj),
	}
	if err := p.rootSignature.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	cl.SetPrimitiveTopology(gpu.TopologyTriangleList)
	return nil
}

// DrawMesh draws a mesh registered with the buffer manager using whatever pipeline was applied last.
func (p *PropPipeline) DrawMesh(cl gpu.CommandList, mesh containers.Handle) error {
	entry, ok := p.systems.Buffers().GetMesh(mesh)
	if !ok {
		return core.ErrInvalidHandle
	}
	cl.SetVertexBuffers(0, entry.VertexBufferView())
	cl.SetIndexBuffer(entry.IndexBufferView())
	cl.DrawIndexedInstanced(entry.IndexCount, 1, 0, 0, 0)
	return nil
}

func (p *PropPipeline) Release() {
	if p.render != nil {
		p.render.Release()
	}
	if p.shadow != nil {
		p.shadow.Release()
	}
	if p.rootSignature != nil {
		p.rootSignature.Reset()
	}
}
