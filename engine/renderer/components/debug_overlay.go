package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/assets"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

/**
 * @brief The "Performance" panel. Text is laid out on the CPU every frame
 * and the glyph quads go up through frame constant memory, so nothing
 * but the atlas outlives a frame.
 */
type DebugOverlay struct {
	systems *systems.SystemManager
	font    *assets.FontAtlas

	rootSignature *pipeline.RootSignature
	pso           *pipeline.PipelineState
	atlas         barrier.Resource
	atlasCPU      gpu.CPUDescriptorHandle
	atlasGPU      gpu.GPUDescriptorHandle

	fps     float64
	Visible bool
	Color   math.Vec4
	Origin  math.Vec2
}

// NewDebugOverlay loads the BMFont at fontPath, or uses the built in face when fontPath is empty.
func NewDebugOverlay(sm *systems.SystemManager, fontPath string, targetFormat gpu.Format) (*DebugOverlay, error) {
	font := assets.BuiltinFont()
	if fontPath != "" {
		loaded, err := assets.LoadBitmapFont(fontPath)
		if err != nil {
			core.LogWarn("debug overlay falls back to the built in font: %s", err)
		} else {
			font = loaded
		}
	}

	o := &DebugOverlay{
		systems: sm,
		font:    font,
		Visible: true,
		Color:   math.NewVec4(1, 1, 1, 1),
		Origin:  math.NewVec2(10, 10),
	}
	if err := o.create(targetFormat); err != nil {
		o.Release()
		return nil, fmt.Errorf("failed to create debug overlay: %w", err)
	}
	return o, nil
}

func (o *DebugOverlay) create(targetFormat gpu.Format) error {
	err := o.systems.Buffers().UploadTexture2D(&o.atlas, "debug font atlas", gpu.FormatR8G8B8A8Unorm,
		uint32(o.font.Width), uint32(o.font.Height), o.font.RGBA(), gpu.StatePixelShaderResource)
	if err != nil {
		return err
	}
	gm := o.systems.Memory()
	if o.atlasCPU, o.atlasGPU, err = gm.AllocateSrvOrUavHandles(); err != nil {
		return err
	}
	if err := o.systems.Device().CreateShaderResourceView(o.atlas.Get(), nil, o.atlasCPU); err != nil {
		return err
	}

	rs := pipeline.NewRootSignature(o.systems)
	err = declare(
		rs.AddCBV(0, 0),
		rs.AddSRV(0, 0),
		rs.AddStaticSampler(gpu.StaticSampler{
			Filter:   gpu.FilterPoint,
			AddressU: gpu.AddressClamp,
			AddressV: gpu.AddressClamp,
			AddressW: gpu.AddressClamp,
		}, 0, 0),
	)
	if err != nil {
		return err
	}
	if err := rs.Build(o.systems.Device(), false); err != nil {
		return err
	}
	o.rootSignature = rs

	shaders, err := loadShaders(o.systems, shaderdata.DebugTextVS, shaderdata.DebugTextPS)
	if err != nil {
		return err
	}
	o.pso = pipeline.NewGraphicsPipelineState(gpu.GraphicsPipelineDesc{
		RootSignature: rs.Get(),
		VS:            shaders[0],
		PS:            shaders[1],
		InputLayout: []gpu.InputElement{
			{SemanticName: "POSITION", Format: gpu.FormatR32G32B32A32Float, Offset: 0, Components: 2},
			{SemanticName: "TEXCOORD", Format: gpu.FormatR32G32B32A32Float, Offset: 8, Components: 2},
		},
		Topology:     gpu.TopologyTypeTriangle,
		Blend:        gpu.BlendDesc{Mode: gpu.BlendAlpha},
		DepthStencil: gpu.DepthNone(),
		Rasterizer:   gpu.RasterizerCullNone(),
		RTVFormats:   []gpu.Format{targetFormat},
		DSVFormat:    gpu.FormatD32Float,
		SampleDesc:   gpu.SampleDesc{Count: 1},
	})
	return o.pso.Build(o.systems.Device())
}

// Update records the frame rate shown by the next Draw.
func (o *DebugOverlay) Update(fps float64) {
	o.fps = fps
}

// Lines is the panel text.
func (o *DebugOverlay) Lines() []string {
	msPerFrame := 0.0
	if o.fps > 0 {
		msPerFrame = 1000 / o.fps
	}
	return []string{
		"Performance",
		fmt.Sprintf("FPS: %.2f", o.fps),
		fmt.Sprintf("msPF: %.2f", msPerFrame),
	}
}

func (o *DebugOverlay) vertices() []byte {
	var out []byte
	y := o.Origin.Y
	for _, line := range o.Lines() {
		for _, q := range o.font.Layout(line, o.Origin.X, y) {
			corners := [6]shaderdata.TextVertex{
				{Position: math.NewVec2(q.X0, q.Y0), Texcoord: math.NewVec2(q.U0, q.V0)},
				{Position: math.NewVec2(q.X1, q.Y0), Texcoord: math.NewVec2(q.U1, q.V0)},
				{Position: math.NewVec2(q.X1, q.Y1), Texcoord: math.NewVec2(q.U1, q.V1)},
				{Position: math.NewVec2(q.X0, q.Y0), Texcoord: math.NewVec2(q.U0, q.V0)},
				{Position: math.NewVec2(q.X1, q.Y1), Texcoord: math.NewVec2(q.U1, q.V1)},
				{Position: math.NewVec2(q.X0, q.Y1), Texcoord: math.NewVec2(q.U0, q.V1)},
			}
			for _, v := range corners {
				b := make([]byte, shaderdata.TextVertexStride)
				v.Put(b)
				out = append(out, b...)
			}
		}
		y += float32(o.font.LineHeight)
	}
	return out
}

// Draw renders the panel into the bound target of size width x height.
func (o *DebugOverlay) Draw(cl gpu.CommandList, width, height uint32, multisampled bool) error {
	if !o.Visible {
		return nil
	}
	data := o.vertices()
	if len(data) == 0 {
		return nil
	}
	addr, err := o.systems.Memory().AllocateConstant(data)
	if err != nil {
		return err
	}

	cl.BeginEvent("Debug Overlay")
	defer cl.EndEvent()

	if err := o.rootSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := o.pso.Set(cl, multisampled); err != nil {
		return err
	}
	constants := shaderdata.TextConstants{
		ScreenSize: math.NewVec2(float32(width), float32(height)),
		Color:      o.Color,
	}
	if err := o.rootSignature.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := o.rootSignature.SetSRVHandle(cl, 0, 0, o.atlasGPU); err != nil {
		return err
	}
	cl.SetPrimitiveTopology(gpu.TopologyTriangleList)
	cl.SetVertexBuffers(0, gpu.VertexBufferView{
		Address: addr,
		Size:    uint32(len(data)),
		Stride:  shaderdata.TextVertexStride,
	})
	cl.DrawInstanced(uint32(len(data)/shaderdata.TextVertexStride), 1, 0, 0)
	return nil
}

func (o *DebugOverlay) Release() {
	if o.pso != nil {
		o.pso.Release()
	}
	if o.rootSignature != nil {
		o.rootSignature.Reset()
	}
	if o.atlasCPU.Ptr != 0 {
		o.systems.Memory().FreeSrvByCpuHandle(o.atlasCPU)
		o.atlasCPU = gpu.CPUDescriptorHandle{}
	}
	o.atlas.Reset()
}
