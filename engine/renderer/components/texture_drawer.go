package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

// DefaultPaperWhiteNits is the brightness of SDR white on an HDR10 display.
const DefaultPaperWhiteNits float32 = 80

func loadShaders(sm *systems.SystemManager, names ...string) ([]gpu.ShaderBytecode, error) {
	out := make([]gpu.ShaderBytecode, len(names))
	for i, name := range names {
		code, err := sm.Shaders().Load(name)
		if err != nil {
			return nil, err
		}
		out[i] = code
	}
	return out, nil
}

/**
 * @brief Draws an HDR texture over the whole viewport while tonemapping it
 * for the output: Reinhard with a 2.2 gamma for SDR targets, Rec.2020 with
 * the ST.2084 curve for HDR10 targets.
 */
type TextureDrawer struct {
	systems       *systems.SystemManager
	rootSignature *pipeline.RootSignature
	pso           *pipeline.PipelineState
	colorSpace    gpu.ColorSpace

	Exposure       float32
	PaperWhiteNits float32
}

func NewTextureDrawer(sm *systems.SystemManager, outputFormat gpu.Format, colorSpace gpu.ColorSpace) (*TextureDrawer, error) {
	td := &TextureDrawer{
		systems:        sm,
		colorSpace:     colorSpace,
		Exposure:       1,
		PaperWhiteNits: DefaultPaperWhiteNits,
	}

	rs := pipeline.NewRootSignature(sm)
	if err := rs.AddCBV(0, 0); err != nil {
		return nil, err
	}
	if err := rs.AddSRV(0, 0); err != nil {
		return nil, err
	}
	if err := rs.AddStaticSampler(gpu.StaticSampler{
		Filter:   gpu.FilterLinear,
		AddressU: gpu.AddressClamp,
		AddressV: gpu.AddressClamp,
		AddressW: gpu.AddressClamp,
	}, 0, 0); err != nil {
		return nil, err
	}
	if err := rs.Build(sm.Device(), false); err != nil {
		return nil, err
	}
	td.rootSignature = rs

	ps := shaderdata.TonemapSDRPS
	if colorSpace == gpu.ColorSpaceHDR10 {
		ps = shaderdata.TonemapHDR10PS
	}
	shaders, err := loadShaders(sm, shaderdata.FullscreenVS, ps)
	if err != nil {
		rs.Reset()
		return nil, err
	}
	td.pso = pipeline.NewGraphicsPipelineState(gpu.GraphicsPipelineDesc{
		RootSignature: rs.Get(),
		VS:            shaders[0],
		PS:            shaders[1],
		Topology:      gpu.TopologyTypeTriangle,
		Blend:         gpu.BlendDesc{Mode: gpu.BlendOpaque},
		DepthStencil:  gpu.DepthNone(),
		Rasterizer:    gpu.RasterizerCullNone(),
		RTVFormats:    []gpu.Format{outputFormat},
		SampleDesc:    gpu.SampleDesc{Count: 1},
	})
	if err := td.pso.Build(sm.Device()); err != nil {
		rs.Reset()
		return nil, fmt.Errorf("failed to create texture drawer: %w", err)
	}
	return td, nil
}

func (td *TextureDrawer) ColorSpace() gpu.ColorSpace {
	return td.colorSpace
}

// Draw tonemaps srv into the bound render target. srv must already be readable by pixel shaders.
func (td *TextureDrawer) Draw(cl gpu.CommandList, srv memory.DescriptorView, viewport gpu.Viewport) error {
	if err := td.rootSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := td.pso.Set(cl, false); err != nil {
		return err
	}
	constants := shaderdata.TonemapConstants{
		Exposure:       td.Exposure,
		PaperWhiteNits: td.PaperWhiteNits,
	}
	if err := td.rootSignature.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := td.rootSignature.SetSRV(cl, 0, 0, srv); err != nil {
		return err
	}
	cl.SetViewports(viewport)
	cl.SetPrimitiveTopology(gpu.TopologyTriangleList)
	cl.DrawInstanced(3, 1, 0, 0)
	return nil
}

func (td *TextureDrawer) Release() {
	td.pso.Release()
	td.rootSignature.Reset()
}
