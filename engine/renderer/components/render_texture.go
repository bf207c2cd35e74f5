package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/systems"
)

// CornflowerBlue in linear space.
var CornflowerBlue = [4]float32{0.127438, 0.300544, 0.846873, 1}

/**
 * @brief An offscreen colour target with its own depth buffer. When
 * multisampled, the colour and depth targets have 4 samples and Resolve
 * averages them into a single sampled texture, which is what the SRV
 * views. The size is fixed; recreate it when the window changes size.
 */
type RenderTexture struct {
	systems *systems.SystemManager

	width, height uint32
	format        gpu.Format
	multisampled  bool
	clearColor    [4]float32

	target   barrier.Resource
	resolved barrier.Resource
	depth    barrier.Resource
	rtv      memory.DescriptorView
	dsv      memory.DescriptorView
	srv      memory.DescriptorView
}

func NewRenderTexture(sm *systems.SystemManager, width, height uint32, format gpu.Format, multisampled bool) (*RenderTexture, error) {
	rt := &RenderTexture{
		systems:      sm,
		width:        width,
		height:       height,
		format:       format,
		multisampled: multisampled,
		clearColor:   CornflowerBlue,
	}
	if err := rt.create(); err != nil {
		rt.Release()
		return nil, fmt.Errorf("failed to create %dx%d render texture: %w", width, height, err)
	}
	return rt, nil
}

func (rt *RenderTexture) create() error {
	device := rt.systems.Device()
	gm := rt.systems.Memory()

	samples := uint32(1)
	if rt.multisampled {
		samples = pipeline.MultisampleCount
	}

	err := rt.target.Create(device, gpu.HeapDefault,
		gpu.Tex2DDesc(rt.format, uint64(rt.width), rt.height, samples, gpu.ResourceFlagAllowRenderTarget),
		gpu.StateRenderTarget, &gpu.ClearValue{Format: rt.format, Color: rt.clearColor})
	if err != nil {
		return err
	}
	rt.target.SetName("Offscreen Render Target")

	err = rt.depth.Create(device, gpu.HeapDefault,
		gpu.Tex2DDesc(gpu.FormatD32Float, uint64(rt.width), rt.height, samples, gpu.ResourceFlagAllowDepthStencil),
		gpu.StateDepthWrite, &gpu.ClearValue{Format: gpu.FormatD32Float, Depth: 1})
	if err != nil {
		return err
	}
	rt.depth.SetName("Offscreen Depth")

	if rt.rtv, err = gm.CreateRTV(rt.target.Get()); err != nil {
		return err
	}
	dsvDesc := gpu.DSVDesc{Format: gpu.FormatD32Float, Dimension: gpu.DSVDimensionTexture2D}
	if rt.multisampled {
		dsvDesc.Dimension = gpu.DSVDimensionTexture2DMS
	}
	if rt.dsv, err = gm.CreateDSV(rt.depth.Get(), &dsvDesc); err != nil {
		return err
	}

	if !rt.multisampled {
		rt.srv, err = gm.CreateSRV(rt.target.Get(), false)
		return err
	}
	err = rt.resolved.Create(device, gpu.HeapDefault,
		gpu.Tex2DDesc(rt.format, uint64(rt.width), rt.height, 1, gpu.ResourceFlagNone),
		gpu.StateResolveDest, nil)
	if err != nil {
		return err
	}
	rt.resolved.SetName("Resolved Render Target")
	rt.srv, err = gm.CreateSRV(rt.resolved.Get(), false)
	return err
}

func (rt *RenderTexture) Width() uint32 { return rt.width }

func (rt *RenderTexture) Height() uint32 { return rt.height }

func (rt *RenderTexture) Format() gpu.Format { return rt.format }

func (rt *RenderTexture) IsMultisampled() bool { return rt.multisampled }

func (rt *RenderTexture) SetClearColor(color [4]float32) { rt.clearColor = color }

func (rt *RenderTexture) Viewport() gpu.Viewport {
	return gpu.Viewport{Width: float32(rt.width), Height: float32(rt.height), MaxDepth: 1}
}

func (rt *RenderTexture) handles() (gpu.CPUDescriptorHandle, gpu.CPUDescriptorHandle, error) {
	gm := rt.systems.Memory()
	rtv, err := gm.CPUHandle(rt.rtv)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, gpu.CPUDescriptorHandle{}, err
	}
	dsv, err := gm.CPUHandle(rt.dsv)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, gpu.CPUDescriptorHandle{}, err
	}
	return rtv, dsv, nil
}

func (rt *RenderTexture) transitionToTarget(cl gpu.CommandList) error {
	if err := rt.target.Transition(cl, gpu.StateRenderTarget); err != nil {
		return err
	}
	return rt.depth.Transition(cl, gpu.StateDepthWrite)
}

// Clear clears colour and depth and binds colour and depth as the targets.
func (rt *RenderTexture) Clear(cl gpu.CommandList) error {
	if err := rt.transitionToTarget(cl); err != nil {
		return err
	}
	rtv, dsv, err := rt.handles()
	if err != nil {
		return err
	}
	cl.ClearRenderTargetView(rtv, rt.clearColor)
	cl.ClearDepthStencilView(dsv, 1)
	cl.SetRenderTargets([]gpu.CPUDescriptorHandle{rtv}, &dsv)
	cl.SetViewports(rt.Viewport())
	return nil
}

// SetAsTarget binds colour and depth without clearing them.
func (rt *RenderTexture) SetAsTarget(cl gpu.CommandList) error {
	if err := rt.transitionToTarget(cl); err != nil {
		return err
	}
	rtv, dsv, err := rt.handles()
	if err != nil {
		return err
	}
	cl.SetRenderTargets([]gpu.CPUDescriptorHandle{rtv}, &dsv)
	cl.SetViewports(rt.Viewport())
	return nil
}

// Resolve averages the samples into the single sampled texture. It does nothing when not multisampled.
func (rt *RenderTexture) Resolve(cl gpu.CommandList) error {
	if !rt.multisampled {
		return nil
	}
	if err := rt.target.Transition(cl, gpu.StateResolveSource); err != nil {
		return err
	}
	if err := rt.resolved.Transition(cl, gpu.StateResolveDest); err != nil {
		return err
	}
	cl.ResolveSubresource(rt.resolved.Get(), rt.target.Get(), rt.format)
	return nil
}

// TransitionAndGetSRV makes the single sampled texture readable by shaders.
func (rt *RenderTexture) TransitionAndGetSRV(cl gpu.CommandList) (memory.DescriptorView, error) {
	res := &rt.target
	if rt.multisampled {
		res = &rt.resolved
	}
	if err := res.Transition(cl, gpu.StateAllShaderResource); err != nil {
		return memory.DescriptorView{}, err
	}
	return rt.srv, nil
}

func (rt *RenderTexture) SRV() memory.DescriptorView {
	return rt.srv
}

// SingleSampled is the texture the SRV views.
func (rt *RenderTexture) SingleSampled() gpu.Resource {
	if rt.multisampled {
		return rt.resolved.Get()
	}
	return rt.target.Get()
}

func (rt *RenderTexture) Release() {
	gm := rt.systems.Memory()
	for _, v := range []*memory.DescriptorView{&rt.rtv, &rt.dsv, &rt.srv} {
		if v.IsValid() {
			_ = gm.Release(*v)
		}
		*v = memory.DescriptorView{}
	}
	rt.resolved.Reset()
	rt.depth.Reset()
	rt.target.Reset()
}
