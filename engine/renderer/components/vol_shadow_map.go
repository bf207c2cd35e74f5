package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/systems"
)

const (
	DefaultVolShadowWidth uint32 = 256
	VolShadowDepth        uint32 = 5
)

// SliceDrawer draws everything that casts volumetric shadow inside one slab of the light volume.
type SliceDrawer interface {
	DrawSlice(cl gpu.CommandList, view, proj math.Mat4, bounds math.OBB, nearPlane float32) error
}

/**
 * @brief A light space density volume. Each depth slice is rendered into
 * a 2D target that is never cleared between slices, so the density
 * accumulates from the light towards the far end, and is then copied into
 * the matching z slice of the 3D texture. Slice 0 stays empty.
 */
type VolShadowMap struct {
	systems *systems.SystemManager

	width    uint32
	viewport gpu.Viewport
	volume   barrier.Resource
	slice    barrier.Resource
	rtv      memory.DescriptorView
	srv      memory.DescriptorView

	sceneCentre   math.Vec3
	sceneRadius   float32
	lightPosition math.Vec3
	view          math.Mat4
	viewInverse   math.Mat4
	projection    math.Mat4
}

func NewVolShadowMap(sm *systems.SystemManager, lightDirection math.Vec3, sceneRadius float32, sceneCentre math.Vec3, width uint32) (*VolShadowMap, error) {
	if width == 0 {
		width = DefaultVolShadowWidth
	}
	v := &VolShadowMap{
		systems:     sm,
		width:       width,
		viewport:    gpu.Viewport{Width: float32(width), Height: float32(width), MaxDepth: 1},
		sceneCentre: sceneCentre,
		sceneRadius: sceneRadius,
		projection: math.NewMat4OrthographicOffCenter(
			-sceneRadius, sceneRadius,
			-sceneRadius, sceneRadius,
			0, 2*sceneRadius),
	}
	v.SetLightDirection(lightDirection)

	device := sm.Device()
	clear := &gpu.ClearValue{Format: gpu.FormatR32Float}
	err := v.volume.Create(device, gpu.HeapDefault,
		gpu.Tex3DDesc(gpu.FormatR32Float, uint64(width), width, VolShadowDepth, gpu.ResourceFlagAllowRenderTarget),
		gpu.StateRenderTarget, clear)
	if err != nil {
		return nil, fmt.Errorf("failed to create volumetric shadow map: %w", err)
	}
	v.volume.SetName("Volumetric Shadow Map")

	err = v.slice.Create(device, gpu.HeapDefault,
		gpu.Tex2DDesc(gpu.FormatR32Float, uint64(width), width, 1, gpu.ResourceFlagAllowRenderTarget),
		gpu.StateRenderTarget, clear)
	if err != nil {
		v.Release()
		return nil, fmt.Errorf("failed to create volumetric shadow slice: %w", err)
	}
	v.slice.SetName("Volumetric Shadow Slice")

	gm := sm.Memory()
	if v.rtv, err = gm.CreateRTVWithDesc(v.slice.Get(), gpu.RTVDesc{Format: gpu.FormatR32Float, Dimension: gpu.RTVDimensionTexture2D}); err != nil {
		v.Release()
		return nil, err
	}
	if v.srv, err = gm.CreateSRVWithDesc(v.volume.Get(), gpu.SRVDesc{Format: gpu.FormatR32Float, Dimension: gpu.SRVDimensionTexture3D, MipLevels: 1}); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

// SetLightDirection places the light r away from the scene centre so the volume spans 0..2r along the light.
func (v *VolShadowMap) SetLightDirection(direction math.Vec3) {
	d := direction.Normalized()
	v.lightPosition = v.sceneCentre.Sub(d.MulScalar(v.sceneRadius))
	v.view = math.NewMat4LookAt(v.lightPosition, v.sceneCentre, math.NewVec3UnitY())
	v.viewInverse = v.view.Inverse()
}

func (v *VolShadowMap) View() math.Mat4 { return v.view }

func (v *VolShadowMap) Projection() math.Mat4 { return v.projection }

func (v *VolShadowMap) Width() uint32 { return v.width }

func (v *VolShadowMap) sliceThickness() float32 {
	return 2 * v.sceneRadius / float32(VolShadowDepth-1)
}

// SlicePlanes returns the light space near and far distance of a depth slice.
func (v *VolShadowMap) SlicePlanes(depthSlice uint32) (near, far float32) {
	t := v.sliceThickness()
	return (float32(depthSlice) - 1) * t, float32(depthSlice) * t
}

// BoundingBox is the world space box that runs from the light to the far edge of depthSlice.
func (v *VolShadowMap) BoundingBox(depthSlice uint32) math.OBB {
	near, far := v.SlicePlanes(depthSlice)
	r := v.sceneRadius
	lightSpace := math.NewAABBFromPoints(
		math.NewVec3(-r, 0, 0),
		math.NewVec3(r, 0, 0),
		math.NewVec3(0, r, 0),
		math.NewVec3(0, -r, 0),
		math.NewVec3(0, 0, -near),
		math.NewVec3(0, 0, -far),
	)
	return math.NewOBBFromAABB(lightSpace).Transform(v.viewInverse)
}

/**
 * @brief Renders every slice through drawer and copies it into the
 * volume. The volume is left in CopyDest; call TransitionAndGetSRV
 * before sampling it.
 */
func (v *VolShadowMap) Render(cl gpu.CommandList, drawer SliceDrawer) error {
	rtv, err := v.systems.Memory().CPUHandle(v.rtv)
	if err != nil {
		return err
	}
	cl.SetViewports(v.viewport)
	if err := v.volume.Transition(cl, gpu.StateCopyDest); err != nil {
		return err
	}
	if err := v.slice.Transition(cl, gpu.StateRenderTarget); err != nil {
		return err
	}
	cl.ClearRenderTargetView(rtv, [4]float32{0, 0, 0, 0})

	dst := gpu.TextureCopyLocation{Resource: v.volume.Get(), Subresource: gpu.CalcSubresource(0, 0, 0, 1, 1)}
	src := gpu.TextureCopyLocation{Resource: v.slice.Get()}
	box := &gpu.Box{Right: v.width, Bottom: v.width, Back: 1}

	for depthSlice := uint32(0); depthSlice < VolShadowDepth; depthSlice++ {
		if err := v.slice.Transition(cl, gpu.StateRenderTarget); err != nil {
			return err
		}
		cl.SetRenderTargets([]gpu.CPUDescriptorHandle{rtv}, nil)

		if depthSlice > 0 {
			near, _ := v.SlicePlanes(depthSlice)
			if err := drawer.DrawSlice(cl, v.view, v.projection, v.BoundingBox(depthSlice), near); err != nil {
				return fmt.Errorf("failed to draw volumetric shadow slice %d: %w", depthSlice, err)
			}
		}

		if err := v.slice.Transition(cl, gpu.StateCopySource); err != nil {
			return err
		}
		cl.CopyTextureRegion(dst, 0, 0, depthSlice, src, box)
	}
	return nil
}

func (v *VolShadowMap) TransitionAndGetSRV(cl gpu.CommandList) (memory.DescriptorView, error) {
	if err := v.volume.Transition(cl, gpu.StateAllShaderResource); err != nil {
		return memory.DescriptorView{}, err
	}
	return v.srv, nil
}

func (v *VolShadowMap) ShadowTransform() math.Mat4 {
	return v.view.Mul(v.projection).Mul(clipToTexture)
}

func (v *VolShadowMap) Release() {
	gm := v.systems.Memory()
	if v.rtv.IsValid() {
		_ = gm.Release(v.rtv)
	}
	if v.srv.IsValid() {
		_ = gm.Release(v.srv)
	}
	v.rtv, v.srv = memory.DescriptorView{}, memory.DescriptorView{}
	v.slice.Reset()
	v.volume.Reset()
}
