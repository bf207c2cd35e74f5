package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/systems"
)

const DefaultShadowMapSize uint32 = 1024

// clipToTexture maps clip space xy in [-1, 1] to texture coordinates in [0, 1] with y pointing down.
var clipToTexture = math.Mat4{Data: [16]float32{
	0.5, 0, 0, 0,
	0, -0.5, 0, 0,
	0, 0, 1, 0,
	0.5, 0.5, 0, 1,
}}

/**
 * @brief A directional light depth map covering a sphere of radius
 * sceneRadius around sceneCentre. The depth texture is typeless so it can
 * be written through a D32 view and sampled through an R32 view.
 */
type ShadowMap struct {
	systems *systems.SystemManager

	size        uint32
	viewport    gpu.Viewport
	depth       barrier.Resource
	dsv         memory.DescriptorView
	srv         memory.DescriptorView
	sceneCentre math.Vec3
	sceneRadius float32

	lightDirection math.Vec3
	lightPosition  math.Vec3
	view           math.Mat4
	projection     math.Mat4
}

func NewShadowMap(sm *systems.SystemManager, lightDirection math.Vec3, sceneRadius float32, sceneCentre math.Vec3, size uint32) (*ShadowMap, error) {
	if size == 0 {
		size = DefaultShadowMapSize
	}
	s := &ShadowMap{
		systems:     sm,
		size:        size,
		sceneCentre: sceneCentre,
		sceneRadius: sceneRadius,
		projection: math.NewMat4OrthographicOffCenter(
			-sceneRadius, sceneRadius,
			-sceneRadius, sceneRadius,
			sceneRadius, 10*sceneRadius),
		viewport: gpu.Viewport{Width: float32(size), Height: float32(size), MaxDepth: 1},
	}
	s.SetLightDirection(lightDirection)

	desc := gpu.Tex2DDesc(gpu.FormatR32Typeless, uint64(size), size, 1, gpu.ResourceFlagAllowDepthStencil)
	clear := &gpu.ClearValue{Format: gpu.FormatD32Float, Depth: 1}
	if err := s.depth.Create(sm.Device(), gpu.HeapDefault, desc, gpu.StateDepthWrite, clear); err != nil {
		return nil, fmt.Errorf("failed to create shadow map: %w", err)
	}
	s.depth.SetName("Shadow Map")

	var err error
	gm := sm.Memory()
	s.dsv, err = gm.CreateDSV(s.depth.Get(), &gpu.DSVDesc{Format: gpu.FormatD32Float, Dimension: gpu.DSVDimensionTexture2D})
	if err != nil {
		s.Release()
		return nil, err
	}
	s.srv, err = gm.CreateSRVWithDesc(s.depth.Get(), gpu.SRVDesc{
		Format:    gpu.FormatR32Float,
		Dimension: gpu.SRVDimensionTexture2D,
		MipLevels: 1,
	})
	if err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

// SetLightDirection places the light 2r away from the scene centre, looking at it.
func (s *ShadowMap) SetLightDirection(direction math.Vec3) {
	s.lightDirection = direction.Normalized()
	s.lightPosition = s.sceneCentre.Sub(s.lightDirection.MulScalar(2 * s.sceneRadius))
	s.view = math.NewMat4LookAt(s.lightPosition, s.sceneCentre, math.NewVec3UnitY())
}

func (s *ShadowMap) Direction() math.Vec3 { return s.lightDirection }

func (s *ShadowMap) Position() math.Vec3 { return s.lightPosition }

func (s *ShadowMap) View() math.Mat4 { return s.view }

func (s *ShadowMap) Projection() math.Mat4 { return s.projection }

// ShadowTransform maps a world space point to shadow map texture coordinates in xy and depth in z.
func (s *ShadowMap) ShadowTransform() math.Mat4 {
	return s.view.Mul(s.projection).Mul(clipToTexture)
}

// ClearAndSetDSV clears the depth to 1 and binds it as the only target.
func (s *ShadowMap) ClearAndSetDSV(cl gpu.CommandList) error {
	if err := s.depth.Transition(cl, gpu.StateDepthWrite); err != nil {
		return err
	}
	handle, err := s.systems.Memory().CPUHandle(s.dsv)
	if err != nil {
		return err
	}
	cl.ClearDepthStencilView(handle, 1)
	cl.SetRenderTargets(nil, &handle)
	cl.SetViewports(s.viewport)
	return nil
}

func (s *ShadowMap) TransitionToShaderResource(cl gpu.CommandList) error {
	return s.depth.Transition(cl, gpu.StateAllShaderResource)
}

func (s *ShadowMap) SRV() memory.DescriptorView {
	return s.srv
}

func (s *ShadowMap) Release() {
	gm := s.systems.Memory()
	if s.srv.IsValid() {
		_ = gm.Release(s.srv)
	}
	if s.dsv.IsValid() {
		_ = gm.Release(s.dsv)
	}
	s.srv, s.dsv = memory.DescriptorView{}, memory.DescriptorView{}
	s.depth.Reset()
}
