package components

import (
	"fmt"
	"math/rand/v2"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

const (
	DefaultParticleCount uint32 = 4096
	// ShootRadius is how close to the shoot ray a particle must be to get pushed.
	ShootRadius float32 = 1.5
)

type ParticlesConfig struct {
	Count  uint32
	Seed   uint64
	Radius float32
	Centre math.Vec3
}

func DefaultParticlesConfig() ParticlesConfig {
	return ParticlesConfig{
		Count:  DefaultParticleCount,
		Seed:   1,
		Radius: 2,
	}
}

/**
 * @brief The particle cloud. Particles live in a structured buffer that a
 * compute pass advances every frame. A second pass writes one depth key
 * and one index per particle, the parallel sort orders them back to front
 * and the draw reads particles through the sorted indices. Particles also
 * splat their density into the volumetric shadow map through DrawSlice.
 */
type Particles struct {
	systems *systems.SystemManager
	config  ParticlesConfig

	particles containers.Handle
	keys      containers.Handle
	payload   containers.Handle
	sorter    *ParallelSort

	simulateSignature *pipeline.RootSignature
	simulate          *pipeline.PipelineState
	sortKeys          *pipeline.PipelineState
	sortKeysSignature *pipeline.RootSignature
	drawSignature     *pipeline.RootSignature
	draw              *pipeline.PipelineState
	shadowSignature   *pipeline.RootSignature
	shadow            *pipeline.PipelineState

	// Simulation and shading parameters, read every frame.
	Attraction     float32
	Damping        float32
	ShootStrength  float32
	ParticleRadius float32
	Density        float32
	ShadowDensity  float32
	ShadowStrength float32
	Light          DirectionalLight
	Ambient        math.Vec3
}

func NewParticles(sm *systems.SystemManager, config ParticlesConfig) (*Particles, error) {
	if config.Count == 0 {
		config.Count = DefaultParticleCount
	}
	if config.Radius <= 0 {
		config.Radius = DefaultParticlesConfig().Radius
	}
	p := &Particles{
		systems:        sm,
		config:         config,
		particles:      containers.InvalidHandle,
		keys:           containers.InvalidHandle,
		payload:        containers.InvalidHandle,
		Attraction:     2,
		Damping:        0.5,
		ShootStrength:  4,
		ParticleRadius: 0.1,
		Density:        0.4,
		ShadowDensity:  0.2,
		ShadowStrength: 1,
		Light: DirectionalLight{
			Color:     math.NewVec3(1, 1, 1),
			Strength:  1,
			Direction: math.NewVec3(0, -1, 0),
		},
		Ambient: math.NewVec3(0.05, 0.05, 0.08),
	}
	if err := p.create(); err != nil {
		p.Release()
		return nil, fmt.Errorf("failed to create %d particles: %w", config.Count, err)
	}
	core.LogInfo("particles: %d seeded with %d", config.Count, config.Seed)
	return p, nil
}

// SeedParticles fills n particles inside a sphere. The same seed always gives the same particles.
func SeedParticles(seed uint64, n uint32, centre math.Vec3, radius float32) []shaderdata.Particle {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]shaderdata.Particle, n)
	for i := range out {
		var pos math.Vec3
		for {
			pos = math.NewVec3(rng.Float32()*2-1, rng.Float32()*2-1, rng.Float32()*2-1)
			if pos.LengthSquared() <= 1 {
				break
			}
		}
		out[i] = shaderdata.Particle{
			Position: centre.Add(pos.MulScalar(radius)),
			Age:      rng.Float32() * 10,
			Size:     0.5 + rng.Float32()*0.5,
		}
	}
	return out
}

func (p *Particles) create() error {
	bm := p.systems.Buffers()
	flags := gpu.ResourceFlagAllowUnorderedAccess
	var err error

	data := SeedParticles(p.config.Seed, p.config.Count, p.config.Centre, p.config.Radius)
	if p.particles, err = systems.CreateInstanceBuffer(bm, "particles", data, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if p.keys, err = bm.CreateBuffer("particle sort keys", 4, p.config.Count, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if p.payload, err = bm.CreateBuffer("particle sort payload", 4, p.config.Count, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if p.sorter, err = NewParallelSort(p.systems, p.config.Count); err != nil {
		return err
	}

	shaders, err := loadShaders(p.systems,
		shaderdata.ParticleSimulateCS, shaderdata.ParticleSortKeysCS,
		shaderdata.ParticleDrawMS, shaderdata.ParticleDrawPS,
		shaderdata.ParticleShadowMS, shaderdata.ParticleShadowPS)
	if err != nil {
		return err
	}
	device := p.systems.Device()

	// simulate: b0, u0
	p.simulateSignature = pipeline.NewRootSignature(p.systems)
	if err := declare(p.simulateSignature.AddCBV(0, 0), p.simulateSignature.AddRootUAV(0, 0)); err != nil {
		return err
	}
	if err := p.simulateSignature.Build(device, true); err != nil {
		return err
	}
	p.simulate = pipeline.NewComputePipelineState(gpu.ComputePipelineDesc{RootSignature: p.simulateSignature.Get(), CS: shaders[0]})
	if err := p.simulate.Build(device); err != nil {
		return err
	}

	// sort keys: b0, t0, u0, u1
	p.sortKeysSignature = pipeline.NewRootSignature(p.systems)
	err = declare(
		p.sortKeysSignature.AddCBV(0, 0),
		p.sortKeysSignature.AddRootSRV(0, 0),
		p.sortKeysSignature.AddRootUAV(0, 0),
		p.sortKeysSignature.AddRootUAV(1, 0),
	)
	if err != nil {
		return err
	}
	if err := p.sortKeysSignature.Build(device, true); err != nil {
		return err
	}
	p.sortKeys = pipeline.NewComputePipelineState(gpu.ComputePipelineDesc{RootSignature: p.sortKeysSignature.Get(), CS: shaders[1]})
	if err := p.sortKeys.Build(device); err != nil {
		return err
	}

	// draw: b0, t0 particles, t1 sorted indices, t2 volume, s0
	p.drawSignature = pipeline.NewRootSignature(p.systems)
	err = declare(
		p.drawSignature.AddCBV(0, 0),
		p.drawSignature.AddRootSRV(0, 0),
		p.drawSignature.AddRootSRV(1, 0),
		p.drawSignature.AddSRV(2, 0),
		p.drawSignature.AddStaticSampler(gpu.StaticSampler{
			Filter:   gpu.FilterLinear,
			AddressU: gpu.AddressClamp,
			AddressV: gpu.AddressClamp,
			AddressW: gpu.AddressClamp,
		}, 0, 0),
	)
	if err != nil {
		return err
	}
	if err := p.drawSignature.Build(device, false); err != nil {
		return err
	}
	drawDesc := pipeline.DepthWriteDisableMeshDesc()
	drawDesc.RootSignature = p.drawSignature.Get()
	drawDesc.MS = shaders[2]
	drawDesc.PS = shaders[3]
	drawDesc.Blend = gpu.BlendDesc{Mode: gpu.BlendAlpha}
	drawDesc.Rasterizer = gpu.RasterizerCullNone()
	p.draw = pipeline.NewMeshPipelineState(drawDesc)
	if err := p.draw.Build(device); err != nil {
		return err
	}

	// shadow: b0, t0
	p.shadowSignature = pipeline.NewRootSignature(p.systems)
	if err := declare(p.shadowSignature.AddCBV(0, 0), p.shadowSignature.AddRootSRV(0, 0)); err != nil {
		return err
	}
	if err := p.shadowSignature.Build(device, false); err != nil {
		return err
	}
	p.shadow = pipeline.NewMeshPipelineState(gpu.MeshPipelineDesc{
		RootSignature: p.shadowSignature.Get(),
		MS:            shaders[4],
		PS:            shaders[5],
		Topology:      gpu.TopologyTypeTriangle,
		Blend:         gpu.BlendDesc{Mode: gpu.BlendAdditive},
		DepthStencil:  gpu.DepthNone(),
		Rasterizer:    gpu.RasterizerCullNone(),
		RTVFormats:    []gpu.Format{gpu.FormatR32Float},
		SampleDesc:    gpu.SampleDesc{Count: 1},
	})
	return p.shadow.Build(device)
}

// declare returns the first error of a run of root parameter declarations.
func declare(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Particles) Count() uint32 { return p.config.Count }

func (p *Particles) Seed() uint64 { return p.config.Seed }

func (p *Particles) ParticleBuffer() containers.Handle { return p.particles }

func (p *Particles) Keys() containers.Handle { return p.keys }

func (p *Particles) Payload() containers.Handle { return p.payload }

func (p *Particles) transition(cl gpu.CommandList, h containers.Handle, state gpu.ResourceState) error {
	e, ok := p.systems.Buffers().GetInstanceBuffer(h)
	if !ok {
		return fmt.Errorf("particle buffer %v: %w", h, core.ErrInvalidHandle)
	}
	return e.Buffer.Transition(cl, state)
}

/**
 * @brief Advances every particle by dt. Particles are pulled towards
 * target and damped; when shoot is not nil the ones within ShootRadius
 * of the ray are pushed along and away from it.
 */
func (p *Particles) Simulate(cl gpu.CommandList, dt, totalTime float32, target math.Vec3, shoot *math.Ray) error {
	if err := p.transition(cl, p.particles, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	cl.BeginEvent("Simulate Particles")
	defer cl.EndEvent()

	if err := p.simulateSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.simulate.Set(cl, false); err != nil {
		return err
	}
	constants := shaderdata.SimulateConstants{
		DeltaTime:     dt,
		TotalTime:     totalTime,
		ParticleCount: p.config.Count,
		Target:        target,
		Attraction:    p.Attraction,
		Damping:       p.Damping,
		ShootStrength: p.ShootStrength,
		ShootRadius:   ShootRadius,
	}
	if shoot != nil {
		constants.DidShoot = 1
		constants.RayOrigin = shoot.Origin
		constants.RayDirection = shoot.Direction
	}
	if err := p.simulateSignature.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := p.simulateSignature.SetStructuredBufferUAV(cl, 0, 0, p.particles); err != nil {
		return err
	}
	cl.Dispatch(math.DivRoundUp(p.config.Count, shaderdata.SimulateGroupCS), 1, 1)
	e, _ := p.systems.Buffers().GetInstanceBuffer(p.particles)
	return e.Buffer.UAVBarrier(cl)
}

// WriteSortKeys writes the view depth key and the index of every particle.
func (p *Particles) WriteSortKeys(cl gpu.CommandList, view math.Mat4) error {
	if err := p.transition(cl, p.particles, gpu.StateNonPixelShaderResource); err != nil {
		return err
	}
	for _, h := range []containers.Handle{p.keys, p.payload} {
		if err := p.transition(cl, h, gpu.StateUnorderedAccess); err != nil {
			return err
		}
	}
	cl.BeginEvent("Particle Sort Keys")
	defer cl.EndEvent()

	rs := p.sortKeysSignature
	if err := rs.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.sortKeys.Set(cl, false); err != nil {
		return err
	}
	constants := shaderdata.SortKeyConstants{View: view, ParticleCount: p.config.Count}
	if err := rs.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferSRV(cl, 0, 0, p.particles); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferUAV(cl, 0, 0, p.keys); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferUAV(cl, 1, 0, p.payload); err != nil {
		return err
	}
	cl.Dispatch(math.DivRoundUp(p.config.Count, shaderdata.RadixGroupCS), 1, 1)
	return nil
}

// Sort orders the payload indices back to front by their keys.
func (p *Particles) Sort(cl gpu.CommandList) error {
	return p.sorter.Sort(cl, p.keys, p.payload, p.config.Count)
}

// DrawSlice splats the particles inside bounds into the bound volumetric shadow slice.
func (p *Particles) DrawSlice(cl gpu.CommandList, view, proj math.Mat4, bounds math.OBB, _ float32) error {
	if err := p.transition(cl, p.particles, gpu.StateAllShaderResource); err != nil {
		return err
	}
	rs := p.shadowSignature
	if err := rs.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.shadow.Set(cl, false); err != nil {
		return err
	}

	viewInverse := view.Inverse()
	constants := shaderdata.ParticleShadowConstants{
		ViewProj:       view.Mul(proj),
		LightRight:     math.NewVec3(1, 0, 0).TransformNormal(viewInverse).Normalized(),
		LightUp:        math.NewVec3(0, 1, 0).TransformNormal(viewInverse).Normalized(),
		ParticleRadius: p.ParticleRadius,
		Density:        p.ShadowDensity,
		ParticleCount:  p.config.Count,
	}
	for i, plane := range bounds.Planes() {
		constants.Planes[i] = plane.Vec4()
	}
	if err := rs.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferSRV(cl, 0, 0, p.particles); err != nil {
		return err
	}
	cl.DispatchMesh(math.DivRoundUp(p.config.Count, shaderdata.ParticleGroupMS), 1, 1)
	return nil
}

/**
 * @brief Draws the particles back to front into the bound colour and
 * depth targets, lit through the volumetric shadow map. volume must be
 * readable by pixel shaders and the descriptor heaps must be set.
 */
func (p *Particles) Draw(cl gpu.CommandList, camera *Camera, volume memory.DescriptorView, shadowTransform math.Mat4, multisampled bool) error {
	for _, h := range []containers.Handle{p.particles, p.payload} {
		if err := p.transition(cl, h, gpu.StateAllShaderResource); err != nil {
			return err
		}
	}
	cl.BeginEvent("Draw Particles")
	defer cl.EndEvent()

	rs := p.drawSignature
	if err := rs.SetOnCommandList(cl); err != nil {
		return err
	}
	if err := p.draw.Set(cl, multisampled); err != nil {
		return err
	}
	right, up, _ := camera.BasisVectors()
	constants := shaderdata.ParticleDrawConstants{
		ViewProj:        camera.ViewProjection(),
		ShadowTransform: shadowTransform,
		CameraRight:     right,
		ParticleRadius:  p.ParticleRadius,
		CameraUp:        up,
		Density:         p.Density,
		LightColor:      p.Light.Color.MulScalar(p.Light.Strength),
		ParticleCount:   p.config.Count,
		AmbientColor:    p.Ambient,
		ShadowStrength:  p.ShadowStrength,
	}
	if err := rs.SetCBV(cl, 0, 0, constants); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferSRV(cl, 0, 0, p.particles); err != nil {
		return err
	}
	if err := rs.SetStructuredBufferSRV(cl, 1, 0, p.payload); err != nil {
		return err
	}
	if err := rs.SetSRV(cl, 2, 0, volume); err != nil {
		return err
	}
	cl.DispatchMesh(math.DivRoundUp(p.config.Count, shaderdata.ParticleGroupMS), 1, 1)
	return nil
}

func (p *Particles) Release() {
	for _, ps := range []*pipeline.PipelineState{p.simulate, p.sortKeys, p.draw, p.shadow} {
		if ps != nil {
			ps.Release()
		}
	}
	for _, rs := range []*pipeline.RootSignature{p.simulateSignature, p.sortKeysSignature, p.drawSignature, p.shadowSignature} {
		if rs != nil {
			rs.Reset()
		}
	}
	if p.sorter != nil {
		p.sorter.Release()
		p.sorter = nil
	}
	bm := p.systems.Buffers()
	for _, h := range []*containers.Handle{&p.particles, &p.keys, &p.payload} {
		if h.IsValid() {
			_ = bm.RemoveInstanceBuffer(*h)
		}
		*h = containers.InvalidHandle
	}
}
