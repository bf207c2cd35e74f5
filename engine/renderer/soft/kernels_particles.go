package soft

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

func init() {
	registerCompute(shaderdata.ParticleSimulateCS, particleSimulate)
	registerCompute(shaderdata.ParticleSortKeysCS, particleSortKeys)
	registerMesh(shaderdata.ParticleDrawMS, particleDraw)
	registerMesh(shaderdata.ParticleShadowMS, particleShadow)
	registerPixel(shaderdata.ParticleDrawPS, shaderdata.ParticleShadowPS)
}

func particleCount(groups uint32, groupSize uint32, count uint32, available int, stride int) int {
	n := int(groups * groupSize)
	if int(count) < n {
		n = int(count)
	}
	if available/stride < n {
		n = available / stride
	}
	return n
}

// particleSimulate: b0 SimulateConstants, u0 particles.
func particleSimulate(ctx *ComputeContext, x, _, _ uint32) error {
	var c shaderdata.SimulateConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	buf, err := ctx.UAVBuffer(0)
	if err != nil {
		return err
	}
	n := particleCount(x, shaderdata.SimulateGroupCS, c.ParticleCount, len(buf), shaderdata.ParticleStride)
	ray := math.NewRay(c.RayOrigin, c.RayDirection)
	ctx.ParallelFor(n, func(i int) {
		b := buf[i*shaderdata.ParticleStride:]
		p := shaderdata.ReadParticle(b)

		if c.DidShoot != 0 && ray.DistanceToPoint(p.Position) < c.ShootRadius {
			toParticle := p.Position.Sub(c.RayOrigin)
			along := ray.Direction.MulScalar(toParticle.Dot(ray.Direction))
			away := toParticle.Sub(along)
			if away.LengthSquared() > 1e-8 {
				away = away.Normalized()
			}
			p.Velocity = p.Velocity.Add(ray.Direction.Add(away).MulScalar(c.ShootStrength))
		}

		toTarget := c.Target.Sub(p.Position)
		if d := toTarget.Length(); d > 1e-4 {
			p.Velocity = p.Velocity.Add(toTarget.MulScalar(c.Attraction * c.DeltaTime / d))
		}
		damping := math.Clamp(1-c.Damping*c.DeltaTime, 0, 1)
		p.Velocity = p.Velocity.MulScalar(damping)
		p.Position = p.Position.Add(p.Velocity.MulScalar(c.DeltaTime))
		p.Age += c.DeltaTime
		p.Put(b)
	})
	return nil
}

// particleSortKeys: b0 SortKeyConstants, t0 particles, u0 keys, u1 indices.
// Keys order particles from the farthest to the nearest.
func particleSortKeys(ctx *ComputeContext, x, _, _ uint32) error {
	var c shaderdata.SortKeyConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	particles, err := ctx.SRVBuffer(0)
	if err != nil {
		return err
	}
	keys, err := ctx.UAVBuffer(0)
	if err != nil {
		return err
	}
	values, err := ctx.UAVBuffer(1)
	if err != nil {
		return err
	}
	n := particleCount(x, shaderdata.RadixGroupCS, c.ParticleCount, len(particles), shaderdata.ParticleStride)
	if len(keys) < n*4 || len(values) < n*4 {
		return fmt.Errorf("sort key buffers hold fewer than %d entries", n)
	}
	ctx.ParallelFor(n, func(i int) {
		p := shaderdata.ReadParticle(particles[i*shaderdata.ParticleStride:])
		viewZ := p.Position.Transform(c.View).Z
		shaderdata.PutU32(keys[i*4:], shaderdata.OrderedFloatBits(viewZ))
		shaderdata.PutU32(values[i*4:], uint32(i))
	})
	return nil
}

// billboard emits the two triangles of a camera facing quad.
func billboard(center, right, up math.Vec3, radius float32, viewProj math.Mat4, extra func(corner math.Vec3, v *ClipVertex)) [2][3]ClipVertex {
	r := right.MulScalar(radius)
	u := up.MulScalar(radius)
	corners := [4]math.Vec3{
		center.Sub(r).Add(u),
		center.Add(r).Add(u),
		center.Add(r).Sub(u),
		center.Sub(r).Sub(u),
	}
	uvs := [4][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	var verts [4]ClipVertex
	for i, c := range corners {
		verts[i].Position = c.ToVec4(1).Transform(viewProj)
		verts[i].Varyings[0] = uvs[i][0]
		verts[i].Varyings[1] = uvs[i][1]
		if extra != nil {
			extra(c, &verts[i])
		}
	}
	return [2][3]ClipVertex{{verts[0], verts[1], verts[2]}, {verts[0], verts[2], verts[3]}}
}

// falloff is 1 at the centre of a billboard and 0 at its inscribed circle.
func falloff(u, v float32) float32 {
	dx, dy := u*2-1, v*2-1
	d := 1 - (dx*dx + dy*dy)
	if d <= 0 {
		return 0
	}
	return d * d
}

// particleDraw: b0 ParticleDrawConstants, t0 particles, t1 sorted indices,
// t2 volumetric shadow map, s0 linear clamp sampler.
func particleDraw(ctx *DrawContext) error {
	var c shaderdata.ParticleDrawConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	particles, err := ctx.SRVBuffer(0)
	if err != nil {
		return err
	}
	order, err := ctx.SRVBuffer(1)
	if err != nil {
		return err
	}
	shadow, err := ctx.SRVTexture(2)
	if err != nil {
		return err
	}
	sampler, err := ctx.Sampler(0)
	if err != nil {
		return err
	}
	n := particleCount(ctx.Groups()[0], shaderdata.ParticleGroupMS, c.ParticleCount, len(particles), shaderdata.ParticleStride)
	if len(order)/4 < n {
		n = len(order) / 4
	}
	slices := float32(shadow.Depth)

	ps := func(v *[maxVaryings]float32, _ bool) ([4]float32, bool) {
		alpha := falloff(v[0], v[1]) * c.Density
		if alpha <= 0 {
			return [4]float32{}, false
		}
		w := (math.Clamp(v[4], 0, 1)*(slices-1) + 0.5) / slices
		density := shadow.Sample3D(sampler, v[2], v[3], w)[0]
		transmittance := math32.Exp(-density * c.ShadowStrength)
		col := c.LightColor.MulScalar(transmittance).Add(c.AmbientColor)
		return [4]float32{col.X, col.Y, col.Z, math.Clamp(alpha, 0, 1)}, true
	}

	for i := 0; i < n; i++ {
		idx := shaderdata.ReadU32(order[i*4:])
		if int(idx)*shaderdata.ParticleStride >= len(particles) {
			continue
		}
		p := shaderdata.ReadParticle(particles[int(idx)*shaderdata.ParticleStride:])
		radius := c.ParticleRadius * math32.Max(p.Size, 0)
		quads := billboard(p.Position, c.CameraRight, c.CameraUp, radius, c.ViewProj, func(corner math.Vec3, v *ClipVertex) {
			s := corner.ToVec4(1).Transform(c.ShadowTransform)
			v.Varyings[2], v.Varyings[3], v.Varyings[4] = s.X, s.Y, s.Z
		})
		for _, tri := range quads {
			ctx.DrawTriangle(tri, ps)
		}
	}
	return nil
}

// particleShadow: b0 ParticleShadowConstants, t0 particles. Draws the
// density of the particles whose centre lies inside the slab planes.
func particleShadow(ctx *DrawContext) error {
	var c shaderdata.ParticleShadowConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	particles, err := ctx.SRVBuffer(0)
	if err != nil {
		return err
	}
	n := particleCount(ctx.Groups()[0], shaderdata.ParticleGroupMS, c.ParticleCount, len(particles), shaderdata.ParticleStride)

	ps := func(v *[maxVaryings]float32, _ bool) ([4]float32, bool) {
		d := falloff(v[0], v[1]) * c.Density
		if d <= 0 {
			return [4]float32{}, false
		}
		return [4]float32{d, 0, 0, 1}, true
	}

	for i := 0; i < n; i++ {
		p := shaderdata.ReadParticle(particles[i*shaderdata.ParticleStride:])
		inside := true
		for _, pl := range c.Planes {
			if pl.Dot(p.Position.ToVec4(1)) < 0 {
				inside = false
				break
			}
		}
		if !inside {
			continue
		}
		radius := c.ParticleRadius * math32.Max(p.Size, 0)
		for _, tri := range billboard(p.Position, c.LightRight, c.LightUp, radius, c.ViewProj, nil) {
			ctx.DrawTriangle(tri, ps)
		}
	}
	return nil
}
