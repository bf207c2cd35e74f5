package soft

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

func init() {
	registerVertex(shaderdata.PropVS, propLit)
	registerVertex(shaderdata.PropShadowVS, propDepth)
	registerPixel(shaderdata.PropPS)
}

// triangles runs vs over every triangle of a triangle list draw.
func triangles(ctx *DrawContext, vs func(v math.Vertex3D) ClipVertex, ps PixelFunc) error {
	for inst := uint32(0); inst < ctx.InstanceCount(); inst++ {
		for i := uint32(0); i+2 < ctx.VertexCount(); i += 3 {
			var tri [3]ClipVertex
			for k := uint32(0); k < 3; k++ {
				idx, err := ctx.VertexIndex(i + k)
				if err != nil {
					return err
				}
				b, err := ctx.Vertex(0, idx)
				if err != nil {
					return err
				}
				tri[k] = vs(shaderdata.ReadVertex3D(b))
			}
			ctx.DrawTriangle(tri, ps)
		}
	}
	return nil
}

// propLit: b0 PropConstants, t0 shadow map, s0 comparison sampler.
func propLit(ctx *DrawContext) error {
	var c shaderdata.PropConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	shadow, err := ctx.SRVTexture(0)
	if err != nil {
		return err
	}
	cmp, err := ctx.Sampler(0)
	if err != nil {
		return err
	}
	toLight := c.Light.Direction.Negate().Normalized()

	vs := func(v math.Vertex3D) ClipVertex {
		var out ClipVertex
		out.Position = v.Position.ToVec4(1).Transform(c.WorldViewProj)
		n := v.Normal.TransformNormal(c.World)
		world := v.Position.Transform(c.World)
		s := world.ToVec4(1).Transform(c.ShadowTransform)
		copy(out.Varyings[:], []float32{n.X, n.Y, n.Z, s.X, s.Y, s.Z, world.X, world.Y, world.Z})
		return out
	}
	ps := func(v *[maxVaryings]float32, _ bool) ([4]float32, bool) {
		n := math.NewVec3(v[0], v[1], v[2]).Normalized()
		lit := shadow.SampleCmp(cmp, v[3], v[4], v[5])
		diffuse := math32.Max(n.Dot(toLight), 0) * c.Light.Strength * lit

		view := c.CameraPosition.Sub(math.NewVec3(v[6], v[7], v[8])).Normalized()
		half := view.Add(toLight).Normalized()
		specular := math32.Pow(math32.Max(n.Dot(half), 0), 32) * c.Light.Strength * lit * 0.25

		light := c.Light.Color.MulScalar(diffuse + specular)
		col := math.NewVec3(c.Color.X, c.Color.Y, c.Color.Z)
		out := col.Mul(light).Add(col.MulScalar(c.Ambient))
		return [4]float32{out.X, out.Y, out.Z, c.Color.W}, true
	}
	return triangles(ctx, vs, ps)
}

// propDepth: b0 PropShadowConstants. Depth only.
func propDepth(ctx *DrawContext) error {
	var c shaderdata.PropShadowConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	vs := func(v math.Vertex3D) ClipVertex {
		return ClipVertex{Position: v.Position.ToVec4(1).Transform(c.WorldViewProj)}
	}
	var ps PixelFunc
	if ctx.PixelShader() != "" {
		ps = func(*[maxVaryings]float32, bool) ([4]float32, bool) { return [4]float32{}, true }
	}
	return triangles(ctx, vs, ps)
}

