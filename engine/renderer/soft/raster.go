package soft

import (
	stdmath "math"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const maxVaryings = 12

// ClipVertex is a vertex shader output: a clip space position plus interpolated values.
type ClipVertex struct {
	Position math.Vec4
	Varyings [maxVaryings]float32
}

// PixelFunc shades one pixel. Returning false discards it.
type PixelFunc func(varyings *[maxVaryings]float32, frontFacing bool) ([4]float32, bool)

type screenVertex struct {
	x, y, z  float32
	invW     float32
	varyings [maxVaryings]float32 // divided by w
}

func lerpClip(a, b ClipVertex, t float32) ClipVertex {
	var out ClipVertex
	out.Position = math.Vec4{
		X: a.Position.X + (b.Position.X-a.Position.X)*t,
		Y: a.Position.Y + (b.Position.Y-a.Position.Y)*t,
		Z: a.Position.Z + (b.Position.Z-a.Position.Z)*t,
		W: a.Position.W + (b.Position.W-a.Position.W)*t,
	}
	for i := range out.Varyings {
		out.Varyings[i] = a.Varyings[i] + (b.Varyings[i]-a.Varyings[i])*t
	}
	return out
}

// clipPolygon keeps the part of poly where dist >= 0.
func clipPolygon(poly []ClipVertex, dist func(v math.Vec4) float32) []ClipVertex {
	if len(poly) == 0 {
		return poly
	}
	out := make([]ClipVertex, 0, len(poly)+2)
	prev := poly[len(poly)-1]
	prevD := dist(prev.Position)
	for _, cur := range poly {
		curD := dist(cur.Position)
		if curD >= 0 {
			if prevD < 0 {
				out = append(out, lerpClip(prev, cur, prevD/(prevD-curD)))
			}
			out = append(out, cur)
		} else if prevD >= 0 {
			out = append(out, lerpClip(prev, cur, prevD/(prevD-curD)))
		}
		prev, prevD = cur, curD
	}
	return out
}

// DrawTriangle clips, culls and rasterizes one triangle into the bound
// targets. A nil ps only touches depth.
func (c *DrawContext) DrawTriangle(tri [3]ClipVertex, ps PixelFunc) {
	poly := tri[:]
	poly = clipPolygon(poly, func(v math.Vec4) float32 { return v.W - 1e-6 })
	poly = clipPolygon(poly, func(v math.Vec4) float32 { return v.Z })
	if c.pso.raster.DepthClipEnable {
		poly = clipPolygon(poly, func(v math.Vec4) float32 { return v.W - v.Z })
	}
	if len(poly) < 3 {
		return
	}
	verts := make([]screenVertex, len(poly))
	for i, v := range poly {
		verts[i] = c.toScreen(v)
	}
	for i := 1; i+1 < len(verts); i++ {
		c.rasterize(verts[0], verts[i], verts[i+1], ps)
	}
}

func (c *DrawContext) toScreen(v ClipVertex) screenVertex {
	vp := c.viewport
	invW := 1 / v.Position.W
	nx, ny, nz := v.Position.X*invW, v.Position.Y*invW, v.Position.Z*invW
	sv := screenVertex{
		x:    (nx*0.5+0.5)*vp.Width + vp.TopLeftX,
		y:    (0.5-ny*0.5)*vp.Height + vp.TopLeftY,
		z:    vp.MinDepth + nz*(vp.MaxDepth-vp.MinDepth),
		invW: invW,
	}
	for i := range v.Varyings {
		sv.varyings[i] = v.Varyings[i] * invW
	}
	return sv
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// isTopLeft assumes clockwise winding in y-down screen space.
func isTopLeft(a, b screenVertex) bool {
	dx, dy := b.x-a.x, b.y-a.y
	return (dy == 0 && dx > 0) || dy < 0
}

func (c *DrawContext) rasterize(a, b, v2 screenVertex, ps PixelFunc) {
	area := edge(a.x, a.y, b.x, b.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	clockwise := area > 0
	front := clockwise != c.pso.raster.FrontCounterClockwise
	switch c.pso.raster.CullMode {
	case gpu.CullBack:
		if !front {
			return
		}
	case gpu.CullFront:
		if front {
			return
		}
	}
	if !clockwise {
		b, v2 = v2, b
		area = -area
	}

	minX := maxInt(c.minX, int(math32.Floor(min3(a.x, b.x, v2.x))))
	minY := maxInt(c.minY, int(math32.Floor(min3(a.y, b.y, v2.y))))
	maxX := minInt(c.maxX-1, int(math32.Ceil(max3(a.x, b.x, v2.x))))
	maxY := minInt(c.maxY-1, int(math32.Ceil(max3(a.y, b.y, v2.y))))
	if minX > maxX || minY > maxY {
		return
	}

	bias := c.depthBias(a, b, v2, area)
	tl0, tl1, tl2 := isTopLeft(b, v2), isTopLeft(v2, a), isTopLeft(a, b)

	for y := minY; y <= maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float32(x) + 0.5
			w0 := edge(b.x, b.y, v2.x, v2.y, px, py)
			w1 := edge(v2.x, v2.y, a.x, a.y, px, py)
			w2 := edge(a.x, a.y, b.x, b.y, px, py)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			if (w0 == 0 && !tl0) || (w1 == 0 && !tl1) || (w2 == 0 && !tl2) {
				continue
			}
			l0, l1, l2 := w0/area, w1/area, w2/area
			z := l0*a.z + l1*b.z + l2*v2.z + bias
			z = math.Clamp(z, c.viewport.MinDepth, c.viewport.MaxDepth)
			c.shade(x, y, z, l0, l1, l2, &a, &b, &v2, front, ps)
		}
	}
}

func (c *DrawContext) depthBias(a, b, v2 screenVertex, area float32) float32 {
	r := c.pso.raster
	if r.DepthBias == 0 && r.SlopeScaledDepthBias == 0 {
		return 0
	}
	dzdx := ((b.z-a.z)*(v2.y-a.y) - (v2.z-a.z)*(b.y-a.y)) / area
	dzdy := ((v2.z-a.z)*(b.x-a.x) - (b.z-a.z)*(v2.x-a.x)) / area
	slope := math32.Max(math32.Abs(dzdx), math32.Abs(dzdy))
	maxZ := max3(a.z, b.z, v2.z)
	var unit float32
	if maxZ > 0 {
		_, exp := stdmath.Frexp(float64(maxZ))
		unit = float32(stdmath.Ldexp(1, exp-1-23))
	}
	bias := float32(r.DepthBias)*unit + r.SlopeScaledDepthBias*slope
	if r.DepthBiasClamp > 0 {
		bias = math32.Min(bias, r.DepthBiasClamp)
	} else if r.DepthBiasClamp < 0 {
		bias = math32.Max(bias, r.DepthBiasClamp)
	}
	return bias
}

func (c *DrawContext) shade(x, y int, z, l0, l1, l2 float32, a, b, v2 *screenVertex, front bool, ps PixelFunc) {
	ds := c.pso.depth
	if ds.DepthEnable && c.depth != nil {
		stored := c.depth.Texel(uint32(x), uint32(y), 0, 0)[0]
		if !compare(ds.DepthFunc, z, stored) {
			return
		}
	}

	var color [4]float32
	if ps != nil {
		invW := l0*a.invW + l1*b.invW + l2*v2.invW
		var vary [maxVaryings]float32
		for i := range vary {
			vary[i] = (l0*a.varyings[i] + l1*b.varyings[i] + l2*v2.varyings[i]) / invW
		}
		var keep bool
		color, keep = ps(&vary, front)
		if !keep {
			return
		}
	}

	if ds.DepthEnable && ds.DepthWrite && c.depth != nil {
		for s := uint32(0); s < c.samples; s++ {
			c.depth.SetTexel(uint32(x), uint32(y), 0, s, [4]float32{z, 0, 0, 1})
		}
	}
	if ps == nil || c.pso.blend.DisableColorWrite {
		return
	}
	for _, t := range c.targets {
		for s := uint32(0); s < c.samples; s++ {
			dst := t.res.Texel(uint32(x), uint32(y), 0, s)
			t.res.SetTexel(uint32(x), uint32(y), 0, s, storeTexel(t.format, blend(c.pso.blend.Mode, color, dst)))
		}
	}
}

func blend(mode gpu.BlendMode, src, dst [4]float32) [4]float32 {
	switch mode {
	case gpu.BlendAlpha:
		a := src[3]
		return [4]float32{
			src[0]*a + dst[0]*(1-a),
			src[1]*a + dst[1]*(1-a),
			src[2]*a + dst[2]*(1-a),
			a + dst[3]*(1-a),
		}
	case gpu.BlendAdditive:
		return [4]float32{src[0] + dst[0], src[1] + dst[1], src[2] + dst[2], src[3] + dst[3]}
	case gpu.BlendPremultiplied:
		a := src[3]
		return [4]float32{
			src[0] + dst[0]*(1-a),
			src[1] + dst[1]*(1-a),
			src[2] + dst[2]*(1-a),
			a + dst[3]*(1-a),
		}
	}
	return src
}

func min3(a, b, c float32) float32 { return math32.Min(a, math32.Min(b, c)) }

func max3(a, b, c float32) float32 { return math32.Max(a, math32.Max(b, c)) }
