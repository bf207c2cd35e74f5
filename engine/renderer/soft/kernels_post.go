package soft

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

func init() {
	registerVertex(shaderdata.FullscreenVS, fullscreen)
	registerVertex(shaderdata.DebugTextVS, debugText)
	registerPixel(shaderdata.TonemapSDRPS, shaderdata.TonemapHDR10PS, shaderdata.DebugTextPS)
}

// fullscreen draws one triangle covering the viewport and runs the tonemap
// pixel shader: b0 TonemapConstants, t0 HDR scene, s0 point clamp sampler.
func fullscreen(ctx *DrawContext) error {
	var c shaderdata.TonemapConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	scene, err := ctx.SRVTexture(0)
	if err != nil {
		return err
	}
	sampler, err := ctx.Sampler(0)
	if err != nil {
		return err
	}
	hdr10 := ctx.PixelShader() == shaderdata.TonemapHDR10PS

	var tri [3]ClipVertex
	for id := 0; id < 3; id++ {
		u := float32((id << 1) & 2)
		v := float32(id & 2)
		tri[id].Position = math.NewVec4(u*2-1, 1-v*2, 0, 1)
		tri[id].Varyings[0], tri[id].Varyings[1] = u, v
	}
	ps := func(vary *[maxVaryings]float32, _ bool) ([4]float32, bool) {
		t := scene.Sample(sampler, vary[0], vary[1])
		col := math.NewVec3(t[0], t[1], t[2]).MulScalar(c.Exposure)
		if hdr10 {
			col = encodeHDR10(col, c.PaperWhiteNits)
		} else {
			col = encodeSDR(col)
		}
		return [4]float32{col.X, col.Y, col.Z, 1}, true
	}
	ctx.DrawTriangle(tri, ps)
	return nil
}

func encodeSDR(c math.Vec3) math.Vec3 {
	tm := func(x float32) float32 {
		x = math32.Max(x, 0)
		x = x / (1 + x)
		return math32.Pow(x, 1/2.2)
	}
	return math.NewVec3(tm(c.X), tm(c.Y), tm(c.Z))
}

// encodeHDR10 converts linear Rec.709 to Rec.2020 and applies the ST.2084 curve.
func encodeHDR10(c math.Vec3, paperWhite float32) math.Vec3 {
	r := 0.6274*c.X + 0.3293*c.Y + 0.0433*c.Z
	g := 0.0691*c.X + 0.9195*c.Y + 0.0114*c.Z
	b := 0.0164*c.X + 0.0880*c.Y + 0.8956*c.Z
	scale := paperWhite / 10000
	return math.NewVec3(pq(r*scale), pq(g*scale), pq(b*scale))
}

func pq(l float32) float32 {
	const (
		m1 = 2610.0 / 16384
		m2 = 2523.0 / 4096 * 128
		c1 = 3424.0 / 4096
		c2 = 2413.0 / 4096 * 32
		c3 = 2392.0 / 4096 * 32
	)
	l = math.Clamp(l, 0, 1)
	p := math32.Pow(l, m1)
	return math32.Pow((c1+c2*p)/(1+c3*p), m2)
}

// debugText: b0 TextConstants, t0 glyph atlas, s0 point clamp sampler.
// Vertices are TextVertex in pixels.
func debugText(ctx *DrawContext) error {
	var c shaderdata.TextConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	atlas, err := ctx.SRVTexture(0)
	if err != nil {
		return err
	}
	sampler, err := ctx.Sampler(0)
	if err != nil {
		return err
	}
	ps := func(v *[maxVaryings]float32, _ bool) ([4]float32, bool) {
		coverage := atlas.Sample(sampler, v[0], v[1])[3]
		if coverage <= 0 {
			return [4]float32{}, false
		}
		return [4]float32{c.Color.X, c.Color.Y, c.Color.Z, c.Color.W * coverage}, true
	}
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
			tv := shaderdata.ReadTextVertex(b)
			tri[k].Position = math.NewVec4(tv.Position.X/c.ScreenSize.X*2-1, 1-tv.Position.Y/c.ScreenSize.Y*2, 0, 1)
			tri[k].Varyings[0], tri[k].Varyings[1] = tv.Texcoord.X, tv.Texcoord.Y
		}
		ctx.DrawTriangle(tri, ps)
	}
	return nil
}
