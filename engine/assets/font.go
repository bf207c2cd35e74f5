package assets

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/fzipp/bmfont"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/font/basicfont"

	"github.com/spaghettifunk/ember/engine/core"
)

// Glyph is where a character sits in the atlas and how it is placed on a line, in pixels.
type Glyph struct {
	X, Y          int
	Width, Height int
	XOffset       int
	YOffset       int
	XAdvance      int
}

/**
 * @brief A single page glyph atlas. Coverage holds one byte per texel,
 * row major, Width texels per row.
 */
type FontAtlas struct {
	Face       string
	LineHeight int
	Base       int
	Width      int
	Height     int
	Coverage   []uint8
	Glyphs     map[rune]Glyph
	Kerning    map[[2]rune]int
}

// Quad is one glyph rectangle: pixel corners and normalized atlas coordinates.
type Quad struct {
	X0, Y0, X1, Y1 float32
	U0, V0, U1, V1 float32
}

/**
 * @brief Loads an AngelCode BMFont descriptor and its first page. Only
 * single page fonts are supported; glyphs on other pages are dropped.
 */
func LoadBitmapFont(path string) (*FontAtlas, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load bitmap font %s: %w", path, err)
	}
	desc := font.Descriptor

	pageFile := ""
	for _, p := range desc.Pages {
		if p.ID == 0 {
			pageFile = p.File
		}
	}
	if pageFile == "" {
		return nil, fmt.Errorf("bitmap font %s has no page 0", path)
	}
	f, err := os.Open(filepath.Join(filepath.Dir(path), pageFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	page, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode font page %s: %w", pageFile, err)
	}

	atlas := &FontAtlas{
		Face:       desc.Info.Face,
		LineHeight: int(desc.Common.LineHeight),
		Base:       int(desc.Common.Base),
		Glyphs:     make(map[rune]Glyph, len(desc.Chars)),
		Kerning:    make(map[[2]rune]int, len(desc.Kerning)),
	}
	atlas.setCoverage(page)

	for _, c := range desc.Chars {
		if int(c.Page) != 0 {
			continue
		}
		atlas.Glyphs[rune(c.ID)] = Glyph{
			X:        int(c.X),
			Y:        int(c.Y),
			Width:    int(c.Width),
			Height:   int(c.Height),
			XOffset:  int(c.XOffset),
			YOffset:  int(c.YOffset),
			XAdvance: int(c.XAdvance),
		}
	}
	for pair, k := range desc.Kerning {
		atlas.Kerning[[2]rune{rune(pair.First), rune(pair.Second)}] = int(k.Amount)
	}
	core.LogDebug("font %q: %d glyphs in a %dx%d atlas", atlas.Face, len(atlas.Glyphs), atlas.Width, atlas.Height)
	return atlas, nil
}

// setCoverage keeps min(alpha, red) of every texel so both white on
// transparent and white on black pages work.
func (a *FontAtlas) setCoverage(img image.Image) {
	b := img.Bounds()
	a.Width, a.Height = b.Dx(), b.Dy()
	a.Coverage = make([]uint8, a.Width*a.Height)
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			r, _, _, alpha := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			a.Coverage[y*a.Width+x] = uint8(min(r, alpha) >> 8)
		}
	}
}

/**
 * @brief The fixed 7x13 face from golang.org/x/image, for when no font
 * file is configured. Its masks are stacked vertically, one cell per
 * glyph.
 */
func BuiltinFont() *FontAtlas {
	face := basicfont.Face7x13
	mask := image.NewAlpha(face.Mask.Bounds())
	draw.Draw(mask, mask.Bounds(), face.Mask, face.Mask.Bounds().Min, draw.Src)

	atlas := &FontAtlas{
		Face:       "basicfont 7x13",
		LineHeight: face.Height,
		Base:       face.Ascent,
		Width:      mask.Bounds().Dx(),
		Height:     mask.Bounds().Dy(),
		Coverage:   mask.Pix,
		Glyphs:     make(map[rune]Glyph),
		Kerning:    map[[2]rune]int{},
	}
	for _, r := range face.Ranges {
		for c := r.Low; c < r.High; c++ {
			cell := r.Offset + int(c-r.Low)
			atlas.Glyphs[c] = Glyph{
				Y:        cell * face.Height,
				Width:    face.Width,
				Height:   face.Height,
				XAdvance: face.Advance,
			}
		}
	}
	return atlas
}

// RGBA expands the coverage into white R8G8B8A8 texels with coverage in alpha.
func (a *FontAtlas) RGBA() []byte {
	out := make([]byte, len(a.Coverage)*4)
	for i, c := range a.Coverage {
		out[i*4+0] = 0xff
		out[i*4+1] = 0xff
		out[i*4+2] = 0xff
		out[i*4+3] = c
	}
	return out
}

// Layout places text with its top left corner at (x, y). Unknown runes advance by a space.
func (a *FontAtlas) Layout(text string, x, y float32) []Quad {
	quads := make([]Quad, 0, len(text))
	penX := x
	var prev rune
	for i, r := range text {
		if i > 0 {
			penX += float32(a.Kerning[[2]rune{prev, r}])
		}
		prev = r
		g, ok := a.Glyphs[r]
		if !ok {
			g = a.Glyphs[' ']
		}
		if g.Width > 0 && g.Height > 0 {
			x0 := penX + float32(g.XOffset)
			y0 := y + float32(g.YOffset)
			quads = append(quads, Quad{
				X0: x0,
				Y0: y0,
				X1: x0 + float32(g.Width),
				Y1: y0 + float32(g.Height),
				U0: float32(g.X) / float32(a.Width),
				V0: float32(g.Y) / float32(a.Height),
				U1: float32(g.X+g.Width) / float32(a.Width),
				V1: float32(g.Y+g.Height) / float32(a.Height),
			})
		}
		penX += float32(g.XAdvance)
	}
	return quads
}
