package assets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinFontIsSinglePageAtlas(t *testing.T) {
	atlas := BuiltinFont()
	require.NotNil(t, atlas)
	assert.Equal(t, 13, atlas.LineHeight)
	assert.Equal(t, atlas.Width*atlas.Height, len(atlas.Coverage))

	a, ok := atlas.Glyphs['A']
	require.True(t, ok)
	// Face7x13 is 6 pixels of ink in a 7 pixel advance
	assert.Equal(t, 6, a.Width)
	assert.Equal(t, 13, a.Height)
	assert.Equal(t, 7, a.XAdvance)
	assert.Less(t, a.Y+a.Height-1, atlas.Height)

	var covered bool
	for y := a.Y; y < a.Y+a.Height; y++ {
		for x := a.X; x < a.X+a.Width; x++ {
			if atlas.Coverage[y*atlas.Width+x] != 0 {
				covered = true
			}
		}
	}
	assert.True(t, covered, "glyph A has no coverage")
}

func TestRGBAExpandsCoverageIntoAlpha(t *testing.T) {
	atlas := &FontAtlas{Width: 2, Height: 1, Coverage: []uint8{0, 200}}
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0, 0xff, 0xff, 0xff, 200}, atlas.RGBA())
}

func TestLayoutAdvancesAndKerns(t *testing.T) {
	atlas := &FontAtlas{
		Width:  32,
		Height: 16,
		Glyphs: map[rune]Glyph{
			'A': {X: 0, Y: 0, Width: 8, Height: 16, XAdvance: 9},
			'V': {X: 8, Y: 0, Width: 8, Height: 16, XOffset: 1, XAdvance: 9},
			' ': {XAdvance: 4},
		},
		Kerning: map[[2]rune]int{{'A', 'V'}: -2},
	}

	quads := atlas.Layout("AV A", 10, 20)
	require.Len(t, quads, 3)

	assert.Equal(t, Quad{X0: 10, Y0: 20, X1: 18, Y1: 36, U0: 0, V0: 0, U1: 0.25, V1: 1}, quads[0])
	// 10 + 9 advance - 2 kerning + 1 offset
	assert.InDelta(t, 18, quads[1].X0, 1e-6)
	assert.InDelta(t, 0.25, quads[1].U0, 1e-6)
	// the space draws nothing but advances
	assert.InDelta(t, 10+9-2+9+4, quads[2].X0, 1e-6)
}

func TestLayoutFallsBackToSpaceForUnknownRunes(t *testing.T) {
	atlas := BuiltinFont()
	quads := atlas.Layout("☃A", 0, 0)
	require.Len(t, quads, 2)
	space := atlas.Glyphs[' ']
	assert.InDelta(t, float32(space.Y)/float32(atlas.Height), quads[0].V0, 1e-6)
	assert.InDelta(t, float32(space.XAdvance), quads[1].X0, 1e-6)
}

func TestLoadBitmapFontMissingFile(t *testing.T) {
	_, err := LoadBitmapFont(filepath.Join(t.TempDir(), "missing.fnt"))
	assert.Error(t, err)
}
