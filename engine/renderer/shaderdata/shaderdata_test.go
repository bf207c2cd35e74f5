package shaderdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesEncodesLittleEndian(t *testing.T) {
	b, err := Bytes(TonemapConstants{Exposure: 1, PaperWhiteNits: 200})
	require.NoError(t, err)
	require.Len(t, b, 16)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, b[:4])

	var back TonemapConstants
	require.NoError(t, Decode(b, &back))
	assert.Equal(t, float32(200), back.PaperWhiteNits)
}

func TestBytesRejectsValuesWithoutFixedSize(t *testing.T) {
	for name, v := range map[string]any{
		"string field": struct{ Label string }{"x"},
		"int slice":    []int{1},
		"map":          map[string]float32{},
	} {
		t.Run(name, func(t *testing.T) {
			b, err := Bytes(v)
			assert.ErrorIs(t, err, ErrNotFixedSize)
			assert.Nil(t, b)
		})
	}
}
