package soft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

func TestFreshTexturesReadLikeAZeroClear(t *testing.T) {
	d := NewDevice(DefaultOptions())
	defer d.Close()

	tests := []struct {
		format gpu.Format
		want   []float32
	}{
		{gpu.FormatR32Float, []float32{0, 0, 0, 1}},
		{gpu.FormatR32G32B32A32Float, []float32{0, 0, 0, 0}},
		{gpu.FormatR16G16B16A16Float, []float32{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			res, err := d.CreateCommittedResource(gpu.HeapDefault,
				gpu.Tex2DDesc(tt.format, 2, 2, 1, gpu.ResourceFlagAllowRenderTarget),
				gpu.StateRenderTarget, nil)
			require.NoError(t, err)
			defer res.Release()

			texels, err := TextureData(res)
			require.NoError(t, err)
			require.Len(t, texels, 2*2*4)
			for i := 0; i < len(texels); i += 4 {
				assert.Equal(t, tt.want, texels[i:i+4])
				assert.Equal(t, storeTexel(tt.format, [4]float32{}), [4]float32(texels[i:i+4]))
			}
		})
	}

	// a 3D volume follows the same rule for every slice
	vol, err := d.CreateCommittedResource(gpu.HeapDefault,
		gpu.Tex3DDesc(gpu.FormatR32Float, 2, 2, 3, gpu.ResourceFlagAllowRenderTarget),
		gpu.StateCopyDest, nil)
	require.NoError(t, err)
	defer vol.Release()
	texels, err := TextureData(vol)
	require.NoError(t, err)
	require.Len(t, texels, 2*2*3*4)
	for i := 0; i < len(texels); i += 4 {
		assert.Equal(t, []float32{0, 0, 0, 1}, texels[i:i+4])
	}
}
