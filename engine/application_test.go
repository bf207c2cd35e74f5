package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultApplicationConfig(), config)
	assert.Equal(t, uint32(1920), config.StartWidth)
	assert.Equal(t, uint32(1080), config.StartHeight)
	assert.Equal(t, uint32(256), config.SrvUavCapacity)
	assert.Equal(t, uint32(256), config.RtvCapacity)
	assert.Equal(t, uint32(64), config.DsvCapacity)
}

func TestLoadConfigKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "partial"
backend = "soft"
particle_count = 1024
color_space = "hdr10"
light_direction = [0.0, -1.0, 0.0]
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "partial", config.Name)
	assert.Equal(t, uint32(1024), config.ParticleCount)
	assert.Equal(t, math.NewVec3(0, -1, 0), config.Light())

	defaults := DefaultApplicationConfig()
	assert.Equal(t, defaults.StartWidth, config.StartWidth)
	assert.Equal(t, defaults.LogLevel, config.LogLevel)
	assert.Equal(t, defaults.DsvCapacity, config.DsvCapacity)

	cs, err := config.colorSpace()
	require.NoError(t, err)
	assert.Equal(t, gpu.ColorSpaceHDR10, cs)
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	config := DefaultApplicationConfig()
	config.Name = "round trip"
	config.Headless = true
	config.Frames = 3
	config.Seed = 42
	config.DumpDir = "frames"
	config.DumpEvery = 2
	config.VSync = false
	config.TargetFPS = 30
	config.LightDirection = [3]float32{1, -2, 0.5}

	require.NoError(t, SaveConfig(path, config))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", `backend = "metal"`},
		{"unknown color space", `color_space = "p3"`},
		{"zero width", `start_width = 0`},
		{"zero descriptor capacity", `dsv_capacity = 0`},
		{"malformed", `start_width = "wide"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ember.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestFrameRendererConfigFromApplicationConfig(t *testing.T) {
	config := DefaultApplicationConfig()
	config.StartWidth, config.StartHeight = 640, 480
	config.VSync = false
	config.FontPath = "assets/fonts/mono.fnt"

	fr := config.frameRendererConfig()
	assert.Equal(t, uint32(640), fr.Width)
	assert.Equal(t, uint32(480), fr.Height)
	assert.Equal(t, uint32(0), fr.SyncInterval)
	assert.Equal(t, "assets/fonts/mono.fnt", fr.FontPath)
	assert.Equal(t, config.Light(), fr.LightDirection)

	mem := config.memoryConfig()
	assert.Equal(t, config.SrvUavCapacity, mem.SrvUavCapacity)
	assert.Equal(t, config.DsvCapacity, mem.DsvCapacity)
}
