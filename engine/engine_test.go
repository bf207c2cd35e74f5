package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
)

func headlessConfig(t *testing.T) ApplicationConfig {
	config := DefaultApplicationConfig()
	config.Headless = true
	config.StartWidth, config.StartHeight = 64, 48
	config.ParticleCount = 128
	config.Frames = 2
	config.VSync = false
	config.TargetFPS = 0
	config.DumpDir = t.TempDir()
	config.DumpEvery = 1
	return config
}

func TestHeadlessRunRendersConfiguredFrames(t *testing.T) {
	config := headlessConfig(t)
	var updates, resizes int
	game := &Game{
		ApplicationConfig: &config,
		FnUpdate: func(deltaTime float64) error {
			updates++
			assert.GreaterOrEqual(t, deltaTime, 0.0)
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			resizes++
			return nil
		},
	}

	e, err := New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NotNil(t, game.SystemManager)
	require.NotNil(t, game.Renderer)

	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())

	assert.Equal(t, uint64(2), e.Frames())
	assert.Equal(t, 2, updates)
	assert.Equal(t, 1, resizes)

	dumps, err := filepath.Glob(filepath.Join(config.DumpDir, e.runID, "frame_*.bmp"))
	require.NoError(t, err)
	assert.NotEmpty(t, dumps)
}

func TestRunRequiresInitialize(t *testing.T) {
	config := headlessConfig(t)
	e, err := New(&Game{ApplicationConfig: &config})
	require.NoError(t, err)
	assert.Error(t, e.Run())
}

func TestQuitEventStopsTheLoop(t *testing.T) {
	config := headlessConfig(t)
	config.Frames = 0
	game := &Game{ApplicationConfig: &config}
	game.FnUpdate = func(deltaTime float64) error {
		game.Events.Fire(core.EVENT_CODE_APPLICATION_QUIT, game, core.EventContext{})
		return nil
	}

	e, err := New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(1), e.Frames())
}

func TestConfigReloadAppliesLogLevelAndLight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.toml")
	config := headlessConfig(t)
	require.NoError(t, SaveConfig(path, config))

	game := &Game{ApplicationConfig: &config, ConfigPath: path}
	e, err := New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	changed := config
	changed.LogLevel = "debug"
	changed.LightDirection = [3]float32{0, -1, 0}
	changed.ParticleCount = 16
	require.NoError(t, SaveConfig(path, changed))

	// Poll drives the reload on this goroutine; call the reload directly to avoid waiting on fsnotify.
	require.NoError(t, e.reloadConfig(path))
	var reloaded bool
	e.events.Register(core.EVENT_CODE_CONFIG_RELOADED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		reloaded = true
		return false
	})
	e.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, core.EventContext{Str: path})

	assert.True(t, reloaded)
	assert.Equal(t, "debug", game.ApplicationConfig.LogLevel)
	assert.Equal(t, [3]float32{0, -1, 0}, game.ApplicationConfig.LightDirection)
	// only the live settings change
	assert.Equal(t, config.ParticleCount, game.ApplicationConfig.ParticleCount)
}
