package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer"
	"github.com/spaghettifunk/ember/engine/renderer/components"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position x axis, if applicable.
	StartPosX uint32 `toml:"start_pos_x"`
	// Window starting position y axis, if applicable.
	StartPosY uint32 `toml:"start_pos_y"`
	// Window starting width, if applicable.
	StartWidth uint32 `toml:"start_width"`
	// Window starting height, if applicable.
	StartHeight uint32 `toml:"start_height"`

	LogLevel string `toml:"log_level"`
	Backend  string `toml:"backend"`
	// Run without a window. The swapchain presents into offscreen images.
	Headless bool `toml:"headless"`
	// Enables the validation layers of the Vulkan backend.
	Debug bool `toml:"debug"`

	ShaderDir string `toml:"shader_dir"`
	FontPath  string `toml:"font_path"`
	DumpDir   string `toml:"dump_dir"`
	DumpEvery uint32 `toml:"dump_every"`
	// Frames to render before quitting, 0 runs until the window closes.
	Frames uint64 `toml:"frames"`

	Seed          uint64 `toml:"seed"`
	ParticleCount uint32 `toml:"particle_count"`
	// sdr or hdr10
	ColorSpace     string     `toml:"color_space"`
	VSync          bool       `toml:"vsync"`
	TargetFPS      uint32     `toml:"target_fps"`
	LightDirection [3]float32 `toml:"light_direction"`

	SrvUavCapacity uint32 `toml:"srv_uav_capacity"`
	RtvCapacity    uint32 `toml:"rtv_capacity"`
	DsvCapacity    uint32 `toml:"dsv_capacity"`
}

func DefaultApplicationConfig() ApplicationConfig {
	mem := memory.DefaultConfig()
	fr := renderer.DefaultFrameRendererConfig()
	return ApplicationConfig{
		Name:           "Ember",
		StartPosX:      100,
		StartPosY:      100,
		StartWidth:     1920,
		StartHeight:    1080,
		LogLevel:       "info",
		Backend:        string(renderer.BackendSoft),
		ShaderDir:      "assets/shaders",
		Seed:           fr.Seed,
		ParticleCount:  components.DefaultParticleCount,
		ColorSpace:     "sdr",
		VSync:          true,
		TargetFPS:      60,
		LightDirection: [3]float32{fr.LightDirection.X, fr.LightDirection.Y, fr.LightDirection.Z},
		SrvUavCapacity: mem.SrvUavCapacity,
		RtvCapacity:    mem.RtvCapacity,
		DsvCapacity:    mem.DsvCapacity,
	}
}

/**
 * @brief Reads the TOML config at path on top of the defaults. Keys that
 * are absent keep their default value and a missing file is not an error.
 */
func LoadConfig(path string) (ApplicationConfig, error) {
	config := DefaultApplicationConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogInfo("no config at %s, using defaults", path)
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// SaveConfig writes config as TOML.
func SaveConfig(path string, config ApplicationConfig) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c ApplicationConfig) Validate() error {
	if c.StartWidth == 0 || c.StartHeight == 0 {
		return fmt.Errorf("window size %dx%d", c.StartWidth, c.StartHeight)
	}
	if _, err := renderer.ParseBackend(c.Backend); err != nil {
		return err
	}
	if _, err := c.colorSpace(); err != nil {
		return err
	}
	if c.SrvUavCapacity == 0 || c.RtvCapacity == 0 || c.DsvCapacity == 0 {
		return fmt.Errorf("descriptor capacities must be positive")
	}
	return nil
}

func (c ApplicationConfig) colorSpace() (gpu.ColorSpace, error) {
	switch strings.ToLower(c.ColorSpace) {
	case "", "sdr", "srgb":
		return gpu.ColorSpaceSRGB, nil
	case "hdr10":
		return gpu.ColorSpaceHDR10, nil
	}
	return gpu.ColorSpaceSRGB, fmt.Errorf("unknown color space %q", c.ColorSpace)
}

// Light returns the configured light direction.
func (c ApplicationConfig) Light() math.Vec3 {
	return math.NewVec3(c.LightDirection[0], c.LightDirection[1], c.LightDirection[2])
}

func (c ApplicationConfig) memoryConfig() memory.Config {
	mem := memory.DefaultConfig()
	mem.SrvUavCapacity = c.SrvUavCapacity
	mem.RtvCapacity = c.RtvCapacity
	mem.DsvCapacity = c.DsvCapacity
	return mem
}

func (c ApplicationConfig) frameRendererConfig() renderer.FrameRendererConfig {
	fr := renderer.DefaultFrameRendererConfig()
	fr.Width = c.StartWidth
	fr.Height = c.StartHeight
	fr.ParticleCount = c.ParticleCount
	fr.Seed = c.Seed
	fr.FontPath = c.FontPath
	fr.LightDirection = c.Light()
	fr.SyncInterval = 0
	if c.VSync {
		fr.SyncInterval = 1
	}
	return fr
}
