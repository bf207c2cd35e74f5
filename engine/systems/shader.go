package systems

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

/** @brief Configuration for the shader library. */
type ShaderLibraryConfig struct {
	/** @brief Directory holding compiled <name>.spv files. Only used by SPIR-V devices. */
	ShaderDir string
}

/**
 * @brief Resolves shader names to bytecode. Devices with built-in shaders
 * only need the name; SPIR-V devices get the contents of
 * ShaderDir/<name>.spv, read once and cached.
 */
type ShaderLibrary struct {
	config ShaderLibraryConfig
	device gpu.Device

	mu    sync.Mutex
	cache map[string][]byte
}

func NewShaderLibrary(config ShaderLibraryConfig, device gpu.Device) *ShaderLibrary {
	return &ShaderLibrary{
		config: config,
		device: device,
		cache:  make(map[string][]byte),
	}
}

// Load returns the bytecode of the named shader. Unknown names wrap core.ErrShaderNotFound.
func (sl *ShaderLibrary) Load(name string) (gpu.ShaderBytecode, error) {
	if name == "" {
		return gpu.ShaderBytecode{}, nil
	}
	if sl.device.Capabilities().ShaderFormat == gpu.ShaderFormatBuiltin {
		if !sl.device.HasShader(name) {
			core.LogError("shader '%s' is not built into the device", name)
			return gpu.ShaderBytecode{}, fmt.Errorf("%w: %s", core.ErrShaderNotFound, name)
		}
		return gpu.ShaderBytecode{Name: name}, nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if code, ok := sl.cache[name]; ok {
		return gpu.ShaderBytecode{Name: name, Code: code}, nil
	}

	path := filepath.Join(sl.config.ShaderDir, name+".spv")
	code, err := os.ReadFile(path)
	if err != nil {
		core.LogError("unable to read shader module: %s", path)
		if errors.Is(err, fs.ErrNotExist) {
			return gpu.ShaderBytecode{}, fmt.Errorf("%w: %s", core.ErrShaderNotFound, path)
		}
		return gpu.ShaderBytecode{}, fmt.Errorf("failed to read shader %s: %w", path, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return gpu.ShaderBytecode{}, fmt.Errorf("shader %s is not SPIR-V: size %d", path, len(code))
	}
	sl.cache[name] = code
	return gpu.ShaderBytecode{Name: name, Code: code}, nil
}

// Require checks that every named shader can be loaded.
func (sl *ShaderLibrary) Require(names ...string) error {
	for _, n := range names {
		if _, err := sl.Load(n); err != nil {
			return err
		}
	}
	return nil
}

/**
 * @brief Drops cached bytecode.
 */
func (sl *ShaderLibrary) Shutdown() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.cache = make(map[string][]byte)
	return nil
}
