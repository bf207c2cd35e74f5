package systems

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
)

// DeviceFactory creates the device. It receives the job system so CPU
// backends can spread their work over it.
type DeviceFactory func(jobs *JobSystem) (gpu.Device, error)

type SystemManagerConfig struct {
	Workers      int
	JobQueueSize int
	Memory       memory.Config
	Shaders      ShaderLibraryConfig
	// Minimum shader model (major*10+minor) and mesh shader tier.
	RequiredShaderModel    uint32
	RequiredMeshShaderTier uint32
}

func DefaultSystemManagerConfig() SystemManagerConfig {
	return SystemManagerConfig{
		Workers:                4,
		JobQueueSize:           64,
		Memory:                 memory.DefaultConfig(),
		RequiredShaderModel:    68,
		RequiredMeshShaderTier: 1,
	}
}

/**
 * @brief Owns everything that exists once per device: the device itself,
 * descriptor and upload memory, the buffer registry and the shader
 * library, plus the job system that outlives device recreation.
 * Components receive the manager instead of reaching for globals.
 */
type SystemManager struct {
	config  SystemManagerConfig
	factory DeviceFactory

	jobSystem     *JobSystem
	device        gpu.Device
	graphicsMem   *memory.GraphicsMemory
	bufferManager *BufferManager
	shaderLibrary *ShaderLibrary
}

func NewSystemManager(config SystemManagerConfig, factory DeviceFactory) (*SystemManager, error) {
	js, err := NewJobSystem(config.Workers, config.JobQueueSize)
	if err != nil {
		return nil, err
	}
	sm := &SystemManager{
		config:    config,
		factory:   factory,
		jobSystem: js,
	}
	if err := sm.createDeviceResources(); err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	return sm, nil
}

func (sm *SystemManager) createDeviceResources() error {
	device, err := sm.factory(sm.jobSystem)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	if err := CheckCapabilities(device.Capabilities(), sm.config.RequiredShaderModel, sm.config.RequiredMeshShaderTier); err != nil {
		_ = device.Close()
		return err
	}

	gm, err := memory.NewGraphicsMemory(device, sm.config.Memory)
	if err != nil {
		_ = device.Close()
		return err
	}
	bm, err := NewBufferManager(device)
	if err != nil {
		gm.Shutdown()
		_ = device.Close()
		return err
	}

	sm.device = device
	sm.graphicsMem = gm
	sm.bufferManager = bm
	sm.shaderLibrary = NewShaderLibrary(sm.config.Shaders, device)
	core.LogInfo("device '%s' ready (shader model %d, mesh shader tier %d)",
		device.Capabilities().AdapterName, device.Capabilities().ShaderModel, device.Capabilities().MeshShaderTier)
	return nil
}

// CheckCapabilities fails with core.ErrCapabilityMissing when caps is below the requirement.
func CheckCapabilities(caps gpu.Capabilities, shaderModel, meshShaderTier uint32) error {
	if caps.ShaderModel < shaderModel {
		core.LogError("shader model %d.%d is not supported by '%s'", shaderModel/10, shaderModel%10, caps.AdapterName)
		return fmt.Errorf("%w: shader model %d.%d, have %d.%d", core.ErrCapabilityMissing,
			shaderModel/10, shaderModel%10, caps.ShaderModel/10, caps.ShaderModel%10)
	}
	if caps.MeshShaderTier < meshShaderTier {
		core.LogError("mesh shaders are not supported by '%s'", caps.AdapterName)
		return fmt.Errorf("%w: mesh shader tier %d, have %d", core.ErrCapabilityMissing, meshShaderTier, caps.MeshShaderTier)
	}
	return nil
}

func (sm *SystemManager) releaseDeviceResources() error {
	if sm.device == nil {
		return nil
	}
	// The queue may already be gone on a removed device.
	if err := sm.device.Queue().WaitIdle(); err != nil {
		core.LogWarn("waiting for the queue before release: %s", err)
	}
	if err := sm.bufferManager.Shutdown(); err != nil {
		return err
	}
	sm.graphicsMem.Shutdown()
	if err := sm.shaderLibrary.Shutdown(); err != nil {
		return err
	}
	err := sm.device.Close()
	sm.device = nil
	sm.graphicsMem = nil
	sm.bufferManager = nil
	sm.shaderLibrary = nil
	return err
}

/**
 * @brief Drops every device dependent object and creates them again on
 * a new device. Used after the device was removed.
 */
func (sm *SystemManager) RecreateDevice() error {
	if err := sm.releaseDeviceResources(); err != nil {
		return err
	}
	return sm.createDeviceResources()
}

func (sm *SystemManager) Jobs() *JobSystem { return sm.jobSystem }

func (sm *SystemManager) Device() gpu.Device { return sm.device }

func (sm *SystemManager) Memory() *memory.GraphicsMemory { return sm.graphicsMem }

func (sm *SystemManager) Buffers() *BufferManager { return sm.bufferManager }

func (sm *SystemManager) Shaders() *ShaderLibrary { return sm.shaderLibrary }

func (sm *SystemManager) Shutdown() error {
	if err := sm.releaseDeviceResources(); err != nil {
		return err
	}
	if err := sm.jobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
