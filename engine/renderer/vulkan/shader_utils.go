package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const spirvMagic = 0x07230203

/**
 * @brief A compiled shader stage. The module only lives until the
 * pipeline that uses it has been created.
 */
type shaderStage struct {
	name   string
	module vk.ShaderModule
	info   vk.PipelineShaderStageCreateInfo
}

func (d *Device) newShaderStage(code gpu.ShaderBytecode, stage vk.ShaderStageFlagBits) (*shaderStage, error) {
	if len(code.Code) < 4 || len(code.Code)%4 != 0 {
		return nil, fmt.Errorf("%w: shader '%s' has no SPIR-V bytecode", gpu.ErrInvalidCall, code.Name)
	}
	words := bytesToUint32(code.Code)
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: shader '%s' is not SPIR-V", gpu.ErrInvalidCall, code.Name)
	}

	s := &shaderStage{name: code.Name}
	err := check("vkCreateShaderModule", vk.CreateShaderModule(d.logical, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code.Code)),
		PCode:    words,
	}, nil, &s.module))
	if err != nil {
		return nil, d.fail(fmt.Errorf("shader '%s': %w", code.Name, err))
	}
	s.info = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: s.module,
		PName:  VulkanSafeString("main"),
	}
	return s, nil
}

func (d *Device) destroyStages(stages ...*shaderStage) {
	for _, s := range stages {
		if s != nil && s.module != vk.NullShaderModule {
			vk.DestroyShaderModule(d.logical, s.module, nil)
			s.module = vk.NullShaderModule
		}
	}
}
