package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

/**
 * @brief Descriptor set numbers every pipeline layout shares. Shaders
 * index the heap arrays with the table index pushed for their root
 * parameter.
 */
const (
	setHeap    = 0
	setBuffers = 1
	setSampler = 2
	setCount   = 3
)

// bindings inside the heap set
const (
	bindingSampledImages = 0
	bindingStorageImages = 1
	bindingStorageBuffer = 2
)

const (
	// MaxShaderVisibleDescriptors bounds the capacity of a shader visible heap.
	MaxShaderVisibleDescriptors uint32 = 16384
	// MaxBuffers bounds the number of live buffers, each owns one slot of the buffer table.
	MaxBuffers uint32 = 8192
	// MaxRootParameters * 2 dwords fill the guaranteed 128 bytes of push constants.
	MaxRootParameters = 16
	pushConstantWords = MaxRootParameters * 2
	pushConstantBytes = pushConstantWords * 4
	// static sampler s<n> in space<m> sits at binding m*samplersPerSpace+n
	samplersPerSpace = 16

	maxRenderTargets = 8

	vaBase        = 0x1000_0000
	vaAlignment   = 0x1_0000
	heapPtrShift  = 32
	descriptorLen = 32

	// A mesh group is drawn as ParticleGroupMS quads of two triangles.
	meshVerticesPerGroup = shaderdata.ParticleGroupMS * 6

	fenceTimeout = ^uint64(0)
)

func vkFormat(f gpu.Format, depth bool) vk.Format {
	switch f {
	case gpu.FormatR32Float:
		if depth {
			return vk.FormatD32Sfloat
		}
		return vk.FormatR32Sfloat
	case gpu.FormatR32Uint:
		return vk.FormatR32Uint
	case gpu.FormatR32Typeless:
		if depth {
			return vk.FormatD32Sfloat
		}
		return vk.FormatR32Sfloat
	case gpu.FormatD32Float:
		return vk.FormatD32Sfloat
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatR10G10B10A2Unorm:
		return vk.FormatA2b10g10r10UnormPack32
	case gpu.FormatR16G16B16A16Float:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat
	}
	return vk.FormatUndefined
}

// vertexFormat picks the float format for an input element from its component count.
func vertexFormat(components uint32) vk.Format {
	switch components {
	case 1:
		return vk.FormatR32Sfloat
	case 2:
		return vk.FormatR32g32Sfloat
	case 3:
		return vk.FormatR32g32b32Sfloat
	}
	return vk.FormatR32g32b32a32Sfloat
}

func sampleCountBits(count uint32) vk.SampleCountFlagBits {
	switch count {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	}
	return vk.SampleCount1Bit
}

/**
 * @brief The image layout a resource state implies. Read-only states
 * that mix categories fall back to the general layout, and so does
 * common, since back buffers are blitted rather than presented. Depth
 * images read by shaders stay in the depth read-only layout so they can
 * be sampled and depth tested at once.
 */
func layoutFor(state gpu.ResourceState, depth bool) vk.ImageLayout {
	switch {
	case state == gpu.StateCommon:
		return vk.ImageLayoutGeneral
	case state&gpu.StateRenderTarget != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case state&gpu.StateDepthWrite != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case state&gpu.StateUnorderedAccess != 0:
		return vk.ImageLayoutGeneral
	case depth && state&^(gpu.StateDepthRead|gpu.StateAllShaderResource) == 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case state&^gpu.StateAllShaderResource == 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case state == gpu.StateCopyDest || state == gpu.StateResolveDest:
		return vk.ImageLayoutTransferDstOptimal
	case state == gpu.StateCopySource || state == gpu.StateResolveSource:
		return vk.ImageLayoutTransferSrcOptimal
	}
	return vk.ImageLayoutGeneral
}

func accessFor(state gpu.ResourceState) vk.AccessFlags {
	var access vk.AccessFlagBits
	if state&gpu.StateVertexAndConstantBuffer != 0 {
		access |= vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit | vk.AccessShaderReadBit
	}
	if state&gpu.StateIndexBuffer != 0 {
		access |= vk.AccessIndexReadBit
	}
	if state&gpu.StateRenderTarget != 0 {
		access |= vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	}
	if state&gpu.StateUnorderedAccess != 0 {
		access |= vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	}
	if state&gpu.StateDepthWrite != 0 {
		access |= vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit
	}
	if state&gpu.StateDepthRead != 0 {
		access |= vk.AccessDepthStencilAttachmentReadBit
	}
	if state&gpu.StateAllShaderResource != 0 {
		access |= vk.AccessShaderReadBit
	}
	if state&(gpu.StateCopyDest|gpu.StateResolveDest) != 0 {
		access |= vk.AccessTransferWriteBit
	}
	if state&(gpu.StateCopySource|gpu.StateResolveSource) != 0 {
		access |= vk.AccessTransferReadBit
	}
	if state == gpu.StateCommon {
		access |= vk.AccessMemoryReadBit
	}
	return vk.AccessFlags(access)
}

func compareOp(f gpu.ComparisonFunc) vk.CompareOp {
	switch f {
	case gpu.ComparisonNever:
		return vk.CompareOpNever
	case gpu.ComparisonLess:
		return vk.CompareOpLess
	case gpu.ComparisonLessEqual:
		return vk.CompareOpLessOrEqual
	case gpu.ComparisonGreater:
		return vk.CompareOpGreater
	case gpu.ComparisonGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func addressMode(m gpu.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gpu.AddressClamp:
		return vk.SamplerAddressModeClampToEdge
	case gpu.AddressBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func cullMode(m gpu.CullMode) vk.CullModeFlags {
	switch m {
	case gpu.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gpu.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func topology(t gpu.PrimitiveTopologyType) vk.PrimitiveTopology {
	switch t {
	case gpu.TopologyTypeLine:
		return vk.PrimitiveTopologyLineList
	case gpu.TopologyTypePoint:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func colorBlend(b gpu.BlendDesc) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		ColorBlendOp:   vk.BlendOpAdd,
		AlphaBlendOp:   vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if b.DisableColorWrite {
		state.ColorWriteMask = 0
	}
	switch b.Mode {
	case gpu.BlendAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	case gpu.BlendAdditive:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
	case gpu.BlendPremultiplied:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	default:
		state.BlendEnable = vk.False
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorZero
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorZero
	}
	return state
}

const allStages = vk.ShaderStageFlags(vk.ShaderStageAll)

// zero handles the bindings have no named constant for
var nullDescriptorSet vk.DescriptorSet
