package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

/**
 * @brief A root signature turned into a pipeline layout. Set 0 is the
 * bound shader visible heap, set 1 the buffer table, set 2 the static
 * samplers. Root arguments are two push constant words per parameter.
 */
type rootSignature struct {
	device *Device
	desc   gpu.RootSignatureDesc

	layout        vk.PipelineLayout
	samplerLayout vk.DescriptorSetLayout
	samplerPool   vk.DescriptorPool
	samplerSet    vk.DescriptorSet
	samplers      []vk.Sampler
	released      bool
}

func (r *rootSignature) Desc() gpu.RootSignatureDesc { return r.desc }

func (r *rootSignature) Release() {
	if r.released {
		return
	}
	r.released = true
	dev := r.device.logical
	layout, samplerLayout, pool, samplers := r.layout, r.samplerLayout, r.samplerPool, r.samplers
	r.device.release(func() {
		vk.DestroyPipelineLayout(dev, layout, nil)
		vk.DestroyDescriptorPool(dev, pool, nil)
		vk.DestroyDescriptorSetLayout(dev, samplerLayout, nil)
		for _, s := range samplers {
			vk.DestroySampler(dev, s, nil)
		}
	})
}

func samplerBinding(s gpu.StaticSampler) uint32 {
	return s.Space*samplersPerSpace + s.Register
}

func (d *Device) createSampler(s gpu.StaticSampler) (vk.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            addressMode(s.AddressU),
		AddressModeV:            addressMode(s.AddressV),
		AddressModeW:            addressMode(s.AddressW),
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0,
		MaxLod:                  1000,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if s.Filter != gpu.FilterPoint {
		info.MagFilter = vk.FilterLinear
		info.MinFilter = vk.FilterLinear
		info.MipmapMode = vk.SamplerMipmapModeLinear
	}
	if s.Filter == gpu.FilterComparisonLinear {
		info.CompareEnable = vk.True
		info.CompareOp = compareOp(s.ComparisonFunc)
	}
	if s.BorderWhite {
		info.BorderColor = vk.BorderColorFloatOpaqueWhite
	}
	var sampler vk.Sampler
	if err := mustCheck("vkCreateSampler", vk.CreateSampler(d.logical, &info, nil, &sampler)); err != nil {
		return sampler, d.fail(err)
	}
	return sampler, nil
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if len(desc.Parameters) > MaxRootParameters {
		return nil, fmt.Errorf("%w: %d root parameters, at most %d fit in push constants", gpu.ErrInvalidCall, len(desc.Parameters), MaxRootParameters)
	}
	seen := map[uint32]bool{}
	for _, s := range desc.StaticSamplers {
		if s.Register >= samplersPerSpace {
			return nil, fmt.Errorf("%w: sampler register %d", gpu.ErrInvalidCall, s.Register)
		}
		b := samplerBinding(s)
		if seen[b] {
			return nil, fmt.Errorf("%w: sampler register %d space %d bound twice", gpu.ErrInvalidCall, s.Register, s.Space)
		}
		seen[b] = true
	}

	cp := desc
	cp.Parameters = append([]gpu.RootParameter(nil), desc.Parameters...)
	cp.StaticSamplers = append([]gpu.StaticSampler(nil), desc.StaticSamplers...)
	rs := &rootSignature{device: d, desc: cp}

	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(cp.StaticSamplers))
	for _, s := range cp.StaticSamplers {
		sampler, err := d.createSampler(s)
		if err != nil {
			rs.destroy()
			return nil, err
		}
		rs.samplers = append(rs.samplers, sampler)
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:            samplerBinding(s),
			DescriptorType:     vk.DescriptorTypeSampler,
			DescriptorCount:    1,
			StageFlags:         allStages,
			PImmutableSamplers: []vk.Sampler{sampler},
		})
	}

	err := mustCheck("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.logical, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &rs.samplerLayout))
	if err != nil {
		rs.destroy()
		return nil, d.fail(err)
	}

	// a pool needs at least one size even when the set is empty
	count := uint32(len(bindings))
	if count == 0 {
		count = 1
	}
	err = mustCheck("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.logical, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes:    []vk.DescriptorPoolSize{{Type: vk.DescriptorTypeSampler, DescriptorCount: count}},
	}, nil, &rs.samplerPool))
	if err != nil {
		rs.destroy()
		return nil, d.fail(err)
	}

	sets := make([]vk.DescriptorSet, 1)
	err = mustCheck("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logical, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     rs.samplerPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{rs.samplerLayout},
	}, &sets[0]))
	if err != nil {
		rs.destroy()
		return nil, d.fail(err)
	}
	rs.samplerSet = sets[0]

	err = mustCheck("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.logical, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: setCount,
		PSetLayouts:    []vk.DescriptorSetLayout{d.heapLayout, d.bufferLayout, rs.samplerLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: allStages,
			Offset:     0,
			Size:       pushConstantBytes,
		}},
	}, nil, &rs.layout))
	if err != nil {
		rs.destroy()
		return nil, d.fail(err)
	}
	return rs, nil
}

// destroy frees whatever was created so far. Only used on creation failure.
func (r *rootSignature) destroy() {
	dev := r.device.logical
	if r.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, r.layout, nil)
	}
	if r.samplerPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(dev, r.samplerPool, nil)
	}
	if r.samplerLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, r.samplerLayout, nil)
	}
	for _, s := range r.samplers {
		vk.DestroySampler(dev, s, nil)
	}
	r.released = true
}

/** @brief A compiled pipeline state object. */
type pipeline struct {
	device      *Device
	kind        gpu.PipelineKind
	name        string
	handle      vk.Pipeline
	rs          *rootSignature
	bindPoint   vk.PipelineBindPoint
	sampleCount uint32
	released    bool
}

func (p *pipeline) Kind() gpu.PipelineKind { return p.kind }

func (p *pipeline) SampleCount() uint32 { return p.sampleCount }

func (p *pipeline) Name() string { return p.name }

func (p *pipeline) Release() {
	if p.released {
		return
	}
	p.released = true
	dev, handle := p.device.logical, p.handle
	p.device.release(func() {
		vk.DestroyPipeline(dev, handle, nil)
	})
}

func asRootSignature(rs gpu.RootSignature) (*rootSignature, error) {
	r, ok := rs.(*rootSignature)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: pipeline without a Vulkan root signature", gpu.ErrInvalidCall)
	}
	if r.released {
		return nil, fmt.Errorf("%w: root signature was released", gpu.ErrInvalidCall)
	}
	return r, nil
}

// rasterState is what graphics and mesh pipelines have in common.
type rasterState struct {
	topology   gpu.PrimitiveTopologyType
	blend      gpu.BlendDesc
	depth      gpu.DepthStencilDesc
	raster     gpu.RasterizerDesc
	rtvFormats []gpu.Format
	dsvFormat  gpu.Format
	samples    gpu.SampleDesc
}

func (d *Device) sampleCount(samples gpu.SampleDesc) (uint32, error) {
	count := samples.Count
	if count == 0 {
		count = 1
	}
	if count > d.maxSamples {
		return 0, fmt.Errorf("%w: %d samples", gpu.ErrUnsupported, count)
	}
	return count, nil
}

// compatiblePass is a render pass the pipeline can be used with. Vulkan
// only compares formats and sample counts, so layouts and load ops don't matter.
func (d *Device) compatiblePass(s rasterState, samples uint32) (vk.RenderPass, error) {
	if len(s.rtvFormats) > maxRenderTargets {
		return vk.NullRenderPass, fmt.Errorf("%w: %d render targets", gpu.ErrInvalidCall, len(s.rtvFormats))
	}
	key := renderPassKey{colorCount: len(s.rtvFormats), samples: sampleCountBits(samples)}
	for i, f := range s.rtvFormats {
		key.colors[i] = vkFormat(f, false)
	}
	if s.dsvFormat != gpu.FormatUnknown {
		key.depth = vkFormat(s.dsvFormat, true)
		key.depthLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		if !s.depth.DepthWrite {
			key.depthLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
	}
	return d.renderPass.get(key)
}

func (d *Device) createRasterPipeline(rs *rootSignature, stages []vk.PipelineShaderStageCreateInfo, input []gpu.InputElement, s rasterState, samples uint32) (vk.Pipeline, error) {
	pass, err := d.compatiblePass(s, samples)
	if err != nil {
		return vk.NullPipeline, err
	}

	// Viewport state, set dynamically
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        boolToVk(!s.raster.DepthClipEnable),
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                cullMode(s.raster.CullMode),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         boolToVk(s.raster.DepthBias != 0 || s.raster.SlopeScaledDepthBias != 0),
		DepthBiasConstantFactor: float32(s.raster.DepthBias),
		DepthBiasClamp:          s.raster.DepthBiasClamp,
		DepthBiasSlopeFactor:    s.raster.SlopeScaledDepthBias,
	}
	if s.raster.FillMode == gpu.FillWireframe {
		rasterizer.PolygonMode = vk.PolygonModeLine
	}
	if s.raster.FrontCounterClockwise {
		rasterizer.FrontFace = vk.FrontFaceCounterClockwise
	}

	// Multisampling
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: sampleCountBits(samples),
		SampleShadingEnable:  vk.False,
		MinSampleShading:     1.0,
	}

	// Depth testing
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   boolToVk(s.depth.DepthEnable),
		DepthWriteEnable:  boolToVk(s.depth.DepthEnable && s.depth.DepthWrite),
		DepthCompareOp:    compareOp(s.depth.DepthFunc),
		StencilTestEnable: vk.False,
		MaxDepthBounds:    1.0,
	}

	attachments := make([]vk.PipelineColorBlendAttachmentState, len(s.rtvFormats))
	for i := range attachments {
		attachments[i] = colorBlend(s.blend)
	}
	colorBlendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input
	bindings, attributes := vertexInput(input)
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(s.topology),
		PrimitiveRestartEnable: vk.False,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendState,
		PDynamicState:       &dynamicState,
		Layout:              rs.layout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	handles := make([]vk.Pipeline, 1)
	err = mustCheck("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.logical, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, handles))
	if err != nil {
		return vk.NullPipeline, d.fail(err)
	}
	return handles[0], nil
}

// rasterStages compiles the vertex (or mesh) stage and the optional fragment stage.
func (d *Device) rasterStages(vs, ps gpu.ShaderBytecode) ([]*shaderStage, error) {
	vertex, err := d.newShaderStage(vs, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	stages := []*shaderStage{vertex}
	if !ps.IsEmpty() {
		fragment, err := d.newShaderStage(ps, vk.ShaderStageFragmentBit)
		if err != nil {
			d.destroyStages(vertex)
			return nil, err
		}
		stages = append(stages, fragment)
	}
	return stages, nil
}

func stageInfos(stages []*shaderStage) []vk.PipelineShaderStageCreateInfo {
	infos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		infos[i] = s.info
	}
	return infos
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if rs.desc.Compute {
		return nil, fmt.Errorf("%w: graphics pipeline with a compute root signature", gpu.ErrInvalidCall)
	}
	samples, err := d.sampleCount(desc.SampleDesc)
	if err != nil {
		return nil, err
	}
	stages, err := d.rasterStages(desc.VS, desc.PS)
	if err != nil {
		return nil, err
	}
	defer d.destroyStages(stages...)

	handle, err := d.createRasterPipeline(rs, stageInfos(stages), desc.InputLayout, rasterState{
		topology:   desc.Topology,
		blend:      desc.Blend,
		depth:      desc.DepthStencil,
		raster:     desc.Rasterizer,
		rtvFormats: desc.RTVFormats,
		dsvFormat:  desc.DSVFormat,
		samples:    desc.SampleDesc,
	}, samples)
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		device:      d,
		kind:        gpu.PipelineGraphics,
		name:        desc.VS.Name + "|" + desc.PS.Name,
		handle:      handle,
		rs:          rs,
		bindPoint:   vk.PipelineBindPointGraphics,
		sampleCount: samples,
	}
	core.LogDebug("graphics pipeline %s created", p.name)
	return p, nil
}

// CreateMeshPipeline builds the mesh shader as a vertex shader without
// vertex input. DispatchMesh draws meshVerticesPerGroup vertices per group
// and the shader derives group and thread ids from the vertex index.
func (d *Device) CreateMeshPipeline(desc gpu.MeshPipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if rs.desc.Compute {
		return nil, fmt.Errorf("%w: mesh pipeline with a compute root signature", gpu.ErrInvalidCall)
	}
	if !desc.AS.IsEmpty() {
		return nil, fmt.Errorf("%w: amplification shaders", gpu.ErrUnsupported)
	}
	samples, err := d.sampleCount(desc.SampleDesc)
	if err != nil {
		return nil, err
	}
	stages, err := d.rasterStages(desc.MS, desc.PS)
	if err != nil {
		return nil, err
	}
	defer d.destroyStages(stages...)

	handle, err := d.createRasterPipeline(rs, stageInfos(stages), nil, rasterState{
		topology:   desc.Topology,
		blend:      desc.Blend,
		depth:      desc.DepthStencil,
		raster:     desc.Rasterizer,
		rtvFormats: desc.RTVFormats,
		dsvFormat:  desc.DSVFormat,
		samples:    desc.SampleDesc,
	}, samples)
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		device:      d,
		kind:        gpu.PipelineMesh,
		name:        desc.MS.Name + "|" + desc.PS.Name,
		handle:      handle,
		rs:          rs,
		bindPoint:   vk.PipelineBindPointGraphics,
		sampleCount: samples,
	}
	core.LogDebug("mesh pipeline %s created", p.name)
	return p, nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.Pipeline, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	stage, err := d.newShaderStage(desc.CS, vk.ShaderStageComputeBit)
	if err != nil {
		return nil, err
	}
	defer d.destroyStages(stage)

	handles := make([]vk.Pipeline, 1)
	err = mustCheck("vkCreateComputePipelines", vk.CreateComputePipelines(d.logical, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage.info,
		Layout:             rs.layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}}, nil, handles))
	if err != nil {
		return nil, d.fail(err)
	}
	p := &pipeline{
		device:    d,
		kind:      gpu.PipelineCompute,
		name:      desc.CS.Name,
		handle:    handles[0],
		rs:        rs,
		bindPoint: vk.PipelineBindPointCompute,
	}
	core.LogDebug("compute pipeline %s created", p.name)
	return p, nil
}
