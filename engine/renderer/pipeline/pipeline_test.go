package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/systems"
)

type rootCall struct {
	method string
	index  uint32
	value  uint64
}

// bindRecorder captures root bindings and forwards them to a soft list.
type bindRecorder struct {
	gpu.CommandList
	calls     []rootCall
	pipelines []gpu.Pipeline
	sigs      []gpu.RootSignature
}

func (r *bindRecorder) SetGraphicsRootConstantBufferView(i uint32, a gpu.GPUAddress) {
	r.calls = append(r.calls, rootCall{"gfx-cbv", i, uint64(a)})
	r.CommandList.SetGraphicsRootConstantBufferView(i, a)
}

func (r *bindRecorder) SetComputeRootConstantBufferView(i uint32, a gpu.GPUAddress) {
	r.calls = append(r.calls, rootCall{"cs-cbv", i, uint64(a)})
	r.CommandList.SetComputeRootConstantBufferView(i, a)
}

func (r *bindRecorder) SetGraphicsRootShaderResourceView(i uint32, a gpu.GPUAddress) {
	r.calls = append(r.calls, rootCall{"gfx-srv", i, uint64(a)})
	r.CommandList.SetGraphicsRootShaderResourceView(i, a)
}

func (r *bindRecorder) SetComputeRootUnorderedAccessView(i uint32, a gpu.GPUAddress) {
	r.calls = append(r.calls, rootCall{"cs-uav", i, uint64(a)})
	r.CommandList.SetComputeRootUnorderedAccessView(i, a)
}

func (r *bindRecorder) SetGraphicsRootDescriptorTable(i uint32, h gpu.GPUDescriptorHandle) {
	r.calls = append(r.calls, rootCall{"gfx-table", i, h.Ptr})
	r.CommandList.SetGraphicsRootDescriptorTable(i, h)
}

func (r *bindRecorder) SetGraphicsRootSignature(rs gpu.RootSignature) {
	r.calls = append(r.calls, rootCall{method: "gfx-sig"})
	r.sigs = append(r.sigs, rs)
	r.CommandList.SetGraphicsRootSignature(rs)
}

func (r *bindRecorder) SetComputeRootSignature(rs gpu.RootSignature) {
	r.calls = append(r.calls, rootCall{method: "cs-sig"})
	r.sigs = append(r.sigs, rs)
	r.CommandList.SetComputeRootSignature(rs)
}

func (r *bindRecorder) SetPipelineState(p gpu.Pipeline) {
	r.pipelines = append(r.pipelines, p)
	r.CommandList.SetPipelineState(p)
}

// descRecorder keeps the descriptions pipelines were created from.
type descRecorder struct {
	*soft.Device
	graphics []gpu.GraphicsPipelineDesc
	mesh     []gpu.MeshPipelineDesc
}

func (d *descRecorder) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	d.graphics = append(d.graphics, desc)
	return d.Device.CreateGraphicsPipeline(desc)
}

func (d *descRecorder) CreateMeshPipeline(desc gpu.MeshPipelineDesc) (gpu.Pipeline, error) {
	d.mesh = append(d.mesh, desc)
	return d.Device.CreateMeshPipeline(desc)
}

func newSystems(t *testing.T) *systems.SystemManager {
	t.Helper()
	sm, err := systems.NewSystemManager(systems.DefaultSystemManagerConfig(), func(*systems.JobSystem) (gpu.Device, error) {
		return soft.NewDevice(soft.DefaultOptions()), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Shutdown() })
	return sm
}

func newRecorder(t *testing.T, sm *systems.SystemManager) *bindRecorder {
	t.Helper()
	cl, err := sm.Device().CreateCommandList()
	require.NoError(t, err)
	return &bindRecorder{CommandList: cl}
}

func TestRootSignatureBindBeforeBuildFails(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.AddSRV(0, 0))

	assert.ErrorIs(t, rs.SetOnCommandList(cl), core.ErrNotBuilt)
	assert.ErrorIs(t, rs.SetCBV(cl, 0, 0, shaderdata.TonemapConstants{}), core.ErrNotBuilt)
	assert.ErrorIs(t, rs.SetSRV(cl, 0, 0, memory.DescriptorView{}), core.ErrNotBuilt)
	assert.ErrorIs(t, rs.SetStructuredBufferSRV(cl, 0, 0, containers.InvalidHandle), core.ErrNotBuilt)
	assert.Empty(t, cl.calls)
}

func TestRootSignatureIsFrozenAfterBuild(t *testing.T) {
	sm := newSystems(t)
	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), false))

	assert.ErrorIs(t, rs.Build(sm.Device(), false), core.ErrAlreadyBuilt)
	assert.ErrorIs(t, rs.AddCBV(1, 0), core.ErrAlreadyBuilt)
	assert.ErrorIs(t, rs.AddUAV(0, 0), core.ErrAlreadyBuilt)
	assert.ErrorIs(t, rs.AddStaticSampler(gpu.StaticSampler{}, 0, 0), core.ErrAlreadyBuilt)
	assert.Len(t, rs.Get().Desc().Parameters, 1)
}

func TestRootSignatureRejectsOutOfRangeSlots(t *testing.T) {
	sm := newSystems(t)
	rs := NewRootSignature(sm)
	assert.ErrorIs(t, rs.AddCBV(MaxSlotsPerSpace, 0), core.ErrUnknownSlot)
	assert.ErrorIs(t, rs.AddSRV(0, MaxRegisterSpaces), core.ErrUnknownSlot)
}

func TestRootSignatureRejectsDuplicateSlots(t *testing.T) {
	sm := newSystems(t)
	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddSRV(0, 0))
	// a table and a root view share the t registers
	assert.ErrorIs(t, rs.AddRootSRV(0, 0), core.ErrSlotDeclared)
	assert.ErrorIs(t, rs.AddSRV(0, 0), core.ErrSlotDeclared)
	require.NoError(t, rs.AddRootUAV(0, 0))
	assert.ErrorIs(t, rs.AddUAV(0, 0), core.ErrSlotDeclared)
	// same slot in another space or register class is fine
	require.NoError(t, rs.AddRootSRV(0, 1))
	require.NoError(t, rs.AddCBV(0, 0))

	require.NoError(t, rs.AddStaticSampler(gpu.StaticSampler{}, 0, 0))
	assert.ErrorIs(t, rs.AddStaticSampler(gpu.StaticSampler{}, 0, 0), core.ErrSlotDeclared)

	require.NoError(t, rs.Build(sm.Device(), false))
	desc := rs.Get().Desc()
	assert.Len(t, desc.Parameters, 4)
	assert.Len(t, desc.StaticSamplers, 1)
	assert.Equal(t, gpu.RootParameterTableSRV, desc.Parameters[0].Type)
}

func TestRootSignatureMapsSlotsToParameters(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.AddSRV(0, 0))
	require.NoError(t, rs.AddCBV(1, 2))
	require.NoError(t, rs.AddSRV(3, 1))
	require.NoError(t, rs.Build(sm.Device(), false))
	require.NoError(t, rs.SetOnCommandList(cl))

	res, err := sm.Device().CreateCommittedResource(gpu.HeapDefault, gpu.Tex2DDesc(gpu.FormatR32Float, 4, 4, 1, gpu.ResourceFlagNone), gpu.StatePixelShaderResource, nil)
	require.NoError(t, err)
	view, err := sm.Memory().CreateSRV(res, false)
	require.NoError(t, err)
	handle, err := sm.Memory().GPUHandle(view)
	require.NoError(t, err)

	require.NoError(t, rs.SetCBV(cl, 1, 2, shaderdata.TonemapConstants{Exposure: 1}))
	require.NoError(t, rs.SetSRV(cl, 3, 1, view))

	require.Len(t, cl.calls, 3)
	assert.Equal(t, "gfx-sig", cl.calls[0].method)
	assert.Equal(t, "gfx-cbv", cl.calls[1].method)
	assert.Equal(t, uint32(2), cl.calls[1].index)
	assert.Equal(t, rootCall{"gfx-table", 3, handle.Ptr}, cl.calls[2])

	assert.ErrorIs(t, rs.SetSRV(cl, 5, 0, view), core.ErrUnknownSlot)
	assert.ErrorIs(t, rs.SetUAV(cl, 0, 0, view), core.ErrUnknownSlot)
}

func TestRootSignatureEmptyViewIsNoop(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddSRV(0, 0))
	require.NoError(t, rs.AddUAV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), false))

	require.NoError(t, rs.SetSRV(cl, 0, 0, memory.DescriptorView{}))
	require.NoError(t, rs.SetUAV(cl, 0, 0, memory.DescriptorView{}))
	assert.Empty(t, cl.calls)
}

func TestRootSignatureSetCBVAllocatesEveryCall(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), true))

	data := shaderdata.RadixConstants{Count: 16, Shift: 4, GroupSize: 256}
	require.NoError(t, rs.SetCBV(cl, 0, 0, data))
	require.NoError(t, rs.SetCBV(cl, 0, 0, data))

	require.Len(t, cl.calls, 2)
	assert.Equal(t, "cs-cbv", cl.calls[0].method)
	assert.NotEqual(t, cl.calls[0].value, cl.calls[1].value)
	assert.Equal(t, uint64(memory.ConstantAlignment), cl.calls[1].value-cl.calls[0].value)
}

func TestRootSignatureStructuredBufferBindsAddress(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	h, err := systems.CreateInstanceBuffer(sm.Buffers(), "particles", make([]shaderdata.Particle, 8), gpu.ResourceFlagAllowUnorderedAccess, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	addr, err := sm.Buffers().InstanceBufferAddress(h)
	require.NoError(t, err)

	gfx := NewRootSignature(sm)
	require.NoError(t, gfx.AddRootSRV(1, 0))
	require.NoError(t, gfx.Build(sm.Device(), false))
	require.NoError(t, gfx.SetStructuredBufferSRV(cl, 1, 0, h))

	cs := NewRootSignature(sm)
	require.NoError(t, cs.AddRootUAV(0, 0))
	require.NoError(t, cs.Build(sm.Device(), true))
	require.NoError(t, cs.SetStructuredBufferUAV(cl, 0, 0, h))

	assert.Equal(t, []rootCall{{"gfx-srv", 0, uint64(addr)}, {"cs-uav", 0, uint64(addr)}}, cl.calls)

	require.NoError(t, sm.Buffers().RemoveInstanceBuffer(h))
	assert.ErrorIs(t, gfx.SetStructuredBufferSRV(cl, 1, 0, h), core.ErrInvalidHandle)
}

func TestSetCBVRejectsVariableSizedData(t *testing.T) {
	sm := newSystems(t)
	cl := newRecorder(t, sm)

	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), true))

	named := struct {
		Name  string
		Scale float32
	}{"sun", 1}
	assert.ErrorIs(t, rs.SetCBV(cl, 0, 0, named), shaderdata.ErrNotFixedSize)
	assert.ErrorIs(t, rs.SetCBV(cl, 0, 0, []int{1, 2}), shaderdata.ErrNotFixedSize)
	assert.Empty(t, cl.calls)

	require.NoError(t, rs.SetCBV(cl, 0, 0, shaderdata.TonemapConstants{Exposure: 2}))
	assert.Len(t, cl.calls, 1)
}

func TestRootSignatureResetAllowsRebuild(t *testing.T) {
	sm := newSystems(t)
	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), false))
	rs.Reset()
	assert.Nil(t, rs.Get())
	require.NoError(t, rs.Build(sm.Device(), true))
	assert.True(t, rs.IsCompute())
}

func buildSignature(t *testing.T, sm *systems.SystemManager, compute bool) *RootSignature {
	t.Helper()
	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.AddSRV(0, 0))
	require.NoError(t, rs.AddStaticSampler(gpu.StaticSampler{Filter: gpu.FilterComparisonLinear, ComparisonFunc: gpu.ComparisonLessEqual}, 0, 0))
	require.NoError(t, rs.Build(sm.Device(), compute))
	return rs
}

func TestPipelineStateGraphicsDualBuild(t *testing.T) {
	sm := newSystems(t)
	device := &descRecorder{Device: sm.Device().(*soft.Device)}
	rs := buildSignature(t, sm, false)

	desc := DefaultDesc()
	desc.RootSignature = rs.Get()
	desc.VS = gpu.ShaderBytecode{Name: shaderdata.PropVS}
	desc.PS = gpu.ShaderBytecode{Name: shaderdata.PropPS}
	desc.SampleDesc = gpu.SampleDesc{Count: 2, Quality: 3}
	ps := NewGraphicsPipelineState(desc)

	cl := newRecorder(t, sm)
	assert.ErrorIs(t, ps.Set(cl, false), core.ErrNotBuilt)

	require.NoError(t, ps.Build(device))
	assert.ErrorIs(t, ps.Build(device), core.ErrAlreadyBuilt)

	require.NoError(t, ps.Set(cl, false))
	require.NoError(t, ps.Set(cl, true))
	require.Len(t, cl.pipelines, 2)
	require.NotNil(t, cl.pipelines[0])
	require.NotNil(t, cl.pipelines[1])
	assert.NotSame(t, cl.pipelines[0], cl.pipelines[1])
	assert.Equal(t, uint32(2), cl.pipelines[0].SampleCount())
	assert.Equal(t, uint32(MultisampleCount), cl.pipelines[1].SampleCount())

	require.Len(t, device.graphics, 2)
	assert.Equal(t, gpu.SampleDesc{Count: 4, Quality: 0}, device.graphics[1].SampleDesc)
	assert.True(t, device.graphics[1].Rasterizer.MultisampleEnable)
	assert.False(t, device.graphics[0].Rasterizer.MultisampleEnable)
	// the template is left alone
	assert.Equal(t, gpu.SampleDesc{Count: 2, Quality: 3}, ps.GraphicsDesc().SampleDesc)
}

func TestPipelineStateMeshDualBuild(t *testing.T) {
	sm := newSystems(t)
	device := &descRecorder{Device: sm.Device().(*soft.Device)}
	rs := buildSignature(t, sm, false)

	desc := DepthWriteDisableMeshDesc()
	desc.RootSignature = rs.Get()
	desc.MS = gpu.ShaderBytecode{Name: shaderdata.ParticleDrawMS}
	desc.PS = gpu.ShaderBytecode{Name: shaderdata.ParticleDrawPS}
	ps := NewMeshPipelineState(desc)
	require.NoError(t, ps.Build(device))

	single, multi := ps.Variant(false), ps.Variant(true)
	require.NotNil(t, single)
	require.NotNil(t, multi)
	assert.NotSame(t, single, multi)
	assert.Equal(t, uint32(1), single.SampleCount())
	assert.Equal(t, uint32(4), multi.SampleCount())
	assert.Equal(t, gpu.PipelineMesh, multi.Kind())

	require.Len(t, device.mesh, 2)
	assert.True(t, device.mesh[1].Rasterizer.MultisampleEnable)
	assert.Equal(t, uint32(4), device.mesh[1].SampleDesc.Count)
}

func TestPipelineStateComputeBuildsOnce(t *testing.T) {
	sm := newSystems(t)
	rs := NewRootSignature(sm)
	require.NoError(t, rs.AddCBV(0, 0))
	require.NoError(t, rs.AddRootUAV(0, 0))
	require.NoError(t, rs.Build(sm.Device(), true))

	ps := NewComputePipelineState(gpu.ComputePipelineDesc{RootSignature: rs.Get(), CS: gpu.ShaderBytecode{Name: shaderdata.ParticleSimulateCS}})
	require.NoError(t, ps.Build(sm.Device()))
	assert.Same(t, ps.Variant(false), ps.Variant(true))
	assert.Equal(t, shaderdata.ParticleSimulateCS, ps.Name())
}

func TestPipelineStateUnknownShaderFails(t *testing.T) {
	sm := newSystems(t)
	rs := buildSignature(t, sm, false)

	desc := DefaultShadowDesc()
	desc.RootSignature = rs.Get()
	desc.VS = gpu.ShaderBytecode{Name: "Missing_VS"}
	ps := NewGraphicsPipelineState(desc)
	assert.ErrorIs(t, ps.Build(sm.Device()), core.ErrShaderNotFound)

	cl := newRecorder(t, sm)
	assert.ErrorIs(t, ps.Set(cl, true), core.ErrNotBuilt)
}
