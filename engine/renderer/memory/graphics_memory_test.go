package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

func newMemory(t *testing.T) (*soft.Device, *GraphicsMemory) {
	t.Helper()
	device := soft.NewDevice(soft.DefaultOptions())
	gm, err := NewGraphicsMemory(device, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(gm.Shutdown)
	return device, gm
}

func TestSrvPoolExhaustionAndReuse(t *testing.T) {
	_, gm := newMemory(t)

	for i := 0; i < 256; i++ {
		index, err := gm.AllocateSrvOrUav()
		require.NoError(t, err)
		require.Equal(t, uint32(i), index)
	}
	_, err := gm.AllocateSrvOrUav()
	require.ErrorIs(t, err, core.ErrDescriptorPoolExhausted)

	require.NoError(t, gm.FreeSrvOrUav(17))
	index, err := gm.AllocateSrvOrUav()
	require.NoError(t, err)
	assert.Equal(t, uint32(17), index)
}

func TestFreeAllocateRoundTrip(t *testing.T) {
	_, gm := newMemory(t)

	a, err := gm.AllocateRtv()
	require.NoError(t, err)
	b, err := gm.AllocateRtv()
	require.NoError(t, err)
	before := gm.FreeCount(DescriptorRtv)

	require.NoError(t, gm.FreeRtv(a))
	c, err := gm.AllocateRtv()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, before, gm.FreeCount(DescriptorRtv))
	assert.Equal(t, 2, gm.Used(DescriptorRtv))

	require.ErrorIs(t, gm.FreeDsv(3), core.ErrInvalidHandle)
	require.NoError(t, gm.FreeRtv(b))
	require.ErrorIs(t, gm.FreeRtv(b), core.ErrInvalidHandle)
}

func TestViewReleaseReusesIndex(t *testing.T) {
	device, gm := newMemory(t)
	tex, err := device.CreateCommittedResource(gpu.HeapDefault,
		gpu.Tex2DDesc(gpu.FormatR16G16B16A16Float, 8, 8, 1, gpu.ResourceFlagAllowRenderTarget),
		gpu.StateRenderTarget, nil)
	require.NoError(t, err)

	srv, err := gm.CreateSRV(tex, false)
	require.NoError(t, err)
	rtv, err := gm.CreateRTV(tex)
	require.NoError(t, err)
	used := gm.Used(DescriptorSrvUav)

	require.NoError(t, gm.Release(srv))
	assert.Equal(t, used-1, gm.Used(DescriptorSrvUav))
	require.ErrorIs(t, gm.Release(srv), core.ErrStaleDescriptor)

	again, err := gm.CreateSRV(tex, false)
	require.NoError(t, err)
	assert.Equal(t, srv.Index, again.Index)
	assert.NotEqual(t, srv.Generation, again.Generation)

	_, err = gm.GPUHandle(rtv)
	require.ErrorIs(t, err, core.ErrWrongDescriptorKind)
	_, err = gm.CPUHandle(rtv)
	require.NoError(t, err)
	gpuHandle, err := gm.GPUHandle(again)
	require.NoError(t, err)
	assert.NotZero(t, gpuHandle.Ptr)
}

func TestFailedViewCreationReturnsTheSlot(t *testing.T) {
	device, gm := newMemory(t)
	buf, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.StateCommon, nil)
	require.NoError(t, err)

	_, err = gm.CreateBufferUAV(buf, 4, gpu.BufferUAVFlagNone)
	require.Error(t, err)
	assert.Equal(t, 0, gm.Used(DescriptorSrvUav))
}

func TestFreeSrvByCpuHandle(t *testing.T) {
	_, gm := newMemory(t)

	gm.FreeSrvByCpuHandle(gpu.CPUDescriptorHandle{Ptr: 0xdeadbeef})
	assert.Equal(t, 0, gm.FreeCount(DescriptorSrvUav))

	cpu, gpuHandle, err := gm.AllocateSrvOrUavHandles()
	require.NoError(t, err)
	assert.NotZero(t, cpu.Ptr)
	assert.NotZero(t, gpuHandle.Ptr)
	assert.Equal(t, 1, gm.Used(DescriptorSrvUav))

	gm.FreeSrvByCpuHandle(cpu)
	assert.Equal(t, 0, gm.Used(DescriptorSrvUav))
	gm.FreeSrvByCpuHandle(cpu)
	assert.Equal(t, 1, gm.FreeCount(DescriptorSrvUav))
}

func TestShutdownInvalidatesViews(t *testing.T) {
	device := soft.NewDevice(soft.DefaultOptions())
	gm, err := NewGraphicsMemory(device, DefaultConfig())
	require.NoError(t, err)
	tex, err := device.CreateCommittedResource(gpu.HeapDefault,
		gpu.Tex2DDesc(gpu.FormatR32Float, 4, 4, 1, gpu.ResourceFlagNone), gpu.StateCommon, nil)
	require.NoError(t, err)
	view, err := gm.CreateSRV(tex, false)
	require.NoError(t, err)

	gm.Shutdown()

	_, err = gm.CPUHandle(view)
	require.ErrorIs(t, err, core.ErrStaleDescriptor)
	require.ErrorIs(t, gm.Release(view), core.ErrStaleDescriptor)
	_, err = gm.AllocateSrvOrUav()
	require.ErrorIs(t, err, ErrShutdown)
	gm.FreeSrvByCpuHandle(gpu.CPUDescriptorHandle{Ptr: 1})
}

func TestAllocateConstantAlignmentAndRecycling(t *testing.T) {
	device, gm := newMemory(t)

	a, err := gm.AllocateConstant(make([]byte, 12))
	require.NoError(t, err)
	b, err := gm.AllocateConstant(make([]byte, 300))
	require.NoError(t, err)
	c, err := gm.AllocateConstant([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Zero(t, uint64(a)%ConstantAlignment)
	assert.Equal(t, a+256, b)
	assert.Equal(t, b+512, c)

	data, err := soft.BufferData(mustResolve(t, gm))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data[768:772])

	current, inFlight, free := gm.PageCounts()
	assert.Equal(t, 1, current)
	assert.Zero(t, inFlight)
	assert.Zero(t, free)

	require.NoError(t, gm.Commit(device.Queue()))
	assert.Equal(t, uint64(1), gm.FrameFenceValue())
	current, inFlight, free = gm.PageCounts()
	assert.Zero(t, current)
	assert.Zero(t, inFlight)
	assert.Equal(t, 1, free)

	d, err := gm.AllocateConstant(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, a, d)
}

func TestAllocateConstantSpillsToNewPage(t *testing.T) {
	_, gm := newMemory(t)

	first, err := gm.AllocateConstant(make([]byte, 64*1024-256))
	require.NoError(t, err)
	second, err := gm.AllocateConstant(make([]byte, 512))
	require.NoError(t, err)
	assert.NotEqual(t, first+64*1024-256, second)

	big, err := gm.AllocateConstant(make([]byte, 100*1024))
	require.NoError(t, err)
	assert.NotZero(t, big)
	current, _, _ := gm.PageCounts()
	assert.Equal(t, 3, current)
}

func mustResolve(t *testing.T, gm *GraphicsMemory) gpu.Resource {
	t.Helper()
	require.NotEmpty(t, gm.current)
	return gm.current[0].res
}
