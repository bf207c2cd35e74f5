package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

// recorder counts barriers and forwards everything else to a real list.
type recorder struct {
	gpu.CommandList
	barriers []gpu.Barrier
}

func (r *recorder) ResourceBarrier(barriers ...gpu.Barrier) {
	r.barriers = append(r.barriers, barriers...)
	r.CommandList.ResourceBarrier(barriers...)
}

func newRecorder(t *testing.T, device gpu.Device) *recorder {
	t.Helper()
	cl, err := device.CreateCommandList()
	require.NoError(t, err)
	return &recorder{CommandList: cl}
}

func TestTransitionBeforeCreateFails(t *testing.T) {
	device := soft.NewDevice(soft.DefaultOptions())
	cl := newRecorder(t, device)

	var r Resource
	assert.False(t, r.IsCreated())
	assert.ErrorIs(t, r.Transition(cl, gpu.StateCopyDest), core.ErrResourceNotCreated)
	assert.ErrorIs(t, r.UAVBarrier(cl), core.ErrResourceNotCreated)
	assert.Empty(t, cl.barriers)
	assert.Zero(t, r.GPUAddress())
}

func TestTransitionIsIdempotent(t *testing.T) {
	device := soft.NewDevice(soft.DefaultOptions())
	cl := newRecorder(t, device)

	var r Resource
	require.NoError(t, r.Create(device, gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagAllowUnorderedAccess), gpu.StateCommon, nil))
	r.SetName("tracked")

	require.NoError(t, r.Transition(cl, gpu.StateUnorderedAccess))
	require.NoError(t, r.Transition(cl, gpu.StateUnorderedAccess))
	assert.Len(t, cl.barriers, 1)
	assert.Equal(t, gpu.StateUnorderedAccess, r.State())

	require.NoError(t, r.UAVBarrier(cl))
	assert.Equal(t, gpu.StateUnorderedAccess, r.State())

	require.NoError(t, r.Transition(cl, gpu.StateNonPixelShaderResource))
	require.Len(t, cl.barriers, 3)
	last := cl.barriers[2]
	assert.Equal(t, gpu.StateUnorderedAccess, last.Before)
	assert.Equal(t, gpu.StateNonPixelShaderResource, last.After)

	// the tracked state runs ahead of execution
	assert.Equal(t, gpu.StateCommon, soft.ResourceState(r.Get()))
	require.NoError(t, cl.Close())
	require.NoError(t, device.Queue().ExecuteCommandLists(cl.CommandList))
	assert.Equal(t, gpu.StateNonPixelShaderResource, soft.ResourceState(r.Get()))
	assert.Zero(t, device.ValidationErrors())
}

func TestCreateReplacesResource(t *testing.T) {
	device := soft.NewDevice(soft.DefaultOptions())

	var r Resource
	require.NoError(t, r.Create(device, gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.StateCopyDest, nil))
	first := r.Get()
	require.NoError(t, r.Create(device, gpu.HeapDefault, gpu.BufferDesc(512, gpu.ResourceFlagNone), gpu.StateCommon, nil))
	assert.NotSame(t, first, r.Get())
	assert.Equal(t, gpu.StateCommon, r.State())
	assert.Equal(t, uint64(512), r.Get().Desc().Width)

	r.Reset()
	assert.False(t, r.IsCreated())
	assert.Equal(t, gpu.StateCommon, r.State())
}

func TestAdopt(t *testing.T) {
	device := soft.NewDevice(soft.DefaultOptions())
	res, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.Tex2DDesc(gpu.FormatR8G8B8A8Unorm, 4, 4, 1, gpu.ResourceFlagAllowRenderTarget), gpu.StatePresent, nil)
	require.NoError(t, err)

	var r Resource
	r.Adopt(res, gpu.StatePresent)
	cl := newRecorder(t, device)
	require.NoError(t, r.Transition(cl, gpu.StateRenderTarget))
	require.Len(t, cl.barriers, 1)
	assert.Equal(t, gpu.StatePresent, cl.barriers[0].Before)
}
