package systems

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

type instance struct {
	Position math.Vec3
	Scale    float32
}

func newBufferManager(t *testing.T) (*soft.Device, *BufferManager) {
	t.Helper()
	device := soft.NewDevice(soft.DefaultOptions())
	bm, err := NewBufferManager(device)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm.Shutdown() })
	return device, bm
}

func instances(n int) []instance {
	out := make([]instance, n)
	for i := range out {
		out[i] = instance{Position: math.Vec3{X: float32(i)}, Scale: float32(i) + 0.5}
	}
	return out
}

func TestJobSystemRejectsBadConfig(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	require.NoError(t, err)

	var completed, failed, done atomic.Int32
	for i := 0; i < 10; i++ {
		fail := i%2 == 0
		js.Submit(JobTask{
			Run: func() error {
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			OnComplete:           func() { completed.Add(1) },
			OnFailure:            func(error) { failed.Add(1) },
			OnCompletionCallback: func() { done.Add(1) },
		})
	}
	require.NoError(t, js.Shutdown())
	assert.Equal(t, int32(5), completed.Load())
	assert.Equal(t, int32(5), failed.Load())
	assert.Equal(t, int32(10), done.Load())
	// a second shutdown is harmless
	require.NoError(t, js.Shutdown())
}

func TestJobSystemParallelForVisitsEveryIndexOnce(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	require.NoError(t, err)
	defer js.Shutdown()

	for _, n := range []int{0, 1, 3, 4, 257, 1000} {
		hits := make([]int32, n)
		js.ParallelFor(n, func(i int) {
			atomic.AddInt32(&hits[i], 1)
		})
		for i, h := range hits {
			require.Equal(t, int32(1), h, "n=%d index %d", n, i)
		}
	}
}

func TestCreateInstanceBufferUploadsData(t *testing.T) {
	device, bm := newBufferManager(t)
	data := instances(5)

	h, err := CreateInstanceBuffer(bm, "instances", data, gpu.ResourceFlagAllowUnorderedAccess, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)

	entry, ok := bm.GetInstanceBuffer(h)
	require.True(t, ok)
	assert.Equal(t, uint32(5), entry.InstanceCount)
	assert.Equal(t, uint32(16), entry.Stride)
	assert.Equal(t, gpu.StateNonPixelShaderResource, entry.Buffer.State())
	assert.Equal(t, gpu.StateNonPixelShaderResource, soft.ResourceState(entry.Buffer.Get()))

	raw, err := soft.BufferData(entry.Buffer.Get())
	require.NoError(t, err)
	var got [5]instance
	require.NoError(t, shaderdata.Decode(raw, &got))
	assert.Equal(t, data, got[:])
	assert.Zero(t, device.ValidationErrors())

	addr, err := bm.InstanceBufferAddress(h)
	require.NoError(t, err)
	assert.Equal(t, entry.Buffer.GPUAddress(), addr)
}

func TestBufferManagerRemoveAndRecreate(t *testing.T) {
	_, bm := newBufferManager(t)

	a, err := CreateInstanceBuffer(bm, "a", instances(5), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	b, err := CreateInstanceBuffer(bm, "b", instances(7), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	bBefore, _ := bm.GetInstanceBuffer(b)
	bAddr := bBefore.Buffer.GPUAddress()

	require.NoError(t, bm.RemoveInstanceBuffer(a))
	_, ok := bm.GetInstanceBuffer(a)
	assert.False(t, ok)
	assert.ErrorIs(t, bm.RemoveInstanceBuffer(a), core.ErrInvalidHandle)

	c, err := CreateInstanceBuffer(bm, "c", instances(3), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	assert.Equal(t, a.Index, c.Index)
	assert.NotEqual(t, a.Generation, c.Generation)

	_, ok = bm.GetInstanceBuffer(a)
	assert.False(t, ok, "the old handle must not alias the new buffer")

	entry, ok := bm.GetInstanceBuffer(c)
	require.True(t, ok)
	assert.Equal(t, uint32(3), entry.InstanceCount)

	entry, ok = bm.GetInstanceBuffer(b)
	require.True(t, ok)
	assert.Equal(t, uint32(7), entry.InstanceCount)
	assert.Equal(t, bAddr, entry.Buffer.GPUAddress())

	_, err = bm.InstanceBufferAddress(a)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestCreateInstanceBufferRejectsEmptyData(t *testing.T) {
	_, bm := newBufferManager(t)
	_, err := CreateInstanceBuffer[instance](bm, "empty", nil, gpu.ResourceFlagNone, gpu.StateCommon)
	assert.ErrorIs(t, err, gpu.ErrInvalidCall)

	_, err = bm.CreateBuffer("empty", 4, 0, gpu.ResourceFlagNone, gpu.StateCommon)
	assert.ErrorIs(t, err, gpu.ErrInvalidCall)
}

func TestCreateBufferIsZeroed(t *testing.T) {
	_, bm := newBufferManager(t)
	h, err := bm.CreateBuffer("keys", 4, 64, gpu.ResourceFlagAllowUnorderedAccess, gpu.StateUnorderedAccess)
	require.NoError(t, err)
	entry, ok := bm.GetInstanceBuffer(h)
	require.True(t, ok)
	assert.Equal(t, uint64(256), entry.Size())

	raw, err := soft.BufferData(entry.Buffer.Get())
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 256), raw[:256])
}

func TestCreateMesh(t *testing.T) {
	device, bm := newBufferManager(t)
	vertices, indices := math.GeometryGenerateBox(math.Vec3{X: 1, Y: 1, Z: 1})

	h, err := bm.CreateMesh("box", vertices, indices)
	require.NoError(t, err)
	mesh, ok := bm.GetMesh(h)
	require.True(t, ok)
	assert.Equal(t, uint32(24), mesh.VertexCount)
	assert.Equal(t, uint32(36), mesh.IndexCount)
	assert.Equal(t, gpu.StateIndexBuffer, mesh.IndexBuffer.State())
	assert.Equal(t, uint32(shaderdata.Vertex3DStride), mesh.VertexBufferView().Stride)
	assert.Equal(t, uint32(72), mesh.IndexBufferView().Size)

	raw, err := soft.BufferData(mesh.VertexBuffer.Get())
	require.NoError(t, err)
	assert.Equal(t, vertices[3], shaderdata.ReadVertex3D(raw[3*shaderdata.Vertex3DStride:]))
	assert.Zero(t, device.ValidationErrors())

	require.NoError(t, bm.RemoveMesh(h))
	_, ok = bm.GetMesh(h)
	assert.False(t, ok)
	ib, meshes := bm.Counts()
	assert.Zero(t, ib)
	assert.Zero(t, meshes)
}

func TestBufferManagerShutdownInvalidatesHandles(t *testing.T) {
	_, bm := newBufferManager(t)
	h, err := CreateInstanceBuffer(bm, "a", instances(2), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	require.NoError(t, bm.Shutdown())
	_, ok := bm.GetInstanceBuffer(h)
	assert.False(t, ok)
}

func TestUploadFailsOnRemovedDevice(t *testing.T) {
	device, bm := newBufferManager(t)
	device.Remove()
	_, err := CreateInstanceBuffer(bm, "lost", instances(2), gpu.ResourceFlagNone, gpu.StateCommon)
	assert.ErrorIs(t, err, gpu.ErrDeviceRemoved)
	ib, _ := bm.Counts()
	assert.Zero(t, ib)
}

// listTracker hands out the soft device's command lists and keeps them.
type listTracker struct {
	*soft.Device
	lists []gpu.CommandList
}

func (d *listTracker) CreateCommandList() (gpu.CommandList, error) {
	cl, err := d.Device.CreateCommandList()
	if err == nil {
		d.lists = append(d.lists, cl)
	}
	return cl, err
}

func TestUploadReleasesItsCommandList(t *testing.T) {
	device := &listTracker{Device: soft.NewDevice(soft.DefaultOptions())}
	bm, err := NewBufferManager(device)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm.Shutdown() })

	_, err = CreateInstanceBuffer(bm, "released", instances(3), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	require.NotEmpty(t, device.lists)
	for _, cl := range device.lists {
		assert.ErrorIs(t, cl.Reset(), gpu.ErrInvalidCall)
	}
}

type spirvDevice struct {
	*soft.Device
}

func (d spirvDevice) Capabilities() gpu.Capabilities {
	caps := d.Device.Capabilities()
	caps.ShaderFormat = gpu.ShaderFormatSPIRV
	return caps
}

func TestShaderLibraryBuiltin(t *testing.T) {
	sl := NewShaderLibrary(ShaderLibraryConfig{}, soft.NewDevice(soft.DefaultOptions()))

	bc, err := sl.Load(shaderdata.ParticleSimulateCS)
	require.NoError(t, err)
	assert.Equal(t, shaderdata.ParticleSimulateCS, bc.Name)
	assert.Empty(t, bc.Code)

	_, err = sl.Load("NoSuchShader")
	assert.ErrorIs(t, err, core.ErrShaderNotFound)
	assert.ErrorIs(t, sl.Require(shaderdata.PropVS, "NoSuchShader"), core.ErrShaderNotFound)

	bc, err = sl.Load("")
	require.NoError(t, err)
	assert.True(t, bc.IsEmpty())
}

func TestShaderLibraryReadsSPIRV(t *testing.T) {
	dir := t.TempDir()
	code := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Prop_VS.spv"), code, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken_PS.spv"), []byte{1, 2, 3}, 0o644))

	sl := NewShaderLibrary(ShaderLibraryConfig{ShaderDir: dir}, spirvDevice{soft.NewDevice(soft.DefaultOptions())})

	bc, err := sl.Load("Prop_VS")
	require.NoError(t, err)
	assert.Equal(t, code, bc.Code)

	// served from the cache once read
	require.NoError(t, os.Remove(filepath.Join(dir, "Prop_VS.spv")))
	bc, err = sl.Load("Prop_VS")
	require.NoError(t, err)
	assert.Equal(t, code, bc.Code)

	_, err = sl.Load("Missing_PS")
	assert.ErrorIs(t, err, core.ErrShaderNotFound)
	_, err = sl.Load("Broken_PS")
	assert.Error(t, err)
}

func softFactory(opts soft.Options) DeviceFactory {
	return func(jobs *JobSystem) (gpu.Device, error) {
		opts.Executor = jobs
		return soft.NewDevice(opts), nil
	}
}

func TestSystemManagerRequiresMeshShaders(t *testing.T) {
	opts := soft.DefaultOptions()
	opts.MeshShaderTier = 0
	_, err := NewSystemManager(DefaultSystemManagerConfig(), softFactory(opts))
	assert.ErrorIs(t, err, core.ErrCapabilityMissing)

	opts = soft.DefaultOptions()
	opts.ShaderModel = 65
	_, err = NewSystemManager(DefaultSystemManagerConfig(), softFactory(opts))
	assert.ErrorIs(t, err, core.ErrCapabilityMissing)
}

func TestSystemManagerRecreatesDevice(t *testing.T) {
	sm, err := NewSystemManager(DefaultSystemManagerConfig(), softFactory(soft.DefaultOptions()))
	require.NoError(t, err)
	defer sm.Shutdown()

	first := sm.Device()
	h, err := CreateInstanceBuffer(sm.Buffers(), "a", instances(4), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	require.NoError(t, err)
	entry, ok := sm.Buffers().GetInstanceBuffer(h)
	require.True(t, ok)
	view, err := sm.Memory().CreateBufferSRV(entry.Buffer.Get(), 16, 4)
	require.NoError(t, err)

	first.(*soft.Device).Remove()
	require.NoError(t, sm.RecreateDevice())

	assert.NotSame(t, first, sm.Device())
	_, ok = sm.Buffers().GetInstanceBuffer(h)
	assert.False(t, ok)
	_, err = sm.Memory().CPUHandle(view)
	assert.ErrorIs(t, err, core.ErrStaleDescriptor)

	_, err = CreateInstanceBuffer(sm.Buffers(), "b", instances(4), gpu.ResourceFlagNone, gpu.StateNonPixelShaderResource)
	assert.NoError(t, err)
}
