package components

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/systems"
)

func newSystems(t *testing.T) *systems.SystemManager {
	t.Helper()
	config := systems.DefaultSystemManagerConfig()
	config.Workers = 2
	sm, err := systems.NewSystemManager(config, func(jobs *systems.JobSystem) (gpu.Device, error) {
		opts := soft.DefaultOptions()
		opts.Executor = jobs
		return soft.NewDevice(opts), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Shutdown() })
	return sm
}

// submit records one command list, executes it and waits for the queue.
func submit(t *testing.T, sm *systems.SystemManager, record func(cl gpu.CommandList) error) {
	t.Helper()
	cl, err := sm.Device().CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, record(cl))
	require.NoError(t, cl.Close())

	queue := sm.Device().Queue()
	require.NoError(t, queue.ExecuteCommandLists(cl))
	require.NoError(t, sm.Memory().Commit(queue))
	require.NoError(t, queue.WaitIdle())
}

func noValidationErrors(t *testing.T, sm *systems.SystemManager) {
	t.Helper()
	d, ok := sm.Device().(*soft.Device)
	require.True(t, ok)
	assert.Zero(t, d.ValidationErrors(), d.LastValidationError())
}

func readUint32s(t *testing.T, sm *systems.SystemManager, h containers.Handle, n int) []uint32 {
	t.Helper()
	entry, ok := sm.Buffers().GetInstanceBuffer(h)
	require.True(t, ok)
	raw, err := soft.BufferData(entry.Buffer.Get())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), n*4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func readBytes(t *testing.T, sm *systems.SystemManager, h containers.Handle) []byte {
	t.Helper()
	entry, ok := sm.Buffers().GetInstanceBuffer(h)
	require.True(t, ok)
	raw, err := soft.BufferData(entry.Buffer.Get())
	require.NoError(t, err)
	return slices.Clone(raw)
}

func TestParallelSortMatchesStableSort(t *testing.T) {
	sm := newSystems(t)
	const n = 1000

	rng := rand.New(rand.NewPCG(7, 11))
	keys := make([]uint32, n)
	payload := make([]uint32, n)
	for i := range keys {
		// few distinct keys so stability matters, plus some in the high bits
		keys[i] = rng.Uint32N(64) | rng.Uint32N(4)<<28
		payload[i] = uint32(i)
	}

	flags := gpu.ResourceFlagAllowUnorderedAccess
	kh, err := systems.CreateInstanceBuffer(sm.Buffers(), "keys", keys, flags, gpu.StateUnorderedAccess)
	require.NoError(t, err)
	ph, err := systems.CreateInstanceBuffer(sm.Buffers(), "payload", payload, flags, gpu.StateUnorderedAccess)
	require.NoError(t, err)

	ps, err := NewParallelSort(sm, 1024)
	require.NoError(t, err)
	defer ps.Release()
	assert.Equal(t, uint32(1024), ps.Capacity())

	submit(t, sm, func(cl gpu.CommandList) error {
		return ps.Sort(cl, kh, ph, n)
	})

	type pair struct{ key, value uint32 }
	want := make([]pair, n)
	for i := range want {
		want[i] = pair{keys[i], payload[i]}
	}
	slices.SortStableFunc(want, func(a, b pair) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})

	gotKeys := readUint32s(t, sm, kh, n)
	gotPayload := readUint32s(t, sm, ph, n)
	for i := range want {
		require.Equal(t, want[i].key, gotKeys[i], "key %d", i)
		require.Equal(t, want[i].value, gotPayload[i], "payload %d", i)
	}
	noValidationErrors(t, sm)
}

func TestParallelSortRejectsOversizedSort(t *testing.T) {
	sm := newSystems(t)

	_, err := NewParallelSort(sm, 0)
	assert.ErrorIs(t, err, gpu.ErrInvalidCall)

	ps, err := NewParallelSort(sm, 16)
	require.NoError(t, err)
	defer ps.Release()

	kh, err := sm.Buffers().CreateBuffer("keys", 4, 32, gpu.ResourceFlagAllowUnorderedAccess, gpu.StateUnorderedAccess)
	require.NoError(t, err)
	ph, err := sm.Buffers().CreateBuffer("payload", 4, 32, gpu.ResourceFlagAllowUnorderedAccess, gpu.StateUnorderedAccess)
	require.NoError(t, err)

	cl, err := sm.Device().CreateCommandList()
	require.NoError(t, err)
	assert.ErrorIs(t, ps.Sort(cl, kh, ph, 17), gpu.ErrInvalidCall)
	// nothing to sort is not an error
	assert.NoError(t, ps.Sort(cl, kh, ph, 0))
	require.NoError(t, cl.Close())
}

func TestSeedParticlesIsDeterministic(t *testing.T) {
	centre := math.NewVec3(1, 2, 3)
	a := SeedParticles(42, 500, centre, 4)
	b := SeedParticles(42, 500, centre, 4)
	c := SeedParticles(43, 500, centre, 4)

	require.Len(t, a, 500)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, p := range a {
		assert.LessOrEqual(t, p.Position.Sub(centre).Length(), float32(4)+1e-4)
		assert.GreaterOrEqual(t, p.Size, float32(0.5))
	}
}

func simulateParticles(t *testing.T, seed uint64, frames int) (particles, keys, payload []byte) {
	t.Helper()
	sm := newSystems(t)
	p, err := NewParticles(sm, ParticlesConfig{Count: 300, Seed: seed, Radius: 5, Centre: math.NewVec3Zero()})
	require.NoError(t, err)
	defer p.Release()

	camera := NewCamera()
	camera.SetPosition(math.NewVec3(0, 0, 20))
	shoot := camera.ScreenToWorldRay(50, 50, 100, 100)

	for frame := 0; frame < frames; frame++ {
		submit(t, sm, func(cl gpu.CommandList) error {
			var ray *math.Ray
			if frame == 1 {
				ray = &shoot
			}
			total := float32(frame+1) / 60
			if err := p.Simulate(cl, 1.0/60, total, math.NewVec3Zero(), ray); err != nil {
				return err
			}
			if err := p.WriteSortKeys(cl, camera.View()); err != nil {
				return err
			}
			return p.Sort(cl)
		})
	}
	noValidationErrors(t, sm)
	return readBytes(t, sm, p.ParticleBuffer()), readBytes(t, sm, p.Keys()), readBytes(t, sm, p.Payload())
}

func TestParticlesAreDeterministic(t *testing.T) {
	p1, k1, i1 := simulateParticles(t, 9, 3)
	p2, k2, i2 := simulateParticles(t, 9, 3)

	assert.Equal(t, p1, p2)
	assert.Equal(t, k1, k2)
	assert.Equal(t, i1, i2)
}

func TestParticleSortOrdersKeysAndPermutesIndices(t *testing.T) {
	_, rawKeys, rawPayload := simulateParticles(t, 3, 2)

	const n = 300
	require.GreaterOrEqual(t, len(rawKeys), n*4)
	keys := make([]uint32, n)
	indices := make([]uint32, n)
	for i := 0; i < n; i++ {
		keys[i] = binary.LittleEndian.Uint32(rawKeys[i*4:])
		indices[i] = binary.LittleEndian.Uint32(rawPayload[i*4:])
	}
	assert.True(t, slices.IsSorted(keys))

	slices.Sort(indices)
	for i, idx := range indices {
		require.Equal(t, uint32(i), idx)
	}
}

type recordingDrawer struct {
	slices []float32
	bounds []math.OBB
	fail   error
}

func (d *recordingDrawer) DrawSlice(cl gpu.CommandList, view, proj math.Mat4, bounds math.OBB, nearPlane float32) error {
	d.slices = append(d.slices, nearPlane)
	d.bounds = append(d.bounds, bounds)
	return d.fail
}

func TestVolShadowMapSlicePlanes(t *testing.T) {
	sm := newSystems(t)
	v, err := NewVolShadowMap(sm, math.NewVec3(0, 0, -1), 8, math.NewVec3Zero(), 16)
	require.NoError(t, err)
	defer v.Release()

	// 2r split into depth-1 slabs
	near, far := v.SlicePlanes(1)
	assert.InDelta(t, 0, near, 1e-6)
	assert.InDelta(t, 4, far, 1e-6)
	near, far = v.SlicePlanes(4)
	assert.InDelta(t, 12, near, 1e-6)
	assert.InDelta(t, 16, far, 1e-6)

	// the light sits r behind the centre looking down -z
	for slice := uint32(1); slice < VolShadowDepth; slice++ {
		near, far := v.SlicePlanes(slice)
		mid := math.NewVec3(0, 0, 8-(near+far)/2)
		box := v.BoundingBox(slice)
		assert.True(t, box.Contains(mid, 1e-3), "slice %d does not contain %v", slice, mid)
		assert.True(t, box.Contains(mid.Add(math.NewVec3(7.9, -7.9, 0)), 1e-3))
		assert.False(t, box.Contains(math.NewVec3(0, 0, 8-far-1), 1e-3))
		// every box starts at the light, not at the near plane of its slice
		assert.True(t, box.Contains(math.NewVec3(0, 0, 8), 1e-3), "slice %d", slice)
	}
}

func TestVolShadowMapRendersEverySliceButTheFirst(t *testing.T) {
	sm := newSystems(t)
	v, err := NewVolShadowMap(sm, math.NewVec3(1, -1, 0), 4, math.NewVec3Zero(), 16)
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, uint32(16), v.Width())

	drawer := &recordingDrawer{}
	submit(t, sm, func(cl gpu.CommandList) error {
		cl.SetDescriptorHeaps(sm.Memory().Heaps()...)
		return v.Render(cl, drawer)
	})

	require.Len(t, drawer.slices, int(VolShadowDepth-1))
	for i, near := range drawer.slices {
		want, _ := v.SlicePlanes(uint32(i + 1))
		assert.InDelta(t, want, near, 1e-6)
	}
	assert.Equal(t, gpu.StateCopyDest, soft.ResourceState(v.volume.Get()))

	submit(t, sm, func(cl gpu.CommandList) error {
		srv, err := v.TransitionAndGetSRV(cl)
		assert.True(t, srv.IsValid())
		return err
	})
	assert.Equal(t, gpu.StateAllShaderResource, soft.ResourceState(v.volume.Get()))

	// nothing was drawn, the volume holds no density; R32 texels read (v, 0, 0, 1)
	texels, err := soft.TextureData(v.volume.Get())
	require.NoError(t, err)
	assert.Len(t, texels, 16*16*int(VolShadowDepth)*4)
	for i := 0; i < len(texels); i += 4 {
		require.Equal(t, []float32{0, 0, 0, 1}, texels[i:i+4], "texel %d", i/4)
	}
	noValidationErrors(t, sm)
}

func TestVolShadowMapStopsOnDrawerError(t *testing.T) {
	sm := newSystems(t)
	v, err := NewVolShadowMap(sm, math.NewVec3(0, 0, -1), 4, math.NewVec3Zero(), 8)
	require.NoError(t, err)
	defer v.Release()

	boom := errors.New("boom")
	drawer := &recordingDrawer{fail: boom}
	cl, err := sm.Device().CreateCommandList()
	require.NoError(t, err)
	err = v.Render(cl, drawer)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, drawer.slices, 1)
	require.NoError(t, cl.Close())
}

func TestRenderTextureClearAndResolve(t *testing.T) {
	sm := newSystems(t)
	rt, err := NewRenderTexture(sm, 8, 4, gpu.FormatR16G16B16A16Float, true)
	require.NoError(t, err)
	defer rt.Release()

	assert.True(t, rt.IsMultisampled())
	assert.Equal(t, float32(8), rt.Viewport().Width)
	rt.SetClearColor([4]float32{0.25, 0.5, 0.75, 1})

	submit(t, sm, func(cl gpu.CommandList) error {
		if err := rt.Clear(cl); err != nil {
			return err
		}
		if err := rt.Resolve(cl); err != nil {
			return err
		}
		_, err := rt.TransitionAndGetSRV(cl)
		return err
	})

	texels, err := soft.TextureData(rt.SingleSampled())
	require.NoError(t, err)
	require.Len(t, texels, 8*4*4)
	for i := 0; i < len(texels); i += 4 {
		assert.InDeltaSlice(t, []float32{0.25, 0.5, 0.75, 1}, texels[i:i+4], 1e-3)
	}
	assert.Equal(t, gpu.StateAllShaderResource, soft.ResourceState(rt.SingleSampled()))
	assert.True(t, rt.SRV().IsValid())
	noValidationErrors(t, sm)

	// the views go back to the pools
	used := sm.Memory().Used(memory.DescriptorSrvUav)
	rt.Release()
	assert.Less(t, sm.Memory().Used(memory.DescriptorSrvUav), used)
}

func TestTextureDrawerKeepsColorSpace(t *testing.T) {
	sm := newSystems(t)
	for _, cs := range []gpu.ColorSpace{gpu.ColorSpaceSRGB, gpu.ColorSpaceHDR10} {
		td, err := NewTextureDrawer(sm, gpu.FormatB8G8R8A8Unorm, cs)
		require.NoError(t, err)
		assert.Equal(t, cs, td.ColorSpace())
		assert.Equal(t, DefaultPaperWhiteNits, td.PaperWhiteNits)
		assert.Equal(t, float32(1), td.Exposure)
		td.Release()
	}
}

func TestDebugOverlayLines(t *testing.T) {
	sm := newSystems(t)
	// a font that cannot be read falls back to the built in one
	o, err := NewDebugOverlay(sm, filepath.Join(t.TempDir(), "missing.fnt"), gpu.FormatR16G16B16A16Float)
	require.NoError(t, err)
	defer o.Release()

	assert.Equal(t, []string{"Performance", "FPS: 0.00", "msPF: 0.00"}, o.Lines())
	o.Update(60)
	assert.Equal(t, []string{"Performance", "FPS: 60.00", "msPF: 16.67"}, o.Lines())
	assert.NotEmpty(t, o.vertices())
}

func TestDebugOverlayDrawsText(t *testing.T) {
	sm := newSystems(t)
	rt, err := NewRenderTexture(sm, 128, 64, gpu.FormatR16G16B16A16Float, false)
	require.NoError(t, err)
	defer rt.Release()
	rt.SetClearColor([4]float32{0, 0, 0, 1})

	o, err := NewDebugOverlay(sm, "", gpu.FormatR16G16B16A16Float)
	require.NoError(t, err)
	defer o.Release()
	o.Update(30)

	submit(t, sm, func(cl gpu.CommandList) error {
		cl.SetDescriptorHeaps(sm.Memory().Heaps()...)
		if err := rt.Clear(cl); err != nil {
			return err
		}
		return o.Draw(cl, rt.Width(), rt.Height(), false)
	})

	texels, err := soft.TextureData(rt.SingleSampled())
	require.NoError(t, err)
	var lit int
	for i := 0; i < len(texels); i += 4 {
		if texels[i] > 0.5 {
			lit++
		}
	}
	assert.Positive(t, lit)
	noValidationErrors(t, sm)

	// hidden draws nothing
	o.Visible = false
	cl, err := sm.Device().CreateCommandList()
	require.NoError(t, err)
	assert.NoError(t, o.Draw(cl, 128, 64, false))
	require.NoError(t, cl.Close())
}
