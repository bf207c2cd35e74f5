package memory

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

var ErrShutdown = errors.New("graphics memory was shut down")

type DescriptorKind uint8

const (
	DescriptorSrvUav DescriptorKind = iota
	DescriptorRtv
	DescriptorDsv
	descriptorKindCount
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorSrvUav:
		return "SRV/UAV"
	case DescriptorRtv:
		return "RTV"
	case DescriptorDsv:
		return "DSV"
	}
	return "unknown"
}

func (k DescriptorKind) heapKind() gpu.HeapKind {
	switch k {
	case DescriptorRtv:
		return gpu.HeapKindRTV
	case DescriptorDsv:
		return gpu.HeapKindDSV
	}
	return gpu.HeapKindSrvUav
}

/**
 * @brief A descriptor slot owned by GraphicsMemory. Views are plain values:
 * they are released explicitly with GraphicsMemory.Release, and every view
 * issued before a Shutdown is stale afterwards.
 */
type DescriptorView struct {
	Kind       DescriptorKind
	Index      uint32
	Generation uint32
	Epoch      uint32
}

// IsValid reports whether the view was ever issued. It says nothing about staleness.
func (v DescriptorView) IsValid() bool {
	return v.Generation != 0
}

type Config struct {
	SrvUavCapacity uint32
	RtvCapacity    uint32
	DsvCapacity    uint32
	// PageSize is the size of one upload page for transient constants.
	PageSize uint64
	// FramesInFlight bounds how many committed frames may hold pages at once.
	FramesInFlight int
}

func DefaultConfig() Config {
	return Config{
		SrvUavCapacity: 256,
		RtvCapacity:    256,
		DsvCapacity:    64,
		PageSize:       64 * 1024,
		FramesInFlight: 3,
	}
}

// ConstantAlignment is the alignment of every transient constant allocation.
const ConstantAlignment = 256

type pool struct {
	kind DescriptorKind
	heap gpu.DescriptorHeap
	free *containers.IndexSet
	pile uint32
	gens []uint32
	live []bool
}

type uploadPage struct {
	res    gpu.Resource
	data   []byte
	offset uint64
}

type retirement struct {
	fenceValue uint64
	pages      []*uploadPage
}

/**
 * @brief Owns the descriptor pools (shader visible SRV/UAV, RTV, DSV) and
 * the per-frame transient constant allocator. One instance lives per
 * device; it is created by the system manager and passed to whoever needs
 * it.
 */
type GraphicsMemory struct {
	device gpu.Device
	config Config
	pools  [descriptorKindCount]*pool
	epoch  uint32

	cpuToIndex map[uint64]uint32

	fence      gpu.Fence
	fenceValue uint64
	current    []*uploadPage
	freePages  []*uploadPage
	inFlight   *containers.RingQueue[retirement]

	shutdown bool
}

// epochs is shared by every GraphicsMemory so views never outlive the instance that issued them.
var epochs atomic.Uint32

func NewGraphicsMemory(device gpu.Device, config Config) (*GraphicsMemory, error) {
	if config.PageSize == 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.FramesInFlight <= 0 {
		config.FramesInFlight = DefaultConfig().FramesInFlight
	}
	gm := &GraphicsMemory{
		device:     device,
		config:     config,
		epoch:      epochs.Add(1),
		cpuToIndex: make(map[uint64]uint32),
		inFlight:   containers.NewRingQueue[retirement](config.FramesInFlight),
	}
	capacities := [descriptorKindCount]uint32{config.SrvUavCapacity, config.RtvCapacity, config.DsvCapacity}
	for k := DescriptorKind(0); k < descriptorKindCount; k++ {
		heap, err := device.CreateDescriptorHeap(k.heapKind(), capacities[k], k == DescriptorSrvUav)
		if err != nil {
			gm.releaseHeaps()
			return nil, fmt.Errorf("failed to create the %s descriptor heap: %w", k, err)
		}
		gm.pools[k] = &pool{
			kind: k,
			heap: heap,
			free: containers.NewIndexSet(),
			gens: make([]uint32, capacities[k]),
			live: make([]bool, capacities[k]),
		}
	}
	fence, err := device.CreateFence(0)
	if err != nil {
		gm.releaseHeaps()
		return nil, fmt.Errorf("failed to create the frame fence: %w", err)
	}
	gm.fence = fence
	core.LogDebug("graphics memory ready: %d SRV/UAV, %d RTV, %d DSV descriptors", config.SrvUavCapacity, config.RtvCapacity, config.DsvCapacity)
	return gm, nil
}

func (gm *GraphicsMemory) releaseHeaps() {
	for i, p := range gm.pools {
		if p != nil {
			p.heap.Release()
			gm.pools[i] = nil
		}
	}
}

// Heaps returns the shader visible heaps to bind on a command list.
func (gm *GraphicsMemory) Heaps() []gpu.DescriptorHeap {
	if gm.shutdown {
		return nil
	}
	return []gpu.DescriptorHeap{gm.pools[DescriptorSrvUav].heap}
}

func (gm *GraphicsMemory) allocate(kind DescriptorKind) (uint32, error) {
	if gm.shutdown {
		return 0, ErrShutdown
	}
	p := gm.pools[kind]
	index, ok := p.free.PopLowest()
	if !ok {
		if p.pile >= p.heap.Capacity() {
			core.LogError("%s descriptor pool exhausted (%d slots)", kind, p.heap.Capacity())
			return 0, fmt.Errorf("%w: %s pool of %d", core.ErrDescriptorPoolExhausted, kind, p.heap.Capacity())
		}
		index = p.pile
		p.pile++
	}
	p.live[index] = true
	p.gens[index]++
	if kind == DescriptorSrvUav {
		gm.cpuToIndex[p.heap.CPUStart().Offset(index, p.heap.Stride()).Ptr] = index
	}
	return index, nil
}

func (gm *GraphicsMemory) free(kind DescriptorKind, index uint32) error {
	if gm.shutdown {
		return ErrShutdown
	}
	p := gm.pools[kind]
	if index >= uint32(len(p.live)) || !p.live[index] {
		return fmt.Errorf("%w: %s descriptor %d is not allocated", core.ErrInvalidHandle, kind, index)
	}
	p.live[index] = false
	p.free.Insert(index)
	if kind == DescriptorSrvUav {
		delete(gm.cpuToIndex, p.heap.CPUStart().Offset(index, p.heap.Stride()).Ptr)
	}
	return nil
}

func (gm *GraphicsMemory) AllocateSrvOrUav() (uint32, error) { return gm.allocate(DescriptorSrvUav) }

func (gm *GraphicsMemory) AllocateRtv() (uint32, error) { return gm.allocate(DescriptorRtv) }

func (gm *GraphicsMemory) AllocateDsv() (uint32, error) { return gm.allocate(DescriptorDsv) }

func (gm *GraphicsMemory) FreeSrvOrUav(index uint32) error { return gm.free(DescriptorSrvUav, index) }

func (gm *GraphicsMemory) FreeRtv(index uint32) error { return gm.free(DescriptorRtv, index) }

func (gm *GraphicsMemory) FreeDsv(index uint32) error { return gm.free(DescriptorDsv, index) }

// AllocateSrvOrUavHandles is the allocation callback for UI backends that
// only deal in raw handles. Free with FreeSrvByCpuHandle.
func (gm *GraphicsMemory) AllocateSrvOrUavHandles() (gpu.CPUDescriptorHandle, gpu.GPUDescriptorHandle, error) {
	index, err := gm.AllocateSrvOrUav()
	if err != nil {
		return gpu.CPUDescriptorHandle{}, gpu.GPUDescriptorHandle{}, err
	}
	p := gm.pools[DescriptorSrvUav]
	return p.heap.CPUStart().Offset(index, p.heap.Stride()), p.heap.GPUStart().Offset(index, p.heap.Stride()), nil
}

// FreeSrvByCpuHandle frees the slot behind handle. Unknown handles are ignored.
func (gm *GraphicsMemory) FreeSrvByCpuHandle(handle gpu.CPUDescriptorHandle) {
	if gm.shutdown {
		return
	}
	index, ok := gm.cpuToIndex[handle.Ptr]
	if !ok {
		return
	}
	_ = gm.FreeSrvOrUav(index)
}

// FreeCount is the number of previously used slots waiting for reuse.
func (gm *GraphicsMemory) FreeCount(kind DescriptorKind) int {
	if gm.shutdown {
		return 0
	}
	return gm.pools[kind].free.Len()
}

// Used is the number of live descriptors of kind.
func (gm *GraphicsMemory) Used(kind DescriptorKind) int {
	if gm.shutdown {
		return 0
	}
	p := gm.pools[kind]
	return int(p.pile) - p.free.Len()
}

func (gm *GraphicsMemory) newView(kind DescriptorKind, create func(dst gpu.CPUDescriptorHandle) error) (DescriptorView, error) {
	index, err := gm.allocate(kind)
	if err != nil {
		return DescriptorView{}, err
	}
	p := gm.pools[kind]
	if err := create(p.heap.CPUStart().Offset(index, p.heap.Stride())); err != nil {
		_ = gm.free(kind, index)
		return DescriptorView{}, fmt.Errorf("failed to create %s view: %w", kind, err)
	}
	return DescriptorView{Kind: kind, Index: index, Generation: p.gens[index], Epoch: gm.epoch}, nil
}

// CreateSRV creates a shader resource view with the default description of res.
func (gm *GraphicsMemory) CreateSRV(res gpu.Resource, isCubeMap bool) (DescriptorView, error) {
	if !isCubeMap {
		return gm.newView(DescriptorSrvUav, func(dst gpu.CPUDescriptorHandle) error {
			return gm.device.CreateShaderResourceView(res, nil, dst)
		})
	}
	desc := gpu.SRVDesc{Format: res.Desc().Format, Dimension: gpu.SRVDimensionTextureCube, MipLevels: res.Desc().MipLevels}
	return gm.CreateSRVWithDesc(res, desc)
}

func (gm *GraphicsMemory) CreateSRVWithDesc(res gpu.Resource, desc gpu.SRVDesc) (DescriptorView, error) {
	return gm.newView(DescriptorSrvUav, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateShaderResourceView(res, &desc, dst)
	})
}

// CreateBufferSRV views res as count structured elements of stride bytes.
func (gm *GraphicsMemory) CreateBufferSRV(res gpu.Resource, stride, count uint32) (DescriptorView, error) {
	return gm.CreateSRVWithDesc(res, gpu.SRVDesc{
		Dimension:           gpu.SRVDimensionBuffer,
		NumElements:         count,
		StructureByteStride: stride,
	})
}

// CreateUAV creates a texture UAV of mip level mip.
func (gm *GraphicsMemory) CreateUAV(res gpu.Resource, mip uint32) (DescriptorView, error) {
	desc := gpu.UAVDesc{Format: res.Desc().Format, Dimension: gpu.UAVDimensionTexture2D, MipSlice: mip}
	if res.Desc().Dimension == gpu.DimensionTexture3D {
		desc.Dimension = gpu.UAVDimensionTexture3D
	}
	return gm.newView(DescriptorSrvUav, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateUnorderedAccessView(res, &desc, dst)
	})
}

// CreateBufferUAV views the whole buffer as elements of stride bytes.
func (gm *GraphicsMemory) CreateBufferUAV(res gpu.Resource, stride uint32, flags gpu.BufferUAVFlags) (DescriptorView, error) {
	if stride == 0 {
		return DescriptorView{}, fmt.Errorf("%w: buffer UAV with zero stride", gpu.ErrInvalidCall)
	}
	desc := gpu.UAVDesc{
		Dimension:           gpu.UAVDimensionBuffer,
		NumElements:         uint32(res.Desc().Width / uint64(stride)),
		StructureByteStride: stride,
		Flags:               flags,
	}
	return gm.newView(DescriptorSrvUav, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateUnorderedAccessView(res, &desc, dst)
	})
}

func (gm *GraphicsMemory) CreateRTV(res gpu.Resource) (DescriptorView, error) {
	return gm.newView(DescriptorRtv, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateRenderTargetView(res, nil, dst)
	})
}

func (gm *GraphicsMemory) CreateRTVWithDesc(res gpu.Resource, desc gpu.RTVDesc) (DescriptorView, error) {
	return gm.newView(DescriptorRtv, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateRenderTargetView(res, &desc, dst)
	})
}

// CreateDSV creates a depth stencil view. A nil desc uses the default for res.
func (gm *GraphicsMemory) CreateDSV(res gpu.Resource, desc *gpu.DSVDesc) (DescriptorView, error) {
	return gm.newView(DescriptorDsv, func(dst gpu.CPUDescriptorHandle) error {
		return gm.device.CreateDepthStencilView(res, desc, dst)
	})
}

func (gm *GraphicsMemory) check(v DescriptorView) (*pool, error) {
	if gm.shutdown || v.Epoch != gm.epoch {
		return nil, fmt.Errorf("%w: %s view %d from epoch %d", core.ErrStaleDescriptor, v.Kind, v.Index, v.Epoch)
	}
	if v.Kind >= descriptorKindCount {
		return nil, fmt.Errorf("%w: unknown descriptor kind %d", core.ErrInvalidHandle, v.Kind)
	}
	p := gm.pools[v.Kind]
	if v.Index >= uint32(len(p.live)) || !p.live[v.Index] || p.gens[v.Index] != v.Generation {
		return nil, fmt.Errorf("%w: %s view %d was released", core.ErrStaleDescriptor, v.Kind, v.Index)
	}
	return p, nil
}

// Release returns the slot of v to its pool.
func (gm *GraphicsMemory) Release(v DescriptorView) error {
	if _, err := gm.check(v); err != nil {
		return err
	}
	return gm.free(v.Kind, v.Index)
}

func (gm *GraphicsMemory) CPUHandle(v DescriptorView) (gpu.CPUDescriptorHandle, error) {
	p, err := gm.check(v)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, err
	}
	return p.heap.CPUStart().Offset(v.Index, p.heap.Stride()), nil
}

// GPUHandle only exists for SRV/UAV views since the other heaps are not shader visible.
func (gm *GraphicsMemory) GPUHandle(v DescriptorView) (gpu.GPUDescriptorHandle, error) {
	p, err := gm.check(v)
	if err != nil {
		return gpu.GPUDescriptorHandle{}, err
	}
	if v.Kind != DescriptorSrvUav {
		return gpu.GPUDescriptorHandle{}, fmt.Errorf("%w: %s views have no GPU handle", core.ErrWrongDescriptorKind, v.Kind)
	}
	return p.heap.GPUStart().Offset(v.Index, p.heap.Stride()), nil
}

// AllocateConstant copies data into this frame's upload memory and returns
// its address. The memory stays valid until the frame retires after Commit.
func (gm *GraphicsMemory) AllocateConstant(data []byte) (gpu.GPUAddress, error) {
	if gm.shutdown {
		return 0, ErrShutdown
	}
	size := alignUp(uint64(len(data)), ConstantAlignment)
	if size == 0 {
		size = ConstantAlignment
	}
	page, err := gm.pageFor(size)
	if err != nil {
		return 0, err
	}
	off := page.offset
	copy(page.data[off:off+size], data)
	page.offset += size
	return page.res.GPUAddress() + gpu.GPUAddress(off), nil
}

func (gm *GraphicsMemory) pageFor(size uint64) (*uploadPage, error) {
	if n := len(gm.current); n > 0 {
		p := gm.current[n-1]
		if p.offset+size <= uint64(len(p.data)) {
			return p, nil
		}
	}
	if size <= gm.config.PageSize {
		if n := len(gm.freePages); n > 0 {
			p := gm.freePages[n-1]
			gm.freePages = gm.freePages[:n-1]
			gm.current = append(gm.current, p)
			return p, nil
		}
	}
	pageSize := gm.config.PageSize
	if size > pageSize {
		pageSize = alignUp(size, ConstantAlignment)
	}
	res, err := gm.device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(pageSize, gpu.ResourceFlagNone), gpu.StateGenericRead, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create an upload page: %w", err)
	}
	res.SetName("transient constants")
	data, err := res.Map()
	if err != nil {
		res.Release()
		return nil, fmt.Errorf("failed to map an upload page: %w", err)
	}
	p := &uploadPage{res: res, data: data}
	gm.current = append(gm.current, p)
	return p, nil
}

/**
 * @brief Ends the frame: signals the frame fence on queue and hands this
 * frame's pages to the in-flight list. Pages of frames whose fence value
 * has completed go back to the free list. Call once per presented frame,
 * after every command list of the frame was submitted.
 */
func (gm *GraphicsMemory) Commit(queue gpu.Queue) error {
	if gm.shutdown {
		return ErrShutdown
	}
	gm.fenceValue++
	if err := queue.Signal(gm.fence, gm.fenceValue); err != nil {
		return fmt.Errorf("failed to signal the frame fence: %w", err)
	}
	if gm.inFlight.IsFull() {
		oldest, _ := gm.inFlight.Peek()
		if err := gm.fence.Wait(oldest.fenceValue); err != nil {
			return fmt.Errorf("failed to wait for frame %d: %w", oldest.fenceValue, err)
		}
		gm.retire()
	}
	if err := gm.inFlight.Enqueue(retirement{fenceValue: gm.fenceValue, pages: gm.current}); err != nil {
		return err
	}
	gm.current = nil
	gm.retire()
	return nil
}

func (gm *GraphicsMemory) retire() {
	completed := gm.fence.CompletedValue()
	for !gm.inFlight.IsEmpty() {
		r, _ := gm.inFlight.Peek()
		if r.fenceValue > completed {
			return
		}
		_, _ = gm.inFlight.Dequeue()
		for _, p := range r.pages {
			if uint64(len(p.data)) != gm.config.PageSize {
				p.res.Unmap()
				p.res.Release()
				continue
			}
			p.offset = 0
			gm.freePages = append(gm.freePages, p)
		}
	}
}

// FrameFenceValue is the fence value signaled by the last Commit.
func (gm *GraphicsMemory) FrameFenceValue() uint64 { return gm.fenceValue }

// PageCounts reports pages used by the open frame, pages in flight and pages ready for reuse.
func (gm *GraphicsMemory) PageCounts() (current, inFlight, free int) {
	for i := 0; i < gm.inFlight.Len(); i++ {
		r, _ := gm.inFlight.Dequeue()
		inFlight += len(r.pages)
		_ = gm.inFlight.Enqueue(r)
	}
	return len(gm.current), inFlight, len(gm.freePages)
}

/**
 * @brief Releases the heaps and upload pages and invalidates every view
 * issued so far. The queue must be idle.
 */
func (gm *GraphicsMemory) Shutdown() {
	if gm.shutdown {
		return
	}
	gm.shutdown = true
	gm.epoch = epochs.Add(1)
	gm.releaseHeaps()
	for _, p := range gm.current {
		p.res.Release()
	}
	for _, p := range gm.freePages {
		p.res.Release()
	}
	for !gm.inFlight.IsEmpty() {
		r, _ := gm.inFlight.Dequeue()
		for _, p := range r.pages {
			p.res.Release()
		}
	}
	gm.current, gm.freePages = nil, nil
	gm.cpuToIndex = map[uint64]uint32{}
	if gm.fence != nil {
		gm.fence.Release()
	}
	core.LogDebug("graphics memory shut down")
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) / alignment * alignment
}
