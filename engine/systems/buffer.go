package systems

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/barrier"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

/** @brief A GPU buffer of equally sized elements. */
type InstanceBufferEntry struct {
	/** @brief The buffer and the state it is tracked in. */
	Buffer barrier.Resource
	/** @brief The number of elements in the buffer. */
	InstanceCount uint32
	/** @brief The size of one element in bytes. */
	Stride uint32
}

// Size is the byte size of the buffer.
func (e *InstanceBufferEntry) Size() uint64 {
	return uint64(e.InstanceCount) * uint64(e.Stride)
}

/** @brief Vertex and index buffers of an indexed triangle list. */
type MeshEntry struct {
	VertexBuffer barrier.Resource
	IndexBuffer  barrier.Resource
	VertexCount  uint32
	IndexCount   uint32
}

func (m *MeshEntry) VertexBufferView() gpu.VertexBufferView {
	return gpu.VertexBufferView{
		Address: m.VertexBuffer.GPUAddress(),
		Size:    m.VertexCount * shaderdata.Vertex3DStride,
		Stride:  shaderdata.Vertex3DStride,
	}
}

func (m *MeshEntry) IndexBufferView() gpu.IndexBufferView {
	return gpu.IndexBufferView{
		Address: m.IndexBuffer.GPUAddress(),
		Size:    m.IndexCount * 2,
		Format:  gpu.IndexFormatUint16,
	}
}

/**
 * @brief Registry of device local buffers. Callers hold handles, never
 * the buffers themselves; a handle that outlives its Remove resolves to
 * nothing.
 */
type BufferManager struct {
	device gpu.Device

	instanceBuffers *containers.FreeList[InstanceBufferEntry]
	meshes          *containers.FreeList[MeshEntry]

	fence      gpu.Fence
	fenceValue uint64
}

func NewBufferManager(device gpu.Device) (*BufferManager, error) {
	fence, err := device.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create the upload fence: %w", err)
	}
	return &BufferManager{
		device:          device,
		instanceBuffers: containers.NewFreeList[InstanceBufferEntry](16),
		meshes:          containers.NewFreeList[MeshEntry](4),
		fence:           fence,
	}, nil
}

/**
 * @brief Uploads data into a new device local buffer and registers it.
 * Blocks until the copy has executed; meant for load time, not for the
 * frame loop. The buffer ends up in finalState.
 */
func CreateInstanceBuffer[T any](bm *BufferManager, name string, data []T, flags gpu.ResourceFlags, finalState gpu.ResourceState) (containers.Handle, error) {
	var zero T
	stride := binary.Size(zero)
	if stride <= 0 {
		return containers.InvalidHandle, fmt.Errorf("%w: %T has no fixed size", gpu.ErrInvalidCall, zero)
	}
	if len(data) == 0 {
		return containers.InvalidHandle, fmt.Errorf("%w: instance buffer %q has no elements", gpu.ErrInvalidCall, name)
	}

	raw, err := shaderdata.Bytes(data)
	if err != nil {
		return containers.InvalidHandle, fmt.Errorf("%w: %s", gpu.ErrInvalidCall, err)
	}
	entry := InstanceBufferEntry{InstanceCount: uint32(len(data)), Stride: uint32(stride)}
	if err := bm.upload(&entry.Buffer, name, raw, flags, finalState); err != nil {
		return containers.InvalidHandle, err
	}
	h := bm.instanceBuffers.Allocate(entry)
	core.LogDebug("instance buffer %q: %d x %d bytes", name, entry.InstanceCount, entry.Stride)
	return h, nil
}

// CreateBuffer registers a zero filled buffer of count elements of stride bytes.
func (bm *BufferManager) CreateBuffer(name string, stride, count uint32, flags gpu.ResourceFlags, initialState gpu.ResourceState) (containers.Handle, error) {
	if stride == 0 || count == 0 {
		return containers.InvalidHandle, fmt.Errorf("%w: buffer %q is empty", gpu.ErrInvalidCall, name)
	}
	entry := InstanceBufferEntry{InstanceCount: count, Stride: stride}
	desc := gpu.BufferDesc(uint64(stride)*uint64(count), flags)
	if err := entry.Buffer.Create(bm.device, gpu.HeapDefault, desc, initialState, nil); err != nil {
		return containers.InvalidHandle, fmt.Errorf("failed to create buffer %q: %w", name, err)
	}
	entry.Buffer.SetName(name)
	return bm.instanceBuffers.Allocate(entry), nil
}

// GetInstanceBuffer returns the entry behind h, or false if h was removed.
func (bm *BufferManager) GetInstanceBuffer(h containers.Handle) (*InstanceBufferEntry, bool) {
	return bm.instanceBuffers.Get(h)
}

// InstanceBufferAddress is the GPU virtual address of the buffer behind h.
func (bm *BufferManager) InstanceBufferAddress(h containers.Handle) (gpu.GPUAddress, error) {
	entry, ok := bm.instanceBuffers.Get(h)
	if !ok {
		return 0, fmt.Errorf("instance buffer %v: %w", h, core.ErrInvalidHandle)
	}
	return entry.Buffer.GPUAddress(), nil
}

// RemoveInstanceBuffer releases the buffer and invalidates h.
func (bm *BufferManager) RemoveInstanceBuffer(h containers.Handle) error {
	entry, ok := bm.instanceBuffers.Get(h)
	if !ok {
		return fmt.Errorf("instance buffer %v: %w", h, core.ErrInvalidHandle)
	}
	entry.Buffer.Reset()
	return bm.instanceBuffers.Remove(h)
}

// CreateMesh uploads an indexed triangle list. Both buffers end up readable by the input assembler.
func (bm *BufferManager) CreateMesh(name string, vertices []math.Vertex3D, indices []uint16) (containers.Handle, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return containers.InvalidHandle, fmt.Errorf("%w: mesh %q is empty", gpu.ErrInvalidCall, name)
	}
	entry := MeshEntry{VertexCount: uint32(len(vertices)), IndexCount: uint32(len(indices))}

	vb := make([]byte, len(vertices)*shaderdata.Vertex3DStride)
	for i, v := range vertices {
		shaderdata.PutVertex3D(vb[i*shaderdata.Vertex3DStride:], v)
	}
	if err := bm.upload(&entry.VertexBuffer, name+" vertices", vb, gpu.ResourceFlagNone, gpu.StateVertexAndConstantBuffer); err != nil {
		return containers.InvalidHandle, err
	}

	ib := make([]byte, (len(indices)*2+3)&^3)
	for i, idx := range indices {
		binary.LittleEndian.PutUint16(ib[i*2:], idx)
	}
	if err := bm.upload(&entry.IndexBuffer, name+" indices", ib, gpu.ResourceFlagNone, gpu.StateIndexBuffer); err != nil {
		entry.VertexBuffer.Reset()
		return containers.InvalidHandle, err
	}
	return bm.meshes.Allocate(entry), nil
}

func (bm *BufferManager) GetMesh(h containers.Handle) (*MeshEntry, bool) {
	return bm.meshes.Get(h)
}

func (bm *BufferManager) RemoveMesh(h containers.Handle) error {
	entry, ok := bm.meshes.Get(h)
	if !ok {
		return fmt.Errorf("mesh %v: %w", h, core.ErrInvalidHandle)
	}
	entry.VertexBuffer.Reset()
	entry.IndexBuffer.Reset()
	return bm.meshes.Remove(h)
}

// Counts reports the number of live instance buffers and meshes.
func (bm *BufferManager) Counts() (instanceBuffers, meshes int) {
	return bm.instanceBuffers.Len(), bm.meshes.Len()
}

/**
 * @brief Releases every buffer. All handles issued so far become invalid.
 */
func (bm *BufferManager) Shutdown() error {
	bm.instanceBuffers.Each(func(_ containers.Handle, e *InstanceBufferEntry) bool {
		e.Buffer.Reset()
		return true
	})
	bm.instanceBuffers.Clear()
	bm.meshes.Each(func(_ containers.Handle, e *MeshEntry) bool {
		e.VertexBuffer.Reset()
		e.IndexBuffer.Reset()
		return true
	})
	bm.meshes.Clear()
	if bm.fence != nil {
		bm.fence.Release()
		bm.fence = nil
	}
	return nil
}

// upload copies data through a staging buffer into dst and waits for the copy.
func (bm *BufferManager) upload(dst *barrier.Resource, name string, data []byte, flags gpu.ResourceFlags, finalState gpu.ResourceState) error {
	size := uint64(len(data))
	if err := dst.Create(bm.device, gpu.HeapDefault, gpu.BufferDesc(size, flags), gpu.StateCopyDest, nil); err != nil {
		return fmt.Errorf("failed to create buffer %q: %w", name, err)
	}
	dst.SetName(name)

	err := bm.copyAndWait(dst, data, finalState)
	if err != nil {
		dst.Reset()
		core.LogError("upload of %q failed: %s", name, err)
		return fmt.Errorf("failed to upload buffer %q: %w", name, err)
	}
	return nil
}

func (bm *BufferManager) copyAndWait(dst *barrier.Resource, data []byte, finalState gpu.ResourceState) error {
	return bm.submitUpload(data, func(cl gpu.CommandList, staging gpu.Resource) error {
		cl.CopyBufferRegion(dst.Get(), 0, staging, 0, uint64(len(data)))
		return dst.Transition(cl, finalState)
	})
}

/**
 * @brief Uploads a single mip 2D texture into dst, creating it first.
 * pixels are tightly packed rows of format texels. Blocks like the buffer
 * uploads do.
 */
func (bm *BufferManager) UploadTexture2D(dst *barrier.Resource, name string, format gpu.Format, width, height uint32, pixels []byte, finalState gpu.ResourceState) error {
	bpp := format.BytesPerPixel()
	rowBytes := width * bpp
	if bpp == 0 || uint64(len(pixels)) < uint64(rowBytes)*uint64(height) {
		return fmt.Errorf("%w: texture %q has %d bytes for %dx%d %s", gpu.ErrInvalidCall, name, len(pixels), width, height, format)
	}
	desc := gpu.Tex2DDesc(format, uint64(width), height, 1, gpu.ResourceFlagNone)
	if err := dst.Create(bm.device, gpu.HeapDefault, desc, gpu.StateCopyDest, nil); err != nil {
		return fmt.Errorf("failed to create texture %q: %w", name, err)
	}
	dst.SetName(name)

	footprint, size := gpu.FootprintFor(format, width, height, 1, 0)
	staged := make([]byte, size)
	for y := uint32(0); y < height; y++ {
		copy(staged[y*footprint.RowPitch:], pixels[y*rowBytes:(y+1)*rowBytes])
	}
	err := bm.submitUpload(staged, func(cl gpu.CommandList, staging gpu.Resource) error {
		cl.CopyTextureRegion(
			gpu.TextureCopyLocation{Resource: dst.Get()}, 0, 0, 0,
			gpu.TextureCopyLocation{Resource: staging, Footprint: &footprint}, nil)
		return dst.Transition(cl, finalState)
	})
	if err != nil {
		dst.Reset()
		return fmt.Errorf("failed to upload texture %q: %w", name, err)
	}
	core.LogDebug("texture %q: %dx%d %s", name, width, height, format)
	return nil
}

// submitUpload stages data in an upload heap buffer, records the copies and waits for them.
func (bm *BufferManager) submitUpload(data []byte, record func(cl gpu.CommandList, staging gpu.Resource) error) error {
	size := uint64(len(data))
	staging, err := bm.device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(size, gpu.ResourceFlagNone), gpu.StateGenericRead, nil)
	if err != nil {
		return err
	}
	defer staging.Release()

	mapped, err := staging.Map()
	if err != nil {
		return err
	}
	copy(mapped, data)
	staging.Unmap()

	cl, err := bm.device.CreateCommandList()
	if err != nil {
		return err
	}
	defer cl.Release()
	if err := record(cl, staging); err != nil {
		return err
	}
	if err := cl.Close(); err != nil {
		return err
	}

	queue := bm.device.Queue()
	if err := queue.ExecuteCommandLists(cl); err != nil {
		return err
	}
	bm.fenceValue++
	if err := queue.Signal(bm.fence, bm.fenceValue); err != nil {
		return err
	}
	return bm.fence.Wait(bm.fenceValue)
}
