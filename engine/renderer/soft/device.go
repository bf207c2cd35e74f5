// Package soft is a CPU implementation of the gpu interfaces. Command lists
// record closures that run in order when executed on the queue, shaders are
// Go kernels looked up by name, and triangles go through a small scanline
// rasterizer. A debug layer checks barrier "before" states and access
// states against what the resources are actually in.
package soft

import (
	"cmp"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Executor runs fn for every i in [0, n). Implementations may run them concurrently.
type Executor interface {
	ParallelFor(n int, fn func(i int))
}

type serialExecutor struct{}

func (serialExecutor) ParallelFor(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

type Options struct {
	AdapterName    string
	ShaderModel    uint32
	MeshShaderTier uint32
	MaxSampleCount uint32
	// Executor runs compute groups. Nil runs them serially.
	Executor Executor
}

func DefaultOptions() Options {
	return Options{
		AdapterName:    "Ember Soft Rasterizer",
		ShaderModel:    68,
		MeshShaderTier: 1,
		MaxSampleCount: 4,
	}
}

const (
	vaBase        = 0x1000_0000
	vaAlignment   = 0x1_0000
	heapPtrShift  = 32
	descriptorLen = 32
)

type Device struct {
	opts Options

	mu      sync.Mutex
	nextVA  uint64
	buffers []*resource // sorted by va
	heaps   map[uint64]*descriptorHeap
	nextHID uint64

	queue   *queue
	removed atomic.Bool

	validationErrors atomic.Int64
	lastValidation   atomic.Value
}

func NewDevice(opts Options) *Device {
	if opts.Executor == nil {
		opts.Executor = serialExecutor{}
	}
	if opts.MaxSampleCount == 0 {
		opts.MaxSampleCount = 4
	}
	d := &Device{
		opts:    opts,
		nextVA:  vaBase,
		heaps:   make(map[uint64]*descriptorHeap),
		nextHID: 1,
	}
	d.queue = &queue{device: d}
	core.LogDebug("soft device created (%s, SM %d.%d, mesh tier %d)", opts.AdapterName, opts.ShaderModel/10, opts.ShaderModel%10, opts.MeshShaderTier)
	return d
}

func (d *Device) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		AdapterName:    d.opts.AdapterName,
		ShaderModel:    d.opts.ShaderModel,
		MeshShaderTier: d.opts.MeshShaderTier,
		MaxSampleCount: d.opts.MaxSampleCount,
		ShaderFormat:   gpu.ShaderFormatBuiltin,
	}
}

// Remove simulates a device removal (TDR). Every later call fails with gpu.ErrDeviceRemoved.
func (d *Device) Remove() {
	d.removed.Store(true)
	core.LogWarn("soft device removed")
}

func (d *Device) IsRemoved() bool {
	return d.removed.Load()
}

// ValidationErrors is the number of debug layer errors reported so far.
func (d *Device) ValidationErrors() int64 {
	return d.validationErrors.Load()
}

// LastValidationError is the message of the most recent debug layer error.
func (d *Device) LastValidationError() string {
	if v, ok := d.lastValidation.Load().(string); ok {
		return v
	}
	return ""
}

func (d *Device) validationError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.validationErrors.Add(1)
	d.lastValidation.Store(msg)
	core.LogWarn("soft debug layer: %s", msg)
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if err := validateDesc(heap, desc); err != nil {
		return nil, err
	}
	if desc.SampleCount > d.opts.MaxSampleCount {
		return nil, fmt.Errorf("%w: %d samples, device supports %d", gpu.ErrUnsupported, desc.SampleCount, d.opts.MaxSampleCount)
	}
	r := newResource(d, heap, desc, initialState)
	if clear != nil {
		r.clear = *clear
	}
	if desc.Dimension == gpu.DimensionBuffer {
		d.mu.Lock()
		r.va = d.nextVA
		size := (desc.Width + vaAlignment - 1) / vaAlignment * vaAlignment
		d.nextVA += size + vaAlignment
		d.buffers = append(d.buffers, r)
		d.mu.Unlock()
	}
	return r, nil
}

func validateDesc(heap gpu.HeapType, desc gpu.ResourceDesc) error {
	switch desc.Dimension {
	case gpu.DimensionBuffer:
		if desc.Width == 0 {
			return fmt.Errorf("%w: zero sized buffer", gpu.ErrInvalidCall)
		}
	case gpu.DimensionTexture2D, gpu.DimensionTexture3D:
		if heap != gpu.HeapDefault {
			return fmt.Errorf("%w: textures must live in the default heap", gpu.ErrInvalidCall)
		}
		if desc.Width == 0 || desc.Height == 0 || desc.DepthOrArraySize == 0 {
			return fmt.Errorf("%w: zero sized texture", gpu.ErrInvalidCall)
		}
		if desc.Format == gpu.FormatUnknown {
			return fmt.Errorf("%w: texture without a format", gpu.ErrInvalidCall)
		}
		if desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0 && !desc.Format.IsDepth() && desc.Format != gpu.FormatR32Typeless {
			return fmt.Errorf("%w: depth stencil texture with color format %s", gpu.ErrInvalidCall, desc.Format)
		}
	default:
		return fmt.Errorf("%w: unknown dimension", gpu.ErrInvalidCall)
	}
	return nil
}

// resolveVA finds the buffer containing addr and the offset inside it.
func (d *Device) resolveVA(addr gpu.GPUAddress) (*resource, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := uint64(addr)
	i, found := slices.BinarySearchFunc(d.buffers, a, func(r *resource, a uint64) int {
		return cmp.Compare(r.va, a)
	})
	if !found {
		i--
	}
	if i < 0 {
		return nil, 0, fmt.Errorf("%w: address 0x%x is not inside a buffer", gpu.ErrInvalidCall, a)
	}
	r := d.buffers[i]
	if r.released || a >= r.va+r.desc.Width {
		return nil, 0, fmt.Errorf("%w: address 0x%x is not inside a live buffer", gpu.ErrInvalidCall, a)
	}
	return r, a - r.va, nil
}

func (d *Device) forgetBuffer(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.buffers {
		if b == r {
			d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
			return
		}
	}
}

func (d *Device) CreateDescriptorHeap(kind gpu.HeapKind, capacity uint32, shaderVisible bool) (gpu.DescriptorHeap, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	if capacity == 0 {
		return nil, fmt.Errorf("%w: empty descriptor heap", gpu.ErrInvalidCall)
	}
	if shaderVisible && kind != gpu.HeapKindSrvUav {
		return nil, fmt.Errorf("%w: %s heaps cannot be shader visible", gpu.ErrInvalidCall, kind)
	}
	d.mu.Lock()
	id := d.nextHID
	d.nextHID++
	h := &descriptorHeap{
		device:   d,
		id:       id,
		kind:     kind,
		visible:  shaderVisible,
		base:     id << heapPtrShift,
		slots:    make([]descriptor, capacity),
		capacity: capacity,
	}
	d.heaps[id] = h
	d.mu.Unlock()
	return h, nil
}

// resolveDescriptor returns the slot ptr points at.
func (d *Device) resolveDescriptor(ptr uint64) (*descriptorHeap, *descriptor, error) {
	d.mu.Lock()
	h, ok := d.heaps[ptr>>heapPtrShift]
	d.mu.Unlock()
	if !ok || h.released {
		return nil, nil, fmt.Errorf("%w: descriptor handle 0x%x does not belong to a live heap", gpu.ErrInvalidCall, ptr)
	}
	off := ptr - h.base
	if off%descriptorLen != 0 || off/descriptorLen >= uint64(h.capacity) {
		return nil, nil, fmt.Errorf("%w: descriptor handle 0x%x is outside its heap", gpu.ErrInvalidCall, ptr)
	}
	return h, &h.slots[off/descriptorLen], nil
}

func (d *Device) forgetHeap(h *descriptorHeap) {
	d.mu.Lock()
	delete(d.heaps, h.id)
	d.mu.Unlock()
}

func (d *Device) CreateCommandList() (gpu.CommandList, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	return &commandList{device: d}, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if d.IsRemoved() {
		return nil, gpu.ErrDeviceRemoved
	}
	f := &fence{}
	f.value.Store(initialValue)
	return f, nil
}

func (d *Device) Queue() gpu.Queue {
	return d.queue
}

func (d *Device) HasShader(name string) bool {
	return hasKernel(name)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers = nil
	d.heaps = map[uint64]*descriptorHeap{}
	return nil
}
