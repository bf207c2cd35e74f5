package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type viewKind uint8

const (
	viewNone viewKind = iota
	viewSRV
	viewUAV
	viewRTV
	viewDSV
)

func (k viewKind) String() string {
	switch k {
	case viewSRV:
		return "SRV"
	case viewUAV:
		return "UAV"
	case viewRTV:
		return "RTV"
	case viewDSV:
		return "DSV"
	}
	return "empty"
}

type descriptor struct {
	kind viewKind
	res  *resource
	srv  gpu.SRVDesc
	uav  gpu.UAVDesc
	rtv  gpu.RTVDesc
	dsv  gpu.DSVDesc
}

type descriptorHeap struct {
	device   *Device
	id       uint64
	kind     gpu.HeapKind
	visible  bool
	base     uint64
	capacity uint32
	slots    []descriptor
	released bool
}

func (h *descriptorHeap) Kind() gpu.HeapKind { return h.kind }

func (h *descriptorHeap) Capacity() uint32 { return h.capacity }

func (h *descriptorHeap) ShaderVisible() bool { return h.visible }

func (h *descriptorHeap) Stride() uint32 { return descriptorLen }

func (h *descriptorHeap) CPUStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: h.base}
}

func (h *descriptorHeap) GPUStart() gpu.GPUDescriptorHandle {
	if !h.visible {
		return gpu.GPUDescriptorHandle{}
	}
	return gpu.GPUDescriptorHandle{Ptr: h.base}
}

func (h *descriptorHeap) Release() {
	if h.released {
		return
	}
	h.released = true
	h.device.forgetHeap(h)
}

func (d *Device) writeDescriptor(dst gpu.CPUDescriptorHandle, want gpu.HeapKind, desc descriptor) error {
	if d.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	h, slot, err := d.resolveDescriptor(dst.Ptr)
	if err != nil {
		return err
	}
	if h.kind != want {
		return fmt.Errorf("%w: %s view written to a %s heap", gpu.ErrInvalidCall, desc.kind, h.kind)
	}
	*slot = desc
	return nil
}

func asResource(res gpu.Resource) (*resource, error) {
	r, ok := res.(*resource)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: resource does not belong to the soft device", gpu.ErrInvalidCall)
	}
	if r.released {
		return nil, fmt.Errorf("%w: view of released resource %s", gpu.ErrInvalidCall, r.label())
	}
	return r, nil
}

func (d *Device) CreateShaderResourceView(res gpu.Resource, desc *gpu.SRVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagDenyShaderResource != 0 {
		return fmt.Errorf("%w: %s denies shader resource views", gpu.ErrInvalidCall, r.label())
	}
	var v gpu.SRVDesc
	if desc != nil {
		v = *desc
	} else {
		v = defaultSRV(r)
	}
	if v.Dimension == gpu.SRVDimensionBuffer && v.NumElements == 0 {
		return fmt.Errorf("%w: buffer SRV needs an element count", gpu.ErrInvalidCall)
	}
	return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewSRV, res: r, srv: v})
}

func defaultSRV(r *resource) gpu.SRVDesc {
	v := gpu.SRVDesc{Format: r.desc.Format, MipLevels: 1}
	switch {
	case r.desc.Dimension == gpu.DimensionBuffer:
		v.Dimension = gpu.SRVDimensionBuffer
		v.NumElements = uint32(r.desc.Width / 4)
		v.StructureByteStride = 4
	case r.desc.Dimension == gpu.DimensionTexture3D:
		v.Dimension = gpu.SRVDimensionTexture3D
	case r.samples() > 1:
		v.Dimension = gpu.SRVDimensionTexture2DMS
	default:
		v.Dimension = gpu.SRVDimensionTexture2D
	}
	return v
}

func (d *Device) CreateUnorderedAccessView(res gpu.Resource, desc *gpu.UAVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return fmt.Errorf("%w: %s was not created with unordered access", gpu.ErrInvalidCall, r.label())
	}
	var v gpu.UAVDesc
	if desc != nil {
		v = *desc
	} else {
		v = gpu.UAVDesc{Format: r.desc.Format, Dimension: gpu.UAVDimensionTexture2D}
		switch r.desc.Dimension {
		case gpu.DimensionBuffer:
			v.Dimension = gpu.UAVDimensionBuffer
			v.NumElements = uint32(r.desc.Width / 4)
			v.StructureByteStride = 4
		case gpu.DimensionTexture3D:
			v.Dimension = gpu.UAVDimensionTexture3D
		}
	}
	return d.writeDescriptor(dst, gpu.HeapKindSrvUav, descriptor{kind: viewUAV, res: r, uav: v})
}

func (d *Device) CreateRenderTargetView(res gpu.Resource, desc *gpu.RTVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		return fmt.Errorf("%w: %s was not created as a render target", gpu.ErrInvalidCall, r.label())
	}
	v := gpu.RTVDesc{Format: r.desc.Format, Dimension: gpu.RTVDimensionTexture2D}
	if desc != nil {
		v = *desc
	} else if r.samples() > 1 {
		v.Dimension = gpu.RTVDimensionTexture2DMS
	}
	return d.writeDescriptor(dst, gpu.HeapKindRTV, descriptor{kind: viewRTV, res: r, rtv: v})
}

func (d *Device) CreateDepthStencilView(res gpu.Resource, desc *gpu.DSVDesc, dst gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
		return fmt.Errorf("%w: %s was not created as a depth stencil", gpu.ErrInvalidCall, r.label())
	}
	v := gpu.DSVDesc{Format: gpu.FormatD32Float, Dimension: gpu.DSVDimensionTexture2D}
	if desc != nil {
		v = *desc
	} else if r.samples() > 1 {
		v.Dimension = gpu.DSVDimensionTexture2DMS
	}
	return d.writeDescriptor(dst, gpu.HeapKindDSV, descriptor{kind: viewDSV, res: r, dsv: v})
}
