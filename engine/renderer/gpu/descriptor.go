package gpu

type HeapKind uint8

const (
	// HeapKindSrvUav holds shader resource and unordered access views. It is the only shader visible kind.
	HeapKindSrvUav HeapKind = iota
	HeapKindRTV
	HeapKindDSV
)

func (k HeapKind) String() string {
	switch k {
	case HeapKindSrvUav:
		return "srv/uav"
	case HeapKindRTV:
		return "rtv"
	case HeapKindDSV:
		return "dsv"
	}
	return "unknown"
}

// CPUDescriptorHandle addresses a descriptor slot for view creation and render target binding.
type CPUDescriptorHandle struct {
	Ptr uint64
}

// GPUDescriptorHandle addresses a slot of a shader visible heap for descriptor table binding.
type GPUDescriptorHandle struct {
	Ptr uint64
}

func (h CPUDescriptorHandle) Offset(index uint32, stride uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: h.Ptr + uint64(index)*uint64(stride)}
}

func (h GPUDescriptorHandle) Offset(index uint32, stride uint32) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: h.Ptr + uint64(index)*uint64(stride)}
}

type DescriptorHeap interface {
	Kind() HeapKind
	Capacity() uint32
	ShaderVisible() bool
	// Stride is the distance in bytes between two handles of this heap.
	Stride() uint32
	CPUStart() CPUDescriptorHandle
	GPUStart() GPUDescriptorHandle
	Release()
}

type SRVDimension uint8

const (
	SRVDimensionBuffer SRVDimension = iota
	SRVDimensionTexture2D
	SRVDimensionTexture2DMS
	SRVDimensionTexture3D
	SRVDimensionTextureCube
)

type SRVDesc struct {
	Format    Format
	Dimension SRVDimension
	MipLevels uint32
	// buffer views
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
}

type UAVDimension uint8

const (
	UAVDimensionBuffer UAVDimension = iota
	UAVDimensionTexture2D
	UAVDimensionTexture3D
)

type BufferUAVFlags uint8

const (
	BufferUAVFlagNone BufferUAVFlags = 0
	BufferUAVFlagRaw  BufferUAVFlags = 1
)

type UAVDesc struct {
	Format    Format
	Dimension UAVDimension
	MipSlice  uint32
	// buffer views
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	Flags               BufferUAVFlags
}

type RTVDimension uint8

const (
	RTVDimensionTexture2D RTVDimension = iota
	RTVDimensionTexture2DMS
)

type RTVDesc struct {
	Format    Format
	Dimension RTVDimension
}

type DSVDimension uint8

const (
	DSVDimensionTexture2D DSVDimension = iota
	DSVDimensionTexture2DMS
)

type DSVDesc struct {
	Format    Format
	Dimension DSVDimension
}
