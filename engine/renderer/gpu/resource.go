package gpu

type Dimension uint8

const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
	DimensionTexture3D
)

type ResourceFlags uint32

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowRenderTarget    ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil    ResourceFlags = 1 << 1
	ResourceFlagAllowUnorderedAccess ResourceFlags = 1 << 2
	ResourceFlagDenyShaderResource   ResourceFlags = 1 << 3
)

type HeapType uint8

const (
	// HeapDefault is device local memory, not mappable.
	HeapDefault HeapType = iota
	// HeapUpload is CPU writable, GPU readable. Resources live in StateGenericRead.
	HeapUpload
	// HeapReadback is GPU writable, CPU readable. Resources live in StateCopyDest.
	HeapReadback
)

type ResourceDesc struct {
	Dimension        Dimension
	Width            uint64
	Height           uint32
	DepthOrArraySize uint32
	MipLevels        uint32
	Format           Format
	SampleCount      uint32
	Flags            ResourceFlags
}

func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        DimensionBuffer,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleCount:      1,
		Flags:            flags,
	}
}

func Tex2DDesc(format Format, width uint64, height uint32, sampleCount uint32, flags ResourceFlags) ResourceDesc {
	if sampleCount == 0 {
		sampleCount = 1
	}
	return ResourceDesc{
		Dimension:        DimensionTexture2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           format,
		SampleCount:      sampleCount,
		Flags:            flags,
	}
}

func Tex3DDesc(format Format, width uint64, height, depth uint32, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        DimensionTexture3D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: depth,
		MipLevels:        1,
		Format:           format,
		SampleCount:      1,
		Flags:            flags,
	}
}

// ClearValue is the optimized clear value of a render target or depth texture.
type ClearValue struct {
	Format Format
	Color  [4]float32
	Depth  float32
}

// GPUAddress is a virtual address inside a buffer. Zero is never a valid address.
type GPUAddress uint64

type Resource interface {
	Desc() ResourceDesc
	// GPUAddress is the base virtual address of a buffer, 0 for textures.
	GPUAddress() GPUAddress
	// Map returns the CPU view of an upload or readback buffer.
	Map() ([]byte, error)
	Unmap()
	SetName(name string)
	Name() string
	Release()
}

type Box struct {
	Left, Top, Front    uint32
	Right, Bottom, Back uint32
}

// PlacedFootprint describes a texture laid out linearly inside a buffer.
type PlacedFootprint struct {
	Offset   uint64
	Format   Format
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

// TextureCopyLocation addresses one subresource of a texture, or a
// footprint inside a buffer when Footprint is set.
type TextureCopyLocation struct {
	Resource    Resource
	Subresource uint32
	Footprint   *PlacedFootprint
}

// TextureRowPitchAlignment is the required alignment of PlacedFootprint.RowPitch.
const TextureRowPitchAlignment = 256

// FootprintFor lays out a width x height x depth texture of format at offset.
func FootprintFor(format Format, width, height, depth uint32, offset uint64) (PlacedFootprint, uint64) {
	pitch := width * format.BytesPerPixel()
	pitch = (pitch + TextureRowPitchAlignment - 1) / TextureRowPitchAlignment * TextureRowPitchAlignment
	fp := PlacedFootprint{Offset: offset, Format: format, Width: width, Height: height, Depth: depth, RowPitch: pitch}
	return fp, uint64(pitch) * uint64(height) * uint64(depth)
}

type VertexBufferView struct {
	Address GPUAddress
	Size    uint32
	Stride  uint32
}

type IndexFormat uint8

const (
	IndexFormatUint16 IndexFormat = iota
	IndexFormatUint32
)

type IndexBufferView struct {
	Address GPUAddress
	Size    uint32
	Format  IndexFormat
}
