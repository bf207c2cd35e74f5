package gpu

type ShaderFormat uint8

const (
	// ShaderFormatBuiltin means shaders are resolved by name inside the backend.
	ShaderFormatBuiltin ShaderFormat = iota
	ShaderFormatSPIRV
)

/**
 * @brief What the adapter can do. ShaderModel is encoded as major*10+minor
 * (68 = 6.8).
 */
type Capabilities struct {
	AdapterName    string
	ShaderModel    uint32
	MeshShaderTier uint32
	MaxSampleCount uint32
	ShaderFormat   ShaderFormat
}

type Device interface {
	Capabilities() Capabilities

	CreateCommittedResource(heap HeapType, desc ResourceDesc, initialState ResourceState, clear *ClearValue) (Resource, error)
	CreateDescriptorHeap(kind HeapKind, capacity uint32, shaderVisible bool) (DescriptorHeap, error)

	CreateShaderResourceView(res Resource, desc *SRVDesc, dst CPUDescriptorHandle) error
	CreateUnorderedAccessView(res Resource, desc *UAVDesc, dst CPUDescriptorHandle) error
	CreateRenderTargetView(res Resource, desc *RTVDesc, dst CPUDescriptorHandle) error
	CreateDepthStencilView(res Resource, desc *DSVDesc, dst CPUDescriptorHandle) error

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateMeshPipeline(desc MeshPipelineDesc) (Pipeline, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)

	CreateCommandList() (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)
	Queue() Queue

	// HasShader reports whether the named shader can be loaded.
	HasShader(name string) bool
	Close() error
}

type Swapchain interface {
	Width() uint32
	Height() uint32
	Format() Format
	ColorSpace() ColorSpace
	BufferCount() uint32
	CurrentBackBufferIndex() uint32
	CurrentBackBuffer() Resource
	// CurrentRTV is the render target view of the current back buffer.
	CurrentRTV() CPUDescriptorHandle
	Resize(width, height uint32) error
	Present(syncInterval uint32) error
	Release()
}

// CalcSubresource is the D3D subresource index of a mip/array slice/plane.
func CalcSubresource(mipSlice, arraySlice, planeSlice, mipLevels, arraySize uint32) uint32 {
	return mipSlice + arraySlice*mipLevels + planeSlice*mipLevels*arraySize
}
