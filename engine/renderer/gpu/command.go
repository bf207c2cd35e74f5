package gpu

type Viewport struct {
	TopLeftX, TopLeftY float32
	Width, Height      float32
	MinDepth, MaxDepth float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

// LargeScissor never clips.
var LargeScissor = Rect{Left: 0, Top: 0, Right: 1<<31 - 1, Bottom: 1<<31 - 1}

/**
 * @brief A recorded sequence of GPU work. Recording is single threaded;
 * the list executes on the queue in the order it was recorded.
 */
type CommandList interface {
	Reset() error
	Close() error
	// Release hands the list back to its device once the GPU is done with it.
	// The list cannot be used afterwards; releasing twice is a no-op.
	Release()

	ResourceBarrier(barriers ...Barrier)
	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetPipelineState(p Pipeline)

	SetGraphicsRootSignature(rs RootSignature)
	SetComputeRootSignature(rs RootSignature)
	SetGraphicsRootConstantBufferView(index uint32, addr GPUAddress)
	SetComputeRootConstantBufferView(index uint32, addr GPUAddress)
	SetGraphicsRootShaderResourceView(index uint32, addr GPUAddress)
	SetComputeRootShaderResourceView(index uint32, addr GPUAddress)
	SetGraphicsRootUnorderedAccessView(index uint32, addr GPUAddress)
	SetComputeRootUnorderedAccessView(index uint32, addr GPUAddress)
	SetGraphicsRootDescriptorTable(index uint32, handle GPUDescriptorHandle)
	SetComputeRootDescriptorTable(index uint32, handle GPUDescriptorHandle)

	SetRenderTargets(rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)
	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32)
	ClearDepthStencilView(dsv CPUDescriptorHandle, depth float32)
	SetViewports(viewports ...Viewport)
	SetScissorRects(rects ...Rect)
	SetPrimitiveTopology(topology PrimitiveTopology)
	SetVertexBuffers(startSlot uint32, views ...VertexBufferView)
	SetIndexBuffer(view IndexBufferView)

	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)
	DispatchMesh(x, y, z uint32)

	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset uint64, size uint64)
	// CopyTextureRegion copies box of src (whole subresource when nil) to dst at (x, y, z).
	CopyTextureRegion(dst TextureCopyLocation, x, y, z uint32, src TextureCopyLocation, box *Box)
	CopyResource(dst, src Resource)
	ResolveSubresource(dst Resource, src Resource, format Format)

	BeginEvent(name string)
	EndEvent()
}

type Fence interface {
	CompletedValue() uint64
	// Wait blocks until the fence reaches value.
	Wait(value uint64) error
	Release()
}

type Queue interface {
	ExecuteCommandLists(lists ...CommandList) error
	Signal(fence Fence, value uint64) error
	WaitIdle() error
}
