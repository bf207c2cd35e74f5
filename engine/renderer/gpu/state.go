package gpu

import "strings"

/**
 * @brief Resource usage states. Values are bit flags so read states can
 * be combined, e.g. StateAllShaderResource.
 */
type ResourceState uint32

const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateCopyDest                ResourceState = 1 << 8
	StateCopySource              ResourceState = 1 << 9
	StateResolveDest             ResourceState = 1 << 10
	StateResolveSource           ResourceState = 1 << 11

	StatePresent           = StateCommon
	StateAllShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
	StateGenericRead       = StateVertexAndConstantBuffer | StateIndexBuffer | StateNonPixelShaderResource |
		StatePixelShaderResource | StateCopySource
)

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{StateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
	{StateIndexBuffer, "INDEX_BUFFER"},
	{StateRenderTarget, "RENDER_TARGET"},
	{StateUnorderedAccess, "UNORDERED_ACCESS"},
	{StateDepthWrite, "DEPTH_WRITE"},
	{StateDepthRead, "DEPTH_READ"},
	{StateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
	{StatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
	{StateCopyDest, "COPY_DEST"},
	{StateCopySource, "COPY_SOURCE"},
	{StateResolveDest, "RESOLVE_DEST"},
	{StateResolveSource, "RESOLVE_SOURCE"},
}

func (s ResourceState) String() string {
	if s == StateCommon {
		return "COMMON"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of other is set in s.
func (s ResourceState) Has(other ResourceState) bool {
	return s&other == other
}

type BarrierType uint8

const (
	BarrierTransition BarrierType = iota
	// BarrierUAV orders unordered-access writes before later accesses of the same resource.
	BarrierUAV
)

type Barrier struct {
	Type     BarrierType
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

func TransitionBarrier(res Resource, before, after ResourceState) Barrier {
	return Barrier{Type: BarrierTransition, Resource: res, Before: before, After: after}
}

func UAVBarrier(res Resource) Barrier {
	return Barrier{Type: BarrierUAV, Resource: res}
}
