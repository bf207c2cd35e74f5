package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// vertexInput maps an input layout to a single interleaved binding at slot 0.
// Element i is shader location i.
func vertexInput(layout []gpu.InputElement) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	if len(layout) == 0 {
		return nil, nil
	}
	var stride uint32
	attributes := make([]vk.VertexInputAttributeDescription, len(layout))
	for i, e := range layout {
		components := e.Components
		if components == 0 {
			components = uint32(e.Format.Channels())
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   vertexFormat(components),
			Offset:   e.Offset,
		}
		if end := e.Offset + components*4; end > stride {
			stride = end
		}
	}
	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    stride,
		InputRate: vk.VertexInputRateVertex,
	}}
	return bindings, attributes
}
