package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
)

/**
 * @brief Identifies a render pass. Draw passes load and store every
 * attachment in the layout its resource is in; clear passes have a
 * single attachment that is cleared on load.
 */
type renderPassKey struct {
	colors      [maxRenderTargets]vk.Format
	colorCount  int
	depth       vk.Format
	depthLayout vk.ImageLayout
	samples     vk.SampleCountFlagBits
	clear       bool
}

type renderPassCache struct {
	device *Device
	mu     sync.Mutex
	passes map[renderPassKey]vk.RenderPass
}

func newRenderPassCache(d *Device) *renderPassCache {
	return &renderPassCache{device: d, passes: make(map[renderPassKey]vk.RenderPass)}
}

func (c *renderPassCache) get(key renderPassKey) (vk.RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}

	loadOp := vk.AttachmentLoadOpLoad
	if key.clear {
		loadOp = vk.AttachmentLoadOpClear
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}
	var attachments []vk.AttachmentDescription
	var colorRefs []vk.AttachmentReference
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        key.samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	subpass.ColorAttachmentCount = uint32(len(colorRefs))
	subpass.PColorAttachments = colorRefs

	if key.depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        key.samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  key.depthLayout,
			FinalLayout:    key.depthLayout,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     key.depthLayout,
		}
	}

	// barriers are recorded outside of passes, so only external ordering is needed
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}

	var rp vk.RenderPass
	err := mustCheck("vkCreateRenderPass", vk.CreateRenderPass(c.device.logical, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}, nil, &rp))
	if err != nil {
		return vk.NullRenderPass, c.device.fail(err)
	}
	c.passes[key] = rp
	core.LogDebug("render pass created (%d colors, depth %t, %d samples, clear %t)", key.colorCount, key.depth != vk.FormatUndefined, key.samples, key.clear)
	return rp, nil
}

func (c *renderPassCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, rp := range c.passes {
		vk.DestroyRenderPass(c.device.logical, rp, nil)
		delete(c.passes, k)
	}
}

func beginRenderPass(cmd vk.CommandBuffer, rp vk.RenderPass, fb vk.Framebuffer, width, height uint32, clears []vk.ClearValue) {
	vk.CmdBeginRenderPass(cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
}
