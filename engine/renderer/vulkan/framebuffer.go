package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
)

type framebufferKey struct {
	pass   vk.RenderPass
	views  [maxRenderTargets + 1]vk.ImageView
	count  int
	width  uint32
	height uint32
}

/**
 * @brief Caches framebuffers by render pass and attachments. Entries go
 * away with the image views or resources they reference.
 */
type framebufferCache struct {
	device *Device

	mu      sync.Mutex
	entries map[framebufferKey]vk.Framebuffer
	byView  map[vk.ImageView][]framebufferKey
	byRes   map[*resource][]vk.ImageView
}

func newFramebufferCache(d *Device) *framebufferCache {
	return &framebufferCache{
		device:  d,
		entries: make(map[framebufferKey]vk.Framebuffer),
		byView:  make(map[vk.ImageView][]framebufferKey),
		byRes:   make(map[*resource][]vk.ImageView),
	}
}

func (c *framebufferCache) get(pass vk.RenderPass, attachments []*descriptor, width, height uint32) (vk.Framebuffer, error) {
	key := framebufferKey{pass: pass, count: len(attachments), width: width, height: height}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		key.views[i] = a.view
		views[i] = a.view
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.entries[key]; ok {
		return fb, nil
	}
	var fb vk.Framebuffer
	err := mustCheck("vkCreateFramebuffer", vk.CreateFramebuffer(c.device.logical, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}, nil, &fb))
	if err != nil {
		return vk.NullFramebuffer, c.device.fail(err)
	}
	c.entries[key] = fb
	for i, a := range attachments {
		c.byView[views[i]] = append(c.byView[views[i]], key)
		c.byRes[a.res] = append(c.byRes[a.res], views[i])
	}
	return fb, nil
}

// evictView drops every framebuffer using view once the GPU is done with them.
func (c *framebufferCache) evictView(view vk.ImageView) {
	c.mu.Lock()
	keys := c.byView[view]
	delete(c.byView, view)
	var dead []vk.Framebuffer
	for _, k := range keys {
		if fb, ok := c.entries[k]; ok {
			dead = append(dead, fb)
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	if len(dead) == 0 {
		return
	}
	dev := c.device.logical
	c.device.release(func() {
		for _, fb := range dead {
			vk.DestroyFramebuffer(dev, fb, nil)
		}
	})
}

func (c *framebufferCache) evictResource(r *resource) {
	c.mu.Lock()
	views := c.byRes[r]
	delete(c.byRes, r)
	c.mu.Unlock()
	for _, v := range views {
		c.evictView(v)
	}
}

func (c *framebufferCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, fb := range c.entries {
		vk.DestroyFramebuffer(c.device.logical, fb, nil)
		delete(c.entries, k)
	}
	c.byView = map[vk.ImageView][]framebufferKey{}
	c.byRes = map[*resource][]vk.ImageView{}
}
