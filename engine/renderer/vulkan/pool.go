package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// commandPool hands out primary command buffers of the device queue family.
type commandPool struct {
	device *Device
	handle vk.CommandPool

	mu   sync.Mutex
	idle []vk.CommandBuffer
}

func newCommandPool(d *Device) (*commandPool, error) {
	p := &commandPool{device: d}
	err := mustCheck("vkCreateCommandPool", vk.CreateCommandPool(d.logical, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &p.handle))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *commandPool) allocate() (vk.CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n > 0 {
		cmd := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return cmd, nil
	}
	cmds := make([]vk.CommandBuffer, 1)
	err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(p.device.logical, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmds))
	if err != nil {
		return nil, err
	}
	return cmds[0], nil
}

// begin returns a command buffer that is recording a one time submission.
func (p *commandPool) begin() (vk.CommandBuffer, error) {
	cmd, err := p.allocate()
	if err != nil {
		return nil, err
	}
	if err := beginCommandBuffer(cmd); err != nil {
		p.free(cmd)
		return nil, err
	}
	return cmd, nil
}

// free returns a command buffer the GPU is done with.
func (p *commandPool) free(cmd vk.CommandBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == vk.NullCommandPool {
		return
	}
	p.idle = append(p.idle, cmd)
}

func (p *commandPool) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != vk.NullCommandPool {
		vk.DestroyCommandPool(p.device.logical, p.handle, nil)
		p.handle = vk.NullCommandPool
	}
	p.idle = nil
}

func beginCommandBuffer(cmd vk.CommandBuffer) error {
	if err := check("vkResetCommandBuffer", vk.ResetCommandBuffer(cmd, 0)); err != nil {
		return err
	}
	return check("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}
