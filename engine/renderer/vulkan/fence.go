package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type submission struct {
	serial uint64
	fence  vk.Fence
}

type garbage struct {
	serial uint64
	fn     func()
}

/**
 * @brief The device queue. Every submission gets a serial and a vk.Fence;
 * gpu fences and deferred releases complete when the serial they were
 * queued behind completes.
 */
type queue struct {
	device *Device
	handle vk.Queue

	mu        sync.Mutex
	submitted uint64
	completed uint64
	inflight  []submission
	freeFence []vk.Fence
	garbage   []garbage
}

func newQueue(d *Device) *queue {
	q := &queue{device: d}
	vk.GetDeviceQueue(d.logical, d.queueFamily, 0, &q.handle)
	return q
}

func (q *queue) acquireFence() (vk.Fence, error) {
	if n := len(q.freeFence); n > 0 {
		f := q.freeFence[n-1]
		q.freeFence = q.freeFence[:n-1]
		return f, nil
	}
	var f vk.Fence
	err := check("vkCreateFence", vk.CreateFence(q.device.logical, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &f))
	return f, err
}

// submit queues cmds and returns the serial of the submission.
func (q *queue) submit(cmds []vk.CommandBuffer, wait []vk.Semaphore, signal []vk.Semaphore) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.device.IsRemoved() {
		return 0, gpu.ErrDeviceRemoved
	}
	fence, err := q.acquireFence()
	if err != nil {
		return 0, q.device.fail(err)
	}
	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	if len(wait) > 0 {
		stages := make([]vk.PipelineStageFlags, len(wait))
		for i := range stages {
			stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		info.WaitSemaphoreCount = uint32(len(wait))
		info.PWaitSemaphores = wait
		info.PWaitDstStageMask = stages
	}
	if err := check("vkQueueSubmit", vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{info}, fence)); err != nil {
		q.freeFence = append(q.freeFence, fence)
		return 0, q.device.fail(err)
	}
	q.submitted++
	q.inflight = append(q.inflight, submission{serial: q.submitted, fence: fence})
	return q.submitted, nil
}

// poll retires finished submissions. Callers hold q.mu.
func (q *queue) poll() error {
	for len(q.inflight) > 0 {
		s := q.inflight[0]
		switch res := vk.GetFenceStatus(q.device.logical, s.fence); res {
		case vk.Success:
			q.retire(s)
		case vk.NotReady:
			return nil
		default:
			return q.device.fail(check("vkGetFenceStatus", res))
		}
	}
	return nil
}

func (q *queue) retire(s submission) {
	vk.ResetFences(q.device.logical, 1, []vk.Fence{s.fence})
	q.freeFence = append(q.freeFence, s.fence)
	q.inflight = q.inflight[1:]
	q.completed = s.serial
	q.collect()
}

func (q *queue) collect() {
	n := 0
	for _, g := range q.garbage {
		if g.serial <= q.completed {
			g.fn()
			continue
		}
		q.garbage[n] = g
		n++
	}
	q.garbage = q.garbage[:n]
}

func (q *queue) completedSerial() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.poll()
	return q.completed
}

func (q *queue) waitSerial(serial uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.inflight) > 0 && q.completed < serial {
		s := q.inflight[0]
		if err := check("vkWaitForFences", vk.WaitForFences(q.device.logical, 1, []vk.Fence{s.fence}, vk.True, fenceTimeout)); err != nil {
			return q.device.fail(err)
		}
		q.retire(s)
	}
	return nil
}

func (q *queue) deferRelease(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.poll()
	if q.completed >= q.submitted {
		fn()
		return
	}
	q.garbage = append(q.garbage, garbage{serial: q.submitted, fn: fn})
}

func (q *queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	cmds := make([]vk.CommandBuffer, 0, len(lists))
	owned := make([]*commandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok || cl.device != q.device {
			return fmt.Errorf("%w: command list does not belong to this device", gpu.ErrInvalidCall)
		}
		if cl.released {
			return fmt.Errorf("%w: executing a released command list", gpu.ErrInvalidCall)
		}
		if !cl.closed {
			return fmt.Errorf("%w: executing an open command list", gpu.ErrInvalidCall)
		}
		if cl.err != nil {
			return cl.err
		}
		cmds = append(cmds, cl.cmd)
		owned = append(owned, cl)
	}
	if len(cmds) == 0 {
		return nil
	}
	serial, err := q.submit(cmds, nil, nil)
	if err != nil {
		return err
	}
	for _, cl := range owned {
		cl.lastSerial = serial
	}
	return nil
}

func (q *queue) Signal(f gpu.Fence, value uint64) error {
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	vf, ok := f.(*fence)
	if !ok || vf.queue != q {
		return fmt.Errorf("%w: fence does not belong to this device", gpu.ErrInvalidCall)
	}
	q.mu.Lock()
	serial := q.submitted
	q.mu.Unlock()
	vf.signal(value, serial)
	return nil
}

func (q *queue) WaitIdle() error {
	if q.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	q.mu.Lock()
	serial := q.submitted
	q.mu.Unlock()
	return q.waitSerial(serial)
}

func (q *queue) destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.device.IsRemoved() {
		for len(q.inflight) > 0 {
			s := q.inflight[0]
			vk.WaitForFences(q.device.logical, 1, []vk.Fence{s.fence}, vk.True, fenceTimeout)
			q.retire(s)
		}
	}
	q.completed = q.submitted
	q.collect()
	for _, s := range q.inflight {
		vk.DestroyFence(q.device.logical, s.fence, nil)
	}
	q.inflight = nil
	for _, f := range q.freeFence {
		vk.DestroyFence(q.device.logical, f, nil)
	}
	q.freeFence = nil
	core.LogDebug("queue destroyed after %d submissions", q.submitted)
}

type pendingSignal struct {
	value  uint64
	serial uint64
}

/**
 * @brief A monotonic gpu fence. Signal records the value behind the last
 * submission; the value becomes visible once that submission retires.
 */
type fence struct {
	queue *queue

	mu      sync.Mutex
	value   uint64
	pending []pendingSignal
}

func newFence(q *queue, initial uint64) *fence {
	return &fence{queue: q, value: initial}
}

func (f *fence) signal(value, serial uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, pendingSignal{value: value, serial: serial})
}

// advance folds every pending signal whose serial has completed into value.
func (f *fence) advance(completed uint64) {
	n := 0
	for _, p := range f.pending {
		if p.serial <= completed {
			if p.value > f.value {
				f.value = p.value
			}
			continue
		}
		f.pending[n] = p
		n++
	}
	f.pending = f.pending[:n]
}

func (f *fence) CompletedValue() uint64 {
	completed := f.queue.completedSerial()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance(completed)
	return f.value
}

func (f *fence) Wait(value uint64) error {
	if f.CompletedValue() >= value {
		return nil
	}
	f.mu.Lock()
	var serial uint64
	found := false
	for _, p := range f.pending {
		if p.value >= value {
			serial, found = p.serial, true
			break
		}
	}
	f.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: waiting for fence value %d that was never signaled", gpu.ErrInvalidCall, value)
	}
	if err := f.queue.waitSerial(serial); err != nil {
		return err
	}
	f.CompletedValue()
	return nil
}

func (f *fence) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
}
