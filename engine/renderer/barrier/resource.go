package barrier

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

/**
 * @brief A GPU resource paired with the state it will be in once every
 * barrier recorded so far has executed.
 *
 * The tracked state is CPU side bookkeeping. It assumes all command lists
 * touching the resource are executed in the order they were recorded, and
 * that nothing else (another tracker, a raw command list) transitions it.
 * If that assumption is broken the tracked state diverges from the actual
 * GPU state and the next barrier names the wrong "before" state.
 */
type Resource struct {
	resource gpu.Resource
	state    gpu.ResourceState
}

// Create allocates a committed resource and records its initial state.
// Any previously held resource is released first.
func (r *Resource) Create(device gpu.Device, heap gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState, clear *gpu.ClearValue) error {
	res, err := device.CreateCommittedResource(heap, desc, initialState, clear)
	if err != nil {
		return fmt.Errorf("failed to create committed resource: %w", err)
	}
	r.Reset()
	r.resource = res
	r.state = initialState
	return nil
}

// Adopt takes ownership of an existing resource that is known to be in state.
func (r *Resource) Adopt(res gpu.Resource, state gpu.ResourceState) {
	r.resource = res
	r.state = state
}

// Transition records a barrier from the tracked state to newState. It records nothing when the states match.
func (r *Resource) Transition(cl gpu.CommandList, newState gpu.ResourceState) error {
	if r.resource == nil {
		return core.ErrResourceNotCreated
	}
	if r.state == newState {
		return nil
	}
	cl.ResourceBarrier(gpu.TransitionBarrier(r.resource, r.state, newState))
	r.state = newState
	return nil
}

// UAVBarrier records an unordered access barrier. The tracked state is unchanged.
func (r *Resource) UAVBarrier(cl gpu.CommandList) error {
	if r.resource == nil {
		return core.ErrResourceNotCreated
	}
	cl.ResourceBarrier(gpu.UAVBarrier(r.resource))
	return nil
}

func (r *Resource) Get() gpu.Resource {
	return r.resource
}

func (r *Resource) GPUAddress() gpu.GPUAddress {
	if r.resource == nil {
		return 0
	}
	return r.resource.GPUAddress()
}

func (r *Resource) State() gpu.ResourceState {
	return r.state
}

func (r *Resource) IsCreated() bool {
	return r.resource != nil
}

func (r *Resource) SetName(name string) {
	if r.resource != nil {
		r.resource.SetName(name)
	}
}

// Reset releases the resource. The tracker can be reused with Create.
func (r *Resource) Reset() {
	if r.resource != nil {
		r.resource.Release()
	}
	r.resource = nil
	r.state = gpu.StateCommon
}
