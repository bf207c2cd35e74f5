package components

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

/**
 * @brief Stable GPU radix sort of uint32 keys with a uint32 payload.
 * Every pass sorts 4 bits with three dispatches (count, scan, scatter)
 * between the caller's buffers and an internal pair of scratch buffers.
 * The pass count is even, so the result lands back in the caller's
 * buffers.
 */
type ParallelSort struct {
	systems  *systems.SystemManager
	capacity uint32

	rootSignature *pipeline.RootSignature
	count         *pipeline.PipelineState
	scan          *pipeline.PipelineState
	scatter       *pipeline.PipelineState

	scratchKeys   containers.Handle
	scratchValues containers.Handle
	histogram     containers.Handle
}

func NewParallelSort(sm *systems.SystemManager, capacity uint32) (*ParallelSort, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: parallel sort with zero capacity", gpu.ErrInvalidCall)
	}
	ps := &ParallelSort{
		systems:       sm,
		capacity:      capacity,
		scratchKeys:   containers.InvalidHandle,
		scratchValues: containers.InvalidHandle,
		histogram:     containers.InvalidHandle,
	}
	if err := ps.create(); err != nil {
		ps.Release()
		return nil, fmt.Errorf("failed to create parallel sort: %w", err)
	}
	return ps, nil
}

func (ps *ParallelSort) create() error {
	rs := pipeline.NewRootSignature(ps.systems)
	if err := rs.AddCBV(0, 0); err != nil {
		return err
	}
	for slot := uint32(0); slot < 5; slot++ {
		if err := rs.AddRootUAV(slot, 0); err != nil {
			return err
		}
	}
	if err := rs.Build(ps.systems.Device(), true); err != nil {
		return err
	}
	ps.rootSignature = rs

	shaders, err := loadShaders(ps.systems, shaderdata.RadixCountCS, shaderdata.RadixScanCS, shaderdata.RadixScatterCS)
	if err != nil {
		return err
	}
	states := make([]*pipeline.PipelineState, len(shaders))
	for i, cs := range shaders {
		states[i] = pipeline.NewComputePipelineState(gpu.ComputePipelineDesc{RootSignature: rs.Get(), CS: cs})
		if err := states[i].Build(ps.systems.Device()); err != nil {
			return err
		}
	}
	ps.count, ps.scan, ps.scatter = states[0], states[1], states[2]

	bm := ps.systems.Buffers()
	groups := math.DivRoundUp(ps.capacity, shaderdata.RadixGroupCS)
	flags := gpu.ResourceFlagAllowUnorderedAccess
	if ps.scratchKeys, err = bm.CreateBuffer("radix scratch keys", 4, ps.capacity, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if ps.scratchValues, err = bm.CreateBuffer("radix scratch values", 4, ps.capacity, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	if ps.histogram, err = bm.CreateBuffer("radix histogram", 4, groups*shaderdata.RadixBins, flags, gpu.StateUnorderedAccess); err != nil {
		return err
	}
	return nil
}

func (ps *ParallelSort) Capacity() uint32 {
	return ps.capacity
}

func (ps *ParallelSort) entry(h containers.Handle, count uint32, what string) (*systems.InstanceBufferEntry, error) {
	e, ok := ps.systems.Buffers().GetInstanceBuffer(h)
	if !ok {
		return nil, fmt.Errorf("%s buffer %v: %w", what, h, core.ErrInvalidHandle)
	}
	if e.Size() < uint64(count)*4 {
		return nil, fmt.Errorf("%w: %s buffer holds %d bytes, sorting %d keys", gpu.ErrInvalidCall, what, e.Size(), count)
	}
	return e, nil
}

/**
 * @brief Records the sort of the first count keys of keys, moving
 * payload along. Both buffers must be registered with the buffer manager
 * and created with unordered access. They are left in UnorderedAccess.
 */
func (ps *ParallelSort) Sort(cl gpu.CommandList, keys, payload containers.Handle, count uint32) error {
	if count > ps.capacity {
		return fmt.Errorf("%w: sorting %d keys with capacity %d", gpu.ErrInvalidCall, count, ps.capacity)
	}
	if count == 0 {
		return nil
	}

	buffers := make([]*systems.InstanceBufferEntry, 0, 5)
	for _, b := range []struct {
		h    containers.Handle
		what string
	}{{keys, "key"}, {payload, "payload"}, {ps.scratchKeys, "scratch key"}, {ps.scratchValues, "scratch value"}} {
		e, err := ps.entry(b.h, count, b.what)
		if err != nil {
			return err
		}
		buffers = append(buffers, e)
	}
	hist, ok := ps.systems.Buffers().GetInstanceBuffer(ps.histogram)
	if !ok {
		return fmt.Errorf("radix histogram: %w", core.ErrInvalidHandle)
	}
	buffers = append(buffers, hist)
	for _, e := range buffers {
		if err := e.Buffer.Transition(cl, gpu.StateUnorderedAccess); err != nil {
			return err
		}
	}

	cl.BeginEvent("Parallel Sort")
	defer cl.EndEvent()

	if err := ps.rootSignature.SetOnCommandList(cl); err != nil {
		return err
	}
	groups := math.DivRoundUp(count, shaderdata.RadixGroupCS)

	srcKeys, srcValues := keys, payload
	dstKeys, dstValues := ps.scratchKeys, ps.scratchValues
	for pass := uint32(0); pass < shaderdata.RadixPasses; pass++ {
		constants := shaderdata.RadixConstants{
			Count:     count,
			Shift:     pass * shaderdata.RadixBitsPerPass,
			GroupSize: shaderdata.RadixGroupCS,
		}
		if err := ps.rootSignature.SetCBV(cl, 0, 0, constants); err != nil {
			return err
		}
		for slot, h := range []containers.Handle{srcKeys, srcValues, ps.histogram, dstKeys, dstValues} {
			if err := ps.rootSignature.SetStructuredBufferUAV(cl, uint32(slot), 0, h); err != nil {
				return err
			}
		}

		if err := ps.count.Set(cl, false); err != nil {
			return err
		}
		cl.Dispatch(groups, 1, 1)
		if err := hist.Buffer.UAVBarrier(cl); err != nil {
			return err
		}

		if err := ps.scan.Set(cl, false); err != nil {
			return err
		}
		cl.Dispatch(1, 1, 1)
		if err := hist.Buffer.UAVBarrier(cl); err != nil {
			return err
		}

		if err := ps.scatter.Set(cl, false); err != nil {
			return err
		}
		cl.Dispatch(groups, 1, 1)
		for _, e := range buffers {
			if err := e.Buffer.UAVBarrier(cl); err != nil {
				return err
			}
		}

		srcKeys, dstKeys = dstKeys, srcKeys
		srcValues, dstValues = dstValues, srcValues
	}
	return nil
}

func (ps *ParallelSort) Release() {
	for _, p := range []*pipeline.PipelineState{ps.count, ps.scan, ps.scatter} {
		if p != nil {
			p.Release()
		}
	}
	if ps.rootSignature != nil {
		ps.rootSignature.Reset()
	}
	bm := ps.systems.Buffers()
	for _, h := range []containers.Handle{ps.scratchKeys, ps.scratchValues, ps.histogram} {
		if h.IsValid() {
			_ = bm.RemoveInstanceBuffer(h)
		}
	}
	ps.scratchKeys, ps.scratchValues, ps.histogram = containers.InvalidHandle, containers.InvalidHandle, containers.InvalidHandle
}
