package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/memory"
	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
	"github.com/spaghettifunk/ember/engine/systems"
)

const (
	MaxRegisterSpaces = 6
	MaxSlotsPerSpace  = 64
)

const unmapped = ^uint32(0)

// register classes: b, t and u
const (
	classCBV = iota
	classSRV
	classUAV
	classCount
)

type slotTable [MaxRegisterSpaces][MaxSlotsPerSpace]uint32

/**
 * @brief Declares the resources a shader expects and binds them by
 * (slot, space). Parameters are declared first, then the signature is
 * built once; binding looks up the parameter index at call time.
 */
type RootSignature struct {
	systems *systems.SystemManager

	params   []gpu.RootParameter
	samplers []gpu.StaticSampler
	indices  [classCount]slotTable

	rootSignature gpu.RootSignature
	compute       bool
	built         bool
}

func NewRootSignature(sm *systems.SystemManager) *RootSignature {
	rs := &RootSignature{systems: sm}
	for c := range rs.indices {
		for space := range rs.indices[c] {
			for slot := range rs.indices[c][space] {
				rs.indices[c][space][slot] = unmapped
			}
		}
	}
	return rs
}

func (rs *RootSignature) add(class int, kind gpu.RootParameterType, slot, space uint32) error {
	if rs.built {
		return fmt.Errorf("%w: cannot declare %s b/t/u%d space%d", core.ErrAlreadyBuilt, kind, slot, space)
	}
	if slot >= MaxSlotsPerSpace || space >= MaxRegisterSpaces {
		return fmt.Errorf("%w: slot %d space %d is out of range", core.ErrUnknownSlot, slot, space)
	}
	if rs.indices[class][space][slot] != unmapped {
		return fmt.Errorf("%w: %c%d space%d", core.ErrSlotDeclared, "btu"[class], slot, space)
	}
	rs.params = append(rs.params, gpu.RootParameter{Type: kind, Register: slot, Space: space})
	rs.indices[class][space][slot] = uint32(len(rs.params) - 1)
	return nil
}

// AddCBV declares a root constant buffer at b<slot>.
func (rs *RootSignature) AddCBV(slot, space uint32) error {
	return rs.add(classCBV, gpu.RootParameterCBV, slot, space)
}

// AddSRV declares a one descriptor table at t<slot>.
func (rs *RootSignature) AddSRV(slot, space uint32) error {
	return rs.add(classSRV, gpu.RootParameterTableSRV, slot, space)
}

// AddUAV declares a one descriptor table at u<slot>.
func (rs *RootSignature) AddUAV(slot, space uint32) error {
	return rs.add(classUAV, gpu.RootParameterTableUAV, slot, space)
}

// AddRootSRV declares a root level buffer SRV at t<slot>, bound by address.
func (rs *RootSignature) AddRootSRV(slot, space uint32) error {
	return rs.add(classSRV, gpu.RootParameterSRV, slot, space)
}

// AddRootUAV declares a root level buffer UAV at u<slot>, bound by address.
func (rs *RootSignature) AddRootUAV(slot, space uint32) error {
	return rs.add(classUAV, gpu.RootParameterUAV, slot, space)
}

func (rs *RootSignature) AddStaticSampler(sampler gpu.StaticSampler, slot, space uint32) error {
	if rs.built {
		return fmt.Errorf("%w: cannot declare sampler s%d space%d", core.ErrAlreadyBuilt, slot, space)
	}
	for _, s := range rs.samplers {
		if s.Register == slot && s.Space == space {
			return fmt.Errorf("%w: s%d space%d", core.ErrSlotDeclared, slot, space)
		}
	}
	sampler.Register = slot
	sampler.Space = space
	rs.samplers = append(rs.samplers, sampler)
	return nil
}

/**
 * @brief Creates the native root signature. compute selects whether the
 * Set* calls bind to the compute or the graphics slots. Building twice
 * is an error.
 */
func (rs *RootSignature) Build(device gpu.Device, compute bool) error {
	if rs.built {
		return core.ErrAlreadyBuilt
	}
	sig, err := device.CreateRootSignature(gpu.RootSignatureDesc{
		Parameters:     rs.params,
		StaticSamplers: rs.samplers,
		Compute:        compute,
	})
	if err != nil {
		core.LogError("failed to create root signature: %s", err)
		return fmt.Errorf("failed to create root signature: %w", err)
	}
	rs.rootSignature = sig
	rs.compute = compute
	rs.built = true
	return nil
}

func (rs *RootSignature) Get() gpu.RootSignature {
	return rs.rootSignature
}

func (rs *RootSignature) IsCompute() bool {
	return rs.compute
}

// Reset releases the native object. The declarations are kept, so the signature can be built again.
func (rs *RootSignature) Reset() {
	if rs.rootSignature != nil {
		rs.rootSignature.Release()
	}
	rs.rootSignature = nil
	rs.built = false
}

func (rs *RootSignature) index(class int, slot, space uint32) (uint32, error) {
	if !rs.built {
		return 0, core.ErrNotBuilt
	}
	if slot >= MaxSlotsPerSpace || space >= MaxRegisterSpaces {
		return 0, fmt.Errorf("%w: slot %d space %d is out of range", core.ErrUnknownSlot, slot, space)
	}
	idx := rs.indices[class][space][slot]
	if idx == unmapped {
		return 0, fmt.Errorf("%w: %c%d space%d", core.ErrUnknownSlot, "btu"[class], slot, space)
	}
	return idx, nil
}

// SetOnCommandList binds the signature to the graphics or compute slots.
func (rs *RootSignature) SetOnCommandList(cl gpu.CommandList) error {
	if !rs.built {
		return core.ErrNotBuilt
	}
	if rs.compute {
		cl.SetComputeRootSignature(rs.rootSignature)
	} else {
		cl.SetGraphicsRootSignature(rs.rootSignature)
	}
	return nil
}

/**
 * @brief Copies data into this frame's constant memory and binds it at
 * b<slot>. Every call allocates; nothing is cached between calls.
 * data must have a fixed size (see encoding/binary).
 */
func (rs *RootSignature) SetCBV(cl gpu.CommandList, slot, space uint32, data any) error {
	idx, err := rs.index(classCBV, slot, space)
	if err != nil {
		return err
	}
	b, err := shaderdata.Bytes(data)
	if err != nil {
		return fmt.Errorf("constants for b%d space%d: %w", slot, space, err)
	}
	addr, err := rs.memory().AllocateConstant(b)
	if err != nil {
		return err
	}
	if rs.compute {
		cl.SetComputeRootConstantBufferView(idx, addr)
	} else {
		cl.SetGraphicsRootConstantBufferView(idx, addr)
	}
	return nil
}

func (rs *RootSignature) setTable(cl gpu.CommandList, class int, slot, space uint32, view memory.DescriptorView) error {
	idx, err := rs.index(class, slot, space)
	if err != nil {
		return err
	}
	// an empty view leaves whatever was bound before
	if !view.IsValid() {
		return nil
	}
	handle, err := rs.memory().GPUHandle(view)
	if err != nil {
		return err
	}
	if rs.compute {
		cl.SetComputeRootDescriptorTable(idx, handle)
	} else {
		cl.SetGraphicsRootDescriptorTable(idx, handle)
	}
	return nil
}

// SetSRV binds view at t<slot>. The zero view is a no-op.
func (rs *RootSignature) SetSRV(cl gpu.CommandList, slot, space uint32, view memory.DescriptorView) error {
	return rs.setTable(cl, classSRV, slot, space, view)
}

// SetSRVHandle binds a table from a raw shader visible handle, as handed out by AllocateSrvOrUavHandles.
func (rs *RootSignature) SetSRVHandle(cl gpu.CommandList, slot, space uint32, handle gpu.GPUDescriptorHandle) error {
	idx, err := rs.index(classSRV, slot, space)
	if err != nil {
		return err
	}
	if rs.compute {
		cl.SetComputeRootDescriptorTable(idx, handle)
	} else {
		cl.SetGraphicsRootDescriptorTable(idx, handle)
	}
	return nil
}

// SetUAV binds view at u<slot>. The zero view is a no-op.
func (rs *RootSignature) SetUAV(cl gpu.CommandList, slot, space uint32, view memory.DescriptorView) error {
	return rs.setTable(cl, classUAV, slot, space, view)
}

// SetStructuredBufferSRV binds the address of a registered buffer at t<slot>, bypassing the descriptor heap.
func (rs *RootSignature) SetStructuredBufferSRV(cl gpu.CommandList, slot, space uint32, h containers.Handle) error {
	idx, err := rs.index(classSRV, slot, space)
	if err != nil {
		return err
	}
	addr, err := rs.systems.Buffers().InstanceBufferAddress(h)
	if err != nil {
		return err
	}
	if rs.compute {
		cl.SetComputeRootShaderResourceView(idx, addr)
	} else {
		cl.SetGraphicsRootShaderResourceView(idx, addr)
	}
	return nil
}

// SetStructuredBufferUAV binds the address of a registered buffer at u<slot>.
func (rs *RootSignature) SetStructuredBufferUAV(cl gpu.CommandList, slot, space uint32, h containers.Handle) error {
	idx, err := rs.index(classUAV, slot, space)
	if err != nil {
		return err
	}
	addr, err := rs.systems.Buffers().InstanceBufferAddress(h)
	if err != nil {
		return err
	}
	if rs.compute {
		cl.SetComputeRootUnorderedAccessView(idx, addr)
	} else {
		cl.SetGraphicsRootUnorderedAccessView(idx, addr)
	}
	return nil
}

func (rs *RootSignature) memory() *memory.GraphicsMemory {
	return rs.systems.Memory()
}
