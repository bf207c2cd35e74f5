package soft

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// resource stores buffers as bytes and textures as RGBA float32 texels,
// laid out ((z*height+y)*width+x)*samples+sample.
type resource struct {
	device *Device
	heap   gpu.HeapType
	desc   gpu.ResourceDesc
	name   string
	va     uint64
	clear  gpu.ClearValue

	data   []byte
	texels []float32

	// state is what the resource is in on the timeline of executed command lists.
	state    gpu.ResourceState
	mapped   bool
	released bool
}

func newResource(d *Device, heap gpu.HeapType, desc gpu.ResourceDesc, state gpu.ResourceState) *resource {
	r := &resource{device: d, heap: heap, desc: desc, state: state}
	if desc.Dimension == gpu.DimensionBuffer {
		r.data = make([]byte, desc.Width)
	} else {
		r.texels = make([]float32, r.texelCount()*4)
		// single channel formats read back as (v, 0, 0, 1), zero included
		if zero := storeTexel(desc.Format, [4]float32{}); zero != ([4]float32{}) {
			r.fill(zero)
		}
	}
	return r
}

func (r *resource) texelCount() int {
	return int(r.desc.Width) * int(r.desc.Height) * int(r.desc.DepthOrArraySize) * int(r.samples())
}

func (r *resource) samples() uint32 {
	if r.desc.SampleCount == 0 {
		return 1
	}
	return r.desc.SampleCount
}

func (r *resource) Desc() gpu.ResourceDesc { return r.desc }

func (r *resource) GPUAddress() gpu.GPUAddress {
	return gpu.GPUAddress(r.va)
}

func (r *resource) Map() ([]byte, error) {
	if r.released {
		return nil, fmt.Errorf("%w: map of a released resource", gpu.ErrInvalidCall)
	}
	if r.desc.Dimension != gpu.DimensionBuffer || r.heap == gpu.HeapDefault {
		return nil, fmt.Errorf("%w: only upload and readback buffers can be mapped", gpu.ErrInvalidCall)
	}
	r.mapped = true
	return r.data, nil
}

func (r *resource) Unmap() { r.mapped = false }

func (r *resource) SetName(name string) { r.name = name }

func (r *resource) Name() string { return r.name }

func (r *resource) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.desc.Dimension == gpu.DimensionBuffer {
		r.device.forgetBuffer(r)
	}
}

func (r *resource) label() string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("resource@%p", r)
}

func (r *resource) texelIndex(x, y, z, s uint32) int {
	w, h := uint32(r.desc.Width), r.desc.Height
	return int(((z*h+y)*w+x)*r.samples()+s) * 4
}

// Texel returns the RGBA value of sample s at (x, y, z).
func (r *resource) Texel(x, y, z, s uint32) [4]float32 {
	i := r.texelIndex(x, y, z, s)
	return [4]float32{r.texels[i], r.texels[i+1], r.texels[i+2], r.texels[i+3]}
}

func (r *resource) SetTexel(x, y, z, s uint32, v [4]float32) {
	i := r.texelIndex(x, y, z, s)
	copy(r.texels[i:i+4], v[:])
}

func (r *resource) fill(v [4]float32) {
	for i := 0; i < len(r.texels); i += 4 {
		copy(r.texels[i:i+4], v[:])
	}
}

// TextureData returns the first sample of every texel of a texture, RGBA.
func TextureData(res gpu.Resource) ([]float32, error) {
	r, ok := res.(*resource)
	if !ok || r.desc.Dimension == gpu.DimensionBuffer {
		return nil, fmt.Errorf("%w: not a soft texture", gpu.ErrInvalidCall)
	}
	out := make([]float32, 0, int(r.desc.Width)*int(r.desc.Height)*int(r.desc.DepthOrArraySize)*4)
	for z := uint32(0); z < r.desc.DepthOrArraySize; z++ {
		for y := uint32(0); y < r.desc.Height; y++ {
			for x := uint32(0); x < uint32(r.desc.Width); x++ {
				t := r.Texel(x, y, z, 0)
				out = append(out, t[:]...)
			}
		}
	}
	return out, nil
}

// BufferData returns the bytes of any soft buffer, including default heap ones.
func BufferData(res gpu.Resource) ([]byte, error) {
	r, ok := res.(*resource)
	if !ok || r.desc.Dimension != gpu.DimensionBuffer {
		return nil, fmt.Errorf("%w: not a soft buffer", gpu.ErrInvalidCall)
	}
	return r.data, nil
}

// ResourceState is the state the resource is in after all executed work.
func ResourceState(res gpu.Resource) gpu.ResourceState {
	if r, ok := res.(*resource); ok {
		return r.state
	}
	return gpu.StateCommon
}

func decodeTexel(format gpu.Format, b []byte) [4]float32 {
	switch format {
	case gpu.FormatR32Float, gpu.FormatR32Typeless, gpu.FormatD32Float:
		return [4]float32{stdmath.Float32frombits(binary.LittleEndian.Uint32(b)), 0, 0, 1}
	case gpu.FormatR32Uint:
		return [4]float32{float32(binary.LittleEndian.Uint32(b)), 0, 0, 1}
	case gpu.FormatR8G8B8A8Unorm:
		return [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}
	case gpu.FormatB8G8R8A8Unorm:
		return [4]float32{float32(b[2]) / 255, float32(b[1]) / 255, float32(b[0]) / 255, float32(b[3]) / 255}
	case gpu.FormatR10G10B10A2Unorm:
		v := binary.LittleEndian.Uint32(b)
		return [4]float32{
			float32(v&0x3ff) / 1023,
			float32((v>>10)&0x3ff) / 1023,
			float32((v>>20)&0x3ff) / 1023,
			float32(v>>30) / 3,
		}
	case gpu.FormatR16G16B16A16Float:
		return [4]float32{
			halfToFloat(binary.LittleEndian.Uint16(b[0:])),
			halfToFloat(binary.LittleEndian.Uint16(b[2:])),
			halfToFloat(binary.LittleEndian.Uint16(b[4:])),
			halfToFloat(binary.LittleEndian.Uint16(b[6:])),
		}
	case gpu.FormatR32G32B32A32Float:
		var out [4]float32
		for i := range out {
			out[i] = stdmath.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out
	}
	return [4]float32{}
}

func encodeTexel(format gpu.Format, v [4]float32, b []byte) {
	switch format {
	case gpu.FormatR32Float, gpu.FormatR32Typeless, gpu.FormatD32Float:
		binary.LittleEndian.PutUint32(b, stdmath.Float32bits(v[0]))
	case gpu.FormatR32Uint:
		binary.LittleEndian.PutUint32(b, uint32(v[0]))
	case gpu.FormatR8G8B8A8Unorm:
		for i := 0; i < 4; i++ {
			b[i] = unorm8(v[i])
		}
	case gpu.FormatB8G8R8A8Unorm:
		b[0], b[1], b[2], b[3] = unorm8(v[2]), unorm8(v[1]), unorm8(v[0]), unorm8(v[3])
	case gpu.FormatR10G10B10A2Unorm:
		p := unorm(v[0], 1023) | unorm(v[1], 1023)<<10 | unorm(v[2], 1023)<<20 | unorm(v[3], 3)<<30
		binary.LittleEndian.PutUint32(b, p)
	case gpu.FormatR16G16B16A16Float:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint16(b[i*2:], floatToHalf(v[i]))
		}
	case gpu.FormatR32G32B32A32Float:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(b[i*4:], stdmath.Float32bits(v[i]))
		}
	}
}

// storeTexel applies the quantization of format to v.
func storeTexel(format gpu.Format, v [4]float32) [4]float32 {
	switch format {
	case gpu.FormatR32Float, gpu.FormatR32Typeless, gpu.FormatD32Float, gpu.FormatR32Uint:
		return [4]float32{v[0], 0, 0, 1}
	case gpu.FormatR32G32B32A32Float:
		return v
	}
	var b [16]byte
	encodeTexel(format, v, b[:])
	return decodeTexel(format, b[:])
}

func unorm8(f float32) byte {
	return byte(unorm(f, 255))
}

func unorm(f float32, max float32) uint32 {
	if f != f || f <= 0 {
		return 0
	}
	if f >= 1 {
		return uint32(max)
	}
	return uint32(f*max + 0.5)
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch {
	case exp == 0 && mant == 0:
		return stdmath.Float32frombits(sign)
	case exp == 0:
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return stdmath.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return stdmath.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

func floatToHalf(f float32) uint16 {
	bits := stdmath.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case bits&0x7fffffff > 0x7f800000:
		return sign | 0x7e00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	if mant&0x1000 != 0 {
		half++
	}
	return half
}
