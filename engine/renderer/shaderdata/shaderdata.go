// Package shaderdata holds the memory layouts shared between the CPU and
// the shaders: constant buffers, structured buffer elements and shader
// names. Layouts follow HLSL constant buffer packing (a float3 followed by
// a float fills one 16 byte register) so the same bytes work for every
// backend.
package shaderdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/ember/engine/math"
)

// Shader names. Backends resolve these to bytecode (.spv) or to built in kernels.
const (
	ParticleSimulateCS = "ParticleSimulate_CS"
	ParticleSortKeysCS = "ParticleSortKeys_CS"
	RadixCountCS       = "RadixCount_CS"
	RadixScanCS        = "RadixScan_CS"
	RadixScatterCS     = "RadixScatter_CS"

	ParticleDrawMS   = "ParticleDraw_MS"
	ParticleDrawPS   = "ParticleDraw_PS"
	ParticleShadowMS = "ParticleShadow_MS"
	ParticleShadowPS = "ParticleShadow_PS"

	PropVS       = "Prop_VS"
	PropPS       = "Prop_PS"
	PropShadowVS = "PropShadow_VS"

	FullscreenVS   = "Fullscreen_VS"
	TonemapSDRPS   = "TonemapSDR_PS"
	TonemapHDR10PS = "TonemapHDR10_PS"
	DebugTextVS    = "DebugText_VS"
	DebugTextPS    = "DebugText_PS"
)

// Thread group sizes and sort parameters.
const (
	ParticleGroupMS  = 32
	SimulateGroupCS  = 256
	RadixGroupCS     = 256
	RadixBitsPerPass = 4
	RadixBins        = 1 << RadixBitsPerPass
	RadixPasses      = 32 / RadixBitsPerPass
)

// Particle is one element of the particle structured buffer. 32 bytes.
type Particle struct {
	Position math.Vec3
	Age      float32
	Velocity math.Vec3
	Size     float32
}

const ParticleStride = 32

func (p Particle) Put(b []byte) {
	putVec3(b[0:], p.Position)
	putF32(b[12:], p.Age)
	putVec3(b[16:], p.Velocity)
	putF32(b[28:], p.Size)
}

func ReadParticle(b []byte) Particle {
	return Particle{
		Position: readVec3(b[0:]),
		Age:      readF32(b[12:]),
		Velocity: readVec3(b[16:]),
		Size:     readF32(b[28:]),
	}
}

type SimulateConstants struct {
	DeltaTime     float32
	TotalTime     float32
	ParticleCount uint32
	DidShoot      uint32

	Target     math.Vec3
	Attraction float32

	RayOrigin math.Vec3
	Damping   float32

	RayDirection  math.Vec3
	ShootStrength float32

	ShootRadius float32
	Pad         [3]float32
}

type SortKeyConstants struct {
	View          math.Mat4
	ParticleCount uint32
	Pad           [3]uint32
}

type RadixConstants struct {
	Count     uint32
	Shift     uint32
	GroupSize uint32
	Pad       uint32
}

type ParticleDrawConstants struct {
	ViewProj        math.Mat4
	ShadowTransform math.Mat4

	CameraRight    math.Vec3
	ParticleRadius float32

	CameraUp math.Vec3
	Density  float32

	LightColor    math.Vec3
	ParticleCount uint32

	AmbientColor   math.Vec3
	ShadowStrength float32
}

type ParticleShadowConstants struct {
	ViewProj math.Mat4
	Planes   [6]math.Vec4

	LightRight     math.Vec3
	ParticleRadius float32

	LightUp math.Vec3
	Density float32

	ParticleCount uint32
	Pad           [3]uint32
}

type LightConstants struct {
	Color     math.Vec3
	Strength  float32
	Direction math.Vec3
	Pad       float32
}

type PropConstants struct {
	World           math.Mat4
	WorldViewProj   math.Mat4
	ShadowTransform math.Mat4
	Light           LightConstants
	CameraPosition  math.Vec3
	Ambient         float32
	Color           math.Vec4
}

type PropShadowConstants struct {
	WorldViewProj math.Mat4
}

type TonemapConstants struct {
	Exposure       float32
	PaperWhiteNits float32
	Pad            [2]float32
}

type TextConstants struct {
	ScreenSize math.Vec2
	Pad        [2]float32
	Color      math.Vec4
}

// TextVertex is one corner of a glyph quad in pixels. 16 bytes.
type TextVertex struct {
	Position math.Vec2
	Texcoord math.Vec2
}

const TextVertexStride = 16

var ErrNotFixedSize = errors.New("value has no fixed binary size")

// Bytes encodes v (a fixed size value or a slice of them) little endian.
func Bytes(v any) ([]byte, error) {
	size := binary.Size(v)
	if size < 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("%w: %T: %s", ErrNotFixedSize, v, err)
	}
	return buf.Bytes(), nil
}

// Decode fills v from b. b may be longer than v.
func Decode(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

func Size(v any) int {
	return binary.Size(v)
}

func PutU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

func ReadU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// OrderedFloatBits maps a float to a uint32 whose unsigned order matches the float order.
func OrderedFloatBits(f float32) uint32 {
	bits := stdmath.Float32bits(f)
	if bits&0x80000000 != 0 {
		return ^bits
	}
	return bits | 0x80000000
}

func putF32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, stdmath.Float32bits(f))
}

func readF32(b []byte) float32 {
	return stdmath.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putVec3(b []byte, v math.Vec3) {
	putF32(b[0:], v.X)
	putF32(b[4:], v.Y)
	putF32(b[8:], v.Z)
}

func readVec3(b []byte) math.Vec3 {
	return math.Vec3{X: readF32(b[0:]), Y: readF32(b[4:]), Z: readF32(b[8:])}
}

func PutF32(b []byte, f float32) { putF32(b, f) }

func ReadF32(b []byte) float32 { return readF32(b) }

func (v TextVertex) Put(b []byte) {
	putF32(b[0:], v.Position.X)
	putF32(b[4:], v.Position.Y)
	putF32(b[8:], v.Texcoord.X)
	putF32(b[12:], v.Texcoord.Y)
}

func ReadTextVertex(b []byte) TextVertex {
	return TextVertex{
		Position: math.Vec2{X: readF32(b[0:]), Y: readF32(b[4:])},
		Texcoord: math.Vec2{X: readF32(b[8:]), Y: readF32(b[12:])},
	}
}

func ReadVertex3D(b []byte) math.Vertex3D {
	return math.Vertex3D{
		Position: readVec3(b[0:]),
		Normal:   readVec3(b[12:]),
		Texcoord: math.Vec2{X: readF32(b[24:]), Y: readF32(b[28:])},
	}
}

func PutVertex3D(b []byte, v math.Vertex3D) {
	putVec3(b[0:], v.Position)
	putVec3(b[12:], v.Normal)
	putF32(b[24:], v.Texcoord.X)
	putF32(b[28:], v.Texcoord.Y)
}

const Vertex3DStride = 32
