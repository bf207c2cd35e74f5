package gpu

type RootParameterType uint8

const (
	RootParameterCBV RootParameterType = iota
	RootParameterSRV
	RootParameterUAV
	RootParameterTableSRV
	RootParameterTableUAV
)

func (t RootParameterType) String() string {
	switch t {
	case RootParameterCBV:
		return "root CBV"
	case RootParameterSRV:
		return "root SRV"
	case RootParameterUAV:
		return "root UAV"
	case RootParameterTableSRV:
		return "SRV table"
	case RootParameterTableUAV:
		return "UAV table"
	}
	return "unknown"
}

type RootParameter struct {
	Type     RootParameterType
	Register uint32
	Space    uint32
}

type Filter uint8

const (
	FilterPoint Filter = iota
	FilterLinear
	// FilterComparisonLinear does a depth comparison with linear (PCF) filtering.
	FilterComparisonLinear
)

type AddressMode uint8

const (
	AddressWrap AddressMode = iota
	AddressClamp
	AddressBorder
)

type ComparisonFunc uint8

const (
	ComparisonNever ComparisonFunc = iota
	ComparisonLess
	ComparisonLessEqual
	ComparisonGreater
	ComparisonGreaterEqual
	ComparisonAlways
)

type StaticSampler struct {
	Filter         Filter
	AddressU       AddressMode
	AddressV       AddressMode
	AddressW       AddressMode
	ComparisonFunc ComparisonFunc
	BorderWhite    bool
	Register       uint32
	Space          uint32
}

type RootSignatureDesc struct {
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
	Compute        bool
}

type RootSignature interface {
	Desc() RootSignatureDesc
	Release()
}

// ShaderBytecode is a compiled shader. Backends without a bytecode format only use the name.
type ShaderBytecode struct {
	Name string
	Code []byte
}

func (s ShaderBytecode) IsEmpty() bool {
	return s.Name == "" && len(s.Code) == 0
}

type InputElement struct {
	SemanticName string
	Format       Format
	Offset       uint32
	// Components overrides the component count of Format (e.g. 3 for a float3 stored as R32G32B32A32).
	Components uint32
}

type PrimitiveTopologyType uint8

const (
	TopologyTypeTriangle PrimitiveTopologyType = iota
	TopologyTypeLine
	TopologyTypePoint
)

type PrimitiveTopology uint8

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type FillMode uint8

const (
	FillSolid FillMode = iota
	FillWireframe
)

type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

type RasterizerDesc struct {
	FillMode              FillMode
	CullMode              CullMode
	FrontCounterClockwise bool
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
	DepthClipEnable       bool
	MultisampleEnable     bool
}

// RasterizerCullCounterClockwise culls counter clockwise faces, so clockwise faces are front facing.
func RasterizerCullCounterClockwise() RasterizerDesc {
	return RasterizerDesc{FillMode: FillSolid, CullMode: CullBack, DepthClipEnable: true}
}

func RasterizerCullNone() RasterizerDesc {
	return RasterizerDesc{FillMode: FillSolid, CullMode: CullNone, DepthClipEnable: true}
}

type BlendMode uint8

const (
	BlendOpaque BlendMode = iota
	// BlendAlpha is src*a + dst*(1-a).
	BlendAlpha
	// BlendAdditive is src + dst.
	BlendAdditive
	// BlendPremultiplied is src + dst*(1-a).
	BlendPremultiplied
)

type BlendDesc struct {
	Mode              BlendMode
	DisableColorWrite bool
}

type DepthStencilDesc struct {
	DepthEnable bool
	DepthWrite  bool
	DepthFunc   ComparisonFunc
}

func DepthDefault() DepthStencilDesc {
	return DepthStencilDesc{DepthEnable: true, DepthWrite: true, DepthFunc: ComparisonLessEqual}
}

func DepthRead() DepthStencilDesc {
	return DepthStencilDesc{DepthEnable: true, DepthWrite: false, DepthFunc: ComparisonLessEqual}
}

func DepthNone() DepthStencilDesc {
	return DepthStencilDesc{}
}

type SampleDesc struct {
	Count   uint32
	Quality uint32
}

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS            ShaderBytecode
	PS            ShaderBytecode
	InputLayout   []InputElement
	Topology      PrimitiveTopologyType
	Blend         BlendDesc
	DepthStencil  DepthStencilDesc
	Rasterizer    RasterizerDesc
	RTVFormats    []Format
	DSVFormat     Format
	SampleDesc    SampleDesc
}

// MeshPipelineDesc describes an amplification/mesh shader pipeline. There is no input assembler.
type MeshPipelineDesc struct {
	RootSignature RootSignature
	AS            ShaderBytecode
	MS            ShaderBytecode
	PS            ShaderBytecode
	Topology      PrimitiveTopologyType
	Blend         BlendDesc
	DepthStencil  DepthStencilDesc
	Rasterizer    RasterizerDesc
	RTVFormats    []Format
	DSVFormat     Format
	SampleDesc    SampleDesc
}

type ComputePipelineDesc struct {
	RootSignature RootSignature
	CS            ShaderBytecode
}

type PipelineKind uint8

const (
	PipelineGraphics PipelineKind = iota
	PipelineMesh
	PipelineCompute
)

type Pipeline interface {
	Kind() PipelineKind
	// SampleCount is the render target sample count the pipeline was compiled for. Compute pipelines report 0.
	SampleCount() uint32
	Name() string
	Release()
}
