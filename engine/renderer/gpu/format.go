package gpu

type Format uint32

const (
	FormatUnknown Format = iota
	FormatR32Float
	FormatR32Uint
	FormatR32Typeless
	FormatD32Float
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR10G10B10A2Unorm
	FormatR16G16B16A16Float
	FormatR32G32B32A32Float
)

var formatNames = map[Format]string{
	FormatUnknown:           "UNKNOWN",
	FormatR32Float:          "R32_FLOAT",
	FormatR32Uint:           "R32_UINT",
	FormatR32Typeless:       "R32_TYPELESS",
	FormatD32Float:          "D32_FLOAT",
	FormatR8G8B8A8Unorm:     "R8G8B8A8_UNORM",
	FormatB8G8R8A8Unorm:     "B8G8R8A8_UNORM",
	FormatR10G10B10A2Unorm:  "R10G10B10A2_UNORM",
	FormatR16G16B16A16Float: "R16G16B16A16_FLOAT",
	FormatR32G32B32A32Float: "R32G32B32A32_FLOAT",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "INVALID"
}

func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR32Float, FormatR32Uint, FormatR32Typeless, FormatD32Float,
		FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatR10G10B10A2Unorm:
		return 4
	case FormatR16G16B16A16Float:
		return 8
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float
}

// Channels is the number of components a shader sees.
func (f Format) Channels() int {
	switch f {
	case FormatR32Float, FormatR32Uint, FormatR32Typeless, FormatD32Float:
		return 1
	case FormatUnknown:
		return 0
	}
	return 4
}

type ColorSpace uint8

const (
	ColorSpaceSRGB ColorSpace = iota
	// ColorSpaceHDR10 is Rec.2020 primaries with the ST.2084 (PQ) transfer function.
	ColorSpaceHDR10
)

func (c ColorSpace) String() string {
	if c == ColorSpaceHDR10 {
		return "hdr10"
	}
	return "sdr"
}
