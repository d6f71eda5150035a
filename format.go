package rhi

import "fmt"

// Format is a logical texel or element format.
type Format uint8

// Formats.
const (
	FormatUnknown Format = iota

	FormatR8Uint
	FormatR8Sint
	FormatR8Unorm
	FormatR8Snorm
	FormatRG8Uint
	FormatRG8Sint
	FormatRG8Unorm
	FormatRG8Snorm
	FormatR16Uint
	FormatR16Sint
	FormatR16Unorm
	FormatR16Snorm
	FormatR16Float
	FormatBGRA4Unorm
	FormatB5G6R5Unorm
	FormatB5G5R5A1Unorm
	FormatRGBA8Uint
	FormatRGBA8Sint
	FormatRGBA8Unorm
	FormatRGBA8Snorm
	FormatBGRA8Unorm
	FormatSRGBA8Unorm
	FormatSBGRA8Unorm
	FormatR10G10B10A2Unorm
	FormatR11G11B10Float
	FormatRG16Uint
	FormatRG16Sint
	FormatRG16Unorm
	FormatRG16Snorm
	FormatRG16Float
	FormatR32Uint
	FormatR32Sint
	FormatR32Float
	FormatRGBA16Uint
	FormatRGBA16Sint
	FormatRGBA16Float
	FormatRGBA16Unorm
	FormatRGBA16Snorm
	FormatRG32Uint
	FormatRG32Sint
	FormatRG32Float
	FormatRGB32Uint
	FormatRGB32Sint
	FormatRGB32Float
	FormatRGBA32Uint
	FormatRGBA32Sint
	FormatRGBA32Float

	FormatD16
	FormatD24S8
	FormatX24G8Uint
	FormatD32
	FormatD32S8
	FormatX32G8Uint

	FormatBC1Unorm
	FormatBC1UnormSRGB
	FormatBC2Unorm
	FormatBC2UnormSRGB
	FormatBC3Unorm
	FormatBC3UnormSRGB
	FormatBC4Unorm
	FormatBC4Snorm
	FormatBC5Unorm
	FormatBC5Snorm
	FormatBC6HUfloat
	FormatBC6HSfloat
	FormatBC7Unorm
	FormatBC7UnormSRGB

	formatCount
)

// FormatKind classifies how the components of a format are interpreted.
type FormatKind uint8

// Format kinds.
const (
	FormatKindInteger FormatKind = iota
	FormatKindNormalized
	FormatKindFloat
	FormatKindDepthStencil
)

// FormatInfo describes the storage and channel layout of a Format.
type FormatInfo struct {
	Format        Format
	Name          string
	BytesPerBlock uint8
	BlockSize     uint8
	Kind          FormatKind
	HasRed        bool
	HasGreen      bool
	HasBlue       bool
	HasAlpha      bool
	HasDepth      bool
	HasStencil    bool
	IsSigned      bool
	IsSRGB        bool
}

// channel masks used to keep the table compact
const (
	chR = 1 << iota
	chG
	chB
	chA
	chD
	chS
)

func fi(f Format, name string, bytes, block uint8, kind FormatKind, ch int, signed, srgb bool) FormatInfo {
	return FormatInfo{
		Format:        f,
		Name:          name,
		BytesPerBlock: bytes,
		BlockSize:     block,
		Kind:          kind,
		HasRed:        ch&chR != 0,
		HasGreen:      ch&chG != 0,
		HasBlue:       ch&chB != 0,
		HasAlpha:      ch&chA != 0,
		HasDepth:      ch&chD != 0,
		HasStencil:    ch&chS != 0,
		IsSigned:      signed,
		IsSRGB:        srgb,
	}
}

const (
	rgba = chR | chG | chB | chA
	rgb  = chR | chG | chB
	rg   = chR | chG
)

var formatInfos = [formatCount]FormatInfo{
	fi(FormatUnknown, "UNKNOWN", 0, 0, FormatKindInteger, 0, false, false),

	fi(FormatR8Uint, "R8_UINT", 1, 1, FormatKindInteger, chR, false, false),
	fi(FormatR8Sint, "R8_SINT", 1, 1, FormatKindInteger, chR, true, false),
	fi(FormatR8Unorm, "R8_UNORM", 1, 1, FormatKindNormalized, chR, false, false),
	fi(FormatR8Snorm, "R8_SNORM", 1, 1, FormatKindNormalized, chR, true, false),
	fi(FormatRG8Uint, "RG8_UINT", 2, 1, FormatKindInteger, rg, false, false),
	fi(FormatRG8Sint, "RG8_SINT", 2, 1, FormatKindInteger, rg, true, false),
	fi(FormatRG8Unorm, "RG8_UNORM", 2, 1, FormatKindNormalized, rg, false, false),
	fi(FormatRG8Snorm, "RG8_SNORM", 2, 1, FormatKindNormalized, rg, true, false),
	fi(FormatR16Uint, "R16_UINT", 2, 1, FormatKindInteger, chR, false, false),
	fi(FormatR16Sint, "R16_SINT", 2, 1, FormatKindInteger, chR, true, false),
	fi(FormatR16Unorm, "R16_UNORM", 2, 1, FormatKindNormalized, chR, false, false),
	fi(FormatR16Snorm, "R16_SNORM", 2, 1, FormatKindNormalized, chR, true, false),
	fi(FormatR16Float, "R16_FLOAT", 2, 1, FormatKindFloat, chR, true, false),
	fi(FormatBGRA4Unorm, "BGRA4_UNORM", 2, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatB5G6R5Unorm, "B5G6R5_UNORM", 2, 1, FormatKindNormalized, rgb, false, false),
	fi(FormatB5G5R5A1Unorm, "B5G5R5A1_UNORM", 2, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatRGBA8Uint, "RGBA8_UINT", 4, 1, FormatKindInteger, rgba, false, false),
	fi(FormatRGBA8Sint, "RGBA8_SINT", 4, 1, FormatKindInteger, rgba, true, false),
	fi(FormatRGBA8Unorm, "RGBA8_UNORM", 4, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatRGBA8Snorm, "RGBA8_SNORM", 4, 1, FormatKindNormalized, rgba, true, false),
	fi(FormatBGRA8Unorm, "BGRA8_UNORM", 4, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatSRGBA8Unorm, "SRGBA8_UNORM", 4, 1, FormatKindNormalized, rgba, false, true),
	fi(FormatSBGRA8Unorm, "SBGRA8_UNORM", 4, 1, FormatKindNormalized, rgba, false, true),
	fi(FormatR10G10B10A2Unorm, "R10G10B10A2_UNORM", 4, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatR11G11B10Float, "R11G11B10_FLOAT", 4, 1, FormatKindFloat, rgb, false, false),
	fi(FormatRG16Uint, "RG16_UINT", 4, 1, FormatKindInteger, rg, false, false),
	fi(FormatRG16Sint, "RG16_SINT", 4, 1, FormatKindInteger, rg, true, false),
	fi(FormatRG16Unorm, "RG16_UNORM", 4, 1, FormatKindNormalized, rg, false, false),
	fi(FormatRG16Snorm, "RG16_SNORM", 4, 1, FormatKindNormalized, rg, true, false),
	fi(FormatRG16Float, "RG16_FLOAT", 4, 1, FormatKindFloat, rg, true, false),
	fi(FormatR32Uint, "R32_UINT", 4, 1, FormatKindInteger, chR, false, false),
	fi(FormatR32Sint, "R32_SINT", 4, 1, FormatKindInteger, chR, true, false),
	fi(FormatR32Float, "R32_FLOAT", 4, 1, FormatKindFloat, chR, true, false),
	fi(FormatRGBA16Uint, "RGBA16_UINT", 8, 1, FormatKindInteger, rgba, false, false),
	fi(FormatRGBA16Sint, "RGBA16_SINT", 8, 1, FormatKindInteger, rgba, true, false),
	fi(FormatRGBA16Float, "RGBA16_FLOAT", 8, 1, FormatKindFloat, rgba, true, false),
	fi(FormatRGBA16Unorm, "RGBA16_UNORM", 8, 1, FormatKindNormalized, rgba, false, false),
	fi(FormatRGBA16Snorm, "RGBA16_SNORM", 8, 1, FormatKindNormalized, rgba, true, false),
	fi(FormatRG32Uint, "RG32_UINT", 8, 1, FormatKindInteger, rg, false, false),
	fi(FormatRG32Sint, "RG32_SINT", 8, 1, FormatKindInteger, rg, true, false),
	fi(FormatRG32Float, "RG32_FLOAT", 8, 1, FormatKindFloat, rg, true, false),
	fi(FormatRGB32Uint, "RGB32_UINT", 12, 1, FormatKindInteger, rgb, false, false),
	fi(FormatRGB32Sint, "RGB32_SINT", 12, 1, FormatKindInteger, rgb, true, false),
	fi(FormatRGB32Float, "RGB32_FLOAT", 12, 1, FormatKindFloat, rgb, true, false),
	fi(FormatRGBA32Uint, "RGBA32_UINT", 16, 1, FormatKindInteger, rgba, false, false),
	fi(FormatRGBA32Sint, "RGBA32_SINT", 16, 1, FormatKindInteger, rgba, true, false),
	fi(FormatRGBA32Float, "RGBA32_FLOAT", 16, 1, FormatKindFloat, rgba, true, false),

	fi(FormatD16, "D16", 2, 1, FormatKindDepthStencil, chD, false, false),
	fi(FormatD24S8, "D24S8", 4, 1, FormatKindDepthStencil, chD|chS, false, false),
	fi(FormatX24G8Uint, "X24G8_UINT", 4, 1, FormatKindInteger, chS, false, false),
	fi(FormatD32, "D32", 4, 1, FormatKindDepthStencil, chD, false, false),
	fi(FormatD32S8, "D32S8", 8, 1, FormatKindDepthStencil, chD|chS, false, false),
	fi(FormatX32G8Uint, "X32G8_UINT", 8, 1, FormatKindInteger, chS, false, false),

	fi(FormatBC1Unorm, "BC1_UNORM", 8, 4, FormatKindNormalized, rgba, false, false),
	fi(FormatBC1UnormSRGB, "BC1_UNORM_SRGB", 8, 4, FormatKindNormalized, rgba, false, true),
	fi(FormatBC2Unorm, "BC2_UNORM", 16, 4, FormatKindNormalized, rgba, false, false),
	fi(FormatBC2UnormSRGB, "BC2_UNORM_SRGB", 16, 4, FormatKindNormalized, rgba, false, true),
	fi(FormatBC3Unorm, "BC3_UNORM", 16, 4, FormatKindNormalized, rgba, false, false),
	fi(FormatBC3UnormSRGB, "BC3_UNORM_SRGB", 16, 4, FormatKindNormalized, rgba, false, true),
	fi(FormatBC4Unorm, "BC4_UNORM", 8, 4, FormatKindNormalized, chR, false, false),
	fi(FormatBC4Snorm, "BC4_SNORM", 8, 4, FormatKindNormalized, chR, true, false),
	fi(FormatBC5Unorm, "BC5_UNORM", 16, 4, FormatKindNormalized, rg, false, false),
	fi(FormatBC5Snorm, "BC5_SNORM", 16, 4, FormatKindNormalized, rg, true, false),
	fi(FormatBC6HUfloat, "BC6H_UFLOAT", 16, 4, FormatKindFloat, rgb, false, false),
	fi(FormatBC6HSfloat, "BC6H_SFLOAT", 16, 4, FormatKindFloat, rgb, true, false),
	fi(FormatBC7Unorm, "BC7_UNORM", 16, 4, FormatKindNormalized, rgba, false, false),
	fi(FormatBC7UnormSRGB, "BC7_UNORM_SRGB", 16, 4, FormatKindNormalized, rgba, false, true),
}

// GetFormatInfo returns the table entry for f.
// Out-of-range values return the FormatUnknown entry.
func GetFormatInfo(f Format) FormatInfo {
	if f >= formatCount {
		return formatInfos[FormatUnknown]
	}
	return formatInfos[f]
}

// String returns the canonical upper-case name of the format.
func (f Format) String() string {
	if f >= formatCount {
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
	return formatInfos[f].Name
}

// IsDepthStencil reports whether the format has a depth or stencil aspect
// and is usable as a depth-stencil attachment.
func (f Format) IsDepthStencil() bool {
	return GetFormatInfo(f).Kind == FormatKindDepthStencil
}

// IsInteger reports whether the format stores unnormalized integers.
func (f Format) IsInteger() bool {
	info := GetFormatInfo(f)
	return f != FormatUnknown && info.Kind == FormatKindInteger
}

// IsCompressed reports whether the format uses blocks larger than one texel.
func (f Format) IsCompressed() bool {
	return GetFormatInfo(f).BlockSize > 1
}

// FormatSupport is a bit set of the ways a format can be used on a device.
type FormatSupport uint32

// Format support bits.
const (
	FormatSupportNone               FormatSupport = 0
	FormatSupportBuffer             FormatSupport = 1 << 0
	FormatSupportIndexBuffer        FormatSupport = 1 << 1
	FormatSupportVertexBuffer       FormatSupport = 1 << 2
	FormatSupportTexture            FormatSupport = 1 << 3
	FormatSupportDepthStencil       FormatSupport = 1 << 4
	FormatSupportRenderTarget       FormatSupport = 1 << 5
	FormatSupportBlendable          FormatSupport = 1 << 6
	FormatSupportShaderLoad         FormatSupport = 1 << 7
	FormatSupportShaderSample       FormatSupport = 1 << 8
	FormatSupportShaderUAVLoad      FormatSupport = 1 << 9
	FormatSupportShaderUAVStore     FormatSupport = 1 << 10
	FormatSupportShaderAtomic       FormatSupport = 1 << 11
	FormatSupportMultisampleLoad    FormatSupport = 1 << 12
	FormatSupportMultisampleRT      FormatSupport = 1 << 13
	FormatSupportMultisampleResolve FormatSupport = 1 << 14
)
