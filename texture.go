package rhi

import (
	"errors"
	"fmt"
)

// TextureDimension is the shape of a texture.
type TextureDimension uint8

// Texture dimensions. TextureDimensionUnknown is normalized to Texture2D
// by Normalize.
const (
	TextureDimensionUnknown TextureDimension = iota
	TextureDimension1D
	TextureDimension1DArray
	TextureDimension2D
	TextureDimension2DArray
	TextureDimensionCube
	TextureDimensionCubeArray
	TextureDimension2DMS
	TextureDimension2DMSArray
	TextureDimension3D
)

var textureDimensionNames = [...]string{
	"Unknown", "Texture1D", "Texture1DArray", "Texture2D", "Texture2DArray",
	"TextureCube", "TextureCubeArray", "Texture2DMS", "Texture2DMSArray", "Texture3D",
}

// String returns the dimension name used in generated debug names.
func (d TextureDimension) String() string {
	if int(d) < len(textureDimensionNames) {
		return textureDimensionNames[d]
	}
	return fmt.Sprintf("TextureDimension(%d)", uint8(d))
}

// IsMultisampled reports whether the dimension is a multisampled one.
func (d TextureDimension) IsMultisampled() bool {
	return d == TextureDimension2DMS || d == TextureDimension2DMSArray
}

// IsArray reports whether textures of this dimension may have several slices.
func (d TextureDimension) IsArray() bool {
	switch d {
	case TextureDimension1DArray, TextureDimension2DArray, TextureDimensionCube,
		TextureDimensionCubeArray, TextureDimension2DMSArray:
		return true
	}
	return false
}

// SharedResourceFlags selects cross-process or cross-adapter sharing.
type SharedResourceFlags uint8

// Shared resource flags.
const (
	SharedResourceNone         SharedResourceFlags = 0
	SharedResourceShared       SharedResourceFlags = 1 << 0
	SharedResourceCrossAdapter SharedResourceFlags = 1 << 1
)

// Color is a linear RGBA color.
type Color struct {
	R, G, B, A float32
}

// TextureDesc is the immutable description of a texture.
type TextureDesc struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	ArraySize   uint32
	MipLevels   uint32
	SampleCount uint32
	Format      Format
	Dimension   TextureDimension
	DebugName   string

	IsRenderTarget       bool
	IsUAV                bool
	IsTypeless           bool
	IsShadingRateSurface bool
	IsVirtual            bool
	SharedResourceFlags  SharedResourceFlags

	ClearValue    Color
	UseClearValue bool

	InitialState     ResourceStates
	KeepInitialState bool
}

// Texture descriptor errors.
var (
	ErrInvalidTextureSize      = errors.New("rhi: texture dimensions must be non-zero")
	ErrInvalidCubeArraySize    = errors.New("rhi: cube texture array size must be 6 (or a multiple of 6 for cube arrays)")
	ErrInvalid1DHeight         = errors.New("rhi: 1D texture height must be 1")
	ErrInvalidSampleCount      = errors.New("rhi: invalid sample count for texture dimension")
	ErrMultisampledUAV         = errors.New("rhi: multisampled textures cannot have UAVs")
	ErrInvalid3DArraySize      = errors.New("rhi: 3D texture array size must be 1")
	ErrInvalidTextureMipLevels = errors.New("rhi: texture mip level count exceeds the size of the texture")
)

// Normalize returns a copy of d where zero-valued counts are replaced by 1
// and an unknown dimension becomes Texture2D.
func (d TextureDesc) Normalize() TextureDesc {
	if d.Dimension == TextureDimensionUnknown {
		d.Dimension = TextureDimension2D
	}
	if d.Height == 0 {
		d.Height = 1
	}
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.ArraySize == 0 {
		d.ArraySize = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	return d
}

// Validate checks the shape invariants of a normalized descriptor.
func (d *TextureDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 || d.Depth == 0 || d.ArraySize == 0 || d.MipLevels == 0 {
		return ErrInvalidTextureSize
	}

	switch d.Dimension {
	case TextureDimension1D, TextureDimension1DArray:
		if d.Height != 1 {
			return ErrInvalid1DHeight
		}
	case TextureDimensionCube:
		if d.ArraySize != 6 {
			return ErrInvalidCubeArraySize
		}
	case TextureDimensionCubeArray:
		if d.ArraySize%6 != 0 {
			return ErrInvalidCubeArraySize
		}
	case TextureDimension3D:
		if d.ArraySize != 1 {
			return ErrInvalid3DArraySize
		}
	}

	if d.Dimension.IsMultisampled() {
		if d.SampleCount != 2 && d.SampleCount != 4 && d.SampleCount != 8 {
			return fmt.Errorf("%w: %s with SampleCount=%d", ErrInvalidSampleCount, d.Dimension, d.SampleCount)
		}
		if d.IsUAV {
			return ErrMultisampledUAV
		}
	} else if d.SampleCount != 1 {
		return fmt.Errorf("%w: %s with SampleCount=%d", ErrInvalidSampleCount, d.Dimension, d.SampleCount)
	}

	maxDim := max(d.Width, d.Height)
	if d.Dimension == TextureDimension3D {
		maxDim = max(maxDim, d.Depth)
	}
	if d.MipLevels > 32 || (uint32(1)<<(d.MipLevels-1)) > maxDim {
		return ErrInvalidTextureMipLevels
	}
	return nil
}

// NumSubresources returns mipLevels * arraySize.
func (d *TextureDesc) NumSubresources() uint32 {
	return d.MipLevels * d.ArraySize
}

// SubresourceIndex returns mip + slice*mipLevels.
func (d *TextureDesc) SubresourceIndex(mipLevel, arraySlice uint32) uint32 {
	return mipLevel + arraySlice*d.MipLevels
}

// MipSize returns the texel dimensions of the given mip level.
func (d *TextureDesc) MipSize(mipLevel uint32) (width, height, depth uint32) {
	width = max(d.Width>>mipLevel, 1)
	height = max(d.Height>>mipLevel, 1)
	depth = 1
	if d.Dimension == TextureDimension3D {
		depth = max(d.Depth>>mipLevel, 1)
	}
	return width, height, depth
}

// Sentinels for "everything" in slices and subresource sets.
const (
	AllMipLevels   = ^uint32(0)
	AllArraySlices = ^uint32(0)
	EntireExtent   = ^uint32(0)
)

// TextureSubresourceSet selects a rectangular range of mips and slices.
type TextureSubresourceSet struct {
	BaseMipLevel   uint32
	NumMipLevels   uint32
	BaseArraySlice uint32
	NumArraySlices uint32
}

// AllSubresources covers every mip and every slice of any texture.
var AllSubresources = TextureSubresourceSet{
	BaseMipLevel:   0,
	NumMipLevels:   AllMipLevels,
	BaseArraySlice: 0,
	NumArraySlices: AllArraySlices,
}

// Subresource returns the set containing a single (mip, slice) pair.
func Subresource(mipLevel, arraySlice uint32) TextureSubresourceSet {
	return TextureSubresourceSet{
		BaseMipLevel:   mipLevel,
		NumMipLevels:   1,
		BaseArraySlice: arraySlice,
		NumArraySlices: 1,
	}
}

// Resolve clamps the set to the texture described by d. When singleMip is
// set only the base mip level is kept.
func (s TextureSubresourceSet) Resolve(d *TextureDesc, singleMip bool) TextureSubresourceSet {
	var r TextureSubresourceSet
	r.BaseMipLevel = s.BaseMipLevel
	if singleMip {
		r.NumMipLevels = 1
	} else {
		lastMipPlusOne := min(uint64(s.BaseMipLevel)+uint64(s.NumMipLevels), uint64(d.MipLevels))
		r.NumMipLevels = uint32(max(int64(lastMipPlusOne)-int64(s.BaseMipLevel), 0))
	}

	switch d.Dimension {
	case TextureDimension1DArray, TextureDimension2DArray, TextureDimensionCube,
		TextureDimensionCubeArray, TextureDimension2DMSArray:
		r.BaseArraySlice = s.BaseArraySlice
		lastSlicePlusOne := min(uint64(s.BaseArraySlice)+uint64(s.NumArraySlices), uint64(d.ArraySize))
		r.NumArraySlices = uint32(max(int64(lastSlicePlusOne)-int64(s.BaseArraySlice), 0))
	default:
		r.BaseArraySlice = 0
		r.NumArraySlices = 1
	}
	return r
}

// IsEntireTexture reports whether the set covers every subresource of d.
func (s TextureSubresourceSet) IsEntireTexture(d *TextureDesc) bool {
	if s.BaseMipLevel > 0 || uint64(s.BaseMipLevel)+uint64(s.NumMipLevels) < uint64(d.MipLevels) {
		return false
	}
	switch d.Dimension {
	case TextureDimension1DArray, TextureDimension2DArray, TextureDimensionCube,
		TextureDimensionCubeArray, TextureDimension2DMSArray:
		if s.BaseArraySlice > 0 || uint64(s.BaseArraySlice)+uint64(s.NumArraySlices) < uint64(d.ArraySize) {
			return false
		}
	}
	return true
}

// Count returns the number of subresources in the (resolved) set.
func (s TextureSubresourceSet) Count() uint32 {
	return s.NumMipLevels * s.NumArraySlices
}

// TextureSlice is a box inside one subresource of a texture.
// Width, Height and Depth set to EntireExtent extend to the edge of the mip.
type TextureSlice struct {
	X, Y, Z    uint32
	Width      uint32
	Height     uint32
	Depth      uint32
	MipLevel   uint32
	ArraySlice uint32
}

// EntireSlice returns a slice covering the whole of one subresource.
func EntireSlice(mipLevel, arraySlice uint32) TextureSlice {
	return TextureSlice{
		Width:      EntireExtent,
		Height:     EntireExtent,
		Depth:      EntireExtent,
		MipLevel:   mipLevel,
		ArraySlice: arraySlice,
	}
}

// Resolve replaces EntireExtent sizes with the extents of the mip level.
func (s TextureSlice) Resolve(d *TextureDesc) TextureSlice {
	w, h, dep := d.MipSize(s.MipLevel)
	if s.Width == EntireExtent {
		s.Width = w - min(s.X, w)
	}
	if s.Height == EntireExtent {
		s.Height = h - min(s.Y, h)
	}
	if s.Depth == EntireExtent {
		s.Depth = dep - min(s.Z, dep)
	}
	return s
}
