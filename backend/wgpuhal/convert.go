// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// textureFormats maps the formats WebGPU can represent. Formats missing
// here report FormatSupportNone.
var textureFormats = map[rhi.Format]gputypes.TextureFormat{
	rhi.FormatR8Unorm:          gputypes.TextureFormatR8Unorm,
	rhi.FormatR8Uint:           gputypes.TextureFormatR8Uint,
	rhi.FormatR8Sint:           gputypes.TextureFormatR8Sint,
	rhi.FormatR8Snorm:          gputypes.TextureFormatR8Snorm,
	rhi.FormatRG8Unorm:         gputypes.TextureFormatRG8Unorm,
	rhi.FormatRG8Uint:          gputypes.TextureFormatRG8Uint,
	rhi.FormatR16Uint:          gputypes.TextureFormatR16Uint,
	rhi.FormatR16Sint:          gputypes.TextureFormatR16Sint,
	rhi.FormatR16Float:         gputypes.TextureFormatR16Float,
	rhi.FormatRGBA8Unorm:       gputypes.TextureFormatRGBA8Unorm,
	rhi.FormatRGBA8Snorm:       gputypes.TextureFormatRGBA8Snorm,
	rhi.FormatRGBA8Uint:        gputypes.TextureFormatRGBA8Uint,
	rhi.FormatRGBA8Sint:        gputypes.TextureFormatRGBA8Sint,
	rhi.FormatSRGBA8Unorm:      gputypes.TextureFormatRGBA8UnormSrgb,
	rhi.FormatBGRA8Unorm:       gputypes.TextureFormatBGRA8Unorm,
	rhi.FormatSBGRA8Unorm:      gputypes.TextureFormatBGRA8UnormSrgb,
	rhi.FormatR10G10B10A2Unorm: gputypes.TextureFormatRGB10A2Unorm,
	rhi.FormatR11G11B10Float:   gputypes.TextureFormatRG11B10Ufloat,
	rhi.FormatRG16Uint:         gputypes.TextureFormatRG16Uint,
	rhi.FormatRG16Sint:         gputypes.TextureFormatRG16Sint,
	rhi.FormatRG16Float:        gputypes.TextureFormatRG16Float,
	rhi.FormatR32Uint:          gputypes.TextureFormatR32Uint,
	rhi.FormatR32Sint:          gputypes.TextureFormatR32Sint,
	rhi.FormatR32Float:         gputypes.TextureFormatR32Float,
	rhi.FormatRGBA16Uint:       gputypes.TextureFormatRGBA16Uint,
	rhi.FormatRGBA16Sint:       gputypes.TextureFormatRGBA16Sint,
	rhi.FormatRGBA16Float:      gputypes.TextureFormatRGBA16Float,
	rhi.FormatRG32Uint:         gputypes.TextureFormatRG32Uint,
	rhi.FormatRG32Sint:         gputypes.TextureFormatRG32Sint,
	rhi.FormatRG32Float:        gputypes.TextureFormatRG32Float,
	rhi.FormatRGBA32Uint:       gputypes.TextureFormatRGBA32Uint,
	rhi.FormatRGBA32Sint:       gputypes.TextureFormatRGBA32Sint,
	rhi.FormatRGBA32Float:      gputypes.TextureFormatRGBA32Float,
	rhi.FormatD16:              gputypes.TextureFormatDepth16Unorm,
	rhi.FormatD24S8:            gputypes.TextureFormatDepth24PlusStencil8,
	rhi.FormatD32:              gputypes.TextureFormatDepth32Float,
	rhi.FormatD32S8:            gputypes.TextureFormatDepth32FloatStencil8,
}

// storageFormats can be bound as storage textures.
var storageFormats = map[rhi.Format]bool{
	rhi.FormatRGBA8Unorm:  true,
	rhi.FormatRGBA8Snorm:  true,
	rhi.FormatRGBA8Uint:   true,
	rhi.FormatRGBA8Sint:   true,
	rhi.FormatRGBA16Uint:  true,
	rhi.FormatRGBA16Sint:  true,
	rhi.FormatRGBA16Float: true,
	rhi.FormatR32Uint:     true,
	rhi.FormatR32Sint:     true,
	rhi.FormatR32Float:    true,
	rhi.FormatRG32Uint:    true,
	rhi.FormatRG32Sint:    true,
	rhi.FormatRG32Float:   true,
	rhi.FormatRGBA32Uint:  true,
	rhi.FormatRGBA32Sint:  true,
	rhi.FormatRGBA32Float: true,
}

func textureFormat(f rhi.Format) (gputypes.TextureFormat, bool) {
	tf, ok := textureFormats[f]
	return tf, ok
}

func formatSupport(f rhi.Format) rhi.FormatSupport {
	if _, ok := textureFormats[f]; !ok {
		switch f {
		case rhi.FormatR16Uint, rhi.FormatR32Uint:
			return rhi.FormatSupportBuffer | rhi.FormatSupportIndexBuffer
		case rhi.FormatRGB32Float:
			return rhi.FormatSupportBuffer | rhi.FormatSupportVertexBuffer
		}
		return rhi.FormatSupportNone
	}
	info := rhi.GetFormatInfo(f)
	s := rhi.FormatSupportTexture | rhi.FormatSupportShaderLoad
	if info.HasDepth || info.HasStencil {
		return s | rhi.FormatSupportDepthStencil | rhi.FormatSupportShaderSample
	}
	s |= rhi.FormatSupportBuffer | rhi.FormatSupportVertexBuffer | rhi.FormatSupportRenderTarget
	if !f.IsInteger() {
		s |= rhi.FormatSupportShaderSample | rhi.FormatSupportBlendable |
			rhi.FormatSupportMultisampleRT | rhi.FormatSupportMultisampleResolve
	}
	if f == rhi.FormatR16Uint || f == rhi.FormatR32Uint {
		s |= rhi.FormatSupportIndexBuffer
	}
	if storageFormats[f] {
		s |= rhi.FormatSupportShaderUAVLoad | rhi.FormatSupportShaderUAVStore
		if f == rhi.FormatR32Uint || f == rhi.FormatR32Sint {
			s |= rhi.FormatSupportShaderAtomic
		}
	}
	return s
}

func textureDimension(d rhi.TextureDimension) gputypes.TextureDimension {
	switch d {
	case rhi.TextureDimension1D, rhi.TextureDimension1DArray:
		return gputypes.TextureDimension1D
	case rhi.TextureDimension3D:
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

func textureUsage(desc *rhi.TextureDesc) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
	if desc.IsRenderTarget {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if desc.IsUAV {
		u |= gputypes.TextureUsageStorageBinding
	}
	return u
}

func bufferUsage(desc *rhi.BufferDesc) gputypes.BufferUsage {
	switch desc.CPUAccess {
	case rhi.CPUAccessRead:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	case rhi.CPUAccessWrite:
		return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	}
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if desc.IsVertexBuffer {
		u |= gputypes.BufferUsageVertex
	}
	if desc.IsIndexBuffer {
		u |= gputypes.BufferUsageIndex
	}
	if desc.IsConstantBuffer {
		u |= gputypes.BufferUsageUniform
	}
	if desc.IsDrawIndirectArgs {
		u |= gputypes.BufferUsageIndirect
	}
	if desc.CanHaveUAVs || desc.CanHaveRawViews || desc.CanHaveTypedViews || desc.StructStride > 0 {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

// textureUsageFor maps a resource state to the single WebGPU usage a
// texture transition moves between.
func textureUsageFor(s rhi.ResourceStates) gputypes.TextureUsage {
	switch {
	case s&rhi.ResourceStateCopyDest != 0:
		return gputypes.TextureUsageCopyDst
	case s&rhi.ResourceStateCopySource != 0:
		return gputypes.TextureUsageCopySrc
	case s&(rhi.ResourceStateRenderTarget|rhi.ResourceStateDepthWrite|rhi.ResourceStateDepthRead|
		rhi.ResourceStateResolveDest|rhi.ResourceStateResolveSource) != 0:
		return gputypes.TextureUsageRenderAttachment
	case s&rhi.ResourceStateUnorderedAccess != 0:
		return gputypes.TextureUsageStorageBinding
	case s&rhi.ResourceStateShaderResource != 0:
		return gputypes.TextureUsageTextureBinding
	}
	return 0
}

func bufferUsageFor(s rhi.ResourceStates) gputypes.BufferUsage {
	switch {
	case s&rhi.ResourceStateCopyDest != 0:
		return gputypes.BufferUsageCopyDst
	case s&rhi.ResourceStateCopySource != 0:
		return gputypes.BufferUsageCopySrc
	case s&rhi.ResourceStateUnorderedAccess != 0, s&rhi.ResourceStateShaderResource != 0:
		return gputypes.BufferUsageStorage
	case s&rhi.ResourceStateConstantBuffer != 0:
		return gputypes.BufferUsageUniform
	case s&rhi.ResourceStateVertexBuffer != 0:
		return gputypes.BufferUsageVertex
	case s&rhi.ResourceStateIndexBuffer != 0:
		return gputypes.BufferUsageIndex
	case s&rhi.ResourceStateIndirectArgument != 0:
		return gputypes.BufferUsageIndirect
	}
	return 0
}

func aspect(f rhi.Format) gputypes.TextureAspect {
	info := rhi.GetFormatInfo(f)
	switch {
	case info.HasDepth && !info.HasStencil:
		return gputypes.TextureAspectDepthOnly
	case info.HasStencil && !info.HasDepth:
		return gputypes.TextureAspectStencilOnly
	}
	return gputypes.TextureAspectAll
}

// copyTexture addresses one subresource of t at the origin of slice.
// WebGPU folds the array slice into the z origin.
func copyTexture(t *Texture, slice rhi.TextureSlice) hal.ImageCopyTexture {
	return hal.ImageCopyTexture{
		Texture:  t.raw,
		MipLevel: slice.MipLevel,
		Origin:   hal.Origin3D{X: slice.X, Y: slice.Y, Z: slice.Z + slice.ArraySlice},
		Aspect:   aspect(t.desc.Format),
	}
}

func copyExtent(slice rhi.TextureSlice) hal.Extent3D {
	return hal.Extent3D{Width: slice.Width, Height: slice.Height, DepthOrArrayLayers: max(slice.Depth, 1)}
}
