package rhi

import (
	"fmt"
	"strings"
)

// TextureDebugName returns d.DebugName, or a description of the texture
// when no name was given, such as
// "Unnamed Texture2D (RGBA8_UNORM, Width=512, Height=512, IsRenderTarget)".
func TextureDebugName(d *TextureDesc) string {
	if d.DebugName != "" {
		return d.DebugName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Unnamed %s (%s, Width=%d", d.Dimension, d.Format, d.Width)
	switch d.Dimension {
	case TextureDimension1DArray:
		fmt.Fprintf(&b, ", ArraySize=%d", d.ArraySize)
	case TextureDimension2D, TextureDimension2DMS:
		fmt.Fprintf(&b, ", Height=%d", d.Height)
	case TextureDimension2DArray, TextureDimensionCube, TextureDimensionCubeArray, TextureDimension2DMSArray:
		fmt.Fprintf(&b, ", Height=%d, ArraySize=%d", d.Height, d.ArraySize)
	case TextureDimension3D:
		fmt.Fprintf(&b, ", Height=%d, Depth=%d", d.Height, d.Depth)
	}
	if d.MipLevels > 1 {
		fmt.Fprintf(&b, ", MipLevels=%d", d.MipLevels)
	}
	if d.SampleCount > 1 {
		fmt.Fprintf(&b, ", SampleCount=%d", d.SampleCount)
	}
	if d.IsRenderTarget {
		b.WriteString(", IsRenderTarget")
	}
	if d.IsUAV {
		b.WriteString(", IsUAV")
	}
	if d.IsTypeless {
		b.WriteString(", IsTypeless")
	}
	b.WriteByte(')')
	return b.String()
}

// BufferDebugName returns d.DebugName or a generated description.
func BufferDebugName(d *BufferDesc) string {
	if d.DebugName != "" {
		return d.DebugName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Unnamed Buffer (ByteSize=%d", d.ByteSize)
	if d.Format != FormatUnknown {
		fmt.Fprintf(&b, ", Format=%s", d.Format)
	}
	if d.StructStride != 0 {
		fmt.Fprintf(&b, ", StructStride=%d", d.StructStride)
	}
	flags := []struct {
		set  bool
		name string
	}{
		{d.IsVolatile, "IsVolatile"},
		{d.IsConstantBuffer, "IsConstantBuffer"},
		{d.IsVertexBuffer, "IsVertexBuffer"},
		{d.IsIndexBuffer, "IsIndexBuffer"},
		{d.IsDrawIndirectArgs, "IsDrawIndirectArgs"},
		{d.CanHaveUAVs, "CanHaveUAVs"},
		{d.IsAccelStructStorage, "IsAccelStructStorage"},
	}
	for _, f := range flags {
		if f.set {
			b.WriteString(", ")
			b.WriteString(f.name)
		}
	}
	if d.CPUAccess != CPUAccessNone {
		fmt.Fprintf(&b, ", CPUAccess=%s", d.CPUAccess)
	}
	b.WriteByte(')')
	return b.String()
}

// AccelStructDebugName returns d.DebugName or a generated description.
func AccelStructDebugName(d *AccelStructDesc) string {
	if d.DebugName != "" {
		return d.DebugName
	}
	if d.IsTopLevel {
		return fmt.Sprintf("Unnamed TLAS (MaxInstances=%d)", d.TopLevelMaxInstances)
	}
	return fmt.Sprintf("Unnamed BLAS (Geometries=%d)", len(d.BottomLevelGeometries))
}
