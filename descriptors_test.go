package rhi

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceStatesString(t *testing.T) {
	tests := []struct {
		s    ResourceStates
		want string
	}{
		{ResourceStateCommon, "Common"},
		{ResourceStateRenderTarget, "RenderTarget"},
		{ResourceStateVertexBuffer | ResourceStateIndexBuffer, "VertexBuffer|IndexBuffer"},
		{ResourceStateUnknown, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}

func TestResourceStatesHas(t *testing.T) {
	s := ResourceStateShaderResource | ResourceStateCopySource
	assert.True(t, s.Has(ResourceStateShaderResource))
	assert.True(t, s.Has(ResourceStateCommon))
	assert.False(t, s.Has(ResourceStateShaderResource|ResourceStateUnorderedAccess))
}

func TestFormatTableOrder(t *testing.T) {
	for f := FormatUnknown; f < formatCount; f++ {
		require.Equal(t, f, GetFormatInfo(f).Format, "format table entry %d out of order", f)
	}
}

func TestFormatInfo(t *testing.T) {
	tests := []struct {
		f         Format
		name      string
		bytes     uint8
		block     uint8
		depth     bool
		integer   bool
		compressd bool
	}{
		{FormatRGBA8Unorm, "RGBA8_UNORM", 4, 1, false, false, false},
		{FormatR32Uint, "R32_UINT", 4, 1, false, true, false},
		{FormatD24S8, "D24S8", 4, 1, true, false, false},
		{FormatBC1Unorm, "BC1_UNORM", 8, 4, false, false, true},
		{FormatRGBA32Float, "RGBA32_FLOAT", 16, 1, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetFormatInfo(tt.f)
			assert.Equal(t, tt.name, tt.f.String())
			assert.Equal(t, tt.bytes, info.BytesPerBlock)
			assert.Equal(t, tt.block, info.BlockSize)
			assert.Equal(t, tt.depth, tt.f.IsDepthStencil())
			assert.Equal(t, tt.integer, tt.f.IsInteger())
			assert.Equal(t, tt.compressd, tt.f.IsCompressed())
		})
	}
	assert.Equal(t, FormatUnknown, GetFormatInfo(Format(250)).Format)
}

func TestTextureDescValidate(t *testing.T) {
	tests := []struct {
		name string
		desc TextureDesc
		err  error
	}{
		{"2D", TextureDesc{Width: 64, Height: 64, Format: FormatRGBA8Unorm}, nil},
		{"cube ok", TextureDesc{Width: 16, Height: 16, ArraySize: 6, Dimension: TextureDimensionCube}, nil},
		{"cube bad", TextureDesc{Width: 16, Height: 16, ArraySize: 4, Dimension: TextureDimensionCube}, ErrInvalidCubeArraySize},
		{"cube array", TextureDesc{Width: 16, Height: 16, ArraySize: 12, Dimension: TextureDimensionCubeArray}, nil},
		{"cube array bad", TextureDesc{Width: 16, Height: 16, ArraySize: 7, Dimension: TextureDimensionCubeArray}, ErrInvalidCubeArraySize},
		{"1D height", TextureDesc{Width: 16, Height: 2, Dimension: TextureDimension1D}, ErrInvalid1DHeight},
		{"MS count", TextureDesc{Width: 16, Height: 16, SampleCount: 3, Dimension: TextureDimension2DMS}, ErrInvalidSampleCount},
		{"MS UAV", TextureDesc{Width: 16, Height: 16, SampleCount: 4, IsUAV: true, Dimension: TextureDimension2DMS}, ErrMultisampledUAV},
		{"non-MS samples", TextureDesc{Width: 16, Height: 16, SampleCount: 4}, ErrInvalidSampleCount},
		{"3D array", TextureDesc{Width: 16, Height: 16, Depth: 4, ArraySize: 2, Dimension: TextureDimension3D}, ErrInvalid3DArraySize},
		{"zero width", TextureDesc{Height: 16}, ErrInvalidTextureSize},
		{"too many mips", TextureDesc{Width: 4, Height: 4, MipLevels: 4}, ErrInvalidTextureMipLevels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.desc.Normalize()
			err := d.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestSubresourceSetResolve(t *testing.T) {
	d := TextureDesc{Width: 64, Height: 64, MipLevels: 4, ArraySize: 2, Dimension: TextureDimension2DArray}

	all := AllSubresources.Resolve(&d, false)
	assert.Equal(t, TextureSubresourceSet{0, 4, 0, 2}, all)
	assert.True(t, all.IsEntireTexture(&d))
	assert.Equal(t, uint32(8), all.Count())

	one := Subresource(1, 1).Resolve(&d, false)
	assert.False(t, one.IsEntireTexture(&d))

	single := AllSubresources.Resolve(&d, true)
	assert.Equal(t, uint32(1), single.NumMipLevels)

	flat := TextureDesc{Width: 8, Height: 8, MipLevels: 2, Dimension: TextureDimension2D}
	r := TextureSubresourceSet{0, 2, 3, 5}.Resolve(&flat, false)
	assert.Equal(t, uint32(0), r.BaseArraySlice)
	assert.Equal(t, uint32(1), r.NumArraySlices)

	assert.Equal(t, uint32(5), d.SubresourceIndex(1, 1))
}

func TestTextureSliceResolve(t *testing.T) {
	d := TextureDesc{Width: 64, Height: 32, MipLevels: 3, Dimension: TextureDimension2D}.Normalize()
	s := EntireSlice(2, 0).Resolve(&d)
	assert.Equal(t, uint32(16), s.Width)
	assert.Equal(t, uint32(8), s.Height)
	assert.Equal(t, uint32(1), s.Depth)
}

func TestBufferDescVolatile(t *testing.T) {
	ok := BufferDesc{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 4}.Normalize()
	require.NoError(t, ok.Validate())
	assert.Equal(t, uint64(256), ok.ByteSize)

	bad := []BufferDesc{
		{ByteSize: 64, IsVolatile: true, MaxVersions: 4},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 1, CanHaveUAVs: true},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 1, IsVertexBuffer: true},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 1, CPUAccess: CPUAccessWrite},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 1, IsVirtual: true},
		{ByteSize: 64, IsConstantBuffer: true, IsVolatile: true, MaxVersions: 1, IsAccelStructStorage: true},
	}
	for i, d := range bad {
		assert.ErrorIs(t, d.Validate(), ErrInvalidVolatileDesc, "case %d", i)
	}
}

func TestBufferRangeResolve(t *testing.T) {
	d := BufferDesc{ByteSize: 100}
	assert.Equal(t, BufferRange{0, 100}, EntireBuffer.Resolve(&d))
	assert.Equal(t, BufferRange{40, 60}, BufferRange{ByteOffset: 40}.Resolve(&d))
	assert.Equal(t, BufferRange{90, 10}, BufferRange{90, 50}.Resolve(&d))
	assert.True(t, EntireBuffer.IsEntireBuffer(&d))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp[uint64](1, 256))
	assert.Equal(t, uint64(256), AlignUp[uint64](256, 256))
	assert.Equal(t, uint32(0), AlignUp[uint32](0, 16))
	assert.Equal(t, uint32(7), AlignUp[uint32](7, 0))
}

func TestAccelStructDescValidate(t *testing.T) {
	tlas := AccelStructDesc{IsTopLevel: true, TopLevelMaxInstances: 4, BuildFlags: AccelStructBuildAllowCompaction}
	assert.ErrorIs(t, tlas.Validate(), ErrCompactionOnTLAS)

	blas := AccelStructDesc{BuildFlags: AccelStructBuildAllowCompaction | AccelStructBuildAllowUpdate}
	assert.ErrorIs(t, blas.Validate(), ErrCompactionAndUpdate)

	ok := AccelStructDesc{BuildFlags: AccelStructBuildAllowUpdate}
	assert.NoError(t, ok.Validate())
}

func TestGeometryPrimitiveCount(t *testing.T) {
	g := GeometryDesc{Triangles: GeometryTriangles{VertexCount: 30}}
	assert.Equal(t, uint32(10), g.PrimitiveCount())

	aabb := GeometryDesc{Type: GeometryTypeAABBs, AABBs: GeometryAABBs{Count: 7}}
	assert.Equal(t, uint32(7), aabb.PrimitiveCount())
}

func TestInstanceDescEncode(t *testing.T) {
	inst := InstanceDesc{
		Transform:    IdentityTransform,
		InstanceID:   0x123456,
		InstanceMask: 0xFF,
		Flags:        InstanceFlagForceOpaque,
	}
	buf := make([]byte, InstanceDescSize)
	inst.Encode(buf, 0xDEADBEEF00)

	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])))
	assert.Equal(t, uint32(0xFF123456), binary.LittleEndian.Uint32(buf[48:]))
	assert.Equal(t, uint32(InstanceFlagForceOpaque)<<24, binary.LittleEndian.Uint32(buf[52:]))
	assert.Equal(t, uint64(0xDEADBEEF00), binary.LittleEndian.Uint64(buf[56:]))
}

func TestResourceTypeRequiredState(t *testing.T) {
	assert.Equal(t, ResourceStateShaderResource, ResourceTypeTextureSRV.RequiredState())
	assert.Equal(t, ResourceStateUnorderedAccess, ResourceTypeRawBufferUAV.RequiredState())
	assert.Equal(t, ResourceStateConstantBuffer, ResourceTypeVolatileConstantBuffer.RequiredState())
	assert.Equal(t, ResourceStateAccelStructRead, ResourceTypeRayTracingAccelStruct.RequiredState())
	assert.Equal(t, ResourceStateCommon, ResourceTypeSampler.RequiredState())
}

func TestBlendStateUsesConstantColor(t *testing.T) {
	s := BlendState{Targets: []RenderTargetBlend{{BlendEnable: true, SrcBlend: BlendOne, DestBlend: BlendInvConstantColor}}}
	assert.True(t, s.UsesConstantColor())
	s.Targets[0].BlendEnable = false
	assert.False(t, s.UsesConstantColor())
}

func TestDebugNames(t *testing.T) {
	d := TextureDesc{Width: 512, Height: 512, Format: FormatRGBA8Unorm, IsRenderTarget: true}.Normalize()
	assert.Equal(t, "Unnamed Texture2D (RGBA8_UNORM, Width=512, Height=512, IsRenderTarget)", TextureDebugName(&d))

	d.DebugName = "gbuffer"
	assert.Equal(t, "gbuffer", TextureDebugName(&d))

	b := BufferDesc{ByteSize: 256, IsConstantBuffer: true, IsVolatile: true}
	assert.Equal(t, "Unnamed Buffer (ByteSize=256, IsVolatile, IsConstantBuffer)", BufferDebugName(&b))

	as := AccelStructDesc{IsTopLevel: true, TopLevelMaxInstances: 8}
	assert.Equal(t, "Unnamed TLAS (MaxInstances=8)", AccelStructDebugName(&as))
}

func TestErrorsWrap(t *testing.T) {
	err := (&BufferDesc{ByteSize: 1, IsVolatile: true}).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidVolatileDesc))
}
