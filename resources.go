package rhi

// SamplerAddressMode controls texture coordinate wrapping.
type SamplerAddressMode uint8

// Sampler address modes.
const (
	SamplerAddressClamp SamplerAddressMode = iota
	SamplerAddressWrap
	SamplerAddressBorder
	SamplerAddressMirror
	SamplerAddressMirrorOnce
)

// SamplerReductionType selects filtering, comparison or min/max reduction.
type SamplerReductionType uint8

// Sampler reduction types.
const (
	SamplerReductionStandard SamplerReductionType = iota
	SamplerReductionComparison
	SamplerReductionMinimum
	SamplerReductionMaximum
)

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	BorderColor   Color
	MaxAnisotropy float32
	MipBias       float32

	MinFilter bool
	MagFilter bool
	MipFilter bool

	AddressU SamplerAddressMode
	AddressV SamplerAddressMode
	AddressW SamplerAddressMode

	ReductionType SamplerReductionType
}

// ShaderType is a bit set of shader stages.
type ShaderType uint16

// Shader stages.
const (
	ShaderTypeNone          ShaderType = 0
	ShaderTypeCompute       ShaderType = 1 << 0
	ShaderTypeVertex        ShaderType = 1 << 1
	ShaderTypeHull          ShaderType = 1 << 2
	ShaderTypeDomain        ShaderType = 1 << 3
	ShaderTypeGeometry      ShaderType = 1 << 4
	ShaderTypePixel         ShaderType = 1 << 5
	ShaderTypeAmplification ShaderType = 1 << 6
	ShaderTypeMesh          ShaderType = 1 << 7
	ShaderTypeAllGraphics   ShaderType = 0x00FE
	ShaderTypeRayGeneration ShaderType = 1 << 8
	ShaderTypeAnyHit        ShaderType = 1 << 9
	ShaderTypeClosestHit    ShaderType = 1 << 10
	ShaderTypeMiss          ShaderType = 1 << 11
	ShaderTypeIntersection  ShaderType = 1 << 12
	ShaderTypeCallable      ShaderType = 1 << 13
	ShaderTypeAllRayTracing ShaderType = 0x3F00
	ShaderTypeAll           ShaderType = 0x3FFF
)

// ShaderDesc describes a shader module.
type ShaderDesc struct {
	ShaderType ShaderType
	DebugName  string
	EntryName  string
	// Language is the form of the code passed to CreateShader.
	Language ShaderLanguage
}

// ShaderLanguage tags the form of shader source handed to CreateShader.
type ShaderLanguage uint8

// Shader source languages. Binary code is passed to the back-end untouched;
// WGSL is only accepted by back-ends that can compile it.
const (
	ShaderLanguageBinary ShaderLanguage = iota
	ShaderLanguageWGSL
)

// VertexAttributeDesc describes one vertex input attribute.
type VertexAttributeDesc struct {
	Name          string
	Format        Format
	ArraySize     uint32
	BufferIndex   uint32
	Offset        uint32
	ElementStride uint32
	IsInstanced   bool
}

// FramebufferAttachment is one color, depth or shading-rate attachment.
// A nil Texture means the attachment is unused.
type FramebufferAttachment struct {
	Texture      Texture
	Subresources TextureSubresourceSet
	// Format overrides the texture format for typeless textures.
	Format     Format
	IsReadOnly bool
}

// Valid reports whether the attachment references a texture.
func (a *FramebufferAttachment) Valid() bool { return a.Texture != nil }

// FramebufferDesc describes the attachments of a framebuffer.
type FramebufferDesc struct {
	ColorAttachments      []FramebufferAttachment
	DepthAttachment       FramebufferAttachment
	ShadingRateAttachment FramebufferAttachment
}

// FramebufferInfo is the part of a framebuffer pipelines depend on.
type FramebufferInfo struct {
	ColorFormats  []Format
	DepthFormat   Format
	SampleCount   uint32
	SampleQuality uint32
	Width         uint32
	Height        uint32
}

// Viewport is a depth-bounded rectangle in render-target space.
type Viewport struct {
	MinX, MaxX float32
	MinY, MaxY float32
	MinZ, MaxZ float32
}

// NewViewport returns a viewport of the given size with depth range 0..1.
func NewViewport(width, height float32) Viewport {
	return Viewport{MaxX: width, MaxY: height, MaxZ: 1}
}

// Rect is an integer rectangle. Max coordinates are exclusive.
type Rect struct {
	MinX, MaxX int32
	MinY, MaxY int32
}

// ViewportState holds the viewports and scissor rectangles of a draw.
type ViewportState struct {
	Viewports    []Viewport
	ScissorRects []Rect
}
