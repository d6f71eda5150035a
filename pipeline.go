package rhi

// PrimitiveType is the input assembly topology.
type PrimitiveType uint8

// Primitive topologies.
const (
	PrimitivePointList PrimitiveType = iota
	PrimitiveLineList
	PrimitiveLineStrip
	PrimitiveTriangleList
	PrimitiveTriangleStrip
	PrimitiveTriangleFan
	PrimitiveTriangleListWithAdjacency
	PrimitiveTriangleStripWithAdjacency
	PrimitivePatchList
)

// BlendFactor is a source or destination blend factor.
type BlendFactor uint8

// Blend factors.
const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcColor
	BlendInvSrcColor
	BlendSrcAlpha
	BlendInvSrcAlpha
	BlendDstAlpha
	BlendInvDstAlpha
	BlendDstColor
	BlendInvDstColor
	BlendSrcAlphaSaturate
	BlendConstantColor
	BlendInvConstantColor
)

// BlendOp combines source and destination terms.
type BlendOp uint8

// Blend operations.
const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

// ColorMask selects written color channels.
type ColorMask uint8

// Color write masks.
const (
	ColorMaskRed   ColorMask = 1
	ColorMaskGreen ColorMask = 2
	ColorMaskBlue  ColorMask = 4
	ColorMaskAlpha ColorMask = 8
	ColorMaskAll   ColorMask = 0xF
)

// RenderTargetBlend is the blend configuration of one render target.
type RenderTargetBlend struct {
	BlendEnable    bool
	SrcBlend       BlendFactor
	DestBlend      BlendFactor
	BlendOp        BlendOp
	SrcBlendAlpha  BlendFactor
	DestBlendAlpha BlendFactor
	BlendOpAlpha   BlendOp
	ColorWriteMask ColorMask
}

func (b *RenderTargetBlend) usesConstantColor() bool {
	if !b.BlendEnable {
		return false
	}
	for _, f := range [...]BlendFactor{b.SrcBlend, b.DestBlend, b.SrcBlendAlpha, b.DestBlendAlpha} {
		if f == BlendConstantColor || f == BlendInvConstantColor {
			return true
		}
	}
	return false
}

// BlendState holds per-target blending.
type BlendState struct {
	Targets         []RenderTargetBlend
	AlphaToCoverage bool
}

// UsesConstantColor reports whether any enabled target reads the blend
// constant, which then has to be set by the command list.
func (s *BlendState) UsesConstantColor() bool {
	for i := range s.Targets {
		if s.Targets[i].usesConstantColor() {
			return true
		}
	}
	return false
}

// ComparisonFunc is a depth or stencil comparison.
type ComparisonFunc uint8

// Comparison functions.
const (
	ComparisonNever ComparisonFunc = iota
	ComparisonLess
	ComparisonEqual
	ComparisonLessOrEqual
	ComparisonGreater
	ComparisonNotEqual
	ComparisonGreaterOrEqual
	ComparisonAlways
)

// StencilOp is a stencil buffer update.
type StencilOp uint8

// Stencil operations.
const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpIncrementAndClamp
	StencilOpDecrementAndClamp
	StencilOpInvert
	StencilOpIncrementAndWrap
	StencilOpDecrementAndWrap
)

// StencilOpDesc describes stencil behavior of one face.
type StencilOpDesc struct {
	FailOp      StencilOp
	DepthFailOp StencilOp
	PassOp      StencilOp
	StencilFunc ComparisonFunc
}

// DepthStencilState configures depth and stencil testing.
type DepthStencilState struct {
	DepthTestEnable  bool
	DepthWriteEnable bool
	DepthFunc        ComparisonFunc
	StencilEnable    bool
	StencilReadMask  uint8
	StencilWriteMask uint8
	StencilRefValue  uint8
	// DynamicStencilRef takes the reference value from the draw state.
	DynamicStencilRef bool
	FrontFaceStencil  StencilOpDesc
	BackFaceStencil   StencilOpDesc
}

// FillMode selects solid or wireframe rasterization.
type FillMode uint8

// Fill modes.
const (
	FillSolid FillMode = iota
	FillWireframe
)

// CullMode selects culled faces.
type CullMode uint8

// Cull modes.
const (
	CullBack CullMode = iota
	CullFront
	CullNone
)

// RasterState configures rasterization.
type RasterState struct {
	FillMode              FillMode
	CullMode              CullMode
	FrontCounterClockwise bool
	DepthClipEnable       bool
	ScissorEnable         bool
	MultisampleEnable     bool
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
}

// RenderState groups the fixed-function state of a graphics pipeline.
type RenderState struct {
	BlendState        BlendState
	DepthStencilState DepthStencilState
	RasterState       RasterState
}

// GraphicsPipelineDesc describes a graphics pipeline.
type GraphicsPipelineDesc struct {
	PrimType           PrimitiveType
	PatchControlPoints uint32
	InputLayout        InputLayout

	VS Shader
	HS Shader
	DS Shader
	GS Shader
	PS Shader

	RenderState    RenderState
	BindingLayouts []BindingLayout
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	CS             Shader
	BindingLayouts []BindingLayout
}

// MeshletPipelineDesc describes a mesh-shading pipeline.
type MeshletPipelineDesc struct {
	PrimType PrimitiveType

	AS Shader
	MS Shader
	PS Shader

	RenderState    RenderState
	BindingLayouts []BindingLayout
}

// RayTracingShaderDesc exports one shader of a ray-tracing pipeline.
type RayTracingShaderDesc struct {
	ExportName    string
	Shader        Shader
	BindingLayout BindingLayout
}

// RayTracingHitGroupDesc exports a hit group.
type RayTracingHitGroupDesc struct {
	ExportName            string
	ClosestHitShader      Shader
	AnyHitShader          Shader
	IntersectionShader    Shader
	BindingLayout         BindingLayout
	IsProceduralPrimitive bool
}

// RayTracingPipelineDesc describes a ray-tracing pipeline.
type RayTracingPipelineDesc struct {
	Shaders              []RayTracingShaderDesc
	HitGroups            []RayTracingHitGroupDesc
	GlobalBindingLayouts []BindingLayout
	MaxPayloadSize       uint32
	MaxAttributeSize     uint32
	MaxRecursionDepth    uint32
}
