package native

import "github.com/gogpu/rhi"

// BindPoint selects which pipeline family a root binding applies to.
type BindPoint uint8

// Bind points.
const (
	BindGraphics BindPoint = iota
	BindCompute
	BindRayTracing
)

// PipelineKind is the family of a pipeline.
type PipelineKind uint8

// Pipeline kinds.
const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
	PipelineMeshlet
	PipelineRayTracing
)

// BindPoint returns where the root bindings of this kind of pipeline go.
func (k PipelineKind) BindPoint() BindPoint {
	switch k {
	case PipelineCompute:
		return BindCompute
	case PipelineRayTracing:
		return BindRayTracing
	}
	return BindGraphics
}

// ShaderStage pairs a shader module with its stage.
type ShaderStage struct {
	Stage      rhi.ShaderType
	Module     ShaderModule
	EntryPoint string
	// ExportName names ray-tracing shaders and hit groups.
	ExportName string
}

// HitGroup exports a ray-tracing hit group.
type HitGroup struct {
	ExportName   string
	ClosestHit   ShaderModule
	AnyHit       ShaderModule
	Intersection ShaderModule
	Procedural   bool
}

// PipelineDesc is what a back-end needs to compile a pipeline. Exactly one
// of the family descriptors is set, matching Kind.
type PipelineDesc struct {
	Kind          PipelineKind
	RootSignature RootSignature
	Stages        []ShaderStage
	HitGroups     []HitGroup

	Graphics    *rhi.GraphicsPipelineDesc
	Compute     *rhi.ComputePipelineDesc
	Meshlet     *rhi.MeshletPipelineDesc
	RayTracing  *rhi.RayTracingPipelineDesc
	Framebuffer *rhi.FramebufferInfo
	// LocalRootSignatures holds one root signature per exported shader or
	// hit group that declares a local binding layout.
	LocalRootSignatures map[string]RootSignature
}

// Pipeline is a compiled pipeline state object.
type Pipeline interface {
	Kind() PipelineKind
	// ShaderIdentifier returns the opaque identifier of an exported
	// ray-tracing shader or hit group, or nil.
	ShaderIdentifier(exportName string) []byte
	Destroy()
}

// TextureBarrier transitions one subresource, or the entire texture when
// EntireTexture is set. A barrier whose StateBefore and StateAfter are both
// UnorderedAccess is a UAV barrier.
type TextureBarrier struct {
	Texture       Texture
	MipLevel      uint32
	ArraySlice    uint32
	EntireTexture bool
	StateBefore   rhi.ResourceStates
	StateAfter    rhi.ResourceStates
}

// BufferBarrier transitions a buffer. As with textures, UnorderedAccess on
// both sides is a UAV barrier.
type BufferBarrier struct {
	Buffer      Buffer
	StateBefore rhi.ResourceStates
	StateAfter  rhi.ResourceStates
}

// IsUAVBarrier reports whether b only orders UAV accesses.
func (b *TextureBarrier) IsUAVBarrier() bool {
	return b.StateBefore == rhi.ResourceStateUnorderedAccess && b.StateAfter == rhi.ResourceStateUnorderedAccess
}

// IsUAVBarrier reports whether b only orders UAV accesses.
func (b *BufferBarrier) IsUAVBarrier() bool {
	return b.StateBefore == rhi.ResourceStateUnorderedAccess && b.StateAfter == rhi.ResourceStateUnorderedAccess
}

// VertexBuffer binds a buffer to an input slot.
type VertexBuffer struct {
	Slot   uint32
	Buffer Buffer
	Offset uint64
	Stride uint32
}

// BufferLayout is the placement of texel rows inside a buffer during a
// buffer-texture copy.
type BufferLayout struct {
	Offset     uint64
	RowPitch   uint64
	DepthPitch uint64
}

// ShaderTableRange is a run of shader records in a buffer.
type ShaderTableRange struct {
	Address uint64
	Size    uint64
	Stride  uint64
}

// DispatchRaysDesc is a ray dispatch against a shader table buffer.
type DispatchRaysDesc struct {
	RayGeneration ShaderTableRange
	Miss          ShaderTableRange
	HitGroups     ShaderTableRange
	Callable      ShaderTableRange
	Width         uint32
	Height        uint32
	Depth         uint32
}

// GeometryInput is a BLAS geometry with its buffers resolved to native
// objects.
type GeometryInput struct {
	Desc         rhi.GeometryDesc
	IndexBuffer  Buffer
	VertexBuffer Buffer
	AABBBuffer   Buffer
}

// AccelStructInputs are the inputs of an acceleration structure build.
type AccelStructInputs struct {
	IsTopLevel bool
	Flags      rhi.AccelStructBuildFlags

	Geometries []GeometryInput

	NumInstances   uint32
	InstanceBuffer Buffer
	InstanceOffset uint64
}

// PrebuildInfo are the memory sizes a build needs.
type PrebuildInfo struct {
	ResultSize        uint64
	ScratchSize       uint64
	UpdateScratchSize uint64
}

// AccelStructBuild is one build or update.
type AccelStructBuild struct {
	Inputs AccelStructInputs
	Dest   Buffer
	// Source is the structure being updated, nil for a full build.
	Source        Buffer
	Scratch       Buffer
	ScratchOffset uint64
	// CompactedSize, when set, receives the compacted size as a uint64.
	CompactedSize       Buffer
	CompactedSizeOffset uint64
}

// CommandBuffer records native commands. Command buffers are reused:
// Begin discards anything recorded before.
type CommandBuffer interface {
	Queue() rhi.CommandQueue
	Begin() error
	End() error

	Barriers(textures []TextureBarrier, buffers []BufferBarrier)

	SetDescriptorHeaps(shaderResources, samplers DescriptorHeap)
	SetRootSignature(bind BindPoint, rs RootSignature)
	SetPipeline(p Pipeline)
	SetRootDescriptorTable(bind BindPoint, param uint32, gpuHandle uint64)
	SetRootConstantBuffer(bind BindPoint, param uint32, gpuAddress uint64)
	SetRootConstants(bind BindPoint, param uint32, data []byte)

	// SetRenderTargets binds render-target and depth-stencil views by CPU
	// handle. A zero depth handle binds no depth buffer.
	SetRenderTargets(colors []uint64, depth uint64)
	SetViewports(viewports []rhi.Viewport, scissors []rhi.Rect)
	SetBlendConstant(c rhi.Color)
	SetStencilRef(ref uint8)
	SetPrimitiveTopology(t rhi.PrimitiveType)
	SetIndexBuffer(b Buffer, format rhi.Format, offset uint64)
	SetVertexBuffers(bindings []VertexBuffer)

	Draw(args rhi.DrawArguments)
	DrawIndexed(args rhi.DrawArguments)
	DrawIndirect(args Buffer, offset uint64, count uint32, indexed bool)
	Dispatch(x, y, z uint32)
	DispatchIndirect(args Buffer, offset uint64)
	DispatchMesh(x, y, z uint32)
	DispatchRays(desc *DispatchRaysDesc)

	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)
	CopyTexture(dst Texture, dstSlice rhi.TextureSlice, src Texture, srcSlice rhi.TextureSlice)
	CopyBufferToTexture(dst Texture, dstSlice rhi.TextureSlice, src Buffer, layout BufferLayout)
	CopyTextureToBuffer(dst Buffer, layout BufferLayout, src Texture, srcSlice rhi.TextureSlice)

	ClearTextureFloat(t Texture, subresources rhi.TextureSubresourceSet, c rhi.Color)
	ClearTextureUInt(t Texture, subresources rhi.TextureSubresourceSet, value uint32)
	ClearDepthStencil(t Texture, subresources rhi.TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8)
	ClearBufferUInt(b Buffer, value uint32)
	ResolveTexture(dst Texture, dstMip, dstSlice uint32, src Texture, srcMip, srcSlice uint32, format rhi.Format)

	BuildAccelStruct(build *AccelStructBuild)
	CopyAccelStruct(dst, src Buffer, compact bool)

	WriteTimestamp(heap QueryHeap, index uint32)
	ResolveQueries(heap QueryHeap, first, count uint32, dst Buffer, dstOffset uint64)

	BeginMarker(name string)
	EndMarker()

	Destroy()
}
