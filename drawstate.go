package rhi

// VertexBufferBinding binds a vertex buffer to an input slot.
type VertexBufferBinding struct {
	Buffer Buffer
	Slot   uint32
	Offset uint64
}

// IndexBufferBinding binds the index buffer of a draw.
type IndexBufferBinding struct {
	Buffer Buffer
	Format Format
	Offset uint32
}

// GraphicsState is everything a Draw call reads.
type GraphicsState struct {
	Pipeline    GraphicsPipeline
	Framebuffer Framebuffer
	Viewport    ViewportState

	BlendConstantColor     Color
	DynamicStencilRefValue uint8

	// Bindings holds binding sets and descriptor tables in layout order.
	Bindings      []BindingSet
	VertexBuffers []VertexBufferBinding
	IndexBuffer   IndexBufferBinding

	IndirectParams Buffer
}

// ComputeState is everything a Dispatch call reads.
type ComputeState struct {
	Pipeline       ComputePipeline
	Bindings       []BindingSet
	IndirectParams Buffer
}

// MeshletState is everything a DispatchMesh call reads.
type MeshletState struct {
	Pipeline    MeshletPipeline
	Framebuffer Framebuffer
	Viewport    ViewportState

	BlendConstantColor     Color
	DynamicStencilRefValue uint8

	Bindings       []BindingSet
	IndirectParams Buffer
}

// RayTracingState is everything a DispatchRays call reads.
type RayTracingState struct {
	ShaderTable ShaderTable
	Bindings    []BindingSet
}

// DrawArguments are the parameters of a direct draw.
type DrawArguments struct {
	VertexCount           uint32
	InstanceCount         uint32
	StartIndexLocation    uint32
	StartVertexLocation   uint32
	StartInstanceLocation uint32
}

// DispatchRaysArguments are the grid dimensions of a ray dispatch.
type DispatchRaysArguments struct {
	Width  uint32
	Height uint32
	Depth  uint32
}
