package rhi

// Resource is the reference-counted base of every handle.
//
// A handle returned by a Device starts with one reference owned by the
// caller. Release drops a reference; when the count reaches zero the
// native objects are destroyed once every queue has completed the
// submissions that referenced them.
type Resource interface {
	AddRef() int32
	Release() int32
}

// Heap is a placement pool for virtual resources.
type Heap interface {
	Resource
	Desc() *HeapDesc
}

// Texture is a GPU image.
type Texture interface {
	Resource
	Desc() *TextureDesc
}

// StagingTexture is a CPU-mappable image used to move texels between host
// and device.
type StagingTexture interface {
	Resource
	Desc() *TextureDesc
	CPUAccess() CPUAccessMode
}

// Buffer is a linear GPU allocation. Volatile buffers report a zero
// GPUAddress; their address changes with every WriteBuffer.
type Buffer interface {
	Resource
	Desc() *BufferDesc
	GPUAddress() uint64
}

// Sampler is a texture sampling configuration.
type Sampler interface {
	Resource
	Desc() *SamplerDesc
}

// Shader is a single compiled shader entry point.
type Shader interface {
	Resource
	Desc() *ShaderDesc
	Bytecode() []byte
}

// ShaderLibrary holds several entry points compiled together.
type ShaderLibrary interface {
	Resource
	Shader(entryName string, shaderType ShaderType) (Shader, error)
}

// InputLayout describes vertex fetch.
type InputLayout interface {
	Resource
	Attributes() []VertexAttributeDesc
}

// Framebuffer is a set of render-target attachments.
type Framebuffer interface {
	Resource
	Desc() *FramebufferDesc
	Info() *FramebufferInfo
}

// BindingLayout is either a regular layout (Desc non-nil) or a bindless
// layout (BindlessDesc non-nil).
type BindingLayout interface {
	Resource
	Desc() *BindingLayoutDesc
	BindlessDesc() *BindlessLayoutDesc
}

// BindingSet binds resources to the slots of a BindingLayout. Descriptor
// tables are binding sets whose Desc is nil.
type BindingSet interface {
	Resource
	Desc() *BindingSetDesc
	Layout() BindingLayout
}

// DescriptorTable is a resizable, individually writable binding set used
// with bindless layouts.
type DescriptorTable interface {
	BindingSet
	Capacity() uint32
	FirstDescriptorIndex() uint32
}

// GraphicsPipeline is a compiled graphics pipeline.
type GraphicsPipeline interface {
	Resource
	Desc() *GraphicsPipelineDesc
	FramebufferInfo() *FramebufferInfo
}

// ComputePipeline is a compiled compute pipeline.
type ComputePipeline interface {
	Resource
	Desc() *ComputePipelineDesc
}

// MeshletPipeline is a compiled mesh-shading pipeline.
type MeshletPipeline interface {
	Resource
	Desc() *MeshletPipelineDesc
	FramebufferInfo() *FramebufferInfo
}

// RayTracingPipeline is a compiled ray-tracing pipeline.
type RayTracingPipeline interface {
	Resource
	Desc() *RayTracingPipelineDesc
	CreateShaderTable() (ShaderTable, error)
}

// ShaderTable lists the shader records of a ray dispatch. Every mutation
// bumps an internal version so command lists know to rebuild their copy.
type ShaderTable interface {
	Resource
	SetRayGenerationShader(exportName string, bindings BindingSet) error
	AddMissShader(exportName string, bindings BindingSet) (int, error)
	AddHitGroup(exportName string, bindings BindingSet) (int, error)
	AddCallableShader(exportName string, bindings BindingSet) (int, error)
	ClearMissShaders()
	ClearHitShaders()
	ClearCallableShaders()
	Pipeline() RayTracingPipeline
}

// AccelStruct is a bottom- or top-level acceleration structure.
type AccelStruct interface {
	Resource
	Desc() *AccelStructDesc
	IsCompacted() bool
	DeviceAddress() uint64
}

// TimerQuery measures GPU time between two points of a command list.
type TimerQuery interface {
	Resource
}

// EventQuery signals when a queue has reached a point of its timeline.
type EventQuery interface {
	Resource
}
