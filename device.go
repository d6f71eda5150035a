package rhi

import (
	"fmt"
	"time"
)

// GraphicsAPI identifies the native API behind a device.
type GraphicsAPI uint8

// Graphics APIs.
const (
	GraphicsAPID3D12 GraphicsAPI = iota
	GraphicsAPIVulkan
	GraphicsAPIWebGPU
)

func (a GraphicsAPI) String() string {
	switch a {
	case GraphicsAPID3D12:
		return "D3D12"
	case GraphicsAPIVulkan:
		return "Vulkan"
	case GraphicsAPIWebGPU:
		return "WebGPU"
	}
	return fmt.Sprintf("GraphicsAPI(%d)", uint8(a))
}

// CommandQueue selects one of the device queues.
type CommandQueue uint8

// Command queues.
const (
	QueueGraphics CommandQueue = iota
	QueueCompute
	QueueCopy

	QueueCount
)

func (q CommandQueue) String() string {
	switch q {
	case QueueGraphics:
		return "Graphics"
	case QueueCompute:
		return "Compute"
	case QueueCopy:
		return "Copy"
	}
	return fmt.Sprintf("CommandQueue(%d)", uint8(q))
}

// Feature is an optional device capability.
type Feature uint8

// Optional features.
const (
	FeatureDeferredCommandLists Feature = iota
	FeatureRayTracingAccelStruct
	FeatureRayTracingPipeline
	FeatureRayQuery
	FeatureMeshlets
	FeatureConservativeRasterization
	FeatureVariableRateShading
	FeatureVirtualResources
	FeatureComputeQueue
	FeatureCopyQueue
	FeatureConstantBufferRanges
	FeatureTimerQueries
	FeatureEventQueries
	FeatureAccelStructCompaction
)

// Default sizes used when a DeviceDesc or CommandListParameters field is zero.
const (
	DefaultRenderTargetViewHeapSize   = 1024
	DefaultDepthStencilViewHeapSize   = 1024
	DefaultShaderResourceViewHeapSize = 16384
	DefaultSamplerHeapSize            = 1024
	DefaultMaxTimerQueries            = 256
	DefaultUploadChunkSize            = 64 * 1024
	DefaultScratchChunkSize           = 64 * 1024
	DefaultScratchMaxMemory           = 1024 * 1024 * 1024
)

// DeviceDesc configures a device. The native device and queues are
// supplied separately as a back-end.
type DeviceDesc struct {
	// MessageCallback receives all diagnostics. Nil routes them to
	// SlogCallback(nil).
	MessageCallback MessageCallback

	RenderTargetViewHeapSize   uint32
	DepthStencilViewHeapSize   uint32
	ShaderResourceViewHeapSize uint32
	SamplerHeapSize            uint32
	MaxTimerQueries            uint32

	EnableComputeQueue bool
	EnableCopyQueue    bool

	// EnableAccelStructCompaction registers BLAS built with AllowCompaction
	// so that CompactBottomLevelAccelStructs can shrink them.
	EnableAccelStructCompaction bool

	// Defaults for command lists created with zero-valued sizes.
	UploadChunkSize  uint64
	ScratchChunkSize uint64
	ScratchMaxMemory uint64
}

// DefaultDeviceDesc returns a DeviceDesc with every size set to its default
// and all queues enabled.
func DefaultDeviceDesc() DeviceDesc {
	return DeviceDesc{
		RenderTargetViewHeapSize:   DefaultRenderTargetViewHeapSize,
		DepthStencilViewHeapSize:   DefaultDepthStencilViewHeapSize,
		ShaderResourceViewHeapSize: DefaultShaderResourceViewHeapSize,
		SamplerHeapSize:            DefaultSamplerHeapSize,
		MaxTimerQueries:            DefaultMaxTimerQueries,
		EnableComputeQueue:         true,
		EnableCopyQueue:            true,
		UploadChunkSize:            DefaultUploadChunkSize,
		ScratchChunkSize:           DefaultScratchChunkSize,
		ScratchMaxMemory:           DefaultScratchMaxMemory,
	}
}

// WithDefaults returns d with zero sizes replaced by defaults.
func (d DeviceDesc) WithDefaults() DeviceDesc {
	def := DefaultDeviceDesc()
	if d.RenderTargetViewHeapSize == 0 {
		d.RenderTargetViewHeapSize = def.RenderTargetViewHeapSize
	}
	if d.DepthStencilViewHeapSize == 0 {
		d.DepthStencilViewHeapSize = def.DepthStencilViewHeapSize
	}
	if d.ShaderResourceViewHeapSize == 0 {
		d.ShaderResourceViewHeapSize = def.ShaderResourceViewHeapSize
	}
	if d.SamplerHeapSize == 0 {
		d.SamplerHeapSize = def.SamplerHeapSize
	}
	if d.MaxTimerQueries == 0 {
		d.MaxTimerQueries = def.MaxTimerQueries
	}
	if d.UploadChunkSize == 0 {
		d.UploadChunkSize = def.UploadChunkSize
	}
	if d.ScratchChunkSize == 0 {
		d.ScratchChunkSize = def.ScratchChunkSize
	}
	if d.ScratchMaxMemory == 0 {
		d.ScratchMaxMemory = def.ScratchMaxMemory
	}
	return d
}

// CommandListParameters configures a command list. Zero sizes take the
// device defaults.
type CommandListParameters struct {
	// EnableImmediateExecution marks the list as an immediate list; at
	// most one immediate list may be open at a time.
	EnableImmediateExecution bool
	UploadChunkSize          uint64
	ScratchChunkSize         uint64
	ScratchMaxMemory         uint64
	QueueType                CommandQueue
}

// DefaultCommandListParameters returns parameters for an immediate
// graphics command list.
func DefaultCommandListParameters() CommandListParameters {
	return CommandListParameters{
		EnableImmediateExecution: true,
		UploadChunkSize:          DefaultUploadChunkSize,
		ScratchChunkSize:         DefaultScratchChunkSize,
		ScratchMaxMemory:         DefaultScratchMaxMemory,
		QueueType:                QueueGraphics,
	}
}

// Device creates resources and submits command lists.
type Device interface {
	Resource

	GraphicsAPI() GraphicsAPI
	MessageCallback() MessageCallback

	CreateHeap(desc HeapDesc) (Heap, error)

	CreateTexture(desc TextureDesc) (Texture, error)
	GetTextureMemoryRequirements(t Texture) MemoryRequirements
	BindTextureMemory(t Texture, heap Heap, offset uint64) error

	CreateStagingTexture(desc TextureDesc, access CPUAccessMode) (StagingTexture, error)
	// MapStagingTexture blocks until the GPU has finished the last
	// submission that used the texture, then returns the bytes of one
	// subresource and their row pitch.
	MapStagingTexture(t StagingTexture, slice TextureSlice, access CPUAccessMode) (data []byte, rowPitch uint64, err error)
	UnmapStagingTexture(t StagingTexture)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	MapBuffer(b Buffer, access CPUAccessMode) ([]byte, error)
	UnmapBuffer(b Buffer)
	GetBufferMemoryRequirements(b Buffer) MemoryRequirements
	BindBufferMemory(b Buffer, heap Heap, offset uint64) error

	CreateShader(desc ShaderDesc, code []byte) (Shader, error)
	CreateShaderLibrary(code []byte) (ShaderLibrary, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateInputLayout(attributes []VertexAttributeDesc, vertexShader Shader) (InputLayout, error)

	CreateEventQuery() (EventQuery, error)
	SetEventQuery(q EventQuery, queue CommandQueue)
	PollEventQuery(q EventQuery) bool
	// WaitEventQuery reports false when the timeout elapsed first.
	WaitEventQuery(q EventQuery, timeout time.Duration) bool
	ResetEventQuery(q EventQuery)

	CreateTimerQuery() (TimerQuery, error)
	PollTimerQuery(q TimerQuery) bool
	// GetTimerQueryTime waits for the query and returns the measured span.
	GetTimerQueryTime(q TimerQuery) (time.Duration, error)
	ResetTimerQuery(q TimerQuery)

	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc, fb Framebuffer) (GraphicsPipeline, error)
	CreateComputePipeline(desc ComputePipelineDesc) (ComputePipeline, error)
	CreateMeshletPipeline(desc MeshletPipelineDesc, fb Framebuffer) (MeshletPipeline, error)
	CreateRayTracingPipeline(desc RayTracingPipelineDesc) (RayTracingPipeline, error)

	CreateBindingLayout(desc BindingLayoutDesc) (BindingLayout, error)
	CreateBindlessLayout(desc BindlessLayoutDesc) (BindingLayout, error)
	CreateBindingSet(desc BindingSetDesc, layout BindingLayout) (BindingSet, error)
	CreateDescriptorTable(layout BindingLayout) (DescriptorTable, error)
	ResizeDescriptorTable(t DescriptorTable, newSize uint32, keepContents bool) error
	WriteDescriptorTable(t DescriptorTable, item BindingSetItem) error

	CreateAccelStruct(desc AccelStructDesc) (AccelStruct, error)
	GetAccelStructMemoryRequirements(as AccelStruct) MemoryRequirements
	BindAccelStructMemory(as AccelStruct, heap Heap, offset uint64) error

	CreateCommandList(params CommandListParameters) (CommandList, error)
	// ExecuteCommandLists submits closed command lists to queue in array
	// order and returns the submission id.
	ExecuteCommandLists(lists []CommandList, queue CommandQueue) (uint64, error)
	// QueueWaitForCommandList makes the next submission on waitQueue wait
	// until executionQueue has completed submission instance.
	QueueWaitForCommandList(waitQueue, executionQueue CommandQueue, instance uint64)
	WaitForIdle() error
	RunGarbageCollection()

	QueryFeatureSupport(feature Feature) bool
	QueryFormatSupport(format Format) FormatSupport
	NativeQueue(queue CommandQueue) any
}

// CommandList records GPU work. Recording methods report contract
// violations through the device message callback and do nothing.
type CommandList interface {
	Resource

	Open()
	Close()
	ClearState()

	ClearTextureFloat(t Texture, subresources TextureSubresourceSet, color Color)
	ClearDepthStencilTexture(t Texture, subresources TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8)
	ClearTextureUInt(t Texture, subresources TextureSubresourceSet, value uint32)

	CopyTexture(dst Texture, dstSlice TextureSlice, src Texture, srcSlice TextureSlice)
	CopyTextureToStaging(dst StagingTexture, dstSlice TextureSlice, src Texture, srcSlice TextureSlice)
	CopyTextureFromStaging(dst Texture, dstSlice TextureSlice, src StagingTexture, srcSlice TextureSlice)
	WriteTexture(dst Texture, arraySlice, mipLevel uint32, data []byte, rowPitch, depthPitch uint64)
	ResolveTexture(dst Texture, dstSubresources TextureSubresourceSet, src Texture, srcSubresources TextureSubresourceSet)

	WriteBuffer(b Buffer, data []byte, destOffset uint64)
	ClearBufferUInt(b Buffer, value uint32)
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, byteSize uint64)

	SetPushConstants(data []byte)

	SetGraphicsState(state *GraphicsState)
	Draw(args DrawArguments)
	DrawIndexed(args DrawArguments)
	DrawIndirect(offsetBytes, drawCount uint32)
	DrawIndexedIndirect(offsetBytes, drawCount uint32)

	SetComputeState(state *ComputeState)
	Dispatch(groupsX, groupsY, groupsZ uint32)
	DispatchIndirect(offsetBytes uint32)

	SetMeshletState(state *MeshletState)
	DispatchMesh(groupsX, groupsY, groupsZ uint32)

	SetRayTracingState(state *RayTracingState)
	DispatchRays(args DispatchRaysArguments)

	BuildBottomLevelAccelStruct(as AccelStruct, geometries []GeometryDesc, flags AccelStructBuildFlags)
	CompactBottomLevelAccelStructs()
	BuildTopLevelAccelStruct(as AccelStruct, instances []InstanceDesc, flags AccelStructBuildFlags)
	BuildTopLevelAccelStructFromBuffer(as AccelStruct, instanceBuffer Buffer, instanceBufferOffset uint64, numInstances uint32, flags AccelStructBuildFlags)

	BeginTimerQuery(q TimerQuery)
	EndTimerQuery(q TimerQuery)
	BeginMarker(name string)
	EndMarker()

	SetEnableAutomaticBarriers(enable bool)
	SetResourceStatesForBindingSet(set BindingSet)
	SetResourceStatesForFramebuffer(fb Framebuffer)
	SetEnableUAVBarriersForTexture(t Texture, enable bool)
	SetEnableUAVBarriersForBuffer(b Buffer, enable bool)

	BeginTrackingTextureState(t Texture, subresources TextureSubresourceSet, state ResourceStates)
	BeginTrackingBufferState(b Buffer, state ResourceStates)
	SetTextureState(t Texture, subresources TextureSubresourceSet, state ResourceStates)
	SetBufferState(b Buffer, state ResourceStates)
	SetAccelStructState(as AccelStruct, state ResourceStates)
	SetPermanentTextureState(t Texture, state ResourceStates)
	SetPermanentBufferState(b Buffer, state ResourceStates)
	CommitBarriers()

	GetTextureSubresourceState(t Texture, arraySlice, mipLevel uint32) ResourceStates
	GetBufferState(b Buffer) ResourceStates

	Device() Device
	Parameters() *CommandListParameters
}
