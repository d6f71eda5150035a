// Package native defines the contract between the command-list core and a
// graphics back-end.
//
// The core drives a back-end exclusively through these interfaces: it never
// inspects native objects, and a back-end never sees core handles. Every
// operation is monomorphic; the pipeline family of a binding call is passed
// as a BindPoint tag rather than expressed through dynamic dispatch on
// resources.
package native

import (
	"time"

	"github.com/gogpu/rhi"
)

// Limits are the alignment and capacity constants the core honors when it
// places data for the back-end.
type Limits struct {
	// ConstantBufferOffsetAlignment aligns upload suballocations that may
	// be bound as constant buffers.
	ConstantBufferOffsetAlignment uint64
	// AccelStructScratchAlignment aligns scratch suballocations.
	AccelStructScratchAlignment uint64
	// StagingRowPitchAlignment aligns the rows of buffer-texture copies.
	StagingRowPitchAlignment uint64
	// StagingPlacementAlignment aligns each subresource inside a staging
	// buffer.
	StagingPlacementAlignment uint64
	// ShaderTableRecordAlignment aligns records of ray-tracing shader tables.
	ShaderTableRecordAlignment uint64
	// ShaderIdentifierSize is the byte size of a shader identifier.
	ShaderIdentifierSize uint32
	// TimestampFrequency is the number of timestamp ticks per second.
	TimestampFrequency uint64
}

// Backend is a native device with its queues.
type Backend interface {
	API() rhi.GraphicsAPI
	Limits() Limits
	FeatureSupported(feature rhi.Feature) bool
	FormatSupport(format rhi.Format) rhi.FormatSupport

	// Queue returns nil when the device has no queue of that kind.
	Queue(q rhi.CommandQueue) Queue

	CreateHeap(desc *rhi.HeapDesc) (Heap, error)
	CreateBuffer(desc *rhi.BufferDesc) (Buffer, error)
	CreateTexture(desc *rhi.TextureDesc) (Texture, error)
	BufferMemoryRequirements(desc *rhi.BufferDesc) rhi.MemoryRequirements
	TextureMemoryRequirements(desc *rhi.TextureDesc) rhi.MemoryRequirements

	CreateDescriptorHeap(kind DescriptorHeapKind, capacity uint32, shaderVisible bool) (DescriptorHeap, error)
	CreateRootSignature(desc *RootSignatureDesc) (RootSignature, error)
	CreateShader(desc *rhi.ShaderDesc, code []byte) (ShaderModule, error)
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)

	CreateCommandBuffer(queue rhi.CommandQueue) (CommandBuffer, error)
	CreateTimelineSemaphore() (Semaphore, error)
	CreateQueryHeap(count uint32) (QueryHeap, error)

	AccelStructPrebuildInfo(inputs *AccelStructInputs) PrebuildInfo

	Destroy()
}

// Heap is native placement memory.
type Heap interface {
	Destroy()
}

// Buffer is a native buffer. CPU-accessible buffers are persistently
// mappable.
type Buffer interface {
	GPUAddress() uint64
	// Map returns the CPU view of the buffer. The slice stays valid
	// until Unmap.
	Map() ([]byte, error)
	Unmap()
	BindMemory(heap Heap, offset uint64) error
	Destroy()
}

// Texture is a native image.
type Texture interface {
	BindMemory(heap Heap, offset uint64) error
	Destroy()
}

// ShaderModule is a back-end shader object.
type ShaderModule interface {
	Destroy()
}

// Queue submits command buffers.
type Queue interface {
	// Submit executes cmds in order after every wait is satisfied and
	// signals every semaphore in signals when done. An error wrapping
	// rhi.ErrDeviceRemoved reports device loss.
	Submit(cmds []CommandBuffer, waits, signals []SemaphoreValue) error
	// Native returns the underlying API queue object.
	Native() any
}

// Semaphore is a 64-bit timeline counter signaled by the GPU.
type Semaphore interface {
	CompletedValue() uint64
	// Wait blocks until the counter reaches value or timeout elapses and
	// reports whether the value was reached.
	Wait(value uint64, timeout time.Duration) (bool, error)
	Destroy()
}

// SemaphoreValue is a (semaphore, value) pair in a submit.
type SemaphoreValue struct {
	Semaphore Semaphore
	Value     uint64
}

// QueryHeap holds timestamp queries.
type QueryHeap interface {
	Destroy()
}

// WaitForever is the timeout of an unbounded Semaphore.Wait.
const WaitForever = time.Duration(1<<63 - 1)
