// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Limits are the placement rules of a WebGPU device.
var Limits = native.Limits{
	ConstantBufferOffsetAlignment: 256,
	AccelStructScratchAlignment:   256,
	StagingRowPitchAlignment:      256,
	StagingPlacementAlignment:     256,
	ShaderTableRecordAlignment:    64,
	ShaderIdentifierSize:          32,
	TimestampFrequency:            1_000_000_000,
}

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Backend drives a gogpu/wgpu HAL device. It exposes one graphics queue
// and supports copies, clears, resolves and timeline synchronization.
// Pipelines, ray tracing and queries report rhi.ErrNotSupported.
type Backend struct {
	device hal.Device
	queue  *Queue

	// release is run by Destroy after the device when the backend owns the
	// instance the device came from.
	release func()

	nextAddress atomic.Uint64
	nextHandle  atomic.Uint64

	mu        sync.Mutex
	destroyed bool
}

var _ native.Backend = (*Backend)(nil)

// New wraps an open HAL device and its queue. The caller keeps ownership
// of both; Destroy only waits for the device to go idle.
func New(device hal.Device, queue hal.Queue) *Backend {
	b := &Backend{device: device}
	b.queue = &Queue{be: b, raw: queue}
	b.nextAddress.Store(0x1_0000_0000)
	b.nextHandle.Store(0x1000)
	return b
}

func (b *Backend) API() rhi.GraphicsAPI  { return rhi.GraphicsAPIWebGPU }
func (b *Backend) Limits() native.Limits { return Limits }

// Device returns the HAL device the backend records for.
func (b *Backend) Device() hal.Device { return b.device }

func (b *Backend) FeatureSupported(feature rhi.Feature) bool {
	switch feature {
	case rhi.FeatureDeferredCommandLists, rhi.FeatureEventQueries:
		return true
	}
	return false
}

func (b *Backend) FormatSupport(format rhi.Format) rhi.FormatSupport { return formatSupport(format) }

func (b *Backend) Queue(q rhi.CommandQueue) native.Queue {
	if q != rhi.QueueGraphics {
		return nil
	}
	return b.queue
}

func (b *Backend) allocateAddress(size uint64) uint64 {
	size = rhi.AlignUp(max(size, 1), 256)
	return b.nextAddress.Add(size) - size
}

func (b *Backend) CreateHeap(desc *rhi.HeapDesc) (native.Heap, error) {
	return nil, fmt.Errorf("wgpu: heap %q: %w", desc.DebugName, rhi.ErrNotSupported)
}

func (b *Backend) CreateBuffer(desc *rhi.BufferDesc) (native.Buffer, error) {
	if desc.IsVirtual {
		return nil, fmt.Errorf("wgpu: virtual buffer %q: %w", desc.DebugName, rhi.ErrNotSupported)
	}
	if desc.ByteSize == 0 {
		return nil, fmt.Errorf("wgpu: buffer %q: %w", desc.DebugName, rhi.ErrInvalidBufferSize)
	}
	// WebGPU copies move whole 4-byte words.
	size := rhi.AlignUp(desc.ByteSize, 4)
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.DebugName,
		Size:  size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.DebugName, err)
	}
	return &Buffer{be: b, raw: raw, desc: *desc, size: size, address: b.allocateAddress(size)}, nil
}

func (b *Backend) CreateTexture(desc *rhi.TextureDesc) (native.Texture, error) {
	if desc.IsVirtual {
		return nil, fmt.Errorf("wgpu: virtual texture %q: %w", desc.DebugName, rhi.ErrNotSupported)
	}
	format, ok := textureFormat(desc.Format)
	if !ok {
		return nil, fmt.Errorf("wgpu: texture %q: format %s: %w", desc.DebugName, desc.Format, rhi.ErrNotSupported)
	}
	depth := desc.ArraySize
	if desc.Dimension == rhi.TextureDimension3D {
		depth = desc.Depth
	}
	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.DebugName,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: max(depth, 1)},
		MipLevelCount: max(desc.MipLevels, 1),
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     textureDimension(desc.Dimension),
		Format:        format,
		Usage:         textureUsage(desc),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture %q: %w", desc.DebugName, err)
	}
	return &Texture{be: b, raw: raw, desc: *desc, format: format}, nil
}

func (b *Backend) BufferMemoryRequirements(desc *rhi.BufferDesc) rhi.MemoryRequirements {
	return rhi.MemoryRequirements{Size: rhi.AlignUp(desc.ByteSize, 256), Alignment: 256}
}

func (b *Backend) TextureMemoryRequirements(desc *rhi.TextureDesc) rhi.MemoryRequirements {
	info := rhi.GetFormatInfo(desc.Format)
	block := uint32(max(info.BlockSize, 1))
	size := uint64(0)
	for mip := uint32(0); mip < max(desc.MipLevels, 1); mip++ {
		w := (max(desc.Width>>mip, 1) + block - 1) / block
		h := (max(desc.Height>>mip, 1) + block - 1) / block
		d := uint64(1)
		if desc.Dimension == rhi.TextureDimension3D {
			d = uint64(max(desc.Depth>>mip, 1))
		}
		size += rhi.AlignUp(uint64(w)*uint64(info.BytesPerBlock), 256) * uint64(h) * d
	}
	size *= uint64(max(desc.ArraySize, 1)) * uint64(max(desc.SampleCount, 1))
	return rhi.MemoryRequirements{Size: rhi.AlignUp(size, 65536), Alignment: 65536}
}

func (b *Backend) CreateDescriptorHeap(kind native.DescriptorHeapKind, capacity uint32, shaderVisible bool) (native.DescriptorHeap, error) {
	h := &DescriptorHeap{
		kind:    kind,
		entries: make([]native.Descriptor, capacity),
		cpuBase: b.nextHandle.Add(1<<32) - 1<<32,
	}
	if shaderVisible {
		h.gpuBase = b.nextHandle.Add(1<<32) - 1<<32
	}
	return h, nil
}

func (b *Backend) CreateRootSignature(desc *native.RootSignatureDesc) (native.RootSignature, error) {
	return &RootSignature{Desc: *desc}, nil
}

// CreateShader accepts WGSL, which it compiles to SPIR-V, and binary
// SPIR-V.
func (b *Backend) CreateShader(desc *rhi.ShaderDesc, code []byte) (native.ShaderModule, error) {
	var words []uint32
	switch desc.Language {
	case rhi.ShaderLanguageWGSL:
		spirv, err := naga.Compile(string(code))
		if err != nil {
			return nil, fmt.Errorf("wgpu: compile shader %q: %w", desc.DebugName, err)
		}
		words = spirvWords(spirv)
	default:
		words = spirvWords(code)
		if len(words) == 0 || words[0] != spirvMagic {
			return nil, fmt.Errorf("wgpu: shader %q is not SPIR-V: %w", desc.DebugName, rhi.ErrNotSupported)
		}
	}
	raw, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.DebugName,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader %q: %w", desc.DebugName, err)
	}
	return &ShaderModule{be: b, raw: raw, Words: words}, nil
}

// spirvWords packs little-endian bytes into SPIR-V words. A trailing
// partial word is dropped.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words
}

// CreatePipeline is not supported: the root-signature binding model has no
// bind-group translation yet.
func (b *Backend) CreatePipeline(desc *native.PipelineDesc) (native.Pipeline, error) {
	return nil, fmt.Errorf("wgpu: pipelines: %w", rhi.ErrNotSupported)
}

func (b *Backend) CreateCommandBuffer(queue rhi.CommandQueue) (native.CommandBuffer, error) {
	if queue != rhi.QueueGraphics {
		return nil, fmt.Errorf("wgpu: no %s queue", queue)
	}
	return &CommandBuffer{be: b}, nil
}

func (b *Backend) CreateTimelineSemaphore() (native.Semaphore, error) {
	return &Semaphore{be: b}, nil
}

func (b *Backend) CreateQueryHeap(count uint32) (native.QueryHeap, error) {
	return nil, fmt.Errorf("wgpu: timestamp queries: %w", rhi.ErrNotSupported)
}

func (b *Backend) AccelStructPrebuildInfo(*native.AccelStructInputs) native.PrebuildInfo {
	return native.PrebuildInfo{}
}

// Destroy waits for the device to go idle and releases the device when the
// backend opened it.
func (b *Backend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	if err := b.device.WaitIdle(); err != nil {
		rhi.Logger().Warn("wgpu: wait idle on destroy", "err", err)
	}
	if b.release != nil {
		b.release()
	}
}
