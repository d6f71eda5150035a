// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Buffer is a HAL buffer. CPU-accessible buffers map the HAL allocation
// directly and stay mapped until Unmap.
type Buffer struct {
	be      *Backend
	raw     hal.Buffer
	desc    rhi.BufferDesc
	size    uint64
	address uint64

	mu     sync.Mutex
	mapped []byte
}

// Raw returns the HAL buffer.
func (b *Buffer) Raw() hal.Buffer    { return b.raw }
func (b *Buffer) GPUAddress() uint64 { return b.address }

func (b *Buffer) Map() ([]byte, error) {
	if b.desc.CPUAccess == rhi.CPUAccessNone {
		return nil, fmt.Errorf("wgpu: buffer %q is not CPU-accessible", b.desc.DebugName)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapped != nil {
		return b.mapped, nil
	}
	m, err := b.be.device.MapBuffer(b.raw, 0, b.size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map buffer %q: %w", b.desc.DebugName, err)
	}
	b.mapped = unsafe.Slice((*byte)(m.Ptr), b.size)[:b.desc.ByteSize:b.desc.ByteSize]
	return b.mapped, nil
}

func (b *Buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapped == nil {
		return
	}
	b.mapped = nil
	if err := b.be.device.UnmapBuffer(b.raw); err != nil {
		rhi.Logger().Warn("wgpu: unmap buffer", "buffer", b.desc.DebugName, "err", err)
	}
}

func (b *Buffer) BindMemory(native.Heap, uint64) error {
	return fmt.Errorf("wgpu: bind buffer %q: %w", b.desc.DebugName, rhi.ErrNotSupported)
}

func (b *Buffer) Destroy() {
	b.Unmap()
	b.be.device.DestroyBuffer(b.raw)
}

// Texture is a HAL texture.
type Texture struct {
	be     *Backend
	raw    hal.Texture
	desc   rhi.TextureDesc
	format gputypes.TextureFormat
}

// Raw returns the HAL texture.
func (t *Texture) Raw() hal.Texture { return t.raw }

func (t *Texture) BindMemory(native.Heap, uint64) error {
	return fmt.Errorf("wgpu: bind texture %q: %w", t.desc.DebugName, rhi.ErrNotSupported)
}

func (t *Texture) Destroy() { t.be.device.DestroyTexture(t.raw) }

// view creates a single-subresource view usable as a render attachment.
func (t *Texture) view(mip, slice uint32, asp gputypes.TextureAspect) (hal.TextureView, error) {
	dim := gputypes.TextureViewDimension2D
	if t.desc.Dimension == rhi.TextureDimension3D {
		dim = gputypes.TextureViewDimension3D
	}
	return t.be.device.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           t.desc.DebugName,
		Format:          t.format,
		Dimension:       dim,
		Aspect:          asp,
		BaseMipLevel:    mip,
		MipLevelCount:   1,
		BaseArrayLayer:  slice,
		ArrayLayerCount: 1,
	})
}

// ShaderModule holds the SPIR-V handed to the HAL.
type ShaderModule struct {
	be    *Backend
	raw   hal.ShaderModule
	Words []uint32
}

func (s *ShaderModule) Destroy() { s.be.device.DestroyShaderModule(s.raw) }

// DescriptorHeap stores descriptors by value on the host.
type DescriptorHeap struct {
	kind    native.DescriptorHeapKind
	cpuBase uint64
	gpuBase uint64

	mu      sync.Mutex
	entries []native.Descriptor
}

func (h *DescriptorHeap) Kind() native.DescriptorHeapKind { return h.kind }
func (h *DescriptorHeap) Capacity() uint32                { return uint32(len(h.entries)) }

func (h *DescriptorHeap) Write(index uint32, d *native.Descriptor) {
	h.mu.Lock()
	h.entries[index] = *d
	h.mu.Unlock()
}

func (h *DescriptorHeap) CopyFrom(src native.DescriptorHeap, srcIndex, dstIndex, count uint32) {
	s := src.(*DescriptorHeap)
	s.mu.Lock()
	entries := append([]native.Descriptor(nil), s.entries[srcIndex:srcIndex+count]...)
	s.mu.Unlock()
	h.mu.Lock()
	copy(h.entries[dstIndex:], entries)
	h.mu.Unlock()
}

func (h *DescriptorHeap) CPUHandle(index uint32) uint64 { return h.cpuBase + uint64(index) }

func (h *DescriptorHeap) GPUHandle(index uint32) uint64 {
	if h.gpuBase == 0 {
		return 0
	}
	return h.gpuBase + uint64(index)
}

// Descriptor returns the descriptor at index.
func (h *DescriptorHeap) Descriptor(index uint32) native.Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[index]
}

func (h *DescriptorHeap) Destroy() {}

// RootSignature keeps its description for the binding translation.
type RootSignature struct {
	Desc native.RootSignatureDesc
}

func (r *RootSignature) Destroy() {}
