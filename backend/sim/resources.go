package sim

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Heap is placement memory. Bound resources alias its bytes.
type Heap struct {
	be      *Backend
	Desc    rhi.HeapDesc
	data    []byte
	address uint64
}

func (h *Heap) Destroy() { h.be.live.Add(-1) }

// Buffer is host memory with a simulated GPU virtual address.
type Buffer struct {
	be      *Backend
	Desc    rhi.BufferDesc
	mu      sync.Mutex
	data    []byte
	address uint64
	mapped  bool
}

func (b *Buffer) GPUAddress() uint64 { return b.address }

func (b *Buffer) Map() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, fmt.Errorf("sim: buffer %q has no memory", b.Desc.DebugName)
	}
	b.mapped = true
	return b.data, nil
}

func (b *Buffer) Unmap() {
	b.mu.Lock()
	b.mapped = false
	b.mu.Unlock()
}

// Mapped reports whether the buffer is currently mapped.
func (b *Buffer) Mapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

func (b *Buffer) BindMemory(heap native.Heap, offset uint64) error {
	h := heap.(*Heap)
	if offset+b.Desc.ByteSize > uint64(len(h.data)) {
		return fmt.Errorf("sim: buffer %q does not fit heap at offset %d", b.Desc.DebugName, offset)
	}
	b.mu.Lock()
	b.data = h.data[offset : offset+b.Desc.ByteSize]
	b.address = h.address + offset
	b.mu.Unlock()
	return nil
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *Buffer) Destroy() { b.be.live.Add(-1) }

// Texture stores each subresource as tightly packed rows of blocks.
type Texture struct {
	be   *Backend
	Desc rhi.TextureDesc

	mu     sync.Mutex
	subs   [][]byte
	clears map[uint32]rhi.Color
}

func subresourceSize(desc *rhi.TextureDesc, mip uint32) uint64 {
	pitch, rows, depth := subresourcePitch(desc, mip)
	return pitch * uint64(rows) * uint64(depth)
}

// subresourcePitch returns the tight row pitch, the block-row count and
// the depth of a mip level.
func subresourcePitch(desc *rhi.TextureDesc, mip uint32) (uint64, uint32, uint32) {
	info := rhi.GetFormatInfo(desc.Format)
	block := uint32(max(info.BlockSize, 1))
	w, h, d := desc.MipSize(mip)
	return uint64((w+block-1)/block) * uint64(info.BytesPerBlock), (h + block - 1) / block, d
}

func (t *Texture) allocate() {
	t.subs = make([][]byte, t.Desc.NumSubresources())
	for slice := uint32(0); slice < t.Desc.ArraySize; slice++ {
		for mip := uint32(0); mip < t.Desc.MipLevels; mip++ {
			t.subs[t.Desc.SubresourceIndex(mip, slice)] = make([]byte, subresourceSize(&t.Desc, mip))
		}
	}
}

func (t *Texture) BindMemory(native.Heap, uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.allocate()
	}
	return nil
}

func (t *Texture) Destroy() { t.be.live.Add(-1) }

// Subresource returns the tightly packed bytes of one subresource.
func (t *Texture) Subresource(mip, slice uint32) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		return nil
	}
	return t.subs[t.Desc.SubresourceIndex(mip, slice)]
}

// ClearColor returns the color of the last float clear of a subresource.
func (t *Texture) ClearColor(mip, slice uint32) (rhi.Color, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clears[t.Desc.SubresourceIndex(mip, slice)]
	return c, ok
}

// ShaderModule keeps a copy of the shader code.
type ShaderModule struct {
	be   *Backend
	Desc rhi.ShaderDesc
	Code []byte
}

func (s *ShaderModule) Destroy() { s.be.live.Add(-1) }

// DescriptorHeap stores descriptors by value. Handles are synthetic
// addresses 8 bytes apart.
type DescriptorHeap struct {
	be            *Backend
	kind          native.DescriptorHeapKind
	mu            sync.Mutex
	entries       []native.Descriptor
	written       []bool
	shaderVisible bool
	cpuBase       uint64
	gpuBase       uint64
}

// handleStride is the distance between consecutive descriptor handles.
const handleStride = 8

func (h *DescriptorHeap) Kind() native.DescriptorHeapKind { return h.kind }
func (h *DescriptorHeap) Capacity() uint32                { return uint32(len(h.entries)) }

func (h *DescriptorHeap) Write(index uint32, d *native.Descriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[index] = *d
	h.written[index] = true
}

func (h *DescriptorHeap) CopyFrom(src native.DescriptorHeap, srcIndex, dstIndex, count uint32) {
	s := src.(*DescriptorHeap)
	if s != h {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	copy(h.entries[dstIndex:dstIndex+count], s.entries[srcIndex:srcIndex+count])
	copy(h.written[dstIndex:dstIndex+count], s.written[srcIndex:srcIndex+count])
}

func (h *DescriptorHeap) CPUHandle(index uint32) uint64 {
	return h.cpuBase + uint64(index)*handleStride
}

func (h *DescriptorHeap) GPUHandle(index uint32) uint64 {
	if !h.shaderVisible {
		return 0
	}
	return h.gpuBase + uint64(index)*handleStride
}

// Descriptor returns the descriptor at index and whether it was written.
func (h *DescriptorHeap) Descriptor(index uint32) (native.Descriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[index], h.written[index]
}

// IndexOfGPUHandle maps a GPU handle back to a descriptor index.
func (h *DescriptorHeap) IndexOfGPUHandle(handle uint64) (uint32, bool) {
	if !h.shaderVisible || handle < h.gpuBase {
		return 0, false
	}
	i := (handle - h.gpuBase) / handleStride
	if i >= uint64(len(h.entries)) {
		return 0, false
	}
	return uint32(i), true
}

func (h *DescriptorHeap) Destroy() { h.be.live.Add(-1) }

// RootSignature keeps the description it was created from.
type RootSignature struct {
	be   *Backend
	Desc native.RootSignatureDesc
}

func (r *RootSignature) Destroy() { r.be.live.Add(-1) }

// Pipeline keeps its description and the identifiers of its exports.
type Pipeline struct {
	be      *Backend
	Desc    native.PipelineDesc
	exports map[string][]byte
}

func (p *Pipeline) Kind() native.PipelineKind { return p.Desc.Kind }

func (p *Pipeline) ShaderIdentifier(exportName string) []byte {
	if id, ok := p.exports[exportName]; ok {
		return slices.Clone(id)
	}
	return nil
}

func (p *Pipeline) Destroy() { p.be.live.Add(-1) }

// QueryHeap stores timestamps written at execution time.
type QueryHeap struct {
	be         *Backend
	mu         sync.Mutex
	timestamps []uint64
}

func (q *QueryHeap) Destroy() { q.be.live.Add(-1) }
