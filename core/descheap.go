// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package core

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// invalidDescriptorIndex is returned by allocate on failure.
const invalidDescriptorIndex = ^uint32(0)

// descriptorHeap hands out runs of descriptor slots from a native heap that
// grows on demand. Heaps bound to shaders keep a shader-visible copy; views
// are written to the CPU heap and copied over.
type descriptorHeap struct {
	mu      sync.Mutex
	be      native.Backend
	msg     rhi.Messages
	kind    native.DescriptorHeapKind
	visible bool

	cpu    native.DescriptorHeap
	shader native.DescriptorHeap
	// retired heaps may still be bound by command buffers in flight.
	retired []native.DescriptorHeap

	allocated    []bool
	searchStart  uint32
	numAllocated uint32
}

func newDescriptorHeap(be native.Backend, msg rhi.Messages, kind native.DescriptorHeapKind, capacity uint32, shaderVisible bool) (*descriptorHeap, error) {
	h := &descriptorHeap{be: be, msg: msg, kind: kind, visible: shaderVisible}
	if err := h.allocateResources(capacity); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *descriptorHeap) allocateResources(capacity uint32) error {
	cpu, err := h.be.CreateDescriptorHeap(h.kind, capacity, false)
	if err != nil {
		return fmt.Errorf("core: create %s heap: %w", h.kind, err)
	}
	var shader native.DescriptorHeap
	if h.visible {
		shader, err = h.be.CreateDescriptorHeap(h.kind, capacity, true)
		if err != nil {
			cpu.Destroy()
			return fmt.Errorf("core: create shader-visible %s heap: %w", h.kind, err)
		}
	}
	h.cpu = cpu
	h.shader = shader
	h.allocated = make([]bool, capacity)
	return nil
}

func (h *descriptorHeap) grow(minCapacity uint32) error {
	oldCapacity := uint32(len(h.allocated))
	newCapacity := nextPowerOfTwo(minCapacity)

	oldCPU, oldShader := h.cpu, h.shader
	oldAllocated := h.allocated

	if err := h.allocateResources(newCapacity); err != nil {
		h.cpu, h.shader, h.allocated = oldCPU, oldShader, oldAllocated
		return err
	}
	copy(h.allocated, oldAllocated)

	h.cpu.CopyFrom(oldCPU, 0, 0, oldCapacity)
	if h.shader != nil {
		h.shader.CopyFrom(oldShader, 0, 0, oldCapacity)
		h.retired = append(h.retired, oldShader)
	}
	oldCPU.Destroy()

	rhi.Logger().Debug("descriptor heap grown", "kind", h.kind.String(), "from", oldCapacity, "to", newCapacity)
	return nil
}

// allocate reserves n consecutive slots and returns the first one, or
// invalidDescriptorIndex after reporting an error.
func (h *descriptorHeap) allocate(n uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n == 0 {
		return 0
	}

	capacity := uint32(len(h.allocated))
	base, found := h.findFree(h.searchStart, n)
	if !found && h.searchStart > 0 {
		base, found = h.findFree(0, n)
	}

	if !found {
		// Reuse the free run at the tail of the heap, then grow past it.
		trailing := uint32(0)
		for i := capacity; i > 0 && !h.allocated[i-1]; i-- {
			trailing++
		}
		base = capacity - trailing
		if err := h.grow(capacity + n); err != nil {
			h.msg.Errorf("Failed to grow a descriptor heap (%s) to hold %d descriptors: %v", h.kind, capacity+n, err)
			return invalidDescriptorIndex
		}
	}

	for i := base; i < base+n; i++ {
		h.allocated[i] = true
	}
	h.numAllocated += n
	h.searchStart = base + n
	return base
}

func (h *descriptorHeap) findFree(start, n uint32) (uint32, bool) {
	free := uint32(0)
	for i := start; i < uint32(len(h.allocated)); i++ {
		if h.allocated[i] {
			free = 0
			continue
		}
		free++
		if free >= n {
			return i - n + 1, true
		}
	}
	return 0, false
}

// release frees n slots starting at base and pulls the search hint back.
func (h *descriptorHeap) release(base, n uint32) {
	if n == 0 || base == invalidDescriptorIndex {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if uint64(base)+uint64(n) > uint64(len(h.allocated)) {
		h.msg.Errorf("Attempted to release descriptors %d..%d beyond the %d slots of a %s heap", base, uint64(base)+uint64(n)-1, len(h.allocated), h.kind)
		return
	}
	for i := base; i < base+n; i++ {
		if !h.allocated[i] {
			h.msg.Errorf("Attempted to release an unallocated descriptor %d of a %s heap", i, h.kind)
			continue
		}
		h.allocated[i] = false
		h.numAllocated--
	}
	if h.searchStart > base {
		h.searchStart = base
	}
}

// write stores a view in the CPU heap. Call copyToShaderVisible once a
// table is complete.
func (h *descriptorHeap) write(index uint32, d *native.Descriptor) {
	h.mu.Lock()
	h.cpu.Write(index, d)
	h.mu.Unlock()
}

func (h *descriptorHeap) copyToShaderVisible(base, n uint32) {
	if h.shader == nil || n == 0 {
		return
	}
	h.mu.Lock()
	h.shader.CopyFrom(h.cpu, base, base, n)
	h.mu.Unlock()
}

// copyWithin moves n descriptors inside the heap, used when a descriptor
// table is resized.
func (h *descriptorHeap) copyWithin(src, dst, n uint32) {
	if n == 0 {
		return
	}
	h.mu.Lock()
	h.cpu.CopyFrom(h.cpu, src, dst, n)
	if h.shader != nil {
		h.shader.CopyFrom(h.cpu, dst, dst, n)
	}
	h.mu.Unlock()
}

func (h *descriptorHeap) cpuHandle(index uint32) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cpu.CPUHandle(index)
}

func (h *descriptorHeap) gpuHandle(index uint32) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shader == nil {
		return 0
	}
	return h.shader.GPUHandle(index)
}

// shaderVisibleHeap returns the heap command lists bind. It changes when
// the heap grows.
func (h *descriptorHeap) shaderVisibleHeap() native.DescriptorHeap {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shader
}

func (h *descriptorHeap) capacity() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return uint32(len(h.allocated))
}

func (h *descriptorHeap) destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.retired {
		r.Destroy()
	}
	h.retired = nil
	if h.shader != nil {
		h.shader.Destroy()
	}
	if h.cpu != nil {
		h.cpu.Destroy()
	}
	h.cpu, h.shader = nil, nil
}

func nextPowerOfTwo(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}
