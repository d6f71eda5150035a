// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package core

import (
	"fmt"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// chunkSizeAlignment rounds every chunk allocation.
const chunkSizeAlignment = 4096

// bufferChunk is one native buffer that a suballocator carves linearly.
type bufferChunk struct {
	buffer       native.Buffer
	version      version
	size         uint64
	writePointer uint64
	cpu          []byte
	gpuAddress   uint64
}

// allocation is a piece of a chunk.
type allocation struct {
	buffer     native.Buffer
	offset     uint64
	cpu        []byte
	gpuAddress uint64
}

// uploadManager is the versioned suballocator behind upload and scratch
// memory of a command list. A chunk in the pool becomes reusable once the
// instance that last used it has completed on the GPU.
type uploadManager struct {
	be               native.Backend
	defaultChunkSize uint64
	// memoryLimit caps the total size of chunks; zero means unbounded.
	memoryLimit uint64
	scratch     bool
	// completed returns the last completed instance of the owning queue.
	completed func() uint64

	current         *bufferChunk
	pool            []*bufferChunk
	allocatedMemory uint64
}

func newUploadManager(be native.Backend, chunkSize uint64, completed func() uint64) *uploadManager {
	return &uploadManager{
		be:               be,
		defaultChunkSize: chunkSize,
		completed:        completed,
	}
}

func newScratchManager(be native.Backend, chunkSize, maxMemory uint64, completed func() uint64) *uploadManager {
	return &uploadManager{
		be:               be,
		defaultChunkSize: chunkSize,
		memoryLimit:      maxMemory,
		scratch:          true,
		completed:        completed,
	}
}

func (m *uploadManager) createChunk(size uint64) (*bufferChunk, error) {
	desc := &rhi.BufferDesc{ByteSize: size}
	if m.scratch {
		desc.DebugName = "ScratchBufferChunk"
		desc.CanHaveUAVs = true
		desc.IsAccelStructBuildInput = true
		desc.InitialState = rhi.ResourceStateUnorderedAccess
		desc.KeepInitialState = true
	} else {
		desc.DebugName = "UploadChunk"
		desc.CPUAccess = rhi.CPUAccessWrite
		desc.InitialState = rhi.ResourceStateGenericRead
		desc.KeepInitialState = true
	}

	buf, err := m.be.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("core: create %s: %w", desc.DebugName, err)
	}
	chunk := &bufferChunk{buffer: buf, size: size, gpuAddress: buf.GPUAddress()}
	if !m.scratch {
		cpu, err := buf.Map()
		if err != nil {
			buf.Destroy()
			return nil, fmt.Errorf("core: map upload chunk: %w", err)
		}
		chunk.cpu = cpu
	}
	m.allocatedMemory += size
	return chunk, nil
}

// suballocate returns size bytes aligned to alignment that cmd may use
// until currentVersion completes. Scratch reuse of a chunk that is still in
// flight is ordered with a UAV barrier recorded into cmd.
func (m *uploadManager) suballocate(size, alignment uint64, currentVersion version, cmd native.CommandBuffer) (allocation, error) {
	var retire *bufferChunk

	if m.current != nil {
		offset := rhi.AlignUp(m.current.writePointer, alignment)
		end := offset + size
		if end <= m.current.size {
			m.current.writePointer = end
			return m.current.slice(offset, size), nil
		}
		retire = m.current
		m.current = nil
	}

	completed := m.completed()
	for i, chunk := range m.pool {
		if chunk.version.completedBy(completed) {
			chunk.version = versionFree
		}
		if chunk.version == versionFree && chunk.size >= size {
			m.pool = append(m.pool[:i], m.pool[i+1:]...)
			m.current = chunk
			break
		}
	}

	if retire != nil {
		m.pool = append(m.pool, retire)
	}

	if m.current == nil {
		allocSize := rhi.AlignUp(max(size, m.defaultChunkSize), chunkSizeAlignment)

		if m.memoryLimit > 0 && m.allocatedMemory+allocSize > m.memoryLimit {
			if !m.scratch {
				return allocation{}, fmt.Errorf("%w: upload memory limit of %d bytes reached", rhi.ErrReservationFailed, m.memoryLimit)
			}
			best := m.bestReusableChunk(size)
			if best < 0 {
				return allocation{}, fmt.Errorf("%w: scratch memory limit of %d bytes reached and no chunk can be reused", rhi.ErrReservationFailed, m.memoryLimit)
			}
			m.current = m.pool[best]
			m.pool = append(m.pool[:best], m.pool[best+1:]...)

			if cmd != nil {
				cmd.Barriers(nil, []native.BufferBarrier{{
					Buffer:      m.current.buffer,
					StateBefore: rhi.ResourceStateUnorderedAccess,
					StateAfter:  rhi.ResourceStateUnorderedAccess,
				}})
			}
		} else {
			chunk, err := m.createChunk(allocSize)
			if err != nil {
				return allocation{}, err
			}
			m.current = chunk
		}
	}

	m.current.version = currentVersion
	m.current.writePointer = size
	return m.current.slice(0, size), nil
}

// bestReusableChunk picks the pool chunk a scratch allocation steals when
// memory is exhausted: submitted before recording, then oldest, then
// largest.
func (m *uploadManager) bestReusableChunk(size uint64) int {
	best := -1
	for i, c := range m.pool {
		if c.size < size {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := m.pool[best]
		cs, bs := c.version.submitted(), b.version.submitted()
		ci, bi := c.version.instance(), b.version.instance()
		if (cs && !bs) ||
			(cs == bs && ci < bi) ||
			(cs == bs && ci == bi && c.size > b.size) {
			best = i
		}
	}
	return best
}

// submitChunks moves the current chunk to the pool and restamps every chunk
// written by the instance being submitted.
func (m *uploadManager) submitChunks(current, submitted version) {
	if m.current != nil {
		m.pool = append(m.pool, m.current)
		m.current = nil
	}
	for _, c := range m.pool {
		if c.version == current {
			c.version = submitted
		}
	}
}

// discard frees chunks written by a recording that will never execute.
func (m *uploadManager) discard(current version) {
	if m.current != nil {
		m.pool = append(m.pool, m.current)
		m.current = nil
	}
	for _, c := range m.pool {
		if c.version == current {
			c.version = versionFree
		}
	}
}

// takeChunks detaches every chunk, leaving the manager empty.
func (m *uploadManager) takeChunks() []*bufferChunk {
	chunks := m.pool
	if m.current != nil {
		chunks = append(chunks, m.current)
	}
	m.pool = nil
	m.current = nil
	m.allocatedMemory = 0
	return chunks
}

func (c *bufferChunk) slice(offset, size uint64) allocation {
	a := allocation{
		buffer:     c.buffer,
		offset:     offset,
		gpuAddress: c.gpuAddress + offset,
	}
	if c.cpu != nil {
		a.cpu = c.cpu[offset : offset+size]
	}
	return a
}

func (c *bufferChunk) destroy() {
	if c.cpu != nil {
		c.buffer.Unmap()
		c.cpu = nil
	}
	c.buffer.Destroy()
}
