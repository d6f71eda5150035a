package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/native"
)

func TestVersionFields(t *testing.T) {
	v := makeVersion(42, rhi.QueueCopy, false)
	assert.EqualValues(t, 42, v.instance())
	assert.Equal(t, rhi.QueueCopy, v.queue())
	assert.False(t, v.submitted())
	assert.False(t, v.completedBy(100))

	s := makeVersion(42, rhi.QueueCopy, true)
	assert.True(t, s.submitted())
	assert.NotEqual(t, v, s)
	assert.True(t, s.completedBy(42))
	assert.False(t, s.completedBy(41))
	assert.False(t, versionFree.submitted())
}

// completion is a settable last-completed instance.
type completion struct{ last uint64 }

func (c *completion) get() uint64 { return c.last }

func TestChunkBufferDescriptors(t *testing.T) {
	be := sim.New()
	done := &completion{}
	rec := makeVersion(1, rhi.QueueGraphics, false)

	up, err := newUploadManager(be, 4096, done.get).suballocate(64, 256, rec, nil)
	require.NoError(t, err)
	desc := up.buffer.(*sim.Buffer).Desc
	assert.Equal(t, rhi.CPUAccessWrite, desc.CPUAccess)
	assert.Equal(t, rhi.ResourceStateGenericRead, desc.InitialState)
	assert.True(t, desc.InitialState.Has(rhi.ResourceStateCopySource|rhi.ResourceStateConstantBuffer))
	assert.False(t, desc.InitialState.Has(rhi.ResourceStateUnorderedAccess))
	assert.True(t, desc.KeepInitialState)

	scratch, err := newScratchManager(be, 4096, 1<<20, done.get).suballocate(64, 256, rec, nil)
	require.NoError(t, err)
	desc = scratch.buffer.(*sim.Buffer).Desc
	assert.Equal(t, rhi.ResourceStateUnorderedAccess, desc.InitialState)
	assert.True(t, desc.CanHaveUAVs)
}

func TestUploadChunksAreReusedOnlyAfterCompletion(t *testing.T) {
	be := sim.New()
	done := &completion{}
	m := newUploadManager(be, 4096, done.get)

	rec1 := makeVersion(1, rhi.QueueGraphics, false)
	a, err := m.suballocate(3000, 256, rec1, nil)
	require.NoError(t, err)
	b, err := m.suballocate(3000, 256, rec1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.buffer, b.buffer, "the second allocation does not fit the first chunk")
	assert.EqualValues(t, 8192, m.allocatedMemory)

	sub1 := makeVersion(1, rhi.QueueGraphics, true)
	m.submitChunks(rec1, sub1)
	for _, c := range m.pool {
		assert.Equal(t, sub1, c.version)
	}

	// Instance 1 still runs: a third chunk is created.
	rec2 := makeVersion(2, rhi.QueueGraphics, false)
	c, err := m.suballocate(100, 256, rec2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.buffer, c.buffer)
	assert.NotEqual(t, b.buffer, c.buffer)
	assert.EqualValues(t, 3*4096, m.allocatedMemory)
	m.submitChunks(rec2, makeVersion(2, rhi.QueueGraphics, true))

	done.last = 1
	rec3 := makeVersion(3, rhi.QueueGraphics, false)
	d, err := m.suballocate(100, 256, rec3, nil)
	require.NoError(t, err)
	assert.True(t, d.buffer == a.buffer || d.buffer == b.buffer)
	assert.EqualValues(t, 3*4096, m.allocatedMemory)
}

func TestUploadSuballocationIsAlignedAndWritable(t *testing.T) {
	m := newUploadManager(sim.New(), 4096, func() uint64 { return 0 })
	rec := makeVersion(1, rhi.QueueGraphics, false)

	a, err := m.suballocate(10, 256, rec, nil)
	require.NoError(t, err)
	b, err := m.suballocate(10, 256, rec, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, a.offset)
	assert.EqualValues(t, 256, b.offset)
	assert.Equal(t, a.gpuAddress+256, b.gpuAddress)

	copy(b.cpu, "payload")
	assert.Equal(t, "payload", string(b.buffer.(*sim.Buffer).Bytes()[256:263]))
}

func TestDiscardFreesChunks(t *testing.T) {
	m := newUploadManager(sim.New(), 4096, func() uint64 { return 0 })
	rec := makeVersion(1, rhi.QueueGraphics, false)
	a, err := m.suballocate(4000, 16, rec, nil)
	require.NoError(t, err)

	m.discard(rec)
	b, err := m.suballocate(4000, 16, makeVersion(2, rhi.QueueGraphics, false), nil)
	require.NoError(t, err)
	assert.Equal(t, a.buffer, b.buffer)
}

func TestScratchReuseUnderMemoryLimit(t *testing.T) {
	be := sim.New()
	m := newScratchManager(be, 4096, 8192, func() uint64 { return 0 })

	rec1 := makeVersion(1, rhi.QueueCompute, false)
	a, err := m.suballocate(4096, 256, rec1, nil)
	require.NoError(t, err)
	_, err = m.suballocate(4096, 256, rec1, nil)
	require.NoError(t, err)
	m.submitChunks(rec1, makeVersion(1, rhi.QueueCompute, true))

	cb, err := be.CreateCommandBuffer(rhi.QueueCompute)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())

	// Nothing completed and the cap is reached: the oldest chunk is reused
	// behind a UAV barrier.
	c, err := m.suballocate(1024, 256, makeVersion(2, rhi.QueueCompute, false), cb)
	require.NoError(t, err)
	assert.Equal(t, a.buffer, c.buffer)
	assert.EqualValues(t, 8192, m.allocatedMemory)

	cmds := cb.(*sim.CommandBuffer).Commands()
	require.Len(t, cmds, 1)
	require.Len(t, cmds[0].BufferBarriers, 1)
	assert.Equal(t, native.BufferBarrier{
		Buffer:      a.buffer,
		StateBefore: rhi.ResourceStateUnorderedAccess,
		StateAfter:  rhi.ResourceStateUnorderedAccess,
	}, cmds[0].BufferBarriers[0])

	_, err = m.suballocate(16384, 256, makeVersion(2, rhi.QueueCompute, false), cb)
	assert.True(t, errors.Is(err, rhi.ErrReservationFailed))
}

func TestBestReusableChunkOrder(t *testing.T) {
	m := &uploadManager{}
	m.pool = []*bufferChunk{
		{size: 4096, version: makeVersion(5, rhi.QueueGraphics, true)},
		{size: 4096, version: makeVersion(3, rhi.QueueGraphics, false)},
		{size: 4096, version: makeVersion(2, rhi.QueueGraphics, true)},
		{size: 8192, version: makeVersion(2, rhi.QueueGraphics, true)},
		{size: 512, version: makeVersion(1, rhi.QueueGraphics, true)},
	}
	assert.Equal(t, 3, m.bestReusableChunk(1024))
	assert.Equal(t, -1, m.bestReusableChunk(16384))
}
