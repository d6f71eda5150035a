package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/native"
)

func newTestHeap(t *testing.T, capacity uint32) (*descriptorHeap, *sim.Backend) {
	t.Helper()
	be := sim.New()
	h, err := newDescriptorHeap(be, rhi.Messages{}, native.HeapShaderResourceView, capacity, true)
	require.NoError(t, err)
	t.Cleanup(h.destroy)
	return h, be
}

func TestNextPowerOfTwo(t *testing.T) {
	for in, want := range map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 7: 8, 8: 8, 1000: 1024} {
		assert.Equal(t, want, nextPowerOfTwo(in), "nextPowerOfTwo(%d)", in)
	}
}

func TestDescriptorHeapAllocateRelease(t *testing.T) {
	h, _ := newTestHeap(t, 16)

	a := h.allocate(4)
	b := h.allocate(4)
	assert.EqualValues(t, 0, a)
	assert.EqualValues(t, 4, b)

	h.release(a, 4)
	assert.EqualValues(t, 0, h.allocate(2))
	assert.EqualValues(t, 2, h.allocate(2))
	assert.EqualValues(t, 8, h.allocate(8))
	assert.EqualValues(t, 16, h.capacity())
}

// A heap of four descriptors with a hole in the middle grows past its free
// tail instead of overlapping the hole.
func TestDescriptorHeapGrowsOverFreeTail(t *testing.T) {
	h, _ := newTestHeap(t, 4)

	require.EqualValues(t, 0, h.allocate(3))
	h.release(1, 1)

	base := h.allocate(3)
	assert.EqualValues(t, 3, base)
	assert.EqualValues(t, 8, h.capacity())
	assert.False(t, h.allocated[1])
	for i := uint32(3); i < 6; i++ {
		assert.True(t, h.allocated[i])
	}
	assert.EqualValues(t, 5, h.numAllocated)
}

func TestDescriptorHeapGrowthKeepsDescriptors(t *testing.T) {
	h, _ := newTestHeap(t, 2)

	base := h.allocate(2)
	h.write(base+1, &native.Descriptor{Kind: native.ViewUAV, Format: rhi.FormatR32Float})
	h.copyToShaderVisible(base, 2)
	oldShader := h.shaderVisibleHeap()

	h.allocate(5)
	require.NotSame(t, oldShader, h.shaderVisibleHeap())

	d, ok := h.shaderVisibleHeap().(*sim.DescriptorHeap).Descriptor(1)
	assert.True(t, ok)
	assert.Equal(t, native.ViewUAV, d.Kind)
	assert.Equal(t, rhi.FormatR32Float, d.Format)

	// The old shader-visible heap stays alive for command buffers in flight.
	assert.Len(t, h.retired, 1)
}

func TestDescriptorHeapHandles(t *testing.T) {
	h, _ := newTestHeap(t, 8)
	i := h.allocate(1)
	assert.NotZero(t, h.gpuHandle(i))
	assert.NotZero(t, h.cpuHandle(i))

	be := sim.New()
	rtv, err := newDescriptorHeap(be, rhi.Messages{}, native.HeapRenderTargetView, 8, false)
	require.NoError(t, err)
	defer rtv.destroy()
	assert.Zero(t, rtv.gpuHandle(0))
	assert.Nil(t, rtv.shaderVisibleHeap())
}

func TestDescriptorHeapDoubleReleaseIsReported(t *testing.T) {
	rec := &recorder{}
	h, err := newDescriptorHeap(sim.New(), rhi.Messages{Callback: rec}, native.HeapSampler, 4, true)
	require.NoError(t, err)
	defer h.destroy()

	i := h.allocate(1)
	h.release(i, 1)
	h.release(i, 1)
	assert.True(t, rec.contains("unallocated descriptor"))
}

func TestDescriptorHeapReleaseOutOfRangeIsReported(t *testing.T) {
	rec := &recorder{}
	h, err := newDescriptorHeap(sim.New(), rhi.Messages{Callback: rec}, native.HeapSampler, 4, true)
	require.NoError(t, err)
	defer h.destroy()

	i := h.allocate(2)
	assert.NotPanics(t, func() { h.release(i+3, 2) })
	assert.True(t, rec.contains("beyond the"))

	h.release(i, 2)
	h.release(i, 2)
	assert.Zero(t, h.numAllocated)
}
