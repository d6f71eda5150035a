package sim

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/native"
)

func submit(t *testing.T, be *Backend, record func(cb native.CommandBuffer)) native.Semaphore {
	t.Helper()
	cb, err := be.CreateCommandBuffer(rhi.QueueGraphics)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	record(cb)
	require.NoError(t, cb.End())
	sem, err := be.CreateTimelineSemaphore()
	require.NoError(t, err)
	err = be.Queue(rhi.QueueGraphics).Submit([]native.CommandBuffer{cb}, nil, []native.SemaphoreValue{{Semaphore: sem, Value: 1}})
	require.NoError(t, err)
	return sem
}

func TestRegistered(t *testing.T) {
	assert.True(t, backend.IsRegistered(backend.BackendSim))
	be, err := backend.Open(backend.BackendSim)
	require.NoError(t, err)
	assert.Equal(t, rhi.GraphicsAPID3D12, be.API())
}

func TestOptions(t *testing.T) {
	be := New(WithAPI(rhi.GraphicsAPIVulkan), WithoutQueue(rhi.QueueCopy), WithoutFeatures(rhi.FeatureMeshlets))
	assert.Equal(t, VulkanLimits, be.Limits())
	assert.Nil(t, be.Queue(rhi.QueueCopy))
	assert.NotNil(t, be.Queue(rhi.QueueCompute))
	assert.False(t, be.FeatureSupported(rhi.FeatureMeshlets))
	assert.True(t, be.FeatureSupported(rhi.FeatureRayTracingPipeline))

	// The graphics queue cannot be removed.
	be = New(WithoutQueue(rhi.QueueGraphics))
	assert.NotNil(t, be.Queue(rhi.QueueGraphics))
}

func TestBufferAddressesDoNotOverlap(t *testing.T) {
	be := New()
	a, err := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 100})
	require.NoError(t, err)
	b, err := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 100})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.GPUAddress(), a.GPUAddress()+100)
	assert.Zero(t, a.GPUAddress()%256)
	assert.EqualValues(t, 2, be.Live())

	a.Destroy()
	b.Destroy()
	assert.Zero(t, be.Live())
}

func TestVirtualBufferBindsIntoHeap(t *testing.T) {
	be := New()
	h, err := be.CreateHeap(&rhi.HeapDesc{Capacity: 4096})
	require.NoError(t, err)
	buf, err := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 256, IsVirtual: true})
	require.NoError(t, err)
	assert.Zero(t, buf.GPUAddress())

	_, err = buf.Map()
	assert.Error(t, err)

	require.NoError(t, buf.BindMemory(h, 512))
	assert.Equal(t, h.(*Heap).address+512, buf.GPUAddress())
	assert.Error(t, buf.BindMemory(h, 4000))
}

func TestCopyAndClearExecuteOnSubmit(t *testing.T) {
	be := New()
	src, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 16, CPUAccess: rhi.CPUAccessWrite})
	dst, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 16})
	data, err := src.Map()
	require.NoError(t, err)
	copy(data, "0123456789abcdef")

	var cb native.CommandBuffer
	sem := submit(t, be, func(c native.CommandBuffer) {
		cb = c
		c.CopyBuffer(dst, 4, src, 0, 8)
		c.ClearBufferUInt(src, 0x01010101)
	})
	assert.Equal(t, "\x00\x00\x00\x0001234567\x00\x00\x00\x00", string(dst.(*Buffer).Bytes()))
	assert.Equal(t, []byte{1, 1, 1, 1}, src.(*Buffer).Bytes()[:4])
	assert.EqualValues(t, 1, sem.CompletedValue())

	cmds := cb.(*CommandBuffer).Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, OpCopyBuffer, cmds[0].Op)
	assert.Equal(t, "ClearBufferUInt", cmds[1].Op.String())
	assert.Len(t, be.Submissions(), 1)
	assert.Equal(t, cmds, be.LastSubmission())
}

func TestTextureRoundTripThroughBuffer(t *testing.T) {
	be := New()
	desc := rhi.TextureDesc{Width: 4, Height: 2, Depth: 1, ArraySize: 1, MipLevels: 1, Format: rhi.FormatRGBA8Unorm, Dimension: rhi.TextureDimension2D}
	tex, err := be.CreateTexture(&desc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tex.(*Texture).Desc.SampleCount, "sample count defaults to 1")

	// Rows padded to 32 bytes in the buffer, 16 bytes in the texture.
	layout := native.BufferLayout{Offset: 64, RowPitch: 32, DepthPitch: 64}
	up, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 128, CPUAccess: rhi.CPUAccessWrite})
	data, _ := up.Map()
	for i := range 16 {
		data[64+i] = byte(i)
		data[96+i] = byte(100 + i)
	}
	down, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 128, CPUAccess: rhi.CPUAccessRead})

	submit(t, be, func(c native.CommandBuffer) {
		c.CopyBufferToTexture(tex, rhi.EntireSlice(0, 0), up, layout)
		c.CopyTextureToBuffer(down, native.BufferLayout{RowPitch: 16, DepthPitch: 32}, tex, rhi.EntireSlice(0, 0))
	})

	sub := tex.(*Texture).Subresource(0, 0)
	assert.Equal(t, byte(5), sub[5])
	assert.Equal(t, byte(100), sub[16])
	assert.Equal(t, sub, down.(*Buffer).Bytes()[:32])
}

func TestClearTextureFloatRecordsColor(t *testing.T) {
	be := New()
	desc := rhi.TextureDesc{Width: 2, Height: 2, Depth: 1, ArraySize: 2, MipLevels: 2, Format: rhi.FormatRGBA32Float, Dimension: rhi.TextureDimension2DArray}
	tex, err := be.CreateTexture(&desc)
	require.NoError(t, err)
	red := rhi.Color{R: 1, A: 1}
	submit(t, be, func(c native.CommandBuffer) {
		c.ClearTextureFloat(tex, rhi.Subresource(1, 1), red)
	})

	st := tex.(*Texture)
	_, ok := st.ClearColor(0, 0)
	assert.False(t, ok)
	c, ok := st.ClearColor(1, 1)
	assert.True(t, ok)
	assert.Equal(t, red, c)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(st.Subresource(1, 1))))
}

func TestClearTextureFloatEncodesUnorm(t *testing.T) {
	be := New()
	rgba, err := be.CreateTexture(&rhi.TextureDesc{Width: 2, Height: 1, Depth: 1, ArraySize: 1, MipLevels: 1, Format: rhi.FormatRGBA8Unorm, Dimension: rhi.TextureDimension2D})
	require.NoError(t, err)
	bgra, err := be.CreateTexture(&rhi.TextureDesc{Width: 2, Height: 1, Depth: 1, ArraySize: 1, MipLevels: 1, Format: rhi.FormatBGRA8Unorm, Dimension: rhi.TextureDimension2D})
	require.NoError(t, err)
	color := rhi.Color{R: 1, G: 0.5, B: -1, A: 2}
	submit(t, be, func(c native.CommandBuffer) {
		c.ClearTextureFloat(rgba, rhi.AllSubresources, color)
		c.ClearTextureFloat(bgra, rhi.AllSubresources, color)
	})

	assert.Equal(t, []byte{255, 128, 0, 255, 255, 128, 0, 255}, rgba.(*Texture).Subresource(0, 0))
	assert.Equal(t, []byte{0, 128, 255, 255, 0, 128, 255, 255}, bgra.(*Texture).Subresource(0, 0))
}

func TestDescriptorHeapHandles(t *testing.T) {
	be := New()
	cpu, _ := be.CreateDescriptorHeap(native.HeapShaderResourceView, 8, false)
	gpu, _ := be.CreateDescriptorHeap(native.HeapShaderResourceView, 8, true)
	assert.Zero(t, cpu.GPUHandle(3))
	assert.Equal(t, gpu.GPUHandle(0)+3*handleStride, gpu.GPUHandle(3))
	assert.NotEqual(t, cpu.CPUHandle(0), gpu.CPUHandle(0))

	cpu.Write(2, &native.Descriptor{Kind: native.ViewCBV})
	gpu.CopyFrom(cpu, 2, 5, 1)
	d, ok := gpu.(*DescriptorHeap).Descriptor(5)
	assert.True(t, ok)
	assert.Equal(t, native.ViewCBV, d.Kind)

	i, ok := gpu.(*DescriptorHeap).IndexOfGPUHandle(gpu.GPUHandle(5))
	assert.True(t, ok)
	assert.EqualValues(t, 5, i)
}

func TestShaderIdentifiers(t *testing.T) {
	be := New()
	rs, _ := be.CreateRootSignature(&native.RootSignatureDesc{})
	p, err := be.CreatePipeline(&native.PipelineDesc{
		Kind:          native.PipelineRayTracing,
		RootSignature: rs,
		Stages:        []native.ShaderStage{{ExportName: "RayGen"}},
		HitGroups:     []native.HitGroup{{ExportName: "Hit"}},
	})
	require.NoError(t, err)
	id := p.ShaderIdentifier("RayGen")
	assert.Len(t, id, int(D3D12Limits.ShaderIdentifierSize))
	assert.Equal(t, id, p.ShaderIdentifier("RayGen"))
	assert.NotEqual(t, id, p.ShaderIdentifier("Hit"))
	assert.Nil(t, p.ShaderIdentifier("Missing"))
}

func TestManualCompletion(t *testing.T) {
	be := New(WithManualCompletion())
	sem := submit(t, be, func(native.CommandBuffer) {})
	assert.Zero(t, sem.CompletedValue())

	ok, err := sem.Wait(1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	done := make(chan bool)
	go func() {
		ok, _ := sem.Wait(1, native.WaitForever)
		done <- ok
	}()
	be.Complete()
	assert.True(t, <-done)
}

func TestDeviceRemoved(t *testing.T) {
	be := New()
	be.SetDeviceRemoved(true)
	cb, _ := be.CreateCommandBuffer(rhi.QueueGraphics)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	err := be.Queue(rhi.QueueGraphics).Submit([]native.CommandBuffer{cb}, nil, nil)
	assert.True(t, errors.Is(err, rhi.ErrDeviceRemoved))
}

func TestCompactedSizeWrittenOnBuild(t *testing.T) {
	be := New()
	out, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 16, CPUAccess: rhi.CPUAccessRead})
	inputs := native.AccelStructInputs{IsTopLevel: true, NumInstances: 10}
	submit(t, be, func(c native.CommandBuffer) {
		c.BuildAccelStruct(&native.AccelStructBuild{Inputs: inputs, CompactedSize: out, CompactedSizeOffset: 8})
	})
	got := binary.LittleEndian.Uint64(out.(*Buffer).Bytes()[8:])
	assert.Equal(t, be.compactedSize(&inputs), got)
	assert.Less(t, got, be.AccelStructPrebuildInfo(&inputs).ResultSize)
}

func TestTimestampsResolve(t *testing.T) {
	be := New()
	qh, err := be.CreateQueryHeap(2)
	require.NoError(t, err)
	out, _ := be.CreateBuffer(&rhi.BufferDesc{ByteSize: 16, CPUAccess: rhi.CPUAccessRead})
	submit(t, be, func(c native.CommandBuffer) {
		c.WriteTimestamp(qh, 0)
		c.WriteTimestamp(qh, 1)
		c.ResolveQueries(qh, 0, 2, out, 0)
	})
	b := out.(*Buffer).Bytes()
	assert.EqualValues(t, timestampStep, binary.LittleEndian.Uint64(b[8:])-binary.LittleEndian.Uint64(b[:8]))
}

func TestUnbalancedMarkersFailEnd(t *testing.T) {
	be := New()
	cb, _ := be.CreateCommandBuffer(rhi.QueueGraphics)
	require.NoError(t, cb.Begin())
	cb.BeginMarker("frame")
	assert.Error(t, cb.End())
	cb.EndMarker()
	assert.NoError(t, cb.End())
}
