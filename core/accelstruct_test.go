package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
)

func vertexBuffer(t *testing.T, dev *Device, vertices uint32) rhi.Buffer {
	t.Helper()
	b, err := dev.CreateBuffer(rhi.BufferDesc{
		ByteSize:                uint64(vertices) * 12,
		DebugName:               "vertices",
		IsAccelStructBuildInput: true,
		InitialState:            rhi.ResourceStateAccelStructBuildInput,
		KeepInitialState:        true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Release() })
	return b
}

func triangles(vb rhi.Buffer, vertices uint32) rhi.GeometryDesc {
	return rhi.GeometryDesc{
		Type: rhi.GeometryTypeTriangles,
		Triangles: rhi.GeometryTriangles{
			VertexBuffer: vb,
			VertexFormat: rhi.FormatRGB32Float,
			VertexCount:  vertices,
			VertexStride: 12,
		},
	}
}

func createBLAS(t *testing.T, dev *Device, flags rhi.AccelStructBuildFlags, geometries ...rhi.GeometryDesc) *accelStruct {
	t.Helper()
	as, err := dev.CreateAccelStruct(rhi.AccelStructDesc{
		BottomLevelGeometries: geometries,
		BuildFlags:            flags,
		DebugName:             "blas",
	})
	require.NoError(t, err)
	t.Cleanup(func() { as.Release() })
	return as.(*accelStruct)
}

func countOps(be *sim.Backend, op sim.Op) int {
	n := 0
	for _, c := range be.LastSubmission() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func TestCreateAccelStructRejectsBadFlags(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	_, err := dev.CreateAccelStruct(rhi.AccelStructDesc{
		BuildFlags: rhi.AccelStructBuildAllowUpdate | rhi.AccelStructBuildAllowCompaction,
	})
	assert.ErrorIs(t, err, rhi.ErrCompactionAndUpdate)
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)

	_, err = dev.CreateAccelStruct(rhi.AccelStructDesc{IsTopLevel: true})
	assert.ErrorIs(t, err, rhi.ErrEmptyTopLevelAccelStruct)
}

// Refitting with a changed primitive count is refused before anything
// reaches the GPU.
func TestBLASUpdateRequiresSamePrimitiveCounts(t *testing.T) {
	dev, be, rec := newTestDevice(t)
	vb := vertexBuffer(t, dev, 300)
	geoms := []rhi.GeometryDesc{triangles(vb, 300), triangles(vb, 150)}
	blas := createBLAS(t, dev, rhi.AccelStructBuildAllowUpdate, geoms...)

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, geoms, rhi.AccelStructBuildNone)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	require.Empty(t, rec.errors())
	assert.Equal(t, 1, countOps(be, sim.OpBuildAccelStruct))
	assert.Equal(t, []uint32{100, 50}, blas.primitiveCounts)

	changed := []rhi.GeometryDesc{triangles(vb, 300), triangles(vb, 180)}
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, changed, rhi.AccelStructBuildPerformUpdate)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)

	assert.True(t, rec.contains("geometry 1 has 60 primitives, the last build had 50"))
	assert.Zero(t, countOps(be, sim.OpBuildAccelStruct))

	rec.reset()
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, geoms[:1], rhi.AccelStructBuildPerformUpdate)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	assert.True(t, rec.contains("geometry count changed from 2 to 1"))

	rec.reset()
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, geoms, rhi.AccelStructBuildPerformUpdate)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	assert.Empty(t, rec.errors())
	for _, c := range be.LastSubmission() {
		if c.Op == sim.OpBuildAccelStruct {
			assert.NotNil(t, c.Build.Source, "an update refits in place")
		}
	}
}

func TestBLASUpdateNeedsAllowUpdateAndPriorBuild(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	vb := vertexBuffer(t, dev, 30)
	g := triangles(vb, 30)

	static := createBLAS(t, dev, rhi.AccelStructBuildNone, g)
	refit := createBLAS(t, dev, rhi.AccelStructBuildAllowUpdate, g)

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(static, []rhi.GeometryDesc{g}, rhi.AccelStructBuildPerformUpdate)
	cl.BuildBottomLevelAccelStruct(refit, []rhi.GeometryDesc{g}, rhi.AccelStructBuildPerformUpdate)
	cl.Close()

	assert.True(t, rec.contains("it was not created with AllowUpdate"))
	assert.True(t, rec.contains("it has not been built"))
}

func TestBLASBuildTooLargeForStorage(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	vb := vertexBuffer(t, dev, 3000)
	blas := createBLAS(t, dev, rhi.AccelStructBuildNone, triangles(vb, 30))

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{triangles(vb, 3000)}, rhi.AccelStructBuildNone)
	cl.Close()
	assert.True(t, rec.contains("needs"))
	assert.False(t, blas.built)
}

func TestCompactBottomLevelAccelStructs(t *testing.T) {
	dev, be, rec := newTestDevice(t)
	require.True(t, dev.QueryFeatureSupport(rhi.FeatureAccelStructCompaction))
	vb := vertexBuffer(t, dev, 300)
	g := triangles(vb, 300)
	blas := createBLAS(t, dev, rhi.AccelStructBuildAllowCompaction, g)
	oldSize := blas.data.desc.ByteSize
	require.NotNil(t, blas.sizeReadback)

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{g}, rhi.AccelStructBuildNone)
	// Nothing is known about the compacted size yet.
	cl.CompactBottomLevelAccelStructs()
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	assert.False(t, blas.IsCompacted())

	dev.RunGarbageCollection()
	assert.EqualValues(t, rhi.AlignUp(oldSize/2, 256), blas.compactedSize)

	cl.Open()
	cl.CompactBottomLevelAccelStructs()
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	require.Empty(t, rec.errors())

	require.Equal(t, 1, countOps(be, sim.OpCopyAccelStruct))
	for _, c := range be.LastSubmission() {
		if c.Op == sim.OpCopyAccelStruct {
			assert.True(t, c.Compact)
			assert.Equal(t, blas.data.native, c.Buffer)
		}
	}
	assert.True(t, blas.IsCompacted())
	assert.Equal(t, blas.compactedSize, blas.data.desc.ByteSize)
	assert.Equal(t, blas.data.GPUAddress(), blas.DeviceAddress())

	// Already compacted: a second pass copies nothing.
	dev.RunGarbageCollection()
	cl.Open()
	cl.CompactBottomLevelAccelStructs()
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	assert.Zero(t, countOps(be, sim.OpCopyAccelStruct))
}

func TestCompactionWaitsForExecution(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	vb := vertexBuffer(t, dev, 300)
	g := triangles(vb, 300)
	blas := createBLAS(t, dev, rhi.AccelStructBuildAllowCompaction, g)
	original := blas.data

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{g}, rhi.AccelStructBuildNone)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	dev.RunGarbageCollection()
	require.NotZero(t, blas.compactedSize)

	cl.Open()
	cl.CompactBottomLevelAccelStructs()
	cl.Close()
	assert.False(t, blas.IsCompacted())
	assert.Same(t, original, blas.data)

	// Reopening discards the recorded copy; the BLAS can be compacted again.
	cl.Open()
	assert.False(t, blas.IsCompacted())
	assert.Same(t, original, blas.data)
	cl.CompactBottomLevelAccelStructs()
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)

	assert.True(t, blas.IsCompacted())
	assert.NotSame(t, original, blas.data)
	assert.Equal(t, blas.compactedSize, blas.data.desc.ByteSize)
	assert.Empty(t, rec.errors())
}

func TestBuildTopLevelAccelStruct(t *testing.T) {
	dev, be, rec := newTestDevice(t)
	vb := vertexBuffer(t, dev, 30)
	g := triangles(vb, 30)
	blas := createBLAS(t, dev, rhi.AccelStructBuildNone, g)

	tas, err := dev.CreateAccelStruct(rhi.AccelStructDesc{IsTopLevel: true, TopLevelMaxInstances: 2, TrackLiveness: true})
	require.NoError(t, err)
	defer tas.Release()
	assert.Equal(t, "Unnamed TLAS (MaxInstances=2)", tas.Desc().DebugName)

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{g}, rhi.AccelStructBuildNone)
	cl.BuildTopLevelAccelStruct(tas, []rhi.InstanceDesc{
		{Transform: rhi.IdentityTransform, InstanceMask: 0xFF, BottomLevelAS: blas},
	}, rhi.AccelStructBuildNone)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)
	require.Empty(t, rec.errors())

	var tlasBuild bool
	for _, c := range be.LastSubmission() {
		if c.Op == sim.OpBuildAccelStruct && c.Build.Inputs.IsTopLevel {
			tlasBuild = true
			assert.EqualValues(t, 1, c.Build.Inputs.NumInstances)
		}
	}
	assert.True(t, tlasBuild)

	cl.Open()
	cl.BuildTopLevelAccelStruct(tas, make([]rhi.InstanceDesc, 3), rhi.AccelStructBuildNone)
	cl.BuildTopLevelAccelStruct(blas, nil, rhi.AccelStructBuildNone)
	cl.Close()
	assert.True(t, rec.contains("3 instances exceed the 2"))
	assert.True(t, rec.contains("called on bottom-level acceleration structure"))
}

func TestInstanceEncodingResolvesBLASAddress(t *testing.T) {
	var buf [rhi.InstanceDescSize]byte
	inst := rhi.InstanceDesc{Transform: rhi.IdentityTransform, InstanceID: 5, InstanceMask: 0x80}
	inst.Encode(buf[:], 0xABCD00)
	assert.Equal(t, byte(5), buf[48])
	assert.Equal(t, byte(0x80), buf[51])
	assert.Equal(t, byte(0x00), buf[56])
	assert.Equal(t, byte(0xCD), buf[57])
	assert.Equal(t, byte(0xAB), buf[58])
}
