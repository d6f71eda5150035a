package validation_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/core"
	"github.com/gogpu/rhi/validation"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Message(severity rhi.Severity, text string) {
	if severity < rhi.SeverityError {
		return
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) contains(substr string) bool {
	for _, m := range r.errors() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

func newDevice(t *testing.T) (rhi.Device, *sim.Backend, *recorder) {
	t.Helper()
	rec := &recorder{}
	be := sim.New()
	desc := rhi.DefaultDeviceDesc()
	desc.MessageCallback = rec
	d, err := core.NewDevice(desc, be)
	require.NoError(t, err)
	t.Cleanup(func() { d.Release() })
	return validation.Wrap(d), be, rec
}

func commandList(t *testing.T, dev rhi.Device) rhi.CommandList {
	t.Helper()
	cl, err := dev.CreateCommandList(rhi.CommandListParameters{QueueType: rhi.QueueGraphics})
	require.NoError(t, err)
	t.Cleanup(func() { cl.Release() })
	return cl
}

func texture(t *testing.T, dev rhi.Device, name string, format rhi.Format, mutate func(*rhi.TextureDesc)) rhi.Texture {
	t.Helper()
	desc := rhi.TextureDesc{
		Width:     32,
		Height:    32,
		Format:    format,
		Dimension: rhi.TextureDimension2D,
		DebugName: name,
	}
	if mutate != nil {
		mutate(&desc)
	}
	tex, err := dev.CreateTexture(desc)
	require.NoError(t, err)
	t.Cleanup(func() { tex.Release() })
	return tex
}

func shader(t *testing.T, dev rhi.Device, stage rhi.ShaderType) rhi.Shader {
	t.Helper()
	s, err := dev.CreateShader(rhi.ShaderDesc{ShaderType: stage, EntryName: "main"}, []byte{0x44, 0x58, 0x42, 0x43})
	require.NoError(t, err)
	t.Cleanup(func() { s.Release() })
	return s
}

func layout(t *testing.T, dev rhi.Device, items ...rhi.BindingLayoutItem) rhi.BindingLayout {
	t.Helper()
	l, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Visibility: rhi.ShaderTypeAll, Bindings: items})
	require.NoError(t, err)
	t.Cleanup(func() { l.Release() })
	return l
}

func TestWrapIsIdempotent(t *testing.T) {
	dev, _, _ := newDevice(t)
	assert.Same(t, dev, validation.Wrap(dev))
	_, ok := dev.(*validation.Device).Unwrap().(*core.Device)
	assert.True(t, ok)
}

func TestBindingLayoutSlots(t *testing.T) {
	dev, _, rec := newDevice(t)

	// t0, s0, u0 and b0 live in different register classes.
	layout(t, dev,
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureSRV},
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeSampler},
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureUAV},
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeConstantBuffer},
	)
	assert.Empty(t, rec.errors())

	tests := []struct {
		name  string
		items []rhi.BindingLayoutItem
		want  string
	}{
		{
			name: "duplicate SRV",
			items: []rhi.BindingLayoutItem{
				{Slot: 2, Type: rhi.ResourceTypeTextureSRV},
				{Slot: 2, Type: rhi.ResourceTypeTypedBufferSRV},
			},
			want: "declares SRV slot 2 more than once",
		},
		{
			name: "push constants share constant buffer slots",
			items: []rhi.BindingLayoutItem{
				{Slot: 1, Type: rhi.ResourceTypeConstantBuffer},
				{Slot: 1, Type: rhi.ResourceTypePushConstants, Size: 16},
			},
			want: "declares constant buffer slot 1 more than once",
		},
		{
			name:  "push constant size",
			items: []rhi.BindingLayoutItem{{Slot: 0, Type: rhi.ResourceTypePushConstants, Size: 6}},
			want:  "push-constant size 6",
		},
		{
			name: "two push blocks",
			items: []rhi.BindingLayoutItem{
				{Slot: 0, Type: rhi.ResourceTypePushConstants, Size: 4},
				{Slot: 1, Type: rhi.ResourceTypePushConstants, Size: 4},
			},
			want: "more than one push-constant block",
		},
		{
			name:  "untyped",
			items: []rhi.BindingLayoutItem{{Slot: 3}},
			want:  "slot 3 has no type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.reset()
			_, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Visibility: rhi.ShaderTypeAll, Bindings: tt.items})
			require.ErrorIs(t, err, rhi.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, rec.contains(tt.want))
		})
	}
}

func TestBindingSetAgainstLayout(t *testing.T) {
	dev, _, rec := newDevice(t)
	l := layout(t, dev,
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureSRV},
		rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureUAV},
	)
	plain := texture(t, dev, "plain", rhi.FormatRGBA8Unorm, nil)
	storage := texture(t, dev, "storage", rhi.FormatRGBA8Unorm, func(d *rhi.TextureDesc) { d.IsUAV = true })

	set, err := dev.CreateBindingSet(rhi.NewBindingSetDesc(
		rhi.BindingTextureSRV(0, plain),
		rhi.BindingTextureUAV(0, storage),
	), l)
	require.NoError(t, err)
	set.Release()
	assert.Empty(t, rec.errors())

	_, err = dev.CreateBindingSet(rhi.NewBindingSetDesc(
		rhi.BindingTextureSRV(0, plain),
		rhi.BindingTextureSRV(4, plain),
		rhi.BindingTextureSRV(7, plain),
	), l)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("binds SRV slots the layout does not declare: 4, 7"))

	rec.reset()
	_, err = dev.CreateBindingSet(rhi.NewBindingSetDesc(rhi.BindingTextureUAV(0, plain)), l)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("texture plain bound as a UAV was not created with IsUAV"))

	rec.reset()
	_, err = dev.CreateBindingSet(rhi.NewBindingSetDesc(rhi.BindingTextureSRV(0, plain), rhi.BindingTextureSRV(0, storage)), l)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("binds SRV slot 0 more than once"))
}

func TestBufferAndTextureDescriptions(t *testing.T) {
	dev, _, rec := newDevice(t)

	_, err := dev.CreateTexture(rhi.TextureDesc{
		Width: 8, Height: 8, Format: rhi.FormatD32, Dimension: rhi.TextureDimension2D, IsUAV: true,
	})
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("depth-stencil format D32 cannot have UAVs"))

	_, err = dev.CreateBuffer(rhi.BufferDesc{ByteSize: 64, CPUAccess: rhi.CPUAccessRead, CanHaveUAVs: true})
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("CPU-accessible buffers cannot have UAVs"))

	_, err = dev.CreateStagingTexture(rhi.TextureDesc{
		Width: 8, Height: 8, Format: rhi.FormatRGBA8Unorm, Dimension: rhi.TextureDimension2D,
	}, rhi.CPUAccessNone)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)

	readback, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: 64, CPUAccess: rhi.CPUAccessRead, DebugName: "readback"})
	require.NoError(t, err)
	defer readback.Release()
	_, err = dev.MapBuffer(readback, rhi.CPUAccessWrite)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("buffer readback was created with"))
}

func TestCommandListStateMachine(t *testing.T) {
	dev, _, rec := newDevice(t)
	cl := commandList(t, dev)

	cl.Close()
	assert.True(t, rec.contains("Close called on a command list that is initial"))

	cl.Open()
	_, err := dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "command list 0 is open, not closed")

	cl.Open()
	assert.True(t, rec.contains("already open"))
	cl.Close()

	_, err = dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueCompute)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "executed on")

	rec.reset()
	_, err = dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	require.NoError(t, err)
	assert.Empty(t, rec.errors())

	// Executing resets the list; it must be recorded again first.
	_, err = dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)

	unwrapped, err := dev.(*validation.Device).Unwrap().CreateCommandList(rhi.CommandListParameters{QueueType: rhi.QueueGraphics})
	require.NoError(t, err)
	defer unwrapped.Release()
	_, err = dev.ExecuteCommandLists([]rhi.CommandList{unwrapped}, rhi.QueueGraphics)
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "was not created by the validation layer")
}

func TestOnlyOneImmediateList(t *testing.T) {
	dev, _, rec := newDevice(t)
	a, err := dev.CreateCommandList(rhi.DefaultCommandListParameters())
	require.NoError(t, err)
	defer a.Release()
	b, err := dev.CreateCommandList(rhi.DefaultCommandListParameters())
	require.NoError(t, err)
	defer b.Release()

	a.Open()
	b.Open()
	assert.True(t, rec.contains("Only one immediate command list"))
	a.Close()

	rec.reset()
	b.Open()
	b.Close()
	assert.Empty(t, rec.errors())
}

type drawSetup struct {
	layout   rhi.BindingLayout
	set      rhi.BindingSet
	fb       rhi.Framebuffer
	pipeline rhi.GraphicsPipeline
}

func newDrawSetup(t *testing.T, dev rhi.Device) *drawSetup {
	t.Helper()
	target := texture(t, dev, "color", rhi.FormatRGBA8Unorm, func(d *rhi.TextureDesc) {
		d.IsRenderTarget = true
		d.InitialState = rhi.ResourceStateRenderTarget
		d.KeepInitialState = true
	})
	fb, err := dev.CreateFramebuffer(rhi.FramebufferDesc{ColorAttachments: []rhi.FramebufferAttachment{{Texture: target}}})
	require.NoError(t, err)
	t.Cleanup(func() { fb.Release() })

	l := layout(t, dev, rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureSRV})
	set, err := dev.CreateBindingSet(rhi.NewBindingSetDesc(rhi.BindingTextureSRV(0, texture(t, dev, "albedo", rhi.FormatRGBA8Unorm, nil))), l)
	require.NoError(t, err)
	t.Cleanup(func() { set.Release() })

	p, err := dev.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		PrimType:       rhi.PrimitiveTriangleList,
		VS:             shader(t, dev, rhi.ShaderTypeVertex),
		PS:             shader(t, dev, rhi.ShaderTypePixel),
		BindingLayouts: []rhi.BindingLayout{l},
	}, fb)
	require.NoError(t, err)
	t.Cleanup(func() { p.Release() })
	return &drawSetup{layout: l, set: set, fb: fb, pipeline: p}
}

func (s *drawSetup) state(sets ...rhi.BindingSet) *rhi.GraphicsState {
	return &rhi.GraphicsState{
		Pipeline:    s.pipeline,
		Framebuffer: s.fb,
		Viewport:    rhi.ViewportState{Viewports: []rhi.Viewport{rhi.NewViewport(32, 32)}},
		Bindings:    sets,
	}
}

func TestDrawRequiresMatchingState(t *testing.T) {
	dev, be, rec := newDevice(t)
	s := newDrawSetup(t, dev)
	cl := commandList(t, dev)
	draw := rhi.DrawArguments{VertexCount: 3, InstanceCount: 1}

	cl.Open()
	cl.Draw(draw)
	assert.True(t, rec.contains("Draw called without a preceding SetGraphicsState"))

	cl.SetGraphicsState(s.state())
	assert.True(t, rec.contains("0 binding sets for a pipeline with 1 binding layouts"))

	// A set with an identical description but a different layout object.
	other := layout(t, dev, rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypeTextureSRV})
	otherSet, err := dev.CreateBindingSet(*s.set.Desc(), other)
	require.NoError(t, err)
	defer otherSet.Release()
	rec.reset()
	cl.SetGraphicsState(s.state(otherSet))
	assert.True(t, rec.contains("was created for a different layout"))

	rec.reset()
	cl.SetGraphicsState(s.state(s.set))
	cl.Draw(draw)
	cl.DrawIndexed(draw)
	assert.True(t, rec.contains("DrawIndexed called without an index buffer"))
	cl.DrawIndirect(0, 1)
	assert.True(t, rec.contains("DrawIndirect called without an indirect-argument buffer"))
	cl.Dispatch(1, 1, 1)
	assert.True(t, rec.contains("Dispatch called without a preceding SetComputeState"))

	// ClearState forgets the graphics state.
	rec.reset()
	cl.ClearState()
	cl.Draw(draw)
	assert.True(t, rec.contains("Draw called without a preceding SetGraphicsState"))
	cl.Close()

	_, err = dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	require.NoError(t, err)
	draws := 0
	for _, c := range be.LastSubmission() {
		if c.Op == sim.OpDraw {
			draws++
		}
	}
	assert.Equal(t, 1, draws)
}

func TestPushConstantsMatchLayout(t *testing.T) {
	dev, _, rec := newDevice(t)
	l := layout(t, dev, rhi.BindingLayoutItem{Slot: 0, Type: rhi.ResourceTypePushConstants, Size: 16})
	set, err := dev.CreateBindingSet(rhi.NewBindingSetDesc(rhi.BindingPushConstants(0, 16)), l)
	require.NoError(t, err)
	defer set.Release()
	p, err := dev.CreateComputePipeline(rhi.ComputePipelineDesc{
		CS:             shader(t, dev, rhi.ShaderTypeCompute),
		BindingLayouts: []rhi.BindingLayout{l},
	})
	require.NoError(t, err)
	defer p.Release()

	cl := commandList(t, dev)
	cl.Open()
	cl.SetPushConstants(make([]byte, 16))
	assert.True(t, rec.contains("SetPushConstants called before a pipeline state was set"))

	rec.reset()
	cl.SetComputeState(&rhi.ComputeState{Pipeline: p, Bindings: []rhi.BindingSet{set}})
	cl.Dispatch(1, 1, 1)
	assert.True(t, rec.contains("SetPushConstants was not called"))
	cl.SetPushConstants(make([]byte, 8))
	assert.True(t, rec.contains("8 bytes for a push-constant block of 16 bytes"))

	rec.reset()
	cl.SetPushConstants(make([]byte, 16))
	cl.Dispatch(1, 1, 1)
	cl.Close()
	_, err = dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	require.NoError(t, err)
	assert.Empty(t, rec.errors())
}

func TestWriteBufferRanges(t *testing.T) {
	dev, _, rec := newDevice(t)
	cb, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: 64, MaxVersions: 4, IsVolatile: true, IsConstantBuffer: true, DebugName: "constants"})
	require.NoError(t, err)
	defer cb.Release()
	plain, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: 32, DebugName: "plain"})
	require.NoError(t, err)
	defer plain.Release()

	cl := commandList(t, dev)
	cl.Open()
	cl.WriteBuffer(cb, make([]byte, 16), 16)
	assert.True(t, rec.contains("volatile buffer constants must be written at offset 0, not 16"))
	// Constant buffer sizes round up to 256 bytes.
	require.EqualValues(t, 256, cb.Desc().ByteSize)
	cl.WriteBuffer(cb, make([]byte, 257), 0)
	assert.True(t, rec.contains("257 bytes do not fit volatile buffer constants of 256 bytes"))
	cl.WriteBuffer(plain, make([]byte, 16), 24)
	assert.True(t, rec.contains("16 bytes at offset 24 overflow buffer plain"))
	cl.CopyBuffer(plain, 0, plain, 8, 16)
	assert.True(t, rec.contains("ranges of plain overlap"))

	rec.reset()
	cl.WriteBuffer(cb, make([]byte, 64), 0)
	cl.WriteBuffer(plain, make([]byte, 16), 16)
	cl.Close()
	assert.Empty(t, rec.errors())
}

func TestClearFormats(t *testing.T) {
	dev, _, rec := newDevice(t)
	depth := texture(t, dev, "depth", rhi.FormatD32, func(d *rhi.TextureDesc) { d.IsRenderTarget = true })
	ids := texture(t, dev, "ids", rhi.FormatR32Uint, func(d *rhi.TextureDesc) { d.IsUAV = true })
	color := texture(t, dev, "color", rhi.FormatRGBA8Unorm, nil)

	cl := commandList(t, dev)
	cl.Open()
	cl.ClearTextureFloat(depth, rhi.AllSubresources, rhi.Color{})
	assert.True(t, rec.contains("use ClearDepthStencilTexture"))
	cl.ClearTextureFloat(ids, rhi.AllSubresources, rhi.Color{})
	assert.True(t, rec.contains("use ClearTextureUInt"))
	cl.ClearTextureFloat(color, rhi.AllSubresources, rhi.Color{})
	assert.True(t, rec.contains("neither a render target nor a UAV"))
	cl.ClearDepthStencilTexture(depth, rhi.AllSubresources, true, 1, true, 0)
	assert.True(t, rec.contains("format D32 of texture depth has no stencil"))
	cl.ClearDepthStencilTexture(ids, rhi.AllSubresources, true, 1, false, 0)
	assert.True(t, rec.contains("has color format"))

	rec.reset()
	cl.ClearDepthStencilTexture(depth, rhi.AllSubresources, true, 1, false, 0)
	cl.ClearTextureUInt(ids, rhi.AllSubresources, 7)
	cl.Close()
	assert.Empty(t, rec.errors())
}

func TestAccelStructUsage(t *testing.T) {
	dev, _, rec := newDevice(t)

	_, err := dev.CreateAccelStruct(rhi.AccelStructDesc{BuildFlags: rhi.AccelStructBuildPerformUpdate})
	require.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.True(t, rec.contains("PerformUpdate is a build flag"))

	plain, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: 36, DebugName: "verts"})
	require.NoError(t, err)
	defer plain.Release()
	geometry := rhi.GeometryDesc{
		Type: rhi.GeometryTypeTriangles,
		Triangles: rhi.GeometryTriangles{
			VertexBuffer: plain,
			VertexFormat: rhi.FormatRGB32Float,
			VertexCount:  3,
			VertexStride: 12,
		},
	}
	blas, err := dev.CreateAccelStruct(rhi.AccelStructDesc{BottomLevelGeometries: []rhi.GeometryDesc{geometry}, DebugName: "blas"})
	require.NoError(t, err)
	defer blas.Release()
	tlas, err := dev.CreateAccelStruct(rhi.AccelStructDesc{IsTopLevel: true, TopLevelMaxInstances: 1, DebugName: "tlas"})
	require.NoError(t, err)
	defer tlas.Release()

	rec.reset()
	cl := commandList(t, dev)
	cl.Open()
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{geometry}, rhi.AccelStructBuildNone)
	assert.True(t, rec.contains("buffer verts of geometry 0 was not created with IsAccelStructBuildInput"))
	cl.BuildBottomLevelAccelStruct(blas, []rhi.GeometryDesc{geometry}, rhi.AccelStructBuildPerformUpdate)
	assert.True(t, rec.contains("blas was not created with AllowUpdate"))
	cl.BuildBottomLevelAccelStruct(tlas, nil, rhi.AccelStructBuildNone)
	assert.True(t, rec.contains("needs a bottom-level acceleration structure"))

	instances := []rhi.InstanceDesc{
		{Transform: rhi.IdentityTransform, InstanceMask: 0xFF, BottomLevelAS: blas},
		{Transform: rhi.IdentityTransform, InstanceMask: 0xFF, BottomLevelAS: blas},
	}
	cl.BuildTopLevelAccelStruct(tlas, instances, rhi.AccelStructBuildNone)
	assert.True(t, rec.contains("2 instances exceed the 1 tlas was created for"))
	cl.BuildTopLevelAccelStruct(tlas, []rhi.InstanceDesc{{BottomLevelAS: tlas}}, rhi.AccelStructBuildNone)
	assert.True(t, rec.contains("instance 0 references a top-level acceleration structure"))
	cl.Close()
}
