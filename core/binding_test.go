package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/native"
)

func TestCompileBindingLayout(t *testing.T) {
	l, err := compileBindingLayout(1, rhi.BindingLayoutDesc{
		Visibility: rhi.ShaderTypeAll,
		Bindings: []rhi.BindingLayoutItem{
			{Slot: 0, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 1, Type: rhi.ResourceTypeStructuredBufferSRV},
			{Slot: 0, Type: rhi.ResourceTypeTextureUAV},
			{Slot: 3, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 0, Type: rhi.ResourceTypeSampler},
			{Slot: 1, Type: rhi.ResourceTypeVolatileConstantBuffer},
			{Slot: 2, Type: rhi.ResourceTypePushConstants, Size: 16},
		},
	})
	require.NoError(t, err)

	kinds := make([]native.RootParameterKind, len(l.rootParameters))
	for i, p := range l.rootParameters {
		kinds[i] = p.Kind
	}
	assert.Equal(t, []native.RootParameterKind{
		native.RootConstantBufferView,
		native.RootConstants,
		native.RootDescriptorTable,
		native.RootDescriptorTable,
	}, kinds)
	assert.EqualValues(t, 4, l.rootParameters[1].NumConstants)
	assert.Equal(t, []volatileCBParam{{slot: 1, rootIndex: 0}}, l.volatileCBs)
	assert.Equal(t, 2, l.samplerTableRoot)
	assert.Equal(t, 3, l.srvTableRoot)

	assert.EqualValues(t, 4, l.srvTableSize)
	assert.Equal(t, []native.DescriptorRange{
		{Kind: native.RangeSRV, BaseRegister: 0, Count: 2, OffsetInTable: 0},
		{Kind: native.RangeUAV, BaseRegister: 0, Count: 1, OffsetInTable: 2},
		{Kind: native.RangeSRV, BaseRegister: 3, Count: 1, OffsetInTable: 3},
	}, l.rootParameters[3].Ranges)
	assert.EqualValues(t, 1, l.samplerTableSize)
}

func TestCompileBindingLayoutErrors(t *testing.T) {
	for name, items := range map[string][]rhi.BindingLayoutItem{
		"untyped":           {{Slot: 0}},
		"unaligned push":    {{Type: rhi.ResourceTypePushConstants, Size: 6}},
		"oversized push":    {{Type: rhi.ResourceTypePushConstants, Size: rhi.MaxPushConstantSize + 4}},
		"two push-constant": {{Type: rhi.ResourceTypePushConstants, Size: 4}, {Slot: 1, Type: rhi.ResourceTypePushConstants, Size: 4}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := compileBindingLayout(1, rhi.BindingLayoutDesc{Bindings: items})
			assert.ErrorIs(t, err, rhi.ErrInvalidArgument)
		})
	}
}

func TestCompileBindlessLayout(t *testing.T) {
	l, err := compileBindlessLayout(1, rhi.BindlessLayoutDesc{
		RegisterSpaces: []rhi.BindingLayoutItem{
			{Slot: 1, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 2, Type: rhi.ResourceTypeRawBufferSRV},
		},
	})
	require.NoError(t, err)
	require.Len(t, l.rootParameters, 1)
	assert.Equal(t, 0, l.srvTableRoot)
	assert.Equal(t, -1, l.samplerTableRoot)
	assert.EqualValues(t, 2, l.rootParameters[0].Ranges[1].RegisterSpace)

	_, err = compileBindlessLayout(1, rhi.BindlessLayoutDesc{
		RegisterSpaces: []rhi.BindingLayoutItem{
			{Slot: 1, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 2, Type: rhi.ResourceTypeSampler},
		},
	})
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)

	_, err = compileBindlessLayout(1, rhi.BindlessLayoutDesc{})
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)
}

func TestRootSignaturesAreCached(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	a, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Bindings: []rhi.BindingLayoutItem{{Slot: 0, Type: rhi.ResourceTypeTextureSRV}}})
	require.NoError(t, err)
	b, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Bindings: []rhi.BindingLayoutItem{{Slot: 0, Type: rhi.ResourceTypePushConstants, Size: 8}}})
	require.NoError(t, err)

	rs1, err := dev.rootSignature([]rhi.BindingLayout{a, b}, true)
	require.NoError(t, err)
	rs2, err := dev.rootSignature([]rhi.BindingLayout{a, b}, true)
	require.NoError(t, err)
	assert.Same(t, rs1, rs2)
	assert.Equal(t, 1, rs1.pushConstantRoot)
	assert.EqualValues(t, 8, rs1.pushConstantSize)

	rs3, err := dev.rootSignature([]rhi.BindingLayout{a, b}, false)
	require.NoError(t, err)
	assert.NotSame(t, rs1, rs3)
	rs4, err := dev.rootSignature([]rhi.BindingLayout{b, a}, true)
	require.NoError(t, err)
	assert.NotSame(t, rs1, rs4)
	assert.Equal(t, 0, rs4.pushConstantRoot)

	c, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Bindings: []rhi.BindingLayoutItem{{Slot: 1, Type: rhi.ResourceTypePushConstants, Size: 4}}})
	require.NoError(t, err)
	_, err = dev.rootSignature([]rhi.BindingLayout{b, c}, false)
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)

	_, err = dev.rootSignature([]rhi.BindingLayout{nil}, false)
	assert.ErrorIs(t, err, rhi.ErrNilHandle)
}

func TestBindingSetWritesDescriptors(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	layout, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{
		Visibility: rhi.ShaderTypePixel,
		Bindings: []rhi.BindingLayoutItem{
			{Slot: 0, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 1, Type: rhi.ResourceTypeTextureSRV},
			{Slot: 0, Type: rhi.ResourceTypeSampler},
		},
	})
	require.NoError(t, err)
	defer layout.Release()

	tex, err := dev.CreateTexture(texture2D("albedo", 16, 16, 1, 1, rhi.FormatRGBA8Unorm))
	require.NoError(t, err)
	defer tex.Release()
	smp, err := dev.CreateSampler(rhi.SamplerDesc{})
	require.NoError(t, err)
	defer smp.Release()

	before := dev.srvHeap.numAllocated
	set, err := dev.CreateBindingSet(rhi.NewBindingSetDesc(
		rhi.BindingTextureSRV(0, tex),
		rhi.BindingSampler(0, smp),
	), layout)
	require.NoError(t, err)
	bs := set.(*bindingSet)
	assert.Equal(t, before+2, dev.srvHeap.numAllocated)
	assert.Greater(t, tex.(*texture).refCount(), int32(1))

	heap := dev.srvHeap.shaderVisibleHeap().(*sim.DescriptorHeap)
	d0, ok := heap.Descriptor(bs.srvTableBase)
	require.True(t, ok)
	assert.Equal(t, native.ViewSRV, d0.Kind)
	assert.Equal(t, rhi.FormatRGBA8Unorm, d0.Format)
	assert.False(t, d0.Null)

	// Slot 1 has no binding: a typed null descriptor fills it.
	d1, ok := heap.Descriptor(bs.srvTableBase + 1)
	require.True(t, ok)
	assert.True(t, d1.Null)
	assert.Equal(t, rhi.ResourceTypeTextureSRV, d1.ResourceType)

	ds, ok := dev.samplerHeap.shaderVisibleHeap().(*sim.DescriptorHeap).Descriptor(bs.samplerTableBase)
	require.True(t, ok)
	assert.Equal(t, native.ViewSampler, ds.Kind)

	assert.Equal(t, []int{0}, bs.bindingsThatNeedTransitions)

	set.Release()
	assert.Equal(t, before, dev.srvHeap.numAllocated)
	assert.EqualValues(t, 1, tex.(*texture).refCount())
	assert.Empty(t, rec.errors())
}

func TestBindingSetRejectsWrongResourceKind(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	layout, err := dev.CreateBindingLayout(rhi.BindingLayoutDesc{Bindings: []rhi.BindingLayoutItem{{Slot: 0, Type: rhi.ResourceTypeTextureSRV}}})
	require.NoError(t, err)
	query, err := dev.CreateEventQuery()
	require.NoError(t, err)

	before := dev.srvHeap.numAllocated
	_, err = dev.CreateBindingSet(rhi.BindingSetDesc{Bindings: []rhi.BindingSetItem{
		{Slot: 0, Type: rhi.ResourceTypeTextureSRV, Resource: query},
	}}, layout)
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)
	assert.Equal(t, before, dev.srvHeap.numAllocated)
}

func TestDescriptorTable(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	layout, err := dev.CreateBindlessLayout(rhi.BindlessLayoutDesc{
		Visibility:     rhi.ShaderTypeAll,
		MaxCapacity:    64,
		RegisterSpaces: []rhi.BindingLayoutItem{{Slot: 1, Type: rhi.ResourceTypeTextureSRV}},
	})
	require.NoError(t, err)
	defer layout.Release()

	_, err = dev.CreateBindingSet(rhi.BindingSetDesc{}, layout)
	assert.ErrorIs(t, err, rhi.ErrInvalidArgument)

	table, err := dev.CreateDescriptorTable(layout)
	require.NoError(t, err)
	defer table.Release()
	assert.Zero(t, table.Capacity())

	tex, err := dev.CreateTexture(texture2D("bindless", 4, 4, 1, 1, rhi.FormatR32Float))
	require.NoError(t, err)
	defer tex.Release()

	require.NoError(t, dev.ResizeDescriptorTable(table, 4, false))
	assert.EqualValues(t, 4, table.Capacity())
	require.NoError(t, dev.WriteDescriptorTable(table, rhi.BindingTextureSRV(2, tex)))
	assert.ErrorIs(t, dev.WriteDescriptorTable(table, rhi.BindingTextureSRV(4, tex)), rhi.ErrInvalidArgument)

	// Occupy the slots after the table so growing must move it.
	blocker := dev.srvHeap.allocate(4)
	defer dev.srvHeap.release(blocker, 4)

	require.NoError(t, dev.ResizeDescriptorTable(table, 8, true))
	assert.EqualValues(t, 8, table.Capacity())
	d, ok := dev.srvHeap.shaderVisibleHeap().(*sim.DescriptorHeap).Descriptor(table.FirstDescriptorIndex() + 2)
	require.True(t, ok)
	assert.Equal(t, rhi.FormatR32Float, d.Format)

	assert.ErrorIs(t, dev.ResizeDescriptorTable(table, 65, false), rhi.ErrInvalidArgument)
	require.NoError(t, dev.ResizeDescriptorTable(table, 0, false))
	assert.Zero(t, table.Capacity())
}
