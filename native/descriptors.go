package native

import "github.com/gogpu/rhi"

// DescriptorHeapKind selects the descriptor class a heap stores.
type DescriptorHeapKind uint8

// Descriptor heap kinds.
const (
	HeapRenderTargetView DescriptorHeapKind = iota
	HeapDepthStencilView
	HeapShaderResourceView
	HeapSampler
)

func (k DescriptorHeapKind) String() string {
	switch k {
	case HeapRenderTargetView:
		return "RTV"
	case HeapDepthStencilView:
		return "DSV"
	case HeapShaderResourceView:
		return "CBV_SRV_UAV"
	case HeapSampler:
		return "Sampler"
	}
	return "Unknown"
}

// ViewKind is the kind of view a descriptor holds.
type ViewKind uint8

// View kinds.
const (
	ViewNone ViewKind = iota
	ViewSRV
	ViewUAV
	ViewCBV
	ViewSampler
	ViewRTV
	ViewDSV
	ViewAccelStruct
)

// Descriptor describes one view. A descriptor with Null set binds nothing
// but carries the kind and type so the back-end can write a typed null
// view.
type Descriptor struct {
	Kind         ViewKind
	Null         bool
	ResourceType rhi.ResourceType

	Texture      Texture
	Format       rhi.Format
	Dimension    rhi.TextureDimension
	Subresources rhi.TextureSubresourceSet
	ReadOnly     bool

	Buffer       Buffer
	Range        rhi.BufferRange
	StructStride uint32

	Sampler *rhi.SamplerDesc

	AccelStructAddress uint64
}

// DescriptorHeap is a dense array of descriptors. CPU handles address a
// descriptor for writes and render-target binding; GPU handles address the
// shader-visible copy for root table bindings.
type DescriptorHeap interface {
	Kind() DescriptorHeapKind
	Capacity() uint32
	Write(index uint32, d *Descriptor)
	// CopyFrom copies count descriptors from src starting at srcIndex into
	// this heap starting at dstIndex.
	CopyFrom(src DescriptorHeap, srcIndex, dstIndex, count uint32)
	CPUHandle(index uint32) uint64
	GPUHandle(index uint32) uint64
	Destroy()
}

// RootParameterKind is the kind of a root signature parameter.
type RootParameterKind uint8

// Root parameter kinds.
const (
	RootDescriptorTable RootParameterKind = iota
	RootConstantBufferView
	RootConstants
)

// DescriptorRangeKind is the register class of a table range.
type DescriptorRangeKind uint8

// Descriptor range kinds.
const (
	RangeSRV DescriptorRangeKind = iota
	RangeUAV
	RangeCBV
	RangeSampler
)

// DescriptorRange is a run of consecutive registers in a table.
// A Count of ^uint32(0) marks an unbounded bindless range.
type DescriptorRange struct {
	Kind          DescriptorRangeKind
	BaseRegister  uint32
	Count         uint32
	RegisterSpace uint32
	OffsetInTable uint32
}

// RootParameter is one entry of a root signature.
type RootParameter struct {
	Kind       RootParameterKind
	Visibility rhi.ShaderType

	// RootDescriptorTable
	Ranges []DescriptorRange

	// RootConstantBufferView and RootConstants
	Register      uint32
	RegisterSpace uint32
	// NumConstants counts 32-bit values of a RootConstants parameter.
	NumConstants uint32
}

// RootSignatureDesc lists root parameters in binding order.
type RootSignatureDesc struct {
	Parameters       []RootParameter
	AllowInputLayout bool
}

// RootSignature is a compiled root signature or pipeline layout.
type RootSignature interface {
	Destroy()
}
