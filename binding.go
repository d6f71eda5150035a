package rhi

import "fmt"

// ResourceType is the kind of a binding slot.
type ResourceType uint8

// Binding resource types.
const (
	ResourceTypeNone ResourceType = iota
	ResourceTypeTextureSRV
	ResourceTypeTextureUAV
	ResourceTypeTypedBufferSRV
	ResourceTypeTypedBufferUAV
	ResourceTypeStructuredBufferSRV
	ResourceTypeStructuredBufferUAV
	ResourceTypeRawBufferSRV
	ResourceTypeRawBufferUAV
	ResourceTypeConstantBuffer
	ResourceTypeVolatileConstantBuffer
	ResourceTypeSampler
	ResourceTypeRayTracingAccelStruct
	ResourceTypePushConstants
)

var resourceTypeNames = [...]string{
	"None", "Texture_SRV", "Texture_UAV", "TypedBuffer_SRV", "TypedBuffer_UAV",
	"StructuredBuffer_SRV", "StructuredBuffer_UAV", "RawBuffer_SRV", "RawBuffer_UAV",
	"ConstantBuffer", "VolatileConstantBuffer", "Sampler", "RayTracingAccelStruct", "PushConstants",
}

func (t ResourceType) String() string {
	if int(t) < len(resourceTypeNames) {
		return resourceTypeNames[t]
	}
	return fmt.Sprintf("ResourceType(%d)", uint8(t))
}

// IsUAV reports whether the type binds an unordered-access view.
func (t ResourceType) IsUAV() bool {
	switch t {
	case ResourceTypeTextureUAV, ResourceTypeTypedBufferUAV,
		ResourceTypeStructuredBufferUAV, ResourceTypeRawBufferUAV:
		return true
	}
	return false
}

// IsSRV reports whether the type binds a shader-resource view.
// Acceleration structures are bound through SRVs.
func (t ResourceType) IsSRV() bool {
	switch t {
	case ResourceTypeTextureSRV, ResourceTypeTypedBufferSRV, ResourceTypeStructuredBufferSRV,
		ResourceTypeRawBufferSRV, ResourceTypeRayTracingAccelStruct:
		return true
	}
	return false
}

// IsBuffer reports whether the type binds a buffer view.
func (t ResourceType) IsBuffer() bool {
	switch t {
	case ResourceTypeTypedBufferSRV, ResourceTypeTypedBufferUAV,
		ResourceTypeStructuredBufferSRV, ResourceTypeStructuredBufferUAV,
		ResourceTypeRawBufferSRV, ResourceTypeRawBufferUAV,
		ResourceTypeConstantBuffer, ResourceTypeVolatileConstantBuffer:
		return true
	}
	return false
}

// RequiredState returns the state a resource bound as t must be in.
func (t ResourceType) RequiredState() ResourceStates {
	switch {
	case t == ResourceTypeRayTracingAccelStruct:
		return ResourceStateAccelStructRead
	case t.IsSRV():
		return ResourceStateShaderResource
	case t.IsUAV():
		return ResourceStateUnorderedAccess
	case t == ResourceTypeConstantBuffer || t == ResourceTypeVolatileConstantBuffer:
		return ResourceStateConstantBuffer
	}
	return ResourceStateCommon
}

// MaxPushConstantSize is the largest push-constant block a layout may declare.
const MaxPushConstantSize = 256

// BindingLayoutItem declares one slot of a binding layout.
// Size is the byte size for PushConstants items and ignored otherwise.
type BindingLayoutItem struct {
	Slot uint32
	Type ResourceType
	Size uint32
}

// BindingLayoutDesc declares the shape of binding sets.
type BindingLayoutDesc struct {
	Visibility    ShaderType
	RegisterSpace uint32
	// RegisterSpaceIsDescriptorSet makes a Vulkan-class back-end use
	// RegisterSpace as the descriptor set index.
	RegisterSpaceIsDescriptorSet bool
	Bindings                     []BindingLayoutItem
}

// BindlessLayoutDesc reserves register spaces for a descriptor table.
// Each item in RegisterSpaces binds the whole table at Slot = register space.
type BindlessLayoutDesc struct {
	Visibility     ShaderType
	FirstSlot      uint32
	MaxCapacity    uint32
	RegisterSpaces []BindingLayoutItem
}

// BindingSetItem binds one resource to a layout slot.
type BindingSetItem struct {
	Resource     Resource
	Slot         uint32
	Type         ResourceType
	Dimension    TextureDimension
	Format       Format
	Subresources TextureSubresourceSet
	Range        BufferRange
}

// BindingTextureSRV binds a shader-resource view of t.
func BindingTextureSRV(slot uint32, t Texture) BindingSetItem {
	return BindingSetItem{Resource: t, Slot: slot, Type: ResourceTypeTextureSRV, Subresources: AllSubresources}
}

// BindingTextureUAV binds an unordered-access view of mip 0 of t.
func BindingTextureUAV(slot uint32, t Texture) BindingSetItem {
	return BindingSetItem{
		Resource:     t,
		Slot:         slot,
		Type:         ResourceTypeTextureUAV,
		Subresources: TextureSubresourceSet{NumMipLevels: 1, NumArraySlices: AllArraySlices},
	}
}

// BindingTypedBufferSRV binds a typed shader-resource view of b.
func BindingTypedBufferSRV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeTypedBufferSRV, Range: EntireBuffer}
}

// BindingTypedBufferUAV binds a typed unordered-access view of b.
func BindingTypedBufferUAV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeTypedBufferUAV, Range: EntireBuffer}
}

// BindingStructuredBufferSRV binds a structured shader-resource view of b.
func BindingStructuredBufferSRV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeStructuredBufferSRV, Range: EntireBuffer}
}

// BindingStructuredBufferUAV binds a structured unordered-access view of b.
func BindingStructuredBufferUAV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeStructuredBufferUAV, Range: EntireBuffer}
}

// BindingRawBufferSRV binds a byte-address shader-resource view of b.
func BindingRawBufferSRV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeRawBufferSRV, Range: EntireBuffer}
}

// BindingRawBufferUAV binds a byte-address unordered-access view of b.
func BindingRawBufferUAV(slot uint32, b Buffer) BindingSetItem {
	return BindingSetItem{Resource: b, Slot: slot, Type: ResourceTypeRawBufferUAV, Range: EntireBuffer}
}

// BindingConstantBuffer binds b as a constant buffer. Volatile buffers are
// bound as VolatileConstantBuffer.
func BindingConstantBuffer(slot uint32, b Buffer) BindingSetItem {
	typ := ResourceTypeConstantBuffer
	if b != nil && b.Desc().IsVolatile {
		typ = ResourceTypeVolatileConstantBuffer
	}
	return BindingSetItem{Resource: b, Slot: slot, Type: typ, Range: EntireBuffer}
}

// BindingSampler binds a sampler.
func BindingSampler(slot uint32, s Sampler) BindingSetItem {
	return BindingSetItem{Resource: s, Slot: slot, Type: ResourceTypeSampler}
}

// BindingAccelStruct binds a top-level acceleration structure.
func BindingAccelStruct(slot uint32, as AccelStruct) BindingSetItem {
	return BindingSetItem{Resource: as, Slot: slot, Type: ResourceTypeRayTracingAccelStruct}
}

// BindingPushConstants declares the push-constant block of a set. The
// data itself is supplied by CommandList.SetPushConstants.
func BindingPushConstants(slot uint32, byteSize uint32) BindingSetItem {
	return BindingSetItem{Slot: slot, Type: ResourceTypePushConstants, Range: BufferRange{ByteSize: uint64(byteSize)}}
}

// BindingSetDesc lists the items of a binding set.
type BindingSetDesc struct {
	Bindings []BindingSetItem
	// TrackLiveness keeps the bound resources referenced by every command
	// list that uses the set.
	TrackLiveness bool
}

// NewBindingSetDesc returns a descriptor with liveness tracking enabled.
func NewBindingSetDesc(items ...BindingSetItem) BindingSetDesc {
	return BindingSetDesc{Bindings: items, TrackLiveness: true}
}
