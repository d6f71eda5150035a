package rhi

import (
	"fmt"
	"strings"
)

// ResourceStates is a bit set of the ways a resource can be accessed by the GPU.
// Common is the zero value. Unknown is only used by state tracking to mark a
// resource or subresource whose prior state has not been established.
type ResourceStates uint32

// Resource states.
const (
	ResourceStateCommon                    ResourceStates = 0
	ResourceStateConstantBuffer            ResourceStates = 1 << 0
	ResourceStateVertexBuffer              ResourceStates = 1 << 1
	ResourceStateIndexBuffer               ResourceStates = 1 << 2
	ResourceStateIndirectArgument          ResourceStates = 1 << 3
	ResourceStateShaderResource            ResourceStates = 1 << 4
	ResourceStateUnorderedAccess           ResourceStates = 1 << 5
	ResourceStateRenderTarget              ResourceStates = 1 << 6
	ResourceStateDepthWrite                ResourceStates = 1 << 7
	ResourceStateDepthRead                 ResourceStates = 1 << 8
	ResourceStateStreamOut                 ResourceStates = 1 << 9
	ResourceStateCopyDest                  ResourceStates = 1 << 10
	ResourceStateCopySource                ResourceStates = 1 << 11
	ResourceStateResolveDest               ResourceStates = 1 << 12
	ResourceStateResolveSource             ResourceStates = 1 << 13
	ResourceStatePresent                   ResourceStates = 1 << 14
	ResourceStateAccelStructRead           ResourceStates = 1 << 15
	ResourceStateAccelStructWrite          ResourceStates = 1 << 16
	ResourceStateAccelStructBuildInput     ResourceStates = 1 << 17
	ResourceStateAccelStructBuildBlas      ResourceStates = 1 << 18
	ResourceStateShadingRateSurface        ResourceStates = 1 << 19
	ResourceStateOpacityMicromapBuildInput ResourceStates = 1 << 20
	ResourceStateOpacityMicromapWrite      ResourceStates = 1 << 21

	// ResourceStateUnknown is a tracker-only sentinel and never reaches a back-end.
	ResourceStateUnknown ResourceStates = 1 << 31

	// ResourceStateGenericRead is the union of the read-only states a
	// CPU-written upload buffer may be consumed in.
	ResourceStateGenericRead = ResourceStateConstantBuffer | ResourceStateVertexBuffer |
		ResourceStateIndexBuffer | ResourceStateIndirectArgument |
		ResourceStateShaderResource | ResourceStateCopySource
)

var resourceStateNames = []struct {
	state ResourceStates
	name  string
}{
	{ResourceStateConstantBuffer, "ConstantBuffer"},
	{ResourceStateVertexBuffer, "VertexBuffer"},
	{ResourceStateIndexBuffer, "IndexBuffer"},
	{ResourceStateIndirectArgument, "IndirectArgument"},
	{ResourceStateShaderResource, "ShaderResource"},
	{ResourceStateUnorderedAccess, "UnorderedAccess"},
	{ResourceStateRenderTarget, "RenderTarget"},
	{ResourceStateDepthWrite, "DepthWrite"},
	{ResourceStateDepthRead, "DepthRead"},
	{ResourceStateStreamOut, "StreamOut"},
	{ResourceStateCopyDest, "CopyDest"},
	{ResourceStateCopySource, "CopySource"},
	{ResourceStateResolveDest, "ResolveDest"},
	{ResourceStateResolveSource, "ResolveSource"},
	{ResourceStatePresent, "Present"},
	{ResourceStateAccelStructRead, "AccelStructRead"},
	{ResourceStateAccelStructWrite, "AccelStructWrite"},
	{ResourceStateAccelStructBuildInput, "AccelStructBuildInput"},
	{ResourceStateAccelStructBuildBlas, "AccelStructBuildBlas"},
	{ResourceStateShadingRateSurface, "ShadingRateSurface"},
	{ResourceStateOpacityMicromapBuildInput, "OpacityMicromapBuildInput"},
	{ResourceStateOpacityMicromapWrite, "OpacityMicromapWrite"},
	{ResourceStateUnknown, "Unknown"},
}

// Has reports whether every bit of other is set in s.
// Has(ResourceStateCommon) is always true.
func (s ResourceStates) Has(other ResourceStates) bool {
	return s&other == other
}

// String returns the states joined with '|', or "Common" for the zero value.
func (s ResourceStates) String() string {
	if s == ResourceStateCommon {
		return "Common"
	}
	var parts []string
	rest := s
	for _, n := range resourceStateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
			rest &^= n.state
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
