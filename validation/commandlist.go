package validation

import (
	"fmt"
	"slices"

	"github.com/gogpu/rhi"
)

type listState uint8

const (
	stateInitial listState = iota
	stateOpen
	stateClosed
)

func (s listState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "initial"
}

type pipelineKind uint8

const (
	pipelineNone pipelineKind = iota
	pipelineGraphics
	pipelineCompute
	pipelineMeshlet
	pipelineRayTracing
)

// CommandList validates recording calls before forwarding them.
type CommandList struct {
	rhi.CommandList
	dev   *Device
	state listState

	bound          pipelineKind
	indexed        bool
	indirect       bool
	pushConstants  uint32
	pushConstSet   bool
	needPushConsts bool
}

var _ rhi.CommandList = (*CommandList)(nil)

// Device returns the validating device.
func (c *CommandList) Device() rhi.Device { return c.dev }

func (c *CommandList) errorf(format string, args ...any) {
	c.dev.msg.Errorf(format, args...)
}

func (c *CommandList) recording(op string) bool {
	if c.state != stateOpen {
		c.errorf("%s called on a command list that is %s", op, c.state)
		return false
	}
	return true
}

func (c *CommandList) immediate() bool { return c.Parameters().EnableImmediateExecution }

func (c *CommandList) resetBindings() {
	c.bound = pipelineNone
	c.indexed, c.indirect = false, false
	c.pushConstants, c.pushConstSet, c.needPushConsts = 0, false, false
}

func (c *CommandList) Open() {
	if c.state == stateOpen {
		c.errorf("Open called on a command list that is already open")
		return
	}
	if c.immediate() && !c.dev.immediateOpen.CompareAndSwap(false, true) {
		c.errorf("Only one immediate command list may be open at a time")
		return
	}
	c.state = stateOpen
	c.resetBindings()
	c.CommandList.Open()
}

func (c *CommandList) Close() {
	if c.state != stateOpen {
		c.errorf("Close called on a command list that is %s", c.state)
		return
	}
	c.state = stateClosed
	if c.immediate() {
		c.dev.immediateOpen.Store(false)
	}
	c.CommandList.Close()
}

func (c *CommandList) executed() { c.state = stateInitial }

func (c *CommandList) Release() int32 {
	n := c.CommandList.Release()
	if n == 0 && c.state == stateOpen && c.immediate() {
		c.dev.immediateOpen.Store(false)
	}
	return n
}

func (c *CommandList) ClearState() {
	if !c.recording("ClearState") {
		return
	}
	c.resetBindings()
	c.CommandList.ClearState()
}

func (c *CommandList) ClearTextureFloat(t rhi.Texture, subresources rhi.TextureSubresourceSet, color rhi.Color) {
	if !c.recording("ClearTextureFloat") || !c.textureArg("ClearTextureFloat", t) {
		return
	}
	d := t.Desc()
	info := rhi.GetFormatInfo(d.Format)
	switch {
	case info.HasDepth || info.HasStencil:
		c.errorf("ClearTextureFloat: texture %s has depth-stencil format %s; use ClearDepthStencilTexture", d.DebugName, d.Format)
		return
	case d.Format.IsInteger():
		c.errorf("ClearTextureFloat: texture %s has integer format %s; use ClearTextureUInt", d.DebugName, d.Format)
		return
	case !d.IsRenderTarget && !d.IsUAV:
		c.errorf("ClearTextureFloat: texture %s is neither a render target nor a UAV", d.DebugName)
		return
	}
	c.CommandList.ClearTextureFloat(t, subresources, color)
}

func (c *CommandList) ClearDepthStencilTexture(t rhi.Texture, subresources rhi.TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8) {
	if !c.recording("ClearDepthStencilTexture") || !c.textureArg("ClearDepthStencilTexture", t) {
		return
	}
	d := t.Desc()
	info := rhi.GetFormatInfo(d.Format)
	switch {
	case !info.HasDepth && !info.HasStencil:
		c.errorf("ClearDepthStencilTexture: texture %s has color format %s", d.DebugName, d.Format)
		return
	case clearStencil && !info.HasStencil:
		c.errorf("ClearDepthStencilTexture: format %s of texture %s has no stencil", d.Format, d.DebugName)
		return
	case !clearDepth && !clearStencil:
		c.errorf("ClearDepthStencilTexture: neither depth nor stencil is cleared")
		return
	}
	c.CommandList.ClearDepthStencilTexture(t, subresources, clearDepth, depth, clearStencil, stencil)
}

func (c *CommandList) ClearTextureUInt(t rhi.Texture, subresources rhi.TextureSubresourceSet, value uint32) {
	if !c.recording("ClearTextureUInt") || !c.textureArg("ClearTextureUInt", t) {
		return
	}
	d := t.Desc()
	if !d.IsRenderTarget && !d.IsUAV {
		c.errorf("ClearTextureUInt: texture %s is neither a render target nor a UAV", d.DebugName)
		return
	}
	c.CommandList.ClearTextureUInt(t, subresources, value)
}

func (c *CommandList) ResolveTexture(dst rhi.Texture, dstSubresources rhi.TextureSubresourceSet, src rhi.Texture, srcSubresources rhi.TextureSubresourceSet) {
	if !c.recording("ResolveTexture") || !c.textureArg("ResolveTexture", dst) || !c.textureArg("ResolveTexture", src) {
		return
	}
	dd, sd := dst.Desc(), src.Desc()
	switch {
	case !sd.Dimension.IsMultisampled():
		c.errorf("ResolveTexture: source %s is not multisampled", sd.DebugName)
		return
	case dd.Dimension.IsMultisampled():
		c.errorf("ResolveTexture: destination %s is multisampled", dd.DebugName)
		return
	case dd.Format != sd.Format:
		c.errorf("ResolveTexture: formats differ, %s into %s", sd.Format, dd.Format)
		return
	case dstSubresources.Resolve(dd, false).Count() != srcSubresources.Resolve(sd, false).Count():
		c.errorf("ResolveTexture: source and destination subresource counts differ")
		return
	}
	c.CommandList.ResolveTexture(dst, dstSubresources, src, srcSubresources)
}

func (c *CommandList) textureArg(op string, t rhi.Texture) bool {
	if t == nil {
		c.errorf("%s: texture is nil", op)
		return false
	}
	return true
}

func (c *CommandList) WriteBuffer(b rhi.Buffer, data []byte, destOffset uint64) {
	if !c.recording("WriteBuffer") {
		return
	}
	if b == nil {
		c.errorf("WriteBuffer: buffer is nil")
		return
	}
	d := b.Desc()
	size := uint64(len(data))
	switch {
	case d.IsVolatile && destOffset != 0:
		c.errorf("WriteBuffer: volatile buffer %s must be written at offset 0, not %d", d.DebugName, destOffset)
		return
	case d.IsVolatile && size > d.ByteSize:
		c.errorf("WriteBuffer: %d bytes do not fit volatile buffer %s of %d bytes", size, d.DebugName, d.ByteSize)
		return
	case destOffset+size > d.ByteSize:
		c.errorf("WriteBuffer: %d bytes at offset %d overflow buffer %s of %d bytes", size, destOffset, d.DebugName, d.ByteSize)
		return
	case d.CPUAccess != rhi.CPUAccessNone:
		c.errorf("WriteBuffer: buffer %s is CPU-accessible; map it instead", d.DebugName)
		return
	}
	c.CommandList.WriteBuffer(b, data, destOffset)
}

func (c *CommandList) ClearBufferUInt(b rhi.Buffer, value uint32) {
	if !c.recording("ClearBufferUInt") {
		return
	}
	if b == nil || !b.Desc().CanHaveUAVs {
		c.errorf("ClearBufferUInt: buffer is nil or was not created with CanHaveUAVs")
		return
	}
	c.CommandList.ClearBufferUInt(b, value)
}

func (c *CommandList) CopyBuffer(dst rhi.Buffer, dstOffset uint64, src rhi.Buffer, srcOffset uint64, byteSize uint64) {
	if !c.recording("CopyBuffer") {
		return
	}
	switch {
	case dst == nil || src == nil:
		c.errorf("CopyBuffer: buffer is nil")
		return
	case dstOffset+byteSize > dst.Desc().ByteSize:
		c.errorf("CopyBuffer: destination range overflows %s", dst.Desc().DebugName)
		return
	case srcOffset+byteSize > src.Desc().ByteSize:
		c.errorf("CopyBuffer: source range overflows %s", src.Desc().DebugName)
		return
	case dst == src && dstOffset < srcOffset+byteSize && srcOffset < dstOffset+byteSize:
		c.errorf("CopyBuffer: source and destination ranges of %s overlap", dst.Desc().DebugName)
		return
	}
	c.CommandList.CopyBuffer(dst, dstOffset, src, srcOffset, byteSize)
}

// pushConstantSize returns the push-constant block size declared by the
// layouts, or 0.
func pushConstantSize(layouts []rhi.BindingLayout) uint32 {
	for _, l := range layouts {
		if l == nil || l.Desc() == nil {
			continue
		}
		for _, item := range l.Desc().Bindings {
			if item.Type == rhi.ResourceTypePushConstants {
				return item.Size
			}
		}
	}
	return 0
}

func (c *CommandList) bind(kind pipelineKind, layouts []rhi.BindingLayout) {
	c.bound = kind
	c.pushConstants = pushConstantSize(layouts)
	c.needPushConsts = c.pushConstants > 0
	c.pushConstSet = false
}

func (c *CommandList) reportAll(errs []string) bool {
	for _, e := range errs {
		c.errorf("%s", e)
	}
	return len(errs) == 0
}

func framebufferCompatible(a, b *rhi.FramebufferInfo) bool {
	return slices.Equal(a.ColorFormats, b.ColorFormats) && a.DepthFormat == b.DepthFormat && a.SampleCount == b.SampleCount
}

func (c *CommandList) SetGraphicsState(state *rhi.GraphicsState) {
	if !c.recording("SetGraphicsState") {
		return
	}
	if state == nil || state.Pipeline == nil || state.Framebuffer == nil {
		c.errorf("SetGraphicsState: pipeline and framebuffer are required")
		return
	}
	errs := checkStateBindings("SetGraphicsState", state.Bindings, state.Pipeline.Desc().BindingLayouts)
	if !framebufferCompatible(state.Pipeline.FramebufferInfo(), state.Framebuffer.Info()) {
		errs = append(errs, "SetGraphicsState: framebuffer is incompatible with the pipeline")
	}
	if !c.reportAll(errs) {
		return
	}
	c.bind(pipelineGraphics, state.Pipeline.Desc().BindingLayouts)
	c.indexed = state.IndexBuffer.Buffer != nil
	c.indirect = state.IndirectParams != nil
	c.CommandList.SetGraphicsState(state)
}

func (c *CommandList) SetComputeState(state *rhi.ComputeState) {
	if !c.recording("SetComputeState") {
		return
	}
	if state == nil || state.Pipeline == nil {
		c.errorf("SetComputeState: pipeline is required")
		return
	}
	if !c.reportAll(checkStateBindings("SetComputeState", state.Bindings, state.Pipeline.Desc().BindingLayouts)) {
		return
	}
	c.bind(pipelineCompute, state.Pipeline.Desc().BindingLayouts)
	c.indirect = state.IndirectParams != nil
	c.CommandList.SetComputeState(state)
}

func (c *CommandList) SetMeshletState(state *rhi.MeshletState) {
	if !c.recording("SetMeshletState") {
		return
	}
	if state == nil || state.Pipeline == nil || state.Framebuffer == nil {
		c.errorf("SetMeshletState: pipeline and framebuffer are required")
		return
	}
	errs := checkStateBindings("SetMeshletState", state.Bindings, state.Pipeline.Desc().BindingLayouts)
	if !framebufferCompatible(state.Pipeline.FramebufferInfo(), state.Framebuffer.Info()) {
		errs = append(errs, "SetMeshletState: framebuffer is incompatible with the pipeline")
	}
	if !c.reportAll(errs) {
		return
	}
	c.bind(pipelineMeshlet, state.Pipeline.Desc().BindingLayouts)
	c.CommandList.SetMeshletState(state)
}

func (c *CommandList) SetRayTracingState(state *rhi.RayTracingState) {
	if !c.recording("SetRayTracingState") {
		return
	}
	if state == nil || state.ShaderTable == nil {
		c.errorf("SetRayTracingState: shader table is required")
		return
	}
	layouts := state.ShaderTable.Pipeline().Desc().GlobalBindingLayouts
	if !c.reportAll(checkStateBindings("SetRayTracingState", state.Bindings, layouts)) {
		return
	}
	c.bind(pipelineRayTracing, layouts)
	c.CommandList.SetRayTracingState(state)
}

func (c *CommandList) SetPushConstants(data []byte) {
	if !c.recording("SetPushConstants") {
		return
	}
	switch {
	case c.bound == pipelineNone:
		c.errorf("SetPushConstants called before a pipeline state was set")
		return
	case c.pushConstants == 0:
		c.errorf("SetPushConstants: the bound pipeline declares no push constants")
		return
	case uint32(len(data)) != c.pushConstants:
		c.errorf("SetPushConstants: %d bytes for a push-constant block of %d bytes", len(data), c.pushConstants)
		return
	}
	c.pushConstSet = true
	c.CommandList.SetPushConstants(data)
}

// ready checks that the state a draw or dispatch reads has been set.
func (c *CommandList) ready(op string, kind pipelineKind, stateName string) bool {
	if !c.recording(op) {
		return false
	}
	if c.bound != kind {
		c.errorf("%s called without a preceding %s", op, stateName)
		return false
	}
	if c.needPushConsts && !c.pushConstSet {
		c.errorf("%s: the pipeline declares push constants but SetPushConstants was not called", op)
		return false
	}
	return true
}

func (c *CommandList) Draw(args rhi.DrawArguments) {
	if c.ready("Draw", pipelineGraphics, "SetGraphicsState") {
		c.CommandList.Draw(args)
	}
}

func (c *CommandList) DrawIndexed(args rhi.DrawArguments) {
	if !c.ready("DrawIndexed", pipelineGraphics, "SetGraphicsState") {
		return
	}
	if !c.indexed {
		c.errorf("DrawIndexed called without an index buffer")
		return
	}
	c.CommandList.DrawIndexed(args)
}

func (c *CommandList) DrawIndirect(offsetBytes, drawCount uint32) {
	if !c.ready("DrawIndirect", pipelineGraphics, "SetGraphicsState") {
		return
	}
	if !c.indirect {
		c.errorf("DrawIndirect called without an indirect-argument buffer")
		return
	}
	c.CommandList.DrawIndirect(offsetBytes, drawCount)
}

func (c *CommandList) DrawIndexedIndirect(offsetBytes, drawCount uint32) {
	if !c.ready("DrawIndexedIndirect", pipelineGraphics, "SetGraphicsState") {
		return
	}
	if !c.indirect || !c.indexed {
		c.errorf("DrawIndexedIndirect needs an index buffer and an indirect-argument buffer")
		return
	}
	c.CommandList.DrawIndexedIndirect(offsetBytes, drawCount)
}

func (c *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) {
	if c.ready("Dispatch", pipelineCompute, "SetComputeState") {
		c.CommandList.Dispatch(groupsX, groupsY, groupsZ)
	}
}

func (c *CommandList) DispatchIndirect(offsetBytes uint32) {
	if !c.ready("DispatchIndirect", pipelineCompute, "SetComputeState") {
		return
	}
	if !c.indirect {
		c.errorf("DispatchIndirect called without an indirect-argument buffer")
		return
	}
	c.CommandList.DispatchIndirect(offsetBytes)
}

func (c *CommandList) DispatchMesh(groupsX, groupsY, groupsZ uint32) {
	if c.ready("DispatchMesh", pipelineMeshlet, "SetMeshletState") {
		c.CommandList.DispatchMesh(groupsX, groupsY, groupsZ)
	}
}

func (c *CommandList) DispatchRays(args rhi.DispatchRaysArguments) {
	if c.ready("DispatchRays", pipelineRayTracing, "SetRayTracingState") {
		c.CommandList.DispatchRays(args)
	}
}

func (c *CommandList) BuildBottomLevelAccelStruct(as rhi.AccelStruct, geometries []rhi.GeometryDesc, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildBottomLevelAccelStruct") {
		return
	}
	if as == nil || as.Desc().IsTopLevel {
		c.errorf("BuildBottomLevelAccelStruct needs a bottom-level acceleration structure")
		return
	}
	desc := as.Desc()
	var errs []string
	if flags.Has(rhi.AccelStructBuildPerformUpdate) && !desc.BuildFlags.Has(rhi.AccelStructBuildAllowUpdate) {
		errs = append(errs, fmt.Sprintf("BuildBottomLevelAccelStruct: %s was not created with AllowUpdate", desc.DebugName))
	}
	if flags.Has(rhi.AccelStructBuildAllowUpdate | rhi.AccelStructBuildAllowCompaction) {
		errs = append(errs, "BuildBottomLevelAccelStruct: AllowUpdate and AllowCompaction are mutually exclusive")
	}
	for i := range geometries {
		g := &geometries[i]
		var bufs []rhi.Buffer
		if g.Type == rhi.GeometryTypeAABBs {
			bufs = append(bufs, g.AABBs.Buffer)
		} else {
			bufs = append(bufs, g.Triangles.VertexBuffer, g.Triangles.IndexBuffer)
			if g.Triangles.VertexBuffer == nil {
				errs = append(errs, fmt.Sprintf("BuildBottomLevelAccelStruct: geometry %d has no vertex buffer", i))
			}
		}
		for _, b := range bufs {
			if b != nil && !b.Desc().IsAccelStructBuildInput {
				errs = append(errs, fmt.Sprintf("BuildBottomLevelAccelStruct: buffer %s of geometry %d was not created with IsAccelStructBuildInput", b.Desc().DebugName, i))
			}
		}
	}
	if !c.reportAll(errs) {
		return
	}
	c.CommandList.BuildBottomLevelAccelStruct(as, geometries, flags)
}

func (c *CommandList) BuildTopLevelAccelStruct(as rhi.AccelStruct, instances []rhi.InstanceDesc, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildTopLevelAccelStruct") || !c.topLevel("BuildTopLevelAccelStruct", as, len(instances), flags) {
		return
	}
	for i := range instances {
		if b := instances[i].BottomLevelAS; b != nil && b.Desc().IsTopLevel {
			c.errorf("BuildTopLevelAccelStruct: instance %d references a top-level acceleration structure", i)
			return
		}
	}
	c.CommandList.BuildTopLevelAccelStruct(as, instances, flags)
}

func (c *CommandList) BuildTopLevelAccelStructFromBuffer(as rhi.AccelStruct, instanceBuffer rhi.Buffer, instanceBufferOffset uint64, numInstances uint32, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildTopLevelAccelStructFromBuffer") || !c.topLevel("BuildTopLevelAccelStructFromBuffer", as, int(numInstances), flags) {
		return
	}
	if instanceBuffer == nil || !instanceBuffer.Desc().IsAccelStructBuildInput {
		c.errorf("BuildTopLevelAccelStructFromBuffer: the instance buffer must be created with IsAccelStructBuildInput")
		return
	}
	c.CommandList.BuildTopLevelAccelStructFromBuffer(as, instanceBuffer, instanceBufferOffset, numInstances, flags)
}

func (c *CommandList) topLevel(op string, as rhi.AccelStruct, n int, flags rhi.AccelStructBuildFlags) bool {
	if as == nil || !as.Desc().IsTopLevel {
		c.errorf("%s needs a top-level acceleration structure", op)
		return false
	}
	desc := as.Desc()
	if uint64(n) > desc.TopLevelMaxInstances {
		c.errorf("%s: %d instances exceed the %d %s was created for", op, n, desc.TopLevelMaxInstances, desc.DebugName)
		return false
	}
	if flags.Has(rhi.AccelStructBuildPerformUpdate) && !desc.BuildFlags.Has(rhi.AccelStructBuildAllowUpdate) {
		c.errorf("%s: %s was not created with AllowUpdate", op, desc.DebugName)
		return false
	}
	return true
}
