package core

import (
	"slices"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

const allBindings = ^uint32(0)

// bindingUpdateMask has a bit for every binding slot whose set differs from
// the previously bound one. Without a valid previous state every slot is
// rebound.
func bindingUpdateMask(keep bool, prev, next []rhi.BindingSet) uint32 {
	if !keep {
		return allBindings
	}
	mask := uint32(0)
	for i, b := range next {
		if i >= len(prev) || prev[i] != b {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// commitDescriptorHeaps binds the device's shader-visible heaps if they
// differ from the bound ones, which happens after a heap grew. It reports
// whether every binding must be rebound.
func (c *CommandList) commitDescriptorHeaps() bool {
	srv := c.dev.srvHeap.shaderVisibleHeap()
	smp := c.dev.samplerHeap.shaderVisibleHeap()
	if srv == c.heapSRV && smp == c.heapSampler {
		return false
	}
	c.cmd.native.SetDescriptorHeaps(srv, smp)
	c.heapSRV, c.heapSampler = srv, smp
	return true
}

func findVolatile(list []boundVolatileCB, root uint32) (uint64, bool) {
	for _, v := range list {
		if v.rootIndex == root {
			return v.address, true
		}
	}
	return 0, false
}

// setBindings binds the binding sets and descriptor tables selected by
// mask and returns the volatile constant buffers bound after the call.
func (c *CommandList) setBindings(bp native.BindPoint, rs *rootSignature, bindings []rhi.BindingSet, mask uint32, prev []boundVolatileCB) []boundVolatileCB {
	var bound []boundVolatileCB
	for i, b := range bindings {
		if b == nil {
			continue
		}
		if i >= len(rs.layouts) {
			c.msg.Errorf("Binding set %d has no matching binding layout in the pipeline", i)
			continue
		}
		update := mask&(1<<uint(i)) != 0
		offset := rs.layouts[i].offset

		switch s := b.(type) {
		case *bindingSet:
			if update {
				if s.srvTableValid {
					c.cmd.native.SetRootDescriptorTable(bp, offset+uint32(s.layout.srvTableRoot), c.dev.srvHeap.gpuHandle(s.srvTableBase))
				}
				if s.samplerTableValid {
					c.cmd.native.SetRootDescriptorTable(bp, offset+uint32(s.layout.samplerTableRoot), c.dev.samplerHeap.gpuHandle(s.samplerTableBase))
				}
				if s.desc.TrackLiveness {
					c.cmd.reference(s)
				}
			}
			for _, v := range s.volatileCBs {
				if v.buffer == nil {
					continue
				}
				root := offset + v.rootIndex
				addr, ok := c.volatileAddresses[v.buffer]
				if !ok {
					c.msg.Errorf("Volatile constant buffer %s was bound before it was written in this command list", v.buffer.desc.DebugName)
					continue
				}
				if old, had := findVolatile(prev, root); update || !had || old != addr {
					c.cmd.native.SetRootConstantBuffer(bp, root, addr)
				}
				bound = append(bound, boundVolatileCB{rootIndex: root, buffer: v.buffer, address: addr})
			}

		case *descriptorTable:
			if update {
				root := s.layout.srvTableRoot
				if root < 0 {
					root = s.layout.samplerTableRoot
				}
				c.cmd.native.SetRootDescriptorTable(bp, offset+uint32(root), s.heap.gpuHandle(s.base))
				c.cmd.reference(s)
			}

		default:
			c.msg.Errorf("Binding set %d was not created by this device", i)
		}
	}
	return bound
}

// updateVolatileBuffers rebinds volatile constant buffers written since the
// last draw or dispatch.
func (c *CommandList) updateVolatileBuffers(bp native.BindPoint, cbs []boundVolatileCB) {
	if !c.anyVolatileBufferWrites {
		return
	}
	for i := range cbs {
		addr := c.volatileAddresses[cbs[i].buffer]
		if addr != cbs[i].address {
			c.cmd.native.SetRootConstantBuffer(bp, cbs[i].rootIndex, addr)
			cbs[i].address = addr
		}
	}
	c.anyVolatileBufferWrites = false
}

func (c *CommandList) requireBindingStates(bindings []rhi.BindingSet) {
	for _, b := range bindings {
		if s, ok := b.(*bindingSet); ok {
			c.setResourceStatesForBindingSet(s)
		}
	}
}

func (c *CommandList) requireIndirect(b rhi.Buffer) {
	if buf, ok := b.(*buffer); ok && buf != nil {
		c.tracker.requireBufferState(buf, rhi.ResourceStateIndirectArgument)
	}
}

func (c *CommandList) setViewports(vs *rhi.ViewportState, scissorEnable bool) {
	if len(vs.Viewports) == 0 {
		return
	}
	scissors := vs.ScissorRects
	if !scissorEnable {
		scissors = make([]rhi.Rect, len(vs.Viewports))
		for i, v := range vs.Viewports {
			scissors[i] = rhi.Rect{MinX: int32(v.MinX), MaxX: int32(v.MaxX), MinY: int32(v.MinY), MaxY: int32(v.MaxY)}
		}
	}
	c.cmd.native.SetViewports(vs.Viewports, scissors)
}

func viewportsEqual(a, b *rhi.ViewportState) bool {
	return slices.Equal(a.Viewports, b.Viewports) && slices.Equal(a.ScissorRects, b.ScissorRects)
}

func vertexStride(il rhi.InputLayout, slot uint32) uint32 {
	if il == nil {
		return 0
	}
	for _, a := range il.Attributes() {
		if a.BufferIndex == slot {
			return a.ElementStride
		}
	}
	return 0
}

// SetGraphicsState binds everything a draw needs and invalidates the
// compute, meshlet and ray-tracing states.
func (c *CommandList) SetGraphicsState(state *rhi.GraphicsState) {
	if !c.recording("SetGraphicsState") {
		return
	}
	p, ok := state.Pipeline.(*graphicsPipeline)
	if !ok || p == nil {
		c.msg.Errorf("SetGraphicsState: pipeline is nil or was not created by this device")
		return
	}
	fb, ok := state.Framebuffer.(*framebuffer)
	if !ok || fb == nil {
		c.msg.Errorf("SetGraphicsState: framebuffer is nil or was not created by this device")
		return
	}

	prev := &c.graphics
	valid := c.graphicsValid
	var prevRoot *rootSignature
	if valid {
		prevRoot = prev.Pipeline.(*graphicsPipeline).rootSig
	}

	updateFramebuffer := !valid || prev.Framebuffer != state.Framebuffer
	updateRootSig := prevRoot != p.rootSig
	updatePipeline := !valid || prev.Pipeline != state.Pipeline
	updateViewports := !valid || !viewportsEqual(&prev.Viewport, &state.Viewport)
	updateBlend := !valid || prev.BlendConstantColor != state.BlendConstantColor
	updateStencil := !valid || prev.DynamicStencilRefValue != state.DynamicStencilRefValue
	updateIndex := !valid || prev.IndexBuffer != state.IndexBuffer
	updateVertex := !valid || !slices.Equal(prev.VertexBuffers, state.VertexBuffers)

	mask := bindingUpdateMask(valid && !updateRootSig, prev.Bindings, state.Bindings)
	if c.commitDescriptorHeaps() {
		mask = allBindings
	}
	c.computeValid, c.meshletValid, c.rayTracingValid = false, false, false

	if updatePipeline {
		c.cmd.native.SetPipeline(p.native)
		c.cmd.native.SetPrimitiveTopology(p.desc.PrimType)
		c.cmd.reference(p)
	}
	if updateRootSig || !valid {
		c.cmd.native.SetRootSignature(native.BindGraphics, p.rootSig.native)
	}

	ds := &p.desc.RenderState.DepthStencilState
	if ds.StencilEnable && (updatePipeline || updateStencil) {
		ref := ds.StencilRefValue
		if ds.DynamicStencilRef {
			ref = state.DynamicStencilRefValue
		}
		c.cmd.native.SetStencilRef(ref)
	}
	if p.requiresBlendFactor && (updatePipeline || updateBlend) {
		c.cmd.native.SetBlendConstant(state.BlendConstantColor)
	}
	if updateFramebuffer {
		c.cmd.native.SetRenderTargets(fb.rtvHandle, fb.dsvHandle)
		c.cmd.reference(fb)
	}

	c.graphicsVolatileCBs = c.setBindings(native.BindGraphics, p.rootSig, state.Bindings, mask, c.graphicsVolatileCBs)

	if updateIndex && state.IndexBuffer.Buffer != nil {
		if ib := c.asBuffer(state.IndexBuffer.Buffer, "SetGraphicsState index buffer"); ib != nil {
			c.cmd.native.SetIndexBuffer(ib.native, state.IndexBuffer.Format, uint64(state.IndexBuffer.Offset))
			c.cmd.reference(ib)
		}
	}
	if updateVertex && len(state.VertexBuffers) > 0 {
		vbs := make([]native.VertexBuffer, 0, len(state.VertexBuffers))
		for _, v := range state.VertexBuffers {
			vb := c.asBuffer(v.Buffer, "SetGraphicsState vertex buffer")
			if vb == nil {
				continue
			}
			vbs = append(vbs, native.VertexBuffer{
				Slot:   v.Slot,
				Buffer: vb.native,
				Offset: v.Offset,
				Stride: vertexStride(p.desc.InputLayout, v.Slot),
			})
			c.cmd.reference(vb)
		}
		c.cmd.native.SetVertexBuffers(vbs)
	}
	if state.IndirectParams != nil {
		c.cmd.reference(state.IndirectParams)
	}

	if c.enableAutomaticBarriers {
		c.requireBindingStates(state.Bindings)
		if ib, ok := state.IndexBuffer.Buffer.(*buffer); ok && ib != nil {
			c.tracker.requireBufferState(ib, rhi.ResourceStateIndexBuffer)
		}
		for _, v := range state.VertexBuffers {
			if vb, ok := v.Buffer.(*buffer); ok && vb != nil {
				c.tracker.requireBufferState(vb, rhi.ResourceStateVertexBuffer)
			}
		}
		c.requireIndirect(state.IndirectParams)
		c.setResourceStatesForFramebuffer(fb)
	}
	c.commitBarriers()

	if updateViewports || updatePipeline {
		c.setViewports(&state.Viewport, p.desc.RenderState.RasterState.ScissorEnable)
	}

	c.graphics = *state
	c.graphics.Bindings = slices.Clone(state.Bindings)
	c.graphics.VertexBuffers = slices.Clone(state.VertexBuffers)
	c.graphics.Viewport.Viewports = slices.Clone(state.Viewport.Viewports)
	c.graphics.Viewport.ScissorRects = slices.Clone(state.Viewport.ScissorRects)
	c.graphicsValid = true
	c.pushConstantsSet = false
}

func (c *CommandList) graphicsReady(op string) bool {
	if !c.recording(op) {
		return false
	}
	if !c.graphicsValid {
		c.msg.Errorf("%s called without a valid graphics state", op)
		return false
	}
	c.checkPushConstants(c.graphics.Pipeline.(*graphicsPipeline).rootSig, op)
	c.updateVolatileBuffers(native.BindGraphics, c.graphicsVolatileCBs)
	return true
}

func (c *CommandList) Draw(args rhi.DrawArguments) {
	if c.graphicsReady("Draw") {
		c.cmd.native.Draw(args)
	}
}

func (c *CommandList) DrawIndexed(args rhi.DrawArguments) {
	if c.graphicsReady("DrawIndexed") {
		c.cmd.native.DrawIndexed(args)
	}
}

func (c *CommandList) indirectBuffer(b rhi.Buffer, op string) *buffer {
	if b == nil {
		c.msg.Errorf("%s called without indirect parameters in the current state", op)
		return nil
	}
	return c.asBuffer(b, op)
}

func (c *CommandList) DrawIndirect(offsetBytes, drawCount uint32) {
	if !c.graphicsReady("DrawIndirect") {
		return
	}
	if buf := c.indirectBuffer(c.graphics.IndirectParams, "DrawIndirect"); buf != nil {
		c.cmd.native.DrawIndirect(buf.native, uint64(offsetBytes), drawCount, false)
	}
}

func (c *CommandList) DrawIndexedIndirect(offsetBytes, drawCount uint32) {
	if !c.graphicsReady("DrawIndexedIndirect") {
		return
	}
	if buf := c.indirectBuffer(c.graphics.IndirectParams, "DrawIndexedIndirect"); buf != nil {
		c.cmd.native.DrawIndirect(buf.native, uint64(offsetBytes), drawCount, true)
	}
}

// SetComputeState binds everything a dispatch needs and invalidates the
// graphics, meshlet and ray-tracing states.
func (c *CommandList) SetComputeState(state *rhi.ComputeState) {
	if !c.recording("SetComputeState") {
		return
	}
	p, ok := state.Pipeline.(*computePipeline)
	if !ok || p == nil {
		c.msg.Errorf("SetComputeState: pipeline is nil or was not created by this device")
		return
	}

	prev := &c.compute
	valid := c.computeValid
	var prevRoot *rootSignature
	if valid {
		prevRoot = prev.Pipeline.(*computePipeline).rootSig
	}
	updateRootSig := prevRoot != p.rootSig
	updatePipeline := !valid || prev.Pipeline != state.Pipeline

	mask := bindingUpdateMask(valid && !updateRootSig, prev.Bindings, state.Bindings)
	if c.commitDescriptorHeaps() {
		mask = allBindings
	}
	c.graphicsValid, c.meshletValid, c.rayTracingValid = false, false, false

	if updatePipeline {
		c.cmd.native.SetPipeline(p.native)
		c.cmd.reference(p)
	}
	if updateRootSig || !valid {
		c.cmd.native.SetRootSignature(native.BindCompute, p.rootSig.native)
	}

	c.computeVolatileCBs = c.setBindings(native.BindCompute, p.rootSig, state.Bindings, mask, c.computeVolatileCBs)

	if state.IndirectParams != nil {
		c.cmd.reference(state.IndirectParams)
	}
	if c.enableAutomaticBarriers {
		c.requireBindingStates(state.Bindings)
		c.requireIndirect(state.IndirectParams)
	}
	c.commitBarriers()

	c.compute = *state
	c.compute.Bindings = slices.Clone(state.Bindings)
	c.computeValid = true
	c.pushConstantsSet = false
}

func (c *CommandList) computeReady(op string) bool {
	if !c.recording(op) {
		return false
	}
	if !c.computeValid {
		c.msg.Errorf("%s called without a valid compute state", op)
		return false
	}
	c.checkPushConstants(c.compute.Pipeline.(*computePipeline).rootSig, op)
	c.updateVolatileBuffers(native.BindCompute, c.computeVolatileCBs)
	return true
}

func (c *CommandList) Dispatch(groupsX, groupsY, groupsZ uint32) {
	if c.computeReady("Dispatch") {
		c.cmd.native.Dispatch(groupsX, groupsY, groupsZ)
	}
}

func (c *CommandList) DispatchIndirect(offsetBytes uint32) {
	if !c.computeReady("DispatchIndirect") {
		return
	}
	if buf := c.indirectBuffer(c.compute.IndirectParams, "DispatchIndirect"); buf != nil {
		c.cmd.native.DispatchIndirect(buf.native, uint64(offsetBytes))
	}
}

// SetMeshletState binds everything a mesh dispatch needs and invalidates
// the graphics, compute and ray-tracing states.
func (c *CommandList) SetMeshletState(state *rhi.MeshletState) {
	if !c.recording("SetMeshletState") {
		return
	}
	p, ok := state.Pipeline.(*meshletPipeline)
	if !ok || p == nil {
		c.msg.Errorf("SetMeshletState: pipeline is nil or was not created by this device")
		return
	}
	fb, ok := state.Framebuffer.(*framebuffer)
	if !ok || fb == nil {
		c.msg.Errorf("SetMeshletState: framebuffer is nil or was not created by this device")
		return
	}

	prev := &c.meshlet
	valid := c.meshletValid
	var prevRoot *rootSignature
	if valid {
		prevRoot = prev.Pipeline.(*meshletPipeline).rootSig
	}
	updateFramebuffer := !valid || prev.Framebuffer != state.Framebuffer
	updateRootSig := prevRoot != p.rootSig
	updatePipeline := !valid || prev.Pipeline != state.Pipeline
	updateViewports := !valid || !viewportsEqual(&prev.Viewport, &state.Viewport)
	updateBlend := !valid || prev.BlendConstantColor != state.BlendConstantColor
	updateStencil := !valid || prev.DynamicStencilRefValue != state.DynamicStencilRefValue

	mask := bindingUpdateMask(valid && !updateRootSig, prev.Bindings, state.Bindings)
	if c.commitDescriptorHeaps() {
		mask = allBindings
	}
	c.graphicsValid, c.computeValid, c.rayTracingValid = false, false, false

	if updatePipeline {
		c.cmd.native.SetPipeline(p.native)
		c.cmd.native.SetPrimitiveTopology(p.desc.PrimType)
		c.cmd.reference(p)
	}
	if updateRootSig || !valid {
		c.cmd.native.SetRootSignature(native.BindGraphics, p.rootSig.native)
	}

	ds := &p.desc.RenderState.DepthStencilState
	if ds.StencilEnable && (updatePipeline || updateStencil) {
		ref := ds.StencilRefValue
		if ds.DynamicStencilRef {
			ref = state.DynamicStencilRefValue
		}
		c.cmd.native.SetStencilRef(ref)
	}
	if p.requiresBlendFactor && (updatePipeline || updateBlend) {
		c.cmd.native.SetBlendConstant(state.BlendConstantColor)
	}
	if updateFramebuffer {
		c.cmd.native.SetRenderTargets(fb.rtvHandle, fb.dsvHandle)
		c.cmd.reference(fb)
	}

	c.graphicsVolatileCBs = c.setBindings(native.BindGraphics, p.rootSig, state.Bindings, mask, c.graphicsVolatileCBs)

	if state.IndirectParams != nil {
		c.cmd.reference(state.IndirectParams)
	}
	if c.enableAutomaticBarriers {
		c.requireBindingStates(state.Bindings)
		c.requireIndirect(state.IndirectParams)
		c.setResourceStatesForFramebuffer(fb)
	}
	c.commitBarriers()

	if updateViewports || updatePipeline {
		c.setViewports(&state.Viewport, p.desc.RenderState.RasterState.ScissorEnable)
	}

	c.meshlet = *state
	c.meshlet.Bindings = slices.Clone(state.Bindings)
	c.meshlet.Viewport.Viewports = slices.Clone(state.Viewport.Viewports)
	c.meshlet.Viewport.ScissorRects = slices.Clone(state.Viewport.ScissorRects)
	c.meshletValid = true
	c.pushConstantsSet = false
}

func (c *CommandList) DispatchMesh(groupsX, groupsY, groupsZ uint32) {
	if !c.recording("DispatchMesh") {
		return
	}
	if !c.meshletValid {
		c.msg.Errorf("DispatchMesh called without a valid meshlet state")
		return
	}
	c.checkPushConstants(c.meshlet.Pipeline.(*meshletPipeline).rootSig, "DispatchMesh")
	c.updateVolatileBuffers(native.BindGraphics, c.graphicsVolatileCBs)
	c.cmd.native.DispatchMesh(groupsX, groupsY, groupsZ)
}

// SetPushConstants writes the push-constant block of the bound pipeline.
// data must be exactly as large as the block the pipeline declares.
func (c *CommandList) SetPushConstants(data []byte) {
	if !c.recording("SetPushConstants") {
		return
	}
	var rs *rootSignature
	bp := native.BindGraphics
	switch {
	case c.graphicsValid:
		rs = c.graphics.Pipeline.(*graphicsPipeline).rootSig
	case c.computeValid:
		rs, bp = c.compute.Pipeline.(*computePipeline).rootSig, native.BindCompute
	case c.meshletValid:
		rs = c.meshlet.Pipeline.(*meshletPipeline).rootSig
	case c.rayTracingValid:
		rs, bp = c.rayTracing.ShaderTable.(*shaderTable).pipeline.rootSig, native.BindRayTracing
	}
	if rs == nil {
		c.msg.Errorf("SetPushConstants called without a pipeline state")
		return
	}
	if rs.pushConstantRoot < 0 {
		c.msg.Errorf("SetPushConstants called but the bound pipeline declares no push constants")
		return
	}
	if uint32(len(data)) != rs.pushConstantSize {
		c.msg.Errorf("SetPushConstants: %d bytes supplied but the pipeline declares %d", len(data), rs.pushConstantSize)
		return
	}
	c.cmd.native.SetRootConstants(bp, uint32(rs.pushConstantRoot), slices.Clone(data))
	c.pushConstantsSet = true
}

// checkPushConstants warns when the bound pipeline declares push constants
// that were not set since the last set*State call.
func (c *CommandList) checkPushConstants(rs *rootSignature, op string) {
	if rs.pushConstantRoot >= 0 && !c.pushConstantsSet {
		c.msg.Warnf("%s: the pipeline declares push constants but SetPushConstants was not called after the last state change", op)
	}
}
