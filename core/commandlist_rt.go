package core

import (
	"slices"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// instanceAlignment is the placement alignment of TLAS instance arrays.
const instanceAlignment = 16

func (c *CommandList) buildInput(b rhi.Buffer, op string) native.Buffer {
	if b == nil {
		return nil
	}
	buf := c.asBuffer(b, op)
	if buf == nil {
		return nil
	}
	c.requireBuffer(buf, rhi.ResourceStateAccelStructBuildInput)
	c.cmd.reference(buf)
	return buf.native
}

// BuildBottomLevelAccelStruct builds or, with PerformUpdate, refits a
// BLAS. An update must keep the geometry count and every primitive count
// of the last full build.
func (c *CommandList) BuildBottomLevelAccelStruct(as rhi.AccelStruct, geometries []rhi.GeometryDesc, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildBottomLevelAccelStruct") {
		return
	}
	a := c.asAccelStruct(as, "BuildBottomLevelAccelStruct")
	if a == nil {
		return
	}
	if a.desc.IsTopLevel {
		c.msg.Errorf("BuildBottomLevelAccelStruct called on top-level acceleration structure %s", a.desc.DebugName)
		return
	}

	counts := make([]uint32, len(geometries))
	for i := range geometries {
		counts[i] = geometries[i].PrimitiveCount()
	}
	update := flags.Has(rhi.AccelStructBuildPerformUpdate)
	if update {
		switch {
		case !a.desc.BuildFlags.Has(rhi.AccelStructBuildAllowUpdate):
			c.msg.Errorf("Cannot update acceleration structure %s: it was not created with AllowUpdate", a.desc.DebugName)
			return
		case !a.built:
			c.msg.Errorf("Cannot update acceleration structure %s: it has not been built", a.desc.DebugName)
			return
		case len(counts) != len(a.primitiveCounts):
			c.msg.Errorf("Cannot update acceleration structure %s: geometry count changed from %d to %d",
				a.desc.DebugName, len(a.primitiveCounts), len(counts))
			return
		}
		for i := range counts {
			if counts[i] != a.primitiveCounts[i] {
				c.msg.Errorf("Cannot update acceleration structure %s: geometry %d has %d primitives, the last build had %d",
					a.desc.DebugName, i, counts[i], a.primitiveCounts[i])
				return
			}
		}
	}

	in := native.AccelStructInputs{Flags: flags | a.desc.BuildFlags&(rhi.AccelStructBuildAllowUpdate|rhi.AccelStructBuildAllowCompaction)}
	for _, g := range geometries {
		gi := native.GeometryInput{Desc: g}
		if g.Type == rhi.GeometryTypeAABBs {
			gi.AABBBuffer = c.buildInput(g.AABBs.Buffer, "BuildBottomLevelAccelStruct")
		} else {
			gi.VertexBuffer = c.buildInput(g.Triangles.VertexBuffer, "BuildBottomLevelAccelStruct")
			gi.IndexBuffer = c.buildInput(g.Triangles.IndexBuffer, "BuildBottomLevelAccelStruct")
		}
		in.Geometries = append(in.Geometries, gi)
	}

	info := c.dev.be.AccelStructPrebuildInfo(&in)
	if info.ResultSize > a.data.desc.ByteSize {
		c.msg.Errorf("Acceleration structure %s needs %d bytes for these geometries but has %d",
			a.desc.DebugName, info.ResultSize, a.data.desc.ByteSize)
		return
	}
	scratchSize := info.ScratchSize
	if update {
		scratchSize = info.UpdateScratchSize
	}

	c.requireBuffer(a.data, rhi.ResourceStateAccelStructWrite)
	c.commitBarriers()

	scratch, err := c.scratch.suballocate(max(scratchSize, 1), max(c.dev.limits.AccelStructScratchAlignment, 1), c.recordingVersion, c.cmd.native)
	if err != nil {
		c.msg.Errorf("BuildBottomLevelAccelStruct: %v", err)
		return
	}

	build := native.AccelStructBuild{
		Inputs:        in,
		Dest:          a.data.native,
		Scratch:       scratch.buffer,
		ScratchOffset: scratch.offset,
	}
	if update {
		build.Source = a.data.native
	} else if a.sizeReadback != nil {
		c.dev.compaction.forget(a)
		build.CompactedSize = a.sizeReadback
		c.cmd.compactable = append(c.cmd.compactable, a)
	}
	c.cmd.native.BuildAccelStruct(&build)
	c.cmd.reference(a)

	a.built = true
	if !update {
		a.primitiveCounts = counts
		a.compacted = false
	}
}

// BuildTopLevelAccelStruct uploads instances, rewriting each BLAS
// reference to its device address, and builds the TLAS from them.
func (c *CommandList) BuildTopLevelAccelStruct(as rhi.AccelStruct, instances []rhi.InstanceDesc, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildTopLevelAccelStruct") {
		return
	}
	a := c.tlas(as, len(instances), flags, "BuildTopLevelAccelStruct")
	if a == nil {
		return
	}

	alloc, err := c.upload.suballocate(max(uint64(len(instances))*rhi.InstanceDescSize, 1), instanceAlignment, c.recordingVersion, c.cmd.native)
	if err != nil {
		c.msg.Errorf("BuildTopLevelAccelStruct: %v", err)
		return
	}
	for i := range instances {
		inst := &instances[i]
		addr := inst.BLASDeviceAddress
		if inst.BottomLevelAS != nil {
			blas := c.asAccelStruct(inst.BottomLevelAS, "BuildTopLevelAccelStruct")
			if blas == nil {
				return
			}
			addr = blas.DeviceAddress()
			c.requireBuffer(blas.data, rhi.ResourceStateAccelStructBuildBlas)
			c.cmd.reference(blas)
		}
		inst.Encode(alloc.cpu[i*rhi.InstanceDescSize:], addr)
	}
	if a.desc.TrackLiveness {
		a.setBottomLevel(instances)
	}
	c.buildTopLevel(a, alloc.buffer, alloc.offset, uint32(len(instances)), flags)
}

// BuildTopLevelAccelStructFromBuffer builds a TLAS from instance
// descriptors already in GPU memory.
func (c *CommandList) BuildTopLevelAccelStructFromBuffer(as rhi.AccelStruct, instanceBuffer rhi.Buffer, instanceBufferOffset uint64, numInstances uint32, flags rhi.AccelStructBuildFlags) {
	if !c.recording("BuildTopLevelAccelStructFromBuffer") {
		return
	}
	a := c.tlas(as, int(numInstances), flags, "BuildTopLevelAccelStructFromBuffer")
	if a == nil {
		return
	}
	buf := c.asBuffer(instanceBuffer, "BuildTopLevelAccelStructFromBuffer")
	if buf == nil {
		return
	}
	if instanceBufferOffset+uint64(numInstances)*rhi.InstanceDescSize > buf.desc.ByteSize {
		c.msg.Errorf("BuildTopLevelAccelStructFromBuffer: %d instances at offset %d overflow buffer %s",
			numInstances, instanceBufferOffset, buf.desc.DebugName)
		return
	}
	c.requireBuffer(buf, rhi.ResourceStateAccelStructBuildInput)
	c.cmd.reference(buf)
	c.buildTopLevel(a, buf.native, instanceBufferOffset, numInstances, flags)
}

// tlas checks a top-level build request.
func (c *CommandList) tlas(as rhi.AccelStruct, n int, flags rhi.AccelStructBuildFlags, op string) *accelStruct {
	a := c.asAccelStruct(as, op)
	if a == nil {
		return nil
	}
	switch {
	case !a.desc.IsTopLevel:
		c.msg.Errorf("%s called on bottom-level acceleration structure %s", op, a.desc.DebugName)
		return nil
	case uint64(n) > a.desc.TopLevelMaxInstances:
		c.msg.Errorf("%s: %d instances exceed the %d acceleration structure %s was created for",
			op, n, a.desc.TopLevelMaxInstances, a.desc.DebugName)
		return nil
	case flags.Has(rhi.AccelStructBuildPerformUpdate) && !a.desc.BuildFlags.Has(rhi.AccelStructBuildAllowUpdate):
		c.msg.Errorf("Cannot update acceleration structure %s: it was not created with AllowUpdate", a.desc.DebugName)
		return nil
	case flags.Has(rhi.AccelStructBuildPerformUpdate) && !a.built:
		c.msg.Errorf("Cannot update acceleration structure %s: it has not been built", a.desc.DebugName)
		return nil
	}
	return a
}

func (c *CommandList) buildTopLevel(a *accelStruct, instances native.Buffer, offset uint64, n uint32, flags rhi.AccelStructBuildFlags) {
	update := flags.Has(rhi.AccelStructBuildPerformUpdate)
	in := native.AccelStructInputs{
		IsTopLevel:     true,
		Flags:          flags | a.desc.BuildFlags&rhi.AccelStructBuildAllowUpdate,
		NumInstances:   n,
		InstanceBuffer: instances,
		InstanceOffset: offset,
	}
	info := c.dev.be.AccelStructPrebuildInfo(&in)
	scratchSize := info.ScratchSize
	if update {
		scratchSize = info.UpdateScratchSize
	}

	c.requireBuffer(a.data, rhi.ResourceStateAccelStructWrite)
	c.commitBarriers()

	scratch, err := c.scratch.suballocate(max(scratchSize, 1), max(c.dev.limits.AccelStructScratchAlignment, 1), c.recordingVersion, c.cmd.native)
	if err != nil {
		c.msg.Errorf("Top-level acceleration structure build: %v", err)
		return
	}
	build := native.AccelStructBuild{
		Inputs:        in,
		Dest:          a.data.native,
		Scratch:       scratch.buffer,
		ScratchOffset: scratch.offset,
	}
	if update {
		build.Source = a.data.native
	}
	c.cmd.native.BuildAccelStruct(&build)
	c.cmd.reference(a)
	a.built = true
}

// CompactBottomLevelAccelStructs copies every BLAS whose compacted size is
// known into a buffer of that size. It does nothing unless compaction is
// enabled on the device.
func (c *CommandList) CompactBottomLevelAccelStructs() {
	if !c.recording("CompactBottomLevelAccelStructs") || !c.dev.compaction.enabled {
		return
	}
	for _, a := range c.dev.compaction.take() {
		c.compact(a)
		a.Release()
	}
}

func (c *CommandList) compact(a *accelStruct) {
	if a.compacted || a.compactedSize == 0 || a.compactedSize >= a.data.desc.ByteSize {
		return
	}
	dst, err := c.dev.createBuffer(rhi.BufferDesc{
		ByteSize:             a.compactedSize,
		DebugName:            a.desc.DebugName,
		CanHaveUAVs:          true,
		IsAccelStructStorage: true,
		InitialState:         rhi.ResourceStateAccelStructBuildBlas,
		KeepInitialState:     true,
	})
	if err != nil {
		c.msg.Errorf("Failed to compact acceleration structure %s: %v", a.desc.DebugName, err)
		return
	}

	src := a.data
	c.requireBuffer(src, rhi.ResourceStateAccelStructRead)
	c.requireBuffer(dst, rhi.ResourceStateAccelStructWrite)
	c.commitBarriers()
	c.cmd.native.CopyAccelStruct(dst.native, src.native, true)
	c.cmd.reference(src)
	c.cmd.reference(a)

	a.AddRef()
	c.compactions = append(c.compactions, pendingCompaction{as: a, data: dst})
}

type pendingCompaction struct {
	as   *accelStruct
	data *buffer
}

// applyCompactions points every compacted BLAS at its new storage. The old
// storage stays referenced by the command buffer until the copy completes.
func (c *CommandList) applyCompactions() {
	for _, p := range c.compactions {
		a, src := p.as, p.as.data
		a.data = p.data
		a.compacted = true
		src.Release()
		rhi.Logger().Debug("rhi: compacted acceleration structure",
			"name", a.desc.DebugName, "from", src.desc.ByteSize, "to", p.data.desc.ByteSize)
		a.Release()
	}
	clear(c.compactions)
	c.compactions = c.compactions[:0]
}

// dropCompactions forgets compactions of a recording that will never run
// and hands the BLAS back to the compaction registry.
func (c *CommandList) dropCompactions() {
	for _, p := range c.compactions {
		p.data.Release()
		c.dev.compaction.requeue(p.as)
	}
	clear(c.compactions)
	c.compactions = c.compactions[:0]
}

// SetRayTracingState binds a shader table and global bindings and
// invalidates the graphics, compute and meshlet states. The shader table
// is uploaded again when it changed since this list last uploaded it.
func (c *CommandList) SetRayTracingState(state *rhi.RayTracingState) {
	if !c.recording("SetRayTracingState") {
		return
	}
	t, ok := state.ShaderTable.(*shaderTable)
	if !ok || t == nil {
		c.msg.Errorf("SetRayTracingState: shader table is nil or was not created by this device")
		return
	}
	p := t.pipeline

	ts := c.shaderTables[t]
	if ts == nil || ts.version != t.version {
		var err error
		ts, err = c.uploadShaderTable(t)
		if err != nil {
			c.msg.Errorf("SetRayTracingState: %v", err)
			return
		}
		c.shaderTables[t] = ts
	}

	prev := &c.rayTracing
	valid := c.rayTracingValid
	var prevPipeline *rayTracingPipeline
	if valid {
		prevPipeline = prev.ShaderTable.(*shaderTable).pipeline
	}
	updatePipeline := prevPipeline != p
	updateRootSig := prevPipeline == nil || prevPipeline.rootSig != p.rootSig

	mask := bindingUpdateMask(valid && !updateRootSig, prev.Bindings, state.Bindings)
	if c.commitDescriptorHeaps() {
		mask = allBindings
	}
	c.graphicsValid, c.computeValid, c.meshletValid = false, false, false

	if updatePipeline {
		c.cmd.native.SetPipeline(p.native)
		c.cmd.reference(p)
	}
	if updateRootSig {
		c.cmd.native.SetRootSignature(native.BindRayTracing, p.rootSig.native)
	}
	c.cmd.reference(t)

	c.computeVolatileCBs = c.setBindings(native.BindRayTracing, p.rootSig, state.Bindings, mask, c.computeVolatileCBs)

	if c.enableAutomaticBarriers {
		c.requireBindingStates(state.Bindings)
	}
	c.commitBarriers()

	c.rayTracing = *state
	c.rayTracing.Bindings = slices.Clone(state.Bindings)
	c.rayTracingValid = true
	c.pushConstantsSet = false
}

func (c *CommandList) DispatchRays(args rhi.DispatchRaysArguments) {
	if !c.recording("DispatchRays") {
		return
	}
	if !c.rayTracingValid {
		c.msg.Errorf("DispatchRays called without a valid ray tracing state")
		return
	}
	c.checkPushConstants(c.rayTracing.ShaderTable.(*shaderTable).pipeline.rootSig, "DispatchRays")
	c.updateVolatileBuffers(native.BindRayTracing, c.computeVolatileCBs)
	desc := c.shaderTables[c.rayTracing.ShaderTable.(*shaderTable)].dispatch
	desc.Width, desc.Height, desc.Depth = args.Width, args.Height, max(args.Depth, 1)
	c.cmd.native.DispatchRays(&desc)
}
