package core

import (
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

func (c *CommandList) requireTexture(t *texture, sub rhi.TextureSubresourceSet, state rhi.ResourceStates) {
	if c.enableAutomaticBarriers {
		c.tracker.requireTextureState(t, sub, state)
	}
}

func (c *CommandList) requireBuffer(b *buffer, state rhi.ResourceStates) {
	if c.enableAutomaticBarriers {
		c.tracker.requireBufferState(b, state)
	}
}

// stampBuffer makes a CPU-visible buffer wait for this submission before
// it can be mapped again.
func (c *CommandList) stampBuffer(b *buffer) {
	if b.desc.CPUAccess != rhi.CPUAccessNone {
		c.cmd.lastUse = append(c.cmd.lastUse, &b.lastUse)
	}
}

// clearTargetState picks the state a color clear needs.
func (c *CommandList) clearTargetState(tex *texture, op string) (rhi.ResourceStates, bool) {
	switch {
	case tex.desc.IsRenderTarget:
		return rhi.ResourceStateRenderTarget, true
	case tex.desc.IsUAV:
		return rhi.ResourceStateUnorderedAccess, true
	}
	c.msg.Errorf("%s: texture %s is neither a render target nor a UAV", op, tex.desc.DebugName)
	return 0, false
}

func (c *CommandList) ClearTextureFloat(t rhi.Texture, subresources rhi.TextureSubresourceSet, color rhi.Color) {
	if !c.recording("ClearTextureFloat") {
		return
	}
	tex := c.asTexture(t, "ClearTextureFloat")
	if tex == nil {
		return
	}
	info := rhi.GetFormatInfo(tex.desc.Format)
	if info.HasDepth || info.HasStencil {
		c.msg.Errorf("ClearTextureFloat cannot clear depth-stencil texture %s", tex.desc.DebugName)
		return
	}
	if info.Kind == rhi.FormatKindInteger {
		c.msg.Errorf("ClearTextureFloat cannot clear integer texture %s; use ClearTextureUInt", tex.desc.DebugName)
		return
	}
	state, ok := c.clearTargetState(tex, "ClearTextureFloat")
	if !ok {
		return
	}
	sub := subresources.Resolve(&tex.desc, false)
	c.requireTexture(tex, sub, state)
	c.commitBarriers()
	c.cmd.native.ClearTextureFloat(tex.native, sub, color)
	c.cmd.reference(tex)
}

func (c *CommandList) ClearDepthStencilTexture(t rhi.Texture, subresources rhi.TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8) {
	if !c.recording("ClearDepthStencilTexture") {
		return
	}
	tex := c.asTexture(t, "ClearDepthStencilTexture")
	if tex == nil {
		return
	}
	if !clearDepth && !clearStencil {
		return
	}
	info := rhi.GetFormatInfo(tex.desc.Format)
	if !info.HasDepth && !info.HasStencil {
		c.msg.Errorf("ClearDepthStencilTexture called on texture %s without a depth-stencil format", tex.desc.DebugName)
		return
	}
	if !tex.desc.IsRenderTarget {
		c.msg.Errorf("ClearDepthStencilTexture: texture %s is not a render target", tex.desc.DebugName)
		return
	}
	sub := subresources.Resolve(&tex.desc, false)
	c.requireTexture(tex, sub, rhi.ResourceStateDepthWrite)
	c.commitBarriers()
	c.cmd.native.ClearDepthStencil(tex.native, sub, clearDepth, depth, clearStencil && info.HasStencil, stencil)
	c.cmd.reference(tex)
}

func (c *CommandList) ClearTextureUInt(t rhi.Texture, subresources rhi.TextureSubresourceSet, value uint32) {
	if !c.recording("ClearTextureUInt") {
		return
	}
	tex := c.asTexture(t, "ClearTextureUInt")
	if tex == nil {
		return
	}
	if rhi.GetFormatInfo(tex.desc.Format).Kind != rhi.FormatKindInteger {
		c.msg.Errorf("ClearTextureUInt requires an integer format; texture %s is %s", tex.desc.DebugName, tex.desc.Format)
		return
	}
	state, ok := c.clearTargetState(tex, "ClearTextureUInt")
	if !ok {
		return
	}
	sub := subresources.Resolve(&tex.desc, false)
	c.requireTexture(tex, sub, state)
	c.commitBarriers()
	c.cmd.native.ClearTextureUInt(tex.native, sub, value)
	c.cmd.reference(tex)
}

func sliceSubresource(s rhi.TextureSlice) rhi.TextureSubresourceSet {
	return rhi.Subresource(s.MipLevel, s.ArraySlice)
}

func (c *CommandList) CopyTexture(dst rhi.Texture, dstSlice rhi.TextureSlice, src rhi.Texture, srcSlice rhi.TextureSlice) {
	if !c.recording("CopyTexture") {
		return
	}
	d, s := c.asTexture(dst, "CopyTexture"), c.asTexture(src, "CopyTexture")
	if d == nil || s == nil {
		return
	}
	ds, ss := dstSlice.Resolve(&d.desc), srcSlice.Resolve(&s.desc)
	c.requireTexture(d, sliceSubresource(ds), rhi.ResourceStateCopyDest)
	c.requireTexture(s, sliceSubresource(ss), rhi.ResourceStateCopySource)
	c.commitBarriers()
	c.cmd.native.CopyTexture(d.native, ds, s.native, ss)
	c.cmd.reference(d)
	c.cmd.reference(s)
}

// stagingRegion locates a box of a staging texture in its buffer.
func stagingRegion(st *stagingTexture, slice rhi.TextureSlice) native.BufferLayout {
	l := st.layout(slice.MipLevel, slice.ArraySlice)
	info := rhi.GetFormatInfo(st.desc.Format)
	block := uint32(max(info.BlockSize, 1))
	offset := l.offset +
		uint64(slice.Z)*l.depthPitch +
		uint64(slice.Y/block)*l.rowPitch +
		uint64(slice.X/block)*uint64(info.BytesPerBlock)
	return native.BufferLayout{Offset: offset, RowPitch: l.rowPitch, DepthPitch: l.depthPitch}
}

func (c *CommandList) CopyTextureToStaging(dst rhi.StagingTexture, dstSlice rhi.TextureSlice, src rhi.Texture, srcSlice rhi.TextureSlice) {
	if !c.recording("CopyTextureToStaging") {
		return
	}
	d, s := c.asStaging(dst, "CopyTextureToStaging"), c.asTexture(src, "CopyTextureToStaging")
	if d == nil || s == nil {
		return
	}
	ds, ss := dstSlice.Resolve(&d.desc), srcSlice.Resolve(&s.desc)
	c.requireTexture(s, sliceSubresource(ss), rhi.ResourceStateCopySource)
	c.commitBarriers()
	c.cmd.native.CopyTextureToBuffer(d.buffer, stagingRegion(d, ds), s.native, ss)
	c.cmd.reference(d)
	c.cmd.reference(s)
	c.cmd.lastUse = append(c.cmd.lastUse, &d.lastUse)
}

func (c *CommandList) CopyTextureFromStaging(dst rhi.Texture, dstSlice rhi.TextureSlice, src rhi.StagingTexture, srcSlice rhi.TextureSlice) {
	if !c.recording("CopyTextureFromStaging") {
		return
	}
	d, s := c.asTexture(dst, "CopyTextureFromStaging"), c.asStaging(src, "CopyTextureFromStaging")
	if d == nil || s == nil {
		return
	}
	ds, ss := dstSlice.Resolve(&d.desc), srcSlice.Resolve(&s.desc)
	ds.Width, ds.Height, ds.Depth = min(ds.Width, ss.Width), min(ds.Height, ss.Height), min(ds.Depth, ss.Depth)
	c.requireTexture(d, sliceSubresource(ds), rhi.ResourceStateCopyDest)
	c.commitBarriers()
	c.cmd.native.CopyBufferToTexture(d.native, ds, s.buffer, stagingRegion(s, ss))
	c.cmd.reference(d)
	c.cmd.reference(s)
	c.cmd.lastUse = append(c.cmd.lastUse, &s.lastUse)
}

// WriteTexture uploads one subresource. rowPitch and depthPitch describe
// data; rows are repacked to the back-end's copy alignment.
func (c *CommandList) WriteTexture(dst rhi.Texture, arraySlice, mipLevel uint32, data []byte, rowPitch, depthPitch uint64) {
	if !c.recording("WriteTexture") {
		return
	}
	tex := c.asTexture(dst, "WriteTexture")
	if tex == nil {
		return
	}
	if mipLevel >= tex.desc.MipLevels || arraySlice >= tex.desc.ArraySize {
		c.msg.Errorf("WriteTexture: subresource (mip %d, slice %d) is outside texture %s", mipLevel, arraySlice, tex.desc.DebugName)
		return
	}

	limits := c.dev.limits
	layout := copyLayout(&tex.desc, mipLevel, limits.StagingRowPitchAlignment)
	info := rhi.GetFormatInfo(tex.desc.Format)
	w, _, depth := tex.desc.MipSize(mipLevel)
	block := uint32(max(info.BlockSize, 1))
	rowBytes := uint64((w+block-1)/block) * uint64(info.BytesPerBlock)

	if rowPitch < rowBytes {
		c.msg.Errorf("WriteTexture: row pitch %d is smaller than a row of %d bytes", rowPitch, rowBytes)
		return
	}
	need := uint64(depth-1)*depthPitch + uint64(layout.rows-1)*rowPitch + rowBytes
	if uint64(len(data)) < need {
		c.msg.Errorf("WriteTexture: %d bytes supplied, %d needed", len(data), need)
		return
	}

	alloc, err := c.upload.suballocate(layout.size, limits.StagingPlacementAlignment, c.recordingVersion, c.cmd.native)
	if err != nil {
		c.msg.Errorf("WriteTexture: %v", err)
		return
	}
	for z := uint64(0); z < uint64(depth); z++ {
		for row := uint64(0); row < uint64(layout.rows); row++ {
			from := z*depthPitch + row*rowPitch
			to := z*layout.depthPitch + row*layout.rowPitch
			copy(alloc.cpu[to:to+rowBytes], data[from:from+rowBytes])
		}
	}

	slice := rhi.EntireSlice(mipLevel, arraySlice).Resolve(&tex.desc)
	c.requireTexture(tex, rhi.Subresource(mipLevel, arraySlice), rhi.ResourceStateCopyDest)
	c.commitBarriers()
	c.cmd.native.CopyBufferToTexture(tex.native, slice, alloc.buffer, native.BufferLayout{
		Offset:     alloc.offset,
		RowPitch:   layout.rowPitch,
		DepthPitch: layout.depthPitch,
	})
	c.cmd.reference(tex)
}

// ResolveTexture resolves a multisampled source into a single-sampled
// destination of the same format, subresource by subresource.
func (c *CommandList) ResolveTexture(dst rhi.Texture, dstSubresources rhi.TextureSubresourceSet, src rhi.Texture, srcSubresources rhi.TextureSubresourceSet) {
	if !c.recording("ResolveTexture") {
		return
	}
	d, s := c.asTexture(dst, "ResolveTexture"), c.asTexture(src, "ResolveTexture")
	if d == nil || s == nil {
		return
	}
	dsub, ssub := dstSubresources.Resolve(&d.desc, false), srcSubresources.Resolve(&s.desc, false)
	switch {
	case dsub.NumMipLevels != ssub.NumMipLevels || dsub.NumArraySlices != ssub.NumArraySlices:
		c.msg.Errorf("ResolveTexture: source and destination subresource sets differ in size")
		return
	case d.desc.SampleCount > 1:
		c.msg.Errorf("ResolveTexture: destination %s is multisampled", d.desc.DebugName)
		return
	case s.desc.SampleCount <= 1:
		c.msg.Errorf("ResolveTexture: source %s is not multisampled", s.desc.DebugName)
		return
	case d.desc.Format != s.desc.Format:
		c.msg.Errorf("ResolveTexture: formats differ (%s and %s)", d.desc.Format, s.desc.Format)
		return
	}
	dw, dh, _ := d.desc.MipSize(dsub.BaseMipLevel)
	sw, sh, _ := s.desc.MipSize(ssub.BaseMipLevel)
	if sw != dw || sh != dh {
		c.msg.Errorf("ResolveTexture: source and destination dimensions differ")
		return
	}

	c.requireTexture(d, dsub, rhi.ResourceStateResolveDest)
	c.requireTexture(s, ssub, rhi.ResourceStateResolveSource)
	c.commitBarriers()
	for m := uint32(0); m < dsub.NumMipLevels; m++ {
		for a := uint32(0); a < dsub.NumArraySlices; a++ {
			c.cmd.native.ResolveTexture(
				d.native, dsub.BaseMipLevel+m, dsub.BaseArraySlice+a,
				s.native, ssub.BaseMipLevel+m, ssub.BaseArraySlice+a,
				d.desc.Format)
		}
	}
	c.cmd.reference(d)
	c.cmd.reference(s)
}

// WriteBuffer uploads data into b at destOffset. A volatile buffer gets a
// fresh upload region that the next draw or dispatch binds.
func (c *CommandList) WriteBuffer(b rhi.Buffer, data []byte, destOffset uint64) {
	if !c.recording("WriteBuffer") {
		return
	}
	buf := c.asBuffer(b, "WriteBuffer")
	if buf == nil {
		return
	}
	size := uint64(len(data))
	if destOffset+size > buf.desc.ByteSize {
		c.msg.Errorf("WriteBuffer: %d bytes at offset %d overflow buffer %s of %d bytes", size, destOffset, buf.desc.DebugName, buf.desc.ByteSize)
		return
	}
	align := max(c.dev.limits.ConstantBufferOffsetAlignment, 4)

	if buf.desc.IsVolatile {
		if destOffset != 0 {
			c.msg.Errorf("WriteBuffer: volatile buffer %s must be written at offset 0", buf.desc.DebugName)
			return
		}
		alloc, err := c.upload.suballocate(buf.desc.ByteSize, align, c.recordingVersion, c.cmd.native)
		if err != nil {
			c.msg.Errorf("WriteBuffer: %v", err)
			return
		}
		copy(alloc.cpu, data)
		c.volatileAddresses[buf] = alloc.gpuAddress
		c.anyVolatileBufferWrites = true
		c.cmd.reference(buf)
		return
	}

	alloc, err := c.upload.suballocate(size, align, c.recordingVersion, c.cmd.native)
	if err != nil {
		c.msg.Errorf("WriteBuffer: %v", err)
		return
	}
	copy(alloc.cpu, data)
	c.requireBuffer(buf, rhi.ResourceStateCopyDest)
	c.commitBarriers()
	c.cmd.native.CopyBuffer(buf.native, destOffset, alloc.buffer, alloc.offset, size)
	c.cmd.reference(buf)
	c.stampBuffer(buf)
}

func (c *CommandList) ClearBufferUInt(b rhi.Buffer, value uint32) {
	if !c.recording("ClearBufferUInt") {
		return
	}
	buf := c.asBuffer(b, "ClearBufferUInt")
	if buf == nil {
		return
	}
	if !buf.desc.CanHaveUAVs {
		c.msg.Errorf("ClearBufferUInt: buffer %s was not created with CanHaveUAVs", buf.desc.DebugName)
		return
	}
	c.requireBuffer(buf, rhi.ResourceStateUnorderedAccess)
	c.commitBarriers()
	c.cmd.native.ClearBufferUInt(buf.native, value)
	c.cmd.reference(buf)
}

func (c *CommandList) CopyBuffer(dst rhi.Buffer, dstOffset uint64, src rhi.Buffer, srcOffset uint64, byteSize uint64) {
	if !c.recording("CopyBuffer") {
		return
	}
	d, s := c.asBuffer(dst, "CopyBuffer"), c.asBuffer(src, "CopyBuffer")
	if d == nil || s == nil {
		return
	}
	if d.desc.IsVolatile || s.desc.IsVolatile {
		c.msg.Errorf("CopyBuffer cannot copy to or from a volatile buffer")
		return
	}
	if dstOffset+byteSize > d.desc.ByteSize || srcOffset+byteSize > s.desc.ByteSize {
		c.msg.Errorf("CopyBuffer: range of %d bytes is outside %s or %s", byteSize, d.desc.DebugName, s.desc.DebugName)
		return
	}
	c.requireBuffer(d, rhi.ResourceStateCopyDest)
	c.requireBuffer(s, rhi.ResourceStateCopySource)
	c.commitBarriers()
	c.cmd.native.CopyBuffer(d.native, dstOffset, s.native, srcOffset, byteSize)
	c.cmd.reference(d)
	c.cmd.reference(s)
	c.stampBuffer(d)
	c.stampBuffer(s)
}
