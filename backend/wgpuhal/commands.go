// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// CommandBuffer records into a HAL command encoder. Operations the HAL
// cannot express mark the buffer failed; End then discards the encoding
// and returns the first such error.
type CommandBuffer struct {
	be   *Backend
	enc  hal.CommandEncoder
	done hal.CommandBuffer

	// views and temps live until the buffer is recorded again, which the
	// core only does after the previous submission completed.
	views []hal.TextureView
	temps []hal.Buffer
	err   error
}

var _ native.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) Queue() rhi.CommandQueue { return rhi.QueueGraphics }

func (c *CommandBuffer) reset() {
	dev := c.be.device
	if c.done != nil {
		dev.FreeCommandBuffer(c.done)
		c.done = nil
	}
	for _, v := range c.views {
		dev.DestroyTextureView(v)
	}
	for _, b := range c.temps {
		dev.DestroyBuffer(b)
	}
	clear(c.views)
	clear(c.temps)
	c.views, c.temps = c.views[:0], c.temps[:0]
	c.err = nil
}

func (c *CommandBuffer) Begin() error {
	c.reset()
	if c.enc == nil {
		enc, err := c.be.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "rhi"})
		if err != nil {
			return fmt.Errorf("wgpu: create command encoder: %w", err)
		}
		c.enc = enc
	}
	if err := c.enc.BeginEncoding("rhi"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	return nil
}

func (c *CommandBuffer) End() error {
	if c.err != nil {
		c.enc.DiscardEncoding()
		return c.err
	}
	done, err := c.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	c.done = done
	return nil
}

// unsupported marks the buffer failed with the first operation the HAL
// cannot record.
func (c *CommandBuffer) unsupported(op string) {
	if c.err == nil {
		c.err = fmt.Errorf("wgpu: %s: %w", op, rhi.ErrNotSupported)
	}
}

func (c *CommandBuffer) failed(op string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("wgpu: %s: %w", op, err)
	}
}

func (c *CommandBuffer) Barriers(textures []native.TextureBarrier, buffers []native.BufferBarrier) {
	tb := make([]hal.TextureBarrier, 0, len(textures))
	for _, b := range textures {
		t := b.Texture.(*Texture)
		r := hal.TextureRange{
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    b.MipLevel,
			MipLevelCount:   1,
			BaseArrayLayer:  b.ArraySlice,
			ArrayLayerCount: 1,
		}
		if b.EntireTexture {
			r.BaseMipLevel, r.MipLevelCount = 0, max(t.desc.MipLevels, 1)
			r.BaseArrayLayer, r.ArrayLayerCount = 0, max(t.desc.ArraySize, 1)
		}
		tb = append(tb, hal.TextureBarrier{
			Texture: t.raw,
			Range:   r,
			Usage:   hal.TextureUsageTransition{OldUsage: textureUsageFor(b.StateBefore), NewUsage: textureUsageFor(b.StateAfter)},
		})
	}
	bb := make([]hal.BufferBarrier, 0, len(buffers))
	for _, b := range buffers {
		bb = append(bb, hal.BufferBarrier{
			Buffer: b.Buffer.(*Buffer).raw,
			Usage:  hal.BufferUsageTransition{OldUsage: bufferUsageFor(b.StateBefore), NewUsage: bufferUsageFor(b.StateAfter)},
		})
	}
	if len(tb) > 0 {
		c.enc.TransitionTextures(tb)
	}
	if len(bb) > 0 {
		c.enc.TransitionBuffers(bb)
	}
}

// Binding state has no HAL counterpart until pipelines are supported.

func (c *CommandBuffer) SetDescriptorHeaps(native.DescriptorHeap, native.DescriptorHeap) {}
func (c *CommandBuffer) SetRootSignature(native.BindPoint, native.RootSignature)         {}
func (c *CommandBuffer) SetRootDescriptorTable(native.BindPoint, uint32, uint64)          {}
func (c *CommandBuffer) SetRootConstantBuffer(native.BindPoint, uint32, uint64)           {}
func (c *CommandBuffer) SetRootConstants(native.BindPoint, uint32, []byte)                {}
func (c *CommandBuffer) SetRenderTargets([]uint64, uint64)                                {}
func (c *CommandBuffer) SetViewports([]rhi.Viewport, []rhi.Rect)                          {}
func (c *CommandBuffer) SetBlendConstant(rhi.Color)                                       {}
func (c *CommandBuffer) SetStencilRef(uint8)                                              {}
func (c *CommandBuffer) SetPrimitiveTopology(rhi.PrimitiveType)                           {}
func (c *CommandBuffer) SetIndexBuffer(native.Buffer, rhi.Format, uint64)                 {}
func (c *CommandBuffer) SetVertexBuffers([]native.VertexBuffer)                           {}

func (c *CommandBuffer) SetPipeline(native.Pipeline)                      { c.unsupported("SetPipeline") }
func (c *CommandBuffer) Draw(rhi.DrawArguments)                           { c.unsupported("Draw") }
func (c *CommandBuffer) DrawIndexed(rhi.DrawArguments)                    { c.unsupported("DrawIndexed") }
func (c *CommandBuffer) DrawIndirect(native.Buffer, uint64, uint32, bool) { c.unsupported("DrawIndirect") }
func (c *CommandBuffer) Dispatch(uint32, uint32, uint32)                  { c.unsupported("Dispatch") }
func (c *CommandBuffer) DispatchIndirect(native.Buffer, uint64)           { c.unsupported("DispatchIndirect") }
func (c *CommandBuffer) DispatchMesh(uint32, uint32, uint32)              { c.unsupported("DispatchMesh") }
func (c *CommandBuffer) DispatchRays(*native.DispatchRaysDesc)            { c.unsupported("DispatchRays") }

func (c *CommandBuffer) CopyBuffer(dst native.Buffer, dstOffset uint64, src native.Buffer, srcOffset uint64, size uint64) {
	c.enc.CopyBufferToBuffer(src.(*Buffer).raw, dst.(*Buffer).raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
}

func (c *CommandBuffer) CopyTexture(dst native.Texture, dstSlice rhi.TextureSlice, src native.Texture, srcSlice rhi.TextureSlice) {
	d, s := dst.(*Texture), src.(*Texture)
	dstSlice = dstSlice.Resolve(&d.desc)
	c.enc.CopyTextureToTexture(s.raw, d.raw, []hal.TextureCopy{{
		SrcBase: copyTexture(s, srcSlice.Resolve(&s.desc)),
		DstBase: copyTexture(d, dstSlice),
		Size:    copyExtent(dstSlice),
	}})
}

// dataLayout converts a staging layout. WebGPU counts rows per image in
// block rows.
func dataLayout(l native.BufferLayout) hal.ImageDataLayout {
	out := hal.ImageDataLayout{Offset: l.Offset, BytesPerRow: uint32(l.RowPitch)}
	if l.RowPitch > 0 {
		out.RowsPerImage = uint32(l.DepthPitch / l.RowPitch)
	}
	return out
}

func (c *CommandBuffer) CopyBufferToTexture(dst native.Texture, dstSlice rhi.TextureSlice, src native.Buffer, layout native.BufferLayout) {
	d := dst.(*Texture)
	dstSlice = dstSlice.Resolve(&d.desc)
	c.enc.CopyBufferToTexture(src.(*Buffer).raw, d.raw, []hal.BufferTextureCopy{{
		BufferLayout: dataLayout(layout),
		TextureBase:  copyTexture(d, dstSlice),
		Size:         copyExtent(dstSlice),
	}})
}

func (c *CommandBuffer) CopyTextureToBuffer(dst native.Buffer, layout native.BufferLayout, src native.Texture, srcSlice rhi.TextureSlice) {
	s := src.(*Texture)
	srcSlice = srcSlice.Resolve(&s.desc)
	c.enc.CopyTextureToBuffer(s.raw, dst.(*Buffer).raw, []hal.BufferTextureCopy{{
		BufferLayout: dataLayout(layout),
		TextureBase:  copyTexture(s, srcSlice),
		Size:         copyExtent(srcSlice),
	}})
}

// tempView creates a view owned by the buffer until its next recording.
func (c *CommandBuffer) tempView(t *Texture, mip, slice uint32, asp gputypes.TextureAspect) (hal.TextureView, bool) {
	v, err := t.view(mip, slice, asp)
	if err != nil {
		c.failed("create view of "+t.desc.DebugName, err)
		return nil, false
	}
	c.views = append(c.views, v)
	return v, true
}

// clearColor clears every subresource of sub with one render pass each.
func (c *CommandBuffer) clearColor(op string, t *Texture, sub rhi.TextureSubresourceSet, value gputypes.Color) {
	if !t.desc.IsRenderTarget || t.desc.Dimension == rhi.TextureDimension3D {
		c.unsupported(op + " of a texture that is not a 2D render target")
		return
	}
	sub = sub.Resolve(&t.desc, false)
	for slice := sub.BaseArraySlice; slice < sub.BaseArraySlice+sub.NumArraySlices; slice++ {
		for mip := sub.BaseMipLevel; mip < sub.BaseMipLevel+sub.NumMipLevels; mip++ {
			view, ok := c.tempView(t, mip, slice, gputypes.TextureAspectAll)
			if !ok {
				return
			}
			pass := c.enc.BeginRenderPass(&hal.RenderPassDescriptor{
				Label: op,
				ColorAttachments: []hal.RenderPassColorAttachment{{
					View:       view,
					LoadOp:     gputypes.LoadOpClear,
					StoreOp:    gputypes.StoreOpStore,
					ClearValue: value,
				}},
			})
			pass.End()
		}
	}
}

func (c *CommandBuffer) ClearTextureFloat(t native.Texture, sub rhi.TextureSubresourceSet, color rhi.Color) {
	c.clearColor("ClearTextureFloat", t.(*Texture), sub, gputypes.Color{
		R: float64(color.R), G: float64(color.G), B: float64(color.B), A: float64(color.A),
	})
}

func (c *CommandBuffer) ClearTextureUInt(t native.Texture, sub rhi.TextureSubresourceSet, value uint32) {
	v := float64(value)
	c.clearColor("ClearTextureUInt", t.(*Texture), sub, gputypes.Color{R: v, G: v, B: v, A: v})
}

func (c *CommandBuffer) ClearDepthStencil(t native.Texture, sub rhi.TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8) {
	tex := t.(*Texture)
	if !tex.desc.IsRenderTarget {
		c.unsupported("ClearDepthStencil of a texture that is not a render target")
		return
	}
	info := rhi.GetFormatInfo(tex.desc.Format)
	att := hal.RenderPassDepthStencilAttachment{DepthClearValue: depth, StencilClearValue: uint32(stencil)}
	if info.HasDepth {
		att.DepthLoadOp, att.DepthStoreOp = gputypes.LoadOpLoad, gputypes.StoreOpStore
		if clearDepth {
			att.DepthLoadOp = gputypes.LoadOpClear
		}
	}
	if info.HasStencil {
		att.StencilLoadOp, att.StencilStoreOp = gputypes.LoadOpLoad, gputypes.StoreOpStore
		if clearStencil {
			att.StencilLoadOp = gputypes.LoadOpClear
		}
	}
	sub = sub.Resolve(&tex.desc, false)
	for slice := sub.BaseArraySlice; slice < sub.BaseArraySlice+sub.NumArraySlices; slice++ {
		for mip := sub.BaseMipLevel; mip < sub.BaseMipLevel+sub.NumMipLevels; mip++ {
			view, ok := c.tempView(tex, mip, slice, gputypes.TextureAspectAll)
			if !ok {
				return
			}
			a := att
			a.View = view
			c.enc.BeginRenderPass(&hal.RenderPassDescriptor{
				Label:                  "ClearDepthStencil",
				DepthStencilAttachment: &a,
			}).End()
		}
	}
}

// ClearBufferUInt zero-fills natively and copies any other value from a
// filled staging buffer.
func (c *CommandBuffer) ClearBufferUInt(b native.Buffer, value uint32) {
	buf := b.(*Buffer)
	if value == 0 {
		c.enc.ClearBuffer(buf.raw, 0, buf.size)
		return
	}
	dev := c.be.device
	tmp, err := dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "rhi clear",
		Size:  buf.size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		c.failed("ClearBufferUInt", err)
		return
	}
	c.temps = append(c.temps, tmp)
	m, err := dev.MapBuffer(tmp, 0, buf.size)
	if err != nil {
		c.failed("ClearBufferUInt", err)
		return
	}
	data := unsafe.Slice((*byte)(m.Ptr), buf.size)
	for i := uint64(0); i+4 <= buf.size; i += 4 {
		binary.LittleEndian.PutUint32(data[i:], value)
	}
	if err := dev.UnmapBuffer(tmp); err != nil {
		c.failed("ClearBufferUInt", err)
		return
	}
	c.enc.CopyBufferToBuffer(tmp, buf.raw, []hal.BufferCopy{{Size: buf.size}})
}

// ResolveTexture resolves through a render pass whose resolve target is
// the destination subresource. The format argument must match both views.
func (c *CommandBuffer) ResolveTexture(dst native.Texture, dstMip, dstSlice uint32, src native.Texture, srcMip, srcSlice uint32, format rhi.Format) {
	d, s := dst.(*Texture), src.(*Texture)
	if format != s.desc.Format || format != d.desc.Format {
		c.unsupported("ResolveTexture with a reinterpreting format")
		return
	}
	sv, ok := c.tempView(s, srcMip, srcSlice, gputypes.TextureAspectAll)
	if !ok {
		return
	}
	dv, ok := c.tempView(d, dstMip, dstSlice, gputypes.TextureAspectAll)
	if !ok {
		return
	}
	c.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "ResolveTexture",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:          sv,
			ResolveTarget: dv,
			LoadOp:        gputypes.LoadOpLoad,
			StoreOp:       gputypes.StoreOpStore,
		}},
	}).End()
}

func (c *CommandBuffer) BuildAccelStruct(*native.AccelStructBuild) { c.unsupported("BuildAccelStruct") }
func (c *CommandBuffer) CopyAccelStruct(native.Buffer, native.Buffer, bool) {
	c.unsupported("CopyAccelStruct")
}
func (c *CommandBuffer) WriteTimestamp(native.QueryHeap, uint32) { c.unsupported("WriteTimestamp") }
func (c *CommandBuffer) ResolveQueries(native.QueryHeap, uint32, uint32, native.Buffer, uint64) {
	c.unsupported("ResolveQueries")
}

func (c *CommandBuffer) BeginMarker(string) {}
func (c *CommandBuffer) EndMarker()         {}

func (c *CommandBuffer) Destroy() {
	c.reset()
	if c.enc != nil {
		c.enc.Destroy()
		c.enc = nil
	}
}
