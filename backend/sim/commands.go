package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Op identifies a recorded command.
type Op uint8

// Recorded commands.
const (
	OpBarriers Op = iota
	OpSetDescriptorHeaps
	OpSetRootSignature
	OpSetPipeline
	OpSetRootDescriptorTable
	OpSetRootConstantBuffer
	OpSetRootConstants
	OpSetRenderTargets
	OpSetViewports
	OpSetBlendConstant
	OpSetStencilRef
	OpSetPrimitiveTopology
	OpSetIndexBuffer
	OpSetVertexBuffers
	OpDraw
	OpDrawIndexed
	OpDrawIndirect
	OpDispatch
	OpDispatchIndirect
	OpDispatchMesh
	OpDispatchRays
	OpCopyBuffer
	OpCopyTexture
	OpCopyBufferToTexture
	OpCopyTextureToBuffer
	OpClearTextureFloat
	OpClearTextureUInt
	OpClearDepthStencil
	OpClearBufferUInt
	OpResolveTexture
	OpBuildAccelStruct
	OpCopyAccelStruct
	OpWriteTimestamp
	OpResolveQueries
	OpBeginMarker
	OpEndMarker
)

var opNames = [...]string{
	"Barriers", "SetDescriptorHeaps", "SetRootSignature", "SetPipeline",
	"SetRootDescriptorTable", "SetRootConstantBuffer", "SetRootConstants",
	"SetRenderTargets", "SetViewports", "SetBlendConstant", "SetStencilRef",
	"SetPrimitiveTopology", "SetIndexBuffer", "SetVertexBuffers",
	"Draw", "DrawIndexed", "DrawIndirect", "Dispatch", "DispatchIndirect",
	"DispatchMesh", "DispatchRays", "CopyBuffer", "CopyTexture",
	"CopyBufferToTexture", "CopyTextureToBuffer", "ClearTextureFloat",
	"ClearTextureUInt", "ClearDepthStencil", "ClearBufferUInt",
	"ResolveTexture", "BuildAccelStruct", "CopyAccelStruct",
	"WriteTimestamp", "ResolveQueries", "BeginMarker", "EndMarker",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Command is one recorded call. Only the fields meaningful for Op are set.
type Command struct {
	Op Op

	TextureBarriers []native.TextureBarrier
	BufferBarriers  []native.BufferBarrier

	Bind native.BindPoint
	// Param is the root parameter index, or the query index.
	Param uint32
	// Address is a GPU handle or GPU virtual address.
	Address uint64
	Data    []byte

	Pipeline      native.Pipeline
	RootSignature native.RootSignature
	Heaps         [2]native.DescriptorHeap

	RenderTargets []uint64
	DepthTarget   uint64
	Viewports     []rhi.Viewport
	Scissors      []rhi.Rect
	Color         rhi.Color
	Topology      rhi.PrimitiveType
	IndexFormat   rhi.Format
	VertexBuffers []native.VertexBuffer

	Draw   rhi.DrawArguments
	Groups [3]uint32
	Count  uint32
	Rays   *native.DispatchRaysDesc
	Build  *native.AccelStructBuild

	Buffer    native.Buffer
	Texture   native.Texture
	SrcBuffer native.Buffer
	SrcTex    native.Texture
	Offset    uint64
	SrcOffset uint64
	Size      uint64
	Compact   bool

	Name string
}

// CommandBuffer records commands and the host-side effects they have when
// the queue executes them.
type CommandBuffer struct {
	be        *Backend
	queue     rhi.CommandQueue
	recording bool
	commands  []Command
	effects   []func()
	markers   int
}

var _ native.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) Queue() rhi.CommandQueue { return c.queue }

func (c *CommandBuffer) Begin() error {
	c.recording = true
	c.commands = c.commands[:0]
	c.effects = c.effects[:0]
	c.markers = 0
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("sim: End without Begin")
	}
	if c.markers != 0 {
		return fmt.Errorf("sim: %d markers left open", c.markers)
	}
	c.recording = false
	return nil
}

// Commands returns what was recorded since the last Begin.
func (c *CommandBuffer) Commands() []Command { return c.commands }

func (c *CommandBuffer) record(cmd Command, effect func()) {
	c.commands = append(c.commands, cmd)
	if effect != nil {
		c.effects = append(c.effects, effect)
	}
}

func (c *CommandBuffer) execute() {
	for _, e := range c.effects {
		e()
	}
}

func (c *CommandBuffer) Barriers(textures []native.TextureBarrier, buffers []native.BufferBarrier) {
	c.record(Command{Op: OpBarriers, TextureBarriers: slices.Clone(textures), BufferBarriers: slices.Clone(buffers)}, nil)
}

func (c *CommandBuffer) SetDescriptorHeaps(shaderResources, samplers native.DescriptorHeap) {
	c.record(Command{Op: OpSetDescriptorHeaps, Heaps: [2]native.DescriptorHeap{shaderResources, samplers}}, nil)
}

func (c *CommandBuffer) SetRootSignature(bind native.BindPoint, rs native.RootSignature) {
	c.record(Command{Op: OpSetRootSignature, Bind: bind, RootSignature: rs}, nil)
}

func (c *CommandBuffer) SetPipeline(p native.Pipeline) {
	c.record(Command{Op: OpSetPipeline, Pipeline: p}, nil)
}

func (c *CommandBuffer) SetRootDescriptorTable(bind native.BindPoint, param uint32, gpuHandle uint64) {
	c.record(Command{Op: OpSetRootDescriptorTable, Bind: bind, Param: param, Address: gpuHandle}, nil)
}

func (c *CommandBuffer) SetRootConstantBuffer(bind native.BindPoint, param uint32, gpuAddress uint64) {
	c.record(Command{Op: OpSetRootConstantBuffer, Bind: bind, Param: param, Address: gpuAddress}, nil)
}

func (c *CommandBuffer) SetRootConstants(bind native.BindPoint, param uint32, data []byte) {
	c.record(Command{Op: OpSetRootConstants, Bind: bind, Param: param, Data: slices.Clone(data)}, nil)
}

func (c *CommandBuffer) SetRenderTargets(colors []uint64, depth uint64) {
	c.record(Command{Op: OpSetRenderTargets, RenderTargets: slices.Clone(colors), DepthTarget: depth}, nil)
}

func (c *CommandBuffer) SetViewports(viewports []rhi.Viewport, scissors []rhi.Rect) {
	c.record(Command{Op: OpSetViewports, Viewports: slices.Clone(viewports), Scissors: slices.Clone(scissors)}, nil)
}

func (c *CommandBuffer) SetBlendConstant(color rhi.Color) {
	c.record(Command{Op: OpSetBlendConstant, Color: color}, nil)
}

func (c *CommandBuffer) SetStencilRef(ref uint8) {
	c.record(Command{Op: OpSetStencilRef, Param: uint32(ref)}, nil)
}

func (c *CommandBuffer) SetPrimitiveTopology(t rhi.PrimitiveType) {
	c.record(Command{Op: OpSetPrimitiveTopology, Topology: t}, nil)
}

func (c *CommandBuffer) SetIndexBuffer(b native.Buffer, format rhi.Format, offset uint64) {
	c.record(Command{Op: OpSetIndexBuffer, Buffer: b, IndexFormat: format, Offset: offset}, nil)
}

func (c *CommandBuffer) SetVertexBuffers(bindings []native.VertexBuffer) {
	c.record(Command{Op: OpSetVertexBuffers, VertexBuffers: slices.Clone(bindings)}, nil)
}

func (c *CommandBuffer) Draw(args rhi.DrawArguments) {
	c.record(Command{Op: OpDraw, Draw: args}, nil)
}

func (c *CommandBuffer) DrawIndexed(args rhi.DrawArguments) {
	c.record(Command{Op: OpDrawIndexed, Draw: args}, nil)
}

func (c *CommandBuffer) DrawIndirect(args native.Buffer, offset uint64, count uint32, indexed bool) {
	c.record(Command{Op: OpDrawIndirect, Buffer: args, Offset: offset, Count: count, Compact: indexed}, nil)
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.record(Command{Op: OpDispatch, Groups: [3]uint32{x, y, z}}, nil)
}

func (c *CommandBuffer) DispatchIndirect(args native.Buffer, offset uint64) {
	c.record(Command{Op: OpDispatchIndirect, Buffer: args, Offset: offset}, nil)
}

func (c *CommandBuffer) DispatchMesh(x, y, z uint32) {
	c.record(Command{Op: OpDispatchMesh, Groups: [3]uint32{x, y, z}}, nil)
}

func (c *CommandBuffer) DispatchRays(desc *native.DispatchRaysDesc) {
	d := *desc
	c.record(Command{Op: OpDispatchRays, Rays: &d}, nil)
}

func (c *CommandBuffer) CopyBuffer(dst native.Buffer, dstOffset uint64, src native.Buffer, srcOffset uint64, size uint64) {
	c.record(Command{Op: OpCopyBuffer, Buffer: dst, Offset: dstOffset, SrcBuffer: src, SrcOffset: srcOffset, Size: size}, func() {
		d, s := dst.(*Buffer), src.(*Buffer)
		copy(d.Bytes()[dstOffset:dstOffset+size], s.Bytes()[srcOffset:srcOffset+size])
	})
}

// region is a box of whole blocks inside one subresource.
type region struct {
	x, y, z       uint32
	width, height uint32
	depth         uint32
}

func sliceRegion(desc *rhi.TextureDesc, s rhi.TextureSlice) region {
	s = s.Resolve(desc)
	block := uint32(max(rhi.GetFormatInfo(desc.Format).BlockSize, 1))
	return region{
		x: s.X / block, y: s.Y / block, z: s.Z,
		width:  (s.Width + block - 1) / block,
		height: (s.Height + block - 1) / block,
		depth:  s.Depth,
	}
}

// rows calls fn for every block row of r, passing the row's offset inside
// the tight subresource and its length in bytes.
func (t *Texture) rows(mip uint32, r region, fn func(offset, length uint64)) {
	pitch, rowsPerSlice, _ := subresourcePitch(&t.Desc, mip)
	bpb := uint64(rhi.GetFormatInfo(t.Desc.Format).BytesPerBlock)
	for z := uint32(0); z < r.depth; z++ {
		for y := uint32(0); y < r.height; y++ {
			off := uint64(r.z+z)*pitch*uint64(rowsPerSlice) + uint64(r.y+y)*pitch + uint64(r.x)*bpb
			fn(off, uint64(r.width)*bpb)
		}
	}
}

func (c *CommandBuffer) CopyTexture(dst native.Texture, dstSlice rhi.TextureSlice, src native.Texture, srcSlice rhi.TextureSlice) {
	c.record(Command{Op: OpCopyTexture, Texture: dst, SrcTex: src}, func() {
		d, s := dst.(*Texture), src.(*Texture)
		dr, sr := sliceRegion(&d.Desc, dstSlice), sliceRegion(&s.Desc, srcSlice)
		sr.width, sr.height, sr.depth = dr.width, dr.height, dr.depth
		var rows [][]byte
		sdata := s.Subresource(srcSlice.MipLevel, srcSlice.ArraySlice)
		s.rows(srcSlice.MipLevel, sr, func(off, n uint64) { rows = append(rows, sdata[off:off+n]) })
		ddata := d.Subresource(dstSlice.MipLevel, dstSlice.ArraySlice)
		i := 0
		d.rows(dstSlice.MipLevel, dr, func(off, n uint64) {
			copy(ddata[off:off+n], rows[i])
			i++
		})
	})
}

func (c *CommandBuffer) CopyBufferToTexture(dst native.Texture, dstSlice rhi.TextureSlice, src native.Buffer, layout native.BufferLayout) {
	c.record(Command{Op: OpCopyBufferToTexture, Texture: dst, SrcBuffer: src, SrcOffset: layout.Offset}, func() {
		d, s := dst.(*Texture), src.(*Buffer)
		r := sliceRegion(&d.Desc, dstSlice)
		ddata, sdata := d.Subresource(dstSlice.MipLevel, dstSlice.ArraySlice), s.Bytes()
		row := 0
		d.rows(dstSlice.MipLevel, r, func(off, n uint64) {
			z, y := uint64(row)/uint64(r.height), uint64(row)%uint64(r.height)
			at := layout.Offset + z*layout.DepthPitch + y*layout.RowPitch
			copy(ddata[off:off+n], sdata[at:at+n])
			row++
		})
	})
}

func (c *CommandBuffer) CopyTextureToBuffer(dst native.Buffer, layout native.BufferLayout, src native.Texture, srcSlice rhi.TextureSlice) {
	c.record(Command{Op: OpCopyTextureToBuffer, Buffer: dst, Offset: layout.Offset, SrcTex: src}, func() {
		d, s := dst.(*Buffer), src.(*Texture)
		r := sliceRegion(&s.Desc, srcSlice)
		sdata, ddata := s.Subresource(srcSlice.MipLevel, srcSlice.ArraySlice), d.Bytes()
		row := 0
		s.rows(srcSlice.MipLevel, r, func(off, n uint64) {
			z, y := uint64(row)/uint64(r.height), uint64(row)%uint64(r.height)
			at := layout.Offset + z*layout.DepthPitch + y*layout.RowPitch
			copy(ddata[at:at+n], sdata[off:off+n])
			row++
		})
	})
}

// forEachSubresource visits the subresources of sub.
func forEachSubresource(desc *rhi.TextureDesc, sub rhi.TextureSubresourceSet, fn func(mip, slice uint32)) {
	sub = sub.Resolve(desc, false)
	for slice := sub.BaseArraySlice; slice < sub.BaseArraySlice+sub.NumArraySlices; slice++ {
		for mip := sub.BaseMipLevel; mip < sub.BaseMipLevel+sub.NumMipLevels; mip++ {
			fn(mip, slice)
		}
	}
}

func (c *CommandBuffer) ClearTextureFloat(t native.Texture, sub rhi.TextureSubresourceSet, color rhi.Color) {
	c.record(Command{Op: OpClearTextureFloat, Texture: t, Color: color}, func() {
		tex := t.(*Texture)
		forEachSubresource(&tex.Desc, sub, func(mip, slice uint32) {
			tex.mu.Lock()
			tex.clears[tex.Desc.SubresourceIndex(mip, slice)] = color
			tex.mu.Unlock()
			if px := clearPixel(tex.Desc.Format, color); px != nil {
				fill(tex.Subresource(mip, slice), px)
			}
		})
	})
}

// clearPixel encodes color for 32-bit float and 8-bit UNORM formats. The
// other formats keep only the recorded clear colour.
func clearPixel(f rhi.Format, color rhi.Color) []byte {
	ch := [4]float32{color.R, color.G, color.B, color.A}
	switch f {
	case rhi.FormatRGBA32Float:
		px := make([]byte, 16)
		for i, v := range ch {
			binary.LittleEndian.PutUint32(px[4*i:], math.Float32bits(v))
		}
		return px
	case rhi.FormatBGRA8Unorm, rhi.FormatSBGRA8Unorm:
		ch[0], ch[2] = ch[2], ch[0]
		fallthrough
	case rhi.FormatRGBA8Unorm, rhi.FormatSRGBA8Unorm:
		px := make([]byte, 4)
		for i, v := range ch {
			px[i] = uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
		}
		return px
	}
	return nil
}

func (c *CommandBuffer) ClearTextureUInt(t native.Texture, sub rhi.TextureSubresourceSet, value uint32) {
	c.record(Command{Op: OpClearTextureUInt, Texture: t, Param: value}, func() {
		tex := t.(*Texture)
		forEachSubresource(&tex.Desc, sub, func(mip, slice uint32) {
			var px [4]byte
			binary.LittleEndian.PutUint32(px[:], value)
			fill(tex.Subresource(mip, slice), px[:])
		})
	})
}

func (c *CommandBuffer) ClearDepthStencil(t native.Texture, sub rhi.TextureSubresourceSet, clearDepth bool, depth float32, clearStencil bool, stencil uint8) {
	cmd := Command{Op: OpClearDepthStencil, Texture: t, Color: rhi.Color{R: depth, G: float32(stencil)}}
	if clearDepth {
		cmd.Param |= 1
	}
	if clearStencil {
		cmd.Param |= 2
	}
	c.record(cmd, nil)
}

func (c *CommandBuffer) ClearBufferUInt(b native.Buffer, value uint32) {
	c.record(Command{Op: OpClearBufferUInt, Buffer: b, Param: value}, func() {
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], value)
		fill(b.(*Buffer).Bytes(), v[:])
	})
}

func fill(dst, pattern []byte) {
	for i := 0; i+len(pattern) <= len(dst); i += len(pattern) {
		copy(dst[i:], pattern)
	}
}

func (c *CommandBuffer) ResolveTexture(dst native.Texture, dstMip, dstSlice uint32, src native.Texture, srcMip, srcSlice uint32, format rhi.Format) {
	c.record(Command{Op: OpResolveTexture, Texture: dst, SrcTex: src, IndexFormat: format}, func() {
		d, s := dst.(*Texture), src.(*Texture)
		copy(d.Subresource(dstMip, dstSlice), s.Subresource(srcMip, srcSlice))
	})
}

func (c *CommandBuffer) BuildAccelStruct(build *native.AccelStructBuild) {
	b := *build
	b.Inputs.Geometries = slices.Clone(build.Inputs.Geometries)
	c.record(Command{Op: OpBuildAccelStruct, Build: &b}, func() {
		if b.CompactedSize != nil {
			binary.LittleEndian.PutUint64(b.CompactedSize.(*Buffer).Bytes()[b.CompactedSizeOffset:], c.be.compactedSize(&b.Inputs))
		}
	})
}

func (c *CommandBuffer) CopyAccelStruct(dst, src native.Buffer, compact bool) {
	c.record(Command{Op: OpCopyAccelStruct, Buffer: dst, SrcBuffer: src, Compact: compact}, func() {
		d, s := dst.(*Buffer).Bytes(), src.(*Buffer).Bytes()
		copy(d, s)
	})
}

func (c *CommandBuffer) WriteTimestamp(heap native.QueryHeap, index uint32) {
	c.record(Command{Op: OpWriteTimestamp, Param: index}, func() {
		h := heap.(*QueryHeap)
		h.mu.Lock()
		h.timestamps[index] = c.be.clock.Add(timestampStep)
		h.mu.Unlock()
	})
}

func (c *CommandBuffer) ResolveQueries(heap native.QueryHeap, first, count uint32, dst native.Buffer, dstOffset uint64) {
	c.record(Command{Op: OpResolveQueries, Param: first, Count: count, Buffer: dst, Offset: dstOffset}, func() {
		h := heap.(*QueryHeap)
		out := dst.(*Buffer).Bytes()
		h.mu.Lock()
		defer h.mu.Unlock()
		for i := range count {
			binary.LittleEndian.PutUint64(out[dstOffset+8*uint64(i):], h.timestamps[first+i])
		}
	})
}

func (c *CommandBuffer) BeginMarker(name string) {
	c.markers++
	c.record(Command{Op: OpBeginMarker, Name: name}, nil)
}

func (c *CommandBuffer) EndMarker() {
	c.markers--
	c.record(Command{Op: OpEndMarker}, nil)
}

func (c *CommandBuffer) Destroy() { c.be.live.Add(-1) }
