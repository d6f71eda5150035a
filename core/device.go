// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package core

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Device implements rhi.Device on top of a native back-end. All methods
// are safe for concurrent use.
type Device struct {
	refCounter
	desc   rhi.DeviceDesc
	be     native.Backend
	msg    rhi.Messages
	limits native.Limits

	queues [rhi.QueueCount]*queue

	rtvHeap     *descriptorHeap
	dsvHeap     *descriptorHeap
	srvHeap     *descriptorHeap
	samplerHeap *descriptorHeap

	rootSigMu      sync.Mutex
	rootSignatures map[string]*rootSignature

	nextLayoutID  atomic.Uint64
	immediateOpen atomic.Bool

	timers     *timerPool
	compaction compactionRegistry
}

var _ rhi.Device = (*Device)(nil)

// Open is NewDevice returning the rhi.Device interface, for
// backend.OpenDevice.
func Open(desc rhi.DeviceDesc, be native.Backend) (rhi.Device, error) {
	d, err := NewDevice(desc, be)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDevice creates a device driving be. Zero sizes in desc take their
// defaults. The device does not take ownership of be.
func NewDevice(desc rhi.DeviceDesc, be native.Backend) (*Device, error) {
	if be == nil {
		return nil, fmt.Errorf("%w: back-end", rhi.ErrNilHandle)
	}
	desc = desc.WithDefaults()
	d := &Device{
		desc:           desc,
		be:             be,
		msg:            rhi.Messages{Callback: desc.MessageCallback},
		limits:         be.Limits(),
		rootSignatures: make(map[string]*rootSignature),
	}
	d.compaction.enabled = desc.EnableAccelStructCompaction

	fail := func(err error) (*Device, error) {
		d.release()
		return nil, d.msg.Error(err)
	}

	for _, kind := range []rhi.CommandQueue{rhi.QueueGraphics, rhi.QueueCompute, rhi.QueueCopy} {
		switch {
		case kind == rhi.QueueCompute && !desc.EnableComputeQueue,
			kind == rhi.QueueCopy && !desc.EnableCopyQueue:
			continue
		}
		nq := be.Queue(kind)
		if nq == nil {
			if kind == rhi.QueueGraphics {
				return fail(fmt.Errorf("%w: back-end has no graphics queue", rhi.ErrNotSupported))
			}
			continue
		}
		q, err := newQueue(d, kind, nq)
		if err != nil {
			return fail(err)
		}
		d.queues[kind] = q
	}

	var err error
	heaps := []struct {
		dst     **descriptorHeap
		kind    native.DescriptorHeapKind
		size    uint32
		visible bool
	}{
		{&d.rtvHeap, native.HeapRenderTargetView, desc.RenderTargetViewHeapSize, false},
		{&d.dsvHeap, native.HeapDepthStencilView, desc.DepthStencilViewHeapSize, false},
		{&d.srvHeap, native.HeapShaderResourceView, desc.ShaderResourceViewHeapSize, true},
		{&d.samplerHeap, native.HeapSampler, desc.SamplerHeapSize, true},
	}
	for _, h := range heaps {
		if *h.dst, err = newDescriptorHeap(be, d.msg, h.kind, h.size, h.visible); err != nil {
			return fail(err)
		}
	}

	if be.FeatureSupported(rhi.FeatureTimerQueries) {
		if d.timers, err = newTimerPool(be, desc.MaxTimerQueries); err != nil {
			return fail(err)
		}
	}

	rhi.Logger().Debug("rhi: device created",
		"api", be.API(),
		"computeQueue", d.queues[rhi.QueueCompute] != nil,
		"copyQueue", d.queues[rhi.QueueCopy] != nil)
	d.init(d.release)
	return d, nil
}

// release tears the device down once the last reference is gone. It waits
// for all queues first.
func (d *Device) release() {
	if err := d.WaitForIdle(); err != nil {
		d.msg.Errorf("Failed to wait for the GPU while destroying the device: %v", err)
	}
	d.RunGarbageCollection()
	d.compaction.destroy()
	for _, q := range d.queues {
		if q != nil {
			q.destroy()
		}
	}
	if d.timers != nil {
		d.timers.destroy()
	}
	for _, h := range []*descriptorHeap{d.rtvHeap, d.dsvHeap, d.srvHeap, d.samplerHeap} {
		if h != nil {
			h.destroy()
		}
	}
	d.rootSigMu.Lock()
	for _, rs := range d.rootSignatures {
		rs.native.Destroy()
	}
	clear(d.rootSignatures)
	d.rootSigMu.Unlock()
}

func (d *Device) GraphicsAPI() rhi.GraphicsAPI { return d.be.API() }

func (d *Device) MessageCallback() rhi.MessageCallback { return d.desc.MessageCallback }

// queue returns the queue of kind, reporting an error when the device has
// no such queue.
func (d *Device) queue(kind rhi.CommandQueue) *queue {
	if kind < rhi.QueueCount {
		if q := d.queues[kind]; q != nil {
			return q
		}
	}
	d.msg.Errorf("The device has no %s queue", kind)
	return nil
}

func (d *Device) CreateHeap(desc rhi.HeapDesc) (rhi.Heap, error) {
	if desc.Capacity == 0 {
		return nil, d.msg.Error(fmt.Errorf("%w: heap capacity must be non-zero", rhi.ErrInvalidArgument))
	}
	nh, err := d.be.CreateHeap(&desc)
	if err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: create heap %s: %w", rhi.ErrNativeFailure, desc.DebugName, err))
	}
	h := &heap{desc: desc, native: nh}
	h.init(nh.Destroy)
	return h, nil
}

func (d *Device) CreateTexture(desc rhi.TextureDesc) (rhi.Texture, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: %w", rhi.ErrInvalidArgument, err))
	}
	desc.DebugName = rhi.TextureDebugName(&desc)

	nt, err := d.be.CreateTexture(&desc)
	if err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: create texture %s: %w", rhi.ErrNativeFailure, desc.DebugName, err))
	}
	t := &texture{dev: d, desc: desc, native: nt}
	// Vulkan images start undefined whatever the requested initial state.
	t.stateInitialized.Store(d.be.API() != rhi.GraphicsAPIVulkan)
	t.init(t.destroy)
	return t, nil
}

func (d *Device) GetTextureMemoryRequirements(t rhi.Texture) rhi.MemoryRequirements {
	tex, ok := t.(*texture)
	if !ok {
		d.msg.Errorf("GetTextureMemoryRequirements: texture is nil or was not created by this device")
		return rhi.MemoryRequirements{}
	}
	return d.be.TextureMemoryRequirements(&tex.desc)
}

// checkPlacement verifies that a resource of the given requirements fits
// into h at offset.
func checkPlacement(h *heap, req rhi.MemoryRequirements, offset uint64) error {
	if req.Alignment > 0 && offset%req.Alignment != 0 {
		return fmt.Errorf("%w: heap offset %d is not aligned to %d", rhi.ErrInvalidArgument, offset, req.Alignment)
	}
	if offset+req.Size > h.desc.Capacity {
		return fmt.Errorf("%w: %d bytes at offset %d exceed heap %s of %d bytes", rhi.ErrInvalidArgument, req.Size, offset, h.desc.DebugName, h.desc.Capacity)
	}
	return nil
}

func (d *Device) BindTextureMemory(t rhi.Texture, hp rhi.Heap, offset uint64) error {
	tex, ok := t.(*texture)
	h, hok := hp.(*heap)
	if !ok || !hok {
		return d.msg.Error(fmt.Errorf("%w: texture or heap", rhi.ErrNilHandle))
	}
	if !tex.desc.IsVirtual {
		return d.msg.Error(fmt.Errorf("%w: texture %s is not virtual", rhi.ErrInvalidArgument, tex.desc.DebugName))
	}
	if err := checkPlacement(h, d.be.TextureMemoryRequirements(&tex.desc), offset); err != nil {
		return d.msg.Error(err)
	}

	tex.mu.Lock()
	defer tex.mu.Unlock()
	if tex.boundHeap != nil {
		return d.msg.Error(fmt.Errorf("%w: texture %s is already bound to memory", rhi.ErrInvalidArgument, tex.desc.DebugName))
	}
	if err := tex.native.BindMemory(h.native, offset); err != nil {
		return d.msg.Error(fmt.Errorf("%w: bind texture memory: %w", rhi.ErrNativeFailure, err))
	}
	h.AddRef()
	tex.boundHeap = h
	return nil
}

func (d *Device) CreateStagingTexture(desc rhi.TextureDesc, access rhi.CPUAccessMode) (rhi.StagingTexture, error) {
	if access == rhi.CPUAccessNone {
		return nil, d.msg.Error(fmt.Errorf("%w: staging texture needs CPU read or write access", rhi.ErrInvalidArgument))
	}
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: %w", rhi.ErrInvalidArgument, err))
	}
	desc.DebugName = rhi.TextureDebugName(&desc)

	layouts, size := stagingLayouts(&desc, d.limits)
	state := rhi.ResourceStateCopySource
	if access == rhi.CPUAccessRead {
		state = rhi.ResourceStateCopyDest
	}
	nb, err := d.be.CreateBuffer(&rhi.BufferDesc{
		ByteSize:     size,
		DebugName:    desc.DebugName,
		CPUAccess:    access,
		InitialState: state,
	})
	if err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: create staging texture %s: %w", rhi.ErrNativeFailure, desc.DebugName, err))
	}
	st := &stagingTexture{dev: d, desc: desc, access: access, buffer: nb, layouts: layouts}
	st.init(func() {
		if st.mapped != nil {
			nb.Unmap()
		}
		nb.Destroy()
	})
	return st, nil
}

// waitLastUse blocks until the last submission using a CPU-visible
// resource has completed.
func (d *Device) waitLastUse(f *fenceValue, name string) error {
	ok, err := f.wait(native.WaitForever)
	if err != nil {
		return fmt.Errorf("%w: wait for %s: %w", rhi.ErrNativeFailure, name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is still in use", rhi.ErrTimeout, name)
	}
	return nil
}

func (d *Device) MapStagingTexture(t rhi.StagingTexture, slice rhi.TextureSlice, access rhi.CPUAccessMode) ([]byte, uint64, error) {
	st, ok := t.(*stagingTexture)
	if !ok {
		return nil, 0, d.msg.Error(fmt.Errorf("%w: staging texture", rhi.ErrNilHandle))
	}
	if access != st.access {
		return nil, 0, d.msg.Error(fmt.Errorf("%w: staging texture %s was created for %s access", rhi.ErrInvalidArgument, st.desc.DebugName, st.access))
	}
	if slice.MipLevel >= st.desc.MipLevels || slice.ArraySlice >= st.desc.ArraySize {
		return nil, 0, d.msg.Error(fmt.Errorf("%w: slice is outside staging texture %s", rhi.ErrInvalidArgument, st.desc.DebugName))
	}
	if err := d.waitLastUse(&st.lastUse, st.desc.DebugName); err != nil {
		return nil, 0, d.msg.Error(err)
	}
	if st.mapped == nil {
		data, err := st.buffer.Map()
		if err != nil {
			return nil, 0, d.msg.Error(fmt.Errorf("%w: map staging texture %s: %w", rhi.ErrNativeFailure, st.desc.DebugName, err))
		}
		st.mapped = data
	}
	l := st.layout(slice.MipLevel, slice.ArraySlice)
	region := stagingRegion(st, slice.Resolve(&st.desc))
	return st.mapped[region.Offset : l.offset+l.size], l.rowPitch, nil
}

func (d *Device) UnmapStagingTexture(t rhi.StagingTexture) {
	st, ok := t.(*stagingTexture)
	if !ok || st.mapped == nil {
		return
	}
	st.buffer.Unmap()
	st.mapped = nil
}

// createBuffer is CreateBuffer without reporting, for internal buffers.
func (d *Device) createBuffer(desc rhi.BufferDesc) (*buffer, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rhi.ErrInvalidArgument, err)
	}
	desc.DebugName = rhi.BufferDebugName(&desc)

	b := &buffer{dev: d, desc: desc}
	if !desc.IsVolatile {
		nb, err := d.be.CreateBuffer(&desc)
		if err != nil {
			return nil, fmt.Errorf("%w: create buffer %s: %w", rhi.ErrNativeFailure, desc.DebugName, err)
		}
		b.native = nb
	}
	b.init(b.destroy)
	return b, nil
}

func (d *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	b, err := d.createBuffer(desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return b, nil
}

func (d *Device) MapBuffer(b rhi.Buffer, access rhi.CPUAccessMode) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, d.msg.Error(fmt.Errorf("%w: buffer", rhi.ErrNilHandle))
	}
	if buf.desc.CPUAccess == rhi.CPUAccessNone || access != buf.desc.CPUAccess {
		return nil, d.msg.Error(fmt.Errorf("%w: buffer %s is not mappable for %s access", rhi.ErrInvalidArgument, buf.desc.DebugName, access))
	}
	if err := d.waitLastUse(&buf.lastUse, buf.desc.DebugName); err != nil {
		return nil, d.msg.Error(err)
	}
	data, err := buf.native.Map()
	if err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: map buffer %s: %w", rhi.ErrNativeFailure, buf.desc.DebugName, err))
	}
	return data, nil
}

func (d *Device) UnmapBuffer(b rhi.Buffer) {
	if buf, ok := b.(*buffer); ok && buf.native != nil {
		buf.native.Unmap()
	}
}

func (d *Device) GetBufferMemoryRequirements(b rhi.Buffer) rhi.MemoryRequirements {
	buf, ok := b.(*buffer)
	if !ok {
		d.msg.Errorf("GetBufferMemoryRequirements: buffer is nil or was not created by this device")
		return rhi.MemoryRequirements{}
	}
	return d.be.BufferMemoryRequirements(&buf.desc)
}

func (d *Device) BindBufferMemory(b rhi.Buffer, hp rhi.Heap, offset uint64) error {
	buf, ok := b.(*buffer)
	h, hok := hp.(*heap)
	if !ok || !hok {
		return d.msg.Error(fmt.Errorf("%w: buffer or heap", rhi.ErrNilHandle))
	}
	return d.msg.Error(d.bindBufferMemory(buf, h, offset))
}

func (d *Device) bindBufferMemory(buf *buffer, h *heap, offset uint64) error {
	if !buf.desc.IsVirtual {
		return fmt.Errorf("%w: buffer %s is not virtual", rhi.ErrInvalidArgument, buf.desc.DebugName)
	}
	if err := checkPlacement(h, d.be.BufferMemoryRequirements(&buf.desc), offset); err != nil {
		return err
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.boundHeap != nil {
		return fmt.Errorf("%w: buffer %s is already bound to memory", rhi.ErrInvalidArgument, buf.desc.DebugName)
	}
	if err := buf.native.BindMemory(h.native, offset); err != nil {
		return fmt.Errorf("%w: bind buffer memory: %w", rhi.ErrNativeFailure, err)
	}
	h.AddRef()
	buf.boundHeap = h
	return nil
}

func (d *Device) CreateShader(desc rhi.ShaderDesc, code []byte) (rhi.Shader, error) {
	if len(code) == 0 {
		return nil, d.msg.Error(fmt.Errorf("%w: shader %s has no code", rhi.ErrInvalidArgument, desc.DebugName))
	}
	module, err := d.be.CreateShader(&desc, code)
	if err != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: create shader %s: %w", rhi.ErrNativeFailure, desc.DebugName, err))
	}
	s := &shader{desc: desc, code: slices.Clone(code), module: module}
	s.init(module.Destroy)
	return s, nil
}

func (d *Device) CreateShaderLibrary(code []byte) (rhi.ShaderLibrary, error) {
	if len(code) == 0 {
		return nil, d.msg.Error(fmt.Errorf("%w: shader library has no code", rhi.ErrInvalidArgument))
	}
	l := &shaderLibrary{dev: d, code: slices.Clone(code)}
	l.init(nil)
	return l, nil
}

func (d *Device) CreateSampler(desc rhi.SamplerDesc) (rhi.Sampler, error) {
	s := &sampler{desc: desc}
	s.init(nil)
	return s, nil
}

func (d *Device) CreateInputLayout(attributes []rhi.VertexAttributeDesc, _ rhi.Shader) (rhi.InputLayout, error) {
	l := &inputLayout{attributes: slices.Clone(attributes)}
	l.init(nil)
	return l, nil
}

func (d *Device) CreateFramebuffer(desc rhi.FramebufferDesc) (rhi.Framebuffer, error) {
	desc.ColorAttachments = slices.Clone(desc.ColorAttachments)
	info, err := framebufferInfo(&desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	f := &framebuffer{dev: d, desc: desc, info: info, rtvBase: invalidDescriptorIndex}

	view := func(a *rhi.FramebufferAttachment, kind native.ViewKind) native.Descriptor {
		tex := a.Texture.(*texture)
		format := a.Format
		if format == rhi.FormatUnknown {
			format = tex.desc.Format
		}
		return native.Descriptor{
			Kind:         kind,
			Texture:      tex.native,
			Format:       format,
			Dimension:    tex.desc.Dimension,
			Subresources: a.Subresources.Resolve(&tex.desc, true),
			ReadOnly:     a.IsReadOnly,
		}
	}

	if n := uint32(len(desc.ColorAttachments)); n > 0 {
		base := d.rtvHeap.allocate(n)
		if base == invalidDescriptorIndex {
			return nil, d.msg.Error(rhi.ErrHeapGrowthFailed)
		}
		f.rtvBase, f.numRTVs = base, n
		for i := range desc.ColorAttachments {
			v := view(&desc.ColorAttachments[i], native.ViewRTV)
			d.rtvHeap.write(base+uint32(i), &v)
			f.rtvHandle = append(f.rtvHandle, d.rtvHeap.cpuHandle(base+uint32(i)))
		}
	}
	if desc.DepthAttachment.Valid() {
		idx := d.dsvHeap.allocate(1)
		if idx == invalidDescriptorIndex {
			d.rtvHeap.release(f.rtvBase, f.numRTVs)
			return nil, d.msg.Error(rhi.ErrHeapGrowthFailed)
		}
		f.dsvIndex, f.hasDepth = idx, true
		v := view(&desc.DepthAttachment, native.ViewDSV)
		d.dsvHeap.write(idx, &v)
		f.dsvHandle = d.dsvHeap.cpuHandle(idx)
	}

	for _, a := range desc.ColorAttachments {
		a.Texture.AddRef()
	}
	if desc.DepthAttachment.Valid() {
		desc.DepthAttachment.Texture.AddRef()
	}
	if desc.ShadingRateAttachment.Valid() {
		desc.ShadingRateAttachment.Texture.AddRef()
	}
	f.init(f.destroy)
	return f, nil
}

func (d *Device) CreateGraphicsPipeline(desc rhi.GraphicsPipelineDesc, fb rhi.Framebuffer) (rhi.GraphicsPipeline, error) {
	p, err := d.createGraphicsPipeline(desc, fb)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return p, nil
}

func (d *Device) CreateComputePipeline(desc rhi.ComputePipelineDesc) (rhi.ComputePipeline, error) {
	p, err := d.createComputePipeline(desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return p, nil
}

func (d *Device) CreateMeshletPipeline(desc rhi.MeshletPipelineDesc, fb rhi.Framebuffer) (rhi.MeshletPipeline, error) {
	if !d.be.FeatureSupported(rhi.FeatureMeshlets) {
		return nil, d.msg.Error(fmt.Errorf("%w: meshlets", rhi.ErrNotSupported))
	}
	p, err := d.createMeshletPipeline(desc, fb)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return p, nil
}

func (d *Device) CreateRayTracingPipeline(desc rhi.RayTracingPipelineDesc) (rhi.RayTracingPipeline, error) {
	if !d.be.FeatureSupported(rhi.FeatureRayTracingPipeline) {
		return nil, d.msg.Error(fmt.Errorf("%w: ray tracing pipelines", rhi.ErrNotSupported))
	}
	p, err := d.createRayTracingPipeline(desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return p, nil
}

func (d *Device) CreateBindingLayout(desc rhi.BindingLayoutDesc) (rhi.BindingLayout, error) {
	desc.Bindings = slices.Clone(desc.Bindings)
	l, err := compileBindingLayout(d.nextLayoutID.Add(1), desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	l.init(nil)
	return l, nil
}

func (d *Device) CreateBindlessLayout(desc rhi.BindlessLayoutDesc) (rhi.BindingLayout, error) {
	desc.RegisterSpaces = slices.Clone(desc.RegisterSpaces)
	l, err := compileBindlessLayout(d.nextLayoutID.Add(1), desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	l.init(nil)
	return l, nil
}

func (d *Device) CreateBindingSet(desc rhi.BindingSetDesc, layout rhi.BindingLayout) (rhi.BindingSet, error) {
	l, ok := layout.(*bindingLayout)
	if !ok {
		return nil, d.msg.Error(fmt.Errorf("%w: binding layout", rhi.ErrNilHandle))
	}
	if l.bindless != nil {
		return nil, d.msg.Error(fmt.Errorf("%w: binding sets cannot use a bindless layout; create a descriptor table", rhi.ErrInvalidArgument))
	}
	s, err := d.createBindingSet(desc, l)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return s, nil
}

func (d *Device) CreateDescriptorTable(layout rhi.BindingLayout) (rhi.DescriptorTable, error) {
	l, ok := layout.(*bindingLayout)
	if !ok {
		return nil, d.msg.Error(fmt.Errorf("%w: binding layout", rhi.ErrNilHandle))
	}
	if l.bindless == nil {
		return nil, d.msg.Error(fmt.Errorf("%w: descriptor tables need a bindless layout", rhi.ErrInvalidArgument))
	}
	t := &descriptorTable{dev: d, layout: l, heap: d.descriptorTableHeap(l)}
	l.AddRef()
	t.init(t.destroy)
	return t, nil
}

func (d *Device) ResizeDescriptorTable(t rhi.DescriptorTable, newSize uint32, keepContents bool) error {
	dt, ok := t.(*descriptorTable)
	if !ok {
		return d.msg.Error(fmt.Errorf("%w: descriptor table", rhi.ErrNilHandle))
	}
	if limit := dt.layout.bindless.MaxCapacity; limit > 0 && newSize > limit {
		return d.msg.Error(fmt.Errorf("%w: descriptor table size %d exceeds the layout maximum %d", rhi.ErrInvalidArgument, newSize, limit))
	}
	if newSize == 0 {
		dt.heap.release(dt.base, dt.capacity)
		dt.base, dt.capacity = 0, 0
		return nil
	}
	return d.msg.Error(d.resizeDescriptorTable(dt, newSize, keepContents))
}

func (d *Device) WriteDescriptorTable(t rhi.DescriptorTable, item rhi.BindingSetItem) error {
	dt, ok := t.(*descriptorTable)
	if !ok {
		return d.msg.Error(fmt.Errorf("%w: descriptor table", rhi.ErrNilHandle))
	}
	return d.msg.Error(d.writeDescriptorTable(dt, &item))
}

func (d *Device) CreateAccelStruct(desc rhi.AccelStructDesc) (rhi.AccelStruct, error) {
	if !d.be.FeatureSupported(rhi.FeatureRayTracingAccelStruct) {
		return nil, d.msg.Error(fmt.Errorf("%w: acceleration structures", rhi.ErrNotSupported))
	}
	a, err := d.createAccelStruct(desc)
	if err != nil {
		return nil, d.msg.Error(err)
	}
	return a, nil
}

func (d *Device) GetAccelStructMemoryRequirements(as rhi.AccelStruct) rhi.MemoryRequirements {
	a, ok := as.(*accelStruct)
	if !ok {
		d.msg.Errorf("GetAccelStructMemoryRequirements: acceleration structure is nil or was not created by this device")
		return rhi.MemoryRequirements{}
	}
	return d.be.BufferMemoryRequirements(&a.data.desc)
}

func (d *Device) BindAccelStructMemory(as rhi.AccelStruct, hp rhi.Heap, offset uint64) error {
	a, ok := as.(*accelStruct)
	h, hok := hp.(*heap)
	if !ok || !hok {
		return d.msg.Error(fmt.Errorf("%w: acceleration structure or heap", rhi.ErrNilHandle))
	}
	return d.msg.Error(d.bindBufferMemory(a.data, h, offset))
}

func (d *Device) CreateCommandList(params rhi.CommandListParameters) (rhi.CommandList, error) {
	q := d.queue(params.QueueType)
	if q == nil {
		return nil, fmt.Errorf("%w: %s queue", rhi.ErrNotSupported, params.QueueType)
	}
	if params.UploadChunkSize == 0 {
		params.UploadChunkSize = d.desc.UploadChunkSize
	}
	if params.ScratchChunkSize == 0 {
		params.ScratchChunkSize = d.desc.ScratchChunkSize
	}
	if params.ScratchMaxMemory == 0 {
		params.ScratchMaxMemory = d.desc.ScratchMaxMemory
	}
	return newCommandList(d, q, params), nil
}

// ExecuteCommandLists submits closed command lists to one queue in array
// order. The lists return to the Initial state.
func (d *Device) ExecuteCommandLists(lists []rhi.CommandList, queue rhi.CommandQueue) (uint64, error) {
	q := d.queue(queue)
	if q == nil {
		return 0, fmt.Errorf("%w: %s queue", rhi.ErrNotSupported, queue)
	}
	if len(lists) == 0 {
		return 0, nil
	}
	cls := make([]*CommandList, 0, len(lists))
	for i, l := range lists {
		cl, ok := l.(*CommandList)
		switch {
		case !ok || cl == nil || cl.dev != d:
			return 0, d.msg.Error(fmt.Errorf("%w: command list %d was not created by this device", rhi.ErrInvalidArgument, i))
		case cl.state != listClosed:
			return 0, d.msg.Error(fmt.Errorf("%w: command list %d is not closed", rhi.ErrCommandListState, i))
		case cl.q != q:
			return 0, d.msg.Error(fmt.Errorf("%w: command list %d was created for the %s queue", rhi.ErrInvalidArgument, i, cl.params.QueueType))
		case slices.Contains(cls, cl):
			return 0, d.msg.Error(fmt.Errorf("%w: command list %d appears twice", rhi.ErrInvalidArgument, i))
		}
		cls = append(cls, cl)
	}
	return q.submit(cls)
}

// QueueWaitForCommandList makes the next submission to waitQueue wait on
// the GPU until executionQueue has completed instance.
func (d *Device) QueueWaitForCommandList(waitQueue, executionQueue rhi.CommandQueue, instance uint64) {
	wq, eq := d.queue(waitQueue), d.queue(executionQueue)
	if wq == nil || eq == nil || wq == eq {
		return
	}
	wq.addWait(eq.sem, instance)
}

// WaitForIdle blocks until every queue has completed its last submission.
func (d *Device) WaitForIdle() error {
	var g errgroup.Group
	for _, q := range d.queues {
		if q != nil {
			g.Go(q.waitIdle)
		}
	}
	return g.Wait()
}

// RunGarbageCollection releases what completed submissions held.
func (d *Device) RunGarbageCollection() {
	for _, q := range d.queues {
		if q != nil {
			q.collect()
		}
	}
}

func (d *Device) QueryFeatureSupport(feature rhi.Feature) bool {
	switch feature {
	case rhi.FeatureComputeQueue:
		return d.queues[rhi.QueueCompute] != nil
	case rhi.FeatureCopyQueue:
		return d.queues[rhi.QueueCopy] != nil
	case rhi.FeatureTimerQueries:
		return d.timers != nil
	case rhi.FeatureEventQueries:
		return true
	case rhi.FeatureAccelStructCompaction:
		return d.compaction.enabled && d.be.FeatureSupported(rhi.FeatureRayTracingAccelStruct)
	}
	return d.be.FeatureSupported(feature)
}

func (d *Device) QueryFormatSupport(format rhi.Format) rhi.FormatSupport {
	return d.be.FormatSupport(format)
}

func (d *Device) NativeQueue(queue rhi.CommandQueue) any {
	if queue >= rhi.QueueCount || d.queues[queue] == nil {
		return nil
	}
	return d.queues[queue].nq.Native()
}
