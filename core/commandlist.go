package core

import (
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

type listState uint8

const (
	listInitial listState = iota
	listOpen
	listClosed
)

// boundVolatileCB is a volatile constant buffer bound to a root CBV
// parameter together with the address last written into that parameter.
type boundVolatileCB struct {
	rootIndex uint32
	buffer    *buffer
	address   uint64
}

// CommandList records GPU work against a Device. It is not safe for
// concurrent use; distinct command lists may record in parallel.
type CommandList struct {
	refCounter
	dev    *Device
	params rhi.CommandListParameters
	q      *queue
	msg    rhi.Messages

	state            listState
	cmd              *commandBuffer
	recordingVersion version

	tracker *stateTracker
	upload  *uploadManager
	scratch *uploadManager

	enableAutomaticBarriers bool

	graphicsValid   bool
	computeValid    bool
	meshletValid    bool
	rayTracingValid bool
	graphics        rhi.GraphicsState
	compute         rhi.ComputeState
	meshlet         rhi.MeshletState
	rayTracing      rhi.RayTracingState

	graphicsVolatileCBs []boundVolatileCB
	computeVolatileCBs  []boundVolatileCB

	volatileAddresses       map[*buffer]uint64
	anyVolatileBufferWrites bool
	// pushConstantsSet is cleared by every set*State call.
	pushConstantsSet bool

	heapSRV     native.DescriptorHeap
	heapSampler native.DescriptorHeap

	shaderTables map[*shaderTable]*shaderTableState

	// compactions swap in their new storage once the list is executed.
	compactions []pendingCompaction
}

var _ rhi.CommandList = (*CommandList)(nil)

func newCommandList(dev *Device, q *queue, params rhi.CommandListParameters) *CommandList {
	c := &CommandList{
		dev:                     dev,
		params:                  params,
		q:                       q,
		msg:                     dev.msg,
		tracker:                 newStateTracker(dev.msg),
		enableAutomaticBarriers: true,
		volatileAddresses:       make(map[*buffer]uint64),
		shaderTables:            make(map[*shaderTable]*shaderTableState),
	}
	c.upload = newUploadManager(dev.be, params.UploadChunkSize, q.updateLastCompleted)
	c.scratch = newScratchManager(dev.be, params.ScratchChunkSize, params.ScratchMaxMemory, q.updateLastCompleted)
	c.init(c.destroy)
	return c
}

// Device returns the device that created the command list.
func (c *CommandList) Device() rhi.Device { return c.dev }

// Parameters returns the creation parameters.
func (c *CommandList) Parameters() *rhi.CommandListParameters { return &c.params }

func (c *CommandList) destroy() {
	if c.state == listOpen && c.params.EnableImmediateExecution {
		c.dev.immediateOpen.Store(false)
	}
	if c.cmd != nil {
		c.q.abandon(c.cmd)
		c.cmd = nil
	}
	c.tracker.reset()
	c.dropCompactions()
	c.q.retireChunks(append(c.upload.takeChunks(), c.scratch.takeChunks()...))
}

// Open starts recording. Opening a closed command list that was never
// executed discards what it recorded.
func (c *CommandList) Open() {
	if c.state == listOpen {
		c.msg.Errorf("Open called on a command list that is already open")
		return
	}
	if c.params.EnableImmediateExecution && !c.dev.immediateOpen.CompareAndSwap(false, true) {
		c.msg.Errorf("Only one immediate command list may be open at a time")
		return
	}
	if c.state == listClosed {
		if !c.params.EnableImmediateExecution {
			c.msg.Warnf("A closed command list was reopened before it was executed; its commands are discarded")
		}
		c.discardRecording()
	}

	cb, err := c.q.acquireCommandBuffer()
	if err == nil {
		err = cb.native.Begin()
		if err != nil {
			c.q.abandon(cb)
		}
	}
	if err != nil {
		c.msg.Errorf("Failed to begin a command buffer: %v", err)
		if c.params.EnableImmediateExecution {
			c.dev.immediateOpen.Store(false)
		}
		return
	}

	c.cmd = cb
	c.recordingVersion = c.q.nextRecordingVersion()
	c.clearStateCache()
	c.state = listOpen
}

func (c *CommandList) discardRecording() {
	c.tracker.reset()
	c.upload.discard(c.recordingVersion)
	c.scratch.discard(c.recordingVersion)
	clear(c.volatileAddresses)
	c.dropCompactions()
	if c.cmd != nil {
		c.q.abandon(c.cmd)
		c.cmd = nil
	}
	c.state = listInitial
}

// Close finishes recording. Resources created with KeepInitialState are
// returned to their initial state first.
func (c *CommandList) Close() {
	if c.state != listOpen {
		c.msg.Errorf("Close called on a command list that is not open")
		return
	}
	c.tracker.keepInitialStates()
	c.commitBarriers()
	if err := c.cmd.native.End(); err != nil {
		c.msg.Errorf("Failed to close a command buffer: %v", err)
	}
	c.clearStateCache()
	c.state = listClosed
	if c.params.EnableImmediateExecution {
		c.dev.immediateOpen.Store(false)
	}
}

// executed runs after the queue accepted the command list.
func (c *CommandList) executed(submitted version) {
	c.tracker.commandListSubmitted()
	c.applyCompactions()
	c.upload.submitChunks(c.recordingVersion, submitted)
	c.scratch.submitChunks(c.recordingVersion, submitted)
	clear(c.volatileAddresses)
	c.cmd = nil
	c.state = listInitial
}

// ClearState forgets all cached pipeline and binding state so the next
// set*State call rebinds everything.
func (c *CommandList) ClearState() {
	if !c.recording("ClearState") {
		return
	}
	c.clearStateCache()
}

func (c *CommandList) clearStateCache() {
	c.graphicsValid = false
	c.computeValid = false
	c.meshletValid = false
	c.rayTracingValid = false
	c.pushConstantsSet = false
	c.graphics = rhi.GraphicsState{}
	c.compute = rhi.ComputeState{}
	c.meshlet = rhi.MeshletState{}
	c.rayTracing = rhi.RayTracingState{}
	c.graphicsVolatileCBs = c.graphicsVolatileCBs[:0]
	c.computeVolatileCBs = c.computeVolatileCBs[:0]
	c.heapSRV = nil
	c.heapSampler = nil
	clear(c.shaderTables)
}

// recording reports whether the list is open and reports an error
// otherwise.
func (c *CommandList) recording(op string) bool {
	if c.state != listOpen {
		c.msg.Errorf("%s called on a command list that is not open", op)
		return false
	}
	return true
}

func (c *CommandList) asTexture(t rhi.Texture, op string) *texture {
	tex, ok := t.(*texture)
	if !ok || tex == nil {
		c.msg.Errorf("%s: texture is nil or was not created by this device", op)
		return nil
	}
	return tex
}

func (c *CommandList) asBuffer(b rhi.Buffer, op string) *buffer {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		c.msg.Errorf("%s: buffer is nil or was not created by this device", op)
		return nil
	}
	return buf
}

func (c *CommandList) asStaging(t rhi.StagingTexture, op string) *stagingTexture {
	st, ok := t.(*stagingTexture)
	if !ok || st == nil {
		c.msg.Errorf("%s: staging texture is nil or was not created by this device", op)
		return nil
	}
	return st
}

func (c *CommandList) asAccelStruct(as rhi.AccelStruct, op string) *accelStruct {
	a, ok := as.(*accelStruct)
	if !ok || a == nil {
		c.msg.Errorf("%s: acceleration structure is nil or was not created by this device", op)
		return nil
	}
	return a
}

// commitBarriers records every pending barrier into the command buffer.
func (c *CommandList) commitBarriers() {
	tb, bb := c.tracker.textureBarriers, c.tracker.bufferBarriers
	if len(tb) == 0 && len(bb) == 0 {
		return
	}

	textures := make([]native.TextureBarrier, 0, len(tb))
	for _, b := range tb {
		c.cmd.reference(b.texture)
		textures = append(textures, native.TextureBarrier{
			Texture:       b.texture.native,
			MipLevel:      b.mipLevel,
			ArraySlice:    b.arraySlice,
			EntireTexture: b.entireTexture,
			StateBefore:   knownState(b.stateBefore),
			StateAfter:    b.stateAfter,
		})
	}
	buffers := make([]native.BufferBarrier, 0, len(bb))
	for _, b := range bb {
		c.cmd.reference(b.buffer)
		buffers = append(buffers, native.BufferBarrier{
			Buffer:      b.buffer.native,
			StateBefore: knownState(b.stateBefore),
			StateAfter:  b.stateAfter,
		})
	}
	c.cmd.native.Barriers(textures, buffers)
	c.tracker.clearBarriers()
}

// knownState replaces the tracker-only Unknown state with Common.
func knownState(s rhi.ResourceStates) rhi.ResourceStates {
	if s == rhi.ResourceStateUnknown {
		return rhi.ResourceStateCommon
	}
	return s
}

// CommitBarriers records pending barriers now.
func (c *CommandList) CommitBarriers() {
	if !c.recording("CommitBarriers") {
		return
	}
	c.commitBarriers()
}

// SetEnableAutomaticBarriers turns implicit state transitions of
// set*State and copy commands on or off.
func (c *CommandList) SetEnableAutomaticBarriers(enable bool) {
	c.enableAutomaticBarriers = enable
}

func (c *CommandList) SetResourceStatesForBindingSet(set rhi.BindingSet) {
	if !c.recording("SetResourceStatesForBindingSet") {
		return
	}
	if bs, ok := set.(*bindingSet); ok {
		c.setResourceStatesForBindingSet(bs)
	}
}

func (c *CommandList) setResourceStatesForBindingSet(s *bindingSet) {
	for _, i := range s.bindingsThatNeedTransitions {
		item := &s.desc.Bindings[i]
		state := item.Type.RequiredState()
		switch r := item.Resource.(type) {
		case *texture:
			c.tracker.requireTextureState(r, item.Subresources, state)
		case *buffer:
			c.tracker.requireBufferState(r, state)
		case *accelStruct:
			c.tracker.requireBufferState(r.data, rhi.ResourceStateAccelStructRead)
		}
	}
}

func (c *CommandList) SetResourceStatesForFramebuffer(fb rhi.Framebuffer) {
	if !c.recording("SetResourceStatesForFramebuffer") {
		return
	}
	if f, ok := fb.(*framebuffer); ok {
		c.setResourceStatesForFramebuffer(f)
	}
}

func (c *CommandList) setResourceStatesForFramebuffer(f *framebuffer) {
	for _, a := range f.desc.ColorAttachments {
		c.tracker.requireTextureState(a.Texture.(*texture), a.Subresources, rhi.ResourceStateRenderTarget)
	}
	if d := f.desc.DepthAttachment; d.Valid() {
		state := rhi.ResourceStateDepthWrite
		if d.IsReadOnly {
			state = rhi.ResourceStateDepthRead
		}
		c.tracker.requireTextureState(d.Texture.(*texture), d.Subresources, state)
	}
	if s := f.desc.ShadingRateAttachment; s.Valid() {
		c.tracker.requireTextureState(s.Texture.(*texture), s.Subresources, rhi.ResourceStateShadingRateSurface)
	}
}

func (c *CommandList) SetEnableUAVBarriersForTexture(t rhi.Texture, enable bool) {
	if tex := c.asTexture(t, "SetEnableUAVBarriersForTexture"); tex != nil {
		c.tracker.setEnableUAVBarriersForTexture(tex, enable)
	}
}

func (c *CommandList) SetEnableUAVBarriersForBuffer(b rhi.Buffer, enable bool) {
	if buf := c.asBuffer(b, "SetEnableUAVBarriersForBuffer"); buf != nil {
		c.tracker.setEnableUAVBarriersForBuffer(buf, enable)
	}
}

func (c *CommandList) BeginTrackingTextureState(t rhi.Texture, sub rhi.TextureSubresourceSet, state rhi.ResourceStates) {
	if tex := c.asTexture(t, "BeginTrackingTextureState"); tex != nil {
		c.tracker.beginTrackingTextureState(tex, sub, state)
	}
}

func (c *CommandList) BeginTrackingBufferState(b rhi.Buffer, state rhi.ResourceStates) {
	if buf := c.asBuffer(b, "BeginTrackingBufferState"); buf != nil {
		c.tracker.beginTrackingBufferState(buf, state)
	}
}

func (c *CommandList) SetTextureState(t rhi.Texture, sub rhi.TextureSubresourceSet, state rhi.ResourceStates) {
	if tex := c.asTexture(t, "SetTextureState"); tex != nil {
		c.tracker.requireTextureState(tex, sub, state)
	}
}

func (c *CommandList) SetBufferState(b rhi.Buffer, state rhi.ResourceStates) {
	if buf := c.asBuffer(b, "SetBufferState"); buf != nil {
		c.tracker.requireBufferState(buf, state)
	}
}

func (c *CommandList) SetAccelStructState(as rhi.AccelStruct, state rhi.ResourceStates) {
	if a := c.asAccelStruct(as, "SetAccelStructState"); a != nil {
		c.tracker.requireBufferState(a.data, state)
	}
}

func (c *CommandList) SetPermanentTextureState(t rhi.Texture, state rhi.ResourceStates) {
	if tex := c.asTexture(t, "SetPermanentTextureState"); tex != nil {
		c.tracker.setPermanentTextureState(tex, state)
	}
}

func (c *CommandList) SetPermanentBufferState(b rhi.Buffer, state rhi.ResourceStates) {
	if buf := c.asBuffer(b, "SetPermanentBufferState"); buf != nil {
		c.tracker.setPermanentBufferState(buf, state)
	}
}

func (c *CommandList) GetTextureSubresourceState(t rhi.Texture, arraySlice, mipLevel uint32) rhi.ResourceStates {
	tex := c.asTexture(t, "GetTextureSubresourceState")
	if tex == nil {
		return rhi.ResourceStateUnknown
	}
	return c.tracker.textureSubresourceState(tex, arraySlice, mipLevel)
}

func (c *CommandList) GetBufferState(b rhi.Buffer) rhi.ResourceStates {
	buf := c.asBuffer(b, "GetBufferState")
	if buf == nil {
		return rhi.ResourceStateUnknown
	}
	return c.tracker.bufferState(buf)
}

func (c *CommandList) BeginMarker(name string) {
	if c.recording("BeginMarker") {
		c.cmd.native.BeginMarker(name)
	}
}

func (c *CommandList) EndMarker() {
	if c.recording("EndMarker") {
		c.cmd.native.EndMarker()
	}
}
