// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package core

import (
	"slices"

	"github.com/gogpu/rhi"
)

type textureState struct {
	// subresourceStates is nil while the texture is tracked as a whole.
	subresourceStates     []rhi.ResourceStates
	state                 rhi.ResourceStates
	enableUAVBarriers     bool
	firstUAVBarrierPlaced bool
	permanentTransition   bool
}

type bufferState struct {
	state                 rhi.ResourceStates
	enableUAVBarriers     bool
	firstUAVBarrierPlaced bool
	permanentTransition   bool
}

type textureBarrier struct {
	texture       *texture
	mipLevel      uint32
	arraySlice    uint32
	entireTexture bool
	stateBefore   rhi.ResourceStates
	stateAfter    rhi.ResourceStates
}

type bufferBarrier struct {
	buffer      *buffer
	stateBefore rhi.ResourceStates
	stateAfter  rhi.ResourceStates
}

type permanentTexture struct {
	texture *texture
	state   rhi.ResourceStates
}

type permanentBuffer struct {
	buffer *buffer
	state  rhi.ResourceStates
}

// stateTracker follows the state of every resource a command list touches
// and queues the barriers needed to move them into the states later
// commands require.
type stateTracker struct {
	msg rhi.Messages

	textureStates map[*texture]*textureState
	bufferStates  map[*buffer]*bufferState
	// Insertion order of the maps above.
	textures []*texture
	buffers  []*buffer

	permanentTextures []permanentTexture
	permanentBuffers  []permanentBuffer

	textureBarriers []textureBarrier
	bufferBarriers  []bufferBarrier
}

func newStateTracker(msg rhi.Messages) *stateTracker {
	return &stateTracker{
		msg:           msg,
		textureStates: make(map[*texture]*textureState),
		bufferStates:  make(map[*buffer]*bufferState),
	}
}

// transitionNeeded reports whether a resource in state cur must be
// transitioned to satisfy req. Common is only satisfied by Common.
func transitionNeeded(cur, req rhi.ResourceStates) bool {
	if req == rhi.ResourceStateCommon {
		return cur != rhi.ResourceStateCommon
	}
	return cur&req != req
}

func uavNeeded(req rhi.ResourceStates, enable, firstPlaced bool) bool {
	return req.Has(rhi.ResourceStateUnorderedAccess) && (enable || !firstPlaced)
}

func (t *stateTracker) textureTracking(tex *texture, create bool) *textureState {
	if ts, ok := t.textureStates[tex]; ok || !create {
		return ts
	}
	ts := &textureState{state: rhi.ResourceStateUnknown, enableUAVBarriers: true}
	if tex.desc.KeepInitialState {
		if tex.stateInitialized.Load() {
			ts.state = tex.desc.InitialState
		} else {
			ts.state = rhi.ResourceStateCommon
		}
	}
	t.textureStates[tex] = ts
	t.textures = append(t.textures, tex)
	return ts
}

func (t *stateTracker) bufferTracking(buf *buffer, create bool) *bufferState {
	if bs, ok := t.bufferStates[buf]; ok || !create {
		return bs
	}
	bs := &bufferState{state: rhi.ResourceStateUnknown, enableUAVBarriers: true}
	if buf.desc.KeepInitialState {
		bs.state = buf.desc.InitialState
	}
	t.bufferStates[buf] = bs
	t.buffers = append(t.buffers, buf)
	return bs
}

func (t *stateTracker) setEnableUAVBarriersForTexture(tex *texture, enable bool) {
	ts := t.textureTracking(tex, true)
	ts.enableUAVBarriers = enable
	ts.firstUAVBarrierPlaced = false
}

func (t *stateTracker) setEnableUAVBarriersForBuffer(buf *buffer, enable bool) {
	bs := t.bufferTracking(buf, true)
	bs.enableUAVBarriers = enable
	bs.firstUAVBarrierPlaced = false
}

func (t *stateTracker) beginTrackingTextureState(tex *texture, sub rhi.TextureSubresourceSet, state rhi.ResourceStates) {
	sub = sub.Resolve(&tex.desc, false)
	ts := t.textureTracking(tex, true)

	if sub.IsEntireTexture(&tex.desc) {
		ts.state = state
		ts.subresourceStates = nil
		return
	}

	t.expand(ts, &tex.desc)
	for slice := sub.BaseArraySlice; slice < sub.BaseArraySlice+sub.NumArraySlices; slice++ {
		for mip := sub.BaseMipLevel; mip < sub.BaseMipLevel+sub.NumMipLevels; mip++ {
			ts.subresourceStates[tex.desc.SubresourceIndex(mip, slice)] = state
		}
	}
}

func (t *stateTracker) beginTrackingBufferState(buf *buffer, state rhi.ResourceStates) {
	t.bufferTracking(buf, true).state = state
}

// expand switches a whole-tracked texture to per-subresource tracking.
func (t *stateTracker) expand(ts *textureState, desc *rhi.TextureDesc) {
	if ts.subresourceStates != nil {
		return
	}
	ts.subresourceStates = make([]rhi.ResourceStates, desc.NumSubresources())
	for i := range ts.subresourceStates {
		ts.subresourceStates[i] = ts.state
	}
	ts.state = rhi.ResourceStateUnknown
}

func (t *stateTracker) setPermanentTextureState(tex *texture, state rhi.ResourceStates) {
	t.requireTextureState(tex, rhi.AllSubresources, state)
	t.textureTracking(tex, true).permanentTransition = true
	t.permanentTextures = append(t.permanentTextures, permanentTexture{tex, state})
}

func (t *stateTracker) setPermanentBufferState(buf *buffer, state rhi.ResourceStates) {
	t.requireBufferState(buf, state)
	t.bufferTracking(buf, true).permanentTransition = true
	t.permanentBuffers = append(t.permanentBuffers, permanentBuffer{buf, state})
}

func (t *stateTracker) verifyPermanentState(permanent, required rhi.ResourceStates, isTexture bool, name string) {
	if permanent&required == required {
		return
	}
	kind := "buffer"
	if isTexture {
		kind = "texture"
	}
	t.msg.Errorf("Permanent %s %s doesn't have the right state bits. Required: %s, present: %s (permanent state mismatch)",
		kind, name, required, permanent)
}

func (t *stateTracker) requireTextureState(tex *texture, sub rhi.TextureSubresourceSet, state rhi.ResourceStates) {
	if p := rhi.ResourceStates(tex.permanentState.Load()); p != 0 {
		t.verifyPermanentState(p, state, true, tex.desc.DebugName)
		return
	}

	sub = sub.Resolve(&tex.desc, false)
	ts := t.textureTracking(tex, true)
	entire := sub.IsEntireTexture(&tex.desc)

	if entire && ts.subresourceStates == nil {
		transition := transitionNeeded(ts.state, state)
		uav := uavNeeded(state, ts.enableUAVBarriers, ts.firstUAVBarrierPlaced)
		if transition || uav {
			t.textureBarriers = append(t.textureBarriers, textureBarrier{
				texture:       tex,
				entireTexture: true,
				stateBefore:   ts.state,
				stateAfter:    state,
			})
		}
		if transition {
			ts.state = state
		} else if uav {
			ts.firstUAVBarrierPlaced = true
		}
		return
	}

	if entire {
		t.collapseTexture(tex, ts, state)
		return
	}

	expanded := false
	if ts.subresourceStates == nil {
		if ts.state == rhi.ResourceStateUnknown {
			t.msg.Errorf("Unknown prior state of texture %s. Call CommandList.BeginTrackingTextureState before using the texture or set KeepInitialState and InitialState in its TextureDesc.", tex.desc.DebugName)
		}
		t.expand(ts, &tex.desc)
		expanded = true
	}

	anyUAV := false
	for slice := sub.BaseArraySlice; slice < sub.BaseArraySlice+sub.NumArraySlices; slice++ {
		for mip := sub.BaseMipLevel; mip < sub.BaseMipLevel+sub.NumMipLevels; mip++ {
			idx := tex.desc.SubresourceIndex(mip, slice)
			prior := ts.subresourceStates[idx]
			if prior == rhi.ResourceStateUnknown && !expanded {
				t.msg.Errorf("Unknown prior state of texture %s subresource (MipLevel = %d, ArraySlice = %d).", tex.desc.DebugName, mip, slice)
			}

			transition := transitionNeeded(prior, state)
			uav := !anyUAV && uavNeeded(state, ts.enableUAVBarriers, ts.firstUAVBarrierPlaced)
			if transition || uav {
				t.textureBarriers = append(t.textureBarriers, textureBarrier{
					texture:     tex,
					mipLevel:    mip,
					arraySlice:  slice,
					stateBefore: prior,
					stateAfter:  state,
				})
			}
			if transition {
				ts.subresourceStates[idx] = state
			} else if uav {
				anyUAV = true
				ts.firstUAVBarrierPlaced = true
			}
		}
	}
}

// collapseTexture satisfies an entire-texture request on a texture tracked
// per subresource and returns it to whole-state tracking. When every
// subresource started the pending batch in the same state, the pending
// per-subresource barriers are replaced with a single entire barrier.
func (t *stateTracker) collapseTexture(tex *texture, ts *textureState, state rhi.ResourceStates) {
	start := slices.Clone(ts.subresourceStates)
	seen := make([]bool, len(start))
	for i := range t.textureBarriers {
		b := &t.textureBarriers[i]
		if b.texture != tex {
			continue
		}
		if b.entireTexture {
			for j := range start {
				if !seen[j] {
					start[j] = b.stateBefore
					seen[j] = true
				}
			}
			continue
		}
		j := tex.desc.SubresourceIndex(b.mipLevel, b.arraySlice)
		if !seen[j] {
			start[j] = b.stateBefore
			seen[j] = true
		}
	}

	uniform := true
	for _, s := range start[1:] {
		if s != start[0] {
			uniform = false
			break
		}
	}

	if uniform {
		kept := t.textureBarriers[:0]
		for _, b := range t.textureBarriers {
			if b.texture != tex {
				kept = append(kept, b)
			}
		}
		t.textureBarriers = kept

		before := start[0]
		transition := transitionNeeded(before, state)
		uav := uavNeeded(state, ts.enableUAVBarriers, ts.firstUAVBarrierPlaced)
		if transition || uav {
			t.textureBarriers = append(t.textureBarriers, textureBarrier{
				texture:       tex,
				entireTexture: true,
				stateBefore:   before,
				stateAfter:    state,
			})
		}
		if uav && !transition {
			ts.firstUAVBarrierPlaced = true
		}
		ts.subresourceStates = nil
		ts.state = state
		if !transition {
			ts.state = before
		}
		return
	}

	anyUAV := false
	for slice := uint32(0); slice < tex.desc.ArraySize; slice++ {
		for mip := uint32(0); mip < tex.desc.MipLevels; mip++ {
			prior := ts.subresourceStates[tex.desc.SubresourceIndex(mip, slice)]
			transition := transitionNeeded(prior, state)
			uav := !anyUAV && uavNeeded(state, ts.enableUAVBarriers, ts.firstUAVBarrierPlaced)
			if transition || uav {
				t.textureBarriers = append(t.textureBarriers, textureBarrier{
					texture:     tex,
					mipLevel:    mip,
					arraySlice:  slice,
					stateBefore: prior,
					stateAfter:  state,
				})
			}
			if uav && !transition {
				anyUAV = true
				ts.firstUAVBarrierPlaced = true
			}
		}
	}
	ts.subresourceStates = nil
	ts.state = state
}

func (t *stateTracker) requireBufferState(buf *buffer, state rhi.ResourceStates) {
	if buf.desc.IsVolatile {
		return
	}
	if p := rhi.ResourceStates(buf.permanentState.Load()); p != 0 {
		t.verifyPermanentState(p, state, false, buf.desc.DebugName)
		return
	}
	// CPU-visible buffers never change state.
	if buf.desc.CPUAccess != rhi.CPUAccessNone {
		return
	}

	bs := t.bufferTracking(buf, true)
	transition := transitionNeeded(bs.state, state)
	uav := uavNeeded(state, bs.enableUAVBarriers, bs.firstUAVBarrierPlaced)

	if transition {
		// Merge with a barrier already queued for this buffer.
		for i := range t.bufferBarriers {
			b := &t.bufferBarriers[i]
			if b.buffer == buf {
				b.stateAfter |= state
				bs.state = b.stateAfter
				return
			}
		}
	}

	if transition || uav {
		t.bufferBarriers = append(t.bufferBarriers, bufferBarrier{
			buffer:      buf,
			stateBefore: bs.state,
			stateAfter:  state,
		})
	}
	if transition {
		bs.state = state
	} else if uav {
		bs.firstUAVBarrierPlaced = true
	}
}

// keepInitialStates returns every resource created with KeepInitialState to
// its initial state, except those with a permanent state.
func (t *stateTracker) keepInitialStates() {
	for _, tex := range t.textures {
		ts := t.textureStates[tex]
		if tex.desc.KeepInitialState && tex.permanentState.Load() == 0 && !ts.permanentTransition {
			t.requireTextureState(tex, rhi.AllSubresources, tex.desc.InitialState)
		}
	}
	for _, buf := range t.buffers {
		bs := t.bufferStates[buf]
		if buf.desc.KeepInitialState && buf.permanentState.Load() == 0 && !bs.permanentTransition && !buf.desc.IsVolatile {
			t.requireBufferState(buf, buf.desc.InitialState)
		}
	}
}

// commandListSubmitted promotes pending permanent states and forgets all
// tracking. It runs once the command list reaches its queue.
func (t *stateTracker) commandListSubmitted() {
	for _, p := range t.permanentTextures {
		cur := rhi.ResourceStates(p.texture.permanentState.Load())
		if cur != 0 && cur != p.state {
			t.msg.Errorf("Attempted to switch permanent state of texture %s from %s to %s", p.texture.desc.DebugName, cur, p.state)
			continue
		}
		p.texture.permanentState.Store(uint32(p.state))
	}
	for _, p := range t.permanentBuffers {
		cur := rhi.ResourceStates(p.buffer.permanentState.Load())
		if cur != 0 && cur != p.state {
			t.msg.Errorf("Attempted to switch permanent state of buffer %s from %s to %s", p.buffer.desc.DebugName, cur, p.state)
			continue
		}
		p.buffer.permanentState.Store(uint32(p.state))
	}

	for _, tex := range t.textures {
		if tex.desc.KeepInitialState {
			tex.stateInitialized.Store(true)
		}
	}

	t.reset()
}

// reset drops all tracking without promoting anything.
func (t *stateTracker) reset() {
	clear(t.textureStates)
	clear(t.bufferStates)
	t.textures = t.textures[:0]
	t.buffers = t.buffers[:0]
	t.permanentTextures = t.permanentTextures[:0]
	t.permanentBuffers = t.permanentBuffers[:0]
	t.textureBarriers = t.textureBarriers[:0]
	t.bufferBarriers = t.bufferBarriers[:0]
}

func (t *stateTracker) textureSubresourceState(tex *texture, arraySlice, mip uint32) rhi.ResourceStates {
	if p := rhi.ResourceStates(tex.permanentState.Load()); p != 0 {
		return p
	}
	ts := t.textureTracking(tex, false)
	if ts == nil {
		return rhi.ResourceStateUnknown
	}
	if ts.subresourceStates == nil {
		return ts.state
	}
	return ts.subresourceStates[tex.desc.SubresourceIndex(mip, arraySlice)]
}

func (t *stateTracker) bufferState(buf *buffer) rhi.ResourceStates {
	if p := rhi.ResourceStates(buf.permanentState.Load()); p != 0 {
		return p
	}
	bs := t.bufferTracking(buf, false)
	if bs == nil {
		return rhi.ResourceStateUnknown
	}
	return bs.state
}

func (t *stateTracker) clearBarriers() {
	t.textureBarriers = t.textureBarriers[:0]
	t.bufferBarriers = t.bufferBarriers[:0]
}
