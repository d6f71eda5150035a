package core

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

type accelStruct struct {
	refCounter
	dev  *Device
	desc rhi.AccelStructDesc
	data *buffer

	built           bool
	compacted       bool
	primitiveCounts []uint32

	// sizeReadback receives the compacted size of a BLAS built with
	// AllowCompaction while compaction is enabled on the device.
	sizeReadback native.Buffer
	sizeData     []byte
	// compactedSize is set when the compaction registry picks it up.
	compactedSize uint64

	// bottomLevel keeps the BLAS of the last TLAS build alive when
	// TrackLiveness is set.
	bottomLevel []rhi.AccelStruct
}

func (a *accelStruct) Desc() *rhi.AccelStructDesc { return &a.desc }
func (a *accelStruct) IsCompacted() bool          { return a.compacted }
func (a *accelStruct) DeviceAddress() uint64      { return a.data.GPUAddress() }

func (a *accelStruct) destroy() {
	a.dev.compaction.forget(a)
	if a.sizeReadback != nil {
		a.sizeReadback.Unmap()
		a.sizeReadback.Destroy()
	}
	for _, b := range a.bottomLevel {
		b.Release()
	}
	a.bottomLevel = nil
	a.data.Release()
}

func (a *accelStruct) readCompactedSize() uint64 {
	if len(a.sizeData) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(a.sizeData)
}

func (a *accelStruct) setBottomLevel(instances []rhi.InstanceDesc) {
	for _, b := range a.bottomLevel {
		b.Release()
	}
	a.bottomLevel = a.bottomLevel[:0]
	for i := range instances {
		if b := instances[i].BottomLevelAS; b != nil {
			b.AddRef()
			a.bottomLevel = append(a.bottomLevel, b)
		}
	}
}

// compactionRegistry collects BLAS whose compacted size became known after
// their build completed on the GPU.
type compactionRegistry struct {
	enabled bool

	mu    sync.Mutex
	ready []*accelStruct
}

// built runs at garbage collection for BLAS builds whose submission has
// completed.
func (r *compactionRegistry) built(list []*accelStruct) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range list {
		size := a.readCompactedSize()
		if size == 0 || a.compacted || slices.Contains(r.ready, a) {
			continue
		}
		a.compactedSize = size
		a.AddRef()
		r.ready = append(r.ready, a)
	}
}

func (r *compactionRegistry) take() []*accelStruct {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.ready
	r.ready = nil
	return list
}

// requeue takes over a reference to a whose compaction was discarded.
func (r *compactionRegistry) requeue(a *accelStruct) {
	r.mu.Lock()
	keep := !a.compacted && !slices.Contains(r.ready, a)
	if keep {
		r.ready = append(r.ready, a)
	}
	r.mu.Unlock()
	if !keep {
		a.Release()
	}
}

// forget drops a that was rebuilt or destroyed before it was compacted.
func (r *compactionRegistry) forget(a *accelStruct) {
	r.mu.Lock()
	i := slices.Index(r.ready, a)
	if i >= 0 {
		r.ready = slices.Delete(r.ready, i, i+1)
	}
	r.mu.Unlock()
	if i >= 0 {
		a.Release()
	}
}

func (r *compactionRegistry) destroy() {
	for _, a := range r.take() {
		a.Release()
	}
}

// prebuildInputs describes a build for size queries, without buffers.
func prebuildInputs(desc *rhi.AccelStructDesc) native.AccelStructInputs {
	in := native.AccelStructInputs{IsTopLevel: desc.IsTopLevel, Flags: desc.BuildFlags}
	if desc.IsTopLevel {
		in.NumInstances = uint32(desc.TopLevelMaxInstances)
		return in
	}
	for _, g := range desc.BottomLevelGeometries {
		in.Geometries = append(in.Geometries, native.GeometryInput{Desc: g})
	}
	return in
}

func (d *Device) createAccelStruct(desc rhi.AccelStructDesc) (*accelStruct, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rhi.ErrInvalidArgument, err)
	}
	if desc.DebugName == "" {
		desc.DebugName = rhi.AccelStructDebugName(&desc)
	}
	desc.BottomLevelGeometries = slices.Clone(desc.BottomLevelGeometries)

	inputs := prebuildInputs(&desc)
	info := d.be.AccelStructPrebuildInfo(&inputs)

	state := rhi.ResourceStateAccelStructBuildBlas
	if desc.IsTopLevel {
		state = rhi.ResourceStateAccelStructRead
	}
	data, err := d.createBuffer(rhi.BufferDesc{
		ByteSize:             info.ResultSize,
		DebugName:            desc.DebugName,
		CanHaveUAVs:          true,
		IsAccelStructStorage: true,
		IsVirtual:            desc.IsVirtual,
		InitialState:         state,
		KeepInitialState:     true,
	})
	if err != nil {
		return nil, err
	}

	a := &accelStruct{dev: d, desc: desc, data: data}
	if d.compaction.enabled && !desc.IsTopLevel && desc.BuildFlags.Has(rhi.AccelStructBuildAllowCompaction) {
		rb, err := d.be.CreateBuffer(&rhi.BufferDesc{
			ByteSize:     8,
			DebugName:    desc.DebugName + " compacted size",
			CPUAccess:    rhi.CPUAccessRead,
			InitialState: rhi.ResourceStateCopyDest,
		})
		if err == nil {
			a.sizeData, err = rb.Map()
			if err != nil {
				rb.Destroy()
			}
		}
		if err != nil {
			data.Release()
			return nil, fmt.Errorf("%w: create compacted-size readback: %w", rhi.ErrNativeFailure, err)
		}
		a.sizeReadback = rb
	}
	a.init(a.destroy)
	return a, nil
}
