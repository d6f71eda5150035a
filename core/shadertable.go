package core

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// shaderTableAlignment is the placement alignment of each section of a
// shader table in GPU memory.
const shaderTableAlignment = 64

type shaderRecord struct {
	exportName string
	bindings   rhi.BindingSet
}

func (r *shaderRecord) release() {
	if r.bindings != nil {
		r.bindings.Release()
	}
}

// shaderTable is the CPU description of a shader binding table. Command
// lists upload it whenever version changed since they last did.
type shaderTable struct {
	refCounter
	dev      *Device
	pipeline *rayTracingPipeline

	rayGen    *shaderRecord
	miss      []shaderRecord
	hitGroups []shaderRecord
	callable  []shaderRecord

	version uint32
}

// shaderTableState is a shader table uploaded by one command list.
type shaderTableState struct {
	version  uint32
	dispatch native.DispatchRaysDesc
}

func (t *shaderTable) Pipeline() rhi.RayTracingPipeline { return t.pipeline }

func (t *shaderTable) destroy() {
	t.ClearMissShaders()
	t.ClearHitShaders()
	t.ClearCallableShaders()
	if t.rayGen != nil {
		t.rayGen.release()
	}
	t.pipeline.Release()
}

func (t *shaderTable) record(exportName string, bindings rhi.BindingSet, hitGroup bool) (shaderRecord, error) {
	e, ok := t.pipeline.exports[exportName]
	if !ok || e.hitGroup != hitGroup {
		return shaderRecord{}, fmt.Errorf("%w: export %q is not part of the pipeline", rhi.ErrInvalidArgument, exportName)
	}
	switch {
	case e.layout == nil && bindings != nil:
		return shaderRecord{}, fmt.Errorf("%w: export %q has no local binding layout", rhi.ErrInvalidArgument, exportName)
	case e.layout != nil && (bindings == nil || bindings.Layout() != rhi.BindingLayout(e.layout)):
		return shaderRecord{}, fmt.Errorf("%w: export %q needs a binding set of its local layout", rhi.ErrInvalidArgument, exportName)
	}
	if bindings != nil {
		bindings.AddRef()
	}
	t.version++
	return shaderRecord{exportName: exportName, bindings: bindings}, nil
}

func (t *shaderTable) SetRayGenerationShader(exportName string, bindings rhi.BindingSet) error {
	r, err := t.record(exportName, bindings, false)
	if err != nil {
		return t.dev.msg.Error(err)
	}
	if t.rayGen != nil {
		t.rayGen.release()
	}
	t.rayGen = &r
	return nil
}

func (t *shaderTable) AddMissShader(exportName string, bindings rhi.BindingSet) (int, error) {
	r, err := t.record(exportName, bindings, false)
	if err != nil {
		return -1, t.dev.msg.Error(err)
	}
	t.miss = append(t.miss, r)
	return len(t.miss) - 1, nil
}

func (t *shaderTable) AddHitGroup(exportName string, bindings rhi.BindingSet) (int, error) {
	r, err := t.record(exportName, bindings, true)
	if err != nil {
		return -1, t.dev.msg.Error(err)
	}
	t.hitGroups = append(t.hitGroups, r)
	return len(t.hitGroups) - 1, nil
}

func (t *shaderTable) AddCallableShader(exportName string, bindings rhi.BindingSet) (int, error) {
	r, err := t.record(exportName, bindings, false)
	if err != nil {
		return -1, t.dev.msg.Error(err)
	}
	t.callable = append(t.callable, r)
	return len(t.callable) - 1, nil
}

func clearRecords(list []shaderRecord) []shaderRecord {
	for i := range list {
		list[i].release()
	}
	return list[:0]
}

func (t *shaderTable) ClearMissShaders() {
	t.miss = clearRecords(t.miss)
	t.version++
}

func (t *shaderTable) ClearHitShaders() {
	t.hitGroups = clearRecords(t.hitGroups)
	t.version++
}

func (t *shaderTable) ClearCallableShaders() {
	t.callable = clearRecords(t.callable)
	t.version++
}

// recordStride is the size of one record: the shader identifier followed
// by the descriptor-table handles of its local bindings.
func (t *shaderTable) recordStride(limits native.Limits) uint64 {
	size := uint64(limits.ShaderIdentifierSize) + 8*uint64(t.pipeline.maxLocalTables)
	return rhi.AlignUp(size, max(limits.ShaderTableRecordAlignment, 1))
}

// uploadShaderTable writes the table into the command list's upload
// memory and returns where each section landed.
func (c *CommandList) uploadShaderTable(t *shaderTable) (*shaderTableState, error) {
	if t.rayGen == nil {
		return nil, fmt.Errorf("%w: shader table has no ray generation shader", rhi.ErrInvalidArgument)
	}
	stride := t.recordStride(c.dev.limits)
	section := func(n int) uint64 { return rhi.AlignUp(uint64(n)*stride, shaderTableAlignment) }
	total := section(1) + section(len(t.miss)) + section(len(t.hitGroups)) + section(len(t.callable))

	alloc, err := c.upload.suballocate(total, shaderTableAlignment, c.recordingVersion, c.cmd.native)
	if err != nil {
		return nil, err
	}

	st := &shaderTableState{version: t.version}
	offset := uint64(0)
	write := func(records []shaderRecord) native.ShaderTableRange {
		r := native.ShaderTableRange{Address: alloc.gpuAddress + offset, Size: uint64(len(records)) * stride, Stride: stride}
		for i := range records {
			c.writeShaderRecord(alloc.cpu[offset+uint64(i)*stride:offset+uint64(i+1)*stride], t.pipeline, &records[i])
		}
		offset += section(len(records))
		if len(records) == 0 {
			r.Address = 0
		}
		return r
	}
	st.dispatch.RayGeneration = write([]shaderRecord{*t.rayGen})
	st.dispatch.RayGeneration.Stride = 0
	st.dispatch.Miss = write(t.miss)
	st.dispatch.HitGroups = write(t.hitGroups)
	st.dispatch.Callable = write(t.callable)
	return st, nil
}

func (c *CommandList) writeShaderRecord(dst []byte, p *rayTracingPipeline, r *shaderRecord) {
	n := int(c.dev.limits.ShaderIdentifierSize)
	copy(dst[:n], p.native.ShaderIdentifier(r.exportName))
	s, ok := r.bindings.(*bindingSet)
	if !ok {
		return
	}
	if s.srvTableValid {
		binary.LittleEndian.PutUint64(dst[n:], c.dev.srvHeap.gpuHandle(s.srvTableBase))
		n += 8
	}
	if s.samplerTableValid {
		binary.LittleEndian.PutUint64(dst[n:], c.dev.samplerHeap.gpuHandle(s.samplerTableBase))
	}
	if s.desc.TrackLiveness {
		c.cmd.reference(s)
	}
	if c.enableAutomaticBarriers {
		c.setResourceStatesForBindingSet(s)
	}
}
