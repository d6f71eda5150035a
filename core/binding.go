package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// volatileCBParam is a root constant-buffer parameter created for a
// VolatileConstantBuffer slot. rootIndex is local to the layout.
type volatileCBParam struct {
	slot      uint32
	rootIndex uint32
}

// tableItem is a layout item placed at offset in one of the layout's
// descriptor tables.
type tableItem struct {
	item   rhi.BindingLayoutItem
	offset uint32
}

type bindingLayout struct {
	refCounter
	id       uint64
	desc     *rhi.BindingLayoutDesc
	bindless *rhi.BindlessLayoutDesc

	rootParameters []native.RootParameter
	volatileCBs    []volatileCBParam

	pushConstantSize uint32
	pushConstantRoot int

	srvTableRoot     int
	srvTableSize     uint32
	srvItems         []tableItem
	samplerTableRoot int
	samplerTableSize uint32
	samplerItems     []tableItem
}

func (l *bindingLayout) Desc() *rhi.BindingLayoutDesc          { return l.desc }
func (l *bindingLayout) BindlessDesc() *rhi.BindlessLayoutDesc { return l.bindless }

func rangeKind(t rhi.ResourceType) native.DescriptorRangeKind {
	switch {
	case t == rhi.ResourceTypeSampler:
		return native.RangeSampler
	case t.IsUAV():
		return native.RangeUAV
	case t == rhi.ResourceTypeConstantBuffer:
		return native.RangeCBV
	}
	return native.RangeSRV
}

// compileBindingLayout turns a layout into root parameters: one root CBV per
// volatile constant buffer, root constants for push constants, then a
// sampler table and an SRV/UAV/CBV table whose ranges cover runs of
// consecutive slots of compatible type.
func compileBindingLayout(id uint64, desc rhi.BindingLayoutDesc) (*bindingLayout, error) {
	l := &bindingLayout{
		id:               id,
		desc:             &desc,
		pushConstantRoot: -1,
		srvTableRoot:     -1,
		samplerTableRoot: -1,
	}

	var srvRanges, samplerRanges []native.DescriptorRange
	for _, item := range desc.Bindings {
		switch item.Type {
		case rhi.ResourceTypeVolatileConstantBuffer:
			l.volatileCBs = append(l.volatileCBs, volatileCBParam{slot: item.Slot, rootIndex: uint32(len(l.rootParameters))})
			l.rootParameters = append(l.rootParameters, native.RootParameter{
				Kind:          native.RootConstantBufferView,
				Visibility:    desc.Visibility,
				Register:      item.Slot,
				RegisterSpace: desc.RegisterSpace,
			})
			continue

		case rhi.ResourceTypePushConstants:
			if l.pushConstantRoot >= 0 {
				return nil, fmt.Errorf("%w: binding layout declares more than one push-constant block", rhi.ErrInvalidArgument)
			}
			if item.Size == 0 || item.Size%4 != 0 || item.Size > rhi.MaxPushConstantSize {
				return nil, fmt.Errorf("%w: push-constant size %d must be a non-zero multiple of 4 up to %d", rhi.ErrInvalidArgument, item.Size, rhi.MaxPushConstantSize)
			}
			l.pushConstantSize = item.Size
			l.pushConstantRoot = len(l.rootParameters)
			l.rootParameters = append(l.rootParameters, native.RootParameter{
				Kind:          native.RootConstants,
				Visibility:    desc.Visibility,
				Register:      item.Slot,
				RegisterSpace: desc.RegisterSpace,
				NumConstants:  item.Size / 4,
			})
			continue

		case rhi.ResourceTypeNone:
			return nil, fmt.Errorf("%w: binding layout item at slot %d has no type", rhi.ErrInvalidArgument, item.Slot)
		}

		kind := rangeKind(item.Type)
		if kind == native.RangeSampler {
			samplerRanges = extendRange(samplerRanges, kind, item.Slot, desc.RegisterSpace, l.samplerTableSize)
			l.samplerItems = append(l.samplerItems, tableItem{item: item, offset: l.samplerTableSize})
			l.samplerTableSize++
			continue
		}
		srvRanges = extendRange(srvRanges, kind, item.Slot, desc.RegisterSpace, l.srvTableSize)
		l.srvItems = append(l.srvItems, tableItem{item: item, offset: l.srvTableSize})
		l.srvTableSize++
	}

	if len(samplerRanges) > 0 {
		l.samplerTableRoot = len(l.rootParameters)
		l.rootParameters = append(l.rootParameters, native.RootParameter{
			Kind:       native.RootDescriptorTable,
			Visibility: desc.Visibility,
			Ranges:     samplerRanges,
		})
	}
	if len(srvRanges) > 0 {
		l.srvTableRoot = len(l.rootParameters)
		l.rootParameters = append(l.rootParameters, native.RootParameter{
			Kind:       native.RootDescriptorTable,
			Visibility: desc.Visibility,
			Ranges:     srvRanges,
		})
	}
	return l, nil
}

// extendRange grows the last range when slot continues it with the same
// kind, otherwise it starts a new range.
func extendRange(ranges []native.DescriptorRange, kind native.DescriptorRangeKind, slot, space, offset uint32) []native.DescriptorRange {
	if n := len(ranges); n > 0 {
		last := &ranges[n-1]
		if last.Kind == kind && last.BaseRegister+last.Count == slot {
			last.Count++
			return ranges
		}
	}
	return append(ranges, native.DescriptorRange{
		Kind:          kind,
		BaseRegister:  slot,
		Count:         1,
		RegisterSpace: space,
		OffsetInTable: offset,
	})
}

// compileBindlessLayout produces a single unbounded descriptor table with a
// range per register space.
func compileBindlessLayout(id uint64, desc rhi.BindlessLayoutDesc) (*bindingLayout, error) {
	if len(desc.RegisterSpaces) == 0 {
		return nil, fmt.Errorf("%w: bindless layout has no register spaces", rhi.ErrInvalidArgument)
	}
	l := &bindingLayout{
		id:               id,
		bindless:         &desc,
		pushConstantRoot: -1,
		srvTableRoot:     -1,
		samplerTableRoot: -1,
	}

	samplers := desc.RegisterSpaces[0].Type == rhi.ResourceTypeSampler
	var ranges []native.DescriptorRange
	for _, space := range desc.RegisterSpaces {
		if (space.Type == rhi.ResourceTypeSampler) != samplers {
			return nil, fmt.Errorf("%w: bindless layout mixes samplers with other descriptors", rhi.ErrInvalidArgument)
		}
		ranges = append(ranges, native.DescriptorRange{
			Kind:          rangeKind(space.Type),
			BaseRegister:  desc.FirstSlot,
			Count:         ^uint32(0),
			RegisterSpace: space.Slot,
		})
	}

	param := native.RootParameter{
		Kind:       native.RootDescriptorTable,
		Visibility: desc.Visibility,
		Ranges:     ranges,
	}
	if samplers {
		l.samplerTableRoot = 0
	} else {
		l.srvTableRoot = 0
	}
	l.rootParameters = []native.RootParameter{param}
	return l, nil
}

// layoutOffset places a binding layout's parameters in a root signature.
type layoutOffset struct {
	layout *bindingLayout
	offset uint32
}

type rootSignature struct {
	key     string
	native  native.RootSignature
	layouts []layoutOffset

	pushConstantSize uint32
	pushConstantRoot int
}

func rootSignatureKey(layouts []*bindingLayout, allowInputLayout bool) string {
	var sb strings.Builder
	for _, l := range layouts {
		sb.WriteString(strconv.FormatUint(l.id, 16))
		sb.WriteByte(',')
	}
	if allowInputLayout {
		sb.WriteString("IA")
	}
	return sb.String()
}

// rootSignature returns the cached root signature for the given layouts,
// building it on first use.
func (d *Device) rootSignature(layouts []rhi.BindingLayout, allowInputLayout bool) (*rootSignature, error) {
	resolved := make([]*bindingLayout, 0, len(layouts))
	for i, l := range layouts {
		bl, ok := l.(*bindingLayout)
		if !ok {
			return nil, fmt.Errorf("%w: binding layout %d is nil or foreign", rhi.ErrNilHandle, i)
		}
		resolved = append(resolved, bl)
	}
	key := rootSignatureKey(resolved, allowInputLayout)

	d.rootSigMu.Lock()
	defer d.rootSigMu.Unlock()
	if rs, ok := d.rootSignatures[key]; ok {
		return rs, nil
	}

	rs := &rootSignature{key: key, pushConstantRoot: -1}
	desc := native.RootSignatureDesc{AllowInputLayout: allowInputLayout}
	for _, l := range resolved {
		offset := uint32(len(desc.Parameters))
		rs.layouts = append(rs.layouts, layoutOffset{layout: l, offset: offset})
		if l.pushConstantRoot >= 0 {
			if rs.pushConstantRoot >= 0 {
				return nil, fmt.Errorf("%w: more than one binding layout declares push constants", rhi.ErrInvalidArgument)
			}
			rs.pushConstantSize = l.pushConstantSize
			rs.pushConstantRoot = int(offset) + l.pushConstantRoot
		}
		desc.Parameters = append(desc.Parameters, l.rootParameters...)
	}

	nrs, err := d.be.CreateRootSignature(&desc)
	if err != nil {
		return nil, fmt.Errorf("%w: create root signature: %w", rhi.ErrNativeFailure, err)
	}
	rs.native = nrs
	d.rootSignatures[key] = rs
	return rs, nil
}

// volatileCBBinding is a root CBV parameter bound to a volatile buffer.
// rootIndex is absolute after the set is bound.
type volatileCBBinding struct {
	rootIndex uint32
	buffer    *buffer
}

type bindingSet struct {
	refCounter
	dev    *Device
	desc   rhi.BindingSetDesc
	layout *bindingLayout

	srvTableBase      uint32
	srvTableValid     bool
	samplerTableBase  uint32
	samplerTableValid bool

	volatileCBs []volatileCBBinding

	// bindingsThatNeedTransitions indexes desc.Bindings.
	bindingsThatNeedTransitions []int
	resources                   []rhi.Resource
}

func (s *bindingSet) Desc() *rhi.BindingSetDesc { return &s.desc }
func (s *bindingSet) Layout() rhi.BindingLayout { return s.layout }

func (s *bindingSet) destroy() {
	if s.srvTableValid {
		s.dev.srvHeap.release(s.srvTableBase, s.layout.srvTableSize)
	}
	if s.samplerTableValid {
		s.dev.samplerHeap.release(s.samplerTableBase, s.layout.samplerTableSize)
	}
	for _, r := range s.resources {
		r.Release()
	}
	s.layout.Release()
}

// viewDescriptor translates a binding item into a native view. Missing
// resources produce typed null descriptors.
func (d *Device) viewDescriptor(item *rhi.BindingSetItem) (native.Descriptor, error) {
	desc := native.Descriptor{ResourceType: item.Type, Format: item.Format, Dimension: item.Dimension}
	switch {
	case item.Type == rhi.ResourceTypeSampler:
		desc.Kind = native.ViewSampler
	case item.Type == rhi.ResourceTypeRayTracingAccelStruct:
		desc.Kind = native.ViewAccelStruct
	case item.Type.IsUAV():
		desc.Kind = native.ViewUAV
	case item.Type == rhi.ResourceTypeConstantBuffer || item.Type == rhi.ResourceTypeVolatileConstantBuffer:
		desc.Kind = native.ViewCBV
	default:
		desc.Kind = native.ViewSRV
	}

	if item.Resource == nil {
		desc.Null = true
		return desc, nil
	}

	switch r := item.Resource.(type) {
	case *texture:
		desc.Texture = r.native
		desc.Subresources = item.Subresources.Resolve(&r.desc, item.Type == rhi.ResourceTypeTextureUAV)
		if desc.Format == rhi.FormatUnknown {
			desc.Format = r.desc.Format
		}
		if desc.Dimension == rhi.TextureDimensionUnknown {
			desc.Dimension = r.desc.Dimension
		}
	case *buffer:
		desc.Buffer = r.native
		desc.Range = item.Range.Resolve(&r.desc)
		desc.StructStride = r.desc.StructStride
		if desc.Format == rhi.FormatUnknown {
			desc.Format = r.desc.Format
		}
	case *sampler:
		s := r.desc
		desc.Sampler = &s
	case *accelStruct:
		desc.AccelStructAddress = r.DeviceAddress()
	default:
		return desc, fmt.Errorf("%w: binding at slot %d holds a resource of the wrong kind", rhi.ErrInvalidArgument, item.Slot)
	}
	return desc, nil
}

func findBinding(items []rhi.BindingSetItem, slot uint32, kind native.DescriptorRangeKind) int {
	for i := range items {
		t := items[i].Type
		if items[i].Slot != slot || t == rhi.ResourceTypeVolatileConstantBuffer || t == rhi.ResourceTypePushConstants {
			continue
		}
		if rangeKind(t) == kind {
			return i
		}
	}
	return -1
}

func (d *Device) createBindingSet(desc rhi.BindingSetDesc, layout *bindingLayout) (*bindingSet, error) {
	s := &bindingSet{dev: d, desc: desc, layout: layout}
	s.desc.Bindings = append([]rhi.BindingSetItem(nil), desc.Bindings...)
	items := s.desc.Bindings

	fill := func(h *descriptorHeap, base uint32, list []tableItem) error {
		for _, ti := range list {
			item := rhi.BindingSetItem{Slot: ti.item.Slot, Type: ti.item.Type}
			if idx := findBinding(items, ti.item.Slot, rangeKind(ti.item.Type)); idx >= 0 {
				item = items[idx]
			}
			view, err := d.viewDescriptor(&item)
			if err != nil {
				return err
			}
			h.write(base+ti.offset, &view)
		}
		h.copyToShaderVisible(base, uint32(len(list)))
		return nil
	}

	if layout.srvTableSize > 0 {
		base := d.srvHeap.allocate(layout.srvTableSize)
		if base == invalidDescriptorIndex {
			return nil, rhi.ErrHeapGrowthFailed
		}
		s.srvTableBase, s.srvTableValid = base, true
		if err := fill(d.srvHeap, base, layout.srvItems); err != nil {
			d.srvHeap.release(base, layout.srvTableSize)
			return nil, err
		}
	}
	if layout.samplerTableSize > 0 {
		base := d.samplerHeap.allocate(layout.samplerTableSize)
		if base == invalidDescriptorIndex {
			if s.srvTableValid {
				d.srvHeap.release(s.srvTableBase, layout.srvTableSize)
			}
			return nil, rhi.ErrHeapGrowthFailed
		}
		s.samplerTableBase, s.samplerTableValid = base, true
		if err := fill(d.samplerHeap, base, layout.samplerItems); err != nil {
			d.samplerHeap.release(base, layout.samplerTableSize)
			if s.srvTableValid {
				d.srvHeap.release(s.srvTableBase, layout.srvTableSize)
			}
			return nil, err
		}
	}

	for _, p := range layout.volatileCBs {
		binding := volatileCBBinding{rootIndex: p.rootIndex}
		for i := range items {
			if items[i].Slot == p.slot && items[i].Type == rhi.ResourceTypeVolatileConstantBuffer {
				binding.buffer, _ = items[i].Resource.(*buffer)
				break
			}
		}
		s.volatileCBs = append(s.volatileCBs, binding)
	}

	for i := range items {
		item := &items[i]
		if item.Resource == nil {
			continue
		}
		item.Resource.AddRef()
		s.resources = append(s.resources, item.Resource)

		switch r := item.Resource.(type) {
		case *texture:
			if p := rhi.ResourceStates(r.permanentState.Load()); p != 0 {
				d.verifyPermanent(p, item.Type.RequiredState(), r.desc.DebugName)
				continue
			}
			s.bindingsThatNeedTransitions = append(s.bindingsThatNeedTransitions, i)
		case *buffer:
			if r.desc.IsVolatile {
				continue
			}
			if p := rhi.ResourceStates(r.permanentState.Load()); p != 0 {
				d.verifyPermanent(p, item.Type.RequiredState(), r.desc.DebugName)
				continue
			}
			s.bindingsThatNeedTransitions = append(s.bindingsThatNeedTransitions, i)
		case *accelStruct:
			s.bindingsThatNeedTransitions = append(s.bindingsThatNeedTransitions, i)
		}
	}

	layout.AddRef()
	s.init(s.destroy)
	return s, nil
}

func (d *Device) verifyPermanent(permanent, required rhi.ResourceStates, name string) {
	if permanent&required != required {
		d.msg.Errorf("Permanent resource %s bound with state %s but its permanent state is %s (permanent state mismatch)", name, required, permanent)
	}
}

// descriptorTable is a bindless binding set: a resizable run of SRV or
// sampler descriptors written one at a time.
type descriptorTable struct {
	refCounter
	dev    *Device
	layout *bindingLayout
	heap   *descriptorHeap

	capacity uint32
	base     uint32
}

func (t *descriptorTable) Desc() *rhi.BindingSetDesc    { return nil }
func (t *descriptorTable) Layout() rhi.BindingLayout    { return t.layout }
func (t *descriptorTable) Capacity() uint32             { return t.capacity }
func (t *descriptorTable) FirstDescriptorIndex() uint32 { return t.base }

func (t *descriptorTable) destroy() {
	t.heap.release(t.base, t.capacity)
	t.layout.Release()
}

func (d *Device) descriptorTableHeap(l *bindingLayout) *descriptorHeap {
	if l.samplerTableRoot >= 0 {
		return d.samplerHeap
	}
	return d.srvHeap
}

func (d *Device) resizeDescriptorTable(t *descriptorTable, newSize uint32, keepContents bool) error {
	if newSize == t.capacity {
		return nil
	}
	base := t.heap.allocate(newSize)
	if base == invalidDescriptorIndex {
		return rhi.ErrHeapGrowthFailed
	}
	if keepContents {
		t.heap.copyWithin(t.base, base, min(t.capacity, newSize))
	}
	t.heap.release(t.base, t.capacity)
	t.base, t.capacity = base, newSize
	return nil
}

func (d *Device) writeDescriptorTable(t *descriptorTable, item *rhi.BindingSetItem) error {
	if item.Slot >= t.capacity {
		return fmt.Errorf("%w: descriptor table slot %d is outside its capacity %d", rhi.ErrInvalidArgument, item.Slot, t.capacity)
	}
	view, err := d.viewDescriptor(item)
	if err != nil {
		return err
	}
	t.heap.write(t.base+item.Slot, &view)
	t.heap.copyToShaderVisible(t.base+item.Slot, 1)
	return nil
}
