package validation

import (
	"fmt"
	"strings"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/bitset"
)

// registerClass is a namespace of binding slots. Slots of different
// classes never collide.
type registerClass uint8

const (
	classSRV registerClass = iota
	classSampler
	classUAV
	classCB
	numClasses
)

var classNames = [numClasses]string{"SRV", "sampler", "UAV", "constant buffer"}

func (c registerClass) String() string { return classNames[c] }

func classOf(t rhi.ResourceType) registerClass {
	switch {
	case t == rhi.ResourceTypeSampler:
		return classSampler
	case t.IsUAV():
		return classUAV
	case t == rhi.ResourceTypeConstantBuffer || t == rhi.ResourceTypeVolatileConstantBuffer || t == rhi.ResourceTypePushConstants:
		return classCB
	}
	return classSRV
}

// slotSets holds the slots of a layout or binding set per register class.
type slotSets struct {
	slots         [numClasses]bitset.Set
	pushConstants int
}

// add records slot under the class of t and reports whether it was
// already taken.
func (s *slotSets) add(t rhi.ResourceType, slot uint32) (dup bool, class registerClass) {
	class = classOf(t)
	if s.slots[class].Get(slot) {
		return true, class
	}
	s.slots[class].Set(slot)
	if t == rhi.ResourceTypePushConstants {
		s.pushConstants++
	}
	return false, class
}

func formatSlots(values []uint32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

// layoutSlots checks a binding layout for duplicate slots and returns its
// slot sets.
func layoutSlots(desc *rhi.BindingLayoutDesc) (slotSets, []string) {
	var (
		s    slotSets
		errs []string
	)
	for _, item := range desc.Bindings {
		if item.Type == rhi.ResourceTypeNone {
			errs = append(errs, fmt.Sprintf("binding layout item at slot %d has no type", item.Slot))
			continue
		}
		if dup, class := s.add(item.Type, item.Slot); dup {
			errs = append(errs, fmt.Sprintf("binding layout declares %s slot %d more than once", class, item.Slot))
		}
		if item.Type == rhi.ResourceTypePushConstants {
			if item.Size == 0 || item.Size%4 != 0 || item.Size > rhi.MaxPushConstantSize {
				errs = append(errs, fmt.Sprintf("push-constant size %d must be a non-zero multiple of 4 up to %d", item.Size, rhi.MaxPushConstantSize))
			}
		}
	}
	if s.pushConstants > 1 {
		errs = append(errs, "binding layout declares more than one push-constant block")
	}
	return s, errs
}

func itemTypeMatches(layoutType, setType rhi.ResourceType) bool {
	if layoutType == setType {
		return true
	}
	// A constant buffer slot accepts a volatile buffer and the reverse.
	cb := func(t rhi.ResourceType) bool {
		return t == rhi.ResourceTypeConstantBuffer || t == rhi.ResourceTypeVolatileConstantBuffer
	}
	return cb(layoutType) && cb(setType)
}

// checkBindingSet compares a binding set against its layout.
func checkBindingSet(desc *rhi.BindingSetDesc, layout *rhi.BindingLayoutDesc) []string {
	declared, errs := layoutSlots(layout)
	if len(errs) > 0 {
		return errs
	}
	types := make(map[[2]uint32]rhi.ResourceType, len(layout.Bindings))
	for _, item := range layout.Bindings {
		types[[2]uint32{uint32(classOf(item.Type)), item.Slot}] = item.Type
	}

	var bound slotSets
	for i := range desc.Bindings {
		item := &desc.Bindings[i]
		dup, class := bound.add(item.Type, item.Slot)
		if dup {
			errs = append(errs, fmt.Sprintf("binding set binds %s slot %d more than once", class, item.Slot))
			continue
		}
		if lt, ok := types[[2]uint32{uint32(class), item.Slot}]; ok && !itemTypeMatches(lt, item.Type) {
			errs = append(errs, fmt.Sprintf("binding set item at slot %d is %s but the layout declares %s", item.Slot, item.Type, lt))
		}
		errs = append(errs, checkItemResource(item)...)
	}

	for c := range numClasses {
		if extra := bitset.Difference(bound.slots[c], declared.slots[c]); !extra.Empty() {
			errs = append(errs, fmt.Sprintf("binding set binds %s slots the layout does not declare: %s", c, formatSlots(extra.Values())))
		}
	}
	return errs
}

// checkItemResource checks the resource of one binding item against the
// usage flags it was created with.
func checkItemResource(item *rhi.BindingSetItem) []string {
	if item.Resource == nil {
		return nil
	}
	var errs []string
	switch r := item.Resource.(type) {
	case rhi.Texture:
		d := r.Desc()
		switch {
		case item.Type == rhi.ResourceTypeTextureUAV && !d.IsUAV:
			errs = append(errs, fmt.Sprintf("texture %s bound as a UAV was not created with IsUAV", d.DebugName))
		case item.Type != rhi.ResourceTypeTextureSRV && item.Type != rhi.ResourceTypeTextureUAV:
			errs = append(errs, fmt.Sprintf("texture %s bound at slot %d as %s", d.DebugName, item.Slot, item.Type))
		}
	case rhi.Buffer:
		d := r.Desc()
		switch {
		case !item.Type.IsBuffer():
			errs = append(errs, fmt.Sprintf("buffer %s bound at slot %d as %s", d.DebugName, item.Slot, item.Type))
		case item.Type.IsUAV() && !d.CanHaveUAVs:
			errs = append(errs, fmt.Sprintf("buffer %s bound as a UAV was not created with CanHaveUAVs", d.DebugName))
		case item.Type == rhi.ResourceTypeVolatileConstantBuffer && !d.IsVolatile:
			errs = append(errs, fmt.Sprintf("buffer %s bound as a volatile constant buffer is not volatile", d.DebugName))
		case item.Type == rhi.ResourceTypeConstantBuffer && d.IsVolatile:
			errs = append(errs, fmt.Sprintf("volatile buffer %s bound as a static constant buffer", d.DebugName))
		case (item.Type == rhi.ResourceTypeTypedBufferSRV || item.Type == rhi.ResourceTypeTypedBufferUAV) &&
			item.Format == rhi.FormatUnknown && d.Format == rhi.FormatUnknown:
			errs = append(errs, fmt.Sprintf("typed view of buffer %s has no format", d.DebugName))
		case item.Type == rhi.ResourceTypeStructuredBufferSRV || item.Type == rhi.ResourceTypeStructuredBufferUAV:
			if d.StructStride == 0 {
				errs = append(errs, fmt.Sprintf("structured view of buffer %s needs a StructStride", d.DebugName))
			}
		}
	case rhi.Sampler:
		if item.Type != rhi.ResourceTypeSampler {
			errs = append(errs, fmt.Sprintf("sampler bound at slot %d as %s", item.Slot, item.Type))
		}
	case rhi.AccelStruct:
		if item.Type != rhi.ResourceTypeRayTracingAccelStruct || !r.Desc().IsTopLevel {
			errs = append(errs, fmt.Sprintf("acceleration structure %s must be top-level and bound as %s", r.Desc().DebugName, rhi.ResourceTypeRayTracingAccelStruct))
		}
	}
	return errs
}

// checkStateBindings matches the sets of a Set*State call against the
// layouts of its pipeline, by count and identity.
func checkStateBindings(op string, sets []rhi.BindingSet, layouts []rhi.BindingLayout) []string {
	if len(sets) != len(layouts) {
		return []string{fmt.Sprintf("%s: %d binding sets for a pipeline with %d binding layouts", op, len(sets), len(layouts))}
	}
	var errs []string
	for i, s := range sets {
		if s == nil {
			errs = append(errs, fmt.Sprintf("%s: binding set %d is nil", op, i))
			continue
		}
		if s.Layout() != layouts[i] {
			errs = append(errs, fmt.Sprintf("%s: binding set %d was created for a different layout than pipeline layout %d", op, i, i))
		}
	}
	return errs
}
