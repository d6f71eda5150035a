package validation

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gogpu/rhi"
)

// Device is the validating wrapper returned by Wrap. Methods it does not
// override are forwarded to the wrapped device.
type Device struct {
	rhi.Device
	msg rhi.Messages

	immediateOpen atomic.Bool
}

var _ rhi.Device = (*Device)(nil)

// Wrap returns a device that validates every call before forwarding it to
// d. Wrapping an already validating device returns it unchanged.
func Wrap(d rhi.Device) rhi.Device {
	if v, ok := d.(*Device); ok {
		return v
	}
	return &Device{Device: d, msg: rhi.Messages{Callback: d.MessageCallback()}}
}

// Unwrap returns the device that v forwards to.
func (v *Device) Unwrap() rhi.Device { return v.Device }

// fail reports errs as one Error message and returns an error wrapping
// rhi.ErrInvalidArgument, or nil when errs is empty.
func (v *Device) fail(op string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	text := op + ": " + strings.Join(errs, "; ")
	v.msg.Errorf("%s", text)
	return fmt.Errorf("%w: %s", rhi.ErrInvalidArgument, text)
}

func (v *Device) CreateTexture(desc rhi.TextureDesc) (rhi.Texture, error) {
	if err := v.fail("CreateTexture", checkTextureDesc(&desc)); err != nil {
		return nil, err
	}
	return v.Device.CreateTexture(desc)
}

func (v *Device) CreateStagingTexture(desc rhi.TextureDesc, access rhi.CPUAccessMode) (rhi.StagingTexture, error) {
	errs := checkTextureDesc(&desc)
	if access == rhi.CPUAccessNone {
		errs = append(errs, "staging textures need CPU read or write access")
	}
	if desc.Dimension.IsMultisampled() {
		errs = append(errs, "staging textures cannot be multisampled")
	}
	if err := v.fail("CreateStagingTexture", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateStagingTexture(desc, access)
}

func checkTextureDesc(desc *rhi.TextureDesc) []string {
	n := desc.Normalize()
	var errs []string
	if err := n.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if n.Format == rhi.FormatUnknown {
		errs = append(errs, "texture format is unknown")
	}
	info := rhi.GetFormatInfo(n.Format)
	if n.IsUAV && (info.HasDepth || info.HasStencil) {
		errs = append(errs, fmt.Sprintf("depth-stencil format %s cannot have UAVs", n.Format))
	}
	if n.IsRenderTarget && n.Format.IsCompressed() {
		errs = append(errs, fmt.Sprintf("compressed format %s cannot be a render target", n.Format))
	}
	if n.InitialState&rhi.ResourceStateUnknown != 0 {
		errs = append(errs, "the initial state cannot be Unknown")
	}
	return errs
}

func (v *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	var errs []string
	if err := desc.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if desc.InitialState&rhi.ResourceStateUnknown != 0 {
		errs = append(errs, "the initial state cannot be Unknown")
	}
	if desc.CPUAccess != rhi.CPUAccessNone && desc.CanHaveUAVs {
		errs = append(errs, "CPU-accessible buffers cannot have UAVs")
	}
	if err := v.fail("CreateBuffer", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateBuffer(desc)
}

func (v *Device) MapBuffer(b rhi.Buffer, access rhi.CPUAccessMode) ([]byte, error) {
	var errs []string
	switch {
	case b == nil:
		errs = append(errs, "buffer is nil")
	case b.Desc().CPUAccess == rhi.CPUAccessNone:
		errs = append(errs, fmt.Sprintf("buffer %s is not CPU-accessible", b.Desc().DebugName))
	case access != b.Desc().CPUAccess:
		errs = append(errs, fmt.Sprintf("buffer %s was created with %s access, mapped for %s", b.Desc().DebugName, b.Desc().CPUAccess, access))
	}
	if err := v.fail("MapBuffer", errs); err != nil {
		return nil, err
	}
	return v.Device.MapBuffer(b, access)
}

func (v *Device) CreateBindingLayout(desc rhi.BindingLayoutDesc) (rhi.BindingLayout, error) {
	_, errs := layoutSlots(&desc)
	if err := v.fail("CreateBindingLayout", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateBindingLayout(desc)
}

func (v *Device) CreateBindlessLayout(desc rhi.BindlessLayoutDesc) (rhi.BindingLayout, error) {
	var errs []string
	if len(desc.RegisterSpaces) == 0 {
		errs = append(errs, "bindless layout has no register spaces")
	}
	for _, s := range desc.RegisterSpaces {
		switch s.Type {
		case rhi.ResourceTypeVolatileConstantBuffer, rhi.ResourceTypePushConstants, rhi.ResourceTypeNone:
			errs = append(errs, fmt.Sprintf("register space %d cannot hold %s descriptors", s.Slot, s.Type))
		}
	}
	if err := v.fail("CreateBindlessLayout", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateBindlessLayout(desc)
}

func (v *Device) CreateBindingSet(desc rhi.BindingSetDesc, layout rhi.BindingLayout) (rhi.BindingSet, error) {
	var errs []string
	switch {
	case layout == nil:
		errs = append(errs, "binding layout is nil")
	case layout.Desc() == nil:
		errs = append(errs, "binding sets cannot use a bindless layout")
	default:
		errs = checkBindingSet(&desc, layout.Desc())
	}
	if err := v.fail("CreateBindingSet", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateBindingSet(desc, layout)
}

func (v *Device) WriteDescriptorTable(t rhi.DescriptorTable, item rhi.BindingSetItem) error {
	var errs []string
	if t == nil {
		errs = append(errs, "descriptor table is nil")
	} else if item.Slot >= t.Capacity() {
		errs = append(errs, fmt.Sprintf("slot %d is outside the table capacity %d", item.Slot, t.Capacity()))
	}
	errs = append(errs, checkItemResource(&item)...)
	if err := v.fail("WriteDescriptorTable", errs); err != nil {
		return err
	}
	return v.Device.WriteDescriptorTable(t, item)
}

func (v *Device) CreateAccelStruct(desc rhi.AccelStructDesc) (rhi.AccelStruct, error) {
	var errs []string
	if err := desc.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if desc.IsTopLevel && len(desc.BottomLevelGeometries) > 0 {
		errs = append(errs, "top-level acceleration structures have no geometries")
	}
	if !desc.IsTopLevel && desc.TopLevelMaxInstances > 0 {
		errs = append(errs, "bottom-level acceleration structures have no instances")
	}
	if desc.BuildFlags.Has(rhi.AccelStructBuildPerformUpdate) {
		errs = append(errs, "PerformUpdate is a build flag, not a creation flag")
	}
	if err := v.fail("CreateAccelStruct", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateAccelStruct(desc)
}

func (v *Device) CreateGraphicsPipeline(desc rhi.GraphicsPipelineDesc, fb rhi.Framebuffer) (rhi.GraphicsPipeline, error) {
	var errs []string
	if desc.VS == nil {
		errs = append(errs, "graphics pipeline has no vertex shader")
	}
	if fb == nil {
		errs = append(errs, "framebuffer is nil")
	}
	errs = append(errs, checkPipelineLayouts(desc.BindingLayouts)...)
	if err := v.fail("CreateGraphicsPipeline", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateGraphicsPipeline(desc, fb)
}

func (v *Device) CreateComputePipeline(desc rhi.ComputePipelineDesc) (rhi.ComputePipeline, error) {
	var errs []string
	if desc.CS == nil {
		errs = append(errs, "compute pipeline has no compute shader")
	}
	errs = append(errs, checkPipelineLayouts(desc.BindingLayouts)...)
	if err := v.fail("CreateComputePipeline", errs); err != nil {
		return nil, err
	}
	return v.Device.CreateComputePipeline(desc)
}

// checkPipelineLayouts allows at most one push-constant block across all
// layouts of a pipeline.
func checkPipelineLayouts(layouts []rhi.BindingLayout) []string {
	var errs []string
	push := 0
	for i, l := range layouts {
		if l == nil {
			errs = append(errs, fmt.Sprintf("binding layout %d is nil", i))
			continue
		}
		if d := l.Desc(); d != nil {
			for _, item := range d.Bindings {
				if item.Type == rhi.ResourceTypePushConstants {
					push++
				}
			}
		}
	}
	if push > 1 {
		errs = append(errs, "more than one binding layout declares push constants")
	}
	return errs
}

func (v *Device) CreateCommandList(params rhi.CommandListParameters) (rhi.CommandList, error) {
	cl, err := v.Device.CreateCommandList(params)
	if err != nil {
		return nil, err
	}
	return &CommandList{CommandList: cl, dev: v}, nil
}

// ExecuteCommandLists checks that every list is a closed list of this
// device and forwards the lists it wraps.
func (v *Device) ExecuteCommandLists(lists []rhi.CommandList, queue rhi.CommandQueue) (uint64, error) {
	var errs []string
	inner := make([]rhi.CommandList, len(lists))
	for i, l := range lists {
		cl, ok := l.(*CommandList)
		switch {
		case !ok || cl == nil:
			errs = append(errs, fmt.Sprintf("command list %d was not created by the validation layer", i))
			continue
		case cl.dev != v:
			errs = append(errs, fmt.Sprintf("command list %d belongs to another device", i))
		case cl.state != stateClosed:
			errs = append(errs, fmt.Sprintf("command list %d is %s, not closed", i, cl.state))
		case cl.Parameters().QueueType != queue:
			errs = append(errs, fmt.Sprintf("command list %d was created for the %s queue, executed on %s", i, cl.Parameters().QueueType, queue))
		}
		inner[i] = cl.CommandList
	}
	if err := v.fail("ExecuteCommandLists", errs); err != nil {
		return 0, err
	}
	id, err := v.Device.ExecuteCommandLists(inner, queue)
	if err == nil {
		for _, l := range lists {
			l.(*CommandList).executed()
		}
	}
	return id, err
}
