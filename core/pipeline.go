package core

import (
	"fmt"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// pipelineRefs holds the objects a pipeline keeps alive.
type pipelineRefs []rhi.Resource

func (r *pipelineRefs) add(res rhi.Resource) {
	if res == nil {
		return
	}
	res.AddRef()
	*r = append(*r, res)
}

func (r pipelineRefs) release() {
	for _, res := range r {
		res.Release()
	}
}

type graphicsPipeline struct {
	refCounter
	desc    rhi.GraphicsPipelineDesc
	fbInfo  rhi.FramebufferInfo
	rootSig *rootSignature
	native  native.Pipeline
	refs    pipelineRefs

	requiresBlendFactor bool
}

func (p *graphicsPipeline) Desc() *rhi.GraphicsPipelineDesc     { return &p.desc }
func (p *graphicsPipeline) FramebufferInfo() *rhi.FramebufferInfo { return &p.fbInfo }

func (p *graphicsPipeline) destroy() {
	p.native.Destroy()
	p.refs.release()
}

type computePipeline struct {
	refCounter
	desc    rhi.ComputePipelineDesc
	rootSig *rootSignature
	native  native.Pipeline
	refs    pipelineRefs
}

func (p *computePipeline) Desc() *rhi.ComputePipelineDesc { return &p.desc }

func (p *computePipeline) destroy() {
	p.native.Destroy()
	p.refs.release()
}

type meshletPipeline struct {
	refCounter
	desc    rhi.MeshletPipelineDesc
	fbInfo  rhi.FramebufferInfo
	rootSig *rootSignature
	native  native.Pipeline
	refs    pipelineRefs

	requiresBlendFactor bool
}

func (p *meshletPipeline) Desc() *rhi.MeshletPipelineDesc        { return &p.desc }
func (p *meshletPipeline) FramebufferInfo() *rhi.FramebufferInfo { return &p.fbInfo }

func (p *meshletPipeline) destroy() {
	p.native.Destroy()
	p.refs.release()
}

// rtExport is a ray-generation, miss, callable shader or hit group that
// a shader table record may reference.
type rtExport struct {
	hitGroup bool
	layout   *bindingLayout
}

type rayTracingPipeline struct {
	refCounter
	dev     *Device
	desc    rhi.RayTracingPipelineDesc
	rootSig *rootSignature
	native  native.Pipeline
	refs    pipelineRefs

	exports map[string]rtExport
	// maxLocalTables is the largest number of descriptor tables a local
	// binding layout of the pipeline declares.
	maxLocalTables uint32
}

func (p *rayTracingPipeline) Desc() *rhi.RayTracingPipelineDesc { return &p.desc }

func (p *rayTracingPipeline) destroy() {
	p.native.Destroy()
	p.refs.release()
}

// CreateShaderTable returns an empty shader table for the pipeline.
func (p *rayTracingPipeline) CreateShaderTable() (rhi.ShaderTable, error) {
	t := &shaderTable{dev: p.dev, pipeline: p}
	p.AddRef()
	t.init(t.destroy)
	return t, nil
}

func shaderStage(s rhi.Shader, refs *pipelineRefs) (native.ShaderStage, error) {
	sh, ok := s.(*shader)
	if !ok {
		return native.ShaderStage{}, fmt.Errorf("%w: shader was not created by this device", rhi.ErrInvalidArgument)
	}
	refs.add(sh)
	return native.ShaderStage{Stage: sh.desc.ShaderType, Module: sh.module, EntryPoint: sh.desc.EntryName}, nil
}

// stages collects the non-nil shaders of a pipeline in order.
func stages(refs *pipelineRefs, shaders ...rhi.Shader) ([]native.ShaderStage, error) {
	var out []native.ShaderStage
	for _, s := range shaders {
		if s == nil {
			continue
		}
		st, err := shaderStage(s, refs)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func addLayouts(refs *pipelineRefs, layouts []rhi.BindingLayout) {
	for _, l := range layouts {
		refs.add(l)
	}
}

func framebufferInfoOf(fb rhi.Framebuffer) (rhi.FramebufferInfo, error) {
	if fb == nil {
		return rhi.FramebufferInfo{}, fmt.Errorf("%w: pipeline requires a framebuffer", rhi.ErrNilHandle)
	}
	info := *fb.Info()
	info.ColorFormats = append([]rhi.Format(nil), info.ColorFormats...)
	return info, nil
}

func (d *Device) createGraphicsPipeline(desc rhi.GraphicsPipelineDesc, fb rhi.Framebuffer) (*graphicsPipeline, error) {
	if desc.VS == nil {
		return nil, fmt.Errorf("%w: graphics pipeline has no vertex shader", rhi.ErrInvalidArgument)
	}
	info, err := framebufferInfoOf(fb)
	if err != nil {
		return nil, err
	}
	rs, err := d.rootSignature(desc.BindingLayouts, desc.InputLayout != nil)
	if err != nil {
		return nil, err
	}

	p := &graphicsPipeline{
		desc:                desc,
		fbInfo:              info,
		rootSig:             rs,
		requiresBlendFactor: desc.RenderState.BlendState.UsesConstantColor(),
	}
	st, err := stages(&p.refs, desc.VS, desc.HS, desc.DS, desc.GS, desc.PS)
	if err != nil {
		p.refs.release()
		return nil, err
	}
	p.refs.add(desc.InputLayout)
	addLayouts(&p.refs, desc.BindingLayouts)

	np, err := d.be.CreatePipeline(&native.PipelineDesc{
		Kind:          native.PipelineGraphics,
		RootSignature: rs.native,
		Stages:        st,
		Graphics:      &p.desc,
		Framebuffer:   &p.fbInfo,
	})
	if err != nil {
		p.refs.release()
		return nil, fmt.Errorf("%w: create graphics pipeline: %w", rhi.ErrNativeFailure, err)
	}
	p.native = np
	p.init(p.destroy)
	return p, nil
}

func (d *Device) createComputePipeline(desc rhi.ComputePipelineDesc) (*computePipeline, error) {
	if desc.CS == nil {
		return nil, fmt.Errorf("%w: compute pipeline has no compute shader", rhi.ErrInvalidArgument)
	}
	rs, err := d.rootSignature(desc.BindingLayouts, false)
	if err != nil {
		return nil, err
	}
	p := &computePipeline{desc: desc, rootSig: rs}
	st, err := stages(&p.refs, desc.CS)
	if err != nil {
		p.refs.release()
		return nil, err
	}
	addLayouts(&p.refs, desc.BindingLayouts)

	np, err := d.be.CreatePipeline(&native.PipelineDesc{
		Kind:          native.PipelineCompute,
		RootSignature: rs.native,
		Stages:        st,
		Compute:       &p.desc,
	})
	if err != nil {
		p.refs.release()
		return nil, fmt.Errorf("%w: create compute pipeline: %w", rhi.ErrNativeFailure, err)
	}
	p.native = np
	p.init(p.destroy)
	return p, nil
}

func (d *Device) createMeshletPipeline(desc rhi.MeshletPipelineDesc, fb rhi.Framebuffer) (*meshletPipeline, error) {
	if desc.MS == nil {
		return nil, fmt.Errorf("%w: meshlet pipeline has no mesh shader", rhi.ErrInvalidArgument)
	}
	info, err := framebufferInfoOf(fb)
	if err != nil {
		return nil, err
	}
	rs, err := d.rootSignature(desc.BindingLayouts, false)
	if err != nil {
		return nil, err
	}
	p := &meshletPipeline{
		desc:                desc,
		fbInfo:              info,
		rootSig:             rs,
		requiresBlendFactor: desc.RenderState.BlendState.UsesConstantColor(),
	}
	st, err := stages(&p.refs, desc.AS, desc.MS, desc.PS)
	if err != nil {
		p.refs.release()
		return nil, err
	}
	addLayouts(&p.refs, desc.BindingLayouts)

	np, err := d.be.CreatePipeline(&native.PipelineDesc{
		Kind:          native.PipelineMeshlet,
		RootSignature: rs.native,
		Stages:        st,
		Meshlet:       &p.desc,
		Framebuffer:   &p.fbInfo,
	})
	if err != nil {
		p.refs.release()
		return nil, fmt.Errorf("%w: create meshlet pipeline: %w", rhi.ErrNativeFailure, err)
	}
	p.native = np
	p.init(p.destroy)
	return p, nil
}

func (d *Device) createRayTracingPipeline(desc rhi.RayTracingPipelineDesc) (*rayTracingPipeline, error) {
	rs, err := d.rootSignature(desc.GlobalBindingLayouts, false)
	if err != nil {
		return nil, err
	}
	p := &rayTracingPipeline{
		dev:     d,
		desc:    desc,
		rootSig: rs,
		exports: make(map[string]rtExport),
	}
	locals := make(map[string]native.RootSignature)

	local := func(name string, l rhi.BindingLayout) (*bindingLayout, error) {
		if l == nil {
			return nil, nil
		}
		lrs, err := d.rootSignature([]rhi.BindingLayout{l}, false)
		if err != nil {
			return nil, err
		}
		locals[name] = lrs.native
		bl := l.(*bindingLayout)
		p.maxLocalTables = max(p.maxLocalTables, localTableCount(bl))
		p.refs.add(bl)
		return bl, nil
	}

	fail := func(err error) (*rayTracingPipeline, error) {
		p.refs.release()
		return nil, err
	}

	var st []native.ShaderStage
	for _, s := range desc.Shaders {
		if _, dup := p.exports[s.ExportName]; dup || s.ExportName == "" {
			return fail(fmt.Errorf("%w: ray tracing export %q is empty or declared twice", rhi.ErrInvalidArgument, s.ExportName))
		}
		stage, err := shaderStage(s.Shader, &p.refs)
		if err != nil {
			return fail(err)
		}
		stage.ExportName = s.ExportName
		st = append(st, stage)
		bl, err := local(s.ExportName, s.BindingLayout)
		if err != nil {
			return fail(err)
		}
		p.exports[s.ExportName] = rtExport{layout: bl}
	}

	var groups []native.HitGroup
	for _, g := range desc.HitGroups {
		if _, dup := p.exports[g.ExportName]; dup || g.ExportName == "" {
			return fail(fmt.Errorf("%w: ray tracing export %q is empty or declared twice", rhi.ErrInvalidArgument, g.ExportName))
		}
		hg := native.HitGroup{ExportName: g.ExportName, Procedural: g.IsProceduralPrimitive}
		for _, pair := range []struct {
			src rhi.Shader
			dst *native.ShaderModule
		}{
			{g.ClosestHitShader, &hg.ClosestHit},
			{g.AnyHitShader, &hg.AnyHit},
			{g.IntersectionShader, &hg.Intersection},
		} {
			if pair.src == nil {
				continue
			}
			stage, err := shaderStage(pair.src, &p.refs)
			if err != nil {
				return fail(err)
			}
			*pair.dst = stage.Module
		}
		groups = append(groups, hg)
		bl, err := local(g.ExportName, g.BindingLayout)
		if err != nil {
			return fail(err)
		}
		p.exports[g.ExportName] = rtExport{hitGroup: true, layout: bl}
	}
	addLayouts(&p.refs, desc.GlobalBindingLayouts)

	np, err := d.be.CreatePipeline(&native.PipelineDesc{
		Kind:                native.PipelineRayTracing,
		RootSignature:       rs.native,
		Stages:              st,
		HitGroups:           groups,
		RayTracing:          &p.desc,
		LocalRootSignatures: locals,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: create ray tracing pipeline: %w", rhi.ErrNativeFailure, err))
	}
	p.native = np
	p.init(p.destroy)
	return p, nil
}

// localTableCount is the number of descriptor-table handles a shader
// record carries for a local binding layout.
func localTableCount(l *bindingLayout) uint32 {
	n := uint32(0)
	if l.srvTableRoot >= 0 {
		n++
	}
	if l.samplerTableRoot >= 0 {
		n++
	}
	return n
}
