package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// fenceValue remembers the queue timeline point of the last submission
// that used a CPU-visible resource.
type fenceValue struct {
	mu    sync.Mutex
	sem   native.Semaphore
	value uint64
}

func (f *fenceValue) set(sem native.Semaphore, value uint64) {
	f.mu.Lock()
	f.sem, f.value = sem, value
	f.mu.Unlock()
}

func (f *fenceValue) get() (native.Semaphore, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sem, f.value
}

func (f *fenceValue) reset() {
	f.set(nil, 0)
}

// poll reports whether the last use has completed. A resource that was
// never submitted counts as complete.
func (f *fenceValue) poll() bool {
	sem, v := f.get()
	return sem == nil || sem.CompletedValue() >= v
}

func (f *fenceValue) wait(timeout time.Duration) (bool, error) {
	sem, v := f.get()
	if sem == nil {
		return true, nil
	}
	return sem.Wait(v, timeout)
}

type heap struct {
	refCounter
	desc   rhi.HeapDesc
	native native.Heap
}

func (h *heap) Desc() *rhi.HeapDesc { return &h.desc }

type texture struct {
	refCounter
	dev    *Device
	desc   rhi.TextureDesc
	native native.Texture

	permanentState   atomic.Uint32
	stateInitialized atomic.Bool

	mu        sync.Mutex
	boundHeap *heap
}

func (t *texture) Desc() *rhi.TextureDesc { return &t.desc }

func (t *texture) destroy() {
	if t.native != nil {
		t.native.Destroy()
	}
	t.mu.Lock()
	if t.boundHeap != nil {
		t.boundHeap.Release()
		t.boundHeap = nil
	}
	t.mu.Unlock()
}

type buffer struct {
	refCounter
	dev    *Device
	desc   rhi.BufferDesc
	native native.Buffer

	permanentState atomic.Uint32
	lastUse        fenceValue

	mu        sync.Mutex
	boundHeap *heap
}

func (b *buffer) Desc() *rhi.BufferDesc { return &b.desc }

// GPUAddress is zero for volatile buffers and unbound virtual buffers.
func (b *buffer) GPUAddress() uint64 {
	if b.native == nil {
		return 0
	}
	return b.native.GPUAddress()
}

func (b *buffer) destroy() {
	if b.native != nil {
		b.native.Destroy()
	}
	b.mu.Lock()
	if b.boundHeap != nil {
		b.boundHeap.Release()
		b.boundHeap = nil
	}
	b.mu.Unlock()
}

// subresourceLayout places one subresource of a staging texture in its
// backing buffer.
type subresourceLayout struct {
	offset     uint64
	rowPitch   uint64
	depthPitch uint64
	rows       uint32
	size       uint64
}

type stagingTexture struct {
	refCounter
	dev     *Device
	desc    rhi.TextureDesc
	access  rhi.CPUAccessMode
	buffer  native.Buffer
	layouts []subresourceLayout
	lastUse fenceValue
	mapped  []byte
}

func (s *stagingTexture) Desc() *rhi.TextureDesc       { return &s.desc }
func (s *stagingTexture) CPUAccess() rhi.CPUAccessMode { return s.access }

func (s *stagingTexture) layout(mip, slice uint32) subresourceLayout {
	return s.layouts[s.desc.SubresourceIndex(mip, slice)]
}

// copyLayout computes tightly blocked rows of a mip level padded to the
// back-end's row-pitch alignment.
func copyLayout(desc *rhi.TextureDesc, mip uint32, rowAlignment uint64) subresourceLayout {
	info := rhi.GetFormatInfo(desc.Format)
	w, h, d := desc.MipSize(mip)
	block := uint32(max(info.BlockSize, 1))
	blocksX := (w + block - 1) / block
	blocksY := (h + block - 1) / block

	rowPitch := rhi.AlignUp(uint64(blocksX)*uint64(info.BytesPerBlock), rowAlignment)
	depthPitch := rowPitch * uint64(blocksY)
	return subresourceLayout{
		rowPitch:   rowPitch,
		depthPitch: depthPitch,
		rows:       blocksY,
		size:       depthPitch * uint64(d),
	}
}

func stagingLayouts(desc *rhi.TextureDesc, limits native.Limits) ([]subresourceLayout, uint64) {
	layouts := make([]subresourceLayout, desc.NumSubresources())
	offset := uint64(0)
	for slice := uint32(0); slice < desc.ArraySize; slice++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			l := copyLayout(desc, mip, limits.StagingRowPitchAlignment)
			offset = rhi.AlignUp(offset, limits.StagingPlacementAlignment)
			l.offset = offset
			offset += l.size
			layouts[desc.SubresourceIndex(mip, slice)] = l
		}
	}
	return layouts, offset
}

type sampler struct {
	refCounter
	desc rhi.SamplerDesc
}

func (s *sampler) Desc() *rhi.SamplerDesc { return &s.desc }

type shader struct {
	refCounter
	desc   rhi.ShaderDesc
	code   []byte
	module native.ShaderModule
}

func (s *shader) Desc() *rhi.ShaderDesc { return &s.desc }
func (s *shader) Bytecode() []byte      { return s.code }

type shaderLibrary struct {
	refCounter
	dev  *Device
	code []byte
}

// Shader creates a shader for one entry point of the library.
func (l *shaderLibrary) Shader(entryName string, shaderType rhi.ShaderType) (rhi.Shader, error) {
	return l.dev.CreateShader(rhi.ShaderDesc{
		ShaderType: shaderType,
		EntryName:  entryName,
		DebugName:  entryName,
	}, l.code)
}

type inputLayout struct {
	refCounter
	attributes []rhi.VertexAttributeDesc
}

func (l *inputLayout) Attributes() []rhi.VertexAttributeDesc { return l.attributes }

type framebuffer struct {
	refCounter
	dev  *Device
	desc rhi.FramebufferDesc
	info rhi.FramebufferInfo

	rtvBase   uint32
	numRTVs   uint32
	dsvIndex  uint32
	hasDepth  bool
	rtvHandle []uint64
	dsvHandle uint64
}

func (f *framebuffer) Desc() *rhi.FramebufferDesc { return &f.desc }
func (f *framebuffer) Info() *rhi.FramebufferInfo { return &f.info }

func (f *framebuffer) destroy() {
	f.dev.rtvHeap.release(f.rtvBase, f.numRTVs)
	if f.hasDepth {
		f.dev.dsvHeap.release(f.dsvIndex, 1)
	}
	for _, a := range f.desc.ColorAttachments {
		a.Texture.Release()
	}
	if f.desc.DepthAttachment.Valid() {
		f.desc.DepthAttachment.Texture.Release()
	}
	if f.desc.ShadingRateAttachment.Valid() {
		f.desc.ShadingRateAttachment.Texture.Release()
	}
}

func framebufferInfo(desc *rhi.FramebufferDesc) (rhi.FramebufferInfo, error) {
	var info rhi.FramebufferInfo
	first := true
	visit := func(a *rhi.FramebufferAttachment) error {
		tex, ok := a.Texture.(*texture)
		if !ok {
			return fmt.Errorf("%w: framebuffer attachment is not a texture of this device", rhi.ErrInvalidArgument)
		}
		sub := a.Subresources.Resolve(&tex.desc, true)
		w, h, _ := tex.desc.MipSize(sub.BaseMipLevel)
		if first {
			info.Width, info.Height = w, h
			info.SampleCount = tex.desc.SampleCount
			first = false
		} else if info.Width != w || info.Height != h || info.SampleCount != tex.desc.SampleCount {
			return fmt.Errorf("%w: framebuffer attachments differ in size or sample count", rhi.ErrInvalidArgument)
		}
		return nil
	}

	for i := range desc.ColorAttachments {
		a := &desc.ColorAttachments[i]
		if err := visit(a); err != nil {
			return info, err
		}
		format := a.Format
		if format == rhi.FormatUnknown {
			format = a.Texture.Desc().Format
		}
		info.ColorFormats = append(info.ColorFormats, format)
	}
	if desc.DepthAttachment.Valid() {
		if err := visit(&desc.DepthAttachment); err != nil {
			return info, err
		}
		info.DepthFormat = desc.DepthAttachment.Format
		if info.DepthFormat == rhi.FormatUnknown {
			info.DepthFormat = desc.DepthAttachment.Texture.Desc().Format
		}
	}
	if first {
		return info, fmt.Errorf("%w: framebuffer has no attachments", rhi.ErrInvalidArgument)
	}
	return info, nil
}

type eventQuery struct {
	refCounter
	fence   fenceValue
	started atomic.Bool
}

type timerQuery struct {
	refCounter
	dev        *Device
	beginIndex uint32
	endIndex   uint32

	mu       sync.Mutex
	started  bool
	resolved bool
	elapsed  time.Duration
	fence    fenceValue
}
