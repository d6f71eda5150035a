package sim

import (
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// D3D12Limits are the placement rules of a D3D12-class device.
var D3D12Limits = native.Limits{
	ConstantBufferOffsetAlignment: 256,
	AccelStructScratchAlignment:   256,
	StagingRowPitchAlignment:      256,
	StagingPlacementAlignment:     512,
	ShaderTableRecordAlignment:    32,
	ShaderIdentifierSize:          32,
	TimestampFrequency:            1_000_000_000,
}

// VulkanLimits are the placement rules of a Vulkan-class device.
var VulkanLimits = native.Limits{
	ConstantBufferOffsetAlignment: 64,
	AccelStructScratchAlignment:   128,
	StagingRowPitchAlignment:      4,
	StagingPlacementAlignment:     16,
	ShaderTableRecordAlignment:    64,
	ShaderIdentifierSize:          32,
	TimestampFrequency:            1_000_000_000,
}

// timestampStep is how far the simulated GPU clock advances per timestamp.
const timestampStep = 1000

// Option configures a Backend.
type Option func(*options)

type options struct {
	api      rhi.GraphicsAPI
	limits   *native.Limits
	features map[rhi.Feature]bool
	queues   [rhi.QueueCount]bool
	manual   bool
}

// WithAPI selects the API the back-end reports. Limits default to the
// matching class.
func WithAPI(api rhi.GraphicsAPI) Option {
	return func(o *options) { o.api = api }
}

// WithLimits overrides the placement limits.
func WithLimits(l native.Limits) Option {
	return func(o *options) { o.limits = &l }
}

// WithoutFeatures disables optional features. Everything is supported by
// default.
func WithoutFeatures(features ...rhi.Feature) Option {
	return func(o *options) {
		for _, f := range features {
			o.features[f] = false
		}
	}
}

// WithoutQueue removes a compute or copy queue.
func WithoutQueue(q rhi.CommandQueue) Option {
	return func(o *options) {
		if q != rhi.QueueGraphics {
			o.queues[q] = false
		}
	}
}

// WithManualCompletion holds every signal until Complete is called, so
// tests can observe work that is still in flight.
func WithManualCompletion() Option {
	return func(o *options) { o.manual = true }
}

// Backend is an in-memory native.Backend. Buffers and textures are host
// memory; commands record into a log and execute at submit time.
type Backend struct {
	opts   options
	limits native.Limits
	queues [rhi.QueueCount]*Queue

	nextAddress atomic.Uint64
	nextHandle  atomic.Uint64
	clock       atomic.Uint64
	live        atomic.Int64
	removed     atomic.Bool

	mu          sync.Mutex
	submissions []Submission
	pending     []native.SemaphoreValue
	destroyed   bool
}

var _ native.Backend = (*Backend)(nil)

// New creates a back-end with every optional feature and all three queues.
func New(opts ...Option) *Backend {
	o := options{
		api:      rhi.GraphicsAPID3D12,
		features: make(map[rhi.Feature]bool),
		queues:   [rhi.QueueCount]bool{true, true, true},
	}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Backend{opts: o}
	switch {
	case o.limits != nil:
		b.limits = *o.limits
	case o.api == rhi.GraphicsAPID3D12:
		b.limits = D3D12Limits
	default:
		b.limits = VulkanLimits
	}
	for q, ok := range o.queues {
		if ok {
			b.queues[q] = &Queue{be: b, kind: rhi.CommandQueue(q)}
		}
	}
	b.nextAddress.Store(0x1_0000_0000)
	b.nextHandle.Store(0x1000)
	return b
}

func (b *Backend) API() rhi.GraphicsAPI  { return b.opts.api }
func (b *Backend) Limits() native.Limits { return b.limits }

func (b *Backend) FeatureSupported(feature rhi.Feature) bool {
	if ok, set := b.opts.features[feature]; set {
		return ok
	}
	return true
}

// FormatSupport reports everything a format's kind allows.
func (b *Backend) FormatSupport(format rhi.Format) rhi.FormatSupport {
	info := rhi.GetFormatInfo(format)
	if info.Format != format || format == rhi.FormatUnknown {
		return rhi.FormatSupportNone
	}
	if info.HasDepth || info.HasStencil {
		return rhi.FormatSupportTexture | rhi.FormatSupportDepthStencil | rhi.FormatSupportShaderLoad
	}
	s := rhi.FormatSupportBuffer | rhi.FormatSupportVertexBuffer | rhi.FormatSupportTexture |
		rhi.FormatSupportShaderLoad | rhi.FormatSupportShaderSample
	if format.IsCompressed() {
		return rhi.FormatSupportTexture | rhi.FormatSupportShaderLoad | rhi.FormatSupportShaderSample
	}
	s |= rhi.FormatSupportRenderTarget | rhi.FormatSupportShaderUAVLoad | rhi.FormatSupportShaderUAVStore |
		rhi.FormatSupportMultisampleRT | rhi.FormatSupportMultisampleResolve
	if info.Kind != rhi.FormatKindInteger {
		s |= rhi.FormatSupportBlendable
	}
	switch format {
	case rhi.FormatR16Uint, rhi.FormatR32Uint:
		s |= rhi.FormatSupportIndexBuffer | rhi.FormatSupportShaderAtomic
	}
	return s
}

func (b *Backend) Queue(q rhi.CommandQueue) native.Queue {
	if q >= rhi.QueueCount || b.queues[q] == nil {
		return nil
	}
	return b.queues[q]
}

// Live returns the number of native objects created and not destroyed.
func (b *Backend) Live() int64 { return b.live.Load() }

// SetDeviceRemoved makes every later Submit fail with rhi.ErrDeviceRemoved.
func (b *Backend) SetDeviceRemoved(removed bool) { b.removed.Store(removed) }

// Submissions returns every submission executed so far, oldest first.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.submissions)
}

// LastSubmission returns the commands of the newest submission.
func (b *Backend) LastSubmission() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.submissions) == 0 {
		return nil
	}
	return b.submissions[len(b.submissions)-1].Commands
}

// Complete signals everything held back under WithManualCompletion.
func (b *Backend) Complete() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, s := range pending {
		s.Semaphore.(*Semaphore).signal(s.Value)
	}
}

func (b *Backend) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (b *Backend) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *Backend) created() { b.live.Add(1) }

// allocateAddress reserves a virtual address range aligned to 256 bytes.
func (b *Backend) allocateAddress(size uint64) uint64 {
	size = rhi.AlignUp(max(size, 1), 256)
	return b.nextAddress.Add(size) - size
}

func (b *Backend) CreateHeap(desc *rhi.HeapDesc) (native.Heap, error) {
	if desc.Capacity == 0 {
		return nil, fmt.Errorf("sim: heap %q has zero capacity", desc.DebugName)
	}
	b.created()
	return &Heap{be: b, Desc: *desc, data: make([]byte, desc.Capacity), address: b.allocateAddress(desc.Capacity)}, nil
}

func (b *Backend) CreateBuffer(desc *rhi.BufferDesc) (native.Buffer, error) {
	if desc.ByteSize == 0 {
		return nil, fmt.Errorf("sim: buffer %q: %w", desc.DebugName, rhi.ErrInvalidBufferSize)
	}
	buf := &Buffer{be: b, Desc: *desc}
	if !desc.IsVirtual {
		buf.data = make([]byte, desc.ByteSize)
		buf.address = b.allocateAddress(desc.ByteSize)
	}
	b.created()
	return buf, nil
}

func (b *Backend) CreateTexture(desc *rhi.TextureDesc) (native.Texture, error) {
	d := desc.Normalize()
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("sim: texture %q: %w", d.DebugName, err)
	}
	t := &Texture{be: b, Desc: d, clears: make(map[uint32]rhi.Color)}
	if !d.IsVirtual {
		t.allocate()
	}
	b.created()
	return t, nil
}

func (b *Backend) BufferMemoryRequirements(desc *rhi.BufferDesc) rhi.MemoryRequirements {
	return rhi.MemoryRequirements{Size: rhi.AlignUp(desc.ByteSize, 256), Alignment: 256}
}

func (b *Backend) TextureMemoryRequirements(desc *rhi.TextureDesc) rhi.MemoryRequirements {
	size := uint64(0)
	for mip := uint32(0); mip < desc.MipLevels; mip++ {
		size += subresourceSize(desc, mip)
	}
	size *= uint64(desc.ArraySize) * uint64(max(desc.SampleCount, 1))
	return rhi.MemoryRequirements{Size: rhi.AlignUp(size, 65536), Alignment: 65536}
}

func (b *Backend) CreateDescriptorHeap(kind native.DescriptorHeapKind, capacity uint32, shaderVisible bool) (native.DescriptorHeap, error) {
	h := &DescriptorHeap{
		be:            b,
		kind:          kind,
		entries:       make([]native.Descriptor, capacity),
		written:       make([]bool, capacity),
		shaderVisible: shaderVisible,
		cpuBase:       b.nextHandle.Add(1<<32) - 1<<32,
	}
	if shaderVisible {
		h.gpuBase = b.nextHandle.Add(1<<32) - 1<<32
	}
	b.created()
	return h, nil
}

func (b *Backend) CreateRootSignature(desc *native.RootSignatureDesc) (native.RootSignature, error) {
	rs := &RootSignature{be: b, Desc: *desc}
	rs.Desc.Parameters = slices.Clone(desc.Parameters)
	b.created()
	return rs, nil
}

func (b *Backend) CreateShader(desc *rhi.ShaderDesc, code []byte) (native.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("sim: shader %q has no code", desc.DebugName)
	}
	b.created()
	return &ShaderModule{be: b, Desc: *desc, Code: slices.Clone(code)}, nil
}

func (b *Backend) CreatePipeline(desc *native.PipelineDesc) (native.Pipeline, error) {
	if desc.RootSignature == nil {
		return nil, fmt.Errorf("sim: pipeline without root signature")
	}
	p := &Pipeline{be: b, Desc: *desc, exports: make(map[string][]byte)}
	if desc.Kind == native.PipelineRayTracing {
		for _, s := range desc.Stages {
			if s.ExportName != "" {
				p.exports[s.ExportName] = b.shaderIdentifier(s.ExportName)
			}
		}
		for _, g := range desc.HitGroups {
			p.exports[g.ExportName] = b.shaderIdentifier(g.ExportName)
		}
	}
	b.created()
	return p, nil
}

// shaderIdentifier derives a stable identifier from an export name.
func (b *Backend) shaderIdentifier(export string) []byte {
	h := fnv.New64a()
	h.Write([]byte(export))
	sum := h.Sum(nil)
	id := make([]byte, b.limits.ShaderIdentifierSize)
	for i := range id {
		id[i] = sum[i%len(sum)]
	}
	return id
}

func (b *Backend) CreateCommandBuffer(queue rhi.CommandQueue) (native.CommandBuffer, error) {
	if queue >= rhi.QueueCount || b.queues[queue] == nil {
		return nil, fmt.Errorf("sim: no %s queue", queue)
	}
	b.created()
	return &CommandBuffer{be: b, queue: queue}, nil
}

func (b *Backend) CreateTimelineSemaphore() (native.Semaphore, error) {
	b.created()
	return newSemaphore(b), nil
}

func (b *Backend) CreateQueryHeap(count uint32) (native.QueryHeap, error) {
	if count == 0 {
		return nil, fmt.Errorf("sim: empty query heap")
	}
	b.created()
	return &QueryHeap{be: b, timestamps: make([]uint64, count)}, nil
}

// AccelStructPrebuildInfo sizes results at 64 bytes per primitive or
// instance plus a header.
func (b *Backend) AccelStructPrebuildInfo(inputs *native.AccelStructInputs) native.PrebuildInfo {
	n := uint64(inputs.NumInstances)
	if !inputs.IsTopLevel {
		n = 0
		for i := range inputs.Geometries {
			n += uint64(inputs.Geometries[i].Desc.PrimitiveCount())
		}
	}
	result := rhi.AlignUp(256+64*n, 256)
	return native.PrebuildInfo{
		ResultSize:        result,
		ScratchSize:       rhi.AlignUp(result/2, 256),
		UpdateScratchSize: rhi.AlignUp(result/4, 256),
	}
}

// compactedSize is what a compacting copy of a structure built from
// inputs occupies.
func (b *Backend) compactedSize(inputs *native.AccelStructInputs) uint64 {
	return rhi.AlignUp(b.AccelStructPrebuildInfo(inputs).ResultSize/2, 256)
}
