package rhi

import (
	"errors"
	"fmt"
)

// CPUAccessMode selects whether and how the CPU maps a resource.
type CPUAccessMode uint8

// CPU access modes.
const (
	CPUAccessNone CPUAccessMode = iota
	CPUAccessRead
	CPUAccessWrite
)

func (m CPUAccessMode) String() string {
	switch m {
	case CPUAccessNone:
		return "None"
	case CPUAccessRead:
		return "Read"
	case CPUAccessWrite:
		return "Write"
	}
	return fmt.Sprintf("CPUAccessMode(%d)", uint8(m))
}

// ConstantBufferAlignment is the size granularity of constant buffers.
const ConstantBufferAlignment = 256

// BufferDesc is the immutable description of a buffer.
type BufferDesc struct {
	ByteSize     uint64
	StructStride uint32
	// MaxVersions bounds how many versions of a volatile buffer may be in
	// flight at once.
	MaxVersions uint32
	Format      Format
	DebugName   string

	CanHaveUAVs             bool
	CanHaveTypedViews       bool
	CanHaveRawViews         bool
	IsVertexBuffer          bool
	IsIndexBuffer           bool
	IsConstantBuffer        bool
	IsDrawIndirectArgs      bool
	IsAccelStructBuildInput bool
	IsAccelStructStorage    bool
	IsShaderBindingTable    bool
	// IsVolatile buffers have no backing memory: every use in a command
	// list is preceded by WriteBuffer into the list's upload ring.
	IsVolatile bool
	IsVirtual  bool

	SharedResourceFlags SharedResourceFlags
	CPUAccess           CPUAccessMode

	InitialState     ResourceStates
	KeepInitialState bool
}

// Buffer descriptor errors.
var (
	ErrInvalidBufferSize   = errors.New("rhi: buffer size must be non-zero")
	ErrInvalidVolatileDesc = errors.New("rhi: invalid volatile buffer description")
)

// Normalize returns a copy of d with constant-buffer sizes rounded up to
// ConstantBufferAlignment.
func (d BufferDesc) Normalize() BufferDesc {
	if d.IsConstantBuffer {
		d.ByteSize = AlignUp(d.ByteSize, ConstantBufferAlignment)
	}
	return d
}

// Validate checks the flag combinations of a buffer descriptor.
func (d *BufferDesc) Validate() error {
	if d.ByteSize == 0 {
		return ErrInvalidBufferSize
	}
	if !d.IsVolatile {
		return nil
	}
	switch {
	case !d.IsConstantBuffer:
		return fmt.Errorf("%w: volatile buffers must be constant buffers", ErrInvalidVolatileDesc)
	case d.IsVertexBuffer || d.IsIndexBuffer || d.IsDrawIndirectArgs:
		return fmt.Errorf("%w: volatile buffers cannot be vertex, index or indirect-argument buffers", ErrInvalidVolatileDesc)
	case d.CanHaveUAVs:
		return fmt.Errorf("%w: volatile buffers cannot have UAVs", ErrInvalidVolatileDesc)
	case d.IsAccelStructBuildInput || d.IsAccelStructStorage:
		return fmt.Errorf("%w: volatile buffers cannot be used for acceleration structures", ErrInvalidVolatileDesc)
	case d.IsVirtual:
		return fmt.Errorf("%w: volatile buffers cannot be virtual", ErrInvalidVolatileDesc)
	case d.CPUAccess != CPUAccessNone:
		return fmt.Errorf("%w: volatile buffers cannot be CPU-accessible", ErrInvalidVolatileDesc)
	case d.MaxVersions == 0:
		return fmt.Errorf("%w: MaxVersions must be non-zero", ErrInvalidVolatileDesc)
	}
	return nil
}

// BufferRange is a byte range of a buffer. A zero ByteSize extends to the
// end of the buffer.
type BufferRange struct {
	ByteOffset uint64
	ByteSize   uint64
}

// EntireBuffer is the range covering a whole buffer.
var EntireBuffer = BufferRange{ByteOffset: 0, ByteSize: ^uint64(0)}

// Resolve clamps r to a buffer of the given description.
func (r BufferRange) Resolve(d *BufferDesc) BufferRange {
	var out BufferRange
	out.ByteOffset = min(r.ByteOffset, d.ByteSize)
	if r.ByteSize == 0 {
		out.ByteSize = d.ByteSize - out.ByteOffset
	} else {
		out.ByteSize = min(r.ByteSize, d.ByteSize-out.ByteOffset)
	}
	return out
}

// IsEntireBuffer reports whether r covers all of a buffer.
func (r BufferRange) IsEntireBuffer(d *BufferDesc) bool {
	return r.ByteOffset == 0 && (r.ByteSize == ^uint64(0) || r.ByteSize == d.ByteSize)
}

// AlignUp rounds v up to a multiple of alignment, which must be a power of two.
func AlignUp[T ~uint32 | ~uint64](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// HeapType selects the memory pool of a Heap.
type HeapType uint8

// Heap types.
const (
	HeapTypeDeviceLocal HeapType = iota
	HeapTypeUpload
	HeapTypeReadback
)

// HeapDesc describes a placement heap for virtual resources.
type HeapDesc struct {
	Capacity  uint64
	Type      HeapType
	DebugName string
}

// MemoryRequirements is the size and alignment a virtual resource needs
// inside a Heap.
type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
}
