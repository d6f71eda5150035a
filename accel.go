package rhi

import (
	"encoding/binary"
	"errors"
	"math"
)

// GeometryType selects the primitive kind of a BLAS geometry.
type GeometryType uint8

// Geometry types.
const (
	GeometryTypeTriangles GeometryType = iota
	GeometryTypeAABBs
)

// GeometryFlags modify how a geometry is traced.
type GeometryFlags uint8

// Geometry flags.
const (
	GeometryFlagNone                        GeometryFlags = 0
	GeometryFlagOpaque                      GeometryFlags = 1
	GeometryFlagNoDuplicateAnyHitInvocation GeometryFlags = 2
)

// GeometryTriangles describes an indexed or non-indexed triangle mesh.
type GeometryTriangles struct {
	IndexBuffer  Buffer
	VertexBuffer Buffer
	IndexFormat  Format
	VertexFormat Format
	IndexOffset  uint64
	VertexOffset uint64
	IndexCount   uint32
	VertexCount  uint32
	VertexStride uint32
}

// GeometryAABBs describes procedural primitives by bounding boxes.
type GeometryAABBs struct {
	Buffer Buffer
	Offset uint64
	Count  uint32
	Stride uint32
}

// AffineTransform is a row-major 3x4 matrix.
type AffineTransform [12]float32

// IdentityTransform is the identity AffineTransform.
var IdentityTransform = AffineTransform{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}

// GeometryDesc is one geometry of a bottom-level acceleration structure.
type GeometryDesc struct {
	Type         GeometryType
	Flags        GeometryFlags
	Triangles    GeometryTriangles
	AABBs        GeometryAABBs
	UseTransform bool
	Transform    AffineTransform
}

// PrimitiveCount returns the number of triangles or boxes in g.
func (g *GeometryDesc) PrimitiveCount() uint32 {
	if g.Type == GeometryTypeAABBs {
		return g.AABBs.Count
	}
	if g.Triangles.IndexBuffer != nil {
		return g.Triangles.IndexCount / 3
	}
	return g.Triangles.VertexCount / 3
}

// InstanceFlags modify how an instance is traced.
type InstanceFlags uint8

// Instance flags.
const (
	InstanceFlagNone                          InstanceFlags = 0
	InstanceFlagTriangleCullDisable           InstanceFlags = 1
	InstanceFlagTriangleFrontCounterClockwise InstanceFlags = 2
	InstanceFlagForceOpaque                   InstanceFlags = 4
	InstanceFlagForceNonOpaque                InstanceFlags = 8
)

// InstanceDesc is one instance of a top-level acceleration structure.
// When BottomLevelAS is set its device address replaces BLASDeviceAddress
// during the build.
type InstanceDesc struct {
	Transform                           AffineTransform
	InstanceID                          uint32
	InstanceMask                        uint8
	InstanceContributionToHitGroupIndex uint32
	Flags                               InstanceFlags
	BottomLevelAS                       AccelStruct
	BLASDeviceAddress                   uint64
}

// InstanceDescSize is the byte size of one instance in GPU memory.
const InstanceDescSize = 64

// Encode writes the GPU layout of the instance into dst, which must hold
// InstanceDescSize bytes. The BLAS address is written as given; callers
// resolve BottomLevelAS first.
func (i *InstanceDesc) Encode(dst []byte, blasAddress uint64) {
	_ = dst[InstanceDescSize-1]
	for k, v := range i.Transform {
		binary.LittleEndian.PutUint32(dst[k*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(dst[48:], (i.InstanceID&0xFFFFFF)|uint32(i.InstanceMask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], (i.InstanceContributionToHitGroupIndex&0xFFFFFF)|uint32(i.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], blasAddress)
}

// AccelStructBuildFlags control building and updating.
type AccelStructBuildFlags uint8

// Build flags.
const (
	AccelStructBuildNone            AccelStructBuildFlags = 0
	AccelStructBuildAllowUpdate     AccelStructBuildFlags = 1 << 0
	AccelStructBuildAllowCompaction AccelStructBuildFlags = 1 << 1
	AccelStructBuildPreferFastTrace AccelStructBuildFlags = 1 << 2
	AccelStructBuildPreferFastBuild AccelStructBuildFlags = 1 << 3
	AccelStructBuildMinimizeMemory  AccelStructBuildFlags = 1 << 4
	AccelStructBuildPerformUpdate   AccelStructBuildFlags = 1 << 5
)

// Has reports whether every bit of other is set.
func (f AccelStructBuildFlags) Has(other AccelStructBuildFlags) bool { return f&other == other }

// AccelStructDesc describes a BLAS or TLAS.
type AccelStructDesc struct {
	TopLevelMaxInstances  uint64
	BottomLevelGeometries []GeometryDesc
	BuildFlags            AccelStructBuildFlags
	DebugName             string
	TrackLiveness         bool
	IsTopLevel            bool
	IsVirtual             bool
}

// Acceleration structure descriptor errors.
var (
	ErrCompactionOnTLAS         = errors.New("rhi: AllowCompaction is not supported on top-level acceleration structures")
	ErrCompactionAndUpdate      = errors.New("rhi: AllowCompaction and AllowUpdate are mutually exclusive")
	ErrEmptyTopLevelAccelStruct = errors.New("rhi: top-level acceleration structure must allow at least one instance")
)

// Validate checks the build flag combinations of d.
func (d *AccelStructDesc) Validate() error {
	if d.IsTopLevel {
		if d.BuildFlags.Has(AccelStructBuildAllowCompaction) {
			return ErrCompactionOnTLAS
		}
		if d.TopLevelMaxInstances == 0 {
			return ErrEmptyTopLevelAccelStruct
		}
	}
	if d.BuildFlags.Has(AccelStructBuildAllowCompaction | AccelStructBuildAllowUpdate) {
		return ErrCompactionAndUpdate
	}
	return nil
}
