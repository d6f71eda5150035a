package rhi

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// DeviceConfig is the on-disk form of the tunable parts of a DeviceDesc.
//
//	[heaps]
//	shader_resource_views = 4096
//	samplers = 256
//
//	[queues]
//	compute = false
//
//	[command_lists]
//	upload_chunk_size = 131072
//	scratch_max_memory = 268435456
type DeviceConfig struct {
	Heaps        HeapConfig        `toml:"heaps"`
	Queues       QueueConfig       `toml:"queues"`
	CommandLists CommandListConfig `toml:"command_lists"`
	AccelStructs AccelStructConfig `toml:"accel_structs"`
}

// HeapConfig sizes the descriptor heaps and the timer query pool.
type HeapConfig struct {
	RenderTargetViews   uint32 `toml:"render_target_views"`
	DepthStencilViews   uint32 `toml:"depth_stencil_views"`
	ShaderResourceViews uint32 `toml:"shader_resource_views"`
	Samplers            uint32 `toml:"samplers"`
	TimerQueries        uint32 `toml:"timer_queries"`
}

// QueueConfig enables the optional queues. Absent keys keep the value
// already in the DeviceDesc.
type QueueConfig struct {
	Compute *bool `toml:"compute"`
	Copy    *bool `toml:"copy"`
}

// CommandListConfig sets the default suballocator sizes.
type CommandListConfig struct {
	UploadChunkSize  uint64 `toml:"upload_chunk_size"`
	ScratchChunkSize uint64 `toml:"scratch_chunk_size"`
	ScratchMaxMemory uint64 `toml:"scratch_max_memory"`
}

// AccelStructConfig controls acceleration structure options.
type AccelStructConfig struct {
	Compaction *bool `toml:"compaction"`
}

// LoadDeviceConfig decodes a TOML device configuration. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func LoadDeviceConfig(r io.Reader) (DeviceConfig, error) {
	var cfg DeviceConfig
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("%w: device config: %w", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that TOML typing cannot express.
func (c *DeviceConfig) Validate() error {
	cl := &c.CommandLists
	if cl.ScratchMaxMemory != 0 && cl.ScratchChunkSize > cl.ScratchMaxMemory {
		return fmt.Errorf("%w: scratch_chunk_size %d exceeds scratch_max_memory %d",
			ErrInvalidArgument, cl.ScratchChunkSize, cl.ScratchMaxMemory)
	}
	return nil
}

// Apply overlays the non-zero values of c onto d.
func (c *DeviceConfig) Apply(d *DeviceDesc) {
	setU32 := func(dst *uint32, v uint32) {
		if v != 0 {
			*dst = v
		}
	}
	setU64 := func(dst *uint64, v uint64) {
		if v != 0 {
			*dst = v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}

	setU32(&d.RenderTargetViewHeapSize, c.Heaps.RenderTargetViews)
	setU32(&d.DepthStencilViewHeapSize, c.Heaps.DepthStencilViews)
	setU32(&d.ShaderResourceViewHeapSize, c.Heaps.ShaderResourceViews)
	setU32(&d.SamplerHeapSize, c.Heaps.Samplers)
	setU32(&d.MaxTimerQueries, c.Heaps.TimerQueries)

	setBool(&d.EnableComputeQueue, c.Queues.Compute)
	setBool(&d.EnableCopyQueue, c.Queues.Copy)
	setBool(&d.EnableAccelStructCompaction, c.AccelStructs.Compaction)

	setU64(&d.UploadChunkSize, c.CommandLists.UploadChunkSize)
	setU64(&d.ScratchChunkSize, c.CommandLists.ScratchChunkSize)
	setU64(&d.ScratchMaxMemory, c.CommandLists.ScratchMaxMemory)
}
