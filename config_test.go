package rhi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDeviceConfig(t *testing.T) {
	const doc = `
[heaps]
shader_resource_views = 4096
samplers = 128

[queues]
compute = false

[command_lists]
upload_chunk_size = 131072

[accel_structs]
compaction = true
`
	cfg, err := LoadDeviceConfig(strings.NewReader(doc))
	require.NoError(t, err)

	desc := DefaultDeviceDesc()
	cfg.Apply(&desc)

	assert.Equal(t, uint32(4096), desc.ShaderResourceViewHeapSize)
	assert.Equal(t, uint32(128), desc.SamplerHeapSize)
	assert.Equal(t, uint32(DefaultRenderTargetViewHeapSize), desc.RenderTargetViewHeapSize)
	assert.False(t, desc.EnableComputeQueue)
	assert.True(t, desc.EnableCopyQueue, "absent key keeps existing value")
	assert.True(t, desc.EnableAccelStructCompaction)
	assert.Equal(t, uint64(131072), desc.UploadChunkSize)
	assert.Equal(t, uint64(DefaultScratchMaxMemory), desc.ScratchMaxMemory)
}

func TestLoadDeviceConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadDeviceConfig(strings.NewReader("[heaps]\nsrv = 1\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadDeviceConfigValidatesScratch(t *testing.T) {
	const doc = `
[command_lists]
scratch_chunk_size = 1048576
scratch_max_memory = 65536
`
	_, err := LoadDeviceConfig(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeviceDescWithDefaults(t *testing.T) {
	d := DeviceDesc{SamplerHeapSize: 7}.WithDefaults()
	assert.Equal(t, uint32(7), d.SamplerHeapSize)
	assert.Equal(t, uint32(DefaultShaderResourceViewHeapSize), d.ShaderResourceViewHeapSize)
	assert.Equal(t, uint64(DefaultUploadChunkSize), d.UploadChunkSize)
	assert.False(t, d.EnableComputeQueue, "queue flags are not defaulted")
}
