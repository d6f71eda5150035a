package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/core"
)

func openSim(t *testing.T) rhi.Device {
	t.Helper()
	dev, err := backend.OpenDevice(backend.BackendSim, rhi.DefaultDeviceDesc(), core.Open)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Release() })
	return dev
}

func TestSupportFlags(t *testing.T) {
	assert.Equal(t, "---------------", supportFlags(rhi.FormatSupportNone))
	assert.Equal(t, "b--t-----------", supportFlags(rhi.FormatSupportBuffer|rhi.FormatSupportTexture))
}

func TestSmoke(t *testing.T) {
	assert.NoError(t, smokeTest(openSim(t)))
}

func TestSnapshot(t *testing.T) {
	dev := openSim(t)
	path := filepath.Join(t.TempDir(), "rt.bmp")
	require.NoError(t, snapshot(dev, path, 8, 4))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	r, g, b, a := img.At(3, 2).RGBA()
	assert.Equal(t, uint32(0x33), r>>8)
	assert.Equal(t, uint32(0x66), g>>8)
	assert.Equal(t, uint32(0xcc), b>>8)
	assert.Equal(t, uint32(0xff), a>>8)
}

func TestApplyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")
	require.NoError(t, os.WriteFile(path, []byte("[heaps]\nsamplers = 64\n"), 0o600))
	desc := rhi.DefaultDeviceDesc()
	require.NoError(t, applyConfig(path, &desc))
	assert.EqualValues(t, 64, desc.SamplerHeapSize)

	require.NoError(t, os.WriteFile(path, []byte("[heaps]\nsampler = 64\n"), 0o600))
	assert.ErrorIs(t, applyConfig(path, &desc), rhi.ErrInvalidArgument)
}
