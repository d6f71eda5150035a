package main

import (
	"fmt"
	"image"
	"os"

	"golang.org/x/image/bmp"

	"github.com/gogpu/rhi"
)

// snapshot clears a render target, reads it back through a staging
// texture and writes it to path as BMP.
func snapshot(dev rhi.Device, path string, width, height uint32) error {
	desc := rhi.TextureDesc{
		Width: width, Height: height, ArraySize: 1, MipLevels: 1,
		Format: rhi.FormatRGBA8Unorm, Dimension: rhi.TextureDimension2D,
		IsRenderTarget: true, InitialState: rhi.ResourceStateRenderTarget, KeepInitialState: true,
		DebugName: "snapshot",
	}
	rt, err := dev.CreateTexture(desc)
	if err != nil {
		return err
	}
	defer rt.Release()
	staging, err := dev.CreateStagingTexture(desc, rhi.CPUAccessRead)
	if err != nil {
		return err
	}
	defer staging.Release()

	cl, err := dev.CreateCommandList(rhi.CommandListParameters{QueueType: rhi.QueueGraphics})
	if err != nil {
		return err
	}
	defer cl.Release()

	slice := rhi.EntireSlice(0, 0)
	cl.Open()
	cl.ClearTextureFloat(rt, rhi.AllSubresources, rhi.Color{R: 0.2, G: 0.4, B: 0.8, A: 1})
	cl.CopyTextureToStaging(staging, slice, rt, slice)
	cl.Close()
	if _, err := dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics); err != nil {
		return err
	}

	data, pitch, err := dev.MapStagingTexture(staging, slice, rhi.CPUAccessRead)
	if err != nil {
		return err
	}
	defer dev.UnmapStagingTexture(staging)

	img := image.NewNRGBA(image.Rect(0, 0, int(width), int(height)))
	row := int(width) * 4
	for y := 0; y < int(height); y++ {
		src := data[uint64(y)*pitch:]
		copy(img.Pix[y*img.Stride:y*img.Stride+row], src[:row])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
