// Command rhiinfo opens an rhi device and prints its capabilities.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	_ "github.com/gogpu/rhi/backend/sim"
	_ "github.com/gogpu/rhi/backend/wgpuhal"
	"github.com/gogpu/rhi/core"
	"github.com/gogpu/rhi/validation"
)

var featureNames = []struct {
	f    rhi.Feature
	name string
}{
	{rhi.FeatureDeferredCommandLists, "deferred command lists"},
	{rhi.FeatureRayTracingAccelStruct, "ray tracing acceleration structures"},
	{rhi.FeatureRayTracingPipeline, "ray tracing pipelines"},
	{rhi.FeatureRayQuery, "ray query"},
	{rhi.FeatureMeshlets, "meshlets"},
	{rhi.FeatureConservativeRasterization, "conservative rasterization"},
	{rhi.FeatureVariableRateShading, "variable rate shading"},
	{rhi.FeatureVirtualResources, "virtual resources"},
	{rhi.FeatureComputeQueue, "compute queue"},
	{rhi.FeatureCopyQueue, "copy queue"},
	{rhi.FeatureConstantBufferRanges, "constant buffer ranges"},
	{rhi.FeatureTimerQueries, "timer queries"},
	{rhi.FeatureEventQueries, "event queries"},
	{rhi.FeatureAccelStructCompaction, "acceleration structure compaction"},
}

func main() {
	var (
		name     = flag.String("backend", "", "back-end name (default: best available)")
		config   = flag.String("config", "", "TOML device configuration")
		validate = flag.Bool("validate", false, "wrap the device in the validation layer")
		smoke    = flag.Bool("smoke", false, "clear a buffer and read it back")
		snap     = flag.String("snapshot", "", "clear a render target and write it to this BMP file")
		verbose  = flag.Bool("v", false, "log device diagnostics")
	)
	flag.Parse()

	if *verbose {
		rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	desc := rhi.DefaultDeviceDesc()
	if *config != "" {
		if err := applyConfig(*config, &desc); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	dev, err := backend.OpenDevice(*name, desc, core.Open)
	if err != nil {
		log.Fatalf("open device (registered: %v): %v", backend.Available(), err)
	}
	if *validate {
		dev = validation.Wrap(dev)
	}
	defer dev.Release()

	printInfo(dev, &desc)

	if *smoke {
		if err := smokeTest(dev); err != nil {
			log.Fatalf("smoke: %v", err)
		}
		fmt.Println("smoke: ok")
	}
	if *snap != "" {
		if err := snapshot(dev, *snap, 64, 64); err != nil {
			log.Fatalf("snapshot: %v", err)
		}
		fmt.Printf("snapshot: wrote %s\n", *snap)
	}
}

func applyConfig(path string, desc *rhi.DeviceDesc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, err := rhi.LoadDeviceConfig(f)
	if err != nil {
		return err
	}
	cfg.Apply(desc)
	return nil
}

func printInfo(dev rhi.Device, desc *rhi.DeviceDesc) {
	p := message.NewPrinter(language.English)
	fmt.Printf("API: %s\n\nDescriptor heaps:\n", dev.GraphicsAPI())
	p.Printf("  render target views   %d\n", desc.RenderTargetViewHeapSize)
	p.Printf("  depth stencil views   %d\n", desc.DepthStencilViewHeapSize)
	p.Printf("  shader resource views %d\n", desc.ShaderResourceViewHeapSize)
	p.Printf("  samplers              %d\n", desc.SamplerHeapSize)
	p.Printf("  timer queries         %d\n", desc.MaxTimerQueries)
	fmt.Println("\nCommand lists:")
	p.Printf("  upload chunk   %d bytes\n", desc.UploadChunkSize)
	p.Printf("  scratch chunk  %d bytes\n", desc.ScratchChunkSize)
	p.Printf("  scratch limit  %d bytes\n", desc.ScratchMaxMemory)

	fmt.Println("\nFeatures:")
	for _, fn := range featureNames {
		mark := " "
		if dev.QueryFeatureSupport(fn.f) {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, fn.name)
	}

	fmt.Println("\nFormats:")
	for f := rhi.Format(1); rhi.GetFormatInfo(f).Format == f; f++ {
		s := dev.QueryFormatSupport(f)
		if s == rhi.FormatSupportNone {
			continue
		}
		fmt.Printf("  %-20s %s\n", f, supportFlags(s))
	}
}

func supportFlags(s rhi.FormatSupport) string {
	flags := []struct {
		bit  rhi.FormatSupport
		code byte
	}{
		{rhi.FormatSupportBuffer, 'b'},
		{rhi.FormatSupportIndexBuffer, 'i'},
		{rhi.FormatSupportVertexBuffer, 'v'},
		{rhi.FormatSupportTexture, 't'},
		{rhi.FormatSupportDepthStencil, 'd'},
		{rhi.FormatSupportRenderTarget, 'r'},
		{rhi.FormatSupportBlendable, 'B'},
		{rhi.FormatSupportShaderLoad, 'l'},
		{rhi.FormatSupportShaderSample, 's'},
		{rhi.FormatSupportShaderUAVLoad, 'u'},
		{rhi.FormatSupportShaderUAVStore, 'U'},
		{rhi.FormatSupportShaderAtomic, 'a'},
		{rhi.FormatSupportMultisampleLoad, 'm'},
		{rhi.FormatSupportMultisampleRT, 'M'},
		{rhi.FormatSupportMultisampleResolve, 'R'},
	}
	out := make([]byte, len(flags))
	for i, fl := range flags {
		out[i] = '-'
		if s&fl.bit != 0 {
			out[i] = fl.code
		}
	}
	return string(out)
}

func smokeTest(dev rhi.Device) error {
	const size = 64
	buf, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: size, CanHaveUAVs: true, InitialState: rhi.ResourceStateCopyDest, KeepInitialState: true, DebugName: "smoke"})
	if err != nil {
		return err
	}
	defer buf.Release()
	readback, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: size, CPUAccess: rhi.CPUAccessRead, DebugName: "smoke readback"})
	if err != nil {
		return err
	}
	defer readback.Release()
	cl, err := dev.CreateCommandList(rhi.CommandListParameters{QueueType: rhi.QueueGraphics})
	if err != nil {
		return err
	}
	defer cl.Release()

	cl.Open()
	cl.ClearBufferUInt(buf, 0x5eed)
	cl.CopyBuffer(readback, 0, buf, 0, size)
	cl.Close()
	if _, err := dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics); err != nil {
		return err
	}
	if err := dev.WaitForIdle(); err != nil {
		return err
	}

	data, err := dev.MapBuffer(readback, rhi.CPUAccessRead)
	if err != nil {
		return err
	}
	defer dev.UnmapBuffer(readback)
	for off := 0; off+4 <= len(data); off += 4 {
		if v := binary.LittleEndian.Uint32(data[off:]); v != 0x5eed {
			return fmt.Errorf("word %d is %#x", off/4, v)
		}
	}
	return nil
}
