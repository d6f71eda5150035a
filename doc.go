// Package rhi is a thin, explicit rendering hardware interface over modern
// graphics APIs.
//
// # Overview
//
// Applications allocate GPU resources, build pipelines, record command
// lists and submit them to queues through a single handle-based interface.
// The runtime hides the mechanical differences between native APIs while
// keeping the performance model of explicit APIs: applications still order
// their own work.
//
// # Quick Start
//
//	dev, err := core.NewDevice(rhi.DefaultDeviceDesc(), backend)
//	if err != nil {
//	    return err
//	}
//	cl, _ := dev.CreateCommandList(rhi.DefaultCommandListParameters())
//	cl.Open()
//	cl.WriteBuffer(constants, data, 0)
//	cl.SetGraphicsState(&state)
//	cl.Draw(rhi.DrawArguments{VertexCount: 3, InstanceCount: 1})
//	cl.Close()
//	dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
//	dev.RunGarbageCollection()
//
// # Architecture
//
// The module is organized into:
//   - rhi: descriptors, handle interfaces, formats, resource states, diagnostics
//   - native: the contract a back-end implements
//   - core: state tracking, suballocation, binding, command lists, queues
//   - validation: an optional checking layer around a Device
//   - backend/sim: an in-process back-end that executes command buffers on the CPU
//   - backend/wgpuhal: a back-end over github.com/gogpu/wgpu/hal
//
// # Diagnostics
//
// All messages go through the MessageCallback of the DeviceDesc. Without a
// callback they are written to the logger configured with SetLogger, which
// is silent by default.
package rhi

// Version is the current version of the module.
const Version = "0.1.0"
