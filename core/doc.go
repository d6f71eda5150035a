// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package core implements rhi.Device and rhi.CommandList on top of a
// native.Backend.
//
// # Architecture
//
// The core owns everything a native API leaves to the application:
//
//   - Resource state tracking and automatic barrier placement
//   - Descriptor heap allocation with grow-on-demand
//   - Root-signature caching keyed by binding-layout identity
//   - Upload and scratch ring buffers versioned by submission
//   - Volatile constant buffers and push constants
//   - Command-buffer pooling and deferred release of referenced objects
//   - Acceleration-structure builds, compaction and shader tables
//
// A back-end only translates monomorphic commands. The same core drives a
// D3D12-class, a Vulkan-class or a WebGPU back-end; differences are expressed
// through native.Limits and feature queries.
//
// # Usage
//
//	dev, err := core.NewDevice(rhi.DefaultDeviceDesc(), backend)
//	if err != nil {
//	    return err
//	}
//	defer dev.Release()
//
//	cl, _ := dev.CreateCommandList(rhi.DefaultCommandListParameters())
//	cl.Open()
//	cl.WriteBuffer(constants, data, 0)
//	cl.SetGraphicsState(&state)
//	cl.Draw(rhi.DrawArguments{VertexCount: 3, InstanceCount: 1})
//	cl.Close()
//	dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
//
// # Thread Safety
//
// Device methods are safe for concurrent use. A CommandList must be
// recorded by one goroutine at a time; different lists may record in
// parallel and report through the same message callback.
package core
