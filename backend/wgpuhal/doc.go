// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpuhal runs the rhi core on a gogpu/wgpu HAL device.
//
// The backend exposes a single graphics queue. It records buffer and
// texture copies, color and depth-stencil clears and multisample resolves
// into HAL command encoders, and builds timeline semaphores on the HAL
// submission index. Shaders are accepted as WGSL, compiled to SPIR-V with
// naga, or as SPIR-V binaries.
//
// Pipelines, queries, virtual resources and ray tracing report
// rhi.ErrNotSupported: a command buffer that records one of them fails in
// End, and the core reports the failure when the list is closed.
//
// Importing the package registers it as "wgpu", opened on the Vulkan HAL:
//
//	import _ "github.com/gogpu/rhi/backend/wgpuhal"
//
//	dev, err := backend.OpenDevice(backend.BackendWGPU, rhi.DefaultDeviceDesc(), core.Open)
//
// An already open HAL device can be wrapped directly with New.
package wgpuhal
