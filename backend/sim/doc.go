// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sim provides an in-memory native back-end.
//
// Buffers and textures live in host memory, descriptor heaps store
// descriptors by value and command buffers record every call into a
// Command log. Submitting a command buffer runs its copies, clears,
// timestamp writes and compacted-size writes on the host, then signals
// the submit's semaphores.
//
// The back-end is registered as "sim" on import:
//
//	import _ "github.com/gogpu/rhi/backend/sim"
//
// Tests usually construct it directly to inspect what the core recorded:
//
//	be := sim.New(sim.WithAPI(rhi.GraphicsAPIVulkan))
//	dev, _ := core.NewDevice(rhi.DefaultDeviceDesc(), be)
//	...
//	for _, cmd := range be.LastSubmission() {
//	    if cmd.Op == sim.OpBarriers { ... }
//	}
//
// WithManualCompletion holds semaphore signals until Complete, which makes
// in-flight lifetimes observable.
package sim
