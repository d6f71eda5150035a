// Package backend provides a registry of native graphics back-ends.
//
// Back-ends implement native.Backend and register a factory from an init()
// function. The core device is created on top of whichever back-end is
// opened:
//
//	import _ "github.com/gogpu/rhi/backend/sim"
//
// # Backend Selection
//
// Use Default() to open the best available backend, or Open() to request
// a specific backend by name:
//
//	be, err := backend.Default()
//
//	// Or request a specific backend
//	be, err := backend.Open(backend.BackendSim)
//
// # Available Backends
//
// - "wgpu": gogpu/wgpu HAL devices (Vulkan, Metal, DX12, GLES)
// - "sim": in-memory device for tests and headless tooling
package backend
