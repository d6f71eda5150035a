// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/native"
)

// init registers the backend on package import.
func init() {
	backend.Register(backend.BackendWGPU, func() (native.Backend, error) {
		return Open(gputypes.BackendVulkan)
	})
}

// Open creates an instance of the given HAL backend, opens its first
// discrete or integrated adapter, falling back to the first adapter, and
// returns a Backend that owns the device. It returns
// backend.ErrBackendNotAvailable when the HAL backend is not registered or
// finds no adapter.
func Open(variant gputypes.Backend) (*Backend, error) {
	api, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s HAL backend is not registered", backend.ErrBackendNotAvailable, variant)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create %s instance: %w", backend.ErrBackendNotAvailable, variant, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no %s adapters", backend.ErrBackendNotAvailable, variant)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open %s: %w", selected.Info.Name, err)
	}
	rhi.Logger().Info("wgpu: adapter opened", "name", selected.Info.Name, "backend", variant.String())

	b := New(open.Device, open.Queue)
	b.release = func() {
		open.Device.Destroy()
		selected.Adapter.Destroy()
		instance.Destroy()
	}
	return b, nil
}
