// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// ErrNoHALAccess is returned by FromProvider when the provider does not
// expose its HAL device and queue.
var ErrNoHALAccess = errors.New("wgpu: provider does not expose HAL types")

// halProvider is implemented by hosts (e.g. gogpu.App) that share their
// HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider builds a Backend on the device owned by an external
// provider. The provider keeps ownership: Destroy waits for the device to
// go idle but does not destroy it.
func FromProvider(provider gpucontext.DeviceProvider) (*Backend, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALAccess
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.Join(ErrNoHALAccess, errors.New("HalDevice is not hal.Device"))
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Join(ErrNoHALAccess, errors.New("HalQueue is not hal.Queue"))
	}

	info := provider.AdapterInfo()
	rhi.Logger().Info("wgpu: using shared device", "adapter", info.Name, "type", info.Type.String())
	return New(device, queue), nil
}
