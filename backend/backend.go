package backend

import (
	"errors"

	"github.com/gogpu/rhi/native"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// BackendWGPU is the name of the back-end driving gogpu/wgpu HAL devices.
	BackendWGPU = "wgpu"
	// BackendSim is the name of the in-memory simulated back-end.
	BackendSim = "sim"
)

// Factory opens a native back-end.
//
// A factory returns ErrBackendNotAvailable when the platform cannot host
// the back-end, so Open can fall through to the next one.
type Factory func() (native.Backend, error)
