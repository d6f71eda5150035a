package sim

import (
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/native"
)

// init registers the simulated backend on package import.
func init() {
	backend.Register(backend.BackendSim, func() (native.Backend, error) {
		return New(), nil
	})
}
