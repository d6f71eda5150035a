package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendWGPU, BackendSim}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open creates a backend by name.
func Open(name string) (native.Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	return factory()
}

// Default opens the best available backend based on priority, then any
// other registered backend.
func Default() (native.Backend, error) {
	registryMu.RLock()
	order := slices.Clone(backendPriority)
	for name := range backends {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	registryMu.RUnlock()

	for _, name := range order {
		be, err := Open(name)
		switch {
		case err == nil:
			return be, nil
		case errors.Is(err, ErrBackendNotAvailable):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrBackendNotAvailable
}

// OpenDevice opens the named backend, or the default one when name is
// empty, and wraps it in a device created by newDevice.
func OpenDevice(name string, desc rhi.DeviceDesc, newDevice func(rhi.DeviceDesc, native.Backend) (rhi.Device, error)) (rhi.Device, error) {
	var (
		be  native.Backend
		err error
	)
	if name == "" {
		be, err = Default()
	} else {
		be, err = Open(name)
	}
	if err != nil {
		return nil, err
	}
	dev, err := newDevice(desc, be)
	if err != nil {
		be.Destroy()
		return nil, err
	}
	return dev, nil
}
