package backend_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/core"
	"github.com/gogpu/rhi/native"
)

func TestRegistrySimIsRegistered(t *testing.T) {
	// The sim backend is registered by its init().
	if !backend.IsRegistered(backend.BackendSim) {
		t.Fatal("sim backend should be auto-registered")
	}
	if !slices.Contains(backend.Available(), backend.BackendSim) {
		t.Errorf("Available() = %v, want it to include %q", backend.Available(), backend.BackendSim)
	}

	be, err := backend.Open(backend.BackendSim)
	if err != nil {
		t.Fatalf("Open(sim) error = %v", err)
	}
	defer be.Destroy()
	if _, ok := be.(*sim.Backend); !ok {
		t.Errorf("Open(sim) = %T, want *sim.Backend", be)
	}
}

func TestRegistryOpenUnregistered(t *testing.T) {
	_, err := backend.Open("nonexistent")
	if !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryDefaultSkipsUnavailable(t *testing.T) {
	backend.Register(backend.BackendWGPU, func() (native.Backend, error) {
		return nil, backend.ErrBackendNotAvailable
	})
	defer backend.Unregister(backend.BackendWGPU)

	be, err := backend.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	defer be.Destroy()
	if _, ok := be.(*sim.Backend); !ok {
		t.Errorf("Default() = %T, want the sim fallback", be)
	}
}

func TestRegistryDefaultStopsOnFailure(t *testing.T) {
	broken := errors.New("driver crashed")
	backend.Register(backend.BackendWGPU, func() (native.Backend, error) {
		return nil, broken
	})
	defer backend.Unregister(backend.BackendWGPU)

	if _, err := backend.Default(); !errors.Is(err, broken) {
		t.Errorf("Default() error = %v, want %v", err, broken)
	}
}

func TestRegistryUnregister(t *testing.T) {
	backend.Register("test-backend", func() (native.Backend, error) { return sim.New(), nil })
	if !backend.IsRegistered("test-backend") {
		t.Fatal("test-backend should be registered")
	}
	backend.Unregister("test-backend")
	if backend.IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestOpenDevice(t *testing.T) {
	dev, err := backend.OpenDevice(backend.BackendSim, rhi.DefaultDeviceDesc(), core.Open)
	if err != nil {
		t.Fatalf("OpenDevice(sim) error = %v", err)
	}
	defer dev.Release()
	if !dev.QueryFeatureSupport(rhi.FeatureDeferredCommandLists) {
		t.Error("sim device should support deferred command lists")
	}
}

func TestOpenDeviceDestroysBackendOnFailure(t *testing.T) {
	be := sim.New()
	backend.Register("test-failing", func() (native.Backend, error) { return be, nil })
	defer backend.Unregister("test-failing")

	wantErr := errors.New("no device")
	_, err := backend.OpenDevice("test-failing", rhi.DefaultDeviceDesc(), func(rhi.DeviceDesc, native.Backend) (rhi.Device, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("OpenDevice error = %v, want %v", err, wantErr)
	}
	if !be.Destroyed() {
		t.Error("backend should be destroyed when the device cannot be created")
	}
}
