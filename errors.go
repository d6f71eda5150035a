package rhi

import "errors"

// Errors shared by the core, back-ends and the validation layer. Failures
// are wrapped with context via fmt.Errorf("%w: ...") so callers can test
// them with errors.Is.
var (
	// ErrNotSupported is returned when the device lacks a feature.
	ErrNotSupported = errors.New("rhi: not supported")

	// ErrInvalidArgument reports a precondition violation by the caller.
	ErrInvalidArgument = errors.New("rhi: invalid argument")

	// ErrNilHandle reports a nil handle where one is required.
	ErrNilHandle = errors.New("rhi: nil handle")

	// ErrHeapGrowthFailed reports that a descriptor heap could not grow.
	ErrHeapGrowthFailed = errors.New("rhi: descriptor heap growth failed")

	// ErrReservationFailed reports that the upload or scratch allocator
	// could not satisfy a request.
	ErrReservationFailed = errors.New("rhi: suballocation failed")

	// ErrCommandListState reports a call in the wrong command-list state.
	ErrCommandListState = errors.New("rhi: command list in wrong state")

	// ErrNativeFailure wraps an error reported by the native API.
	ErrNativeFailure = errors.New("rhi: native call failed")

	// ErrDeviceRemoved reports device loss detected after a submit.
	ErrDeviceRemoved = errors.New("rhi: device removed")

	// ErrTimeout is returned by waits that gave up.
	ErrTimeout = errors.New("rhi: wait timed out")
)
