// Package validation wraps an rhi.Device with argument and usage checks.
//
// The wrapper implements the same interfaces as the device it wraps. Every
// call is checked first; a call that breaks the contract is reported
// through the device's message callback at Error severity and is not
// forwarded. Calls that pass are forwarded unchanged, so a program that
// runs cleanly under validation behaves the same without it.
//
//	dev, err := backend.OpenDevice("sim", desc, core.Open)
//	if err != nil {
//		return err
//	}
//	dev = validation.Wrap(dev)
//
// Validation costs CPU time on every call and is meant for development
// builds.
package validation
