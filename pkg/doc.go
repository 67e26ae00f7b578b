// Package pkg provides shared utilities for the softcam device framework.
//
// This package contains common functionality used by the device core and
// every adapter built around it:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for control-plane failures
//   - Result codes for transports that carry errors on the wire
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDevice, "format negotiated", "device", 0)
//
// # Errors
//
// Failures are reported as sentinel values, usually wrapped with context:
//
//	if errors.Is(err, pkg.ErrInvalidState) {
//	    // Operation not allowed in the current device state
//	}
//
// Transports convert errors to a compact [Code] with [CodeOf] and back with
// [Code.Error].
package pkg
