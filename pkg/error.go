package pkg

import "errors"

// Device control errors.
var (
	// ErrNotFound indicates an unknown device identifier or buffer index.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the operation is not allowed in the current
	// device or buffer state.
	ErrInvalidState = errors.New("invalid state")

	// ErrFormatMismatch indicates a frame or format whose sizes are
	// inconsistent with the negotiated format.
	ErrFormatMismatch = errors.New("format mismatch")

	// ErrInvalidFormat indicates a pixel format or resolution the device
	// does not support.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrQueueFull indicates the buffer queue has no free buffer.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueEmpty indicates the buffer queue has no queued buffer.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrUnsupported indicates an unknown or unsupported control operation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrTimeout indicates a blocking operation timed out.
	ErrTimeout = errors.New("timed out")

	// ErrCancelled indicates a blocking operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrCapacityExceeded indicates the registry holds its maximum number
	// of devices.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = errors.New("closed")
)

// Code is the wire representation of an operation result. Every transport
// that carries control results maps errors through [CodeOf].
type Code uint8

// Result codes.
const (
	CodeOK               Code = iota // Operation succeeded
	CodeNotFound                     // Unknown device or buffer
	CodeInvalidState                 // Operation not allowed in current state
	CodeFormatMismatch               // Frame size inconsistent with format
	CodeInvalidFormat                // Unsupported pixel format or resolution
	CodeQueueFull                    // No free buffer
	CodeQueueEmpty                   // No queued buffer
	CodeUnsupported                  // Unknown operation
	CodeTimeout                      // Timed out
	CodeCancelled                    // Cancelled
	CodeCapacityExceeded             // Registry full
	CodeInvalidParameter             // Invalid parameter
	CodeClosed                       // Resource closed
	CodeInternal                     // Any other error
)

// codeErrors maps each code to its sentinel error.
var codeErrors = [...]error{
	CodeOK:               nil,
	CodeNotFound:         ErrNotFound,
	CodeInvalidState:     ErrInvalidState,
	CodeFormatMismatch:   ErrFormatMismatch,
	CodeInvalidFormat:    ErrInvalidFormat,
	CodeQueueFull:        ErrQueueFull,
	CodeQueueEmpty:       ErrQueueEmpty,
	CodeUnsupported:      ErrUnsupported,
	CodeTimeout:          ErrTimeout,
	CodeCancelled:        ErrCancelled,
	CodeCapacityExceeded: ErrCapacityExceeded,
	CodeInvalidParameter: ErrInvalidParameter,
	CodeClosed:           ErrClosed,
}

// CodeOf returns the result code for err. Wrapped sentinels are matched with
// [errors.Is]; unrecognized errors map to [CodeInternal].
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for code, sentinel := range codeErrors {
		if sentinel != nil && errors.Is(err, sentinel) {
			return Code(code)
		}
	}
	return CodeInternal
}

// String returns a string representation of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not-found"
	case CodeInvalidState:
		return "invalid-state"
	case CodeFormatMismatch:
		return "format-mismatch"
	case CodeInvalidFormat:
		return "invalid-format"
	case CodeQueueFull:
		return "queue-full"
	case CodeQueueEmpty:
		return "queue-empty"
	case CodeUnsupported:
		return "unsupported"
	case CodeTimeout:
		return "timeout"
	case CodeCancelled:
		return "cancelled"
	case CodeCapacityExceeded:
		return "capacity-exceeded"
	case CodeInvalidParameter:
		return "invalid-parameter"
	case CodeClosed:
		return "closed"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error for the code, or nil for [CodeOK].
// Codes without a sentinel map to a generic internal error.
func (c Code) Error() error {
	if int(c) < len(codeErrors) {
		return codeErrors[c]
	}
	return errInternal
}

var errInternal = errors.New("internal error")
